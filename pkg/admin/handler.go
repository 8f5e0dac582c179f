package admin

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nullstream/unmutual/internal/config"
	"github.com/nullstream/unmutual/internal/httpserver"
)

// Handler provides HTTP handlers for the admin dashboard and session
// controls. Every route requires an authenticated admin user id.
type Handler struct {
	svc    *Service
	cfg    *config.Config
	logger *slog.Logger
}

// NewHandler creates an admin Handler.
func NewHandler(svc *Service, cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, cfg: cfg, logger: logger}
}

// Routes returns a chi.Router with all admin routes mounted, gated by the
// configured admin user id header.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(httpserver.UserID(h.cfg))
	r.Use(httpserver.RequireAdmin(h.cfg))

	r.Get("/session", h.handleGetSession)
	r.Post("/session", h.handleSetSession)
	r.Post("/session/refresh-sync", h.handleRefreshSync)
	r.Get("/stats", h.handleStats)
	r.Get("/stats/daily", h.handleDailyStats)
	r.Get("/checks/failed", h.handleFailedChecks)
	return r
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.CurrentSession(r.Context())
	if err != nil {
		h.logger.Error("getting current session", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load session")
		return
	}
	httpserver.Respond(w, http.StatusOK, view)
}

type setSessionRequest struct {
	Cookie string `json:"cookie" validate:"required"`
}

func (h *Handler) handleSetSession(w http.ResponseWriter, r *http.Request) {
	var req setSessionRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	view, err := h.svc.SetSession(r.Context(), req.Cookie)
	if err != nil {
		h.logger.Error("setting session", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to set session")
		return
	}
	httpserver.Respond(w, http.StatusOK, view)
}

func (h *Handler) handleRefreshSync(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RefreshSync(r.Context()); err != nil {
		h.logger.Error("refreshing session synchronously", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "refresh failed")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.logger.Error("loading stats", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load stats")
		return
	}
	httpserver.Respond(w, http.StatusOK, stats)
}

func (h *Handler) handleDailyStats(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("target_date")
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "target_date must be YYYY-MM-DD")
		return
	}

	stats, err := h.svc.DailyStats(r.Context(), day)
	if err != nil {
		h.logger.Error("loading daily stats", "error", err, "target_date", raw)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load daily stats")
		return
	}
	httpserver.Respond(w, http.StatusOK, stats)
}

func (h *Handler) handleFailedChecks(w http.ResponseWriter, r *http.Request) {
	limit := int32(httpserver.DefaultPageSize)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || n < 1 {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = int32(n)
	}

	jobs, err := h.svc.FailedChecks(r.Context(), limit)
	if err != nil {
		h.logger.Error("loading failed checks", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load failed checks")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"jobs": jobs})
}
