package user

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/nullstream/unmutual/internal/httpserver"
)

// Handler provides HTTP handlers for the users API.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a user Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes returns a chi.Router with all user routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/ensure", h.handleEnsure)
	r.Get("/{id}/balance", h.handleBalance)
	return r
}

type ensureRequest struct {
	UserID int64 `json:"user_id" validate:"required"`
}

type userResponse struct {
	UserID        int64  `json:"user_id"`
	CreditBalance int32  `json:"credit_balance"`
	ReferralCode  string `json:"referral_code"`
}

func (h *Handler) handleEnsure(w http.ResponseWriter, r *http.Request) {
	var req ensureRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	u, err := h.svc.Ensure(r.Context(), req.UserID)
	if err != nil {
		h.logger.Error("ensuring user", "error", err, "user_id", req.UserID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to ensure user")
		return
	}

	httpserver.Respond(w, http.StatusOK, userResponse{UserID: u.ID, CreditBalance: u.CreditBalance, ReferralCode: u.ReferralCode})
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid user id")
		return
	}

	u, err := h.svc.Balance(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		h.logger.Error("getting balance", "error", err, "user_id", id)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get balance")
		return
	}

	httpserver.Respond(w, http.StatusOK, userResponse{UserID: u.ID, CreditBalance: u.CreditBalance, ReferralCode: u.ReferralCode})
}
