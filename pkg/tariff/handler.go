package tariff

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nullstream/unmutual/internal/httpserver"
)

// Handler provides HTTP handlers for the tariffs API.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a tariff Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes returns a chi.Router with all tariff routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	tariffs, err := h.svc.List(r.Context())
	if err != nil {
		h.logger.Error("listing tariffs", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list tariffs")
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"tariffs": tariffs})
}
