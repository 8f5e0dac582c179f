package payment

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nullstream/unmutual/internal/db"
	"github.com/nullstream/unmutual/internal/httpserver"
	"github.com/nullstream/unmutual/pkg/tariff"
)

// nativeCurrency is the Telegram Bot API currency code for in-app "stars"
// payments.
const nativeCurrency = "XTR"

// Handler provides HTTP handlers for the payment state machine.
type Handler struct {
	svc      *Service
	tariffs  *tariff.Service
	acquirer AcquirerConfig
	logger   *slog.Logger
}

// NewHandler creates a payment Handler.
func NewHandler(svc *Service, tariffs *tariff.Service, acquirer AcquirerConfig, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, tariffs: tariffs, acquirer: acquirer, logger: logger}
}

// Routes returns a chi.Router with all payment routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/telegram-stars/create", h.handleCreate)
	r.Post("/telegram-stars/validate/{id}", h.handleValidate)
	r.Post("/telegram-stars/complete", h.handleComplete)
	r.Post("/external/callback", h.handleExternalCallback)
	return r
}

type paymentResponse struct {
	ID          uuid.UUID       `json:"id"`
	UserID      int64           `json:"user_id"`
	TariffID    uuid.UUID       `json:"tariff_id"`
	AmountCents int64           `json:"amount_cents"`
	Currency    string          `json:"currency"`
	Method      db.PaymentMethod `json:"method"`
	Status      db.PaymentStatus `json:"status"`
}

func toPaymentResponse(p db.Payment) paymentResponse {
	return paymentResponse{
		ID: p.ID, UserID: p.UserID, TariffID: p.TariffID, AmountCents: p.AmountCents,
		Currency: p.Currency, Method: p.Method, Status: p.Status,
	}
}

type createRequest struct {
	UserID   int64     `json:"user_id" validate:"required"`
	TariffID uuid.UUID `json:"tariff_id" validate:"required"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	tf, err := h.tariffs.Get(r.Context(), req.TariffID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "tariff not found")
			return
		}
		h.logger.Error("loading tariff", "error", err, "tariff_id", req.TariffID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to load tariff")
		return
	}

	amount := tf.PriceFiatCents
	if tf.PriceNativeStars != nil {
		amount = int64(*tf.PriceNativeStars)
	}

	p, err := h.svc.Create(r.Context(), req.UserID, tf, db.PaymentMethodNativeStars, amount, nativeCurrency)
	if err != nil {
		h.logger.Error("creating payment", "error", err, "user_id", req.UserID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create payment")
		return
	}

	httpserver.Respond(w, http.StatusOK, toPaymentResponse(p))
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid payment id")
		return
	}

	expected, err := strconv.ParseInt(r.URL.Query().Get("expected_amount"), 10, 64)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "expected_amount is required")
		return
	}

	if err := h.svc.Validate(r.Context(), id, expected); err != nil {
		h.respondServiceError(w, err, id)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]bool{"ok": true})
}

type completeRequest struct {
	PaymentID        uuid.UUID `json:"payment_id" validate:"required"`
	ExternalChargeID string    `json:"external_charge_id" validate:"required"`
	AmountCents      int64     `json:"amount_cents" validate:"required"`
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	p, err := h.svc.Complete(r.Context(), req.PaymentID, req.ExternalChargeID, req.AmountCents)
	if err != nil {
		h.respondServiceError(w, err, req.PaymentID)
		return
	}

	httpserver.Respond(w, http.StatusOK, toPaymentResponse(p))
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error, paymentID uuid.UUID) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "payment not found")
	case errors.Is(err, ErrAlreadyCompleted):
		httpserver.RespondError(w, http.StatusConflict, "already_completed", "payment already completed with a different charge")
	case errors.Is(err, ErrAmountMismatch):
		httpserver.RespondError(w, http.StatusBadRequest, "amount_mismatch", "settled amount does not match the payment")
	case errors.Is(err, ErrInvalidStatus):
		httpserver.RespondError(w, http.StatusConflict, "invalid_status", "payment is not in a transitionable state")
	default:
		h.logger.Error("completing payment", "error", err, "payment_id", paymentID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to complete payment")
	}
}

// handleExternalCallback receives the form-encoded acquirer notification.
// Response body on success is the literal "OK{InvId}\n" the acquirer expects,
// written as plain text rather than the standard JSON envelope.
func (h *Handler) handleExternalCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "failed to parse callback body")
		return
	}

	fields := CallbackFields{
		OutSum:         r.FormValue("OutSum"),
		InvID:          r.FormValue("InvId"),
		SignatureValue: r.FormValue("SignatureValue"),
		Shp:            map[string]string{},
	}
	for key, values := range r.Form {
		if strings.HasPrefix(key, "Shp_") && len(values) > 0 {
			fields.Shp[key] = values[0]
		}
	}

	reply, err := h.svc.HandleExternalCallback(r.Context(), h.acquirer, fields)
	if err != nil {
		switch {
		case errors.Is(err, ErrSignatureInvalid):
			httpserver.RespondError(w, http.StatusBadRequest, "signature_invalid", "callback signature invalid")
		case errors.Is(err, ErrNotFound):
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "payment not found")
		case errors.Is(err, ErrAmountMismatch):
			httpserver.RespondError(w, http.StatusBadRequest, "amount_mismatch", "settled amount does not match the payment")
		default:
			h.logger.Error("handling external callback", "error", err)
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "callback could not be processed")
		}
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(reply))
}
