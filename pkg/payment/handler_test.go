package payment

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter() chi.Router {
	svc := New(nil, nil, nil, discardLogger())
	h := NewHandler(svc, nil, AcquirerConfig{}, discardLogger())
	router := chi.NewRouter()
	router.Mount("/payments", h.Routes())
	return router
}

func TestHandleCreate_InvalidJSON(t *testing.T) {
	router := newTestRouter()

	r := httptest.NewRequest(http.MethodPost, "/payments/telegram-stars/create", strings.NewReader("{bad"))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleValidate_InvalidID(t *testing.T) {
	router := newTestRouter()

	r := httptest.NewRequest(http.MethodPost, "/payments/telegram-stars/validate/not-a-uuid?expected_amount=100", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleValidate_MissingExpectedAmount(t *testing.T) {
	router := newTestRouter()

	r := httptest.NewRequest(http.MethodPost, "/payments/telegram-stars/validate/0196ea8a-0000-7000-8000-000000000000", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleExternalCallback_InvalidSignature(t *testing.T) {
	router := newTestRouter()

	form := strings.NewReader("OutSum=100.00&InvId=0196ea8a-0000-7000-8000-000000000000&SignatureValue=deadbeef")
	r := httptest.NewRequest(http.MethodPost, "/payments/external/callback", form)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}
