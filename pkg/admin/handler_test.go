package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/nullstream/unmutual/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter() chi.Router {
	cfg := &config.Config{AdminUserIDHeader: "X-User-Id", AdminUserIDs: []int64{1}}
	h := NewHandler(nil, cfg, discardLogger())
	router := chi.NewRouter()
	router.Mount("/admin", h.Routes())
	return router
}

func TestAdminRoutes_RejectMissingUserHeader(t *testing.T) {
	router := newTestRouter()

	r := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAdminRoutes_RejectNonAdminUser(t *testing.T) {
	router := newTestRouter()

	r := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	r.Header.Set("X-User-Id", "999")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestAdminRoutes_DailyStats_RejectsBadDate(t *testing.T) {
	router := newTestRouter()

	r := httptest.NewRequest(http.MethodGet, "/admin/stats/daily?target_date=not-a-date", nil)
	r.Header.Set("X-User-Id", "1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
