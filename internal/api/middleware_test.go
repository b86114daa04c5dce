package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gateway/internal/auth"
	"gateway/internal/breaker"
	"gateway/internal/gateway"
	"gateway/internal/models"
	"gateway/internal/version"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, dispatcher http.Handler) (http.Handler, *auth.Gate) {
	t.Helper()
	gate := newTestGate(testSecret)
	h := NewHandlers(breaker.NewRegistry(breaker.DefaultOptions()), gate, version.Info{})
	return SetupRoutes(h, RouterConfig{Gate: gate, Dispatcher: dispatcher}), gate
}

func signToken(t *testing.T, gate *auth.Gate, role string) string {
	t.Helper()
	tok, err := gate.Sign(models.Identity{Subject: "u-" + role, Role: role, DisplayName: "User " + role}, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestSetupRoutes_HealthIsPublic(t *testing.T) {
	router, _ := newTestRouter(t, http.NotFoundHandler())

	for _, path := range []string{"/health", "/api/v1/health"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.NotEmpty(t, rr.Header().Get(gateway.HeaderCorrelationID))
	}
}

func TestSetupRoutes_HealthMethodNotAllowed(t *testing.T) {
	router, _ := newTestRouter(t, http.NotFoundHandler())

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestSetupRoutes_AdminRequiresAdminRole(t *testing.T) {
	router, gate := newTestRouter(t, http.NotFoundHandler())

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"no token", "", http.StatusForbidden},
		{"garbage token", "not-a-jwt", http.StatusForbidden},
		{"user role", signToken(t, gate, models.RoleUser), http.StatusForbidden},
		{"admin role", signToken(t, gate, models.RoleAdmin), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/gateway/breakers", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
}

func TestSetupRoutes_EverythingElseGoesToDispatcher(t *testing.T) {
	var gotPath, gotCID string
	dispatcher := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotCID = r.Header.Get(gateway.HeaderCorrelationID)
		w.WriteHeader(http.StatusTeapot)
	})
	router, _ := newTestRouter(t, dispatcher)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/orders/42", nil)
	req.Header.Set("X-Request-ID", "req-77")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Equal(t, "/api/v1/orders/42", gotPath)
	assert.Equal(t, "req-77", gotCID, "X-Request-ID seeds the correlation ID")
	assert.Equal(t, "req-77", rr.Header().Get(gateway.HeaderCorrelationID))
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, models.ErrorCodeInternalError, resp.Code)
}

func TestCorrelationMiddleware_KeepsCallerID(t *testing.T) {
	var seen string
	handler := correlationMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(gateway.HeaderCorrelationID)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(gateway.HeaderCorrelationID, "abc")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rr.Header().Get(gateway.HeaderCorrelationID))
}

func TestLoggingMiddleware_RecordsStatus(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	rec.WriteHeader(http.StatusBadGateway)
	rec.WriteHeader(http.StatusOK)
	assert.Equal(t, http.StatusBadGateway, rec.status)
}
