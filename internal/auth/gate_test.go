package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"gateway/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

func staticEnv(values map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := values[k]
		return v, ok
	}
}

func newTestGate(opts ...Option) *Gate {
	opts = append([]Option{WithLookupEnv(staticEnv(map[string]string{"JWT_SECRET": testSecret}))}, opts...)
	return NewGate(models.AuthConfig{SecretEnv: "JWT_SECRET", CookieName: "jwt"}, opts...)
}

var alice = models.Identity{Subject: "u1", Role: models.RoleUser, DisplayName: "Alice"}

func signRaw(t *testing.T, method jwt.SigningMethod, key interface{}, c jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, c).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestGate_SignAndAuthenticateRoundTrip(t *testing.T) {
	g := newTestGate()

	token, err := g.Sign(alice, time.Hour)
	require.NoError(t, err)

	id, err := g.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, alice, id)
}

func TestGate_Authenticate(t *testing.T) {
	now := time.Now()
	valid := jwt.MapClaims{"id": "u1", "role": "user", "name": "Alice", "exp": now.Add(time.Hour).Unix()}

	tests := []struct {
		name       string
		credential func(t *testing.T) string
		wantErr    error
		wantID     string
	}{
		{
			name:       "empty credential",
			credential: func(*testing.T) string { return "" },
			wantErr:    ErrMissingCredential,
		},
		{
			name:       "garbage",
			credential: func(*testing.T) string { return "not.a.token" },
			wantErr:    ErrInvalidCredential,
		},
		{
			name: "wrong secret",
			credential: func(t *testing.T) string {
				return signRaw(t, jwt.SigningMethodHS256, []byte("other-secret"), valid)
			},
			wantErr: ErrInvalidCredential,
		},
		{
			name: "expired",
			credential: func(t *testing.T) string {
				c := jwt.MapClaims{"id": "u1", "role": "user", "name": "Alice", "exp": now.Add(-time.Minute).Unix()}
				return signRaw(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrInvalidCredential,
		},
		{
			name: "no expiry",
			credential: func(t *testing.T) string {
				c := jwt.MapClaims{"id": "u1", "role": "user", "name": "Alice"}
				return signRaw(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrInvalidCredential,
		},
		{
			name: "unsigned",
			credential: func(t *testing.T) string {
				return signRaw(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid)
			},
			wantErr: ErrInvalidCredential,
		},
		{
			name: "missing role",
			credential: func(t *testing.T) string {
				c := jwt.MapClaims{"id": "u1", "name": "Alice", "exp": now.Add(time.Hour).Unix()}
				return signRaw(t, jwt.SigningMethodHS256, []byte(testSecret), c)
			},
			wantErr: ErrInvalidCredential,
		},
		{
			name: "HS512 with sub instead of id",
			credential: func(t *testing.T) string {
				c := jwt.MapClaims{"sub": "u7", "role": "admin", "name": "Ops", "exp": now.Add(time.Hour).Unix()}
				return signRaw(t, jwt.SigningMethodHS512, []byte(testSecret), c)
			},
			wantID: "u7",
		},
	}

	g := newTestGate()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := g.Authenticate(tt.credential(t))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, id.IsZero())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id.Subject)
		})
	}
}

func TestGate_MissingSecret(t *testing.T) {
	g := NewGate(models.AuthConfig{SecretEnv: "JWT_SECRET"}, WithLookupEnv(staticEnv(nil)))

	_, err := g.Authenticate("some.token.value")
	assert.ErrorIs(t, err, ErrServerMisconfigured)
	assert.False(t, g.Ready())

	_, err = g.Sign(alice, time.Minute)
	assert.ErrorIs(t, err, ErrServerMisconfigured)
}

func TestGate_SecretIsReadPerCall(t *testing.T) {
	var mu sync.Mutex
	secret := testSecret
	g := NewGate(models.AuthConfig{}, WithLookupEnv(func(string) (string, bool) {
		mu.Lock()
		defer mu.Unlock()
		return secret, secret != ""
	}))

	token, err := g.Sign(alice, time.Hour)
	require.NoError(t, err)

	mu.Lock()
	secret = "rotated"
	mu.Unlock()

	_, err = g.Authenticate(token)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestGate_UsesProcessEnvironment(t *testing.T) {
	t.Setenv("GATEWAY_TEST_JWT_SECRET", testSecret)
	g := NewGate(models.AuthConfig{SecretEnv: "GATEWAY_TEST_JWT_SECRET"})

	token, err := g.Sign(alice, time.Hour)
	require.NoError(t, err)
	id, err := g.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.Subject)
}

func TestGate_ExpiryUsesClock(t *testing.T) {
	issued := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := issued
	g := newTestGate(WithClock(func() time.Time { return now }))

	token, err := g.Sign(alice, time.Minute)
	require.NoError(t, err)

	_, err = g.Authenticate(token)
	require.NoError(t, err)

	now = issued.Add(2 * time.Minute)
	_, err = g.Authenticate(token)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestGate_ExtractCredential(t *testing.T) {
	g := newTestGate()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", g.ExtractCredential(r))

	r.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "header-token", g.ExtractCredential(r))

	r.AddCookie(&http.Cookie{Name: "jwt", Value: "cookie-token"})
	assert.Equal(t, "cookie-token", g.ExtractCredential(r))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Equal(t, "", g.ExtractCredential(r))
}

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) OnAuthEvent(e Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func TestMiddleware(t *testing.T) {
	g := newTestGate()
	token, err := g.Sign(alice, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name        string
		setup       func(r *http.Request)
		wantStatus  int
		wantBody    string
		wantOutcome Outcome
	}{
		{
			name:        "no credential",
			setup:       func(*http.Request) {},
			wantStatus:  http.StatusForbidden,
			wantBody:    `{"error":"Access denied. No token provided."}`,
			wantOutcome: OutcomeMissing,
		},
		{
			name:        "invalid credential",
			setup:       func(r *http.Request) { r.Header.Set("Authorization", "Bearer junk") },
			wantStatus:  http.StatusForbidden,
			wantBody:    `{"error":"Access denied. Invalid token."}`,
			wantOutcome: OutcomeInvalid,
		},
		{
			name:        "valid cookie",
			setup:       func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "jwt", Value: token}) },
			wantStatus:  http.StatusOK,
			wantOutcome: OutcomeSuccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &recordingObserver{}
			var gotID models.Identity
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				gotID, _ = IdentityFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
			req.Header.Set("User-Agent", "test-agent")
			tt.setup(req)
			rr := httptest.NewRecorder()

			Middleware(g, obs)(next).ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rr.Body.String())
				assert.False(t, called)
			} else {
				assert.True(t, called)
				assert.Equal(t, "u1", gotID.Subject)
			}

			require.Len(t, obs.events, 1)
			assert.Equal(t, tt.wantOutcome, obs.events[0].Outcome)
			assert.Equal(t, "test-agent", obs.events[0].UserAgent)
			assert.Equal(t, "/api/v1/orders", obs.events[0].Route)
		})
	}
}

func TestMiddleware_Misconfigured(t *testing.T) {
	g := NewGate(models.AuthConfig{}, WithLookupEnv(staticEnv(nil)))
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer something")
	rr := httptest.NewRecorder()
	Middleware(g)(next).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, models.ErrorCodeMisconfigured, body.Code)
}

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := RequireRole(models.RoleAdmin)(next)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/gateway/breakers", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req.WithContext(WithIdentity(req.Context(), alice)))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	admin := models.Identity{Subject: "a1", Role: models.RoleAdmin, DisplayName: "Admin"}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req.WithContext(WithIdentity(req.Context(), admin)))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", ClientIP(r))

	r.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.3")
	assert.Equal(t, "203.0.113.9", ClientIP(r))
}
