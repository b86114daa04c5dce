package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"gateway/internal/logger"
	"gateway/internal/models"
)

// Outcome classifies an authentication attempt.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeMissing       Outcome = "missing"
	OutcomeInvalid       Outcome = "invalid"
	OutcomeMisconfigured Outcome = "misconfigured"
)

// Event describes one authentication attempt. It never carries the
// credential itself.
type Event struct {
	Outcome   Outcome
	Subject   string
	Role      string
	ClientIP  string
	UserAgent string
	Route     string
	Err       error
}

// Observer receives authentication events. Implementations must not block.
type Observer interface {
	OnAuthEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnAuthEvent(e Event) { f(e) }

const (
	msgNoToken      = "Access denied. No token provided."
	msgInvalidToken = "Access denied. Invalid token."
)

// Middleware rejects requests without a valid credential and attaches the
// caller's identity to the request context otherwise.
func Middleware(g *Gate, observers ...Observer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger.FromContext(r.Context())
			id, err := g.Authenticate(g.ExtractCredential(r))

			ev := Event{
				ClientIP:  ClientIP(r),
				UserAgent: r.UserAgent(),
				Route:     r.URL.Path,
				Err:       err,
			}

			switch {
			case err == nil:
				ev.Outcome = OutcomeSuccess
				ev.Subject = id.Subject
				ev.Role = id.Role
				notify(observers, ev)

				log.Info("Request authenticated",
					"subject", id.Subject,
					"role", id.Role,
					"route", ev.Route)
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))

			case errors.Is(err, ErrServerMisconfigured):
				ev.Outcome = OutcomeMisconfigured
				notify(observers, ev)

				log.Error("Authentication unavailable: signing secret is not set",
					"secret_env", g.secretEnv,
					"route", ev.Route)
				writeJSON(w, http.StatusInternalServerError,
					models.NewErrorResponse("Server misconfigured", models.ErrorCodeMisconfigured))

			default:
				msg := msgInvalidToken
				ev.Outcome = OutcomeInvalid
				if errors.Is(err, ErrMissingCredential) {
					msg = msgNoToken
					ev.Outcome = OutcomeMissing
				}
				notify(observers, ev)

				log.Warn("Authentication failed",
					"reason", err.Error(),
					"client_ip", ev.ClientIP,
					"user_agent", ev.UserAgent,
					"route", ev.Route)
				writeJSON(w, http.StatusForbidden, models.NewAccessDeniedResponse(msg))
			}
		})
	}
}

// RequireRole rejects authenticated callers that lack role. It must run
// after Middleware.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok || !id.HasRole(role) {
				writeJSON(w, http.StatusForbidden,
					models.NewErrorResponse("Insufficient permissions", models.ErrorCodeForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func notify(observers []Observer, ev Event) {
	for _, o := range observers {
		o.OnAuthEvent(ev)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
