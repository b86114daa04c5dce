package api

import (
	"net/http"

	"gateway/internal/auth"
	"gateway/internal/models"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health" &&
					r.URL.Path != "/metrics"
			}),
		))
	}
}

// RouterConfig carries what the router needs besides the handlers.
type RouterConfig struct {
	// Gate protects the administrative endpoints.
	Gate *auth.Gate
	// AuthObservers receive authentication events from the admin endpoints.
	AuthObservers []auth.Observer
	// Dispatcher serves every path not claimed by the gateway itself.
	Dispatcher http.Handler
}

// SetupRoutes configures the HTTP routes for the gateway. Health endpoints
// are public, /api/v1/gateway/* requires the admin role and everything else
// goes to the dispatcher.
func SetupRoutes(handlers *Handlers, cfg RouterConfig, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	router.Use(recoveryMiddleware)
	router.Use(correlationMiddleware)
	router.Use(loggingMiddleware)

	for _, opt := range opts {
		opt(router)
	}

	// The catch-all below would otherwise swallow method mismatches, so each
	// fixed path answers 405 itself.
	for _, path := range []string{"/health", "/api/v1/health"} {
		router.HandleFunc(path, handlers.HealthCheck).Methods("GET", "HEAD")
		router.HandleFunc(path, methodNotAllowedHandler)
	}

	adminAPI := router.PathPrefix("/api/v1/gateway").Subrouter()
	adminAPI.Use(auth.Middleware(cfg.Gate, cfg.AuthObservers...))
	adminAPI.Use(auth.RequireRole(models.RoleAdmin))
	adminAPI.HandleFunc("/breakers", handlers.ListBreakers).Methods("GET")
	adminAPI.HandleFunc("/breakers", methodNotAllowedHandler)
	adminAPI.HandleFunc("/events", handlers.ListEvents).Methods("GET")
	adminAPI.HandleFunc("/events", methodNotAllowedHandler)

	router.PathPrefix("/").Handler(cfg.Dispatcher)

	return router
}

// methodNotAllowedHandler handles requests with invalid HTTP methods
func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, models.NewErrorResponse("Method not allowed", models.ErrorCodeBadRequest))
}
