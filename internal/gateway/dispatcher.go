// Package gateway resolves inbound requests to downstream services and
// forwards them through the authentication gate, the rate limiter and the
// service's circuit breaker, in that order.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"gateway/internal/auth"
	"gateway/internal/breaker"
	"gateway/internal/logger"
	"gateway/internal/models"
	"gateway/internal/ratelimit"

	"github.com/google/uuid"
)

// Config holds the dispatcher's collaborators. Limits may be nil to disable
// rate limiting.
type Config struct {
	Services      *ServiceTable
	Routes        *RouteTable
	Gate          *auth.Gate
	AuthObservers []auth.Observer
	Limits        *ratelimit.Middleware
	Breakers      *breaker.Registry
	Proxy         *Proxy
}

// Dispatcher is the http.Handler serving every proxied route.
type Dispatcher struct {
	Config
	chains map[string]http.Handler // route name -> handler chain
}

func NewDispatcher(cfg Config) (*Dispatcher, error) {
	switch {
	case cfg.Services == nil:
		return nil, errors.New("service table is required")
	case cfg.Routes == nil:
		return nil, errors.New("route table is required")
	case cfg.Gate == nil:
		return nil, errors.New("authentication gate is required")
	case cfg.Breakers == nil:
		return nil, errors.New("breaker registry is required")
	case cfg.Proxy == nil:
		return nil, errors.New("proxy is required")
	}

	d := &Dispatcher{Config: cfg, chains: make(map[string]http.Handler)}
	for _, rt := range cfg.Routes.Routes() {
		d.chains[rt.Name] = d.chain(rt)
	}
	return d, nil
}

// ServeHTTP resolves the route for the request path and dispatches it.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt, ok := d.Routes.Match(r.URL.Path)
	if !ok {
		d.unknownService(w, r, "")
		return
	}
	if _, ok := d.Services.Lookup(rt.Service); !ok {
		d.unknownService(w, r, rt.Service)
		return
	}
	d.chains[rt.Name].ServeHTTP(w, r)
}

// Dispatch sends r through rt's chain. The route's service must be known;
// otherwise the request fails with UNKNOWN_SERVICE and nothing else runs.
func (d *Dispatcher) Dispatch(rt Route, w http.ResponseWriter, r *http.Request) {
	if _, ok := d.Services.Lookup(rt.Service); !ok {
		d.unknownService(w, r, rt.Service)
		return
	}
	d.chain(rt).ServeHTTP(w, r)
}

// chain builds auth -> rate limit -> breaker-wrapped forward.
func (d *Dispatcher) chain(rt Route) http.Handler {
	h := d.forward(rt)
	if d.Limits != nil {
		h = d.Limits.Handler(rt.Policy)(h)
	}
	if !rt.Public {
		h = auth.Middleware(d.Gate, d.AuthObservers...)(h)
	}
	return h
}

func (d *Dispatcher) forward(rt Route) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())
		target, _ := d.Services.Lookup(rt.Service)

		cid := correlationID(r)
		w.Header().Set(HeaderCorrelationID, cid)

		body, err := d.Proxy.readBody(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Failed to read request body", models.ErrorCodeBadRequest))
			return
		}
		if int64(len(body)) > d.Proxy.maxBody {
			writeJSON(w, http.StatusRequestEntityTooLarge, models.NewErrorResponse("Request body too large", models.ErrorCodePayloadTooLarge))
			return
		}

		out, err := d.Proxy.newOutbound(target, rt, r, body, cid)
		if err != nil {
			log.Warn("Failed to build outbound request", "route", rt.Name, "error", err)
			writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Invalid request", models.ErrorCodeBadRequest))
			return
		}

		res := make(chan *upstreamResponse, 1)
		err = d.Breakers.Call(r.Context(), rt.Service, func(ctx context.Context) error {
			up, err := d.Proxy.do(ctx, rt.Service, out)
			if up != nil {
				res <- up
			}
			return err
		})

		var statusErr *UpstreamStatusError
		if err == nil || errors.As(err, &statusErr) {
			if statusErr != nil {
				log.Warn("Downstream responded with server error",
					"service", rt.Service,
					"status", statusErr.StatusCode,
					"correlation_id", cid)
			}
			(<-res).writeTo(w)
			return
		}

		d.upstreamError(w, r, rt, cid, err)
	})
}

func (d *Dispatcher) upstreamError(w http.ResponseWriter, r *http.Request, rt Route, cid string, err error) {
	log := logger.FromContext(r.Context()).With(
		"service", rt.Service,
		"route", r.URL.Path,
		"client_ip", auth.ClientIP(r),
		"user_agent", r.UserAgent(),
		"correlation_id", cid,
	)

	var (
		status int
		resp   *models.UpstreamErrorResponse
	)
	switch {
	case breaker.IsOpen(err):
		status = http.StatusServiceUnavailable
		resp = models.NewUpstreamErrorResponse(
			fmt.Sprintf("Service %s is temporarily unavailable", rt.Service),
			rt.Service, models.ErrorCodeServiceUnavailable, true)
		log.Warn("Request shed by open circuit breaker")
	case breaker.IsTimeout(err):
		status = http.StatusGatewayTimeout
		resp = models.NewUpstreamErrorResponse(
			fmt.Sprintf("Service %s did not respond in time", rt.Service),
			rt.Service, models.ErrorCodeUpstreamTimeout, false)
		log.Warn("Downstream call timed out", "error", err)
	case r.Context().Err() != nil:
		log.Debug("Client went away before downstream answered", "error", err)
		return
	default:
		status = http.StatusBadGateway
		resp = models.NewUpstreamErrorResponse(
			fmt.Sprintf("Service %s is unreachable", rt.Service),
			rt.Service, models.ErrorCodeUpstreamError, false)
		log.Warn("Downstream call failed", "error", err)
	}

	resp.RequestID = cid
	writeJSON(w, status, resp)
}

func (d *Dispatcher) unknownService(w http.ResponseWriter, r *http.Request, service string) {
	logger.FromContext(r.Context()).Warn("Unknown service",
		"service", service,
		"route", r.URL.Path,
		"client_ip", auth.ClientIP(r),
		"user_agent", r.UserAgent())

	resp := models.NewErrorResponse("Unknown service", models.ErrorCodeUnknownService)
	if service != "" {
		resp.Details = map[string]string{"service": service}
	}
	writeJSON(w, http.StatusNotFound, resp)
}

// correlationID reuses the caller's correlation or request ID, or mints one.
func correlationID(r *http.Request) string {
	if v := r.Header.Get(HeaderCorrelationID); v != "" {
		return v
	}
	if v := r.Header.Get("X-Request-ID"); v != "" {
		return v
	}
	return uuid.New().String()
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
