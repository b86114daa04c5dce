package api

import (
	"net/http"
	"time"

	"gateway/internal/auth"
	"gateway/internal/gateway"
	"gateway/internal/logger"
	"gateway/internal/models"

	"github.com/google/uuid"
)

// correlationMiddleware makes sure every request carries a correlation ID,
// echoes it to the caller and attaches a logger bound to it.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(gateway.HeaderCorrelationID)
		if cid == "" {
			cid = r.Header.Get("X-Request-ID")
		}
		if cid == "" {
			cid = uuid.New().String()
		}
		r.Header.Set(gateway.HeaderCorrelationID, cid)
		w.Header().Set(gateway.HeaderCorrelationID, cid)

		log := logger.FromContext(r.Context()).With("correlation_id", cid)
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context(), log)))
	})
}

// loggingMiddleware logs HTTP requests once they complete.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log := logger.FromContext(r.Context())
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", auth.ClientIP(r),
		}
		switch {
		case rec.status >= 500:
			log.Warn("HTTP request", attrs...)
		case r.URL.Path == "/health" || r.URL.Path == "/api/v1/health":
			log.Debug("HTTP request", attrs...)
		default:
			log.Info("HTTP request", attrs...)
		}
	})
}

// recoveryMiddleware handles panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				logger.FromContext(r.Context()).Error("Panic recovered", "error", err, "path", r.URL.Path)
				writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Internal server error", models.ErrorCodeInternalError))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
