package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gateway/internal/api"
	"gateway/internal/audit"
	"gateway/internal/auth"
	"gateway/internal/breaker"
	"gateway/internal/config"
	"gateway/internal/gateway"
	"gateway/internal/logger"
	"gateway/internal/models"
	"gateway/internal/observability"
	"gateway/internal/ratelimit"
	"gateway/internal/storage"
	"gateway/internal/version"

	"github.com/redis/go-redis/v9"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file")
	exampleFile = flag.String("write-example", "", "Write an example configuration to this path and exit")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	ver := version.GetInfo()
	if *showVersion {
		fmt.Println(ver.String())
		return
	}
	if *exampleFile != "" {
		if err := config.SaveExample(*exampleFile); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write example config: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	var (
		authObservers      []auth.Observer
		rateLimitObservers []ratelimit.Observer
		breakerObservers   = []breaker.Observer{breaker.NewLogObserver(log)}
	)

	// Audit trail
	var (
		auditStore storage.Storage
		recorder   *audit.Recorder
	)
	if cfg.Audit.Enabled {
		auditStore, err = initializeAuditStorage(cfg)
		if err != nil {
			slog.Error("Failed to initialize audit storage", "error", err)
			os.Exit(1)
		}
		defer auditStore.Close()

		recorder = audit.NewRecorder(auditStore, cfg.Audit.BufferSize, log)
		authObservers = append(authObservers, recorder)
		rateLimitObservers = append(rateLimitObservers, recorder)
		breakerObservers = append(breakerObservers, recorder)
	}

	// Authentication gate. A missing secret is reported, not fatal: protected
	// routes answer SERVER_MISCONFIGURED until it is provided.
	gate := auth.NewGate(cfg.Auth)
	if !gate.Ready() {
		slog.Warn("JWT signing secret is not set; protected routes will fail", "env", cfg.Auth.SecretEnv)
	}

	// Circuit breakers
	defaults, overrides, err := breaker.OptionsFromConfig(cfg.Breaker)
	if err != nil {
		slog.Error("Invalid circuit breaker configuration", "error", err)
		os.Exit(1)
	}
	var gatewayMetrics *observability.GatewayMetrics
	registryOpts := []breaker.RegistryOption{breaker.WithOverrides(overrides)}
	for _, o := range breakerObservers {
		registryOpts = append(registryOpts, breaker.WithObserver(o))
	}
	if cfg.Metrics.Enabled {
		// The metrics observer is attached before the registry exists; the
		// gauge reads snapshots from the registry once it does.
		registryOpts = append(registryOpts, breaker.WithObserver(breaker.ObserverFunc(func(e breaker.Event) {
			if gatewayMetrics != nil {
				gatewayMetrics.OnBreakerEvent(e)
			}
		})))
	}
	breakers := breaker.NewRegistry(defaults, registryOpts...)

	if cfg.Metrics.Enabled {
		gatewayMetrics, err = observability.NewGatewayMetrics(breakers)
		if err != nil {
			slog.Error("Failed to create gateway metrics", "error", err)
			os.Exit(1)
		}
		authObservers = append(authObservers, gatewayMetrics)
		rateLimitObservers = append(rateLimitObservers, gatewayMetrics)
	}

	// Rate limiting
	var limits *ratelimit.Middleware
	if cfg.RateLimit.Enabled {
		store, err := newRateLimitStore(cfg)
		if err != nil {
			slog.Error("Failed to initialize rate limit store", "error", err)
			os.Exit(1)
		}
		limiter := ratelimit.NewLimiter(store)
		defer limiter.Close()

		limits = newRateLimitMiddleware(cfg, limiter, rateLimitObservers)
	}

	// Routing and dispatch
	services, err := gateway.NewServiceTable(cfg.Services)
	if err != nil {
		slog.Error("Invalid service table", "error", err)
		os.Exit(1)
	}
	routes, err := gateway.NewRouteTable(gateway.RoutesFromConfig(cfg))
	if err != nil {
		slog.Error("Invalid route table", "error", err)
		os.Exit(1)
	}
	for _, rt := range routes.Routes() {
		slog.Info("Route registered",
			"route", rt.Name,
			"prefix", rt.Prefix,
			"service", rt.Service,
			"public", rt.Public,
			"scope", rt.Policy.Scope)
	}

	dispatcher, err := gateway.NewDispatcher(gateway.Config{
		Services:      services,
		Routes:        routes,
		Gate:          gate,
		AuthObservers: authObservers,
		Limits:        limits,
		Breakers:      breakers,
		Proxy:         gateway.NewProxy(cfg.Proxy),
	})
	if err != nil {
		slog.Error("Failed to create dispatcher", "error", err)
		os.Exit(1)
	}

	handlerOpts := []api.HandlerOption{}
	if auditStore != nil {
		handlerOpts = append(handlerOpts, api.WithAudit(auditStore, recorder))
	}
	handlers := api.NewHandlers(breakers, gate, ver, handlerOpts...)

	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	router := api.SetupRoutes(handlers, api.RouterConfig{
		Gate:          gate,
		AuthObservers: authObservers,
		Dispatcher:    dispatcher,
	}, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting gateway", "addr", server.Addr, "services", services.Names())

		var err error
		if cfg.Server.TLSEnabled {
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Flush the audit trail after the last request has finished
	if recorder != nil {
		if err := recorder.Close(ctx); err != nil {
			slog.Error("Audit trail not fully flushed", "error", err)
		}
		if dropped := recorder.Dropped(); dropped > 0 {
			slog.Warn("Audit events were dropped", "count", dropped)
		}
	}

	slog.Info("Server shutdown complete")
}

// initializeAuditStorage creates the audit storage backend, instrumented when
// metrics are enabled.
func initializeAuditStorage(cfg *models.Config) (storage.Storage, error) {
	store, err := storage.NewFactory().Create(cfg.Audit.Storage)
	if err != nil {
		return nil, err
	}
	if !cfg.Metrics.Enabled {
		return store, nil
	}

	instrumented, err := observability.NewInstrumentedStorage(store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create instrumented storage: %w", err)
	}
	return instrumented, nil
}

// newRateLimitMiddleware exempts the configured metrics path in addition to
// the default health and metrics probes.
func newRateLimitMiddleware(cfg *models.Config, limiter *ratelimit.Limiter, observers []ratelimit.Observer) *ratelimit.Middleware {
	opts := []ratelimit.MiddlewareOption{}
	if cfg.Metrics.Path != "" {
		opts = append(opts, ratelimit.WithExemptPaths(cfg.Metrics.Path))
	}
	for _, o := range observers {
		opts = append(opts, ratelimit.WithObserver(o))
	}
	return ratelimit.NewMiddleware(limiter, opts...)
}

// newRateLimitStore returns the shared Redis store or the in-process one.
func newRateLimitStore(cfg *models.Config) (ratelimit.Store, error) {
	switch cfg.RateLimit.Store {
	case models.RateLimitStoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		store, err := ratelimit.NewRedisStore(ctx, client, cfg.RateLimit.KeyPrefix)
		if err != nil {
			client.Close()
			return nil, err
		}
		slog.Info("Using Redis rate limit store", "addr", cfg.Redis.Addr)
		return store, nil
	default:
		return ratelimit.NewMemoryStore(cfg.RateLimit.CleanupInterval), nil
	}
}
