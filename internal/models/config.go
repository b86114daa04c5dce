// Package models - Gateway configuration and operational settings.
// This file defines the configuration tree for every gateway component.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, auth, rate limit, breaker, ...)
// - Defaults that match the documented resilience parameters
// - Validation catches misconfigurations before the listener starts
// - Routing tables are loaded once at start and never mutated afterwards
package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Rate limit store type constants
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

// Audit storage type constants
const (
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Config is the root configuration structure containing all gateway settings.
//
// Configuration Structure:
// - Server: HTTP listener settings
// - Auth: credential verification settings
// - RateLimit: request budgets per route scope
// - Breaker: circuit breaker parameters, with per-service overrides
// - Services: downstream base addresses keyed by service name
// - Routes: path prefixes mapped to services, with per-route policy
// - Proxy: outbound call settings
// - Redis: shared counter store connection
// - Audit: security event trail
// - Logging, Metrics, Observability: operational output
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Auth          AuthConfig          `yaml:"auth" json:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Breaker       BreakerConfig       `yaml:"breaker" json:"breaker"`
	Services      map[string]string   `yaml:"services" json:"services"`
	Routes        []RouteConfig       `yaml:"routes" json:"routes"`
	Proxy         ProxyConfig         `yaml:"proxy" json:"proxy"`
	Redis         RedisConfig         `yaml:"redis" json:"redis"`
	Audit         AuditConfig         `yaml:"audit" json:"audit"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

// AuthConfig controls the authentication gate. The signing secret itself is
// never part of the config tree; it is read from the environment variable
// named by SecretEnv on every verification.
type AuthConfig struct {
	SecretEnv  string `yaml:"secret_env" json:"secret_env"`
	CookieName string `yaml:"cookie_name" json:"cookie_name"`
}

type RateLimitConfig struct {
	Enabled         bool           `yaml:"enabled" json:"enabled"`
	Store           string         `yaml:"store" json:"store"`
	Window          time.Duration  `yaml:"window" json:"window"`
	MaxRequests     int            `yaml:"max_requests" json:"max_requests"`
	RoleLimits      map[string]int `yaml:"role_limits" json:"role_limits"`
	SkipSuccessful  bool           `yaml:"skip_successful" json:"skip_successful"`
	CleanupInterval time.Duration  `yaml:"cleanup_interval" json:"cleanup_interval"`
	KeyPrefix       string         `yaml:"key_prefix" json:"key_prefix"`
}

// BreakerConfig holds circuit breaker parameters. Overrides replace the
// non-zero fields of the defaults for a single service.
type BreakerConfig struct {
	Timeout                  time.Duration              `yaml:"timeout" json:"timeout"`
	ErrorThresholdPercentage float64                    `yaml:"error_threshold_percentage" json:"error_threshold_percentage"`
	ResetTimeout             time.Duration              `yaml:"reset_timeout" json:"reset_timeout"`
	RollingWindow            time.Duration              `yaml:"rolling_window" json:"rolling_window"`
	RollingBuckets           int                        `yaml:"rolling_buckets" json:"rolling_buckets"`
	VolumeThreshold          int                        `yaml:"volume_threshold" json:"volume_threshold"`
	HalfOpenMaxCalls         int                        `yaml:"half_open_max_calls" json:"half_open_max_calls"`
	Overrides                map[string]BreakerOverride `yaml:"overrides" json:"overrides"`
}

type BreakerOverride struct {
	Timeout                  time.Duration `yaml:"timeout" json:"timeout"`
	ErrorThresholdPercentage float64       `yaml:"error_threshold_percentage" json:"error_threshold_percentage"`
	ResetTimeout             time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
	RollingWindow            time.Duration `yaml:"rolling_window" json:"rolling_window"`
	RollingBuckets           int           `yaml:"rolling_buckets" json:"rolling_buckets"`
	VolumeThreshold          int           `yaml:"volume_threshold" json:"volume_threshold"`
	HalfOpenMaxCalls         int           `yaml:"half_open_max_calls" json:"half_open_max_calls"`
}

// RouteConfig maps a path prefix to a downstream service. A zero Window or
// MaxRequests falls back to the global rate limit settings.
type RouteConfig struct {
	Name        string         `yaml:"name" json:"name"`
	Prefix      string         `yaml:"prefix" json:"prefix"`
	Service     string         `yaml:"service" json:"service"`
	Public      bool           `yaml:"public" json:"public"`
	Scope       string         `yaml:"scope" json:"scope"`
	Window      time.Duration  `yaml:"window" json:"window"`
	MaxRequests int            `yaml:"max_requests" json:"max_requests"`
	RoleLimits  map[string]int `yaml:"role_limits" json:"role_limits"`
	StripPrefix bool           `yaml:"strip_prefix" json:"strip_prefix"`
}

type ProxyConfig struct {
	MaxBodyBytes        int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host" json:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout" json:"idle_conn_timeout"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	PoolSize int    `yaml:"pool_size" json:"pool_size"`
}

type AuditConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	Storage    StorageConfig `yaml:"storage" json:"storage"`
	BufferSize int           `yaml:"buffer_size" json:"buffer_size"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with the documented defaults.
//
// Default Values:
// - Breaker: 5s call timeout, 50% error threshold, 30s reset timeout,
//   10s rolling window in 10 buckets, minimum volume 8, one half-open trial
// - Rate limit: 100 requests per 15 minute window per caller, in-memory counters
// - Auth: secret read from JWT_SECRET, cookie "jwt"
// - Routes: one default route per service under /api/v1/<service>
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			TLSEnabled:   false,
		},
		Auth: AuthConfig{
			SecretEnv:  "JWT_SECRET",
			CookieName: "jwt",
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			Store:           RateLimitStoreMemory,
			Window:          15 * time.Minute,
			MaxRequests:     100,
			RoleLimits:      map[string]int{},
			SkipSuccessful:  false,
			CleanupInterval: time.Minute,
			KeyPrefix:       "gateway:rl",
		},
		Breaker: BreakerConfig{
			Timeout:                  5 * time.Second,
			ErrorThresholdPercentage: 50,
			ResetTimeout:             30 * time.Second,
			RollingWindow:            10 * time.Second,
			RollingBuckets:           10,
			VolumeThreshold:          8,
			HalfOpenMaxCalls:         1,
			Overrides:                map[string]BreakerOverride{},
		},
		Services: map[string]string{},
		Routes:   []RouteConfig{},
		Proxy: ProxyConfig{
			MaxBodyBytes:        10 << 20,
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     90 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Audit: AuditConfig{
			Enabled: true,
			Storage: StorageConfig{
				Type: StorageTypeMemory,
				Database: DatabaseConfig{
					MaxOpenConns:    10,
					ConnMaxLifetime: 5 * time.Minute,
				},
			},
			BufferSize: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "gateway",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("invalid auth config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	if err := c.Breaker.Validate(); err != nil {
		return fmt.Errorf("invalid breaker config: %w", err)
	}

	if err := c.validateServices(); err != nil {
		return fmt.Errorf("invalid services config: %w", err)
	}

	if err := c.validateRoutes(); err != nil {
		return fmt.Errorf("invalid routes config: %w", err)
	}

	if c.RateLimit.Enabled && c.RateLimit.Store == RateLimitStoreRedis && c.Redis.Addr == "" {
		return errors.New("invalid redis config: address is required when rate limit store is redis")
	}

	if err := c.Audit.Validate(); err != nil {
		return fmt.Errorf("invalid audit config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (ac *AuthConfig) Validate() error {
	if ac.SecretEnv == "" {
		return errors.New("secret env variable name cannot be empty")
	}
	return nil
}

func (rc *RateLimitConfig) Validate() error {
	if !rc.Enabled {
		return nil
	}
	if rc.Store != RateLimitStoreMemory && rc.Store != RateLimitStoreRedis {
		return fmt.Errorf("invalid rate limit store: %s", rc.Store)
	}
	if rc.Window <= 0 {
		return errors.New("window must be positive")
	}
	if rc.MaxRequests <= 0 {
		return errors.New("max requests must be positive")
	}
	if rc.Store == RateLimitStoreMemory && rc.CleanupInterval <= 0 {
		return errors.New("cleanup interval must be positive")
	}
	for role, limit := range rc.RoleLimits {
		if limit <= 0 {
			return fmt.Errorf("limit for role %s must be positive", role)
		}
	}
	return nil
}

func (bc *BreakerConfig) Validate() error {
	if bc.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if bc.ErrorThresholdPercentage <= 0 || bc.ErrorThresholdPercentage > 100 {
		return errors.New("error threshold percentage must be in (0, 100]")
	}
	if bc.ResetTimeout <= 0 {
		return errors.New("reset timeout must be positive")
	}
	if bc.RollingWindow <= 0 {
		return errors.New("rolling window must be positive")
	}
	if bc.RollingBuckets <= 0 {
		return errors.New("rolling buckets must be positive")
	}
	if bc.VolumeThreshold < 0 {
		return errors.New("volume threshold cannot be negative")
	}
	if bc.HalfOpenMaxCalls <= 0 {
		return errors.New("half open max calls must be positive")
	}
	for service, ov := range bc.Overrides {
		if err := ov.Validate(); err != nil {
			return fmt.Errorf("override for %s: %w", service, err)
		}
	}
	return nil
}

// Validate checks the fields an override sets. Zero means inherit.
func (ov BreakerOverride) Validate() error {
	if ov.Timeout < 0 || ov.ResetTimeout < 0 || ov.RollingWindow < 0 {
		return errors.New("durations cannot be negative")
	}
	if ov.ErrorThresholdPercentage < 0 || ov.ErrorThresholdPercentage > 100 {
		return errors.New("error threshold percentage must be in (0, 100]")
	}
	if ov.RollingBuckets < 0 || ov.VolumeThreshold < 0 || ov.HalfOpenMaxCalls < 0 {
		return errors.New("counts cannot be negative")
	}
	return nil
}

func (c *Config) validateServices() error {
	for name, base := range c.Services {
		if name == "" {
			return errors.New("service name cannot be empty")
		}
		u, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("service %s: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("service %s: base address must be http or https, got %q", name, base)
		}
		if u.Host == "" {
			return fmt.Errorf("service %s: base address has no host", name)
		}
	}
	return nil
}

func (c *Config) validateRoutes() error {
	seen := make(map[string]bool, len(c.Routes))
	for _, rt := range c.Routes {
		if !strings.HasPrefix(rt.Prefix, "/") {
			return fmt.Errorf("route %q: prefix must start with /", rt.Name)
		}
		if seen[rt.Prefix] {
			return fmt.Errorf("route %q: duplicate prefix %s", rt.Name, rt.Prefix)
		}
		seen[rt.Prefix] = true
		if _, ok := c.Services[rt.Service]; !ok {
			return fmt.Errorf("route %q: unknown service %s", rt.Name, rt.Service)
		}
		if rt.Window < 0 || rt.MaxRequests < 0 {
			return fmt.Errorf("route %q: rate limit values cannot be negative", rt.Name)
		}
	}
	return nil
}

func (ac *AuditConfig) Validate() error {
	if !ac.Enabled {
		return nil
	}
	switch ac.Storage.Type {
	case StorageTypeMemory:
	case StorageTypePostgres, StorageTypeSQLite:
		if ac.Storage.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s", ac.Storage.Type)
	}
	if ac.BufferSize <= 0 {
		return errors.New("buffer size must be positive")
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	found := false
	for _, vl := range validLevels {
		if lc.Level == vl {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if lc.Format != "json" && lc.Format != "text" {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	validOutputs := []string{"stdout", "stderr", "file"}
	found = false
	for _, vo := range validOutputs {
		if lc.Output == vo {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}
