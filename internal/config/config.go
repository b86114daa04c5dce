package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gateway/internal/models"

	"gopkg.in/yaml.v3"
)

// serviceEnvPrefix introduces per-service base addresses, e.g.
// GATEWAY_SERVICE_INVENTORY=http://inventory:3000 registers service "inventory".
const serviceEnvPrefix = "GATEWAY_SERVICE_"

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config, os.Environ())

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment applies GATEWAY_* overrides from environ (KEY=VALUE pairs).
func loadFromEnvironment(config *models.Config, environ []string) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || v == "" {
			continue
		}
		env[k] = v
	}

	// Server configuration
	setInt(env, "GATEWAY_PORT", &config.Server.Port)
	setString(env, "GATEWAY_HOST", &config.Server.Host)
	setDuration(env, "GATEWAY_READ_TIMEOUT", &config.Server.ReadTimeout)
	setDuration(env, "GATEWAY_WRITE_TIMEOUT", &config.Server.WriteTimeout)
	setDuration(env, "GATEWAY_IDLE_TIMEOUT", &config.Server.IdleTimeout)
	setBool(env, "GATEWAY_TLS_ENABLED", &config.Server.TLSEnabled)
	setString(env, "GATEWAY_TLS_CERT_FILE", &config.Server.TLSCertFile)
	setString(env, "GATEWAY_TLS_KEY_FILE", &config.Server.TLSKeyFile)

	// Auth configuration
	setString(env, "GATEWAY_AUTH_SECRET_ENV", &config.Auth.SecretEnv)
	setString(env, "GATEWAY_AUTH_COOKIE_NAME", &config.Auth.CookieName)

	// Rate limit configuration
	setBool(env, "GATEWAY_RATE_LIMIT_ENABLED", &config.RateLimit.Enabled)
	setString(env, "GATEWAY_RATE_LIMIT_STORE", &config.RateLimit.Store)
	setDuration(env, "GATEWAY_RATE_LIMIT_WINDOW", &config.RateLimit.Window)
	setInt(env, "GATEWAY_RATE_LIMIT_MAX_REQUESTS", &config.RateLimit.MaxRequests)
	setBool(env, "GATEWAY_RATE_LIMIT_SKIP_SUCCESSFUL", &config.RateLimit.SkipSuccessful)
	setDuration(env, "GATEWAY_RATE_LIMIT_CLEANUP_INTERVAL", &config.RateLimit.CleanupInterval)
	setString(env, "GATEWAY_RATE_LIMIT_KEY_PREFIX", &config.RateLimit.KeyPrefix)

	// Breaker configuration
	setDuration(env, "GATEWAY_BREAKER_TIMEOUT", &config.Breaker.Timeout)
	setFloat(env, "GATEWAY_BREAKER_ERROR_THRESHOLD", &config.Breaker.ErrorThresholdPercentage)
	setDuration(env, "GATEWAY_BREAKER_RESET_TIMEOUT", &config.Breaker.ResetTimeout)
	setDuration(env, "GATEWAY_BREAKER_ROLLING_WINDOW", &config.Breaker.RollingWindow)
	setInt(env, "GATEWAY_BREAKER_ROLLING_BUCKETS", &config.Breaker.RollingBuckets)
	setInt(env, "GATEWAY_BREAKER_VOLUME_THRESHOLD", &config.Breaker.VolumeThreshold)
	setInt(env, "GATEWAY_BREAKER_HALF_OPEN_MAX_CALLS", &config.Breaker.HalfOpenMaxCalls)

	// Downstream services
	for k, v := range env {
		if !strings.HasPrefix(k, serviceEnvPrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(k, serviceEnvPrefix))
		name = strings.ReplaceAll(name, "_", "-")
		if name == "" {
			continue
		}
		if config.Services == nil {
			config.Services = make(map[string]string)
		}
		config.Services[name] = v
	}

	// Proxy configuration
	if v, ok := env["GATEWAY_PROXY_MAX_BODY_BYTES"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Proxy.MaxBodyBytes = n
		}
	}

	// Redis configuration
	setString(env, "GATEWAY_REDIS_ADDR", &config.Redis.Addr)
	setString(env, "GATEWAY_REDIS_PASSWORD", &config.Redis.Password)
	setInt(env, "GATEWAY_REDIS_DB", &config.Redis.DB)
	setInt(env, "GATEWAY_REDIS_POOL_SIZE", &config.Redis.PoolSize)

	// Audit configuration
	setBool(env, "GATEWAY_AUDIT_ENABLED", &config.Audit.Enabled)
	setString(env, "GATEWAY_AUDIT_STORAGE_TYPE", &config.Audit.Storage.Type)
	setString(env, "GATEWAY_AUDIT_DATABASE_DSN", &config.Audit.Storage.Database.DSN)
	setInt(env, "GATEWAY_AUDIT_BUFFER_SIZE", &config.Audit.BufferSize)

	// Logging configuration
	setString(env, "GATEWAY_LOG_LEVEL", &config.Logging.Level)
	setString(env, "GATEWAY_LOG_FORMAT", &config.Logging.Format)
	setString(env, "GATEWAY_LOG_OUTPUT", &config.Logging.Output)
	setString(env, "GATEWAY_LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics configuration
	setBool(env, "GATEWAY_METRICS_ENABLED", &config.Metrics.Enabled)
	setString(env, "GATEWAY_METRICS_PATH", &config.Metrics.Path)
	setInt(env, "GATEWAY_METRICS_PORT", &config.Metrics.Port)

	// Tracing configuration
	setBool(env, "GATEWAY_TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	setString(env, "GATEWAY_TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	setString(env, "GATEWAY_TRACING_OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
	setFloat(env, "GATEWAY_TRACING_SAMPLE_RATE", &config.Observability.Tracing.SampleRate)
}

func setString(env map[string]string, key string, dst *string) {
	if v, ok := env[key]; ok {
		*dst = v
	}
}

func setInt(env map[string]string, key string, dst *int) {
	if v, ok := env[key]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(env map[string]string, key string, dst *float64) {
	if v, ok := env[key]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(env map[string]string, key string, dst *bool) {
	if v, ok := env[key]; ok {
		*dst = strings.ToLower(v) == "true"
	}
}

func setDuration(env map[string]string, key string, dst *time.Duration) {
	if v, ok := env[key]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()

	config.Services = map[string]string{
		"auth":      "http://auth-service:3001",
		"products":  "http://products-service:3002",
		"orders":    "http://orders-service:3003",
		"payment":   "http://payment-service:3004",
		"inventory": "http://inventory-service:3005",
	}
	config.Routes = []models.RouteConfig{
		{Name: "login", Prefix: "/api/v1/auth/login", Service: "auth", Public: true, Scope: "login", Window: 15 * time.Minute, MaxRequests: 5},
		{Name: "payment", Prefix: "/api/v1/payment", Service: "payment", Scope: "payment", Window: time.Minute, MaxRequests: 20},
	}
	config.RateLimit.RoleLimits = map[string]int{models.RoleAdmin: 1000}
	config.Breaker.Overrides = map[string]models.BreakerOverride{
		"payment": {Timeout: 10 * time.Second},
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
