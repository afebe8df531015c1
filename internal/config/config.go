// Package config loads and validates listctl configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig          `yaml:"server"`
	Store         StoreConfig           `yaml:"store"`
	Provider      ProviderConfig        `yaml:"provider"`
	Lists         map[string]ListConfig `yaml:"lists"`
	Observability ObservabilityConfig   `yaml:"observability"`
}

// ServerConfig describes HTTP server settings for listd.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxSessions     int           `yaml:"max_sessions"`
	SessionIdleTTL  time.Duration `yaml:"session_idle_ttl"`
	CORS            CORSConfig    `yaml:"cors"`
	Auth            AuthConfig    `yaml:"auth"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// AuthConfig describes bearer token verification on the list API. Tokens
// are HS256 JWTs signed with the secret named by SecretEnv.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	SecretEnv string `yaml:"secret_env"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
}

// StoreConfig describes the key-value store backing persisted list state.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	AddrEnv         string        `yaml:"addr_env"`
	DB              int           `yaml:"db"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	TTL             time.Duration `yaml:"ttl"`
}

// ProviderConfig describes the data provider. Driver "rest" calls BaseURL;
// driver "memory" serves the JSON fixture file at Fixtures.
type ProviderConfig struct {
	Driver         string               `yaml:"driver"`
	Fixtures       string               `yaml:"fixtures"`
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	Auth           ProviderAuthConfig   `yaml:"auth"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// RetryConfig describes retry behaviour for provider requests.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// ProviderAuthConfig describes the service token minted for provider calls.
type ProviderAuthConfig struct {
	SecretEnv string        `yaml:"secret_env"`
	Issuer    string        `yaml:"issuer"`
	Audience  string        `yaml:"audience"`
	TTL       time.Duration `yaml:"ttl"`
}

// CircuitBreakerConfig describes circuit breaker settings for the provider.
type CircuitBreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	SuccessThreshold   int           `yaml:"success_threshold"`
	Timeout            time.Duration `yaml:"timeout"`
	ErrorRateThreshold float64       `yaml:"error_rate_threshold"`
	ErrorRateWindow    time.Duration `yaml:"error_rate_window"`
}

// ListConfig holds the defaults of one named list view.
type ListConfig struct {
	Resource             string         `yaml:"resource"`
	StoreKey             string         `yaml:"store_key"`
	DisableSyncWithStore bool           `yaml:"disable_sync_with_store"`
	Infinite             bool           `yaml:"infinite"`
	PerPage              int            `yaml:"per_page"`
	SortField            string         `yaml:"sort_field"`
	SortOrder            string         `yaml:"sort_order"`
	Filter               map[string]any `yaml:"filter"`
	FilterDefaultValues  map[string]any `yaml:"filter_default_values"`
	AlwaysOn             []string       `yaml:"always_on"`
	Debounce             time.Duration  `yaml:"debounce"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxSessions:     1000,
			SessionIdleTTL:  30 * time.Minute,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         3600,
			},
		},
		Store: StoreConfig{
			Driver:          "memory",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Provider: ProviderConfig{
			Driver:  "rest",
			Timeout: 10 * time.Second,
			Auth: ProviderAuthConfig{
				TTL: 5 * time.Minute,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:       2,
				BackoffInitial:    100 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        2 * time.Second,
			},
		},
		Lists: map[string]ListConfig{},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	switch c.Store.Driver {
	case "memory", "redis", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}
	if c.Server.Auth.Enabled && c.Server.Auth.SecretEnv == "" {
		errs = append(errs, "server.auth.secret_env is required when auth is enabled")
	}
	switch c.Provider.Driver {
	case "rest":
		if c.Provider.BaseURL == "" {
			errs = append(errs, "provider.base_url is required")
		}
	case "memory":
		if c.Provider.Fixtures == "" {
			errs = append(errs, "provider.fixtures is required for the memory driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("provider.driver %q is not supported", c.Provider.Driver))
	}
	for name, l := range c.Lists {
		if l.Resource == "" {
			errs = append(errs, fmt.Sprintf("lists.%s.resource is required", name))
		}
		if l.PerPage < 0 {
			errs = append(errs, fmt.Sprintf("lists.%s.per_page must not be negative", name))
		}
		switch strings.ToUpper(l.SortOrder) {
		case "", "ASC", "DESC":
		default:
			errs = append(errs, fmt.Sprintf("lists.%s.sort_order must be ASC or DESC", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads LISTCTL_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LISTCTL_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LISTCTL_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("LISTCTL_PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("LISTCTL_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
