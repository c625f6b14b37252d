// Package config reads the postactiond configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/artifacts"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/observability"
	"github.com/Mindburn-Labs/tracker-postaction/pkg/runtime/sandbox"
)

// Config holds server configuration.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	CatalogPath  string
	CatalogWatch bool

	NATSURL   string
	NATSQueue string

	RedisAddr      string
	RedisPassword  string
	RateLimitRPS   float64
	RateLimitBurst int

	JWTSecret    string
	AuthDisabled bool

	SandboxMemoryMB int
	SandboxTimeout  time.Duration

	ModuleStore artifacts.StoreConfig

	OTelEnabled  bool
	OTelEndpoint string
	OTelInsecure bool
	Environment  string
}

// Load loads configuration from environment variables. Malformed numeric,
// boolean or duration values are errors rather than silent defaults.
func Load() (*Config, error) {
	var errs []error
	c := &Config{
		Port:          getenv("PORT", "8080"),
		LogLevel:      strings.ToUpper(getenv("LOG_LEVEL", "INFO")),
		LogFormat:     strings.ToLower(getenv("LOG_FORMAT", "json")),
		CatalogPath:   getenv("CATALOG_PATH", "postactions.yaml"),
		NATSURL:       os.Getenv("NATS_URL"),
		NATSQueue:     getenv("NATS_QUEUE", "postactiond"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		OTelEndpoint:  getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		Environment:   getenv("ENVIRONMENT", "development"),
		ModuleStore:   artifacts.ConfigFromEnv(),
	}
	c.CatalogWatch = parseBool("CATALOG_WATCH", false, &errs)
	c.AuthDisabled = parseBool("AUTH_DISABLED", false, &errs)
	c.OTelEnabled = parseBool("OTEL_ENABLED", false, &errs)
	c.OTelInsecure = parseBool("OTEL_INSECURE", false, &errs)
	c.RateLimitRPS = parseFloat("RATE_LIMIT_RPS", 50, &errs)
	c.RateLimitBurst = parseInt("RATE_LIMIT_BURST", 100, &errs)
	c.SandboxMemoryMB = parseInt("SANDBOX_MEMORY_MB", 64, &errs)
	c.SandboxTimeout = parseDuration("SANDBOX_TIMEOUT", 5*time.Second, &errs)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("PORT must be numeric, got %q", c.Port))
	}
	if c.RateLimitRPS <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS must be positive"))
	}
	if c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST must be positive"))
	}
	if c.SandboxMemoryMB <= 0 || c.SandboxMemoryMB > 4096 {
		errs = append(errs, errors.New("SANDBOX_MEMORY_MB must be in (0, 4096]"))
	}
	if c.SandboxTimeout <= 0 {
		errs = append(errs, errors.New("SANDBOX_TIMEOUT must be positive"))
	}
	if !c.AuthDisabled && c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required unless AUTH_DISABLED=true"))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.ModuleStore.Type {
	case artifacts.StoreTypeFS, artifacts.StoreTypeS3, artifacts.StoreTypeGCS:
	default:
		errs = append(errs, fmt.Errorf("MODULE_STORE_TYPE must be fs, s3 or gcs, got %q", c.ModuleStore.Type))
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return l, nil
}

// Sandbox returns the sandbox ceiling.
func (c *Config) Sandbox() sandbox.Config {
	return sandbox.Config{
		MemoryLimitBytes: int64(c.SandboxMemoryMB) << 20,
		Timeout:          c.SandboxTimeout,
	}
}

// Observability returns the OpenTelemetry settings.
func (c *Config) Observability(version string) *observability.Config {
	oc := observability.DefaultConfig()
	oc.ServiceVersion = version
	oc.Environment = c.Environment
	oc.OTLPEndpoint = c.OTelEndpoint
	oc.Enabled = c.OTelEnabled
	oc.Insecure = c.OTelInsecure
	return oc
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBool(key string, def bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func parseInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func parseFloat(key string, def float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func parseDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
