// Package config loads the service configuration from the environment.
//
// Every setting has a default. Values that are present but malformed are
// reported by Load together with any validation failures, so a bad
// deployment fails at boot with the full list of problems.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Access log formats.
const (
	AccessRedacted = "redacted"
	AccessFull     = "full"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// CORSConfig lists the browser origins allowed to call the API. Empty
// allows any origin.
type CORSConfig struct {
	AllowedOrigins []string // CORS_ALLOWED_ORIGINS, comma separated
}

// SecurityConfig controls HSTS.
type SecurityConfig struct {
	EnableHSTS bool          // ENABLE_HSTS
	HSTSMaxAge time.Duration // HSTS_MAX_AGE
}

// OTELConfig controls trace export.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT, host:port
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG
}

// StoreConfig selects the durable session store and the local mirror.
type StoreConfig struct {
	Driver      string // DB_DRIVER
	DBPath      string // DB_PATH, sqlite only
	DatabaseURL string // DATABASE_URL, postgres only
	MirrorPath  string // MIRROR_PATH
}

// DSN returns the connection string for the selected driver.
func (s StoreConfig) DSN() string {
	if s.Driver == DriverPostgres {
		return s.DatabaseURL
	}
	return s.DBPath
}

// OracleConfig configures the language-model oracles. Without an API key
// the service runs with an offline oracle that always fails.
type OracleConfig struct {
	APIKey  string        // GEMINI_API_KEY
	Model   string        // GEMINI_MODEL
	Timeout time.Duration // ORACLE_TIMEOUT, per call
}

// SMTPConfig configures code delivery. An empty Host disables it.
type SMTPConfig struct {
	Host     string        // SMTP_HOST
	Port     int           // SMTP_PORT
	Username string        // SMTP_USER
	Password string        // SMTP_PASS
	From     string        // SMTP_FROM, defaults to SMTP_USER
	Timeout  time.Duration // SMTP_TIMEOUT
}

// OTPConfig configures the verification gate.
type OTPConfig struct {
	TTL           time.Duration // OTP_TTL
	SweepInterval time.Duration // OTP_SWEEP_INTERVAL
	SendRPS       float64       // OTP_SEND_RPS, per client IP
	SendBurst     int           // OTP_SEND_BURST
}

// AuthConfig configures researcher bearer tokens.
type AuthConfig struct {
	JWTSecret string        // AUTH_JWT_SECRET, random per process when empty
	TokenTTL  time.Duration // AUTH_TOKEN_TTL
}

// LocationConfig configures the client-IP location lookup.
type LocationConfig struct {
	Enabled bool          // LOCATION_LOOKUP_ENABLED
	BaseURL string        // LOCATION_LOOKUP_URL, empty selects the public service
	Timeout time.Duration // LOCATION_LOOKUP_TIMEOUT
}

// Config is the full service configuration.
type Config struct {
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string

	LogLevel       string
	LogPretty      bool
	LogAccess      string
	SwaggerEnabled bool
	APIBasePath    string

	Store           StoreConfig
	Oracle          OracleConfig
	MaxMessageRunes int
	SMTP            SMTPConfig
	OTP             OTPConfig
	Auth            AuthConfig
	Location        LocationConfig

	// Global limiter, per researcher or client IP.
	RateRPS   float64
	RateBurst int

	CORS     CORSConfig
	Security SecurityConfig

	// IdempotencyTTL is how long a recorded turn can be replayed.
	IdempotencyTTL time.Duration

	OTEL OTELConfig
}

// MustLoad is Load for main; it panics on any error.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the environment, applies defaults and validates the result.
// The returned error joins every problem found.
func Load() (Config, error) {
	var e env
	cfg := Config{
		Port:              e.str("PORT", "8080"),
		ReadTimeout:       e.duration("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: e.duration("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      e.duration("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       e.duration("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    e.integer("MAX_HEADER_BYTES", 1<<20),
		GinMode:           e.lower("GIN_MODE", "release"),

		LogLevel:       e.lower("LOG_LEVEL", "info"),
		LogPretty:      e.boolean("LOG_PRETTY", false),
		LogAccess:      e.lower("LOG_ACCESS", AccessRedacted),
		SwaggerEnabled: e.boolean("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(e.str("API_BASE_PATH", "/api/v1")),

		Store: StoreConfig{
			Driver:      e.lower("DB_DRIVER", DriverSQLite),
			DBPath:      e.str("DB_PATH", "app.db"),
			DatabaseURL: e.str("DATABASE_URL", ""),
			MirrorPath:  e.str("MIRROR_PATH", "mirror.db"),
		},
		Oracle: OracleConfig{
			APIKey:  e.str("GEMINI_API_KEY", ""),
			Model:   e.str("GEMINI_MODEL", "gemini-2.5-flash"),
			Timeout: e.duration("ORACLE_TIMEOUT", 60*time.Second),
		},
		MaxMessageRunes: e.integer("MAX_MESSAGE_RUNES", 8000),
		SMTP: SMTPConfig{
			Host:     e.str("SMTP_HOST", ""),
			Port:     e.integer("SMTP_PORT", 587),
			Username: e.str("SMTP_USER", ""),
			Password: e.str("SMTP_PASS", ""),
			Timeout:  e.duration("SMTP_TIMEOUT", 15*time.Second),
		},
		OTP: OTPConfig{
			TTL:           e.duration("OTP_TTL", 10*time.Minute),
			SweepInterval: e.duration("OTP_SWEEP_INTERVAL", 5*time.Minute),
			SendRPS:       e.float("OTP_SEND_RPS", 0.2),
			SendBurst:     e.integer("OTP_SEND_BURST", 3),
		},
		Auth: AuthConfig{
			JWTSecret: e.str("AUTH_JWT_SECRET", ""),
			TokenTTL:  e.duration("AUTH_TOKEN_TTL", 12*time.Hour),
		},
		Location: LocationConfig{
			Enabled: e.boolean("LOCATION_LOOKUP_ENABLED", true),
			BaseURL: e.str("LOCATION_LOOKUP_URL", ""),
			Timeout: e.duration("LOCATION_LOOKUP_TIMEOUT", 3*time.Second),
		},

		RateRPS:   e.float("RATE_RPS", 5),
		RateBurst: e.integer("RATE_BURST", 10),

		CORS: CORSConfig{AllowedOrigins: splitCSV(e.str("CORS_ALLOWED_ORIGINS", ""))},
		Security: SecurityConfig{
			EnableHSTS: e.boolean("ENABLE_HSTS", false),
			HSTSMaxAge: e.duration("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: e.duration("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     e.boolean("OTEL_ENABLED", false),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.boolean("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.str("OTEL_SERVICE_NAME", "eng-ai"),
			SampleRatio: e.float("OTEL_TRACES_SAMPLER_ARG", 1),
		},
	}
	cfg.SMTP.From = e.str("SMTP_FROM", cfg.SMTP.Username)

	cfg.normalize()
	return cfg, errors.Join(append(e.errs, cfg.validate()...)...)
}

func (c *Config) normalize() {
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}
	if c.Store.Driver == "postgresql" {
		c.Store.Driver = DriverPostgres
	}
}

func (c *Config) validate() []error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(oneOf(c.LogLevel, "debug", "info", "warn", "error", "fatal", "panic"),
		"LOG_LEVEL %q: want debug, info, warn, error, fatal or panic", c.LogLevel)
	check(oneOf(c.LogAccess, AccessRedacted, AccessFull), "LOG_ACCESS %q: want redacted or full", c.LogAccess)
	check(strings.TrimSpace(c.Port) != "", "PORT is empty")
	check(c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0,
		"server timeouts must be positive")
	check(c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be positive")

	switch c.Store.Driver {
	case DriverSQLite:
		check(strings.TrimSpace(c.Store.DBPath) != "", "DB_PATH is empty")
	case DriverPostgres:
		check(strings.TrimSpace(c.Store.DatabaseURL) != "", "DATABASE_URL is required for DB_DRIVER=postgres")
	default:
		check(false, "DB_DRIVER %q: want sqlite or postgres", c.Store.Driver)
	}
	check(strings.TrimSpace(c.Store.MirrorPath) != "", "MIRROR_PATH is empty")

	check(c.Oracle.Timeout > 0, "ORACLE_TIMEOUT must be positive")
	check(c.MaxMessageRunes > 0, "MAX_MESSAGE_RUNES must be positive")
	check(c.SMTP.Port > 0 && c.SMTP.Port <= 65535, "SMTP_PORT %d out of range", c.SMTP.Port)
	check(c.OTP.TTL > 0 && c.OTP.SweepInterval > 0, "OTP_TTL and OTP_SWEEP_INTERVAL must be positive")
	check(c.OTP.SendRPS >= 0, "OTP_SEND_RPS must not be negative")
	check(c.OTP.SendBurst >= 1, "OTP_SEND_BURST must be at least 1")
	check(c.Auth.TokenTTL > 0, "AUTH_TOKEN_TTL must be positive")

	check(c.RateRPS >= 0, "RATE_RPS must not be negative")
	check(c.RateBurst >= 1, "RATE_BURST must be at least 1")
	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must not be negative")
	check(c.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be positive")
	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG %v outside [0,1]", c.OTEL.SampleRatio)
	return errs
}

// env reads typed variables. Unset or empty variables take the default;
// malformed ones take the default and are recorded in errs.
type env struct {
	errs []error
}

func (e *env) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (e *env) lower(key, def string) string {
	return strings.ToLower(strings.TrimSpace(e.str(key, def)))
}

func (e *env) parse(key string, parse func(string) error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if err := parse(v); err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, v, err))
	}
}

func (e *env) integer(key string, def int) int {
	out := def
	e.parse(key, func(v string) error {
		n, err := strconv.Atoi(v)
		if err == nil {
			out = n
		}
		return err
	})
	return out
}

func (e *env) float(key string, def float64) float64 {
	out := def
	e.parse(key, func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			out = f
		}
		return err
	})
	return out
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	out := def
	e.parse(key, func(v string) error {
		d, err := time.ParseDuration(v)
		if err == nil {
			out = d
		}
		return err
	})
	return out
}

func (e *env) boolean(key string, def bool) bool {
	out := def
	e.parse(key, func(v string) error {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y", "on":
			out = true
		case "0", "false", "no", "n", "off":
			out = false
		default:
			return errors.New("not a boolean")
		}
		return nil
	})
	return out
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath returns p with one leading slash and no trailing slash.
// Empty maps to "/".
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
