// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// loopback API server, the durable store, the connectivity monitor, the
// sync engine's retry policy, the remote workforce API client, logging, and
// observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings for the UI shell.
type CORSConfig struct {
	AllowedOrigins []string
}

// RemoteConfig defines how the engine reaches the workforce backend.
type RemoteConfig struct {
	BaseURL string  // REMOTE_BASE_URL (e.g. "https://api.rosterly.example")
	Token   string  // REMOTE_TOKEN (bearer token for the signed-in employee)
	Timeout time.Duration
	RPS     float64 // outbound tokens per second (>= 0, 0 disables limiting)
	Burst   int     // outbound bucket size (>= 1)
}

// SyncConfig defines the retry and replay policy of the sync engine.
type SyncConfig struct {
	BackoffBase time.Duration // first retry delay
	BackoffCap  time.Duration // ceiling for retry delays
	MaxAttempts int           // attempts before an action is marked failed
	CallTimeout time.Duration // per-replay deadline
}

// ConnectivityConfig defines how network reachability is probed and debounced.
type ConnectivityConfig struct {
	ProbeURL        string        // CONNECTIVITY_PROBE_URL
	ProbeInterval   time.Duration // how often to probe
	ProbeTimeout    time.Duration // per-probe HTTP timeout
	StabilityWindow time.Duration // how long the link must stay up before "online"
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "shiftsync")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Loopback server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// Storage
	DBPath string // SQLite path for the offline store

	// Sync behaviour
	Sync         SyncConfig
	Connectivity ConnectivityConfig
	Remote       RemoteConfig

	// Web protection
	CORS CORSConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Loopback server
		Port:              getenv("PORT", "7643"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBPath: getenv("DB_PATH", "shiftsync.db"),

		// Sync behaviour
		Sync: SyncConfig{
			BackoffBase: getdur("SYNC_BACKOFF_BASE", time.Second),
			BackoffCap:  getdur("SYNC_BACKOFF_CAP", 5*time.Minute),
			MaxAttempts: getint("SYNC_MAX_ATTEMPTS", 5),
			CallTimeout: getdur("SYNC_CALL_TIMEOUT", 30*time.Second),
		},
		Connectivity: ConnectivityConfig{
			ProbeURL:        getenv("CONNECTIVITY_PROBE_URL", ""),
			ProbeInterval:   getdur("CONNECTIVITY_PROBE_INTERVAL", time.Second),
			ProbeTimeout:    getdur("CONNECTIVITY_PROBE_TIMEOUT", 3*time.Second),
			StabilityWindow: getdur("CONNECTIVITY_STABILITY_WINDOW", 2*time.Second),
		},
		Remote: RemoteConfig{
			BaseURL: getenv("REMOTE_BASE_URL", ""),
			Token:   getenv("REMOTE_TOKEN", ""),
			Timeout: getdur("REMOTE_TIMEOUT", 30*time.Second),
			RPS:     getfloat("REMOTE_RPS", 5.0),
			Burst:   getint("REMOTE_BURST", 10),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "shiftsync"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.Sync.BackoffBase <= 0 {
		return cfg, errors.New("SYNC_BACKOFF_BASE must be > 0")
	}
	if cfg.Sync.BackoffCap < cfg.Sync.BackoffBase {
		return cfg, errors.New("SYNC_BACKOFF_CAP must be >= SYNC_BACKOFF_BASE")
	}
	if cfg.Sync.MaxAttempts < 1 {
		return cfg, errors.New("SYNC_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Sync.CallTimeout <= 0 {
		return cfg, errors.New("SYNC_CALL_TIMEOUT must be > 0")
	}
	if cfg.Connectivity.ProbeInterval <= 0 {
		return cfg, errors.New("CONNECTIVITY_PROBE_INTERVAL must be > 0")
	}
	if cfg.Connectivity.ProbeTimeout <= 0 {
		return cfg, errors.New("CONNECTIVITY_PROBE_TIMEOUT must be > 0")
	}
	if cfg.Connectivity.StabilityWindow < 0 {
		return cfg, errors.New("CONNECTIVITY_STABILITY_WINDOW must be >= 0")
	}
	if cfg.Remote.Timeout <= 0 {
		return cfg, errors.New("REMOTE_TIMEOUT must be > 0")
	}
	if cfg.Remote.RPS < 0 {
		return cfg, errors.New("REMOTE_RPS must be >= 0")
	}
	if cfg.Remote.Burst < 1 {
		return cfg, errors.New("REMOTE_BURST must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
