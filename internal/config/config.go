// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, routing limits, delivery
// throttling, backups and observability.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "notify-router")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
	Environment string  // OTEL_DEPLOYMENT_ENVIRONMENT (e.g. "production")

	// WebhookSampleRatio samples ingestion webhook traces on their own
	// (OTEL_WEBHOOK_SAMPLER_ARG in [0..1], defaults to SampleRatio).
	WebhookSampleRatio float64
}

// RoutingConfig bounds the routing engine.
type RoutingConfig struct {
	WebhookPath     string        // WEBHOOK_PATH
	GroupCapacity   int           // GROUP_CAPACITY
	MaxContentRunes int           // MAX_CONTENT_RUNES
	DedupRetention  time.Duration // DEDUP_RETENTION
	MaxBodyBytes    int64         // MAX_BODY_BYTES
}

// TelegramConfig configures the Telegram transport. An empty token disables
// outbound delivery (intents are logged instead).
type TelegramConfig struct {
	Token     string // TELEGRAM_BOT_TOKEN
	ParseMode string // TELEGRAM_PARSE_MODE (Markdown|MarkdownV2|HTML|"")
}

// DeliveryConfig throttles the outbound dispatcher.
type DeliveryConfig struct {
	Workers   int     // DELIVERY_WORKERS
	RPS       float64 // DELIVERY_RPS
	RetryMax  int     // DELIVERY_RETRY_MAX
	QueueSize int     // DELIVERY_QUEUE_SIZE
}

// BackupConfig controls scheduled database snapshots.
type BackupConfig struct {
	Enabled  bool   // BACKUP_ENABLED
	Dir      string // BACKUP_DIR
	Schedule string // BACKUP_SCHEDULE (cron spec or @every)
	Keep     int    // BACKUP_KEEP
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBPath string // SQLite path

	// Admin
	AdminIDs []string // ADMIN_IDS (CSV or JSON array)

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	Routing  RoutingConfig
	Telegram TelegramConfig
	Delivery DeliveryConfig
	Backup   BackupConfig

	// Observability
	OTEL OTELConfig
}

// IsAdmin reports whether id is listed in ADMIN_IDS.
func (c Config) IsAdmin(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	for _, a := range c.AdminIDs {
		if a == id {
			return true
		}
	}
	return false
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
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DBPath: getenv("DB_PATH", "notify_router.db"),

		AdminIDs: parseIDList(getenv("ADMIN_IDS", "")),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		Routing: RoutingConfig{
			WebhookPath:     normalizeBasePath(getenv("WEBHOOK_PATH", "/webhook")),
			GroupCapacity:   getint("GROUP_CAPACITY", 50),
			MaxContentRunes: getint("MAX_CONTENT_RUNES", 4096),
			DedupRetention:  getdur("DEDUP_RETENTION", 24*time.Hour),
			MaxBodyBytes:    int64(getint("MAX_BODY_BYTES", 64<<10)),
		},
		Telegram: TelegramConfig{
			Token:     strings.TrimSpace(getenv("TELEGRAM_BOT_TOKEN", "")),
			ParseMode: getenv("TELEGRAM_PARSE_MODE", "Markdown"),
		},
		Delivery: DeliveryConfig{
			Workers:   getint("DELIVERY_WORKERS", 4),
			RPS:       getfloat("DELIVERY_RPS", 20),
			RetryMax:  getint("DELIVERY_RETRY_MAX", 3),
			QueueSize: getint("DELIVERY_QUEUE_SIZE", 1024),
		},
		Backup: BackupConfig{
			Enabled:  getbool("BACKUP_ENABLED", true),
			Dir:      getenv("BACKUP_DIR", "backups"),
			Schedule: getenv("BACKUP_SCHEDULE", "@every 24h"),
			Keep:     getint("BACKUP_KEEP", 10),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "notify-router"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
			Environment: getenv("OTEL_DEPLOYMENT_ENVIRONMENT", "production"),
		},
	}
	cfg.OTEL.WebhookSampleRatio = getfloat("OTEL_WEBHOOK_SAMPLER_ARG", cfg.OTEL.SampleRatio)

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	switch strings.ToLower(cfg.Telegram.ParseMode) {
	case "markdown":
		cfg.Telegram.ParseMode = "Markdown"
	case "markdownv2":
		cfg.Telegram.ParseMode = "MarkdownV2"
	case "html":
		cfg.Telegram.ParseMode = "HTML"
	case "none", "plain":
		cfg.Telegram.ParseMode = ""
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
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.Routing.WebhookPath == "/" {
		return cfg, errors.New("WEBHOOK_PATH must not be the root path")
	}
	if cfg.Routing.GroupCapacity < 1 {
		return cfg, errors.New("GROUP_CAPACITY must be >= 1")
	}
	if cfg.Routing.MaxContentRunes < 1 {
		return cfg, errors.New("MAX_CONTENT_RUNES must be >= 1")
	}
	if cfg.Routing.DedupRetention <= 0 {
		return cfg, errors.New("DEDUP_RETENTION must be > 0")
	}
	if cfg.Routing.MaxBodyBytes < 1 {
		return cfg, errors.New("MAX_BODY_BYTES must be >= 1")
	}
	switch cfg.Telegram.ParseMode {
	case "", "Markdown", "MarkdownV2", "HTML":
	default:
		return cfg, errors.New("TELEGRAM_PARSE_MODE must be one of: Markdown, MarkdownV2, HTML, none")
	}
	if cfg.Delivery.Workers < 1 {
		return cfg, errors.New("DELIVERY_WORKERS must be >= 1")
	}
	if cfg.Delivery.RPS <= 0 {
		return cfg, errors.New("DELIVERY_RPS must be > 0")
	}
	if cfg.Delivery.RetryMax < 0 {
		return cfg, errors.New("DELIVERY_RETRY_MAX must be >= 0")
	}
	if cfg.Delivery.QueueSize < 1 {
		return cfg, errors.New("DELIVERY_QUEUE_SIZE must be >= 1")
	}
	if cfg.Backup.Enabled {
		if strings.TrimSpace(cfg.Backup.Dir) == "" {
			return cfg, errors.New("BACKUP_DIR must not be empty")
		}
		if cfg.Backup.Keep < 1 {
			return cfg, errors.New("BACKUP_KEEP must be >= 1")
		}
		if _, err := cron.ParseStandard(cfg.Backup.Schedule); err != nil {
			return cfg, errors.New("BACKUP_SCHEDULE must be a valid cron spec: " + err.Error())
		}
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	if cfg.OTEL.WebhookSampleRatio < 0 || cfg.OTEL.WebhookSampleRatio > 1 {
		return cfg, errors.New("OTEL_WEBHOOK_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

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

// parseIDList accepts either a JSON array (strings or numbers) or a CSV list.
func parseIDList(s string) []string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var raw []json.RawMessage
		if err := json.Unmarshal([]byte(s), &raw); err == nil {
			out := make([]string, 0, len(raw))
			for _, r := range raw {
				v := strings.TrimSpace(strings.Trim(strings.TrimSpace(string(r)), `"`))
				if v != "" {
					out = append(out, v)
				}
			}
			return out
		}
		s = strings.Trim(s, "[]")
	}
	return splitCSV(s)
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
