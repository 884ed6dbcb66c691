package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lightlink/cmd/internal/conversation"
	"lightlink/cmd/internal/notify"
	"lightlink/cmd/internal/store"
)

// Snapshot backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config contains all runtime configuration.
//
// Values come from the optional YAML file named by LIGHTLINK_CONFIG; any
// LIGHTLINK_* environment variable overrides the file.
type Config struct {
	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`

	// Backend selects where snapshots live: file, postgres, redis or memory.
	Backend  string `yaml:"backend"`
	DataFile string `yaml:"data_file"`

	DatabaseURL string `yaml:"database_url"`
	DBMaxConns  int32  `yaml:"db_max_conns"`
	DBMinConns  int32  `yaml:"db_min_conns"`
	DBSchema    string `yaml:"db_schema"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisKey      string `yaml:"redis_key"`

	// If true:
	// - /readyz returns 503 unless a postgres or redis backend is configured and reachable.
	ReadinessRequireDB bool `yaml:"readiness_require_db"`

	// AdminSecret guards admin commands. Empty disables them.
	AdminSecret string `yaml:"admin_secret"`

	RetentionInterval time.Duration `yaml:"retention_interval"`
	RetentionMaxAge   time.Duration `yaml:"retention_max_age"`
	HistoryCap        int           `yaml:"history_cap"`
	NotificationCap   int           `yaml:"notification_cap"`

	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUsername string `yaml:"smtp_username"`
	SMTPPassword string `yaml:"smtp_password"`
	SMTPFrom     string `yaml:"smtp_from"`

	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	VAPIDSubject    string `yaml:"vapid_subject"`

	WebhookURL string `yaml:"webhook_url"`

	CORSAllowedOrigins   []string `yaml:"cors_allowed_origins"`
	CORSAllowCredentials bool     `yaml:"cors_allow_credentials"`
	CORSMaxAgeSeconds    int      `yaml:"cors_max_age_seconds"`

	// TrustProxy honors cf-connecting-ip, x-real-ip and x-forwarded-for.
	TrustProxy bool `yaml:"trust_proxy"`

	// Security policy:
	// If true, LIGHTLINK_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and session-token hashing must be HMAC-based.
	RequireTokenHMAC bool `yaml:"require_token_hmac"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,

		Backend:  BackendFile,
		DataFile: "data.json",

		DBMaxConns: 10,
		DBSchema:   "lightlink",

		RedisKey: "lightlink:snapshot",

		RetentionInterval: conversation.DefaultSweepInterval,
		RetentionMaxAge:   conversation.DefaultMaxAge,
		HistoryCap:        store.DefaultHistoryCap,
		NotificationCap:   notify.DefaultQueueCap,

		CORSMaxAgeSeconds: 600,

		SMTPPort: 587,

		VAPIDSubject: "mailto:admin@lightlink.space",

		TrustProxy: true,
	}
}

// LoadConfig loads Config from the optional YAML file and the environment.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := EnvString("LIGHTLINK_CONFIG", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides cfg with any LIGHTLINK_* variable that is set.
func (c *Config) applyEnv() {
	c.HTTPAddr = EnvString("LIGHTLINK_HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = EnvString("LIGHTLINK_LOG_LEVEL", c.LogLevel)
	c.LogFormat = EnvString("LIGHTLINK_LOG_FORMAT", c.LogFormat)

	c.ReadHeaderTimeout = EnvDuration("LIGHTLINK_HTTP_READ_HEADER_TIMEOUT", c.ReadHeaderTimeout)
	c.ReadTimeout = EnvDuration("LIGHTLINK_HTTP_READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = EnvDuration("LIGHTLINK_HTTP_WRITE_TIMEOUT", c.WriteTimeout)
	c.IdleTimeout = EnvDuration("LIGHTLINK_HTTP_IDLE_TIMEOUT", c.IdleTimeout)
	c.MaxHeaderBytes = EnvInt("LIGHTLINK_HTTP_MAX_HEADER_BYTES", c.MaxHeaderBytes)

	c.Backend = strings.ToLower(EnvString("LIGHTLINK_STORE_BACKEND", c.Backend))
	c.DataFile = EnvString("LIGHTLINK_DATA_FILE", c.DataFile)

	c.DatabaseURL = EnvString("LIGHTLINK_DATABASE_URL", c.DatabaseURL)
	c.DBMaxConns = EnvInt32("LIGHTLINK_DB_MAX_CONNS", c.DBMaxConns)
	c.DBMinConns = EnvInt32("LIGHTLINK_DB_MIN_CONNS", c.DBMinConns)
	c.DBSchema = EnvString("LIGHTLINK_DB_SCHEMA", c.DBSchema)

	c.RedisAddr = EnvString("LIGHTLINK_REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = EnvString("LIGHTLINK_REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = EnvInt("LIGHTLINK_REDIS_DB", c.RedisDB)
	c.RedisKey = EnvString("LIGHTLINK_REDIS_KEY", c.RedisKey)

	c.ReadinessRequireDB = EnvBool("LIGHTLINK_READINESS_REQUIRE_DB", c.ReadinessRequireDB)

	c.AdminSecret = EnvString("LIGHTLINK_ADMIN_SECRET", c.AdminSecret)

	c.RetentionInterval = EnvDuration("LIGHTLINK_RETENTION_INTERVAL", c.RetentionInterval)
	c.RetentionMaxAge = EnvDuration("LIGHTLINK_RETENTION_MAX_AGE", c.RetentionMaxAge)
	c.HistoryCap = EnvInt("LIGHTLINK_HISTORY_CAP", c.HistoryCap)
	c.NotificationCap = EnvInt("LIGHTLINK_NOTIFICATION_CAP", c.NotificationCap)

	c.SMTPHost = EnvString("LIGHTLINK_SMTP_HOST", c.SMTPHost)
	c.SMTPPort = EnvInt("LIGHTLINK_SMTP_PORT", c.SMTPPort)
	c.SMTPUsername = EnvString("LIGHTLINK_SMTP_USERNAME", c.SMTPUsername)
	c.SMTPPassword = EnvString("LIGHTLINK_SMTP_PASSWORD", c.SMTPPassword)
	c.SMTPFrom = EnvString("LIGHTLINK_SMTP_FROM", c.SMTPFrom)

	c.VAPIDPublicKey = EnvString("LIGHTLINK_VAPID_PUBLIC_KEY", c.VAPIDPublicKey)
	c.VAPIDPrivateKey = EnvString("LIGHTLINK_VAPID_PRIVATE_KEY", c.VAPIDPrivateKey)
	c.VAPIDSubject = EnvString("LIGHTLINK_VAPID_SUBJECT", c.VAPIDSubject)

	c.WebhookURL = EnvString("LIGHTLINK_WEBHOOK_URL", c.WebhookURL)

	c.CORSAllowedOrigins = EnvCSV("LIGHTLINK_CORS_ALLOWED_ORIGINS", c.CORSAllowedOrigins)
	c.CORSAllowCredentials = EnvBool("LIGHTLINK_CORS_ALLOW_CREDENTIALS", c.CORSAllowCredentials)
	c.CORSMaxAgeSeconds = EnvInt("LIGHTLINK_CORS_MAX_AGE_SECONDS", c.CORSMaxAgeSeconds)

	c.TrustProxy = EnvBool("LIGHTLINK_TRUST_PROXY", c.TrustProxy)

	c.RequireTokenHMAC = EnvBool("LIGHTLINK_REQUIRE_TOKEN_HMAC", c.RequireTokenHMAC)
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendFile:
		if strings.TrimSpace(c.DataFile) == "" {
			return fmt.Errorf("config: backend %q needs a data file", c.Backend)
		}
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("config: backend %q needs LIGHTLINK_DATABASE_URL", c.Backend)
		}
	case BackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("config: backend %q needs LIGHTLINK_REDIS_ADDR", c.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Backend)
	}

	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return fmt.Errorf("config: VAPID public and private keys must be set together")
	}
	return nil
}

// durable reports whether the backend is an external database.
func (c Config) durable() bool {
	return c.Backend == BackendPostgres || c.Backend == BackendRedis
}
