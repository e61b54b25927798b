package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides the process configuration loaded from the environment and
// the hot-reloaded entitlement settings.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewEntitlementConfigHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	SnowflakeNode int64

	Webhook       WebhookConfig
	RateLimit     RateLimitConfig
	Redis         RedisConfig
	Automation    AutomationConfig
	Scheduler     SchedulerConfig
	Observability ObservabilityConfig

	EntitlementConfigPath string
}

type WebhookConfig struct {
	// RazorpaySecret is the shared HMAC secret. When empty the secret is
	// looked up in platform_settings on each request.
	RazorpaySecret string
	// PendingSweepAfterSeconds is how long a ledger row may sit in pending
	// before the replay sweep picks it up.
	PendingSweepAfterSeconds int
	MaxReplayAttempts        int
}

type RateLimitConfig struct {
	Enabled       bool
	Backend       string
	Requests      int
	WindowSeconds int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AutomationConfig struct {
	// ChannelTokenKeys maps a key version to its master secret, encoded as
	// "1:secret,2:secret".
	ChannelTokenKeys map[int]string
}

type SchedulerConfig struct {
	Enabled         bool
	IntervalSeconds int
	BatchSize       int
	// Jobs restricts which jobs run. Empty means all of them.
	Jobs []string
}

type ObservabilityConfig struct {
	LogLevel          string
	LogFormat         string
	OtelEnabled       bool
	OtelProtocol      string
	OtelSamplingRatio float64
	// SlowQueryMillis is the statement duration logged at warn level.
	SlowQueryMillis int
	// LogSQL logs every statement at debug level.
	LogSQL bool
	// RedactHeaders are request headers whose values never reach the
	// request log.
	RedactHeaders []string
}

const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	backend := strings.ToLower(strings.TrimSpace(getenv("WEBHOOK_RATE_LIMIT_BACKEND", RateLimitBackendMemory)))
	if backend != RateLimitBackendRedis {
		backend = RateLimitBackendMemory
	}

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "creatorpay"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint:      getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "creatorpay"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		SnowflakeNode:     getenvInt64("SNOWFLAKE_NODE", 1),
		Webhook: WebhookConfig{
			RazorpaySecret:           strings.TrimSpace(getenv("RAZORPAY_WEBHOOK_SECRET", "")),
			PendingSweepAfterSeconds: getenvInt("PENDING_SWEEP_AFTER_SECONDS", 900),
			MaxReplayAttempts:        getenvInt("WEBHOOK_MAX_REPLAY_ATTEMPTS", 5),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("WEBHOOK_RATE_LIMIT_ENABLED", true),
			Backend:       backend,
			Requests:      getenvInt("WEBHOOK_RATE_LIMIT_REQUESTS", 100),
			WindowSeconds: getenvInt("WEBHOOK_RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Automation: AutomationConfig{
			ChannelTokenKeys: parseKeyring(getenv("CHANNEL_TOKEN_KEYS", "")),
		},
		Scheduler: SchedulerConfig{
			Enabled:         getenvBool("SCHEDULER_ENABLED", true),
			IntervalSeconds: getenvInt("SCHEDULER_INTERVAL_SECONDS", 60),
			BatchSize:       getenvInt("SCHEDULER_BATCH_SIZE", 50),
			Jobs:            getenvList("SCHEDULER_JOBS"),
		},
		Observability: ObservabilityConfig{
			LogLevel:          getenv("LOG_LEVEL", "info"),
			LogFormat:         getenv("LOG_FORMAT", "json"),
			OtelEnabled:       getenvBool("OTEL_ENABLED", false),
			OtelProtocol:      getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
			OtelSamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
			SlowQueryMillis:   getenvInt("DATABASE_SLOW_QUERY_MS", 200),
			LogSQL:            getenvBool("DATABASE_LOG_SQL", false),
			RedactHeaders:     getenvListDefault("LOG_REDACT_HEADERS", "X-Razorpay-Signature,Authorization,Cookie"),
		},
		EntitlementConfigPath: strings.TrimSpace(getenv("ENTITLEMENT_CONFIG_PATH", "")),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvList(key string) []string {
	return splitList(os.Getenv(key))
}

func getenvListDefault(key, def string) []string {
	return splitList(getenv(key, def))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseKeyring reads "version:secret" pairs separated by commas. Malformed
// entries are skipped.
func parseKeyring(raw string) map[int]string {
	out := map[int]string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		version, secret, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(version))
		if err != nil || v <= 0 {
			continue
		}
		secret = strings.TrimSpace(secret)
		if secret == "" {
			continue
		}
		out[v] = secret
	}
	return out
}
