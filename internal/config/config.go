package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Gate     GateConfig
	Audit    AuditConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string `validate:"required"`
	Env                   string `validate:"oneof=development staging production test"`
	Host                  string
	Port                  string `validate:"required,numeric"`
	Version               string
	RequestTimeoutSeconds int `validate:"gte=0"`
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int `validate:"gte=0"`
	Required      bool
	DialTimeoutMS int `validate:"gte=0"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines session token and login parameters.
type AuthConfig struct {
	// EncryptionKey is the raw AES-256 key; exactly 32 bytes.
	EncryptionKey      string `validate:"required,len=32"`
	CookieName         string `validate:"required"`
	CookieHTTPOnly     bool
	BcryptCost         int    `validate:"gte=4,lte=31"`
	FederationSecret   string `validate:"omitempty,min=32"`
	FederationIssuer   string
	LoginMaxAttempts   int `validate:"gte=0"`
	LoginWindowMinutes int `validate:"gte=0"`
}

// GateConfig configures the access gate.
type GateConfig struct {
	PolicyFile        string
	LandingPath       string `validate:"required,startswith=/"`
	InternalAPIPrefix string `validate:"required,startswith=/"`
	PublicAPIPrefixes []string
	TrustedOrigins    []string
	BlockedPrefixes   []string
	BlockedExemptions []string
}

// AuditConfig holds audit notification sinks for ban and role events.
type AuditConfig struct {
	EmailFrom  string
	WebhookURL string `validate:"omitempty,url"`
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	env := getEnv("APP_ENV", "development")

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "session-gate"),
			Env:                   env,
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:      os.Getenv("REDIS_PASSWORD"),
			DB:            redisDB,
			Required:      getEnvAsBool("REDIS_REQUIRED", false),
			DialTimeoutMS: getEnvAsInt("REDIS_DIAL_TIMEOUT_MS", 2000),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			EncryptionKey:      os.Getenv("ENCRYPTION_KEY"),
			CookieName:         getEnv("AUTH_COOKIE_NAME", "auth-token"),
			CookieHTTPOnly:     getEnvAsBool("AUTH_COOKIE_HTTP_ONLY", true),
			BcryptCost:         getEnvAsInt("AUTH_BCRYPT_COST", 12),
			FederationSecret:   os.Getenv("AUTH_FEDERATION_SECRET"),
			FederationIssuer:   getEnv("AUTH_FEDERATION_ISSUER", "oauth-bridge"),
			LoginMaxAttempts:   getEnvAsInt("AUTH_LOGIN_MAX_ATTEMPTS", 10),
			LoginWindowMinutes: getEnvAsInt("AUTH_LOGIN_WINDOW_MINUTES", 15),
		},
		Gate: GateConfig{
			PolicyFile:        os.Getenv("GATE_POLICY_FILE"),
			LandingPath:       getEnv("GATE_LANDING_PATH", "/"),
			InternalAPIPrefix: getEnv("GATE_INTERNAL_API_PREFIX", "/api/"),
			PublicAPIPrefixes: getEnvAsList("GATE_PUBLIC_API_PREFIXES", []string{
				"/api/auth/login",
				"/api/auth/logout",
				"/api/auth/me",
				"/api/auth/federated",
			}),
			TrustedOrigins:    getEnvAsList("GATE_TRUSTED_ORIGINS", nil),
			BlockedPrefixes:   getEnvAsList("GATE_BLOCKED_PREFIXES", []string{"/debug", "/test", "/programmes", "/programs"}),
			BlockedExemptions: getEnvAsList("GATE_BLOCKED_EXEMPTIONS", []string{"/test-api"}),
		},
		Audit: AuditConfig{
			EmailFrom:  getEnv("AUDIT_EMAIL_FROM", "noreply@example.com"),
			WebhookURL: getEnv("AUDIT_WEBHOOK_URL", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints. A wrong-length encryption key is rejected here
// so the process never starts with a codec that cannot work.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// Production reports whether the service runs with production settings.
func (a AppConfig) Production() bool {
	return a.Env == "production"
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// DialTimeout returns the Redis connect timeout.
func (r RedisConfig) DialTimeout() time.Duration {
	return time.Duration(r.DialTimeoutMS) * time.Millisecond
}

// LoginWindow returns the failed-login counting window.
func (a AuthConfig) LoginWindow() time.Duration {
	return time.Duration(a.LoginWindowMinutes) * time.Minute
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
