package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Auth modes understood by the server.
const (
	AuthModeDevelopment = "development"
	AuthModeStandalone  = "standalone"
	AuthModeExternal    = "external"
	AuthModeFirebase    = "firebase"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	LogLevel             string        `mapstructure:"LOG_LEVEL"`
	AuthMode             string        `mapstructure:"AUTH_MODE"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir        string        `mapstructure:"MIGRATIONS_DIR"`
	RedisURL             string        `mapstructure:"REDIS_URL"`
	CacheTTL             time.Duration `mapstructure:"CACHE_TTL"`
	AuthIssuer           string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL          string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience         string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey       string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthTokenTTL         time.Duration `mapstructure:"AUTH_TOKEN_TTL"`
	FirebaseProjectID    string        `mapstructure:"FIREBASE_PROJECT_ID"`
	FirebaseCredentials  string        `mapstructure:"FIREBASE_CREDENTIALS_FILE"`
	DefaultTenant        string        `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS         float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst       int           `mapstructure:"RATE_LIMIT_BURST"`
	FollowUpReminderCron string        `mapstructure:"FOLLOWUP_REMINDER_CRON"`
	MetricsEnabled       bool          `mapstructure:"METRICS_ENABLED"`
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL", "AUTH_MODE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"REDIS_URL", "CACHE_TTL",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "AUTH_TOKEN_TTL",
	"FIREBASE_PROJECT_ID", "FIREBASE_CREDENTIALS_FILE",
	"DEFAULT_TENANT", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"FOLLOWUP_REMINDER_CRON", "METRICS_ENABLED",
}

func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("AUTH_MODE", "") // inferred, see ResolvedAuthMode
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CACHE_TTL", "60s")
	v.SetDefault("AUTH_TOKEN_TTL", "12h")
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("FOLLOWUP_REMINDER_CRON", "0 8 * * *")
	v.SetDefault("METRICS_ENABLED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.ResolvedAuthMode() == AuthModeDevelopment {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running with AUTH_MODE=development.")
		log.Println("WARNING: Requests without a token get admin access.")
		log.Println("WARNING: Set ENV=production and configure an auth mode for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development        → "development" (no token needed, admin identity)
//   - FIREBASE_PROJECT_ID set → "firebase" (Firebase Authentication ID tokens)
//   - AUTH_ISSUER set         → "external" (JWKS-validated tokens)
//   - Otherwise               → "standalone" (local accounts, HS256 tokens)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthModeDevelopment
	}
	if c.FirebaseProjectID != "" {
		return AuthModeFirebase
	}
	if c.AuthIssuer != "" {
		return AuthModeExternal
	}
	return AuthModeStandalone
}

// SigningKey decodes AUTH_SIGNING_KEY. Callers should run Validate first.
func (c *Config) SigningKey() []byte {
	key, _ := hex.DecodeString(c.AuthSigningKey)
	return key
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	switch mode {
	case AuthModeDevelopment:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed when ENV=production")
		}
	case AuthModeExternal:
		if c.AuthIssuer == "" {
			return fmt.Errorf(
				"AUTH_ISSUER must be set when AUTH_MODE is \"external\" (current ENV=%q)", c.Env)
		}
	case AuthModeFirebase:
		if c.FirebaseProjectID == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID must be set when AUTH_MODE is \"firebase\"")
		}
	case AuthModeStandalone:
		if c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY is required when AUTH_MODE is \"standalone\"")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be one of development, standalone, external, firebase; got %q", mode)
	}

	if c.AuthSigningKey != "" {
		keyBytes, err := hex.DecodeString(c.AuthSigningKey)
		if err != nil {
			return fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}

	if c.AuthTokenTTL <= 0 {
		return fmt.Errorf("AUTH_TOKEN_TTL must be positive")
	}

	return nil
}
