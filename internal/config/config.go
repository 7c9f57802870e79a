package config

import (
	"fmt"
	"net/textproto"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL      string        `mapstructure:"DATABASE_URL"`
	DBMaxConns       int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns       int32         `mapstructure:"DB_MIN_CONNS"`
	DBConnectRetries int           `mapstructure:"DB_CONNECT_RETRIES"`
	RedisURL         string        `mapstructure:"REDIS_URL"`
	TenantHeader     string        `mapstructure:"TENANT_HEADER"`
	TenantBaseDomain string        `mapstructure:"TENANT_BASE_DOMAIN"`
	TenantCacheTTL   time.Duration `mapstructure:"TENANT_CACHE_TTL"`
	TenantCacheSize  int           `mapstructure:"TENANT_CACHE_SIZE"`
	AdminTokenSecret string        `mapstructure:"ADMIN_TOKEN_SECRET"`
	AdminTokenIssuer string        `mapstructure:"ADMIN_TOKEN_ISSUER"`
	AdminTokenTTL    time.Duration `mapstructure:"ADMIN_TOKEN_TTL"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	MigrationsDir    string        `mapstructure:"MIGRATIONS_DIR"`
	AutoMigrate      bool          `mapstructure:"AUTO_MIGRATE"`
	ShutdownTimeout  time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit        string        `mapstructure:"BODY_LIMIT"`
	RateLimitRPS     float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int           `mapstructure:"RATE_LIMIT_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_CONNECT_RETRIES", 5)
	v.SetDefault("TENANT_HEADER", "X-Tenant-Code")
	v.SetDefault("TENANT_CACHE_TTL", "5m")
	v.SetDefault("TENANT_CACHE_SIZE", 1024)
	v.SetDefault("ADMIN_TOKEN_ISSUER", "hbys")
	v.SetDefault("ADMIN_TOKEN_TTL", "12h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("AUTO_MIGRATE", false)
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL",
		"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_CONNECT_RETRIES",
		"REDIS_URL",
		"TENANT_HEADER", "TENANT_BASE_DOMAIN", "TENANT_CACHE_TTL", "TENANT_CACHE_SIZE",
		"ADMIN_TOKEN_SECRET", "ADMIN_TOKEN_ISSUER", "ADMIN_TOKEN_TTL",
		"CORS_ORIGINS", "MIGRATIONS_DIR", "AUTO_MIGRATE", "SHUTDOWN_TIMEOUT",
		"REQUEST_TIMEOUT", "BODY_LIMIT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}
	cfg.TenantHeader = textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(cfg.TenantHeader))
	cfg.TenantBaseDomain = strings.ToLower(strings.Trim(cfg.TenantBaseDomain, ". "))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
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

// Validate checks that the configuration is safe to run. Outside development
// the administrative surface must be protected by a signing secret of at
// least 32 bytes.
func (c *Config) Validate() error {
	if c.Env != "development" && c.Env != "test" && c.Env != "production" {
		return fmt.Errorf("ENV must be \"development\", \"test\" or \"production\", got %q", c.Env)
	}
	if !c.IsDev() && c.AdminTokenSecret == "" {
		return fmt.Errorf("ADMIN_TOKEN_SECRET is required when ENV=%q", c.Env)
	}
	if c.AdminTokenSecret != "" && len(c.AdminTokenSecret) < 32 {
		return fmt.Errorf("ADMIN_TOKEN_SECRET must be at least 32 bytes, got %d", len(c.AdminTokenSecret))
	}
	if c.TenantHeader == "" {
		return fmt.Errorf("TENANT_HEADER must not be empty")
	}
	if c.TenantCacheTTL < 0 {
		return fmt.Errorf("TENANT_CACHE_TTL must not be negative")
	}
	if c.TenantCacheSize <= 0 {
		return fmt.Errorf("TENANT_CACHE_SIZE must be positive, got %d", c.TenantCacheSize)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
