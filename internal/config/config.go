package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	AuthModeDevelopment = "development"
	AuthModeStandalone  = "standalone"
	AuthModeExternal    = "external"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	AuthMode          string        `mapstructure:"AUTH_MODE"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL       string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	RequireReadScopes bool          `mapstructure:"REQUIRE_READ_SCOPES"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	MigrationsDir     string        `mapstructure:"MIGRATIONS_DIR"`
	MetricsEnabled    bool          `mapstructure:"METRICS_ENABLED"`
	ShutdownTimeout   time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	BodyLimit         string        `mapstructure:"BODY_LIMIT"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
}

var envKeys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"REQUIRE_READ_SCOPES", "CORS_ORIGINS", "MIGRATIONS_DIR", "METRICS_ENABLED",
	"SHUTDOWN_TIMEOUT", "BODY_LIMIT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // inferred, see ResolvedAuthMode
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("REQUIRE_READ_SCOPES", false)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind explicitly so Unmarshal sees variables that have no default.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise:
//   - ENV=development → "development" (every request gets every scope)
//   - AUTH_ISSUER set → "external" (RS256 tokens verified against JWKS)
//   - otherwise       → "standalone" (HS256 tokens signed with AUTH_SIGNING_KEY)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthModeDevelopment
	}
	if c.AuthIssuer != "" {
		return AuthModeExternal
	}
	return AuthModeStandalone
}

// Validate refuses configurations that would run without working
// authentication outside development.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case AuthModeDevelopment:
		if c.Env == "production" {
			return fmt.Errorf("AUTH_MODE=development is not allowed with ENV=production")
		}
	case AuthModeExternal:
		if c.AuthIssuer == "" {
			return fmt.Errorf("AUTH_ISSUER must be set when AUTH_MODE is %q", AuthModeExternal)
		}
		if c.AuthAudience == "" {
			return fmt.Errorf("AUTH_AUDIENCE must be set when AUTH_MODE is %q", AuthModeExternal)
		}
	case AuthModeStandalone:
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters when AUTH_MODE is %q", AuthModeStandalone)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q, %q, or %q, got %q",
			AuthModeDevelopment, AuthModeStandalone, AuthModeExternal, mode)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout)
	}
	return nil
}
