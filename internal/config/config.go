package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "jwt-secret", "password",
}

type Config struct {
	Port                int    `env:"PORT" envDefault:"8080"`
	StorageDriver       string `env:"STORAGE_DRIVER" envDefault:"postgres"`
	DatabaseURL         string `env:"DATABASE_URL"`
	AutoMigrate         bool   `env:"AUTO_MIGRATE" envDefault:"false"`
	RedisURL            string `env:"REDIS_URL"`
	JWTSecret           string `env:"JWT_SECRET,required"`
	JWTIssuer           string `env:"JWT_ISSUER"`
	PublicBaseURL       string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:3000"`
	FanoutConcurrency   int    `env:"FANOUT_CONCURRENCY" envDefault:"8"`
	JoinRateLimitPerMin int    `env:"JOIN_RATE_LIMIT_PER_MIN" envDefault:"30"`
	LogLevel            string `env:"LOG_LEVEL" envDefault:"info"`

	// AllowedOrigins limits which browser origins may open /realtime/ws.
	// Empty accepts any origin.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) UsesMemoryStorage() bool {
	return c.StorageDriver == StorageDriverMemory
}

func (c *Config) Validate(isProduction bool) error {
	switch c.StorageDriver {
	case StorageDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_DRIVER=%s", StorageDriverPostgres)
		}
	case StorageDriverMemory:
		if isProduction {
			return fmt.Errorf("STORAGE_DRIVER=%s is not allowed in production", StorageDriverMemory)
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	if c.FanoutConcurrency <= 0 {
		return fmt.Errorf("FANOUT_CONCURRENCY must be positive")
	}

	if isProduction {
		if err := validateSecret("JWT_SECRET", c.JWTSecret); err != nil {
			return err
		}
		if c.RedisURL == "" {
			log.Warn().Msg("REDIS_URL is empty in production: realtime events will not reach other instances")
		} else if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
