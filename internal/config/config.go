package config

import (
	"fmt"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	JWTSecret   string `env:"JWT_SECRET,required"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`

	MPBaseURL         string `env:"MP_BASE_URL" envDefault:"https://api.mercadopago.com"`
	MPAccessTokenLive string `env:"MP_ACCESS_TOKEN_LIVE"`
	MPAccessTokenTest string `env:"MP_ACCESS_TOKEN_TEST"`
	MPWebhookURL      string `env:"MP_WEBHOOK_URL"`

	PixExpiryMinutes int `env:"PIX_EXPIRY_MINUTES" envDefault:"15"`

	WebhookStaleAfterMinutes int    `env:"WEBHOOK_STALE_AFTER_MINUTES" envDefault:"30"`
	MaintenanceBatchSize     int    `env:"MAINTENANCE_BATCH_SIZE" envDefault:"200"`
	WebhookCleanupSchedule   string `env:"WEBHOOK_CLEANUP_SCHEDULE" envDefault:"@every 2m"`
	ReceiptBackfillSchedule  string `env:"RECEIPT_BACKFILL_SCHEDULE" envDefault:"@every 3m"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// MPAccessToken prefers the live credential and falls back to the test one.
func (c *Config) MPAccessToken() string {
	if c.MPAccessTokenLive != "" {
		return c.MPAccessTokenLive
	}
	return c.MPAccessTokenTest
}
