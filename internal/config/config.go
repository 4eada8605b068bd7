// Package config содержит логику чтения конфигурации сервиса boosthub.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса boosthub.
type Config struct {
	RunAddress       string        `env:"RUN_ADDRESS"`
	DatabaseURI      string        `env:"DATABASE_URI"`
	MercadoPagoToken string        `env:"MERCADOPAGO_ACCESS_TOKEN"`
	PixWebhookSecret string        `env:"PIX_WEBHOOK_SECRET"`
	AuthSecret       string        `env:"AUTH_SECRET"`
	NotificationURL  string        `env:"NOTIFICATION_URL"`
	SyncInterval     time.Duration `env:"SYNC_INTERVAL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envMPToken := cfg.MercadoPagoToken
	envPixSecret := cfg.PixWebhookSecret
	envAuthSecret := cfg.AuthSecret
	envNotificationURL := cfg.NotificationURL
	envSyncInterval := cfg.SyncInterval

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.MercadoPagoToken, "m", "", "Mercado Pago access token")
	flag.StringVar(&cfg.PixWebhookSecret, "p", "", "Pix gateway webhook secret")
	flag.StringVar(&cfg.AuthSecret, "s", "", "auth cookie secret")
	flag.StringVar(&cfg.NotificationURL, "n", "", "public webhook URL for checkout notifications")
	flag.DurationVar(&cfg.SyncInterval, "i", 30*time.Second, "order status sync interval")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envMPToken != "" {
		cfg.MercadoPagoToken = envMPToken
	}
	if envPixSecret != "" {
		cfg.PixWebhookSecret = envPixSecret
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envNotificationURL != "" {
		cfg.NotificationURL = envNotificationURL
	}
	if envSyncInterval != 0 {
		cfg.SyncInterval = envSyncInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 30 * time.Second
	}

	return cfg, nil
}
