// Package config содержит логику чтения конфигурации сервиса квитанций.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса квитанций.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	BrokerURL   string `env:"BROKER_URL"`

	RenderConcurrency int `env:"RENDER_CONCURRENCY"`

	DocumentDir string `env:"DOCUMENT_DIR"`
	S3Bucket    string `env:"S3_BUCKET"`
	S3Region    string `env:"S3_REGION"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	EmailFrom    string `env:"EMAIL_FROM"`

	PayPalVerifyURL string `env:"PAYPAL_VERIFY_URL"`

	DisableCorrespondence bool   `env:"DISABLE_CORRESPONDENCE"`
	Locale                string `env:"LOCALE"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envBrokerURL := cfg.BrokerURL
	envDocumentDir := cfg.DocumentDir
	envRenderConcurrency := cfg.RenderConcurrency

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.BrokerURL, "b", "", "message broker URL (AMQP); empty for in-process transport")
	flag.StringVar(&cfg.DocumentDir, "o", "documents", "directory for generated documents")
	flag.IntVar(&cfg.RenderConcurrency, "c", 0, "maximum concurrent rendering sessions")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envBrokerURL != "" {
		cfg.BrokerURL = envBrokerURL
	}
	if envDocumentDir != "" {
		cfg.DocumentDir = envDocumentDir
	}
	if envRenderConcurrency != 0 {
		cfg.RenderConcurrency = envRenderConcurrency
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.RenderConcurrency <= 0 {
		cfg.RenderConcurrency = 3
	}
	if cfg.Locale == "" {
		cfg.Locale = "en"
	}

	return cfg, nil
}
