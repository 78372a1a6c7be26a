package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port             int    `env:"PORT" envDefault:"2121"`
	DatabaseURL      string `env:"DATABASE_URL,required,notEmpty"`     // whatsmeow device store
	AppDatabaseURL   string `env:"APP_DATABASE_URL,required,notEmpty"` // customers, audit, session metadata
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	CORSAllowOrigins string `env:"CORS_ALLOW_ORIGINS"`
	DeviceName       string `env:"DEVICE_NAME" envDefault:"SUDEVWA Dispatch"`

	RateLimitPerSecond     int    `env:"RATE_LIMIT_PER_SECOND" envDefault:"10"`
	RateLimitBurst         int    `env:"RATE_LIMIT_BURST" envDefault:"10"`
	RateLimitWindowMinutes int    `env:"RATE_LIMIT_WINDOW_MINUTES" envDefault:"3"`
	PhoneCountryCode       string `env:"PHONE_COUNTRY_CODE" envDefault:"972"`
	OperatorPhone          string `env:"OPERATOR_PHONE"`

	ReconnectMaxRetries int           `env:"RECONNECT_MAX_RETRIES" envDefault:"5"`
	SettleDelay         time.Duration `env:"SETTLE_DELAY" envDefault:"2s"`
	ReadyCheckInterval  time.Duration `env:"READY_CHECK_INTERVAL" envDefault:"1s"`
	ReadyCheckAttempts  int           `env:"READY_CHECK_ATTEMPTS" envDefault:"10"`
	HealthSweepInterval time.Duration `env:"HEALTH_SWEEP_INTERVAL" envDefault:"5s"`
	KeepAliveInterval   time.Duration `env:"KEEPALIVE_INTERVAL" envDefault:"5m"`

	SendTimeout  time.Duration `env:"SEND_TIMEOUT" envDefault:"30s"`
	VariantDelay time.Duration `env:"VARIANT_DELAY" envDefault:"1s"`
	JobRetention time.Duration `env:"JOB_RETENTION" envDefault:"1h"`

	WebhookURL     string        `env:"WEBHOOK_URL"`
	WebhookSecret  string        `env:"WEBHOOK_SECRET"`
	WebhookEvents  []string      `env:"WEBHOOK_EVENTS" envSeparator:","`
	WebhookTimeout time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"5s"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// AllowOrigins splits CORS_ALLOW_ORIGINS on commas.
func (c *Config) AllowOrigins() []string {
	if strings.TrimSpace(c.CORSAllowOrigins) == "" {
		return nil
	}
	origins := strings.Split(c.CORSAllowOrigins, ",")
	for i, o := range origins {
		origins[i] = strings.TrimSpace(o)
	}
	return origins
}

func (c *Config) Validate() error {
	if c.ReconnectMaxRetries < 1 {
		return fmt.Errorf("RECONNECT_MAX_RETRIES must be at least 1")
	}
	if c.ReadyCheckAttempts < 1 {
		return fmt.Errorf("READY_CHECK_ATTEMPTS must be at least 1")
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("SEND_TIMEOUT must be positive")
	}
	if c.PhoneCountryCode == "" || strings.Trim(c.PhoneCountryCode, "0123456789") != "" {
		return fmt.Errorf("PHONE_COUNTRY_CODE must be digits only")
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
