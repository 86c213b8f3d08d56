package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const PROD_STRING = "prod"

// Config holds all application configuration loaded from environment.
type Config struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	ProdOrigins string `envconfig:"PROD_ORIGINS"`
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`
	DBDSN       string `envconfig:"DB_DSN" required:"true"`

	JWTSecret         string        `envconfig:"JWT_SECRET" required:"true"`
	JWTAccessTokenTTL time.Duration `envconfig:"JWT_ACCESS_TOKEN_TTL" default:"15m"`

	LogEngine string `envconfig:"LOG_ENGINE" default:"slog"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// Booking policy
	PlatformFeePercent int64         `envconfig:"PLATFORM_FEE_PERCENT" default:"15"`
	MinPrice           int64         `envconfig:"BOOKING_MIN_PRICE" default:"10000"`
	MaxPrice           int64         `envconfig:"BOOKING_MAX_PRICE" default:"10000000"`
	MaxPendingBookings int           `envconfig:"BOOKING_MAX_PENDING" default:"5"`
	SweepInterval      time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	SessionGrace       time.Duration `envconfig:"SESSION_GRACE" default:"30m"`

	// Payment
	Gateway          string        `envconfig:"GATEWAY" default:"sandbox"`
	OmisePublicKey   string        `envconfig:"OMISE_PUBLIC_KEY"`
	OmiseSecretKey   string        `envconfig:"OMISE_SECRET_KEY"`
	PaymentCurrency  string        `envconfig:"PAYMENT_CURRENCY" default:"thb"`
	PaymentReturnURL string        `envconfig:"PAYMENT_RETURN_URL" default:"http://localhost:3000/payments/return"`
	WebhookSecret    string        `envconfig:"WEBHOOK_SECRET"`
	OrderTTL         time.Duration `envconfig:"ORDER_TTL" default:"30m"`

	// Notifications
	RabbitURL           string `envconfig:"RABBIT_URL"`
	NotifyExchange      string `envconfig:"NOTIFY_EXCHANGE" default:"booking.exchange"`
	TelegramBotToken    string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramAdminChatID int64  `envconfig:"TELEGRAM_ADMIN_CHAT_ID"`
}

// IsProduction reports whether the application runs with APP_ENV=prod.
func (c *Config) IsProduction() bool {
	return c.AppEnv == PROD_STRING
}

// Load loads configuration from .env (optional) and environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Printf("failed to load .env file: %v", err)
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	// envconfig accepts variables that are set but empty
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.PlatformFeePercent < 0 || c.PlatformFeePercent > 100 {
		return fmt.Errorf("PLATFORM_FEE_PERCENT must be within 0..100, got %d", c.PlatformFeePercent)
	}
	if c.MinPrice <= 0 || c.MaxPrice < c.MinPrice {
		return fmt.Errorf("invalid price bounds: min=%d max=%d", c.MinPrice, c.MaxPrice)
	}
	if c.MaxPendingBookings < 1 {
		return fmt.Errorf("BOOKING_MAX_PENDING must be positive")
	}
	switch c.Gateway {
	case "sandbox":
	case "omise":
		if c.OmisePublicKey == "" || c.OmiseSecretKey == "" {
			return fmt.Errorf("OMISE_PUBLIC_KEY and OMISE_SECRET_KEY are required for GATEWAY=omise")
		}
	default:
		return fmt.Errorf("unsupported GATEWAY %q", c.Gateway)
	}
	return nil
}
