package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

var AppEnv Config

type Config struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	MongoURI        string        `env:"MONGO_URI"`
	DBName          string        `env:"DB_NAME" envDefault:"storefront"`
	JWTSecret       string        `env:"JWT_SECRET"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"20m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`

	// Pricing is server-side configuration; clients never send these values.
	TaxRate       decimal.Decimal `env:"TAX_RATE" envDefault:"0.15"`
	ShippingPrice decimal.Decimal `env:"SHIPPING_PRICE" envDefault:"10.00"`
	Currency      string          `env:"CURRENCY" envDefault:"usd"`

	TxMaxAttempts int `env:"TX_MAX_ATTEMPTS" envDefault:"5"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	SMTPHost      string `env:"SMTP_HOST"`
	SMTPPort      int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser      string `env:"SMTP_USER"`
	SMTPPassword  string `env:"SMTP_PASSWORD"`
	SMTPFrom      string `env:"SMTP_FROM" envDefault:"orders@storefront.local"`
	NotifyWorkers int    `env:"NOTIFY_WORKERS" envDefault:"8"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"storefront.orders"`

	PendingOrderTTL time.Duration `env:"PENDING_ORDER_TTL" envDefault:"0"`
	SweepSchedule   string        `env:"SWEEP_SCHEDULE" envDefault:"@every 5m"`

	CheckoutRatePerMin int `env:"CHECKOUT_RATE_PER_MIN" envDefault:"30"`

	LogMode  string `env:"LOG_MODE" envDefault:"production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`
}

func Load() error {
	if err := godotenv.Load(); err != nil {
		log.Println(".env not loaded:", err)
	}

	cfg, err := Parse()
	if err != nil {
		return err
	}
	AppEnv = cfg
	return nil
}

// Parse reads the process environment without touching .env files.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.Currency = strings.ToLower(strings.TrimSpace(cfg.Currency))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.MongoURI) == "" {
		errs = append(errs, errors.New("MONGO_URI is required"))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.TaxRate.IsNegative() {
		errs = append(errs, errors.New("TAX_RATE must not be negative"))
	}
	if c.ShippingPrice.IsNegative() {
		errs = append(errs, errors.New("SHIPPING_PRICE must not be negative"))
	}
	if len(c.Currency) != 3 {
		errs = append(errs, errors.New("CURRENCY must be a 3-letter ISO code"))
	}
	if c.TxMaxAttempts < 1 {
		errs = append(errs, errors.New("TX_MAX_ATTEMPTS must be at least 1"))
	}
	if c.NotifyWorkers < 1 {
		errs = append(errs, errors.New("NOTIFY_WORKERS must be at least 1"))
	}
	if c.PendingOrderTTL < 0 {
		errs = append(errs, errors.New("PENDING_ORDER_TTL must not be negative"))
	}
	return errors.Join(errs...)
}
