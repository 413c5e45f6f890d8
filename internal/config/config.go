package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the process configuration loaded from the environment.
type Config struct {
	Environment string
	HTTPAddr    string
	DatabaseURL string

	Stripe StripeConfig
	Payme  PaymeConfig
	Click  ClickConfig

	Bootstrap     BootstrapConfig
	Scheduler     SchedulerConfig
	Observability ObservabilityConfig
}

// StripeConfig configures the card network adapter.
type StripeConfig struct {
	SecretKey          string
	WebhookSecret      string
	BaseURL            string
	Timeout            time.Duration
	SignatureTolerance time.Duration
}

// PaymeConfig configures the Payme adapter.
type PaymeConfig struct {
	MerchantID string
	SecretKey  string
	BaseURL    string
	Timeout    time.Duration
}

// ClickConfig configures the Click adapter.
type ClickConfig struct {
	MerchantID string
	ServiceID  string
	SecretKey  string
	BaseURL    string
	Timeout    time.Duration
}

// BootstrapConfig controls optional startup seeding.
type BootstrapConfig struct {
	SeedDemoData bool
}

// SchedulerConfig controls the background period sweeper.
type SchedulerConfig struct {
	Enabled     bool
	Interval    time.Duration
	BatchSize   int
	GracePeriod time.Duration
}

// ObservabilityConfig configures tracing export. Disabled by default; the
// noop provider keeps instrumented paths free when off.
type ObservabilityConfig struct {
	TracingEnabled   bool
	ExporterEndpoint string
	ExporterProtocol string
	SamplingRatio    float64
}

var (
	ErrMissingDatabaseURL = errors.New("missing_database_url")
)

// Load reads the configuration from the environment, optionally loading a
// local .env file first.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment: getEnv("APP_ENV", "development"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		Stripe: StripeConfig{
			SecretKey:          os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret:      os.Getenv("STRIPE_WEBHOOK_SECRET"),
			BaseURL:            getEnv("STRIPE_BASE_URL", "https://api.stripe.com"),
			Timeout:            getDuration("STRIPE_TIMEOUT", 15*time.Second),
			SignatureTolerance: getDuration("STRIPE_SIGNATURE_TOLERANCE", 5*time.Minute),
		},
		Payme: PaymeConfig{
			MerchantID: os.Getenv("PAYME_MERCHANT_ID"),
			SecretKey:  os.Getenv("PAYME_SECRET_KEY"),
			BaseURL:    getEnv("PAYME_BASE_URL", "https://checkout.paycom.uz/api"),
			Timeout:    getDuration("PAYME_TIMEOUT", 15*time.Second),
		},
		Click: ClickConfig{
			MerchantID: os.Getenv("CLICK_MERCHANT_ID"),
			ServiceID:  os.Getenv("CLICK_SERVICE_ID"),
			SecretKey:  os.Getenv("CLICK_SECRET_KEY"),
			BaseURL:    getEnv("CLICK_BASE_URL", "https://api.click.uz/v2"),
			Timeout:    getDuration("CLICK_TIMEOUT", 15*time.Second),
		},
		Bootstrap: BootstrapConfig{
			SeedDemoData: getBool("BOOTSTRAP_SEED_DEMO_DATA", false),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getBool("SCHEDULER_ENABLED", true),
			Interval:    getDuration("SCHEDULER_INTERVAL", time.Minute),
			BatchSize:   getInt("SCHEDULER_BATCH_SIZE", 100),
			GracePeriod: getDuration("SCHEDULER_GRACE_PERIOD", 72*time.Hour),
		},
		Observability: ObservabilityConfig{
			TracingEnabled:   getBool("OTEL_TRACING_ENABLED", false),
			ExporterEndpoint: strings.TrimSpace(os.Getenv("OTEL_EXPORTER_ENDPOINT")),
			ExporterProtocol: getEnv("OTEL_EXPORTER_PROTOCOL", "grpc"),
			SamplingRatio:    getFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants the process cannot start without.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	return nil
}

// IsProduction reports whether the process runs with production settings.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
