package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env           string
	LogLevel      string
	Port          uint16
	DatabaseUrl   string
	RedisURL      string
	EncryptionKey string // Base64-encoded 32-byte key for sealing persisted checkout progress
	HTTP          HTTPConfig
	Commerce      CommerceConfig
	Checkout      CheckoutConfig
	Storage       StorageConfig
	Stripe        StripeConfig
	Local         LocalBackendConfig
	Sentry        SentryConfig
	NATS          NATSConfig
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	// AllowedOrigins are the host pages allowed to call the API. "*" allows any.
	AllowedOrigins []string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

// CommerceConfig selects and configures the commerce backend.
type CommerceConfig struct {
	// Backend is "http" for a remote commerce API or "local" for the
	// in-process backend used in development.
	Backend string
	BaseURL string
	Timeout time.Duration
}

// CheckoutConfig holds checkout flow settings.
type CheckoutConfig struct {
	// RevalidateInterval is how often applied discounts are revalidated
	// while a checkout is open and not submitting.
	RevalidateInterval time.Duration
	SuccessURL         string
	CancelURL          string
	Locale             string
	// IdleTimeout closes orchestrators that have not been touched for this long.
	IdleTimeout time.Duration
}

// StorageConfig selects where checkout progress is persisted.
type StorageConfig struct {
	Provider      string // "memory", "local", "redis", "postgres" or "r2"
	LocalPath     string
	TTL           time.Duration
	R2AccountID   string
	R2AccessKeyID string
	R2SecretKey   string
	R2BucketName  string
	R2Prefix      string
}

type StripeConfig struct {
	SecretKey      string
	PublishableKey string
}

// LocalBackendConfig configures the in-process commerce backend.
type LocalBackendConfig struct {
	Currency string
	TaxRate  float64 // e.g. 0.21 for 21%
	// TaxProvider is "percentage" (TaxRate), "stripe" (Stripe Tax) or "none".
	TaxProvider string
	// DiscountsFile optionally seeds discount definitions from a JSON file.
	DiscountsFile string
	// PaymentProvider is "stripe" or "mock".
	PaymentProvider string
	// SeedDemo creates a sample checkout at startup and logs its ID and
	// client secret.
	SeedDemo bool
}

// SentryConfig holds configuration for Sentry error tracking
type SentryConfig struct {
	DSN              string
	Enabled          bool
	Environment      string
	Release          string
	SampleRate       float64
	TracesSampleRate float64
	Debug            bool
}

// NATSConfig configures checkout lifecycle event publishing.
// Publishing is disabled when URL is empty.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

func NewConfig() (*Config, error) {
	// Try to load .env from current directory, then walk up to find it (max 2 levels)
	err := godotenv.Load()
	if err != nil {
		dir, _ := os.Getwd()
		found := false
		for i := 0; i < 2; i++ {
			dir = filepath.Join(dir, "..")
			if err := godotenv.Load(filepath.Join(dir, ".env")); err == nil {
				found = true
				break
			}
		}
		if !found {
			slog.Default().Warn("Warning: .env file not found, using environment variables and defaults")
		}
	}

	cfg := &Config{
		Env:           getEnv("ENV", "dev"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Port:          getEnvInt("PORT", 3000),
		DatabaseUrl:   getEnv("DATABASE_URL", ""),
		RedisURL:      getEnv("REDIS_URL", ""),
		EncryptionKey: getEnv("STATE_ENCRYPTION_KEY", ""),
		HTTP: HTTPConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
			MaxBodyBytes:   getEnvInt64("MAX_BODY_BYTES", 64*1024),
		},
		Commerce: CommerceConfig{
			Backend: getEnv("COMMERCE_BACKEND", "local"),
			BaseURL: getEnv("COMMERCE_BASE_URL", ""),
			Timeout: getEnvDuration("COMMERCE_TIMEOUT", 15*time.Second),
		},
		Checkout: CheckoutConfig{
			RevalidateInterval: getEnvDuration("REVALIDATE_INTERVAL", 5*time.Second),
			SuccessURL:         getEnv("SUCCESS_URL", "http://localhost:3000/checkout/success"),
			CancelURL:          getEnv("CANCEL_URL", "http://localhost:3000/cart"),
			Locale:             getEnv("CHECKOUT_LOCALE", "en"),
			IdleTimeout:        getEnvDuration("CHECKOUT_IDLE_TIMEOUT", 30*time.Minute),
		},
		Storage: StorageConfig{
			Provider:      getEnv("STATE_STORAGE", "memory"),
			LocalPath:     getEnv("STATE_DIR", "./data/checkout-state"),
			TTL:           getEnvDuration("STATE_TTL", 7*24*time.Hour),
			R2AccountID:   getEnv("R2_ACCOUNT_ID", ""),
			R2AccessKeyID: getEnv("R2_ACCESS_KEY_ID", ""),
			R2SecretKey:   getEnv("R2_SECRET_ACCESS_KEY", ""),
			R2BucketName:  getEnv("R2_BUCKET_NAME", ""),
			R2Prefix:      getEnv("R2_PREFIX", "checkout-state/"),
		},
		Stripe: StripeConfig{
			SecretKey:      getEnv("STRIPE_SECRET_KEY", "sk_test_your_key_here"),
			PublishableKey: getEnv("STRIPE_PUBLISHABLE_KEY", "pk_test_your_key_here"),
		},
		Local: LocalBackendConfig{
			Currency:        getEnv("LOCAL_CURRENCY", "usd"),
			TaxRate:         getEnvFloat("LOCAL_TAX_RATE", 0.0),
			TaxProvider:     getEnv("LOCAL_TAX_PROVIDER", "percentage"),
			DiscountsFile:   getEnv("LOCAL_DISCOUNTS_FILE", ""),
			PaymentProvider: getEnv("LOCAL_PAYMENT_PROVIDER", "mock"),
			SeedDemo:        getEnvBool("LOCAL_SEED_DEMO", true),
		},
		Sentry: SentryConfig{
			DSN:              getEnv("SENTRY_DSN", ""),
			Enabled:          getEnvBool("SENTRY_ENABLED", false), // Disabled by default for development
			Environment:      getEnv("SENTRY_ENVIRONMENT", "development"),
			Release:          getEnv("SENTRY_RELEASE", ""),
			SampleRate:       getEnvFloat("SENTRY_SAMPLE_RATE", 1.0),
			TracesSampleRate: getEnvFloat("SENTRY_TRACES_SAMPLE_RATE", 0.0),
			Debug:            getEnvBool("SENTRY_DEBUG", false),
		},
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", ""),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "checkout"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	validEnv := cfg.Env == "dev" || cfg.Env == "prod"
	if !validEnv {
		slog.Default().Warn("Invalid environment. Using default: prod", slog.String("env", cfg.Env))
		cfg.Env = "prod"
	}

	validLevel := cfg.LogLevel == "info" || cfg.LogLevel == "debug" || cfg.LogLevel == "warn" || cfg.LogLevel == "error"
	if !validLevel {
		slog.Default().Warn("Invalid log level. Using default: info", slog.String("value", cfg.LogLevel))
		cfg.LogLevel = "info"
	}

	switch cfg.Commerce.Backend {
	case "local":
	case "http":
		if cfg.Commerce.BaseURL == "" {
			return fmt.Errorf("COMMERCE_BASE_URL required when COMMERCE_BACKEND=http")
		}
	default:
		return fmt.Errorf("unknown COMMERCE_BACKEND: %q", cfg.Commerce.Backend)
	}

	if cfg.Checkout.RevalidateInterval <= 0 {
		return fmt.Errorf("REVALIDATE_INTERVAL must be positive")
	}

	switch cfg.Storage.Provider {
	case "redis":
		if cfg.RedisURL == "" {
			return fmt.Errorf("REDIS_URL required when STATE_STORAGE=redis")
		}
	case "postgres":
		if cfg.DatabaseUrl == "" {
			return fmt.Errorf("DATABASE_URL required when STATE_STORAGE=postgres")
		}
	}

	// Form progress holds customer contact details
	if cfg.Env == "prod" && cfg.Storage.Provider != "memory" && cfg.EncryptionKey == "" {
		return fmt.Errorf("STATE_ENCRYPTION_KEY must be set in production when persisting checkout state")
	}

	usesStripe := cfg.Local.PaymentProvider == "stripe" || cfg.Local.TaxProvider == "stripe"
	if cfg.Commerce.Backend == "local" && usesStripe && !strings.HasPrefix(cfg.Stripe.SecretKey, "sk_") {
		return fmt.Errorf("STRIPE_SECRET_KEY must be set when the local backend uses Stripe")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue uint16) uint16 {
	if value := os.Getenv(key); value != "" {
		var intValue uint16
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		var intValue int64
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var floatValue float64
		if _, err := fmt.Sscanf(value, "%f", &floatValue); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvDuration accepts Go duration strings ("5s", "1m30s").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Default().Warn("Invalid duration. Using default", slog.String("key", key), slog.String("value", value))
	}
	return defaultValue
}
