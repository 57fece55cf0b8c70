// Package config handles loading and managing application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server configuration
	Server ServerConfig

	// Order store configuration
	Store StoreConfig

	// Mercado Pago configuration
	MercadoPago MercadoPagoConfig

	// Checkout redirect and notification URLs
	Checkout CheckoutConfig

	// Status change fan-out
	Kafka   KafkaConfig
	Backend BackendConfig

	// Resilience settings
	Breaker BreakerConfig
	Retry   RetryConfig

	Log LogConfig

	// Warnings lists env values that were present but unparsable and fell
	// back to their defaults. Load has no logger yet, so main logs them.
	Warnings []string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port          string
	GinMode       string // "debug", "release", or "test"
	ServiceAPIKey string // Bearer token expected from catalog/booking services
}

// StoreConfig selects and configures the order store.
type StoreConfig struct {
	Driver      string // "postgres" or "memory"
	DatabaseURL string
	MaxConns    int
	Migrate     bool
}

// MercadoPagoConfig holds processor credentials and call settings.
type MercadoPagoConfig struct {
	AccessToken        string
	WebhookSecret      string
	Currency           string
	Timeout            time.Duration
	Sandbox            bool
	PreferenceCacheCap int
}

// CheckoutConfig holds the URLs sent with every preference.
type CheckoutConfig struct {
	SuccessURL      string
	FailureURL      string
	PendingURL      string
	NotificationURL string
}

// KafkaConfig enables the Kafka status notifier when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// BackendConfig enables the HTTP status callback when BaseURL is set.
type BackendConfig struct {
	BaseURL string
	APIKey  string
}

// BreakerConfig configures the gateway circuit breaker.
type BreakerConfig struct {
	Threshold   uint32
	OpenTimeout time.Duration
	MaxHalfOpen uint32
}

// RetryConfig configures notifier retries.
type RetryConfig struct {
	Attempts     int
	Base         time.Duration
	Max          time.Duration
	JitterFactor float64
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string
	Development bool
}

// Load reads configuration from environment variables, after loading
// a .env file when one is present.
func Load() *Config {
	_ = godotenv.Load(".env")

	r := &envReader{}
	cfg := &Config{
		Server: ServerConfig{
			Port:          getEnv("PORT", "8080"),
			GinMode:       getEnv("GIN_MODE", "debug"),
			ServiceAPIKey: getEnv("SERVICE_API_KEY", ""),
		},
		Store: StoreConfig{
			Driver:      getEnv("STORE_DRIVER", "postgres"),
			DatabaseURL: getEnv("DATABASE_URL", ""),
			MaxConns:    r.getEnvInt("DB_MAX_CONNS", 10),
			Migrate:     r.getEnvBool("DB_MIGRATE", true),
		},
		MercadoPago: MercadoPagoConfig{
			AccessToken:        getEnv("MP_ACCESS_TOKEN", ""),
			WebhookSecret:      getEnv("MP_WEBHOOK_SECRET", ""),
			Currency:           getEnv("MP_CURRENCY", "ARS"),
			Timeout:            r.getEnvDuration("MP_TIMEOUT", 10*time.Second),
			Sandbox:            r.getEnvBool("MP_SANDBOX", false),
			PreferenceCacheCap: r.getEnvInt("PREFERENCE_CACHE_SIZE", 1024),
		},
		Checkout: CheckoutConfig{
			SuccessURL:      getEnv("CHECKOUT_SUCCESS_URL", "https://lumiere.beauty/payment/success"),
			FailureURL:      getEnv("CHECKOUT_FAILURE_URL", "https://lumiere.beauty/payment/failure"),
			PendingURL:      getEnv("CHECKOUT_PENDING_URL", "https://lumiere.beauty/payment/pending"),
			NotificationURL: getEnv("NOTIFICATION_URL", ""),
		},
		Kafka: KafkaConfig{
			Brokers: splitCSV(getEnv("KAFKA_BROKERS", "")),
			Topic:   getEnv("KAFKA_TOPIC", "payment-order-status"),
		},
		Backend: BackendConfig{
			BaseURL: strings.TrimRight(getEnv("BACKEND_URL", ""), "/"),
			APIKey:  getEnv("BACKEND_API_KEY", ""),
		},
		Breaker: BreakerConfig{
			Threshold:   uint32(r.getEnvInt("BREAKER_THRESHOLD", 5)),
			OpenTimeout: r.getEnvDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),
			MaxHalfOpen: uint32(r.getEnvInt("BREAKER_MAX_HALF_OPEN", 1)),
		},
		Retry: RetryConfig{
			Attempts:     r.getEnvInt("NOTIFY_RETRY_ATTEMPTS", 3),
			Base:         r.getEnvDuration("NOTIFY_RETRY_BASE", 200*time.Millisecond),
			Max:          r.getEnvDuration("NOTIFY_RETRY_MAX", 2*time.Second),
			JitterFactor: r.getEnvFloat("NOTIFY_RETRY_JITTER", 0.3),
		},
		Log: LogConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: r.getEnvBool("LOG_DEV", false),
		},
	}
	cfg.Warnings = r.warnings
	return cfg
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	var missing []string
	if c.MercadoPago.AccessToken == "" {
		missing = append(missing, "MP_ACCESS_TOKEN")
	}
	if c.Checkout.NotificationURL == "" {
		missing = append(missing, "NOTIFICATION_URL")
	}
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case "memory":
	default:
		return &invalidEnvError{Key: "STORE_DRIVER", Value: c.Store.Driver}
	}
	if len(missing) > 0 {
		return &missingEnvError{Keys: missing}
	}
	return nil
}

type missingEnvError struct{ Keys []string }

func (e *missingEnvError) Error() string {
	return "missing required envs: " + strings.Join(e.Keys, ", ")
}

type invalidEnvError struct{ Key, Value string }

func (e *invalidEnvError) Error() string {
	return "invalid value for " + e.Key + ": " + strconv.Quote(e.Value)
}

// getEnv retrieves an environment variable with a fallback default value.
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// envReader parses typed env values and records the ones it had to reject.
type envReader struct {
	warnings []string
}

func (r *envReader) warn(key, value string, defaultValue any) {
	r.warnings = append(r.warnings, fmt.Sprintf("invalid %s=%q, using default %v", key, value, defaultValue))
}

// getEnvInt retrieves an environment variable as an integer with a fallback.
func (r *envReader) getEnvInt(key string, defaultValue int) int {
	if value := getEnv(key, ""); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		r.warn(key, value, defaultValue)
	}
	return defaultValue
}

// getEnvBool retrieves an environment variable as a boolean with a fallback.
func (r *envReader) getEnvBool(key string, defaultValue bool) bool {
	if value := getEnv(key, ""); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
		r.warn(key, value, defaultValue)
	}
	return defaultValue
}

func (r *envReader) getEnvFloat(key string, defaultValue float64) float64 {
	if value := getEnv(key, ""); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		r.warn(key, value, defaultValue)
	}
	return defaultValue
}

// getEnvDuration supports either plain integer milliseconds ("1500") or
// Go duration strings ("1.5s", "250ms", "2m").
func (r *envReader) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.warn(key, value, defaultValue)
		return defaultValue
	}
	return d
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
