package config

import (
	"os"
	"strconv"
	"time"
)

// Config is resolved once from the environment in main and passed down
// explicitly; nothing in the tree reads os.Getenv after startup.
type Config struct {
	ServiceName string
	Env         string
	Addr        string

	// Payment gateway.
	GatewayMode    string // "http" or "fake"
	GatewayBaseURL string
	GatewayAPIKey  string
	WebhookSecret  string
	SuccessURL     string
	CancelURL      string

	// Backing stores; empty values select the in-memory implementations.
	RedisAddr   string
	PostgresDSN string
	AMQPURL     string

	RetryAttempts int
	RetryBase     time.Duration
}

func Load() Config {
	return Config{
		ServiceName: getenvDefault("SERVICE_NAME", "fulfillment"),
		Env:         getenvDefault("ENV", "dev"),
		Addr:        getenvDefault("ADDR", ":8080"),

		GatewayMode:    getenvDefault("GATEWAY_MODE", "fake"),
		GatewayBaseURL: getenvDefault("GATEWAY_BASE_URL", "https://api.gateway.example"),
		GatewayAPIKey:  os.Getenv("GATEWAY_API_KEY"),
		WebhookSecret:  getenvDefault("GATEWAY_WEBHOOK_SECRET", "whsec_dev"),
		SuccessURL:     getenvDefault("CHECKOUT_SUCCESS_URL", "http://localhost:3000/checkout/success"),
		CancelURL:      getenvDefault("CHECKOUT_CANCEL_URL", "http://localhost:3000/cart"),

		RedisAddr:   os.Getenv("REDIS_ADDR"),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		AMQPURL:     os.Getenv("AMQP_URL"),

		RetryAttempts: getenvInt("RETRY_ATTEMPTS", 5),
		RetryBase:     getenvDuration("RETRY_BASE", 50*time.Millisecond),
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
