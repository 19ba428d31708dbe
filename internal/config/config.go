package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config carries everything the services read from the environment. Secrets
// are supplied externally so they can be rotated without a rebuild.
type Config struct {
	Port         string
	PostgresURL  string
	KafkaBrokers []string

	PhonePeBaseURL         string
	PhonePeClientID        string
	PhonePeClientSecret    string
	PhonePeWebhookUsername string
	PhonePeWebhookPassword string
	PaymentRedirectURL     string
	OrderStatusPageURL     string

	ShiprocketBaseURL string
	ShiprocketToken   string
	PickupLocation    string

	AdminToken      string
	NotificationURL string

	UpstreamTimeout   time.Duration
	BestEffortTimeout time.Duration
}

// Load reads the configuration from the environment. Only the values in
// required are enforced; everything else falls back to a default.
func Load(required ...string) (*Config, error) {
	cfg := &Config{
		Port:                   getenv("PORT", "8080"),
		PostgresURL:            os.Getenv("POSTGRES_URL"),
		PhonePeBaseURL:         os.Getenv("PHONEPE_BASE_URL"),
		PhonePeClientID:        os.Getenv("PHONEPE_CLIENT_ID"),
		PhonePeClientSecret:    os.Getenv("PHONEPE_CLIENT_SECRET"),
		PhonePeWebhookUsername: os.Getenv("PHONEPE_WEBHOOK_USERNAME"),
		PhonePeWebhookPassword: os.Getenv("PHONEPE_WEBHOOK_PASSWORD"),
		PaymentRedirectURL:     os.Getenv("PAYMENT_REDIRECT_URL"),
		OrderStatusPageURL:     os.Getenv("ORDER_STATUS_PAGE_URL"),
		ShiprocketBaseURL:      os.Getenv("SHIPROCKET_BASE_URL"),
		ShiprocketToken:        os.Getenv("SHIPROCKET_TOKEN"),
		PickupLocation:         getenv("PICKUP_LOCATION", "Primary"),
		AdminToken:             os.Getenv("ADMIN_TOKEN"),
		NotificationURL:        os.Getenv("NOTIFICATION_URL"),
		UpstreamTimeout:        getduration("UPSTREAM_TIMEOUT", 10*time.Second),
		BestEffortTimeout:      getduration("BEST_EFFORT_TIMEOUT", 5*time.Second),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	for _, name := range required {
		if os.Getenv(name) == "" {
			return nil, fmt.Errorf("%s environment variable is required", name)
		}
	}

	return cfg, nil
}

func getenv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func getduration(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
