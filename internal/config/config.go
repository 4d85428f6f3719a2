package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type WebhookConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// Twilio webhook verification. The public URL must match the exact URL
	// configured on the provider side; the signature covers it.
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN"`
	PublicWebhookURL string `envconfig:"PUBLIC_WEBHOOK_URL" required:"true"`

	// Accepting unsigned webhooks is an explicit deployment decision, never
	// a silent default.
	AllowUnsignedWebhooks bool `envconfig:"ALLOW_UNSIGNED_WEBHOOKS" default:"false"`

	// AWS / SQS notification queue
	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	EventsQueueURL     string `envconfig:"EVENTS_QUEUE_URL" required:"true"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

type MonitorConfig struct {
	DBDSN       string `envconfig:"DB_DSN" required:"true"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	PollInterval   time.Duration `envconfig:"POLL_INTERVAL" default:"30s"`
	PollTimeout    time.Duration `envconfig:"POLL_TIMEOUT" default:"10s"`
	QRTTL          time.Duration `envconfig:"QR_TTL" default:"2m"`

	AllowUnsignedWebhooks bool   `envconfig:"ALLOW_UNSIGNED_WEBHOOKS" default:"false"`
	PublicWebhookURL      string `envconfig:"PUBLIC_WEBHOOK_URL"`

	// AWS / SQS notification queue
	AWSRegion          string `envconfig:"AWS_REGION" required:"true"`
	EventsQueueURL     string `envconfig:"EVENTS_QUEUE_URL" required:"true"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`

	// Outbound send protection
	SendRPS   float64 `envconfig:"SEND_RPS" default:"5"`
	SendBurst int     `envconfig:"SEND_BURST" default:"10"`
}

func LoadWebhook() WebhookConfig {
	var cfg WebhookConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func LoadMonitor() MonitorConfig {
	var cfg MonitorConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
