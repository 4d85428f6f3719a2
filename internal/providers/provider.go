package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"waconnect/internal/domain"
	"waconnect/internal/providers/twilio"
	"waconnect/internal/providers/zapi"
)

// Adapter is the capability set every provider variant implements. Adapters
// hold only construction-time configuration and are safe for concurrent use.
// Transport failures never escape as errors from the send methods; they come
// back as failed SendResults.
type Adapter interface {
	Variant() domain.ProviderVariant

	IsAvailable(ctx context.Context) bool
	SendText(ctx context.Context, recipient, content string) domain.SendResult
	SendMedia(ctx context.Context, recipient, mediaURL string, kind domain.MessageKind, caption string) domain.SendResult
	SendTemplate(ctx context.Context, recipient, templateName string, params map[string]string) domain.SendResult

	// QRCode returns (nil, nil) when the provider has no QR concept or the
	// instance is already paired; a non-nil error means a transport failure.
	QRCode(ctx context.Context) (*domain.QRCode, error)

	// ConnectionStatus maps provider-native state onto the canonical enum.
	// On transport failure it returns StatusError together with the error.
	ConnectionStatus(ctx context.Context) (domain.ConnectionStatus, error)

	// Disconnect is a no-op success for providers without a disconnect concept.
	Disconnect(ctx context.Context) bool

	// ParseWebhook decodes a raw webhook body. nil means "not a message or
	// status callback we recognize" and the caller should drop the payload.
	ParseWebhook(raw []byte) *domain.WebhookEvent

	// ValidateWebhook checks the provider signature over the raw body. It is a
	// pure HMAC computation and never performs network I/O.
	ValidateWebhook(signatureHeader string, raw []byte) bool
}

// Options carries cross-provider construction knobs.
type Options struct {
	HTTPClient *http.Client
	QRTTL      time.Duration

	// AllowUnsigned lets webhooks through when no signing secret is
	// configured. Off by default; turning it on is logged loudly.
	AllowUnsigned bool

	// PublicWebhookURL is the exact externally visible webhook URL. The
	// twilio signature scheme signs the full URL, so it must match what the
	// provider was configured with.
	PublicWebhookURL string
}

// New builds the adapter for one configured instance. Missing credentials are
// a construction-time failure, not a deferred one.
func New(inst domain.Instance, opts Options) (Adapter, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 8 * time.Second}
	}

	switch inst.Variant {
	case domain.VariantTwilio:
		return twilio.NewAdapter(twilio.Config{
			AccountSID:       inst.AccountID,
			AuthToken:        inst.AccessToken,
			FromNumber:       inst.PhoneNumber,
			BaseURL:          inst.BaseURL,
			PublicWebhookURL: opts.PublicWebhookURL,
			AllowUnsigned:    opts.AllowUnsigned,
			HTTP:             httpClient,
		})
	case domain.VariantZAPI:
		return zapi.NewAdapter(zapi.Config{
			InstanceID:    inst.ID,
			Token:         inst.AccessToken,
			BaseURL:       inst.BaseURL,
			WebhookSecret: inst.WebhookSecret,
			AllowUnsigned: opts.AllowUnsigned,
			QRTTL:         opts.QRTTL,
			HTTP:          httpClient,
		})
	default:
		return nil, fmt.Errorf("unknown provider variant %q for instance %s", inst.Variant, inst.ID)
	}
}
