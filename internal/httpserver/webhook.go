package httpserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"waconnect/internal/domain"
	"waconnect/internal/observability"
	"waconnect/internal/providers"
	"waconnect/internal/store"
	"waconnect/internal/util"
)

const (
	twilioSignatureHeader = "X-Twilio-Signature"
	zapiSignatureHeader   = "X-Zapi-Signature"
)

type MessageStore interface {
	InsertInboundMessage(ctx context.Context, in store.InboundInsert) (bool, error)
}

type DeliveryTracker interface {
	Apply(ctx context.Context, provider domain.ProviderVariant, upd domain.DeliveryUpdate) error
}

// EventSink forwards freshly stored inbound messages downstream. Optional;
// publish failures are logged, never surfaced to the provider.
type EventSink interface {
	MessageReceived(ctx context.Context, provider domain.ProviderVariant, msg domain.InboundMessage) error
}

// Webhook owns the inbound callback path for both provider families. The
// contract is strict: validate first on the raw body, normalize second; a
// failed validation never reaches the normalizer.
type Webhook struct {
	Messages MessageStore
	Tracker  DeliveryTracker
	Events   EventSink

	// Twilio is the single business-API adapter for this deployment; the
	// bridge resolver returns a per-instance adapter.
	Twilio      providers.Adapter
	ResolveZAPI func(ctx context.Context, instanceID string) (providers.Adapter, error)
}

func (w *Webhook) Register(r *mux.Router) {
	r.HandleFunc("/v1/webhooks/twilio", w.handleTwilio).Methods(http.MethodPost)
	r.HandleFunc("/v1/webhooks/zapi/{instanceID}", w.handleZAPI).Methods(http.MethodPost)
}

func (w *Webhook) handleTwilio(rw http.ResponseWriter, r *http.Request) {
	if w.Twilio == nil {
		observability.WebhookRequests.WithLabelValues(string(domain.VariantTwilio), "unknown_instance").Inc()
		http.Error(rw, ErrUnknownInstance, http.StatusNotFound)
		return
	}
	w.handle(rw, r, string(domain.VariantTwilio), w.Twilio, r.Header.Get(twilioSignatureHeader))
}

func (w *Webhook) handleZAPI(rw http.ResponseWriter, r *http.Request) {
	instanceID := mux.Vars(r)["instanceID"]
	adapter, err := w.ResolveZAPI(r.Context(), instanceID)
	if err != nil {
		observability.WebhookRequests.WithLabelValues(string(domain.VariantZAPI), "unknown_instance").Inc()
		http.Error(rw, ErrUnknownInstance, http.StatusNotFound)
		return
	}
	w.handle(rw, r, string(domain.VariantZAPI), adapter, r.Header.Get(zapiSignatureHeader))
}

func (w *Webhook) handle(rw http.ResponseWriter, r *http.Request, provider string, adapter providers.Adapter, signature string) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, ErrBadBody, http.StatusBadRequest)
		return
	}

	if !adapter.ValidateWebhook(signature, raw) {
		observability.WebhookRequests.WithLabelValues(provider, "invalid_signature").Inc()
		http.Error(rw, ErrInvalidSignature, http.StatusUnauthorized)
		return
	}

	ev := adapter.ParseWebhook(raw)
	if ev == nil {
		// not a shape we track; acknowledge so the provider stops retrying
		observability.WebhookRequests.WithLabelValues(provider, "ignored").Inc()
		slog.Info("webhook payload not recognized, dropping", "provider", provider)
		rw.WriteHeader(http.StatusOK)
		return
	}

	switch {
	case ev.Message != nil:
		inserted, err := w.Messages.InsertInboundMessage(r.Context(), store.InboundInsert{
			Provider: adapter.Variant(),
			Message:  *ev.Message,
			Now:      util.NowUTC(),
		})
		if err != nil {
			slog.Error("webhook message store failed",
				"provider", provider, "external_message_id", ev.Message.ExternalMessageID, "err", err)
			http.Error(rw, ErrDependency, http.StatusInternalServerError)
			return
		}
		if !inserted {
			observability.WebhookRequests.WithLabelValues(provider, "duplicate").Inc()
			slog.Info("duplicate webhook delivery skipped",
				"provider", provider, "external_message_id", ev.Message.ExternalMessageID)
		} else {
			observability.WebhookRequests.WithLabelValues(provider, "message").Inc()
			if w.Events != nil {
				if err := w.Events.MessageReceived(r.Context(), adapter.Variant(), *ev.Message); err != nil {
					slog.Error("inbound message event publish failed",
						"provider", provider, "external_message_id", ev.Message.ExternalMessageID, "err", err)
				}
			}
		}

	case ev.Status != nil:
		if err := w.Tracker.Apply(r.Context(), adapter.Variant(), *ev.Status); err != nil {
			slog.Error("webhook status apply failed",
				"provider", provider, "external_message_id", ev.Status.ExternalMessageID, "err", err)
			http.Error(rw, ErrDependency, http.StatusInternalServerError)
			return
		}
		observability.WebhookRequests.WithLabelValues(provider, "status").Inc()
	}

	rw.WriteHeader(http.StatusOK)
}
