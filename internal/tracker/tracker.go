package tracker

import (
	"context"
	"log/slog"
	"sync"

	"waconnect/internal/domain"
	"waconnect/internal/observability"
	"waconnect/internal/store"
	"waconnect/internal/util"
)

// Sink is the persistence collaborator for delivery states.
type Sink interface {
	GetDeliveryStatus(ctx context.Context, provider domain.ProviderVariant, externalID string) (domain.DeliveryStatus, bool, error)
	SeedDelivery(ctx context.Context, in store.DeliveryUpdate) error
	UpdateDeliveryStatus(ctx context.Context, in store.DeliveryUpdate) (bool, error)
}

// Tracker applies the forward-only delivery lattice: Sent < Delivered < Read,
// Failed absorbing. Backward moves are rejected as no-ops; callbacks for
// unknown messages are dropped with a warning.
type Tracker struct {
	Sink Sink

	// serializes the read-check-write for transitions so two concurrent
	// callbacks cannot interleave into a backward move
	mu sync.Mutex
}

// Seed records the initial lifecycle state right after an outbound call.
func (t *Tracker) Seed(ctx context.Context, provider domain.ProviderVariant, res domain.SendResult) error {
	if res.ExternalMessageID == "" {
		// failed sends without a provider id have nothing to key on
		if !res.Success {
			slog.Warn("send failed before the provider assigned an id",
				"provider", provider, "error", res.ErrorMessage)
		}
		return nil
	}

	status := domain.DeliverySent
	if !res.Success {
		status = domain.DeliveryFailed
	}
	return t.Sink.SeedDelivery(ctx, store.DeliveryUpdate{
		Provider:          provider,
		ExternalMessageID: res.ExternalMessageID,
		Status:            status,
		LastError:         res.ErrorMessage,
		Now:               util.NowUTC(),
	})
}

// Apply moves a message along the lattice. Rejected transitions (duplicate or
// backward) and unknown external ids return nil; they are provider noise or
// duplicate deliveries, not caller-facing failures.
func (t *Tracker) Apply(ctx context.Context, provider domain.ProviderVariant, upd domain.DeliveryUpdate) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, found, err := t.Sink.GetDeliveryStatus(ctx, provider, upd.ExternalMessageID)
	if err != nil {
		return err
	}
	if !found {
		observability.StatusTransitions.WithLabelValues(string(provider), "unknown_message").Inc()
		slog.Warn("delivery callback for unknown message, dropping",
			"provider", provider, "external_message_id", upd.ExternalMessageID, "status", upd.Status)
		return nil
	}

	if !domain.CanTransition(current, upd.Status) {
		observability.StatusTransitions.WithLabelValues(string(provider), "rejected").Inc()
		slog.Info("delivery transition rejected",
			"provider", provider, "external_message_id", upd.ExternalMessageID,
			"from", current, "to", upd.Status)
		return nil
	}

	matched, err := t.Sink.UpdateDeliveryStatus(ctx, store.DeliveryUpdate{
		Provider:          provider,
		ExternalMessageID: upd.ExternalMessageID,
		Status:            upd.Status,
		LastError:         upd.ErrorText,
		Now:               util.NowUTC(),
	})
	if err != nil {
		return err
	}
	if !matched {
		observability.StatusTransitions.WithLabelValues(string(provider), "unknown_message").Inc()
		return nil
	}
	observability.StatusTransitions.WithLabelValues(string(provider), "applied").Inc()
	return nil
}
