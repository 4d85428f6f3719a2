package sqsqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"waconnect/internal/domain"
	"waconnect/internal/observability"
	"waconnect/internal/util"
)

const (
	eventKindStatusChanged   = "instance.status_changed"
	eventKindQRUpdated       = "instance.qr_updated"
	eventKindMessageReceived = "message.received"
)

// envelope is the queue-side wrapper for notification events. Keep it small;
// SQS caps message bodies at 256KB, which a QR payload fits comfortably.
type envelope struct {
	Kind       string               `json:"kind"`
	EventID    string               `json:"eventId"`
	InstanceID string               `json:"instanceId"`
	Provider   string                 `json:"provider,omitempty"`
	Status     *domain.StatusChange   `json:"status,omitempty"`
	QR         *domain.QRUpdate       `json:"qr,omitempty"`
	Message    *domain.InboundMessage `json:"message,omitempty"`
	EmittedAt  time.Time              `json:"emittedAt"`
}

// EventProducer is the notification-sink implementation: connection events go
// onto a queue the CRM's real-time fan-out consumes.
type EventProducer struct {
	SQS      *sqs.Client
	QueueURL string
}

func (p *EventProducer) StatusChanged(ctx context.Context, ev domain.StatusChange) error {
	return p.publish(ctx, envelope{
		Kind:       eventKindStatusChanged,
		EventID:    ev.EventID,
		InstanceID: ev.InstanceID,
		Status:     &ev,
		EmittedAt:  ev.OccurredAt,
	})
}

func (p *EventProducer) QRUpdated(ctx context.Context, ev domain.QRUpdate) error {
	return p.publish(ctx, envelope{
		Kind:       eventKindQRUpdated,
		EventID:    ev.EventID,
		InstanceID: ev.InstanceID,
		QR:         &ev,
		EmittedAt:  ev.OccurredAt,
	})
}

// MessageReceived hands a stored inbound message to the CRM's consumers.
func (p *EventProducer) MessageReceived(ctx context.Context, provider domain.ProviderVariant, msg domain.InboundMessage) error {
	return p.publish(ctx, envelope{
		Kind:       eventKindMessageReceived,
		EventID:    util.NewEventID(),
		InstanceID: msg.RecipientID,
		Provider:   string(provider),
		Message:    &msg,
		EmittedAt:  util.NowUTC(),
	})
}

func (p *EventProducer) publish(ctx context.Context, env envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = p.SQS.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		observability.EventPublishes.WithLabelValues(env.Kind, "error").Inc()
		return err
	}
	observability.EventPublishes.WithLabelValues(env.Kind, "ok").Inc()
	return nil
}
