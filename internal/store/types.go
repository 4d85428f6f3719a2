package store

import (
	"time"

	"waconnect/internal/domain"
)

// InboundInsert wraps a normalized message for persistence. Provider plus
// external id is the idempotency key: the same webhook delivered twice must
// store exactly one row.
type InboundInsert struct {
	Provider domain.ProviderVariant
	Message  domain.InboundMessage
	Now      time.Time
}

type DeliveryRow struct {
	Provider          domain.ProviderVariant
	ExternalMessageID string
	Status            domain.DeliveryStatus
	LastError         string
	UpdatedAt         time.Time
}

type DeliveryUpdate struct {
	Provider          domain.ProviderVariant
	ExternalMessageID string
	Status            domain.DeliveryStatus
	LastError         string
	Now               time.Time
}

type InstanceStatusUpdate struct {
	InstanceID  string
	Status      domain.ConnectionStatus
	ErrorText   string
	LastChecked time.Time
}
