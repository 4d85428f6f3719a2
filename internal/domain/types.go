package domain

import (
	"strings"
	"time"
)

type ProviderVariant string

const (
	VariantTwilio ProviderVariant = "twilio"
	VariantZAPI   ProviderVariant = "zapi"
)

type ConnectionStatus string

const (
	StatusDisconnected   ConnectionStatus = "disconnected"
	StatusConnecting     ConnectionStatus = "connecting"
	StatusConnected      ConnectionStatus = "connected"
	StatusQRCodeRequired ConnectionStatus = "qr_code_required"
	StatusError          ConnectionStatus = "error"
)

type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

// deliveryRank orders the forward-only delivery lattice. Failed is handled
// separately because it is absorbing, not ordered.
var deliveryRank = map[DeliveryStatus]int{
	DeliverySent:      1,
	DeliveryDelivered: 2,
	DeliveryRead:      3,
}

// CanTransition reports whether a message currently in `from` may move to `to`.
// Forward moves and skip-ahead are allowed; backward moves are not.
// Failed is terminal and reachable from any non-failed state.
func CanTransition(from, to DeliveryStatus) bool {
	if from == DeliveryFailed {
		return false
	}
	if to == DeliveryFailed {
		return true
	}
	tr, known := deliveryRank[to]
	if !known {
		return false
	}
	fr, ok := deliveryRank[from]
	if !ok {
		// no prior state recorded; any canonical status may seed it
		return true
	}
	return tr > fr
}

type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindAudio    MessageKind = "audio"
	KindVideo    MessageKind = "video"
	KindDocument MessageKind = "document"
	KindLocation MessageKind = "location"
	KindContact  MessageKind = "contact"
)

// KindFromContentType maps a MIME content type onto a media kind.
// Anything unrecognized is treated as a document.
func KindFromContentType(contentType string) MessageKind {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "image/"):
		return KindImage
	case strings.HasPrefix(ct, "audio/"):
		return KindAudio
	case strings.HasPrefix(ct, "video/"):
		return KindVideo
	default:
		return KindDocument
	}
}

type Instance struct {
	ID          string          `json:"id"`
	Variant     ProviderVariant `json:"variant"`
	PhoneNumber string          `json:"phoneNumber"`
	DisplayName string          `json:"displayName"`
	IsActive    bool            `json:"isActive"`
	IsPrimary   bool            `json:"isPrimary"`

	// Credentials are opaque to everything except the adapter factory.
	BaseURL       string `json:"-"`
	AccountID     string `json:"-"`
	AccessToken   string `json:"-"`
	WebhookSecret string `json:"-"`

	Status      ConnectionStatus `json:"status"`
	LastChecked time.Time        `json:"lastChecked"`
}

type QRCode struct {
	Value     string    `json:"value"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (q QRCode) IsExpired(now time.Time) bool {
	return !now.Before(q.ExpiresAt)
}

// SendResult is the outcome of one outbound provider call. Immutable once produced.
type SendResult struct {
	Success           bool              `json:"success"`
	ExternalMessageID string            `json:"externalMessageId,omitempty"`
	ErrorMessage      string            `json:"errorMessage,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Timestamp         time.Time         `json:"timestamp"`
}

type MediaDescriptor struct {
	URL      string      `json:"url"`
	MimeType string      `json:"mimeType"`
	FileName string      `json:"fileName,omitempty"`
	Size     int64       `json:"size,omitempty"`
	Kind     MessageKind `json:"kind"`
}

// InboundMessage is the canonical form of any provider webhook payload that
// carries a message. Produced only by webhook normalizers.
type InboundMessage struct {
	ExternalMessageID string            `json:"externalMessageId"`
	SenderID          string            `json:"senderId"`
	SenderName        string            `json:"senderName,omitempty"`
	RecipientID       string            `json:"recipientId"`
	Content           string            `json:"content"`
	Kind              MessageKind       `json:"kind"`
	Media             *MediaDescriptor  `json:"media,omitempty"`
	Timestamp         time.Time         `json:"timestamp"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// DeliveryUpdate is a normalized delivery callback.
type DeliveryUpdate struct {
	ExternalMessageID string         `json:"externalMessageId"`
	Status            DeliveryStatus `json:"status"`
	ErrorText         string         `json:"errorText,omitempty"`
}

// WebhookEvent is what a normalizer produces: exactly one of Message or Status
// is set. A nil *WebhookEvent means "payload not recognized, ignore".
type WebhookEvent struct {
	Message *InboundMessage
	Status  *DeliveryUpdate
}

type StatusChange struct {
	EventID    string           `json:"eventId"`
	InstanceID string           `json:"instanceId"`
	OldStatus  ConnectionStatus `json:"oldStatus"`
	NewStatus  ConnectionStatus `json:"newStatus"`
	ErrorText  string           `json:"errorText,omitempty"`
	OccurredAt time.Time        `json:"occurredAt"`
}

type QRUpdate struct {
	EventID    string    `json:"eventId"`
	InstanceID string    `json:"instanceId"`
	QR         QRCode    `json:"qr"`
	OccurredAt time.Time `json:"occurredAt"`
}
