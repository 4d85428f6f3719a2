package zapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"waconnect/internal/domain"
	"waconnect/internal/util"
)

// Signature computes the bridge webhook signature: HMAC-SHA256 over the raw
// body, hex encoded.
func Signature(secret string, raw []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateWebhook checks the X-Zapi-Signature header. With no secret
// configured it fails closed unless unsigned webhooks were explicitly allowed.
func (a *Adapter) ValidateWebhook(signatureHeader string, raw []byte) bool {
	if a.cfg.WebhookSecret == "" {
		if a.cfg.AllowUnsigned {
			slog.Warn("zapi webhook signature validation disabled, accepting unsigned payload",
				"instance_id", a.cfg.InstanceID)
			return true
		}
		return false
	}
	expected := Signature(a.cfg.WebhookSecret, raw)
	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}

type webhookPayload struct {
	Type       string `json:"type"`
	MessageID  string `json:"messageId"`
	InstanceID string `json:"instanceId"`
	Phone      string `json:"phone"`
	SenderName string `json:"senderName"`
	ChatName   string `json:"chatName"`
	Moment     int64  `json:"momment"` // bridge spells it this way
	Status     string `json:"status"`
	Error      string `json:"error"`

	Text *struct {
		Message string `json:"message"`
	} `json:"text"`
	Image    *mediaPayload `json:"image"`
	Audio    *mediaPayload `json:"audio"`
	Video    *mediaPayload `json:"video"`
	Document *mediaPayload `json:"document"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Address   string  `json:"address"`
	} `json:"location"`
	Contact *struct {
		DisplayName string `json:"displayName"`
		Phones      string `json:"phones"`
	} `json:"contact"`
}

type mediaPayload struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
	FileName string `json:"fileName"`
	Caption  string `json:"caption"`
	Size     int64  `json:"size"`
}

// ParseWebhook normalizes a JSON callback. Message callbacks become canonical
// inbound messages; message-status callbacks become delivery updates;
// anything else is nil.
func (a *Adapter) ParseWebhook(raw []byte) *domain.WebhookEvent {
	var p webhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}

	switch p.Type {
	case "MessageStatusCallback":
		return a.statusEvent(p)
	case "ReceivedCallback", "":
		// some bridge versions omit the type on received messages
		return a.messageEvent(p)
	default:
		return nil
	}
}

func (a *Adapter) statusEvent(p webhookPayload) *domain.WebhookEvent {
	if p.MessageID == "" {
		return nil
	}
	var status domain.DeliveryStatus
	switch p.Status {
	case "SENT":
		status = domain.DeliverySent
	case "RECEIVED":
		status = domain.DeliveryDelivered
	case "READ", "PLAYED":
		status = domain.DeliveryRead
	case "FAILED":
		status = domain.DeliveryFailed
	default:
		return nil
	}
	return &domain.WebhookEvent{Status: &domain.DeliveryUpdate{
		ExternalMessageID: p.MessageID,
		Status:            status,
		ErrorText:         p.Error,
	}}
}

func (a *Adapter) messageEvent(p webhookPayload) *domain.WebhookEvent {
	if p.MessageID == "" || p.Phone == "" {
		return nil
	}

	msg := &domain.InboundMessage{
		ExternalMessageID: p.MessageID,
		SenderID:          util.NormalizePhone(p.Phone),
		SenderName:        p.SenderName,
		RecipientID:       a.cfg.InstanceID,
		Kind:              domain.KindText,
		Timestamp:         momentToTime(p.Moment),
		Metadata:          map[string]string{"provider": string(domain.VariantZAPI)},
	}
	if msg.SenderName == "" {
		msg.SenderName = p.ChatName
	}

	switch {
	case p.Text != nil:
		msg.Content = p.Text.Message
	case p.Image != nil:
		attachMedia(msg, p.Image, domain.KindImage)
	case p.Audio != nil:
		attachMedia(msg, p.Audio, domain.KindAudio)
	case p.Video != nil:
		attachMedia(msg, p.Video, domain.KindVideo)
	case p.Document != nil:
		attachMedia(msg, p.Document, domain.KindDocument)
	case p.Location != nil:
		msg.Kind = domain.KindLocation
		msg.Content = p.Location.Address
	case p.Contact != nil:
		msg.Kind = domain.KindContact
		msg.Content = p.Contact.DisplayName
		msg.Metadata["contact_phones"] = p.Contact.Phones
	default:
		// syntactically valid but carries nothing we recognize as a message
		return nil
	}

	return &domain.WebhookEvent{Message: msg}
}

func attachMedia(msg *domain.InboundMessage, m *mediaPayload, fallback domain.MessageKind) {
	kind := fallback
	if m.MimeType != "" {
		kind = domain.KindFromContentType(m.MimeType)
	}
	msg.Kind = kind
	msg.Content = m.Caption
	msg.Media = &domain.MediaDescriptor{
		URL:      m.URL,
		MimeType: m.MimeType,
		FileName: m.FileName,
		Size:     m.Size,
		Kind:     kind,
	}
}

func momentToTime(ms int64) time.Time {
	if ms <= 0 {
		return util.NowUTC()
	}
	return time.UnixMilli(ms).UTC()
}
