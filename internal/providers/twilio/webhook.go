package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"waconnect/internal/domain"
	"waconnect/internal/util"
)

// Signature computes the Twilio webhook signature: HMAC-SHA1 over the full
// callback URL followed by the sorted form keys and values, base64 encoded.
func Signature(authToken, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateWebhook checks the X-Twilio-Signature header against the raw
// form-encoded body. With no auth token configured it fails closed unless the
// deployment explicitly allowed unsigned webhooks.
func (a *Adapter) ValidateWebhook(signatureHeader string, raw []byte) bool {
	if a.cfg.AuthToken == "" {
		if a.cfg.AllowUnsigned {
			slog.Warn("twilio webhook signature validation disabled, accepting unsigned payload")
			return true
		}
		return false
	}
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return false
	}
	expected := Signature(a.cfg.AuthToken, a.cfg.PublicWebhookURL, form)
	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}

// ParseWebhook normalizes a form-encoded callback into either an inbound
// message or a delivery update. Unrecognized shapes come back nil.
func (a *Adapter) ParseWebhook(raw []byte) *domain.WebhookEvent {
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil
	}
	sid := form.Get("MessageSid")
	if sid == "" {
		sid = form.Get("SmsSid")
	}
	if sid == "" {
		return nil
	}

	if status := form.Get("MessageStatus"); status != "" {
		return statusEvent(sid, status, form.Get("ErrorCode"))
	}

	from := form.Get("From")
	if from == "" {
		return nil
	}

	msg := &domain.InboundMessage{
		ExternalMessageID: sid,
		SenderID:          stripWAAddr(from),
		SenderName:        form.Get("ProfileName"),
		RecipientID:       stripWAAddr(form.Get("To")),
		Content:           form.Get("Body"),
		Kind:              domain.KindText,
		Timestamp:         util.NowUTC(),
		Metadata:          map[string]string{"provider": string(domain.VariantTwilio)},
	}
	if waID := form.Get("WaId"); waID != "" {
		msg.Metadata["wa_id"] = waID
	}

	// Media arrives as MediaUrl0/MediaContentType0 pairs; only the first
	// attachment becomes the canonical descriptor.
	if n, _ := strconv.Atoi(form.Get("NumMedia")); n > 0 {
		mediaURL := form.Get("MediaUrl0")
		contentType := form.Get("MediaContentType0")
		if mediaURL != "" {
			kind := domain.KindFromContentType(contentType)
			msg.Kind = kind
			msg.Media = &domain.MediaDescriptor{
				URL:      mediaURL,
				MimeType: contentType,
				Kind:     kind,
			}
		}
	}

	if form.Get("Latitude") != "" && form.Get("Longitude") != "" {
		msg.Kind = domain.KindLocation
		msg.Metadata["latitude"] = form.Get("Latitude")
		msg.Metadata["longitude"] = form.Get("Longitude")
	}

	return &domain.WebhookEvent{Message: msg}
}

func statusEvent(sid, vendorStatus, errCode string) *domain.WebhookEvent {
	var status domain.DeliveryStatus
	switch vendorStatus {
	case "sent":
		status = domain.DeliverySent
	case "delivered":
		status = domain.DeliveryDelivered
	case "read":
		status = domain.DeliveryRead
	case "failed", "undelivered":
		status = domain.DeliveryFailed
	default:
		// queued/accepted and anything unknown is not a lifecycle move we track
		return nil
	}

	upd := &domain.DeliveryUpdate{ExternalMessageID: sid, Status: status}
	if status == domain.DeliveryFailed && errCode != "" {
		upd.ErrorText = "twilio error code " + errCode
	}
	return &domain.WebhookEvent{Status: upd}
}

func stripWAAddr(addr string) string {
	return util.NormalizePhone(strings.TrimPrefix(addr, "whatsapp:"))
}
