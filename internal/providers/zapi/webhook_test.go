package zapi

import (
	"testing"
	"time"

	"waconnect/internal/domain"
)

func parserAdapter(t *testing.T, mutate func(*Config)) *Adapter {
	t.Helper()
	cfg := Config{
		InstanceID:    "inst-1",
		Token:         "tok-1",
		BaseURL:       "http://bridge.local",
		WebhookSecret: "shh",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := NewAdapter(cfg)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	return a
}

func TestValidateWebhook(t *testing.T) {
	a := parserAdapter(t, nil)
	raw := []byte(`{"type":"ReceivedCallback"}`)

	if !a.ValidateWebhook(Signature("shh", raw), raw) {
		t.Fatalf("expected valid signature to be accepted")
	}
	if a.ValidateWebhook(Signature("wrong", raw), raw) {
		t.Fatalf("expected signature from wrong secret to be rejected")
	}
	if a.ValidateWebhook("", raw) {
		t.Fatalf("expected missing signature to be rejected")
	}
}

func TestValidateWebhookFailsClosedWithoutSecret(t *testing.T) {
	a := parserAdapter(t, func(cfg *Config) { cfg.WebhookSecret = "" })
	if a.ValidateWebhook("whatever", []byte("{}")) {
		t.Fatalf("expected unsigned webhook to be rejected by default")
	}

	a = parserAdapter(t, func(cfg *Config) {
		cfg.WebhookSecret = ""
		cfg.AllowUnsigned = true
	})
	if !a.ValidateWebhook("", []byte("{}")) {
		t.Fatalf("expected explicit allow-unsigned to accept")
	}
}

func TestParseWebhookTextMessage(t *testing.T) {
	a := parserAdapter(t, nil)
	raw := []byte(`{
		"type": "ReceivedCallback",
		"messageId": "3EB0ABC",
		"phone": "5511988887777",
		"senderName": "Maria",
		"momment": 1735689600000,
		"text": {"message": "posso doar amanha?"}
	}`)

	ev := a.ParseWebhook(raw)
	if ev == nil || ev.Message == nil {
		t.Fatalf("expected inbound message event, got %+v", ev)
	}
	msg := ev.Message
	if msg.ExternalMessageID != "3EB0ABC" || msg.SenderID != "5511988887777" {
		t.Fatalf("unexpected identity fields: %+v", msg)
	}
	if msg.Content != "posso doar amanha?" || msg.Kind != domain.KindText {
		t.Fatalf("unexpected content: %+v", msg)
	}
	if msg.RecipientID != "inst-1" {
		t.Fatalf("recipient = %q, want owning instance id", msg.RecipientID)
	}
	want := time.UnixMilli(1735689600000).UTC()
	if !msg.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", msg.Timestamp, want)
	}
}

func TestParseWebhookUntypedMessage(t *testing.T) {
	a := parserAdapter(t, nil)
	raw := []byte(`{"messageId": "3EB0DEF", "phone": "5511911112222", "text": {"message": "oi"}}`)

	ev := a.ParseWebhook(raw)
	if ev == nil || ev.Message == nil {
		t.Fatalf("callbacks without a type field still carry messages, got %+v", ev)
	}
}

func TestParseWebhookMediaMessage(t *testing.T) {
	a := parserAdapter(t, nil)
	raw := []byte(`{
		"type": "ReceivedCallback",
		"messageId": "3EB0MED",
		"phone": "5511988887777",
		"audio": {"url": "https://bridge.local/m/a.ogg", "mimeType": "audio/ogg"}
	}`)

	ev := a.ParseWebhook(raw)
	if ev == nil || ev.Message == nil {
		t.Fatalf("expected inbound message event, got %+v", ev)
	}
	msg := ev.Message
	if msg.Kind != domain.KindAudio {
		t.Fatalf("kind = %s, want audio", msg.Kind)
	}
	if msg.Media == nil || msg.Media.URL != "https://bridge.local/m/a.ogg" || msg.Media.MimeType != "audio/ogg" {
		t.Fatalf("media descriptor not populated: %+v", msg.Media)
	}
}

func TestParseWebhookStatusMapping(t *testing.T) {
	a := parserAdapter(t, nil)

	cases := []struct {
		vendor string
		want   domain.DeliveryStatus
	}{
		{"SENT", domain.DeliverySent},
		{"RECEIVED", domain.DeliveryDelivered},
		{"READ", domain.DeliveryRead},
		{"PLAYED", domain.DeliveryRead},
		{"FAILED", domain.DeliveryFailed},
	}
	for _, tc := range cases {
		raw := []byte(`{"type":"MessageStatusCallback","messageId":"3EB0ST","status":"` + tc.vendor + `"}`)
		ev := a.ParseWebhook(raw)
		if ev == nil || ev.Status == nil {
			t.Fatalf("%s: expected status event", tc.vendor)
		}
		if ev.Status.Status != tc.want {
			t.Fatalf("%s: status = %s, want %s", tc.vendor, ev.Status.Status, tc.want)
		}
	}

	raw := []byte(`{"type":"MessageStatusCallback","messageId":"3EB0ST","status":"QUEUED"}`)
	if ev := a.ParseWebhook(raw); ev != nil {
		t.Fatalf("unknown vendor status should not produce an event, got %+v", ev)
	}
}

func TestParseWebhookTolerates(t *testing.T) {
	a := parserAdapter(t, nil)

	if ev := a.ParseWebhook([]byte(`not json`)); ev != nil {
		t.Fatalf("malformed body should come back nil")
	}
	if ev := a.ParseWebhook([]byte(`{"type":"PresenceChatCallback"}`)); ev != nil {
		t.Fatalf("unrelated callback types should come back nil")
	}
	if ev := a.ParseWebhook([]byte(`{"type":"ReceivedCallback","messageId":"x","phone":"5511"}`)); ev != nil {
		t.Fatalf("message with no recognizable content should come back nil")
	}
	if ev := a.ParseWebhook([]byte(`{"type":"MessageStatusCallback","status":"SENT"}`)); ev != nil {
		t.Fatalf("status with no message id should come back nil")
	}
}
