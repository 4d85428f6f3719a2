package domain

import (
	"testing"
	"time"
)

func TestCanTransitionForwardOnly(t *testing.T) {
	cases := []struct {
		from, to DeliveryStatus
		want     bool
	}{
		{DeliverySent, DeliveryDelivered, true},
		{DeliverySent, DeliveryRead, true}, // skip-ahead allowed
		{DeliveryDelivered, DeliveryRead, true},
		{DeliveryRead, DeliveryDelivered, false},
		{DeliveryDelivered, DeliverySent, false},
		{DeliveryDelivered, DeliveryDelivered, false},
		{DeliverySent, DeliveryFailed, true},
		{DeliveryRead, DeliveryFailed, true},
		{DeliveryFailed, DeliverySent, false},
		{DeliveryFailed, DeliveryDelivered, false},
		{"", DeliveryRead, true},
		{DeliverySent, "bogus", false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Fatalf("CanTransition(%q, %q) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestLatticeMaximumWins(t *testing.T) {
	// Apply sent, read, delivered in that order: final must remain read.
	cur := DeliveryStatus("")
	for _, next := range []DeliveryStatus{DeliverySent, DeliveryRead, DeliveryDelivered} {
		if CanTransition(cur, next) {
			cur = next
		}
	}
	if cur != DeliveryRead {
		t.Fatalf("final status = %q, want %q", cur, DeliveryRead)
	}
}

func TestQRCodeExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	qr := QRCode{Value: "abc", ExpiresAt: now.Add(120 * time.Second)}

	if qr.IsExpired(now) {
		t.Fatalf("fresh payload reported expired")
	}
	if qr.IsExpired(now.Add(119 * time.Second)) {
		t.Fatalf("payload expired before its deadline")
	}
	if !qr.IsExpired(now.Add(121 * time.Second)) {
		t.Fatalf("payload still valid past its deadline")
	}
}

func TestKindFromContentType(t *testing.T) {
	cases := map[string]MessageKind{
		"image/jpeg":      KindImage,
		"IMAGE/PNG":       KindImage,
		"audio/ogg":       KindAudio,
		"video/mp4":       KindVideo,
		"application/pdf": KindDocument,
		"text/vcard":      KindDocument,
		"":                KindDocument,
	}
	for ct, want := range cases {
		if got := KindFromContentType(ct); got != want {
			t.Fatalf("KindFromContentType(%q) = %q, want %q", ct, got, want)
		}
	}
}
