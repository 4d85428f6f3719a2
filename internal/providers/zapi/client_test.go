package zapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"waconnect/internal/domain"
)

func bridgeAdapter(t *testing.T, handler http.HandlerFunc, mutate func(*Config)) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return parserAdapter(t, func(cfg *Config) {
		cfg.BaseURL = srv.URL
		if mutate != nil {
			mutate(cfg)
		}
	})
}

func TestSendTextSuccess(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	a := bridgeAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"messageId": "3EB0XYZ", "zaapId": "Z1"})
	}, nil)

	res := a.SendText(context.Background(), "+55 11 98888-7777", "ola")
	if !res.Success {
		t.Fatalf("send failed: %s", res.ErrorMessage)
	}
	if res.ExternalMessageID != "3EB0XYZ" {
		t.Fatalf("external id = %q", res.ExternalMessageID)
	}
	if gotPath != "/instances/inst-1/token/tok-1/send-text" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotBody["phone"] != "5511988887777" {
		t.Fatalf("phone = %v, want digits only", gotBody["phone"])
	}
}

func TestSendMediaEndpointPerKind(t *testing.T) {
	var paths []string
	a := bridgeAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"messageId": "m"})
	}, nil)

	ctx := context.Background()
	a.SendMedia(ctx, "5511", "u", domain.KindImage, "")
	a.SendMedia(ctx, "5511", "u", domain.KindAudio, "")
	a.SendMedia(ctx, "5511", "u", domain.KindVideo, "")
	a.SendMedia(ctx, "5511", "u", domain.KindDocument, "f.pdf")

	want := []string{"send-image", "send-audio", "send-video", "send-document"}
	for i, p := range paths {
		if !strings.HasSuffix(p, want[i]) {
			t.Fatalf("call %d hit %q, want suffix %q", i, p, want[i])
		}
	}
}

func TestSendBridgeError(t *testing.T) {
	a := bridgeAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "instance not connected"})
	}, nil)

	res := a.SendText(context.Background(), "5511", "ola")
	if res.Success {
		t.Fatalf("expected failure")
	}
	if res.ErrorMessage != "instance not connected" {
		t.Fatalf("error = %q", res.ErrorMessage)
	}
}

func TestSendTransportError(t *testing.T) {
	a := parserAdapter(t, func(cfg *Config) { cfg.BaseURL = "http://127.0.0.1:1" })
	res := a.SendText(context.Background(), "5511", "ola")
	if res.Success || res.ErrorMessage == "" {
		t.Fatalf("expected failed result with message, got %+v", res)
	}
}

func TestConnectionStatusFolding(t *testing.T) {
	cases := []struct {
		body map[string]any
		want domain.ConnectionStatus
	}{
		{map[string]any{"connected": true}, domain.StatusConnected},
		{map[string]any{"connected": false, "qrCode": true}, domain.StatusQRCodeRequired},
		{map[string]any{"connected": false, "error": "phone unreachable"}, domain.StatusError},
		{map[string]any{"connected": false}, domain.StatusDisconnected},
		// connected wins even when the bridge also reports a stale qr flag
		{map[string]any{"connected": true, "qrCode": true}, domain.StatusConnected},
	}
	for i, tc := range cases {
		a := bridgeAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(tc.body)
		}, nil)
		got, err := a.ConnectionStatus(context.Background())
		if err != nil {
			t.Fatalf("case %d: unexpected error %v", i, err)
		}
		if got != tc.want {
			t.Fatalf("case %d: status = %s, want %s", i, got, tc.want)
		}
	}
}

func TestConnectionStatusTransportError(t *testing.T) {
	a := parserAdapter(t, func(cfg *Config) { cfg.BaseURL = "http://127.0.0.1:1" })
	got, err := a.ConnectionStatus(context.Background())
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if got != domain.StatusError {
		t.Fatalf("status = %s, want error", got)
	}
}

func TestQRCode(t *testing.T) {
	connected := false
	a := bridgeAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/status") {
			_ = json.NewEncoder(w).Encode(map[string]any{"connected": connected, "qrCode": !connected})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"value": "qr-payload-1", "image": "data:image/png;base64,AAA"})
	}, func(cfg *Config) { cfg.QRTTL = 90 * time.Second })

	before := time.Now().UTC()
	qr, err := a.QRCode(context.Background())
	if err != nil {
		t.Fatalf("QRCode: %v", err)
	}
	if qr == nil || qr.Value != "qr-payload-1" {
		t.Fatalf("qr = %+v", qr)
	}
	ttl := qr.ExpiresAt.Sub(before)
	if ttl < 85*time.Second || ttl > 95*time.Second {
		t.Fatalf("expiry %v not stamped from configured ttl", ttl)
	}

	connected = true
	qr, err = a.QRCode(context.Background())
	if err != nil || qr != nil {
		t.Fatalf("paired instance should yield (nil, nil), got %v, %v", qr, err)
	}
}

func TestDisconnect(t *testing.T) {
	ok := true
	a := bridgeAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}, nil)

	if !a.Disconnect(context.Background()) {
		t.Fatalf("expected disconnect to succeed")
	}
	ok = false
	if a.Disconnect(context.Background()) {
		t.Fatalf("expected disconnect to report failure")
	}
}
