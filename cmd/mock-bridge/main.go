package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"

	"waconnect/internal/providers/zapi"
)

// mock-bridge simulates the unofficial WhatsApp bridge for local development:
// instance/token scoped endpoints, a rotating QR while unpaired, and signed
// status callbacks after each send.
type config struct {
	Port       string `envconfig:"PORT" default:"8081"`
	InstanceID string `envconfig:"MOCK_INSTANCE_ID" default:"inst-1"`
	Token      string `envconfig:"MOCK_TOKEN" default:"tok-1"`

	WebhookURL    string `envconfig:"MOCK_WEBHOOK_URL" default:""`
	WebhookSecret string `envconfig:"MOCK_WEBHOOK_SECRET" default:""`

	StartPaired     bool `envconfig:"MOCK_START_PAIRED" default:"false"`
	QRRotateSeconds int  `envconfig:"MOCK_QR_ROTATE_SECONDS" default:"120"`

	CallbackDelayMs  int     `envconfig:"MOCK_CALLBACK_DELAY_MS" default:"300"`
	DeliveryFailRate float64 `envconfig:"MOCK_DELIVERY_FAIL_RATE" default:"0"`
}

type server struct {
	cfg    config
	client *http.Client

	mu        sync.Mutex
	connected bool
	qrValue   string
	qrIssued  time.Time
	nextID    int
	rng       *rand.Rand
}

func main() {
	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))

	s := &server{
		cfg:       cfg,
		client:    &http.Client{Timeout: 5 * time.Second},
		connected: cfg.StartPaired,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	r := mux.NewRouter()
	base := "/instances/{instanceID}/token/{token}"
	r.HandleFunc(base+"/status", s.auth(s.handleStatus)).Methods(http.MethodGet)
	r.HandleFunc(base+"/qr-code", s.auth(s.handleQR)).Methods(http.MethodGet)
	r.HandleFunc(base+"/send-text", s.auth(s.handleSend)).Methods(http.MethodPost)
	r.HandleFunc(base+"/send-image", s.auth(s.handleSend)).Methods(http.MethodPost)
	r.HandleFunc(base+"/send-audio", s.auth(s.handleSend)).Methods(http.MethodPost)
	r.HandleFunc(base+"/send-video", s.auth(s.handleSend)).Methods(http.MethodPost)
	r.HandleFunc(base+"/send-document", s.auth(s.handleSend)).Methods(http.MethodPost)
	r.HandleFunc(base+"/disconnect", s.auth(s.handleDisconnect)).Methods(http.MethodPost)

	// admin side door to drive the pairing state from tests and demos
	r.HandleFunc("/admin/pair", s.handlePair).Methods(http.MethodPost)
	r.HandleFunc("/admin/unpair", s.handleUnpair).Methods(http.MethodPost)

	slog.Info("mock bridge listening", "port", cfg.Port, "paired", cfg.StartPaired)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		slog.Error("mock bridge server failed", "err", err)
		os.Exit(1)
	}
}

func (s *server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		if vars["instanceID"] != s.cfg.InstanceID || vars["token"] != s.cfg.Token {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid instance or token"})
			return
		}
		next(w, r)
	}
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"connected":           connected,
		"smartphoneConnected": connected,
		"qrCode":              !connected,
	})
}

func (s *server) handleQR(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		writeJSON(w, http.StatusOK, map[string]any{"value": ""})
		return
	}
	rotate := time.Duration(s.cfg.QRRotateSeconds) * time.Second
	if s.qrValue == "" || time.Since(s.qrIssued) >= rotate {
		s.qrValue = fmt.Sprintf("mock-qr-%d", time.Now().UnixNano())
		s.qrIssued = time.Now()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"value": s.qrValue,
		"image": "data:image/png;base64,iVBORw0KGgo=",
	})
}

func (s *server) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad json"})
		return
	}

	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "instance not connected"})
		return
	}
	s.nextID++
	messageID := fmt.Sprintf("3EB0MOCK%06d", s.nextID)
	fail := s.rng.Float64() < s.cfg.DeliveryFailRate
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"messageId": messageID,
		"zaapId":    "Z" + messageID,
	})

	go s.fireCallbacks(messageID, fail)
}

// fireCallbacks walks the delivery lifecycle the way the real bridge reports
// it, one signed callback per step.
func (s *server) fireCallbacks(messageID string, fail bool) {
	if s.cfg.WebhookURL == "" {
		return
	}
	delay := time.Duration(s.cfg.CallbackDelayMs) * time.Millisecond

	statuses := []string{"SENT", "RECEIVED", "READ"}
	if fail {
		statuses = []string{"FAILED"}
	}
	for _, status := range statuses {
		time.Sleep(delay)
		body, _ := json.Marshal(map[string]any{
			"type":       "MessageStatusCallback",
			"instanceId": s.cfg.InstanceID,
			"messageId":  messageID,
			"status":     status,
			"momment":    time.Now().UnixMilli(),
		})

		req, err := http.NewRequest(http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if s.cfg.WebhookSecret != "" {
			req.Header.Set("X-Zapi-Signature", zapi.Signature(s.cfg.WebhookSecret, body))
		}

		resp, err := s.client.Do(req)
		if err != nil {
			slog.Warn("mock bridge callback failed", "message_id", messageID, "status", status, "err", err)
			return
		}
		resp.Body.Close()
		slog.Info("mock bridge callback sent", "message_id", messageID, "status", status, "code", resp.StatusCode)
	}
}

func (s *server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.connected = false
	s.qrValue = ""
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"disconnected": true})
}

func (s *server) handlePair(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.connected = true
	s.qrValue = ""
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"connected": true})
}

func (s *server) handleUnpair(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"connected": false})
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
