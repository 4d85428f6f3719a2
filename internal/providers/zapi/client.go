package zapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"waconnect/internal/domain"
	"waconnect/internal/util"
)

const defaultQRTTL = 2 * time.Minute

// Config is read once at construction. Endpoints are scoped by instance id
// and token, mirroring the bridge's URL layout.
type Config struct {
	InstanceID string
	Token      string
	BaseURL    string

	WebhookSecret string
	AllowUnsigned bool

	// QRTTL is the validity window stamped onto fetched QR payloads. The
	// bridge does not report one itself.
	QRTTL time.Duration

	HTTP *http.Client
}

// Adapter talks to an unofficial WhatsApp bridge that pairs via QR code and
// reports connection state as a pair of booleans.
type Adapter struct {
	cfg Config
}

func NewAdapter(cfg Config) (*Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("zapi: base url is required")
	}
	if cfg.InstanceID == "" || cfg.Token == "" {
		return nil, errors.New("zapi: instance id and token are required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.QRTTL <= 0 {
		cfg.QRTTL = defaultQRTTL
	}
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{Timeout: 8 * time.Second}
	}
	return &Adapter{cfg: cfg}, nil
}

func (a *Adapter) Variant() domain.ProviderVariant { return domain.VariantZAPI }

func (a *Adapter) endpoint(path string) string {
	return a.cfg.BaseURL + "/instances/" + a.cfg.InstanceID + "/token/" + a.cfg.Token + "/" + path
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	ZapID     string `json:"zaapId"`
	Error     string `json:"error"`
}

type statusResponse struct {
	Connected           bool   `json:"connected"`
	QRCode              bool   `json:"qrCode"`
	SmartphoneConnected bool   `json:"smartphoneConnected"`
	Error               string `json:"error"`
}

type qrResponse struct {
	Value string `json:"value"`
	Image string `json:"image"`
}

func (a *Adapter) IsAvailable(ctx context.Context) bool {
	_, err := a.fetchStatus(ctx)
	return err == nil
}

func (a *Adapter) SendText(ctx context.Context, recipient, content string) domain.SendResult {
	return a.post(ctx, "send-text", map[string]any{
		"phone":   util.NormalizePhone(recipient),
		"message": content,
	})
}

// SendMedia picks the endpoint by media kind; the bridge has one per type.
func (a *Adapter) SendMedia(ctx context.Context, recipient, mediaURL string, kind domain.MessageKind, caption string) domain.SendResult {
	phone := util.NormalizePhone(recipient)
	switch kind {
	case domain.KindImage:
		return a.post(ctx, "send-image", map[string]any{"phone": phone, "image": mediaURL, "caption": caption})
	case domain.KindAudio:
		return a.post(ctx, "send-audio", map[string]any{"phone": phone, "audio": mediaURL})
	case domain.KindVideo:
		return a.post(ctx, "send-video", map[string]any{"phone": phone, "video": mediaURL, "caption": caption})
	default:
		return a.post(ctx, "send-document", map[string]any{"phone": phone, "document": mediaURL, "fileName": caption})
	}
}

// SendTemplate degrades to plain-text {key} substitution; the bridge has no
// native template concept.
func (a *Adapter) SendTemplate(ctx context.Context, recipient, templateName string, params map[string]string) domain.SendResult {
	return a.SendText(ctx, recipient, util.RenderTemplate(templateName, params))
}

func (a *Adapter) QRCode(ctx context.Context) (*domain.QRCode, error) {
	st, err := a.fetchStatus(ctx)
	if err != nil {
		return nil, err
	}
	if st.Connected {
		// already paired; nothing to show
		return nil, nil
	}

	body, err := a.get(ctx, "qr-code")
	if err != nil {
		return nil, err
	}
	var qr qrResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, err
	}
	if qr.Value == "" {
		return nil, nil
	}
	return &domain.QRCode{
		Value:     qr.Value,
		ImageURL:  qr.Image,
		ExpiresAt: util.NowUTC().Add(a.cfg.QRTTL),
	}, nil
}

// ConnectionStatus folds the bridge booleans into the canonical enum:
// connected -> Connected, qrCode -> QrCodeRequired, otherwise Disconnected.
func (a *Adapter) ConnectionStatus(ctx context.Context) (domain.ConnectionStatus, error) {
	st, err := a.fetchStatus(ctx)
	if err != nil {
		return domain.StatusError, err
	}
	switch {
	case st.Connected:
		return domain.StatusConnected, nil
	case st.QRCode:
		return domain.StatusQRCodeRequired, nil
	case st.Error != "":
		return domain.StatusError, nil
	default:
		return domain.StatusDisconnected, nil
	}
}

func (a *Adapter) Disconnect(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint("disconnect"), nil)
	if err != nil {
		return false
	}
	resp, err := a.cfg.HTTP.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (a *Adapter) post(ctx context.Context, path string, payload map[string]any) domain.SendResult {
	b, err := json.Marshal(payload)
	if err != nil {
		return failedResult(err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(path), bytes.NewReader(b))
	if err != nil {
		return failedResult(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.cfg.HTTP.Do(req)
	if err != nil {
		return failedResult(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var out sendResponse
	_ = json.Unmarshal(body, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out.Error
		if msg == "" {
			msg = "zapi send failed: " + resp.Status
		}
		return failedResult(msg)
	}

	res := domain.SendResult{
		Success:           true,
		ExternalMessageID: out.MessageID,
		Timestamp:         util.NowUTC(),
	}
	if out.ZapID != "" {
		res.Metadata = map[string]string{"zaap_id": out.ZapID}
	}
	return res
}

func (a *Adapter) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint(path), nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.cfg.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New("zapi request failed: " + resp.Status)
	}
	return body, nil
}

func (a *Adapter) fetchStatus(ctx context.Context) (statusResponse, error) {
	body, err := a.get(ctx, "status")
	if err != nil {
		return statusResponse{}, err
	}
	var st statusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		return statusResponse{}, err
	}
	return st, nil
}

func failedResult(msg string) domain.SendResult {
	return domain.SendResult{Success: false, ErrorMessage: msg, Timestamp: util.NowUTC()}
}
