package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"waconnect/internal/domain"
	"waconnect/internal/util"
)

const defaultBaseURL = "https://api.twilio.com"

// Config holds everything the adapter needs; all of it is read at
// construction, nothing is mutated afterwards.
type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string

	// ContentSIDs maps template names onto Twilio content template SIDs.
	// Templates maps names onto plain {key} bodies used as a fallback when no
	// content SID is registered.
	ContentSIDs map[string]string
	Templates   map[string]string

	PublicWebhookURL string
	AllowUnsigned    bool

	HTTP *http.Client
}

// Adapter talks to the hosted WhatsApp Business API. Connection state comes
// from phone-number verification on the provider side, so there is no QR flow.
type Adapter struct {
	cfg Config
}

func NewAdapter(cfg Config) (*Adapter, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("twilio: account sid and auth token are required")
	}
	if cfg.FromNumber == "" {
		return nil, errors.New("twilio: from number is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{Timeout: 8 * time.Second}
	}
	return &Adapter{cfg: cfg}, nil
}

func (a *Adapter) Variant() domain.ProviderVariant { return domain.VariantTwilio }

type sendResponse struct {
	Sid       string `json:"sid"`
	Status    string `json:"status"`
	ErrorCode *int   `json:"error_code"`
	Message   string `json:"message"`
}

type accountResponse struct {
	Sid    string `json:"sid"`
	Status string `json:"status"`
}

func (a *Adapter) IsAvailable(ctx context.Context) bool {
	_, err := a.fetchAccount(ctx)
	return err == nil
}

func (a *Adapter) SendText(ctx context.Context, recipient, content string) domain.SendResult {
	form := url.Values{}
	form.Set("To", waAddr(recipient))
	form.Set("From", waAddr(a.cfg.FromNumber))
	form.Set("Body", content)
	return a.postMessage(ctx, form)
}

func (a *Adapter) SendMedia(ctx context.Context, recipient, mediaURL string, kind domain.MessageKind, caption string) domain.SendResult {
	// Twilio picks the media handling from the MediaUrl content type; the
	// kind only matters for providers with per-kind endpoints.
	form := url.Values{}
	form.Set("To", waAddr(recipient))
	form.Set("From", waAddr(a.cfg.FromNumber))
	form.Set("MediaUrl", mediaURL)
	if caption != "" {
		form.Set("Body", caption)
	}
	return a.postMessage(ctx, form)
}

func (a *Adapter) SendTemplate(ctx context.Context, recipient, templateName string, params map[string]string) domain.SendResult {
	if sid, ok := a.cfg.ContentSIDs[templateName]; ok {
		vars, _ := json.Marshal(params)
		form := url.Values{}
		form.Set("To", waAddr(recipient))
		form.Set("From", waAddr(a.cfg.FromNumber))
		form.Set("ContentSid", sid)
		form.Set("ContentVariables", string(vars))
		return a.postMessage(ctx, form)
	}
	body, ok := a.cfg.Templates[templateName]
	if !ok {
		return failedResult("unknown template: " + templateName)
	}
	return a.SendText(ctx, recipient, util.RenderTemplate(body, params))
}

// QRCode: phone-number-verified provider, no QR pairing concept.
func (a *Adapter) QRCode(ctx context.Context) (*domain.QRCode, error) {
	return nil, nil
}

func (a *Adapter) ConnectionStatus(ctx context.Context) (domain.ConnectionStatus, error) {
	acct, err := a.fetchAccount(ctx)
	if err != nil {
		return domain.StatusError, err
	}
	switch acct.Status {
	case "active":
		return domain.StatusConnected, nil
	case "suspended":
		return domain.StatusDisconnected, nil
	case "closed":
		return domain.StatusDisconnected, nil
	default:
		// unknown provider vocabulary never maps to Connected
		return domain.StatusError, nil
	}
}

// Disconnect has no provider-side equivalent; reported as a no-op success.
func (a *Adapter) Disconnect(ctx context.Context) bool { return true }

func (a *Adapter) postMessage(ctx context.Context, form url.Values) domain.SendResult {
	endpoint := a.cfg.BaseURL + "/2010-04-01/Accounts/" + a.cfg.AccountSID + "/Messages.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return failedResult(err.Error())
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(a.cfg.AccountSID, a.cfg.AuthToken)

	resp, err := a.cfg.HTTP.Do(req)
	if err != nil {
		return failedResult(err.Error())
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	var out sendResponse
	_ = json.Unmarshal(b, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out.Message
		if msg == "" {
			msg = "twilio send failed: " + resp.Status
		}
		return failedResult(msg)
	}

	return domain.SendResult{
		Success:           true,
		ExternalMessageID: out.Sid,
		Metadata:          map[string]string{"status": out.Status},
		Timestamp:         util.NowUTC(),
	}
}

func (a *Adapter) fetchAccount(ctx context.Context) (accountResponse, error) {
	endpoint := a.cfg.BaseURL + "/2010-04-01/Accounts/" + a.cfg.AccountSID + ".json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return accountResponse{}, err
	}
	req.SetBasicAuth(a.cfg.AccountSID, a.cfg.AuthToken)

	resp, err := a.cfg.HTTP.Do(req)
	if err != nil {
		return accountResponse{}, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return accountResponse{}, errors.New("twilio account fetch failed: " + resp.Status)
	}
	var out accountResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return accountResponse{}, err
	}
	return out, nil
}

func failedResult(msg string) domain.SendResult {
	return domain.SendResult{Success: false, ErrorMessage: msg, Timestamp: util.NowUTC()}
}

// waAddr builds the whatsapp channel address from an E.164-ish number.
func waAddr(number string) string {
	n := util.NormalizePhone(number)
	return "whatsapp:+" + n
}
