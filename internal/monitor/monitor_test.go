package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"waconnect/internal/domain"
	"waconnect/internal/providers"
	"waconnect/internal/store"
)

type fakeAdapter struct {
	mu       sync.Mutex
	status   domain.ConnectionStatus
	err      error
	qr       *domain.QRCode
	qrCalls  int
	qrErr    error
}

func (f *fakeAdapter) set(status domain.ConnectionStatus, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.err = status, err
}

func (f *fakeAdapter) setQR(qr *domain.QRCode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qr = qr
}

func (f *fakeAdapter) Variant() domain.ProviderVariant { return domain.VariantZAPI }
func (f *fakeAdapter) IsAvailable(context.Context) bool { return true }
func (f *fakeAdapter) SendText(context.Context, string, string) domain.SendResult {
	return domain.SendResult{}
}
func (f *fakeAdapter) SendMedia(context.Context, string, string, domain.MessageKind, string) domain.SendResult {
	return domain.SendResult{}
}
func (f *fakeAdapter) SendTemplate(context.Context, string, string, map[string]string) domain.SendResult {
	return domain.SendResult{}
}
func (f *fakeAdapter) QRCode(context.Context) (*domain.QRCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qrCalls++
	return f.qr, f.qrErr
}
func (f *fakeAdapter) ConnectionStatus(context.Context) (domain.ConnectionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.StatusError, f.err
	}
	return f.status, nil
}
func (f *fakeAdapter) Disconnect(context.Context) bool               { return true }
func (f *fakeAdapter) ParseWebhook([]byte) *domain.WebhookEvent      { return nil }
func (f *fakeAdapter) ValidateWebhook(string, []byte) bool           { return true }

type fakeSource struct {
	mu        sync.Mutex
	instances []domain.Instance
	updates   []store.InstanceStatusUpdate
}

func (s *fakeSource) ListActiveInstances(context.Context) ([]domain.Instance, error) {
	return s.instances, nil
}

func (s *fakeSource) GetInstance(_ context.Context, id string) (domain.Instance, bool, error) {
	for _, inst := range s.instances {
		if inst.ID == id {
			return inst, true, nil
		}
	}
	return domain.Instance{}, false, nil
}

func (s *fakeSource) UpdateInstanceStatus(_ context.Context, in store.InstanceStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, in)
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	statuses []domain.StatusChange
	qrs      []domain.QRUpdate
}

func (n *fakeNotifier) StatusChanged(_ context.Context, ev domain.StatusChange) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, ev)
	return nil
}

func (n *fakeNotifier) QRUpdated(_ context.Context, ev domain.QRUpdate) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.qrs = append(n.qrs, ev)
	return nil
}

func (n *fakeNotifier) statusFor(instanceID string) []domain.StatusChange {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.StatusChange
	for _, ev := range n.statuses {
		if ev.InstanceID == instanceID {
			out = append(out, ev)
		}
	}
	return out
}

func newTestMonitor(adapters map[string]*fakeAdapter, src *fakeSource, nt *fakeNotifier) *Monitor {
	return &Monitor{
		Source: src,
		Notify: nt,
		NewAdapter: func(inst domain.Instance) (providers.Adapter, error) {
			a, ok := adapters[inst.ID]
			if !ok {
				return nil, errors.New("no credentials for " + inst.ID)
			}
			return a, nil
		},
	}
}

func TestStatusChangeEmittedOnlyOnTransition(t *testing.T) {
	a := &fakeAdapter{status: domain.StatusDisconnected}
	src := &fakeSource{instances: []domain.Instance{{ID: "i1", Variant: domain.VariantZAPI, IsActive: true}}}
	nt := &fakeNotifier{}
	m := newTestMonitor(map[string]*fakeAdapter{"i1": a}, src, nt)
	ctx := context.Background()

	// initial state is disconnected; a disconnected poll is not a transition
	m.Poll(ctx)
	if len(nt.statuses) != 0 {
		t.Fatalf("expected no events, got %d", len(nt.statuses))
	}

	a.set(domain.StatusConnected, nil)
	m.Poll(ctx)
	m.Poll(ctx) // unchanged, no second event

	evs := nt.statusFor("i1")
	if len(evs) != 1 {
		t.Fatalf("expected 1 status event, got %d", len(evs))
	}
	if evs[0].OldStatus != domain.StatusDisconnected || evs[0].NewStatus != domain.StatusConnected {
		t.Fatalf("unexpected transition %s -> %s", evs[0].OldStatus, evs[0].NewStatus)
	}
	if m.Status("i1") != domain.StatusConnected {
		t.Fatalf("stored status = %q", m.Status("i1"))
	}
}

func TestPerInstanceFailureIsolation(t *testing.T) {
	broken := &fakeAdapter{err: errors.New("connection refused")}
	healthy := &fakeAdapter{status: domain.StatusConnected}
	src := &fakeSource{instances: []domain.Instance{
		{ID: "bad", Variant: domain.VariantZAPI, IsActive: true},
		{ID: "good", Variant: domain.VariantZAPI, IsActive: true},
	}}
	nt := &fakeNotifier{}
	m := newTestMonitor(map[string]*fakeAdapter{"bad": broken, "good": healthy}, src, nt)

	m.Poll(context.Background())

	badEvs := nt.statusFor("bad")
	if len(badEvs) != 1 || badEvs[0].NewStatus != domain.StatusError {
		t.Fatalf("broken instance should be in error state, got %+v", badEvs)
	}
	if badEvs[0].ErrorText == "" {
		t.Fatalf("error event missing error text")
	}
	goodEvs := nt.statusFor("good")
	if len(goodEvs) != 1 || goodEvs[0].NewStatus != domain.StatusConnected {
		t.Fatalf("healthy instance should still be polled, got %+v", goodEvs)
	}
}

func TestQRNotReemittedWhileUnexpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &fakeAdapter{status: domain.StatusQRCodeRequired}
	a.setQR(&domain.QRCode{Value: "qr-1", ExpiresAt: now.Add(2 * time.Minute)})
	src := &fakeSource{instances: []domain.Instance{{ID: "i1", Variant: domain.VariantZAPI, IsActive: true}}}
	nt := &fakeNotifier{}
	m := newTestMonitor(map[string]*fakeAdapter{"i1": a}, src, nt)
	m.Now = func() time.Time { return now }
	ctx := context.Background()

	m.Poll(ctx)
	m.Poll(ctx)

	if len(nt.qrs) != 1 {
		t.Fatalf("expected 1 qr event, got %d", len(nt.qrs))
	}
	if nt.qrs[0].QR.Value != "qr-1" {
		t.Fatalf("unexpected qr value %q", nt.qrs[0].QR.Value)
	}
}

func TestQRRefetchedAfterExpiry(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start
	a := &fakeAdapter{status: domain.StatusQRCodeRequired}
	a.setQR(&domain.QRCode{Value: "qr-1", ExpiresAt: start.Add(120 * time.Second)})
	src := &fakeSource{instances: []domain.Instance{{ID: "i1", Variant: domain.VariantZAPI, IsActive: true}}}
	nt := &fakeNotifier{}
	m := newTestMonitor(map[string]*fakeAdapter{"i1": a}, src, nt)
	m.Now = func() time.Time { return now }
	ctx := context.Background()

	m.Poll(ctx)
	if len(nt.qrs) != 1 {
		t.Fatalf("expected initial qr event, got %d", len(nt.qrs))
	}

	// 121 seconds later the old payload is expired; the provider hands back a
	// fresh one which must be emitted
	now = start.Add(121 * time.Second)
	a.setQR(&domain.QRCode{Value: "qr-2", ExpiresAt: now.Add(120 * time.Second)})
	m.Poll(ctx)

	if len(nt.qrs) != 2 {
		t.Fatalf("expected fresh qr event after expiry, got %d events", len(nt.qrs))
	}
	if nt.qrs[1].QR.Value != "qr-2" {
		t.Fatalf("expected fresh payload, got %q", nt.qrs[1].QR.Value)
	}
}

func TestExpiredQRNeverEmitted(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &fakeAdapter{status: domain.StatusQRCodeRequired}
	a.setQR(&domain.QRCode{Value: "stale", ExpiresAt: now.Add(-time.Second)})
	src := &fakeSource{instances: []domain.Instance{{ID: "i1", Variant: domain.VariantZAPI, IsActive: true}}}
	nt := &fakeNotifier{}
	m := newTestMonitor(map[string]*fakeAdapter{"i1": a}, src, nt)
	m.Now = func() time.Time { return now }

	m.Poll(context.Background())
	if len(nt.qrs) != 0 {
		t.Fatalf("expired payload must not be emitted")
	}
}

func TestReconnectForcesFreshQR(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := &fakeAdapter{status: domain.StatusQRCodeRequired}
	a.setQR(&domain.QRCode{Value: "qr-1", ExpiresAt: now.Add(2 * time.Minute)})
	src := &fakeSource{instances: []domain.Instance{{ID: "i1", Variant: domain.VariantZAPI, IsActive: true}}}
	nt := &fakeNotifier{}
	m := newTestMonitor(map[string]*fakeAdapter{"i1": a}, src, nt)
	m.Now = func() time.Time { return now }
	ctx := context.Background()

	m.Poll(ctx)

	// operator asks for a fresh QR; same provider value must still be emitted
	status, qr, err := m.Reconnect(ctx, "i1")
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if status != domain.StatusQRCodeRequired {
		t.Fatalf("status = %q", status)
	}
	if qr == nil || qr.Value != "qr-1" {
		t.Fatalf("reconnect should return the fetched payload, got %+v", qr)
	}
	if len(nt.qrs) != 2 {
		t.Fatalf("expected reconnect to re-emit, got %d events", len(nt.qrs))
	}
}

func TestReconnectUnknownInstance(t *testing.T) {
	src := &fakeSource{}
	m := newTestMonitor(nil, src, &fakeNotifier{})
	if _, _, err := m.Reconnect(context.Background(), "ghost"); err == nil {
		t.Fatalf("expected error for unknown instance")
	}
}
