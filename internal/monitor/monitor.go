package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"waconnect/internal/domain"
	"waconnect/internal/observability"
	"waconnect/internal/providers"
	"waconnect/internal/store"
	"waconnect/internal/util"
)

// InstanceSource is the configuration collaborator: who to poll and where the
// observed status is persisted.
type InstanceSource interface {
	ListActiveInstances(ctx context.Context) ([]domain.Instance, error)
	GetInstance(ctx context.Context, id string) (domain.Instance, bool, error)
	UpdateInstanceStatus(ctx context.Context, in store.InstanceStatusUpdate) error
}

// Notifier receives status-changed and QR-updated events.
type Notifier interface {
	StatusChanged(ctx context.Context, ev domain.StatusChange) error
	QRUpdated(ctx context.Context, ev domain.QRUpdate) error
}

// AdapterFactory builds the provider adapter for one instance.
type AdapterFactory func(inst domain.Instance) (providers.Adapter, error)

// Monitor drives the connection state machine for every active instance. It
// owns the per-instance observed state; nothing else writes it.
type Monitor struct {
	Source      InstanceSource
	Notify      Notifier
	NewAdapter  AdapterFactory
	CallTimeout time.Duration

	// Now is a clock hook for tests; nil means util.NowUTC.
	Now func() time.Time

	mu     sync.Mutex
	states map[string]*instanceState
}

// instanceState serializes all updates for one instance id. Polls for
// different instances run concurrently; two writers for the same instance
// never do.
type instanceState struct {
	mu      sync.Mutex
	status  domain.ConnectionStatus
	adapter providers.Adapter
	lastQR  *domain.QRCode
}

func (m *Monitor) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return util.NowUTC()
}

func (m *Monitor) state(id string) *instanceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states == nil {
		m.states = make(map[string]*instanceState)
	}
	st, ok := m.states[id]
	if !ok {
		st = &instanceState{status: domain.StatusDisconnected}
		m.states[id] = st
	}
	return st
}

// Status returns the last observed status for an instance. Request-handling
// code reads this; only the monitor writes it.
func (m *Monitor) Status(id string) domain.ConnectionStatus {
	st := m.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status
}

// Poll runs one pass over every active instance. A failing instance is
// recorded as Error and never aborts the pass for the others.
func (m *Monitor) Poll(ctx context.Context) {
	instances, err := m.Source.ListActiveInstances(ctx)
	if err != nil {
		slog.Error("monitor list instances failed", "err", err)
		return
	}

	var wg sync.WaitGroup
	for _, inst := range instances {
		wg.Add(1)
		go func(inst domain.Instance) {
			defer wg.Done()
			m.pollInstance(ctx, inst)
		}(inst)
	}
	wg.Wait()
}

func (m *Monitor) pollInstance(ctx context.Context, inst domain.Instance) {
	st := m.state(inst.ID)
	st.mu.Lock()
	defer st.mu.Unlock()
	m.checkLocked(ctx, inst, st, false)
}

// Reconnect forces a fresh status and QR fetch for one instance, outside the
// poll cadence. The QR dedup cache is dropped so the next payload is emitted
// even if the provider hands back the same value.
func (m *Monitor) Reconnect(ctx context.Context, instanceID string) (domain.ConnectionStatus, *domain.QRCode, error) {
	inst, found, err := m.Source.GetInstance(ctx, instanceID)
	if err != nil {
		return domain.StatusError, nil, err
	}
	if !found {
		return domain.StatusError, nil, errUnknownInstance(instanceID)
	}

	st := m.state(inst.ID)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.lastQR = nil
	m.checkLocked(ctx, inst, st, true)
	qr := st.lastQR
	return st.status, qr, nil
}

// checkLocked runs one status check plus the QR flow. Caller holds st.mu, so
// events for this instance go out in the order the state actually changed.
func (m *Monitor) checkLocked(ctx context.Context, inst domain.Instance, st *instanceState, forceQR bool) {
	now := m.now()

	adapter, err := m.adapterFor(inst, st)
	if err != nil {
		// configuration failure: loud, recorded as Error
		slog.Error("monitor adapter construction failed", "instance_id", inst.ID, "err", err)
		observability.ConnectionPolls.WithLabelValues("config_error").Inc()
		m.transition(ctx, inst.ID, st, domain.StatusError, err.Error(), now)
		return
	}

	callCtx := ctx
	if m.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.CallTimeout)
		defer cancel()
	}

	status, err := adapter.ConnectionStatus(callCtx)
	errText := ""
	if err != nil {
		status = domain.StatusError
		errText = err.Error()
		observability.ConnectionPolls.WithLabelValues("transport_error").Inc()
	} else {
		observability.ConnectionPolls.WithLabelValues("ok").Inc()
	}

	m.transition(ctx, inst.ID, st, status, errText, now)

	if status == domain.StatusQRCodeRequired || (forceQR && status != domain.StatusConnected) {
		m.refreshQR(ctx, callCtx, inst.ID, adapter, st, now)
	} else if status == domain.StatusConnected {
		st.lastQR = nil
	}
}

func (m *Monitor) adapterFor(inst domain.Instance, st *instanceState) (providers.Adapter, error) {
	if st.adapter != nil {
		return st.adapter, nil
	}
	adapter, err := m.NewAdapter(inst)
	if err != nil {
		return nil, err
	}
	st.adapter = adapter
	return adapter, nil
}

func (m *Monitor) transition(ctx context.Context, instanceID string, st *instanceState, next domain.ConnectionStatus, errText string, now time.Time) {
	prev := st.status
	if err := m.Source.UpdateInstanceStatus(ctx, store.InstanceStatusUpdate{
		InstanceID:  instanceID,
		Status:      next,
		ErrorText:   errText,
		LastChecked: now,
	}); err != nil {
		slog.Error("monitor persist status failed", "instance_id", instanceID, "err", err)
	}
	if next == prev {
		return
	}
	st.status = next

	observability.ConnectionState.WithLabelValues(instanceID, string(prev)).Set(0)
	observability.ConnectionState.WithLabelValues(instanceID, string(next)).Set(1)

	ev := domain.StatusChange{
		EventID:    util.NewEventID(),
		InstanceID: instanceID,
		OldStatus:  prev,
		NewStatus:  next,
		ErrorText:  errText,
		OccurredAt: now,
	}
	if err := m.Notify.StatusChanged(ctx, ev); err != nil {
		slog.Error("monitor status event publish failed", "instance_id", instanceID, "err", err)
	}
	slog.Info("instance connection status changed",
		"instance_id", instanceID, "old", prev, "new", next, "error", errText)
}

func (m *Monitor) refreshQR(ctx, callCtx context.Context, instanceID string, adapter providers.Adapter, st *instanceState, now time.Time) {
	qr, err := adapter.QRCode(callCtx)
	if err != nil {
		slog.Warn("monitor qr fetch failed", "instance_id", instanceID, "err", err)
		return
	}
	if qr == nil || qr.IsExpired(now) {
		return
	}
	// never re-emit the same unexpired payload
	if st.lastQR != nil && st.lastQR.Value == qr.Value && !st.lastQR.IsExpired(now) {
		return
	}
	st.lastQR = qr

	observability.QRUpdates.Inc()
	ev := domain.QRUpdate{
		EventID:    util.NewEventID(),
		InstanceID: instanceID,
		QR:         *qr,
		OccurredAt: now,
	}
	if err := m.Notify.QRUpdated(ctx, ev); err != nil {
		slog.Error("monitor qr event publish failed", "instance_id", instanceID, "err", err)
	}
}

type errUnknownInstance string

func (e errUnknownInstance) Error() string { return "unknown instance: " + string(e) }

// IsUnknownInstance reports whether err came from a lookup of an instance id
// the source does not know.
func IsUnknownInstance(err error) bool {
	var e errUnknownInstance
	return errors.As(err, &e)
}
