package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"waconnect/internal/domain"
	"waconnect/internal/observability"
	"waconnect/internal/providers"
	"waconnect/internal/tracker"
	"waconnect/internal/util"
)

type InstanceSource interface {
	GetInstance(ctx context.Context, id string) (domain.Instance, bool, error)
}

// Outbound is the send pipeline the CRM layer calls into: resolve the
// instance's adapter, rate-limit, wrap the provider call in a breaker, seed
// the delivery tracker with the outcome.
type Outbound struct {
	Instances   InstanceSource
	NewAdapter  func(inst domain.Instance) (providers.Adapter, error)
	Tracker     *tracker.Tracker
	Limiter     *rate.Limiter
	Breaker     *gobreaker.CircuitBreaker
	CallTimeout time.Duration

	mu       sync.Mutex
	adapters map[string]providers.Adapter
}

var ErrUnknownInstance = errors.New("unknown instance")

func (o *Outbound) SendText(ctx context.Context, instanceID, to, content string) (domain.SendResult, error) {
	return o.send(ctx, instanceID, func(ctx context.Context, a providers.Adapter) domain.SendResult {
		return a.SendText(ctx, to, content)
	})
}

func (o *Outbound) SendMedia(ctx context.Context, instanceID, to, mediaURL string, kind domain.MessageKind, caption string) (domain.SendResult, error) {
	return o.send(ctx, instanceID, func(ctx context.Context, a providers.Adapter) domain.SendResult {
		return a.SendMedia(ctx, to, mediaURL, kind, caption)
	})
}

func (o *Outbound) SendTemplate(ctx context.Context, instanceID, to, templateName string, params map[string]string) (domain.SendResult, error) {
	return o.send(ctx, instanceID, func(ctx context.Context, a providers.Adapter) domain.SendResult {
		return a.SendTemplate(ctx, to, templateName, params)
	})
}

func (o *Outbound) send(ctx context.Context, instanceID string, call func(context.Context, providers.Adapter) domain.SendResult) (domain.SendResult, error) {
	adapter, err := o.adapterFor(ctx, instanceID)
	if err != nil {
		return domain.SendResult{}, err
	}
	provider := adapter.Variant()

	if o.Limiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := o.Limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			observability.ProviderSend.WithLabelValues(string(provider), "rate_limited_local").Inc()
			return failedResult("send rate limit exceeded"), nil
		}
	}

	start := time.Now()
	res := o.execute(ctx, provider, adapter, call)
	observability.ProviderSendLatency.WithLabelValues(string(provider)).Observe(time.Since(start).Seconds())

	if res.Success {
		observability.ProviderSend.WithLabelValues(string(provider), "ok").Inc()
	} else {
		observability.ProviderSend.WithLabelValues(string(provider), "error").Inc()
	}

	if o.Tracker != nil {
		if err := o.Tracker.Seed(ctx, provider, res); err != nil {
			slog.Error("delivery seed failed",
				"provider", provider, "external_message_id", res.ExternalMessageID, "err", err)
		}
	}
	return res, nil
}

func (o *Outbound) execute(ctx context.Context, provider domain.ProviderVariant, adapter providers.Adapter, call func(context.Context, providers.Adapter) domain.SendResult) domain.SendResult {
	run := func() (any, error) {
		callCtx := ctx
		if o.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, o.CallTimeout)
			defer cancel()
		}
		res := call(callCtx, adapter)
		if !res.Success {
			// feed the breaker so a flapping provider trips it
			return res, errors.New(res.ErrorMessage)
		}
		return res, nil
	}

	if o.Breaker == nil {
		res, _ := run()
		return res.(domain.SendResult)
	}

	out, err := o.Breaker.Execute(run)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		observability.ProviderSend.WithLabelValues(string(provider), "breaker_open").Inc()
		return failedResult("provider temporarily unavailable")
	}
	if res, ok := out.(domain.SendResult); ok {
		return res
	}
	// breaker returned neither a result nor an open-state error
	return failedResult(fmt.Sprintf("send failed: %v", err))
}

func (o *Outbound) adapterFor(ctx context.Context, instanceID string) (providers.Adapter, error) {
	o.mu.Lock()
	if a, ok := o.adapters[instanceID]; ok {
		o.mu.Unlock()
		return a, nil
	}
	o.mu.Unlock()

	inst, found, err := o.Instances.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, instanceID)
	}
	adapter, err := o.NewAdapter(inst)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.adapters == nil {
		o.adapters = make(map[string]providers.Adapter)
	}
	o.adapters[instanceID] = adapter
	o.mu.Unlock()
	return adapter, nil
}

func failedResult(msg string) domain.SendResult {
	return domain.SendResult{Success: false, ErrorMessage: msg, Timestamp: util.NowUTC()}
}
