package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"waconnect/internal/awsutil"
	"waconnect/internal/config"
	"waconnect/internal/domain"
	"waconnect/internal/httpapi"
	"waconnect/internal/httpserver"
	"waconnect/internal/logging"
	"waconnect/internal/observability"
	"waconnect/internal/providers"
	sqsqueue "waconnect/internal/queue/sqs"
	"waconnect/internal/store/pg"
	"waconnect/internal/tracker"
)

func main() {
	_ = godotenv.Load()

	cfg := config.LoadWebhook()
	logging.Init("webhook", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{})
	if err != nil {
		slog.Error("webhook db connect failed", "err", err)
		os.Exit(1)
	}
	st := pg.New(db)

	observability.Register(prometheus.DefaultRegisterer)

	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		slog.Error("webhook sqs client failed", "err", err)
		os.Exit(1)
	}
	events := &sqsqueue.EventProducer{SQS: sqsClient, QueueURL: cfg.EventsQueueURL}

	opts := providers.Options{
		AllowUnsigned:    cfg.AllowUnsignedWebhooks,
		PublicWebhookURL: cfg.PublicWebhookURL,
	}

	wh := &httpserver.Webhook{
		Messages:    st,
		Tracker:     &tracker.Tracker{Sink: st},
		Events:      events,
		Twilio:      findTwilioAdapter(ctx, st, cfg, opts),
		ResolveZAPI: newBridgeResolver(st, opts),
	}

	r := mux.NewRouter()
	wh.Register(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpserver.Logging(r),
	}
	ops := &http.Server{
		Addr: ":" + cfg.MetricsPort,
		Handler: httpapi.NewOpsMux(2*time.Second, func(ctx context.Context) error {
			return db.Ping(ctx)
		}),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("webhook shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = ops.Shutdown(shutdownCtx)
	}()

	go func() {
		slog.Info("webhook ops listening", "port", cfg.MetricsPort)
		if err := ops.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("webhook ops server failed", "err", err)
		}
	}()

	slog.Info("webhook listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("webhook server failed", "err", err)
		os.Exit(1)
	}
	db.Close()
}

// findTwilioAdapter builds the single business-API adapter from the active
// instance set. Deployments without one still serve bridge webhooks.
func findTwilioAdapter(ctx context.Context, st *pg.Store, cfg config.WebhookConfig, opts providers.Options) providers.Adapter {
	loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	instances, err := st.ListActiveInstances(loadCtx)
	if err != nil {
		slog.Error("webhook instance load failed", "err", err)
		os.Exit(1)
	}

	var picked *domain.Instance
	for i := range instances {
		inst := &instances[i]
		if inst.Variant != domain.VariantTwilio {
			continue
		}
		if picked == nil || inst.IsPrimary {
			picked = inst
		}
	}
	if picked == nil {
		slog.Warn("no active business-api instance, twilio webhook route disabled")
		return nil
	}
	if cfg.TwilioAuthToken != "" {
		// env token wins so signing secrets can stay out of the database
		picked.AccessToken = cfg.TwilioAuthToken
	}

	adapter, err := providers.New(*picked, opts)
	if err != nil {
		slog.Error("twilio adapter construction failed", "instance_id", picked.ID, "err", err)
		os.Exit(1)
	}
	return adapter
}

// newBridgeResolver returns a per-instance adapter lookup with a small cache;
// bridge webhooks carry the instance id in the path.
func newBridgeResolver(st *pg.Store, opts providers.Options) func(ctx context.Context, instanceID string) (providers.Adapter, error) {
	var mu sync.Mutex
	cache := make(map[string]providers.Adapter)

	return func(ctx context.Context, instanceID string) (providers.Adapter, error) {
		mu.Lock()
		if a, ok := cache[instanceID]; ok {
			mu.Unlock()
			return a, nil
		}
		mu.Unlock()

		inst, found, err := st.GetInstance(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		if !found || inst.Variant != domain.VariantZAPI {
			return nil, httpserver.ErrNoSuchBridgeInstance
		}
		adapter, err := providers.New(inst, opts)
		if err != nil {
			return nil, err
		}

		mu.Lock()
		cache[instanceID] = adapter
		mu.Unlock()
		return adapter, nil
	}
}
