package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"waconnect/internal/awsutil"
	"waconnect/internal/config"
	"waconnect/internal/domain"
	"waconnect/internal/httpapi"
	"waconnect/internal/httpserver"
	"waconnect/internal/logging"
	"waconnect/internal/monitor"
	"waconnect/internal/observability"
	"waconnect/internal/providers"
	sqsqueue "waconnect/internal/queue/sqs"
	"waconnect/internal/service"
	"waconnect/internal/store/pg"
	"waconnect/internal/tracker"
)

func main() {
	_ = godotenv.Load()

	cfg := config.LoadMonitor()
	logging.Init("monitor", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{})
	if err != nil {
		slog.Error("monitor db connect failed", "err", err)
		os.Exit(1)
	}
	st := pg.New(db)

	observability.Register(prometheus.DefaultRegisterer)

	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		slog.Error("monitor sqs client failed", "err", err)
		os.Exit(1)
	}
	events := &sqsqueue.EventProducer{SQS: sqsClient, QueueURL: cfg.EventsQueueURL}

	opts := providers.Options{
		QRTTL:            cfg.QRTTL,
		AllowUnsigned:    cfg.AllowUnsignedWebhooks,
		PublicWebhookURL: cfg.PublicWebhookURL,
	}
	factory := func(inst domain.Instance) (providers.Adapter, error) {
		return providers.New(inst, opts)
	}

	mon := &monitor.Monitor{
		Source:      st,
		Notify:      events,
		NewAdapter:  factory,
		CallTimeout: cfg.PollTimeout,
	}

	outbound := &service.Outbound{
		Instances:   st,
		NewAdapter:  factory,
		Tracker:     &tracker.Tracker{Sink: st},
		Limiter:     rate.NewLimiter(rate.Limit(cfg.SendRPS), cfg.SendBurst),
		CallTimeout: cfg.PollTimeout,
		Breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "provider-send",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}

	sched := cron.New()
	_, err = sched.AddFunc("@every "+cfg.PollInterval.String(), func() {
		mon.Poll(ctx)
	})
	if err != nil {
		slog.Error("monitor schedule setup failed", "err", err)
		os.Exit(1)
	}

	api := &httpserver.API{Outbound: outbound, Monitor: mon}
	r := mux.NewRouter()
	api.Register(r)

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
		slog.Info("monitor shutdown", "signal", sig.String())
		stopCtx := sched.Stop()
		<-stopCtx.Done()
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = ops.Shutdown(shutdownCtx)
	}()

	go func() {
		slog.Info("monitor ops listening", "port", cfg.MetricsPort)
		if err := ops.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("monitor ops server failed", "err", err)
		}
	}()

	// first pass immediately so a fresh deploy does not wait a full interval
	go mon.Poll(ctx)
	sched.Start()

	slog.Info("monitor listening", "port", cfg.Port, "poll_interval", cfg.PollInterval.String())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("monitor server failed", "err", err)
		os.Exit(1)
	}
	db.Close()
}
