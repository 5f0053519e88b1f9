package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-queue/internal/api/router"
	"github.com/wolfman30/clinic-queue/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-queue/internal/config"
	httpmiddleware "github.com/wolfman30/clinic-queue/internal/http/middleware"
	"github.com/wolfman30/clinic-queue/internal/observability/metrics"
	"github.com/wolfman30/clinic-queue/internal/queue"
	"github.com/wolfman30/clinic-queue/internal/realtime"
	"github.com/wolfman30/clinic-queue/internal/sequence"
	"github.com/wolfman30/clinic-queue/pkg/logging"
)

func main() {
	// Local development reads .env; deployed environments set real variables.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic queue API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"queue_store", cfg.QueueStore,
		"sequence_backend", cfg.SequenceBackend,
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a, err := buildApp(ctx, cfg, logger, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if a.relay != nil {
		go func() {
			if err := a.relay.Run(ctx); err != nil {
				logger.Error("realtime relay stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	stop()
	a.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

type app struct {
	handler http.Handler
	service *queue.Service
	hub     *realtime.Hub
	relay   *realtime.RedisRelay
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires storage, the queue service, realtime delivery and HTTP routes.
func buildApp(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, reg prometheus.Registerer, gatherer prometheus.Gatherer) (*app, error) {
	a := &app{}

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if pool != nil {
		a.closers = append(a.closers, pool.Close)
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
	}

	store, err := bootstrap.BuildStore(cfg, pool)
	if err != nil {
		a.Close()
		return nil, err
	}
	counter, err := bootstrap.BuildCounter(cfg, redisClient, pool)
	if err != nil {
		a.Close()
		return nil, err
	}

	queueMetrics := metrics.NewQueueMetrics(reg)
	a.hub = realtime.NewHub(queueMetrics, logger.Component("realtime"))

	var publisher queue.Publisher = a.hub
	if cfg.RealtimeRelay {
		if redisClient == nil {
			a.Close()
			return nil, bootstrap.ErrRedisRequired
		}
		a.relay = realtime.NewRedisRelay(redisClient, cfg.RealtimeChannel, a.hub, logger.Component("relay"))
		publisher = a.relay
	}

	opts := []queue.Option{
		queue.WithPublisher(publisher),
		queue.WithMetrics(queueMetrics),
		queue.WithRanker(queue.NewRanker(cfg.AvgConsultationMinutes)),
	}
	var history queue.HistoryReader
	if auditLog := bootstrap.BuildAuditLog(cfg, pool); auditLog != nil {
		opts = append(opts, queue.WithAudit(auditLog))
		history = auditLog
		logger.Info("token transition audit enabled")
	}

	allocator := sequence.NewAllocator(counter, cfg.ClinicLocation())
	a.service = queue.NewService(store, allocator, logger.Component("queue"), opts...)
	a.hub.SetCommander(a.service)

	var limiter *httpmiddleware.RateLimiter
	if cfg.RateLimitPerSecond > 0 {
		limiter = httpmiddleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
		a.closers = append(a.closers, limiter.Stop)
	}

	a.handler = router.New(&router.Config{
		Logger:             logger,
		QueueHandler:       queue.NewHandler(a.service, history, logger.Component("http")),
		RealtimeHandler:    a.hub.HandleWebSocket,
		MetricsHandler:     promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RequestTimeout:     cfg.RequestTimeout,
		RateLimiter:        limiter,
	})
	return a, nil
}
