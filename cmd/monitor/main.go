package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohamedkhairy/alert-dispatch/internal/alert"
	"github.com/mohamedkhairy/alert-dispatch/internal/api"
	"github.com/mohamedkhairy/alert-dispatch/internal/channels"
	"github.com/mohamedkhairy/alert-dispatch/internal/config"
	"github.com/mohamedkhairy/alert-dispatch/internal/dispatch"
	"github.com/mohamedkhairy/alert-dispatch/internal/marketdata"
	"github.com/mohamedkhairy/alert-dispatch/internal/monitor"
	"github.com/mohamedkhairy/alert-dispatch/internal/rules"
	"github.com/mohamedkhairy/alert-dispatch/internal/storage"
	"github.com/mohamedkhairy/alert-dispatch/pkg/clock"
	"github.com/mohamedkhairy/alert-dispatch/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting monitor service",
		logger.Duration("tick_interval", cfg.Monitor.TickInterval),
		logger.Int("worker_count", cfg.Monitor.WorkerCount),
		logger.Int("health_port", cfg.Monitor.HealthCheckPort),
	)

	// Initialize stores
	store, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize PostgreSQL store",
			logger.ErrorField(err),
		)
	}
	defer store.Close()

	cache, err := storage.NewRedisCache(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to initialize Redis cache",
			logger.ErrorField(err),
		)
	}
	defer cache.Close()

	// Initialize market data provider
	provider, err := marketdata.NewProvider(cfg.MarketData)
	if err != nil {
		logger.Fatal("Failed to initialize market data provider",
			logger.ErrorField(err),
		)
	}
	logger.Info("Market data provider initialized",
		logger.String("provider", provider.Name()),
	)

	// Channel adapter registry
	registry := channels.NewRegistry()
	registry.Register(channels.NewTelegramAdapter(cfg.Channels, cfg.Dispatch.ChannelTimeout))
	registry.Register(channels.NewEmailAdapter(cfg.Channels))
	registry.Register(channels.NewSMSAdapter(cfg.Channels, cfg.Dispatch.ChannelTimeout))
	registry.Register(channels.NewWebhookAdapter(cfg.Dispatch.ChannelTimeout))
	registry.Register(channels.NewSlackAdapter(cfg.Dispatch.ChannelTimeout))
	logger.Info("Channel adapters registered",
		logger.Any("types", registry.Types()),
	)

	// Core pipeline
	clk := clock.Real()
	engine := rules.NewEngine(store, clk)
	lifecycle := alert.NewLifecycle(store, clk, cfg.Dispatch.MaxAttempts)
	dispatcher := dispatch.NewDispatcher(registry, store, store, store, clk, cfg.Dispatch.ChannelTimeout)

	mon := monitor.New(cfg.Monitor, store, engine, lifecycle, dispatcher,
		provider, cache, cache, cfg.MarketData.DefaultSymbol)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := monitor.NewScheduler(mon, cfg.Monitor.TickInterval)
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("Failed to start scheduler",
			logger.ErrorField(err),
		)
	}

	// Health and metrics endpoint
	router := mux.NewRouter()
	router.HandleFunc("/healthz", api.HealthHandler).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Monitor.HealthCheckPort),
		Handler: router,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Health server failed",
				logger.ErrorField(err),
			)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info("Shutting down monitor service",
		logger.String("signal", sig.String()),
	)

	scheduler.Stop()
	cancel()
	healthServer.Shutdown(context.Background())
}
