package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohamedkhairy/alert-dispatch/internal/alert"
	"github.com/mohamedkhairy/alert-dispatch/internal/api"
	"github.com/mohamedkhairy/alert-dispatch/internal/channels"
	"github.com/mohamedkhairy/alert-dispatch/internal/config"
	"github.com/mohamedkhairy/alert-dispatch/internal/dispatch"
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

	logger.Info("Starting operations API",
		logger.Int("port", cfg.API.Port),
	)

	// Initialize store
	store, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize PostgreSQL store",
			logger.ErrorField(err),
		)
	}
	defer store.Close()

	// Channel adapter registry for the retry path
	registry := channels.NewRegistry()
	registry.Register(channels.NewTelegramAdapter(cfg.Channels, cfg.Dispatch.ChannelTimeout))
	registry.Register(channels.NewEmailAdapter(cfg.Channels))
	registry.Register(channels.NewSMSAdapter(cfg.Channels, cfg.Dispatch.ChannelTimeout))
	registry.Register(channels.NewWebhookAdapter(cfg.Dispatch.ChannelTimeout))
	registry.Register(channels.NewSlackAdapter(cfg.Dispatch.ChannelTimeout))

	clk := clock.Real()
	lifecycle := alert.NewLifecycle(store, clk, cfg.Dispatch.MaxAttempts)
	dispatcher := dispatch.NewDispatcher(registry, store, store, store, clk, cfg.Dispatch.ChannelTimeout)

	// Router
	router := mux.NewRouter()
	handler := api.NewHandler(store, store, lifecycle, dispatcher)
	handler.Routes(router)
	router.HandleFunc("/healthz", api.HealthHandler).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	chain := api.ChainMiddleware(
		api.RecoveryMiddleware(),
		api.LoggingMiddleware(),
		api.CORSMiddleware(),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.API.Port),
		Handler:      chain(router),
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server failed",
				logger.ErrorField(err),
			)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info("Shutting down operations API",
		logger.String("signal", sig.String()),
	)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed",
			logger.ErrorField(err),
		)
	}
}
