package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ilovespectra/solo-silo-sub000/internal/api"
	"github.com/ilovespectra/solo-silo-sub000/internal/config"
	"github.com/ilovespectra/solo-silo-sub000/internal/connectivity"
	"github.com/ilovespectra/solo-silo-sub000/internal/delivery"
	"github.com/ilovespectra/solo-silo-sub000/internal/healthcheck"
	"github.com/ilovespectra/solo-silo-sub000/internal/observer"
	"github.com/ilovespectra/solo-silo-sub000/internal/queue"
	"github.com/ilovespectra/solo-silo-sub000/internal/storage"
	"github.com/ilovespectra/solo-silo-sub000/internal/syncengine"
	"github.com/ilovespectra/solo-silo-sub000/internal/usecase"
	"github.com/ilovespectra/solo-silo-sub000/pkg/logger"
	"github.com/ilovespectra/solo-silo-sub000/pkg/utils"
)

const shutdownTimeout = 15 * time.Second

func main() {
	time.Local = time.UTC

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(cfg.Metrics.Enabled)

	logger.Log.Info("Starting feedback sync daemon",
		zap.String("environment", cfg.Environment),
		zap.String("backend_url", cfg.Backend.BaseURL),
		zap.String("store_driver", cfg.Store.Driver),
		zap.Bool("nats_enabled", cfg.NATS.URL != ""),
	)

	store, err := storage.NewGormStore(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		logger.Log.Fatal("Invalid store configuration", zap.Error(err))
	}

	deliverer, err := delivery.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, cfg.Backend.UserAgent)
	if err != nil {
		logger.Log.Fatal("Invalid backend configuration", zap.Error(err))
	}

	monitor := connectivity.NewMonitor(cfg.Connectivity.InitialOnline)

	engineOpts := syncengine.Options{
		MaxRetries:       cfg.Sync.MaxRetries,
		AttemptTimeout:   cfg.Backend.Timeout,
		FailFastOnReject: cfg.Sync.FailFastOnReject,
		AutoRetry:        cfg.Sync.AutoRetry,
		RetryBaseDelay:   cfg.Sync.RetryBaseDelay,
		RetryMaxDelay:    cfg.Sync.RetryMaxDelay,
	}
	if cfg.Store.KeepAbandoned {
		engineOpts.Abandoned = storage.NewAbandonedRepoAdapter(store)
	}

	service, err := usecase.NewFeedbackService(store, deliverer, monitor, usecase.ServiceOptions{
		Queue:  queue.Options{PurgeAbandonedOnStart: cfg.Store.PurgeAbandonedOnStart},
		Engine: engineOpts,
	})
	if err != nil {
		logger.Log.Fatal("Failed to initialize feedback service", zap.Error(err))
	}
	service.Init(context.Background())

	var natsSource *connectivity.NATSSource
	if cfg.NATS.URL != "" {
		natsSource, err = connectivity.NewNATSSource(cfg.NATS.URL, cfg.NATS.ConnectivitySubject, service)
		if err != nil {
			// The UI can still post connectivity changes over HTTP
			logger.Log.Error("Failed to start NATS connectivity source", zap.Error(err))
		}
	}

	server := healthcheck.NewServer(cfg.Server.Port, logger.Log, func() map[string]string {
		return map[string]string{
			"memory_only": strconv.FormatBool(service.MemoryOnly()),
			"storage":     service.StorageState(),
			"online":      strconv.FormatBool(service.IsOnline()),
		}
	})
	if cfg.Metrics.Enabled {
		server.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Server.Port))
	} else {
		logger.Log.Info("Metrics endpoint disabled", zap.String("environment", cfg.Environment))
	}
	api.NewHandler(service).Register(server)
	server.Start()

	logger.Log.Info("Feedback API available",
		zap.String("feedback", fmt.Sprintf("http://localhost:%d/api/feedback", cfg.Server.Port)),
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", shutdownTimeout))

	var wg sync.WaitGroup
	wg.Add(2)

	// Stop accepting UI requests
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping HTTP server")
		start := time.Now()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping HTTP server", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] HTTP server stopped", zap.Duration("duration", time.Since(start)))
		}
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping HTTP server",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
	})

	// Let the running session finish, then close the store. Pending items stay stored.
	utils.SafeGo(func() {
		defer wg.Done()
		natsSource.Close()
		logger.Log.Info("[shutdown] Stopping feedback service")
		start := time.Now()
		if err := service.Close(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Failed to close feedback service", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] Feedback service stopped", zap.Duration("duration", time.Since(start)))
		}
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping feedback service",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
	})

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	logger.Log.Info("Feedback sync daemon shutdown complete")
}
