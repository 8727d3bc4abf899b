package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ilovespectra/solo-silo-sub000/internal/config"
	"github.com/ilovespectra/solo-silo-sub000/internal/model"
	"github.com/ilovespectra/solo-silo-sub000/internal/observer"
	"github.com/ilovespectra/solo-silo-sub000/pkg/logger"
)

const (
	endpointFeedback     = "feedback"
	endpointConnectivity = "connectivity"
)

// Task is one request the load generator sends to the daemon.
type Task struct {
	Endpoint string
	Body     any
}

type loadgen struct {
	apiURL string
	client *http.Client
	runID  string
}

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	apiURL := flag.String("api", fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port), "Feedback daemon base URL")
	rate := flag.Int("rate", 20, "Target feedback requests per second")
	duration := flag.Duration("duration", 30*time.Second, "Load test duration")
	concurrency := flag.Int("concurrency", 4, "Number of concurrent workers")
	flapEvery := flag.Duration("flap", 0, "Toggle daemon connectivity at this interval (0 disables)")
	backendPort := flag.Int("fake-backend-port", 0, "Serve a fake media backend on this port (0 disables)")
	failureRate := flag.Float64("failure-rate", 0.2, "Share of fake backend responses that are 500s")
	metricsPort := flag.Int("metrics-port", 9092, "Port for Prometheus metrics endpoint")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Feedback Load Generator\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Queues fake feedback through the daemon's local API and optionally plays the media backend.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *rate <= 0 {
		*rate = 20
	}

	if err := logger.Initialize(*logLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var servers []*http.Server
	servers = append(servers, startServer(*metricsPort, metricsMux()))
	if *backendPort > 0 {
		servers = append(servers, startServer(*backendPort, fakeBackendMux(*failureRate)))
	}

	lg := &loadgen{
		apiURL: strings.TrimRight(*apiURL, "/"),
		client: &http.Client{Timeout: 5 * time.Second},
		runID:  uuid.NewString(),
	}

	logger.Log.Info("Starting feedback load generator",
		zap.String("run_id", lg.runID),
		zap.String("api", lg.apiURL),
		zap.Int("rate_per_sec", *rate),
		zap.Duration("duration", *duration),
		zap.Int("concurrency", *concurrency),
		zap.Duration("flap", *flapEvery),
		zap.Int("fake_backend_port", *backendPort),
	)

	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(*concurrency, func(data interface{}) {
		defer wg.Done()
		lg.send(data.(Task))
	})
	if err != nil {
		logger.Log.Fatal("Failed to create worker pool", zap.Error(err))
	}
	defer pool.Release()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var loopWg sync.WaitGroup
	loopWg.Add(1)
	go runLoadLoop(ctx, *rate, *duration, *flapEvery, pool, &wg, &loopWg)

	loopDone := make(chan struct{})
	go func() {
		loopWg.Wait()
		close(loopDone)
	}()

	select {
	case sig := <-sigChan:
		logger.Log.Info("Received termination signal, shutting down...", zap.String("signal", sig.String()))
		cancel()
		<-loopDone
	case <-loopDone:
		logger.Log.Info("Load generation duration finished")
	}

	logger.Log.Info("Waiting for in-flight requests...")
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Server shutdown error", zap.String("addr", s.Addr), zap.Error(err))
		}
	}
	logger.Log.Info("Load generator shutdown complete.")
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// fakeBackendMux accepts every feedback endpoint and fails a share of requests with 500.
func fakeBackendMux(failureRate float64) *http.ServeMux {
	mux := http.NewServeMux()
	handle := func(w http.ResponseWriter, r *http.Request) {
		if gofakeit.Float64Range(0, 1) < failureRate {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
	mux.HandleFunc("POST /api/search/{query}/{verb}", handle)
	mux.HandleFunc("POST /api/media/{id}/keywords", handle)
	return mux
}

func startServer(port int, handler http.Handler) *http.Server {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}
	go func() {
		logger.Log.Info("Starting server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Error("Server failed", zap.String("addr", server.Addr), zap.Error(err))
		}
	}()
	return server
}

// runLoadLoop submits one feedback task per tick and, with flap set, a
// connectivity toggle per flap interval.
func runLoadLoop(ctx context.Context, rate int, duration, flap time.Duration, pool *ants.PoolWithFunc, wg, loopWg *sync.WaitGroup) {
	defer loopWg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	durationTimer := time.NewTimer(duration)
	defer durationTimer.Stop()

	var flapC <-chan time.Time
	if flap > 0 {
		flapTicker := time.NewTicker(flap)
		defer flapTicker.Stop()
		flapC = flapTicker.C
	}
	online := true

	submit := func(task Task) {
		observer.IncLoadgenRequestsAttempted(task.Endpoint)
		wg.Add(1)
		if err := pool.Invoke(task); err != nil {
			wg.Done()
			logger.Log.Warn("Failed to invoke worker pool", zap.Error(err))
			observer.IncLoadgenRequestErrors(task.Endpoint)
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("Load generation loop stopping due to context cancellation")
			return
		case <-durationTimer.C:
			logger.Log.Info("Load generation loop stopping after specified duration")
			return
		case <-flapC:
			online = !online
			submit(Task{Endpoint: endpointConnectivity, Body: map[string]bool{"online": online}})
		case <-ticker.C:
			action := model.Actions()[gofakeit.Number(0, len(model.Actions())-1)]
			submit(Task{Endpoint: endpointFeedback, Body: model.NewAddRequest(action)})
		}
	}
}

func (lg *loadgen) send(task Task) {
	path := "/api/" + task.Endpoint
	payload, err := json.Marshal(task.Body)
	if err != nil {
		logger.Log.Error("Failed to marshal task", zap.String("endpoint", task.Endpoint), zap.Error(err))
		observer.IncLoadgenRequestErrors(task.Endpoint)
		return
	}

	req, err := http.NewRequest(http.MethodPost, lg.apiURL+path, bytes.NewReader(payload))
	if err != nil {
		observer.IncLoadgenRequestErrors(task.Endpoint)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Loadgen-Run", lg.runID)

	resp, err := lg.client.Do(req)
	if err != nil {
		logger.Log.Warn("Request failed", zap.String("path", path), zap.Error(err))
		observer.IncLoadgenRequestErrors(task.Endpoint)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		logger.Log.Warn("Request rejected", zap.String("path", path), zap.Int("status", resp.StatusCode))
		observer.IncLoadgenRequestErrors(task.Endpoint)
	}
}
