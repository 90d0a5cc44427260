// Command agent is the message-queue observability pipeline's process
// entry point: it loads configuration, wires every stage, starts the
// health/metrics HTTP server, runs the orchestrator loop, and shuts down
// gracefully on SIGINT/SIGTERM, the way cmd/indexer/main.go wires its
// service and waits on a signal channel.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/r3e-network/mq-pipeline/internal/collector"
	"github.com/r3e-network/mq-pipeline/internal/config"
	"github.com/r3e-network/mq-pipeline/internal/eventbus"
	"github.com/r3e-network/mq-pipeline/internal/health"
	"github.com/r3e-network/mq-pipeline/internal/logging"
	"github.com/r3e-network/mq-pipeline/internal/orchestrator"
	"github.com/r3e-network/mq-pipeline/internal/resilience"
	"github.com/r3e-network/mq-pipeline/internal/streamer"
	"github.com/r3e-network/mq-pipeline/internal/synthesizer"
	"github.com/r3e-network/mq-pipeline/internal/telemetry"
	"github.com/r3e-network/mq-pipeline/internal/transformer"
	"github.com/r3e-network/mq-pipeline/pkg/version"
)

func main() {
	log := logging.NewFromEnv("agent")
	log.Info(version.FullVersion())

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load configuration")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := telemetry.New(registry)

	bus := eventbus.New()
	logLifecycleEvents(log, bus)

	collectorBreaker := resilience.New(resilience.Config{
		Name:             "collector",
		FailureThreshold: cfg.Collector.FailureThreshold,
		SuccessThreshold: cfg.Collector.SuccessThreshold,
		VolumeThreshold:  cfg.Collector.VolumeThreshold,
		RetryDelay:       time.Duration(cfg.Collector.RetryDelayMs) * time.Millisecond,
		OperationTimeout: time.Duration(cfg.OperationTimeoutMs) * time.Millisecond,
		OnStateChange:    breakerTransitionHandler(log, metrics, bus, "collector"),
	})
	streamerBreaker := resilience.New(resilience.Config{
		Name:             "streamer",
		FailureThreshold: cfg.Streamer.FailureThreshold,
		SuccessThreshold: cfg.Streamer.SuccessThreshold,
		VolumeThreshold:  cfg.Streamer.VolumeThreshold,
		RetryDelay:       time.Duration(cfg.Streamer.RetryDelayMs) * time.Millisecond,
		OperationTimeout: time.Duration(cfg.OperationTimeoutMs) * time.Millisecond,
		OnStateChange:    breakerTransitionHandler(log, metrics, bus, "streamer"),
	})

	retry := resilience.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Jitter:      0.1,
	}

	operationTimeout := time.Duration(cfg.OperationTimeoutMs) * time.Millisecond
	lookback := time.Duration(cfg.LookbackMinutes) * time.Minute

	if overridesPath := os.Getenv("FIELD_MAPPING_OVERRIDES_PATH"); overridesPath != "" {
		if err := transformer.LoadFieldMappingOverrides(overridesPath); err != nil {
			log.WithError(err).Warn("field mapping overrides not applied")
		}
	}

	col := collector.New(log, cfg.QueryEndpoint(), cfg.APIKey, cfg.AccountID, collectorBreaker, retry, lookback, 0, operationTimeout, metrics)
	tr := transformer.New(log)
	synth := synthesizer.New(log, cfg.AccountID, envFromRegion(cfg.Region), cfg.Region)
	str := streamer.New(log, cfg.IngestEndpoint(), cfg.APIKey, streamerBreaker, retry, operationTimeout, metrics)

	monitor := health.New(log, cfg.MaxConcurrentOperations)
	monitor.Register("collector", "upstream", true, collectorBreaker, nil)
	monitor.Register("streamer", "ingest", true, streamerBreaker, nil)
	monitor.Register("memory", "system", false, nil, health.MemoryCheck("memory"))

	orch := orchestrator.New(log, metrics, bus, monitor, col, tr, synth, str, time.Duration(cfg.MonitoringIntervalMs)*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor.Start(ctx, time.Duration(cfg.HealthCheckIntervalMs)*time.Millisecond)

	probes := health.NewProbes(30 * time.Second)
	probes.SetReady(true)
	srv := startHealthServer(log, cfg.HealthPort, probes, monitor, registry)

	go orch.Run(ctx)
	log.WithFields(map[string]interface{}{
		"account_id": cfg.AccountID,
		"region":     cfg.Region,
		"interval_ms": cfg.MonitoringIntervalMs,
	}).Info("agent started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	probes.SetReady(false)
	orch.Stop()
	monitor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

// envFromRegion derives a coarse deployment-environment label for the
// synthesizer's entity tags; the pipeline has no separate ENVIRONMENT
// setting so REGION doubles as the signal.
func envFromRegion(region string) string {
	if region == "EU" {
		return "eu-prod"
	}
	return "prod"
}

// startHealthServer serves the liveness/readiness/deep-health probes and
// the Prometheus scrape endpoint on their own mux, per spec §4.2/§6.
func startHealthServer(log *logging.Logger, port int, probes *health.Probes, monitor *health.Monitor, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	health.RegisterRoutes(mux, probes, monitor)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    formatAddr(port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("health server stopped unexpectedly")
		}
	}()
	return srv
}

func formatAddr(port int) string {
	if port <= 0 {
		port = 8080
	}
	return ":" + strconv.Itoa(port)
}

// logLifecycleEvents subscribes a lightweight logger to the bus's
// cycle.error channel so failures surface even when no other subscriber
// is registered.
func logLifecycleEvents(log *logging.Logger, bus *eventbus.Bus) {
	bus.Subscribe(eventbus.ChannelCycleError, func(ctx context.Context, e eventbus.Event) {
		payload, ok := e.Payload.(eventbus.CycleErrorPayload)
		if !ok {
			return
		}
		log.WithFields(map[string]interface{}{
			"cycle_id": payload.CycleID,
			"stage":    payload.Stage,
		}).WithError(payload.Err).Warn("cycle stage failed")
	})
}

// breakerTransitionHandler bridges a CircuitBreaker's OnStateChange hook
// into the metrics registry and the event bus, per spec §4.1's observable
// state-transition requirement.
func breakerTransitionHandler(log *logging.Logger, metrics *telemetry.Metrics, bus *eventbus.Bus, name string) func(name string, from, to resilience.State) {
	return func(_ string, from, to resilience.State) {
		log.LogCircuitTransition(name, from.String(), to.String())
		metrics.RecordBreakerTransition(name, from.String(), to.String(), float64(to))
		bus.Publish(eventbus.ChannelBreakerChange, eventbus.BreakerTransitionPayload{
			Name: name,
			From: from.String(),
			To:   to.String(),
		})
	}
}
