package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"ibagreement/config"
	"ibagreement/observability"
	"ibagreement/observability/logging"
	telemetry "ibagreement/observability/otel"
	"ibagreement/services/agreement/host"
	"ibagreement/services/agreement/scenario"
)

const defaultConfig = "./agreement.toml"

type options struct {
	configPath   string
	scenarioPath string
	metricsAddr  string
	journalPath  string
	hold         bool
}

// report is what the command prints on success.
type report struct {
	Scenario string            `json:"scenario,omitempty"`
	Steps    []scenario.Result `json:"steps"`
	Snapshot host.Snapshot     `json:"snapshot"`
	Summary  map[string]string `json:"summary"`
	Journal  uint64            `json:"journalEntries"`
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", defaultConfig, "path to the agreement TOML config (created with defaults if missing)")
	flag.StringVar(&opts.scenarioPath, "scenario", "", "path to a YAML scenario to run")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides MetricsAddress)")
	flag.StringVar(&opts.journalPath, "journal", "", "persist the event journal in a LevelDB at this path")
	flag.BoolVar(&opts.hold, "hold", false, "keep serving metrics after the scenario until interrupted")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "agreementctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	if strings.TrimSpace(opts.scenarioPath) == "" {
		return errors.New("-scenario is required")
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Install(logging.Options{
		Service: cfg.Service,
		Env:     cfg.Environment,
		Level:   cfg.LogLevel,
		Writer:  os.Stderr,
	})
	logger.Info("configuration loaded", slog.Any("config", cfg.Sanitized()))

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.ApplyEnv(telemetry.Config{
		ServiceName: cfg.Service,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	}))
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	sc, err := scenario.Load(opts.scenarioPath)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	world, err := scenario.Build(cfg, scenario.BuildOptions{
		Logger:      logger,
		Metrics:     observability.NewAgreementMetrics(registry),
		Tracer:      otel.Tracer("ibagreement/cmd/agreementctl"),
		JournalPath: opts.journalPath,
	})
	if err != nil {
		return fmt.Errorf("build agreement: %w", err)
	}
	defer world.Close()

	addr := opts.metricsAddr
	if addr == "" {
		addr = cfg.MetricsAddress
	}
	if addr != "" {
		srv, err := serveMetrics(addr, registry, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	results, runErr := world.Run(ctx, sc)
	snap, err := world.Host.Snapshot(ctx)
	if err != nil && runErr == nil {
		runErr = err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report{
		Scenario: sc.Name,
		Steps:    results,
		Snapshot: snap,
		Summary:  snap.Summary(),
		Journal:  world.Host.Journal().Len(),
	}); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	logger.Info("scenario completed", slog.String("scenario", sc.Name), slog.Int("steps", len(results)))

	if opts.hold && addr != "" {
		logger.Info("serving metrics until interrupted", slog.String("endpoint", addr))
		<-ctx.Done()
	}
	return nil
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) (*http.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", slog.Any("error", err))
		}
	}()
	logger.Info("metrics listening", slog.String("endpoint", lis.Addr().String()))
	return srv, nil
}
