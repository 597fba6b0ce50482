package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	relay "github.com/edgewire/telemetry-relay"
	"github.com/edgewire/telemetry-relay/config"
	"github.com/edgewire/telemetry-relay/metrics"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "/etc/telemetry-relay/config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("telemetry-relay %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Observability.Logging)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := []relay.ClientOption{relay.WithLogger(logger)}
	if cfg.Observability.Metrics.Enabled {
		opts = append(opts, relay.WithMetricsCollector(metrics.NewCollector(prometheus.DefaultRegisterer)))
	}

	client, err := relay.NewClient(cfg, opts...)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		// The dead-letter store absorbs traffic until the broker is
		// reachable; keep running and let the retry machinery take over.
		logger.Warn("initial broker connection failed", "error", err)
	}

	logger.Info("telemetry relay started",
		"version", version,
		"broker", cfg.BrokerAddr(),
		"clientId", cfg.Broker.ClientID)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.Run(ctx)
	})
	if cfg.Observability.Metrics.Enabled {
		g.Go(func() error {
			return metrics.RunServer(ctx, cfg.Observability.Metrics.Listen, cfg.Observability.Metrics.Path)
		})
	}
	return g.Wait()
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
