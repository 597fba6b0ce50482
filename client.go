package relay

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/edgewire/telemetry-relay/config"
	"github.com/edgewire/telemetry-relay/contracts"
	"github.com/edgewire/telemetry-relay/delivery"
	"github.com/edgewire/telemetry-relay/internal/deadletter"
	"github.com/edgewire/telemetry-relay/internal/storage"
	"github.com/edgewire/telemetry-relay/transports/pahomqtt"
)

// Client is the main entry point. It wires the persistent dead-letter
// store, the MQTT transport, and the delivery engine from one Config and
// exposes the producer-facing surface.
type Client struct {
	cfg       *config.Config
	logger    *slog.Logger
	transport delivery.Transport
	backend   storage.Store
	store     *deadletter.Store
	engine    *delivery.Engine
}

// clientConfig holds client construction overrides.
type clientConfig struct {
	logger    *slog.Logger
	transport delivery.Transport
	collector delivery.MetricsCollector
	clock     delivery.Clock
}

// ClientOption configures the client.
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithTransport overrides the MQTT transport. Used by tests and by
// deployments with a custom secure channel.
func WithTransport(transport delivery.Transport) ClientOption {
	return func(cfg *clientConfig) {
		cfg.transport = transport
	}
}

// WithMetricsCollector sets the delivery metrics sink.
func WithMetricsCollector(collector delivery.MetricsCollector) ClientOption {
	return func(cfg *clientConfig) {
		cfg.collector = collector
	}
}

// WithClock overrides the engine clock.
func WithClock(clock delivery.Clock) ClientOption {
	return func(cfg *clientConfig) {
		cfg.clock = clock
	}
}

// NewClient builds a client from cfg. The dead-letter database is opened
// (and its head state recovered) before the broker is dialed, so queued
// traffic survives any number of restarts.
func NewClient(cfg *config.Config, options ...ClientOption) (*Client, error) {
	cc := &clientConfig{
		logger:    slog.Default(),
		collector: delivery.NoOpMetricsCollector{},
	}
	for _, opt := range options {
		opt(cc)
	}

	backend, err := storage.OpenBoltStore(cfg.Storage.Path, uint64(cfg.Storage.Capacity))
	if err != nil {
		return nil, fmt.Errorf("opening dead-letter store: %w", err)
	}

	quota := deadletter.NewQuotaMonitor(backend,
		deadletter.WithThreshold(cfg.Storage.QuotaThreshold),
		deadletter.WithHysteresis(cfg.Storage.QuotaHysteresis),
		deadletter.WithQuotaLogger(cc.logger),
	)
	store := deadletter.NewStore(backend, quota)

	transport := cc.transport
	if transport == nil {
		transport, err = buildTransport(cfg, cc.logger)
		if err != nil {
			backend.Close()
			return nil, err
		}
	}

	engineOpts := []delivery.EngineOption{
		delivery.WithEngineLogger(cc.logger),
		delivery.WithEngineMetrics(cc.collector),
	}
	if cc.clock != nil {
		engineOpts = append(engineOpts, delivery.WithEngineClock(cc.clock))
	}

	engine := delivery.NewEngine(
		transport,
		store,
		delivery.NewPolicyTable(cfg.Delivery.BackoffBase.Duration(), cfg.Delivery.BackoffCap.Duration()),
		[]delivery.PipelineOption{delivery.WithAttemptTimeout(cfg.Delivery.AttemptTimeout.Duration())},
		engineOpts...,
	)

	return &Client{
		cfg:       cfg,
		logger:    cc.logger,
		transport: transport,
		backend:   backend,
		store:     store,
		engine:    engine,
	}, nil
}

func buildTransport(cfg *config.Config, logger *slog.Logger) (delivery.Transport, error) {
	opts := []pahomqtt.TransportOption{
		pahomqtt.WithKeepAlive(cfg.Broker.KeepAlive.Duration()),
		pahomqtt.WithCleanStart(cfg.Broker.CleanStart),
		pahomqtt.WithTransportLogger(logger),
	}
	if cfg.Broker.Username != "" {
		opts = append(opts, pahomqtt.WithCredentials(cfg.Broker.Username, cfg.Broker.Password))
	}
	if cfg.Broker.TLS.Enabled {
		tlsConfig, err := buildTLSConfig(cfg.Broker.TLS)
		if err != nil {
			return nil, fmt.Errorf("building TLS config: %w", err)
		}
		opts = append(opts, pahomqtt.WithTLSConfig(tlsConfig))
	}
	return pahomqtt.NewTransport(cfg.BrokerAddr(), cfg.Broker.ClientID, opts...), nil
}

func buildTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates parsed from %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// Submit queues one outbound message under the device topic namespace.
// Fire-and-forget from the caller's point of view: the returned ID is for
// correlation in logs and status output only.
func (c *Client) Submit(ctx context.Context, subtopic string, payload []byte, class contracts.DeliveryClass, eventTime time.Time) (uint64, error) {
	topic, err := contracts.FormatTopic(c.cfg.Broker.ClientID, subtopic)
	if err != nil {
		return 0, err
	}
	return c.engine.Submit(ctx, topic, payload, class, eventTime)
}

// Connect dials the broker and nudges a replay of anything queued from
// previous sessions.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}
	c.engine.Nudge(ctx)
	return nil
}

// Run drives the engine until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	return c.engine.Run(ctx, c.cfg.Delivery.TickInterval.Duration())
}

// Stats returns the current delivery counters and queue depths.
func (c *Client) Stats() delivery.Stats {
	return c.engine.Stats()
}

// Nudge triggers a replay drain of the network-failure queue.
func (c *Client) Nudge(ctx context.Context) {
	c.engine.Nudge(ctx)
}

// DeclareConnectionDown fast-fails all pending traffic to the dead-letter
// store. See delivery.Engine.DeclareConnectionDown.
func (c *Client) DeclareConnectionDown() {
	c.engine.DeclareConnectionDown()
}

// DeclareConnectionUp clears the down state and triggers a replay.
func (c *Client) DeclareConnectionUp(ctx context.Context) {
	c.engine.DeclareConnectionUp(ctx)
}

// Engine exposes the underlying delivery engine.
func (c *Client) Engine() *delivery.Engine {
	return c.engine
}

// Close releases the transport and the dead-letter database.
func (c *Client) Close() error {
	if err := c.transport.Close(); err != nil {
		c.logger.Warn("transport close failed", "error", err)
	}
	return c.backend.Close()
}
