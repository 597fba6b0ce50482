// Package metrics exposes delivery counters and queue-depth gauges over
// Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgewire/telemetry-relay/contracts"
	"github.com/edgewire/telemetry-relay/delivery"
)

// Collector implements delivery.MetricsCollector over a Prometheus
// registry.
type Collector struct {
	attempts      *prometheus.CounterVec
	terminals     *prometheus.CounterVec
	replays       *prometheus.CounterVec
	quotaRefusals prometheus.Counter
	queueDepth    *prometheus.GaugeVec
}

// NewCollector registers the relay metrics with reg. Pass
// prometheus.DefaultRegisterer in production; tests use a private
// registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_publish_attempts_total",
			Help: "Transport publish attempts by class and outcome",
		}, []string{"class", "outcome"}),

		terminals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_terminal_total",
			Help: "Messages reaching a terminal state by class",
		}, []string{"class", "state"}),

		replays: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_replays_total",
			Help: "Replay attempts from the network-failure queue",
		}, []string{"status"}),

		quotaRefusals: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_quota_refusals_total",
			Help: "Dead-letter enqueues refused by the storage quota gate",
		}),

		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_queue_depth",
			Help: "Current dead-letter queue depth",
		}, []string{"queue"}),
	}
}

func (c *Collector) RecordAttempt(class contracts.DeliveryClass, outcome contracts.Outcome) {
	c.attempts.WithLabelValues(class.String(), outcome.String()).Inc()
}

func (c *Collector) RecordTerminal(class contracts.DeliveryClass, state delivery.TerminalState) {
	c.terminals.WithLabelValues(class.String(), state.String()).Inc()
}

func (c *Collector) RecordReplay(success bool) {
	status := "failed"
	if success {
		status = "delivered"
	}
	c.replays.WithLabelValues(status).Inc()
}

func (c *Collector) RecordQuotaRefusal() {
	c.quotaRefusals.Inc()
}

func (c *Collector) SetQueueDepth(queue contracts.QueueID, depth int) {
	c.queueDepth.WithLabelValues(queue.String()).Set(float64(depth))
}

// RunServer serves the Prometheus scrape endpoint until ctx is cancelled.
func RunServer(ctx context.Context, addr, path string) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
