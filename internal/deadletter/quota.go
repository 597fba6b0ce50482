package deadletter

import (
	"log/slog"
	"sync"

	"github.com/edgewire/telemetry-relay/internal/storage"
)

// QuotaStatus is the result of a quota evaluation.
type QuotaStatus int

const (
	QuotaOK QuotaStatus = iota
	QuotaExceeded
)

func (s QuotaStatus) String() string {
	if s == QuotaExceeded {
		return "exceeded"
	}
	return "ok"
}

// QuotaMonitor tracks persistent-store utilization and gates admission to
// the dead-letter queues. Crossing the threshold is a one-way gate until
// usage drops back under it; a small hysteresis band below the threshold
// prevents flapping around the boundary.
type QuotaMonitor struct {
	store      storage.Store
	threshold  float64
	hysteresis float64
	logger     *slog.Logger

	mu       sync.Mutex
	exceeded bool
}

// QuotaOption configures the quota monitor.
type QuotaOption func(*QuotaMonitor)

// WithQuotaLogger sets the logger.
func WithQuotaLogger(logger *slog.Logger) QuotaOption {
	return func(m *QuotaMonitor) {
		m.logger = logger
	}
}

// WithThreshold sets the utilization fraction above which admissions stop.
func WithThreshold(ratio float64) QuotaOption {
	return func(m *QuotaMonitor) {
		m.threshold = ratio
	}
}

// WithHysteresis sets the band below the threshold that usage must reach
// before admissions resume.
func WithHysteresis(band float64) QuotaOption {
	return func(m *QuotaMonitor) {
		m.hysteresis = band
	}
}

// NewQuotaMonitor creates a quota monitor over the given store.
func NewQuotaMonitor(store storage.Store, options ...QuotaOption) *QuotaMonitor {
	m := &QuotaMonitor{
		store:      store,
		threshold:  0.8,
		hysteresis: 0.05,
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Evaluate recomputes utilization against the threshold. It is called on
// every enqueue attempt and periodically from the engine tick. Transitions
// are logged exactly once, not on every refused enqueue.
func (m *QuotaMonitor) Evaluate() QuotaStatus {
	used, err := m.store.UsedBytes()
	if err != nil {
		// Storage errors block admission rather than risking overflow.
		m.logger.Error("quota evaluation failed, blocking admission", "error", err)
		return QuotaExceeded
	}
	capacity := m.store.CapacityBytes()

	m.mu.Lock()
	defer m.mu.Unlock()

	ratio := 0.0
	if capacity > 0 {
		ratio = float64(used) / float64(capacity)
	}

	switch {
	case !m.exceeded && ratio > m.threshold:
		m.exceeded = true
		m.logger.Error("storage quota exceeded, refusing new dead-letter entries",
			"usedBytes", used,
			"capacityBytes", capacity,
			"threshold", m.threshold)
	case m.exceeded && ratio <= m.threshold-m.hysteresis:
		m.exceeded = false
		m.logger.Info("storage quota recovered, admissions resumed",
			"usedBytes", used,
			"capacityBytes", capacity)
	}

	if m.exceeded {
		return QuotaExceeded
	}
	return QuotaOK
}

// Threshold returns the configured utilization threshold.
func (m *QuotaMonitor) Threshold() float64 {
	return m.threshold
}

// Blocked reports the gate state from the last evaluation.
func (m *QuotaMonitor) Blocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exceeded
}
