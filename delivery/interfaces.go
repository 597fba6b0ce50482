package delivery

import (
	"context"
	"time"

	"github.com/edgewire/telemetry-relay/contracts"
)

// Transport is the secure-channel collaborator. Handshake and record-layer
// cryptography live behind this interface; the engine only needs a send
// capability and a connectivity signal.
type Transport interface {
	// Connect establishes the broker connection.
	Connect(ctx context.Context) error

	// Publish sends one message and reports the broker's verdict. The
	// returned error carries detail for logging; the outcome alone drives
	// the engine's state machine.
	Publish(ctx context.Context, msg *contracts.Message) (contracts.Outcome, error)

	// IsConnected reports the link state.
	IsConnected() bool

	Close() error
}

// Clock supplies the engine's monotonic time source. Injected so retry
// timing is inspectable in tests without a live clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall-clock backed Clock used in production.
func SystemClock() Clock { return systemClock{} }

// TerminalState is the final disposition of a message.
type TerminalState int

const (
	// Delivered means the broker acknowledged the message.
	Delivered TerminalState = iota
	// Dropped means the message was discarded after logging: a
	// fire-and-forget message that exhausted its attempts or was rejected,
	// or a message refused by the quota gate.
	Dropped
	// QueuedNetworkFailure means the message was persisted to the
	// network-failure dead-letter queue and will be replayed.
	QueuedNetworkFailure
	// QueuedRejected means the message was persisted to the rejected
	// dead-letter queue and requires external intervention.
	QueuedRejected
)

func (s TerminalState) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case Dropped:
		return "dropped"
	case QueuedNetworkFailure:
		return "queued-network-failure"
	case QueuedRejected:
		return "queued-rejected"
	default:
		return "unknown"
	}
}

// MetricsCollector receives delivery metrics. Implementations must be safe
// for concurrent use.
type MetricsCollector interface {
	// RecordAttempt records one transport attempt and its outcome.
	RecordAttempt(class contracts.DeliveryClass, outcome contracts.Outcome)

	// RecordTerminal records a message reaching a terminal state.
	RecordTerminal(class contracts.DeliveryClass, state TerminalState)

	// RecordReplay records a replay attempt.
	RecordReplay(success bool)

	// RecordQuotaRefusal records an enqueue refused by the quota gate.
	RecordQuotaRefusal()

	// SetQueueDepth records the current depth of a dead-letter queue.
	SetQueueDepth(queue contracts.QueueID, depth int)
}

// NoOpMetricsCollector discards all metrics.
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordAttempt(contracts.DeliveryClass, contracts.Outcome) {}
func (NoOpMetricsCollector) RecordTerminal(contracts.DeliveryClass, TerminalState)    {}
func (NoOpMetricsCollector) RecordReplay(bool)                                        {}
func (NoOpMetricsCollector) RecordQuotaRefusal()                                      {}
func (NoOpMetricsCollector) SetQueueDepth(contracts.QueueID, int)                     {}
