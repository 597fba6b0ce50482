package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/edgewire/telemetry-relay/contracts"
	"github.com/edgewire/telemetry-relay/internal/deadletter"
)

// DispatchResult is the pipeline's verdict after one live attempt.
type DispatchResult int

const (
	// ResultDelivered means the broker acknowledged the message.
	ResultDelivered DispatchResult = iota
	// ResultRetryScheduled means a retry timer was armed.
	ResultRetryScheduled
	// ResultQueuedNetworkFailure means the message was parked in the
	// network-failure dead-letter queue after exhausting its attempts.
	ResultQueuedNetworkFailure
	// ResultQueuedRejected means the broker rejected the message and it
	// was parked in the rejected dead-letter queue.
	ResultQueuedRejected
	// ResultDropped means the message was discarded after logging.
	ResultDropped
)

func (r DispatchResult) String() string {
	switch r {
	case ResultDelivered:
		return "delivered"
	case ResultRetryScheduled:
		return "retry-scheduled"
	case ResultQueuedNetworkFailure:
		return "queued-network-failure"
	case ResultQueuedRejected:
		return "queued-rejected"
	case ResultDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Pipeline drives one message at a time through the shared transport. The
// transport handle is exclusively owned by the pipeline; publish attempts
// from the live path, retry expiries, and replay all serialize through it.
type Pipeline struct {
	transport      Transport
	policies       *PolicyTable
	scheduler      *RetryScheduler
	store          *deadletter.Store
	clock          Clock
	logger         *slog.Logger
	metrics        MetricsCollector
	attemptTimeout time.Duration

	// sendMu enforces at most one message in flight.
	sendMu sync.Mutex
}

// PipelineOption configures the pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the logger.
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithPipelineMetrics sets the metrics collector.
func WithPipelineMetrics(collector MetricsCollector) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = collector
	}
}

// WithAttemptTimeout bounds a single transport attempt. A stuck transport
// fails fast into TransportFailure instead of hanging; this timeout is
// distinct from the retry backoff.
func WithAttemptTimeout(timeout time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.attemptTimeout = timeout
	}
}

// WithPipelineClock sets the clock.
func WithPipelineClock(clock Clock) PipelineOption {
	return func(p *Pipeline) {
		p.clock = clock
	}
}

// NewPipeline creates a publish pipeline over the given transport.
func NewPipeline(transport Transport, policies *PolicyTable, scheduler *RetryScheduler, store *deadletter.Store, options ...PipelineOption) *Pipeline {
	p := &Pipeline{
		transport:      transport,
		policies:       policies,
		scheduler:      scheduler,
		store:          store,
		clock:          SystemClock(),
		logger:         slog.Default(),
		metrics:        NoOpMetricsCollector{},
		attemptTimeout: 10 * time.Second,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Dispatch drives msg through one live attempt and applies the outcome:
// retry scheduling under the class policy, the class terminal action on
// exhaustion, or immediate parking on a broker rejection.
func (p *Pipeline) Dispatch(ctx context.Context, msg *contracts.Message) DispatchResult {
	outcome, err := p.attempt(ctx, msg)
	p.metrics.RecordAttempt(msg.Class, outcome)

	switch outcome {
	case contracts.Acked:
		p.logger.Debug("message delivered",
			"messageId", msg.ID,
			"topic", msg.Topic,
			"attemptCount", msg.AttemptCount)
		p.metrics.RecordTerminal(msg.Class, Delivered)
		return ResultDelivered

	case contracts.Rejected:
		// Retries cannot fix a rejection; remaining attempts are ignored.
		return p.parkRejected(msg, err)

	default:
		return p.handleTransportFailure(msg, err)
	}
}

// Replay drives a dead-letter entry through one attempt, bypassing
// admission and without consuming retry attempts.
func (p *Pipeline) Replay(ctx context.Context, msg *contracts.Message) (contracts.Outcome, error) {
	return p.send(ctx, msg)
}

// attempt performs one counted transport attempt.
func (p *Pipeline) attempt(ctx context.Context, msg *contracts.Message) (contracts.Outcome, error) {
	if msg.SendTimestamp.IsZero() {
		msg.SendTimestamp = p.clock.Now().UTC()
	}
	msg.AttemptCount++
	return p.send(ctx, msg)
}

func (p *Pipeline) send(ctx context.Context, msg *contracts.Message) (contracts.Outcome, error) {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
	defer cancel()

	outcome, err := p.transport.Publish(ctx, msg)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		outcome = contracts.TransportFailure
	}
	return outcome, err
}

func (p *Pipeline) handleTransportFailure(msg *contracts.Message, cause error) DispatchResult {
	policy := p.policies.ForClass(msg.Class)

	if msg.AttemptCount < policy.MaxAttempts {
		delay := policy.Backoff(msg.AttemptCount)
		p.scheduler.Schedule(msg, delay, p.clock.Now())
		p.logger.Debug("transport attempt failed, retry scheduled",
			"messageId", msg.ID,
			"attemptCount", msg.AttemptCount,
			"delay", delay,
			"error", cause)
		return ResultRetryScheduled
	}

	if policy.Terminal == DiscardAfterRetries {
		p.logger.Warn("message dropped after exhausting retries",
			"messageId", msg.ID,
			"topic", msg.Topic,
			"class", msg.Class.String(),
			"attemptCount", msg.AttemptCount,
			"error", cause)
		p.metrics.RecordTerminal(msg.Class, Dropped)
		return ResultDropped
	}

	entry := contracts.DeadLetterEntry{Message: *msg, Reason: contracts.NetworkFailure}
	if err := p.store.Enqueue(entry); err != nil {
		return p.reportLost(msg, err)
	}
	p.metrics.RecordTerminal(msg.Class, QueuedNetworkFailure)
	return ResultQueuedNetworkFailure
}

func (p *Pipeline) parkRejected(msg *contracts.Message, cause error) DispatchResult {
	p.logger.Warn("message rejected by broker",
		"messageId", msg.ID,
		"topic", msg.Topic,
		"attemptCount", msg.AttemptCount,
		"error", cause)

	// Fire-and-forget never touches the dead-letter store.
	if msg.Class == contracts.FireAndForget {
		p.metrics.RecordTerminal(msg.Class, Dropped)
		return ResultDropped
	}

	entry := contracts.DeadLetterEntry{Message: *msg, Reason: contracts.RejectedByBroker}
	if err := p.store.Enqueue(entry); err != nil {
		return p.reportLost(msg, err)
	}
	p.metrics.RecordTerminal(msg.Class, QueuedRejected)
	return ResultQueuedRejected
}

// reportLost handles an enqueue refused by the quota gate. The message is
// not durably queued; the loss is never silent.
func (p *Pipeline) reportLost(msg *contracts.Message, err error) DispatchResult {
	if errors.Is(err, contracts.ErrQuotaExceeded) {
		p.metrics.RecordQuotaRefusal()
	}
	p.logger.Error("message lost: dead-letter enqueue refused",
		"messageId", msg.ID,
		"topic", msg.Topic,
		"class", msg.Class.String(),
		"error", err)
	p.metrics.RecordTerminal(msg.Class, Dropped)
	return ResultDropped
}
