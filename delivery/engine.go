package delivery

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgewire/telemetry-relay/contracts"
	"github.com/edgewire/telemetry-relay/internal/deadletter"
)

// Engine composes the admission controller, publish pipeline, retry
// scheduler, dead-letter store, and replayer behind a uniform Submit entry
// point. There is exactly one logical engine instance per connection.
type Engine struct {
	ids       contracts.IDSource
	policies  *PolicyTable
	admission *AdmissionController
	pipeline  *Pipeline
	scheduler *RetryScheduler
	store     *deadletter.Store
	replayer  *Replayer
	transport Transport
	clock     Clock
	logger    *slog.Logger
	metrics   MetricsCollector

	// mu serializes Submit, Tick, and the administrative paths; the
	// engine is a single cooperative unit over one shared connection.
	mu   sync.Mutex
	down bool

	delivered     atomic.Uint64
	dropped       atomic.Uint64
	queuedNetwork atomic.Uint64
	queuedReject  atomic.Uint64
	replayed      atomic.Uint64
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithEngineMetrics sets the metrics collector.
func WithEngineMetrics(collector MetricsCollector) EngineOption {
	return func(e *Engine) {
		e.metrics = collector
	}
}

// WithEngineClock sets the clock.
func WithEngineClock(clock Clock) EngineOption {
	return func(e *Engine) {
		e.clock = clock
	}
}

// NewEngine wires the reliability engine over a transport, a dead-letter
// store, and the configured policy table.
func NewEngine(transport Transport, store *deadletter.Store, policies *PolicyTable, pipelineOpts []PipelineOption, options ...EngineOption) *Engine {
	e := &Engine{
		policies:  policies,
		scheduler: NewRetryScheduler(),
		store:     store,
		transport: transport,
		clock:     SystemClock(),
		logger:    slog.Default(),
		metrics:   NoOpMetricsCollector{},
	}
	for _, opt := range options {
		opt(e)
	}

	opts := append([]PipelineOption{
		WithPipelineLogger(e.logger),
		WithPipelineMetrics(e.metrics),
		WithPipelineClock(e.clock),
	}, pipelineOpts...)
	e.pipeline = NewPipeline(transport, policies, e.scheduler, store, opts...)
	e.admission = NewAdmissionController(store, e.logger)
	e.replayer = NewReplayer(e.pipeline, store, e.logger, e.metrics)
	return e
}

// Submit hands a new outbound message to the engine and returns its ID.
// Fire-and-forget from the producer's point of view: once admitted, all
// failures are handled internally and surface only through logs and
// status counters.
func (e *Engine) Submit(ctx context.Context, topic string, payload []byte, class contracts.DeliveryClass, eventTime time.Time) (uint64, error) {
	if err := contracts.ValidateTopic(topic); err != nil {
		return 0, err
	}

	msg := contracts.NewMessage(&e.ids, topic, payload, class, eventTime)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.down {
		e.fastFail(msg)
		return msg.ID, nil
	}

	switch e.admission.Admit(msg) {
	case RouteDeadLetter:
		e.parkAdmitted(ctx, msg)
	default:
		e.applyResult(e.pipeline.Dispatch(ctx, msg))
	}
	return msg.ID, nil
}

// Tick advances the engine: due retry timers fire through the pipeline,
// the quota gate is re-evaluated, and queue-depth gauges refresh. Called
// periodically by Run, or directly by tests with an injected clock.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, msg := range e.scheduler.Due(e.clock.Now()) {
		if e.down {
			e.fastFail(msg)
			continue
		}
		// Retries bypass admission so they cannot be reordered against
		// traffic already queued behind them.
		e.applyResult(e.pipeline.Dispatch(ctx, msg))
	}

	e.store.Quota().Evaluate()
	e.publishDepths()
}

// Nudge triggers a replay drain. Wired to connectivity-restored signals
// and available to operators as an external retry nudge.
func (e *Engine) Nudge(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drain(ctx)
}

// DeclareConnectionDown is the administrative signal that the transport is
// permanently down. All outstanding retry timers are cancelled and their
// messages fast-fail to the dead-letter store, bypassing remaining
// attempts. New submissions are parked until DeclareConnectionUp.
func (e *Engine) DeclareConnectionDown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.down = true
	cancelled := e.scheduler.CancelAll()
	e.logger.Warn("connection declared permanently down",
		"cancelledTimers", len(cancelled))
	for _, msg := range cancelled {
		e.fastFail(msg)
	}
}

// DeclareConnectionUp clears the administrative down state and nudges a
// replay drain.
func (e *Engine) DeclareConnectionUp(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.down = false
	e.logger.Info("connection declared up")
	e.drain(ctx)
}

// Run drives the engine until ctx is cancelled, ticking at interval.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Stats is a snapshot of delivery counters and queue depths, consumed by
// the external status publisher.
type Stats struct {
	Delivered            uint64 `json:"delivered"`
	Dropped              uint64 `json:"dropped"`
	QueuedNetworkFailure uint64 `json:"queuedNetworkFailure"`
	QueuedRejected       uint64 `json:"queuedRejected"`
	Replayed             uint64 `json:"replayed"`
	RetryPending         int    `json:"retryPending"`
	NetworkQueueDepth    int    `json:"networkQueueDepth"`
	RejectedQueueDepth   int    `json:"rejectedQueueDepth"`
}

// Stats returns the current counter snapshot.
func (e *Engine) Stats() Stats {
	netDepth, _ := e.store.Len(contracts.NetworkFailureQueue)
	rejDepth, _ := e.store.Len(contracts.RejectedQueue)
	return Stats{
		Delivered:            e.delivered.Load(),
		Dropped:              e.dropped.Load(),
		QueuedNetworkFailure: e.queuedNetwork.Load(),
		QueuedRejected:       e.queuedReject.Load(),
		Replayed:             e.replayed.Load(),
		RetryPending:         e.scheduler.Len(),
		NetworkQueueDepth:    netDepth,
		RejectedQueueDepth:   rejDepth,
	}
}

// parkAdmitted routes an admitted message straight into the
// network-failure queue, behind traffic already waiting there.
func (e *Engine) parkAdmitted(ctx context.Context, msg *contracts.Message) {
	entry := contracts.DeadLetterEntry{Message: *msg, Reason: contracts.NetworkFailure}
	if err := e.store.Enqueue(entry); err != nil {
		e.metrics.RecordQuotaRefusal()
		e.metrics.RecordTerminal(msg.Class, Dropped)
		e.dropped.Add(1)
		e.logger.Error("message lost: admission enqueue refused",
			"messageId", msg.ID,
			"topic", msg.Topic,
			"error", err)
		return
	}
	e.metrics.RecordTerminal(msg.Class, QueuedNetworkFailure)
	e.queuedNetwork.Add(1)

	// A fresh enqueue is a replay trigger.
	e.drain(ctx)
}

// fastFail applies the administrative fast-fail path to one message.
func (e *Engine) fastFail(msg *contracts.Message) {
	if msg.Class == contracts.FireAndForget {
		e.logger.Warn("fire-and-forget message dropped: connection down",
			"messageId", msg.ID,
			"topic", msg.Topic)
		e.metrics.RecordTerminal(msg.Class, Dropped)
		e.dropped.Add(1)
		return
	}

	entry := contracts.DeadLetterEntry{Message: *msg, Reason: contracts.NetworkFailure}
	if err := e.store.Enqueue(entry); err != nil {
		e.metrics.RecordQuotaRefusal()
		e.metrics.RecordTerminal(msg.Class, Dropped)
		e.dropped.Add(1)
		e.logger.Error("message lost: fast-fail enqueue refused",
			"messageId", msg.ID,
			"error", err)
		return
	}
	e.metrics.RecordTerminal(msg.Class, QueuedNetworkFailure)
	e.queuedNetwork.Add(1)
}

func (e *Engine) applyResult(result DispatchResult) {
	switch result {
	case ResultDelivered:
		e.delivered.Add(1)
	case ResultDropped:
		e.dropped.Add(1)
	case ResultQueuedRejected:
		e.queuedReject.Add(1)
	case ResultQueuedNetworkFailure:
		e.queuedNetwork.Add(1)
	}
}

// drain runs the replayer and accounts for delivered entries. Callers
// hold e.mu.
func (e *Engine) drain(ctx context.Context) {
	n, err := e.replayer.Drain(ctx)
	if err != nil {
		e.logger.Error("replay drain aborted", "error", err)
	}
	if n > 0 {
		e.replayed.Add(uint64(n))
		e.delivered.Add(uint64(n))
	}
	e.publishDepths()
}

func (e *Engine) publishDepths() {
	if netDepth, err := e.store.Len(contracts.NetworkFailureQueue); err == nil {
		e.metrics.SetQueueDepth(contracts.NetworkFailureQueue, netDepth)
	}
	if rejDepth, err := e.store.Len(contracts.RejectedQueue); err == nil {
		e.metrics.SetQueueDepth(contracts.RejectedQueue, rejDepth)
	}
}
