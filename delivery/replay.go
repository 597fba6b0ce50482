package delivery

import (
	"context"
	"errors"
	"log/slog"

	"github.com/edgewire/telemetry-relay/contracts"
	"github.com/edgewire/telemetry-relay/internal/deadletter"
)

// Replayer drains the network-failure dead-letter queue through the
// publish pipeline, bypassing admission. The rejected queue is never
// auto-replayed: a broker rejection requires external intervention.
type Replayer struct {
	pipeline *Pipeline
	store    *deadletter.Store
	logger   *slog.Logger
	metrics  MetricsCollector
}

// NewReplayer creates a replayer over the pipeline and dead-letter store.
func NewReplayer(pipeline *Pipeline, store *deadletter.Store, logger *slog.Logger, metrics MetricsCollector) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NoOpMetricsCollector{}
	}
	return &Replayer{pipeline: pipeline, store: store, logger: logger, metrics: metrics}
}

// Drain replays from the current queue head until the queue empties or an
// attempt fails. A failed entry stays at the head so the same message is
// retried on the next trigger, preserving FIFO order. Returns the number
// of entries delivered.
func (r *Replayer) Drain(ctx context.Context) (int, error) {
	drained := 0
	for {
		if err := ctx.Err(); err != nil {
			return drained, err
		}

		entry, err := r.store.PeekOldest(contracts.NetworkFailureQueue)
		if err != nil {
			return drained, err
		}
		if entry == nil {
			return drained, nil
		}

		outcome, pubErr := r.pipeline.Replay(ctx, &entry.Message)
		switch outcome {
		case contracts.Acked:
			if err := r.store.RemoveOldest(contracts.NetworkFailureQueue); err != nil {
				return drained, err
			}
			drained++
			r.metrics.RecordReplay(true)
			r.metrics.RecordTerminal(entry.Message.Class, Delivered)
			r.logger.Info("replayed dead-letter entry",
				"messageId", entry.Message.ID,
				"topic", entry.Message.Topic)

		case contracts.Rejected:
			// A rejection cannot succeed on a later replay either; move
			// the entry to the rejected queue and keep draining.
			r.metrics.RecordReplay(false)
			if err := r.moveToRejected(*entry); err != nil {
				return drained, err
			}

		default:
			// Stop draining and wait for the next trigger. The entry
			// stays at the head.
			r.metrics.RecordReplay(false)
			r.logger.Debug("replay attempt failed, drain paused",
				"messageId", entry.Message.ID,
				"error", pubErr)
			return drained, nil
		}
	}
}

func (r *Replayer) moveToRejected(entry contracts.DeadLetterEntry) error {
	r.logger.Warn("replayed message rejected by broker, moving to rejected queue",
		"messageId", entry.Message.ID,
		"topic", entry.Message.Topic)

	entry.Reason = contracts.RejectedByBroker
	if err := r.store.Enqueue(entry); err != nil {
		if errors.Is(err, contracts.ErrQuotaExceeded) {
			r.metrics.RecordQuotaRefusal()
			r.logger.Error("message lost: rejected queue refused entry",
				"messageId", entry.Message.ID,
				"error", err)
		} else {
			return err
		}
	} else {
		r.metrics.RecordTerminal(entry.Message.Class, QueuedRejected)
	}
	return r.store.RemoveOldest(contracts.NetworkFailureQueue)
}
