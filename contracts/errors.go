package contracts

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrQuotaExceeded is returned when the dead-letter store refuses a new
	// entry because persistent storage crossed the quota threshold.
	ErrQuotaExceeded = errors.New("deadletter: storage quota exceeded")

	// ErrStorageCorruption is returned when a persisted record fails to
	// parse. The queue skips the record and advances its head.
	ErrStorageCorruption = errors.New("deadletter: persisted record is corrupt")

	// ErrTransportClosed is returned by a transport that has been declared
	// permanently down by administrative action.
	ErrTransportClosed = errors.New("transport: connection permanently down")

	// ErrTopicTooLong is returned when a formatted topic exceeds the limit.
	ErrTopicTooLong = errors.New("topic: exceeds maximum length")

	// ErrTopicInvalid is returned when a topic contains MQTT wildcard or
	// NUL characters.
	ErrTopicInvalid = errors.New("topic: contains invalid characters")
)

// PublishError carries context about a failed transport attempt.
type PublishError struct {
	MessageID uint64
	Topic     string
	Attempt   int
	Outcome   Outcome
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish failed: message %d on topic %q attempt %d (%s): %v",
		e.MessageID, e.Topic, e.Attempt, e.Outcome, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// QuotaError reports the utilization observed when an enqueue was refused.
type QuotaError struct {
	UsedBytes     uint64
	CapacityBytes uint64
	Threshold     float64
	At            time.Time
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("storage quota exceeded: %d/%d bytes used (threshold %.0f%%)",
		e.UsedBytes, e.CapacityBytes, e.Threshold*100)
}

func (e *QuotaError) Unwrap() error {
	return ErrQuotaExceeded
}

// IsTransient reports whether an error represents a transient transport
// condition that the engine recovers from internally.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pubErr *PublishError
	if errors.As(err, &pubErr) {
		return pubErr.Outcome == TransportFailure
	}
	return !errors.Is(err, ErrQuotaExceeded) && !errors.Is(err, ErrTransportClosed)
}
