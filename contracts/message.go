package contracts

import (
	"fmt"
	"sync/atomic"
	"time"
)

// DeliveryClass is the reliability tier requested for a message. It maps
// directly onto MQTT quality-of-service levels on the wire.
type DeliveryClass uint8

const (
	// FireAndForget messages (QoS 0) are sent at most once and never persisted.
	FireAndForget DeliveryClass = iota
	// Acknowledged messages (QoS 1) are delivered at least once.
	Acknowledged
	// Assured messages (QoS 2) are delivered at least once with broker-side
	// duplicate suppression assumed.
	Assured
)

func (c DeliveryClass) String() string {
	switch c {
	case FireAndForget:
		return "fire-and-forget"
	case Acknowledged:
		return "acknowledged"
	case Assured:
		return "assured"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Valid reports whether c is a known delivery class.
func (c DeliveryClass) Valid() bool {
	return c <= Assured
}

// Outcome is the result of driving a single message through the transport.
type Outcome int

const (
	// Acked means the broker accepted the message.
	Acked Outcome = iota
	// Rejected means the broker refused the message (malformed payload,
	// authorization failure). Retrying cannot fix a rejection.
	Rejected
	// TransportFailure means the attempt failed before broker acceptance
	// (link down, timeout). Transient and retryable.
	TransportFailure
)

func (o Outcome) String() string {
	switch o {
	case Acked:
		return "acked"
	case Rejected:
		return "rejected"
	case TransportFailure:
		return "transport-failure"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

// Message is a unit of outbound communication. The engine owns a message
// exclusively from Submit until it reaches a terminal state.
type Message struct {
	// ID is locally unique and monotonically increasing per boot.
	ID uint64 `json:"id"`
	// Topic and Payload are opaque to the engine beyond size limits.
	Topic   string        `json:"topic"`
	Payload []byte        `json:"payload"`
	Class   DeliveryClass `json:"class"`
	// EventTimestamp records when the underlying fact was observed.
	EventTimestamp time.Time `json:"eventTimestamp"`
	// SendTimestamp records when the message was first handed to the
	// transport. Set once, not updated on retries.
	SendTimestamp time.Time `json:"sendTimestamp,omitempty"`
	// AttemptCount is incremented on each send attempt.
	AttemptCount int `json:"attemptCount"`
}

// IDSource allocates per-boot monotonic message IDs.
type IDSource struct {
	last atomic.Uint64
}

// Next returns the next message ID. Safe for concurrent use.
func (s *IDSource) Next() uint64 {
	return s.last.Add(1)
}

// NewMessage creates a message with the next ID from src.
func NewMessage(src *IDSource, topic string, payload []byte, class DeliveryClass, eventTime time.Time) *Message {
	return &Message{
		ID:             src.Next(),
		Topic:          topic,
		Payload:        payload,
		Class:          class,
		EventTimestamp: eventTime,
	}
}
