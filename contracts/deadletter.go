package contracts

import "fmt"

// Reason explains why a message was parked in the dead-letter store.
type Reason uint8

const (
	// NetworkFailure means the retry ceiling was reached on a degraded link.
	// Entries with this reason are replayed automatically.
	NetworkFailure Reason = iota
	// RejectedByBroker means the broker refused the message. Entries with
	// this reason require external intervention and are never auto-replayed.
	RejectedByBroker
)

func (r Reason) String() string {
	switch r {
	case NetworkFailure:
		return "network-failure"
	case RejectedByBroker:
		return "rejected"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(r))
	}
}

// Queue returns the dead-letter queue that holds entries with this reason.
// An entry exists in exactly one queue at a time.
func (r Reason) Queue() QueueID {
	if r == RejectedByBroker {
		return RejectedQueue
	}
	return NetworkFailureQueue
}

// QueueID identifies one of the two independent dead-letter partitions.
type QueueID uint8

const (
	NetworkFailureQueue QueueID = iota
	RejectedQueue
)

func (q QueueID) String() string {
	switch q {
	case NetworkFailureQueue:
		return "network-failure"
	case RejectedQueue:
		return "rejected"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(q))
	}
}

// QueueState describes a dead-letter queue's admission state.
type QueueState uint8

const (
	// QueueEmpty means the queue holds no entries.
	QueueEmpty QueueState = iota
	// QueueDraining means the queue holds entries eligible for replay.
	QueueDraining
	// QueueBlocked means the storage quota is exceeded; new entries are
	// refused until usage drops back under the threshold. Existing entries
	// remain retryable.
	QueueBlocked
)

func (s QueueState) String() string {
	switch s {
	case QueueEmpty:
		return "empty"
	case QueueDraining:
		return "draining"
	case QueueBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// DeadLetterEntry is a persisted message plus the reason it was parked.
type DeadLetterEntry struct {
	Message Message `json:"message"`
	Reason  Reason  `json:"reason"`
}
