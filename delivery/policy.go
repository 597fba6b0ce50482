package delivery

import (
	"math"
	"time"

	"github.com/edgewire/telemetry-relay/contracts"
)

// TerminalAction is what happens to a message once its retry ceiling is
// reached.
type TerminalAction int

const (
	// DiscardAfterRetries logs the loss and drops the message.
	DiscardAfterRetries TerminalAction = iota
	// PersistAfterRetries parks the message in the network-failure
	// dead-letter queue.
	PersistAfterRetries
)

// Policy is the retry behavior for one delivery class.
type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Terminal    TerminalAction
}

// Backoff returns the wait after the nth failed attempt (1-indexed):
// base * 2^(n-1), capped to avoid unbounded delay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BackoffBase) * math.Pow(2, float64(attempt-1))
	if d > float64(p.BackoffCap) {
		return p.BackoffCap
	}
	return time.Duration(d)
}

// PolicyTable maps a delivery class to its retry policy. Pure lookup, no
// mutable state.
type PolicyTable struct {
	fireAndForget Policy
	acknowledged  Policy
	assured       Policy
}

// DefaultMaxAttempts is the retry ceiling shared by all delivery classes.
const DefaultMaxAttempts = 5

// NewPolicyTable builds the table from the configured backoff constants.
// Every class allows five attempts; fire-and-forget discards on exhaustion
// while acknowledged and assured messages are persisted.
func NewPolicyTable(base, cap time.Duration) *PolicyTable {
	return &PolicyTable{
		fireAndForget: Policy{
			MaxAttempts: DefaultMaxAttempts,
			BackoffBase: base,
			BackoffCap:  cap,
			Terminal:    DiscardAfterRetries,
		},
		acknowledged: Policy{
			MaxAttempts: DefaultMaxAttempts,
			BackoffBase: base,
			BackoffCap:  cap,
			Terminal:    PersistAfterRetries,
		},
		assured: Policy{
			MaxAttempts: DefaultMaxAttempts,
			BackoffBase: base,
			BackoffCap:  cap,
			Terminal:    PersistAfterRetries,
		},
	}
}

// ForClass returns the policy for a delivery class.
func (t *PolicyTable) ForClass(class contracts.DeliveryClass) Policy {
	switch class {
	case contracts.FireAndForget:
		return t.fireAndForget
	case contracts.Acknowledged:
		return t.acknowledged
	default:
		return t.assured
	}
}
