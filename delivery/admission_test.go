package delivery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgewire/telemetry-relay/contracts"
	"github.com/edgewire/telemetry-relay/internal/deadletter"
	"github.com/edgewire/telemetry-relay/internal/storage"
)

func TestAdmissionController(t *testing.T) {
	backend := storage.NewMemoryStore(1 << 20)
	store := deadletter.NewStore(backend, deadletter.NewQuotaMonitor(backend))
	ac := NewAdmissionController(store, nil)

	ackMsg := &contracts.Message{ID: 1, Topic: "device/t/telemetry", Class: contracts.Acknowledged}
	fafMsg := &contracts.Message{ID: 2, Topic: "device/t/telemetry", Class: contracts.FireAndForget}

	t.Run("routes live while network-failure queue is empty", func(t *testing.T) {
		assert.Equal(t, RouteLive, ac.Admit(ackMsg))
	})

	t.Run("routes behind queued traffic once non-empty", func(t *testing.T) {
		require.NoError(t, store.Enqueue(contracts.DeadLetterEntry{
			Message: contracts.Message{ID: 99, Topic: "device/t/telemetry", Class: contracts.Assured},
			Reason:  contracts.NetworkFailure,
		}))
		assert.Equal(t, RouteDeadLetter, ac.Admit(ackMsg))
	})

	t.Run("fire-and-forget is always live", func(t *testing.T) {
		assert.Equal(t, RouteLive, ac.Admit(fafMsg))
	})

	t.Run("rejected queue depth does not affect admission", func(t *testing.T) {
		require.NoError(t, store.RemoveOldest(contracts.NetworkFailureQueue))
		require.NoError(t, store.Enqueue(contracts.DeadLetterEntry{
			Message: contracts.Message{ID: 100, Topic: "device/t/telemetry", Class: contracts.Assured},
			Reason:  contracts.RejectedByBroker,
		}))
		assert.Equal(t, RouteLive, ac.Admit(ackMsg))
	})
}
