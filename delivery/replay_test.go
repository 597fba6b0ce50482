package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgewire/telemetry-relay/contracts"
	"github.com/edgewire/telemetry-relay/internal/deadletter"
	"github.com/edgewire/telemetry-relay/internal/storage"
)

type replayRig struct {
	replayer  *Replayer
	transport *fakeTransport
	store     *deadletter.Store
}

func newReplayRig(t *testing.T, ids ...uint64) *replayRig {
	t.Helper()
	backend := storage.NewMemoryStore(1 << 20)
	store := deadletter.NewStore(backend, deadletter.NewQuotaMonitor(backend))
	transport := newFakeTransport()
	pipeline := NewPipeline(transport, NewPolicyTable(testBackoffBase, testBackoffCap), NewRetryScheduler(), store)
	replayer := NewReplayer(pipeline, store, nil, nil)

	for _, id := range ids {
		require.NoError(t, store.Enqueue(contracts.DeadLetterEntry{
			Message: contracts.Message{
				ID:           id,
				Topic:        "device/relay-test/telemetry",
				Payload:      []byte(`{}`),
				Class:        contracts.Assured,
				AttemptCount: 5,
			},
			Reason: contracts.NetworkFailure,
		}))
	}
	return &replayRig{replayer, transport, store}
}

func (r *replayRig) headID(t *testing.T) uint64 {
	t.Helper()
	entry, err := r.store.PeekOldest(contracts.NetworkFailureQueue)
	require.NoError(t, err)
	require.NotNil(t, entry)
	return entry.Message.ID
}

func TestReplayDrainsInOrder(t *testing.T) {
	r := newReplayRig(t, 1, 2, 3)

	n, err := r.replayer.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []uint64{1, 2, 3}, r.transport.publishedIDs())

	depth, err := r.store.Len(contracts.NetworkFailureQueue)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestReplayStopsOnFailureLeavingHeadInPlace(t *testing.T) {
	r := newReplayRig(t, 1, 2, 3)

	// A succeeds, B fails on the transport.
	r.transport.setBehavior(func(msg *contracts.Message) (contracts.Outcome, error) {
		if msg.ID == 2 {
			return contracts.TransportFailure, errors.New("link flapped")
		}
		return contracts.Acked, nil
	})

	n, err := r.replayer.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Queue is now [B, C] with B still at the head; C was never attempted.
	assert.Equal(t, uint64(2), r.headID(t))
	depth, err := r.store.Len(contracts.NetworkFailureQueue)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
	assert.Equal(t, []uint64{1, 2}, r.transport.publishedIDs())

	// The next trigger resumes from the same head.
	r.transport.ackAll()
	n, err = r.replayer.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint64{1, 2, 2, 3}, r.transport.publishedIDs())
}

func TestReplayMovesRejectionsAndContinues(t *testing.T) {
	r := newReplayRig(t, 1, 2, 3)

	r.transport.setBehavior(func(msg *contracts.Message) (contracts.Outcome, error) {
		if msg.ID == 2 {
			return contracts.Rejected, errors.New("bad payload")
		}
		return contracts.Acked, nil
	})

	n, err := r.replayer.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	netDepth, err := r.store.Len(contracts.NetworkFailureQueue)
	require.NoError(t, err)
	assert.Equal(t, 0, netDepth)

	rejEntry, err := r.store.PeekOldest(contracts.RejectedQueue)
	require.NoError(t, err)
	require.NotNil(t, rejEntry)
	assert.Equal(t, uint64(2), rejEntry.Message.ID)
	assert.Equal(t, contracts.RejectedByBroker, rejEntry.Reason)
}

func TestReplayDoesNotConsumeRetryAttempts(t *testing.T) {
	r := newReplayRig(t, 1)
	r.transport.failAll()

	for i := 0; i < 3; i++ {
		_, err := r.replayer.Drain(context.Background())
		require.NoError(t, err)
	}

	entry, err := r.store.PeekOldest(contracts.NetworkFailureQueue)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 5, entry.Message.AttemptCount)
}
