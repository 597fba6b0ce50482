package storage

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgewire/telemetry-relay/contracts"
)

// storeFactory builds a fresh store for the shared conformance tests.
type storeFactory func(t *testing.T) Store

func testStores(t *testing.T, run func(t *testing.T, newStore storeFactory)) {
	t.Run("memory", func(t *testing.T) {
		run(t, func(t *testing.T) Store {
			return NewMemoryStore(1 << 20)
		})
	})
	t.Run("bolt", func(t *testing.T) {
		run(t, func(t *testing.T) Store {
			path := filepath.Join(t.TempDir(), "relay.db")
			s, err := OpenBoltStore(path, 1<<20)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		})
	})
}

func TestStoreFIFO(t *testing.T) {
	testStores(t, func(t *testing.T, newStore storeFactory) {
		s := newStore(t)

		for i := 0; i < 5; i++ {
			require.NoError(t, s.AppendRecord(contracts.NetworkFailureQueue, []byte(fmt.Sprintf("record-%d", i))))
		}

		n, err := s.Len(contracts.NetworkFailureQueue)
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		for i := 0; i < 5; i++ {
			rec, err := s.ReadOldest(contracts.NetworkFailureQueue)
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("record-%d", i), string(rec))
			require.NoError(t, s.RemoveOldest(contracts.NetworkFailureQueue))
		}

		rec, err := s.ReadOldest(contracts.NetworkFailureQueue)
		require.NoError(t, err)
		assert.Nil(t, rec)
	})
}

func TestStoreQueueIndependence(t *testing.T) {
	testStores(t, func(t *testing.T, newStore storeFactory) {
		s := newStore(t)

		require.NoError(t, s.AppendRecord(contracts.NetworkFailureQueue, []byte("net")))
		require.NoError(t, s.AppendRecord(contracts.RejectedQueue, []byte("rej")))

		require.NoError(t, s.RemoveOldest(contracts.NetworkFailureQueue))

		rec, err := s.ReadOldest(contracts.RejectedQueue)
		require.NoError(t, err)
		assert.Equal(t, "rej", string(rec))

		n, err := s.Len(contracts.NetworkFailureQueue)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}

func TestStoreUsedBytes(t *testing.T) {
	testStores(t, func(t *testing.T, newStore storeFactory) {
		s := newStore(t)

		used, err := s.UsedBytes()
		require.NoError(t, err)
		assert.Equal(t, uint64(0), used)

		require.NoError(t, s.AppendRecord(contracts.NetworkFailureQueue, make([]byte, 100)))
		require.NoError(t, s.AppendRecord(contracts.RejectedQueue, make([]byte, 50)))

		used, err = s.UsedBytes()
		require.NoError(t, err)
		assert.Equal(t, uint64(150), used)

		require.NoError(t, s.RemoveOldest(contracts.NetworkFailureQueue))
		used, err = s.UsedBytes()
		require.NoError(t, err)
		assert.Equal(t, uint64(50), used)

		// Removing from an empty queue must not change accounting.
		require.NoError(t, s.RemoveOldest(contracts.NetworkFailureQueue))
		used, err = s.UsedBytes()
		require.NoError(t, err)
		assert.Equal(t, uint64(50), used)
	})
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")

	s, err := OpenBoltStore(path, 1<<20)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendRecord(contracts.NetworkFailureQueue, []byte(fmt.Sprintf("boot-%d", i))))
	}
	require.NoError(t, s.Close())

	reopened, err := OpenBoltStore(path, 1<<20)
	require.NoError(t, err)
	defer reopened.Close()

	n, err := reopened.Len(contracts.NetworkFailureQueue)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	used, err := reopened.UsedBytes()
	require.NoError(t, err)
	assert.Equal(t, uint64(len("boot-0")*3), used)

	for i := 0; i < 3; i++ {
		rec, err := reopened.ReadOldest(contracts.NetworkFailureQueue)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("boot-%d", i), string(rec))
		require.NoError(t, reopened.RemoveOldest(contracts.NetworkFailureQueue))
	}
}
