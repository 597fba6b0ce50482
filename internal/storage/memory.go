package storage

import (
	"sync"

	"github.com/edgewire/telemetry-relay/contracts"
)

// MemoryStore is a volatile Store used in tests and as a fallback when no
// persistent device is available. Its contents do not survive a restart.
type MemoryStore struct {
	mu       sync.Mutex
	queues   map[contracts.QueueID][][]byte
	used     uint64
	capacity uint64
}

// NewMemoryStore creates an in-memory store with the given capacity.
func NewMemoryStore(capacityBytes uint64) *MemoryStore {
	return &MemoryStore{
		queues:   make(map[contracts.QueueID][][]byte),
		capacity: capacityBytes,
	}
}

// AppendRecord implements Store.
func (s *MemoryStore) AppendRecord(queue contracts.QueueID, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(record))
	copy(buf, record)
	s.queues[queue] = append(s.queues[queue], buf)
	s.used += uint64(len(record))
	return nil
}

// ReadOldest implements Store.
func (s *MemoryStore) ReadOldest(queue contracts.QueueID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.queues[queue]
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// RemoveOldest implements Store.
func (s *MemoryStore) RemoveOldest(queue contracts.QueueID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.queues[queue]
	if len(records) == 0 {
		return nil
	}
	s.used -= uint64(len(records[0]))
	s.queues[queue] = records[1:]
	return nil
}

// Len implements Store.
func (s *MemoryStore) Len(queue contracts.QueueID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[queue]), nil
}

// UsedBytes implements Store.
func (s *MemoryStore) UsedBytes() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used, nil
}

// CapacityBytes implements Store.
func (s *MemoryStore) CapacityBytes() uint64 {
	return s.capacity
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// Corrupt overwrites the oldest record of a queue with garbage. Test hook
// for exercising corruption recovery.
func (s *MemoryStore) Corrupt(queue contracts.QueueID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.queues[queue]
	if len(records) == 0 {
		return
	}
	for i := range records[0] {
		records[0][i] = 0xFF
	}
}
