// Package deadletter implements the two persistent FIFO dead-letter queues
// and the storage quota monitor that gates admission to them. Entries
// survive reboots; insertion order within a queue is preserved across both
// normal drain and recovery.
package deadletter

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/edgewire/telemetry-relay/contracts"
	"github.com/edgewire/telemetry-relay/internal/storage"
	"github.com/edgewire/telemetry-relay/serialization"
)

// Store holds messages that could not be delivered through normal retry.
// The network-failure and rejected queues are fully independent.
type Store struct {
	storage storage.Store
	quota   *QuotaMonitor
	logger  *slog.Logger
	mu      sync.Mutex
}

// StoreOption configures the dead-letter store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a dead-letter store over the given storage backend.
func NewStore(backend storage.Store, quota *QuotaMonitor, options ...StoreOption) *Store {
	s := &Store{
		storage: backend,
		quota:   quota,
		logger:  slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Enqueue persists an entry at the tail of the queue derived from its
// reason. The quota monitor is consulted before every mutation; a refused
// entry leaves the store unchanged.
func (s *Store) Enqueue(entry contracts.DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quota.Evaluate() == QuotaExceeded {
		used, _ := s.storage.UsedBytes()
		return &contracts.QuotaError{
			UsedBytes:     used,
			CapacityBytes: s.storage.CapacityBytes(),
			Threshold:     s.quota.Threshold(),
			At:            time.Now().UTC(),
		}
	}

	record, err := serialization.EncodeRecord(entry)
	if err != nil {
		return fmt.Errorf("encoding dead-letter record: %w", err)
	}
	if err := s.storage.AppendRecord(entry.Reason.Queue(), record); err != nil {
		return fmt.Errorf("appending dead-letter record: %w", err)
	}

	s.logger.Info("message persisted to dead-letter queue",
		"messageId", entry.Message.ID,
		"topic", entry.Message.Topic,
		"queue", entry.Reason.Queue().String(),
		"reason", entry.Reason.String(),
		"attemptCount", entry.Message.AttemptCount)
	return nil
}

// PeekOldest returns the entry at the head of a queue without removing it,
// or nil when the queue is empty. Corrupt records are logged, counted as
// lost, and skipped by advancing the head.
func (s *Store) PeekOldest(queue contracts.QueueID) (*contracts.DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		record, err := s.storage.ReadOldest(queue)
		if err != nil {
			return nil, fmt.Errorf("reading dead-letter head: %w", err)
		}
		if record == nil {
			return nil, nil
		}

		entry, err := serialization.DecodeRecord(record)
		if err != nil {
			if !errors.Is(err, contracts.ErrStorageCorruption) {
				return nil, err
			}
			s.logger.Error("corrupt dead-letter record skipped",
				"queue", queue.String(),
				"error", err)
			if err := s.storage.RemoveOldest(queue); err != nil {
				return nil, fmt.Errorf("advancing past corrupt record: %w", err)
			}
			continue
		}
		return &entry, nil
	}
}

// RemoveOldest advances the head of a queue past its oldest entry.
func (s *Store) RemoveOldest(queue contracts.QueueID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage.RemoveOldest(queue)
}

// Len reports the number of entries in a queue.
func (s *Store) Len(queue contracts.QueueID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage.Len(queue)
}

// State reports a queue's admission state.
func (s *Store) State(queue contracts.QueueID) contracts.QueueState {
	if s.quota.Blocked() {
		return contracts.QueueBlocked
	}
	n, err := s.Len(queue)
	if err != nil || n == 0 {
		return contracts.QueueEmpty
	}
	return contracts.QueueDraining
}

// Quota exposes the store's quota monitor.
func (s *Store) Quota() *QuotaMonitor {
	return s.quota
}
