// Package storage provides the persistent block-store abstraction consumed
// by the dead-letter store. Implementations expose two append-oriented FIFO
// partitions plus free-space reporting; removal advances a head pointer and
// never rewrites records in place.
package storage

import (
	"github.com/edgewire/telemetry-relay/contracts"
)

// Store is the byte-addressable persistent store collaborator. Media
// failure handling is the store's concern, not the engine's.
type Store interface {
	// AppendRecord appends an encoded record to the tail of a partition.
	AppendRecord(queue contracts.QueueID, record []byte) error

	// ReadOldest returns the record at the head of a partition, or
	// (nil, nil) when the partition is empty.
	ReadOldest(queue contracts.QueueID) ([]byte, error)

	// RemoveOldest advances the head of a partition past its oldest
	// record. Removing from an empty partition is a no-op.
	RemoveOldest(queue contracts.QueueID) error

	// Len reports the number of records in a partition.
	Len(queue contracts.QueueID) (int, error)

	// UsedBytes reports the bytes currently occupied by records.
	UsedBytes() (uint64, error)

	// CapacityBytes reports the configured capacity of the store.
	CapacityBytes() uint64

	Close() error
}
