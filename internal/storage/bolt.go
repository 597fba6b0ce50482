package storage

import (
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/edgewire/telemetry-relay/contracts"
)

var (
	metaBucket   = []byte("meta")
	usedBytesKey = []byte("used_bytes")
	queueBuckets = map[contracts.QueueID][]byte{
		contracts.NetworkFailureQueue: []byte("queue.network-failure"),
		contracts.RejectedQueue:       []byte("queue.rejected"),
	}
)

// BoltStore implements Store on top of a single bbolt database file.
// Records are keyed by a per-partition monotonic sequence so that FIFO
// order is recoverable after a reboot without auxiliary indices.
type BoltStore struct {
	db       *bbolt.DB
	capacity uint64
}

// OpenBoltStore opens or creates the store at path with the given capacity.
func OpenBoltStore(path string, capacityBytes uint64) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(metaBucket); err != nil {
			return err
		}
		for _, name := range queueBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing buckets: %w", err)
	}

	return &BoltStore{db: db, capacity: capacityBytes}, nil
}

func bucketFor(queue contracts.QueueID) ([]byte, error) {
	name, ok := queueBuckets[queue]
	if !ok {
		return nil, fmt.Errorf("unknown queue %v", queue)
	}
	return name, nil
}

// AppendRecord implements Store.
func (s *BoltStore) AppendRecord(queue contracts.QueueID, record []byte) error {
	name, err := bucketFor(queue)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(name)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := b.Put(key, record); err != nil {
			return err
		}
		return adjustUsed(tx, int64(len(record)))
	})
}

// ReadOldest implements Store.
func (s *BoltStore) ReadOldest(queue contracts.QueueID) ([]byte, error) {
	name, err := bucketFor(queue)
	if err != nil {
		return nil, err
	}

	var record []byte
	err = s.db.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket(name).Cursor().First()
		if v != nil {
			record = make([]byte, len(v))
			copy(record, v)
		}
		return nil
	})
	return record, err
}

// RemoveOldest implements Store.
func (s *BoltStore) RemoveOldest(queue contracts.QueueID) error {
	name, err := bucketFor(queue)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		c := tx.Bucket(name).Cursor()
		k, v := c.First()
		if k == nil {
			return nil
		}
		size := int64(len(v))
		if err := c.Delete(); err != nil {
			return err
		}
		return adjustUsed(tx, -size)
	})
}

// Len implements Store.
func (s *BoltStore) Len(queue contracts.QueueID) (int, error) {
	name, err := bucketFor(queue)
	if err != nil {
		return 0, err
	}

	var n int
	err = s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(name).Stats().KeyN
		return nil
	})
	return n, err
}

// UsedBytes implements Store.
func (s *BoltStore) UsedBytes() (uint64, error) {
	var used uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(metaBucket).Get(usedBytesKey); v != nil {
			used = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return used, err
}

// CapacityBytes implements Store.
func (s *BoltStore) CapacityBytes() uint64 {
	return s.capacity
}

// Close implements Store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// adjustUsed updates the used-bytes accumulator inside the same write
// transaction as the record mutation it accounts for.
func adjustUsed(tx *bbolt.Tx, delta int64) error {
	meta := tx.Bucket(metaBucket)
	var used uint64
	if v := meta.Get(usedBytesKey); v != nil {
		used = binary.BigEndian.Uint64(v)
	}
	if delta < 0 && uint64(-delta) > used {
		used = 0
	} else {
		used = uint64(int64(used) + delta)
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, used)
	return meta.Put(usedBytesKey, buf)
}
