package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/edgewire/telemetry-relay/contracts"
)

func msgWithID(id uint64) *contracts.Message {
	return &contracts.Message{ID: id, Topic: "device/t/telemetry", Class: contracts.Acknowledged}
}

func TestRetrySchedulerDue(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewRetryScheduler()

	s.Schedule(msgWithID(1), 100*time.Millisecond, now)
	s.Schedule(msgWithID(2), 50*time.Millisecond, now)
	s.Schedule(msgWithID(3), 200*time.Millisecond, now)
	assert.Equal(t, 3, s.Len())

	t.Run("nothing fires before expiry", func(t *testing.T) {
		assert.Empty(t, s.Due(now.Add(10*time.Millisecond)))
	})

	t.Run("fires in expiry order", func(t *testing.T) {
		due := s.Due(now.Add(150 * time.Millisecond))
		ids := make([]uint64, 0, len(due))
		for _, m := range due {
			ids = append(ids, m.ID)
		}
		assert.Equal(t, []uint64{2, 1}, ids)
		assert.Equal(t, 1, s.Len())
	})

	t.Run("remaining timer fires later", func(t *testing.T) {
		due := s.Due(now.Add(time.Second))
		assert.Len(t, due, 1)
		assert.Equal(t, uint64(3), due[0].ID)
		assert.Equal(t, 0, s.Len())
	})
}

func TestRetrySchedulerOneTimerPerMessage(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewRetryScheduler()

	msg := msgWithID(7)
	s.Schedule(msg, 50*time.Millisecond, now)
	s.Schedule(msg, 500*time.Millisecond, now)
	assert.Equal(t, 1, s.Len())

	// The earlier timer was replaced, not kept.
	assert.Empty(t, s.Due(now.Add(100*time.Millisecond)))
	due := s.Due(now.Add(time.Second))
	assert.Len(t, due, 1)
}

func TestRetrySchedulerCancelAll(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewRetryScheduler()

	s.Schedule(msgWithID(1), 100*time.Millisecond, now)
	s.Schedule(msgWithID(2), 50*time.Millisecond, now)

	cancelled := s.CancelAll()
	assert.Len(t, cancelled, 2)
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Due(now.Add(time.Hour)))

	// Ordered by due time for deterministic fast-fail enqueue order.
	assert.Equal(t, uint64(2), cancelled[0].ID)
	assert.Equal(t, uint64(1), cancelled[1].ID)
}

func TestRetrySchedulerNextDue(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := NewRetryScheduler()

	assert.True(t, s.NextDue().IsZero())

	s.Schedule(msgWithID(1), 200*time.Millisecond, now)
	s.Schedule(msgWithID(2), 50*time.Millisecond, now)
	assert.Equal(t, now.Add(50*time.Millisecond), s.NextDue())
}
