package delivery

import (
	"container/heap"
	"sync"
	"time"

	"github.com/edgewire/telemetry-relay/contracts"
)

// RetryScheduler holds one-shot retry timers in a time-ordered heap polled
// by the engine tick. Keeping the timers in an explicit structure keeps
// retry state inspectable and testable without a live clock.
type RetryScheduler struct {
	mu      sync.Mutex
	heap    timerHeap
	pending map[uint64]*timerEntry
}

type timerEntry struct {
	msg       *contracts.Message
	due       time.Time
	index     int
	cancelled bool
}

// NewRetryScheduler creates an empty scheduler.
func NewRetryScheduler() *RetryScheduler {
	return &RetryScheduler{
		pending: make(map[uint64]*timerEntry),
	}
}

// Schedule arms a one-shot timer for msg. At most one timer exists per
// message; scheduling again replaces the earlier timer.
func (s *RetryScheduler) Schedule(msg *contracts.Message, delay time.Duration, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.pending[msg.ID]; ok {
		prev.cancelled = true
		delete(s.pending, msg.ID)
	}

	entry := &timerEntry{msg: msg, due: now.Add(delay)}
	s.pending[msg.ID] = entry
	heap.Push(&s.heap, entry)
}

// Due pops every message whose timer has expired at now, in firing order.
func (s *RetryScheduler) Due(now time.Time) []*contracts.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*contracts.Message
	for s.heap.Len() > 0 {
		head := s.heap[0]
		if head.cancelled {
			heap.Pop(&s.heap)
			continue
		}
		if head.due.After(now) {
			break
		}
		heap.Pop(&s.heap)
		delete(s.pending, head.msg.ID)
		due = append(due, head.msg)
	}
	return due
}

// CancelAll cancels every outstanding timer and returns the affected
// messages. Used by the administrative fast-fail path when the connection
// is declared permanently down.
func (s *RetryScheduler) CancelAll() []*contracts.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := make([]*contracts.Message, 0, len(s.pending))
	for s.heap.Len() > 0 {
		entry := heap.Pop(&s.heap).(*timerEntry)
		if entry.cancelled {
			continue
		}
		cancelled = append(cancelled, entry.msg)
	}
	s.pending = make(map[uint64]*timerEntry)
	return cancelled
}

// Len reports the number of armed timers.
func (s *RetryScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// NextDue returns the earliest expiry, or zero time when no timer is armed.
func (s *RetryScheduler) NextDue() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.heap.Len() > 0 {
		if s.heap[0].cancelled {
			heap.Pop(&s.heap)
			continue
		}
		return s.heap[0].due
	}
	return time.Time{}
}

// timerHeap is a min-heap keyed by expiry. CancelAll pops in heap order,
// so the returned slice is ordered by due time.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].msg.ID < h[j].msg.ID
	}
	return h[i].due.Before(h[j].due)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	entry := x.(*timerEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}
