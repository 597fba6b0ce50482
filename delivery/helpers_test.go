package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/edgewire/telemetry-relay/contracts"
	"github.com/edgewire/telemetry-relay/internal/deadletter"
	"github.com/edgewire/telemetry-relay/internal/storage"
)

// fakeClock is a manually advanced clock for deterministic retry timing.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// publishCall records one transport publish.
type publishCall struct {
	ID      uint64
	Topic   string
	Payload string
	Class   contracts.DeliveryClass
	Attempt int
}

// fakeTransport scripts broker behavior per publish.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	behavior  func(msg *contracts.Message) (contracts.Outcome, error)
	calls     []publishCall
}

func newFakeTransport() *fakeTransport {
	t := &fakeTransport{connected: true}
	t.behavior = func(*contracts.Message) (contracts.Outcome, error) {
		return contracts.Acked, nil
	}
	return t
}

func (t *fakeTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	return nil
}

func (t *fakeTransport) Publish(ctx context.Context, msg *contracts.Message) (contracts.Outcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, publishCall{
		ID:      msg.ID,
		Topic:   msg.Topic,
		Payload: string(msg.Payload),
		Class:   msg.Class,
		Attempt: msg.AttemptCount,
	})
	return t.behavior(msg)
}

func (t *fakeTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *fakeTransport) Close() error { return nil }

func (t *fakeTransport) setBehavior(fn func(msg *contracts.Message) (contracts.Outcome, error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.behavior = fn
}

func (t *fakeTransport) failAll() {
	t.setBehavior(func(*contracts.Message) (contracts.Outcome, error) {
		return contracts.TransportFailure, errors.New("link down")
	})
}

func (t *fakeTransport) ackAll() {
	t.setBehavior(func(*contracts.Message) (contracts.Outcome, error) {
		return contracts.Acked, nil
	})
}

func (t *fakeTransport) publishes() []publishCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]publishCall, len(t.calls))
	copy(out, t.calls)
	return out
}

func (t *fakeTransport) publishedIDs() []uint64 {
	var ids []uint64
	for _, c := range t.publishes() {
		ids = append(ids, c.ID)
	}
	return ids
}

// testRig bundles a fully wired engine over fakes.
type testRig struct {
	engine    *Engine
	transport *fakeTransport
	clock     *fakeClock
	store     *deadletter.Store
	backend   *storage.MemoryStore
}

const (
	testBackoffBase = 100 * time.Millisecond
	testBackoffCap  = 5 * time.Second
)

func newTestRig(capacity uint64) *testRig {
	backend := storage.NewMemoryStore(capacity)
	store := deadletter.NewStore(backend, deadletter.NewQuotaMonitor(backend))
	transport := newFakeTransport()
	clock := newFakeClock()

	engine := NewEngine(
		transport,
		store,
		NewPolicyTable(testBackoffBase, testBackoffCap),
		nil,
		WithEngineClock(clock),
	)
	return &testRig{
		engine:    engine,
		transport: transport,
		clock:     clock,
		store:     store,
		backend:   backend,
	}
}

// settle advances the clock and ticks until no retry timers remain, up to
// a bounded number of rounds.
func (r *testRig) settle(ctx context.Context) {
	for i := 0; i < 20 && r.engine.scheduler.Len() > 0; i++ {
		r.clock.Advance(testBackoffCap)
		r.engine.Tick(ctx)
	}
}

func (r *testRig) queueIDs(queue contracts.QueueID) []uint64 {
	// Drains the queue destructively; only for end-of-test assertions.
	var ids []uint64
	for {
		entry, err := r.store.PeekOldest(queue)
		if err != nil || entry == nil {
			return ids
		}
		ids = append(ids, entry.Message.ID)
		if err := r.store.RemoveOldest(queue); err != nil {
			return ids
		}
	}
}
