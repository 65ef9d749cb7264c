package collector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnvelope(id string) *Envelope {
	return &Envelope{
		APIKey:    "cg_test",
		UserID:    "user-1",
		EventType: "click",
		EventID:   id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestQueueDeliversAll(t *testing.T) {
	var got atomic.Int64
	q := newDeliveryQueue(func(ctx context.Context, env *Envelope) error {
		got.Add(1)
		return nil
	}, 4, 3, time.Millisecond)
	defer q.Close()
	q.Start()

	for i := 0; i < 20; i++ {
		q.Enqueue(testEnvelope("evt_q"))
	}

	waitFor(t, func() bool { return q.Delivered() == 20 }, "expected 20 deliveries")
	assert.EqualValues(t, 20, got.Load())
	assert.Zero(t, q.PendingCount())
	assert.Zero(t, q.Dropped())
}

func TestQueueBoundsInFlight(t *testing.T) {
	var current, peak atomic.Int64
	q := newDeliveryQueue(func(ctx context.Context, env *Envelope) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(3 * time.Millisecond)
		current.Add(-1)
		return errors.New("endpoint down")
	}, 10, 3, time.Millisecond)
	defer q.Close()
	q.Start()

	for i := 0; i < 50; i++ {
		q.Enqueue(testEnvelope("evt_bound"))
	}

	// Sample the queue's own view while everything burns through its
	// retry budget.
	for q.Dropped() < 50 {
		assert.LessOrEqual(t, q.InFlight(), 10)
		time.Sleep(time.Millisecond)
	}

	assert.LessOrEqual(t, peak.Load(), int64(10))
	assert.EqualValues(t, 50, q.Dropped())
	assert.Zero(t, q.Delivered())
}

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var attempts atomic.Int64
	q := newDeliveryQueue(func(ctx context.Context, env *Envelope) error {
		if attempts.Add(1) < 3 {
			return errors.New("flaky")
		}
		return nil
	}, 2, 5, time.Millisecond)
	defer q.Close()
	q.Start()

	q.Enqueue(testEnvelope("evt_retry"))

	waitFor(t, func() bool { return q.Delivered() == 1 }, "expected delivery after retries")
	assert.EqualValues(t, 3, attempts.Load())
	assert.Zero(t, q.Dropped())
}

func TestQueueDropsAfterRetryBudget(t *testing.T) {
	var attempts atomic.Int64
	q := newDeliveryQueue(func(ctx context.Context, env *Envelope) error {
		attempts.Add(1)
		return errors.New("endpoint down")
	}, 2, 3, time.Millisecond)
	defer q.Close()
	q.Start()

	q.Enqueue(testEnvelope("evt_drop"))

	waitFor(t, func() bool { return q.Dropped() == 1 }, "expected drop after budget")
	assert.EqualValues(t, 3, attempts.Load())
	assert.Zero(t, q.Delivered())
}

func TestQueueBuffersBeforeStart(t *testing.T) {
	var mu sync.Mutex
	var order []string
	q := newDeliveryQueue(func(ctx context.Context, env *Envelope) error {
		mu.Lock()
		order = append(order, env.EventID)
		mu.Unlock()
		return nil
	}, 1, 3, time.Millisecond)
	defer q.Close()

	q.Enqueue(testEnvelope("evt_a"))
	q.Enqueue(testEnvelope("evt_b"))
	q.Enqueue(testEnvelope("evt_c"))

	time.Sleep(10 * time.Millisecond)
	require.Zero(t, q.Delivered(), "nothing should be sent before Start")
	require.Equal(t, 3, q.PendingCount())

	q.Start()
	waitFor(t, func() bool { return q.Delivered() == 3 }, "expected buffered events to flush")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"evt_a", "evt_b", "evt_c"}, order)
}

func TestQueueRetagsPendingUser(t *testing.T) {
	var mu sync.Mutex
	var users []string
	q := newDeliveryQueue(func(ctx context.Context, env *Envelope) error {
		mu.Lock()
		users = append(users, env.UserID)
		mu.Unlock()
		return nil
	}, 2, 3, time.Millisecond)
	defer q.Close()

	for i := 0; i < 4; i++ {
		q.Enqueue(testEnvelope("evt_retag"))
	}
	q.RetagUser("user-2")

	q.Start()
	waitFor(t, func() bool { return q.Delivered() == 4 }, "expected all deliveries")

	mu.Lock()
	defer mu.Unlock()
	for _, u := range users {
		assert.Equal(t, "user-2", u)
	}
}

func TestQueueRetagsEntryInRetryBackoff(t *testing.T) {
	var mu sync.Mutex
	var delivered []string
	var attempts atomic.Int64
	q := newDeliveryQueue(func(ctx context.Context, env *Envelope) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient")
		}
		mu.Lock()
		delivered = append(delivered, env.UserID)
		mu.Unlock()
		return nil
	}, 2, 5, 30*time.Millisecond)
	defer q.Close()
	q.Start()

	q.Enqueue(testEnvelope("evt_backoff"))

	// Retag while the sole entry is waiting out its backoff: it is
	// neither pending nor in flight, but it is still undelivered.
	waitFor(t, func() bool { return attempts.Load() == 1 && q.InFlight() == 0 }, "expected entry in backoff")
	require.Zero(t, q.PendingCount())
	q.RetagUser("user-2")

	waitFor(t, func() bool { return q.Delivered() == 1 }, "expected delivery after retry")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delivered, 1)
	assert.Equal(t, "user-2", delivered[0])
}

func TestQueueCloseDiscardsPending(t *testing.T) {
	q := newDeliveryQueue(func(ctx context.Context, env *Envelope) error {
		return nil
	}, 1, 3, time.Millisecond)

	q.Enqueue(testEnvelope("evt_x"))
	q.Enqueue(testEnvelope("evt_y"))
	q.Close()
	q.Close() // idempotent

	assert.Zero(t, q.PendingCount())
	assert.Zero(t, q.Delivered())

	// Enqueue after close is a no-op.
	q.Enqueue(testEnvelope("evt_z"))
	assert.Zero(t, q.PendingCount())
}
