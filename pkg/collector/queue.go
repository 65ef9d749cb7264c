package collector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// entryState tracks a queue entry through its delivery lifecycle:
// Pending -> InFlight -> (Delivered | Retrying -> InFlight | Dropped).
type entryState int

const (
	statePending entryState = iota
	stateInFlight
	stateRetrying
	stateDelivered
	stateDropped
)

type queueEntry struct {
	envelope *Envelope
	attempt  int
	state    entryState
}

// deliveryQueue delivers envelopes at-least-once with a bounded number of
// concurrent in-flight attempts and exponential backoff on failure.
// Envelopes enqueued before Start are buffered and flushed in order once
// the collector finishes initializing.
type deliveryQueue struct {
	send func(ctx context.Context, env *Envelope) error

	maxInFlight   int
	retryAttempts int
	retryDelay    time.Duration

	mu       sync.Mutex
	pending  []*queueEntry
	retrying map[*queueEntry]struct{}
	inFlight int
	started  bool
	closed   bool

	dropped   atomic.Int64
	delivered atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newDeliveryQueue(send func(ctx context.Context, env *Envelope) error, maxInFlight, retryAttempts int, retryDelay time.Duration) *deliveryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &deliveryQueue{
		send:          send,
		retrying:      make(map[*queueEntry]struct{}),
		maxInFlight:   maxInFlight,
		retryAttempts: retryAttempts,
		retryDelay:    retryDelay,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Enqueue accepts an envelope for delivery. Never blocks.
func (q *deliveryQueue) Enqueue(env *Envelope) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, &queueEntry{envelope: env, state: statePending})
	started := q.started
	q.mu.Unlock()

	if started {
		q.drain()
	}
}

// Start flushes the pre-initialization buffer and enables dispatch.
func (q *deliveryQueue) Start() {
	q.mu.Lock()
	q.started = true
	q.mu.Unlock()
	q.drain()
}

// drain dispatches pending entries until the in-flight bound is reached.
// Called after enqueue and after every delivery completion, so the queue
// is self-sustaining rather than timer-driven.
func (q *deliveryQueue) drain() {
	for {
		q.mu.Lock()
		if !q.started || q.closed || q.inFlight >= q.maxInFlight || len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		entry := q.pending[0]
		q.pending = q.pending[1:]
		entry.state = stateInFlight
		q.inFlight++
		q.mu.Unlock()

		q.wg.Add(1)
		go q.deliver(entry)
	}
}

func (q *deliveryQueue) deliver(entry *queueEntry) {
	defer q.wg.Done()

	err := q.send(q.ctx, entry.envelope)

	if err == nil {
		q.mu.Lock()
		q.inFlight--
		q.mu.Unlock()
		entry.state = stateDelivered
		q.delivered.Add(1)
		q.drain()
		return
	}

	entry.attempt++
	if entry.attempt >= q.retryAttempts {
		q.mu.Lock()
		q.inFlight--
		q.mu.Unlock()
		entry.state = stateDropped
		q.dropped.Add(1)
		q.drain()
		return
	}

	// Exponential backoff, then back through the pending buffer so the
	// retry competes for an in-flight slot like any other entry. Releasing
	// the slot and registering the backoff happen under one lock so the
	// entry stays visible to RetagUser for as long as it is undelivered.
	entry.state = stateRetrying
	q.mu.Lock()
	q.inFlight--
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.retrying[entry] = struct{}{}
	q.mu.Unlock()

	delay := q.retryDelay * (1 << entry.attempt)
	time.AfterFunc(delay, func() {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		delete(q.retrying, entry)
		entry.state = statePending
		q.pending = append(q.pending, entry)
		q.mu.Unlock()
		q.drain()
	})

	q.drain()
}

// RetagUser rewrites the user ID on every envelope still waiting for
// delivery, including entries waiting out a retry backoff. Only entries
// whose request is already on the wire keep the identity they were sent
// with.
func (q *deliveryQueue) RetagUser(userID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, entry := range q.pending {
		entry.envelope.UserID = userID
	}
	for entry := range q.retrying {
		entry.envelope.UserID = userID
	}
}

// InFlight returns the number of concurrent delivery attempts right now.
func (q *deliveryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// PendingCount returns the number of entries waiting for a slot.
func (q *deliveryQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Dropped returns the number of envelopes abandoned after exhausting
// their retry budget.
func (q *deliveryQueue) Dropped() int64 {
	return q.dropped.Load()
}

// Delivered returns the number of envelopes acknowledged by the endpoint.
func (q *deliveryQueue) Delivered() int64 {
	return q.delivered.Load()
}

// Close stops dispatch, cancels in-flight requests, and waits for the
// delivery goroutines to finish. Entries still pending are discarded.
func (q *deliveryQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.pending = nil
	q.retrying = nil
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}
