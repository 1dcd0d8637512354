package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vkvmbridge/host/internal/protocol"
)

// DefaultQueueLimit is the bounded FIFO size (§3: "≥ 64").
const DefaultQueueLimit = 64

// ErrQueueFull is returned by enqueue when the bounded FIFO is at
// capacity; enqueue fails fast rather than blocking (§3, §7).
var ErrQueueFull = fmt.Errorf("driver: request queue full")

// responseCallback receives a request's outcome: the surface-level
// result and the raw success-payload fields (empty for non-OK results
// or empty-shaped responses).
type responseCallback func(result protocol.PeripheryResult, fields []byte)

// inFlightRequest is one entry of the request FIFO (§3).
type inFlightRequest struct {
	seq     uint8
	kind    protocol.RequestKind
	payload []byte // kind byte + encoded fields, ready to frame
	done    responseCallback
}

// requestQueue is the bounded, single-outstanding FIFO described in §3
// and §4.3. The head is the only entry ever transmitted; a condition
// variable wakes the writer goroutine when there is new work or when
// the queue has been asked to terminate.
type requestQueue struct {
	mu         sync.Mutex
	cond       *sync.Cond
	items      []*inFlightRequest
	pending    bool
	lastSent   time.Time
	nextSeq    uint8
	limit      int
	terminated bool
}

func newRequestQueue(limit int) *requestQueue {
	if limit <= 0 {
		limit = DefaultQueueLimit
	}
	q := &requestQueue{limit: limit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// watchTermination wakes every waiter once ctx is done.
func (q *requestQueue) watchTermination(ctx context.Context) {
	go func() {
		<-ctx.Done()
		q.mu.Lock()
		q.terminated = true
		q.mu.Unlock()
		q.cond.Broadcast()
	}()
}

// reset clears the queue and sequence counter, e.g. on (re)open (§4.5).
func (q *requestQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.pending = false
	q.nextSeq = 0
	q.terminated = false
	q.lastSent = time.Time{}
}

// nextSequence returns the next sequence number, wrapping but always
// skipping 0 (§3: "0 reserved for unsolicited periphery messages").
func (q *requestQueue) nextSequence() uint8 {
	q.nextSeq++
	if q.nextSeq == 0 {
		q.nextSeq = 1
	}
	return q.nextSeq
}

// enqueue appends a request to the tail of the FIFO and wakes the
// writer. It fails fast with ErrQueueFull rather than blocking (§3).
func (q *requestQueue) enqueue(kind protocol.RequestKind, payload []byte, done responseCallback) (uint8, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminated {
		return 0, ErrNotConnected
	}
	if len(q.items) >= q.limit {
		return 0, ErrQueueFull
	}
	seq := q.nextSequence()
	q.items = append(q.items, &inFlightRequest{seq: seq, kind: kind, payload: payload, done: done})
	q.cond.Signal()
	return seq, nil
}

// waitForWork blocks until termination is requested or there is a head
// request to transmit, marks it pending, and returns it.
func (q *requestQueue) waitForWork() (*inFlightRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.terminated && (q.pending || len(q.items) == 0) {
		q.cond.Wait()
	}
	if q.terminated {
		return nil, false
	}
	head := q.items[0]
	q.pending = true
	q.lastSent = time.Now()
	return head, true
}

// markSent refreshes the pending timestamp; any write resets it (§4.5).
func (q *requestQueue) markSent() {
	q.mu.Lock()
	q.lastSent = time.Now()
	q.mu.Unlock()
}

// headMatches returns the head request if its sequence equals seq, with
// the "found" flag. A mismatch is reported by the caller as a log-only
// diagnostic per §9's Open Question resolution: log but do not act.
func (q *requestQueue) headMatches(seq uint8) (*inFlightRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].seq != seq {
		return nil, false
	}
	return q.items[0], true
}

// dequeueHead removes the head request (its response has arrived) and
// signals the writer that another request may be transmitted.
func (q *requestQueue) dequeueHead() {
	q.mu.Lock()
	if len(q.items) > 0 {
		q.items = q.items[1:]
	}
	q.pending = false
	q.mu.Unlock()
	q.cond.Signal()
}

// pendingAge reports how long the head request has been pending, and
// whether there is a pending request at all.
func (q *requestQueue) pendingAge() (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.pending || len(q.items) == 0 {
		return 0, false
	}
	return time.Since(q.lastSent), true
}

// idleSince reports how long it has been since any request was sent at
// all, driving the keep-alive policy (§4.5).
func (q *requestQueue) idleSince() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.lastSent.IsZero() {
		return 0
	}
	return time.Since(q.lastSent)
}

// drain empties the queue without reporting results to any callback,
// e.g. on disconnect: "the pending result [is] left un-reported" (§9).
func (q *requestQueue) drain() {
	q.mu.Lock()
	q.items = nil
	q.pending = false
	q.mu.Unlock()
	q.cond.Broadcast()
}

// len reports the current queue depth, for diagnostics/tests.
func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
