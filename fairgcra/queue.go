package fairgcra

import (
	"container/list"
	"context"
	"sync"
)

// Token is the lock-token: an affine capability granting exclusive
// access to a FairGCRA's State. At most one Token is outstanding (held
// by a waiter, in flight to the next waiter, or sitting free in the
// queue) at any time. It is the Go analogue of the Rust implementation's
// RateToken, minus the unsafe cell: here exclusivity is enforced purely
// by the fact that Acquire only ever hands one Token out at a time.
type Token struct {
	q *queue
}

// Release hands the token to the next waiter in FIFO order (waking it),
// or parks it back on the queue if no one is waiting. This is the
// "handoff" of spec §4.B invariant 4, and is the Go equivalent of the
// original's PinnedDrop: Release must be called exactly once per Token,
// from whichever state the holder was in (Elected-not-yet-polled or
// Holding collapse to the same call here, since Go has no poll step to
// distinguish them).
func (t *Token) Release() {
	if t == nil || t.q == nil {
		return
	}
	t.q.release()
}

// queue is the FairQueue of spec §4.B: an intrusive-style FIFO of
// waiters sharing a single lock-token. Reimplemented with a
// container/list (rather than a hand-rolled intrusive list) since Go has
// no pinning; each node's ready channel stands in for the Rust Waker.
type queue struct {
	mu      sync.Mutex
	waiters *list.List // of *waiterNode
	free    bool       // true iff a Token is parked here, unowned
	// sleepCount is the enqueue_count of spec §4.B: incremented each
	// time the current leader chooses to sleep instead of completing.
	sleepCount uint64
}

type waiterNode struct {
	ready chan struct{}
	elem  *list.Element // nil once removed (elected or unlinked on cancel)
}

func newQueue() *queue {
	return &queue{waiters: list.New(), free: true}
}

// acquire blocks until the caller becomes leader (electing it off the
// front of the queue once its predecessors release) or ctx is done while
// still waiting in line. On success it returns a Token and the
// enqueue_count observed at entry (startCount), matching spec §4.C step
// 2. On cancellation it returns a nil Token and ctx.Err().
func (q *queue) acquire(ctx context.Context) (*Token, uint64, error) {
	q.mu.Lock()
	if q.free {
		q.free = false
		startCount := q.sleepCount
		q.mu.Unlock()
		return &Token{q: q}, startCount, nil
	}

	n := &waiterNode{ready: make(chan struct{})}
	n.elem = q.waiters.PushBack(n)
	startCount := q.sleepCount
	q.mu.Unlock()

	select {
	case <-n.ready:
		return &Token{q: q}, startCount, nil
	case <-ctx.Done():
		return q.cancelWait(n, ctx.Err())
	}
}

// cancelWait handles a waiter dropping out while waiting in line (spec
// §4.B invariant 3, "If still Linked: unlink"). A race is possible: the
// predecessor's release() may already have popped n from the list (and
// so elected it) before closing n.ready, concurrently with ctx firing.
// release() and cancelWait both mutate/observe n.elem under q.mu, so
// n.elem == nil is the authoritative "already elected" signal here —
// n.ready may not have been closed yet when we observe it, since
// release() closes it only after unlocking. If n is already elected, n
// now holds the Token and must perform the handoff itself before
// reporting cancellation, since it is refusing the election (spec §4.B
// invariant 3, "Elected but not yet polled to Holding: inherit the
// token, then perform the handoff").
func (q *queue) cancelWait(n *waiterNode, causeErr error) (*Token, uint64, error) {
	q.mu.Lock()
	if n.elem == nil {
		// Already elected: we own the token now. Hand it off instead of
		// using it, then report cancellation to the caller.
		q.mu.Unlock()
		(&Token{q: q}).Release()
		return nil, 0, causeErr
	}
	q.waiters.Remove(n.elem)
	n.elem = nil
	q.mu.Unlock()
	return nil, 0, causeErr
}

func (q *queue) release() {
	q.mu.Lock()
	front := q.waiters.Front()
	if front == nil {
		q.free = true
		q.mu.Unlock()
		return
	}
	q.waiters.Remove(front)
	node := front.Value.(*waiterNode)
	node.elem = nil
	q.mu.Unlock()
	close(node.ready)
}

// recordSleep increments the sleep counter. Called by the current
// leader, while holding the Token, each time it must sleep for a
// not-ready deadline instead of completing (spec §4.C step 3, "On
// Err(deadline): increment enqueue_count").
func (q *queue) recordSleep() {
	q.mu.Lock()
	q.sleepCount++
	q.mu.Unlock()
}

// currentSleepCount reads the live sleep counter, used at completion to
// decide whether any waiter (including the caller itself) slept between
// the caller's enqueue and now.
func (q *queue) currentSleepCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sleepCount
}
