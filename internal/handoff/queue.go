// Package handoff implements the FIFO queue of conversations escalated to
// the human agent and the parser for the agent's chat commands.
//
// The queue holds identities in arrival order. Exactly one entry, the head,
// is active and receives the agent's replies. Every operation runs under a
// single mutex; callers that need several operations to be atomic use Do.
package handoff

import (
	"errors"
	"log/slog"
	"sync"
)

// Errors returned by queue operations. Callers turn them into explanatory
// messages for the agent.
var (
	ErrQueueEmpty    = errors.New("handoff queue is empty")
	ErrSingleEntry   = errors.New("only one conversation in the queue")
	ErrNotQueued     = errors.New("identity is not in the queue")
	ErrEmptyIdentity = errors.New("identity cannot be empty")
)

// Queue is the process-wide handoff queue.
type Queue struct {
	mu      sync.Mutex
	waiting []string
	active  string
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Tx exposes queue operations to a function running under the queue lock.
// A Tx must not be used after the function passed to Do returns.
type Tx struct {
	q *Queue
}

// Do runs fn while holding the queue lock.
func (q *Queue) Do(fn func(tx *Tx)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fn(&Tx{q: q})
}

// Enqueue appends identity if absent. position is 1-indexed. activated is
// true when identity became the active entry as a result of this call.
func (q *Queue) Enqueue(identity string) (position int, activated bool, err error) {
	q.Do(func(tx *Tx) { position, activated, err = tx.Enqueue(identity) })
	return
}

// ActivateNext sets active to the head of the queue, or clears it.
func (q *Queue) ActivateNext() (string, bool) {
	var (
		id string
		ok bool
	)
	q.Do(func(tx *Tx) { id, ok = tx.ActivateNext() })
	return id, ok
}

// CloseActive removes the active entry, calls finalize with its identity
// while the queue lock is held, then activates the next entry. It returns
// the closed identity and the newly active one ("" when the queue drained).
func (q *Queue) CloseActive(finalize func(identity string)) (closed, next string, err error) {
	q.Do(func(tx *Tx) { closed, next, err = tx.CloseActive(finalize) })
	return
}

// MoveActiveToBack rotates the active entry to the back of the queue.
func (q *Queue) MoveActiveToBack() (moved, next string, err error) {
	q.Do(func(tx *Tx) { moved, next, err = tx.MoveActiveToBack() })
	return
}

// RemoveAnyEntry removes identity wherever it sits. wasActive reports
// whether it was the active entry; next is the active identity afterwards.
func (q *Queue) RemoveAnyEntry(identity string) (wasActive bool, next string, err error) {
	q.Do(func(tx *Tx) { wasActive, next, err = tx.RemoveAnyEntry(identity) })
	return
}

// PositionOf returns the 1-indexed position of identity.
func (q *Queue) PositionOf(identity string) (int, bool) {
	var (
		pos int
		ok  bool
	)
	q.Do(func(tx *Tx) { pos, ok = tx.PositionOf(identity) })
	return pos, ok
}

// Active returns the active identity.
func (q *Queue) Active() (string, bool) {
	var (
		id string
		ok bool
	)
	q.Do(func(tx *Tx) { id, ok = tx.Active() })
	return id, ok
}

// Snapshot returns a copy of the waiting list, active first.
func (q *Queue) Snapshot() []string {
	var out []string
	q.Do(func(tx *Tx) { out = tx.Snapshot() })
	return out
}

// Len returns the number of queued identities.
func (q *Queue) Len() int {
	var n int
	q.Do(func(tx *Tx) { n = tx.Len() })
	return n
}

// Enqueue appends identity if absent.
func (tx *Tx) Enqueue(identity string) (int, bool, error) {
	q := tx.q
	if identity == "" {
		return 0, false, ErrEmptyIdentity
	}
	if i := q.index(identity); i >= 0 {
		slog.Debug("Queue.Enqueue: already queued", "identity", identity, "position", i+1)
		return i + 1, false, nil
	}
	q.waiting = append(q.waiting, identity)
	activated := false
	if q.active == "" {
		q.activateNext()
		activated = q.active == identity
	}
	q.check("Enqueue")
	slog.Debug("Queue.Enqueue: queued", "identity", identity, "position", len(q.waiting), "activated", activated)
	return len(q.waiting), activated, nil
}

// ActivateNext sets active to the head, or clears it when the queue is empty.
func (tx *Tx) ActivateNext() (string, bool) {
	tx.q.activateNext()
	tx.q.check("ActivateNext")
	return tx.q.active, tx.q.active != ""
}

// CloseActive removes the active entry, finalizes it and activates the next.
func (tx *Tx) CloseActive(finalize func(identity string)) (string, string, error) {
	q := tx.q
	if q.active == "" {
		return "", "", ErrQueueEmpty
	}
	closed := q.active
	q.removeAt(0)
	if finalize != nil {
		finalize(closed)
	}
	q.activateNext()
	q.check("CloseActive")
	slog.Debug("Queue.CloseActive: closed", "identity", closed, "next", q.active)
	return closed, q.active, nil
}

// MoveActiveToBack rotates the active entry to the back. With fewer than
// two entries the queue is left unchanged and ErrSingleEntry is returned.
func (tx *Tx) MoveActiveToBack() (string, string, error) {
	q := tx.q
	if q.active == "" {
		return "", "", ErrQueueEmpty
	}
	if len(q.waiting) < 2 {
		return q.active, q.active, ErrSingleEntry
	}
	moved := q.active
	q.removeAt(0)
	q.waiting = append(q.waiting, moved)
	q.active = ""
	q.activateNext()
	q.check("MoveActiveToBack")
	slog.Debug("Queue.MoveActiveToBack: rotated", "moved", moved, "next", q.active)
	return moved, q.active, nil
}

// RemoveAnyEntry removes identity from the queue without finalizing it.
func (tx *Tx) RemoveAnyEntry(identity string) (bool, string, error) {
	q := tx.q
	i := q.index(identity)
	if i < 0 {
		return false, q.active, ErrNotQueued
	}
	wasActive := q.active == identity
	q.removeAt(i)
	if wasActive {
		q.active = ""
	}
	q.activateNext()
	q.check("RemoveAnyEntry")
	slog.Debug("Queue.RemoveAnyEntry: removed", "identity", identity, "wasActive", wasActive, "next", q.active)
	return wasActive, q.active, nil
}

// PositionOf returns the 1-indexed position of identity.
func (tx *Tx) PositionOf(identity string) (int, bool) {
	i := tx.q.index(identity)
	if i < 0 {
		return 0, false
	}
	return i + 1, true
}

// Active returns the active identity.
func (tx *Tx) Active() (string, bool) {
	return tx.q.active, tx.q.active != ""
}

// Snapshot returns a copy of the waiting list.
func (tx *Tx) Snapshot() []string {
	return append([]string(nil), tx.q.waiting...)
}

// Len returns the number of queued identities.
func (tx *Tx) Len() int {
	return len(tx.q.waiting)
}

func (q *Queue) index(identity string) int {
	for i, id := range q.waiting {
		if id == identity {
			return i
		}
	}
	return -1
}

func (q *Queue) removeAt(i int) {
	q.waiting = append(q.waiting[:i:i], q.waiting[i+1:]...)
	if len(q.waiting) == 0 {
		q.active = ""
	}
}

func (q *Queue) activateNext() {
	if len(q.waiting) == 0 {
		q.active = ""
		return
	}
	q.active = q.waiting[0]
}

// check verifies active == "" iff waiting is empty, and active == waiting[0]
// otherwise. A violation is logged and repaired by recomputing the head.
func (q *Queue) check(op string) {
	if len(q.waiting) == 0 && q.active == "" {
		return
	}
	if len(q.waiting) > 0 && q.active == q.waiting[0] {
		return
	}
	slog.Error("Queue.check: invariant violated, repairing", "op", op, "active", q.active, "waiting", len(q.waiting))
	q.activateNext()
}
