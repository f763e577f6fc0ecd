package handoff

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

// assertInvariant fails when active is not consistent with the waiting list.
func assertInvariant(t *testing.T, q *Queue) {
	t.Helper()
	q.Do(func(tx *Tx) {
		active, ok := tx.Active()
		waiting := tx.Snapshot()
		if len(waiting) == 0 {
			if ok || active != "" {
				t.Fatalf("active %q with empty queue", active)
			}
			return
		}
		if active != waiting[0] {
			t.Fatalf("active %q != head %q", active, waiting[0])
		}
	})
}

func TestQueue_OrderingAndClose(t *testing.T) {
	q := NewQueue()
	for _, id := range []string{"A", "B", "C"} {
		if _, _, err := q.Enqueue(id); err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		}
		assertInvariant(t, q)
	}
	for i, id := range []string{"A", "B", "C"} {
		pos, ok := q.PositionOf(id)
		if !ok || pos != i+1 {
			t.Errorf("PositionOf(%s) = %d, %v; want %d", id, pos, ok, i+1)
		}
	}
	if active, _ := q.Active(); active != "A" {
		t.Fatalf("active = %q, want A", active)
	}

	var finalized []string
	closed, next, err := q.CloseActive(func(id string) { finalized = append(finalized, id) })
	if err != nil {
		t.Fatalf("CloseActive: %v", err)
	}
	if closed != "A" || next != "B" {
		t.Errorf("CloseActive = %q, %q; want A, B", closed, next)
	}
	if len(finalized) != 1 || finalized[0] != "A" {
		t.Errorf("finalize called with %v", finalized)
	}
	if pos, _ := q.PositionOf("C"); pos != 2 {
		t.Errorf("PositionOf(C) = %d, want 2", pos)
	}
	if _, ok := q.PositionOf("A"); ok {
		t.Error("A still queued after close")
	}
	assertInvariant(t, q)
}

func TestQueue_EnqueueIdempotent(t *testing.T) {
	q := NewQueue()
	pos, activated, _ := q.Enqueue("A")
	if pos != 1 || !activated {
		t.Fatalf("first Enqueue = %d, %v", pos, activated)
	}
	q.Enqueue("B")
	pos, activated, _ = q.Enqueue("A")
	if pos != 1 || activated {
		t.Errorf("re-Enqueue(A) = %d, %v; want 1, false", pos, activated)
	}
	pos, _, _ = q.Enqueue("B")
	if pos != 2 || q.Len() != 2 {
		t.Errorf("re-Enqueue(B) = %d, len %d", pos, q.Len())
	}
	if _, _, err := q.Enqueue(""); !errors.Is(err, ErrEmptyIdentity) {
		t.Errorf("expected ErrEmptyIdentity, got %v", err)
	}
}

func TestQueue_MoveActiveToBackSingleEntryIsNoOp(t *testing.T) {
	q := NewQueue()
	q.Enqueue("A")
	moved, next, err := q.MoveActiveToBack()
	if !errors.Is(err, ErrSingleEntry) {
		t.Fatalf("expected ErrSingleEntry, got %v", err)
	}
	if moved != "A" || next != "A" {
		t.Errorf("MoveActiveToBack = %q, %q", moved, next)
	}
	if active, _ := q.Active(); active != "A" || q.Len() != 1 {
		t.Errorf("queue changed: active=%q len=%d", active, q.Len())
	}
	assertInvariant(t, q)
}

func TestQueue_MoveActiveToBackRotates(t *testing.T) {
	q := NewQueue()
	q.Enqueue("A")
	q.Enqueue("B")
	q.Enqueue("C")
	moved, next, err := q.MoveActiveToBack()
	if err != nil || moved != "A" || next != "B" {
		t.Fatalf("MoveActiveToBack = %q, %q, %v", moved, next, err)
	}
	got := fmt.Sprint(q.Snapshot())
	if got != "[B C A]" {
		t.Errorf("Snapshot = %s, want [B C A]", got)
	}
	assertInvariant(t, q)
}

func TestQueue_EmptyOperations(t *testing.T) {
	q := NewQueue()
	if _, _, err := q.CloseActive(nil); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("CloseActive on empty: %v", err)
	}
	if _, _, err := q.MoveActiveToBack(); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("MoveActiveToBack on empty: %v", err)
	}
	if _, ok := q.ActivateNext(); ok {
		t.Error("ActivateNext on empty should report none")
	}
	if _, _, err := q.RemoveAnyEntry("X"); !errors.Is(err, ErrNotQueued) {
		t.Errorf("RemoveAnyEntry unknown: %v", err)
	}
	assertInvariant(t, q)
}

func TestQueue_RemoveAnyEntry(t *testing.T) {
	q := NewQueue()
	q.Enqueue("A")
	q.Enqueue("B")
	q.Enqueue("C")

	wasActive, next, err := q.RemoveAnyEntry("B")
	if err != nil || wasActive || next != "A" {
		t.Errorf("RemoveAnyEntry(B) = %v, %q, %v", wasActive, next, err)
	}
	assertInvariant(t, q)

	wasActive, next, err = q.RemoveAnyEntry("A")
	if err != nil || !wasActive || next != "C" {
		t.Errorf("RemoveAnyEntry(A) = %v, %q, %v", wasActive, next, err)
	}
	assertInvariant(t, q)

	q.RemoveAnyEntry("C")
	if _, ok := q.Active(); ok || q.Len() != 0 {
		t.Error("queue should be empty")
	}
	assertInvariant(t, q)
}

func TestQueue_CheckRepairsCorruption(t *testing.T) {
	q := NewQueue()
	q.Enqueue("A")
	q.Enqueue("B")
	q.mu.Lock()
	q.active = "B"
	q.check("test")
	q.mu.Unlock()
	if active, _ := q.Active(); active != "A" {
		t.Errorf("check did not repair head: %q", active)
	}
}

func TestQueue_DoIsAtomic(t *testing.T) {
	q := NewQueue()
	q.Enqueue("A")
	q.Enqueue("B")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		q.Do(func(tx *Tx) {
			if active, _ := tx.Active(); active == "A" {
				tx.CloseActive(nil)
			}
		})
	}()
	go func() {
		defer wg.Done()
		q.Do(func(tx *Tx) {
			if active, _ := tx.Active(); active == "A" {
				tx.CloseActive(nil)
			}
		})
	}()
	wg.Wait()
	// Exactly one of the two guarded closes ran.
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}
	assertInvariant(t, q)
}

func TestQueue_ConcurrentEnqueueKeepsInvariant(t *testing.T) {
	q := NewQueue()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Enqueue(fmt.Sprintf("id-%d", i%20))
			if i%7 == 0 {
				q.CloseActive(nil)
			}
		}(i)
	}
	wg.Wait()
	assertInvariant(t, q)
	seen := map[string]bool{}
	for _, id := range q.Snapshot() {
		if seen[id] {
			t.Fatalf("duplicate entry %q", id)
		}
		seen[id] = true
	}
}
