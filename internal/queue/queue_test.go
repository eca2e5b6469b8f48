package queue

import "testing"

func TestPending_EvictsOldest(t *testing.T) {
	q := NewPending[int](3)
	for i := 1; i <= 10; i++ {
		q.Push(i)
		if q.Len() > 3 {
			t.Fatalf("Queue grew beyond limit: %d", q.Len())
		}
	}

	got := q.Drain()
	want := []int{8, 9, 10}
	if len(got) != len(want) {
		t.Fatalf("Expected %d items, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d: expected %d, got %d", i, want[i], got[i])
		}
	}
	if q.Dropped() != 7 {
		t.Errorf("Expected 7 dropped, got %d", q.Dropped())
	}
	if q.Len() != 0 {
		t.Errorf("Expected empty queue after drain, got %d", q.Len())
	}
}

func TestPending_PushReportsEviction(t *testing.T) {
	q := NewPending[string](1)
	if q.Push("a") {
		t.Error("First push should not evict")
	}
	if !q.Push("b") {
		t.Error("Second push should evict")
	}
}

func TestNewPending_MinimumLimit(t *testing.T) {
	if got := NewPending[int](0).Limit(); got != 1 {
		t.Errorf("Expected limit 1, got %d", got)
	}
}
