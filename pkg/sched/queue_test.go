package sched

import "testing"

func TestReadyQueueFIFO(t *testing.T) {
	q := newReadyQueue()
	a := newTestThread(1, NoAffinity)
	b := newTestThread(2, NoAffinity)
	c := newTestThread(3, NoAffinity)
	for _, th := range []*Thread{a, b, c} {
		q.push(th)
	}

	if q.len() != 3 {
		t.Fatalf("len = %d, want 3", q.len())
	}
	if got := q.front(); got != a {
		t.Errorf("front = %v, want t1", got)
	}
	got := q.threads()
	for i, want := range []*Thread{a, b, c} {
		if got[i] != want {
			t.Errorf("threads()[%d] = %v, want %v", i, got[i], want)
		}
	}
}

func TestReadyQueueRemoveMiddle(t *testing.T) {
	q := newReadyQueue()
	a := newTestThread(1, NoAffinity)
	b := newTestThread(2, NoAffinity)
	c := newTestThread(3, NoAffinity)
	for _, th := range []*Thread{a, b, c} {
		q.push(th)
	}

	q.remove(b)
	if q.len() != 2 {
		t.Fatalf("len = %d after remove, want 2", q.len())
	}
	if b.elem != nil {
		t.Error("removed thread still linked")
	}
	got := q.threads()
	if got[0] != a || got[1] != c {
		t.Errorf("order after remove = %v, want [t1 t3]", got)
	}

	// Removing an unlinked thread is a no-op.
	q.remove(b)
	if q.len() != 2 {
		t.Errorf("len = %d after duplicate remove, want 2", q.len())
	}
}

func TestReadyQueueEmptyFront(t *testing.T) {
	q := newReadyQueue()
	if got := q.front(); got != nil {
		t.Errorf("front of empty queue = %v, want nil", got)
	}
}
