package sched

import "container/list"

// readyQueue is the FIFO of runnable threads for one core. Selection
// takes the front, enqueue appends at the back, and removal by thread
// is O(1) through the linkage element stored on the thread. The queue
// is not self-synchronizing; the owning core's lock guards all access.
type readyQueue struct {
	l *list.List
}

func newReadyQueue() *readyQueue {
	return &readyQueue{l: list.New()}
}

// push appends t at the tail.
func (q *readyQueue) push(t *Thread) {
	t.elem = q.l.PushBack(t)
}

// front returns the oldest queued thread without removing it, or nil
// when the queue is empty.
func (q *readyQueue) front() *Thread {
	e := q.l.Front()
	if e == nil {
		return nil
	}
	return e.Value.(*Thread)
}

// remove unlinks t. It is a no-op when t is not linked.
func (q *readyQueue) remove(t *Thread) {
	if t.elem == nil {
		return
	}
	q.l.Remove(t.elem)
	t.elem = nil
}

// len returns the number of queued threads.
func (q *readyQueue) len() int {
	return q.l.Len()
}

// threads returns the queued threads in FIFO order.
func (q *readyQueue) threads() []*Thread {
	out := make([]*Thread, 0, q.l.Len())
	for e := q.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Thread))
	}
	return out
}
