package sched

// EventKind names a scheduler state change.
type EventKind string

const (
	// EventEnqueue fires when a thread lands on a ready queue.
	EventEnqueue EventKind = "enqueue"

	// EventDequeue fires when a thread is removed from a ready queue
	// by an explicit dequeue.
	EventDequeue EventKind = "dequeue"

	// EventPick fires when selection removes the queue head, or falls
	// back to the idle thread on an empty queue.
	EventPick EventKind = "pick"

	// EventSwitch fires when a thread is committed as a core's
	// running thread.
	EventSwitch EventKind = "switch"

	// EventClear fires when a core's running slot is detached.
	EventClear EventKind = "clear"

	// EventTick fires when a timer tick decrements a running
	// thread's budget.
	EventTick EventKind = "tick"

	// EventRefill fires when a thread's budget is reset to the full
	// quantum.
	EventRefill EventKind = "refill"
)

// Event describes one scheduler state change. The scheduler itself has
// no clock; consumers that track time attach their own tick counter
// when recording.
type Event struct {
	Kind   EventKind `json:"kind"`
	Core   CoreID    `json:"core"`
	Thread ID        `json:"thread"`
	Name   string    `json:"name"`
	Idle   bool      `json:"idle,omitempty"`
	Budget uint32    `json:"budget"`
}

// Observer receives scheduler events. Observe is called after the
// scheduler has released its internal locks, from whichever goroutine
// drove the operation, so implementations may call back into the
// scheduler but must be safe for concurrent use when cores are driven
// concurrently.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(ev Event) { f(ev) }

func (s *RoundRobin) observe(kind EventKind, core CoreID, t *Thread) {
	if s.obs == nil {
		return
	}
	ev := Event{Kind: kind, Core: core}
	if t != nil {
		ev.Thread = t.id
		ev.Name = t.name
		ev.Idle = t.kind == KindIdle
		ev.Budget = t.Budget()
	}
	s.obs.Observe(ev)
}
