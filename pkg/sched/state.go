package sched

// State represents the scheduling lifecycle state of a Thread.
type State int32

const (
	// StateInit is the state of a freshly created thread that has never
	// been handed to the scheduler, and of a thread detached from a core
	// after running.
	StateInit State = iota

	// StateReady means the thread sits on exactly one per-core ready
	// queue and is eligible for selection on that core.
	StateReady

	// StateInTransit marks a thread between queue and core: removed from
	// a ready queue but not yet committed as the running thread.
	StateInTransit

	// StateRunning means the thread occupies a core's running slot.
	StateRunning
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateReady:
		return "READY"
	case StateInTransit:
		return "IN_TRANSIT"
	case StateRunning:
		return "RUNNING"
	}
	return "UNKNOWN"
}

// MarshalText implements encoding.TextMarshaler so states render as
// readable names in JSON snapshots and trace rows.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ValidTransitions defines the allowed state transitions for Threads.
// Enqueue moves a thread to READY, dequeue and selection move it to
// IN_TRANSIT, a dispatch commit moves it to RUNNING, and detaching a
// running thread returns it to INIT.
var ValidTransitions = map[State][]State{
	StateInit:      {StateReady, StateInTransit},
	StateReady:     {StateInTransit},
	StateInTransit: {StateRunning, StateReady},
	StateRunning:   {StateReady, StateInTransit, StateInit},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range ValidTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Kind distinguishes ordinary threads from the per-core idle threads the
// scheduler creates for itself.
type Kind uint8

const (
	KindNormal Kind = iota
	KindIdle
)

// String returns the string representation of the thread kind.
func (k Kind) String() string {
	switch k {
	case KindNormal:
		return "normal"
	case KindIdle:
		return "idle"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
