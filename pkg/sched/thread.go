package sched

import (
	"container/list"
	"fmt"
	"sync/atomic"
)

// ID identifies a thread. IDs are assigned by whoever creates the
// thread; the scheduler reserves the range starting at IdleIDBase for
// the idle threads it creates itself.
type ID uint64

// IdleIDBase is the first ID of the reserved idle-thread range. The
// idle thread of core N has ID IdleIDBase+N.
const IdleIDBase ID = 1 << 32

// CoreID identifies a CPU core, numbered from zero.
type CoreID int32

// Affinity restricts which core a thread may be enqueued on.
// NoAffinity lets the thread land on whichever core enqueues it.
type Affinity int32

// NoAffinity means the thread has no core preference.
const NoAffinity Affinity = -1

// Priority is recorded on the thread at creation. The round-robin
// policy ignores it except for marking idle threads with MinPriority.
type Priority uint8

const (
	MinPriority     Priority = 0
	DefaultPriority Priority = 32
)

// Thread is a schedulable execution context. Its scheduling fields
// (state, core, affinity, budget) are owned by the scheduler and
// mutated only under the owning core's lock; the atomic accessors make
// concurrent reads safe for monitors and tests.
type Thread struct {
	id    ID
	name  string
	kind  Kind
	prio  Priority
	space any    // opaque address-space handle, never dereferenced here
	entry func() // idle loop body, set only on idle threads

	state    atomic.Int32
	core     atomic.Int32
	affinity atomic.Int32
	budget   atomic.Uint32

	// elem is the thread's position in a ready queue, nil when not
	// queued. Owned by the core whose queue holds the thread.
	elem *list.Element

	initialized bool
}

// NewThread creates a thread in the INIT state with no core assignment.
// space is an opaque address-space handle retained for inspection only;
// it may be nil for kernel-style threads.
func NewThread(id ID, name string, prio Priority, aff Affinity, space any) *Thread {
	t := &Thread{
		id:          id,
		name:        name,
		kind:        KindNormal,
		prio:        prio,
		space:       space,
		initialized: true,
	}
	t.state.Store(int32(StateInit))
	t.core.Store(-1)
	t.affinity.Store(int32(aff))
	return t
}

// newIdleThread builds the idle thread the scheduler installs on a core
// at init time. Idle threads never enter a ready queue.
func newIdleThread(core CoreID, entry func()) *Thread {
	t := &Thread{
		id:          IdleIDBase + ID(core),
		name:        fmt.Sprintf("idle/%d", core),
		kind:        KindIdle,
		prio:        MinPriority,
		entry:       entry,
		initialized: true,
	}
	t.state.Store(int32(StateInit))
	t.core.Store(int32(core))
	t.affinity.Store(int32(Affinity(core)))
	return t
}

// ID returns the thread's identifier.
func (t *Thread) ID() ID { return t.id }

// Name returns the display name given at creation.
func (t *Thread) Name() string { return t.name }

// Kind reports whether this is a normal or an idle thread.
func (t *Thread) Kind() Kind { return t.kind }

// Priority returns the priority recorded at creation.
func (t *Thread) Priority() Priority { return t.prio }

// AddressSpace returns the opaque address-space handle, if any.
func (t *Thread) AddressSpace() any { return t.space }

// Entry returns the idle loop body for idle threads, nil otherwise.
func (t *Thread) Entry() func() { return t.entry }

// State returns the current scheduling state.
func (t *Thread) State() State { return State(t.state.Load()) }

// Core returns the core the thread is queued or running on, -1 before
// its first enqueue.
func (t *Thread) Core() CoreID { return CoreID(t.core.Load()) }

// Affinity returns the placement recorded by the most recent enqueue,
// or the value given at creation.
func (t *Thread) Affinity() Affinity { return Affinity(t.affinity.Load()) }

// Budget returns the remaining timer-tick budget.
func (t *Thread) Budget() uint32 { return t.budget.Load() }

func (t *Thread) setState(s State) { t.state.Store(int32(s)) }

func (t *Thread) setCore(c CoreID) { t.core.Store(int32(c)) }

func (t *Thread) setAffinity(a Affinity) { t.affinity.Store(int32(a)) }

func (t *Thread) setBudget(b uint32) { t.budget.Store(b) }

// valid reports whether the thread was built by a constructor and so
// carries an initialized scheduling context.
func (t *Thread) valid() bool { return t != nil && t.initialized }

// String renders the thread with its scheduling fields for diagnostics.
func (t *Thread) String() string {
	if t == nil {
		return "thread <nil>"
	}
	return fmt.Sprintf("thread %d (%s) kind=%s state=%s core=%d affinity=%d budget=%d",
		t.id, t.name, t.kind, t.State(), t.Core(), t.Affinity(), t.Budget())
}
