// Package sched implements policy-level thread scheduling for a fixed
// set of cores: per-core FIFO ready queues, budget-based timer
// preemption, and per-core idle threads that absorb empty queues. The
// package decides which thread runs next; performing the switch and
// driving timer ticks belong to the platform embedding it.
package sched

import (
	"fmt"
	"log/slog"
)

// DefaultQuantum is the budget, in timer ticks, granted to a thread
// when it is selected or refilled.
const DefaultQuantum uint32 = 10

// Policy is the operation table of a scheduling policy. The caller
// argument names the core the invoking code runs on; operations that
// touch a queue use it to pick the queue and to resolve NoAffinity
// placements.
type Policy interface {
	// Enqueue makes t runnable on the core named by aff, or on the
	// calling core for NoAffinity.
	Enqueue(caller CoreID, t *Thread, aff Affinity) error

	// Dequeue removes t from the calling core's ready queue.
	Dequeue(caller CoreID, t *Thread) error

	// ChooseThread removes and returns the next thread to run on the
	// calling core, falling back to the core's idle thread when the
	// queue is empty. It never returns nil.
	ChooseThread(caller CoreID) *Thread

	// Schedule suspends the calling core's current thread, if any,
	// and dispatches the next one.
	Schedule(caller CoreID) error

	// HandleTimerTick charges one timer tick against the calling
	// core's running thread and schedules when the budget was
	// already exhausted.
	HandleTimerTick(caller CoreID)
}

// Scheduler is a Policy together with the dispatch-facing surface the
// platform layer uses to commit switches and inspect state.
type Scheduler interface {
	Policy

	// Running returns the thread occupying the core's running slot,
	// nil when the core has nothing dispatched.
	Running(core CoreID) *Thread

	// CommitSwitch installs t, previously returned by ChooseThread,
	// as the core's running thread.
	CommitSwitch(core CoreID, t *Thread)

	// ClearRunning detaches and returns the core's running thread,
	// for callers that retire or block it. The detached thread is
	// reset to INIT.
	ClearRunning(core CoreID) *Thread

	// SetAffinity records a new affinity on t, applied at its next
	// enqueue.
	SetAffinity(t *Thread, aff Affinity) error

	// IdleThread returns the core's idle thread.
	IdleThread(core CoreID) *Thread

	// Snapshot copies the observable state of every core.
	Snapshot() []CoreSnapshot

	// SnapshotCore copies the observable state of one core.
	SnapshotCore(core CoreID) CoreSnapshot

	// NumCores returns the number of configured cores.
	NumCores() int

	// Quantum returns the configured budget refill value.
	Quantum() uint32
}

// Dispatcher performs the context switch for a thread the policy has
// selected. Implementations must call CommitSwitch once the switch has
// taken effect; the default dispatcher commits immediately.
type Dispatcher interface {
	SwitchTo(core CoreID, t *Thread)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(core CoreID, t *Thread)

// SwitchTo implements Dispatcher.
func (f DispatcherFunc) SwitchTo(core CoreID, t *Thread) { f(core, t) }

// Config carries the parameters fixed at scheduler initialization.
type Config struct {
	// Cores is the number of cores to schedule, numbered 0..Cores-1.
	Cores int

	// Quantum is the tick budget granted on selection and refill.
	Quantum uint32

	// IdleEntry is the loop body for the per-core idle threads,
	// supplied by the platform layer.
	IdleEntry func()
}

// DefaultConfig returns a single-core configuration with the default
// quantum and an idle thread that does nothing.
func DefaultConfig() Config {
	return Config{
		Cores:     1,
		Quantum:   DefaultQuantum,
		IdleEntry: func() {},
	}
}

// Validate checks that the configuration can initialize a scheduler.
func (c Config) Validate() error {
	if c.Cores < 1 {
		return fmt.Errorf("cores must be at least 1, got %d", c.Cores)
	}
	if c.Quantum < 1 {
		return fmt.Errorf("quantum must be at least 1, got %d", c.Quantum)
	}
	if c.IdleEntry == nil {
		return fmt.Errorf("idle entry routine is required")
	}
	return nil
}

// Options collects the optional collaborators of a scheduler.
type Options struct {
	Logger     *slog.Logger
	Observer   Observer
	Dispatcher Dispatcher
}

// Option customizes a scheduler at construction.
type Option func(*Options)

// WithLogger sets the logger. By default the scheduler logs nowhere.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithObserver registers an observer for scheduler events.
func WithObserver(obs Observer) Option {
	return func(o *Options) { o.Observer = obs }
}

// WithDispatcher replaces the default immediate-commit dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(o *Options) { o.Dispatcher = d }
}
