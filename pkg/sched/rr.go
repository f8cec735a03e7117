package sched

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// core bundles the scheduler state owned by one CPU: the ready queue,
// the running slot, and the idle thread. mu guards the queue and the
// slot. A thread's scheduling fields are mutated only while holding
// the lock of the core that currently owns the thread.
type core struct {
	mu      sync.Mutex
	queue   *readyQueue
	running *Thread
	idle    *Thread
}

// RoundRobin cycles each core through its ready queue in FIFO order,
// preempting the running thread when its tick budget runs out and
// falling back to the core's idle thread when the queue is empty.
type RoundRobin struct {
	cores   []core
	quantum uint32
	disp    Dispatcher
	obs     Observer
	log     *slog.Logger
}

var _ Scheduler = (*RoundRobin)(nil)

// NewRoundRobin initializes the per-core queues and idle threads.
func NewRoundRobin(cfg Config, opts ...Option) (*RoundRobin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler config: %w", err)
	}
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &RoundRobin{
		cores:   make([]core, cfg.Cores),
		quantum: cfg.Quantum,
		disp:    o.Dispatcher,
		obs:     o.Observer,
		log:     o.Logger.With("component", "sched"),
	}
	if s.disp == nil {
		s.disp = DispatcherFunc(func(c CoreID, t *Thread) { s.CommitSwitch(c, t) })
	}
	for i := range s.cores {
		c := &s.cores[i]
		c.queue = newReadyQueue()
		c.idle = newIdleThread(CoreID(i), cfg.IdleEntry)
	}
	s.log.Debug("scheduler initialized", "cores", cfg.Cores, "quantum", cfg.Quantum)
	return s, nil
}

// NumCores returns the number of configured cores.
func (s *RoundRobin) NumCores() int { return len(s.cores) }

// Quantum returns the configured budget refill value.
func (s *RoundRobin) Quantum() uint32 { return s.quantum }

func (s *RoundRobin) validCore(id CoreID) bool {
	return id >= 0 && int(id) < len(s.cores)
}

// Enqueue appends t to the tail of the ready queue named by aff, or of
// the calling core's queue for NoAffinity. Enqueuing an idle thread is
// a no-op. The requested affinity is recorded on the thread so a later
// requeue lands on the same core.
func (s *RoundRobin) Enqueue(caller CoreID, t *Thread, aff Affinity) error {
	if !t.valid() {
		return ErrInvalidThread
	}
	if t.State() == StateReady {
		return ErrAlreadyQueued
	}
	if t.kind == KindIdle {
		return nil
	}

	var dest CoreID
	switch {
	case aff == NoAffinity:
		if !s.validCore(caller) {
			return ErrInvalidCore
		}
		dest = caller
	case s.validCore(CoreID(aff)):
		dest = CoreID(aff)
	default:
		return ErrInvalidAffinity
	}

	c := &s.cores[dest]
	c.mu.Lock()
	if t.State() == StateReady {
		c.mu.Unlock()
		return ErrAlreadyQueued
	}
	t.setState(StateReady)
	t.setCore(dest)
	t.setAffinity(aff)
	c.queue.push(t)
	c.mu.Unlock()

	s.observe(EventEnqueue, dest, t)
	return nil
}

// Dequeue removes t from the calling core's ready queue and leaves it
// in transit, owned by the caller.
func (s *RoundRobin) Dequeue(caller CoreID, t *Thread) error {
	if !t.valid() {
		return ErrInvalidThread
	}
	if t.kind == KindIdle {
		return ErrNotRemovable
	}
	if !s.validCore(caller) {
		return ErrInvalidCore
	}

	c := &s.cores[caller]
	c.mu.Lock()
	if err := s.dequeueLocked(c, caller, t); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	s.observe(EventDequeue, caller, t)
	return nil
}

// dequeueLocked unlinks t from c's queue. c.mu must be held.
func (s *RoundRobin) dequeueLocked(c *core, caller CoreID, t *Thread) error {
	if t.Core() != caller {
		return ErrWrongCore
	}
	if t.State() != StateReady {
		return ErrNotQueued
	}
	c.queue.remove(t)
	t.setState(StateInTransit)
	return nil
}

// ChooseThread removes and returns the head of the calling core's
// ready queue, or the core's idle thread when the queue is empty. A
// queued head whose recorded core or state disagrees with the queue
// means scheduler state is corrupted, which is fatal.
func (s *RoundRobin) ChooseThread(caller CoreID) *Thread {
	if !s.validCore(caller) {
		s.fatal(caller, nil, "choose on unknown core")
	}

	c := &s.cores[caller]
	c.mu.Lock()
	head := c.queue.front()
	if head == nil {
		idle := c.idle
		idle.setState(StateInTransit)
		c.mu.Unlock()
		s.observe(EventPick, caller, idle)
		return idle
	}
	if head.Core() != caller || head.State() != StateReady {
		c.mu.Unlock()
		s.fatal(caller, head, "queue head does not belong to this queue")
	}
	if err := s.dequeueLocked(c, caller, head); err != nil {
		c.mu.Unlock()
		s.fatal(caller, head, fmt.Sprintf("dequeue of selected thread: %v", err))
	}
	c.mu.Unlock()

	s.observe(EventPick, caller, head)
	return head
}

// Schedule suspends the calling core's running thread and dispatches
// the next one. A running thread that still has budget is not
// preempted; its budget is topped up and it keeps the core. Otherwise
// the thread is refilled and requeued with its recorded affinity, the
// queue head (or idle) is selected, granted a full quantum, and handed
// to the dispatcher.
func (s *RoundRobin) Schedule(caller CoreID) error {
	if !s.validCore(caller) {
		s.fatal(caller, nil, "schedule on unknown core")
	}

	c := &s.cores[caller]
	c.mu.Lock()
	cur := c.running
	if cur != nil && cur.Budget() != 0 {
		cur.setBudget(s.quantum)
		c.mu.Unlock()
		s.observe(EventRefill, caller, cur)
		return nil
	}
	c.mu.Unlock()

	if cur != nil {
		cur.setBudget(s.quantum)
		s.observe(EventRefill, caller, cur)
		if err := s.Enqueue(caller, cur, cur.Affinity()); err != nil {
			s.fatal(caller, cur, fmt.Sprintf("requeue of suspended thread: %v", err))
		}
	}

	next := s.ChooseThread(caller)
	next.setBudget(s.quantum)
	s.disp.SwitchTo(caller, next)
	return nil
}

// HandleTimerTick charges one tick against the calling core's running
// thread. While budget remains the thread keeps the core. A tick that
// finds the budget already exhausted, or no running thread at all,
// triggers exactly one scheduling pass.
func (s *RoundRobin) HandleTimerTick(caller CoreID) {
	if !s.validCore(caller) {
		s.fatal(caller, nil, "timer tick on unknown core")
	}

	c := &s.cores[caller]
	c.mu.Lock()
	cur := c.running
	if cur != nil && cur.Budget() != 0 {
		cur.setBudget(cur.Budget() - 1)
		c.mu.Unlock()
		s.observe(EventTick, caller, cur)
		return
	}
	c.mu.Unlock()

	if err := s.Schedule(caller); err != nil {
		s.fatal(caller, cur, fmt.Sprintf("schedule from timer tick: %v", err))
	}
}

// SetAffinity records a new affinity on t. It takes effect the next
// time the thread is enqueued; a thread that is already queued or
// running is not moved.
func (s *RoundRobin) SetAffinity(t *Thread, aff Affinity) error {
	if !t.valid() {
		return ErrInvalidThread
	}
	if aff != NoAffinity && !s.validCore(CoreID(aff)) {
		return ErrInvalidAffinity
	}
	t.setAffinity(aff)
	return nil
}

// Running returns the thread occupying the core's running slot, nil
// when nothing is dispatched.
func (s *RoundRobin) Running(core CoreID) *Thread {
	if !s.validCore(core) {
		s.fatal(core, nil, "running lookup on unknown core")
	}
	c := &s.cores[core]
	c.mu.Lock()
	r := c.running
	c.mu.Unlock()
	return r
}

// CommitSwitch installs t, previously returned by ChooseThread, as the
// core's running thread. Committing a thread that is not in transit or
// that belongs to another core is fatal. An idle thread displaced from
// the slot returns to standby; it is never queued.
func (s *RoundRobin) CommitSwitch(core CoreID, t *Thread) {
	if !s.validCore(core) {
		s.fatal(core, t, "commit on unknown core")
	}
	if !t.valid() {
		s.fatal(core, nil, "commit of invalid thread")
	}

	c := &s.cores[core]
	c.mu.Lock()
	if !t.State().CanTransitionTo(StateRunning) {
		c.mu.Unlock()
		s.fatal(core, t, "committed thread is not in transit")
	}
	if t.Core() != core {
		c.mu.Unlock()
		s.fatal(core, t, "committed thread belongs to another core")
	}
	prev := c.running
	c.running = t
	t.setState(StateRunning)
	if prev != nil && prev != t && prev.kind == KindIdle {
		prev.setState(StateInit)
	}
	c.mu.Unlock()

	s.observe(EventSwitch, core, t)
}

// ClearRunning detaches and returns the core's running thread, nil if
// the slot was empty. The detached thread is reset to INIT; its Core
// still names this core so callers can requeue from where it ran.
func (s *RoundRobin) ClearRunning(core CoreID) *Thread {
	if !s.validCore(core) {
		s.fatal(core, nil, "clear on unknown core")
	}

	c := &s.cores[core]
	c.mu.Lock()
	prev := c.running
	c.running = nil
	if prev != nil {
		prev.setState(StateInit)
	}
	c.mu.Unlock()

	if prev != nil {
		s.observe(EventClear, core, prev)
	}
	return prev
}

// IdleThread returns the core's idle thread.
func (s *RoundRobin) IdleThread(core CoreID) *Thread {
	if !s.validCore(core) {
		s.fatal(core, nil, "idle lookup on unknown core")
	}
	return s.cores[core].idle
}

// fatal reports a corrupted-state condition and halts scheduling by
// panicking with an InvariantError. Recovering and continuing to
// schedule is not supported.
func (s *RoundRobin) fatal(core CoreID, t *Thread, msg string) {
	if t != nil {
		s.log.Error("scheduler invariant violated", "core", core, "reason", msg, "thread", t.String())
	} else {
		s.log.Error("scheduler invariant violated", "core", core, "reason", msg)
	}
	panic(&InvariantError{Core: core, Thread: t, Msg: msg})
}
