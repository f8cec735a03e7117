// Package sim drives a scheduler through a workload on virtual time.
// Each tick admits arriving threads, wakes sleepers, applies operator
// migrations, and then gives every core one unit of work: the running
// thread's current step advances and the timer charges its budget.
// The scheduler alone decides placement; the simulator only plays the
// roles the kernel would, timer interrupts, blocking syscalls and
// thread exit.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/me/runq/internal/trace"
	"github.com/me/runq/internal/workload"
	"github.com/me/runq/pkg/sched"
)

// Config holds simulation parameters.
type Config struct {
	Cores        int
	Quantum      uint32
	Policy       string
	Ticks        uint64
	TickInterval time.Duration
	RunID        string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Cores:        1,
		Quantum:      sched.DefaultQuantum,
		Policy:       sched.PolicyRoundRobin,
		Ticks:        1000,
		TickInterval: 100 * time.Millisecond,
	}
}

// simThread pairs a workload spec with its live thread and the
// simulator's bookkeeping for it.
type simThread struct {
	spec    workload.ThreadSpec
	thread  *sched.Thread
	stepIdx int
	left    uint64 // units remaining in the current run step
	wake    uint64 // tick a blocked thread re-enqueues at
	arrived bool
	done    bool

	firstRun uint64
	finish   uint64
	ran      uint64
	waited   uint64
}

// Sim owns a scheduler and walks it through a workload tick by tick.
// Tick, Run and Start must be driven from one goroutine; Stats, Clock
// and Scheduler are safe to call from others.
type Sim struct {
	sched  sched.Scheduler
	wl     *workload.Workload
	rec    trace.Recorder
	config Config
	logger *slog.Logger

	clock atomic.Uint64

	// mu guards the bookkeeping below across Tick and Stats.
	mu         sync.RWMutex
	threads    []*simThread
	byID       map[sched.ID]*simThread
	byName     map[string]*simThread
	blocked    []*simThread
	completed  int
	idleTicks  []uint64
	dispatches []uint64
	idleSpins  uint64
	seq        uint64

	tickCtx context.Context
	recErr  error

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds the scheduler named by cfg.Policy from the registry and
// prepares the workload on it. rec may be nil to skip recording.
func New(reg *sched.Registry, wl *workload.Workload, rec trace.Recorder, cfg Config, logger *slog.Logger) (*Sim, error) {
	if wl == nil {
		return nil, fmt.Errorf("workload is required")
	}
	if err := wl.Validate(); err != nil {
		return nil, fmt.Errorf("workload: %w", err)
	}
	if cfg.Ticks < 1 {
		return nil, fmt.Errorf("ticks must be at least 1, got %d", cfg.Ticks)
	}

	s := &Sim{
		wl:         wl,
		rec:        rec,
		config:     cfg,
		logger:     logger.With("component", "sim"),
		byID:       make(map[sched.ID]*simThread),
		byName:     make(map[string]*simThread),
		idleTicks:  make([]uint64, cfg.Cores),
		dispatches: make([]uint64, cfg.Cores),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	schedCfg := sched.Config{
		Cores:     cfg.Cores,
		Quantum:   cfg.Quantum,
		IdleEntry: func() { s.idleSpins++ },
	}
	scheduler, err := reg.New(cfg.Policy, schedCfg,
		sched.WithLogger(logger),
		sched.WithObserver(sched.ObserverFunc(s.observe)),
		sched.WithDispatcher(sched.DispatcherFunc(s.dispatch)))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s.sched = scheduler

	for i, spec := range wl.Threads {
		st := &simThread{
			spec: spec,
			thread: sched.NewThread(sched.ID(i+1), spec.Name,
				sched.Priority(spec.Priority), sched.Affinity(spec.Affinity), nil),
		}
		s.threads = append(s.threads, st)
		s.byID[st.thread.ID()] = st
		s.byName[spec.Name] = st
	}

	if err := s.validatePlacement(); err != nil {
		return nil, fmt.Errorf("workload: %w", err)
	}
	return s, nil
}

// validatePlacement checks workload core references against the
// configured core count, which Workload.Validate cannot know.
func (s *Sim) validatePlacement() error {
	cores := int32(s.sched.NumCores())
	for _, spec := range s.wl.Threads {
		if spec.From >= cores {
			return fmt.Errorf("thread %q: from core %d out of range with %d cores", spec.Name, spec.From, cores)
		}
		if spec.Affinity >= cores {
			return fmt.Errorf("thread %q: affinity %d out of range with %d cores", spec.Name, spec.Affinity, cores)
		}
	}
	for i, m := range s.wl.Migrations {
		if m.To >= cores {
			return fmt.Errorf("migration %d: target core %d out of range with %d cores", i, m.To, cores)
		}
	}
	return nil
}

// Scheduler returns the scheduler under simulation, for monitors that
// read its snapshots.
func (s *Sim) Scheduler() sched.Scheduler { return s.sched }

// Clock returns the current simulation tick.
func (s *Sim) Clock() uint64 { return s.clock.Load() }

// dispatch is the context-switch collaborator. The simulated platform
// switches instantly, so a selected thread commits in the same call.
func (s *Sim) dispatch(core sched.CoreID, t *sched.Thread) {
	s.sched.CommitSwitch(core, t)
}

// observe receives scheduler events, stamps them with the simulator
// clock and forwards them to the recorder. Called synchronously from
// within Tick.
func (s *Sim) observe(e sched.Event) {
	s.seq++
	if e.Kind == sched.EventSwitch && int(e.Core) < len(s.dispatches) {
		s.dispatches[e.Core]++
	}
	if s.rec == nil {
		return
	}
	rec := trace.Record{
		Run:    s.config.RunID,
		Seq:    s.seq,
		Tick:   s.clock.Load(),
		Kind:   e.Kind,
		Core:   e.Core,
		Thread: e.Thread,
		Name:   e.Name,
		Idle:   e.Idle,
		Budget: e.Budget,
	}
	ctx := s.tickCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.rec.Record(ctx, rec); err != nil && s.recErr == nil {
		s.recErr = fmt.Errorf("record event %d: %w", rec.Seq, err)
	}
}

// Tick advances virtual time by one tick. It returns the first
// recorder error encountered; the simulation itself always advances.
func (s *Sim) Tick(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tickCtx = ctx
	s.recErr = nil
	tick := s.clock.Add(1)

	s.wakeSleepers(tick)
	s.admitArrivals(tick)
	s.applyMigrations(tick)

	for core := sched.CoreID(0); int(core) < s.sched.NumCores(); core++ {
		s.stepCore(core, tick)
	}

	for _, st := range s.threads {
		if st.arrived && !st.done && st.thread.State() == sched.StateReady {
			st.waited++
		}
	}
	return s.recErr
}

// wakeSleepers re-enqueues blocked threads whose sleep expires at this
// tick. A thread whose spec ends on a block step retires here instead.
func (s *Sim) wakeSleepers(tick uint64) {
	if len(s.blocked) == 0 {
		return
	}
	remaining := s.blocked[:0]
	for _, st := range s.blocked {
		if st.wake > tick {
			remaining = append(remaining, st)
			continue
		}
		if st.stepIdx >= len(st.spec.Steps) {
			s.retire(st, tick)
			continue
		}
		st.left = st.spec.Steps[st.stepIdx].Run
		caller := st.thread.Core()
		if err := s.sched.Enqueue(caller, st.thread, st.thread.Affinity()); err != nil {
			s.logger.Error("wake enqueue", "thread", st.spec.Name, "error", err)
			continue
		}
		s.logger.Debug("thread woke", "thread", st.spec.Name, "tick", tick)
	}
	s.blocked = remaining
}

// admitArrivals enqueues threads whose arrival tick has come.
func (s *Sim) admitArrivals(tick uint64) {
	for _, st := range s.threads {
		if st.arrived || st.spec.Arrive != tick {
			continue
		}
		st.arrived = true
		st.left = st.spec.Steps[0].Run
		if err := s.sched.Enqueue(sched.CoreID(st.spec.From), st.thread, st.thread.Affinity()); err != nil {
			s.logger.Error("admit thread", "thread", st.spec.Name, "error", err)
			continue
		}
		s.logger.Debug("thread admitted", "thread", st.spec.Name, "tick", tick, "core", st.thread.Core())
	}
}

// applyMigrations executes the migrations scheduled for this tick. A
// waiting thread moves queues immediately; a running or blocked thread
// picks up the new affinity at its next enqueue.
func (s *Sim) applyMigrations(tick uint64) {
	for _, m := range s.wl.Migrations {
		if m.At != tick {
			continue
		}
		st := s.byName[m.Thread]
		if st == nil || st.done {
			continue
		}
		dest := sched.Affinity(m.To)
		if err := s.sched.SetAffinity(st.thread, dest); err != nil {
			s.logger.Error("migrate thread", "thread", m.Thread, "to", m.To, "error", err)
			continue
		}
		if st.thread.State() == sched.StateReady {
			from := st.thread.Core()
			if err := s.sched.Dequeue(from, st.thread); err != nil {
				s.logger.Error("migrate dequeue", "thread", m.Thread, "error", err)
				continue
			}
			if err := s.sched.Enqueue(from, st.thread, dest); err != nil {
				s.logger.Error("migrate enqueue", "thread", m.Thread, "error", err)
				continue
			}
		}
		s.logger.Info("thread migrated", "thread", m.Thread, "to", m.To, "tick", tick)
	}
}

// stepCore runs one tick of work on a core: fill an empty slot, let
// the occupant work one unit, then exit, block or charge the timer.
func (s *Sim) stepCore(core sched.CoreID, tick uint64) {
	if s.sched.Running(core) == nil {
		if err := s.sched.Schedule(core); err != nil {
			s.logger.Error("schedule", "core", core, "error", err)
			return
		}
	}
	t := s.sched.Running(core)
	if t == nil {
		return
	}

	if t.Kind() == sched.KindIdle {
		s.idleTicks[core]++
		if entry := t.Entry(); entry != nil {
			entry()
		}
		s.sched.HandleTimerTick(core)
		return
	}

	st := s.byID[t.ID()]
	if st == nil {
		s.sched.HandleTimerTick(core)
		return
	}
	if st.firstRun == 0 {
		st.firstRun = tick
	}
	st.ran++
	st.left--
	if st.left > 0 {
		s.sched.HandleTimerTick(core)
		return
	}

	// The current run step is finished. Consecutive block steps fold
	// into one sleep.
	st.stepIdx++
	var sleep uint64
	for st.stepIdx < len(st.spec.Steps) && st.spec.Steps[st.stepIdx].Block > 0 {
		sleep += st.spec.Steps[st.stepIdx].Block
		st.stepIdx++
	}
	if sleep > 0 {
		st.wake = tick + sleep
		s.blocked = append(s.blocked, st)
		s.sched.ClearRunning(core)
		s.logger.Debug("thread blocked", "thread", st.spec.Name, "core", core, "until", st.wake)
		if err := s.sched.Schedule(core); err != nil {
			s.logger.Error("schedule after block", "core", core, "error", err)
		}
		return
	}
	if st.stepIdx >= len(st.spec.Steps) {
		s.sched.ClearRunning(core)
		s.retire(st, tick)
		if err := s.sched.Schedule(core); err != nil {
			s.logger.Error("schedule after exit", "core", core, "error", err)
		}
		return
	}
	st.left = st.spec.Steps[st.stepIdx].Run
	s.sched.HandleTimerTick(core)
}

// retire marks a thread's workload as completely executed.
func (s *Sim) retire(st *simThread, tick uint64) {
	st.done = true
	st.finish = tick
	s.completed++
	s.logger.Info("thread finished", "thread", st.spec.Name, "tick", tick, "ran", st.ran)
}

func (s *Sim) finished() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completed == len(s.threads)
}

// Run advances the simulation tick by tick with no pacing, until the
// tick limit is reached or every thread has finished.
func (s *Sim) Run(ctx context.Context) (*Stats, error) {
	s.logger.Info("simulation started",
		"policy", s.config.Policy, "cores", s.config.Cores,
		"quantum", s.config.Quantum, "ticks", s.config.Ticks,
		"threads", len(s.threads))

	for s.clock.Load() < s.config.Ticks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.Tick(ctx); err != nil {
			s.logger.Error("tick error", "tick", s.clock.Load(), "error", err)
		}
		if s.finished() {
			break
		}
	}

	stats := s.Stats()
	s.logger.Info("simulation finished",
		"ticks", stats.Ticks, "completed", stats.Completed, "events", stats.Events)
	return stats, nil
}

// Start paces the simulation on real time, one tick per interval.
// Blocks until the tick limit is reached, every thread finishes, ctx
// is cancelled or Stop is called.
func (s *Sim) Start(ctx context.Context) error {
	s.logger.Info("simulation started",
		"policy", s.config.Policy, "cores", s.config.Cores,
		"quantum", s.config.Quantum, "ticks", s.config.Ticks,
		"tick_interval", s.config.TickInterval)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("simulation stopping (context cancelled)")
			close(s.doneCh)
			return ctx.Err()
		case <-s.stopCh:
			s.logger.Info("simulation stopping (stop called)")
			close(s.doneCh)
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("tick error", "tick", s.clock.Load(), "error", err)
			}
			if s.clock.Load() >= s.config.Ticks || s.finished() {
				s.logger.Info("simulation finished",
					"ticks", s.clock.Load(), "completed", s.completedCount())
				close(s.doneCh)
				return nil
			}
		}
	}
}

// Stop gracefully shuts down a simulation begun with Start and waits
// for the current tick to finish.
func (s *Sim) Stop() error {
	close(s.stopCh)
	<-s.doneCh
	return nil
}

func (s *Sim) completedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completed
}
