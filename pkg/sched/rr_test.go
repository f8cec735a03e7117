package sched

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

// newTestScheduler builds a RoundRobin with a no-op idle routine.
func newTestScheduler(t *testing.T, cores int, quantum uint32, opts ...Option) *RoundRobin {
	t.Helper()
	s, err := NewRoundRobin(Config{Cores: cores, Quantum: quantum, IdleEntry: func() {}}, opts...)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

// newTestThread builds a normal thread with a generated name.
func newTestThread(id ID, aff Affinity) *Thread {
	return NewThread(id, fmt.Sprintf("t%d", id), DefaultPriority, aff, nil)
}

// expectHalt runs fn, which must panic with an InvariantError detected
// on the given core, and returns the error.
func expectHalt(t *testing.T, core CoreID, fn func()) *InvariantError {
	t.Helper()
	var inv *InvariantError
	func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			e, ok := IsInvariantError(r)
			if !ok {
				panic(r)
			}
			inv = e
		}()
		fn()
	}()
	if inv == nil {
		t.Fatal("expected the scheduler to halt with an invariant violation")
	}
	if inv.Core != core {
		t.Errorf("violation reported on core %d, want %d", inv.Core, core)
	}
	return inv
}

func TestNewRoundRobin_ValidatesConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero cores", Config{Cores: 0, Quantum: 5, IdleEntry: func() {}}},
		{"zero quantum", Config{Cores: 1, Quantum: 0, IdleEntry: func() {}}},
		{"nil idle entry", Config{Cores: 1, Quantum: 5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRoundRobin(tc.cfg); err == nil {
				t.Error("expected config error, got nil")
			}
		})
	}
}

func TestNewRoundRobin_InitializesIdlePerCore(t *testing.T) {
	s := newTestScheduler(t, 3, 5)

	for core := CoreID(0); core < 3; core++ {
		idle := s.IdleThread(core)
		if idle.Kind() != KindIdle {
			t.Errorf("core %d: idle kind = %s", core, idle.Kind())
		}
		if idle.Core() != core {
			t.Errorf("core %d: idle pinned to core %d", core, idle.Core())
		}
		if idle.Priority() != MinPriority {
			t.Errorf("core %d: idle priority = %d, want %d", core, idle.Priority(), MinPriority)
		}
		if idle.AddressSpace() != nil {
			t.Errorf("core %d: idle has an address space", core)
		}
		if idle.Entry() == nil {
			t.Errorf("core %d: idle has no entry routine", core)
		}
		if got := s.Running(core); got != nil {
			t.Errorf("core %d: running slot not empty after init: %v", core, got)
		}
	}
}

func TestEnqueue_NoAffinityLandsOnCaller(t *testing.T) {
	s := newTestScheduler(t, 2, 5)
	a := newTestThread(1, NoAffinity)

	if err := s.Enqueue(1, a, NoAffinity); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if a.State() != StateReady {
		t.Errorf("state = %s, want %s", a.State(), StateReady)
	}
	if a.Core() != 1 {
		t.Errorf("core = %d, want 1", a.Core())
	}
	if got := s.ChooseThread(1); got != a {
		t.Errorf("core 1 chose %v, want %v", got, a)
	}
}

func TestEnqueue_AffinityOverridesCaller(t *testing.T) {
	s := newTestScheduler(t, 2, 5)
	a := newTestThread(1, 1)

	if err := s.Enqueue(0, a, 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if a.Core() != 1 {
		t.Errorf("core = %d, want 1", a.Core())
	}
	if got := s.ChooseThread(1); got != a {
		t.Errorf("core 1 chose %v, want %v", got, a)
	}
}

func TestEnqueue_InvalidAffinityRejected(t *testing.T) {
	s := newTestScheduler(t, 2, 5)
	a := newTestThread(1, NoAffinity)

	if err := s.Enqueue(0, a, 2); !errors.Is(err, ErrInvalidAffinity) {
		t.Errorf("affinity 2 on 2 cores: err = %v, want ErrInvalidAffinity", err)
	}
	if err := s.Enqueue(0, a, -7); !errors.Is(err, ErrInvalidAffinity) {
		t.Errorf("affinity -7: err = %v, want ErrInvalidAffinity", err)
	}
	if a.State() != StateInit {
		t.Errorf("failed enqueue changed state to %s", a.State())
	}
}

func TestEnqueue_InvalidThreadRejected(t *testing.T) {
	s := newTestScheduler(t, 1, 5)

	if err := s.Enqueue(0, nil, NoAffinity); !errors.Is(err, ErrInvalidThread) {
		t.Errorf("nil thread: err = %v, want ErrInvalidThread", err)
	}
	if err := s.Enqueue(0, &Thread{}, NoAffinity); !errors.Is(err, ErrInvalidThread) {
		t.Errorf("zero-value thread: err = %v, want ErrInvalidThread", err)
	}
}

func TestEnqueue_InvalidCallerRejected(t *testing.T) {
	s := newTestScheduler(t, 2, 5)
	a := newTestThread(1, NoAffinity)

	if err := s.Enqueue(9, a, NoAffinity); !errors.Is(err, ErrInvalidCore) {
		t.Errorf("caller 9: err = %v, want ErrInvalidCore", err)
	}
}

func TestEnqueue_AlreadyQueuedRejected(t *testing.T) {
	s := newTestScheduler(t, 2, 5)
	a := newTestThread(1, NoAffinity)

	if err := s.Enqueue(0, a, NoAffinity); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := s.Enqueue(1, a, 1); !errors.Is(err, ErrAlreadyQueued) {
		t.Errorf("second enqueue: err = %v, want ErrAlreadyQueued", err)
	}

	// The thread must still sit on core 0 exactly once.
	snap := s.Snapshot()
	if len(snap[0].Queue) != 1 || snap[0].Queue[0].ID != a.ID() {
		t.Errorf("core 0 queue = %+v, want exactly [t1]", snap[0].Queue)
	}
	if len(snap[1].Queue) != 0 {
		t.Errorf("core 1 queue not empty: %+v", snap[1].Queue)
	}
}

func TestEnqueue_IdleIsNoOp(t *testing.T) {
	s := newTestScheduler(t, 1, 5)
	idle := s.IdleThread(0)

	if err := s.Enqueue(0, idle, NoAffinity); err != nil {
		t.Fatalf("enqueue idle: %v", err)
	}
	if n := len(s.Snapshot()[0].Queue); n != 0 {
		t.Errorf("idle thread entered the ready queue, len = %d", n)
	}
}

func TestDequeue_RemovesAndMarksInTransit(t *testing.T) {
	s := newTestScheduler(t, 1, 5)
	a := newTestThread(1, NoAffinity)
	b := newTestThread(2, NoAffinity)
	for _, th := range []*Thread{a, b} {
		if err := s.Enqueue(0, th, NoAffinity); err != nil {
			t.Fatalf("enqueue %v: %v", th, err)
		}
	}

	if err := s.Dequeue(0, a); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if a.State() != StateInTransit {
		t.Errorf("state = %s, want %s", a.State(), StateInTransit)
	}
	if got := s.ChooseThread(0); got != b {
		t.Errorf("chose %v after dequeue of t1, want t2", got)
	}
}

func TestDequeue_Errors(t *testing.T) {
	s := newTestScheduler(t, 2, 5)
	a := newTestThread(1, 1)
	if err := s.Enqueue(0, a, 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	loose := newTestThread(2, NoAffinity)

	cases := []struct {
		name   string
		caller CoreID
		thread *Thread
		want   error
	}{
		{"nil thread", 0, nil, ErrInvalidThread},
		{"idle thread", 0, s.IdleThread(0), ErrNotRemovable},
		{"wrong core", 0, a, ErrWrongCore},
		{"never queued", 0, loose, ErrWrongCore},
		{"invalid caller", 5, a, ErrInvalidCore},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.Dequeue(tc.caller, tc.thread); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}

	// Not READY on the right core: detach a running thread first.
	s.CommitSwitch(1, s.ChooseThread(1))
	if a.State() != StateRunning {
		t.Fatalf("setup: t1 state = %s", a.State())
	}
	if err := s.Dequeue(1, a); !errors.Is(err, ErrNotQueued) {
		t.Errorf("dequeue of running thread: err = %v, want ErrNotQueued", err)
	}
}

func TestChooseThread_FIFO(t *testing.T) {
	s := newTestScheduler(t, 1, 5)
	var want []ID
	for id := ID(1); id <= 3; id++ {
		want = append(want, id)
		if err := s.Enqueue(0, newTestThread(id, NoAffinity), NoAffinity); err != nil {
			t.Fatalf("enqueue %d: %v", id, err)
		}
	}

	for _, id := range want {
		got := s.ChooseThread(0)
		if got.ID() != id {
			t.Fatalf("chose thread %d, want %d", got.ID(), id)
		}
		if got.State() != StateInTransit {
			t.Errorf("thread %d state = %s after selection, want %s", id, got.State(), StateInTransit)
		}
	}
}

func TestChooseThread_EmptyQueueFallsBackToIdle(t *testing.T) {
	s := newTestScheduler(t, 2, 5)

	got := s.ChooseThread(1)
	if got != s.IdleThread(1) {
		t.Fatalf("chose %v on empty queue, want the core 1 idle thread", got)
	}
	if got.State() != StateInTransit {
		t.Errorf("idle state = %s, want %s", got.State(), StateInTransit)
	}
	// Selecting idle must not have touched any queue.
	for core, cs := range s.Snapshot() {
		if len(cs.Queue) != 0 {
			t.Errorf("core %d queue not empty: %+v", core, cs.Queue)
		}
	}
}

func TestChooseThread_NeverStealsAcrossCores(t *testing.T) {
	s := newTestScheduler(t, 2, 5)
	a := newTestThread(1, 0)
	b := newTestThread(2, 1)
	if err := s.Enqueue(0, a, 0); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	if err := s.Enqueue(0, b, 1); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}

	if got := s.ChooseThread(0); got != a {
		t.Errorf("core 0 chose %v, want t1", got)
	}
	// Core 0 is empty now; it must fall back to its own idle thread,
	// not to the thread waiting on core 1.
	if got := s.ChooseThread(0); got != s.IdleThread(0) {
		t.Errorf("core 0 chose %v from an empty queue, want its idle thread", got)
	}
	if got := s.ChooseThread(1); got != b {
		t.Errorf("core 1 chose %v, want t2", got)
	}
}

func TestChooseThread_HaltsOnForeignCoreMarker(t *testing.T) {
	s := newTestScheduler(t, 2, 5)
	a := newTestThread(1, NoAffinity)
	if err := s.Enqueue(0, a, NoAffinity); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	a.setCore(1) // corrupt the bookkeeping behind the queue's back

	inv := expectHalt(t, 0, func() { s.ChooseThread(0) })
	if inv.Thread != a {
		t.Errorf("violation names %v, want t1", inv.Thread)
	}
}

func TestChooseThread_HaltsOnNonReadyHead(t *testing.T) {
	s := newTestScheduler(t, 1, 5)
	a := newTestThread(1, NoAffinity)
	if err := s.Enqueue(0, a, NoAffinity); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	a.setState(StateInTransit)

	expectHalt(t, 0, func() { s.ChooseThread(0) })
}

func TestSchedule_DispatchesFirstThread(t *testing.T) {
	s := newTestScheduler(t, 1, 5)
	a := newTestThread(1, NoAffinity)
	if err := s.Enqueue(0, a, NoAffinity); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := s.Schedule(0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if got := s.Running(0); got != a {
		t.Fatalf("running = %v, want t1", got)
	}
	if a.State() != StateRunning {
		t.Errorf("state = %s, want %s", a.State(), StateRunning)
	}
	if a.Budget() != 5 {
		t.Errorf("budget = %d, want the full quantum 5", a.Budget())
	}
}

func TestSchedule_RefillsWithoutPreemptingWhileBudgetRemains(t *testing.T) {
	s := newTestScheduler(t, 1, 3)
	a := newTestThread(1, NoAffinity)
	b := newTestThread(2, NoAffinity)
	for _, th := range []*Thread{a, b} {
		if err := s.Enqueue(0, th, NoAffinity); err != nil {
			t.Fatalf("enqueue %v: %v", th, err)
		}
	}
	if err := s.Schedule(0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	s.HandleTimerTick(0) // budget 3 -> 2

	// A voluntary scheduling pass while budget remains refills the
	// budget and keeps the thread on the core.
	if err := s.Schedule(0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if got := s.Running(0); got != a {
		t.Errorf("running = %v, want t1 to keep the core", got)
	}
	if a.Budget() != 3 {
		t.Errorf("budget = %d, want refilled to 3", a.Budget())
	}
	if b.State() != StateReady {
		t.Errorf("t2 state = %s, want still %s", b.State(), StateReady)
	}
}

func TestSchedule_RotatesExhaustedThreadToTail(t *testing.T) {
	s := newTestScheduler(t, 1, 1)
	threads := make([]*Thread, 3)
	for i := range threads {
		threads[i] = newTestThread(ID(i+1), NoAffinity)
		if err := s.Enqueue(0, threads[i], NoAffinity); err != nil {
			t.Fatalf("enqueue %d: %v", i+1, err)
		}
	}

	// With quantum 1, every scheduling pass rotates: the running
	// thread drains to zero, is requeued at the tail, and the next
	// head takes the core.
	var order []ID
	for i := 0; i < 9; i++ {
		s.HandleTimerTick(0) // drain the single budget tick
		s.HandleTimerTick(0) // exhausted: rotate
		order = append(order, s.Running(0).ID())
	}
	want := []ID{1, 2, 3, 1, 2, 3, 1, 2, 3}
	// First pass dispatches t1 without draining anything.
	if order[0] != want[0] {
		t.Fatalf("first dispatch = t%d, want t1", order[0])
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("rotation order %v, want %v", order, want)
		}
	}
}

func TestSchedule_RequeueHonorsRecordedAffinity(t *testing.T) {
	s := newTestScheduler(t, 2, 1)
	a := newTestThread(1, 1)
	if err := s.Enqueue(0, a, 1); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	s.CommitSwitch(1, s.ChooseThread(1))

	// Exhaust the budget on core 1: the requeue must reuse the
	// recorded affinity and land the thread back on core 1.
	s.HandleTimerTick(1)
	if got := s.Running(1); got != a {
		t.Errorf("running = %v, want t1 back on core 1", got)
	}
	if a.Core() != 1 {
		t.Errorf("core = %d, want 1", a.Core())
	}
}

func TestSetAffinity_AppliesAtNextEnqueue(t *testing.T) {
	s := newTestScheduler(t, 2, 1)
	a := newTestThread(1, 0)
	if err := s.Enqueue(0, a, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	s.CommitSwitch(0, s.ChooseThread(0))

	if err := s.SetAffinity(a, 9); !errors.Is(err, ErrInvalidAffinity) {
		t.Fatalf("out-of-range affinity: err = %v, want ErrInvalidAffinity", err)
	}
	if err := s.SetAffinity(nil, 1); !errors.Is(err, ErrInvalidThread) {
		t.Fatalf("nil thread: err = %v, want ErrInvalidThread", err)
	}
	if err := s.SetAffinity(a, 1); err != nil {
		t.Fatalf("set affinity: %v", err)
	}
	// The thread keeps its core until something requeues it.
	if a.Core() != 0 {
		t.Errorf("core = %d, want 0 before requeue", a.Core())
	}

	// The budget is exhausted, so this tick rotates; the requeue
	// reads the new affinity and moves the thread to core 1.
	s.HandleTimerTick(0)
	if a.Core() != 1 || a.State() != StateReady {
		t.Errorf("thread = %v, want READY on core 1", a)
	}
	if got := s.Running(0); got != s.IdleThread(0) {
		t.Errorf("running = %v, want idle after migration", got)
	}
}

func TestSchedule_EmptyCoreRunsIdle(t *testing.T) {
	s := newTestScheduler(t, 1, 5)

	if err := s.Schedule(0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	idle := s.IdleThread(0)
	if got := s.Running(0); got != idle {
		t.Fatalf("running = %v, want the idle thread", got)
	}
	if idle.State() != StateRunning {
		t.Errorf("idle state = %s, want %s", idle.State(), StateRunning)
	}
	if idle.Budget() != 5 {
		t.Errorf("idle budget = %d, want the full quantum", idle.Budget())
	}
}

func TestSchedule_IdleYieldsToArrivedWork(t *testing.T) {
	s := newTestScheduler(t, 1, 2)
	if err := s.Schedule(0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	idle := s.IdleThread(0)

	a := newTestThread(1, NoAffinity)
	if err := s.Enqueue(0, a, NoAffinity); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// The idle thread finishes its budget like any other thread.
	s.HandleTimerTick(0)
	s.HandleTimerTick(0)
	if got := s.Running(0); got != idle {
		t.Fatalf("idle preempted before its budget drained, running = %v", got)
	}
	s.HandleTimerTick(0)
	if got := s.Running(0); got != a {
		t.Fatalf("running = %v, want t1 after idle exhausted", got)
	}
	// The displaced idle thread never enters a queue; it parks until
	// the core goes empty again.
	if idle.State() != StateInit {
		t.Errorf("idle state = %s, want %s", idle.State(), StateInit)
	}
	if n := len(s.Snapshot()[0].Queue); n != 0 {
		t.Errorf("queue length = %d after idle handoff, want 0", n)
	}
}

func TestHandleTimerTick_DecrementsUntilExhausted(t *testing.T) {
	s := newTestScheduler(t, 1, 3)
	a := newTestThread(1, NoAffinity)
	b := newTestThread(2, NoAffinity)
	for _, th := range []*Thread{a, b} {
		if err := s.Enqueue(0, th, NoAffinity); err != nil {
			t.Fatalf("enqueue %v: %v", th, err)
		}
	}
	if err := s.Schedule(0); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	for _, want := range []uint32{2, 1, 0} {
		s.HandleTimerTick(0)
		if got := s.Running(0); got != a {
			t.Fatalf("t1 lost the core at budget %d", want)
		}
		if a.Budget() != want {
			t.Fatalf("budget = %d, want %d", a.Budget(), want)
		}
	}

	// The tick that finds the budget already at zero triggers exactly
	// one scheduling pass: t1 rotates to the tail, t2 takes the core.
	s.HandleTimerTick(0)
	if got := s.Running(0); got != b {
		t.Fatalf("running = %v, want t2", got)
	}
	if a.State() != StateReady {
		t.Errorf("t1 state = %s, want %s", a.State(), StateReady)
	}
	if a.Budget() != 3 {
		t.Errorf("t1 requeued with budget %d, want refilled to 3", a.Budget())
	}
}

func TestHandleTimerTick_NoRunningThreadSchedules(t *testing.T) {
	s := newTestScheduler(t, 1, 5)
	a := newTestThread(1, NoAffinity)
	if err := s.Enqueue(0, a, NoAffinity); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	s.HandleTimerTick(0)
	if got := s.Running(0); got != a {
		t.Errorf("running = %v, want t1 dispatched by the first tick", got)
	}
}

func TestCommitSwitch_HaltsOnUnselectedThread(t *testing.T) {
	s := newTestScheduler(t, 1, 5)
	a := newTestThread(1, NoAffinity)
	if err := s.Enqueue(0, a, NoAffinity); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Committing a thread that is still READY bypassed selection.
	expectHalt(t, 0, func() { s.CommitSwitch(0, a) })
}

func TestCommitSwitch_HaltsOnForeignThread(t *testing.T) {
	s := newTestScheduler(t, 2, 5)
	a := newTestThread(1, 0)
	if err := s.Enqueue(0, a, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	picked := s.ChooseThread(0)

	expectHalt(t, 1, func() { s.CommitSwitch(1, picked) })
}

func TestClearRunning_DetachesThread(t *testing.T) {
	s := newTestScheduler(t, 1, 5)
	a := newTestThread(1, NoAffinity)
	b := newTestThread(2, NoAffinity)
	for _, th := range []*Thread{a, b} {
		if err := s.Enqueue(0, th, NoAffinity); err != nil {
			t.Fatalf("enqueue %v: %v", th, err)
		}
	}
	if err := s.Schedule(0); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	got := s.ClearRunning(0)
	if got != a {
		t.Fatalf("detached %v, want t1", got)
	}
	if a.State() != StateInit {
		t.Errorf("state = %s, want %s", a.State(), StateInit)
	}
	if s.Running(0) != nil {
		t.Error("running slot not empty after clear")
	}

	// A scheduling pass now dispatches the next queued thread without
	// requeueing the detached one.
	if err := s.Schedule(0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if got := s.Running(0); got != b {
		t.Errorf("running = %v, want t2", got)
	}
	if a.State() != StateInit {
		t.Errorf("detached thread re-entered scheduling, state = %s", a.State())
	}
}

func TestClearRunning_EmptySlotReturnsNil(t *testing.T) {
	s := newTestScheduler(t, 1, 5)
	if got := s.ClearRunning(0); got != nil {
		t.Errorf("clear on empty slot returned %v", got)
	}
}

func TestSnapshotCore(t *testing.T) {
	s := newTestScheduler(t, 2, 5)
	a := newTestThread(1, 0)
	b := newTestThread(2, 1)
	c := newTestThread(3, 1)
	for _, th := range []*Thread{a, b, c} {
		if err := s.Enqueue(0, th, th.Affinity()); err != nil {
			t.Fatalf("enqueue %v: %v", th, err)
		}
	}
	if err := s.Schedule(1); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	snap := s.SnapshotCore(1)
	if snap.Core != 1 {
		t.Errorf("snapshot core = %d, want 1", snap.Core)
	}
	if snap.Running == nil || snap.Running.ID != b.ID() {
		t.Fatalf("running = %+v, want t2", snap.Running)
	}
	if len(snap.Queue) != 1 || snap.Queue[0].ID != c.ID() {
		t.Fatalf("queue = %+v, want [t3]", snap.Queue)
	}
	if snap.Idle.Kind != KindIdle {
		t.Errorf("idle kind = %s", snap.Idle.Kind)
	}

	expectHalt(t, 9, func() { s.SnapshotCore(9) })
}

func TestDeferredDispatcherCommit(t *testing.T) {
	var pending *Thread
	var pendingCore CoreID
	s := newTestScheduler(t, 1, 5, WithDispatcher(DispatcherFunc(func(core CoreID, th *Thread) {
		pendingCore, pending = core, th
	})))
	a := newTestThread(1, NoAffinity)
	if err := s.Enqueue(0, a, NoAffinity); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := s.Schedule(0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if s.Running(0) != nil {
		t.Fatal("running slot filled before the dispatcher committed")
	}
	if pending != a {
		t.Fatalf("dispatcher got %v, want t1", pending)
	}
	if a.State() != StateInTransit {
		t.Fatalf("state = %s between selection and commit, want %s", a.State(), StateInTransit)
	}

	s.CommitSwitch(pendingCore, pending)
	if got := s.Running(0); got != a {
		t.Errorf("running = %v after commit, want t1", got)
	}
	if a.State() != StateRunning {
		t.Errorf("state = %s after commit, want %s", a.State(), StateRunning)
	}
}

func TestEveryThreadInExactlyOnePlace(t *testing.T) {
	s := newTestScheduler(t, 2, 2)
	threads := make(map[ID]*Thread)
	for id := ID(1); id <= 6; id++ {
		th := newTestThread(id, Affinity(int32(id)%2))
		threads[id] = th
		if err := s.Enqueue(0, th, th.Affinity()); err != nil {
			t.Fatalf("enqueue %d: %v", id, err)
		}
	}
	for i := 0; i < 7; i++ {
		s.HandleTimerTick(0)
		s.HandleTimerTick(1)
	}
	if err := s.Dequeue(0, func() *Thread {
		// pick some thread still queued on core 0
		for _, info := range s.Snapshot()[0].Queue {
			return threads[info.ID]
		}
		return nil
	}()); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	// Count where every normal thread sits: ready queues and running
	// slots together must hold each READY or RUNNING thread exactly
	// once, and an IN_TRANSIT thread must appear nowhere.
	seen := make(map[ID]int)
	for _, cs := range s.Snapshot() {
		if cs.Running != nil && cs.Running.Kind == KindNormal {
			seen[cs.Running.ID]++
		}
		for _, info := range cs.Queue {
			seen[info.ID]++
		}
	}
	for id, th := range threads {
		switch th.State() {
		case StateReady, StateRunning:
			if seen[id] != 1 {
				t.Errorf("t%d (%s) appears %d times, want 1", id, th.State(), seen[id])
			}
		default:
			if seen[id] != 0 {
				t.Errorf("t%d (%s) appears %d times, want 0", id, th.State(), seen[id])
			}
		}
	}
}

func TestConcurrentCrossCoreEnqueue(t *testing.T) {
	const n = 200
	s := newTestScheduler(t, 4, 5)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := ID(i + 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			aff := Affinity(int32(id) % 4)
			if err := s.Enqueue(0, newTestThread(id, aff), aff); err != nil {
				t.Errorf("enqueue %d: %v", id, err)
			}
		}()
	}
	wg.Wait()

	total := 0
	for core, cs := range s.Snapshot() {
		for _, info := range cs.Queue {
			if info.State != StateReady {
				t.Errorf("queued thread %d on core %d in state %s", info.ID, core, info.State)
			}
			if info.Core != CoreID(core) {
				t.Errorf("thread %d queued on core %d but records core %d", info.ID, core, info.Core)
			}
		}
		total += len(cs.Queue)
	}
	if total != n {
		t.Errorf("queues hold %d threads, want %d", total, n)
	}
}

func TestObserverSeesLifecycle(t *testing.T) {
	var events []Event
	s := newTestScheduler(t, 1, 2, WithObserver(ObserverFunc(func(ev Event) {
		events = append(events, ev)
	})))
	a := newTestThread(1, NoAffinity)
	if err := s.Enqueue(0, a, NoAffinity); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	s.HandleTimerTick(0) // dispatches t1
	s.HandleTimerTick(0) // decrements

	want := []EventKind{EventEnqueue, EventPick, EventSwitch, EventTick}
	if len(events) != len(want) {
		t.Fatalf("got %d events %v, want %d", len(events), events, len(want))
	}
	for i, kind := range want {
		if events[i].Kind != kind {
			t.Errorf("event %d = %s, want %s", i, events[i].Kind, kind)
		}
		if events[i].Core != 0 {
			t.Errorf("event %d on core %d, want 0", i, events[i].Core)
		}
		if events[i].Thread != a.ID() {
			t.Errorf("event %d names thread %d, want %d", i, events[i].Thread, a.ID())
		}
	}
}
