package sched

// ThreadInfo is a point-in-time copy of a thread's scheduling fields,
// safe to hold and serialize after the scheduler has moved on.
type ThreadInfo struct {
	ID       ID       `json:"id"`
	Name     string   `json:"name"`
	Kind     Kind     `json:"kind"`
	State    State    `json:"state"`
	Core     CoreID   `json:"core"`
	Affinity Affinity `json:"affinity"`
	Budget   uint32   `json:"budget"`
	Priority Priority `json:"priority"`
}

// CoreSnapshot is the observable state of one core: what is running,
// the idle thread, and the ready queue in FIFO order.
type CoreSnapshot struct {
	Core    CoreID       `json:"core"`
	Running *ThreadInfo  `json:"running,omitempty"`
	Idle    ThreadInfo   `json:"idle"`
	Queue   []ThreadInfo `json:"queue"`
}

func infoOf(t *Thread) ThreadInfo {
	return ThreadInfo{
		ID:       t.id,
		Name:     t.name,
		Kind:     t.kind,
		State:    t.State(),
		Core:     t.Core(),
		Affinity: t.Affinity(),
		Budget:   t.Budget(),
		Priority: t.prio,
	}
}

// snapshotLocked copies one core's state. c.mu must be held.
func snapshotLocked(id CoreID, c *core) CoreSnapshot {
	snap := CoreSnapshot{
		Core:  id,
		Idle:  infoOf(c.idle),
		Queue: make([]ThreadInfo, 0, c.queue.len()),
	}
	if c.running != nil {
		info := infoOf(c.running)
		snap.Running = &info
	}
	for _, t := range c.queue.threads() {
		snap.Queue = append(snap.Queue, infoOf(t))
	}
	return snap
}

// Snapshot copies the observable state of every core. Each core is
// locked while copied, so a snapshot is consistent per core but not
// across cores.
func (s *RoundRobin) Snapshot() []CoreSnapshot {
	out := make([]CoreSnapshot, len(s.cores))
	for i := range s.cores {
		c := &s.cores[i]
		c.mu.Lock()
		out[i] = snapshotLocked(CoreID(i), c)
		c.mu.Unlock()
	}
	return out
}

// SnapshotCore copies the observable state of one core.
func (s *RoundRobin) SnapshotCore(core CoreID) CoreSnapshot {
	if !s.validCore(core) {
		s.fatal(core, nil, "snapshot of unknown core")
	}
	c := &s.cores[core]
	c.mu.Lock()
	snap := snapshotLocked(core, c)
	c.mu.Unlock()
	return snap
}
