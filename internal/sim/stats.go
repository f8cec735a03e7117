package sim

import "github.com/me/runq/pkg/sched"

// ThreadStats is the per-thread accounting of a simulation. Tick
// fields are zero when the event never happened.
type ThreadStats struct {
	ID       sched.ID     `json:"id"`
	Name     string       `json:"name"`
	Core     sched.CoreID `json:"core"`
	Arrive   uint64       `json:"arrive"`
	FirstRun uint64       `json:"first_run"`
	Finish   uint64       `json:"finish"`
	Ran      uint64       `json:"ran"`
	Waited   uint64       `json:"waited"`
	Total    uint64       `json:"total"`
}

// Turnaround returns the ticks from arrival to completion, zero while
// the thread is still live.
func (t ThreadStats) Turnaround() uint64 {
	if t.Finish == 0 || t.Finish < t.Arrive {
		return 0
	}
	return t.Finish - t.Arrive
}

// CoreStats is the per-core accounting of a simulation.
type CoreStats struct {
	Core       sched.CoreID `json:"core"`
	Idle       uint64       `json:"idle"`
	Dispatches uint64       `json:"dispatches"`
}

// Stats summarizes a simulation.
type Stats struct {
	Workload  string        `json:"workload"`
	Policy    string        `json:"policy"`
	Ticks     uint64        `json:"ticks"`
	Completed int           `json:"completed"`
	Threads   []ThreadStats `json:"threads"`
	Cores     []CoreStats   `json:"cores"`
	Events    uint64        `json:"events"`
	IdleSpins uint64        `json:"idle_spins"`
}

// Stats captures the current accounting. Safe to call while the
// simulation runs; the result is consistent as of the last tick.
func (s *Sim) Stats() *Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		Workload:  s.wl.Name,
		Policy:    s.config.Policy,
		Ticks:     s.clock.Load(),
		Completed: s.completed,
		Events:    s.seq,
		IdleSpins: s.idleSpins,
	}
	for _, st := range s.threads {
		ts := ThreadStats{
			ID:       st.thread.ID(),
			Name:     st.spec.Name,
			Core:     st.thread.Core(),
			FirstRun: st.firstRun,
			Finish:   st.finish,
			Ran:      st.ran,
			Waited:   st.waited,
			Total:    st.spec.TotalRun(),
		}
		if st.arrived {
			ts.Arrive = st.spec.Arrive
		}
		stats.Threads = append(stats.Threads, ts)
	}
	for core, idle := range s.idleTicks {
		stats.Cores = append(stats.Cores, CoreStats{
			Core:       sched.CoreID(core),
			Idle:       idle,
			Dispatches: s.dispatches[core],
		})
	}
	return stats
}
