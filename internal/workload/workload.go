// Package workload defines the thread sets driven through the
// scheduler by the simulator: which threads arrive when, how long they
// run, where they block, and which migrations an operator injects.
// Workloads load from YAML files or JavaScript generator scripts.
package workload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/me/runq/pkg/sched"
)

// Step is one segment of a thread's life. Exactly one of Run or Block
// is set: run on the CPU for that many ticks, or stay blocked off the
// queues for that many ticks.
type Step struct {
	Run   uint64 `yaml:"run,omitempty" json:"run,omitempty"`
	Block uint64 `yaml:"block,omitempty" json:"block,omitempty"`
}

// ThreadSpec describes one thread the simulator spawns.
type ThreadSpec struct {
	Name     string `yaml:"name" json:"name"`
	Priority uint8  `yaml:"priority" json:"priority"`
	Affinity int32  `yaml:"affinity" json:"affinity"` // -1 = no core preference
	Arrive   uint64 `yaml:"arrive" json:"arrive"`     // tick of the first enqueue, >= 1
	From     int32  `yaml:"from" json:"from"`         // core that performs the enqueue
	Steps    []Step `yaml:"steps" json:"steps"`
}

// UnmarshalYAML fills in defaults for absent keys: no affinity and the
// standard priority.
func (s *ThreadSpec) UnmarshalYAML(value *yaml.Node) error {
	type plain ThreadSpec
	raw := plain{
		Priority: uint8(sched.DefaultPriority),
		Affinity: int32(sched.NoAffinity),
		Arrive:   1,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*s = ThreadSpec(raw)
	return nil
}

// TotalRun returns the total CPU ticks the spec asks for.
func (s *ThreadSpec) TotalRun() uint64 {
	var total uint64
	for _, step := range s.Steps {
		total += step.Run
	}
	return total
}

// Migration asks the simulator to move a waiting thread to another
// core's queue at a given tick.
type Migration struct {
	Thread string `yaml:"thread" json:"thread"`
	At     uint64 `yaml:"at" json:"at"`
	To     int32  `yaml:"to" json:"to"`
}

// Workload is a named set of thread specs plus injected migrations.
type Workload struct {
	Name       string       `yaml:"name" json:"name"`
	Threads    []ThreadSpec `yaml:"threads" json:"threads"`
	Migrations []Migration  `yaml:"migrations" json:"migrations,omitempty"`
}

// Load reads a workload from path, picking the loader by extension:
// .yaml/.yml for declarative files, .js for generator scripts.
func Load(path string) (*Workload, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading workload file: %w", err)
		}
		return loadYAML(data)
	case ".js":
		return loadScript(path)
	default:
		return nil, fmt.Errorf("unsupported workload file %q: want .yaml, .yml or .js", path)
	}
}

func loadYAML(data []byte) (*Workload, error) {
	var w Workload
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parsing workload file: %w", err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// Default returns the built-in workload used when no file is given: a
// mix of batch threads and an interactive thread that blocks between
// bursts. It avoids core pinning so it runs on any core count.
func Default() *Workload {
	w := &Workload{
		Name: "default",
		Threads: []ThreadSpec{
			{Name: "interactive", Arrive: 1, Steps: []Step{{Run: 4}, {Block: 6}, {Run: 4}, {Block: 6}, {Run: 4}}},
			{Name: "batch-a", Arrive: 1, Steps: []Step{{Run: 40}}},
			{Name: "batch-b", Arrive: 2, Steps: []Step{{Run: 40}}},
			{Name: "late-burst", Arrive: 30, Steps: []Step{{Run: 10}}},
		},
	}
	for i := range w.Threads {
		w.Threads[i].Priority = uint8(sched.DefaultPriority)
		w.Threads[i].Affinity = int32(sched.NoAffinity)
	}
	return w
}

// Validate checks the workload is internally consistent. Core ranges
// are checked later against the live configuration by the simulator.
func (w *Workload) Validate() error {
	if len(w.Threads) == 0 {
		return fmt.Errorf("workload %q has no threads", w.Name)
	}
	names := make(map[string]bool, len(w.Threads))
	for i, spec := range w.Threads {
		if spec.Name == "" {
			return fmt.Errorf("thread %d has no name", i)
		}
		if names[spec.Name] {
			return fmt.Errorf("duplicate thread name %q", spec.Name)
		}
		names[spec.Name] = true
		if spec.Arrive < 1 {
			return fmt.Errorf("thread %q: arrive must be at least 1", spec.Name)
		}
		if spec.Affinity < int32(sched.NoAffinity) {
			return fmt.Errorf("thread %q: affinity %d is not a core or -1", spec.Name, spec.Affinity)
		}
		if spec.From < 0 {
			return fmt.Errorf("thread %q: from core %d is negative", spec.Name, spec.From)
		}
		if len(spec.Steps) == 0 {
			return fmt.Errorf("thread %q has no steps", spec.Name)
		}
		for j, step := range spec.Steps {
			if (step.Run == 0) == (step.Block == 0) {
				return fmt.Errorf("thread %q step %d: exactly one of run or block must be positive", spec.Name, j)
			}
		}
		if w.Threads[i].Steps[0].Run == 0 {
			return fmt.Errorf("thread %q: first step must run, not block", spec.Name)
		}
	}
	for i, m := range w.Migrations {
		if !names[m.Thread] {
			return fmt.Errorf("migration %d references unknown thread %q", i, m.Thread)
		}
		if m.At < 1 {
			return fmt.Errorf("migration %d: at must be at least 1", i)
		}
		if m.To < 0 {
			return fmt.Errorf("migration %d: target core %d is negative", i, m.To)
		}
	}
	return nil
}
