package workload

import (
	"fmt"
	"math"
	"os"

	"github.com/dop251/goja"

	"github.com/me/runq/pkg/sched"
)

// loadScript evaluates a JavaScript workload generator. The script
// drives a `workload` builder object:
//
//	workload.name("staircase");
//	for (var i = 0; i < 8; i++) {
//	    workload.thread({name: "w" + i, arrive: i + 1, steps: [{run: 5}, {block: 3}, {run: 2}]});
//	}
//	workload.migrate({thread: "w0", at: 20, to: 1});
//
// Specs are collected as raw objects during evaluation and converted
// and validated afterwards, so script errors surface as JavaScript
// exceptions and shape errors as Go errors.
func loadScript(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workload script: %w", err)
	}

	var rawThreads []map[string]any
	var rawMigrations []map[string]any
	w := &Workload{Name: "script"}

	vm := goja.New()
	builder := map[string]any{
		"name":    func(name string) { w.Name = name },
		"thread":  func(spec map[string]any) { rawThreads = append(rawThreads, spec) },
		"migrate": func(m map[string]any) { rawMigrations = append(rawMigrations, m) },
	}
	if err := vm.Set("workload", builder); err != nil {
		return nil, fmt.Errorf("set workload builder: %w", err)
	}

	if _, err := vm.RunString(string(data)); err != nil {
		return nil, fmt.Errorf("evaluating workload script: %w", err)
	}

	for i, raw := range rawThreads {
		spec, err := threadSpecFromMap(raw)
		if err != nil {
			return nil, fmt.Errorf("thread %d: %w", i, err)
		}
		w.Threads = append(w.Threads, spec)
	}
	for i, raw := range rawMigrations {
		m, err := migrationFromMap(raw)
		if err != nil {
			return nil, fmt.Errorf("migration %d: %w", i, err)
		}
		w.Migrations = append(w.Migrations, m)
	}

	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

func threadSpecFromMap(m map[string]any) (ThreadSpec, error) {
	spec := ThreadSpec{
		Priority: uint8(sched.DefaultPriority),
		Affinity: int32(sched.NoAffinity),
		Arrive:   1,
	}

	name, ok := m["name"].(string)
	if !ok {
		return spec, fmt.Errorf("name must be a string")
	}
	spec.Name = name

	if v, present := m["arrive"]; present {
		n, err := intField(v, "arrive")
		if err != nil {
			return spec, err
		}
		if n < 0 {
			return spec, fmt.Errorf("arrive must not be negative, got %d", n)
		}
		spec.Arrive = uint64(n)
	}
	if v, present := m["affinity"]; present {
		n, err := intField(v, "affinity")
		if err != nil {
			return spec, err
		}
		spec.Affinity = int32(n)
	}
	if v, present := m["priority"]; present {
		n, err := intField(v, "priority")
		if err != nil {
			return spec, err
		}
		spec.Priority = uint8(n)
	}
	if v, present := m["from"]; present {
		n, err := intField(v, "from")
		if err != nil {
			return spec, err
		}
		spec.From = int32(n)
	}

	steps, ok := m["steps"].([]any)
	if !ok {
		return spec, fmt.Errorf("steps must be an array")
	}
	for i, rawStep := range steps {
		stepMap, ok := rawStep.(map[string]any)
		if !ok {
			return spec, fmt.Errorf("step %d must be an object", i)
		}
		var step Step
		if v, present := stepMap["run"]; present {
			n, err := intField(v, "run")
			if err != nil {
				return spec, err
			}
			if n < 0 {
				return spec, fmt.Errorf("step %d: run must not be negative", i)
			}
			step.Run = uint64(n)
		}
		if v, present := stepMap["block"]; present {
			n, err := intField(v, "block")
			if err != nil {
				return spec, err
			}
			if n < 0 {
				return spec, fmt.Errorf("step %d: block must not be negative", i)
			}
			step.Block = uint64(n)
		}
		spec.Steps = append(spec.Steps, step)
	}
	return spec, nil
}

func migrationFromMap(m map[string]any) (Migration, error) {
	var mig Migration

	name, ok := m["thread"].(string)
	if !ok {
		return mig, fmt.Errorf("thread must be a string")
	}
	mig.Thread = name

	at, err := intField(m["at"], "at")
	if err != nil {
		return mig, err
	}
	if at < 0 {
		return mig, fmt.Errorf("at must not be negative, got %d", at)
	}
	mig.At = uint64(at)

	to, err := intField(m["to"], "to")
	if err != nil {
		return mig, err
	}
	mig.To = int32(to)
	return mig, nil
}

// intField coerces the integral number shapes goja exports.
func intField(v any, key string) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%s must be an integer, got %v", key, n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("%s must be a number, got %T", key, v)
	}
}
