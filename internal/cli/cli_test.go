package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/me/runq/internal/logging"
	"github.com/me/runq/internal/sim"
	"github.com/me/runq/internal/trace"
	"github.com/me/runq/pkg/sched"
)

// runCLI executes the CLI with args, capturing stdout. Commands print
// results with fmt.Printf, so the process stdout is swapped for a pipe.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)

	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w

	execErr := root.Execute()

	w.Close()
	os.Stdout = old

	var out bytes.Buffer
	out.ReadFrom(r)
	return out.String(), execErr
}

// writeWorkload writes a small two-thread workload file and returns its path.
func writeWorkload(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pair.yaml")
	data := `name: pair
threads:
  - name: one
    arrive: 1
    steps: [{run: 5}]
  - name: two
    arrive: 1
    steps: [{run: 5}]
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write workload: %v", err)
	}
	return path
}

func TestRunCommand(t *testing.T) {
	wl := writeWorkload(t)

	out, err := runCLI(t, "run", "-q", "-w", wl, "--cores", "1", "--quantum", "3", "--ticks", "50")
	if err != nil {
		t.Fatalf("run error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "Workload pair: 2/2 threads completed in 10 ticks") {
		t.Errorf("expected completion summary in output, got: %s", out)
	}
	for _, want := range []string{"one", "two", "DISPATCHES", "Events:"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output, got: %s", want, out)
		}
	}
}

func TestRunCommand_JSON(t *testing.T) {
	wl := writeWorkload(t)

	out, err := runCLI(t, "run", "-q", "--json", "-w", wl, "--cores", "1", "--quantum", "3", "--ticks", "50")
	if err != nil {
		t.Fatalf("run error: %v\noutput: %s", err, out)
	}

	var stats sim.Stats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("output is not JSON: %v\noutput: %s", err, out)
	}
	if stats.Completed != 2 || stats.Ticks != 10 {
		t.Errorf("stats = %d completed in %d ticks, want 2 in 10", stats.Completed, stats.Ticks)
	}
	if len(stats.Threads) != 2 || stats.Threads[0].Ran != 5 {
		t.Errorf("threads = %+v, want two threads with 5 ticks each", stats.Threads)
	}
}

func TestRunCommand_RecordsTrace(t *testing.T) {
	wl := writeWorkload(t)
	db := filepath.Join(t.TempDir(), "trace.db")

	out, err := runCLI(t, "run", "-q", "-w", wl, "--cores", "1", "--ticks", "50", "--db", db)
	if err != nil {
		t.Fatalf("run error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "Trace recorded: run_") {
		t.Errorf("expected trace confirmation in output, got: %s", out)
	}

	out, err = runCLI(t, "trace", "list", "--db", db)
	if err != nil {
		t.Fatalf("trace list error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "run_") || !strings.Contains(out, "pair") {
		t.Errorf("expected the recorded run in the listing, got: %s", out)
	}
}

// seedTraceDB writes one run with three events and returns its id.
func seedTraceDB(t *testing.T, db string) string {
	t.Helper()
	st, err := trace.NewStore(db, logging.Discard())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	id, err := st.BeginRun(ctx, trace.RunMeta{Name: "seeded", Policy: "rr", Cores: 1, Quantum: 4})
	if err != nil {
		t.Fatalf("begin run: %v", err)
	}
	kinds := []sched.EventKind{sched.EventEnqueue, sched.EventTick, sched.EventTick}
	for i, kind := range kinds {
		rec := trace.Record{Run: id, Seq: uint64(i + 1), Tick: uint64(i + 1), Kind: kind, Thread: 1, Name: "alpha"}
		if err := st.Record(ctx, rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	return id
}

func TestTraceEventsCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "trace.db")
	id := seedTraceDB(t, db)

	out, err := runCLI(t, "trace", "events", id, "--db", db, "--kind", "tick")
	if err != nil {
		t.Fatalf("trace events error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "SEQ") || !strings.Contains(out, "alpha") {
		t.Errorf("expected event table in output, got: %s", out)
	}
	if strings.Contains(out, "enqueue") {
		t.Errorf("kind filter leaked enqueue events: %s", out)
	}

	if _, err := runCLI(t, "trace", "events", "run_missing", "--db", db); err == nil {
		t.Error("expected error for an unknown run")
	}
}

func TestTraceRmCommand(t *testing.T) {
	db := filepath.Join(t.TempDir(), "trace.db")
	id := seedTraceDB(t, db)

	out, err := runCLI(t, "trace", "rm", id, "--db", db)
	if err != nil {
		t.Fatalf("trace rm error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "Deleted run "+id) {
		t.Errorf("expected deletion confirmation, got: %s", out)
	}

	if _, err := runCLI(t, "trace", "rm", id, "--db", db); err == nil {
		t.Error("expected error deleting the run twice")
	}
}

func TestTraceCommand_NoDB(t *testing.T) {
	if _, err := runCLI(t, "trace", "list"); err == nil || !strings.Contains(err.Error(), "no trace database") {
		t.Errorf("err = %v, want a missing --db error", err)
	}
}

func TestRunCommand_DefaultWorkload(t *testing.T) {
	out, err := runCLI(t, "run", "-q", "--cores", "2", "--ticks", "200")
	if err != nil {
		t.Fatalf("run error: %v\noutput: %s", err, out)
	}
	if !strings.Contains(out, "Workload default:") || !strings.Contains(out, "4/4 threads completed") {
		t.Errorf("expected the built-in workload to complete, got: %s", out)
	}
}

func TestRunCommand_MissingWorkload(t *testing.T) {
	if _, err := runCLI(t, "run", "-q", "-w", "nonexistent.yaml"); err == nil {
		t.Fatal("expected error for a missing workload file")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if !strings.Contains(out, "runq "+version) {
		t.Errorf("expected version in output, got: %s", out)
	}
}
