// Package trace records scheduler events for later inspection. The
// simulator annotates each event with its clock and feeds every
// recorder it was given: a bounded in-memory ring for live monitoring,
// a SQLite store for persistence, or both.
package trace

import (
	"context"
	"errors"

	"github.com/me/runq/pkg/sched"
)

// Record is one scheduler event annotated with the simulator clock and
// the run it belongs to.
type Record struct {
	Run    string          `json:"run,omitempty"`
	Seq    uint64          `json:"seq"`
	Tick   uint64          `json:"tick"`
	Kind   sched.EventKind `json:"kind"`
	Core   sched.CoreID    `json:"core"`
	Thread sched.ID        `json:"thread"`
	Name   string          `json:"name"`
	Idle   bool            `json:"idle,omitempty"`
	Budget uint32          `json:"budget"`
}

// Recorder consumes trace records in sequence order.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
	Close() error
}

type multiRecorder struct {
	recorders []Recorder
}

// Multi fans records out to several recorders. Every recorder sees
// every record even when one fails; errors are joined.
func Multi(recorders ...Recorder) Recorder {
	return &multiRecorder{recorders: recorders}
}

func (m *multiRecorder) Record(ctx context.Context, rec Record) error {
	var errs error
	for _, r := range m.recorders {
		if err := r.Record(ctx, rec); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

func (m *multiRecorder) Close() error {
	var errs error
	for _, r := range m.recorders {
		if err := r.Close(); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}
