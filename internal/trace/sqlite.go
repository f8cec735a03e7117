package trace

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/me/runq/pkg/sched"

	_ "modernc.org/sqlite"
)

// schema contains the DDL for the trace tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		policy     TEXT NOT NULL,
		cores      INTEGER NOT NULL,
		quantum    INTEGER NOT NULL,
		workload   TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS events (
		run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq         INTEGER NOT NULL,
		tick        INTEGER NOT NULL,
		kind        TEXT NOT NULL,
		core        INTEGER NOT NULL,
		thread      INTEGER NOT NULL,
		thread_name TEXT NOT NULL DEFAULT '',
		idle        INTEGER NOT NULL DEFAULT 0,
		budget      INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, seq)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_events_run_tick ON events(run_id, tick)`,
	`CREATE INDEX IF NOT EXISTS idx_events_run_thread ON events(run_id, thread)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
}

// RunMeta describes a run at creation time.
type RunMeta struct {
	Name     string
	Policy   string
	Cores    int
	Quantum  uint32
	Workload string
}

// RunInfo is a stored run with its event count.
type RunInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Policy    string    `json:"policy"`
	Cores     int       `json:"cores"`
	Quantum   uint32    `json:"quantum"`
	Workload  string    `json:"workload"`
	CreatedAt time.Time `json:"created_at"`
	Events    int       `json:"events"`
}

// Filter narrows an event listing. Zero values mean "no constraint";
// Core uses -1 because core 0 is a real core.
type Filter struct {
	Core     int32
	Thread   uint64
	Kind     string
	AfterSeq uint64
	Limit    int
}

// DefaultFilter matches everything up to a sane row cap.
func DefaultFilter() Filter {
	return Filter{Core: -1, Limit: 1000}
}

// Store persists runs and their event streams in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) a SQLite database at dbPath.
// Use ":memory:" for an in-memory database (useful in tests).
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With("component", "trace-store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// BeginRun registers a new run and returns its generated ID.
func (s *Store) BeginRun(ctx context.Context, meta RunMeta) (string, error) {
	id := "run_" + uuid.New().String()[:8]
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", id)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, name, policy, cores, quantum, workload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, meta.Name, meta.Policy, meta.Cores, meta.Quantum, meta.Workload,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// Record implements Recorder. The record's Run must name a run created
// with BeginRun.
func (s *Store) Record(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (run_id, seq, tick, kind, core, thread, thread_name, idle, budget)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Run, rec.Seq, rec.Tick, string(rec.Kind), rec.Core, rec.Thread, rec.Name, rec.Idle, rec.Budget,
	)
	return err
}

// Runs lists stored runs, newest first, with their event counts.
func (s *Store) Runs(ctx context.Context) ([]RunInfo, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs")

	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.name, r.policy, r.cores, r.quantum, r.workload, r.created_at,
		        (SELECT COUNT(*) FROM events e WHERE e.run_id = r.id)
		 FROM runs r ORDER BY r.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var info RunInfo
		var createdAt string
		if err := rows.Scan(&info.ID, &info.Name, &info.Policy, &info.Cores, &info.Quantum,
			&info.Workload, &createdAt, &info.Events); err != nil {
			return nil, err
		}
		info.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		runs = append(runs, info)
	}
	return runs, rows.Err()
}

// GetRun returns one run, or nil if it does not exist.
func (s *Store) GetRun(ctx context.Context, id string) (*RunInfo, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	var info RunInfo
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT r.id, r.name, r.policy, r.cores, r.quantum, r.workload, r.created_at,
		        (SELECT COUNT(*) FROM events e WHERE e.run_id = r.id)
		 FROM runs r WHERE r.id = ?`, id,
	).Scan(&info.ID, &info.Name, &info.Policy, &info.Cores, &info.Quantum,
		&info.Workload, &createdAt, &info.Events)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	info.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &info, nil
}

// Events lists a run's events in sequence order, narrowed by the
// filter.
func (s *Store) Events(ctx context.Context, runID string, f Filter) ([]Record, error) {
	s.logger.Debug("sql", "op", "select", "table", "events", "run", runID)

	var sb strings.Builder
	sb.WriteString(`SELECT run_id, seq, tick, kind, core, thread, thread_name, idle, budget
		 FROM events WHERE run_id = ?`)
	args := []any{runID}

	if f.Core >= 0 {
		sb.WriteString(" AND core = ?")
		args = append(args, f.Core)
	}
	if f.Thread != 0 {
		sb.WriteString(" AND thread = ?")
		args = append(args, f.Thread)
	}
	if f.Kind != "" {
		sb.WriteString(" AND kind = ?")
		args = append(args, f.Kind)
	}
	if f.AfterSeq != 0 {
		sb.WriteString(" AND seq > ?")
		args = append(args, f.AfterSeq)
	}
	sb.WriteString(" ORDER BY seq")
	if f.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		var kind string
		if err := rows.Scan(&rec.Run, &rec.Seq, &rec.Tick, &kind, &rec.Core,
			&rec.Thread, &rec.Name, &rec.Idle, &rec.Budget); err != nil {
			return nil, err
		}
		rec.Kind = sched.EventKind(kind)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// DeleteRun removes a run and, via the foreign key cascade, its events.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	s.logger.Debug("sql", "op", "delete", "table", "runs", "id", id)
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %q not found", id)
	}
	return nil
}
