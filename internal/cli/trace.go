package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/runq/internal/trace"
)

func newTraceCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect recorded trace runs",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite trace file recorded by 'runq run --db'")

	cmd.AddCommand(
		newTraceListCmd(&dbPath),
		newTraceEventsCmd(&dbPath),
		newTraceRmCmd(&dbPath),
	)
	return cmd
}

// openTraceStore opens the store named by --db for querying.
func openTraceStore(ctx context.Context, dbPath string) (*trace.Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("no trace database: pass --db")
	}
	st, err := trace.NewStore(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open trace db: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate trace db: %w", err)
	}
	return st, nil
}

func newTraceListCmd(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openTraceStore(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.Runs(cmd.Context())
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}

			fmt.Printf("%-14s  %-20s  %-8s  %5s  %7s  %8s  %s\n",
				"ID", "NAME", "POLICY", "CORES", "QUANTUM", "EVENTS", "CREATED")
			for _, run := range runs {
				fmt.Printf("%-14s  %-20s  %-8s  %5d  %7d  %8s  %s\n",
					run.ID, run.Name, run.Policy, run.Cores, run.Quantum,
					humanize.Comma(int64(run.Events)), humanize.Time(run.CreatedAt))
			}
			return nil
		},
	}
}

func newTraceEventsCmd(dbPath *string) *cobra.Command {
	var (
		core     int32
		thread   uint64
		kind     string
		afterSeq uint64
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Show the events of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openTraceStore(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			runID := args[0]
			run, err := st.GetRun(ctx, runID)
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}
			if run == nil {
				return fmt.Errorf("run %q not found", runID)
			}

			f := trace.DefaultFilter()
			f.Core = core
			f.Thread = thread
			f.Kind = kind
			f.AfterSeq = afterSeq
			f.Limit = limit

			events, err := st.Events(ctx, runID, f)
			if err != nil {
				return fmt.Errorf("list events: %w", err)
			}
			if len(events) == 0 {
				fmt.Println("No matching events.")
				return nil
			}

			fmt.Printf("%6s  %6s  %-8s  %4s  %-16s  %6s\n",
				"SEQ", "TICK", "KIND", "CORE", "THREAD", "BUDGET")
			for _, e := range events {
				name := e.Name
				if name == "" {
					name = strconv.FormatUint(uint64(e.Thread), 10)
				}
				fmt.Printf("%6d  %6d  %-8s  %4d  %-16s  %6d\n",
					e.Seq, e.Tick, e.Kind, e.Core, name, e.Budget)
			}
			return nil
		},
	}

	cmd.Flags().Int32Var(&core, "core", -1, "Only events on this core")
	cmd.Flags().Uint64Var(&thread, "thread", 0, "Only events for this thread id")
	cmd.Flags().StringVar(&kind, "kind", "", "Only events of this kind (enqueue, dequeue, pick, switch, clear, tick, refill)")
	cmd.Flags().Uint64Var(&afterSeq, "after-seq", 0, "Only events after this sequence number")
	cmd.Flags().IntVar(&limit, "limit", 1000, "Maximum events to show")

	return cmd
}

func newTraceRmCmd(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <run-id>",
		Short: "Delete a recorded run and its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openTraceStore(cmd.Context(), *dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.DeleteRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted run %s\n", args[0])
			return nil
		},
	}
}
