package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/runq/internal/sim"
	"github.com/me/runq/internal/trace"
	"github.com/me/runq/internal/workload"
	"github.com/me/runq/pkg/sched"
)

func newRunCmd() *cobra.Command {
	var (
		workloadPath string
		cores        int
		quantum      uint32
		ticks        uint64
		policy       string
		dbPath       string
		asJSON       bool
		quiet        bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a workload to completion and print a summary",
		Long: `Runs the scheduler through a workload on the virtual clock, stepping
as fast as possible, and prints per-thread and per-core statistics.
With --db the full event trace is recorded for later inspection with
'runq trace'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("workload") {
				cfg.Workload = workloadPath
			}
			if flags.Changed("cores") {
				cfg.Cores = cores
			}
			if flags.Changed("quantum") {
				cfg.Quantum = quantum
			}
			if flags.Changed("ticks") {
				cfg.Ticks = ticks
			}
			if flags.Changed("policy") {
				cfg.Policy = policy
			}
			if flags.Changed("db") {
				cfg.DBPath = dbPath
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			wl := workload.Default()
			if cfg.Workload != "" {
				wl, err = workload.Load(cfg.Workload)
				if err != nil {
					return fmt.Errorf("load workload: %w", err)
				}
			}

			ctx := cmd.Context()
			var rec trace.Recorder
			var runID string
			if cfg.DBPath != "" {
				st, err := trace.NewStore(cfg.DBPath, logger)
				if err != nil {
					return fmt.Errorf("open trace db: %w", err)
				}
				defer st.Close()
				if err := st.Migrate(ctx); err != nil {
					return fmt.Errorf("migrate trace db: %w", err)
				}
				runID, err = st.BeginRun(ctx, trace.RunMeta{
					Name:     wl.Name,
					Policy:   cfg.Policy,
					Cores:    cfg.Cores,
					Quantum:  cfg.Quantum,
					Workload: cfg.Workload,
				})
				if err != nil {
					return fmt.Errorf("begin trace run: %w", err)
				}
				rec = st
			}

			s, err := sim.New(sched.DefaultRegistry(logger), wl, rec, sim.Config{
				Cores:   cfg.Cores,
				Quantum: cfg.Quantum,
				Policy:  cfg.Policy,
				Ticks:   cfg.Ticks,
				RunID:   runID,
			}, logger)
			if err != nil {
				return err
			}

			if !quiet {
				fmt.Fprintf(os.Stderr, "Running workload %q on %d cores (policy %s, quantum %d)...\n",
					wl.Name, cfg.Cores, cfg.Policy, cfg.Quantum)
			}

			stats, err := s.Run(ctx)
			if err != nil {
				return fmt.Errorf("run simulation: %w", err)
			}

			if asJSON {
				out, err := json.MarshalIndent(stats, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal stats: %w", err)
				}
				fmt.Println(string(out))
			} else {
				printStats(stats)
			}

			if runID != "" {
				fmt.Printf("\nTrace recorded: %s (%s)\n", runID, cfg.DBPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&workloadPath, "workload", "w", "", "Workload file (.yaml, .yml or .js; default: built-in)")
	cmd.Flags().IntVar(&cores, "cores", 0, "Number of scheduled cores (default: detect from host)")
	cmd.Flags().Uint32Var(&quantum, "quantum", sched.DefaultQuantum, "Timer ticks per budget grant")
	cmd.Flags().Uint64Var(&ticks, "ticks", 0, "Maximum virtual ticks before the run stops")
	cmd.Flags().StringVar(&policy, "policy", sched.PolicyRoundRobin, "Scheduling policy")
	cmd.Flags().StringVar(&dbPath, "db", "", "Record the event trace into this SQLite file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print statistics as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress messages")

	return cmd
}

func printStats(stats *sim.Stats) {
	fmt.Printf("Workload %s: %d/%d threads completed in %s ticks\n\n",
		stats.Workload, stats.Completed, len(stats.Threads), humanize.Comma(int64(stats.Ticks)))

	fmt.Printf("%-16s  %4s  %6s  %6s  %6s  %6s  %6s  %10s\n",
		"THREAD", "CORE", "ARRIVE", "FIRST", "FINISH", "RAN", "WAITED", "TURNAROUND")
	for _, ts := range stats.Threads {
		fmt.Printf("%-16s  %4d  %6s  %6s  %6s  %6d  %6d  %10s\n",
			ts.Name, ts.Core, tick(ts.Arrive), tick(ts.FirstRun), tick(ts.Finish),
			ts.Ran, ts.Waited, tick(ts.Turnaround()))
	}

	fmt.Printf("\n%-4s  %10s  %6s\n", "CORE", "DISPATCHES", "IDLE")
	for _, cs := range stats.Cores {
		fmt.Printf("%-4d  %10d  %6d\n", cs.Core, cs.Dispatches, cs.Idle)
	}

	fmt.Printf("\nEvents: %s   Idle spins: %s\n",
		humanize.Comma(int64(stats.Events)), humanize.Comma(int64(stats.IdleSpins)))
}

// tick formats a tick number, with "-" for the zero value since tick
// numbering starts at 1 and zero means "never happened".
func tick(v uint64) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", v)
}
