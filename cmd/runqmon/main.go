package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/me/runq/internal/config"
	"github.com/me/runq/internal/logging"
	"github.com/me/runq/internal/server"
	"github.com/me/runq/internal/sim"
	"github.com/me/runq/internal/trace"
	"github.com/me/runq/internal/workload"
	"github.com/me/runq/pkg/sched"
)

func main() {
	cfg := config.Default()

	configFile := flag.String("config", "", "Config file (YAML)")
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	flag.StringVar(&cfg.Workload, "workload", cfg.Workload, "Workload file (.yaml, .yml or .js; default: built-in)")
	flag.IntVar(&cfg.Cores, "cores", cfg.Cores, "Number of scheduled cores")
	quantum := flag.Uint("quantum", uint(cfg.Quantum), "Timer ticks per budget grant")
	flag.Uint64Var(&cfg.Ticks, "ticks", cfg.Ticks, "Maximum virtual ticks before the simulation stops")
	tickInterval := flag.Duration("tick-interval", cfg.TickInterval.Std(), "Wall-clock pacing of one tick")
	flag.StringVar(&cfg.Policy, "policy", cfg.Policy, "Scheduling policy")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Record the event trace into this SQLite file")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	liveBuffer := flag.Int("live-buffer", 4096, "Events retained for the SSE live view")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")

	flag.Parse()

	if *configFile != "" {
		fileCfg, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		// Command-line flags win over the file.
		applyFlagOverrides(&fileCfg, &cfg, *quantum, *tickInterval)
		cfg = fileCfg
	} else {
		cfg.Quantum = uint32(*quantum)
		cfg.TickInterval = config.Duration(*tickInterval)
	}

	if *debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	wl := workload.Default()
	if cfg.Workload != "" {
		var err error
		wl, err = workload.Load(cfg.Workload)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load workload: %v\n", err)
			os.Exit(1)
		}
	}

	// The live view always records into a ring; a SQLite store is added
	// when a db path is configured.
	mem := trace.NewMemory(*liveBuffer)
	rec := trace.Recorder(mem)
	serverOpts := []server.Option{server.WithLiveTrace(mem)}

	var runID string
	if cfg.DBPath != "" {
		st, err := trace.NewStore(cfg.DBPath, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open trace db: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()
		if err := st.Migrate(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "migrate trace db: %v\n", err)
			os.Exit(1)
		}
		runID, err = st.BeginRun(context.Background(), trace.RunMeta{
			Name:     wl.Name,
			Policy:   cfg.Policy,
			Cores:    cfg.Cores,
			Quantum:  cfg.Quantum,
			Workload: cfg.Workload,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "begin trace run: %v\n", err)
			os.Exit(1)
		}
		rec = trace.Multi(mem, st)
		serverOpts = append(serverOpts, server.WithTraceStore(st))
		logger.Info("trace store ready", "path", cfg.DBPath, "run", runID)
	}

	simulator, err := sim.New(sched.DefaultRegistry(logger), wl, rec, sim.Config{
		Cores:        cfg.Cores,
		Quantum:      cfg.Quantum,
		Policy:       cfg.Policy,
		Ticks:        cfg.Ticks,
		TickInterval: cfg.TickInterval.Std(),
		RunID:        runID,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create simulation: %v\n", err)
		os.Exit(1)
	}

	srv := server.New(simulator, logger, serverOpts...)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := simulator.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("simulation failed", "error", err)
		}
	}()

	go func() {
		logger.Info("monitor listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Stop the simulation before the HTTP server.
	if err := simulator.Stop(); err != nil {
		logger.Error("simulation stop error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("monitor stopped")
}

// applyFlagOverrides copies values the user set on the command line
// over the file configuration.
func applyFlagOverrides(fileCfg, flagCfg *config.Config, quantum uint, tickInterval time.Duration) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			fileCfg.Addr = flagCfg.Addr
		case "workload":
			fileCfg.Workload = flagCfg.Workload
		case "cores":
			fileCfg.Cores = flagCfg.Cores
		case "quantum":
			fileCfg.Quantum = uint32(quantum)
		case "ticks":
			fileCfg.Ticks = flagCfg.Ticks
		case "tick-interval":
			fileCfg.TickInterval = config.Duration(tickInterval)
		case "policy":
			fileCfg.Policy = flagCfg.Policy
		case "db":
			fileCfg.DBPath = flagCfg.DBPath
		case "log-level":
			fileCfg.LogLevel = flagCfg.LogLevel
		case "log-format":
			fileCfg.LogFormat = flagCfg.LogFormat
		}
	})
}
