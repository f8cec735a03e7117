package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"gopkg.in/yaml.v3"

	"github.com/me/runq/pkg/sched"
)

// Config holds configuration for the runq daemon and CLI.
type Config struct {
	Cores        int      `yaml:"cores"`         // scheduled cores, 0 = detect from host
	Quantum      uint32   `yaml:"quantum"`       // timer ticks per budget grant
	Ticks        uint64   `yaml:"ticks"`         // simulation length for one-shot runs
	TickInterval Duration `yaml:"tick_interval"` // wall-clock pacing of one tick in the daemon
	Policy       string   `yaml:"policy"`        // scheduling policy name
	Workload     string   `yaml:"workload"`      // workload file (.yaml, .yml or .js), "" = built-in
	DBPath       string   `yaml:"db"`            // SQLite trace path, "" = in-memory only
	Addr         string   `yaml:"addr"`          // monitor listen address
	LogLevel     string   `yaml:"log_level"`     // debug, info, warn, error
	LogFormat    string   `yaml:"log_format"`    // text, json
}

// Default returns sensible defaults: one queue per hardware core, the
// standard quantum, and a 100ms paced tick.
func Default() Config {
	return Config{
		Cores:        DetectCores(),
		Quantum:      sched.DefaultQuantum,
		Ticks:        1000,
		TickInterval: Duration(100 * time.Millisecond),
		Policy:       sched.PolicyRoundRobin,
		Addr:         ":8090",
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// Load reads a YAML config file and applies it over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Cores == 0 {
		cfg.Cores = DetectCores()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that all config values are usable.
func (c Config) Validate() error {
	if c.Cores < 1 {
		return fmt.Errorf("cores must be at least 1, got %d", c.Cores)
	}
	if c.Quantum < 1 {
		return fmt.Errorf("quantum must be at least 1, got %d", c.Quantum)
	}
	if c.Ticks < 1 {
		return fmt.Errorf("ticks must be at least 1, got %d", c.Ticks)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval.Std())
	}
	if c.Policy == "" {
		return fmt.Errorf("policy cannot be empty")
	}
	return nil
}

// DetectCores returns the host's physical core count, falling back to
// the logical CPU count when the probe fails.
func DetectCores() int {
	n, err := cpu.Counts(false)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// Duration wraps time.Duration so YAML configs can write values like
// "250ms" or "1s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"100ms\"")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
