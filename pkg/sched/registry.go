package sched

import (
	"fmt"
	"log/slog"
	"sort"
)

// PolicyRoundRobin is the registry name of the round-robin policy.
const PolicyRoundRobin = "rr"

// Factory builds a scheduler from a configuration.
type Factory func(cfg Config, opts ...Option) (Scheduler, error)

// Registry maps policy names to scheduler factories. Registration
// happens at startup before concurrent access, so no mutex is needed.
type Registry struct {
	factories map[string]Factory
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger.With("component", "sched-registry"),
	}
}

// Register adds a factory to the registry under the given policy name.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
	r.logger.Info("scheduling policy registered", "policy", name)
}

// New builds a scheduler for the named policy or returns an error if
// none is registered.
func (r *Registry) New(name string, cfg Config, opts ...Option) (Scheduler, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("no scheduling policy registered for name %q", name)
	}
	return f(cfg, opts...)
}

// Names returns the registered policy names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with the built-in policies
// registered.
func DefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(PolicyRoundRobin, func(cfg Config, opts ...Option) (Scheduler, error) {
		return NewRoundRobin(cfg, opts...)
	})
	return r
}
