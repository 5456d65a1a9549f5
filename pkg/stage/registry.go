package stage

import (
	"fmt"
	"sync"

	"github.com/pipelinekit/orchestrator/pkg/config"
)

// Factory builds a Stage given the run's port bundle. Registered once at
// program initialization (spec §9: "explicit registration function
// called during program initialization... no import-time side effects").
type Factory func(ports *PortBundle) (Stage, error)

type registration struct {
	kind    config.StageKind
	factory Factory
}

// Registry associates stage names with factories and their declared
// kind tag. Building a stage from a registered name happens once per run,
// per stage, when the Graph is constructed for that run.
type Registry struct {
	mu    sync.RWMutex
	items map[string]registration
}

// NewRegistry creates an empty Stage Registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]registration)}
}

// Register associates a stage name with its kind and factory. Calling
// Register twice with the same name overwrites the prior registration —
// callers typically register once at startup and never again.
func (r *Registry) Register(name string, kind config.StageKind, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[name] = registration{kind: kind, factory: factory}
}

// Build constructs a stage instance by name, injecting the given port
// bundle.
func (r *Registry) Build(name string, ports *PortBundle) (Stage, error) {
	r.mu.RLock()
	reg, ok := r.items[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStageNotFound, name)
	}
	st, err := reg.factory(ports)
	if err != nil {
		return nil, fmt.Errorf("build stage %s: %w", name, err)
	}
	return st, nil
}

// Kind returns the registered kind tag for a stage name.
func (r *Registry) Kind(name string) (config.StageKind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.items[name]
	if !ok {
		return "", false
	}
	return reg.kind, true
}

// Has reports whether a stage name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[name]
	return ok
}

// Names returns every registered stage name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	return names
}
