package config

import (
	"fmt"
	"sync"
	"time"
)

// StageSpec declares one stage of a pipeline: its stable registry name, its
// kind tag, the names of stages it depends on (which must all have been
// declared earlier in the same Stages slice), and whether it may be
// skipped conditionally based on an upstream output field.
type StageSpec struct {
	Name string    `yaml:"name" validate:"required"`
	Kind StageKind `yaml:"kind" validate:"required"`

	// DependsOn names stages whose outputs this stage's Stage Context makes
	// available. Every name must resolve to a stage declared earlier in
	// the pipeline's Stages slice.
	DependsOn []string `yaml:"depends_on,omitempty"`

	// Conditional, when true, allows the scheduler to record this stage as
	// skip without invoking it, based on ConditionField read off an
	// upstream output named in DependsOn.
	Conditional    bool   `yaml:"conditional,omitempty"`
	ConditionField string `yaml:"condition_field,omitempty" validate:"required_if=Conditional true"`
}

// PipelineConfig defines one named, composable pipeline: an ordered set of
// stage specs plus the run-level defaults (provider, deadline) used when
// this pipeline is selected for a run.
type PipelineConfig struct {
	Topology string      `yaml:"topology" validate:"required"`
	Channel  Channel     `yaml:"channel" validate:"required"`
	Mode     QualityMode `yaml:"mode" validate:"required"`

	Description string `yaml:"description,omitempty"`

	// Stages, required, min 1, ordered so that DependsOn always references
	// an earlier entry — making the graph acyclic by construction.
	Stages []StageSpec `yaml:"stages" validate:"required,min=1,dive"`

	// Deadline bounds the Run Controller's per-run wall-clock budget for
	// this topology.
	Deadline time.Duration `yaml:"deadline,omitempty"`

	// DefaultProvider names the entry in the ProviderRegistry stages should
	// use absent a more specific override.
	DefaultProvider string `yaml:"default_provider,omitempty"`
}

// Compose merges stage b's declarations over stage a's, preserving a's
// stage ordering. A stage name unique to b is placed right after the stage
// that precedes it in b (or first, if it leads b), so a stage b inserts
// between two of a's stages stays ahead of the stages that follow it. A
// stage name present in both keeps b's definition entirely (kind,
// dependencies, conditional flag) — no field-level merge. This is how
// chat_accurate and voice_accurate are derived from their _fast
// counterparts.
func Compose(a, b PipelineConfig) PipelineConfig {
	byName := make(map[string]StageSpec, len(a.Stages)+len(b.Stages))
	order := make([]string, 0, len(a.Stages)+len(b.Stages))

	for _, s := range a.Stages {
		byName[s.Name] = s
		order = append(order, s.Name)
	}
	for i, s := range b.Stages {
		if _, exists := byName[s.Name]; !exists {
			pos := 0
			if i > 0 {
				for j, name := range order {
					if name == b.Stages[i-1].Name {
						pos = j + 1
						break
					}
				}
			}
			order = append(order, "")
			copy(order[pos+1:], order[pos:])
			order[pos] = s.Name
		}
		byName[s.Name] = s
	}

	merged := a
	merged.Topology = b.Topology
	if b.Channel != "" {
		merged.Channel = b.Channel
	}
	if b.Mode != "" {
		merged.Mode = b.Mode
	}
	if b.Description != "" {
		merged.Description = b.Description
	}
	if b.Deadline != 0 {
		merged.Deadline = b.Deadline
	}
	if b.DefaultProvider != "" {
		merged.DefaultProvider = b.DefaultProvider
	}

	merged.Stages = make([]StageSpec, 0, len(order))
	for _, name := range order {
		merged.Stages = append(merged.Stages, byName[name])
	}
	return merged
}

// PipelineRegistry stores pipeline configurations in memory with
// thread-safe access, keyed by topology name.
type PipelineRegistry struct {
	pipelines map[string]*PipelineConfig
	mu        sync.RWMutex
}

// NewPipelineRegistry creates a new pipeline registry, defensively copying
// the supplied map.
func NewPipelineRegistry(pipelines map[string]*PipelineConfig) *PipelineRegistry {
	copied := make(map[string]*PipelineConfig, len(pipelines))
	for k, v := range pipelines {
		copied[k] = v
	}
	return &PipelineRegistry{pipelines: copied}
}

// Get retrieves a pipeline configuration by topology name.
func (r *PipelineRegistry) Get(topology string) (*PipelineConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.pipelines[topology]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, topology)
	}
	return p, nil
}

// GetAll returns a new map of every registered pipeline configuration.
// The map is a copy; the *PipelineConfig values are the registry's own.
func (r *PipelineRegistry) GetAll() map[string]*PipelineConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*PipelineConfig, len(r.pipelines))
	for k, v := range r.pipelines {
		result[k] = v
	}
	return result
}

// Has reports whether a topology is registered.
func (r *PipelineRegistry) Has(topology string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.pipelines[topology]
	return exists
}

// Len returns the number of registered pipelines.
func (r *PipelineRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pipelines)
}
