package stage

import (
	"fmt"

	"github.com/pipelinekit/orchestrator/pkg/config"
)

// Graph is the Unified Stage Graph: the ordered stage specs of one
// pipeline, bound to concrete Stage instances for one run, stratified
// into levels whose members have no dependency on each other (spec
// §4.6 "Construction"). Stage instances are built exactly once, at
// Graph construction — matching the port-injection binding happening
// "once per run" (spec §4.4).
type Graph struct {
	specs  map[string]config.StageSpec
	stages map[string]Stage
	strata [][]string
}

// Build validates a pipeline's stage specs, instantiates every stage via
// registry using the given port bundle, and computes the topological
// stratification.
func Build(specs []config.StageSpec, registry *Registry, ports *PortBundle) (*Graph, error) {
	g := &Graph{
		specs:  make(map[string]config.StageSpec, len(specs)),
		stages: make(map[string]Stage, len(specs)),
	}

	declared := make(map[string]bool, len(specs))
	level := make(map[string]int, len(specs))

	for _, spec := range specs {
		if declared[spec.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStageName, spec.Name)
		}

		lvl := 0
		for _, dep := range spec.DependsOn {
			if !declared[dep] {
				return nil, fmt.Errorf("%w: stage %s depends on undeclared %s", ErrDependencyNotDeclared, spec.Name, dep)
			}
			if level[dep]+1 > lvl {
				lvl = level[dep] + 1
			}
		}

		st, err := registry.Build(spec.Name, ports)
		if err != nil {
			return nil, fmt.Errorf("stage graph: %w", err)
		}

		g.specs[spec.Name] = spec
		g.stages[spec.Name] = st
		level[spec.Name] = lvl
		declared[spec.Name] = true

		for len(g.strata) <= lvl {
			g.strata = append(g.strata, nil)
		}
		g.strata[lvl] = append(g.strata[lvl], spec.Name)
	}

	return g, nil
}

// Strata returns the stratification: each element is a set of stage
// names eligible to run concurrently once the previous element has
// fully completed.
func (g *Graph) Strata() [][]string {
	return g.strata
}

// Spec returns the StageSpec for a stage name.
func (g *Graph) Spec(name string) (config.StageSpec, bool) {
	spec, ok := g.specs[name]
	return spec, ok
}

// Stage returns the bound Stage instance for a stage name.
func (g *Graph) Stage(name string) (Stage, bool) {
	st, ok := g.stages[name]
	return st, ok
}
