package stage

import "errors"

var (
	// ErrStageNotFound is returned by Registry.Build for an unregistered
	// stage name.
	ErrStageNotFound = errors.New("stage: not found in registry")
	// ErrDependencyNotDeclared is returned by Build when a StageSpec
	// names a dependency that wasn't declared earlier in the same
	// pipeline (config.Validator should already have caught this at load
	// time; the Graph re-checks defensively since it can be built from
	// specs assembled programmatically, e.g. by compose, without going
	// back through the validator).
	ErrDependencyNotDeclared = errors.New("stage graph: dependency not declared")
	// ErrDuplicateStageName is returned by Build for two StageSpecs
	// sharing a name.
	ErrDuplicateStageName = errors.New("stage graph: duplicate stage name")
)
