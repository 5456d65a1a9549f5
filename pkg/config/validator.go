package config

import "fmt"

// Validator validates configuration comprehensively with clear error
// messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast — stops at the
// first error). Providers are validated before pipelines so that a
// pipeline's DefaultProvider reference can be checked against a known-good
// provider set.
func (v *Validator) ValidateAll() error {
	if err := v.validateProviders(); err != nil {
		return fmt.Errorf("provider validation failed: %w", err)
	}
	if err := v.validatePolicies(); err != nil {
		return fmt.Errorf("policy validation failed: %w", err)
	}
	if err := v.validatePipelines(); err != nil {
		return fmt.Errorf("pipeline validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateProviders() error {
	for name, p := range v.cfg.ProviderRegistry.GetAll() {
		if !p.Kind.IsValid() {
			return NewValidationError("provider", name, "kind", fmt.Errorf("%w: %q", ErrInvalidValue, p.Kind))
		}
		if p.Model == "" {
			return NewValidationError("provider", name, "model", ErrMissingRequiredField)
		}
		if p.Kind == ProviderKindLLM && p.Type != "" && !p.Type.IsValid() {
			return NewValidationError("provider", name, "type", fmt.Errorf("%w: %q", ErrInvalidValue, p.Type))
		}
	}
	return nil
}

func (v *Validator) validatePolicies() error {
	for name, p := range v.cfg.PolicyRegistry.GetAll() {
		if !p.Checkpoint.IsValid() {
			return NewValidationError("policy", name, "checkpoint", fmt.Errorf("%w: %q", ErrInvalidValue, p.Checkpoint))
		}
		if p.ForceDecision != nil && !p.ForceDecision.IsValid() {
			return NewValidationError("policy", name, "force_decision", fmt.Errorf("%w: %q", ErrInvalidValue, *p.ForceDecision))
		}
		if p.Checkpoint != CheckpointPrePersist && p.Caps != nil {
			return NewValidationError("policy", name, "caps", fmt.Errorf("%w: caps only apply at pre_persist", ErrInvalidValue))
		}
	}
	return nil
}

func (v *Validator) validatePipelines() error {
	for topology, p := range v.cfg.PipelineRegistry.GetAll() {
		if err := v.validatePipeline(topology, p); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validatePipeline(topology string, p *PipelineConfig) error {
	if !p.Channel.IsValid() {
		return NewValidationError("pipeline", topology, "channel", fmt.Errorf("%w: %q", ErrInvalidValue, p.Channel))
	}
	if !p.Mode.IsValid() {
		return NewValidationError("pipeline", topology, "mode", fmt.Errorf("%w: %q", ErrInvalidValue, p.Mode))
	}
	if len(p.Stages) == 0 {
		return NewValidationError("pipeline", topology, "stages", ErrMissingRequiredField)
	}
	if p.DefaultProvider != "" && !v.cfg.ProviderRegistry.Has(p.DefaultProvider) {
		return NewValidationError("pipeline", topology, "default_provider", fmt.Errorf("%w: %q", ErrInvalidReference, p.DefaultProvider))
	}

	declared := make(map[string]bool, len(p.Stages))
	for _, s := range p.Stages {
		if s.Name == "" {
			return NewValidationError("pipeline", topology, "stages[].name", ErrMissingRequiredField)
		}
		if declared[s.Name] {
			return NewValidationError("pipeline", topology, "stages[].name", fmt.Errorf("%w: duplicate stage %q", ErrInvalidValue, s.Name))
		}
		if !s.Kind.IsValid() {
			return NewValidationError("stage", s.Name, "kind", fmt.Errorf("%w: %q", ErrInvalidValue, s.Kind))
		}
		for _, dep := range s.DependsOn {
			if !declared[dep] {
				return NewValidationError("stage", s.Name, "depends_on", fmt.Errorf("%w: %q must be declared earlier in the pipeline", ErrInvalidReference, dep))
			}
		}
		if s.Conditional && s.ConditionField == "" {
			return NewValidationError("stage", s.Name, "condition_field", ErrMissingRequiredField)
		}
		declared[s.Name] = true
	}
	return nil
}
