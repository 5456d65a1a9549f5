package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// KernelYAMLConfig represents the complete kernel.yaml file structure: the
// user-supplied overlay merged over the built-in providers, pipelines,
// and policies.
type KernelYAMLConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
	Pipelines map[string]PipelineConfig `yaml:"pipelines"`
	Policies  map[string]PolicyConfig   `yaml:"policies"`
	Defaults  *Defaults                 `yaml:"defaults"`
	Retention *RetentionConfig          `yaml:"retention"`
}

// Initialize loads, validates, and returns ready-to-use configuration. It
// is the primary entry point used by cmd/orchestratord and cmd/dlqctl.
//
// configDir may be empty, in which case only the built-in providers,
// pipelines, and policies are used (suitable for tests and for running
// with no operator overrides).
func Initialize(configDir string) (*Config, error) {
	builtin := GetBuiltinConfig()

	overlay, err := loadOverlay(configDir)
	if err != nil {
		return nil, err
	}

	defaults := DefaultDefaults()
	if overlay.Defaults != nil {
		defaults = overlay.Defaults
	}

	retention := DefaultRetentionConfig()
	if overlay.Retention != nil {
		retention = overlay.Retention
	}

	cfg := &Config{
		configDir:        configDir,
		Defaults:         defaults,
		Retention:        retention,
		ProviderRegistry: NewProviderRegistry(mergeProviders(builtin.Providers, overlay.Providers)),
		PipelineRegistry: NewPipelineRegistry(mergePipelines(builtin.Pipelines, overlay.Pipelines)),
		PolicyRegistry:   NewPolicyRegistry(mergePolicies(builtin.Policies, overlay.Policies)),
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	slog.Info("configuration initialized",
		"config_dir", configDir,
		"pipelines", cfg.PipelineRegistry.Len(),
		"providers", cfg.ProviderRegistry.Len(),
		"policies", cfg.PolicyRegistry.Len(),
	)
	return cfg, nil
}

// loadOverlay reads kernel.yaml from configDir, if present. A missing
// directory or file is not an error — it means "use built-ins only".
func loadOverlay(configDir string) (KernelYAMLConfig, error) {
	var overlay KernelYAMLConfig
	if configDir == "" {
		return overlay, nil
	}

	path := filepath.Join(configDir, "kernel.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return overlay, nil
		}
		return overlay, fmt.Errorf("%w: %v", ErrConfigNotFound, err)
	}

	expanded := ExpandEnv(data)
	if err := yaml.Unmarshal(expanded, &overlay); err != nil {
		return overlay, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return overlay, nil
}
