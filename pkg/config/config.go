package config

// Config is the umbrella configuration object that encapsulates all
// registries, defaults, and configuration state. This is the primary
// object returned by Initialize() and used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	Defaults  *Defaults
	Retention *RetentionConfig

	PipelineRegistry *PipelineRegistry
	ProviderRegistry *ProviderRegistry
	PolicyRegistry   *PolicyRegistry
}

// Initialize is defined in loader.go

// ConfigStats contains statistics about loaded configuration.
type ConfigStats struct {
	Pipelines int
	Providers int
	Policies  int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		Pipelines: c.PipelineRegistry.Len(),
		Providers: c.ProviderRegistry.Len(),
		Policies:  c.PolicyRegistry.Len(),
	}
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetPipeline retrieves a pipeline configuration by topology name.
func (c *Config) GetPipeline(topology string) (*PipelineConfig, error) {
	return c.PipelineRegistry.Get(topology)
}

// GetProvider retrieves a provider configuration by name.
func (c *Config) GetProvider(name string) (*ProviderConfig, error) {
	return c.ProviderRegistry.Get(name)
}

// GetPolicy retrieves a policy configuration by name.
func (c *Config) GetPolicy(name string) (*PolicyConfig, error) {
	return c.PolicyRegistry.Get(name)
}
