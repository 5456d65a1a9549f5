package config

// mergeProviders merges built-in and user-defined provider configurations.
// User-defined providers override built-in providers with the same name.
func mergeProviders(builtin map[string]ProviderConfig, user map[string]ProviderConfig) map[string]*ProviderConfig {
	result := make(map[string]*ProviderConfig, len(builtin)+len(user))

	for name, p := range builtin {
		pCopy := p
		result[name] = &pCopy
	}
	for name, p := range user {
		pCopy := p
		result[name] = &pCopy
	}
	return result
}

// mergePipelines merges built-in and user-defined pipeline configurations.
// A user-defined pipeline replaces the built-in pipeline with the same
// topology name as a whole; no Compose against the built-in one is
// applied, here or in the loader.
func mergePipelines(builtin map[string]PipelineConfig, user map[string]PipelineConfig) map[string]*PipelineConfig {
	result := make(map[string]*PipelineConfig, len(builtin)+len(user))

	for topology, p := range builtin {
		pCopy := p
		result[topology] = &pCopy
	}
	for topology, p := range user {
		pCopy := p
		result[topology] = &pCopy
	}
	return result
}

// mergePolicies merges built-in and user-defined policy configurations.
// User-defined policies override built-in policies with the same name.
func mergePolicies(builtin map[string]PolicyConfig, user map[string]PolicyConfig) map[string]*PolicyConfig {
	result := make(map[string]*PolicyConfig, len(builtin)+len(user))

	for name, p := range builtin {
		pCopy := p
		result[name] = &pCopy
	}
	for name, p := range user {
		pCopy := p
		result[name] = &pCopy
	}
	return result
}
