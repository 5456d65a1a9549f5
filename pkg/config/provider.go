package config

import (
	"fmt"
	"sync"
)

// ProviderConfig defines a single LLM/STT/TTS provider backend. The
// kernel's pkg/provider.Gateway wraps the concrete client built from this
// configuration with logging, retry, and circuit breaker bookkeeping.
type ProviderConfig struct {
	// Kind selects which ProviderClient contract this configuration backs
	// (llm, stt, tts). Required.
	Kind ProviderKind `yaml:"kind" validate:"required"`

	// Type identifies the vendor (used for LLM providers; stt/tts providers
	// may leave this empty and rely on Model alone).
	Type LLMProviderType `yaml:"type,omitempty"`

	// Model is the vendor's model identifier, required for pricing lookups.
	Model string `yaml:"model" validate:"required"`

	// APIKeyEnv names the environment variable holding the provider's API key.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// BaseURL overrides the vendor's default endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// MaxToolResultTokens bounds tool/function result size fed back to an
	// LLM provider. Only meaningful for Kind == llm.
	MaxToolResultTokens int `yaml:"max_tool_result_tokens,omitempty" validate:"omitempty,min=100"`

	// Retry overrides the gateway's default retry/backoff for calls routed
	// to this provider.
	Retry *RetryConfig `yaml:"retry,omitempty"`
}

// ProviderRegistry stores provider configurations in memory with
// thread-safe access, keyed by the name under which the provider was
// registered (e.g. "anthropic-claude", "whisper-stt").
type ProviderRegistry struct {
	providers map[string]*ProviderConfig
	mu        sync.RWMutex
}

// NewProviderRegistry creates a new provider registry, defensively copying
// the supplied map.
func NewProviderRegistry(providers map[string]*ProviderConfig) *ProviderRegistry {
	copied := make(map[string]*ProviderConfig, len(providers))
	for k, v := range providers {
		copied[k] = v
	}
	return &ProviderRegistry{providers: copied}
}

// Get retrieves a provider configuration by name.
func (r *ProviderRegistry) Get(name string) (*ProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return p, nil
}

// GetAll returns a new map of every registered provider configuration.
// The map is a copy; the *ProviderConfig values are the registry's own.
func (r *ProviderRegistry) GetAll() map[string]*ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*ProviderConfig, len(r.providers))
	for k, v := range r.providers {
		result[k] = v
	}
	return result
}

// Has reports whether a provider is registered under the given name.
func (r *ProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.providers[name]
	return exists
}

// Len returns the number of registered providers.
func (r *ProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
