package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderRegistryGetAndHas(t *testing.T) {
	reg := NewProviderRegistry(map[string]*ProviderConfig{
		"anthropic-claude": {Kind: ProviderKindLLM, Type: LLMProviderTypeAnthropic, Model: "claude-sonnet-4-5"},
	})

	p, err := reg.Get("anthropic-claude")
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", p.Model)

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestProviderRegistryDefensiveCopyOnConstruction(t *testing.T) {
	source := map[string]*ProviderConfig{
		"p": {Kind: ProviderKindLLM, Model: "m"},
	}
	reg := NewProviderRegistry(source)
	source["p"] = &ProviderConfig{Kind: ProviderKindLLM, Model: "mutated"}

	p, err := reg.Get("p")
	require.NoError(t, err)
	assert.Equal(t, "m", p.Model, "registry must not observe mutation of the caller's map after construction")
}
