package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeWithNoConfigDirUsesBuiltinsOnly(t *testing.T) {
	cfg, err := Initialize("")
	require.NoError(t, err)
	assert.True(t, cfg.PipelineRegistry.Has("chat_fast"))
	assert.Equal(t, QualityModeFast, cfg.Defaults.DefaultQualityMode)
}

func TestInitializeLoadsAndMergesOverlay(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TEST_PROVIDER_MODEL", "claude-overlay-model")

	yaml := `
providers:
  anthropic-claude:
    kind: llm
    type: anthropic
    model: ${TEST_PROVIDER_MODEL}
    api_key_env: ANTHROPIC_API_KEY
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kernel.yaml"), []byte(yaml), 0o644))

	cfg, err := Initialize(dir)
	require.NoError(t, err)

	p, err := cfg.GetProvider("anthropic-claude")
	require.NoError(t, err)
	assert.Equal(t, "claude-overlay-model", p.Model)

	// Built-ins not named in the overlay survive the merge.
	assert.True(t, cfg.ProviderRegistry.Has("openai-whisper"))
}

func TestInitializeMissingConfigDirIsNotAnError(t *testing.T) {
	_, err := Initialize(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
}

func TestInitializeRejectsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kernel.yaml"), []byte("not: [valid"), 0o644))

	_, err := Initialize(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}
