package config

import "time"

// Defaults contains system-wide default configurations, used when a
// pipeline or provider configuration doesn't specify its own value.
type Defaults struct {
	// DefaultProvider names the provider used when a pipeline does not
	// declare its own DefaultProvider.
	DefaultProvider string `yaml:"default_provider,omitempty"`

	// DefaultQualityMode is used when a run request omits a mode.
	DefaultQualityMode QualityMode `yaml:"default_quality_mode,omitempty"`

	// ProviderCallTimeout bounds any single provider call (spec default: 60s).
	ProviderCallTimeout time.Duration `yaml:"provider_call_timeout,omitempty"`

	// StageTimeout bounds any single stage invocation (spec default: 120s).
	StageTimeout time.Duration `yaml:"stage_timeout,omitempty"`

	// Retry is the gateway's default retry/backoff policy, overridable
	// per-provider via ProviderConfig.Retry.
	Retry RetryConfig `yaml:"retry,omitempty"`

	// Caps is the default pre_persist size cap, overridable per-policy.
	Caps SizeCaps `yaml:"caps,omitempty"`
}

// DefaultDefaults returns the built-in system defaults.
func DefaultDefaults() *Defaults {
	return &Defaults{
		DefaultQualityMode: QualityModeFast,
		ProviderCallTimeout: 60 * time.Second,
		StageTimeout:        120 * time.Second,
		Retry: RetryConfig{
			MaxAttempts: 3,
			BackoffMin:  200 * time.Millisecond,
			BackoffMax:  5 * time.Second,
			CallTimeout: 60 * time.Second,
		},
		Caps: SizeCaps{
			MaxArtifacts:            20,
			MaxArtifactPayloadBytes: 1 << 20, // 1 MiB
		},
	}
}
