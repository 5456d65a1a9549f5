package config

import "time"

// SizeCaps bounds the agent output applier's pre_persist checkpoint: how
// many artifacts a single run may persist and how large each may be.
type SizeCaps struct {
	MaxArtifacts            int `yaml:"max_artifacts,omitempty" validate:"omitempty,min=1"`
	MaxArtifactPayloadBytes int `yaml:"max_artifact_payload_bytes,omitempty" validate:"omitempty,min=1"`
}

// RetryConfig controls the gateway's retry helper for a provider call.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts,omitempty" validate:"omitempty,min=1"`
	BackoffMin   time.Duration `yaml:"backoff_min,omitempty"`
	BackoffMax   time.Duration `yaml:"backoff_max,omitempty"`
	CallTimeout  time.Duration `yaml:"call_timeout,omitempty"`
}
