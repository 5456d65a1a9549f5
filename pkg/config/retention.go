package config

import "time"

// RetentionConfig controls data retention and cleanup behavior for
// terminal runs, their events, and resolved DLQ entries.
type RetentionConfig struct {
	// RunRetentionDays is how many days to keep terminal pipeline_runs
	// rows (and their associated pipeline_events) before purging.
	RunRetentionDays int `yaml:"run_retention_days"`

	// ResolvedDLQRetentionDays is how long to keep resolved/reprocessed
	// dead_letter_queue entries before purging.
	ResolvedDLQRetentionDays int `yaml:"resolved_dlq_retention_days"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		RunRetentionDays:         90,
		ResolvedDLQRetentionDays: 30,
		CleanupInterval:          12 * time.Hour,
	}
}
