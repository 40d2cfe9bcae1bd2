package extension

import "time"

// Config holds the splitpay extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.splitpay" or "splitpay" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// MaxOwners caps the number of co-owners per subscription (default: 5).
	MaxOwners int `json:"max_owners" mapstructure:"max_owners" yaml:"max_owners"`

	// ConflictRetries is how often a write that lost a version race is
	// retried before ErrConflict is returned (default: 3). Zero disables
	// retries; nil means unset.
	ConflictRetries *int `json:"conflict_retries" mapstructure:"conflict_retries" yaml:"conflict_retries"`

	// DispatchBatchSize is the number of pending transfers picked up per
	// sweep (default: 100).
	DispatchBatchSize int `json:"dispatch_batch_size" mapstructure:"dispatch_batch_size" yaml:"dispatch_batch_size"`

	// DispatchInterval is how frequently the store is swept for pending
	// transfers (default: 5s).
	DispatchInterval time.Duration `json:"dispatch_interval" mapstructure:"dispatch_interval" yaml:"dispatch_interval"`

	// DispatchQueueSize bounds the in-process transfer queue (default: 1024).
	DispatchQueueSize int `json:"dispatch_queue_size" mapstructure:"dispatch_queue_size" yaml:"dispatch_queue_size"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxOwners:         5,
		ConflictRetries:   intPtr(3),
		DispatchBatchSize: 100,
		DispatchInterval:  5 * time.Second,
		DispatchQueueSize: 1024,
	}
}

func intPtr(n int) *int { return &n }
