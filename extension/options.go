package extension

import (
	"time"

	"github.com/xraph/splitpay"
	"github.com/xraph/splitpay/plugin"
	"github.com/xraph/splitpay/store"
	"github.com/xraph/splitpay/transfer"
)

// Option configures the splitpay Forge extension.
type Option func(*Extension)

// WithStore sets the store for the ledger engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithLedgerOption passes a splitpay.Option through to the underlying engine.
func WithLedgerOption(opt splitpay.Option) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, opt)
	}
}

// WithPlugin registers a splitpay plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, splitpay.WithPlugin(p))
	}
}

// WithExecutor sets the collaborator that moves withdrawn tokens.
func WithExecutor(x transfer.Executor) Option {
	return func(e *Extension) {
		e.ledgerOpts = append(e.ledgerOpts, splitpay.WithExecutor(x))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithMaxOwners sets the owner cap for new subscriptions.
func WithMaxOwners(n int) Option {
	return func(e *Extension) { e.config.MaxOwners = n }
}

// WithConflictRetries sets how often a write that lost a race is retried.
func WithConflictRetries(n int) Option {
	return func(e *Extension) { e.config.ConflictRetries = intPtr(n) }
}

// WithDispatchBatchSize sets the number of pending transfers per sweep.
func WithDispatchBatchSize(size int) Option {
	return func(e *Extension) { e.config.DispatchBatchSize = size }
}

// WithDispatchInterval sets how frequently pending transfers are swept.
func WithDispatchInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.DispatchInterval = d }
}
