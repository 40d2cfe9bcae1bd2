// Package extension provides the Forge extension adapter for splitpay.
//
// It implements the forge.Extension interface to integrate the ledger
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.splitpay" or "splitpay" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/splitpay"
	"github.com/xraph/splitpay/store"
	"github.com/xraph/splitpay/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "splitpay"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Shared subscription ledger with proportional payouts"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the splitpay ledger as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *splitpay.Ledger
	store      store.Store
	ledgerOpts []splitpay.Option
}

// New creates a new splitpay Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Ledger instance.
// This is nil until Register is called.
func (e *Extension) Engine() *splitpay.Ledger { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the ledger engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil {
		e.store = memory.New()
	}

	e.engine = splitpay.New(e.store, e.buildLedgerOpts()...)

	return vessel.Provide(fapp.Container(), func() (*splitpay.Ledger, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("splitpay: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("splitpay: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildLedgerOpts constructs splitpay.Option values from the resolved config.
// Pass-through options are appended last so they win over config.
func (e *Extension) buildLedgerOpts() []splitpay.Option {
	opts := make([]splitpay.Option, 0, len(e.ledgerOpts)+4)

	opts = append(opts,
		splitpay.WithMaxOwners(e.config.MaxOwners),
		splitpay.WithConflictRetries(*e.config.ConflictRetries),
		splitpay.WithDispatchConfig(e.config.DispatchBatchSize, e.config.DispatchInterval, e.config.DispatchQueueSize),
	)
	if e.config.DisableMigrate {
		opts = append(opts, splitpay.WithoutMigrate())
	}

	return append(opts, e.ledgerOpts...)
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("splitpay: configuration is required but not found in config files; " +
				"ensure 'extensions.splitpay' or 'splitpay' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("splitpay: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("max_owners", e.config.MaxOwners),
		forge.F("conflict_retries", *e.config.ConflictRetries),
		forge.F("dispatch_batch_size", e.config.DispatchBatchSize),
		forge.F("dispatch_interval", e.config.DispatchInterval),
		forge.F("dispatch_queue_size", e.config.DispatchQueueSize),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.splitpay", "splitpay"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("splitpay: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("splitpay: loaded config from file", forge.F("key", key))
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.MaxOwners == 0 {
		cfg.MaxOwners = defaults.MaxOwners
	}
	if cfg.ConflictRetries == nil {
		cfg.ConflictRetries = defaults.ConflictRetries
	}
	if cfg.DispatchBatchSize == 0 {
		cfg.DispatchBatchSize = defaults.DispatchBatchSize
	}
	if cfg.DispatchInterval == 0 {
		cfg.DispatchInterval = defaults.DispatchInterval
	}
	if cfg.DispatchQueueSize == 0 {
		cfg.DispatchQueueSize = defaults.DispatchQueueSize
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	if yamlConfig.MaxOwners == 0 {
		yamlConfig.MaxOwners = programmaticConfig.MaxOwners
	}
	if yamlConfig.ConflictRetries == nil {
		yamlConfig.ConflictRetries = programmaticConfig.ConflictRetries
	}
	if yamlConfig.DispatchBatchSize == 0 {
		yamlConfig.DispatchBatchSize = programmaticConfig.DispatchBatchSize
	}
	if yamlConfig.DispatchInterval == 0 {
		yamlConfig.DispatchInterval = programmaticConfig.DispatchInterval
	}
	if yamlConfig.DispatchQueueSize == 0 {
		yamlConfig.DispatchQueueSize = programmaticConfig.DispatchQueueSize
	}

	return mergeWithDefaults(yamlConfig)
}
