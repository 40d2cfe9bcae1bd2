package extension

import (
	"testing"
	"time"
)

func TestMergeWithDefaults(t *testing.T) {
	cfg := mergeWithDefaults(Config{MaxOwners: 3})
	if cfg.MaxOwners != 3 {
		t.Errorf("MaxOwners = %d, want 3", cfg.MaxOwners)
	}
	def := DefaultConfig()
	if *cfg.ConflictRetries != *def.ConflictRetries ||
		cfg.DispatchBatchSize != def.DispatchBatchSize ||
		cfg.DispatchInterval != def.DispatchInterval ||
		cfg.DispatchQueueSize != def.DispatchQueueSize {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestMergeConfigurations(t *testing.T) {
	yaml := Config{DispatchInterval: time.Second}
	prog := Config{DispatchInterval: time.Minute, MaxOwners: 8, DisableMigrate: true}

	cfg := mergeConfigurations(yaml, prog)
	if cfg.DispatchInterval != time.Second {
		t.Errorf("file value should win, got %v", cfg.DispatchInterval)
	}
	if cfg.MaxOwners != 8 {
		t.Errorf("programmatic value should fill gap, got %d", cfg.MaxOwners)
	}
	if !cfg.DisableMigrate {
		t.Error("DisableMigrate should carry over")
	}
	if cfg.DispatchBatchSize != DefaultConfig().DispatchBatchSize {
		t.Errorf("DispatchBatchSize = %d", cfg.DispatchBatchSize)
	}
}

func TestZeroConflictRetriesKept(t *testing.T) {
	zero := 0
	if cfg := mergeWithDefaults(Config{ConflictRetries: &zero}); *cfg.ConflictRetries != 0 {
		t.Errorf("ConflictRetries = %d, want 0", *cfg.ConflictRetries)
	}

	// A file value of zero wins over a programmatic value.
	cfg := mergeConfigurations(Config{ConflictRetries: &zero}, New(WithConflictRetries(5)).config)
	if *cfg.ConflictRetries != 0 {
		t.Errorf("ConflictRetries = %d, want 0", *cfg.ConflictRetries)
	}

	cfg = mergeConfigurations(Config{}, New(WithConflictRetries(0)).config)
	if *cfg.ConflictRetries != 0 {
		t.Errorf("ConflictRetries = %d, want 0", *cfg.ConflictRetries)
	}
}

func TestOptionsPopulateConfig(t *testing.T) {
	e := New(
		WithMaxOwners(4),
		WithConflictRetries(7),
		WithDispatchBatchSize(10),
		WithDispatchInterval(2*time.Second),
		WithDisableMigrate(),
	)
	if e.config.MaxOwners != 4 || *e.config.ConflictRetries != 7 ||
		e.config.DispatchBatchSize != 10 || e.config.DispatchInterval != 2*time.Second ||
		!e.config.DisableMigrate {
		t.Errorf("unexpected config %+v", e.config)
	}
	if e.Engine() != nil {
		t.Error("engine should be nil before Register")
	}
}
