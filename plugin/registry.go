package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/splitpay/payment"
	"github.com/xraph/splitpay/subscription"
	"github.com/xraph/splitpay/transfer"
	"github.com/xraph/splitpay/types"
)

// DefaultHookTimeout bounds a single hook call.
const DefaultHookTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                []OnInit
	onShutdown            []OnShutdown
	onSubscriptionCreated []OnSubscriptionCreated
	onSubscriptionClosed  []OnSubscriptionClosed
	onPaymentAccepted     []OnPaymentAccepted
	onPaymentRejected     []OnPaymentRejected
	onFundsWithdrawn      []OnFundsWithdrawn
	onWithdrawalRejected  []OnWithdrawalRejected
	onTransferExecuted    []OnTransferExecuted
	onTransferFailed      []OnTransferFailed
	executors             []ExecutorPlugin
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnSubscriptionCreated); ok {
		r.onSubscriptionCreated = append(r.onSubscriptionCreated, v)
	}
	if v, ok := p.(OnSubscriptionClosed); ok {
		r.onSubscriptionClosed = append(r.onSubscriptionClosed, v)
	}
	if v, ok := p.(OnPaymentAccepted); ok {
		r.onPaymentAccepted = append(r.onPaymentAccepted, v)
	}
	if v, ok := p.(OnPaymentRejected); ok {
		r.onPaymentRejected = append(r.onPaymentRejected, v)
	}
	if v, ok := p.(OnFundsWithdrawn); ok {
		r.onFundsWithdrawn = append(r.onFundsWithdrawn, v)
	}
	if v, ok := p.(OnWithdrawalRejected); ok {
		r.onWithdrawalRejected = append(r.onWithdrawalRejected, v)
	}
	if v, ok := p.(OnTransferExecuted); ok {
		r.onTransferExecuted = append(r.onTransferExecuted, v)
	}
	if v, ok := p.(OnTransferFailed); ok {
		r.onTransferFailed = append(r.onTransferFailed, v)
	}
	if v, ok := p.(ExecutorPlugin); ok {
		r.executors = append(r.executors, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeFor[OnInit]()},
	{"OnShutdown", reflect.TypeFor[OnShutdown]()},
	{"OnSubscriptionCreated", reflect.TypeFor[OnSubscriptionCreated]()},
	{"OnSubscriptionClosed", reflect.TypeFor[OnSubscriptionClosed]()},
	{"OnPaymentAccepted", reflect.TypeFor[OnPaymentAccepted]()},
	{"OnPaymentRejected", reflect.TypeFor[OnPaymentRejected]()},
	{"OnFundsWithdrawn", reflect.TypeFor[OnFundsWithdrawn]()},
	{"OnWithdrawalRejected", reflect.TypeFor[OnWithdrawalRejected]()},
	{"OnTransferExecuted", reflect.TypeFor[OnTransferExecuted]()},
	{"OnTransferFailed", reflect.TypeFor[OnTransferFailed]()},
	{"Executor", reflect.TypeFor[ExecutorPlugin]()},
}

// implementedInterfaces returns the hook names p implements.
func implementedInterfaces(p Plugin) []string {
	var names []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// Executor returns the executor of the first registered ExecutorPlugin,
// or nil.
func (r *Registry) Executor() transfer.Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.executors) == 0 {
		return nil
	}
	return r.executors[0].Executor()
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, l interface{}) {
	emit(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, l)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitSubscriptionCreated emits a subscription created event.
func (r *Registry) EmitSubscriptionCreated(ctx context.Context, sub *subscription.Record) {
	emit(ctx, r, "OnSubscriptionCreated", snapshot(r, &r.onSubscriptionCreated), func(p OnSubscriptionCreated) error {
		return p.OnSubscriptionCreated(ctx, sub)
	})
}

// EmitSubscriptionClosed emits a subscription closed event.
func (r *Registry) EmitSubscriptionClosed(ctx context.Context, sub *subscription.Record) {
	emit(ctx, r, "OnSubscriptionClosed", snapshot(r, &r.onSubscriptionClosed), func(p OnSubscriptionClosed) error {
		return p.OnSubscriptionClosed(ctx, sub)
	})
}

// EmitPaymentAccepted emits a payment accepted event.
func (r *Registry) EmitPaymentAccepted(ctx context.Context, sub *subscription.Record, pay *payment.Payment) {
	emit(ctx, r, "OnPaymentAccepted", snapshot(r, &r.onPaymentAccepted), func(p OnPaymentAccepted) error {
		return p.OnPaymentAccepted(ctx, sub, pay)
	})
}

// EmitPaymentRejected emits a payment rejected event.
func (r *Registry) EmitPaymentRejected(ctx context.Context, subID string, amount types.Amount, reason error) {
	emit(ctx, r, "OnPaymentRejected", snapshot(r, &r.onPaymentRejected), func(p OnPaymentRejected) error {
		return p.OnPaymentRejected(ctx, subID, amount, reason)
	})
}

// EmitFundsWithdrawn emits a funds withdrawn event.
func (r *Registry) EmitFundsWithdrawn(ctx context.Context, sub *subscription.Record, t *transfer.Transfer) {
	emit(ctx, r, "OnFundsWithdrawn", snapshot(r, &r.onFundsWithdrawn), func(p OnFundsWithdrawn) error {
		return p.OnFundsWithdrawn(ctx, sub, t)
	})
}

// EmitWithdrawalRejected emits a withdrawal rejected event.
func (r *Registry) EmitWithdrawalRejected(ctx context.Context, subID, owner string, amount types.Amount, reason error) {
	emit(ctx, r, "OnWithdrawalRejected", snapshot(r, &r.onWithdrawalRejected), func(p OnWithdrawalRejected) error {
		return p.OnWithdrawalRejected(ctx, subID, owner, amount, reason)
	})
}

// EmitTransferExecuted emits a transfer executed event.
func (r *Registry) EmitTransferExecuted(ctx context.Context, t *transfer.Transfer, elapsed time.Duration) {
	emit(ctx, r, "OnTransferExecuted", snapshot(r, &r.onTransferExecuted), func(p OnTransferExecuted) error {
		return p.OnTransferExecuted(ctx, t, elapsed)
	})
}

// EmitTransferFailed emits a transfer failed event.
func (r *Registry) EmitTransferFailed(ctx context.Context, t *transfer.Transfer, err error) {
	emit(ctx, r, "OnTransferFailed", snapshot(r, &r.onTransferFailed), func(p OnTransferFailed) error {
		return p.OnTransferFailed(ctx, t, err)
	})
}

// snapshot reads a cached hook list under the read lock.
func snapshot[T Plugin](r *Registry, list *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *list
}

func emit[T Plugin](ctx context.Context, r *Registry, hook string, plugins []T, call func(T) error) {
	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return call(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the ledger pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
