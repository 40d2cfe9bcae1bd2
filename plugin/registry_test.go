package plugin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/splitpay/subscription"
	"github.com/xraph/splitpay/transfer"
	"github.com/xraph/splitpay/types"
)

type countingPlugin struct {
	name     string
	created  atomic.Int32
	rejected atomic.Int32
}

func (p *countingPlugin) Name() string { return p.name }

func (p *countingPlugin) OnSubscriptionCreated(context.Context, *subscription.Record) error {
	p.created.Add(1)
	return nil
}

func (p *countingPlugin) OnPaymentRejected(context.Context, string, types.Amount, error) error {
	p.rejected.Add(1)
	return errors.New("ignored")
}

type slowPlugin struct{}

func (slowPlugin) Name() string { return "slow" }

func (slowPlugin) OnShutdown(ctx context.Context) error {
	time.Sleep(200 * time.Millisecond)
	return nil
}

type executorPlugin struct{ calls atomic.Int32 }

func (*executorPlugin) Name() string { return "executor" }

func (e *executorPlugin) Executor() transfer.Executor {
	return transfer.ExecutorFunc(func(context.Context, *transfer.Transfer) (string, error) {
		e.calls.Add(1)
		return "tx", nil
	})
}

func quietRegistry() *Registry {
	return NewRegistry().WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterAndDispatch(t *testing.T) {
	r := quietRegistry()
	p := &countingPlugin{name: "counter"}

	if err := r.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&countingPlugin{name: "counter"}); err == nil {
		t.Error("expected duplicate registration to fail")
	}
	if r.Count() != 1 || r.Get("counter") == nil || len(r.List()) != 1 {
		t.Fatal("registry did not record the plugin")
	}

	ctx := context.Background()
	r.EmitSubscriptionCreated(ctx, &subscription.Record{})
	r.EmitPaymentRejected(ctx, "sub_x", 5, subscription.ErrInsufficientPayment)
	r.EmitFundsWithdrawn(ctx, nil, nil) // no subscribers

	if p.created.Load() != 1 || p.rejected.Load() != 1 {
		t.Errorf("created=%d rejected=%d", p.created.Load(), p.rejected.Load())
	}
}

func TestImplementedInterfaces(t *testing.T) {
	got := implementedInterfaces(&countingPlugin{})
	if len(got) != 2 || got[0] != "OnSubscriptionCreated" || got[1] != "OnPaymentRejected" {
		t.Errorf("implementedInterfaces = %v", got)
	}
}

func TestHookTimeout(t *testing.T) {
	r := quietRegistry().WithTimeout(20 * time.Millisecond)
	_ = r.Register(slowPlugin{})

	start := time.Now()
	r.EmitShutdown(context.Background())
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("EmitShutdown waited %v for a slow hook", elapsed)
	}
}

func TestExecutorPlugin(t *testing.T) {
	r := quietRegistry()
	if r.Executor() != nil {
		t.Fatal("expected no executor")
	}

	e := &executorPlugin{}
	_ = r.Register(e)

	ref, err := r.Executor().Execute(context.Background(), &transfer.Transfer{})
	if err != nil || ref != "tx" || e.calls.Load() != 1 {
		t.Errorf("Execute = %q, %v (calls %d)", ref, err, e.calls.Load())
	}
}
