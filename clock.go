package splitpay

import (
	"context"
	"time"

	"github.com/xraph/splitpay/subscription"
)

// Clock supplies the current time to every transition.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

type signersKey struct{}

// WithSigners returns a context carrying the identities a signer
// verifier confirmed for the current call. WithdrawFunds reads them.
func WithSigners(ctx context.Context, identities ...string) context.Context {
	return context.WithValue(ctx, signersKey{}, subscription.NewSignerSet(identities...))
}

// SignersFrom returns the verified signer set on ctx, or an empty set.
func SignersFrom(ctx context.Context) subscription.SignerSet {
	if s, ok := ctx.Value(signersKey{}).(subscription.SignerSet); ok {
		return s
	}
	return subscription.SignerSet{}
}
