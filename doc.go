// Package splitpay provides a shared subscription ledger for Go applications.
//
// A subscription is a pool of funds that anyone may pay into and that a
// fixed set of co-owners drain in proportion to integer percentage shares.
// No owner can ever withdraw more than floor(total_paid * share / 100)
// minus what they already took. Each accepted payment extends service by
// one period.
//
// splitpay is designed as a library, not a service. It provides:
//
//   - Pure, checked state transitions in the subscription package
//   - Optimistic concurrency with version compare-and-swap on every write
//   - Payment receipts that credit a funding reference at most once
//   - Durable transfer instructions with a background dispatch worker
//   - Pluggable audit trail and metrics via plugins
//   - Memory, PostgreSQL, SQLite and MongoDB stores
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/splitpay"
//	    "github.com/xraph/splitpay/store/memory"
//	)
//
//	l := splitpay.New(memory.New(), splitpay.WithExecutor(executor))
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
//	sub, err := l.CreateSubscription(ctx, splitpay.CreateInput{
//	    TokenMint:      "USDC",
//	    Owners:         []string{"alice", "bob"},
//	    Shares:         []uint8{60, 40},
//	    Price:          100,
//	    PeriodDuration: 30 * 24 * 3600,
//	})
//
// Anyone may pay once tokens reached the subscription's funds:
//
//	_, err = l.PaySubscription(ctx, sub.ID, splitpay.PaymentInput{
//	    Amount: 100, TokenMint: "USDC", Reference: txSignature,
//	})
//
// Owners withdraw with a verified signer set on the context:
//
//	ctx = splitpay.WithSigners(ctx, "alice")
//	res, err := l.WithdrawFunds(ctx, sub.ID, splitpay.WithdrawInput{
//	    Owner: "alice", TokenMint: "USDC", Amount: 60,
//	})
//
// # Service period
//
// A payment received at time now sets
//
//	paid_until = max(paid_until, now) + period_duration
//
// so paying early stacks periods and paying after a lapse starts a fresh
// period from now. Overpayment is credited in full but buys one period.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	sub_01h2xcejqtf2nbrexx3vqjhp41   // Subscription ID
//	pay_01h455vb4pex5vsknk084sn02q   // Payment ID
//	xfer_01h455vb4pex5vsknk084sn02q  // Transfer ID
package splitpay
