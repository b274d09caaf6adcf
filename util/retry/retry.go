// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package retry

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ethereum/go-ethereum/log"
)

// Sleep waits for d on the given clock, returning early with the context's
// error if it is cancelled first.
func Sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	timer := clk.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// UntilSucceeds retries fn with a fixed delay until it returns without error
// or the context is cancelled. Every failure is logged at info, naming what.
func UntilSucceeds[T any](ctx context.Context, clk clock.Clock, delay time.Duration, what string, fn func() (T, error)) (T, error) {
	for {
		if ctx.Err() != nil {
			var zero T
			return zero, ctx.Err()
		}
		got, err := fn()
		if err == nil {
			return got, nil
		}
		log.Info("retrying after failure", "what", what, "delay", delay, "err", err)
		if err := Sleep(ctx, clk, delay); err != nil {
			var zero T
			return zero, err
		}
	}
}
