// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/nitro/blob/master/LICENSE

package retry

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/rollupcore/sequencer/util/testhelpers"
)

func TestUntilSucceedsRetriesOnClock(t *testing.T) {
	logs := testhelpers.InitTestLog(t, slog.LevelInfo)
	mock := clock.NewMock()
	var calls atomic.Int32
	done := make(chan int)
	errs := make(chan error, 1)
	go func() {
		got, err := UntilSucceeds(context.Background(), mock, time.Second, "counter", func() (int, error) {
			if calls.Add(1) < 3 {
				return 0, errors.New("not yet")
			}
			return 42, nil
		})
		errs <- err
		done <- got
	}()
	for {
		select {
		case got := <-done:
			require.NoError(t, <-errs)
			require.Equal(t, 42, got)
			require.Equal(t, int32(3), calls.Load())
			require.True(t, logs.WasLogged("retrying after failure"))
			return
		default:
			mock.Add(time.Second)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestUntilSucceedsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := UntilSucceeds(ctx, clock.NewMock(), time.Hour, "never", func() (struct{}, error) {
		return struct{}{}, errors.New("unreachable")
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mock := clock.NewMock()
	errs := make(chan error)
	go func() { errs <- Sleep(ctx, mock, time.Hour) }()
	cancel()
	require.ErrorIs(t, <-errs, context.Canceled)
}
