package waitqueue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/tgmd/waitqueue"
)

func TestWaitQueue(t *testing.T) {
	t.Parallel()

	t.Run("sends_are_serialized", func(t *testing.T) {
		t.Parallel()

		wq := waitqueue.New(waitqueue.Options{PerInterval: 100, Interval: time.Minute, MinGap: 0})
		var (
			inFlight atomic.Int32
			maxSeen  atomic.Int32
			wg       sync.WaitGroup
		)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := wq.SendSingle(t.Context(), func() error {
					cur := inFlight.Add(1)
					if cur > maxSeen.Load() {
						maxSeen.Store(cur)
					}
					time.Sleep(time.Millisecond)
					inFlight.Add(-1)
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), maxSeen.Load())
	})

	t.Run("waits_for_next_interval", func(t *testing.T) {
		t.Parallel()

		interval := 200 * time.Millisecond
		wq := waitqueue.New(waitqueue.Options{PerInterval: 2, Interval: interval, MinGap: 0})
		start := time.Now()
		for range 3 {
			require.NoError(t, wq.SendSingle(t.Context(), func() error { return nil }))
		}
		assert.GreaterOrEqual(t, time.Since(start), interval-10*time.Millisecond)
	})

	t.Run("context_canceled_while_waiting", func(t *testing.T) {
		t.Parallel()

		wq := waitqueue.New(waitqueue.Options{PerInterval: 1, Interval: time.Hour, MinGap: 0})
		require.NoError(t, wq.SendSingle(t.Context(), func() error { return nil }))

		ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
		defer cancel()
		err := wq.SendSingle(ctx, func() error { return nil })
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("send_error_does_not_consume_quota", func(t *testing.T) {
		t.Parallel()

		wq := waitqueue.New(waitqueue.Options{PerInterval: 1, Interval: time.Hour, MinGap: 0})
		errBoom := errors.New("boom")
		require.ErrorIs(t, wq.SendSingle(t.Context(), func() error { return errBoom }), errBoom)
		require.NoError(t, wq.SendSingle(t.Context(), func() error { return nil }))
	})

	t.Run("request_larger_than_capacity", func(t *testing.T) {
		t.Parallel()

		wq := waitqueue.New(waitqueue.Options{PerInterval: 2, Interval: time.Hour, MinGap: 0})
		require.Error(t, wq.SendMany(t.Context(), 3, func() error { return nil }))
	})
}
