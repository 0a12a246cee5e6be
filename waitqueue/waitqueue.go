package waitqueue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Options bound how many sends happen per interval and how far apart consecutive sends are.
type Options struct {
	PerInterval int32
	Interval    time.Duration
	MinGap      time.Duration
}

// WaitQueue serializes outbound sends that share a provider quota.
type WaitQueue struct {
	opts         Options
	mux          sync.Mutex
	windowStart  time.Time
	windowCount  int32
	lastSendDone time.Time
	now          func() time.Time
}

func New(opts Options) *WaitQueue {
	if opts.PerInterval <= 0 {
		opts.PerInterval = 1
	}
	return &WaitQueue{
		opts:         opts,
		mux:          sync.Mutex{},
		windowStart:  time.Time{},
		windowCount:  0,
		lastSendDone: time.Time{},
		now:          time.Now,
	}
}

func (w *WaitQueue) SendSingle(ctx context.Context, fn func() error) error {
	return w.SendMany(ctx, 1, fn)
}

// SendMany runs fn once n units of quota are available, waiting for the next interval when the current one is exhausted.
func (w *WaitQueue) SendMany(ctx context.Context, n int32, fn func() error) error {
	if n > w.opts.PerInterval {
		return errRequestTooLarge
	}

	for {
		wait, err := w.trySend(fn, n)
		if nil == err {
			return nil
		}
		if !errors.Is(err, errIntervalCapReached) {
			return err
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

var (
	errIntervalCapReached = errors.New("wait queue interval capacity has reached, waiting for next interval")
	errRequestTooLarge    = errors.New("requested quota exceeds the per interval capacity")
)

func (w *WaitQueue) trySend(fn func() error, n int32) (time.Duration, error) {
	w.mux.Lock()
	defer w.mux.Unlock()

	now := w.now()
	if gap := now.Sub(w.lastSendDone); !w.lastSendDone.IsZero() && gap < w.opts.MinGap {
		return w.opts.MinGap - gap, errIntervalCapReached
	}

	if w.opts.Interval > 0 && now.Sub(w.windowStart) >= w.opts.Interval {
		w.windowStart = now
		w.windowCount = 0
	}

	if w.opts.Interval > 0 && w.opts.PerInterval-w.windowCount < n {
		return w.opts.Interval - now.Sub(w.windowStart), errIntervalCapReached
	}

	defer func() { w.lastSendDone = w.now() }()
	if err := fn(); nil != err {
		return 0, err
	}
	w.windowCount += n
	return 0, nil
}
