package progress_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/tgmd/progress"
	"github.com/xeptore/tgmd/task"
)

type surfaceCall struct {
	op     string
	target progress.Target
	report progress.Report
}

type fakeSurface struct {
	mux       sync.Mutex
	calls     []surfaceCall
	renderErr error
}

func (s *fakeSurface) Render(_ context.Context, target progress.Target, _ string, report progress.Report) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.calls = append(s.calls, surfaceCall{op: "render", target: target, report: report})
	return s.renderErr
}

func (s *fakeSurface) Delete(_ context.Context, target progress.Target) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.calls = append(s.calls, surfaceCall{op: "delete", target: target, report: progress.Report{}})
	return nil
}

func (s *fakeSurface) snapshot() []surfaceCall {
	s.mux.Lock()
	defer s.mux.Unlock()
	return append([]surfaceCall(nil), s.calls...)
}

func (s *fakeSurface) last() (surfaceCall, bool) {
	calls := s.snapshot()
	if len(calls) == 0 {
		return surfaceCall{}, false
	}
	return calls[len(calls)-1], true
}

// stepExecutor reports every progress value it receives and finishes when steps is closed.
type stepExecutor struct {
	steps  chan task.Progress
	result chan error
}

func newStepExecutor() *stepExecutor {
	return &stepExecutor{steps: make(chan task.Progress), result: make(chan error, 1)}
}

func (e *stepExecutor) Execute(ctx context.Context, _ task.Kind, _ task.Payload, onProgress task.ProgressFunc) ([]task.File, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case p, ok := <-e.steps:
			if !ok {
				if err := <-e.result; nil != err {
					return nil, err
				}
				return []task.File{{Path: "/d/a.jpg", Name: "a.jpg", Kind: "photo", Size: 10}}, nil
			}
			if err := onProgress(p); nil != err {
				return nil, err
			}
		}
	}
}

func percent(p float64) task.Progress {
	return task.Progress{DownloadedBytes: 0, TotalBytes: 0, Percent: p, SpeedBytesPerSec: 0}
}

type harness struct {
	registry *task.Registry
	exec     *stepExecutor
	surface  *fakeSurface
	adapter  *progress.Adapter
}

func newHarness(t *testing.T, opts progress.Options) *harness {
	t.Helper()
	return newHarnessWith(t, opts, func(s *fakeSurface) progress.Surface { return s })
}

func newHarnessWith(t *testing.T, opts progress.Options, wrap func(*fakeSurface) progress.Surface) *harness {
	t.Helper()

	logger := zerolog.New(io.Discard)
	exec := newStepExecutor()
	registry := task.New(exec, task.Options{MaxRunning: 1, TTL: time.Hour, SweepInterval: time.Hour, Now: nil}, logger)
	surface := &fakeSurface{mux: sync.Mutex{}, calls: nil, renderErr: nil}
	adapter := progress.New(registry, wrap(surface), opts, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = adapter.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		registry.Close()
	})

	return &harness{registry: registry, exec: exec, surface: surface, adapter: adapter}
}

func (h *harness) create(t *testing.T) task.Record {
	t.Helper()
	return h.registry.Create(task.KindLinkDownload, task.Payload{Link: "https://t.me/chan/1", Message: nil}, "")
}

func rendered(calls []surfaceCall) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		if c.op == "render" {
			out = append(out, c.report.Bar)
		}
	}
	return out
}

func TestAdapterTrackRendersCurrentState(t *testing.T) {
	t.Parallel()

	h := newHarness(t, progress.Options{MinPercentStep: 5, MinInterval: time.Hour, Now: nil})
	// occupy the only slot so the tracked task stays pending
	blocker := h.create(t)
	rec := h.create(t)

	target := progress.Target{ChatID: 1, MessageID: 7}
	h.adapter.Track(rec.ID, target, progress.Meta{Title: "Album"})

	require.Eventually(t, func() bool {
		c, ok := h.surface.last()
		return ok && c.report.Status == "Queued"
	}, time.Second, 5*time.Millisecond)
	c, _ := h.surface.last()
	require.Equal(t, target, c.target)
	require.Equal(t, "Album", c.report.Title)
	require.True(t, h.adapter.Tracked(rec.ID))

	_, err := h.registry.Cancel(blocker.ID, "test")
	require.NoError(t, err)
}

func TestAdapterThrottlesRunningUpdates(t *testing.T) {
	t.Parallel()

	h := newHarness(t, progress.Options{MinPercentStep: 10, MinInterval: time.Hour, Now: nil})
	rec := h.create(t)
	h.adapter.Track(rec.ID, progress.Target{ChatID: 1, MessageID: 1}, progress.Meta{Title: ""})

	h.exec.steps <- percent(1)
	h.exec.steps <- percent(4)
	h.exec.steps <- percent(15)
	h.exec.steps <- percent(20)
	h.exec.steps <- percent(30)

	require.Eventually(t, func() bool {
		bars := rendered(h.surface.snapshot())
		return len(bars) > 0 && bars[len(bars)-1] == "[######--------------] 30.0%"
	}, time.Second, 5*time.Millisecond)

	bars := rendered(h.surface.snapshot())
	require.NotContains(t, bars, "[--------------------] 4.0%")
	require.NotContains(t, bars, "[####----------------] 20.0%")
	require.Contains(t, bars, "[###-----------------] 15.0%")
}

func TestAdapterFinalRenderDropsView(t *testing.T) {
	t.Parallel()

	h := newHarness(t, progress.Options{MinPercentStep: 1, MinInterval: time.Hour, Now: nil})
	rec := h.create(t)
	h.adapter.Track(rec.ID, progress.Target{ChatID: 1, MessageID: 1}, progress.Meta{Title: ""})

	h.exec.result <- nil
	close(h.exec.steps)

	require.Eventually(t, func() bool {
		c, ok := h.surface.last()
		return ok && c.report.Terminal
	}, time.Second, 5*time.Millisecond)
	c, _ := h.surface.last()
	require.Equal(t, "Completed", c.report.Status)
	require.Equal(t, []string{"a.jpg"}, c.report.Files)
	require.Eventually(t, func() bool { return !h.adapter.Tracked(rec.ID) }, time.Second, 5*time.Millisecond)
}

func TestAdapterFailureIsRendered(t *testing.T) {
	t.Parallel()

	h := newHarness(t, progress.Options{MinPercentStep: 1, MinInterval: time.Hour, Now: nil})
	rec := h.create(t)
	h.adapter.Track(rec.ID, progress.Target{ChatID: 1, MessageID: 1}, progress.Meta{Title: ""})

	h.exec.result <- errors.New("boom")
	close(h.exec.steps)

	require.Eventually(t, func() bool {
		c, ok := h.surface.last()
		return ok && c.report.Status == "Failed"
	}, time.Second, 5*time.Millisecond)
	c, _ := h.surface.last()
	require.NotEmpty(t, c.report.Error)
}

func TestAdapterCancelDeletesMessage(t *testing.T) {
	t.Parallel()

	h := newHarness(t, progress.Options{MinPercentStep: 1, MinInterval: time.Hour, Now: nil})
	rec := h.create(t)
	target := progress.Target{ChatID: 3, MessageID: 9}
	h.adapter.Track(rec.ID, target, progress.Meta{Title: ""})

	_, err := h.registry.Cancel(rec.ID, "user")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		c, ok := h.surface.last()
		return ok && c.op == "delete"
	}, time.Second, 5*time.Millisecond)
	c, _ := h.surface.last()
	require.Equal(t, target, c.target)
	require.False(t, h.adapter.Tracked(rec.ID))
}

func TestAdapterPauseResume(t *testing.T) {
	t.Parallel()

	h := newHarness(t, progress.Options{MinPercentStep: 1, MinInterval: time.Hour, Now: nil})
	rec := h.create(t)
	h.adapter.Track(rec.ID, progress.Target{ChatID: 1, MessageID: 1}, progress.Meta{Title: ""})
	h.exec.steps <- percent(5)
	require.Eventually(t, func() bool {
		c, ok := h.surface.last()
		return ok && c.report.Bar == "[#-------------------] 5.0%"
	}, time.Second, 5*time.Millisecond)

	require.True(t, h.adapter.Pause(rec.ID))
	h.exec.steps <- percent(50)
	h.exec.steps <- percent(60)

	// the executor consumed both steps, so the registry already published them
	h.exec.steps <- percent(60)
	c, _ := h.surface.last()
	require.Equal(t, "[#-------------------] 5.0%", c.report.Bar)

	require.True(t, h.adapter.Resume(rec.ID))
	require.Eventually(t, func() bool {
		c, ok := h.surface.last()
		return ok && c.report.Bar == "[############--------] 60.0%"
	}, time.Second, 5*time.Millisecond)

	require.False(t, h.adapter.Pause("missing"))
	require.False(t, h.adapter.Enqueue("missing", func(context.Context, progress.Target) {}))
	require.False(t, h.adapter.Resume("missing"))
}

func TestAdapterEnqueueRunsAfterRenders(t *testing.T) {
	t.Parallel()

	h := newHarness(t, progress.Options{MinPercentStep: 1, MinInterval: time.Hour, Now: nil})
	rec := h.create(t)
	target := progress.Target{ChatID: 5, MessageID: 6}
	h.adapter.Track(rec.ID, target, progress.Meta{Title: ""})

	type seen struct {
		target  progress.Target
		renders int
	}
	got := make(chan seen, 1)
	require.True(t, h.adapter.Enqueue(rec.ID, func(_ context.Context, tgt progress.Target) {
		got <- seen{target: tgt, renders: len(h.surface.snapshot())}
	}))
	select {
	case s := <-got:
		require.Equal(t, target, s.target)
		require.Positive(t, s.renders)
	case <-time.After(time.Second):
		require.FailNow(t, "queued operation did not run")
	}
}

func TestAdapterSurfaceErrorDoesNotStopRendering(t *testing.T) {
	t.Parallel()

	h := newHarness(t, progress.Options{MinPercentStep: 1, MinInterval: time.Hour, Now: nil})
	h.surface.mux.Lock()
	h.surface.renderErr = errors.New("message not modified")
	h.surface.mux.Unlock()

	rec := h.create(t)
	h.adapter.Track(rec.ID, progress.Target{ChatID: 1, MessageID: 1}, progress.Meta{Title: ""})
	h.exec.steps <- percent(40)

	require.Eventually(t, func() bool {
		c, ok := h.surface.last()
		return ok && c.report.Bar == "[########------------] 40.0%"
	}, time.Second, 5*time.Millisecond)
}

func TestAdapterTrackUnknownTask(t *testing.T) {
	t.Parallel()

	h := newHarness(t, progress.Options{MinPercentStep: 1, MinInterval: time.Hour, Now: nil})
	h.adapter.Track("missing", progress.Target{ChatID: 1, MessageID: 1}, progress.Meta{Title: ""})
	require.False(t, h.adapter.Tracked("missing"))
	require.Empty(t, h.surface.snapshot())
}

// gatedSurface blocks every render until gate is closed.
type gatedSurface struct {
	*fakeSurface
	started chan struct{}
	once    sync.Once
	gate    chan struct{}
}

func (s *gatedSurface) Render(ctx context.Context, target progress.Target, taskID string, report progress.Report) error {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.fakeSurface.Render(ctx, target, taskID, report)
}

func TestAdapterFinalRenderSkipsStaleRenders(t *testing.T) {
	t.Parallel()

	gated := &gatedSurface{fakeSurface: nil, started: make(chan struct{}), once: sync.Once{}, gate: make(chan struct{})}
	h := newHarnessWith(t, progress.Options{MinPercentStep: 1, MinInterval: time.Hour, Now: nil}, func(s *fakeSurface) progress.Surface {
		gated.fakeSurface = s
		return gated
	})
	rec := h.create(t)
	h.adapter.Track(rec.ID, progress.Target{ChatID: 1, MessageID: 1}, progress.Meta{Title: ""})

	select {
	case <-gated.started:
	case <-time.After(time.Second):
		require.FailNow(t, "initial render did not start")
	}

	for p := 2; p <= 98; p += 2 {
		h.exec.steps <- percent(float64(p))
	}
	h.exec.result <- nil
	close(h.exec.steps)

	// the view is dropped once the completion has been queued
	require.Eventually(t, func() bool { return !h.adapter.Tracked(rec.ID) }, time.Second, 5*time.Millisecond)
	close(gated.gate)

	require.Eventually(t, func() bool {
		c, ok := h.surface.last()
		return ok && c.report.Terminal
	}, time.Second, 5*time.Millisecond)

	calls := h.surface.snapshot()
	require.Len(t, calls, 2)
	require.False(t, calls[0].report.Terminal)
	require.Equal(t, "Completed", calls[1].report.Status)
}

func TestAdapterTrackAfterRunReturns(t *testing.T) {
	t.Parallel()

	logger := zerolog.New(io.Discard)
	exec := newStepExecutor()
	registry := task.New(exec, task.Options{MaxRunning: 1, TTL: time.Hour, SweepInterval: time.Hour, Now: nil}, logger)
	t.Cleanup(func() {
		exec.result <- nil
		close(exec.steps)
		registry.Close()
	})
	surface := &fakeSurface{mux: sync.Mutex{}, calls: nil, renderErr: nil}
	adapter := progress.New(registry, surface, progress.Options{MinPercentStep: 1, MinInterval: time.Hour, Now: nil}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, adapter.Run(ctx))

	rec := registry.Create(task.KindLinkDownload, task.Payload{Link: "https://t.me/chan/1", Message: nil}, "")
	adapter.Track(rec.ID, progress.Target{ChatID: 1, MessageID: 1}, progress.Meta{Title: ""})
	require.False(t, adapter.Tracked(rec.ID))
	require.False(t, adapter.Pause(rec.ID))
	require.Empty(t, surface.snapshot())
}
