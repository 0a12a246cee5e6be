package task_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xeptore/tgmd/task"
)

type outcome struct {
	files []task.File
	err   error
}

// gateExecutor blocks every execution until the test releases it by link.
type gateExecutor struct {
	mux         sync.Mutex
	gates       map[string]chan outcome
	started     chan string
	ignoreCtx   bool
	progress    []task.Progress
	progressErr chan error
}

func newGateExecutor() *gateExecutor {
	return &gateExecutor{
		mux:         sync.Mutex{},
		gates:       make(map[string]chan outcome),
		started:     make(chan string, 100),
		ignoreCtx:   false,
		progress:    nil,
		progressErr: make(chan error, 100),
	}
}

func (g *gateExecutor) gate(link string) chan outcome {
	g.mux.Lock()
	defer g.mux.Unlock()
	ch, ok := g.gates[link]
	if !ok {
		ch = make(chan outcome, 1)
		g.gates[link] = ch
	}
	return ch
}

func (g *gateExecutor) release(link string, files []task.File, err error) {
	g.gate(link) <- outcome{files: files, err: err}
}

func (g *gateExecutor) Execute(ctx context.Context, _ task.Kind, payload task.Payload, onProgress task.ProgressFunc) ([]task.File, error) {
	g.started <- payload.Link
	for _, p := range g.progress {
		if err := onProgress(p); nil != err {
			g.progressErr <- err
			return nil, err
		}
	}
	if g.ignoreCtx {
		o := <-g.gate(payload.Link)
		return o.files, o.err
	}
	select {
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case o := <-g.gate(payload.Link):
		return o.files, o.err
	}
}

type fakeClock struct {
	now atomic.Int64
}

func newFakeClock() *fakeClock {
	c := new(fakeClock)
	c.now.Store(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	return c
}

func (c *fakeClock) Now() time.Time {
	return time.Unix(0, c.now.Load()).UTC()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now.Add(int64(d))
}

func countByStatus(records []task.Record) map[task.Status]int {
	out := make(map[task.Status]int)
	for _, r := range records {
		out[r.Status]++
	}
	return out
}

type panicExecutor struct{}

func (panicExecutor) Execute(context.Context, task.Kind, task.Payload, task.ProgressFunc) ([]task.File, error) {
	panic("boom")
}

// cancelProbeExecutor reports progress only after the test signals that the task was canceled.
type cancelProbeExecutor struct {
	canceled chan struct{}
	observed chan error
}

func (e *cancelProbeExecutor) Execute(_ context.Context, _ task.Kind, _ task.Payload, onProgress task.ProgressFunc) ([]task.File, error) {
	<-e.canceled
	err := onProgress(task.Progress{DownloadedBytes: 1, TotalBytes: 2, Percent: 50, SpeedBytesPerSec: 1})
	e.observed <- err
	return nil, err
}
