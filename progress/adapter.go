package progress

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/xeptore/tgmd/errutil"
	"github.com/xeptore/tgmd/log"
	"github.com/xeptore/tgmd/task"
)

// Target identifies the rendered message of a task on a chat surface.
type Target struct {
	ChatID    int64
	MessageID int
}

// Surface renders task reports. Calls for the same target are never concurrent.
type Surface interface {
	Render(ctx context.Context, target Target, taskID string, report Report) error
	Delete(ctx context.Context, target Target) error
}

type Source interface {
	Subscribe() *task.Subscription
	Get(id string) (task.Record, error)
}

type Options struct {
	MinPercentStep float64
	MinInterval    time.Duration
	Now            func() time.Time
}

type Adapter struct {
	source  Source
	sub     *task.Subscription
	surface Surface
	opts    Options
	logger  zerolog.Logger

	mux     sync.Mutex
	views   map[string]*view
	ctx     context.Context
	stopped bool
	wg      sync.WaitGroup
}

func New(source Source, surface Surface, opts Options, logger zerolog.Logger) *Adapter {
	if nil == opts.Now {
		opts.Now = time.Now
	}
	return &Adapter{
		source:  source,
		sub:     source.Subscribe(),
		surface: surface,
		opts:    opts,
		logger:  logger,
		mux:     sync.Mutex{},
		views:   make(map[string]*view),
		ctx:     context.Background(),
		stopped: false,
		wg:      sync.WaitGroup{},
	}
}

// Run consumes task events, subscribed to since New, until ctx is done, then waits for queued renders to drain.
func (a *Adapter) Run(ctx context.Context) error {
	a.mux.Lock()
	a.ctx = ctx
	a.mux.Unlock()

	sub := a.sub
	defer sub.Close()
	defer a.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			a.stop()
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				a.stop()
				return nil
			}
			switch ev.Type {
			case task.EventUpsert:
				a.onUpsert(*ev.Task)
			case task.EventRemove:
				a.drop(ev.ID)
			}
		}
	}
}

// Track attaches a rendered message to a task and renders its current state.
// It does nothing once Run has begun shutting down.
func (a *Adapter) Track(taskID string, target Target, meta Meta) {
	a.mux.Lock()
	if a.stopped {
		a.mux.Unlock()
		a.logger.Debug().Str("task_id", taskID).Msg("Progress adapter is stopped, not tracking task")
		return
	}
	if old, ok := a.views[taskID]; ok {
		old.queue.close()
	}
	v := newView(taskID, target, meta)
	a.views[taskID] = v
	a.startLocked(v)
	a.mux.Unlock()

	rec, err := a.source.Get(taskID)
	if nil != err {
		a.logger.Warn().Err(err).Str("task_id", taskID).Msg("Tracked task is not available")
		a.drop(taskID)
		return
	}
	a.apply(rec, true)
}

// Pause freezes rendering of an active task. It reports whether the task is tracked.
func (a *Adapter) Pause(taskID string) bool {
	a.mux.Lock()
	defer a.mux.Unlock()
	v, ok := a.views[taskID]
	if !ok {
		return false
	}
	v.paused = true
	return true
}

// Resume unfreezes rendering and immediately renders the latest known state.
func (a *Adapter) Resume(taskID string) bool {
	a.mux.Lock()
	v, ok := a.views[taskID]
	if !ok {
		a.mux.Unlock()
		return false
	}
	v.paused = false
	last, hasLast := v.last, v.hasLast
	a.mux.Unlock()

	if hasLast {
		a.apply(last, true)
	}
	return true
}

// Enqueue runs op on the view's operation queue after any pending render of the task.
func (a *Adapter) Enqueue(taskID string, op func(ctx context.Context, target Target)) bool {
	a.mux.Lock()
	defer a.mux.Unlock()
	v, ok := a.views[taskID]
	if !ok {
		return false
	}
	v.queue.push(func(ctx context.Context) { op(ctx, v.target) })
	return true
}

func (a *Adapter) onUpsert(rec task.Record) {
	a.apply(rec, false)
}

func (a *Adapter) apply(rec task.Record, force bool) {
	a.mux.Lock()
	defer a.mux.Unlock()

	v, ok := a.views[rec.ID]
	if !ok {
		return
	}
	if v.hasLast && rec.UpdatedAt.Before(v.last.UpdatedAt) {
		return
	}
	v.last, v.hasLast = rec, true

	if v.paused && rec.Status.IsActive() {
		return
	}

	now := a.opts.Now()
	switch decide(v, rec, now, a.opts, force) {
	case actionSkip:
	case actionRender:
		v.markRendered(rec, now)
		report := Render(rec, v.meta)
		v.queue.pushRender(func(ctx context.Context) { a.render(ctx, v, report) })
	case actionFinal:
		v.markRendered(rec, now)
		report := Render(rec, v.meta)
		v.queue.pushFinal(func(ctx context.Context) { a.render(ctx, v, report) })
		a.dropLocked(rec.ID)
	case actionDelete:
		v.queue.pushFinal(func(ctx context.Context) { a.delete(ctx, v) })
		a.dropLocked(rec.ID)
	}
}

type action int

const (
	actionSkip action = iota
	actionRender
	actionFinal
	actionDelete
)

func decide(v *view, rec task.Record, now time.Time, opts Options, force bool) action {
	switch rec.Status {
	case task.StatusCanceled:
		return actionDelete
	case task.StatusCompleted, task.StatusFailed:
		return actionFinal
	case task.StatusPending, task.StatusRunning:
	}

	switch {
	case force, !v.rendered, rec.Status != v.lastStatus:
		return actionRender
	case rec.Status == task.StatusRunning &&
		(rec.Progress.Percent-v.lastPercent >= opts.MinPercentStep || now.Sub(v.lastRender) >= opts.MinInterval):
		return actionRender
	default:
		return actionSkip
	}
}

func (a *Adapter) render(ctx context.Context, v *view, report Report) {
	if err := a.surface.Render(ctx, v.target, v.taskID, report); nil != err {
		if errutil.IsContext(ctx) {
			return
		}
		a.logger.Error().Func(log.Flaw(err)).Str("task_id", v.taskID).Msg("Failed to render task progress")
	}
}

func (a *Adapter) delete(ctx context.Context, v *view) {
	if err := a.surface.Delete(ctx, v.target); nil != err {
		if errutil.IsContext(ctx) {
			return
		}
		a.logger.Warn().Func(log.Flaw(err)).Str("task_id", v.taskID).Msg("Failed to delete progress message of canceled task")
	}
}

func (a *Adapter) startLocked(v *view) {
	ctx := a.ctx
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer log.Recover(a.logger, "Progress view queue panicked")
		v.queue.drain(ctx)
	}()
}

func (a *Adapter) drop(taskID string) {
	a.mux.Lock()
	defer a.mux.Unlock()
	a.dropLocked(taskID)
}

// dropLocked forgets the view. Already queued operations still run.
func (a *Adapter) dropLocked(taskID string) {
	if v, ok := a.views[taskID]; ok {
		v.queue.close()
		delete(a.views, taskID)
	}
}

// stop forgets every view and refuses new ones, so no queue goroutine starts after Run waits for them.
func (a *Adapter) stop() {
	a.mux.Lock()
	defer a.mux.Unlock()
	a.stopped = true
	for id := range a.views {
		a.dropLocked(id)
	}
}

// Tracked reports whether a view exists for the task.
func (a *Adapter) Tracked(taskID string) bool {
	a.mux.Lock()
	defer a.mux.Unlock()
	_, ok := a.views[taskID]
	return ok
}
