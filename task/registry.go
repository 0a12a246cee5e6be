package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/tgmd/errutil"
	"github.com/xeptore/tgmd/log"
)

// maxRunningPercent keeps a running task visibly below completion.
const maxRunningPercent = 99

type ProgressFunc func(Progress) error

// Executor performs the work of a single task. It must stop when ctx is done or onProgress returns an error.
type Executor interface {
	Execute(ctx context.Context, kind Kind, payload Payload, onProgress ProgressFunc) ([]File, error)
}

type Options struct {
	MaxRunning    int
	TTL           time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
}

type Registry struct {
	executor Executor
	opts     Options
	bus      *Bus
	logger   zerolog.Logger

	mux      sync.Mutex
	records  map[string]*Record
	order    []string
	payloads map[string]Payload
	cancels  map[string]context.CancelCauseFunc
	running  int

	baseCtx   context.Context
	stop      context.CancelFunc
	inflight  sync.WaitGroup
	sweepDone chan struct{}
}

func New(executor Executor, opts Options, logger zerolog.Logger) *Registry {
	if opts.MaxRunning < 1 {
		opts.MaxRunning = 1
	}
	if nil == opts.Now {
		opts.Now = time.Now
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &Registry{
		executor:  executor,
		opts:      opts,
		bus:       NewBus(),
		logger:    logger,
		mux:       sync.Mutex{},
		records:   make(map[string]*Record),
		order:     nil,
		payloads:  make(map[string]Payload),
		cancels:   make(map[string]context.CancelCauseFunc),
		running:   0,
		baseCtx:   baseCtx,
		stop:      stop,
		inflight:  sync.WaitGroup{},
		sweepDone: nil,
	}
}

// Start runs the periodic sweep until ctx is done or Close is called.
func (r *Registry) Start(ctx context.Context) {
	if r.opts.SweepInterval <= 0 {
		return
	}
	r.sweepDone = make(chan struct{})
	go func() {
		defer close(r.sweepDone)
		ticker := time.NewTicker(r.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.baseCtx.Done():
				return
			case <-ticker.C:
				r.mux.Lock()
				r.sweepLocked()
				r.mux.Unlock()
			}
		}
	}()
}

// Close aborts running executions and waits for them to return.
func (r *Registry) Close() {
	r.stop()
	if nil != r.sweepDone {
		<-r.sweepDone
	}
	r.inflight.Wait()
}

func (r *Registry) Subscribe() *Subscription {
	return r.bus.Subscribe()
}

func (r *Registry) SubscribeFunc(fn func(Event)) func() {
	return r.bus.SubscribeFunc(fn)
}

func (r *Registry) Create(kind Kind, payload Payload, sourceKey string) Record {
	r.mux.Lock()
	defer r.mux.Unlock()

	now := r.opts.Now()
	rec := &Record{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Kind:      kind,
		Status:    StatusPending,
		Title:     payload.title(),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: nil,
		Progress:  Progress{DownloadedBytes: 0, TotalBytes: 0, Percent: 0, SpeedBytesPerSec: 0},
		SourceKey: sourceKey,
		Result:    nil,
	}
	r.records[rec.ID] = rec
	r.order = append(r.order, rec.ID)
	r.payloads[rec.ID] = payload
	r.emitUpsertLocked(rec)

	out := rec.Clone()
	r.admitLocked()
	return out
}

func (r *Registry) FindActiveBySourceKey(key string) (Record, bool) {
	if key == "" {
		return Record{}, false //nolint:exhaustruct
	}

	r.mux.Lock()
	defer r.mux.Unlock()
	for _, id := range r.order {
		if rec := r.records[id]; rec.SourceKey == key && rec.Status.IsActive() {
			return rec.Clone(), true
		}
	}
	return Record{}, false //nolint:exhaustruct
}

func (r *Registry) Get(id string) (Record, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.sweepLocked()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, ErrNotFound //nolint:exhaustruct
	}
	return rec.Clone(), nil
}

// List returns all records in creation order.
func (r *Registry) List() []Record {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.sweepLocked()
	out := make([]Record, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.records[id].Clone())
	}
	return out
}

func (r *Registry) Cancel(id, reason string) (Record, error) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.sweepLocked()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, ErrNotFound //nolint:exhaustruct
	}
	switch rec.Status {
	case StatusCompleted, StatusFailed:
		return rec.Clone(), ErrAlreadyFinished
	case StatusCanceled:
		return rec.Clone(), nil
	case StatusPending, StatusRunning:
	}

	r.cancelLocked(rec, reason)
	return rec.Clone(), nil
}

// CancelAllBySourcePrefix cancels every active task whose source key starts with prefix and returns how many were canceled.
func (r *Registry) CancelAllBySourcePrefix(prefix, reason string) int {
	r.mux.Lock()
	defer r.mux.Unlock()

	count := 0
	for _, id := range r.order {
		rec := r.records[id]
		if rec.SourceKey == "" || !strings.HasPrefix(rec.SourceKey, prefix) || !rec.Status.IsActive() {
			continue
		}
		r.cancelLocked(rec, reason)
		count++
	}
	return count
}

func (r *Registry) cancelLocked(rec *Record, reason string) {
	wasPending := rec.Status == StatusPending
	now := r.opts.Now()
	expiresAt := now.Add(r.opts.TTL)
	rec.Status = StatusCanceled
	rec.Result = &Result{Files: nil, Error: reason}
	rec.ExpiresAt = &expiresAt
	rec.UpdatedAt = now
	r.emitUpsertLocked(rec)

	if cancel, ok := r.cancels[rec.ID]; ok {
		cancel(ErrCanceled)
	}
	if wasPending {
		delete(r.payloads, rec.ID)
		r.admitLocked()
	}
}

func (r *Registry) admitLocked() {
	for r.running < r.opts.MaxRunning {
		rec, ok := r.nextPendingLocked()
		if !ok {
			return
		}

		payload, ok := r.payloads[rec.ID]
		if !ok {
			r.logger.Error().Str("task_id", rec.ID).Msg("Pending task has no payload")
			r.finishLocked(rec, StatusFailed, &Result{Files: nil, Error: ErrPayloadMissing.Error()})
			continue
		}
		delete(r.payloads, rec.ID)

		rec.Status = StatusRunning
		rec.UpdatedAt = r.opts.Now()
		r.emitUpsertLocked(rec)

		ctx, cancel := context.WithCancelCause(r.baseCtx)
		r.cancels[rec.ID] = cancel
		r.running++
		r.inflight.Add(1)
		go r.execute(ctx, rec.ID, rec.Kind, payload)
	}
}

func (r *Registry) nextPendingLocked() (*Record, bool) {
	for _, id := range r.order {
		if rec := r.records[id]; rec.Status == StatusPending {
			return rec, true
		}
	}
	return nil, false
}

func (r *Registry) execute(ctx context.Context, id string, kind Kind, payload Payload) {
	defer r.inflight.Done()
	logger := r.logger.With().Str("task_id", id).Str("kind", string(kind)).Logger()

	files, err := r.runExecutor(ctx, kind, payload, func(p Progress) error { return r.reportProgress(id, p) })

	r.mux.Lock()
	defer r.mux.Unlock()

	if cancel, ok := r.cancels[id]; ok {
		cancel(nil)
		delete(r.cancels, id)
	}
	delete(r.payloads, id)
	r.running--
	defer r.admitLocked()

	rec, ok := r.records[id]
	if !ok {
		return
	}

	if rec.Status == StatusCanceled {
		logger.Info().Msg("Task finished after it was canceled")
		rec.UpdatedAt = r.opts.Now()
		r.emitUpsertLocked(rec)
		return
	}

	if nil != err {
		switch {
		case errors.Is(err, ErrCanceled), errors.Is(context.Cause(ctx), ErrCanceled):
			logger.Warn().Msg("Task was aborted without being marked canceled")
		case errutil.IsFlaw(err):
			logger.Error().Func(log.Flaw(err)).Msg("Task failed")
		default:
			logger.Error().Err(err).Msg("Task failed")
		}
		r.finishLocked(rec, StatusFailed, &Result{Files: nil, Error: errutil.Describe(err)})
		return
	}

	logger.Info().Int("files", len(files)).Msg("Task completed")
	rec.Progress.Percent = 100
	if rec.Progress.TotalBytes > 0 {
		rec.Progress.DownloadedBytes = rec.Progress.TotalBytes
	}
	rec.Progress.SpeedBytesPerSec = 0
	r.finishLocked(rec, StatusCompleted, &Result{Files: files, Error: ""})
}

func (r *Registry) runExecutor(ctx context.Context, kind Kind, payload Payload, onProgress ProgressFunc) (files []File, err error) {
	defer func() {
		if v := recover(); nil != v {
			r.logger.Error().Func(log.Panic(v)).Msg("Task executor panicked")
			err = flaw.From(fmt.Errorf("task executor panicked: %v", v))
		}
	}()
	return r.executor.Execute(ctx, kind, payload, onProgress)
}

func (r *Registry) reportProgress(id string, p Progress) error {
	r.mux.Lock()
	defer r.mux.Unlock()

	rec, ok := r.records[id]
	if !ok || rec.Status == StatusCanceled {
		return ErrCanceled
	}
	if rec.Status != StatusRunning {
		return nil
	}

	p.Percent = min(max(p.Percent, 0), maxRunningPercent)
	rec.Progress = p
	rec.UpdatedAt = r.opts.Now()
	r.emitUpsertLocked(rec)
	return nil
}

func (r *Registry) finishLocked(rec *Record, status Status, result *Result) {
	now := r.opts.Now()
	expiresAt := now.Add(r.opts.TTL)
	rec.Status = status
	rec.Result = result
	rec.ExpiresAt = &expiresAt
	rec.UpdatedAt = now
	r.emitUpsertLocked(rec)
}

func (r *Registry) sweepLocked() {
	now := r.opts.Now()
	kept := r.order[:0]
	for _, id := range r.order {
		rec := r.records[id]
		if rec.Status.IsTerminal() && nil != rec.ExpiresAt && !now.Before(*rec.ExpiresAt) {
			delete(r.records, id)
			delete(r.payloads, id)
			r.bus.publish(Event{Type: EventRemove, ID: id, Task: nil})
			continue
		}
		kept = append(kept, id)
	}
	clear(r.order[len(kept):])
	r.order = kept
}

func (r *Registry) emitUpsertLocked(rec *Record) {
	r.bus.publish(Event{Type: EventUpsert, ID: rec.ID, Task: rec})
}
