package progress

import (
	"context"
	"sync"
	"time"

	"github.com/xeptore/tgmd/task"
)

type view struct {
	taskID string
	target Target
	meta   Meta

	rendered    bool
	lastStatus  task.Status
	lastPercent float64
	lastRender  time.Time
	paused      bool
	last        task.Record
	hasLast     bool

	queue *opQueue
}

func newView(taskID string, target Target, meta Meta) *view {
	return &view{
		taskID:      taskID,
		target:      target,
		meta:        meta,
		rendered:    false,
		lastStatus:  "",
		lastPercent: 0,
		lastRender:  time.Time{},
		paused:      false,
		last:        task.Record{}, //nolint:exhaustruct
		hasLast:     false,
		queue:       newOpQueue(),
	}
}

func (v *view) markRendered(rec task.Record, now time.Time) {
	v.rendered = true
	v.lastStatus = rec.Status
	v.lastPercent = rec.Progress.Percent
	v.lastRender = now
}

// opQueue runs operations one at a time in push order. A pending render is replaced by a newer
// render pushed right behind it and discarded when a final operation is pushed.
type opQueue struct {
	mux    sync.Mutex
	ops    []queuedOp
	closed bool
	notify chan struct{}
}

type queuedOp struct {
	run    func(context.Context)
	render bool
}

func newOpQueue() *opQueue {
	return &opQueue{
		mux:    sync.Mutex{},
		ops:    nil,
		closed: false,
		notify: make(chan struct{}, 1),
	}
}

// push appends an operation that always runs.
func (q *opQueue) push(op func(context.Context)) {
	q.enqueue(func(ops []queuedOp) []queuedOp {
		return append(ops, queuedOp{run: op, render: false})
	})
}

func (q *opQueue) pushRender(op func(context.Context)) {
	q.enqueue(func(ops []queuedOp) []queuedOp {
		if n := len(ops); n > 0 && ops[n-1].render {
			ops[n-1].run = op
			return ops
		}
		return append(ops, queuedOp{run: op, render: true})
	})
}

// pushFinal drops every pending render and appends op.
func (q *opQueue) pushFinal(op func(context.Context)) {
	q.enqueue(func(ops []queuedOp) []queuedOp {
		kept := ops[:0]
		for _, o := range ops {
			if !o.render {
				kept = append(kept, o)
			}
		}
		clear(ops[len(kept):])
		return append(kept, queuedOp{run: op, render: false})
	})
}

func (q *opQueue) enqueue(fn func([]queuedOp) []queuedOp) {
	q.mux.Lock()
	if q.closed {
		q.mux.Unlock()
		return
	}
	q.ops = fn(q.ops)
	q.mux.Unlock()
	q.signal()
}

func (q *opQueue) pending() int {
	q.mux.Lock()
	defer q.mux.Unlock()
	return len(q.ops)
}

// close lets the queue drain what is already pushed and then stop.
func (q *opQueue) close() {
	q.mux.Lock()
	q.closed = true
	q.mux.Unlock()
	q.signal()
}

func (q *opQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *opQueue) drain(ctx context.Context) {
	for {
		q.mux.Lock()
		if len(q.ops) == 0 {
			closed := q.closed
			q.mux.Unlock()
			if closed {
				return
			}
			select {
			case <-q.notify:
				continue
			case <-ctx.Done():
				return
			}
		}
		op := q.ops[0]
		q.ops[0] = queuedOp{run: nil, render: false}
		q.ops = q.ops[1:]
		q.mux.Unlock()
		op.run(ctx)
	}
}
