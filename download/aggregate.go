package download

import (
	"sync"
	"time"

	"github.com/xeptore/tgmd/mathutil"
)

type Progress struct {
	DownloadedBytes  int64
	TotalBytes       int64
	Percent          float64
	SpeedBytesPerSec float64
}

type ProgressFunc func(Progress) error

type slot struct {
	declared   int64
	downloaded int64
	speed      float64
	done       bool
	lastAt     time.Time
	lastBytes  int64
}

// aggregator folds per-file progress into one task level figure.
type aggregator struct {
	mux        sync.Mutex
	slots      []slot
	onProgress ProgressFunc
	now        func() time.Time
}

func newAggregator(descriptors []Descriptor, onProgress ProgressFunc, now func() time.Time) *aggregator {
	slots := make([]slot, len(descriptors))
	for i, d := range descriptors {
		slots[i].declared = max(d.Size, 0)
	}
	return &aggregator{
		mux:        sync.Mutex{},
		slots:      slots,
		onProgress: onProgress,
		now:        now,
	}
}

func (a *aggregator) start(i int) {
	a.mux.Lock()
	defer a.mux.Unlock()
	a.slots[i].lastAt = a.now()
}

// update records that file i has downloaded bytes so far and emits the aggregate.
func (a *aggregator) update(i int, downloaded int64) error {
	a.mux.Lock()
	defer a.mux.Unlock()

	s := &a.slots[i]
	if downloaded < s.downloaded {
		downloaded = s.downloaded
	}
	now := a.now()
	if dt := now.Sub(s.lastAt).Seconds(); dt > 0 && !s.lastAt.IsZero() {
		s.speed = float64(downloaded-s.lastBytes) / dt
		s.lastAt, s.lastBytes = now, downloaded
	} else if s.lastAt.IsZero() {
		s.lastAt, s.lastBytes = now, downloaded
	}
	s.downloaded = downloaded
	return a.emitLocked()
}

func (a *aggregator) finish(i int) error {
	a.mux.Lock()
	defer a.mux.Unlock()

	s := &a.slots[i]
	s.done = true
	s.speed = 0
	return a.emitLocked()
}

func (a *aggregator) snapshot() Progress {
	a.mux.Lock()
	defer a.mux.Unlock()
	return a.computeLocked()
}

func (a *aggregator) emitLocked() error {
	if nil == a.onProgress {
		return nil
	}
	return a.onProgress(a.computeLocked())
}

func (a *aggregator) computeLocked() Progress {
	var (
		out         Progress
		anyDeclared bool
	)
	for _, s := range a.slots {
		out.DownloadedBytes += s.downloaded
		out.SpeedBytesPerSec += s.speed
		if s.declared > 0 {
			anyDeclared = true
		}
	}

	if anyDeclared {
		for _, s := range a.slots {
			out.TotalBytes += max(s.declared, s.downloaded)
		}
		out.Percent = mathutil.Percent(out.DownloadedBytes, out.TotalBytes)
		return out
	}

	var sum float64
	for _, s := range a.slots {
		out.TotalBytes += s.downloaded
		if s.done {
			sum += 100
		}
	}
	if len(a.slots) > 0 {
		out.Percent = sum / float64(len(a.slots))
	}
	return out
}
