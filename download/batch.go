package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/gotd/td/tg"
	"github.com/samber/lo"
	"github.com/xeptore/flaw/v8"
	"golang.org/x/sync/errgroup"

	"github.com/xeptore/tgmd/errutil"
	"github.com/xeptore/tgmd/must"
	"github.com/xeptore/tgmd/ratelimit"
)

// DownloadBatch downloads every eligible file of msgs into dir. The first failing file aborts the whole batch.
func (o *Orchestrator) DownloadBatch(ctx context.Context, msgs []*tg.Message, dir string, opts Options) (Result, error) {
	descriptors := make([]Descriptor, 0, len(msgs))
	for _, m := range msgs {
		d, ok := Classify(m)
		if !ok {
			continue
		}
		if len(opts.AllowedKinds) > 0 && !lo.Contains(opts.AllowedKinds, d.Kind) {
			continue
		}
		d.Index = len(descriptors)
		descriptors = append(descriptors, d)
	}
	if len(descriptors) == 0 {
		return Result{}, ErrNoDownloadableContent //nolint:exhaustruct
	}

	if err := os.MkdirAll(dir, 0o0755); nil != err {
		flawP := flaw.P{"dir": dir, "err_debug_tree": errutil.Tree(err).FlawP()}
		return Result{}, flaw.From(fmt.Errorf("failed to create download directory: %v", err)).Append(flawP) //nolint:exhaustruct
	}

	var (
		n        = len(descriptors)
		paths    = make([]string, n)
		partSize = ratelimit.PartSize(opts.PartSizeKB)
		agg      = newAggregator(descriptors, opts.OnProgress, o.now)
		cursor   atomic.Int64
		workers  = ratelimit.AlbumWorkers(n, opts.Concurrency)
	)
	o.logger.Debug().Int("files", n).Int("workers", workers).Int("part_size", partSize).Msg("Starting batch download")

	wg, wgCtx := errgroup.WithContext(ctx)
	for range workers {
		wg.Go(func() error {
			for {
				i := int(cursor.Add(1) - 1)
				if i >= n {
					return nil
				}
				if err := wgCtx.Err(); nil != err {
					return err
				}
				path, err := o.downloadOne(wgCtx, descriptors[i], dir, partSize, agg)
				if nil != err {
					return err
				}
				paths[i] = path
			}
		})
	}

	if err := wg.Wait(); nil != err {
		flawP := flaw.P{"files": n, "dir": dir}
		switch {
		case errutil.IsContext(ctx):
			return Result{}, context.Cause(ctx) //nolint:exhaustruct
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return Result{}, err //nolint:exhaustruct
		case errutil.IsFlaw(err):
			return Result{}, must.BeFlaw(err, flawP) //nolint:exhaustruct
		default:
			return Result{}, err //nolint:exhaustruct
		}
	}

	o.logger.Debug().Int("files", n).Int64("bytes", agg.snapshot().DownloadedBytes).Msg("Batch download finished")
	return Result{Paths: paths, Descriptors: descriptors}, nil
}
