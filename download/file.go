package download

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/tgmd/errutil"
	"github.com/xeptore/tgmd/must"
)

// progressWriter counts written bytes and stops the transfer once the progress callback fails.
type progressWriter struct {
	f           *os.File
	index       int
	written     int64
	agg         *aggregator
	callbackErr error
}

func (w *progressWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.written += int64(n)
	if nil != err {
		return n, err
	}
	if err := w.agg.update(w.index, w.written); nil != err {
		w.callbackErr = err
		return n, err
	}
	return n, nil
}

func (o *Orchestrator) downloadOne(ctx context.Context, d Descriptor, dir string, partSize int, agg *aggregator) (path string, err error) {
	flawP := flaw.P{"message_id": d.MessageID, "kind": string(d.Kind), "index": d.Index}
	f, path, err := createExclusive(dir, fileName(d.Name, d.Kind, d.MimeType, o.now()))
	if nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return "", flaw.From(fmt.Errorf("failed to create output file: %v", err)).Append(flawP)
	}
	flawP["path"] = path

	closed := false
	defer func() {
		if !closed {
			if closeErr := f.Close(); nil != closeErr && nil == err {
				flawP := flaw.P{"err_debug_tree": errutil.Tree(closeErr).FlawP()}
				err = flaw.From(fmt.Errorf("failed to close output file: %v", closeErr)).Append(flawP)
			}
		}
		if nil != err {
			if removeErr := os.Remove(path); nil != removeErr && !errors.Is(removeErr, os.ErrNotExist) {
				o.logger.Error().Err(removeErr).Str("path", path).Msg("Failed to remove partially downloaded file")
			}
		}
	}()

	agg.start(d.Index)
	w := &progressWriter{f: f, index: d.Index, written: 0, agg: agg, callbackErr: nil}

	if nil != d.photo {
		choice, err := selectPhotoSize(d.photo.Sizes)
		if nil != err {
			return "", err
		}
		if nil != choice.Inline {
			if _, err := w.Write(choice.Inline); nil != err {
				return "", o.fileError(ctx, w, err, "failed to write inline photo", flawP)
			}
		} else if err := o.transport.Download(ctx, Location{DC: d.dc, File: d.location(choice.Type)}, partSize, w); nil != err {
			return "", o.fileError(ctx, w, err, "failed to download photo", flawP)
		}
	} else if err := o.transport.Download(ctx, Location{DC: d.dc, File: d.location("")}, partSize, w); nil != err {
		return "", o.fileError(ctx, w, err, "failed to download document", flawP)
	}

	closed = true
	if err := f.Close(); nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return "", flaw.From(fmt.Errorf("failed to close output file: %v", err)).Append(flawP)
	}

	if err := agg.finish(d.Index); nil != err {
		return "", err
	}
	return path, nil
}

func (o *Orchestrator) fileError(ctx context.Context, w *progressWriter, err error, msg string, flawP flaw.P) error {
	switch {
	case nil != w.callbackErr:
		return w.callbackErr
	case errutil.IsContext(ctx):
		return context.Cause(ctx)
	case errors.Is(err, context.DeadlineExceeded):
		return context.DeadlineExceeded
	case errutil.IsFlaw(err):
		return must.BeFlaw(err, flawP)
	default:
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("%s: %v", msg, err)).Append(flawP)
	}
}
