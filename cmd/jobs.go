package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/samber/lo"

	"github.com/xeptore/tgmd/download"
	"github.com/xeptore/tgmd/source"
	"github.com/xeptore/tgmd/task"
)

type orchestrator interface {
	DownloadFromLink(ctx context.Context, link, dir string, opts download.Options) (download.Result, error)
	DownloadFromChatMessage(ctx context.Context, in *source.Inbound, dir string, opts download.Options) (download.Result, error)
}

// executor runs registry tasks on the download orchestrator.
type executor struct {
	orchestrator orchestrator
	dir          string
	allowedKinds []download.Kind
	concurrency  int
	partSizeKB   int
}

func newExecutor(o orchestrator, dir string, allowedKinds []string, concurrency, partSizeKB int) *executor {
	return &executor{
		orchestrator: o,
		dir:          dir,
		allowedKinds: lo.Map(allowedKinds, func(k string, _ int) download.Kind { return download.Kind(k) }),
		concurrency:  concurrency,
		partSizeKB:   partSizeKB,
	}
}

func (e *executor) Execute(ctx context.Context, kind task.Kind, payload task.Payload, onProgress task.ProgressFunc) ([]task.File, error) {
	opts := download.Options{
		AllowedKinds: e.allowedKinds,
		Concurrency:  e.concurrency,
		PartSizeKB:   e.partSizeKB,
		OnProgress:   func(p download.Progress) error { return onProgress(task.Progress(p)) },
	}

	var (
		res download.Result
		err error
	)
	switch kind {
	case task.KindLinkDownload:
		res, err = e.orchestrator.DownloadFromLink(ctx, payload.Link, e.dir, opts)
	case task.KindMessageDownload:
		if nil == payload.Message {
			return nil, task.ErrPayloadMissing
		}
		res, err = e.orchestrator.DownloadFromChatMessage(ctx, payload.Message, e.dir, opts)
	default:
		panic("unexpected task kind: " + string(kind))
	}
	if nil != err {
		return nil, err
	}
	return files(res), nil
}

func files(res download.Result) []task.File {
	out := make([]task.File, 0, len(res.Paths))
	for i, p := range res.Paths {
		d := res.Descriptors[i]
		size := d.Size
		if info, err := os.Stat(p); nil == err {
			size = info.Size()
		}
		out = append(out, task.File{Path: p, Name: filepath.Base(p), Kind: string(d.Kind), Size: size})
	}
	return out
}
