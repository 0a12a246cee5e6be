package download

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"github.com/xeptore/tgmd/source"
)

var ErrNoDownloadableContent = errors.New("no downloadable content")

// Location addresses a remote file on a specific data center.
type Location struct {
	DC   int
	File tg.InputFileLocationClass
}

// Transport streams a remote file into w in parts of partSize bytes. An error returned by w aborts the transfer.
type Transport interface {
	Download(ctx context.Context, loc Location, partSize int, w io.Writer) error
}

type SourceResolver interface {
	FromLink(ctx context.Context, link string) (source.Seed, error)
	FromInbound(ctx context.Context, in *source.Inbound) (source.Seed, error)
	ResolveBatch(ctx context.Context, seed source.Seed) []*tg.Message
}

type Options struct {
	AllowedKinds []Kind
	Concurrency  int
	PartSizeKB   int
	OnProgress   ProgressFunc
}

// Result pairs every downloaded path with the descriptor it was downloaded from.
type Result struct {
	Paths       []string
	Descriptors []Descriptor
}

type Orchestrator struct {
	transport Transport
	resolver  SourceResolver
	logger    zerolog.Logger
	now       func() time.Time
}

func NewOrchestrator(transport Transport, resolver SourceResolver, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		transport: transport,
		resolver:  resolver,
		logger:    logger,
		now:       time.Now,
	}
}

func (o *Orchestrator) DownloadFromLink(ctx context.Context, link, dir string, opts Options) (Result, error) {
	seed, err := o.resolver.FromLink(ctx, link)
	if nil != err {
		return Result{}, err //nolint:exhaustruct
	}
	return o.DownloadBatch(ctx, o.resolver.ResolveBatch(ctx, seed), dir, opts)
}

func (o *Orchestrator) DownloadFromChatMessage(ctx context.Context, in *source.Inbound, dir string, opts Options) (Result, error) {
	seed, err := o.resolver.FromInbound(ctx, in)
	if nil != err {
		return Result{}, err //nolint:exhaustruct
	}
	return o.DownloadBatch(ctx, o.resolver.ResolveBatch(ctx, seed), dir, opts)
}
