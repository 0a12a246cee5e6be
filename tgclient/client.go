package tgclient

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/message/peer"
	"github.com/gotd/td/telegram/query"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"
	"github.com/iyear/tdl/core/dcpool"
	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/tgmd/cache"
	"github.com/xeptore/tgmd/config"
	"github.com/xeptore/tgmd/download"
	"github.com/xeptore/tgmd/errutil"
	"github.com/xeptore/tgmd/iterutil"
	"github.com/xeptore/tgmd/must"
	"github.com/xeptore/tgmd/source"
)

const (
	getMessagesBatchSize = 100
	dialogsBatchSize     = 100
)

var errPeerNotInDialogs = errors.New("peer is not among the session dialogs")

// Client is the user session protocol client used to locate and download media.
type Client struct {
	api      *tg.Client
	pool     dcpool.Pool
	resolver peer.Resolver
	cache    *cache.Cache
	logger   zerolog.Logger
}

func New(api *tg.Client, pool dcpool.Pool, c *cache.Cache, logger zerolog.Logger) *Client {
	return &Client{
		api:      api,
		pool:     pool,
		resolver: peer.DefaultResolver(api),
		cache:    c,
		logger:   logger,
	}
}

var (
	_ source.Client      = (*Client)(nil)
	_ download.Transport = (*Client)(nil)
)

func (c *Client) ResolveUsername(ctx context.Context, username string) (tg.InputPeerClass, error) {
	return c.cache.Peers.Fetch(cache.UsernameKey(username), cache.DefaultUsernamePeerTTL, func() (tg.InputPeerClass, error) {
		reqCtx, cancel := context.WithTimeout(ctx, config.ResolvePeerRequestTimeout)
		defer cancel()

		p, err := c.resolver.ResolveDomain(reqCtx, username)
		if nil != err {
			return nil, wrap(err, "failed to resolve username", flaw.P{"username": username})
		}
		return p, nil
	})
}

func (c *Client) ResolveChannel(ctx context.Context, channelID int64) (tg.InputPeerClass, error) {
	return c.cache.Peers.Fetch(cache.ChannelKey(channelID), cache.DefaultChannelPeerTTL, func() (tg.InputPeerClass, error) {
		return c.findDialog(ctx, cache.ChannelKey(channelID))
	})
}

func (c *Client) ResolvePeer(ctx context.Context, p tg.PeerClass) (tg.InputPeerClass, error) {
	switch v := p.(type) {
	case *tg.PeerChannel:
		return c.ResolveChannel(ctx, v.ChannelID)
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: v.ChatID}, nil
	case *tg.PeerUser:
		return c.cache.Peers.Fetch(cache.UserKey(v.UserID), cache.DefaultChannelPeerTTL, func() (tg.InputPeerClass, error) {
			return c.findDialog(ctx, cache.UserKey(v.UserID))
		})
	default:
		return nil, flaw.From(fmt.Errorf("unsupported peer type %T", p))
	}
}

// findDialog walks the session dialogs, caching every channel and user peer on the way, until key is found.
func (c *Client) findDialog(ctx context.Context, key string) (tg.InputPeerClass, error) {
	reqCtx, cancel := context.WithTimeout(ctx, config.ResolvePeerRequestTimeout)
	defer cancel()

	var found tg.InputPeerClass
	errFound := errors.New("found")
	err := query.
		GetDialogs(c.api).
		BatchSize(dialogsBatchSize).
		ForEach(reqCtx, func(_ context.Context, elem dialogs.Elem) error {
			k, ok := dialogKey(elem.Peer)
			if !ok {
				return nil
			}
			if k == key {
				found = elem.Peer
				return errFound
			}
			c.cache.Peers.Set(k, cache.DefaultChannelPeerTTL, elem.Peer)
			return nil
		})
	switch {
	case nil != found:
		return found, nil
	case nil == err:
		return nil, flaw.From(fmt.Errorf("failed to find peer %s: %w", key, errPeerNotInDialogs))
	default:
		return nil, wrap(err, "failed to list dialogs", flaw.P{"key": key})
	}
}

func dialogKey(p tg.InputPeerClass) (string, bool) {
	switch v := p.(type) {
	case *tg.InputPeerChannel:
		return cache.ChannelKey(v.ChannelID), true
	case *tg.InputPeerUser:
		return cache.UserKey(v.UserID), true
	default:
		return "", false
	}
}

func (c *Client) GetMessages(ctx context.Context, p tg.InputPeerClass, ids []int) ([]*tg.Message, error) {
	out := make([]*tg.Message, 0, len(ids))
	for i, chunk := range iterutil.WithIndex(iterutil.Chunks(ids, getMessagesBatchSize)) {
		msgs, err := c.getMessages(ctx, p, chunk)
		if nil != err {
			return nil, must.BeFlaw(err, flaw.P{"chunk_index": i})
		}
		out = append(out, msgs...)
	}
	return out, nil
}

func (c *Client) getMessages(ctx context.Context, p tg.InputPeerClass, ids []int) ([]*tg.Message, error) {
	reqCtx, cancel := context.WithTimeout(ctx, config.GetMessagesRequestTimeout)
	defer cancel()

	input := make([]tg.InputMessageClass, 0, len(ids))
	for _, id := range ids {
		input = append(input, &tg.InputMessageID{ID: id})
	}

	var (
		res tg.MessagesMessagesClass
		err error
	)
	if ch, ok := p.(*tg.InputPeerChannel); ok {
		res, err = c.api.ChannelsGetMessages(reqCtx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
			ID:      input,
		})
	} else {
		res, err = c.api.MessagesGetMessages(reqCtx, input)
	}
	if nil != err {
		return nil, wrap(err, "failed to get messages", flaw.P{"ids": ids})
	}
	return messagesOf(res), nil
}

func (c *Client) GetHistory(ctx context.Context, p tg.InputPeerClass, q source.HistoryQuery) ([]*tg.Message, error) {
	reqCtx, cancel := context.WithTimeout(ctx, config.GetHistoryRequestTimeout)
	defer cancel()

	res, err := c.api.MessagesGetHistory(reqCtx, &tg.MessagesGetHistoryRequest{
		Peer:       p,
		OffsetID:   0,
		OffsetDate: 0,
		AddOffset:  0,
		Limit:      q.Limit,
		MaxID:      q.MaxID,
		MinID:      q.MinID,
		Hash:       0,
	})
	if nil != err {
		return nil, wrap(err, "failed to get history", flaw.P{"min_id": q.MinID, "max_id": q.MaxID, "limit": q.Limit})
	}
	return messagesOf(res), nil
}

// messagesOf keeps regular messages only. Service and empty messages carry no media.
func messagesOf(res tg.MessagesMessagesClass) []*tg.Message {
	modified, ok := res.AsModified()
	if !ok {
		return nil
	}
	raw := modified.GetMessages()
	out := make([]*tg.Message, 0, len(raw))
	for _, m := range raw {
		if msg, ok := m.(*tg.Message); ok {
			out = append(out, msg)
		}
	}
	return out
}

// Download streams the file at loc through a client bound to the file's data center.
func (c *Client) Download(ctx context.Context, loc download.Location, partSize int, w io.Writer) error {
	api := c.pool.Default(ctx)
	if loc.DC > 0 {
		api = c.pool.Client(ctx, loc.DC)
	}

	if _, err := downloader.NewDownloader().WithPartSize(partSize).Download(api, loc.File).Stream(ctx, w); nil != err {
		if errutil.IsContext(ctx) {
			return err
		}
		return wrap(err, "failed to download file", flaw.P{"dc": loc.DC, "part_size": partSize})
	}
	return nil
}

func wrap(err error, msg string, p flaw.P) error {
	p["err_debug_tree"] = errutil.Tree(err).FlawP()
	return flaw.From(fmt.Errorf("%s: %v", msg, err)).Append(p)
}

