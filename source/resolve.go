package source

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/tgmd/errutil"
)

var ErrSourceNotFound = errors.New("source message not found")

const (
	ownDialogHistoryLimit = 100
	ownDialogMaxDateDrift = 5
)

// Client is the subset of the user session protocol client needed to locate source messages.
type Client interface {
	ResolveUsername(ctx context.Context, username string) (tg.InputPeerClass, error)
	ResolveChannel(ctx context.Context, channelID int64) (tg.InputPeerClass, error)
	ResolvePeer(ctx context.Context, peer tg.PeerClass) (tg.InputPeerClass, error)
	GetMessages(ctx context.Context, peer tg.InputPeerClass, ids []int) ([]*tg.Message, error)
	GetHistory(ctx context.Context, peer tg.InputPeerClass, q HistoryQuery) ([]*tg.Message, error)
}

// HistoryQuery selects messages with MinID < id < MaxID, newest first. Zero bounds are open.
type HistoryQuery struct {
	MinID int
	MaxID int
	Limit int
}

// Inbound is a message as delivered to the bot, before it is located on the user session.
type Inbound struct {
	ChatID      int64
	MessageID   int
	Date        int
	Text        string
	HasMedia    bool
	FwdFrom     *tg.MessageFwdHeader
	BotUsername string
}

// InboundFromMessage captures the fields of a bot-delivered message needed to locate its source.
func InboundFromMessage(chatID int64, botUsername string, m *tg.Message) *Inbound {
	in := &Inbound{
		ChatID:      chatID,
		MessageID:   m.ID,
		Date:        m.Date,
		Text:        m.Message,
		HasMedia:    nil != m.Media,
		FwdFrom:     nil,
		BotUsername: botUsername,
	}
	if fwd, ok := m.GetFwdFrom(); ok {
		in.FwdFrom = &fwd
	}
	return in
}

// Seed is the located source message together with the peer it was fetched from.
type Seed struct {
	Peer    tg.InputPeerClass
	Message *tg.Message
}

type Resolver struct {
	client Client
	logger zerolog.Logger
}

func NewResolver(client Client, logger zerolog.Logger) *Resolver {
	return &Resolver{
		client: client,
		logger: logger,
	}
}

func (r *Resolver) FromLink(ctx context.Context, raw string) (Seed, error) {
	link, err := ParseLink(raw)
	if nil != err {
		return Seed{}, err //nolint:exhaustruct
	}

	var peer tg.InputPeerClass
	if link.Username != "" {
		peer, err = r.client.ResolveUsername(ctx, link.Username)
	} else {
		peer, err = r.client.ResolveChannel(ctx, link.ChannelID)
	}
	if nil != err {
		return Seed{}, wrapClientError(ctx, err, "failed to resolve link peer", flaw.P{"link": raw}) //nolint:exhaustruct
	}

	return r.fetchOne(ctx, peer, link.MessageID)
}

// FromInbound locates the source of a bot-delivered message: the forward origin when known, otherwise the user's own dialog with the bot.
func (r *Resolver) FromInbound(ctx context.Context, in *Inbound) (Seed, error) {
	var originErr error
	if peer, msgID, ok := forwardOrigin(in.FwdFrom); ok {
		seed, err := r.fromOrigin(ctx, peer, msgID)
		if nil == err {
			return seed, nil
		}
		if errutil.IsContext(ctx) {
			return Seed{}, ctx.Err() //nolint:exhaustruct
		}
		r.logger.Debug().Err(err).Int("message_id", msgID).Msg("Forward origin is not accessible, falling back to own dialog")
		originErr = err
	}

	seed, err := r.fromOwnDialog(ctx, in)
	if nil != err {
		if nil != originErr && errors.Is(err, ErrSourceNotFound) {
			return Seed{}, originErr //nolint:exhaustruct
		}
		return Seed{}, err //nolint:exhaustruct
	}
	return seed, nil
}

func forwardOrigin(fwd *tg.MessageFwdHeader) (tg.PeerClass, int, bool) {
	if nil == fwd {
		return nil, 0, false
	}
	if peer, ok := fwd.GetSavedFromPeer(); ok {
		if msgID, ok := fwd.GetSavedFromMsgID(); ok {
			return peer, msgID, true
		}
	}
	if from, ok := fwd.GetFromID(); ok {
		if channel, ok := from.(*tg.PeerChannel); ok {
			if post, ok := fwd.GetChannelPost(); ok {
				return channel, post, true
			}
		}
	}
	return nil, 0, false
}

func (r *Resolver) fromOrigin(ctx context.Context, peer tg.PeerClass, msgID int) (Seed, error) {
	input, err := r.client.ResolvePeer(ctx, peer)
	if nil != err {
		return Seed{}, wrapClientError(ctx, err, "failed to resolve forward origin peer", flaw.P{"message_id": msgID}) //nolint:exhaustruct
	}
	return r.fetchOne(ctx, input, msgID)
}

func (r *Resolver) fromOwnDialog(ctx context.Context, in *Inbound) (Seed, error) {
	if in.BotUsername == "" {
		return Seed{}, ErrSourceNotFound //nolint:exhaustruct
	}

	peer, err := r.client.ResolveUsername(ctx, in.BotUsername)
	if nil != err {
		return Seed{}, wrapClientError(ctx, err, "failed to resolve bot dialog", flaw.P{"bot_username": in.BotUsername}) //nolint:exhaustruct
	}

	history, err := r.client.GetHistory(ctx, peer, HistoryQuery{MinID: 0, MaxID: 0, Limit: ownDialogHistoryLimit})
	if nil != err {
		return Seed{}, wrapClientError(ctx, err, "failed to fetch bot dialog history", flaw.P{"bot_username": in.BotUsername}) //nolint:exhaustruct
	}

	if m, ok := matchOwnDialog(history, in); ok {
		return Seed{Peer: peer, Message: m}, nil
	}
	return Seed{}, ErrSourceNotFound //nolint:exhaustruct
}

// matchOwnDialog prefers an exact date and text match, then the media message nearest in time within a few seconds.
func matchOwnDialog(history []*tg.Message, in *Inbound) (*tg.Message, bool) {
	for _, m := range history {
		if m.Out && m.Date == in.Date && m.Message == in.Text && (nil != m.Media || !in.HasMedia) {
			return m, true
		}
	}

	var (
		best      *tg.Message
		bestDrift = math.MaxInt
	)
	for _, m := range history {
		if !m.Out || nil == m.Media {
			continue
		}
		drift := abs(m.Date - in.Date)
		if drift <= ownDialogMaxDateDrift && drift < bestDrift {
			best, bestDrift = m, drift
		}
	}
	return best, nil != best
}

func (r *Resolver) fetchOne(ctx context.Context, peer tg.InputPeerClass, msgID int) (Seed, error) {
	msgs, err := r.client.GetMessages(ctx, peer, []int{msgID})
	if nil != err {
		return Seed{}, wrapClientError(ctx, err, "failed to get source message", flaw.P{"message_id": msgID}) //nolint:exhaustruct
	}
	for _, m := range msgs {
		if m.ID == msgID {
			return Seed{Peer: peer, Message: m}, nil
		}
	}
	return Seed{}, ErrSourceNotFound //nolint:exhaustruct
}

func wrapClientError(ctx context.Context, err error, msg string, p flaw.P) error {
	switch {
	case errutil.IsContext(ctx):
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return context.DeadlineExceeded
	case errutil.IsFlaw(err):
		return err
	}
	p["err_debug_tree"] = errutil.Tree(err).FlawP()
	return flaw.From(fmt.Errorf("%s: %v", msg, err)).Append(p)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
