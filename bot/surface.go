package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"
	"gopkg.in/matryer/try.v1"

	"github.com/xeptore/tgmd/cache"
	"github.com/xeptore/tgmd/config"
	"github.com/xeptore/tgmd/errutil"
	"github.com/xeptore/tgmd/progress"
	"github.com/xeptore/tgmd/ratelimit"
	"github.com/xeptore/tgmd/waitqueue"
)

const (
	maxChatEditAttempts = 3
	maxFloodWait        = 30 * time.Second
	chatPeerTTL         = 24 * time.Hour
)

var errUnknownChat = errors.New("chat peer is unknown")

// API is the subset of the bot session RPC client used by the bot.
type API interface {
	MessagesSendMessage(ctx context.Context, req *tg.MessagesSendMessageRequest) (tg.UpdatesClass, error)
	MessagesEditMessage(ctx context.Context, req *tg.MessagesEditMessageRequest) (tg.UpdatesClass, error)
	MessagesDeleteMessages(ctx context.Context, req *tg.MessagesDeleteMessagesRequest) (*tg.MessagesAffectedMessages, error)
	MessagesSetBotCallbackAnswer(ctx context.Context, req *tg.MessagesSetBotCallbackAnswerRequest) (bool, error)
}

// Surface renders task progress into bot chat messages.
type Surface struct {
	api    API
	peers  *cache.Cache
	queue  *waitqueue.WaitQueue
	logger zerolog.Logger
}

func NewSurface(api API, queue *waitqueue.WaitQueue, logger zerolog.Logger) *Surface {
	return &Surface{
		api:    api,
		peers:  cache.New(),
		queue:  queue,
		logger: logger,
	}
}

var _ progress.Surface = (*Surface)(nil)

func (s *Surface) rememberChat(chatID int64, peer tg.InputPeerClass) {
	s.peers.Peers.Set(cache.UserKey(chatID), chatPeerTTL, peer)
}

func (s *Surface) chatPeer(chatID int64) (tg.InputPeerClass, error) {
	return s.peers.Peers.Fetch(cache.UserKey(chatID), chatPeerTTL, func() (tg.InputPeerClass, error) {
		return nil, fmt.Errorf("%w: %d", errUnknownChat, chatID)
	})
}

func (s *Surface) Render(ctx context.Context, target progress.Target, taskID string, report progress.Report) error {
	var markup tg.ReplyMarkupClass
	if !report.Terminal {
		markup = cancelKeyboard(taskID)
	}
	return s.edit(ctx, target, report.String(), markup)
}

func (s *Surface) Delete(ctx context.Context, target progress.Target) error {
	return s.send(ctx, func(ctx context.Context) error {
		//nolint:exhaustruct
		req := &tg.MessagesDeleteMessagesRequest{ID: []int{target.MessageID}}
		req.SetRevoke(true)
		_, err := s.api.MessagesDeleteMessages(ctx, req)
		return err
	})
}

func (s *Surface) edit(ctx context.Context, target progress.Target, text string, markup tg.ReplyMarkupClass) error {
	peer, err := s.chatPeer(target.ChatID)
	if nil != err {
		return flaw.From(fmt.Errorf("failed to edit message: %v", err)).Append(flaw.P{"chat_id": target.ChatID})
	}

	//nolint:exhaustruct
	req := &tg.MessagesEditMessageRequest{
		Peer: peer,
		ID:   target.MessageID,
	}
	req.SetMessage(text)
	if nil != markup {
		req.SetReplyMarkup(markup)
	}

	return s.send(ctx, func(ctx context.Context) error {
		if _, err := s.api.MessagesEditMessage(ctx, req); nil != err && !tgerr.Is(err, "MESSAGE_NOT_MODIFIED") {
			return err
		}
		return nil
	})
}

// send runs a chat mutation through the shared edit quota and retries it while the provider rate limits it.
func (s *Surface) send(ctx context.Context, call func(ctx context.Context) error) error {
	return try.Do(func(attempt int) (bool, error) {
		err := s.queue.SendSingle(ctx, func() error {
			reqCtx, cancel := context.WithTimeout(ctx, config.ChatEditRequestTimeout)
			defer cancel()
			return call(reqCtx)
		})
		if nil == err {
			return false, nil
		}

		switch {
		case errutil.IsContext(ctx):
			return false, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return attempt < maxChatEditAttempts, err
		}

		wait, ok := tgerr.AsFloodWait(err)
		if !ok {
			flawP := flaw.P{"attempt": attempt, "err_debug_tree": errutil.Tree(err).FlawP()}
			return false, flaw.From(fmt.Errorf("chat request failed: %v", err)).Append(flawP)
		}
		if attempt >= maxChatEditAttempts || wait > maxFloodWait {
			return false, &errutil.ProviderError{Kind: errutil.ProviderRateLimited, Wait: wait, Message: "chat edits are rate limited", Err: err}
		}

		s.logger.Debug().Dur("wait", wait).Int("attempt", attempt).Msg("Chat request was rate limited, retrying")
		timer := time.NewTimer(wait + ratelimit.ChatEditRetryDelay())
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return true, err
		}
	})
}
