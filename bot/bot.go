package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/tgmd/config"
	"github.com/xeptore/tgmd/ctxutil"
	"github.com/xeptore/tgmd/errutil"
	"github.com/xeptore/tgmd/log"
	"github.com/xeptore/tgmd/progress"
	"github.com/xeptore/tgmd/source"
	"github.com/xeptore/tgmd/task"
	"github.com/xeptore/tgmd/tgutil"
)

const SourceKeyPrefix = "bot:"

// Registry is the part of the task registry the bot drives.
type Registry interface {
	Create(kind task.Kind, payload task.Payload, sourceKey string) task.Record
	FindActiveBySourceKey(key string) (task.Record, bool)
	Get(id string) (task.Record, error)
	List() []task.Record
	Cancel(id, reason string) (task.Record, error)
	CancelAllBySourcePrefix(prefix, reason string) int
}

// Views is the progress presentation the bot attaches its messages to.
type Views interface {
	Run(ctx context.Context) error
	Track(taskID string, target progress.Target, meta progress.Meta)
	Pause(taskID string) bool
	Resume(taskID string) bool
	Enqueue(taskID string, op func(ctx context.Context, target progress.Target)) bool
}

type Options struct {
	AllowedUserIDs []int64
	Username       string
}

type Bot struct {
	api      API
	surface  *Surface
	registry Registry
	views    Views
	opts     Options
	logger   zerolog.Logger
}

func New(api API, surface *Surface, registry Registry, views Views, opts Options, logger zerolog.Logger) *Bot {
	return &Bot{
		api:      api,
		surface:  surface,
		registry: registry,
		views:    views,
		opts:     opts,
		logger:   logger,
	}
}

func sourceKey(chatID int64, msgID int) string {
	return SourceKeyPrefix + strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(msgID)
}

// Run renders progress until ctx is done. Bot tasks left over from a previous run, or still active on shutdown, are canceled.
func (b *Bot) Run(ctx context.Context) error {
	if n := b.registry.CancelAllBySourcePrefix(SourceKeyPrefix, "bot restarted"); n > 0 {
		b.logger.Warn().Int("count", n).Msg("Canceled orphaned bot tasks")
	}

	viewsCtx, cancel := ctxutil.WithDelayedTimeout(ctx, config.ShutdownGracePeriod)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer log.Recover(b.logger, "Progress views panicked")
		done <- b.views.Run(viewsCtx)
	}()

	<-ctx.Done()
	if n := b.registry.CancelAllBySourcePrefix(SourceKeyPrefix, "bot is shutting down"); n > 0 {
		b.logger.Info().Int("count", n).Msg("Canceled active bot tasks on shutdown")
	}
	return <-done
}

func (b *Bot) allowed(userID int64) bool {
	return lo.Contains(b.opts.AllowedUserIDs, userID)
}

// OnNewMessage handles a private message sent to the bot.
func (b *Bot) OnNewMessage(ctx context.Context, e tg.Entities, update *tg.UpdateNewMessage) error {
	m, ok := update.Message.(*tg.Message)
	if !ok || m.Out {
		return nil
	}
	u, ok := m.PeerID.(*tg.PeerUser)
	if !ok || !b.allowed(u.UserID) {
		return nil
	}
	chatID := u.UserID
	if user, ok := e.Users[chatID]; ok {
		b.surface.rememberChat(chatID, user.AsInputPeer())
	}

	logger := b.logger.With().Int64("chat_id", chatID).Int("message_id", m.ID).Logger()
	text := strings.TrimSpace(m.Message)

	switch {
	case text == "/start":
		b.reply(ctx, logger, chatID, m.ID, startText, nil)
		return nil
	case text == "/tasks":
		b.reply(ctx, logger, chatID, m.ID, tasksText(b.registry.List()), nil)
		return nil
	}

	var (
		kind    task.Kind
		payload task.Payload
	)
	if link, ok := source.FindLink(text); ok {
		kind, payload = task.KindLinkDownload, task.Payload{Link: link, Message: nil}
	} else if nil != m.Media {
		kind, payload = task.KindMessageDownload, task.Payload{Link: "", Message: source.InboundFromMessage(chatID, b.opts.Username, m)}
	} else {
		b.reply(ctx, logger, chatID, m.ID, helpText, nil)
		return nil
	}

	key := sourceKey(chatID, m.ID)
	if existing, ok := b.registry.FindActiveBySourceKey(key); ok {
		logger.Debug().Str("task_id", existing.ID).Msg("Message is already being downloaded")
		b.reply(ctx, logger, chatID, m.ID, duplicateText, nil)
		return nil
	}

	rec := b.registry.Create(kind, payload, key)
	logger = logger.With().Str("task_id", rec.ID).Logger()
	logger.Info().Str("kind", string(kind)).Msg("Task created from chat")

	report := progress.Render(rec, progress.Meta{Title: rec.Title})
	msgID, ok := b.reply(ctx, logger, chatID, m.ID, report.String(), cancelKeyboard(rec.ID))
	if !ok {
		return nil
	}
	b.views.Track(rec.ID, progress.Target{ChatID: chatID, MessageID: msgID}, progress.Meta{Title: rec.Title})
	return nil
}

// OnCallbackQuery handles inline keyboard presses on progress messages.
func (b *Bot) OnCallbackQuery(ctx context.Context, _ tg.Entities, update *tg.UpdateBotCallbackQuery) error {
	answer := ""
	defer func() { b.answer(ctx, update.QueryID, answer) }()

	if !b.allowed(update.UserID) {
		answer = "You are not allowed to use this bot."
		return nil
	}

	action, taskID, ok := parseCallbackData(update.Data)
	if !ok {
		answer = "Unknown action."
		return nil
	}
	logger := b.logger.With().Str("task_id", taskID).Str("action", string(action)).Logger()

	switch action {
	case actionCancel:
		rec, err := b.registry.Get(taskID)
		if nil != err || rec.Status.IsTerminal() {
			answer = "This download has already finished."
			return nil
		}
		if !b.views.Pause(taskID) {
			answer = "This download is no longer tracked."
			return nil
		}
		prompt := confirmText(progress.Render(rec, progress.Meta{Title: rec.Title}))
		b.views.Enqueue(taskID, func(ctx context.Context, target progress.Target) {
			if err := b.surface.edit(ctx, target, prompt, confirmKeyboard(taskID)); nil != err && !errutil.IsContext(ctx) {
				logger.Error().Func(log.Flaw(err)).Msg("Failed to show cancel confirmation")
			}
		})
	case actionConfirm:
		if _, err := b.registry.Cancel(taskID, "canceled from chat"); nil != err {
			switch {
			case errors.Is(err, task.ErrAlreadyFinished):
				b.views.Resume(taskID)
				answer = "This download has already finished."
			case errors.Is(err, task.ErrNotFound):
				answer = "This download no longer exists."
			default:
				panic(errutil.UnknownError(err))
			}
			return nil
		}
		logger.Info().Msg("Task canceled from chat")
		answer = "Download canceled."
	case actionDismiss:
		b.views.Resume(taskID)
	}
	return nil
}

func (b *Bot) answer(ctx context.Context, queryID int64, text string) {
	reqCtx, cancel := context.WithTimeout(ctx, config.ChatEditRequestTimeout)
	defer cancel()

	//nolint:exhaustruct
	req := &tg.MessagesSetBotCallbackAnswerRequest{QueryID: queryID, CacheTime: 0}
	if text != "" {
		req.SetMessage(text)
	}
	if _, err := b.api.MessagesSetBotCallbackAnswer(reqCtx, req); nil != err {
		if errutil.IsContext(ctx) {
			return
		}
		flawP := flaw.P{"query_id": queryID, "err_debug_tree": errutil.Tree(err).FlawP()}
		b.logger.Error().Func(log.Flaw(flaw.From(fmt.Errorf("failed to answer callback query: %v", err)).Append(flawP))).Msg("Failed to answer callback query")
	}
}

// reply sends text in reply to msgID and returns the id of the sent message.
func (b *Bot) reply(ctx context.Context, logger zerolog.Logger, chatID int64, msgID int, text string, markup tg.ReplyMarkupClass) (int, bool) {
	peer, err := b.surface.chatPeer(chatID)
	if nil != err {
		logger.Error().Err(err).Msg("Failed to reply")
		return 0, false
	}

	reqCtx, cancel := context.WithTimeout(ctx, config.ChatEditRequestTimeout)
	defer cancel()

	//nolint:exhaustruct
	req := &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		RandomID: rand.Int64(), //nolint:gosec
	}
	//nolint:exhaustruct
	req.SetReplyTo(&tg.InputReplyToMessage{ReplyToMsgID: msgID})
	if nil != markup {
		req.SetReplyMarkup(markup)
	}

	updates, err := b.api.MessagesSendMessage(reqCtx, req)
	if nil != err {
		if errutil.IsContext(ctx) {
			return 0, false
		}
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		logger.Error().Func(log.Flaw(flaw.From(fmt.Errorf("failed to send reply: %v", err)).Append(flawP))).Msg("Failed to send reply")
		return 0, false
	}

	id, err := tgutil.SentMessageID(updates)
	if nil != err {
		logger.Error().Err(err).Msg("Failed to find id of sent reply")
		return 0, false
	}
	return id, true
}
