package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"github.com/iyear/tdl/core/dcpool"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/xeptore/tgmd/bot"
	"github.com/xeptore/tgmd/cache"
	"github.com/xeptore/tgmd/config"
	"github.com/xeptore/tgmd/ctxutil"
	"github.com/xeptore/tgmd/download"
	"github.com/xeptore/tgmd/log"
	"github.com/xeptore/tgmd/progress"
	"github.com/xeptore/tgmd/ratelimit"
	"github.com/xeptore/tgmd/source"
	"github.com/xeptore/tgmd/task"
	"github.com/xeptore/tgmd/tgclient"
	"github.com/xeptore/tgmd/tgutil"
	"github.com/xeptore/tgmd/waitqueue"
	"github.com/xeptore/tgmd/web"
)

const (
	userSessionFileName = "user-session.json"
	botSessionFileName  = "bot-session.json"
	downloadPoolSize    = 8
)

var errUserNotAuthorized = errors.New("user session is not authorized. run the login command first")

func newClient(ctx context.Context, s secrets, sessionPath string, handler telegram.UpdateHandler, r tgutil.Resilience) *telegram.Client {
	return telegram.NewClient(
		s.appID,
		s.appHash,
		//nolint:exhaustruct
		telegram.Options{
			SessionStorage: &session.FileStorage{Path: sessionPath},
			UpdateHandler:  handler,
			MaxRetries:     -1,
			AckBatchSize:   100,
			AckInterval:    10 * time.Second,
			RetryInterval:  5 * time.Second,
			DialTimeout:    10 * time.Second,
			Device:         tgutil.Device,
			Middlewares:    tgutil.Middlewares(ctx, r),
		},
	)
}

func run(cliCtx *cli.Context) error {
	ctx, cancel := signalContext(cliCtx)
	defer cancel()

	bootLogger := log.NewPretty(os.Stdout).Level(zerolog.TraceLevel)
	cfg, err := loadConfig(cliCtx, bootLogger)
	if nil != err {
		return err
	}
	logger := log.New(cfg.LogFormat, os.Stdout).Level(zerolog.TraceLevel)

	s, err := loadSecrets(true)
	if nil != err {
		return err
	}

	if err := ensureDir(logger, "credentials", cfg.CredsDir); nil != err {
		return err
	}
	if err := ensureDir(logger, "download", cfg.DownloadDir); nil != err {
		return err
	}

	clientCtx, cancelClients := ctxutil.WithDelayedTimeout(ctx, config.ShutdownGracePeriod)
	defer cancelClients()

	dispatcher := tg.NewUpdateDispatcher()
	updatesManager := updates.New(updates.Config{Handler: dispatcher}) //nolint:exhaustruct

	userClient := newClient(clientCtx, s, filepath.Join(cfg.CredsDir, userSessionFileName), nil, tgutil.UserResilience)
	botClient := newClient(clientCtx, s, filepath.Join(cfg.CredsDir, botSessionFileName), updatesManager, tgutil.BotResilience)
	logger.Debug().Msg("Telegram clients initialized")

	// Both clients run on the delayed context so pending chat edits still go out after a signal.
	// Work itself is bound to ctx.
	return userClient.Run(clientCtx, func(_ context.Context) error {
		status, err := userClient.Auth().Status(ctx)
		if nil != err {
			if errors.Is(ctx.Err(), context.Canceled) {
				return context.Canceled
			}
			return fmt.Errorf("failed to get user client auth status: %v", err)
		}
		if !status.Authorized {
			return errUserNotAuthorized
		}
		logger.Debug().Msg("User client is authorized")

		return botClient.Run(clientCtx, func(_ context.Context) error {
			return serve(ctx, clientCtx, cfg, s, userClient, botClient, dispatcher, updatesManager, logger)
		})
	})
}

func serve(
	ctx context.Context,
	clientCtx context.Context,
	cfg *config.Config,
	s secrets,
	userClient *telegram.Client,
	botClient *telegram.Client,
	dispatcher tg.UpdateDispatcher,
	updatesManager *updates.Manager,
	logger zerolog.Logger,
) error {
	status, err := botClient.Auth().Status(ctx)
	if nil != err {
		if errors.Is(ctx.Err(), context.Canceled) {
			return context.Canceled
		}
		return fmt.Errorf("failed to get bot client auth status: %v", err)
	}
	if !status.Authorized {
		if _, err := botClient.Auth().Bot(ctx, s.botToken); nil != err {
			if errors.Is(ctx.Err(), context.Canceled) {
				return context.Canceled
			}
			return fmt.Errorf("failed to authorize Telegram bot: %v", err)
		}
		logger.Debug().Msg("Bot client authorized")
	} else {
		logger.Debug().Msg("Bot client has already been authorized")
	}

	self, err := botClient.Self(ctx)
	if nil != err {
		if errors.Is(ctx.Err(), context.Canceled) {
			return context.Canceled
		}
		return fmt.Errorf("failed to get bot account: %v", err)
	}

	pool := dcpool.NewPool(userClient, downloadPoolSize, tgutil.Middlewares(clientCtx, tgutil.TransferResilience)...)
	defer func() {
		if err := pool.Close(); nil != err {
			logger.Error().Err(err).Msg("Failed to close download pool")
		}
	}()

	protocol := tgclient.New(userClient.API(), pool, cache.New(), logger.With().Str("module", "tgclient").Logger())
	resolver := source.NewResolver(protocol, logger.With().Str("module", "source").Logger())
	orchestrator := download.NewOrchestrator(protocol, resolver, logger.With().Str("module", "download").Logger())

	registry := task.New(
		newExecutor(orchestrator, cfg.DownloadDir, cfg.AllowedKinds, cfg.AlbumConcurrency, cfg.PartSizeKB),
		task.Options{
			MaxRunning:    cfg.MaxConcurrentTasks,
			TTL:           cfg.TaskTTL,
			SweepInterval: cfg.SweepInterval,
			Now:           nil,
		},
		logger.With().Str("module", "task").Logger(),
	)
	registry.Start(ctx)
	defer registry.Close()

	botAPI := botClient.API()
	queue := waitqueue.New(waitqueue.Options{
		PerInterval: ratelimit.ChatEditsPerInterval,
		Interval:    ratelimit.ChatEditInterval,
		MinGap:      ratelimit.ChatEditMinGap,
	})
	surface := bot.NewSurface(botAPI, queue, logger.With().Str("module", "surface").Logger())
	views := progress.New(
		registry,
		surface,
		progress.Options{
			MinPercentStep: cfg.Progress.MinPercentStep,
			MinInterval:    cfg.Progress.MinInterval,
			Now:            nil,
		},
		logger.With().Str("module", "progress").Logger(),
	)
	b := bot.New(
		botAPI,
		surface,
		registry,
		views,
		bot.Options{AllowedUserIDs: cfg.FromIDs, Username: self.Username},
		logger.With().Str("module", "bot").Logger(),
	)
	dispatcher.OnNewMessage(b.OnNewMessage)
	dispatcher.OnBotCallbackQuery(b.OnCallbackQuery)

	wg, wgCtx := errgroup.WithContext(ctx)
	wg.Go(func() error { return b.Run(wgCtx) })
	wg.Go(func() error {
		return updatesManager.Run(wgCtx, botAPI, self.ID, updates.AuthOptions{IsBot: true}) //nolint:exhaustruct
	})
	if cfg.HTTP.ListenAddr != "" {
		console := web.NewServer(
			registry,
			web.Options{ListenAddr: cfg.HTTP.ListenAddr, KeepaliveInterval: cfg.HTTP.KeepaliveInterval},
			logger.With().Str("module", "web").Logger(),
		)
		wg.Go(func() error { return console.Run(wgCtx, config.ShutdownGracePeriod) })
	}

	logger.Info().Str("bot_username", self.Username).Msg("Bot is running")
	if err := wg.Wait(); nil != err && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Debug().Msg("Bot stopped")
	return nil
}
