package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/xeptore/tgmd/log"
	"github.com/xeptore/tgmd/tgutil"
)

func login(cliCtx *cli.Context) error {
	ctx, cancel := signalContext(cliCtx)
	defer cancel()

	logger := log.NewPretty(os.Stdout).Level(zerolog.TraceLevel)
	cfg, err := loadConfig(cliCtx, logger)
	if nil != err {
		return err
	}
	s, err := loadSecrets(false)
	if nil != err {
		return err
	}
	if err := ensureDir(logger, "credentials", cfg.CredsDir); nil != err {
		return err
	}

	client := newClient(ctx, s, filepath.Join(cfg.CredsDir, userSessionFileName), nil, tgutil.UserResilience)
	stdin := bufio.NewReader(os.Stdin)
	prompt := func(label string) (string, error) {
		fmt.Fprint(os.Stdout, label)
		line, err := stdin.ReadString('\n')
		if nil != err {
			return "", fmt.Errorf("failed to read %s: %v", strings.TrimSuffix(label, ": "), err)
		}
		return strings.TrimSpace(line), nil
	}

	codeAuth := auth.CodeAuthenticatorFunc(func(context.Context, *tg.AuthSentCode) (string, error) {
		return prompt("Login code: ")
	})
	flow := auth.NewFlow(
		auth.Constant(cliCtx.String(flagPhone), os.Getenv("PASSWORD"), codeAuth),
		auth.SendCodeOptions{}, //nolint:exhaustruct
	)

	return client.Run(ctx, func(ctx context.Context) error {
		if err := client.Auth().IfNecessary(ctx, flow); nil != err {
			if errors.Is(ctx.Err(), context.Canceled) {
				return context.Canceled
			}
			return fmt.Errorf("failed to log in: %v", err)
		}
		self, err := client.Self(ctx)
		if nil != err {
			return fmt.Errorf("failed to get logged in account: %v", err)
		}
		logger.Info().Int64("user_id", self.ID).Str("username", self.Username).Msg("User session stored")
		return nil
	})
}
