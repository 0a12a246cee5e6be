package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/tgmd/config"
	"github.com/xeptore/tgmd/constant"
	"github.com/xeptore/tgmd/log"
)

const (
	flagConfigFilePath = "config"
	flagPhone          = "phone"
)

func main() {
	logger := log.NewPretty(os.Stdout).Level(zerolog.TraceLevel)
	if err := godotenv.Load(); nil != err {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn().Msg(".env file was not found")
		} else {
			logger.Fatal().Err(err).Msg("Failed to load .env file")
		}
	}

	configFlag := &cli.StringFlag{ //nolint:exhaustruct
		Name:     flagConfigFilePath,
		Aliases:  []string{"c"},
		Usage:    "Config file path",
		Required: false,
	}

	//nolint:exhaustruct
	app := &cli.App{
		Name:     "tgmd",
		Version:  constant.Version,
		Compiled: constant.CompileTime,
		Suggest:  true,
		Usage:    "Telegram media downloader",
		Commands: []*cli.Command{
			//nolint:exhaustruct
			{
				Name:    "run",
				Aliases: []string{"r"},
				Usage:   "Run the bot and the web console",
				Action:  run,
				Flags:   []cli.Flag{configFlag},
			},
			//nolint:exhaustruct
			{
				Name:   "login",
				Usage:  "Log the downloader user account in and store its session",
				Action: login,
				Flags: []cli.Flag{
					configFlag,
					//nolint:exhaustruct
					&cli.StringFlag{
						Name:     flagPhone,
						Aliases:  []string{"p"},
						Usage:    "Account phone number in international format",
						EnvVars:  []string{"PHONE"},
						Required: true,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); nil != err {
		if errors.Is(err, context.Canceled) {
			logger.Trace().Msg("Application was canceled")
			return
		}
		if flawErr := new(flaw.Flaw); errors.As(err, &flawErr) {
			logger.Fatal().Func(log.Flaw(flawErr)).Msg("Application exited with flaw")
			return
		}
		logger.Fatal().Err(err).Msg("Application exited with error")
	}
}

type secrets struct {
	appID    int
	appHash  string
	botToken string
}

func loadSecrets(needBot bool) (secrets, error) {
	appID, err := strconv.Atoi(os.Getenv("APP_ID"))
	if nil != err {
		return secrets{}, errors.New("failed to parse APP_ID environment variable to integer") //nolint:exhaustruct
	}
	s := secrets{appID: appID, appHash: os.Getenv("APP_HASH"), botToken: os.Getenv("BOT_TOKEN")}
	if s.appHash == "" {
		return secrets{}, errors.New("APP_HASH environment variable is empty") //nolint:exhaustruct
	}
	if needBot && s.botToken == "" {
		return secrets{}, errors.New("BOT_TOKEN environment variable is empty") //nolint:exhaustruct
	}
	return s, nil
}

func loadConfig(cliCtx *cli.Context, logger zerolog.Logger) (*config.Config, error) {
	cfgEnv := os.Getenv("CONFIG")
	cfgFilePath := cliCtx.String(flagConfigFilePath)
	switch {
	case cfgFilePath != "" && cfgEnv != "":
		return nil, errors.New("config file path and config environment variable are both set. specify only one")
	case cfgFilePath == "" && cfgEnv == "":
		return nil, errors.New("config file path and config environment variable are both empty. specify one")
	case cfgFilePath != "":
		logger.Debug().Str("config_file_path", cfgFilePath).Msg("Loading config from file")
		c, err := config.FromFile(cfgFilePath)
		if nil != err {
			return nil, fmt.Errorf("failed to load config file: %v", err)
		}
		return c, nil
	default:
		logger.Debug().Msg("Loading config from environment variable")
		c, err := config.FromString(cfgEnv)
		if nil != err {
			return nil, fmt.Errorf("failed to load config from environment variable: %v", err)
		}
		return c, nil
	}
}

func ensureDir(logger zerolog.Logger, name, dir string) error {
	if _, err := os.ReadDir(dir); nil != err && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read %s directory: %v", name, err)
	} else if errors.Is(err, os.ErrNotExist) {
		logger.Warn().Str("dir", dir).Msgf("The %s directory does not exist. Creating...", name)
		if err := os.MkdirAll(dir, 0o0755); nil != err {
			return fmt.Errorf("failed to create %s directory: %v", name, err)
		}
		logger.Info().Str("dir", dir).Msgf("The %s directory created", name)
	}
	return nil
}

func signalContext(cliCtx *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cliCtx.Context, syscall.SIGINT, syscall.SIGTERM)
}
