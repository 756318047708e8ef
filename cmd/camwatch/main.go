package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/mikeyg42/camwatch/internal/config"
	"github.com/mikeyg42/camwatch/internal/logging"
	"github.com/mikeyg42/camwatch/internal/storage"
	"github.com/mikeyg42/camwatch/internal/validate"
)

func main() {
	app := &cli.App{
		Name:  "camwatch",
		Usage: "Single-camera motion watcher with chat alerts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				EnvVars: []string{"CAMWATCH_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "Optional dotenv file; the process environment wins",
				Value:   ".env",
				EnvVars: []string{"CAMWATCH_ENV_FILE"},
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			cleanupCommand(),
			doctorCommand(),
		},
		DefaultCommand: "run",
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "camwatch: %v\n", err)
		os.Exit(1)
	}
}

// commandEnv is what every command starts from.
type commandEnv struct {
	cfg    *config.Config
	logger *zap.Logger
	close  func()
}

// setup loads and validates the config and installs the global logger.
// Validation errors only abort commands that run the bot.
func setup(c *cli.Context, requireBot bool) (*commandEnv, error) {
	cfg, err := config.Load(c.String("config"), c.String("env-file"))
	if err != nil {
		return nil, err
	}

	logger, closeLogger, err := logging.Setup(cfg.Log)
	if err != nil {
		return nil, err
	}

	warnings, err := validate.ValidateConfig(cfg)
	for _, w := range warnings {
		logger.Warn("Configuration warning", zap.String("detail", w))
	}
	if err != nil {
		if requireBot {
			closeLogger()
			return nil, err
		}
		logger.Warn("Configuration has errors", zap.Error(err))
	}

	return &commandEnv{cfg: cfg, logger: logger, close: closeLogger}, nil
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the watcher and the chat bot",
		Action: func(c *cli.Context) error {
			env, err := setup(c, true)
			if err != nil {
				return err
			}
			defer env.close()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := NewApplication(ctx, env.cfg, env.logger)
			if err != nil {
				env.logger.Error("Startup failed", zap.Error(err))
				return err
			}
			defer app.Cleanup()

			return app.Run(ctx)
		},
	}
}

func cleanupCommand() *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Run one storage quota pass over the artifact directories and exit",
		Action: func(c *cli.Context) error {
			env, err := setup(c, false)
			if err != nil {
				return err
			}
			defer env.close()

			j := storage.NewJanitor(env.logger)
			quota := env.cfg.Storage.PerDirQuotaMB()
			for _, dir := range []string{env.cfg.Storage.ScreenshotDir, env.cfg.Storage.VideoDir} {
				res, err := j.Cleanup(dir, quota)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %.1f MB -> %.1f MB, %d removed, %d failed\n",
					dir, mb(res.BytesBefore), mb(res.BytesAfter), len(res.Removed), len(res.Failed))
			}
			return nil
		},
	}
}

func doctorCommand() *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Check camera, directories, classifier and disk space",
		Action: func(c *cli.Context) error {
			env, err := setup(c, false)
			if err != nil {
				return err
			}
			defer env.close()

			if failed := runDoctor(context.Background(), env.cfg, env.logger, os.Stdout); failed > 0 {
				return cli.Exit(fmt.Sprintf("%d check(s) failed", failed), 1)
			}
			return nil
		},
	}
}

func mb(b int64) float64 {
	return float64(b) / (1024 * 1024)
}
