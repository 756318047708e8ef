package main

import (
	"context"
	"fmt"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mikeyg42/camwatch/internal/camera"
	"github.com/mikeyg42/camwatch/internal/config"
	"github.com/mikeyg42/camwatch/internal/control"
	"github.com/mikeyg42/camwatch/internal/motion"
	"github.com/mikeyg42/camwatch/internal/notification"
	"github.com/mikeyg42/camwatch/internal/presence"
	"github.com/mikeyg42/camwatch/internal/sentry"
	"github.com/mikeyg42/camwatch/internal/state"
	"github.com/mikeyg42/camwatch/internal/storage"
)

// Application holds all long-lived components.
type Application struct {
	cfg    *config.Config
	logger *zap.Logger

	state      *state.State
	device     *camera.Device
	detector   *motion.Detector
	classifier presence.Classifier
	mqtt       *notification.MQTT
	archive    *storage.Archive
	janitor    *storage.Janitor
	bot        *control.Bot
	loop       *sentry.Loop
}

func NewApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Application, error) {
	app := &Application{
		cfg:     cfg,
		logger:  logger,
		state:   state.New(),
		janitor: storage.NewJanitor(logger),
	}

	if err := app.prepareStorage(); err != nil {
		return nil, err
	}

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	api.Debug = cfg.Telegram.Debug
	logger.Info("Telegram bot authorized", zap.String("username", api.Self.UserName))

	device, err := camera.Open(cfg.Camera.Index, cfg.Camera.Width, cfg.Camera.Height)
	if err != nil {
		return nil, err
	}
	app.device = device
	w, h := device.Size()
	logger.Info("Camera opened",
		zap.Int("index", cfg.Camera.Index),
		zap.Int("width", w),
		zap.Int("height", h))

	app.detector = motion.NewDetector(device, motion.OptionsFromConfig(cfg), logger)
	app.janitor.Protect = app.detector.RecordingPath
	app.classifier = newClassifier(cfg.Presence, logger)

	sinks := notification.Multi{
		notification.NewTelegram(api, cfg.Telegram.AllowedUserIDs, cfg.Telegram.SendAttempts, logger),
	}
	if cfg.MQTT.Enabled {
		m, err := notification.NewMQTT(cfg.MQTT, logger)
		if err != nil {
			logger.Warn("MQTT alerts disabled", zap.Error(err))
		} else {
			app.mqtt = m
			sinks = append(sinks, m)
		}
	}

	app.loop = sentry.New(app.detector, app.classifier, sinks, app.state, sentry.OptionsFromConfig(cfg), logger)

	if cfg.Archive.Enabled {
		a, err := storage.NewArchive(ctx, cfg.Archive, logger)
		if err != nil {
			logger.Warn("Evidence archive disabled", zap.Error(err))
		} else {
			app.archive = a
			app.loop.SetArchive(a)
		}
	}

	app.bot = control.NewBot(api, app.state, cfg.Telegram.AllowedUserIDs, app.loopStatus, logger)
	return app, nil
}

// prepareStorage creates the artifact dirs, trims them to quota and
// reports free space.
func (app *Application) prepareStorage() error {
	quota := app.cfg.Storage.PerDirQuotaMB()
	for _, dir := range []string{app.cfg.Storage.ScreenshotDir, app.cfg.Storage.VideoDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		if _, err := app.janitor.Cleanup(dir, quota); err != nil {
			app.logger.Warn("Startup cleanup failed", zap.String("dir", dir), zap.Error(err))
		}
	}

	free, err := storage.DiskFree(app.cfg.Storage.VideoDir)
	if err != nil {
		app.logger.Debug("Free space unknown", zap.Error(err))
		return nil
	}
	freeMB := float64(free) / (1024 * 1024)
	if freeMB < float64(app.cfg.Storage.MaxStorageMB) {
		app.logger.Warn("Free disk space is below the storage quota",
			zap.Float64("free_mb", freeMB),
			zap.Int("quota_mb", app.cfg.Storage.MaxStorageMB))
	} else {
		app.logger.Info("Disk space check passed", zap.Float64("free_mb", freeMB))
	}
	return nil
}

func newClassifier(cfg config.PresenceConfig, logger *zap.Logger) presence.Classifier {
	if !cfg.Enabled {
		return presence.Noop{}
	}
	h, err := presence.NewHOG(cfg.FaceCascade, logger)
	if err != nil {
		logger.Warn("Presence classifier unavailable, alerts will be unlabelled", zap.Error(err))
		return presence.Noop{}
	}
	return h
}

func (app *Application) loopStatus() control.LoopStatus {
	st := app.loop.Status()
	return control.LoopStatus{
		State:     st.State.String(),
		Recording: st.Recording,
		Stats:     app.detector.Stats(),
	}
}

// Run supervises the detection loop, the bot and the optional background
// workers. When the loop or the bot returns, for any reason, everything
// else is cancelled and awaited.
func (app *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return app.loop.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return app.bot.Run(gctx)
	})
	if app.archive != nil {
		g.Go(func() error { return app.archive.Run(gctx) })
	}
	if interval := app.cfg.Storage.CleanupInterval; interval > 0 {
		g.Go(func() error {
			return app.janitor.Run(gctx, interval, app.cfg.Storage.PerDirQuotaMB(),
				app.cfg.Storage.ScreenshotDir, app.cfg.Storage.VideoDir)
		})
	}

	app.logger.Info("camwatch running",
		zap.Stringer("mode", app.state.Mode()),
		zap.Bool("monitoring", app.state.MonitoringActive()))

	err := g.Wait()
	if err != nil {
		app.logger.Error("camwatch stopped with error", zap.Error(err))
		return err
	}
	app.logger.Info("camwatch stopped")
	return nil
}

func (app *Application) Cleanup() {
	if app.mqtt != nil {
		app.mqtt.Close()
	}
	if c, ok := app.classifier.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			app.logger.Warn("Failed to close classifier", zap.Error(err))
		}
	}
	if app.detector != nil {
		if err := app.detector.StopCapture(); err != nil {
			app.logger.Warn("Failed to release camera", zap.Error(err))
		}
	} else if app.device != nil {
		app.device.Close()
	}
}
