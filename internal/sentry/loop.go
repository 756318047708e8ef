// Package sentry runs the detection loop: it polls the motion detector,
// applies the photo or video capture policy and hands finished artifacts
// to the broadcaster.
package sentry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mikeyg42/camwatch/internal/config"
	"github.com/mikeyg42/camwatch/internal/notification"
	"github.com/mikeyg42/camwatch/internal/presence"
	"github.com/mikeyg42/camwatch/internal/state"
)

// Detector is the motion detector as seen by the loop.
type Detector interface {
	DetectMotion() (gocv.Mat, bool)
	CaptureScreenshot(frame gocv.Mat, dir string) (string, error)
	StartVideoRecording(dir string, fps int) (string, error)
	WriteVideoFrame(frame gocv.Mat) error
	StopVideoRecording() (string, bool)
	StopCapture() error
}

// Archiver takes finished artifacts for offsite copy. Enqueue must not
// block.
type Archiver interface {
	Enqueue(kind, path string) bool
}

type Options struct {
	ScreenshotDir    string
	VideoDir         string
	FPS              int
	Cooldown         time.Duration
	StopDelay        time.Duration
	TickInterval     time.Duration
	IdleInterval     time.Duration
	BroadcastTimeout time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ScreenshotDir:    cfg.Storage.ScreenshotDir,
		VideoDir:         cfg.Storage.VideoDir,
		FPS:              cfg.Video.FPS,
		Cooldown:         cfg.Photo.Cooldown(),
		StopDelay:        cfg.Video.StopDelay(),
		TickInterval:     cfg.Loop.TickInterval,
		IdleInterval:     cfg.Loop.IdleInterval,
		BroadcastTimeout: cfg.Loop.BroadcastTimeout,
	}
}

// Status is a snapshot for the command surface.
type Status struct {
	State     State
	Recording bool
	ClipPath  string
}

// session is the clip currently being recorded.
type session struct {
	id         string
	path       string
	started    time.Time
	lastMotion time.Time
	caption    string
}

type Loop struct {
	det         Detector
	classifier  presence.Classifier
	broadcaster notification.Broadcaster
	state       state.Reader
	archive     Archiver
	opts        Options
	logger      *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// owned by the loop goroutine
	current   State
	session   *session
	lastPhoto time.Time

	mu     sync.Mutex
	status Status
}

func New(det Detector, classifier presence.Classifier, broadcaster notification.Broadcaster, st state.Reader, opts Options, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.L()
	}
	if classifier == nil {
		classifier = presence.Noop{}
	}
	l := &Loop{
		det:         det,
		classifier:  classifier,
		broadcaster: broadcaster,
		state:       st,
		opts:        opts,
		logger:      logger.Named("sentry"),
		now:         time.Now,
		sleep:       sleepCtx,
	}
	l.current = l.entryState(selectionOf(st.Snapshot()), l.now())
	l.publishStatus()
	return l
}

// SetArchive enables offsite copies of alert artifacts.
func (l *Loop) SetArchive(a Archiver) {
	l.archive = a
}

func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Run ticks until ctx is cancelled or a tick fails. Either way any open
// clip is discarded and the frame source released before Run returns. A
// panic inside a tick is returned as an error.
func (l *Loop) Run(ctx context.Context) (err error) {
	l.logger.Info("Detection loop started",
		zap.Stringer("state", l.current),
		zap.Duration("photo_cooldown", l.opts.Cooldown),
		zap.Duration("stop_delay", l.opts.StopDelay))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detection loop panic: %v", r)
			l.logger.Error("Detection loop panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		l.teardown()
	}()

	for {
		if err := l.tick(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				l.logger.Info("Detection loop stopping", zap.Error(err))
				return nil
			}
			l.logger.Error("Detection loop failed", zap.Error(err))
			return err
		}
	}
}

func (l *Loop) tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sel := selectionOf(l.state.Snapshot())
	if transition(l.current, sel) == actDiscardClip {
		l.discardClip(sel)
	}

	if sel == selDisabled {
		l.setState(StateDisabled)
		return l.sleep(ctx, l.opts.IdleInterval)
	}

	frame, motion := l.det.DetectMotion()
	now := l.now()

	switch sel {
	case selPhoto:
		l.photoTick(ctx, frame, motion, now)
	case selVideo:
		l.videoTick(ctx, frame, motion, now)
	}

	if motion {
		frame.Close()
	}
	return l.sleep(ctx, l.opts.TickInterval)
}

// entryState is the state a selection lands in when no event happens.
func (l *Loop) entryState(sel selection, now time.Time) State {
	switch sel {
	case selDisabled:
		return StateDisabled
	case selVideo:
		if l.session != nil {
			return StateVideoRecording
		}
		return StateVideoIdle
	default:
		if l.coolingDown(now) {
			return StatePhotoCooldown
		}
		return StatePhotoIdle
	}
}

func (l *Loop) coolingDown(now time.Time) bool {
	return !l.lastPhoto.IsZero() && now.Sub(l.lastPhoto) <= l.opts.Cooldown
}

func (l *Loop) photoTick(ctx context.Context, frame gocv.Mat, motion bool, now time.Time) {
	defer func() { l.setState(l.entryState(selPhoto, now)) }()

	if !motion {
		return
	}
	if l.coolingDown(now) {
		l.logger.Debug("Motion inside photo cooldown ignored",
			zap.Duration("since_last", now.Sub(l.lastPhoto)))
		return
	}

	path, err := l.det.CaptureScreenshot(frame, l.opts.ScreenshotDir)
	if err != nil {
		l.logger.Warn("Screenshot failed, no alert sent", zap.Error(err))
		return
	}

	caption := presence.FormatCaption(l.classifier.Classify(ctx, path))
	l.broadcast(ctx, notification.Alert{
		Text:      "🚨 Photo: " + caption,
		MediaPath: path,
		Kind:      notification.KindPhoto,
		At:        now,
	})
	l.archiveFile("photo", path)
	l.lastPhoto = now
}

func (l *Loop) videoTick(ctx context.Context, frame gocv.Mat, motion bool, now time.Time) {
	defer func() { l.setState(l.entryState(selVideo, now)) }()

	if motion {
		if l.session == nil {
			l.startClip(ctx, frame, now)
		} else {
			l.session.lastMotion = now
		}
		if l.session != nil {
			if err := l.det.WriteVideoFrame(frame); err != nil {
				l.logger.Warn("Failed to write video frame", zap.String("session", l.session.id), zap.Error(err))
			}
		}
		return
	}

	if l.session != nil && now.Sub(l.session.lastMotion) > l.opts.StopDelay {
		l.finishClip(ctx, now)
	}
}

func (l *Loop) startClip(ctx context.Context, frame gocv.Mat, now time.Time) {
	path, err := l.det.StartVideoRecording(l.opts.VideoDir, l.opts.FPS)
	if err != nil {
		l.logger.Warn("Could not start recording", zap.Error(err))
		return
	}

	s := &session{
		id:         uuid.NewString(),
		path:       path,
		started:    now,
		lastMotion: now,
	}
	l.session = s
	s.caption = presence.FormatCaption(l.throwawayLabels(ctx, frame))

	l.logger.Info("Recording session opened", zap.String("session", s.id), zap.String("path", path))
	l.broadcast(ctx, notification.Alert{
		Text: "📹 Recording started: " + s.caption,
		Kind: notification.KindNone,
		At:   now,
	})
}

// throwawayLabels classifies frame through a temporary screenshot that is
// deleted afterwards.
func (l *Loop) throwawayLabels(ctx context.Context, frame gocv.Mat) []string {
	path, err := l.det.CaptureScreenshot(frame, l.opts.ScreenshotDir)
	if err != nil {
		l.logger.Warn("Screenshot for labels failed", zap.Error(err))
		return []string{presence.LabelLabelsUnavailable}
	}
	labels := l.classifier.Classify(ctx, path)
	if err := os.Remove(path); err != nil {
		l.logger.Debug("Failed to remove label screenshot", zap.String("path", path), zap.Error(err))
	}
	return labels
}

func (l *Loop) finishClip(ctx context.Context, now time.Time) {
	s := l.session
	l.session = nil

	path, ok := l.det.StopVideoRecording()
	if !ok {
		l.logger.Warn("Recording session had no open writer", zap.String("session", s.id))
		return
	}
	l.logger.Info("Recording session finished",
		zap.String("session", s.id),
		zap.String("path", path),
		zap.Duration("duration", now.Sub(s.started)))

	l.broadcast(ctx, notification.Alert{
		Text:      "📹 Recording finished: " + s.caption,
		MediaPath: path,
		Kind:      notification.KindVideo,
		At:        now,
	})
	l.archiveFile("video", path)
}

// discardClip closes the open clip without sending it.
func (l *Loop) discardClip(sel selection) {
	path, ok := l.det.StopVideoRecording()
	fields := []zap.Field{zap.String("path", path), zap.Bool("writer_open", ok)}
	if l.session != nil {
		fields = append(fields, zap.String("session", l.session.id))
	}
	if sel == selDisabled {
		l.logger.Info("Monitoring disabled, recording discarded", fields...)
	} else {
		l.logger.Info("Mode changed, recording discarded", fields...)
	}
	l.session = nil
}

func (l *Loop) broadcast(ctx context.Context, alert notification.Alert) {
	if l.broadcaster == nil {
		return
	}
	bctx, cancel := context.WithTimeout(ctx, l.opts.BroadcastTimeout)
	defer cancel()

	deliveries := l.broadcaster.Broadcast(bctx, alert)
	failed := notification.Failed(deliveries)
	l.logger.Info("Alert broadcast",
		zap.String("kind", alert.Kind.String()),
		zap.Int("recipients", len(deliveries)),
		zap.Int("failed", len(failed)))
}

func (l *Loop) archiveFile(kind, path string) {
	if l.archive != nil {
		l.archive.Enqueue(kind, path)
	}
}

func (l *Loop) setState(s State) {
	if s != l.current {
		l.logger.Debug("State change", zap.Stringer("from", l.current), zap.Stringer("to", s))
	}
	l.current = s
	l.publishStatus()
}

func (l *Loop) publishStatus() {
	st := Status{State: l.current}
	if l.session != nil {
		st.Recording = true
		st.ClipPath = l.session.path
	}
	l.mu.Lock()
	l.status = st
	l.mu.Unlock()
}

func (l *Loop) teardown() {
	if l.session != nil {
		l.logger.Info("Discarding open recording on shutdown", zap.String("session", l.session.id))
		l.session = nil
	}
	l.det.StopVideoRecording()
	if err := l.det.StopCapture(); err != nil {
		l.logger.Warn("Failed to release frame source", zap.Error(err))
	}
	l.setState(StateDisabled)
	l.logger.Info("Detection loop stopped")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
