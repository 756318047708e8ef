package motion

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mikeyg42/camwatch/internal/config"
)

var (
	ErrNotRecording      = errors.New("motion: no recording in progress")
	ErrAlreadyRecording  = errors.New("motion: recording already in progress")
	ErrWriterUnavailable = errors.New("motion: video writer unavailable")
)

const (
	screenshotTimeLayout = "20060102_150405"
	videoTimeLayout      = "20060102_150405"
)

// FrameSource is the capture side the detector polls once per tick.
type FrameSource interface {
	Read(dst *gocv.Mat) bool
	Close() error
}

// Options tunes detection and clip writing.
type Options struct {
	MinArea          int
	BlurSize         int
	Threshold        int
	DilateIterations int
	FrameWidth       int
	FrameHeight      int
	Codec            string
	Extension        string
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MinArea:          cfg.Motion.MinContourArea,
		BlurSize:         cfg.Motion.BlurSize,
		Threshold:        cfg.Motion.Threshold,
		DilateIterations: cfg.Motion.DilateIterations,
		FrameWidth:       cfg.Camera.Width,
		FrameHeight:      cfg.Camera.Height,
		Codec:            cfg.Video.Codec,
		Extension:        cfg.Video.Extension,
	}
}

type Stats struct {
	FramesProcessed   int64
	MotionFrames      int64
	LastMotionTime    time.Time
	AverageMotionArea float64
	MaxMotionArea     float64
	ProcessingTime    time.Duration
	LastProcessedTime time.Time
}

// Detector scores motion by differencing each smoothed frame against the
// previous one, and owns the clip writer while a recording is open.
//
// DetectMotion, CaptureScreenshot and the recording calls belong to one
// goroutine. Stats and RecordingPath are safe from any goroutine.
type Detector struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	src     FrameSource
	prev    gocv.Mat
	hasPrev bool
	kernel  gocv.Mat

	mu        sync.Mutex
	writer    *gocv.VideoWriter
	videoPath string
	stats     Stats
}

func NewDetector(src FrameSource, opts Options, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.L()
	}
	return &Detector{
		opts:   opts,
		logger: logger.Named("motion"),
		now:    time.Now,
		src:    src,
		kernel: gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3)),
	}
}

// DetectMotion reads one frame and compares it with the previous one. When
// motion is found the colour frame is returned and the caller must Close
// it. Otherwise the returned Mat must not be used.
func (d *Detector) DetectMotion() (gocv.Mat, bool) {
	if d.src == nil {
		return gocv.Mat{}, false
	}

	frame := gocv.NewMat()
	if !d.src.Read(&frame) || frame.Empty() {
		frame.Close()
		return gocv.Mat{}, false
	}

	start := d.now()
	motion, largest := d.score(frame)
	d.recordStats(start, motion, largest)

	if !motion {
		frame.Close()
		return gocv.Mat{}, false
	}
	return frame, true
}

func (d *Detector) score(frame gocv.Mat) (bool, float64) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)

	blurred := gocv.NewMat()
	gocv.GaussianBlur(gray, &blurred, image.Pt(d.opts.BlurSize, d.opts.BlurSize), 0, 0, gocv.BorderDefault)

	if !d.hasPrev {
		d.prev = blurred
		d.hasPrev = true
		return false, 0
	}

	delta := gocv.NewMat()
	defer delta.Close()
	gocv.AbsDiff(d.prev, blurred, &delta)

	// slide the baseline regardless of outcome
	d.prev.Close()
	d.prev = blurred

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(delta, &thresh, float32(d.opts.Threshold), 255, gocv.ThresholdBinary)

	for i := 0; i < d.opts.DilateIterations; i++ {
		gocv.Dilate(thresh, &thresh, d.kernel)
	}

	contours := gocv.FindContours(thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	areas := make([]float64, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		areas = append(areas, gocv.ContourArea(contours.At(i)))
	}
	return exceedsArea(areas, float64(d.opts.MinArea))
}

// exceedsArea reports whether any area is strictly above min, along with
// the largest area seen.
func exceedsArea(areas []float64, min float64) (bool, float64) {
	var largest float64
	motion := false
	for _, a := range areas {
		if a > largest {
			largest = a
		}
		if a > min {
			motion = true
		}
	}
	return motion, largest
}

func (d *Detector) recordStats(start time.Time, motion bool, largest float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.stats.FramesProcessed++
	d.stats.ProcessingTime = now.Sub(start)
	d.stats.LastProcessedTime = now
	if !motion {
		return
	}
	d.stats.MotionFrames++
	d.stats.LastMotionTime = now
	d.stats.AverageMotionArea = (d.stats.AverageMotionArea*float64(d.stats.MotionFrames-1) + largest) / float64(d.stats.MotionFrames)
	if largest > d.stats.MaxMotionArea {
		d.stats.MaxMotionArea = largest
	}
}

func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// CaptureScreenshot writes frame as a JPEG into dir and returns its path.
func (d *Detector) CaptureScreenshot(frame gocv.Mat, dir string) (string, error) {
	if frame.Empty() {
		return "", errors.New("capture screenshot: empty frame")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}

	t := d.now()
	name := fmt.Sprintf("motion_%s_%06d.jpg", t.Format(screenshotTimeLayout), t.Nanosecond()/1000)
	path := filepath.Join(dir, name)
	if ok := gocv.IMWrite(path, frame); !ok {
		return "", fmt.Errorf("capture screenshot: failed to write %s", path)
	}

	d.logger.Debug("Screenshot saved", zap.String("path", path))
	return path, nil
}

// StartVideoRecording opens a clip writer in dir at the configured frame
// size. The writer and its path are set together or not at all.
func (d *Detector) StartVideoRecording(dir string, fps int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.writer != nil {
		return "", fmt.Errorf("%w: %s", ErrAlreadyRecording, d.videoPath)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create video dir: %w", err)
	}

	path := clipPath(dir, d.now().Format(videoTimeLayout), d.opts.Extension)

	vw, err := gocv.VideoWriterFile(path, d.opts.Codec, float64(fps), d.opts.FrameWidth, d.opts.FrameHeight, true)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWriterUnavailable, err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return "", fmt.Errorf("%w: codec %s for %s", ErrWriterUnavailable, d.opts.Codec, path)
	}

	d.writer = vw
	d.videoPath = path
	d.logger.Info("Video recording started",
		zap.String("path", path),
		zap.String("codec", d.opts.Codec),
		zap.Int("fps", fps))
	return path, nil
}

// clipPath returns the first unused clip name for stamp in dir. A clip
// started in the same second as an earlier one gets a numeric suffix so
// the earlier file is never truncated.
func clipPath(dir, stamp, ext string) string {
	path := filepath.Join(dir, fmt.Sprintf("video_%s.%s", stamp, ext))
	for i := 1; ; i++ {
		if _, err := os.Stat(path); err != nil {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("video_%s_%d.%s", stamp, i, ext))
	}
}

// WriteVideoFrame appends frame to the open clip, resizing it first when
// it does not match the writer's frame size.
func (d *Detector) WriteVideoFrame(frame gocv.Mat) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.writer == nil {
		return ErrNotRecording
	}

	if frame.Cols() != d.opts.FrameWidth || frame.Rows() != d.opts.FrameHeight {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(frame, &resized, image.Pt(d.opts.FrameWidth, d.opts.FrameHeight), 0, 0, gocv.InterpolationLinear)
		frame = resized
	}

	if err := d.writer.Write(frame); err != nil {
		return fmt.Errorf("write video frame: %w", err)
	}
	return nil
}

// StopVideoRecording finalizes the open clip and returns its path. It
// reports false when nothing was recording.
func (d *Detector) StopVideoRecording() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopLocked()
}

func (d *Detector) stopLocked() (string, bool) {
	if d.writer == nil {
		return "", false
	}
	if err := d.writer.Close(); err != nil {
		d.logger.Warn("Video writer close failed", zap.String("path", d.videoPath), zap.Error(err))
	}
	path := d.videoPath
	d.writer = nil
	d.videoPath = ""
	d.logger.Info("Video recording stopped", zap.String("path", path))
	return path, true
}

// RecordingPath returns the clip being written, or "".
func (d *Detector) RecordingPath() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.videoPath
}

func (d *Detector) IsRecording() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writer != nil
}

// StopCapture stops any recording, releases the frame source and drops the
// baseline. It is safe to call more than once.
func (d *Detector) StopCapture() error {
	d.mu.Lock()
	d.stopLocked()
	d.mu.Unlock()

	var err error
	if d.src != nil {
		err = d.src.Close()
		d.src = nil
	}
	if d.hasPrev {
		d.prev.Close()
		d.hasPrev = false
	}
	if !d.kernel.Empty() {
		d.kernel.Close()
		d.kernel = gocv.NewMat()
	}
	if err != nil {
		return fmt.Errorf("release frame source: %w", err)
	}
	return nil
}
