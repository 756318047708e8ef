package motion

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"gocv.io/x/gocv"
)

const (
	testWidth  = 320
	testHeight = 240
)

// frameSource replays prepared frames, then reports read failures.
type frameSource struct {
	frames []gocv.Mat
	next   int
	closed int
}

func (f *frameSource) Read(dst *gocv.Mat) bool {
	if f.next >= len(f.frames) {
		return false
	}
	f.frames[f.next].CopyTo(dst)
	f.next++
	return true
}

func (f *frameSource) Close() error {
	f.closed++
	return nil
}

func blankFrame(t *testing.T) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), testHeight, testWidth, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return m
}

func frameWithBoxes(t *testing.T, rects ...image.Rectangle) gocv.Mat {
	t.Helper()
	m := blankFrame(t)
	for _, r := range rects {
		gocv.Rectangle(&m, r, color.RGBA{255, 255, 255, 0}, -1)
	}
	return m
}

func testOptions() Options {
	return Options{
		MinArea:          1000,
		BlurSize:         21,
		Threshold:        25,
		DilateIterations: 2,
		FrameWidth:       testWidth,
		FrameHeight:      testHeight,
		Codec:            "MJPG",
		Extension:        "avi",
	}
}

func TestExceedsAreaIsStrict(t *testing.T) {
	testCases := []struct {
		name    string
		areas   []float64
		want    bool
		largest float64
	}{
		{"no contours", nil, false, 0},
		{"equal to minimum", []float64{1000}, false, 1000},
		{"just above", []float64{1000.5}, true, 1000.5},
		{"any contour counts", []float64{10, 2000, 30}, true, 2000},
		{"all small", []float64{999, 500}, false, 999},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, largest := exceedsArea(tc.areas, 1000)
			if got != tc.want {
				t.Errorf("exceedsArea(%v) = %v, want %v", tc.areas, got, tc.want)
			}
			if largest != tc.largest {
				t.Errorf("largest = %v, want %v", largest, tc.largest)
			}
		})
	}
}

func TestDetectMotionSlidingBaseline(t *testing.T) {
	box := image.Rect(80, 60, 240, 180)
	// seed, unchanged, large change, unchanged against the new baseline,
	// change below the minimum area
	src := &frameSource{frames: []gocv.Mat{
		blankFrame(t),
		blankFrame(t),
		frameWithBoxes(t, box),
		frameWithBoxes(t, box),
		frameWithBoxes(t, box, image.Rect(0, 0, 4, 4)),
	}}
	d := NewDetector(src, testOptions(), zaptest.NewLogger(t))
	defer d.StopCapture()

	want := []bool{false, false, true, false, false}
	for i, w := range want {
		frame, ok := d.DetectMotion()
		if ok != w {
			t.Fatalf("frame %d: motion = %v, want %v", i, ok, w)
		}
		if ok {
			if frame.Cols() != testWidth || frame.Rows() != testHeight || frame.Channels() != 3 {
				t.Fatalf("frame %d: expected original colour frame, got %dx%dx%d",
					i, frame.Cols(), frame.Rows(), frame.Channels())
			}
			frame.Close()
		}
	}

	// source exhausted: read failure is treated as no motion
	if _, ok := d.DetectMotion(); ok {
		t.Fatal("expected no motion on read failure")
	}

	stats := d.Stats()
	if stats.FramesProcessed != 5 {
		t.Errorf("expected 5 processed frames, got %d", stats.FramesProcessed)
	}
	if stats.MotionFrames != 1 {
		t.Errorf("expected 1 motion frame, got %d", stats.MotionFrames)
	}
	if stats.MaxMotionArea <= 1000 {
		t.Errorf("expected max area above threshold, got %v", stats.MaxMotionArea)
	}
}

func TestCaptureScreenshot(t *testing.T) {
	d := NewDetector(&frameSource{}, testOptions(), zaptest.NewLogger(t))
	defer d.StopCapture()
	d.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 7, 123456000, time.UTC) }

	dir := filepath.Join(t.TempDir(), "shots")
	path, err := d.CaptureScreenshot(frameWithBoxes(t, image.Rect(10, 10, 50, 50)), dir)
	if err != nil {
		t.Fatalf("CaptureScreenshot failed: %v", err)
	}
	if filepath.Base(path) != "motion_20240309_140507_123456.jpg" {
		t.Errorf("unexpected file name %s", filepath.Base(path))
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Fatalf("expected non-empty screenshot, stat err %v", err)
	}

	empty := gocv.NewMat()
	defer empty.Close()
	if _, err := d.CaptureScreenshot(empty, dir); err == nil {
		t.Fatal("expected error for empty frame")
	}
}

func TestRecordingLifecycle(t *testing.T) {
	d := NewDetector(&frameSource{}, testOptions(), zaptest.NewLogger(t))
	defer d.StopCapture()
	dir := t.TempDir()

	if err := d.WriteVideoFrame(blankFrame(t)); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}
	if path, ok := d.StopVideoRecording(); ok || path != "" {
		t.Fatalf("expected idle stop to report nothing, got %q %v", path, ok)
	}

	path, err := d.StartVideoRecording(dir, 15)
	if err != nil {
		t.Fatalf("StartVideoRecording failed: %v", err)
	}
	if !regexp.MustCompile(`^video_\d{8}_\d{6}\.avi$`).MatchString(filepath.Base(path)) {
		t.Errorf("unexpected clip name %s", filepath.Base(path))
	}
	if d.RecordingPath() != path || !d.IsRecording() {
		t.Fatal("writer and path should be set together")
	}
	if _, err := d.StartVideoRecording(dir, 15); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := d.WriteVideoFrame(frameWithBoxes(t, image.Rect(i*10, 0, i*10+40, 40))); err != nil {
			t.Fatalf("WriteVideoFrame failed: %v", err)
		}
	}

	// mismatched size is resized, not rejected
	big := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), testHeight*2, testWidth*2, gocv.MatTypeCV8UC3)
	defer big.Close()
	if err := d.WriteVideoFrame(big); err != nil {
		t.Fatalf("WriteVideoFrame with resize failed: %v", err)
	}

	got, ok := d.StopVideoRecording()
	if !ok || got != path {
		t.Fatalf("expected stop to return %s, got %q %v", path, got, ok)
	}
	if d.RecordingPath() != "" || d.IsRecording() {
		t.Fatal("writer and path should be cleared together")
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Fatalf("expected finalized clip on disk, stat err %v", err)
	}

	if _, ok := d.StopVideoRecording(); ok {
		t.Fatal("second stop should be a no-op")
	}
}

func TestStartVideoRecordingSameSecond(t *testing.T) {
	d := NewDetector(&frameSource{}, testOptions(), zaptest.NewLogger(t))
	defer d.StopCapture()
	d.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC) }
	dir := t.TempDir()

	first, err := d.StartVideoRecording(dir, 15)
	if err != nil {
		t.Fatalf("Failed to start first clip: %v", err)
	}
	if err := d.WriteVideoFrame(blankFrame(t)); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}
	d.StopVideoRecording()
	before, err := os.Stat(first)
	if err != nil {
		t.Fatalf("Failed to stat first clip: %v", err)
	}

	testCases := []string{"video_20240309_140507_1.avi", "video_20240309_140507_2.avi"}
	for _, want := range testCases {
		path, err := d.StartVideoRecording(dir, 15)
		if err != nil {
			t.Fatalf("Failed to start clip: %v", err)
		}
		if filepath.Base(path) != want {
			t.Errorf("expected %s, got %s", want, filepath.Base(path))
		}
		d.StopVideoRecording()
	}

	after, err := os.Stat(first)
	if err != nil {
		t.Fatalf("Failed to stat first clip: %v", err)
	}
	if after.Size() != before.Size() {
		t.Fatalf("first clip was rewritten: %d bytes -> %d bytes", before.Size(), after.Size())
	}
}

func TestStartVideoRecordingBadCodec(t *testing.T) {
	opts := testOptions()
	opts.Codec = "ZZZZ"
	opts.Extension = "zzz"
	d := NewDetector(&frameSource{}, opts, zaptest.NewLogger(t))
	defer d.StopCapture()

	if _, err := d.StartVideoRecording(t.TempDir(), 15); !errors.Is(err, ErrWriterUnavailable) {
		t.Fatalf("expected ErrWriterUnavailable, got %v", err)
	}
	if d.IsRecording() || d.RecordingPath() != "" {
		t.Fatal("failed start must leave no writer behind")
	}
}

func TestStopCaptureIsIdempotent(t *testing.T) {
	src := &frameSource{frames: []gocv.Mat{blankFrame(t)}}
	d := NewDetector(src, testOptions(), zaptest.NewLogger(t))

	if _, err := d.StartVideoRecording(t.TempDir(), 10); err != nil {
		t.Fatalf("StartVideoRecording failed: %v", err)
	}
	if err := d.StopCapture(); err != nil {
		t.Fatalf("StopCapture failed: %v", err)
	}
	if err := d.StopCapture(); err != nil {
		t.Fatalf("second StopCapture failed: %v", err)
	}
	if src.closed != 1 {
		t.Fatalf("expected source closed once, got %d", src.closed)
	}
	if d.IsRecording() {
		t.Fatal("StopCapture must release the writer")
	}
	if _, ok := d.DetectMotion(); ok {
		t.Fatal("no motion after StopCapture")
	}
}
