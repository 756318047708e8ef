package presence

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"
	"gocv.io/x/gocv"
)

func TestFormatCaption(t *testing.T) {
	testCases := []struct {
		name   string
		labels []string
		want   string
	}{
		{"empty", nil, "No objects identified."},
		{"unclassified only", []string{LabelUnclassified}, "No objects identified."},
		{"motion only", []string{LabelMotionOnly}, "No objects identified."},
		{"labels unavailable", []string{LabelLabelsUnavailable}, "No objects identified."},
		{"one person", []string{LabelPerson}, "In frame: person: 1."},
		{"two people", []string{LabelPerson, LabelPerson}, "In frame: person: 2."},
		{"first seen order", []string{"dog", LabelPerson, "dog"}, "In frame: dog: 2, person: 1."},
		{"fallback mixed in", []string{LabelUnclassified, LabelPerson}, "In frame: person: 1."},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatCaption(tc.labels); got != tc.want {
				t.Fatalf("FormatCaption(%v) = %q, want %q", tc.labels, got, tc.want)
			}
		})
	}
}

func TestNoop(t *testing.T) {
	got := Noop{}.Classify(context.Background(), "whatever.jpg")
	if len(got) != 1 || got[0] != LabelUnclassified {
		t.Fatalf("expected [unclassified], got %v", got)
	}
}

func TestHOGUnreadableImage(t *testing.T) {
	h, err := NewHOG("", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewHOG failed: %v", err)
	}
	defer h.Close()

	got := h.Classify(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"))
	if len(got) != 1 || got[0] != LabelUnclassified {
		t.Fatalf("expected [unclassified], got %v", got)
	}
}

func TestHOGEmptyScene(t *testing.T) {
	h, err := NewHOG("", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewHOG failed: %v", err)
	}
	defer h.Close()

	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 40, 40, 0), 240, 320, gocv.MatTypeCV8UC3)
	defer img.Close()
	gocv.Rectangle(&img, image.Rect(100, 100, 140, 120), color.RGBA{200, 200, 200, 0}, -1)

	path := filepath.Join(t.TempDir(), "scene.jpg")
	if !gocv.IMWrite(path, img) {
		t.Fatalf("Failed to write test image")
	}

	got := h.Classify(context.Background(), path)
	if len(got) != 1 || got[0] != LabelMotionOnly {
		t.Fatalf("expected [motion-only], got %v", got)
	}
	if FormatCaption(got) != "No objects identified." {
		t.Fatalf("unexpected caption %q", FormatCaption(got))
	}
}

func TestHOGCancelledContext(t *testing.T) {
	h, err := NewHOG("", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewHOG failed: %v", err)
	}
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := h.Classify(ctx, "any.jpg"); got[0] != LabelUnclassified {
		t.Fatalf("expected [unclassified], got %v", got)
	}
}

func TestNewHOGBadCascade(t *testing.T) {
	if _, err := NewHOG(filepath.Join(t.TempDir(), "nope.xml"), zaptest.NewLogger(t)); err == nil {
		t.Fatal("expected error for missing cascade file")
	}
}
