package presence

import (
	"context"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// HOG finds people with OpenCV's default HOG people detector, falling back
// to a Haar face cascade when one is configured and HOG finds nobody.
type HOG struct {
	mu     sync.Mutex
	hog    gocv.HOGDescriptor
	faces  *gocv.CascadeClassifier
	logger *zap.Logger
}

// NewHOG builds the detector. faceCascade may be empty.
func NewHOG(faceCascade string, logger *zap.Logger) (*HOG, error) {
	if logger == nil {
		logger = zap.L()
	}

	hog := gocv.NewHOGDescriptor()
	people := gocv.HOGDefaultPeopleDetector()
	defer people.Close()
	hog.SetSVMDetector(people)

	h := &HOG{hog: hog, logger: logger.Named("presence")}

	if faceCascade != "" {
		cc := gocv.NewCascadeClassifier()
		if !cc.Load(faceCascade) {
			cc.Close()
			hog.Close()
			return nil, fmt.Errorf("load face cascade %s", faceCascade)
		}
		h.faces = &cc
	}
	return h, nil
}

// Classify returns one "person" label per detection, or "motion-only".
func (h *HOG) Classify(ctx context.Context, imagePath string) []string {
	if ctx.Err() != nil {
		return []string{LabelUnclassified}
	}

	img := gocv.IMRead(imagePath, gocv.IMReadColor)
	defer img.Close()
	if img.Empty() {
		h.logger.Warn("Cannot read image for classification", zap.String("path", imagePath))
		return []string{LabelUnclassified}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	found := h.detect(img)
	if len(found) == 0 {
		return []string{LabelMotionOnly}
	}

	labels := make([]string, len(found))
	for i := range found {
		labels[i] = LabelPerson
	}
	h.logger.Debug("People detected", zap.String("path", imagePath), zap.Int("count", len(found)))
	return labels
}

func (h *HOG) detect(img gocv.Mat) []image.Rectangle {
	if rects := h.hog.DetectMultiScale(img); len(rects) > 0 {
		return rects
	}
	if h.faces == nil {
		return nil
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	return h.faces.DetectMultiScale(gray)
}

func (h *HOG) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.faces != nil {
		h.faces.Close()
		h.faces = nil
	}
	return h.hog.Close()
}
