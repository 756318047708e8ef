package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mikeyg42/camwatch/internal/camera"
	"github.com/mikeyg42/camwatch/internal/config"
	"github.com/mikeyg42/camwatch/internal/presence"
	"github.com/mikeyg42/camwatch/internal/storage"
)

type check struct {
	name string
	run  func(ctx context.Context) (string, error)
}

// runDoctor prints one line per check and returns the number of failures.
func runDoctor(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer) int {
	checks := []check{
		{"camera", func(context.Context) (string, error) { return checkCamera(cfg.Camera) }},
		{"screenshot dir", func(context.Context) (string, error) { return checkWritable(cfg.Storage.ScreenshotDir) }},
		{"video dir", func(context.Context) (string, error) { return checkWritable(cfg.Storage.VideoDir) }},
		{"classifier", func(context.Context) (string, error) { return checkClassifier(cfg.Presence, logger) }},
		{"disk", func(context.Context) (string, error) { return checkDisk(cfg.Storage) }},
	}

	failed := 0
	for _, c := range checks {
		detail, err := c.run(ctx)
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL  %-15s %v\n", c.name, err)
			continue
		}
		fmt.Fprintf(out, "ok    %-15s %s\n", c.name, detail)
	}
	return failed
}

func checkCamera(cfg config.CameraConfig) (string, error) {
	dev, err := camera.Open(cfg.Index, cfg.Width, cfg.Height)
	if err != nil {
		return "", err
	}
	defer dev.Close()

	frame := gocv.NewMat()
	defer frame.Close()
	if !dev.Read(&frame) {
		return "", fmt.Errorf("camera %d opened but returned no frame", cfg.Index)
	}
	return fmt.Sprintf("index %d, frame %dx%d", cfg.Index, frame.Cols(), frame.Rows()), nil
}

func checkWritable(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, ".camwatch-doctor-*")
	if err != nil {
		return "", fmt.Errorf("%s not writable: %w", dir, err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return dir, nil
}

func checkClassifier(cfg config.PresenceConfig, logger *zap.Logger) (string, error) {
	if !cfg.Enabled {
		return "disabled", nil
	}
	h, err := presence.NewHOG(cfg.FaceCascade, logger)
	if err != nil {
		return "", err
	}
	h.Close()
	if cfg.FaceCascade != "" {
		return "HOG people detector + face cascade", nil
	}
	return "HOG people detector", nil
}

func checkDisk(cfg config.StorageConfig) (string, error) {
	free, err := storage.DiskFree(cfg.VideoDir)
	if err != nil {
		return "", err
	}
	freeMB := mb(int64(free))
	if freeMB < float64(cfg.MaxStorageMB) {
		return "", fmt.Errorf("%.0f MB free, quota is %d MB", freeMB, cfg.MaxStorageMB)
	}
	return fmt.Sprintf("%.0f MB free", freeMB), nil
}
