// Package storage keeps the artifact directories inside their disk quota
// and optionally mirrors alert artifacts to an object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	bytesPerMB = 1024 * 1024

	// After an over-quota pass the directory is trimmed down to this
	// fraction of the quota.
	cleanupTargetRatio = 0.8
)

type artifact struct {
	path    string
	size    int64
	modTime time.Time
}

// CleanupResult summarizes one pass over a directory.
type CleanupResult struct {
	Dir         string
	BytesBefore int64
	BytesAfter  int64
	Removed     []string
	Failed      []string
}

// Janitor deletes the oldest files in a directory once it exceeds its
// quota.
type Janitor struct {
	logger *zap.Logger
	remove func(string) error

	// Protect, when set, names a file that must survive the pass (the clip
	// currently being written). An empty return protects nothing.
	Protect func() string
}

func NewJanitor(logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.L()
	}
	return &Janitor{
		logger: logger.Named("janitor"),
		remove: os.Remove,
	}
}

// Cleanup enforces maxMB on the regular files directly inside dir. When the
// total is over quota the oldest files are removed until the total is at
// most 80% of the quota. A missing directory is not an error; a file that
// cannot be removed is logged and skipped.
func (j *Janitor) Cleanup(dir string, maxMB float64) (CleanupResult, error) {
	res := CleanupResult{Dir: dir}

	files, err := listArtifacts(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return res, nil
		}
		return res, fmt.Errorf("scan %s: %w", dir, err)
	}

	total := lo.SumBy(files, func(a artifact) int64 { return a.size })
	res.BytesBefore = total
	res.BytesAfter = total

	quota := int64(maxMB * bytesPerMB)
	if total <= quota {
		return res, nil
	}
	target := int64(float64(quota) * cleanupTargetRatio)

	j.logger.Info("Storage over quota, removing oldest files",
		zap.String("dir", dir),
		zap.Float64("used_mb", float64(total)/bytesPerMB),
		zap.Float64("quota_mb", maxMB))

	protected := ""
	if j.Protect != nil {
		protected = j.Protect()
	}

	sort.Slice(files, func(a, b int) bool { return files[a].modTime.Before(files[b].modTime) })

	for _, f := range files {
		if total <= target {
			break
		}
		if protected != "" && sameFile(f.path, protected) {
			continue
		}
		if err := j.remove(f.path); err != nil {
			j.logger.Warn("Failed to remove file", zap.String("path", f.path), zap.Error(err))
			res.Failed = append(res.Failed, f.path)
			continue
		}
		total -= f.size
		res.Removed = append(res.Removed, f.path)
		j.logger.Info("Removed file",
			zap.String("path", f.path),
			zap.Float64("size_mb", float64(f.size)/bytesPerMB))
	}

	res.BytesAfter = total
	j.logger.Info("Storage cleanup finished",
		zap.String("dir", dir),
		zap.Int("removed", len(res.Removed)),
		zap.Float64("used_mb", float64(total)/bytesPerMB))
	return res, nil
}

// Run repeats Cleanup over dirs every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context, interval time.Duration, maxMB float64, dirs ...string) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, dir := range dirs {
				if _, err := j.Cleanup(dir, maxMB); err != nil {
					j.logger.Warn("Periodic cleanup failed", zap.String("dir", dir), zap.Error(err))
				}
			}
		}
	}
}

func listArtifacts(dir string) ([]artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make([]artifact, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		files = append(files, artifact{
			path:    filepath.Join(dir, e.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	return files, nil
}

func sameFile(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
