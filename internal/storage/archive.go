package storage

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/mikeyg42/camwatch/internal/config"
)

const (
	archiveConnectTimeout = 30 * time.Second
	archiveUploadTimeout  = 5 * time.Minute
	archiveMaxRetries     = 4
	archiveRetryInterval  = time.Second
)

// objectPutter is the slice of *minio.Client the archive uses.
type objectPutter interface {
	FPutObject(ctx context.Context, bucket, key, path string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type archiveJob struct {
	kind   string
	path   string
	queued time.Time
}

// ArchiveMetrics counts mirror outcomes.
type ArchiveMetrics struct {
	Uploaded atomic.Uint64
	Failed   atomic.Uint64
	Dropped  atomic.Uint64
}

// Archive copies alert artifacts to a bucket in the background. Enqueue
// never blocks; Run drains the queue until its context ends.
type Archive struct {
	client        objectPutter
	bucket        string
	queue         chan archiveJob
	logger        *zap.Logger
	now           func() time.Time
	maxRetries    uint64
	retryInterval time.Duration

	Metrics ArchiveMetrics
}

// NewArchive connects to the configured endpoint and creates the bucket if
// it does not exist.
func NewArchive(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (*Archive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create archive client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, archiveConnectTimeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	a := newArchive(client, cfg.Bucket, cfg.QueueSize, logger)
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		a.logger.Info("Created archive bucket", zap.String("bucket", cfg.Bucket))
	}
	return a, nil
}

func newArchive(client objectPutter, bucket string, queueSize int, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.L()
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Archive{
		client:        client,
		bucket:        bucket,
		queue:         make(chan archiveJob, queueSize),
		logger:        logger.Named("archive"),
		now:           time.Now,
		maxRetries:    archiveMaxRetries,
		retryInterval: archiveRetryInterval,
	}
}

// Enqueue schedules path for upload under kind. It reports false when the
// queue is full and the upload was dropped.
func (a *Archive) Enqueue(kind, path string) bool {
	job := archiveJob{kind: kind, path: path, queued: a.now()}
	select {
	case a.queue <- job:
		return true
	default:
		a.Metrics.Dropped.Add(1)
		a.logger.Warn("Archive queue full, dropping upload",
			zap.String("path", path),
			zap.Int("queue_size", cap(a.queue)))
		return false
	}
}

// Run uploads queued artifacts one at a time. It returns nil when ctx is
// cancelled; pending jobs are abandoned.
func (a *Archive) Run(ctx context.Context) error {
	a.logger.Info("Archive worker started", zap.String("bucket", a.bucket))
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Archive worker stopped",
				zap.Uint64("uploaded", a.Metrics.Uploaded.Load()),
				zap.Int("pending", len(a.queue)))
			return nil
		case job := <-a.queue:
			if err := a.upload(ctx, job); err != nil {
				a.Metrics.Failed.Add(1)
				a.logger.Warn("Archive upload failed", zap.String("path", job.path), zap.Error(err))
				continue
			}
			a.Metrics.Uploaded.Add(1)
		}
	}
}

func (a *Archive) upload(ctx context.Context, job archiveJob) error {
	key := ObjectKey(job.kind, job.path, job.queued)
	opts := minio.PutObjectOptions{ContentType: contentTypeFor(job.path)}

	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = a.retryInterval
	ebo.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(ebo, a.maxRetries), ctx)

	op := func() error {
		uctx, cancel := context.WithTimeout(ctx, archiveUploadTimeout)
		defer cancel()
		info, err := a.client.FPutObject(uctx, a.bucket, key, job.path, opts)
		if err != nil {
			return err
		}
		a.logger.Debug("Artifact archived",
			zap.String("key", key),
			zap.Int64("size", info.Size),
			zap.String("etag", info.ETag))
		return nil
	}
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// ObjectKey builds "<kind>/<YYYY-MM-DD>/<basename>".
func ObjectKey(kind, path string, at time.Time) string {
	return strings.Join([]string{kind, at.Format("2006-01-02"), filepath.Base(path)}, "/")
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
