package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"strings"
	"syscall"
	"time"

	"google.golang.org/api/googleapi"

	"enricher-backend/internal/models"
)

// ObjectStore is a blob backend. Put overwrites any existing object at key
// and returns the number of bytes stored.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error)
	Bucket() string
}

type UploaderConfig struct {
	KeyPrefix   string
	URLTemplate string // "{bucket}" and "{key}" are substituted
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Uploader writes artifacts to an ObjectStore with a per-attempt timeout and
// bounded retries on transient failures.
type Uploader struct {
	store ObjectStore
	cfg   UploaderConfig
	sleep func(ctx context.Context, d time.Duration) error
}

func NewUploader(store ObjectStore, cfg UploaderConfig) *Uploader {
	if cfg.URLTemplate == "" {
		cfg.URLTemplate = "https://storage.googleapis.com/{bucket}/{key}"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}
	return &Uploader{store: store, cfg: cfg, sleep: sleepCtx}
}

// Key returns the object key for a file name.
func (u *Uploader) Key(fileName string) string {
	prefix := strings.Trim(u.cfg.KeyPrefix, "/")
	if prefix == "" {
		return fileName
	}
	return prefix + "/" + fileName
}

// PublicURL renders the configured template for key.
func (u *Uploader) PublicURL(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	r := strings.NewReplacer("{bucket}", u.store.Bucket(), "{key}", strings.Join(segments, "/"))
	return r.Replace(u.cfg.URLTemplate)
}

// Upload stores artifact under the prefixed fileName.
func (u *Uploader) Upload(ctx context.Context, fileName string, artifact *models.MediaArtifact) (*models.StoredObject, error) {
	key := u.Key(fileName)
	if artifact == nil || artifact.Path == "" {
		return nil, &StorageWriteError{Key: key, Message: "nothing to upload"}
	}

	var lastErr error
	for attempt := 0; attempt <= u.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := u.backoff(attempt)
			log.Printf("Upload %s attempt %d failed, retrying in %s: %v", key, attempt, wait, lastErr)
			if err := u.sleep(ctx, wait); err != nil {
				return nil, &StorageWriteError{Key: key, Message: "upload canceled", Transient: true, Err: lastErr}
			}
		}

		size, err := u.attempt(ctx, key, artifact)
		if err == nil {
			return &models.StoredObject{
				FileName:  fileName,
				PublicURL: u.PublicURL(key),
				SizeBytes: size,
				BlobName:  key,
			}, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isTransientStorageError(err) {
			break
		}
	}

	return nil, &StorageWriteError{
		Key:       key,
		Message:   "upload failed",
		Transient: isTransientStorageError(lastErr),
		Err:       lastErr,
	}
}

func (u *Uploader) attempt(ctx context.Context, key string, artifact *models.MediaArtifact) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	file, err := artifact.Open()
	if err != nil {
		return 0, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer file.Close()

	contentType := artifact.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return u.store.Put(ctx, key, contentType, file)
}

// backoff is base*2^(attempt-1), capped.
func (u *Uploader) backoff(attempt int) time.Duration {
	d := u.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= u.cfg.BackoffMax {
			return u.cfg.BackoffMax
		}
	}
	return d
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

// isTransientStorageError is true for failures a retry may fix: throttling,
// server errors, timeouts and dropped connections.
func isTransientStorageError(err error) bool {
	if err == nil {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 408 || gerr.Code == 429 || gerr.Code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
