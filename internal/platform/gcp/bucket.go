package gcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/pitchlabs/pitchcoach-backend/internal/platform/ctxutil"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/envutil"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/logger"
)

// BucketService is the durable blob store for job media, scratch STT
// output, and artifacts. All keys are relative to the configured media
// bucket.
type BucketService interface {
	Bucket() string

	UploadBytes(ctx context.Context, key string, data []byte, contentType string) error
	UploadText(ctx context.Context, key, text string) error
	UploadJSON(ctx context.Context, key string, v any) error

	// UploadFile streams a local file with chunked writes and bounded
	// whole-file retries. Used for the original media upload.
	UploadFile(ctx context.Context, key, localPath, contentType string) error

	DownloadText(ctx context.Context, key string) (string, error)
	DownloadToFile(ctx context.Context, key, localPath string) error

	ListKeys(ctx context.Context, prefix string) ([]string, error)

	// DeleteObject and DeletePrefix swallow not-found.
	DeleteObject(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error

	SignedUploadURL(ctx context.Context, key, contentType string, expires time.Duration) (string, error)

	URI(key string) string
	Close() error
}

type bucketService struct {
	log    *logger.Logger
	client *storage.Client
	bucket string

	uploadRetries int
	chunkSize     int
}

func NewBucketService(log *logger.Logger) (BucketService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	bucket := strings.TrimSpace(os.Getenv("GCS_MEDIA_BUCKET"))
	if bucket == "" {
		return nil, fmt.Errorf("GCS_MEDIA_BUCKET is not set")
	}

	ctx := context.Background()
	client, err := storage.NewClient(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}

	slog := log.With("service", "gcp.Bucket", "bucket", bucket)
	slog.Info("bucket service initialized")

	return &bucketService{
		log:           slog,
		client:        client,
		bucket:        bucket,
		uploadRetries: envutil.Int("GCS_UPLOAD_RETRIES", 3),
		chunkSize:     envutil.Int("GCS_UPLOAD_CHUNK_BYTES", 8*1024*1024),
	}, nil
}

func (bs *bucketService) Bucket() string { return bs.bucket }

func (bs *bucketService) URI(key string) string {
	return fmt.Sprintf("gs://%s/%s", bs.bucket, key)
}

func (bs *bucketService) Close() error {
	if bs == nil || bs.client == nil {
		return nil
	}
	return bs.client.Close()
}

func (bs *bucketService) UploadBytes(ctx context.Context, key string, data []byte, contentType string) error {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := bs.client.Bucket(bs.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func (bs *bucketService) UploadText(ctx context.Context, key, text string) error {
	return bs.UploadBytes(ctx, key, []byte(text), "text/plain; charset=utf-8")
}

func (bs *bucketService) UploadJSON(ctx context.Context, key string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json for %s: %w", key, err)
	}
	return bs.UploadBytes(ctx, key, b, "application/json")
}

func (bs *bucketService) UploadFile(ctx context.Context, key, localPath, contentType string) error {
	ctx = ctxutil.Default(ctx)

	var lastErr error
	for attempt := 1; attempt <= bs.uploadRetries; attempt++ {
		err := bs.uploadFileOnce(ctx, key, localPath, contentType)
		if err == nil {
			return nil
		}
		lastErr = err
		bs.log.Warn("file upload attempt failed",
			"key", key, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 2 * time.Second):
		}
	}
	return fmt.Errorf("upload %s after %d attempts: %w", key, bs.uploadRetries, lastErr)
}

func (bs *bucketService) uploadFileOnce(ctx context.Context, key, localPath, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	w := bs.client.Bucket(bs.bucket).Object(key).NewWriter(ctx)
	w.ChunkSize = bs.chunkSize
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (bs *bucketService) DownloadText(ctx context.Context, key string) (string, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	r, err := bs.client.Bucket(bs.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", key, err)
	}
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return string(b), nil
}

func (bs *bucketService) DownloadToFile(ctx context.Context, key, localPath string) error {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	r, err := bs.client.Bucket(bs.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("open %s: %w", key, err)
	}
	defer r.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	return nil
}

func (bs *bucketService) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	it := bs.client.Bucket(bs.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	keys := []string{}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		// Skip directory placeholder entries.
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

func (bs *bucketService) DeleteObject(ctx context.Context, key string) error {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	err := bs.client.Bucket(bs.bucket).Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (bs *bucketService) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := bs.ListKeys(ctx, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := bs.DeleteObject(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (bs *bucketService) SignedUploadURL(ctx context.Context, key, contentType string, expires time.Duration) (string, error) {
	if expires <= 0 {
		expires = 15 * time.Minute
	}
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "PUT",
		Expires: time.Now().Add(expires),
	}
	if contentType != "" {
		opts.ContentType = contentType
	}
	url, err := bs.client.Bucket(bs.bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("sign upload url for %s: %w", key, err)
	}
	return url, nil
}
