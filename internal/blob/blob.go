// Package blob stores avatars and note images in an S3 compatible bucket.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"tilly/api/internal/util"
)

var ErrNotConfigured = errors.New("object storage not configured")

// MaxObjectSize caps uploads accepted through the API.
const MaxObjectSize = 10 << 20

var allowedContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// Store wraps a minio client. A nil *Store rejects writes with
// ErrNotConfigured and treats removals as no-ops.
type Store struct {
	client *minio.Client
	bucket string
}

func New(opts Options) (*Store, error) {
	if opts.Endpoint == "" {
		return nil, ErrNotConfigured
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Store{client: client, bucket: opts.Bucket}, nil
}

func (s *Store) EnsureBucket(ctx context.Context) error {
	if s == nil {
		return ErrNotConfigured
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	log.Info("created object storage bucket", "bucket", s.bucket)
	return nil
}

// ObjectKey builds "<scope>/<ownerID>/<random><ext>" for contentType. It
// fails for content types other than the supported images.
func ObjectKey(scope, ownerID, contentType string) (string, error) {
	ext, ok := allowedContentTypes[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return "", fmt.Errorf("unsupported content type %q", contentType)
	}
	return path.Join(scope, ownerID, util.RandomHex(12)+ext), nil
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if s == nil {
		return ErrNotConfigured
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// RemoveObjects deletes keys and returns the first failure.
func (s *Store) RemoveObjects(ctx context.Context, keys []string) error {
	if s == nil || len(keys) == 0 {
		return nil
	}
	objects := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		if key != "" {
			objects <- minio.ObjectInfo{Key: key}
		}
	}
	close(objects)

	var errs []error
	for result := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			errs = append(errs, fmt.Errorf("remove object %s: %w", result.ObjectName, result.Err))
		}
	}
	return errors.Join(errs...)
}

// PresignedURL returns a time-limited GET URL, or "" when storage is off.
func (s *Store) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if s == nil || key == "" {
		return "", nil
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil {
		return nil
	}
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
