package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/couchcryptid/fire-perimeter-service/internal/domain"
)

// PreviewContentType is the content type of archived RGB previews.
const PreviewContentType = "image/tiff"

// Options configures the S3-compatible object store.
type Options struct {
	Server        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Prefix        string
	Region        string
	Secure        bool
	PresignExpiry time.Duration
}

// Store archives preview rasters and presigns downloads for them.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
	expiry time.Duration
	logger *slog.Logger
}

// New creates a store. No request is made until the first upload or presign.
func New(opts Options, logger *slog.Logger) (*Store, error) {
	endpoint := strings.TrimPrefix(opts.Server, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize object store client: %w", err)
	}

	expiry := opts.PresignExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &Store{
		client: client,
		bucket: opts.Bucket,
		prefix: strings.Trim(opts.Prefix, "/"),
		expiry: expiry,
		logger: logger,
	}, nil
}

// Expiry is how long presigned URLs stay valid.
func (s *Store) Expiry() time.Duration {
	return s.expiry
}

// ObjectKey returns <prefix>/<fire>/<filename>.
func (s *Store) ObjectKey(fire, filename string) string {
	return path.Join(s.prefix, fire, filename)
}

// PreviewFilename returns the archived name of a fire's RGB preview: <fire>_<YYYY-MM-DD>_rgb.tif.
func PreviewFilename(fire string, dateOfInterest time.Time) string {
	return fmt.Sprintf("%s_%s_rgb.tif", fire, domain.FormatDate(dateOfInterest))
}

// Archive uploads the preview raster at localPath and returns its object key.
func (s *Store) Archive(ctx context.Context, fire string, dateOfInterest time.Time, localPath string) (string, error) {
	key := s.ObjectKey(fire, PreviewFilename(fire, dateOfInterest))
	info, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: PreviewContentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	s.logger.Info("preview archived", "fire_number", fire, "bucket", s.bucket, "key", key, "bytes", info.Size)
	return key, nil
}

// Presign returns a time-limited GET URL for <prefix>/<fire>/<filename>.
func (s *Store) Presign(ctx context.Context, fire, filename string) (string, error) {
	key := s.ObjectKey(fire, filename)
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

// CheckReadiness reports whether the configured bucket is reachable.
func (s *Store) CheckReadiness(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s not found", s.bucket)
	}
	return nil
}
