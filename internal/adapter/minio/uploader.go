package minio

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// objectStore is the subset of *minio.Client the uploader uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Config holds the connection settings for the export bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Secure    bool
}

// Uploader copies exported files into an S3-compatible bucket.
type Uploader struct {
	client objectStore
	bucket string
	prefix string
	logger *slog.Logger
}

// NewUploader connects to the object store described by cfg.
func NewUploader(cfg Config, logger *slog.Logger) (*Uploader, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize minio client: %w", err)
	}
	return &Uploader{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, logger: logger}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", u.bucket, err)
	}
	if exists {
		return nil
	}
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", u.bucket, err)
	}
	u.logger.Info("created export bucket", "bucket", u.bucket)
	return nil
}

// Upload stores each file under the prefix and returns the URI of the first.
func (u *Uploader) Upload(ctx context.Context, files []string) (string, error) {
	var first string
	for _, f := range files {
		object := path.Join(u.prefix, filepath.Base(f))
		info, err := u.client.FPutObject(ctx, u.bucket, object, f, minio.PutObjectOptions{ContentType: contentType(f)})
		if err != nil {
			return "", fmt.Errorf("upload %s: %w", object, err)
		}
		u.logger.Debug("uploaded export file", "bucket", u.bucket, "object", object, "size", info.Size)
		if first == "" {
			first = fmt.Sprintf("s3://%s/%s", u.bucket, object)
		}
	}
	return first, nil
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".tif":
		return "image/tiff"
	case ".json":
		return "application/json"
	}
	return "text/plain"
}
