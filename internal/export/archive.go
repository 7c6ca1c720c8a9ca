package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Archiver uploads exports to an S3-compatible bucket under
// exports/<timestamp>-<name>.
type Archiver struct {
	client objectStore
	bucket string
	now    func() time.Time
}

func NewArchiver(cfg ArchiveConfig) (*Archiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return newArchiver(client, cfg.Bucket), nil
}

func newArchiver(client objectStore, bucket string) *Archiver {
	return &Archiver{client: client, bucket: bucket, now: func() time.Time { return time.Now().UTC() }}
}

// Upload stores result and returns the object key.
func (a *Archiver) Upload(ctx context.Context, result *Result) (string, error) {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return "", fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return "", fmt.Errorf("create bucket %s: %w", a.bucket, err)
		}
	}

	key := fmt.Sprintf("exports/%s-%s", a.now().Format("20060102T150405Z"), result.Filename)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(result.Data), int64(len(result.Data)), minio.PutObjectOptions{
		ContentType: result.MimeType,
	})
	if err != nil {
		return "", fmt.Errorf("upload export %s: %w", key, err)
	}
	return key, nil
}
