package upload

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"firewatch/internal/config"
)

// Uploader pushes detection images to an S3-compatible object store.
// Uploads are best-effort from the pipeline's perspective: a failed upload
// never blocks the detection record, which is stored with an empty ref.
type Uploader struct {
	client *minio.Client
	bucket string
}

func New(cfg config.UploadConfig) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return &Uploader{client: client, bucket: cfg.Bucket}, nil
}

func (u *Uploader) ensureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{})
	}
	return nil
}

// Upload stores the file under its base name and returns bucket/object as
// the external reference.
func (u *Uploader) Upload(ctx context.Context, path string) (string, error) {
	if err := u.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("bucket error: %w", err)
	}
	objectName := filepath.Base(path)
	_, err := u.client.FPutObject(ctx, u.bucket, objectName, path, minio.PutObjectOptions{
		ContentType: "image/jpeg",
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", objectName, err)
	}
	return u.bucket + "/" + objectName, nil
}

// Disabled is an Uploader stand-in used when no object store is configured.
type Disabled struct{}

func (Disabled) Upload(context.Context, string) (string, error) {
	return "", nil
}
