package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Expiry    time.Duration
}

// MinioUploader stores exports in a bucket and hands out presigned GET links.
type MinioUploader struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewMinioUploader connects to the object store and creates the bucket if
// it does not exist yet.
func NewMinioUploader(ctx context.Context, cfg MinioConfig) (*MinioUploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		log.WithField("bucket", cfg.Bucket).Info("archive: created export bucket")
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = DefaultLinkExpiry
	}
	return &MinioUploader{client: client, bucket: cfg.Bucket, expiry: expiry}, nil
}

func (u *MinioUploader) Upload(ctx context.Context, object string, body []byte, contentType string) (string, error) {
	if _, err := u.client.PutObject(ctx, u.bucket, object, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	params := url.Values{}
	params.Set("response-content-disposition", "attachment")
	link, err := u.client.PresignedGetObject(ctx, u.bucket, object, u.expiry, params)
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return link.String(), nil
}
