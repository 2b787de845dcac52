package backup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/nextscript/emr-tools/config"
	"github.com/nextscript/emr-tools/interfaces"
	"github.com/nextscript/emr-tools/logging"
)

var _ interfaces.Uploader = (*S3Uploader)(nil)

// S3Uploader copies backup files to an S3 compatible bucket
type S3Uploader struct {
	client   *minio.Client
	bucket   string
	region   string
	initOnce sync.Once
	initErr  error
}

// S3Config holds the connection settings of an S3Uploader
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3ConfigFromConfig copies the S3 settings out of cfg
func S3ConfigFromConfig(cfg *config.Config) S3Config {
	return S3Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		UseSSL:    cfg.S3UseSSL,
	}
}

// UploaderFromConfig returns the S3 uploader configured in cfg, or nil when S3
// is disabled. A missing bucket disables S3 with a warning instead of failing.
func UploaderFromConfig(cfg *config.Config) (interfaces.Uploader, error) {
	if !cfg.S3Enabled {
		return nil, nil
	}
	if strings.TrimSpace(cfg.S3Bucket) == "" {
		logging.Warn("S3_BACKUP_ENABLED is set but S3_BUCKET is empty, S3 upload disabled")
		return nil, nil
	}
	uploader, err := NewS3Uploader(S3ConfigFromConfig(cfg))
	if err != nil {
		return nil, err
	}
	logging.Info("S3 backup enabled", "bucket", cfg.S3Bucket)
	return uploader, nil
}

// NewS3Uploader creates the client. No request is made until the first upload.
func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("s3 endpoint is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey), ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &S3Uploader{client: client, bucket: bucket, region: region}, nil
}

func (u *S3Uploader) ensureBucket(ctx context.Context) error {
	u.initOnce.Do(func() {
		exists, err := u.client.BucketExists(ctx, u.bucket)
		if err != nil {
			u.initErr = err
			return
		}
		if exists {
			return
		}
		u.initErr = u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{Region: u.region})
	})
	return u.initErr
}

// Upload stores localPath under key with infrequent access storage class
func (u *S3Uploader) Upload(ctx context.Context, localPath, key string) error {
	if err := u.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}

	_, err := u.client.FPutObject(ctx, u.bucket, key, localPath, minio.PutObjectOptions{
		ContentType:  "application/gzip",
		StorageClass: "STANDARD_IA",
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
