package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config selects the object-storage target for the report archive.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3ConfigFromEnv reads the PERFLENS_S3_* variables. ok is false when no
// endpoint is configured, which disables archiving.
func S3ConfigFromEnv() (S3Config, bool) {
	endpoint := strings.TrimSpace(os.Getenv("PERFLENS_S3_ENDPOINT"))
	if endpoint == "" {
		return S3Config{}, false
	}
	return S3Config{
		Endpoint:  endpoint,
		Region:    os.Getenv("PERFLENS_S3_REGION"),
		AccessKey: os.Getenv("PERFLENS_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("PERFLENS_S3_SECRET_KEY"),
		Bucket:    os.Getenv("PERFLENS_S3_BUCKET"),
		UseSSL:    strings.EqualFold(os.Getenv("PERFLENS_S3_USE_SSL"), "true"),
	}, true
}

// S3Archive mirrors saved reports into an S3 bucket. The bucket is created
// lazily on first use.
type S3Archive struct {
	client   *minio.Client
	bucket   string
	region   string
	initOnce sync.Once
	initErr  error
}

func NewS3Archive(cfg S3Config) (*S3Archive, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("report: s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("report: s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		bucket = "perflens-reports"
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("report: init s3 client: %w", err)
	}
	return &S3Archive{client: client, bucket: bucket, region: region}, nil
}

// Put uploads one report body under its file name.
func (a *S3Archive) Put(ctx context.Context, name string, content []byte) error {
	if !ValidName(name) {
		return fmt.Errorf("report: invalid report name %q", name)
	}
	if err := a.ensureBucket(ctx); err != nil {
		return fmt.Errorf("report: ensure bucket %s: %w", a.bucket, err)
	}
	_, err := a.client.PutObject(ctx, a.bucket, name,
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: "text/markdown"})
	if err != nil {
		return fmt.Errorf("report: upload %s: %w", name, err)
	}
	return nil
}

func (a *S3Archive) ensureBucket(ctx context.Context) error {
	if a == nil || a.client == nil {
		return fmt.Errorf("archive is nil")
	}
	a.initOnce.Do(func() {
		exists, err := a.client.BucketExists(ctx, a.bucket)
		if err != nil {
			a.initErr = err
			return
		}
		if exists {
			return
		}
		a.initErr = a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region})
	})
	return a.initErr
}
