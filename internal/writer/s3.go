package writer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/vk/simgrid/internal/ctxlog"
)

// S3Config configures an S3Mirror.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// RunID prefixes every object key. A random one is used when empty.
	RunID string
}

// S3Mirror uploads written files to an S3-compatible bucket under
// "<run id>/<path>".
type S3Mirror struct {
	client   *minio.Client
	bucket   string
	region   string
	runID    string
	initOnce sync.Once
	initErr  error
}

// NewS3Mirror creates the client. No request is made until the first upload.
func NewS3Mirror(cfg S3Config) (*S3Mirror, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	runID := strings.TrimSpace(cfg.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Mirror{client: client, bucket: bucket, region: region, runID: runID}, nil
}

// RunID returns the key prefix of this mirror.
func (s *S3Mirror) RunID() string { return s.runID }

func (s *S3Mirror) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// Upload implements Uploader.
func (s *S3Mirror) Upload(ctx context.Context, path string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	key := ObjectKey(s.runID, path)
	info, err := s.client.FPutObject(ctx, s.bucket, key, path, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Debug("Uploaded file.", "bucket", s.bucket, "key", key, "size", info.Size)
	return nil
}

// ObjectKey returns the object key of a local path within a run.
func ObjectKey(runID, path string) string {
	p := strings.TrimLeft(filepath.ToSlash(filepath.Clean(path)), "/")
	p = strings.TrimPrefix(p, "./")
	return strings.Trim(runID, "/") + "/" + p
}
