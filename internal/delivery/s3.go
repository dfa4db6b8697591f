package delivery

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/livinlefevreloca/relay/internal/stage"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Backend delivers into a bucket prefix on an S3-compatible object store.
type S3Backend struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewS3Backend(cfg S3Config) (*S3Backend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &S3Backend{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (b *S3Backend) Name() string { return BackendS3 }

// Connect verifies the bucket is reachable. The minio client is safe for
// concurrent use, so the session only carries the bucket coordinates.
func (b *S3Backend) Connect(ctx context.Context) (Session, error) {
	ok, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return nil, classifyS3(err)
	}
	if !ok {
		return nil, fmt.Errorf("bucket %q does not exist", b.bucket)
	}
	return &s3Session{backend: b}, nil
}

func (b *S3Backend) key(filename string) string {
	if b.prefix == "" {
		return filename
	}
	return path.Join(b.prefix, filename)
}

type s3Session struct {
	backend *S3Backend
}

func (s *s3Session) RemotePath(filename string) string {
	return fmt.Sprintf("s3://%s/%s", s.backend.bucket, s.backend.key(filename))
}

func (s *s3Session) Exists(ctx context.Context, filename string) (bool, error) {
	_, err := s.backend.client.StatObject(ctx, s.backend.bucket, s.backend.key(filename), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, classifyS3(err)
}

func (s *s3Session) Upload(ctx context.Context, filename, content string) (string, error) {
	_, err := s.backend.client.PutObject(ctx, s.backend.bucket, s.backend.key(filename),
		strings.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: "application/xml"})
	if err != nil {
		return "", classifyS3(err)
	}
	return s.RemotePath(filename), nil
}

func (s *s3Session) Close() error { return nil }

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

// classifyS3 marks throttling, server-side and transport errors transient.
func classifyS3(err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.StatusCode == 0:
		return stage.Transient(err)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return stage.Transient(err)
	case resp.Code == "SlowDown" || resp.Code == "RequestTimeout":
		return stage.Transient(err)
	default:
		return err
	}
}
