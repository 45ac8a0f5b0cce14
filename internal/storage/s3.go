package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/skawano/lecfeed/internal/config"
)

// S3Store uploads blobs to an S3-compatible bucket. URIs are
// s3://<bucket>/<key>. The bucket is created on first use when missing.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
	region string

	initOnce sync.Once
	initErr  error
}

func NewS3Store(cfg config.S3Config) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	access := apiKeyFromEnv(cfg.AccessKeyEnv)
	secret := apiKeyFromEnv(cfg.SecretKeyEnv)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 credentials missing: set %s and %s", cfg.AccessKeyEnv, cfg.SecretKeyEnv)
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
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: normalizePrefix(cfg.Prefix),
		region: region,
	}, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
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

func (s *S3Store) Save(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", wrapErr("save", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := s.objectKey(path)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", wrapErr("save", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *S3Store) Load(ctx context.Context, uri string) ([]byte, error) {
	key, err := s.keyFromURI(uri)
	if err != nil {
		return nil, err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, wrapErr("load", err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, wrapErr("load", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, wrapErr("load", err)
	}
	return data, nil
}

func (s *S3Store) Delete(ctx context.Context, uri string) error {
	key, err := s.keyFromURI(uri)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return nil
		}
		return wrapErr("delete", err)
	}
	return nil
}

func (s *S3Store) objectKey(path string) string {
	key := normalizeKey(path)
	if s.prefix != "" {
		return s.prefix + "/" + key
	}
	return key
}

func (s *S3Store) keyFromURI(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", wrapErr("resolve", fmt.Errorf("not an s3 URI: %q", uri))
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || key == "" {
		return "", wrapErr("resolve", fmt.Errorf("s3 URI missing object key: %q", uri))
	}
	if bucket != s.bucket {
		return "", wrapErr("resolve", fmt.Errorf("s3 URI bucket %q does not match configured bucket %q", bucket, s.bucket))
	}
	return key, nil
}

func normalizePrefix(prefix string) string {
	return normalizeKey(prefix)
}

// normalizeKey strips leading/trailing slashes and collapses empty
// segments.
func normalizeKey(key string) string {
	parts := strings.Split(strings.Trim(key, "/"), "/")
	kept := parts[:0]
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, "/")
}
