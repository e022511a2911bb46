// Package storage implements document byte storage over an S3-compatible
// object store.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"

	"github.com/Generatorcc/emr-ehr-core/internal/emr"
)

// MinioConfig carries connection settings for the object store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseTLS    bool
	UseSSE    bool
}

// MinioStore stores document bytes in one bucket, keyed
// {patient_id}/{document_id}/{file_name}.
type MinioStore struct {
	client *minio.Client
	bucket string
	sse    encrypt.ServerSide
}

// NewMinio connects and ensures the bucket exists.
func NewMinio(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: create bucket: %w", err)
		}
	}
	s := &MinioStore{client: client, bucket: cfg.Bucket}
	if cfg.UseSSE {
		s.sse = encrypt.NewSSE()
	}
	return s, nil
}

func (s *MinioStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if s.sse != nil {
		opts.ServerSideEncryption = s.sse
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, opts)
	if err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	return nil
}

func (s *MinioStore) Presign(ctx context.Context, key string, ttl time.Duration) (emr.PresignedURL, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return emr.PresignedURL{}, fmt.Errorf("storage: presign %s: %w", key, err)
	}
	return emr.PresignedURL{
		URL:       u.String(),
		ExpiresAt: time.Now().UTC().Add(ttl),
	}, nil
}

func (s *MinioStore) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("storage: remove %s: %w", key, err)
	}
	return nil
}
