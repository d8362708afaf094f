package service

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// ObjectStore keeps materialized assets and hands back a playable URL.
type ObjectStore interface {
	Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) (string, error)
}

type MinIOOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	URLExpiry time.Duration
}

type MinIOStore struct {
	client *minio.Client
	bucket string
	expiry time.Duration
	logger zerolog.Logger
}

func NewMinIOStore(opts MinIOOptions, logger zerolog.Logger) (*MinIOStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio init: %w", err)
	}
	expiry := opts.URLExpiry
	if expiry <= 0 {
		expiry = 72 * time.Hour
	}
	return &MinIOStore{client: client, bucket: opts.Bucket, expiry: expiry, logger: logger}, nil
}

// Put uploads r and returns a presigned GET URL. size may be -1 when unknown.
func (s *MinIOStore) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) (string, error) {
	// 确保 Bucket 存在
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return "", fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return "", fmt.Errorf("make bucket: %w", err)
		}
		s.logger.Info().Str("bucket", s.bucket).Msg("oss: bucket created")
	}

	if contentType == "" {
		contentType = contentTypeFor(objectName)
	}
	if _, err := s.client.PutObject(ctx, s.bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return "", fmt.Errorf("upload to minio: %w", err)
	}

	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, s.expiry, make(url.Values))
	if err != nil {
		return "", fmt.Errorf("presign url: %w", err)
	}
	s.logger.Info().Str("object", objectName).Int64("size", size).Msg("oss: object uploaded")
	return presigned.String(), nil
}

// contentTypeFor guesses the MIME type from the object extension.
func contentTypeFor(objectName string) string {
	switch filepath.Ext(objectName) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}

var _ ObjectStore = (*MinIOStore)(nil)
