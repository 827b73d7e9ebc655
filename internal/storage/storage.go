// Package storage keeps the CRM's binary artifacts in a MinIO bucket:
// chat media, campaign attachments and lead avatars. Objects are keyed
// accountID/folder/filename so tenant data stays partitioned.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Storage struct {
	client      *minio.Client
	bucket      string
	publicURL   string
	endpointURL string // the raw endpoint, swapped for publicURL in presigned links
}

// Config holds MinIO configuration
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

// New connects to MinIO and makes sure the media bucket exists.
func New(cfg Config) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}

	s := &Storage{
		client:      client,
		bucket:      cfg.Bucket,
		publicURL:   cfg.PublicURL,
		endpointURL: fmt.Sprintf("%s://%s", scheme, cfg.Endpoint),
	}

	if err := s.ensureBucket(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

// ensureBucket creates the media bucket with a public-read policy so
// stored media resolves without presigning.
func (s *Storage) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	policy := fmt.Sprintf(`{
		"Version": "2012-10-17",
		"Statement": [
			{
				"Effect": "Allow",
				"Principal": {"AWS": ["*"]},
				"Action": ["s3:GetObject"],
				"Resource": ["arn:aws:s3:::%s/*"]
			}
		]
	}`, s.bucket)

	if err := s.client.SetBucketPolicy(ctx, s.bucket, policy); err != nil {
		return fmt.Errorf("failed to set bucket policy: %w", err)
	}
	return nil
}

// mediaKey builds the tenant-partitioned object key for an upload.
func mediaKey(accountID uuid.UUID, folder, filename string) string {
	return path.Join(accountID.String(), folder, filename)
}

// UploadFile stores an in-memory media blob and returns its public URL.
func (s *Storage) UploadFile(ctx context.Context, accountID uuid.UUID, folder, filename string, data []byte, contentType string) (string, error) {
	return s.UploadReader(ctx, accountID, folder, filename, bytes.NewReader(data), int64(len(data)), contentType)
}

// UploadReader streams a media upload into the account's partition and
// returns the public URL.
func (s *Storage) UploadReader(ctx context.Context, accountID uuid.UUID, folder, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	objectKey := mediaKey(accountID, folder, filename)

	_, err := s.client.PutObject(ctx, s.bucket, objectKey, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}

	return s.GetPublicURL(objectKey), nil
}

// GetPresignedUploadURL generates a short-lived URL the frontend can PUT
// media to directly, bypassing the API body limit.
func (s *Storage) GetPresignedUploadURL(ctx context.Context, accountID uuid.UUID, folder, filename string) (string, error) {
	objectKey := mediaKey(accountID, folder, filename)

	presignedURL, err := s.client.PresignedPutObject(ctx, s.bucket, objectKey, 15*time.Minute)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	// Presigned links carry the internal endpoint; rewrite for browsers
	urlStr := presignedURL.String()
	if s.publicURL != "" && s.endpointURL != "" {
		urlStr = strings.Replace(urlStr, s.endpointURL, s.publicURL, 1)
	}

	return urlStr, nil
}

// GetFile reads a stored object whole. Used for re-sending campaign media.
func (s *Storage) GetFile(ctx context.Context, objectKey string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// GetFileInfo returns the size and content type of a stored object.
func (s *Storage) GetFileInfo(ctx context.Context, objectKey string) (minio.ObjectInfo, error) {
	return s.client.StatObject(ctx, s.bucket, objectKey, minio.StatObjectOptions{})
}

// GetFileRange reads a byte range of a stored object, serving the media
// proxy's Range requests for audio and video scrubbing.
func (s *Storage) GetFileRange(ctx context.Context, objectKey string, offset, length int64) ([]byte, error) {
	opts := minio.GetObjectOptions{}
	if length > 0 {
		opts.SetRange(offset, offset+length-1)
	} else {
		opts.SetRange(offset, 0)
	}
	object, err := s.client.GetObject(ctx, s.bucket, objectKey, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get file range: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("failed to read file range: %w", err)
	}
	return data, nil
}

// DeleteFile removes a stored object, e.g. campaign media on delete.
func (s *Storage) DeleteFile(ctx context.Context, objectKey string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// GetPublicURL returns the browser-facing URL for an object key.
func (s *Storage) GetPublicURL(objectKey string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicURL, s.bucket, objectKey)
}

// ExtractObjectKey recovers the object key from a stored media URL so
// cleanup paths can delete by URL.
func (s *Storage) ExtractObjectKey(fullURL string) (string, error) {
	parsed, err := url.Parse(fullURL)
	if err != nil {
		return "", err
	}

	objectPath := parsed.Path
	prefix := "/" + s.bucket + "/"
	if len(objectPath) > len(prefix) {
		return objectPath[len(prefix):], nil
	}
	return objectPath, nil
}
