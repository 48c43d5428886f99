// Package storage issues presigned URLs for chat attachments. Clients upload
// directly to object storage; the relay only ever carries attachment metadata.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"counselconnect-backend/pkg/constants"
	apperrors "counselconnect-backend/pkg/errors"
)

// maxAttachmentSize caps direct uploads at 25 MiB.
const maxAttachmentSize = 25 << 20

var allowedContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"audio/mpeg":      true,
	"audio/ogg":       true,
	"video/mp4":       true,
	"application/pdf": true,
}

// Service handles attachment storage operations
type Service struct {
	client *minio.Client
	bucket string
}

// NewService creates the storage service and ensures the attachment bucket exists
func NewService(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Service{client: client, bucket: bucket}, nil
}

// UploadGrant is a presigned PUT for one attachment object
type UploadGrant struct {
	Bucket    string    `json:"bucket"`
	Object    string    `json:"object"`
	UploadURL string    `json:"upload_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GrantUpload returns a presigned PUT URL for a new attachment object owned
// by the uploading identity
func (s *Service) GrantUpload(ctx context.Context, owner uuid.UUID, contentType string, size int64) (*UploadGrant, error) {
	if !allowedContentTypes[contentType] {
		return nil, apperrors.ValidationError(fmt.Sprintf("unsupported content type: %s", contentType))
	}
	if size <= 0 || size > maxAttachmentSize {
		return nil, apperrors.ValidationError("attachment size must be between 1 byte and 25 MiB")
	}

	object := fmt.Sprintf("attachments/%s/%s", owner, uuid.New())

	uploadURL, err := s.client.PresignedPutObject(ctx, s.bucket, object, constants.PresignedURLExpiry)
	if err != nil {
		return nil, apperrors.StorageError(err)
	}

	return &UploadGrant{
		Bucket:    s.bucket,
		Object:    object,
		UploadURL: uploadURL.String(),
		ExpiresAt: time.Now().Add(constants.PresignedURLExpiry),
	}, nil
}

// GrantDownload returns a presigned GET URL for an attachment object
func (s *Service) GrantDownload(ctx context.Context, bucket, object string) (string, error) {
	if bucket != s.bucket {
		return "", apperrors.ValidationError("unknown attachment bucket")
	}
	if object == "" {
		return "", apperrors.ValidationError("attachment object is required")
	}

	downloadURL, err := s.client.PresignedGetObject(ctx, s.bucket, object, constants.PresignedURLExpiry, url.Values{})
	if err != nil {
		return "", apperrors.StorageError(err)
	}
	return downloadURL.String(), nil
}
