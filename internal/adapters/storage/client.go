package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MetadataHash is the user metadata entry holding the artifact SHA-256.
const MetadataHash = "Sha256"

// LaudoArchive stores laudo artifacts in a MinIO bucket.
type LaudoArchive struct {
	client *minio.Client
	bucket string
}

// NewLaudoArchive creates a MinIO-backed laudo archive.
func NewLaudoArchive(cfg Config) (*LaudoArchive, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, fmt.Errorf("MinIO is not configured")
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &LaudoArchive{client: client, bucket: cfg.GetMinIOBucketLaudos()}, nil
}

// EnsureBucketExists creates the laudo bucket if it doesn't exist.
func (a *LaudoArchive) EnsureBucketExists(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
		}
	}

	return nil
}

// Archive uploads the artifact under its content-addressed key and returns the key.
func (a *LaudoArchive) Archive(ctx context.Context, loteID int64, hash string, artifact io.Reader, size int64) (string, error) {
	if err := ValidateArtifactSize(size); err != nil {
		return "", err
	}

	key := LaudoKey(loteID, hash)
	_, err := a.client.PutObject(ctx, a.bucket, key, artifact, size, minio.PutObjectOptions{
		ContentType:  contentTypePDF,
		UserMetadata: map[string]string{MetadataHash: hash},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload laudo %s: %w", key, err)
	}
	return key, nil
}

// Remove deletes an archived artifact. Missing objects are not an error.
func (a *LaudoArchive) Remove(ctx context.Context, key string) error {
	if err := a.client.RemoveObject(ctx, a.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove laudo %s: %w", key, err)
	}
	return nil
}

// DownloadURL creates a presigned URL for downloading an archived laudo.
func (a *LaudoArchive) DownloadURL(ctx context.Context, key string) (string, time.Time, error) {
	expiresAt := time.Now().Add(PresignedURLTTL)

	reqParams := make(url.Values)
	reqParams.Set("response-content-type", contentTypePDF)

	presignedURL, err := a.client.PresignedGetObject(ctx, a.bucket, key, PresignedURLTTL, reqParams)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate presigned download URL: %w", err)
	}
	return presignedURL.String(), expiresAt, nil
}
