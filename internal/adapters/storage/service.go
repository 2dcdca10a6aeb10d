// Package storage archives emitted laudo artifacts in S3-compatible object storage.
package storage

import (
	"fmt"
	"time"
)

const (
	// PresignedURLTTL is the expiration of laudo download links.
	PresignedURLTTL = 15 * time.Minute

	// MaxArtifactSize bounds a single archived laudo.
	MaxArtifactSize int64 = 25 << 20

	contentTypePDF = "application/pdf"
)

// Config defines the configuration interface for storage.
type Config interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOBucketLaudos() string
	IsMinIOEnabled() bool
}

// LaudoKey is the object key of an emitted laudo. The hash in the key makes a
// re-upload of the same artifact land on the same object.
func LaudoKey(loteID int64, hash string) string {
	return fmt.Sprintf("laudos/%d/%s.pdf", loteID, hash)
}

// ValidateArtifactSize checks the artifact is non-empty and within limits.
func ValidateArtifactSize(sizeBytes int64) error {
	if sizeBytes <= 0 {
		return fmt.Errorf("artifact size must be greater than 0")
	}
	if sizeBytes > MaxArtifactSize {
		return fmt.Errorf("artifact size %d bytes exceeds maximum allowed size of %d bytes", sizeBytes, MaxArtifactSize)
	}
	return nil
}
