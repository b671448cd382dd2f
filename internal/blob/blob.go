// Package blob implements the storage-credential collaborator: time-limited
// upload/download URLs for artifact files plus blob disposal on delete.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultURLTTL mirrors the validity window the original service granted on
// storage credentials.
const DefaultURLTTL = 5 * time.Minute

var (
	// ErrInvalidObjectName indicates a filename that cannot be mapped to a blob key.
	ErrInvalidObjectName = errors.New("blob: invalid object name")
)

// SignedURL carries a presigned blob address. URL is the canonical location
// without credentials; SignedURL embeds the credential query; Credential is
// the raw query string on its own.
type SignedURL struct {
	URL        string
	SignedURL  string
	Credential string
	ExpiresAt  time.Time
}

// Provider issues time-limited blob URLs and disposes of stored blobs.
type Provider interface {
	PresignUpload(ctx context.Context, ownerID, filename string) (SignedURL, error)
	PresignDownload(ctx context.Context, ownerID, filename string) (SignedURL, error)
	Delete(ctx context.Context, ownerID, filename string) error
}

// objectKey namespaces blobs per owner. Path separators and parent references
// in the filename are rejected rather than cleaned.
func objectKey(ownerID, filename string) (string, error) {
	name := strings.TrimSpace(filename)
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidObjectName)
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidObjectName, filename)
	}
	owner := strings.TrimSpace(ownerID)
	if owner == "" || strings.ContainsAny(owner, `/\`) {
		return "", fmt.Errorf("%w: bad owner segment", ErrInvalidObjectName)
	}
	return owner + "/" + name, nil
}
