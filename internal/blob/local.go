package blob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrSignatureInvalid indicates a local blob URL whose signature does not verify.
	ErrSignatureInvalid = errors.New("blob: signature invalid")
	// ErrSignatureExpired indicates a local blob URL past its validity window.
	ErrSignatureExpired = errors.New("blob: signature expired")
)

// LocalConfig describes filesystem-backed blob storage for development.
type LocalConfig struct {
	Root          string
	BaseURL       string
	SigningSecret []byte
	URLTTL        time.Duration
	Clock         func() time.Time
}

// LocalProvider stores blobs under a root directory and signs URLs with an
// HMAC so the serving handler can verify them without shared state.
type LocalProvider struct {
	root    string
	baseURL string
	secret  []byte
	ttl     time.Duration
	clock   func() time.Time
}

// NewLocalProvider constructs the provider and ensures the root exists.
func NewLocalProvider(cfg LocalConfig) (*LocalProvider, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, fmt.Errorf("blob: local root is required")
	}
	if len(cfg.SigningSecret) == 0 {
		return nil, fmt.Errorf("blob: local signing secret is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &LocalProvider{
		root:    cfg.Root,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		secret:  append([]byte(nil), cfg.SigningSecret...),
		ttl:     ttl,
		clock:   clock,
	}, nil
}

// PresignUpload returns a signed PUT URL served by the blob routes.
func (p *LocalProvider) PresignUpload(_ context.Context, ownerID, filename string) (SignedURL, error) {
	return p.sign(ownerID, filename)
}

// PresignDownload returns a signed GET URL served by the blob routes.
func (p *LocalProvider) PresignDownload(_ context.Context, ownerID, filename string) (SignedURL, error) {
	return p.sign(ownerID, filename)
}

// Delete removes the blob file. A missing file is not an error.
func (p *LocalProvider) Delete(_ context.Context, ownerID, filename string) error {
	path, err := p.objectPath(ownerID, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("blob: remove: %w", err)
	}
	return nil
}

// Verify checks the expiry and signature a blob route extracted from a
// request. Expiry is checked first so an expired link never reaches the
// signature comparison path.
func (p *LocalProvider) Verify(key string, expiresUnix int64, signature string) error {
	if p.clock().UTC().Unix() > expiresUnix {
		return ErrSignatureExpired
	}
	expected := p.computeSignature(key, expiresUnix)
	provided, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(expected, provided) {
		return ErrSignatureInvalid
	}
	return nil
}

// WriteObject persists uploaded bytes for the owner's blob key.
func (p *LocalProvider) WriteObject(ownerID, filename string, data []byte) error {
	path, err := p.objectPath(ownerID, filename)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("blob: create owner dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ObjectPath resolves the filesystem path for a verified blob key.
func (p *LocalProvider) ObjectPath(ownerID, filename string) (string, error) {
	return p.objectPath(ownerID, filename)
}

func (p *LocalProvider) sign(ownerID, filename string) (SignedURL, error) {
	key, err := objectKey(ownerID, filename)
	if err != nil {
		return SignedURL{}, err
	}
	expiresAt := p.clock().UTC().Add(p.ttl)
	signature := hex.EncodeToString(p.computeSignature(key, expiresAt.Unix()))

	values := url.Values{}
	values.Set("expires", strconv.FormatInt(expiresAt.Unix(), 10))
	values.Set("sig", signature)

	canonical := p.baseURL + "/blobs/" + key
	return SignedURL{
		URL:        canonical,
		SignedURL:  canonical + "?" + values.Encode(),
		Credential: values.Encode(),
		ExpiresAt:  expiresAt,
	}, nil
}

func (p *LocalProvider) computeSignature(key string, expiresUnix int64) []byte {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(key))
	mac.Write([]byte("|"))
	mac.Write([]byte(strconv.FormatInt(expiresUnix, 10)))
	return mac.Sum(nil)
}

func (p *LocalProvider) objectPath(ownerID, filename string) (string, error) {
	key, err := objectKey(ownerID, filename)
	if err != nil {
		return "", err
	}
	return filepath.Join(p.root, filepath.FromSlash(key)), nil
}
