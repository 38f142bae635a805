// Package storage issues Cloud Storage V4 signed URLs for visitor artwork uploads.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"

	"github.com/pv-frame/api/internal/services"
)

const (
	defaultUploadExpiry  = 15 * time.Minute
	maxUploadExpiry      = time.Hour
	defaultMaxUploadSize = 25 << 20
	publicStorageHost    = "https://storage.googleapis.com"
)

var (
	errNoSigner           = errors.New("storage: signer is required")
	errInvalidBucket      = errors.New("storage: bucket name is required")
	errContentTypeMissing = errors.New("storage: content type is required for uploads")
	// ErrContentTypeDenied is returned for uploads that are not images.
	ErrContentTypeDenied = errors.New("storage: content type not allowed")
	// ErrUploadTooLarge is returned when the declared size exceeds the configured maximum.
	ErrUploadTooLarge = errors.New("storage: upload exceeds maximum size")
)

var defaultAllowedContentTypes = []string{"image/jpeg", "image/png", "image/webp"}

// UploadSigner signs PUT URLs into the uploads bucket.
type UploadSigner struct {
	bucket       string
	signer       Signer
	expiry       time.Duration
	maxSize      int64
	allowed      []string
	publicBase   string
	now          func() time.Time
	signedURLFor func(bucket, object string, opts *gcs.SignedURLOptions) (string, error)
}

var _ services.UploadSigner = (*UploadSigner)(nil)

// UploadOption customises the signer.
type UploadOption func(*UploadSigner)

// WithUploadExpiry sets how long a signed URL stays valid. Values above one hour are capped.
func WithUploadExpiry(d time.Duration) UploadOption {
	return func(u *UploadSigner) {
		if d > 0 {
			u.expiry = min(d, maxUploadExpiry)
		}
	}
}

// WithMaxUploadSize bounds the object size through x-goog-content-length-range.
func WithMaxUploadSize(bytes int64) UploadOption {
	return func(u *UploadSigner) {
		if bytes > 0 {
			u.maxSize = bytes
		}
	}
}

// WithAllowedContentTypes replaces the accepted MIME types.
func WithAllowedContentTypes(types ...string) UploadOption {
	return func(u *UploadSigner) {
		if len(types) > 0 {
			u.allowed = append([]string(nil), types...)
		}
	}
}

// WithPublicBaseURL sets the URL prefix under which uploaded objects are served, e.g. a CDN.
func WithPublicBaseURL(base string) UploadOption {
	return func(u *UploadSigner) {
		if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
			u.publicBase = base
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) UploadOption {
	return func(u *UploadSigner) {
		if clock != nil {
			u.now = clock
		}
	}
}

// NewUploadSigner constructs a signer bound to one bucket.
func NewUploadSigner(bucket string, signer Signer, opts ...UploadOption) (*UploadSigner, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	u := &UploadSigner{
		bucket:       bucket,
		signer:       signer,
		expiry:       defaultUploadExpiry,
		maxSize:      defaultMaxUploadSize,
		allowed:      defaultAllowedContentTypes,
		publicBase:   publicStorageHost + "/" + bucket,
		now:          time.Now,
		signedURLFor: gcs.SignedURL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(u)
		}
	}
	return u, nil
}

// SignUpload returns a PUT target for uploads/<session>/<upload>/<file>.
func (u *UploadSigner) SignUpload(ctx context.Context, req services.SignedUploadRequest) (services.SignedUpload, error) {
	if u == nil {
		return services.SignedUpload{}, errNoSigner
	}
	object, err := UploadObjectPath(req.SessionID, req.UploadID, req.FileName)
	if err != nil {
		return services.SignedUpload{}, err
	}
	contentType := strings.ToLower(strings.TrimSpace(req.ContentType))
	if contentType == "" {
		return services.SignedUpload{}, errContentTypeMissing
	}
	if !u.contentTypeAllowed(contentType) {
		return services.SignedUpload{}, ErrContentTypeDenied
	}
	if req.SizeBytes > u.maxSize {
		return services.SignedUpload{}, ErrUploadTooLarge
	}

	expiresAt := u.now().Add(u.expiry)
	lengthRange := fmt.Sprintf("0,%d", u.maxSize)
	signed, err := u.signedURLFor(u.bucket, object, &gcs.SignedURLOptions{
		GoogleAccessID: u.signer.Email(),
		Scheme:         gcs.SigningSchemeV4,
		Method:         "PUT",
		ContentType:    contentType,
		Expires:        expiresAt,
		Headers:        []string{"x-goog-content-length-range:" + lengthRange},
		SignBytes: func(payload []byte) ([]byte, error) {
			return u.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return services.SignedUpload{}, fmt.Errorf("storage: sign upload url: %w", err)
	}

	return services.SignedUpload{
		URL:    signed,
		Method: "PUT",
		Headers: map[string]string{
			"Content-Type":                contentType,
			"x-goog-content-length-range": lengthRange,
		},
		ObjectURL: u.publicBase + "/" + escapeObject(object),
		ExpiresAt: expiresAt,
	}, nil
}

func (u *UploadSigner) contentTypeAllowed(contentType string) bool {
	for _, candidate := range u.allowed {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		if candidate == contentType {
			return true
		}
		if prefix, ok := strings.CutSuffix(candidate, "/*"); ok && strings.HasPrefix(contentType, prefix+"/") {
			return true
		}
	}
	return false
}

// UploadObjectPath composes the object key of an upload and rejects path traversal.
func UploadObjectPath(sessionID, uploadID, fileName string) (string, error) {
	session, err := validateSegment("sessionID", sessionID)
	if err != nil {
		return "", err
	}
	upload, err := validateSegment("uploadID", strings.ReplaceAll(uploadID, ":", "-"))
	if err != nil {
		return "", err
	}
	name, err := validateSegment("fileName", fileName)
	if err != nil {
		return "", err
	}
	return path.Join("uploads", session, upload, name), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("storage: %s is required", name)
	case strings.ContainsAny(value, "/\\"):
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	case strings.Contains(value, ".."):
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}

func escapeObject(object string) string {
	parts := strings.Split(object, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
