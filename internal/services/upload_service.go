package services

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/pv-frame/api/internal/domain"
)

const (
	defaultMaxUploadBytes = 25 << 20
	uploadIDPrefix        = "upload:"
	maxUploadTitleLength  = 120
)

var (
	errUploadSessionsRequired = errors.New("upload service: session service is required")
	errUploadSignerRequired   = errors.New("upload service: signer is required")
)

// ErrUploadInvalid indicates the upload description was rejected.
var ErrUploadInvalid = errors.New("upload service: invalid upload")

// ErrUploadUnavailable indicates the signer could not issue an upload target.
var ErrUploadUnavailable = errors.New("upload service: unavailable")

// UploadServiceDeps wires the collaborators of the upload service.
type UploadServiceDeps struct {
	Sessions       SessionService
	Signer         UploadSigner
	MaxUploadBytes int64
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         func(context.Context, string, map[string]any)
}

type uploadService struct {
	sessions SessionService
	signer   UploadSigner
	maxBytes int64
	policy   *bluemonday.Policy
	now      func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

var _ UploadService = (*uploadService)(nil)

// NewUploadService constructs an UploadService.
func NewUploadService(deps UploadServiceDeps) (UploadService, error) {
	if deps.Sessions == nil {
		return nil, errUploadSessionsRequired
	}
	if deps.Signer == nil {
		return nil, errUploadSignerRequired
	}

	maxBytes := deps.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &uploadService{
		sessions: deps.Sessions,
		signer:   deps.Signer,
		maxBytes: maxBytes,
		policy:   bluemonday.StrictPolicy(),
		now:      func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
	}, nil
}

// RegisterUpload signs a PUT target for the artwork, records it on the session and selects it.
func (s *uploadService) RegisterUpload(ctx context.Context, cmd RegisterUploadCommand) (UploadResult, error) {
	sessionID, err := normaliseSessionID(cmd.SessionID)
	if err != nil {
		return UploadResult{}, err
	}
	fileName := sanitizeUploadFileName(cmd.FileName)
	if fileName == "" {
		return UploadResult{}, ErrUploadInvalid
	}
	contentType := strings.ToLower(strings.TrimSpace(cmd.ContentType))
	if !strings.HasPrefix(contentType, "image/") {
		return UploadResult{}, ErrUploadInvalid
	}
	if cmd.SizeBytes <= 0 || cmd.SizeBytes > s.maxBytes {
		return UploadResult{}, ErrUploadInvalid
	}

	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return UploadResult{}, err
	}

	uploadID := uploadIDPrefix + s.newID()
	signed, err := s.signer.SignUpload(ctx, SignedUploadRequest{
		SessionID:   sessionID,
		UploadID:    uploadID,
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   cmd.SizeBytes,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return UploadResult{}, err
		}
		s.logger(ctx, "upload.sign_failed", map[string]any{"sessionId": sessionID, "error": err.Error()})
		return UploadResult{}, errors.Join(ErrUploadUnavailable, err)
	}

	art := ArtReference{
		ID:     uploadID,
		URL:    signed.ObjectURL,
		Ratio:  RatioLabel(cmd.WidthPx, cmd.HeightPx),
		Title:  s.uploadTitle(cmd.Title, fileName),
		Source: domain.ArtSourceUpload,
	}
	view, err := s.sessions.RecordUpload(ctx, sessionID, art)
	if err != nil {
		return UploadResult{}, err
	}

	s.logger(ctx, "upload.registered", map[string]any{
		"sessionId":   sessionID,
		"uploadId":    uploadID,
		"contentType": contentType,
		"sizeBytes":   cmd.SizeBytes,
		"expiresAt":   signed.ExpiresAt,
	})
	return UploadResult{Art: art, Upload: signed, Session: view}, nil
}

func (s *uploadService) uploadTitle(title, fileName string) string {
	cleaned := sanitizeTitle(s.policy, title)
	if cleaned == "" {
		cleaned = strings.TrimSuffix(fileName, path.Ext(fileName))
	}
	if runes := []rune(cleaned); len(runes) > maxUploadTitleLength {
		cleaned = string(runes[:maxUploadTitleLength])
	}
	return cleaned
}

// sanitizeUploadFileName keeps the base name and replaces characters that are unsafe in object keys.
func sanitizeUploadFileName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_', r == ' ':
			return r
		default:
			return '_'
		}
	}, name)
	name = strings.Trim(name, ". ")
	if strings.Contains(name, "..") {
		return ""
	}
	return name
}

// sanitizeTitle strips markup from a client-supplied art title and collapses whitespace.
func sanitizeTitle(policy *bluemonday.Policy, title string) string {
	return strings.Join(strings.Fields(policy.Sanitize(title)), " ")
}
