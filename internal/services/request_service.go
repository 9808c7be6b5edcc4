package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/craftlane/api/internal/domain"
	"github.com/craftlane/api/internal/repositories"
)

const defaultAttachmentLinkTTL = 15 * time.Minute

var (
	// ErrRequestInvalidInput signals the caller provided invalid data.
	ErrRequestInvalidInput = errors.New("request: invalid input")
	// ErrRequestNotFound indicates the request could not be located.
	ErrRequestNotFound = errors.New("request: not found")
)

// AttachmentSigner mints time-limited download URLs for stored attachments.
type AttachmentSigner interface {
	SignDownload(ctx context.Context, storagePath string, ttl time.Duration) (string, time.Time, error)
}

// RequestServiceDeps bundles collaborators required to construct the request read service.
type RequestServiceDeps struct {
	Requests repositories.RequestRepository
	Signer   AttachmentSigner
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type requestService struct {
	requests repositories.RequestRepository
	signer   AttachmentSigner
	logger   func(context.Context, string, map[string]any)
}

// NewRequestService wires dependencies into a concrete RequestService implementation.
func NewRequestService(deps RequestServiceDeps) (RequestService, error) {
	if deps.Requests == nil {
		return nil, errors.New("request service: request repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &requestService{
		requests: deps.Requests,
		signer:   deps.Signer,
		logger:   logger,
	}, nil
}

func (s *requestService) GetRequest(ctx context.Context, requestID string, opts RequestReadOptions) (RequestDetail, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return RequestDetail{}, fmt.Errorf("%w: request id is required", ErrRequestInvalidInput)
	}

	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return RequestDetail{}, s.mapError(err)
	}

	detail := RequestDetail{Request: request}
	if opts.SignAttachments && s.signer != nil {
		detail.AttachmentLinks = s.signAttachments(ctx, request, opts.LinkTTL)
	}
	return detail, nil
}

func (s *requestService) ListRequests(ctx context.Context, filter RequestListFilter) (domain.CursorPage[CustomizationRequest], error) {
	page, err := s.requests.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[CustomizationRequest]{}, s.mapError(err)
	}
	return page, nil
}

// signAttachments signs every stored attachment, grouped by purpose. A signing
// failure drops the single link and is logged rather than failing the read.
func (s *requestService) signAttachments(ctx context.Context, request domain.CustomizationRequest, ttl time.Duration) []AttachmentLink {
	if ttl <= 0 {
		ttl = defaultAttachmentLinkTTL
	}

	groups := []struct {
		purpose     string
		attachments []domain.Attachment
	}{
		{"reference", request.Attachments.Reference},
		{"draft", request.Attachments.Draft},
		{"final_proof", request.Attachments.FinalProof},
		{"production", request.Attachments.Production},
	}

	var links []AttachmentLink
	for _, group := range groups {
		for _, attachment := range group.attachments {
			if attachment.StoragePath == "" {
				continue
			}
			url, expiresAt, err := s.signer.SignDownload(ctx, attachment.StoragePath, ttl)
			if err != nil {
				s.logger(ctx, "request.attachment.sign.failed", map[string]any{
					"request": request.ID,
					"object":  attachment.StoragePath,
					"error":   err.Error(),
				})
				continue
			}
			links = append(links, AttachmentLink{
				Purpose:   group.purpose,
				FileName:  attachment.Filename,
				URL:       url,
				ExpiresAt: expiresAt,
			})
		}
	}
	return links
}

func (s *requestService) mapError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrRequestNotFound, err)
	}
	return err
}
