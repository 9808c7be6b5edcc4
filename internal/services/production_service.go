package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/craftlane/api/internal/domain"
	"github.com/craftlane/api/internal/platform/textutil"
	"github.com/craftlane/api/internal/repositories"
)

const productionEventCompleted = "production.completed"

var (
	// ErrProductionInvalidInput signals the caller provided invalid data.
	ErrProductionInvalidInput = errors.New("production: invalid input")
	// ErrProductionNotFound indicates the request could not be located.
	ErrProductionNotFound = errors.New("production: not found")
	// ErrProductionForbidden indicates the actor is not the assigned printing shop.
	ErrProductionForbidden = errors.New("production: forbidden")
	// ErrProductionInvalidState indicates the transition is not legal right now.
	ErrProductionInvalidState = errors.New("production: invalid state")
	// ErrProductionConflict indicates optimistic concurrency lost after bounded retries.
	ErrProductionConflict = errors.New("production: conflict")
)

// ProductionServiceDeps bundles collaborators required to construct the production service.
type ProductionServiceDeps struct {
	Requests repositories.RequestRepository
	Shops    repositories.ShopRepository
	Events   LifecycleEventPublisher
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type productionService struct {
	requests repositories.RequestRepository
	shops    repositories.ShopRepository
	events   LifecycleEventPublisher
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewProductionService wires dependencies into a concrete ProductionService implementation.
func NewProductionService(deps ProductionServiceDeps) (ProductionService, error) {
	if deps.Requests == nil {
		return nil, errors.New("production service: request repository is required")
	}
	if deps.Shops == nil {
		return nil, errors.New("production service: shop repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &productionService{
		requests: deps.Requests,
		shops:    deps.Shops,
		events:   deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *productionService) ConfirmProduction(ctx context.Context, cmd ConfirmProductionCommand) (CustomizationRequest, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	actor := strings.TrimSpace(cmd.ActorID)
	if requestID == "" || actor == "" {
		return CustomizationRequest{}, fmt.Errorf("%w: request id and actor id are required", ErrProductionInvalidInput)
	}

	var updated domain.CustomizationRequest
	err := retryOnConflict(ctx, func(ctx context.Context) error {
		request, err := s.loadOwnedRequest(ctx, requestID, actor)
		if err != nil {
			return err
		}
		if request.Status != domain.RequestStatusApproved {
			return fmt.Errorf("%w: production can only be confirmed on an approved request, status is %q", ErrProductionInvalidState, request.Status)
		}
		if !planSatisfied(request.PricingAgreement, request.PaymentDetails) {
			return fmt.Errorf("%w: the agreed payment threshold has not been met", ErrProductionInvalidState)
		}

		details := ensureProductionDetails(request)
		if !domain.CanTransitionProduction(details.Status, domain.ProductionStatusConfirmed) {
			return fmt.Errorf("%w: production cannot be confirmed from %q", ErrProductionInvalidState, details.Status)
		}

		now := s.clock()
		details.Status = domain.ProductionStatusConfirmed
		details.ConfirmedAt = &now
		details.EstimatedCompletionDate = cmd.EstimatedCompletionDate
		if len(cmd.Materials) > 0 {
			details.Materials = sanitizeMaterials(cmd.Materials)
		}
		if notes := strings.TrimSpace(cmd.Notes); notes != "" {
			details.Notes = textutil.SanitizeFreeText(notes)
		}
		request.ProductionDetails = details

		expected := request.UpdatedAt
		updated, err = s.requests.Update(ctx, request, &expected)
		return err
	})
	if err != nil {
		return CustomizationRequest{}, s.mapError(err)
	}

	s.logger(ctx, "production.confirmed", map[string]any{"request": requestID, "shop": actor})
	return updated, nil
}

func (s *productionService) StartProduction(ctx context.Context, cmd StartProductionCommand) (CustomizationRequest, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	actor := strings.TrimSpace(cmd.ActorID)
	if requestID == "" || actor == "" {
		return CustomizationRequest{}, fmt.Errorf("%w: request id and actor id are required", ErrProductionInvalidInput)
	}

	var updated domain.CustomizationRequest
	err := retryOnConflict(ctx, func(ctx context.Context) error {
		request, err := s.loadOwnedRequest(ctx, requestID, actor)
		if err != nil {
			return err
		}
		details := request.ProductionDetails
		if details == nil || !domain.CanTransitionProduction(details.Status, domain.ProductionStatusInProgress) {
			current := domain.ProductionStatusNotStarted
			if details != nil {
				current = details.Status
			}
			return fmt.Errorf("%w: production cannot start from %q", ErrProductionInvalidState, current)
		}
		if !domain.CanTransitionRequest(request.Status, domain.RequestStatusInProduction) {
			return fmt.Errorf("%w: request cannot enter production from %q", ErrProductionInvalidState, request.Status)
		}

		now := s.clock()
		details.Status = domain.ProductionStatusInProgress
		details.StartedAt = &now
		request.ProductionDetails = details
		request.Status = domain.RequestStatusInProduction

		expected := request.UpdatedAt
		updated, err = s.requests.Update(ctx, request, &expected)
		return err
	})
	if err != nil {
		return CustomizationRequest{}, s.mapError(err)
	}

	s.logger(ctx, "production.started", map[string]any{"request": requestID, "shop": actor})
	return updated, nil
}

func (s *productionService) CompleteProduction(ctx context.Context, cmd CompleteProductionCommand) (CustomizationRequest, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	actor := strings.TrimSpace(cmd.ActorID)
	if requestID == "" || actor == "" {
		return CustomizationRequest{}, fmt.Errorf("%w: request id and actor id are required", ErrProductionInvalidInput)
	}

	var updated domain.CustomizationRequest
	passed := cmd.QualityCheckPassed
	err := retryOnConflict(ctx, func(ctx context.Context) error {
		request, err := s.loadOwnedRequest(ctx, requestID, actor)
		if err != nil {
			return err
		}
		details := request.ProductionDetails
		if details == nil || details.Status != domain.ProductionStatusInProgress {
			current := domain.ProductionStatusNotStarted
			if details != nil {
				current = details.Status
			}
			return fmt.Errorf("%w: only in-progress production can be completed, status is %q", ErrProductionInvalidState, current)
		}

		details.QualityCheckPassed = &passed
		if notes := strings.TrimSpace(cmd.QualityCheckNotes); notes != "" {
			details.QualityCheckNotes = textutil.SanitizeFreeText(notes)
		}

		// A failed quality check records the outcome and keeps production
		// running so the shop can rework and re-submit.
		if passed {
			if !domain.CanTransitionRequest(request.Status, domain.RequestStatusReady) {
				return fmt.Errorf("%w: request cannot become ready from %q", ErrProductionInvalidState, request.Status)
			}
			now := s.clock()
			details.Status = domain.ProductionStatusCompleted
			details.CompletedAt = &now
			request.Status = domain.RequestStatusReady
		}
		request.ProductionDetails = details

		expected := request.UpdatedAt
		updated, err = s.requests.Update(ctx, request, &expected)
		return err
	})
	if err != nil {
		return CustomizationRequest{}, s.mapError(err)
	}

	if passed {
		s.publishEvent(ctx, LifecycleEvent{
			Type:       productionEventCompleted,
			RequestID:  updated.ID,
			Actor:      actor,
			OccurredAt: s.clock(),
			Data: map[string]any{
				"qualityCheckPassed": true,
			},
		})
	} else {
		s.logger(ctx, "production.quality_check.failed", map[string]any{"request": requestID, "shop": actor})
	}
	return updated, nil
}

func (s *productionService) UpdateProduction(ctx context.Context, cmd UpdateProductionCommand) (CustomizationRequest, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	actor := strings.TrimSpace(cmd.ActorID)
	if requestID == "" || actor == "" {
		return CustomizationRequest{}, fmt.Errorf("%w: request id and actor id are required", ErrProductionInvalidInput)
	}
	if cmd.Status != nil {
		switch *cmd.Status {
		case domain.ProductionStatusConfirmed, domain.ProductionStatusInProgress:
		case domain.ProductionStatusCompleted, domain.ProductionStatusCancelled:
			return CustomizationRequest{}, fmt.Errorf("%w: status %q must go through its dedicated operation", ErrProductionInvalidInput, *cmd.Status)
		default:
			return CustomizationRequest{}, fmt.Errorf("%w: unknown production status %q", ErrProductionInvalidInput, *cmd.Status)
		}
	}

	var updated domain.CustomizationRequest
	err := retryOnConflict(ctx, func(ctx context.Context) error {
		request, err := s.loadOwnedRequest(ctx, requestID, actor)
		if err != nil {
			return err
		}
		details := request.ProductionDetails
		if details == nil || details.Status == domain.ProductionStatusNotStarted {
			return fmt.Errorf("%w: production has not been confirmed yet", ErrProductionInvalidState)
		}
		if details.Status == domain.ProductionStatusCompleted || details.Status == domain.ProductionStatusCancelled {
			return fmt.Errorf("%w: production is finished, status is %q", ErrProductionInvalidState, details.Status)
		}

		if cmd.Status != nil && *cmd.Status != details.Status {
			if !domain.CanTransitionProduction(details.Status, *cmd.Status) {
				return fmt.Errorf("%w: production cannot move from %q to %q", ErrProductionInvalidState, details.Status, *cmd.Status)
			}
			if *cmd.Status == domain.ProductionStatusInProgress {
				if !domain.CanTransitionRequest(request.Status, domain.RequestStatusInProduction) {
					return fmt.Errorf("%w: request cannot enter production from %q", ErrProductionInvalidState, request.Status)
				}
				now := s.clock()
				details.StartedAt = &now
				request.Status = domain.RequestStatusInProduction
			}
			details.Status = *cmd.Status
		}
		if cmd.EstimatedCompletionDate != nil {
			details.EstimatedCompletionDate = cmd.EstimatedCompletionDate
		}
		if cmd.Materials != nil {
			details.Materials = sanitizeMaterials(cmd.Materials)
		}
		if cmd.Notes != nil {
			details.Notes = textutil.SanitizeFreeText(strings.TrimSpace(*cmd.Notes))
		}
		request.ProductionDetails = details

		expected := request.UpdatedAt
		updated, err = s.requests.Update(ctx, request, &expected)
		return err
	})
	if err != nil {
		return CustomizationRequest{}, s.mapError(err)
	}

	return updated, nil
}

// loadOwnedRequest resolves the actor's shop and verifies it is the one
// assigned to the request.
func (s *productionService) loadOwnedRequest(ctx context.Context, requestID, actorID string) (domain.CustomizationRequest, error) {
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return domain.CustomizationRequest{}, err
	}
	if request.PrintingShopID == nil {
		return domain.CustomizationRequest{}, fmt.Errorf("%w: no printing shop is assigned to the request", ErrProductionInvalidState)
	}

	shop, err := s.shops.FindByUserID(ctx, actorID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.CustomizationRequest{}, fmt.Errorf("%w: actor does not operate a printing shop", ErrProductionForbidden)
		}
		return domain.CustomizationRequest{}, err
	}
	if shop.ID != *request.PrintingShopID {
		return domain.CustomizationRequest{}, fmt.Errorf("%w: request is assigned to a different shop", ErrProductionForbidden)
	}
	return request, nil
}

func ensureProductionDetails(request domain.CustomizationRequest) *domain.ProductionDetails {
	if request.ProductionDetails != nil {
		cloned := *request.ProductionDetails
		return &cloned
	}
	return &domain.ProductionDetails{Status: domain.ProductionStatusNotStarted}
}

func sanitizeMaterials(materials []string) []string {
	out := make([]string, 0, len(materials))
	for _, material := range materials {
		material = strings.TrimSpace(material)
		if material == "" {
			continue
		}
		out = append(out, textutil.SanitizeFreeText(material))
	}
	return out
}

func (s *productionService) mapError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrProductionNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrProductionConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("production: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *productionService) publishEvent(ctx context.Context, event LifecycleEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishLifecycleEvent(ctx, event); err != nil {
		s.logger(ctx, "production.event.publish.failed", map[string]any{
			"type":    event.Type,
			"request": event.RequestID,
			"error":   err.Error(),
		})
	}
}
