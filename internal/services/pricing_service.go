package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/currency"

	domain "github.com/craftlane/api/internal/domain"
	"github.com/craftlane/api/internal/platform/textutil"
	"github.com/craftlane/api/internal/repositories"
)

const (
	pricingEventProposed = "pricing.proposed"
	pricingEventAgreed   = "pricing.agreed"
	pricingEventRejected = "pricing.rejected"

	milestoneIDPrefix = "ms_"
)

var (
	// ErrPricingInvalidInput signals the caller provided invalid data.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingNotFound indicates the request could not be located.
	ErrPricingNotFound = errors.New("pricing: request not found")
	// ErrPricingForbidden indicates the actor lacks the required role or ownership.
	ErrPricingForbidden = errors.New("pricing: forbidden")
	// ErrPricingInvalidState indicates the operation is not legal in the current lifecycle state.
	ErrPricingInvalidState = errors.New("pricing: invalid state")
	// ErrPricingConflict indicates optimistic concurrency lost after bounded retries.
	ErrPricingConflict = errors.New("pricing: conflict")
	// ErrPricingInvariant indicates the operation would corrupt cost or payment consistency.
	ErrPricingInvariant = errors.New("pricing: invariant violation")
)

// PricingDisputeRouter receives pricing rejections that cannot be applied
// directly because money has already moved.
type PricingDisputeRouter interface {
	OpenPricingDispute(ctx context.Context, cmd PricingDisputeCommand) (Dispute, error)
}

// PricingServiceDeps bundles collaborators required to construct the pricing service.
type PricingServiceDeps struct {
	Requests              repositories.RequestRepository
	Products              repositories.ProductRepository
	Shops                 repositories.ShopRepository
	Disputes              PricingDisputeRouter
	Events                LifecycleEventPublisher
	Clock                 func() time.Time
	IDGenerator           func() string
	Logger                func(ctx context.Context, event string, fields map[string]any)
	DisableMilestonePlans bool
}

type pricingService struct {
	requests       repositories.RequestRepository
	products       repositories.ProductRepository
	shops          repositories.ShopRepository
	disputes       PricingDisputeRouter
	events         LifecycleEventPublisher
	clock          func() time.Time
	newID          func() string
	logger         func(context.Context, string, map[string]any)
	milestonePlans bool
}

// NewPricingService wires dependencies into a concrete PricingService implementation.
func NewPricingService(deps PricingServiceDeps) (PricingService, error) {
	if deps.Requests == nil {
		return nil, errors.New("pricing service: request repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("pricing service: product repository is required")
	}
	if deps.Shops == nil {
		return nil, errors.New("pricing service: shop repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &pricingService{
		requests: deps.Requests,
		products: deps.Products,
		shops:    deps.Shops,
		disputes: deps.Disputes,
		events:   deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:          idGen,
		logger:         logger,
		milestonePlans: !deps.DisableMilestonePlans,
	}, nil
}

func (s *pricingService) ProposePricing(ctx context.Context, cmd ProposePricingCommand) (CustomizationRequest, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	actor := strings.TrimSpace(cmd.ActorID)
	if requestID == "" {
		return CustomizationRequest{}, fmt.Errorf("%w: request id is required", ErrPricingInvalidInput)
	}
	if actor == "" {
		return CustomizationRequest{}, fmt.Errorf("%w: actor id is required", ErrPricingInvalidInput)
	}
	if cmd.DesignFee < 0 {
		return CustomizationRequest{}, fmt.Errorf("%w: design fee must not be negative", ErrPricingInvalidInput)
	}

	plan := cmd.PaymentPlan
	switch plan {
	case domain.PaymentPlanUpfront, domain.PaymentPlanHalf:
		if len(cmd.Milestones) > 0 {
			return CustomizationRequest{}, fmt.Errorf("%w: milestones are only valid for milestone plans", ErrPricingInvalidInput)
		}
	case domain.PaymentPlanMilestone:
		if !s.milestonePlans {
			return CustomizationRequest{}, fmt.Errorf("%w: milestone plans are disabled", ErrPricingInvalidInput)
		}
		if len(cmd.Milestones) == 0 {
			return CustomizationRequest{}, fmt.Errorf("%w: milestone plan requires at least one milestone", ErrPricingInvalidInput)
		}
	default:
		return CustomizationRequest{}, fmt.Errorf("%w: unknown payment plan %q", ErrPricingInvalidInput, plan)
	}

	var updated CustomizationRequest
	err := retryOnConflict(ctx, func(ctx context.Context) error {
		request, err := s.requests.FindByID(ctx, requestID)
		if err != nil {
			return err
		}
		if request.DesignerID == nil || *request.DesignerID != actor {
			return fmt.Errorf("%w: only the assigned designer may propose pricing", ErrPricingForbidden)
		}
		if request.Status != domain.RequestStatusInProgress && request.Status != domain.RequestStatusAwaitingPricing {
			return fmt.Errorf("%w: pricing cannot be proposed while status is %q", ErrPricingInvalidState, request.Status)
		}

		product, err := s.products.FindByID(ctx, request.ProductID)
		if err != nil {
			return err
		}
		if _, parseErr := currency.ParseISO(product.Currency); parseErr != nil {
			return fmt.Errorf("%w: product %s carries invalid currency %q", ErrPricingInvariant, product.ID, product.Currency)
		}

		now := s.clock()
		// Product cost is always derived server-side from the catalog price and
		// the color adjustment recorded on the request.
		productCost := product.BasePrice + request.ColorAdjustment

		printingCost := int64(0)
		if request.PricingAgreement != nil {
			printingCost = request.PricingAgreement.PrintingCost
		}

		agreement := &domain.PricingAgreement{
			DesignFee:    cmd.DesignFee,
			ProductCost:  productCost,
			PrintingCost: printingCost,
			Currency:     product.Currency,
			PaymentPlan:  plan,
			ProposedBy:   actor,
			ProposedAt:   now,
		}
		agreement.RecomputeTotal()

		if plan == domain.PaymentPlanMilestone {
			milestones, err := s.buildMilestones(cmd.Milestones, agreement.TotalCost)
			if err != nil {
				return err
			}
			agreement.Milestones = milestones
		}

		target := domain.RequestStatusAwaitingPricing
		if agreement.PrintingCost > 0 {
			target = domain.RequestStatusPricingProposed
		}
		if !domain.CanTransitionRequest(request.Status, target) {
			return fmt.Errorf("%w: cannot move from %q to %q", ErrPricingInvalidState, request.Status, target)
		}

		request.PricingAgreement = agreement
		request.Status = target
		expected := request.UpdatedAt

		updated, err = s.requests.Update(ctx, request, &expected)
		return err
	})
	if err != nil {
		return CustomizationRequest{}, s.mapError(err)
	}

	s.publishEvent(ctx, LifecycleEvent{
		Type:       pricingEventProposed,
		RequestID:  updated.ID,
		Actor:      actor,
		OccurredAt: s.clock(),
		Data: map[string]any{
			"designFee":   updated.PricingAgreement.DesignFee,
			"productCost": updated.PricingAgreement.ProductCost,
			"totalCost":   updated.PricingAgreement.TotalCost,
			"paymentPlan": string(updated.PricingAgreement.PaymentPlan),
		},
	})

	return updated, nil
}

func (s *pricingService) AddShopPricing(ctx context.Context, cmd AddShopPricingCommand) (CustomizationRequest, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	actor := strings.TrimSpace(cmd.ActorID)
	if requestID == "" {
		return CustomizationRequest{}, fmt.Errorf("%w: request id is required", ErrPricingInvalidInput)
	}
	if actor == "" {
		return CustomizationRequest{}, fmt.Errorf("%w: actor id is required", ErrPricingInvalidInput)
	}
	if cmd.PrintingCost < 0 {
		return CustomizationRequest{}, fmt.Errorf("%w: printing cost must not be negative", ErrPricingInvalidInput)
	}

	var updated CustomizationRequest
	err := retryOnConflict(ctx, func(ctx context.Context) error {
		request, err := s.requests.FindByID(ctx, requestID)
		if err != nil {
			return err
		}
		if request.PrintingShopID == nil {
			return fmt.Errorf("%w: no printing shop assigned to the request", ErrPricingInvalidState)
		}
		shop, err := s.shops.FindByUserID(ctx, actor)
		if err != nil {
			if isRepoNotFound(err) {
				return fmt.Errorf("%w: actor does not own a printing shop", ErrPricingForbidden)
			}
			return err
		}
		if shop.ID != *request.PrintingShopID {
			return fmt.Errorf("%w: shop %s is not assigned to this request", ErrPricingForbidden, shop.ID)
		}
		if request.PricingAgreement == nil {
			return fmt.Errorf("%w: designer pricing has not been proposed yet", ErrPricingInvalidState)
		}

		agreement := *request.PricingAgreement
		delta := cmd.PrintingCost - agreement.PrintingCost
		agreement.PrintingCost = cmd.PrintingCost
		agreement.RecomputeTotal()

		if agreement.PaymentPlan == domain.PaymentPlanMilestone && delta != 0 {
			// Keep the milestone sum equal to the new total by folding the
			// printing-cost delta into the final milestone.
			if len(agreement.Milestones) == 0 {
				return fmt.Errorf("%w: milestone plan without milestones", ErrPricingInvariant)
			}
			milestones := make([]domain.Milestone, len(agreement.Milestones))
			copy(milestones, agreement.Milestones)
			last := len(milestones) - 1
			milestones[last].Amount += delta
			if milestones[last].Amount <= 0 {
				return fmt.Errorf("%w: printing cost change would drop milestone %s to a non-positive amount", ErrPricingInvariant, milestones[last].ID)
			}
			agreement.Milestones = milestones
		}

		if request.PaymentDetails != nil {
			details := *request.PaymentDetails
			remaining := agreement.TotalCost - details.PaidAmount
			if remaining < 0 {
				return fmt.Errorf("%w: paid amount %d exceeds new total %d", ErrPricingInvariant, details.PaidAmount, agreement.TotalCost)
			}
			details.TotalAmount = agreement.TotalCost
			details.RemainingAmount = remaining
			request.PaymentDetails = &details
		}

		if request.Status == domain.RequestStatusAwaitingPricing {
			request.Status = domain.RequestStatusPricingProposed
		}
		request.PricingAgreement = &agreement
		expected := request.UpdatedAt

		updated, err = s.requests.Update(ctx, request, &expected)
		return err
	})
	if err != nil {
		return CustomizationRequest{}, s.mapError(err)
	}

	s.publishEvent(ctx, LifecycleEvent{
		Type:       pricingEventProposed,
		RequestID:  updated.ID,
		Actor:      actor,
		OccurredAt: s.clock(),
		Data: map[string]any{
			"printingCost": updated.PricingAgreement.PrintingCost,
			"totalCost":    updated.PricingAgreement.TotalCost,
		},
	})

	return updated, nil
}

func (s *pricingService) AgreeToPricing(ctx context.Context, cmd AgreeToPricingCommand) (CustomizationRequest, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	actor := strings.TrimSpace(cmd.ActorID)
	if requestID == "" {
		return CustomizationRequest{}, fmt.Errorf("%w: request id is required", ErrPricingInvalidInput)
	}
	if actor == "" {
		return CustomizationRequest{}, fmt.Errorf("%w: actor id is required", ErrPricingInvalidInput)
	}

	var updated CustomizationRequest
	err := retryOnConflict(ctx, func(ctx context.Context) error {
		request, err := s.requests.FindByID(ctx, requestID)
		if err != nil {
			return err
		}
		if request.CustomerID != actor {
			return fmt.Errorf("%w: only the customer may agree to pricing", ErrPricingForbidden)
		}
		if request.PricingAgreement == nil {
			return fmt.Errorf("%w: no pricing agreement to agree to", ErrPricingInvalidState)
		}
		if request.PricingAgreement.Agreed() {
			return fmt.Errorf("%w: pricing has already been agreed", ErrPricingInvalidState)
		}
		if !domain.CanTransitionRequest(request.Status, domain.RequestStatusPaymentRequired) {
			return fmt.Errorf("%w: cannot agree while status is %q", ErrPricingInvalidState, request.Status)
		}

		now := s.clock()
		agreement := *request.PricingAgreement
		agreement.AgreedBy = valuePtr(actor)
		agreement.AgreedAt = &now
		request.PricingAgreement = &agreement
		request.Status = domain.RequestStatusPaymentRequired
		expected := request.UpdatedAt

		updated, err = s.requests.Update(ctx, request, &expected)
		return err
	})
	if err != nil {
		return CustomizationRequest{}, s.mapError(err)
	}

	s.publishEvent(ctx, LifecycleEvent{
		Type:       pricingEventAgreed,
		RequestID:  updated.ID,
		Actor:      actor,
		OccurredAt: s.clock(),
		Data: map[string]any{
			"totalCost": updated.PricingAgreement.TotalCost,
		},
	})

	return updated, nil
}

func (s *pricingService) RejectPricing(ctx context.Context, cmd RejectPricingCommand) (CustomizationRequest, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	actor := strings.TrimSpace(cmd.ActorID)
	if requestID == "" {
		return CustomizationRequest{}, fmt.Errorf("%w: request id is required", ErrPricingInvalidInput)
	}
	if actor == "" {
		return CustomizationRequest{}, fmt.Errorf("%w: actor id is required", ErrPricingInvalidInput)
	}
	reason := textutil.SanitizeFreeText(cmd.Reason)

	var updated CustomizationRequest
	var routed bool
	err := retryOnConflict(ctx, func(ctx context.Context) error {
		request, err := s.requests.FindByID(ctx, requestID)
		if err != nil {
			return err
		}
		if request.CustomerID != actor {
			return fmt.Errorf("%w: only the customer may reject pricing", ErrPricingForbidden)
		}
		if request.PricingAgreement == nil {
			return fmt.Errorf("%w: no pricing agreement to reject", ErrPricingInvalidState)
		}

		// Money already moved: the agreement must stay intact and the
		// disagreement becomes a dispute.
		if request.PaymentDetails.HasCompletedPayment() {
			if s.disputes == nil {
				return fmt.Errorf("%w: completed payment exists and no dispute coordinator is configured", ErrPricingInvalidState)
			}
			if _, err := s.disputes.OpenPricingDispute(ctx, PricingDisputeCommand{
				RequestID: request.ID,
				ActorID:   actor,
				Reason:    reason,
			}); err != nil {
				return err
			}
			routed = true
			updated, err = s.requests.FindByID(ctx, requestID)
			return err
		}

		if !domain.CanTransitionRequest(request.Status, domain.RequestStatusAwaitingPricing) {
			return fmt.Errorf("%w: cannot reject pricing while status is %q", ErrPricingInvalidState, request.Status)
		}

		now := s.clock()
		request.PricingAgreement = nil
		request.Status = domain.RequestStatusAwaitingPricing
		note := "pricing rejected by customer"
		if reason != "" {
			note = "pricing rejected: " + reason
		}
		request.DesignerNotes = append(request.DesignerNotes, domain.RequestNote{
			Text:      note,
			AuthorID:  actor,
			CreatedAt: now,
		})
		expected := request.UpdatedAt

		updated, err = s.requests.Update(ctx, request, &expected)
		return err
	})
	if err != nil {
		return CustomizationRequest{}, s.mapError(err)
	}

	if !routed {
		s.publishEvent(ctx, LifecycleEvent{
			Type:       pricingEventRejected,
			RequestID:  updated.ID,
			Actor:      actor,
			OccurredAt: s.clock(),
			Data: map[string]any{
				"reason": reason,
			},
		})
	}

	return updated, nil
}

func (s *pricingService) buildMilestones(inputs []MilestoneInput, totalCost int64) ([]domain.Milestone, error) {
	milestones := make([]domain.Milestone, 0, len(inputs))
	var sum int64
	for idx, input := range inputs {
		if input.Amount <= 0 {
			return nil, fmt.Errorf("%w: milestone %d amount must be positive", ErrPricingInvalidInput, idx+1)
		}
		milestones = append(milestones, domain.Milestone{
			ID:          milestoneIDPrefix + s.newID(),
			Description: textutil.SanitizeFreeText(input.Description),
			Amount:      input.Amount,
			DueAt:       input.DueAt,
		})
		sum += input.Amount
	}
	if sum != totalCost {
		return nil, fmt.Errorf("%w: milestone amounts sum to %d but total cost is %d", ErrPricingInvalidInput, sum, totalCost)
	}
	return milestones, nil
}

func (s *pricingService) mapError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPricingNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrPricingConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("pricing: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *pricingService) publishEvent(ctx context.Context, event LifecycleEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishLifecycleEvent(ctx, event); err != nil {
		s.logger(ctx, "pricing.event.publish.failed", map[string]any{
			"type":    event.Type,
			"request": event.RequestID,
			"error":   err.Error(),
		})
	}
}
