package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/craftlane/api/internal/domain"
	"github.com/craftlane/api/internal/platform/storage"
	"github.com/craftlane/api/internal/platform/textutil"
	"github.com/craftlane/api/internal/repositories"
)

const (
	disputeEventOpened   = "dispute.opened"
	disputeEventResolved = "dispute.resolved"

	disputeIDPrefix = "dsp_"

	disputeCategoryPricing = "pricing"
)

var (
	// ErrDisputeInvalidInput signals the caller provided invalid data.
	ErrDisputeInvalidInput = errors.New("dispute: invalid input")
	// ErrDisputeNotFound indicates the dispute, order, or request could not be located.
	ErrDisputeNotFound = errors.New("dispute: not found")
	// ErrDisputeForbidden indicates the actor may not act on this record.
	ErrDisputeForbidden = errors.New("dispute: forbidden")
	// ErrDisputeInvalidState indicates the operation is not legal in the current lifecycle state.
	ErrDisputeInvalidState = errors.New("dispute: invalid state")
	// ErrDisputeConflict indicates optimistic concurrency lost after bounded retries.
	ErrDisputeConflict = errors.New("dispute: conflict")
)

// DisputeServiceDeps bundles collaborators required to construct the dispute service.
type DisputeServiceDeps struct {
	Disputes          repositories.DisputeRepository
	Orders            repositories.OrderRepository
	Requests          repositories.RequestRepository
	Shops             repositories.ShopRepository
	Events            LifecycleEventPublisher
	Clock             func() time.Time
	IDGenerator       func() string
	Logger            func(ctx context.Context, event string, fields map[string]any)
	NegotiationWindow time.Duration
	ResolutionWindow  time.Duration
}

type disputeService struct {
	disputes          repositories.DisputeRepository
	orders            repositories.OrderRepository
	requests          repositories.RequestRepository
	shops             repositories.ShopRepository
	events            LifecycleEventPublisher
	clock             func() time.Time
	newID             func() string
	logger            func(context.Context, string, map[string]any)
	negotiationWindow time.Duration
	resolutionWindow  time.Duration
}

// NewDisputeService wires dependencies into a concrete DisputeService implementation.
func NewDisputeService(deps DisputeServiceDeps) (DisputeService, error) {
	if deps.Disputes == nil {
		return nil, errors.New("dispute service: dispute repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("dispute service: order repository is required")
	}
	if deps.Requests == nil {
		return nil, errors.New("dispute service: request repository is required")
	}
	if deps.NegotiationWindow <= 0 {
		return nil, errors.New("dispute service: negotiation window must be positive")
	}
	if deps.ResolutionWindow <= deps.NegotiationWindow {
		return nil, errors.New("dispute service: resolution window must exceed the negotiation window")
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

	return &disputeService{
		disputes: deps.Disputes,
		orders:   deps.Orders,
		requests: deps.Requests,
		shops:    deps.Shops,
		events:   deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:             idGen,
		logger:            logger,
		negotiationWindow: deps.NegotiationWindow,
		resolutionWindow:  deps.ResolutionWindow,
	}, nil
}

// RejectOrder lets the assigned shop decline an order before completion. The
// linked request keeps its agreed pricing and returns to approved so the
// customer can pick another shop.
func (s *disputeService) RejectOrder(ctx context.Context, cmd RejectOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	actor := strings.TrimSpace(cmd.ActorID)
	reason := textutil.SanitizeFreeText(strings.TrimSpace(cmd.Reason))
	if orderID == "" || actor == "" {
		return Order{}, fmt.Errorf("%w: order id and actor id are required", ErrDisputeInvalidInput)
	}
	if reason == "" {
		return Order{}, fmt.Errorf("%w: a rejection reason is required", ErrDisputeInvalidInput)
	}

	var updated domain.Order
	err := retryOnConflict(ctx, func(ctx context.Context) error {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if err := s.requireShopActor(ctx, actor, order.ShopID); err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPending && order.Status != domain.OrderStatusProcessing {
			return fmt.Errorf("%w: only pending or processing orders can be rejected, status is %q", ErrDisputeInvalidState, order.Status)
		}

		now := s.clock()
		order.Status = domain.OrderStatusCancelled
		order.CancelReason = &reason
		order.CancelledAt = &now

		expected := order.UpdatedAt
		updated, err = s.orders.Update(ctx, order, &expected)
		return err
	})
	if err != nil {
		return Order{}, s.mapError(err)
	}

	if updated.RequestID != nil {
		if err := s.detachShopFromRequest(ctx, *updated.RequestID, reason); err != nil {
			// The order is already cancelled; requeueing the request is
			// reconciled by the next read if this write loses.
			s.logger(ctx, "dispute.order.requeue.failed", map[string]any{
				"order":   updated.ID,
				"request": *updated.RequestID,
				"error":   err.Error(),
			})
		}
	}

	s.logger(ctx, "dispute.order.rejected", map[string]any{"order": updated.ID, "shop": updated.ShopID})
	return updated, nil
}

// CancelOrder lets the customer withdraw a pending order. Paid orders are
// flagged for refund rather than silently cancelled.
func (s *disputeService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	actor := strings.TrimSpace(cmd.ActorID)
	reason := textutil.SanitizeFreeText(strings.TrimSpace(cmd.Reason))
	if orderID == "" || actor == "" {
		return Order{}, fmt.Errorf("%w: order id and actor id are required", ErrDisputeInvalidInput)
	}

	var updated domain.Order
	err := retryOnConflict(ctx, func(ctx context.Context) error {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if order.CustomerID != actor {
			return fmt.Errorf("%w: only the customer may cancel the order", ErrDisputeForbidden)
		}
		if order.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: only pending orders can be cancelled, status is %q", ErrDisputeInvalidState, order.Status)
		}

		now := s.clock()
		if order.PaymentStatus == domain.OrderPaymentPaid {
			order.Status = domain.OrderStatusRefunded
			order.PaymentStatus = domain.OrderPaymentRefunded
		} else {
			order.Status = domain.OrderStatusCancelled
		}
		if reason != "" {
			order.CancelReason = &reason
		}
		order.CancelledAt = &now

		expected := order.UpdatedAt
		updated, err = s.orders.Update(ctx, order, &expected)
		return err
	})
	if err != nil {
		return Order{}, s.mapError(err)
	}

	s.logger(ctx, "dispute.order.cancelled", map[string]any{
		"order":    updated.ID,
		"refunded": updated.Status == domain.OrderStatusRefunded,
	})
	return updated, nil
}

func (s *disputeService) FileDispute(ctx context.Context, cmd FileDisputeCommand) (Dispute, error) {
	filedBy := strings.TrimSpace(cmd.FiledBy)
	accused := strings.TrimSpace(cmd.AccusedParty)
	category := strings.TrimSpace(cmd.Category)
	description := textutil.SanitizeFreeText(strings.TrimSpace(cmd.Description))
	if filedBy == "" || accused == "" {
		return Dispute{}, fmt.Errorf("%w: filing and accused parties are required", ErrDisputeInvalidInput)
	}
	if filedBy == accused {
		return Dispute{}, fmt.Errorf("%w: a party cannot dispute itself", ErrDisputeInvalidInput)
	}
	if category == "" || description == "" {
		return Dispute{}, fmt.Errorf("%w: category and description are required", ErrDisputeInvalidInput)
	}
	if (cmd.RequestID == nil) == (cmd.OrderID == nil) {
		return Dispute{}, fmt.Errorf("%w: exactly one of request id or order id is required", ErrDisputeInvalidInput)
	}

	var request domain.CustomizationRequest
	var parties []string
	if cmd.RequestID != nil {
		var err error
		request, err = s.requests.FindByID(ctx, strings.TrimSpace(*cmd.RequestID))
		if err != nil {
			return Dispute{}, s.mapError(err)
		}
		if !domain.CanTransitionRequest(request.Status, domain.RequestStatusDisputed) {
			return Dispute{}, fmt.Errorf("%w: request in %q cannot be disputed", ErrDisputeInvalidState, request.Status)
		}
		parties = append(parties, request.CustomerID)
		if request.DesignerID != nil && *request.DesignerID != "" {
			parties = append(parties, *request.DesignerID)
		}
		if request.PrintingShopID != nil && *request.PrintingShopID != "" {
			parties = append(parties, *request.PrintingShopID)
		}
	} else {
		order, err := s.orders.FindByID(ctx, strings.TrimSpace(*cmd.OrderID))
		if err != nil {
			return Dispute{}, s.mapError(err)
		}
		parties = []string{order.CustomerID, order.ShopID}
	}

	if err := s.requireDisputeParties(ctx, parties, filedBy, accused); err != nil {
		return Dispute{}, s.mapError(err)
	}

	now := s.clock()
	disputeID := disputeIDPrefix + s.newID()
	evidence, err := normaliseEvidence(disputeID, now, cmd.Evidence)
	if err != nil {
		return Dispute{}, fmt.Errorf("%w: %v", ErrDisputeInvalidInput, err)
	}
	dispute := domain.Dispute{
		ID:                  disputeID,
		RequestID:           cmd.RequestID,
		OrderID:             cmd.OrderID,
		FiledBy:             filedBy,
		AccusedParty:        accused,
		Category:            category,
		Description:         description,
		Stage:               domain.DisputeStageNegotiation,
		Status:              domain.DisputeStatusOpen,
		EvidenceImages:      evidence,
		NegotiationDeadline: now.Add(s.negotiationWindow),
		Deadline:            now.Add(s.resolutionWindow),
		CreatedAt:           now,
	}
	if err := s.disputes.Insert(ctx, dispute); err != nil {
		return Dispute{}, s.mapError(err)
	}

	if cmd.RequestID != nil {
		if err := s.markRequestDisputed(ctx, request.ID); err != nil {
			s.logger(ctx, "dispute.request.flag.failed", map[string]any{
				"dispute": dispute.ID,
				"request": request.ID,
				"error":   err.Error(),
			})
		}
	}

	s.publishEvent(ctx, LifecycleEvent{
		Type:       disputeEventOpened,
		RequestID:  optionalID(cmd.RequestID),
		OrderID:    optionalID(cmd.OrderID),
		Actor:      filedBy,
		OccurredAt: now,
		Data: map[string]any{
			"disputeId": dispute.ID,
			"category":  category,
		},
	})
	return dispute, nil
}

// normaliseEvidence fills in canonical object paths for evidence entries that
// arrive with only a filename, and stamps missing upload times.
func normaliseEvidence(disputeID string, now time.Time, evidence []Attachment) ([]domain.Attachment, error) {
	if len(evidence) == 0 {
		return nil, nil
	}
	out := make([]domain.Attachment, 0, len(evidence))
	for _, entry := range evidence {
		if entry.StoragePath == "" {
			path, err := storage.BuildObjectPath(storage.PurposeDisputeEvidence, storage.PathParams{
				DisputeID: disputeID,
				FileName:  entry.Filename,
			})
			if err != nil {
				return nil, err
			}
			entry.StoragePath = path
		}
		if entry.UploadedAt.IsZero() {
			entry.UploadedAt = now
		}
		out = append(out, entry)
	}
	return out, nil
}

// OpenPricingDispute routes a pricing rejection that arrives after money has
// moved. An existing open pricing dispute on the request absorbs the new
// complaint instead of spawning a second record.
func (s *disputeService) OpenPricingDispute(ctx context.Context, cmd PricingDisputeCommand) (Dispute, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	actor := strings.TrimSpace(cmd.ActorID)
	reason := textutil.SanitizeFreeText(strings.TrimSpace(cmd.Reason))
	if requestID == "" || actor == "" {
		return Dispute{}, fmt.Errorf("%w: request id and actor id are required", ErrDisputeInvalidInput)
	}
	if reason == "" {
		return Dispute{}, fmt.Errorf("%w: a reason is required", ErrDisputeInvalidInput)
	}

	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return Dispute{}, s.mapError(err)
	}

	if existing, ok, err := s.findOpenPricingDispute(ctx, requestID); err != nil {
		return Dispute{}, s.mapError(err)
	} else if ok {
		var updated domain.Dispute
		err := retryOnConflict(ctx, func(ctx context.Context) error {
			current, err := s.disputes.FindByID(ctx, existing.ID)
			if err != nil {
				return err
			}
			current.AdminNotes = append(current.AdminNotes, domain.RequestNote{
				Text:      reason,
				AuthorID:  actor,
				CreatedAt: s.clock(),
			})
			expected := current.UpdatedAt
			updated, err = s.disputes.Update(ctx, current, &expected)
			return err
		})
		if err != nil {
			return Dispute{}, s.mapError(err)
		}
		return updated, nil
	}

	accused := ""
	if request.DesignerID != nil {
		accused = *request.DesignerID
	}
	return s.FileDispute(ctx, FileDisputeCommand{
		RequestID:    &request.ID,
		FiledBy:      actor,
		AccusedParty: accused,
		Category:     disputeCategoryPricing,
		Description:  reason,
	})
}

func (s *disputeService) ResolveDispute(ctx context.Context, cmd ResolveDisputeCommand) (Dispute, error) {
	disputeID := strings.TrimSpace(cmd.DisputeID)
	actor := strings.TrimSpace(cmd.ActorID)
	resolution := textutil.SanitizeFreeText(strings.TrimSpace(cmd.Resolution))
	if disputeID == "" || actor == "" {
		return Dispute{}, fmt.Errorf("%w: dispute id and actor id are required", ErrDisputeInvalidInput)
	}
	if resolution == "" {
		return Dispute{}, fmt.Errorf("%w: a resolution summary is required", ErrDisputeInvalidInput)
	}
	if cmd.Outcome != domain.DisputeStatusResolved && cmd.Outcome != domain.DisputeStatusClosed {
		return Dispute{}, fmt.Errorf("%w: outcome must be resolved or closed, got %q", ErrDisputeInvalidInput, cmd.Outcome)
	}

	var updated domain.Dispute
	err := retryOnConflict(ctx, func(ctx context.Context) error {
		dispute, err := s.disputes.FindByID(ctx, disputeID)
		if err != nil {
			return err
		}
		if dispute.Status != domain.DisputeStatusOpen {
			return fmt.Errorf("%w: dispute is already %q", ErrDisputeInvalidState, dispute.Status)
		}
		if !domain.CanTransitionDispute(dispute.Stage, domain.DisputeStageResolved) {
			return fmt.Errorf("%w: dispute cannot be resolved from stage %q", ErrDisputeInvalidState, dispute.Stage)
		}

		now := s.clock()
		dispute.Stage = domain.DisputeStageResolved
		dispute.Status = cmd.Outcome
		dispute.Resolution = &resolution
		dispute.ResolvedBy = &actor
		dispute.ResolvedAt = &now

		expected := dispute.UpdatedAt
		updated, err = s.disputes.Update(ctx, dispute, &expected)
		return err
	})
	if err != nil {
		return Dispute{}, s.mapError(err)
	}

	s.publishEvent(ctx, LifecycleEvent{
		Type:       disputeEventResolved,
		RequestID:  optionalID(updated.RequestID),
		OrderID:    optionalID(updated.OrderID),
		Actor:      actor,
		OccurredAt: s.clock(),
		Data: map[string]any{
			"disputeId": updated.ID,
			"outcome":   string(updated.Status),
		},
	})
	return updated, nil
}

func (s *disputeService) ListDisputes(ctx context.Context, filter DisputeListFilter) (domain.CursorPage[Dispute], error) {
	page, err := s.disputes.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Dispute]{}, s.mapError(err)
	}
	return page, nil
}

// ExpireNegotiations escalates open disputes whose negotiation deadline has
// passed. Failures on individual disputes are counted, not fatal, so one bad
// record cannot stall the sweep.
func (s *disputeService) ExpireNegotiations(ctx context.Context, cmd ExpireNegotiationsCommand) (ExpireNegotiationsResult, error) {
	limit := cmd.Limit
	if limit <= 0 {
		limit = 50
	}

	now := s.clock()
	page, err := s.disputes.ListExpiredNegotiations(ctx, now, domain.Pagination{PageSize: limit})
	if err != nil {
		return ExpireNegotiationsResult{}, s.mapError(err)
	}

	var result ExpireNegotiationsResult
	for _, expired := range page.Items {
		err := retryOnConflict(ctx, func(ctx context.Context) error {
			dispute, err := s.disputes.FindByID(ctx, expired.ID)
			if err != nil {
				return err
			}
			if dispute.Stage != domain.DisputeStageNegotiation || dispute.Status != domain.DisputeStatusOpen {
				return nil
			}
			dispute.Stage = domain.DisputeStageAdminReview
			expectedUpdate := dispute.UpdatedAt
			_, err = s.disputes.Update(ctx, dispute, &expectedUpdate)
			return err
		})
		if err != nil {
			result.Failed++
			s.logger(ctx, "dispute.escalation.failed", map[string]any{
				"dispute": expired.ID,
				"error":   err.Error(),
			})
			continue
		}
		result.Escalated++
	}

	s.logger(ctx, "dispute.escalation.swept", map[string]any{
		"escalated": result.Escalated,
		"failed":    result.Failed,
	})
	return result, nil
}

func (s *disputeService) findOpenPricingDispute(ctx context.Context, requestID string) (domain.Dispute, bool, error) {
	page, err := s.disputes.List(ctx, repositories.DisputeListFilter{
		RequestID:  &requestID,
		Status:     []domain.DisputeStatus{domain.DisputeStatusOpen},
		Pagination: domain.Pagination{PageSize: 10},
	})
	if err != nil {
		return domain.Dispute{}, false, err
	}
	for _, dispute := range page.Items {
		if dispute.Category == disputeCategoryPricing {
			return dispute, true, nil
		}
	}
	return domain.Dispute{}, false, nil
}

func (s *disputeService) markRequestDisputed(ctx context.Context, requestID string) error {
	return retryOnConflict(ctx, func(ctx context.Context) error {
		request, err := s.requests.FindByID(ctx, requestID)
		if err != nil {
			return err
		}
		if request.Status == domain.RequestStatusDisputed {
			return nil
		}
		if !domain.CanTransitionRequest(request.Status, domain.RequestStatusDisputed) {
			return fmt.Errorf("%w: request in %q cannot be disputed", ErrDisputeInvalidState, request.Status)
		}
		request.Status = domain.RequestStatusDisputed
		expected := request.UpdatedAt
		_, err = s.requests.Update(ctx, request, &expected)
		return err
	})
}

func (s *disputeService) detachShopFromRequest(ctx context.Context, requestID, reason string) error {
	return retryOnConflict(ctx, func(ctx context.Context) error {
		request, err := s.requests.FindByID(ctx, requestID)
		if err != nil {
			return err
		}
		request.PrintingShopID = nil
		request.PrintingShopName = nil
		request.DesignerNotes = append(request.DesignerNotes, domain.RequestNote{
			Text:      "shop rejected the order: " + reason,
			AuthorID:  "system",
			CreatedAt: s.clock(),
		})
		if domain.CanTransitionRequest(request.Status, domain.RequestStatusApproved) {
			request.Status = domain.RequestStatusApproved
		}
		expected := request.UpdatedAt
		_, err = s.requests.Update(ctx, request, &expected)
		return err
	})
}

// requireDisputeParties confirms both the filer and the accused belong to the
// disputed subject. Shop parties match by shop id or the owning user's id.
func (s *disputeService) requireDisputeParties(ctx context.Context, parties []string, filedBy, accused string) error {
	ok, err := s.isDisputeParty(ctx, parties, filedBy)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: filer is not a party to the disputed subject", ErrDisputeForbidden)
	}
	ok, err = s.isDisputeParty(ctx, parties, accused)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: accused party is not a party to the disputed subject", ErrDisputeForbidden)
	}
	return nil
}

func (s *disputeService) isDisputeParty(ctx context.Context, parties []string, id string) (bool, error) {
	for _, party := range parties {
		if party == id {
			return true, nil
		}
	}
	if s.shops == nil {
		return false, nil
	}
	shop, err := s.shops.FindByUserID(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return false, nil
		}
		return false, err
	}
	for _, party := range parties {
		if party == shop.ID {
			return true, nil
		}
	}
	return false, nil
}

func (s *disputeService) requireShopActor(ctx context.Context, actorID, shopID string) error {
	if s.shops == nil {
		return nil
	}
	shop, err := s.shops.FindByUserID(ctx, actorID)
	if err != nil {
		if isRepoNotFound(err) {
			return fmt.Errorf("%w: actor does not operate a printing shop", ErrDisputeForbidden)
		}
		return err
	}
	if shop.ID != shopID {
		return fmt.Errorf("%w: order belongs to a different shop", ErrDisputeForbidden)
	}
	return nil
}

func optionalID(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}

func (s *disputeService) mapError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrDisputeNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrDisputeConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("dispute: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *disputeService) publishEvent(ctx context.Context, event LifecycleEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishLifecycleEvent(ctx, event); err != nil {
		s.logger(ctx, "dispute.event.publish.failed", map[string]any{
			"type":    event.Type,
			"request": event.RequestID,
			"error":   err.Error(),
		})
	}
}
