package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/craftlane/api/internal/domain"
	"github.com/craftlane/api/internal/repositories"
)

const (
	disbursementEventDesignerCompleted = "disbursement.designer.completed"
	disbursementEventShopCompleted     = "disbursement.shop.completed"
	disbursementEventFailed            = "disbursement.failed"
)

var (
	// ErrDisbursementInvalidInput signals a malformed callback payload.
	ErrDisbursementInvalidInput = errors.New("disbursement: invalid input")
	// ErrDisbursementNotFound indicates the referenced request could not be located.
	ErrDisbursementNotFound = errors.New("disbursement: not found")
	// ErrDisbursementInvalidState indicates the request carries no payment ledger.
	ErrDisbursementInvalidState = errors.New("disbursement: invalid state")
	// ErrDisbursementConflict indicates optimistic concurrency lost after bounded retries.
	ErrDisbursementConflict = errors.New("disbursement: conflict")
)

// DisbursementServiceDeps bundles collaborators required to construct the reconciler.
type DisbursementServiceDeps struct {
	Requests repositories.RequestRepository
	Events   LifecycleEventPublisher
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type disbursementService struct {
	requests repositories.RequestRepository
	events   LifecycleEventPublisher
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewDisbursementService wires dependencies into a concrete DisbursementService implementation.
func NewDisbursementService(deps DisbursementServiceDeps) (DisbursementService, error) {
	if deps.Requests == nil {
		return nil, errors.New("disbursement service: request repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &disbursementService{
		requests: deps.Requests,
		events:   deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *disbursementService) HandleCallback(ctx context.Context, cmd DisbursementCallbackCommand) (DisbursementCallbackResult, error) {
	payoutType, requestID, err := parsePayoutExternalID(cmd.ExternalID)
	if err != nil {
		return DisbursementCallbackResult{}, err
	}
	callbackStatus := strings.ToUpper(strings.TrimSpace(cmd.Status))
	if callbackStatus != gatewayStatusCompleted && callbackStatus != gatewayStatusFailed {
		return DisbursementCallbackResult{}, fmt.Errorf("%w: unknown callback status %q", ErrDisbursementInvalidInput, cmd.Status)
	}

	if callbackStatus == gatewayStatusFailed {
		// A failed payout leaves the ledger untouched so a later initiation
		// can retry the same leg.
		s.logger(ctx, "disbursement.callback.failed", map[string]any{
			"request":     requestID,
			"payout":      payoutType,
			"failureCode": cmd.FailureCode,
		})
		s.publishEvent(ctx, LifecycleEvent{
			Type:       disbursementEventFailed,
			RequestID:  requestID,
			OccurredAt: s.clock(),
			Data: map[string]any{
				"payoutType":  payoutType,
				"externalId":  cmd.ExternalID,
				"failureCode": cmd.FailureCode,
			},
		})
		return DisbursementCallbackResult{RequestID: requestID, PayoutType: payoutType}, nil
	}

	var result DisbursementCallbackResult
	var requestCompleted bool
	err = retryOnConflict(ctx, func(ctx context.Context) error {
		request, err := s.requests.FindByID(ctx, requestID)
		if err != nil {
			return err
		}
		if request.PaymentDetails == nil {
			return fmt.Errorf("%w: request has no payment ledger", ErrDisbursementInvalidState)
		}

		details := clonePaymentDetails(*request.PaymentDetails)
		result = DisbursementCallbackResult{RequestID: requestID, PayoutType: payoutType}
		requestCompleted = false

		now := s.clock()
		gatewayID := strings.TrimSpace(cmd.GatewayID)
		switch payoutType {
		case payoutTypeDesigner:
			if details.DesignerPaidAt != nil {
				result.Duplicate = true
				return nil
			}
			details.DesignerPayoutID = &gatewayID
			details.DesignerPaidAt = &now
		case payoutTypeShop:
			if details.ShopPaidAt != nil {
				result.Duplicate = true
				return nil
			}
			details.ShopPayoutID = &gatewayID
			details.ShopPaidAt = &now
		}
		request.PaymentDetails = &details

		if details.DesignerPaidAt != nil && details.ShopPaidAt != nil &&
			domain.CanTransitionRequest(request.Status, domain.RequestStatusCompleted) {
			request.Status = domain.RequestStatusCompleted
			requestCompleted = true
		}

		expected := request.UpdatedAt
		if _, err := s.requests.Update(ctx, request, &expected); err != nil {
			return err
		}
		result.Completed = true
		return nil
	})
	if err != nil {
		return DisbursementCallbackResult{}, s.mapError(err)
	}

	if result.Completed {
		eventType := disbursementEventDesignerCompleted
		if payoutType == payoutTypeShop {
			eventType = disbursementEventShopCompleted
		}
		s.publishEvent(ctx, LifecycleEvent{
			Type:       eventType,
			RequestID:  requestID,
			OccurredAt: s.clock(),
			Data: map[string]any{
				"externalId":       cmd.ExternalID,
				"gatewayId":        cmd.GatewayID,
				"requestCompleted": requestCompleted,
			},
		})
	}
	return result, nil
}

// parsePayoutExternalID splits an external id of the form
// "{designer|shop}-payout-{requestId}-{unixTimestamp}". Request ids may
// themselves contain hyphens, so the timestamp is taken from the last segment.
func parsePayoutExternalID(externalID string) (payoutType, requestID string, err error) {
	externalID = strings.TrimSpace(externalID)
	payoutType, rest, found := strings.Cut(externalID, "-payout-")
	if !found || (payoutType != payoutTypeDesigner && payoutType != payoutTypeShop) {
		return "", "", fmt.Errorf("%w: unrecognized external id %q", ErrDisbursementInvalidInput, externalID)
	}

	cut := strings.LastIndex(rest, "-")
	if cut <= 0 {
		return "", "", fmt.Errorf("%w: external id %q carries no timestamp", ErrDisbursementInvalidInput, externalID)
	}
	if _, parseErr := strconv.ParseInt(rest[cut+1:], 10, 64); parseErr != nil {
		return "", "", fmt.Errorf("%w: external id %q carries a malformed timestamp", ErrDisbursementInvalidInput, externalID)
	}

	requestID = rest[:cut]
	if requestID == "" {
		return "", "", fmt.Errorf("%w: external id %q carries no request id", ErrDisbursementInvalidInput, externalID)
	}
	return payoutType, requestID, nil
}

func (s *disbursementService) mapError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrDisbursementNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrDisbursementConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("disbursement: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *disbursementService) publishEvent(ctx context.Context, event LifecycleEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishLifecycleEvent(ctx, event); err != nil {
		s.logger(ctx, "disbursement.event.publish.failed", map[string]any{
			"type":    event.Type,
			"request": event.RequestID,
			"error":   err.Error(),
		})
	}
}
