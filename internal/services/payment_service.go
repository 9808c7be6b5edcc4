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
	"github.com/craftlane/api/internal/payments"
	"github.com/craftlane/api/internal/repositories"
)

const (
	paymentEventRecorded = "payment.recorded"
	paymentEventFailed   = "payment.failed"

	paymentIDPrefix = "pay_"

	gatewayStatusCompleted = "COMPLETED"
	gatewayStatusFailed    = "FAILED"

	payoutTypeDesigner = "designer"
	payoutTypeShop     = "shop"
)

var (
	// ErrPaymentInvalidInput signals the caller provided invalid data.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates the request or payment could not be located.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentForbidden indicates the actor lacks the required role or ownership.
	ErrPaymentForbidden = errors.New("payment: forbidden")
	// ErrPaymentInvalidState indicates the operation is not legal in the current lifecycle state.
	ErrPaymentInvalidState = errors.New("payment: invalid state")
	// ErrPaymentConflict indicates optimistic concurrency lost after bounded retries.
	ErrPaymentConflict = errors.New("payment: conflict")
	// ErrPaymentInvariant indicates the operation would corrupt the payment ledger.
	ErrPaymentInvariant = errors.New("payment: invariant violation")
	// ErrPaymentGateway indicates the gateway rejected a charge or payout initiation.
	ErrPaymentGateway = errors.New("payment: gateway error")
)

// PaymentGateway abstracts payments.Manager for charge and payout initiation.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	InitiateDisbursement(ctx context.Context, paymentCtx payments.PaymentContext, req payments.DisbursementRequest) (payments.Disbursement, error)
}

// PaymentMethodVerifier resolves metadata for tokenised payment instruments.
type PaymentMethodVerifier interface {
	Lookup(ctx context.Context, token string) (payments.PaymentMethodDetails, error)
}

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Requests    repositories.RequestRepository
	Accounts    repositories.PayoutAccountRepository
	Gateway     PaymentGateway
	Verifier    PaymentMethodVerifier
	Events      LifecycleEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	requests repositories.RequestRepository
	accounts repositories.PayoutAccountRepository
	gateway  PaymentGateway
	verifier PaymentMethodVerifier
	events   LifecycleEventPublisher
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Requests == nil {
		return nil, errors.New("payment service: request repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: payment gateway is required")
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

	return &paymentService{
		requests: deps.Requests,
		accounts: deps.Accounts,
		gateway:  deps.Gateway,
		verifier: deps.Verifier,
		events:   deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *paymentService) ProcessPayment(ctx context.Context, cmd ProcessPaymentCommand) (PaymentInitiation, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	actor := strings.TrimSpace(cmd.ActorID)
	method := strings.TrimSpace(cmd.Method)
	if requestID == "" {
		return PaymentInitiation{}, fmt.Errorf("%w: request id is required", ErrPaymentInvalidInput)
	}
	if actor == "" {
		return PaymentInitiation{}, fmt.Errorf("%w: actor id is required", ErrPaymentInvalidInput)
	}
	if cmd.Amount <= 0 {
		return PaymentInitiation{}, fmt.Errorf("%w: amount must be positive", ErrPaymentInvalidInput)
	}
	if method == "" {
		return PaymentInitiation{}, fmt.Errorf("%w: payment method is required", ErrPaymentInvalidInput)
	}

	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return PaymentInitiation{}, s.mapError(err)
	}
	if request.CustomerID != actor {
		return PaymentInitiation{}, fmt.Errorf("%w: only the customer may pay for the request", ErrPaymentForbidden)
	}
	agreement := request.PricingAgreement
	if agreement == nil || !agreement.Agreed() {
		return PaymentInitiation{}, fmt.Errorf("%w: pricing has not been agreed", ErrPaymentInvalidState)
	}
	if _, parseErr := currency.ParseISO(agreement.Currency); parseErr != nil {
		return PaymentInitiation{}, fmt.Errorf("%w: agreement carries invalid currency %q", ErrPaymentInvariant, agreement.Currency)
	}

	if err := validatePlanAmount(request, cmd); err != nil {
		return PaymentInitiation{}, err
	}

	if s.verifier != nil && strings.HasPrefix(method, "pm_") {
		details, err := s.verifier.Lookup(ctx, method)
		if err != nil {
			return PaymentInitiation{}, fmt.Errorf("%w: payment method could not be verified: %v", ErrPaymentInvalidInput, err)
		}
		if details.Brand != "" && details.Last4 != "" {
			method = fmt.Sprintf("%s:%s", details.Brand, details.Last4)
		}
	}

	// The pending record lands first so the ledger always knows about an
	// initiated charge; a gateway refusal then marks it failed.
	paymentID := paymentIDPrefix + s.newID()
	err = retryOnConflict(ctx, func(ctx context.Context) error {
		current, err := s.requests.FindByID(ctx, requestID)
		if err != nil {
			return err
		}
		if err := validatePlanAmount(current, cmd); err != nil {
			return err
		}

		now := s.clock()
		details := ensurePaymentDetails(current, now)
		details.Payments = append(details.Payments, domain.Payment{
			ID:          paymentID,
			Amount:      cmd.Amount,
			Currency:    current.PricingAgreement.Currency,
			Method:      method,
			MilestoneID: cmd.MilestoneID,
			Status:      domain.PaymentStatusPending,
			CreatedAt:   now,
		})
		current.PaymentDetails = details
		expected := current.UpdatedAt

		_, err = s.requests.Update(ctx, current, &expected)
		return err
	})
	if err != nil {
		return PaymentInitiation{}, s.mapError(err)
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, payments.PaymentContext{
		Currency: agreement.Currency,
	}, payments.CheckoutSessionRequest{
		Amount:         cmd.Amount,
		Currency:       agreement.Currency,
		CustomerID:     actor,
		SuccessURL:     cmd.SuccessURL,
		CancelURL:      cmd.CancelURL,
		IdempotencyKey: strings.TrimSpace(cmd.IdempotencyKey),
		Metadata: map[string]string{
			"requestId": requestID,
			"paymentId": paymentID,
		},
	})
	if err != nil {
		s.failAbandonedPayment(ctx, requestID, paymentID)
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return PaymentInitiation{}, fmt.Errorf("%w: no gateway for currency %s", ErrPaymentInvalidInput, agreement.Currency)
		}
		return PaymentInitiation{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	gatewayRef := session.IntentID
	if gatewayRef == "" {
		gatewayRef = session.ID
	}

	// Callbacks also match on paymentId metadata, so a lost reference write
	// does not strand the charge.
	if err := s.setPaymentFields(ctx, requestID, paymentID, func(payment *domain.Payment) {
		payment.GatewayReference = gatewayRef
	}); err != nil {
		s.logger(ctx, "payment.charge.reference.failed", map[string]any{
			"request": requestID,
			"payment": paymentID,
			"error":   err.Error(),
		})
	}

	s.logger(ctx, "payment.charge.initiated", map[string]any{
		"request": requestID,
		"payment": paymentID,
		"amount":  cmd.Amount,
		"gateway": session.Provider,
	})

	return PaymentInitiation{
		PaymentID:        paymentID,
		Provider:         session.Provider,
		GatewayReference: gatewayRef,
		RedirectURL:      session.RedirectURL,
		Status:           domain.PaymentStatusPending,
		Amount:           cmd.Amount,
		Currency:         agreement.Currency,
	}, nil
}

// setPaymentFields mutates a single ledger entry under the usual precondition
// retry loop.
func (s *paymentService) setPaymentFields(ctx context.Context, requestID, paymentID string, mutate func(*domain.Payment)) error {
	err := retryOnConflict(ctx, func(ctx context.Context) error {
		request, err := s.requests.FindByID(ctx, requestID)
		if err != nil {
			return err
		}
		if request.PaymentDetails == nil {
			return fmt.Errorf("%w: request has no payment ledger", ErrPaymentInvalidState)
		}

		details := clonePaymentDetails(*request.PaymentDetails)
		idx := findPaymentIndex(details, paymentID, "")
		if idx < 0 {
			return fmt.Errorf("%w: payment %s not found", ErrPaymentNotFound, paymentID)
		}
		payment := details.Payments[idx]
		mutate(&payment)
		details.Payments[idx] = payment
		request.PaymentDetails = &details

		expected := request.UpdatedAt
		_, err = s.requests.Update(ctx, request, &expected)
		return err
	})
	if err != nil {
		return s.mapError(err)
	}
	return nil
}

// failAbandonedPayment closes out a pending entry whose gateway session never
// materialised. Best effort: the entry stays pending if this write loses and
// never credits funds either way.
func (s *paymentService) failAbandonedPayment(ctx context.Context, requestID, paymentID string) {
	err := s.setPaymentFields(ctx, requestID, paymentID, func(payment *domain.Payment) {
		now := s.clock()
		payment.Status = domain.PaymentStatusFailed
		payment.FailedAt = &now
	})
	if err != nil {
		s.logger(ctx, "payment.charge.abandon.failed", map[string]any{
			"request": requestID,
			"payment": paymentID,
			"error":   err.Error(),
		})
	}
}

func (s *paymentService) RecordChargeCallback(ctx context.Context, cmd ChargeCallbackCommand) (ChargeCallbackResult, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	if requestID == "" {
		return ChargeCallbackResult{}, fmt.Errorf("%w: request id is required", ErrPaymentInvalidInput)
	}
	callbackStatus := strings.ToUpper(strings.TrimSpace(cmd.Status))
	if callbackStatus != gatewayStatusCompleted && callbackStatus != gatewayStatusFailed {
		return ChargeCallbackResult{}, fmt.Errorf("%w: unknown callback status %q", ErrPaymentInvalidInput, cmd.Status)
	}

	var result ChargeCallbackResult
	err := retryOnConflict(ctx, func(ctx context.Context) error {
		request, err := s.requests.FindByID(ctx, requestID)
		if err != nil {
			return err
		}
		if request.PaymentDetails == nil {
			return fmt.Errorf("%w: request has no payment ledger", ErrPaymentInvalidState)
		}

		details := clonePaymentDetails(*request.PaymentDetails)
		idx := findPaymentIndex(details, cmd.PaymentID, cmd.GatewayReference)
		if idx < 0 {
			return fmt.Errorf("%w: payment not found for callback", ErrPaymentNotFound)
		}
		payment := details.Payments[idx]

		result = ChargeCallbackResult{
			RequestID: request.ID,
			PaymentID: payment.ID,
		}

		// Re-delivery of a settled callback is a no-op.
		if payment.Status != domain.PaymentStatusPending {
			result.Duplicate = true
			result.PaidAmount = details.PaidAmount
			result.RemainingAmount = details.RemainingAmount
			return nil
		}

		now := s.clock()
		if callbackStatus == gatewayStatusFailed {
			payment.Status = domain.PaymentStatusFailed
			payment.FailedAt = &now
			details.Payments[idx] = payment
			request.PaymentDetails = &details
			expected := request.UpdatedAt
			if _, err := s.requests.Update(ctx, request, &expected); err != nil {
				return err
			}
			result.PaidAmount = details.PaidAmount
			result.RemainingAmount = details.RemainingAmount
			return nil
		}

		if cmd.Amount != 0 && cmd.Amount != payment.Amount {
			return fmt.Errorf("%w: callback amount %d does not match payment %d", ErrPaymentInvariant, cmd.Amount, payment.Amount)
		}
		if details.PaidAmount+payment.Amount > details.TotalAmount {
			return fmt.Errorf("%w: crediting %d would exceed total %d", ErrPaymentInvariant, payment.Amount, details.TotalAmount)
		}

		payment.Status = domain.PaymentStatusCompleted
		payment.CompletedAt = &now
		details.Payments[idx] = payment
		details.PaidAmount += payment.Amount
		details.RemainingAmount = details.TotalAmount - details.PaidAmount
		request.PaymentDetails = &details

		if request.Status == domain.RequestStatusPaymentRequired && planSatisfied(request.PricingAgreement, &details) {
			request.Status = domain.RequestStatusApproved
		}

		expected := request.UpdatedAt
		if _, err := s.requests.Update(ctx, request, &expected); err != nil {
			return err
		}

		result.Credited = true
		result.PaidAmount = details.PaidAmount
		result.RemainingAmount = details.RemainingAmount
		return nil
	})
	if err != nil {
		return ChargeCallbackResult{}, s.mapError(err)
	}

	if result.Credited {
		s.publishEvent(ctx, LifecycleEvent{
			Type:       paymentEventRecorded,
			RequestID:  result.RequestID,
			OccurredAt: s.clock(),
			Data: map[string]any{
				"paymentId":  result.PaymentID,
				"paidAmount": result.PaidAmount,
				"remaining":  result.RemainingAmount,
			},
		})
	} else if callbackStatus == gatewayStatusFailed && !result.Duplicate {
		s.publishEvent(ctx, LifecycleEvent{
			Type:       paymentEventFailed,
			RequestID:  result.RequestID,
			OccurredAt: s.clock(),
			Data: map[string]any{
				"paymentId":   result.PaymentID,
				"failureCode": cmd.FailureCode,
			},
		})
	}

	return result, nil
}

func (s *paymentService) GetPaymentStatus(ctx context.Context, requestID string) (PaymentDetails, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return PaymentDetails{}, fmt.Errorf("%w: request id is required", ErrPaymentInvalidInput)
	}
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return PaymentDetails{}, s.mapError(err)
	}
	if request.PaymentDetails == nil {
		return PaymentDetails{}, nil
	}
	return clonePaymentDetails(*request.PaymentDetails), nil
}

func (s *paymentService) InitiateDisbursements(ctx context.Context, cmd InitiateDisbursementsCommand) (DisbursementPlan, error) {
	requestID := strings.TrimSpace(cmd.RequestID)
	if requestID == "" {
		return DisbursementPlan{}, fmt.Errorf("%w: request id is required", ErrPaymentInvalidInput)
	}
	if s.accounts == nil {
		return DisbursementPlan{}, errors.New("payment service: payout account repository not configured")
	}

	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return DisbursementPlan{}, s.mapError(err)
	}
	if request.Status != domain.RequestStatusReady && request.Status != domain.RequestStatusCompleted {
		return DisbursementPlan{}, fmt.Errorf("%w: disbursement requires a production-ready request, status is %q", ErrPaymentInvalidState, request.Status)
	}
	agreement := request.PricingAgreement
	details := request.PaymentDetails
	if agreement == nil || details == nil {
		return DisbursementPlan{}, fmt.Errorf("%w: request has no agreed pricing or payment ledger", ErrPaymentInvalidState)
	}
	if details.PaidAmount <= 0 {
		return DisbursementPlan{}, fmt.Errorf("%w: nothing has been paid yet", ErrPaymentInvalidState)
	}
	if agreement.TotalCost <= 0 {
		return DisbursementPlan{}, fmt.Errorf("%w: agreement total must be positive", ErrPaymentInvariant)
	}

	// The split is always applied to cumulative paid amount, never to the
	// total, so a partially paid plan never over-pays either party.
	designerAmount, shopAmount := splitPaidAmount(details.PaidAmount, agreement.DesignFee, agreement.TotalCost)

	now := s.clock()
	plan := DisbursementPlan{Currency: agreement.Currency}

	plan.Designer = s.initiateLeg(ctx, legParams{
		request:   request,
		payout:    payoutTypeDesigner,
		amount:    designerAmount,
		currency:  agreement.Currency,
		paidAt:    details.DesignerPaidAt,
		now:       now,
		recipient: func(ctx context.Context) (string, string, error) {
			if request.DesignerID == nil {
				return "", "", fmt.Errorf("%w: no designer assigned", ErrPaymentInvalidState)
			}
			account, err := s.accounts.DesignerAccount(ctx, *request.DesignerID)
			return *request.DesignerID, account, err
		},
	})
	plan.Shop = s.initiateLeg(ctx, legParams{
		request:   request,
		payout:    payoutTypeShop,
		amount:    shopAmount,
		currency:  agreement.Currency,
		paidAt:    details.ShopPaidAt,
		now:       now,
		recipient: func(ctx context.Context) (string, string, error) {
			if request.PrintingShopID == nil {
				return "", "", fmt.Errorf("%w: no printing shop assigned", ErrPaymentInvalidState)
			}
			account, err := s.accounts.ShopAccount(ctx, *request.PrintingShopID)
			return *request.PrintingShopID, account, err
		},
	})

	return plan, nil
}

type legParams struct {
	request   domain.CustomizationRequest
	payout    string
	amount    int64
	currency  string
	paidAt    *time.Time
	now       time.Time
	recipient func(ctx context.Context) (string, string, error)
}

// initiateLeg hands one payout to the gateway. The ledger is untouched here:
// payout references are only written by the webhook reconciler.
func (s *paymentService) initiateLeg(ctx context.Context, p legParams) DisbursementLeg {
	leg := DisbursementLeg{Amount: p.amount}
	if p.paidAt != nil {
		leg.Skipped = true
		leg.SkipReason = "already disbursed"
		return leg
	}
	if p.amount <= 0 {
		leg.Skipped = true
		leg.SkipReason = "no share of paid funds"
		return leg
	}

	recipientID, account, err := p.recipient(ctx)
	if err != nil {
		leg.Skipped = true
		leg.SkipReason = err.Error()
		s.logger(ctx, "payment.disbursement.skipped", map[string]any{
			"request": p.request.ID,
			"payout":  p.payout,
			"error":   err.Error(),
		})
		return leg
	}
	leg.Recipient = recipientID

	externalID := fmt.Sprintf("%s-payout-%s-%d", p.payout, p.request.ID, p.now.Unix())
	disbursement, err := s.gateway.InitiateDisbursement(ctx, payments.PaymentContext{
		Currency: p.currency,
	}, payments.DisbursementRequest{
		ExternalID:  externalID,
		Amount:      p.amount,
		Currency:    p.currency,
		Destination: account,
		Description: fmt.Sprintf("%s payout for request %s", p.payout, p.request.ID),
		// Stable across retries so a repeated initiation cannot double-transfer.
		IdempotencyKey: fmt.Sprintf("%s-payout-%s", p.payout, p.request.ID),
		Metadata: map[string]string{
			"requestId":  p.request.ID,
			"payoutType": p.payout,
		},
	})
	if err != nil {
		leg.Skipped = true
		leg.SkipReason = fmt.Sprintf("gateway rejected initiation: %v", err)
		s.logger(ctx, "payment.disbursement.initiation.failed", map[string]any{
			"request": p.request.ID,
			"payout":  p.payout,
			"error":   err.Error(),
		})
		return leg
	}

	leg.ExternalID = externalID
	leg.GatewayID = disbursement.ID
	s.logger(ctx, "payment.disbursement.initiated", map[string]any{
		"request":    p.request.ID,
		"payout":     p.payout,
		"amount":     p.amount,
		"externalId": externalID,
	})
	return leg
}

// splitPaidAmount divides cumulative paid funds between designer and shop in
// proportion to the design fee versus product plus printing cost. The single
// leftover minor unit goes to the larger fractional share, shop on ties.
func splitPaidAmount(paid, designFee, total int64) (designer, shop int64) {
	if paid <= 0 || total <= 0 {
		return 0, 0
	}
	if designFee < 0 {
		designFee = 0
	}
	if designFee > total {
		designFee = total
	}

	designerExact := paid * designFee
	shopExact := paid * (total - designFee)
	designer = designerExact / total
	shop = shopExact / total

	if leftover := paid - designer - shop; leftover > 0 {
		if designerExact%total > shopExact%total {
			designer += leftover
		} else {
			shop += leftover
		}
	}
	return designer, shop
}

func validatePlanAmount(request domain.CustomizationRequest, cmd ProcessPaymentCommand) error {
	agreement := request.PricingAgreement
	if agreement == nil {
		return fmt.Errorf("%w: pricing has not been agreed", ErrPaymentInvalidState)
	}

	if agreement.PaymentPlan == domain.PaymentPlanMilestone {
		if cmd.MilestoneID == nil || strings.TrimSpace(*cmd.MilestoneID) == "" {
			return fmt.Errorf("%w: milestone id is required for milestone plans", ErrPaymentInvalidInput)
		}
		milestone, ok := agreement.FindMilestone(strings.TrimSpace(*cmd.MilestoneID))
		if !ok {
			return fmt.Errorf("%w: milestone %s does not exist", ErrPaymentInvalidInput, *cmd.MilestoneID)
		}
		if request.PaymentDetails.MilestonePaid(milestone.ID) {
			return fmt.Errorf("%w: milestone %s is already paid", ErrPaymentInvalidState, milestone.ID)
		}
		if cmd.Amount != milestone.Amount {
			return fmt.Errorf("%w: amount %d does not match milestone amount %d", ErrPaymentInvalidInput, cmd.Amount, milestone.Amount)
		}
		return nil
	}

	if cmd.MilestoneID != nil {
		return fmt.Errorf("%w: milestone id is only valid for milestone plans", ErrPaymentInvalidInput)
	}

	paid := int64(0)
	if request.PaymentDetails != nil {
		paid = request.PaymentDetails.PaidAmount
	}
	if paid+cmd.Amount > agreement.TotalCost {
		return fmt.Errorf("%w: amount %d would exceed remaining balance %d", ErrPaymentInvalidInput, cmd.Amount, agreement.TotalCost-paid)
	}
	return nil
}

// planSatisfied reports whether enough money has arrived for the request to
// leave payment_required: the full total for upfront plans, at least half for
// half plans, and the first completed milestone for milestone plans.
func planSatisfied(agreement *domain.PricingAgreement, details *domain.PaymentDetails) bool {
	if agreement == nil || details == nil {
		return false
	}
	switch agreement.PaymentPlan {
	case domain.PaymentPlanUpfront:
		return details.PaidAmount >= details.TotalAmount
	case domain.PaymentPlanHalf:
		return details.PaidAmount*2 >= details.TotalAmount
	case domain.PaymentPlanMilestone:
		return details.HasCompletedPayment()
	default:
		return false
	}
}

func ensurePaymentDetails(request domain.CustomizationRequest, now time.Time) *domain.PaymentDetails {
	if request.PaymentDetails != nil {
		details := clonePaymentDetails(*request.PaymentDetails)
		return &details
	}
	agreement := request.PricingAgreement
	return &domain.PaymentDetails{
		TotalAmount:     agreement.TotalCost,
		PaidAmount:      0,
		RemainingAmount: agreement.TotalCost,
		Currency:        agreement.Currency,
	}
}

func clonePaymentDetails(details domain.PaymentDetails) domain.PaymentDetails {
	cloned := details
	if len(details.Payments) > 0 {
		cloned.Payments = make([]domain.Payment, len(details.Payments))
		copy(cloned.Payments, details.Payments)
	}
	return cloned
}

func findPaymentIndex(details domain.PaymentDetails, paymentID, gatewayRef string) int {
	paymentID = strings.TrimSpace(paymentID)
	gatewayRef = strings.TrimSpace(gatewayRef)
	for idx, payment := range details.Payments {
		if paymentID != "" && payment.ID == paymentID {
			return idx
		}
		if paymentID == "" && gatewayRef != "" && payment.GatewayReference == gatewayRef {
			return idx
		}
	}
	return -1
}

func (s *paymentService) mapError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrPaymentConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *paymentService) publishEvent(ctx context.Context, event LifecycleEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishLifecycleEvent(ctx, event); err != nil {
		s.logger(ctx, "payment.event.publish.failed", map[string]any{
			"type":    event.Type,
			"request": event.RequestID,
			"error":   err.Error(),
		})
	}
}
