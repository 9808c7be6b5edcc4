package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/craftlane/api/internal/domain"
	"github.com/craftlane/api/internal/repositories"
)

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string       { return "stub repository error" }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

type stubRequestRepo struct {
	insertFn func(context.Context, domain.CustomizationRequest) error
	updateFn func(context.Context, domain.CustomizationRequest, *time.Time) (domain.CustomizationRequest, error)
	findFn   func(context.Context, string) (domain.CustomizationRequest, error)
	listFn   func(context.Context, repositories.RequestListFilter) (domain.CursorPage[domain.CustomizationRequest], error)
}

func (s *stubRequestRepo) Insert(ctx context.Context, request domain.CustomizationRequest) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, request)
	}
	return nil
}

func (s *stubRequestRepo) Update(ctx context.Context, request domain.CustomizationRequest, expected *time.Time) (domain.CustomizationRequest, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, request, expected)
	}
	return request, nil
}

func (s *stubRequestRepo) FindByID(ctx context.Context, requestID string) (domain.CustomizationRequest, error) {
	if s.findFn != nil {
		return s.findFn(ctx, requestID)
	}
	return domain.CustomizationRequest{}, errors.New("not implemented")
}

func (s *stubRequestRepo) List(ctx context.Context, filter repositories.RequestListFilter) (domain.CursorPage[domain.CustomizationRequest], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.CustomizationRequest]{}, nil
}

type stubProductRepo struct {
	findFn func(context.Context, string) (domain.Product, error)
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn != nil {
		return s.findFn(ctx, productID)
	}
	return domain.Product{}, errors.New("not implemented")
}

type stubShopRepo struct {
	findFn       func(context.Context, string) (domain.Shop, error)
	findByUserFn func(context.Context, string) (domain.Shop, error)
}

func (s *stubShopRepo) FindByID(ctx context.Context, shopID string) (domain.Shop, error) {
	if s.findFn != nil {
		return s.findFn(ctx, shopID)
	}
	return domain.Shop{}, errors.New("not implemented")
}

func (s *stubShopRepo) FindByUserID(ctx context.Context, userID string) (domain.Shop, error) {
	if s.findByUserFn != nil {
		return s.findByUserFn(ctx, userID)
	}
	return domain.Shop{}, errors.New("not implemented")
}

type captureLifecycleEvents struct {
	events []LifecycleEvent
}

func (c *captureLifecycleEvents) PublishLifecycleEvent(_ context.Context, event LifecycleEvent) (string, error) {
	c.events = append(c.events, event)
	return "msg-1", nil
}

type stubDisputeRouter struct {
	openFn func(context.Context, PricingDisputeCommand) (Dispute, error)
}

func (s *stubDisputeRouter) OpenPricingDispute(ctx context.Context, cmd PricingDisputeCommand) (Dispute, error) {
	if s.openFn != nil {
		return s.openFn(ctx, cmd)
	}
	return Dispute{}, nil
}

func testClock() time.Time {
	return time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
}

func baseRequest() domain.CustomizationRequest {
	return domain.CustomizationRequest{
		ID:              "req-1",
		CustomerID:      "cust-1",
		DesignerID:      valuePtr("designer-1"),
		ProductID:       "prod-1",
		SelectedColorID: "color-red",
		ColorAdjustment: 5,
		Status:          domain.RequestStatusInProgress,
		CreatedAt:       testClock().Add(-24 * time.Hour),
		UpdatedAt:       testClock().Add(-time.Hour),
	}
}

func newTestPricingService(t *testing.T, deps PricingServiceDeps) PricingService {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = testClock
	}
	if deps.Products == nil {
		deps.Products = &stubProductRepo{findFn: func(context.Context, string) (domain.Product, error) {
			return domain.Product{ID: "prod-1", BasePrice: 20, Currency: "USD"}, nil
		}}
	}
	if deps.Shops == nil {
		deps.Shops = &stubShopRepo{}
	}
	svc, err := NewPricingService(deps)
	if err != nil {
		t.Fatalf("new pricing service: %v", err)
	}
	return svc
}

func TestProposePricingComputesProductCostServerSide(t *testing.T) {
	ctx := context.Background()
	var saved domain.CustomizationRequest
	repo := &stubRequestRepo{
		findFn: func(context.Context, string) (domain.CustomizationRequest, error) {
			return baseRequest(), nil
		},
		updateFn: func(_ context.Context, request domain.CustomizationRequest, expected *time.Time) (domain.CustomizationRequest, error) {
			if expected == nil || !expected.Equal(baseRequest().UpdatedAt) {
				t.Fatalf("expected update precondition from the loaded document")
			}
			saved = request
			request.UpdatedAt = testClock()
			return request, nil
		},
	}
	events := &captureLifecycleEvents{}

	svc := newTestPricingService(t, PricingServiceDeps{Requests: repo, Events: events})

	updated, err := svc.ProposePricing(ctx, ProposePricingCommand{
		RequestID:   "req-1",
		ActorID:     "designer-1",
		DesignFee:   50,
		PaymentPlan: domain.PaymentPlanUpfront,
	})
	if err != nil {
		t.Fatalf("propose pricing: %v", err)
	}

	agreement := saved.PricingAgreement
	if agreement == nil {
		t.Fatalf("expected agreement to be written")
	}
	if agreement.ProductCost != 25 {
		t.Fatalf("expected product cost 25 (base 20 + adjustment 5), got %d", agreement.ProductCost)
	}
	if agreement.PrintingCost != 0 {
		t.Fatalf("expected printing cost 0 before shop pricing, got %d", agreement.PrintingCost)
	}
	if agreement.TotalCost != 75 {
		t.Fatalf("expected total 75, got %d", agreement.TotalCost)
	}
	if saved.Status != domain.RequestStatusAwaitingPricing {
		t.Fatalf("expected status awaiting_pricing, got %s", saved.Status)
	}
	if updated.PricingAgreement == nil || updated.PricingAgreement.Currency != "USD" {
		t.Fatalf("expected currency from the catalog product")
	}
	if len(events.events) != 1 || events.events[0].Type != "pricing.proposed" {
		t.Fatalf("expected pricing.proposed event, got %+v", events.events)
	}
}

func TestProposePricingRejectsWrongActorAndState(t *testing.T) {
	ctx := context.Background()
	repo := &stubRequestRepo{
		findFn: func(context.Context, string) (domain.CustomizationRequest, error) {
			return baseRequest(), nil
		},
	}
	svc := newTestPricingService(t, PricingServiceDeps{Requests: repo})

	if _, err := svc.ProposePricing(ctx, ProposePricingCommand{
		RequestID: "req-1", ActorID: "someone-else", DesignFee: 10, PaymentPlan: domain.PaymentPlanUpfront,
	}); !errors.Is(err, ErrPricingForbidden) {
		t.Fatalf("expected ErrPricingForbidden, got %v", err)
	}

	completed := baseRequest()
	completed.Status = domain.RequestStatusCompleted
	repo.findFn = func(context.Context, string) (domain.CustomizationRequest, error) {
		return completed, nil
	}
	if _, err := svc.ProposePricing(ctx, ProposePricingCommand{
		RequestID: "req-1", ActorID: "designer-1", DesignFee: 10, PaymentPlan: domain.PaymentPlanUpfront,
	}); !errors.Is(err, ErrPricingInvalidState) {
		t.Fatalf("expected ErrPricingInvalidState, got %v", err)
	}

	if _, err := svc.ProposePricing(ctx, ProposePricingCommand{
		RequestID: "req-1", ActorID: "designer-1", DesignFee: -1, PaymentPlan: domain.PaymentPlanUpfront,
	}); !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected ErrPricingInvalidInput for negative fee, got %v", err)
	}
}

func TestProposePricingValidatesMilestoneSum(t *testing.T) {
	ctx := context.Background()
	repo := &stubRequestRepo{
		findFn: func(context.Context, string) (domain.CustomizationRequest, error) {
			return baseRequest(), nil
		},
	}
	svc := newTestPricingService(t, PricingServiceDeps{Requests: repo})

	// designFee 50 + productCost 25 = total 75.
	if _, err := svc.ProposePricing(ctx, ProposePricingCommand{
		RequestID:   "req-1",
		ActorID:     "designer-1",
		DesignFee:   50,
		PaymentPlan: domain.PaymentPlanMilestone,
		Milestones: []MilestoneInput{
			{Description: "kickoff", Amount: 30},
			{Description: "delivery", Amount: 50},
		},
	}); !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected milestone sum mismatch error, got %v", err)
	}

	updated, err := svc.ProposePricing(ctx, ProposePricingCommand{
		RequestID:   "req-1",
		ActorID:     "designer-1",
		DesignFee:   50,
		PaymentPlan: domain.PaymentPlanMilestone,
		Milestones: []MilestoneInput{
			{Description: "kickoff", Amount: 30},
			{Description: "delivery", Amount: 45},
		},
	})
	if err != nil {
		t.Fatalf("propose milestone pricing: %v", err)
	}
	if got := updated.PricingAgreement.MilestoneSum(); got != 75 {
		t.Fatalf("expected milestone sum 75, got %d", got)
	}
	for _, m := range updated.PricingAgreement.Milestones {
		if m.ID == "" {
			t.Fatalf("expected generated milestone ids")
		}
	}
}

func TestAddShopPricingRecomputesTotalsAndRemaining(t *testing.T) {
	ctx := context.Background()
	request := baseRequest()
	request.Status = domain.RequestStatusAwaitingPricing
	request.PrintingShopID = valuePtr("shop-1")
	request.PricingAgreement = &domain.PricingAgreement{
		DesignFee:   50,
		ProductCost: 25,
		TotalCost:   75,
		Currency:    "USD",
		PaymentPlan: domain.PaymentPlanUpfront,
		ProposedBy:  "designer-1",
		ProposedAt:  testClock().Add(-time.Hour),
	}
	request.PaymentDetails = &domain.PaymentDetails{
		TotalAmount:     75,
		PaidAmount:      30,
		RemainingAmount: 45,
		Currency:        "USD",
	}

	var saved domain.CustomizationRequest
	repo := &stubRequestRepo{
		findFn: func(context.Context, string) (domain.CustomizationRequest, error) {
			return request, nil
		},
		updateFn: func(_ context.Context, req domain.CustomizationRequest, _ *time.Time) (domain.CustomizationRequest, error) {
			saved = req
			return req, nil
		},
	}
	shops := &stubShopRepo{findByUserFn: func(_ context.Context, userID string) (domain.Shop, error) {
		if userID != "shop-owner-1" {
			return domain.Shop{}, &stubRepoError{notFound: true}
		}
		return domain.Shop{ID: "shop-1", UserID: userID}, nil
	}}

	svc := newTestPricingService(t, PricingServiceDeps{Requests: repo, Shops: shops})

	updated, err := svc.AddShopPricing(ctx, AddShopPricingCommand{
		RequestID:    "req-1",
		ActorID:      "shop-owner-1",
		PrintingCost: 10,
	})
	if err != nil {
		t.Fatalf("add shop pricing: %v", err)
	}
	if updated.PricingAgreement.TotalCost != 85 {
		t.Fatalf("expected total 85, got %d", updated.PricingAgreement.TotalCost)
	}
	if saved.Status != domain.RequestStatusPricingProposed {
		t.Fatalf("expected status pricing_proposed, got %s", saved.Status)
	}
	if saved.PaymentDetails.TotalAmount != 85 || saved.PaymentDetails.RemainingAmount != 55 {
		t.Fatalf("expected remaining 55 of 85, got %d of %d", saved.PaymentDetails.RemainingAmount, saved.PaymentDetails.TotalAmount)
	}

	// Paid beyond the adjusted total is a data inconsistency, not a clamp.
	request.PaymentDetails = &domain.PaymentDetails{TotalAmount: 75, PaidAmount: 80}
	request.PricingAgreement.DesignFee = 0
	request.PricingAgreement.ProductCost = 25
	if _, err := svc.AddShopPricing(ctx, AddShopPricingCommand{
		RequestID: "req-1", ActorID: "shop-owner-1", PrintingCost: 10,
	}); !errors.Is(err, ErrPricingInvariant) {
		t.Fatalf("expected ErrPricingInvariant, got %v", err)
	}
}

func TestAddShopPricingRequiresAssignedShop(t *testing.T) {
	ctx := context.Background()
	request := baseRequest()
	request.PrintingShopID = valuePtr("shop-1")
	request.PricingAgreement = &domain.PricingAgreement{DesignFee: 50, ProductCost: 25, TotalCost: 75}
	repo := &stubRequestRepo{findFn: func(context.Context, string) (domain.CustomizationRequest, error) {
		return request, nil
	}}
	shops := &stubShopRepo{findByUserFn: func(context.Context, string) (domain.Shop, error) {
		return domain.Shop{ID: "shop-other", UserID: "intruder"}, nil
	}}
	svc := newTestPricingService(t, PricingServiceDeps{Requests: repo, Shops: shops})

	if _, err := svc.AddShopPricing(ctx, AddShopPricingCommand{
		RequestID: "req-1", ActorID: "intruder", PrintingCost: 10,
	}); !errors.Is(err, ErrPricingForbidden) {
		t.Fatalf("expected ErrPricingForbidden, got %v", err)
	}
}

func TestAgreeToPricingStampsConsent(t *testing.T) {
	ctx := context.Background()
	request := baseRequest()
	request.Status = domain.RequestStatusPricingProposed
	request.PricingAgreement = &domain.PricingAgreement{
		DesignFee: 50, ProductCost: 25, PrintingCost: 10, TotalCost: 85, Currency: "USD",
	}

	var saved domain.CustomizationRequest
	repo := &stubRequestRepo{
		findFn: func(context.Context, string) (domain.CustomizationRequest, error) {
			return request, nil
		},
		updateFn: func(_ context.Context, req domain.CustomizationRequest, _ *time.Time) (domain.CustomizationRequest, error) {
			saved = req
			return req, nil
		},
	}
	events := &captureLifecycleEvents{}
	svc := newTestPricingService(t, PricingServiceDeps{Requests: repo, Events: events})

	if _, err := svc.AgreeToPricing(ctx, AgreeToPricingCommand{RequestID: "req-1", ActorID: "cust-1"}); err != nil {
		t.Fatalf("agree to pricing: %v", err)
	}
	if saved.Status != domain.RequestStatusPaymentRequired {
		t.Fatalf("expected payment_required, got %s", saved.Status)
	}
	if saved.PricingAgreement.AgreedAt == nil || *saved.PricingAgreement.AgreedBy != "cust-1" {
		t.Fatalf("expected consent stamp, got %+v", saved.PricingAgreement)
	}
	if len(events.events) != 1 || events.events[0].Type != "pricing.agreed" {
		t.Fatalf("expected pricing.agreed event")
	}
}

func TestAgreeToPricingWithoutAgreementFails(t *testing.T) {
	ctx := context.Background()
	repo := &stubRequestRepo{findFn: func(context.Context, string) (domain.CustomizationRequest, error) {
		return baseRequest(), nil
	}}
	svc := newTestPricingService(t, PricingServiceDeps{Requests: repo})

	if _, err := svc.AgreeToPricing(ctx, AgreeToPricingCommand{RequestID: "req-1", ActorID: "cust-1"}); !errors.Is(err, ErrPricingInvalidState) {
		t.Fatalf("expected ErrPricingInvalidState, got %v", err)
	}
}

func TestRejectPricingClearsAgreementBeforePayment(t *testing.T) {
	ctx := context.Background()
	request := baseRequest()
	request.Status = domain.RequestStatusPricingProposed
	request.PricingAgreement = &domain.PricingAgreement{DesignFee: 50, ProductCost: 25, TotalCost: 75}

	var saved domain.CustomizationRequest
	repo := &stubRequestRepo{
		findFn: func(context.Context, string) (domain.CustomizationRequest, error) {
			return request, nil
		},
		updateFn: func(_ context.Context, req domain.CustomizationRequest, _ *time.Time) (domain.CustomizationRequest, error) {
			saved = req
			return req, nil
		},
	}
	svc := newTestPricingService(t, PricingServiceDeps{Requests: repo})

	if _, err := svc.RejectPricing(ctx, RejectPricingCommand{
		RequestID: "req-1", ActorID: "cust-1", Reason: "too expensive",
	}); err != nil {
		t.Fatalf("reject pricing: %v", err)
	}
	if saved.PricingAgreement != nil {
		t.Fatalf("expected agreement cleared")
	}
	if saved.Status != domain.RequestStatusAwaitingPricing {
		t.Fatalf("expected awaiting_pricing, got %s", saved.Status)
	}
	if len(saved.DesignerNotes) != 1 || saved.DesignerNotes[0].AuthorID != "cust-1" {
		t.Fatalf("expected audit note, got %+v", saved.DesignerNotes)
	}
}

func TestRejectPricingAfterPaymentRoutesToDispute(t *testing.T) {
	ctx := context.Background()
	request := baseRequest()
	request.Status = domain.RequestStatusPaymentRequired
	request.PricingAgreement = &domain.PricingAgreement{DesignFee: 50, ProductCost: 25, TotalCost: 75}
	request.PaymentDetails = &domain.PaymentDetails{
		TotalAmount: 75,
		PaidAmount:  30,
		Payments: []domain.Payment{
			{ID: "pay-1", Amount: 30, Status: domain.PaymentStatusCompleted},
		},
	}

	updateCalled := false
	repo := &stubRequestRepo{
		findFn: func(context.Context, string) (domain.CustomizationRequest, error) {
			return request, nil
		},
		updateFn: func(_ context.Context, req domain.CustomizationRequest, _ *time.Time) (domain.CustomizationRequest, error) {
			updateCalled = true
			return req, nil
		},
	}
	var routedCmd PricingDisputeCommand
	router := &stubDisputeRouter{openFn: func(_ context.Context, cmd PricingDisputeCommand) (Dispute, error) {
		routedCmd = cmd
		return Dispute{ID: "disp-1"}, nil
	}}
	svc := newTestPricingService(t, PricingServiceDeps{Requests: repo, Disputes: router})

	updated, err := svc.RejectPricing(ctx, RejectPricingCommand{
		RequestID: "req-1", ActorID: "cust-1", Reason: "scope changed",
	})
	if err != nil {
		t.Fatalf("reject pricing: %v", err)
	}
	if updateCalled {
		t.Fatalf("expected no direct ledger write when routing to dispute")
	}
	if routedCmd.RequestID != "req-1" || routedCmd.Reason != "scope changed" {
		t.Fatalf("unexpected routed command: %+v", routedCmd)
	}
	if updated.PricingAgreement == nil {
		t.Fatalf("expected agreement preserved")
	}
}

func TestPricingUpdateRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	attempts := 0
	repo := &stubRequestRepo{
		findFn: func(context.Context, string) (domain.CustomizationRequest, error) {
			return baseRequest(), nil
		},
		updateFn: func(_ context.Context, req domain.CustomizationRequest, _ *time.Time) (domain.CustomizationRequest, error) {
			attempts++
			if attempts < 3 {
				return domain.CustomizationRequest{}, &stubRepoError{conflict: true}
			}
			return req, nil
		},
	}
	svc := newTestPricingService(t, PricingServiceDeps{Requests: repo})

	if _, err := svc.ProposePricing(ctx, ProposePricingCommand{
		RequestID: "req-1", ActorID: "designer-1", DesignFee: 50, PaymentPlan: domain.PaymentPlanUpfront,
	}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}
