package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/craftlane/api/internal/domain"
	"github.com/craftlane/api/internal/repositories"
)

type stubDisputeRepo struct {
	insertFn      func(ctx context.Context, dispute domain.Dispute) error
	updateFn      func(ctx context.Context, dispute domain.Dispute, expected *time.Time) (domain.Dispute, error)
	findFn        func(ctx context.Context, disputeID string) (domain.Dispute, error)
	listFn        func(ctx context.Context, filter repositories.DisputeListFilter) (domain.CursorPage[domain.Dispute], error)
	listExpiredFn func(ctx context.Context, now time.Time, pager domain.Pagination) (domain.CursorPage[domain.Dispute], error)
}

func (s *stubDisputeRepo) Insert(ctx context.Context, dispute domain.Dispute) error {
	if s.insertFn == nil {
		return errors.New("unexpected Insert call")
	}
	return s.insertFn(ctx, dispute)
}

func (s *stubDisputeRepo) Update(ctx context.Context, dispute domain.Dispute, expected *time.Time) (domain.Dispute, error) {
	if s.updateFn == nil {
		return domain.Dispute{}, errors.New("unexpected Update call")
	}
	return s.updateFn(ctx, dispute, expected)
}

func (s *stubDisputeRepo) FindByID(ctx context.Context, disputeID string) (domain.Dispute, error) {
	if s.findFn == nil {
		return domain.Dispute{}, errors.New("unexpected FindByID call")
	}
	return s.findFn(ctx, disputeID)
}

func (s *stubDisputeRepo) List(ctx context.Context, filter repositories.DisputeListFilter) (domain.CursorPage[domain.Dispute], error) {
	if s.listFn == nil {
		return domain.CursorPage[domain.Dispute]{}, nil
	}
	return s.listFn(ctx, filter)
}

func (s *stubDisputeRepo) ListExpiredNegotiations(ctx context.Context, now time.Time, pager domain.Pagination) (domain.CursorPage[domain.Dispute], error) {
	if s.listExpiredFn == nil {
		return domain.CursorPage[domain.Dispute]{}, nil
	}
	return s.listExpiredFn(ctx, now, pager)
}

type stubOrderRepo struct {
	insertFn func(ctx context.Context, order domain.Order) error
	updateFn func(ctx context.Context, order domain.Order, expected *time.Time) (domain.Order, error)
	findFn   func(ctx context.Context, orderID string) (domain.Order, error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn == nil {
		return errors.New("unexpected Insert call")
	}
	return s.insertFn(ctx, order)
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order, expected *time.Time) (domain.Order, error) {
	if s.updateFn == nil {
		return domain.Order{}, errors.New("unexpected Update call")
	}
	return s.updateFn(ctx, order, expected)
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn == nil {
		return domain.Order{}, errors.New("unexpected FindByID call")
	}
	return s.findFn(ctx, orderID)
}

func baseOrder(status domain.OrderStatus) domain.Order {
	return domain.Order{
		ID:            "order-1",
		CustomerID:    "cust-1",
		ShopID:        "shop-1",
		RequestID:     valuePtr("req-1"),
		Status:        status,
		PaymentStatus: domain.OrderPaymentUnpaid,
		Amount:        100,
		Currency:      "USD",
		CreatedAt:     testClock().Add(-24 * time.Hour),
		UpdatedAt:     testClock().Add(-time.Hour),
	}
}

func newTestDisputeService(t *testing.T, deps DisputeServiceDeps) DisputeService {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = testClock
	}
	if deps.Disputes == nil {
		deps.Disputes = &stubDisputeRepo{}
	}
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{}
	}
	if deps.Requests == nil {
		deps.Requests = &stubRequestRepo{}
	}
	if deps.Shops == nil {
		deps.Shops = &stubShopRepo{
			findByUserFn: func(ctx context.Context, userID string) (domain.Shop, error) {
				return domain.Shop{ID: "shop-1", UserID: userID}, nil
			},
		}
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "01HTESTDISPUTE" }
	}
	if deps.NegotiationWindow == 0 {
		deps.NegotiationWindow = 48 * time.Hour
	}
	if deps.ResolutionWindow == 0 {
		deps.ResolutionWindow = 5 * 24 * time.Hour
	}
	svc, err := NewDisputeService(deps)
	if err != nil {
		t.Fatalf("NewDisputeService: %v", err)
	}
	return svc
}

func TestRejectOrderRequeuesRequest(t *testing.T) {
	order := baseOrder(domain.OrderStatusProcessing)
	request := agreedRequest(domain.PaymentPlanUpfront)
	request.Status = domain.RequestStatusInProduction

	var storedOrder domain.Order
	var storedRequest domain.CustomizationRequest
	orders := &stubOrderRepo{
		findFn: func(ctx context.Context, id string) (domain.Order, error) {
			return order, nil
		},
		updateFn: func(ctx context.Context, o domain.Order, expected *time.Time) (domain.Order, error) {
			storedOrder = o
			return o, nil
		},
	}
	requests := &stubRequestRepo{
		findFn: func(ctx context.Context, id string) (domain.CustomizationRequest, error) {
			return request, nil
		},
		updateFn: func(ctx context.Context, req domain.CustomizationRequest, expected *time.Time) (domain.CustomizationRequest, error) {
			storedRequest = req
			return req, nil
		},
	}

	svc := newTestDisputeService(t, DisputeServiceDeps{Orders: orders, Requests: requests})
	updated, err := svc.RejectOrder(context.Background(), RejectOrderCommand{
		OrderID: "order-1",
		ActorID: "shop-user-1",
		Reason:  "out of stock on the requested material",
	})
	if err != nil {
		t.Fatalf("RejectOrder: %v", err)
	}

	if updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled order, got %q", updated.Status)
	}
	if storedOrder.CancelReason == nil || storedOrder.CancelledAt == nil {
		t.Fatalf("cancellation details missing: %+v", storedOrder)
	}

	if storedRequest.PrintingShopID != nil || storedRequest.PrintingShopName != nil {
		t.Fatalf("shop assignment should be cleared, got %+v", storedRequest.PrintingShopID)
	}
	if storedRequest.Status != domain.RequestStatusApproved {
		t.Fatalf("request should return to approved, got %q", storedRequest.Status)
	}
	if storedRequest.PricingAgreement == nil || !storedRequest.PricingAgreement.Agreed() {
		t.Fatal("agreed pricing must survive a shop rejection")
	}
	if len(storedRequest.DesignerNotes) == 0 {
		t.Fatal("rejection should leave an audit note on the request")
	}
}

func TestRejectOrderForbiddenForForeignShop(t *testing.T) {
	order := baseOrder(domain.OrderStatusPending)
	orders := &stubOrderRepo{
		findFn: func(ctx context.Context, id string) (domain.Order, error) {
			return order, nil
		},
	}
	shops := &stubShopRepo{
		findByUserFn: func(ctx context.Context, userID string) (domain.Shop, error) {
			return domain.Shop{ID: "shop-other"}, nil
		},
	}
	svc := newTestDisputeService(t, DisputeServiceDeps{Orders: orders, Shops: shops})

	_, err := svc.RejectOrder(context.Background(), RejectOrderCommand{
		OrderID: "order-1",
		ActorID: "shop-user-2",
		Reason:  "not ours",
	})
	if !errors.Is(err, ErrDisputeForbidden) {
		t.Fatalf("expected ErrDisputeForbidden, got %v", err)
	}
}

func TestRejectOrderRequiresActiveOrder(t *testing.T) {
	order := baseOrder(domain.OrderStatusCompleted)
	orders := &stubOrderRepo{
		findFn: func(ctx context.Context, id string) (domain.Order, error) {
			return order, nil
		},
	}
	svc := newTestDisputeService(t, DisputeServiceDeps{Orders: orders})

	_, err := svc.RejectOrder(context.Background(), RejectOrderCommand{
		OrderID: "order-1",
		ActorID: "shop-user-1",
		Reason:  "too late",
	})
	if !errors.Is(err, ErrDisputeInvalidState) {
		t.Fatalf("expected ErrDisputeInvalidState, got %v", err)
	}
}

func TestCancelOrderFlagsPaidOrdersForRefund(t *testing.T) {
	order := baseOrder(domain.OrderStatusPending)
	order.PaymentStatus = domain.OrderPaymentPaid
	var stored domain.Order
	orders := &stubOrderRepo{
		findFn: func(ctx context.Context, id string) (domain.Order, error) {
			return order, nil
		},
		updateFn: func(ctx context.Context, o domain.Order, expected *time.Time) (domain.Order, error) {
			stored = o
			return o, nil
		},
	}
	svc := newTestDisputeService(t, DisputeServiceDeps{Orders: orders})

	updated, err := svc.CancelOrder(context.Background(), CancelOrderCommand{
		OrderID: "order-1",
		ActorID: "cust-1",
		Reason:  "changed my mind",
	})
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if updated.Status != domain.OrderStatusRefunded {
		t.Fatalf("paid order should be refunded, got %q", updated.Status)
	}
	if stored.PaymentStatus != domain.OrderPaymentRefunded {
		t.Fatalf("payment should be flagged refunded, got %q", stored.PaymentStatus)
	}
}

func TestCancelOrderRejectsProcessingOrders(t *testing.T) {
	order := baseOrder(domain.OrderStatusProcessing)
	orders := &stubOrderRepo{
		findFn: func(ctx context.Context, id string) (domain.Order, error) {
			return order, nil
		},
	}
	svc := newTestDisputeService(t, DisputeServiceDeps{Orders: orders})

	_, err := svc.CancelOrder(context.Background(), CancelOrderCommand{
		OrderID: "order-1",
		ActorID: "cust-1",
	})
	if !errors.Is(err, ErrDisputeInvalidState) {
		t.Fatalf("expected ErrDisputeInvalidState, got %v", err)
	}
}

func TestFileDisputeSetsDeadlinesAndFlagsRequest(t *testing.T) {
	request := agreedRequest(domain.PaymentPlanUpfront)
	request.Status = domain.RequestStatusInProduction

	var inserted domain.Dispute
	var storedRequest domain.CustomizationRequest
	disputes := &stubDisputeRepo{
		insertFn: func(ctx context.Context, dispute domain.Dispute) error {
			inserted = dispute
			return nil
		},
	}
	requests := &stubRequestRepo{
		findFn: func(ctx context.Context, id string) (domain.CustomizationRequest, error) {
			return request, nil
		},
		updateFn: func(ctx context.Context, req domain.CustomizationRequest, expected *time.Time) (domain.CustomizationRequest, error) {
			storedRequest = req
			return req, nil
		},
	}
	events := &captureLifecycleEvents{}

	svc := newTestDisputeService(t, DisputeServiceDeps{Disputes: disputes, Requests: requests, Events: events})
	dispute, err := svc.FileDispute(context.Background(), FileDisputeCommand{
		RequestID:    valuePtr("req-1"),
		FiledBy:      "cust-1",
		AccusedParty: "shop-1",
		Category:     "quality",
		Description:  "engraving does not match the approved proof",
	})
	if err != nil {
		t.Fatalf("FileDispute: %v", err)
	}

	if dispute.Stage != domain.DisputeStageNegotiation || dispute.Status != domain.DisputeStatusOpen {
		t.Fatalf("new dispute must open in negotiation, got %+v", dispute)
	}
	wantNegotiation := testClock().Add(48 * time.Hour)
	if !inserted.NegotiationDeadline.Equal(wantNegotiation) {
		t.Fatalf("expected negotiation deadline %v, got %v", wantNegotiation, inserted.NegotiationDeadline)
	}
	wantFinal := testClock().Add(5 * 24 * time.Hour)
	if !inserted.Deadline.Equal(wantFinal) {
		t.Fatalf("expected final deadline %v, got %v", wantFinal, inserted.Deadline)
	}

	if storedRequest.Status != domain.RequestStatusDisputed {
		t.Fatalf("request should be flagged disputed, got %q", storedRequest.Status)
	}
	if len(events.events) != 1 || events.events[0].Type != "dispute.opened" {
		t.Fatalf("expected dispute.opened event, got %+v", events.events)
	}
}

func TestFileDisputeRejectsUnrelatedFiler(t *testing.T) {
	request := agreedRequest(domain.PaymentPlanUpfront)
	request.Status = domain.RequestStatusInProduction

	inserted := false
	disputes := &stubDisputeRepo{
		insertFn: func(ctx context.Context, dispute domain.Dispute) error {
			inserted = true
			return nil
		},
	}
	flagged := false
	requests := &stubRequestRepo{
		findFn: func(ctx context.Context, id string) (domain.CustomizationRequest, error) {
			return request, nil
		},
		updateFn: func(ctx context.Context, req domain.CustomizationRequest, expected *time.Time) (domain.CustomizationRequest, error) {
			flagged = true
			return req, nil
		},
	}
	shops := &stubShopRepo{
		findByUserFn: func(ctx context.Context, userID string) (domain.Shop, error) {
			return domain.Shop{}, &stubRepoError{notFound: true}
		},
	}

	svc := newTestDisputeService(t, DisputeServiceDeps{Disputes: disputes, Requests: requests, Shops: shops})
	_, err := svc.FileDispute(context.Background(), FileDisputeCommand{
		RequestID:    valuePtr("req-1"),
		FiledBy:      "mallory",
		AccusedParty: "shop-1",
		Category:     "quality",
		Description:  "unrelated account attempting to freeze the request",
	})
	if !errors.Is(err, ErrDisputeForbidden) {
		t.Fatalf("expected ErrDisputeForbidden for an unrelated filer, got %v", err)
	}
	if inserted {
		t.Fatal("dispute must not be inserted for an unrelated filer")
	}
	if flagged {
		t.Fatal("request must not be flagged disputed for an unrelated filer")
	}
}

func TestFileDisputeRejectsUnrelatedAccused(t *testing.T) {
	request := agreedRequest(domain.PaymentPlanUpfront)
	request.Status = domain.RequestStatusInProduction
	requests := &stubRequestRepo{
		findFn: func(ctx context.Context, id string) (domain.CustomizationRequest, error) {
			return request, nil
		},
	}
	shops := &stubShopRepo{
		findByUserFn: func(ctx context.Context, userID string) (domain.Shop, error) {
			return domain.Shop{}, &stubRepoError{notFound: true}
		},
	}

	svc := newTestDisputeService(t, DisputeServiceDeps{Requests: requests, Shops: shops})
	_, err := svc.FileDispute(context.Background(), FileDisputeCommand{
		RequestID:    valuePtr("req-1"),
		FiledBy:      "cust-1",
		AccusedParty: "some-other-shop",
		Category:     "quality",
		Description:  "accusing a shop that never touched the request",
	})
	if !errors.Is(err, ErrDisputeForbidden) {
		t.Fatalf("expected ErrDisputeForbidden for an unrelated accused party, got %v", err)
	}
}

func TestFileDisputeAcceptsShopOwnerFiler(t *testing.T) {
	request := agreedRequest(domain.PaymentPlanUpfront)
	request.Status = domain.RequestStatusInProduction

	var inserted domain.Dispute
	disputes := &stubDisputeRepo{
		insertFn: func(ctx context.Context, dispute domain.Dispute) error {
			inserted = dispute
			return nil
		},
	}
	requests := &stubRequestRepo{
		findFn: func(ctx context.Context, id string) (domain.CustomizationRequest, error) {
			return request, nil
		},
		updateFn: func(ctx context.Context, req domain.CustomizationRequest, expected *time.Time) (domain.CustomizationRequest, error) {
			return req, nil
		},
	}
	shops := &stubShopRepo{
		findByUserFn: func(ctx context.Context, userID string) (domain.Shop, error) {
			if userID != "shop-user-1" {
				return domain.Shop{}, &stubRepoError{notFound: true}
			}
			return domain.Shop{ID: "shop-1", UserID: userID}, nil
		},
	}

	svc := newTestDisputeService(t, DisputeServiceDeps{Disputes: disputes, Requests: requests, Shops: shops})
	_, err := svc.FileDispute(context.Background(), FileDisputeCommand{
		RequestID:    valuePtr("req-1"),
		FiledBy:      "shop-user-1",
		AccusedParty: "cust-1",
		Category:     "payment",
		Description:  "customer refuses the agreed final milestone",
	})
	if err != nil {
		t.Fatalf("FileDispute by the assigned shop owner: %v", err)
	}
	if inserted.FiledBy != "shop-user-1" {
		t.Fatalf("expected dispute filed by the shop owner, got %+v", inserted)
	}
}

func TestFileDisputeDerivesEvidencePaths(t *testing.T) {
	request := agreedRequest(domain.PaymentPlanUpfront)
	request.Status = domain.RequestStatusInProduction

	var inserted domain.Dispute
	disputes := &stubDisputeRepo{
		insertFn: func(ctx context.Context, dispute domain.Dispute) error {
			inserted = dispute
			return nil
		},
	}
	requests := &stubRequestRepo{
		findFn: func(ctx context.Context, id string) (domain.CustomizationRequest, error) {
			return request, nil
		},
		updateFn: func(ctx context.Context, req domain.CustomizationRequest, expected *time.Time) (domain.CustomizationRequest, error) {
			return req, nil
		},
	}

	svc := newTestDisputeService(t, DisputeServiceDeps{Disputes: disputes, Requests: requests})
	_, err := svc.FileDispute(context.Background(), FileDisputeCommand{
		RequestID:    valuePtr("req-1"),
		FiledBy:      "cust-1",
		AccusedParty: "shop-1",
		Category:     "quality",
		Description:  "engraving depth is visibly shallower than the proof",
		Evidence: []Attachment{
			{Filename: "macro-shot.jpg", ContentType: "image/jpeg", SizeBytes: 2048},
			{Filename: "invoice.pdf", StoragePath: "disputes/manual/invoice.pdf", UploadedAt: testClock().Add(-time.Hour)},
		},
	})
	if err != nil {
		t.Fatalf("FileDispute: %v", err)
	}

	if len(inserted.EvidenceImages) != 2 {
		t.Fatalf("expected 2 evidence entries, got %d", len(inserted.EvidenceImages))
	}
	derived := inserted.EvidenceImages[0]
	if derived.StoragePath != "disputes/dsp_01HTESTDISPUTE/evidence/macro-shot.jpg" {
		t.Fatalf("unexpected derived storage path %q", derived.StoragePath)
	}
	if !derived.UploadedAt.Equal(testClock()) {
		t.Fatalf("expected upload time stamped at filing, got %v", derived.UploadedAt)
	}
	manual := inserted.EvidenceImages[1]
	if manual.StoragePath != "disputes/manual/invoice.pdf" {
		t.Fatalf("explicit storage path must be preserved, got %q", manual.StoragePath)
	}
	if !manual.UploadedAt.Equal(testClock().Add(-time.Hour)) {
		t.Fatalf("explicit upload time must be preserved, got %v", manual.UploadedAt)
	}
}

func TestFileDisputeRejectsUnsafeEvidenceFilename(t *testing.T) {
	request := agreedRequest(domain.PaymentPlanUpfront)
	request.Status = domain.RequestStatusInProduction
	requests := &stubRequestRepo{
		findFn: func(ctx context.Context, id string) (domain.CustomizationRequest, error) {
			return request, nil
		},
	}

	svc := newTestDisputeService(t, DisputeServiceDeps{Requests: requests})
	_, err := svc.FileDispute(context.Background(), FileDisputeCommand{
		RequestID:    valuePtr("req-1"),
		FiledBy:      "cust-1",
		AccusedParty: "shop-1",
		Category:     "quality",
		Description:  "engraving depth is visibly shallower than the proof",
		Evidence:     []Attachment{{Filename: "../secrets.txt"}},
	})
	if !errors.Is(err, ErrDisputeInvalidInput) {
		t.Fatalf("expected ErrDisputeInvalidInput, got %v", err)
	}
}

func TestFileDisputeRequiresExactlyOneSubject(t *testing.T) {
	svc := newTestDisputeService(t, DisputeServiceDeps{})
	ctx := context.Background()

	_, err := svc.FileDispute(ctx, FileDisputeCommand{
		FiledBy:      "cust-1",
		AccusedParty: "shop-1",
		Category:     "quality",
		Description:  "missing subject",
	})
	if !errors.Is(err, ErrDisputeInvalidInput) {
		t.Fatalf("expected ErrDisputeInvalidInput for no subject, got %v", err)
	}

	_, err = svc.FileDispute(ctx, FileDisputeCommand{
		RequestID:    valuePtr("req-1"),
		OrderID:      valuePtr("order-1"),
		FiledBy:      "cust-1",
		AccusedParty: "shop-1",
		Category:     "quality",
		Description:  "both subjects",
	})
	if !errors.Is(err, ErrDisputeInvalidInput) {
		t.Fatalf("expected ErrDisputeInvalidInput for both subjects, got %v", err)
	}
}

func TestOpenPricingDisputeReusesOpenDispute(t *testing.T) {
	request := agreedRequest(domain.PaymentPlanUpfront)
	existing := domain.Dispute{
		ID:        "dsp_existing",
		RequestID: valuePtr("req-1"),
		Category:  "pricing",
		Stage:     domain.DisputeStageNegotiation,
		Status:    domain.DisputeStatusOpen,
	}
	var updatedDispute domain.Dispute
	disputes := &stubDisputeRepo{
		listFn: func(ctx context.Context, filter repositories.DisputeListFilter) (domain.CursorPage[domain.Dispute], error) {
			return domain.CursorPage[domain.Dispute]{Items: []domain.Dispute{existing}}, nil
		},
		findFn: func(ctx context.Context, id string) (domain.Dispute, error) {
			return existing, nil
		},
		updateFn: func(ctx context.Context, d domain.Dispute, expected *time.Time) (domain.Dispute, error) {
			updatedDispute = d
			return d, nil
		},
	}
	requests := &stubRequestRepo{
		findFn: func(ctx context.Context, id string) (domain.CustomizationRequest, error) {
			return request, nil
		},
	}

	svc := newTestDisputeService(t, DisputeServiceDeps{Disputes: disputes, Requests: requests})
	dispute, err := svc.OpenPricingDispute(context.Background(), PricingDisputeCommand{
		RequestID: "req-1",
		ActorID:   "cust-1",
		Reason:    "the revised total is unjustified",
	})
	if err != nil {
		t.Fatalf("OpenPricingDispute: %v", err)
	}
	if dispute.ID != "dsp_existing" {
		t.Fatalf("existing dispute should be reused, got %q", dispute.ID)
	}
	if len(updatedDispute.AdminNotes) != 1 {
		t.Fatalf("complaint should be appended as a note, got %+v", updatedDispute.AdminNotes)
	}
}

func TestResolveDisputeStampsOutcome(t *testing.T) {
	dispute := domain.Dispute{
		ID:        "dsp_1",
		RequestID: valuePtr("req-1"),
		Stage:     domain.DisputeStageAdminReview,
		Status:    domain.DisputeStatusOpen,
		UpdatedAt: testClock().Add(-time.Hour),
	}
	var stored domain.Dispute
	disputes := &stubDisputeRepo{
		findFn: func(ctx context.Context, id string) (domain.Dispute, error) {
			return dispute, nil
		},
		updateFn: func(ctx context.Context, d domain.Dispute, expected *time.Time) (domain.Dispute, error) {
			if expected == nil || !expected.Equal(dispute.UpdatedAt) {
				t.Fatalf("expected precondition %v, got %v", dispute.UpdatedAt, expected)
			}
			stored = d
			return d, nil
		},
	}
	events := &captureLifecycleEvents{}

	svc := newTestDisputeService(t, DisputeServiceDeps{Disputes: disputes, Events: events})
	resolved, err := svc.ResolveDispute(context.Background(), ResolveDisputeCommand{
		DisputeID:  "dsp_1",
		ActorID:    "admin-1",
		Resolution: "partial refund of the printing cost",
		Outcome:    domain.DisputeStatusResolved,
	})
	if err != nil {
		t.Fatalf("ResolveDispute: %v", err)
	}

	if resolved.Stage != domain.DisputeStageResolved || resolved.Status != domain.DisputeStatusResolved {
		t.Fatalf("unexpected resolution state %+v", resolved)
	}
	if stored.ResolvedBy == nil || *stored.ResolvedBy != "admin-1" || stored.ResolvedAt == nil {
		t.Fatalf("resolution stamps missing: %+v", stored)
	}
	if len(events.events) != 1 || events.events[0].Type != "dispute.resolved" {
		t.Fatalf("expected dispute.resolved event, got %+v", events.events)
	}
}

func TestResolveDisputeRejectsClosedDispute(t *testing.T) {
	dispute := domain.Dispute{ID: "dsp_1", Stage: domain.DisputeStageResolved, Status: domain.DisputeStatusResolved}
	disputes := &stubDisputeRepo{
		findFn: func(ctx context.Context, id string) (domain.Dispute, error) {
			return dispute, nil
		},
	}
	svc := newTestDisputeService(t, DisputeServiceDeps{Disputes: disputes})

	_, err := svc.ResolveDispute(context.Background(), ResolveDisputeCommand{
		DisputeID:  "dsp_1",
		ActorID:    "admin-1",
		Resolution: "done already",
		Outcome:    domain.DisputeStatusResolved,
	})
	if !errors.Is(err, ErrDisputeInvalidState) {
		t.Fatalf("expected ErrDisputeInvalidState, got %v", err)
	}
}

func TestExpireNegotiationsEscalatesAndCountsFailures(t *testing.T) {
	expired := []domain.Dispute{
		{ID: "dsp_1", Stage: domain.DisputeStageNegotiation, Status: domain.DisputeStatusOpen},
		{ID: "dsp_2", Stage: domain.DisputeStageNegotiation, Status: domain.DisputeStatusOpen},
		{ID: "dsp_3", Stage: domain.DisputeStageNegotiation, Status: domain.DisputeStatusOpen},
	}
	var escalated []string
	disputes := &stubDisputeRepo{
		listExpiredFn: func(ctx context.Context, now time.Time, pager domain.Pagination) (domain.CursorPage[domain.Dispute], error) {
			if !now.Equal(testClock()) {
				t.Fatalf("sweep should use the clock, got %v", now)
			}
			return domain.CursorPage[domain.Dispute]{Items: expired}, nil
		},
		findFn: func(ctx context.Context, id string) (domain.Dispute, error) {
			if id == "dsp_2" {
				return domain.Dispute{}, &stubRepoError{unavailable: true}
			}
			for _, d := range expired {
				if d.ID == id {
					return d, nil
				}
			}
			return domain.Dispute{}, &stubRepoError{notFound: true}
		},
		updateFn: func(ctx context.Context, d domain.Dispute, expected *time.Time) (domain.Dispute, error) {
			if d.Stage != domain.DisputeStageAdminReview {
				t.Fatalf("expected escalation to admin_review, got %q", d.Stage)
			}
			escalated = append(escalated, d.ID)
			return d, nil
		},
	}
	svc := newTestDisputeService(t, DisputeServiceDeps{Disputes: disputes})

	result, err := svc.ExpireNegotiations(context.Background(), ExpireNegotiationsCommand{Limit: 10})
	if err != nil {
		t.Fatalf("ExpireNegotiations: %v", err)
	}
	if result.Escalated != 2 || result.Failed != 1 {
		t.Fatalf("expected 2 escalated and 1 failed, got %+v", result)
	}
	if len(escalated) != 2 {
		t.Fatalf("expected two updates, got %v", escalated)
	}
}
