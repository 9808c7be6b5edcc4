package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/craftlane/api/internal/domain"
	"github.com/craftlane/api/internal/platform/auth"
	"github.com/craftlane/api/internal/services"
)

type stubRequestService struct {
	getFn  func(context.Context, string, services.RequestReadOptions) (services.RequestDetail, error)
	listFn func(context.Context, services.RequestListFilter) (domain.CursorPage[services.CustomizationRequest], error)
}

func (s *stubRequestService) GetRequest(ctx context.Context, requestID string, opts services.RequestReadOptions) (services.RequestDetail, error) {
	if s.getFn != nil {
		return s.getFn(ctx, requestID, opts)
	}
	return services.RequestDetail{}, errors.New("not implemented")
}

func (s *stubRequestService) ListRequests(ctx context.Context, filter services.RequestListFilter) (domain.CursorPage[services.CustomizationRequest], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.CustomizationRequest]{}, nil
}

type stubPricingService struct {
	proposeFn  func(context.Context, services.ProposePricingCommand) (services.CustomizationRequest, error)
	shopCostFn func(context.Context, services.AddShopPricingCommand) (services.CustomizationRequest, error)
	agreeFn    func(context.Context, services.AgreeToPricingCommand) (services.CustomizationRequest, error)
	rejectFn   func(context.Context, services.RejectPricingCommand) (services.CustomizationRequest, error)
}

func (s *stubPricingService) ProposePricing(ctx context.Context, cmd services.ProposePricingCommand) (services.CustomizationRequest, error) {
	if s.proposeFn != nil {
		return s.proposeFn(ctx, cmd)
	}
	return services.CustomizationRequest{}, errors.New("not implemented")
}

func (s *stubPricingService) AddShopPricing(ctx context.Context, cmd services.AddShopPricingCommand) (services.CustomizationRequest, error) {
	if s.shopCostFn != nil {
		return s.shopCostFn(ctx, cmd)
	}
	return services.CustomizationRequest{}, errors.New("not implemented")
}

func (s *stubPricingService) AgreeToPricing(ctx context.Context, cmd services.AgreeToPricingCommand) (services.CustomizationRequest, error) {
	if s.agreeFn != nil {
		return s.agreeFn(ctx, cmd)
	}
	return services.CustomizationRequest{}, errors.New("not implemented")
}

func (s *stubPricingService) RejectPricing(ctx context.Context, cmd services.RejectPricingCommand) (services.CustomizationRequest, error) {
	if s.rejectFn != nil {
		return s.rejectFn(ctx, cmd)
	}
	return services.CustomizationRequest{}, errors.New("not implemented")
}

type stubPaymentService struct {
	processFn  func(context.Context, services.ProcessPaymentCommand) (services.PaymentInitiation, error)
	callbackFn func(context.Context, services.ChargeCallbackCommand) (services.ChargeCallbackResult, error)
	statusFn   func(context.Context, string) (services.PaymentDetails, error)
	disburseFn func(context.Context, services.InitiateDisbursementsCommand) (services.DisbursementPlan, error)
}

func (s *stubPaymentService) ProcessPayment(ctx context.Context, cmd services.ProcessPaymentCommand) (services.PaymentInitiation, error) {
	if s.processFn != nil {
		return s.processFn(ctx, cmd)
	}
	return services.PaymentInitiation{}, errors.New("not implemented")
}

func (s *stubPaymentService) RecordChargeCallback(ctx context.Context, cmd services.ChargeCallbackCommand) (services.ChargeCallbackResult, error) {
	if s.callbackFn != nil {
		return s.callbackFn(ctx, cmd)
	}
	return services.ChargeCallbackResult{}, errors.New("not implemented")
}

func (s *stubPaymentService) GetPaymentStatus(ctx context.Context, requestID string) (services.PaymentDetails, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx, requestID)
	}
	return services.PaymentDetails{}, errors.New("not implemented")
}

func (s *stubPaymentService) InitiateDisbursements(ctx context.Context, cmd services.InitiateDisbursementsCommand) (services.DisbursementPlan, error) {
	if s.disburseFn != nil {
		return s.disburseFn(ctx, cmd)
	}
	return services.DisbursementPlan{}, errors.New("not implemented")
}

type stubProductionService struct {
	confirmFn  func(context.Context, services.ConfirmProductionCommand) (services.CustomizationRequest, error)
	startFn    func(context.Context, services.StartProductionCommand) (services.CustomizationRequest, error)
	completeFn func(context.Context, services.CompleteProductionCommand) (services.CustomizationRequest, error)
	updateFn   func(context.Context, services.UpdateProductionCommand) (services.CustomizationRequest, error)
}

func (s *stubProductionService) ConfirmProduction(ctx context.Context, cmd services.ConfirmProductionCommand) (services.CustomizationRequest, error) {
	if s.confirmFn != nil {
		return s.confirmFn(ctx, cmd)
	}
	return services.CustomizationRequest{}, errors.New("not implemented")
}

func (s *stubProductionService) StartProduction(ctx context.Context, cmd services.StartProductionCommand) (services.CustomizationRequest, error) {
	if s.startFn != nil {
		return s.startFn(ctx, cmd)
	}
	return services.CustomizationRequest{}, errors.New("not implemented")
}

func (s *stubProductionService) CompleteProduction(ctx context.Context, cmd services.CompleteProductionCommand) (services.CustomizationRequest, error) {
	if s.completeFn != nil {
		return s.completeFn(ctx, cmd)
	}
	return services.CustomizationRequest{}, errors.New("not implemented")
}

func (s *stubProductionService) UpdateProduction(ctx context.Context, cmd services.UpdateProductionCommand) (services.CustomizationRequest, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.CustomizationRequest{}, errors.New("not implemented")
}

var (
	_ services.RequestService    = (*stubRequestService)(nil)
	_ services.PricingService    = (*stubPricingService)(nil)
	_ services.PaymentService    = (*stubPaymentService)(nil)
	_ services.ProductionService = (*stubProductionService)(nil)
)

type requestTestDeps struct {
	requests   *stubRequestService
	pricing    *stubPricingService
	payments   *stubPaymentService
	production *stubProductionService
	opts       []RequestHandlersOption
}

func newRequestTestRouter(deps requestTestDeps) chi.Router {
	if deps.requests == nil {
		deps.requests = &stubRequestService{}
	}
	if deps.pricing == nil {
		deps.pricing = &stubPricingService{}
	}
	if deps.payments == nil {
		deps.payments = &stubPaymentService{}
	}
	if deps.production == nil {
		deps.production = &stubProductionService{}
	}
	handler := NewRequestHandlers(nil, deps.requests, deps.pricing, deps.payments, deps.production, deps.opts...)
	router := chi.NewRouter()
	router.Route("/customization-requests", handler.Routes)
	return router
}

func sampleRequest(status domain.RequestStatus) services.CustomizationRequest {
	now := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	designer := "designer-1"
	shopID := "shop-1"
	return services.CustomizationRequest{
		ID:             "req-1",
		CustomerID:     "cust-1",
		DesignerID:     &designer,
		PrintingShopID: &shopID,
		ProductID:      "prod-1",
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestRequestHandlersListScopesToCustomer(t *testing.T) {
	var captured services.RequestListFilter
	service := &stubRequestService{
		listFn: func(ctx context.Context, filter services.RequestListFilter) (domain.CursorPage[services.CustomizationRequest], error) {
			captured = filter
			return domain.CursorPage[services.CustomizationRequest]{
				Items:         []services.CustomizationRequest{sampleRequest(domain.RequestStatusPricingProposed)},
				NextPageToken: "tok-next",
			}, nil
		},
	}

	router := newRequestTestRouter(requestTestDeps{requests: service})

	req := httptest.NewRequest(http.MethodGet, "/customization-requests/?status=pricing_proposed&page_size=5", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.CustomerID == nil || *captured.CustomerID != "cust-1" {
		t.Fatalf("expected customer scope, got %v", captured.CustomerID)
	}
	if len(captured.Status) != 1 || captured.Status[0] != domain.RequestStatusPricingProposed {
		t.Fatalf("expected status filter, got %v", captured.Status)
	}
	if captured.Pagination.PageSize != 5 {
		t.Fatalf("expected page size 5, got %d", captured.Pagination.PageSize)
	}

	var response struct {
		Items         []map[string]any `json:"items"`
		NextPageToken string           `json:"next_page_token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(response.Items) != 1 || response.NextPageToken != "tok-next" {
		t.Fatalf("unexpected list response: %+v", response)
	}
}

func TestRequestHandlersListDesignerViewRequiresRole(t *testing.T) {
	router := newRequestTestRouter(requestTestDeps{})

	req := httptest.NewRequest(http.MethodGet, "/customization-requests/?view=designer", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestRequestHandlersGetRequestSignsAttachments(t *testing.T) {
	expires := time.Date(2024, 5, 6, 9, 15, 0, 0, time.UTC)

	var capturedOpts services.RequestReadOptions
	service := &stubRequestService{
		getFn: func(ctx context.Context, requestID string, opts services.RequestReadOptions) (services.RequestDetail, error) {
			capturedOpts = opts
			return services.RequestDetail{
				Request: sampleRequest(domain.RequestStatusApproved),
				AttachmentLinks: []services.AttachmentLink{
					{Purpose: "final_proof", FileName: "proof.png", URL: "https://signed.example/proof.png", ExpiresAt: expires},
				},
			}, nil
		},
	}

	router := newRequestTestRouter(requestTestDeps{requests: service})

	req := httptest.NewRequest(http.MethodGet, "/customization-requests/req-1?attachment_links=true", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !capturedOpts.SignAttachments {
		t.Fatalf("expected sign attachments option to be set")
	}

	var response struct {
		AttachmentLinks []struct {
			Purpose string `json:"purpose"`
			URL     string `json:"url"`
		} `json:"attachment_links"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(response.AttachmentLinks) != 1 || response.AttachmentLinks[0].Purpose != "final_proof" {
		t.Fatalf("expected signed link in payload, got %+v", response.AttachmentLinks)
	}
}

func TestRequestHandlersGetRequestHidesForeignRequests(t *testing.T) {
	service := &stubRequestService{
		getFn: func(ctx context.Context, requestID string, opts services.RequestReadOptions) (services.RequestDetail, error) {
			return services.RequestDetail{Request: sampleRequest(domain.RequestStatusApproved)}, nil
		},
	}

	router := newRequestTestRouter(requestTestDeps{requests: service})

	req := httptest.NewRequest(http.MethodGet, "/customization-requests/req-1", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "stranger-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestRequestHandlersProposePricingRequiresDesignerRole(t *testing.T) {
	router := newRequestTestRouter(requestTestDeps{})

	body := bytes.NewBufferString(`{"design_fee":3000,"payment_plan":"upfront"}`)
	req := httptest.NewRequest(http.MethodPost, "/customization-requests/req-1/pricing", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust-1", Roles: []string{auth.RoleCustomer}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestRequestHandlersProposePricingSuccess(t *testing.T) {
	var captured services.ProposePricingCommand
	pricing := &stubPricingService{
		proposeFn: func(ctx context.Context, cmd services.ProposePricingCommand) (services.CustomizationRequest, error) {
			captured = cmd
			request := sampleRequest(domain.RequestStatusPricingProposed)
			request.PricingAgreement = &domain.PricingAgreement{
				DesignFee:    cmd.DesignFee,
				ProductCost:  5000,
				PrintingCost: 2000,
				TotalCost:    cmd.DesignFee + 7000,
				Currency:     "usd",
				PaymentPlan:  cmd.PaymentPlan,
				ProposedBy:   cmd.ActorID,
			}
			return request, nil
		},
	}

	router := newRequestTestRouter(requestTestDeps{pricing: pricing})

	payload := `{
		"design_fee": 3000,
		"payment_plan": "milestone",
		"milestones": [
			{"description": "draft", "amount": 5000, "due_at": "2024-06-01T00:00:00Z"},
			{"description": "final", "amount": 5000}
		]
	}`
	req := httptest.NewRequest(http.MethodPost, "/customization-requests/req-1/pricing", bytes.NewBufferString(payload))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "designer-1", Roles: []string{auth.RoleDesigner}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.RequestID != "req-1" || captured.ActorID != "designer-1" {
		t.Fatalf("unexpected command: %+v", captured)
	}
	if captured.PaymentPlan != domain.PaymentPlanMilestone {
		t.Fatalf("expected milestone plan, got %s", captured.PaymentPlan)
	}
	if len(captured.Milestones) != 2 {
		t.Fatalf("expected 2 milestones, got %d", len(captured.Milestones))
	}
	if captured.Milestones[0].DueAt == nil || !captured.Milestones[0].DueAt.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected parsed due date, got %v", captured.Milestones[0].DueAt)
	}
	if captured.Milestones[1].DueAt != nil {
		t.Fatalf("expected nil due date for second milestone")
	}

	var response struct {
		Request struct {
			Status           string `json:"status"`
			PricingAgreement struct {
				TotalCost   int64  `json:"total_cost"`
				PaymentPlan string `json:"payment_plan"`
			} `json:"pricing_agreement"`
		} `json:"request"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Request.PricingAgreement.TotalCost != 10000 {
		t.Fatalf("expected total 10000, got %d", response.Request.PricingAgreement.TotalCost)
	}
}

func TestRequestHandlersProcessPaymentForwardsIdempotencyKey(t *testing.T) {
	var captured services.ProcessPaymentCommand
	payments := &stubPaymentService{
		processFn: func(ctx context.Context, cmd services.ProcessPaymentCommand) (services.PaymentInitiation, error) {
			captured = cmd
			return services.PaymentInitiation{
				PaymentID:        "pay_1",
				Provider:         "stripe",
				GatewayReference: "pi_123",
				RedirectURL:      "https://checkout.example/pi_123",
				Status:           domain.PaymentStatusPending,
				Amount:           cmd.Amount,
				Currency:         "USD",
			}, nil
		},
	}

	router := newRequestTestRouter(requestTestDeps{payments: payments})

	body := bytes.NewBufferString(`{"amount":5000,"method":"card","success_url":"https://app.example/ok","cancel_url":"https://app.example/cancel"}`)
	req := httptest.NewRequest(http.MethodPost, "/customization-requests/req-1/payments", body)
	req.Header.Set("Idempotency-Key", "idem-123")
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.IdempotencyKey != "idem-123" {
		t.Fatalf("expected idempotency key forwarded, got %q", captured.IdempotencyKey)
	}
	if captured.Amount != 5000 || captured.Method != "card" {
		t.Fatalf("unexpected command: %+v", captured)
	}

	var response paymentInitiationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.PaymentID != "pay_1" || response.Status != "pending" {
		t.Fatalf("unexpected initiation response: %+v", response)
	}
	if response.RedirectURL != "https://checkout.example/pi_123" {
		t.Fatalf("expected redirect url, got %s", response.RedirectURL)
	}
}

func TestRequestHandlersProcessPaymentMapsGatewayFailure(t *testing.T) {
	payments := &stubPaymentService{
		processFn: func(ctx context.Context, cmd services.ProcessPaymentCommand) (services.PaymentInitiation, error) {
			return services.PaymentInitiation{}, fmt.Errorf("%w: session create failed", services.ErrPaymentGateway)
		},
	}

	router := newRequestTestRouter(requestTestDeps{payments: payments})

	body := bytes.NewBufferString(`{"amount":5000,"method":"card"}`)
	req := httptest.NewRequest(http.MethodPost, "/customization-requests/req-1/payments", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}

	var bodyJSON map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &bodyJSON); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if bodyJSON["error"] != "payment_gateway_error" {
		t.Fatalf("expected payment_gateway_error, got %v", bodyJSON["error"])
	}
}

func TestRequestHandlersMapInvariantViolationsToServerError(t *testing.T) {
	payments := &stubPaymentService{
		processFn: func(ctx context.Context, cmd services.ProcessPaymentCommand) (services.PaymentInitiation, error) {
			return services.PaymentInitiation{}, fmt.Errorf("%w: remaining amount would go negative", services.ErrPaymentInvariant)
		},
	}
	pricing := &stubPricingService{
		shopCostFn: func(ctx context.Context, cmd services.AddShopPricingCommand) (services.CustomizationRequest, error) {
			return services.CustomizationRequest{}, fmt.Errorf("%w: total cost drifted from components", services.ErrPricingInvariant)
		},
	}

	router := newRequestTestRouter(requestTestDeps{payments: payments, pricing: pricing})

	body := bytes.NewBufferString(`{"amount":5000,"method":"card"}`)
	req := httptest.NewRequest(http.MethodPost, "/customization-requests/req-1/payments", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust-1"}))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500 for payment invariant violation, got %d", rr.Code)
	}
	var bodyJSON map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &bodyJSON); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if bodyJSON["error"] != "payment_invariant" {
		t.Fatalf("expected payment_invariant, got %v", bodyJSON["error"])
	}

	body = bytes.NewBufferString(`{"printing_cost":2500}`)
	req = httptest.NewRequest(http.MethodPost, "/customization-requests/req-1/pricing/shop-cost", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "shop-user-1", Roles: []string{auth.RoleShopOwner}}))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500 for pricing invariant violation, got %d", rr.Code)
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &bodyJSON); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if bodyJSON["error"] != "pricing_invariant" {
		t.Fatalf("expected pricing_invariant, got %v", bodyJSON["error"])
	}
}

func TestRequestHandlersChargeRateLimit(t *testing.T) {
	payments := &stubPaymentService{
		processFn: func(ctx context.Context, cmd services.ProcessPaymentCommand) (services.PaymentInitiation, error) {
			return services.PaymentInitiation{PaymentID: "pay_1", Status: domain.PaymentStatusPending}, nil
		},
	}

	router := newRequestTestRouter(requestTestDeps{
		payments: payments,
		opts:     []RequestHandlersOption{WithChargeRateLimit(1, time.Minute)},
	})

	send := func() int {
		body := bytes.NewBufferString(`{"amount":5000,"method":"card"}`)
		req := httptest.NewRequest(http.MethodPost, "/customization-requests/req-1/payments", body)
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust-1"}))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := send(); code != http.StatusAccepted {
		t.Fatalf("expected first attempt to pass, got %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("expected second attempt rate limited, got %d", code)
	}
}

func TestRequestHandlersGetPaymentStatus(t *testing.T) {
	payments := &stubPaymentService{
		statusFn: func(ctx context.Context, requestID string) (services.PaymentDetails, error) {
			completed := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
			return services.PaymentDetails{
				TotalAmount:     10000,
				PaidAmount:      5000,
				RemainingAmount: 5000,
				Currency:        "usd",
				Payments: []domain.Payment{
					{ID: "pay_1", Amount: 5000, Currency: "usd", Status: domain.PaymentStatusCompleted, CompletedAt: &completed},
				},
			}, nil
		},
	}

	router := newRequestTestRouter(requestTestDeps{payments: payments})

	req := httptest.NewRequest(http.MethodGet, "/customization-requests/req-1/payments", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var response paymentDetailsPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.PaidAmount != 5000 || response.RemainingAmount != 5000 {
		t.Fatalf("unexpected ledger totals: %+v", response)
	}
	if response.Currency != "USD" {
		t.Fatalf("expected uppercased currency, got %s", response.Currency)
	}
	if len(response.Payments) != 1 || response.Payments[0].Status != "completed" {
		t.Fatalf("expected completed payment entry, got %+v", response.Payments)
	}
}

func TestRequestHandlersInitiateDisbursementsRequiresAdmin(t *testing.T) {
	router := newRequestTestRouter(requestTestDeps{})

	req := httptest.NewRequest(http.MethodPost, "/customization-requests/req-1/payments/disbursements", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestRequestHandlersInitiateDisbursementsSuccess(t *testing.T) {
	payments := &stubPaymentService{
		disburseFn: func(ctx context.Context, cmd services.InitiateDisbursementsCommand) (services.DisbursementPlan, error) {
			return services.DisbursementPlan{
				Currency: "USD",
				Designer: services.DisbursementLeg{Recipient: "designer", ExternalID: "designer-payout-req-1-1714986000", Amount: 3000},
				Shop:     services.DisbursementLeg{Recipient: "shop", ExternalID: "shop-payout-req-1-1714986000", Amount: 7000},
			}, nil
		},
	}

	router := newRequestTestRouter(requestTestDeps{payments: payments})

	req := httptest.NewRequest(http.MethodPost, "/customization-requests/req-1/payments/disbursements", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}

	var response disbursementPlanResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Designer.Amount != 3000 || response.Shop.Amount != 7000 {
		t.Fatalf("unexpected split: %+v", response)
	}
}

func TestRequestHandlersConfirmProductionParsesBody(t *testing.T) {
	var captured services.ConfirmProductionCommand
	production := &stubProductionService{
		confirmFn: func(ctx context.Context, cmd services.ConfirmProductionCommand) (services.CustomizationRequest, error) {
			captured = cmd
			request := sampleRequest(domain.RequestStatusApproved)
			request.ProductionDetails = &domain.ProductionDetails{Status: domain.ProductionStatusConfirmed}
			return request, nil
		},
	}

	router := newRequestTestRouter(requestTestDeps{production: production})

	payload := `{"estimated_completion_date":"2024-05-20T00:00:00Z","materials":["brass","walnut"],"notes":"rush job"}`
	req := httptest.NewRequest(http.MethodPost, "/customization-requests/req-1/production/confirm", bytes.NewBufferString(payload))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "shop-user-1", Roles: []string{auth.RoleShopOwner}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.EstimatedCompletionDate == nil || !captured.EstimatedCompletionDate.Equal(time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected parsed eta, got %v", captured.EstimatedCompletionDate)
	}
	if len(captured.Materials) != 2 || captured.Notes != "rush job" {
		t.Fatalf("unexpected command: %+v", captured)
	}
}

func TestRequestHandlersUpdateProductionPatchSemantics(t *testing.T) {
	var captured services.UpdateProductionCommand
	production := &stubProductionService{
		updateFn: func(ctx context.Context, cmd services.UpdateProductionCommand) (services.CustomizationRequest, error) {
			captured = cmd
			return sampleRequest(domain.RequestStatusInProduction), nil
		},
	}

	router := newRequestTestRouter(requestTestDeps{production: production})

	payload := `{"status":"in_progress","notes":"engraving started"}`
	req := httptest.NewRequest(http.MethodPatch, "/customization-requests/req-1/production", bytes.NewBufferString(payload))
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "shop-user-1", Roles: []string{auth.RoleShopOwner}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Status == nil || *captured.Status != domain.ProductionStatusInProgress {
		t.Fatalf("expected in_progress status, got %v", captured.Status)
	}
	if captured.Notes == nil || *captured.Notes != "engraving started" {
		t.Fatalf("expected notes patch, got %v", captured.Notes)
	}
	if captured.EstimatedCompletionDate != nil {
		t.Fatalf("expected nil eta when omitted, got %v", captured.EstimatedCompletionDate)
	}
}

func TestRequestHandlersCompleteProductionMapsInvalidState(t *testing.T) {
	production := &stubProductionService{
		completeFn: func(ctx context.Context, cmd services.CompleteProductionCommand) (services.CustomizationRequest, error) {
			return services.CustomizationRequest{}, fmt.Errorf("%w: production has not started", services.ErrProductionInvalidState)
		},
	}

	router := newRequestTestRouter(requestTestDeps{production: production})

	body := bytes.NewBufferString(`{"quality_check_passed":true}`)
	req := httptest.NewRequest(http.MethodPost, "/customization-requests/req-1/production/complete", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "shop-user-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	var bodyJSON map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &bodyJSON); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if bodyJSON["error"] != "production_invalid_state" {
		t.Fatalf("expected production_invalid_state, got %v", bodyJSON["error"])
	}
}
