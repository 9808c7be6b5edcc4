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

type stubDisputeService struct {
	rejectFn      func(context.Context, services.RejectOrderCommand) (services.Order, error)
	cancelFn      func(context.Context, services.CancelOrderCommand) (services.Order, error)
	fileFn        func(context.Context, services.FileDisputeCommand) (services.Dispute, error)
	pricingFn     func(context.Context, services.PricingDisputeCommand) (services.Dispute, error)
	resolveFn     func(context.Context, services.ResolveDisputeCommand) (services.Dispute, error)
	listFn        func(context.Context, services.DisputeListFilter) (domain.CursorPage[services.Dispute], error)
	expireFn      func(context.Context, services.ExpireNegotiationsCommand) (services.ExpireNegotiationsResult, error)
}

func (s *stubDisputeService) RejectOrder(ctx context.Context, cmd services.RejectOrderCommand) (services.Order, error) {
	if s.rejectFn != nil {
		return s.rejectFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubDisputeService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubDisputeService) FileDispute(ctx context.Context, cmd services.FileDisputeCommand) (services.Dispute, error) {
	if s.fileFn != nil {
		return s.fileFn(ctx, cmd)
	}
	return services.Dispute{}, errors.New("not implemented")
}

func (s *stubDisputeService) OpenPricingDispute(ctx context.Context, cmd services.PricingDisputeCommand) (services.Dispute, error) {
	if s.pricingFn != nil {
		return s.pricingFn(ctx, cmd)
	}
	return services.Dispute{}, errors.New("not implemented")
}

func (s *stubDisputeService) ResolveDispute(ctx context.Context, cmd services.ResolveDisputeCommand) (services.Dispute, error) {
	if s.resolveFn != nil {
		return s.resolveFn(ctx, cmd)
	}
	return services.Dispute{}, errors.New("not implemented")
}

func (s *stubDisputeService) ListDisputes(ctx context.Context, filter services.DisputeListFilter) (domain.CursorPage[services.Dispute], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Dispute]{}, nil
}

func (s *stubDisputeService) ExpireNegotiations(ctx context.Context, cmd services.ExpireNegotiationsCommand) (services.ExpireNegotiationsResult, error) {
	if s.expireFn != nil {
		return s.expireFn(ctx, cmd)
	}
	return services.ExpireNegotiationsResult{}, errors.New("not implemented")
}

var _ services.DisputeService = (*stubDisputeService)(nil)

func newOrderTestRouter(service services.DisputeService) chi.Router {
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func TestOrderHandlersRejectOrderSuccess(t *testing.T) {
	now := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

	var captured services.RejectOrderCommand
	service := &stubDisputeService{
		rejectFn: func(ctx context.Context, cmd services.RejectOrderCommand) (services.Order, error) {
			captured = cmd
			reason := cmd.Reason
			return services.Order{
				ID:           cmd.OrderID,
				CustomerID:   "cust-1",
				ShopID:       "shop-1",
				Status:       domain.OrderStatusCancelled,
				CancelReason: &reason,
				Currency:     "usd",
				Amount:       2000,
				CreatedAt:    now,
				UpdatedAt:    now,
			}, nil
		},
	}

	router := newOrderTestRouter(service)

	body := bytes.NewBufferString(`{"reason":"out of capacity"}`)
	req := httptest.NewRequest(http.MethodPost, "/orders/ord-1/reject", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "shop-user-1", Roles: []string{auth.RoleShopOwner}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord-1" {
		t.Fatalf("expected order ord-1, got %s", captured.OrderID)
	}
	if captured.ActorID != "shop-user-1" {
		t.Fatalf("expected actor shop-user-1, got %s", captured.ActorID)
	}
	if captured.Reason != "out of capacity" {
		t.Fatalf("expected reason to pass through, got %q", captured.Reason)
	}

	var response struct {
		Order struct {
			Status       string `json:"status"`
			CancelReason string `json:"cancel_reason"`
			Currency     string `json:"currency"`
		} `json:"order"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response.Order.Status != "cancelled" {
		t.Fatalf("expected cancelled status, got %s", response.Order.Status)
	}
	if response.Order.CancelReason != "out of capacity" {
		t.Fatalf("expected cancel reason in payload, got %q", response.Order.CancelReason)
	}
	if response.Order.Currency != "USD" {
		t.Fatalf("expected uppercased currency, got %s", response.Order.Currency)
	}
}

func TestOrderHandlersRejectOrderRequiresShopRole(t *testing.T) {
	router := newOrderTestRouter(&stubDisputeService{})

	body := bytes.NewBufferString(`{"reason":"nope"}`)
	req := httptest.NewRequest(http.MethodPost, "/orders/ord-1/reject", body)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust-1", Roles: []string{auth.RoleCustomer}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestOrderHandlersCancelOrderAllowsEmptyBody(t *testing.T) {
	var captured services.CancelOrderCommand
	service := &stubDisputeService{
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			return services.Order{
				ID:            cmd.OrderID,
				CustomerID:    cmd.ActorID,
				Status:        domain.OrderStatusCancelled,
				PaymentStatus: domain.OrderPaymentUnpaid,
			}, nil
		},
	}

	router := newOrderTestRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord-9/cancel", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord-9" || captured.ActorID != "cust-1" {
		t.Fatalf("unexpected command: %+v", captured)
	}
	if captured.Reason != "" {
		t.Fatalf("expected empty reason, got %q", captured.Reason)
	}
}

func TestOrderHandlersCancelOrderMapsInvalidState(t *testing.T) {
	service := &stubDisputeService{
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: order is already processing", services.ErrDisputeInvalidState)
		},
	}

	router := newOrderTestRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord-9/cancel", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "cust-1"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "dispute_invalid_state" {
		t.Fatalf("expected dispute_invalid_state, got %v", body["error"])
	}
}

func TestOrderHandlersRequireAuthentication(t *testing.T) {
	router := newOrderTestRouter(&stubDisputeService{})

	req := httptest.NewRequest(http.MethodPost, "/orders/ord-1/cancel", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
