package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/craftlane/api/internal/platform/auth"
	"github.com/craftlane/api/internal/platform/httpx"
	"github.com/craftlane/api/internal/services"
)

// OrderHandlers exposes the fulfillment order unhappy paths: shop rejection
// and customer cancellation. Both run through the dispute coordinator so the
// linked customization request is rerouted consistently.
type OrderHandlers struct {
	authn    *auth.Authenticator
	disputes services.DisputeService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, disputes services.DisputeService) *OrderHandlers {
	return &OrderHandlers{
		authn:    authn,
		disputes: disputes,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/{orderID}/reject", h.rejectOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
}

type rejectOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) rejectOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.disputes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("dispute_service_unavailable", "dispute service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if !identity.HasAnyRole(auth.RoleShopOwner, auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "order rejection requires the shop owner role", http.StatusForbidden))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req rejectOrderRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	order, err := h.disputes.RejectOrder(ctx, services.RejectOrderCommand{
		OrderID: orderID,
		ActorID: strings.TrimSpace(identity.UID),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeDisputeError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.disputes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("dispute_service_unavailable", "dispute service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	if !decodeOptionalJSONBody(ctx, w, r, &req) {
		return
	}

	order, err := h.disputes.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		ActorID: strings.TrimSpace(identity.UID),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeDisputeError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID            string  `json:"id"`
	CustomerID    string  `json:"customer_id"`
	ShopID        string  `json:"shop_id"`
	RequestID     *string `json:"request_id,omitempty"`
	Status        string  `json:"status"`
	PaymentStatus string  `json:"payment_status"`
	Amount        int64   `json:"amount"`
	Currency      string  `json:"currency"`
	CancelReason  *string `json:"cancel_reason,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at,omitempty"`
	CancelledAt   string  `json:"cancelled_at,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	return orderPayload{
		ID:            strings.TrimSpace(order.ID),
		CustomerID:    strings.TrimSpace(order.CustomerID),
		ShopID:        strings.TrimSpace(order.ShopID),
		RequestID:     cloneStringPointer(order.RequestID),
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Amount:        order.Amount,
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		CancelReason:  cloneStringPointer(order.CancelReason),
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
		CancelledAt:   formatTime(pointerTime(order.CancelledAt)),
	}
}

func writeDisputeError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrDisputeInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrDisputeNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("dispute_not_found", "dispute or subject not found", http.StatusNotFound))
	case errors.Is(err, services.ErrDisputeForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrDisputeInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("dispute_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrDisputeConflict):
		httpx.WriteError(ctx, w, httpx.NewError("dispute_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("dispute_error", "failed to process dispute request", http.StatusInternalServerError))
	}
}
