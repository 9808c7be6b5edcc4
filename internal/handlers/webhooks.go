package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/craftlane/api/internal/platform/httpx"
	"github.com/craftlane/api/internal/services"
)

const maxWebhookBodySize = 32 * 1024

// WebhookHandlers receives signed gateway callbacks. Signature validation is
// applied as group middleware by the router; by the time a request reaches
// these handlers it has already been authenticated.
type WebhookHandlers struct {
	payments      services.PaymentService
	disbursements services.DisbursementService
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(payments services.PaymentService, disbursements services.DisbursementService) *WebhookHandlers {
	return &WebhookHandlers{
		payments:      payments,
		disbursements: disbursements,
	}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/charges", h.chargeCallback)
	r.Post("/payments/disbursements", h.disbursementCallback)
}

type chargeCallbackRequest struct {
	RequestID        string `json:"request_id"`
	PaymentID        string `json:"payment_id"`
	GatewayReference string `json:"gateway_reference"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	FailureCode      string `json:"failure_code"`
}

type chargeCallbackResponse struct {
	RequestID       string `json:"request_id"`
	PaymentID       string `json:"payment_id"`
	Credited        bool   `json:"credited"`
	Duplicate       bool   `json:"duplicate"`
	PaidAmount      int64  `json:"paid_amount"`
	RemainingAmount int64  `json:"remaining_amount"`
}

func (h *WebhookHandlers) chargeCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req chargeCallbackRequest
	if !decodeWebhookBody(ctx, w, r, &req) {
		return
	}

	result, err := h.payments.RecordChargeCallback(ctx, services.ChargeCallbackCommand{
		RequestID:        strings.TrimSpace(req.RequestID),
		PaymentID:        strings.TrimSpace(req.PaymentID),
		GatewayReference: strings.TrimSpace(req.GatewayReference),
		Status:           strings.TrimSpace(req.Status),
		Amount:           req.Amount,
		FailureCode:      strings.TrimSpace(req.FailureCode),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, chargeCallbackResponse{
		RequestID:       result.RequestID,
		PaymentID:       result.PaymentID,
		Credited:        result.Credited,
		Duplicate:       result.Duplicate,
		PaidAmount:      result.PaidAmount,
		RemainingAmount: result.RemainingAmount,
	})
}

type disbursementCallbackRequest struct {
	ExternalID  string `json:"external_id"`
	GatewayID   string `json:"gateway_id"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
	FailureCode string `json:"failure_code"`
}

type disbursementCallbackResponse struct {
	RequestID  string `json:"request_id,omitempty"`
	PayoutType string `json:"payout_type,omitempty"`
	Completed  bool   `json:"completed"`
	Duplicate  bool   `json:"duplicate"`
}

func (h *WebhookHandlers) disbursementCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.disbursements == nil {
		httpx.WriteError(ctx, w, httpx.NewError("disbursement_service_unavailable", "disbursement service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req disbursementCallbackRequest
	if !decodeWebhookBody(ctx, w, r, &req) {
		return
	}

	result, err := h.disbursements.HandleCallback(ctx, services.DisbursementCallbackCommand{
		ExternalID:  strings.TrimSpace(req.ExternalID),
		GatewayID:   strings.TrimSpace(req.GatewayID),
		Status:      strings.TrimSpace(req.Status),
		Amount:      req.Amount,
		FailureCode: strings.TrimSpace(req.FailureCode),
	})
	if err != nil {
		writeDisbursementError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, disbursementCallbackResponse{
		RequestID:  result.RequestID,
		PayoutType: result.PayoutType,
		Completed:  result.Completed,
		Duplicate:  result.Duplicate,
	})
}

func decodeWebhookBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeDisbursementError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrDisbursementInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrDisbursementNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("request_not_found", "customization request not found", http.StatusNotFound))
	case errors.Is(err, services.ErrDisbursementInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("disbursement_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrDisbursementConflict):
		httpx.WriteError(ctx, w, httpx.NewError("disbursement_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("disbursement_error", "failed to process disbursement callback", http.StatusInternalServerError))
	}
}
