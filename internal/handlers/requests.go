package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/craftlane/api/internal/domain"
	"github.com/craftlane/api/internal/platform/auth"
	"github.com/craftlane/api/internal/platform/httpx"
	"github.com/craftlane/api/internal/platform/pagination"
	"github.com/craftlane/api/internal/services"
)

const (
	defaultRequestPageSize = 20
	maxRequestPageSize     = 100
	maxRequestBodySize     = 16 * 1024
)

var validRequestStatuses = map[domain.RequestStatus]struct{}{
	domain.RequestStatusPendingAssignment: {},
	domain.RequestStatusInProgress:        {},
	domain.RequestStatusAwaitingPricing:   {},
	domain.RequestStatusPricingProposed:   {},
	domain.RequestStatusPaymentRequired:   {},
	domain.RequestStatusApproved:          {},
	domain.RequestStatusInProduction:      {},
	domain.RequestStatusReady:             {},
	domain.RequestStatusCompleted:         {},
	domain.RequestStatusCancelled:         {},
	domain.RequestStatusDisputed:          {},
}

// RequestHandlers exposes the customization request lifecycle endpoints:
// read projections, pricing negotiation, payments and production tracking.
type RequestHandlers struct {
	authn      *auth.Authenticator
	requests   services.RequestService
	pricing    services.PricingService
	payments   services.PaymentService
	production services.ProductionService

	paymentIdempotency func(http.Handler) http.Handler
	chargeLimiter      rateLimiter
}

// RequestHandlersOption customises optional handler collaborators.
type RequestHandlersOption func(*RequestHandlers)

// WithPaymentIdempotency wraps the charge initiation endpoint with an
// idempotency middleware so retried submissions replay the stored response.
func WithPaymentIdempotency(mw func(http.Handler) http.Handler) RequestHandlersOption {
	return func(h *RequestHandlers) {
		h.paymentIdempotency = mw
	}
}

// WithChargeRateLimit throttles charge initiation per authenticated user.
func WithChargeRateLimit(limit int, window time.Duration) RequestHandlersOption {
	return func(h *RequestHandlers) {
		h.chargeLimiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewRequestHandlers constructs a new RequestHandlers instance.
func NewRequestHandlers(
	authn *auth.Authenticator,
	requests services.RequestService,
	pricing services.PricingService,
	payments services.PaymentService,
	production services.ProductionService,
	opts ...RequestHandlersOption,
) *RequestHandlers {
	h := &RequestHandlers{
		authn:      authn,
		requests:   requests,
		pricing:    pricing,
		payments:   payments,
		production: production,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /customization-requests endpoints.
func (h *RequestHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listRequests)
	r.Route("/{requestID}", func(r chi.Router) {
		r.Get("/", h.getRequest)

		r.Post("/pricing", h.proposePricing)
		r.Post("/pricing/shop-cost", h.addShopPricing)
		r.Post("/pricing/agree", h.agreeToPricing)
		r.Post("/pricing/reject", h.rejectPricing)

		if h.paymentIdempotency != nil {
			r.With(h.paymentIdempotency).Post("/payments", h.processPayment)
		} else {
			r.Post("/payments", h.processPayment)
		}
		r.Get("/payments", h.getPaymentStatus)
		r.Post("/payments/disbursements", h.initiateDisbursements)

		r.Post("/production/confirm", h.confirmProduction)
		r.Post("/production/start", h.startProduction)
		r.Post("/production/complete", h.completeProduction)
		r.Patch("/production", h.updateProduction)
	})
}

func (h *RequestHandlers) listRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.requests == nil {
		httpx.WriteError(ctx, w, httpx.NewError("request_service_unavailable", "request service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query := r.URL.Query()

	statuses, ok := parseRequestStatusFilters(query["status"])
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status contains an unknown request status", http.StatusBadRequest))
		return
	}

	var dateRange domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dateRange.To = &ts
	}

	pageParams, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultRequestPageSize,
		MaxPageSize:     maxRequestPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.RequestListFilter{
		Status:    statuses,
		DateRange: dateRange,
		Pagination: services.Pagination{
			PageSize:  pageParams.PageSize,
			PageToken: pageParams.PageToken,
		},
	}

	uid := strings.TrimSpace(identity.UID)
	switch strings.ToLower(strings.TrimSpace(query.Get("view"))) {
	case "", "customer":
		filter.CustomerID = &uid
	case "designer":
		if !identity.HasAnyRole(auth.RoleDesigner, auth.RoleAdmin) {
			httpx.WriteError(ctx, w, httpx.NewError("forbidden", "designer view requires the designer role", http.StatusForbidden))
			return
		}
		filter.DesignerID = &uid
	case "admin":
		if !identity.HasRole(auth.RoleAdmin) {
			httpx.WriteError(ctx, w, httpx.NewError("forbidden", "admin view requires the admin role", http.StatusForbidden))
			return
		}
		if raw := strings.TrimSpace(query.Get("customer_id")); raw != "" {
			filter.CustomerID = &raw
		}
		if raw := strings.TrimSpace(query.Get("designer_id")); raw != "" {
			filter.DesignerID = &raw
		}
		if raw := strings.TrimSpace(query.Get("shop_id")); raw != "" {
			filter.ShopID = &raw
		}
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "view must be one of customer, designer, admin", http.StatusBadRequest))
		return
	}

	page, err := h.requests.ListRequests(ctx, filter)
	if err != nil {
		writeRequestError(ctx, w, err)
		return
	}

	items := make([]requestSummaryPayload, 0, len(page.Items))
	for _, request := range page.Items {
		items = append(items, buildRequestSummary(request))
	}

	writeJSONResponse(w, http.StatusOK, requestListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *RequestHandlers) getRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.requests == nil {
		httpx.WriteError(ctx, w, httpx.NewError("request_service_unavailable", "request service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return
	}

	opts := services.RequestReadOptions{}
	if raw := strings.TrimSpace(r.URL.Query().Get("attachment_links")); raw != "" {
		signLinks, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "attachment_links must be a boolean", http.StatusBadRequest))
			return
		}
		opts.SignAttachments = signLinks
	}

	detail, err := h.requests.GetRequest(ctx, requestID, opts)
	if err != nil {
		writeRequestError(ctx, w, err)
		return
	}

	if !canReadRequest(identity, detail.Request) {
		httpx.WriteError(ctx, w, httpx.NewError("request_not_found", "customization request not found", http.StatusNotFound))
		return
	}

	payload := requestDetailResponse{
		Request: buildRequestPayload(detail.Request),
	}
	if len(detail.AttachmentLinks) > 0 {
		links := make([]attachmentLinkPayload, 0, len(detail.AttachmentLinks))
		for _, link := range detail.AttachmentLinks {
			links = append(links, attachmentLinkPayload{
				Purpose:   link.Purpose,
				FileName:  link.FileName,
				URL:       link.URL,
				ExpiresAt: formatTime(link.ExpiresAt),
			})
		}
		payload.AttachmentLinks = links
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

type proposePricingRequest struct {
	DesignFee   int64                     `json:"design_fee"`
	PaymentPlan string                    `json:"payment_plan"`
	Milestones  []milestoneInputPayload   `json:"milestones"`
}

type milestoneInputPayload struct {
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
	DueAt       string `json:"due_at"`
}

func (h *RequestHandlers) proposePricing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricing == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pricing_service_unavailable", "pricing service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if !identity.HasAnyRole(auth.RoleDesigner, auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "pricing proposals require the designer role", http.StatusForbidden))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return
	}

	var req proposePricingRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	milestones := make([]services.MilestoneInput, 0, len(req.Milestones))
	for _, entry := range req.Milestones {
		input := services.MilestoneInput{
			Description: strings.TrimSpace(entry.Description),
			Amount:      entry.Amount,
		}
		if raw := strings.TrimSpace(entry.DueAt); raw != "" {
			ts, err := parseTimeParam(raw)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "milestone due_at must be a valid RFC3339 timestamp", http.StatusBadRequest))
				return
			}
			input.DueAt = &ts
		}
		milestones = append(milestones, input)
	}

	updated, err := h.pricing.ProposePricing(ctx, services.ProposePricingCommand{
		RequestID:   requestID,
		ActorID:     strings.TrimSpace(identity.UID),
		DesignFee:   req.DesignFee,
		PaymentPlan: services.PaymentPlan(strings.TrimSpace(req.PaymentPlan)),
		Milestones:  milestones,
	})
	if err != nil {
		writePricingError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, requestDetailResponse{Request: buildRequestPayload(updated)})
}

type addShopPricingRequest struct {
	PrintingCost int64 `json:"printing_cost"`
}

func (h *RequestHandlers) addShopPricing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricing == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pricing_service_unavailable", "pricing service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if !identity.HasAnyRole(auth.RoleShopOwner, auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "printing costs require the shop owner role", http.StatusForbidden))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return
	}

	var req addShopPricingRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	updated, err := h.pricing.AddShopPricing(ctx, services.AddShopPricingCommand{
		RequestID:    requestID,
		ActorID:      strings.TrimSpace(identity.UID),
		PrintingCost: req.PrintingCost,
	})
	if err != nil {
		writePricingError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, requestDetailResponse{Request: buildRequestPayload(updated)})
}

func (h *RequestHandlers) agreeToPricing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricing == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pricing_service_unavailable", "pricing service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return
	}

	updated, err := h.pricing.AgreeToPricing(ctx, services.AgreeToPricingCommand{
		RequestID: requestID,
		ActorID:   strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writePricingError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, requestDetailResponse{Request: buildRequestPayload(updated)})
}

type rejectPricingRequest struct {
	Reason string `json:"reason"`
}

func (h *RequestHandlers) rejectPricing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricing == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pricing_service_unavailable", "pricing service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return
	}

	var req rejectPricingRequest
	if !decodeOptionalJSONBody(ctx, w, r, &req) {
		return
	}

	updated, err := h.pricing.RejectPricing(ctx, services.RejectPricingCommand{
		RequestID: requestID,
		ActorID:   strings.TrimSpace(identity.UID),
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writePricingError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, requestDetailResponse{Request: buildRequestPayload(updated)})
}

type processPaymentRequest struct {
	Amount      int64   `json:"amount"`
	Method      string  `json:"method"`
	MilestoneID *string `json:"milestone_id"`
	SuccessURL  string  `json:"success_url"`
	CancelURL   string  `json:"cancel_url"`
}

type paymentInitiationResponse struct {
	PaymentID        string `json:"payment_id"`
	Provider         string `json:"provider"`
	GatewayReference string `json:"gateway_reference,omitempty"`
	RedirectURL      string `json:"redirect_url,omitempty"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
}

func (h *RequestHandlers) processPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	if h.chargeLimiter != nil && !h.chargeLimiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many payment attempts, retry later", http.StatusTooManyRequests))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return
	}

	var req processPaymentRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	cmd := services.ProcessPaymentCommand{
		RequestID:      requestID,
		ActorID:        strings.TrimSpace(identity.UID),
		Amount:         req.Amount,
		Method:         strings.TrimSpace(req.Method),
		SuccessURL:     strings.TrimSpace(req.SuccessURL),
		CancelURL:      strings.TrimSpace(req.CancelURL),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}
	if req.MilestoneID != nil {
		trimmed := strings.TrimSpace(*req.MilestoneID)
		if trimmed != "" {
			cmd.MilestoneID = &trimmed
		}
	}

	initiation, err := h.payments.ProcessPayment(ctx, cmd)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusAccepted, paymentInitiationResponse{
		PaymentID:        initiation.PaymentID,
		Provider:         initiation.Provider,
		GatewayReference: initiation.GatewayReference,
		RedirectURL:      initiation.RedirectURL,
		Status:           string(initiation.Status),
		Amount:           initiation.Amount,
		Currency:         initiation.Currency,
	})
}

func (h *RequestHandlers) getPaymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return
	}

	details, err := h.payments.GetPaymentStatus(ctx, requestID)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	payload := buildPaymentDetailsPayload(&details)
	if payload == nil {
		payload = &paymentDetailsPayload{Payments: []paymentPayload{}}
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

type disbursementPlanResponse struct {
	Currency string                 `json:"currency"`
	Designer disbursementLegPayload `json:"designer"`
	Shop     disbursementLegPayload `json:"shop"`
}

type disbursementLegPayload struct {
	Recipient  string `json:"recipient"`
	ExternalID string `json:"external_id,omitempty"`
	Amount     int64  `json:"amount"`
	GatewayID  string `json:"gateway_id,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
	SkipReason string `json:"skip_reason,omitempty"`
}

func (h *RequestHandlers) initiateDisbursements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if !identity.HasRole(auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "disbursements require the admin role", http.StatusForbidden))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return
	}

	plan, err := h.payments.InitiateDisbursements(ctx, services.InitiateDisbursementsCommand{
		RequestID: requestID,
		ActorID:   strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusAccepted, disbursementPlanResponse{
		Currency: plan.Currency,
		Designer: buildDisbursementLeg(plan.Designer),
		Shop:     buildDisbursementLeg(plan.Shop),
	})
}

type confirmProductionRequest struct {
	EstimatedCompletionDate string   `json:"estimated_completion_date"`
	Materials               []string `json:"materials"`
	Notes                   string   `json:"notes"`
}

func (h *RequestHandlers) confirmProduction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.production == nil {
		httpx.WriteError(ctx, w, httpx.NewError("production_service_unavailable", "production service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return
	}

	var req confirmProductionRequest
	if !decodeOptionalJSONBody(ctx, w, r, &req) {
		return
	}

	cmd := services.ConfirmProductionCommand{
		RequestID: requestID,
		ActorID:   strings.TrimSpace(identity.UID),
		Materials: req.Materials,
		Notes:     req.Notes,
	}
	if raw := strings.TrimSpace(req.EstimatedCompletionDate); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "estimated_completion_date must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.EstimatedCompletionDate = &ts
	}

	updated, err := h.production.ConfirmProduction(ctx, cmd)
	if err != nil {
		writeProductionError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, requestDetailResponse{Request: buildRequestPayload(updated)})
}

func (h *RequestHandlers) startProduction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.production == nil {
		httpx.WriteError(ctx, w, httpx.NewError("production_service_unavailable", "production service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return
	}

	updated, err := h.production.StartProduction(ctx, services.StartProductionCommand{
		RequestID: requestID,
		ActorID:   strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeProductionError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, requestDetailResponse{Request: buildRequestPayload(updated)})
}

type completeProductionRequest struct {
	QualityCheckPassed bool   `json:"quality_check_passed"`
	QualityCheckNotes  string `json:"quality_check_notes"`
}

func (h *RequestHandlers) completeProduction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.production == nil {
		httpx.WriteError(ctx, w, httpx.NewError("production_service_unavailable", "production service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return
	}

	var req completeProductionRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	updated, err := h.production.CompleteProduction(ctx, services.CompleteProductionCommand{
		RequestID:          requestID,
		ActorID:            strings.TrimSpace(identity.UID),
		QualityCheckPassed: req.QualityCheckPassed,
		QualityCheckNotes:  strings.TrimSpace(req.QualityCheckNotes),
	})
	if err != nil {
		writeProductionError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, requestDetailResponse{Request: buildRequestPayload(updated)})
}

type updateProductionRequest struct {
	Status                  *string  `json:"status"`
	EstimatedCompletionDate *string  `json:"estimated_completion_date"`
	Materials               []string `json:"materials"`
	Notes                   *string  `json:"notes"`
}

func (h *RequestHandlers) updateProduction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.production == nil {
		httpx.WriteError(ctx, w, httpx.NewError("production_service_unavailable", "production service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	requestID := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if requestID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request id is required", http.StatusBadRequest))
		return
	}

	var req updateProductionRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	cmd := services.UpdateProductionCommand{
		RequestID: requestID,
		ActorID:   strings.TrimSpace(identity.UID),
		Materials: req.Materials,
		Notes:     cloneStringPointer(req.Notes),
	}
	if req.Status != nil {
		status := services.ProductionStatus(strings.TrimSpace(strings.ToLower(*req.Status)))
		cmd.Status = &status
	}
	if req.EstimatedCompletionDate != nil {
		if raw := strings.TrimSpace(*req.EstimatedCompletionDate); raw != "" {
			ts, err := parseTimeParam(raw)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "estimated_completion_date must be a valid RFC3339 timestamp", http.StatusBadRequest))
				return
			}
			cmd.EstimatedCompletionDate = &ts
		}
	}

	updated, err := h.production.UpdateProduction(ctx, cmd)
	if err != nil {
		writeProductionError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, requestDetailResponse{Request: buildRequestPayload(updated)})
}

// Body decoding -------------------------------------------------------------

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, maxRequestBodySize)
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

func decodeOptionalJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errEmptyBody):
			return true
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return false
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return false
		}
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

// Response payloads ---------------------------------------------------------

type requestListResponse struct {
	Items         []requestSummaryPayload `json:"items"`
	NextPageToken string                  `json:"next_page_token,omitempty"`
}

type requestSummaryPayload struct {
	ID               string  `json:"id"`
	CustomerID       string  `json:"customer_id"`
	DesignerID       *string `json:"designer_id,omitempty"`
	PrintingShopID   *string `json:"printing_shop_id,omitempty"`
	PrintingShopName *string `json:"printing_shop_name,omitempty"`
	ProductID        string  `json:"product_id"`
	Status           string  `json:"status"`
	TotalCost        int64   `json:"total_cost,omitempty"`
	Currency         string  `json:"currency,omitempty"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at,omitempty"`
}

type requestDetailResponse struct {
	Request         requestPayload          `json:"request"`
	AttachmentLinks []attachmentLinkPayload `json:"attachment_links,omitempty"`
}

type requestPayload struct {
	ID                 string                    `json:"id"`
	CustomerID         string                    `json:"customer_id"`
	DesignerID         *string                   `json:"designer_id,omitempty"`
	PrintingShopID     *string                   `json:"printing_shop_id,omitempty"`
	PrintingShopName   *string                   `json:"printing_shop_name,omitempty"`
	ProductID          string                    `json:"product_id"`
	SelectedColorID    string                    `json:"selected_color_id,omitempty"`
	ColorAdjustment    int64                     `json:"color_adjustment,omitempty"`
	Status             string                    `json:"status"`
	CustomizationNotes string                    `json:"customization_notes,omitempty"`
	DesignerNotes      []notePayload             `json:"designer_notes,omitempty"`
	PricingAgreement   *pricingAgreementPayload  `json:"pricing_agreement,omitempty"`
	PaymentDetails     *paymentDetailsPayload    `json:"payment_details,omitempty"`
	ProductionDetails  *productionDetailsPayload `json:"production_details,omitempty"`
	CreatedAt          string                    `json:"created_at"`
	UpdatedAt          string                    `json:"updated_at,omitempty"`
	CancelledAt        string                    `json:"cancelled_at,omitempty"`
	CancelReason       *string                   `json:"cancel_reason,omitempty"`
}

type notePayload struct {
	Text      string `json:"text"`
	AuthorID  string `json:"author_id"`
	CreatedAt string `json:"created_at"`
}

type pricingAgreementPayload struct {
	DesignFee    int64              `json:"design_fee"`
	ProductCost  int64              `json:"product_cost"`
	PrintingCost int64              `json:"printing_cost"`
	TotalCost    int64              `json:"total_cost"`
	Currency     string             `json:"currency"`
	PaymentPlan  string             `json:"payment_plan"`
	Milestones   []milestonePayload `json:"milestones,omitempty"`
	ProposedBy   string             `json:"proposed_by"`
	ProposedAt   string             `json:"proposed_at"`
	AgreedBy     *string            `json:"agreed_by,omitempty"`
	AgreedAt     string             `json:"agreed_at,omitempty"`
}

type milestonePayload struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
	DueAt       string `json:"due_at,omitempty"`
}

type paymentDetailsPayload struct {
	TotalAmount      int64            `json:"total_amount"`
	PaidAmount       int64            `json:"paid_amount"`
	RemainingAmount  int64            `json:"remaining_amount"`
	Currency         string           `json:"currency,omitempty"`
	Payments         []paymentPayload `json:"payments"`
	DesignerPayoutID *string          `json:"designer_payout_id,omitempty"`
	DesignerPaidAt   string           `json:"designer_paid_at,omitempty"`
	ShopPayoutID     *string          `json:"shop_payout_id,omitempty"`
	ShopPaidAt       string           `json:"shop_paid_at,omitempty"`
}

type paymentPayload struct {
	ID               string  `json:"id"`
	Amount           int64   `json:"amount"`
	Currency         string  `json:"currency"`
	Method           string  `json:"method,omitempty"`
	MilestoneID      *string `json:"milestone_id,omitempty"`
	Status           string  `json:"status"`
	GatewayReference string  `json:"gateway_reference,omitempty"`
	CreatedAt        string  `json:"created_at"`
	CompletedAt      string  `json:"completed_at,omitempty"`
	FailedAt         string  `json:"failed_at,omitempty"`
}

type productionDetailsPayload struct {
	Status                  string   `json:"status"`
	EstimatedCompletionDate string   `json:"estimated_completion_date,omitempty"`
	Materials               []string `json:"materials,omitempty"`
	Notes                   string   `json:"notes,omitempty"`
	QualityCheckPassed      *bool    `json:"quality_check_passed,omitempty"`
	QualityCheckNotes       string   `json:"quality_check_notes,omitempty"`
	ConfirmedAt             string   `json:"confirmed_at,omitempty"`
	StartedAt               string   `json:"started_at,omitempty"`
	CompletedAt             string   `json:"completed_at,omitempty"`
}

type attachmentLinkPayload struct {
	Purpose   string `json:"purpose"`
	FileName  string `json:"file_name"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

func buildRequestSummary(request services.CustomizationRequest) requestSummaryPayload {
	payload := requestSummaryPayload{
		ID:               strings.TrimSpace(request.ID),
		CustomerID:       strings.TrimSpace(request.CustomerID),
		DesignerID:       cloneStringPointer(request.DesignerID),
		PrintingShopID:   cloneStringPointer(request.PrintingShopID),
		PrintingShopName: cloneStringPointer(request.PrintingShopName),
		ProductID:        strings.TrimSpace(request.ProductID),
		Status:           string(request.Status),
		CreatedAt:        formatTime(request.CreatedAt),
		UpdatedAt:        formatTime(request.UpdatedAt),
	}
	if request.PricingAgreement != nil {
		payload.TotalCost = request.PricingAgreement.TotalCost
		payload.Currency = strings.ToUpper(request.PricingAgreement.Currency)
	}
	return payload
}

func buildRequestPayload(request services.CustomizationRequest) requestPayload {
	payload := requestPayload{
		ID:                 strings.TrimSpace(request.ID),
		CustomerID:         strings.TrimSpace(request.CustomerID),
		DesignerID:         cloneStringPointer(request.DesignerID),
		PrintingShopID:     cloneStringPointer(request.PrintingShopID),
		PrintingShopName:   cloneStringPointer(request.PrintingShopName),
		ProductID:          strings.TrimSpace(request.ProductID),
		SelectedColorID:    strings.TrimSpace(request.SelectedColorID),
		ColorAdjustment:    request.ColorAdjustment,
		Status:             string(request.Status),
		CustomizationNotes: request.CustomizationNotes,
		PricingAgreement:   buildPricingAgreementPayload(request.PricingAgreement),
		PaymentDetails:     buildPaymentDetailsPayload(request.PaymentDetails),
		ProductionDetails:  buildProductionDetailsPayload(request.ProductionDetails),
		CreatedAt:          formatTime(request.CreatedAt),
		UpdatedAt:          formatTime(request.UpdatedAt),
		CancelledAt:        formatTime(pointerTime(request.CancelledAt)),
		CancelReason:       cloneStringPointer(request.CancelReason),
	}
	if len(request.DesignerNotes) > 0 {
		notes := make([]notePayload, 0, len(request.DesignerNotes))
		for _, note := range request.DesignerNotes {
			notes = append(notes, notePayload{
				Text:      note.Text,
				AuthorID:  note.AuthorID,
				CreatedAt: formatTime(note.CreatedAt),
			})
		}
		payload.DesignerNotes = notes
	}
	return payload
}

func buildPricingAgreementPayload(agreement *domain.PricingAgreement) *pricingAgreementPayload {
	if agreement == nil {
		return nil
	}
	payload := &pricingAgreementPayload{
		DesignFee:    agreement.DesignFee,
		ProductCost:  agreement.ProductCost,
		PrintingCost: agreement.PrintingCost,
		TotalCost:    agreement.TotalCost,
		Currency:     strings.ToUpper(agreement.Currency),
		PaymentPlan:  string(agreement.PaymentPlan),
		ProposedBy:   agreement.ProposedBy,
		ProposedAt:   formatTime(agreement.ProposedAt),
		AgreedBy:     cloneStringPointer(agreement.AgreedBy),
		AgreedAt:     formatTime(pointerTime(agreement.AgreedAt)),
	}
	if len(agreement.Milestones) > 0 {
		milestones := make([]milestonePayload, 0, len(agreement.Milestones))
		for _, milestone := range agreement.Milestones {
			milestones = append(milestones, milestonePayload{
				ID:          milestone.ID,
				Description: milestone.Description,
				Amount:      milestone.Amount,
				DueAt:       formatTime(pointerTime(milestone.DueAt)),
			})
		}
		payload.Milestones = milestones
	}
	return payload
}

func buildPaymentDetailsPayload(details *domain.PaymentDetails) *paymentDetailsPayload {
	if details == nil {
		return nil
	}
	payload := &paymentDetailsPayload{
		TotalAmount:      details.TotalAmount,
		PaidAmount:       details.PaidAmount,
		RemainingAmount:  details.RemainingAmount,
		Currency:         strings.ToUpper(details.Currency),
		Payments:         make([]paymentPayload, 0, len(details.Payments)),
		DesignerPayoutID: cloneStringPointer(details.DesignerPayoutID),
		DesignerPaidAt:   formatTime(pointerTime(details.DesignerPaidAt)),
		ShopPayoutID:     cloneStringPointer(details.ShopPayoutID),
		ShopPaidAt:       formatTime(pointerTime(details.ShopPaidAt)),
	}
	for _, payment := range details.Payments {
		payload.Payments = append(payload.Payments, paymentPayload{
			ID:               payment.ID,
			Amount:           payment.Amount,
			Currency:         strings.ToUpper(payment.Currency),
			Method:           payment.Method,
			MilestoneID:      cloneStringPointer(payment.MilestoneID),
			Status:           string(payment.Status),
			GatewayReference: payment.GatewayReference,
			CreatedAt:        formatTime(payment.CreatedAt),
			CompletedAt:      formatTime(pointerTime(payment.CompletedAt)),
			FailedAt:         formatTime(pointerTime(payment.FailedAt)),
		})
	}
	return payload
}

func buildProductionDetailsPayload(details *domain.ProductionDetails) *productionDetailsPayload {
	if details == nil {
		return nil
	}
	return &productionDetailsPayload{
		Status:                  string(details.Status),
		EstimatedCompletionDate: formatTime(pointerTime(details.EstimatedCompletionDate)),
		Materials:               details.Materials,
		Notes:                   details.Notes,
		QualityCheckPassed:      details.QualityCheckPassed,
		QualityCheckNotes:       details.QualityCheckNotes,
		ConfirmedAt:             formatTime(pointerTime(details.ConfirmedAt)),
		StartedAt:               formatTime(pointerTime(details.StartedAt)),
		CompletedAt:             formatTime(pointerTime(details.CompletedAt)),
	}
}

func buildDisbursementLeg(leg services.DisbursementLeg) disbursementLegPayload {
	return disbursementLegPayload{
		Recipient:  leg.Recipient,
		ExternalID: leg.ExternalID,
		Amount:     leg.Amount,
		GatewayID:  leg.GatewayID,
		Skipped:    leg.Skipped,
		SkipReason: leg.SkipReason,
	}
}

// Access and parsing helpers ------------------------------------------------

// canReadRequest gates the detail projection to the parties on the request.
// Shop access is enforced downstream where the shop record is available.
func canReadRequest(identity *auth.Identity, request services.CustomizationRequest) bool {
	if identity == nil {
		return false
	}
	uid := strings.TrimSpace(identity.UID)
	if uid == "" {
		return false
	}
	if identity.HasAnyRole(auth.RoleAdmin, auth.RoleShopOwner) {
		return true
	}
	if request.CustomerID == uid {
		return true
	}
	if request.DesignerID != nil && *request.DesignerID == uid {
		return true
	}
	return false
}

func parseRequestStatusFilters(values []string) ([]domain.RequestStatus, bool) {
	filters := parseFilterValues(values)
	if len(filters) == 0 {
		return nil, true
	}
	statuses := make([]domain.RequestStatus, 0, len(filters))
	for _, raw := range filters {
		status := domain.RequestStatus(raw)
		if _, ok := validRequestStatuses[status]; !ok {
			return nil, false
		}
		statuses = append(statuses, status)
	}
	return statuses, true
}

// Error translation ---------------------------------------------------------

func writeRequestError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrRequestInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrRequestNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("request_not_found", "customization request not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("request_error", "failed to process request", http.StatusInternalServerError))
	}
}

func writePricingError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPricingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPricingNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("request_not_found", "customization request not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPricingForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrPricingInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("pricing_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPricingConflict):
		httpx.WriteError(ctx, w, httpx.NewError("pricing_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPricingInvariant):
		httpx.WriteError(ctx, w, httpx.NewError("pricing_invariant", err.Error(), http.StatusInternalServerError))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("pricing_error", "failed to process pricing request", http.StatusInternalServerError))
	}
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("request_not_found", "customization request not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrPaymentInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("payment_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentConflict):
		httpx.WriteError(ctx, w, httpx.NewError("payment_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentInvariant):
		httpx.WriteError(ctx, w, httpx.NewError("payment_invariant", err.Error(), http.StatusInternalServerError))
	case errors.Is(err, services.ErrPaymentGateway):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "payment gateway rejected the operation", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}

func writeProductionError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrProductionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrProductionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("request_not_found", "customization request not found", http.StatusNotFound))
	case errors.Is(err, services.ErrProductionForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrProductionInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("production_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrProductionConflict):
		httpx.WriteError(ctx, w, httpx.NewError("production_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("production_error", "failed to process production request", http.StatusInternalServerError))
	}
}
