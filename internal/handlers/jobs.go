package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/craftlane/api/internal/platform/httpx"
	"github.com/craftlane/api/internal/services"
)

// JobHandlers exposes internal scheduler-triggered endpoints. The router
// guards the /internal group with OIDC validation for the scheduler service
// account.
type JobHandlers struct {
	disputes services.DisputeService
}

// NewJobHandlers constructs a new JobHandlers instance.
func NewJobHandlers(disputes services.DisputeService) *JobHandlers {
	return &JobHandlers{disputes: disputes}
}

// Routes registers the /internal endpoints.
func (h *JobHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/jobs/disputes/expire", h.expireNegotiations)
}

type expireNegotiationsRequest struct {
	Limit int `json:"limit"`
}

type expireNegotiationsResponse struct {
	Escalated int `json:"escalated"`
	Failed    int `json:"failed"`
}

func (h *JobHandlers) expireNegotiations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.disputes == nil {
		httpx.WriteError(ctx, w, httpx.NewError("dispute_service_unavailable", "dispute service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req expireNegotiationsRequest
	if !decodeOptionalJSONBody(ctx, w, r, &req) {
		return
	}

	result, err := h.disputes.ExpireNegotiations(ctx, services.ExpireNegotiationsCommand{
		Limit: req.Limit,
	})
	if err != nil {
		writeDisputeError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, expireNegotiationsResponse{
		Escalated: result.Escalated,
		Failed:    result.Failed,
	})
}
