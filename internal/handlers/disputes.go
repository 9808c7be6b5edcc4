package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/craftlane/api/internal/domain"
	"github.com/craftlane/api/internal/platform/auth"
	"github.com/craftlane/api/internal/platform/httpx"
	"github.com/craftlane/api/internal/platform/pagination"
	"github.com/craftlane/api/internal/services"
)

const (
	defaultDisputePageSize = 20
	maxDisputePageSize     = 100
)

var validDisputeStages = map[domain.DisputeStage]struct{}{
	domain.DisputeStageNegotiation: {},
	domain.DisputeStageAdminReview: {},
	domain.DisputeStageResolved:    {},
}

var validDisputeStatuses = map[domain.DisputeStatus]struct{}{
	domain.DisputeStatusOpen:     {},
	domain.DisputeStatusResolved: {},
	domain.DisputeStatusClosed:   {},
}

// DisputeHandlers exposes the formal dispute lifecycle: filing, listing and
// admin resolution.
type DisputeHandlers struct {
	authn    *auth.Authenticator
	disputes services.DisputeService
}

// NewDisputeHandlers constructs a new DisputeHandlers instance.
func NewDisputeHandlers(authn *auth.Authenticator, disputes services.DisputeService) *DisputeHandlers {
	return &DisputeHandlers{
		authn:    authn,
		disputes: disputes,
	}
}

// Routes registers the /disputes endpoints.
func (h *DisputeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.fileDispute)
	r.Get("/", h.listDisputes)
	r.Post("/{disputeID}/resolve", h.resolveDispute)
}

type fileDisputeRequest struct {
	RequestID    *string             `json:"request_id"`
	OrderID      *string             `json:"order_id"`
	AccusedParty string              `json:"accused_party"`
	Category     string              `json:"category"`
	Description  string              `json:"description"`
	Evidence     []evidencePayloadIn `json:"evidence"`
}

type evidencePayloadIn struct {
	URL         string `json:"url"`
	StoragePath string `json:"storage_path"`
	Filename    string `json:"filename"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentType string `json:"content_type"`
}

func (h *DisputeHandlers) fileDispute(w http.ResponseWriter, r *http.Request) {
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

	var req fileDisputeRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	cmd := services.FileDisputeCommand{
		FiledBy:      strings.TrimSpace(identity.UID),
		AccusedParty: strings.TrimSpace(req.AccusedParty),
		Category:     strings.TrimSpace(req.Category),
		Description:  strings.TrimSpace(req.Description),
	}
	if req.RequestID != nil {
		if trimmed := strings.TrimSpace(*req.RequestID); trimmed != "" {
			cmd.RequestID = &trimmed
		}
	}
	if req.OrderID != nil {
		if trimmed := strings.TrimSpace(*req.OrderID); trimmed != "" {
			cmd.OrderID = &trimmed
		}
	}
	if len(req.Evidence) > 0 {
		evidence := make([]services.Attachment, 0, len(req.Evidence))
		for _, entry := range req.Evidence {
			evidence = append(evidence, services.Attachment{
				URL:         strings.TrimSpace(entry.URL),
				StoragePath: strings.TrimSpace(entry.StoragePath),
				Filename:    strings.TrimSpace(entry.Filename),
				SizeBytes:   entry.SizeBytes,
				ContentType: strings.TrimSpace(entry.ContentType),
			})
		}
		cmd.Evidence = evidence
	}

	dispute, err := h.disputes.FileDispute(ctx, cmd)
	if err != nil {
		writeDisputeError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, disputeResponse{Dispute: buildDisputePayload(dispute)})
}

func (h *DisputeHandlers) listDisputes(w http.ResponseWriter, r *http.Request) {
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

	query := r.URL.Query()

	stages, ok := parseDisputeStageFilters(query["stage"])
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "stage contains an unknown dispute stage", http.StatusBadRequest))
		return
	}
	statuses, ok := parseDisputeStatusFilters(query["status"])
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status contains an unknown dispute status", http.StatusBadRequest))
		return
	}

	pageParams, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultDisputePageSize,
		MaxPageSize:     maxDisputePageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.DisputeListFilter{
		Stage:  stages,
		Status: statuses,
		Pagination: services.Pagination{
			PageSize:  pageParams.PageSize,
			PageToken: pageParams.PageToken,
		},
	}

	// Non-admins only see disputes they filed.
	if identity.HasRole(auth.RoleAdmin) {
		if raw := strings.TrimSpace(query.Get("filed_by")); raw != "" {
			filter.FiledBy = &raw
		}
		if raw := strings.TrimSpace(query.Get("request_id")); raw != "" {
			filter.RequestID = &raw
		}
	} else {
		uid := strings.TrimSpace(identity.UID)
		filter.FiledBy = &uid
	}

	page, err := h.disputes.ListDisputes(ctx, filter)
	if err != nil {
		writeDisputeError(ctx, w, err)
		return
	}

	items := make([]disputePayload, 0, len(page.Items))
	for _, dispute := range page.Items {
		items = append(items, buildDisputePayload(dispute))
	}

	writeJSONResponse(w, http.StatusOK, disputeListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

type resolveDisputeRequest struct {
	Resolution string `json:"resolution"`
	Outcome    string `json:"outcome"`
}

func (h *DisputeHandlers) resolveDispute(w http.ResponseWriter, r *http.Request) {
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
	if !identity.HasRole(auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "dispute resolution requires the admin role", http.StatusForbidden))
		return
	}

	disputeID := strings.TrimSpace(chi.URLParam(r, "disputeID"))
	if disputeID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "dispute id is required", http.StatusBadRequest))
		return
	}

	var req resolveDisputeRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	dispute, err := h.disputes.ResolveDispute(ctx, services.ResolveDisputeCommand{
		DisputeID:  disputeID,
		ActorID:    strings.TrimSpace(identity.UID),
		Resolution: strings.TrimSpace(req.Resolution),
		Outcome:    services.DisputeStatus(strings.TrimSpace(strings.ToLower(req.Outcome))),
	})
	if err != nil {
		writeDisputeError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, disputeResponse{Dispute: buildDisputePayload(dispute)})
}

type disputeListResponse struct {
	Items         []disputePayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type disputeResponse struct {
	Dispute disputePayload `json:"dispute"`
}

type disputePayload struct {
	ID                  string              `json:"id"`
	RequestID           *string             `json:"request_id,omitempty"`
	OrderID             *string             `json:"order_id,omitempty"`
	FiledBy             string              `json:"filed_by"`
	AccusedParty        string              `json:"accused_party"`
	Category            string              `json:"category"`
	Description         string              `json:"description,omitempty"`
	Stage               string              `json:"stage"`
	Status              string              `json:"status"`
	EvidenceImages      []attachmentPayload `json:"evidence_images,omitempty"`
	NegotiationDeadline string              `json:"negotiation_deadline"`
	Deadline            string              `json:"deadline"`
	ConversationID      *string             `json:"conversation_id,omitempty"`
	AdminNotes          []notePayload       `json:"admin_notes,omitempty"`
	Resolution          *string             `json:"resolution,omitempty"`
	ResolvedBy          *string             `json:"resolved_by,omitempty"`
	ResolvedAt          string              `json:"resolved_at,omitempty"`
	CreatedAt           string              `json:"created_at"`
	UpdatedAt           string              `json:"updated_at,omitempty"`
}

type attachmentPayload struct {
	URL         string `json:"url,omitempty"`
	StoragePath string `json:"storage_path,omitempty"`
	Filename    string `json:"filename,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	UploadedAt  string `json:"uploaded_at,omitempty"`
}

func buildDisputePayload(dispute services.Dispute) disputePayload {
	payload := disputePayload{
		ID:                  strings.TrimSpace(dispute.ID),
		RequestID:           cloneStringPointer(dispute.RequestID),
		OrderID:             cloneStringPointer(dispute.OrderID),
		FiledBy:             strings.TrimSpace(dispute.FiledBy),
		AccusedParty:        strings.TrimSpace(dispute.AccusedParty),
		Category:            strings.TrimSpace(dispute.Category),
		Description:         dispute.Description,
		Stage:               string(dispute.Stage),
		Status:              string(dispute.Status),
		NegotiationDeadline: formatTime(dispute.NegotiationDeadline),
		Deadline:            formatTime(dispute.Deadline),
		ConversationID:      cloneStringPointer(dispute.ConversationID),
		Resolution:          cloneStringPointer(dispute.Resolution),
		ResolvedBy:          cloneStringPointer(dispute.ResolvedBy),
		ResolvedAt:          formatTime(pointerTime(dispute.ResolvedAt)),
		CreatedAt:           formatTime(dispute.CreatedAt),
		UpdatedAt:           formatTime(dispute.UpdatedAt),
	}
	if len(dispute.EvidenceImages) > 0 {
		images := make([]attachmentPayload, 0, len(dispute.EvidenceImages))
		for _, image := range dispute.EvidenceImages {
			images = append(images, attachmentPayload{
				URL:         image.URL,
				StoragePath: image.StoragePath,
				Filename:    image.Filename,
				SizeBytes:   image.SizeBytes,
				ContentType: image.ContentType,
				UploadedAt:  formatTime(image.UploadedAt),
			})
		}
		payload.EvidenceImages = images
	}
	if len(dispute.AdminNotes) > 0 {
		notes := make([]notePayload, 0, len(dispute.AdminNotes))
		for _, note := range dispute.AdminNotes {
			notes = append(notes, notePayload{
				Text:      note.Text,
				AuthorID:  note.AuthorID,
				CreatedAt: formatTime(note.CreatedAt),
			})
		}
		payload.AdminNotes = notes
	}
	return payload
}

func parseDisputeStageFilters(values []string) ([]domain.DisputeStage, bool) {
	filters := parseFilterValues(values)
	if len(filters) == 0 {
		return nil, true
	}
	stages := make([]domain.DisputeStage, 0, len(filters))
	for _, raw := range filters {
		stage := domain.DisputeStage(raw)
		if _, ok := validDisputeStages[stage]; !ok {
			return nil, false
		}
		stages = append(stages, stage)
	}
	return stages, true
}

func parseDisputeStatusFilters(values []string) ([]domain.DisputeStatus, bool) {
	filters := parseFilterValues(values)
	if len(filters) == 0 {
		return nil, true
	}
	statuses := make([]domain.DisputeStatus, 0, len(filters))
	for _, raw := range filters {
		status := domain.DisputeStatus(raw)
		if _, ok := validDisputeStatuses[status]; !ok {
			return nil, false
		}
		statuses = append(statuses, status)
	}
	return statuses, true
}
