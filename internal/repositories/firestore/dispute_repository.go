package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/craftlane/api/internal/domain"
	pfirestore "github.com/craftlane/api/internal/platform/firestore"
	"github.com/craftlane/api/internal/repositories"
)

const disputesCollection = "disputes"

// DisputeRepository persists dispute documents within Firestore.
type DisputeRepository struct {
	base *pfirestore.BaseRepository[disputeDocument]
}

// NewDisputeRepository constructs a Firestore-backed dispute repository.
func NewDisputeRepository(provider *pfirestore.Provider) (*DisputeRepository, error) {
	if provider == nil {
		return nil, errors.New("dispute repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[disputeDocument](provider, disputesCollection, nil, nil)
	return &DisputeRepository{base: base}, nil
}

// Insert stores a new dispute document. The ID must be unique.
func (r *DisputeRepository) Insert(ctx context.Context, dispute domain.Dispute) error {
	if r == nil || r.base == nil {
		return errors.New("dispute repository not initialised")
	}
	disputeID := strings.TrimSpace(dispute.ID)
	if disputeID == "" {
		return errors.New("dispute repository: dispute id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, disputeID)
	if err != nil {
		return err
	}
	doc := encodeDisputeDocument(dispute)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("disputes.insert", err)
	}
	return nil
}

// Update replaces the persisted dispute state, guarded by the expected
// last-update timestamp when provided.
func (r *DisputeRepository) Update(ctx context.Context, dispute domain.Dispute, expectedUpdate *time.Time) (domain.Dispute, error) {
	if r == nil || r.base == nil {
		return domain.Dispute{}, errors.New("dispute repository not initialised")
	}
	disputeID := strings.TrimSpace(dispute.ID)
	if disputeID == "" {
		return domain.Dispute{}, errors.New("dispute repository: dispute id is required")
	}

	doc := encodeDisputeDocument(dispute)

	if expectedUpdate == nil || expectedUpdate.IsZero() {
		result, err := r.base.Set(ctx, disputeID, doc)
		if err != nil {
			return domain.Dispute{}, err
		}
		saved := dispute
		saved.UpdatedAt = result.UpdateTime
		return saved, nil
	}

	updates := []firestore.Update{
		{Path: "stage", Value: doc.Stage},
		{Path: "status", Value: doc.Status},
		{Path: "description", Value: doc.Description},
		{Path: "deadline", Value: doc.Deadline},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	}

	appendOptional := func(path string, present bool, value any) {
		if !present {
			updates = append(updates, firestore.Update{Path: path, Value: firestore.Delete})
		} else {
			updates = append(updates, firestore.Update{Path: path, Value: value})
		}
	}

	appendOptional("conversationId", doc.ConversationID != nil, doc.ConversationID)
	appendOptional("adminNotes", len(doc.AdminNotes) > 0, doc.AdminNotes)
	appendOptional("evidenceImages", len(doc.EvidenceImages) > 0, doc.EvidenceImages)
	appendOptional("resolution", doc.Resolution != nil, doc.Resolution)
	appendOptional("resolvedBy", doc.ResolvedBy != nil, doc.ResolvedBy)
	appendOptional("resolvedAt", doc.ResolvedAt != nil, doc.ResolvedAt)

	result, err := r.base.Update(ctx, disputeID, updates, firestore.LastUpdateTime(expectedUpdate.UTC()))
	if err != nil {
		return domain.Dispute{}, err
	}

	saved := dispute
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// FindByID fetches a single dispute.
func (r *DisputeRepository) FindByID(ctx context.Context, disputeID string) (domain.Dispute, error) {
	if r == nil || r.base == nil {
		return domain.Dispute{}, errors.New("dispute repository not initialised")
	}
	disputeID = strings.TrimSpace(disputeID)
	if disputeID == "" {
		return domain.Dispute{}, errors.New("dispute repository: dispute id is required")
	}
	doc, err := r.base.Get(ctx, disputeID)
	if err != nil {
		return domain.Dispute{}, err
	}
	return decodeDisputeDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns disputes matching the filter ordered by most recent update.
func (r *DisputeRepository) List(ctx context.Context, filter repositories.DisputeListFilter) (domain.CursorPage[domain.Dispute], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Dispute]{}, errors.New("dispute repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Dispute]{}, fmt.Errorf("dispute repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	stages := make([]string, 0, len(filter.Stage))
	for _, stage := range filter.Stage {
		if trimmed := strings.TrimSpace(string(stage)); trimmed != "" {
			stages = append(stages, trimmed)
		}
	}
	statuses := make([]string, 0, len(filter.Status))
	for _, status := range filter.Status {
		if trimmed := strings.TrimSpace(string(status)); trimmed != "" {
			statuses = append(statuses, trimmed)
		}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.FiledBy != nil && strings.TrimSpace(*filter.FiledBy) != "" {
			q = q.Where("filedBy", "==", strings.TrimSpace(*filter.FiledBy))
		}
		if filter.RequestID != nil && strings.TrimSpace(*filter.RequestID) != "" {
			q = q.Where("requestId", "==", strings.TrimSpace(*filter.RequestID))
		}
		if len(stages) == 1 {
			q = q.Where("stage", "==", stages[0])
		} else if len(stages) > 1 {
			q = q.Where("stage", "in", stages)
		}
		if len(statuses) == 1 {
			q = q.Where("status", "==", statuses[0])
		} else if len(statuses) > 1 {
			q = q.Where("status", "in", statuses)
		}

		q = q.OrderBy("updatedAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Dispute]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		tokenTime := last.Data.UpdatedAt
		if tokenTime.IsZero() {
			tokenTime = last.UpdateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Dispute, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeDisputeDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Dispute]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// ListExpiredNegotiations returns open negotiation-stage disputes whose
// deadline passed on or before the given instant, oldest first.
func (r *DisputeRepository) ListExpiredNegotiations(ctx context.Context, now time.Time, pager domain.Pagination) (domain.CursorPage[domain.Dispute], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Dispute]{}, errors.New("dispute repository not initialised")
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Dispute]{}, fmt.Errorf("dispute repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("stage", "==", string(domain.DisputeStageNegotiation)).
			Where("status", "==", string(domain.DisputeStatusOpen)).
			Where("deadline", "<=", now.UTC())
		q = q.OrderBy("deadline", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Dispute]{}, err
	}

	valueDocs := docs
	nextToken := ""
	if limit > 0 && len(valueDocs) == fetchLimit {
		last := valueDocs[len(valueDocs)-1]
		nextToken = encodeListToken(last.Data.Deadline, last.ID)
		valueDocs = valueDocs[:len(valueDocs)-1]
	}

	items := make([]domain.Dispute, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeDisputeDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Dispute]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type disputeDocument struct {
	RequestID           *string               `firestore:"requestId,omitempty"`
	OrderID             *string               `firestore:"orderId,omitempty"`
	FiledBy             string                `firestore:"filedBy"`
	AccusedParty        string                `firestore:"accusedParty"`
	Category            string                `firestore:"category"`
	Description         string                `firestore:"description"`
	Stage               string                `firestore:"stage"`
	Status              string                `firestore:"status"`
	EvidenceImages      []attachmentDocument  `firestore:"evidenceImages,omitempty"`
	NegotiationDeadline time.Time             `firestore:"negotiationDeadline"`
	Deadline            time.Time             `firestore:"deadline"`
	ConversationID      *string               `firestore:"conversationId,omitempty"`
	AdminNotes          []requestNoteDocument `firestore:"adminNotes,omitempty"`
	Resolution          *string               `firestore:"resolution,omitempty"`
	ResolvedBy          *string               `firestore:"resolvedBy,omitempty"`
	ResolvedAt          *time.Time            `firestore:"resolvedAt,omitempty"`
	CreatedAt           time.Time             `firestore:"createdAt"`
	UpdatedAt           time.Time             `firestore:"updatedAt"`
}

func encodeDisputeDocument(dispute domain.Dispute) disputeDocument {
	doc := disputeDocument{
		RequestID:           trimmedPointer(dispute.RequestID),
		OrderID:             trimmedPointer(dispute.OrderID),
		FiledBy:             strings.TrimSpace(dispute.FiledBy),
		AccusedParty:        strings.TrimSpace(dispute.AccusedParty),
		Category:            strings.TrimSpace(dispute.Category),
		Description:         strings.TrimSpace(dispute.Description),
		Stage:               string(dispute.Stage),
		Status:              string(dispute.Status),
		EvidenceImages:      encodeAttachments(dispute.EvidenceImages),
		NegotiationDeadline: dispute.NegotiationDeadline.UTC(),
		Deadline:            dispute.Deadline.UTC(),
		ConversationID:      trimmedPointer(dispute.ConversationID),
		Resolution:          trimmedPointer(dispute.Resolution),
		ResolvedBy:          trimmedPointer(dispute.ResolvedBy),
		ResolvedAt:          normalizeTimePointer(dispute.ResolvedAt),
		CreatedAt:           dispute.CreatedAt.UTC(),
		UpdatedAt:           dispute.UpdatedAt.UTC(),
	}
	for _, note := range dispute.AdminNotes {
		doc.AdminNotes = append(doc.AdminNotes, requestNoteDocument{
			Text:      note.Text,
			AuthorID:  strings.TrimSpace(note.AuthorID),
			CreatedAt: note.CreatedAt.UTC(),
		})
	}
	return doc
}

func decodeDisputeDocument(id string, doc disputeDocument, createdAt, updatedAt time.Time) domain.Dispute {
	dispute := domain.Dispute{
		ID:                  strings.TrimSpace(id),
		RequestID:           trimmedPointer(doc.RequestID),
		OrderID:             trimmedPointer(doc.OrderID),
		FiledBy:             strings.TrimSpace(doc.FiledBy),
		AccusedParty:        strings.TrimSpace(doc.AccusedParty),
		Category:            strings.TrimSpace(doc.Category),
		Description:         strings.TrimSpace(doc.Description),
		Stage:               domain.DisputeStage(strings.TrimSpace(doc.Stage)),
		Status:              domain.DisputeStatus(strings.TrimSpace(doc.Status)),
		EvidenceImages:      decodeAttachments(doc.EvidenceImages),
		NegotiationDeadline: doc.NegotiationDeadline.UTC(),
		Deadline:            doc.Deadline.UTC(),
		ConversationID:      trimmedPointer(doc.ConversationID),
		Resolution:          trimmedPointer(doc.Resolution),
		ResolvedBy:          trimmedPointer(doc.ResolvedBy),
		ResolvedAt:          normalizeTimePointer(doc.ResolvedAt),
		CreatedAt:           chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:           chooseTime(doc.UpdatedAt, updatedAt),
	}
	for _, note := range doc.AdminNotes {
		dispute.AdminNotes = append(dispute.AdminNotes, domain.RequestNote{
			Text:      note.Text,
			AuthorID:  strings.TrimSpace(note.AuthorID),
			CreatedAt: note.CreatedAt.UTC(),
		})
	}
	return dispute
}

var _ repositories.DisputeRepository = (*DisputeRepository)(nil)
