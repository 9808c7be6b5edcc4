package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/craftlane/api/internal/domain"
	pfirestore "github.com/craftlane/api/internal/platform/firestore"
	"github.com/craftlane/api/internal/repositories"
)

const requestsCollection = "customization_requests"

// RequestRepository persists customization request documents within Firestore.
type RequestRepository struct {
	base *pfirestore.BaseRepository[requestDocument]
}

// NewRequestRepository constructs a Firestore-backed request repository.
func NewRequestRepository(provider *pfirestore.Provider) (*RequestRepository, error) {
	if provider == nil {
		return nil, errors.New("request repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[requestDocument](provider, requestsCollection, nil, nil)
	return &RequestRepository{base: base}, nil
}

// Insert stores a new customization request document. The ID must be unique.
func (r *RequestRepository) Insert(ctx context.Context, request domain.CustomizationRequest) error {
	if r == nil || r.base == nil {
		return errors.New("request repository not initialised")
	}
	requestID := strings.TrimSpace(request.ID)
	if requestID == "" {
		return errors.New("request repository: request id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, requestID)
	if err != nil {
		return err
	}
	doc := encodeRequestDocument(request)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("customization_requests.insert", err)
	}
	return nil
}

// Update replaces the persisted request state. When expectedUpdate is set the
// write carries a last-update-time precondition so a concurrent writer surfaces
// as a conflict instead of silently winning.
func (r *RequestRepository) Update(ctx context.Context, request domain.CustomizationRequest, expectedUpdate *time.Time) (domain.CustomizationRequest, error) {
	if r == nil || r.base == nil {
		return domain.CustomizationRequest{}, errors.New("request repository not initialised")
	}
	requestID := strings.TrimSpace(request.ID)
	if requestID == "" {
		return domain.CustomizationRequest{}, errors.New("request repository: request id is required")
	}

	doc := encodeRequestDocument(request)

	if expectedUpdate == nil || expectedUpdate.IsZero() {
		result, err := r.base.Set(ctx, requestID, doc)
		if err != nil {
			return domain.CustomizationRequest{}, err
		}
		saved := request
		saved.UpdatedAt = result.UpdateTime
		return saved, nil
	}

	updates := []firestore.Update{
		{Path: "status", Value: doc.Status},
		{Path: "customizationNotes", Value: doc.CustomizationNotes},
		{Path: "colorAdjustment", Value: doc.ColorAdjustment},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	}

	appendOptionalString := func(path string, value *string) {
		if value == nil || strings.TrimSpace(*value) == "" {
			updates = append(updates, firestore.Update{Path: path, Value: firestore.Delete})
		} else {
			updates = append(updates, firestore.Update{Path: path, Value: strings.TrimSpace(*value)})
		}
	}
	appendOptionalField := func(path string, present bool, value any) {
		if !present {
			updates = append(updates, firestore.Update{Path: path, Value: firestore.Delete})
		} else {
			updates = append(updates, firestore.Update{Path: path, Value: value})
		}
	}

	appendOptionalString("designerId", doc.DesignerID)
	appendOptionalString("printingShopId", doc.PrintingShopID)
	appendOptionalString("printingShopName", doc.PrintingShopName)
	appendOptionalString("cancelReason", doc.CancelReason)
	appendOptionalField("cancelledAt", doc.CancelledAt != nil, doc.CancelledAt)
	appendOptionalField("pricingAgreement", doc.Pricing != nil, doc.Pricing)
	appendOptionalField("paymentDetails", doc.Payment != nil, doc.Payment)
	appendOptionalField("productionDetails", doc.Production != nil, doc.Production)
	appendOptionalField("designerNotes", len(doc.DesignerNotes) > 0, doc.DesignerNotes)
	appendOptionalField("attachments", doc.Attachments != nil, doc.Attachments)

	result, err := r.base.Update(ctx, requestID, updates, firestore.LastUpdateTime(expectedUpdate.UTC()))
	if err != nil {
		return domain.CustomizationRequest{}, err
	}

	saved := request
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// FindByID fetches a single customization request.
func (r *RequestRepository) FindByID(ctx context.Context, requestID string) (domain.CustomizationRequest, error) {
	if r == nil || r.base == nil {
		return domain.CustomizationRequest{}, errors.New("request repository not initialised")
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return domain.CustomizationRequest{}, errors.New("request repository: request id is required")
	}
	doc, err := r.base.Get(ctx, requestID)
	if err != nil {
		return domain.CustomizationRequest{}, err
	}
	return decodeRequestDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns customization requests matching the filter ordered by most recent update.
func (r *RequestRepository) List(ctx context.Context, filter repositories.RequestListFilter) (domain.CursorPage[domain.CustomizationRequest], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.CustomizationRequest]{}, errors.New("request repository not initialised")
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
			return domain.CursorPage[domain.CustomizationRequest]{}, fmt.Errorf("request repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statuses := make([]string, 0, len(filter.Status))
	for _, status := range filter.Status {
		if trimmed := strings.TrimSpace(string(status)); trimmed != "" {
			statuses = append(statuses, trimmed)
		}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.CustomerID != nil && strings.TrimSpace(*filter.CustomerID) != "" {
			q = q.Where("customerId", "==", strings.TrimSpace(*filter.CustomerID))
		}
		if filter.DesignerID != nil && strings.TrimSpace(*filter.DesignerID) != "" {
			q = q.Where("designerId", "==", strings.TrimSpace(*filter.DesignerID))
		}
		if filter.ShopID != nil && strings.TrimSpace(*filter.ShopID) != "" {
			q = q.Where("printingShopId", "==", strings.TrimSpace(*filter.ShopID))
		}

		if len(statuses) == 1 {
			q = q.Where("status", "==", statuses[0])
		} else if len(statuses) > 1 {
			// Firestore in clause supports up to 10 values.
			values := statuses
			if len(values) > 10 {
				values = values[:10]
			}
			q = q.Where("status", "in", values)
		}

		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<", filter.DateRange.To.UTC())
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
		return domain.CursorPage[domain.CustomizationRequest]{}, err
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

	items := make([]domain.CustomizationRequest, 0, len(valueDocs))
	for _, doc := range valueDocs {
		items = append(items, decodeRequestDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.CustomizationRequest]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type requestDocument struct {
	CustomerID         string                    `firestore:"customerId"`
	DesignerID         *string                   `firestore:"designerId,omitempty"`
	PrintingShopID     *string                   `firestore:"printingShopId,omitempty"`
	PrintingShopName   *string                   `firestore:"printingShopName,omitempty"`
	ProductID          string                    `firestore:"productId"`
	SelectedColorID    string                    `firestore:"selectedColorId"`
	ColorAdjustment    int64                     `firestore:"colorAdjustment"`
	Status             string                    `firestore:"status"`
	CustomizationNotes string                    `firestore:"customizationNotes,omitempty"`
	DesignerNotes      []requestNoteDocument     `firestore:"designerNotes,omitempty"`
	Attachments        *requestAttachmentsDoc    `firestore:"attachments,omitempty"`
	Pricing            *pricingAgreementDocument `firestore:"pricingAgreement,omitempty"`
	Payment            *paymentDetailsDocument   `firestore:"paymentDetails,omitempty"`
	Production         *productionDocument       `firestore:"productionDetails,omitempty"`
	CancelReason       *string                   `firestore:"cancelReason,omitempty"`
	CancelledAt        *time.Time                `firestore:"cancelledAt,omitempty"`
	CreatedAt          time.Time                 `firestore:"createdAt"`
	UpdatedAt          time.Time                 `firestore:"updatedAt"`
}

type requestNoteDocument struct {
	Text      string    `firestore:"text"`
	AuthorID  string    `firestore:"authorId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type attachmentDocument struct {
	URL         string    `firestore:"url,omitempty"`
	StoragePath string    `firestore:"storagePath"`
	Filename    string    `firestore:"filename"`
	SizeBytes   int64     `firestore:"sizeBytes"`
	ContentType string    `firestore:"contentType"`
	UploadedAt  time.Time `firestore:"uploadedAt"`
}

type requestAttachmentsDoc struct {
	Reference  []attachmentDocument `firestore:"reference,omitempty"`
	Draft      []attachmentDocument `firestore:"draft,omitempty"`
	FinalProof []attachmentDocument `firestore:"finalProof,omitempty"`
	Production []attachmentDocument `firestore:"production,omitempty"`
}

type milestoneDocument struct {
	ID          string     `firestore:"id"`
	Description string     `firestore:"description"`
	Amount      int64      `firestore:"amount"`
	DueAt       *time.Time `firestore:"dueAt,omitempty"`
}

type pricingAgreementDocument struct {
	DesignFee    int64               `firestore:"designFee"`
	ProductCost  int64               `firestore:"productCost"`
	PrintingCost int64               `firestore:"printingCost"`
	TotalCost    int64               `firestore:"totalCost"`
	Currency     string              `firestore:"currency"`
	PaymentPlan  string              `firestore:"paymentPlan"`
	Milestones   []milestoneDocument `firestore:"milestones,omitempty"`
	ProposedBy   string              `firestore:"proposedBy"`
	ProposedAt   time.Time           `firestore:"proposedAt"`
	AgreedBy     *string             `firestore:"agreedBy,omitempty"`
	AgreedAt     *time.Time          `firestore:"agreedAt,omitempty"`
}

type paymentRecordDocument struct {
	ID               string     `firestore:"id"`
	Amount           int64      `firestore:"amount"`
	Currency         string     `firestore:"currency"`
	Method           string     `firestore:"method,omitempty"`
	MilestoneID      *string    `firestore:"milestoneId,omitempty"`
	Status           string     `firestore:"status"`
	GatewayReference string     `firestore:"gatewayReference,omitempty"`
	CreatedAt        time.Time  `firestore:"createdAt"`
	CompletedAt      *time.Time `firestore:"completedAt,omitempty"`
	FailedAt         *time.Time `firestore:"failedAt,omitempty"`
}

type paymentDetailsDocument struct {
	TotalAmount      int64                   `firestore:"totalAmount"`
	PaidAmount       int64                   `firestore:"paidAmount"`
	RemainingAmount  int64                   `firestore:"remainingAmount"`
	Currency         string                  `firestore:"currency"`
	Payments         []paymentRecordDocument `firestore:"payments,omitempty"`
	DesignerPayoutID *string                 `firestore:"designerPayoutId,omitempty"`
	DesignerPaidAt   *time.Time              `firestore:"designerPaidAt,omitempty"`
	ShopPayoutID     *string                 `firestore:"shopPayoutId,omitempty"`
	ShopPaidAt       *time.Time              `firestore:"shopPaidAt,omitempty"`
}

type productionDocument struct {
	Status              string     `firestore:"status"`
	EstimatedCompletion *time.Time `firestore:"estimatedCompletionDate,omitempty"`
	Materials           []string   `firestore:"materials,omitempty"`
	Notes               string     `firestore:"notes,omitempty"`
	QualityCheckPassed  *bool      `firestore:"qualityCheckPassed,omitempty"`
	QualityCheckNotes   string     `firestore:"qualityCheckNotes,omitempty"`
	ConfirmedAt         *time.Time `firestore:"confirmedAt,omitempty"`
	StartedAt           *time.Time `firestore:"startedAt,omitempty"`
	CompletedAt         *time.Time `firestore:"completedAt,omitempty"`
}

func encodeRequestDocument(request domain.CustomizationRequest) requestDocument {
	doc := requestDocument{
		CustomerID:         strings.TrimSpace(request.CustomerID),
		DesignerID:         trimmedPointer(request.DesignerID),
		PrintingShopID:     trimmedPointer(request.PrintingShopID),
		PrintingShopName:   trimmedPointer(request.PrintingShopName),
		ProductID:          strings.TrimSpace(request.ProductID),
		SelectedColorID:    strings.TrimSpace(request.SelectedColorID),
		ColorAdjustment:    request.ColorAdjustment,
		Status:             string(request.Status),
		CustomizationNotes: strings.TrimSpace(request.CustomizationNotes),
		CancelReason:       trimmedPointer(request.CancelReason),
		CancelledAt:        normalizeTimePointer(request.CancelledAt),
		CreatedAt:          request.CreatedAt.UTC(),
		UpdatedAt:          request.UpdatedAt.UTC(),
	}

	for _, note := range request.DesignerNotes {
		doc.DesignerNotes = append(doc.DesignerNotes, requestNoteDocument{
			Text:      note.Text,
			AuthorID:  strings.TrimSpace(note.AuthorID),
			CreatedAt: note.CreatedAt.UTC(),
		})
	}

	if atts := encodeRequestAttachments(request.Attachments); atts != nil {
		doc.Attachments = atts
	}
	if request.PricingAgreement != nil {
		doc.Pricing = encodePricingAgreement(*request.PricingAgreement)
	}
	if request.PaymentDetails != nil {
		doc.Payment = encodePaymentDetails(*request.PaymentDetails)
	}
	if request.ProductionDetails != nil {
		doc.Production = encodeProductionDetails(*request.ProductionDetails)
	}
	return doc
}

func encodeRequestAttachments(atts domain.RequestAttachments) *requestAttachmentsDoc {
	doc := &requestAttachmentsDoc{
		Reference:  encodeAttachments(atts.Reference),
		Draft:      encodeAttachments(atts.Draft),
		FinalProof: encodeAttachments(atts.FinalProof),
		Production: encodeAttachments(atts.Production),
	}
	if doc.Reference == nil && doc.Draft == nil && doc.FinalProof == nil && doc.Production == nil {
		return nil
	}
	return doc
}

func encodeAttachments(atts []domain.Attachment) []attachmentDocument {
	if len(atts) == 0 {
		return nil
	}
	docs := make([]attachmentDocument, 0, len(atts))
	for _, att := range atts {
		docs = append(docs, attachmentDocument{
			URL:         strings.TrimSpace(att.URL),
			StoragePath: strings.TrimSpace(att.StoragePath),
			Filename:    strings.TrimSpace(att.Filename),
			SizeBytes:   att.SizeBytes,
			ContentType: strings.TrimSpace(att.ContentType),
			UploadedAt:  att.UploadedAt.UTC(),
		})
	}
	return docs
}

func encodePricingAgreement(pricing domain.PricingAgreement) *pricingAgreementDocument {
	doc := &pricingAgreementDocument{
		DesignFee:    pricing.DesignFee,
		ProductCost:  pricing.ProductCost,
		PrintingCost: pricing.PrintingCost,
		TotalCost:    pricing.TotalCost,
		Currency:     strings.ToUpper(strings.TrimSpace(pricing.Currency)),
		PaymentPlan:  string(pricing.PaymentPlan),
		ProposedBy:   strings.TrimSpace(pricing.ProposedBy),
		ProposedAt:   pricing.ProposedAt.UTC(),
		AgreedBy:     trimmedPointer(pricing.AgreedBy),
		AgreedAt:     normalizeTimePointer(pricing.AgreedAt),
	}
	for _, milestone := range pricing.Milestones {
		doc.Milestones = append(doc.Milestones, milestoneDocument{
			ID:          strings.TrimSpace(milestone.ID),
			Description: strings.TrimSpace(milestone.Description),
			Amount:      milestone.Amount,
			DueAt:       normalizeTimePointer(milestone.DueAt),
		})
	}
	return doc
}

func encodePaymentDetails(details domain.PaymentDetails) *paymentDetailsDocument {
	doc := &paymentDetailsDocument{
		TotalAmount:      details.TotalAmount,
		PaidAmount:       details.PaidAmount,
		RemainingAmount:  details.RemainingAmount,
		Currency:         strings.ToUpper(strings.TrimSpace(details.Currency)),
		DesignerPayoutID: trimmedPointer(details.DesignerPayoutID),
		DesignerPaidAt:   normalizeTimePointer(details.DesignerPaidAt),
		ShopPayoutID:     trimmedPointer(details.ShopPayoutID),
		ShopPaidAt:       normalizeTimePointer(details.ShopPaidAt),
	}
	for _, payment := range details.Payments {
		doc.Payments = append(doc.Payments, paymentRecordDocument{
			ID:               strings.TrimSpace(payment.ID),
			Amount:           payment.Amount,
			Currency:         strings.ToUpper(strings.TrimSpace(payment.Currency)),
			Method:           strings.TrimSpace(payment.Method),
			MilestoneID:      trimmedPointer(payment.MilestoneID),
			Status:           string(payment.Status),
			GatewayReference: strings.TrimSpace(payment.GatewayReference),
			CreatedAt:        payment.CreatedAt.UTC(),
			CompletedAt:      normalizeTimePointer(payment.CompletedAt),
			FailedAt:         normalizeTimePointer(payment.FailedAt),
		})
	}
	return doc
}

func encodeProductionDetails(details domain.ProductionDetails) *productionDocument {
	return &productionDocument{
		Status:              string(details.Status),
		EstimatedCompletion: normalizeTimePointer(details.EstimatedCompletionDate),
		Materials:           cloneStrings(details.Materials),
		Notes:               strings.TrimSpace(details.Notes),
		QualityCheckPassed:  details.QualityCheckPassed,
		QualityCheckNotes:   strings.TrimSpace(details.QualityCheckNotes),
		ConfirmedAt:         normalizeTimePointer(details.ConfirmedAt),
		StartedAt:           normalizeTimePointer(details.StartedAt),
		CompletedAt:         normalizeTimePointer(details.CompletedAt),
	}
}

func decodeRequestDocument(id string, doc requestDocument, createdAt, updatedAt time.Time) domain.CustomizationRequest {
	request := domain.CustomizationRequest{
		ID:                 strings.TrimSpace(id),
		CustomerID:         strings.TrimSpace(doc.CustomerID),
		DesignerID:         trimmedPointer(doc.DesignerID),
		PrintingShopID:     trimmedPointer(doc.PrintingShopID),
		PrintingShopName:   trimmedPointer(doc.PrintingShopName),
		ProductID:          strings.TrimSpace(doc.ProductID),
		SelectedColorID:    strings.TrimSpace(doc.SelectedColorID),
		ColorAdjustment:    doc.ColorAdjustment,
		Status:             domain.RequestStatus(strings.TrimSpace(doc.Status)),
		CustomizationNotes: strings.TrimSpace(doc.CustomizationNotes),
		CancelReason:       trimmedPointer(doc.CancelReason),
		CancelledAt:        normalizeTimePointer(doc.CancelledAt),
		CreatedAt:          chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:          chooseTime(doc.UpdatedAt, updatedAt),
	}

	for _, note := range doc.DesignerNotes {
		request.DesignerNotes = append(request.DesignerNotes, domain.RequestNote{
			Text:      note.Text,
			AuthorID:  strings.TrimSpace(note.AuthorID),
			CreatedAt: note.CreatedAt.UTC(),
		})
	}

	if doc.Attachments != nil {
		request.Attachments = domain.RequestAttachments{
			Reference:  decodeAttachments(doc.Attachments.Reference),
			Draft:      decodeAttachments(doc.Attachments.Draft),
			FinalProof: decodeAttachments(doc.Attachments.FinalProof),
			Production: decodeAttachments(doc.Attachments.Production),
		}
	}
	if doc.Pricing != nil {
		request.PricingAgreement = decodePricingAgreement(doc.Pricing)
	}
	if doc.Payment != nil {
		request.PaymentDetails = decodePaymentDetails(doc.Payment)
	}
	if doc.Production != nil {
		request.ProductionDetails = decodeProductionDetails(doc.Production)
	}
	return request
}

func decodeAttachments(docs []attachmentDocument) []domain.Attachment {
	if len(docs) == 0 {
		return nil
	}
	atts := make([]domain.Attachment, 0, len(docs))
	for _, doc := range docs {
		atts = append(atts, domain.Attachment{
			URL:         strings.TrimSpace(doc.URL),
			StoragePath: strings.TrimSpace(doc.StoragePath),
			Filename:    strings.TrimSpace(doc.Filename),
			SizeBytes:   doc.SizeBytes,
			ContentType: strings.TrimSpace(doc.ContentType),
			UploadedAt:  doc.UploadedAt.UTC(),
		})
	}
	return atts
}

func decodePricingAgreement(doc *pricingAgreementDocument) *domain.PricingAgreement {
	pricing := &domain.PricingAgreement{
		DesignFee:    doc.DesignFee,
		ProductCost:  doc.ProductCost,
		PrintingCost: doc.PrintingCost,
		TotalCost:    doc.TotalCost,
		Currency:     strings.ToUpper(strings.TrimSpace(doc.Currency)),
		PaymentPlan:  domain.PaymentPlan(strings.TrimSpace(doc.PaymentPlan)),
		ProposedBy:   strings.TrimSpace(doc.ProposedBy),
		ProposedAt:   doc.ProposedAt.UTC(),
		AgreedBy:     trimmedPointer(doc.AgreedBy),
		AgreedAt:     normalizeTimePointer(doc.AgreedAt),
	}
	for _, milestone := range doc.Milestones {
		pricing.Milestones = append(pricing.Milestones, domain.Milestone{
			ID:          strings.TrimSpace(milestone.ID),
			Description: strings.TrimSpace(milestone.Description),
			Amount:      milestone.Amount,
			DueAt:       normalizeTimePointer(milestone.DueAt),
		})
	}
	return pricing
}

func decodePaymentDetails(doc *paymentDetailsDocument) *domain.PaymentDetails {
	details := &domain.PaymentDetails{
		TotalAmount:      doc.TotalAmount,
		PaidAmount:       doc.PaidAmount,
		RemainingAmount:  doc.RemainingAmount,
		Currency:         strings.ToUpper(strings.TrimSpace(doc.Currency)),
		DesignerPayoutID: trimmedPointer(doc.DesignerPayoutID),
		DesignerPaidAt:   normalizeTimePointer(doc.DesignerPaidAt),
		ShopPayoutID:     trimmedPointer(doc.ShopPayoutID),
		ShopPaidAt:       normalizeTimePointer(doc.ShopPaidAt),
	}
	for _, payment := range doc.Payments {
		details.Payments = append(details.Payments, domain.Payment{
			ID:               strings.TrimSpace(payment.ID),
			Amount:           payment.Amount,
			Currency:         strings.ToUpper(strings.TrimSpace(payment.Currency)),
			Method:           strings.TrimSpace(payment.Method),
			MilestoneID:      trimmedPointer(payment.MilestoneID),
			Status:           domain.PaymentStatus(strings.TrimSpace(payment.Status)),
			GatewayReference: strings.TrimSpace(payment.GatewayReference),
			CreatedAt:        payment.CreatedAt.UTC(),
			CompletedAt:      normalizeTimePointer(payment.CompletedAt),
			FailedAt:         normalizeTimePointer(payment.FailedAt),
		})
	}
	return details
}

func decodeProductionDetails(doc *productionDocument) *domain.ProductionDetails {
	return &domain.ProductionDetails{
		Status:                  domain.ProductionStatus(strings.TrimSpace(doc.Status)),
		EstimatedCompletionDate: normalizeTimePointer(doc.EstimatedCompletion),
		Materials:               cloneStrings(doc.Materials),
		Notes:                   strings.TrimSpace(doc.Notes),
		QualityCheckPassed:      doc.QualityCheckPassed,
		QualityCheckNotes:       strings.TrimSpace(doc.QualityCheckNotes),
		ConfirmedAt:             normalizeTimePointer(doc.ConfirmedAt),
		StartedAt:               normalizeTimePointer(doc.StartedAt),
		CompletedAt:             normalizeTimePointer(doc.CompletedAt),
	}
}

// Shared helpers -------------------------------------------------------------

func trimmedPointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		out = append(out, strings.TrimSpace(value))
	}
	return out
}

func chooseTime(primary time.Time, fallback time.Time) time.Time {
	if !primary.IsZero() {
		return primary.UTC()
	}
	if !fallback.IsZero() {
		return fallback.UTC()
	}
	return time.Time{}
}

func normalizeTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	if value.IsZero() {
		return nil
	}
	ts := value.UTC()
	return &ts
}

func encodeListToken(updatedAt time.Time, docID string) string {
	payload := fmt.Sprintf("%s|%s", updatedAt.UTC().Format(time.RFC3339Nano), docID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodeListToken(token string) (time.Time, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, parts[1], nil
}

var _ repositories.RequestRepository = (*RequestRepository)(nil)
