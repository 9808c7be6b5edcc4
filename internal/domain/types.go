package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// RequestStatus enumerates valid lifecycle states for a customization request.
type RequestStatus string

const (
	// RequestStatusPendingAssignment indicates the request awaits a designer.
	RequestStatusPendingAssignment RequestStatus = "pending_assignment"
	// RequestStatusInProgress indicates the assigned designer is working on the design.
	RequestStatusInProgress RequestStatus = "in_progress"
	// RequestStatusAwaitingPricing indicates the request is waiting for a complete cost breakdown.
	RequestStatusAwaitingPricing RequestStatus = "awaiting_pricing"
	// RequestStatusPricingProposed indicates a full cost breakdown awaits customer review.
	RequestStatusPricingProposed RequestStatus = "pricing_proposed"
	// RequestStatusPaymentRequired indicates the customer agreed to pricing and must pay.
	RequestStatusPaymentRequired RequestStatus = "payment_required"
	// RequestStatusApproved indicates payment satisfied the plan and production may be confirmed.
	RequestStatusApproved RequestStatus = "approved"
	// RequestStatusInProduction indicates the shop has started manufacturing.
	RequestStatusInProduction RequestStatus = "in_production"
	// RequestStatusReady indicates production completed and passed the quality gate.
	RequestStatusReady RequestStatus = "ready"
	// RequestStatusCompleted indicates funds were disbursed and the transaction is closed.
	RequestStatusCompleted RequestStatus = "completed"
	// RequestStatusCancelled indicates the request was cancelled; the record is preserved for audit.
	RequestStatusCancelled RequestStatus = "cancelled"
	// RequestStatusDisputed indicates a dispute holds the request until resolution.
	RequestStatusDisputed RequestStatus = "disputed"
)

// PaymentPlan enumerates the supported payment schedules for an agreement.
type PaymentPlan string

const (
	// PaymentPlanUpfront requires the full total before production.
	PaymentPlanUpfront PaymentPlan = "upfront"
	// PaymentPlanHalf requires at least half of the total before production is confirmed.
	PaymentPlanHalf PaymentPlan = "half_payment"
	// PaymentPlanMilestone splits the total into scheduled partial payments.
	PaymentPlanMilestone PaymentPlan = "milestone"
)

// PaymentStatus enumerates states for an individual payment record.
type PaymentStatus string

const (
	// PaymentStatusPending indicates the charge was initiated and awaits gateway confirmation.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusCompleted indicates the gateway confirmed the charge.
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusFailed indicates the gateway reported the charge failed.
	PaymentStatusFailed PaymentStatus = "failed"
)

// ProductionStatus enumerates states of the shop's manufacturing workflow.
type ProductionStatus string

const (
	// ProductionStatusNotStarted indicates production has not been confirmed yet.
	ProductionStatusNotStarted ProductionStatus = "not_started"
	// ProductionStatusConfirmed indicates the shop accepted the job and committed to a date.
	ProductionStatusConfirmed ProductionStatus = "confirmed"
	// ProductionStatusInProgress indicates manufacturing is underway.
	ProductionStatusInProgress ProductionStatus = "in_progress"
	// ProductionStatusCompleted indicates manufacturing finished and passed the quality check.
	ProductionStatusCompleted ProductionStatus = "completed"
	// ProductionStatusCancelled indicates production was abandoned before completion.
	ProductionStatusCancelled ProductionStatus = "cancelled"
)

// Attachment stores metadata for a file referenced by a customization request.
type Attachment struct {
	URL         string
	StoragePath string
	Filename    string
	SizeBytes   int64
	ContentType string
	UploadedAt  time.Time
}

// RequestNote is a single append-only audit note on a customization request.
type RequestNote struct {
	Text      string
	AuthorID  string
	CreatedAt time.Time
}

// Milestone is one scheduled partial payment within a milestone plan.
type Milestone struct {
	ID          string
	Description string
	Amount      int64
	DueAt       *time.Time
}

// PricingAgreement is the negotiated three-part cost breakdown embedded in a request.
// TotalCost is always recomputed from its components and never set directly.
type PricingAgreement struct {
	DesignFee    int64
	ProductCost  int64
	PrintingCost int64
	TotalCost    int64
	Currency     string
	PaymentPlan  PaymentPlan
	Milestones   []Milestone
	ProposedBy   string
	ProposedAt   time.Time
	AgreedBy     *string
	AgreedAt     *time.Time
}

// Payment records a single customer charge against a request.
type Payment struct {
	ID               string
	Amount           int64
	Currency         string
	Method           string
	MilestoneID      *string
	Status           PaymentStatus
	GatewayReference string
	CreatedAt        time.Time
	CompletedAt      *time.Time
	FailedAt         *time.Time
}

// PaymentDetails is the embedded ledger of money movement for a request.
// Payout references are only recorded after a completed gateway callback.
type PaymentDetails struct {
	TotalAmount      int64
	PaidAmount       int64
	RemainingAmount  int64
	Currency         string
	Payments         []Payment
	DesignerPayoutID *string
	DesignerPaidAt   *time.Time
	ShopPayoutID     *string
	ShopPaidAt       *time.Time
}

// ProductionDetails is the embedded shop-fulfillment record for a request.
type ProductionDetails struct {
	Status                  ProductionStatus
	EstimatedCompletionDate *time.Time
	Materials               []string
	Notes                   string
	QualityCheckPassed      *bool
	QualityCheckNotes       string
	ConfirmedAt             *time.Time
	StartedAt               *time.Time
	CompletedAt             *time.Time
}

// RequestAttachments groups the file slots carried by a request, keyed by purpose.
type RequestAttachments struct {
	Reference  []Attachment
	Draft      []Attachment
	FinalProof []Attachment
	Production []Attachment
}

// CustomizationRequest represents one customer's order for a designer-produced,
// shop-manufactured custom product. Requests are never hard-deleted.
type CustomizationRequest struct {
	ID                 string
	CustomerID         string
	DesignerID         *string
	PrintingShopID     *string
	PrintingShopName   *string
	ProductID          string
	SelectedColorID    string
	ColorAdjustment    int64
	Status             RequestStatus
	CustomizationNotes string
	DesignerNotes      []RequestNote
	Attachments        RequestAttachments
	PricingAgreement   *PricingAgreement
	PaymentDetails     *PaymentDetails
	ProductionDetails  *ProductionDetails
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CancelledAt        *time.Time
	CancelReason       *string
}

// DisputeStage enumerates where a dispute currently sits in its lifecycle.
type DisputeStage string

const (
	// DisputeStageNegotiation indicates the parties are negotiating directly.
	DisputeStageNegotiation DisputeStage = "negotiation"
	// DisputeStageAdminReview indicates an admin is reviewing the dispute.
	DisputeStageAdminReview DisputeStage = "admin_review"
	// DisputeStageResolved indicates the dispute reached an outcome.
	DisputeStageResolved DisputeStage = "resolved"
)

// DisputeStatus enumerates the coarse open/closed state of a dispute.
type DisputeStatus string

const (
	// DisputeStatusOpen indicates the dispute is active.
	DisputeStatusOpen DisputeStatus = "open"
	// DisputeStatusResolved indicates the dispute was settled by admin or negotiation.
	DisputeStatusResolved DisputeStatus = "resolved"
	// DisputeStatusClosed indicates the dispute was closed without resolution action.
	DisputeStatusClosed DisputeStatus = "closed"
)

// Dispute is a formal disagreement filed by either party on a request or order.
// Evidence is immutable once submitted.
type Dispute struct {
	ID                  string
	RequestID           *string
	OrderID             *string
	FiledBy             string
	AccusedParty        string
	Category            string
	Description         string
	Stage               DisputeStage
	Status              DisputeStatus
	EvidenceImages      []Attachment
	NegotiationDeadline time.Time
	Deadline            time.Time
	ConversationID      *string
	AdminNotes          []RequestNote
	Resolution          *string
	ResolvedBy          *string
	ResolvedAt          *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// OrderStatus enumerates valid lifecycle states for fulfillment orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits shop acceptance.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates the shop accepted and is handling the order.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusCompleted indicates the order was fulfilled.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled indicates the order was cancelled by either party.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates the order was cancelled after payment and flagged for refund.
	OrderStatusRefunded OrderStatus = "refunded"
)

// OrderPaymentStatus tracks whether an order has been paid.
type OrderPaymentStatus string

const (
	// OrderPaymentUnpaid indicates no payment has completed for the order.
	OrderPaymentUnpaid OrderPaymentStatus = "unpaid"
	// OrderPaymentPaid indicates payment completed for the order.
	OrderPaymentPaid OrderPaymentStatus = "paid"
	// OrderPaymentRefunded indicates the payment was flagged for refund.
	OrderPaymentRefunded OrderPaymentStatus = "refunded"
)

// Order captures the fulfillment order header tied to a customization request.
type Order struct {
	ID            string
	CustomerID    string
	ShopID        string
	RequestID     *string
	Status        OrderStatus
	PaymentStatus OrderPaymentStatus
	Amount        int64
	Currency      string
	CancelReason  *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CancelledAt   *time.Time
}

// ProductColor stores a selectable color and its price adjustment in minor units.
type ProductColor struct {
	ID              string
	Name            string
	PriceAdjustment int64
}

// Product is the read-only catalog projection consulted for server-side pricing.
type Product struct {
	ID        string
	Name      string
	BasePrice int64
	Currency  string
	Colors    []ProductColor
}

// Shop resolves printing shop ownership for authorization checks.
type Shop struct {
	ID     string
	UserID string
	Name   string
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
