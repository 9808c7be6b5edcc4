package services

import (
	"context"
	"time"

	domain "github.com/craftlane/api/internal/domain"
	"github.com/craftlane/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination           = domain.Pagination
	SortOrder            = domain.SortOrder
	CustomizationRequest = domain.CustomizationRequest
	RequestStatus        = domain.RequestStatus
	RequestAttachments   = domain.RequestAttachments
	RequestNote          = domain.RequestNote
	Attachment           = domain.Attachment
	PricingAgreement     = domain.PricingAgreement
	PaymentPlan          = domain.PaymentPlan
	Milestone            = domain.Milestone
	PaymentDetails       = domain.PaymentDetails
	Payment              = domain.Payment
	PaymentStatus        = domain.PaymentStatus
	ProductionDetails    = domain.ProductionDetails
	ProductionStatus     = domain.ProductionStatus
	Dispute              = domain.Dispute
	DisputeStage         = domain.DisputeStage
	DisputeStatus        = domain.DisputeStatus
	Order                = domain.Order
	OrderStatus          = domain.OrderStatus
	Product              = domain.Product
	Shop                 = domain.Shop
	SystemHealthReport   = domain.SystemHealthReport
)

// RequestService serves read projections of customization requests.
type RequestService interface {
	GetRequest(ctx context.Context, requestID string, opts RequestReadOptions) (RequestDetail, error)
	ListRequests(ctx context.Context, filter RequestListFilter) (domain.CursorPage[CustomizationRequest], error)
}

// PricingService negotiates the three-part cost breakdown before any money moves.
type PricingService interface {
	ProposePricing(ctx context.Context, cmd ProposePricingCommand) (CustomizationRequest, error)
	AddShopPricing(ctx context.Context, cmd AddShopPricingCommand) (CustomizationRequest, error)
	AgreeToPricing(ctx context.Context, cmd AgreeToPricingCommand) (CustomizationRequest, error)
	RejectPricing(ctx context.Context, cmd RejectPricingCommand) (CustomizationRequest, error)
}

// PaymentService drives customer charges and escrow payouts per the agreed plan.
type PaymentService interface {
	ProcessPayment(ctx context.Context, cmd ProcessPaymentCommand) (PaymentInitiation, error)
	RecordChargeCallback(ctx context.Context, cmd ChargeCallbackCommand) (ChargeCallbackResult, error)
	GetPaymentStatus(ctx context.Context, requestID string) (PaymentDetails, error)
	InitiateDisbursements(ctx context.Context, cmd InitiateDisbursementsCommand) (DisbursementPlan, error)
}

// ProductionService runs the shop-side manufacturing state machine.
type ProductionService interface {
	ConfirmProduction(ctx context.Context, cmd ConfirmProductionCommand) (CustomizationRequest, error)
	StartProduction(ctx context.Context, cmd StartProductionCommand) (CustomizationRequest, error)
	CompleteProduction(ctx context.Context, cmd CompleteProductionCommand) (CustomizationRequest, error)
	UpdateProduction(ctx context.Context, cmd UpdateProductionCommand) (CustomizationRequest, error)
}

// DisbursementService reconciles asynchronous gateway payout callbacks with the ledger.
type DisbursementService interface {
	HandleCallback(ctx context.Context, cmd DisbursementCallbackCommand) (DisbursementCallbackResult, error)
}

// DisputeService coordinates the unhappy paths: shop rejection, customer
// cancellation, pricing rejection after payment, and the formal dispute lifecycle.
type DisputeService interface {
	RejectOrder(ctx context.Context, cmd RejectOrderCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	FileDispute(ctx context.Context, cmd FileDisputeCommand) (Dispute, error)
	OpenPricingDispute(ctx context.Context, cmd PricingDisputeCommand) (Dispute, error)
	ResolveDispute(ctx context.Context, cmd ResolveDisputeCommand) (Dispute, error)
	ListDisputes(ctx context.Context, filter DisputeListFilter) (domain.CursorPage[Dispute], error)
	ExpireNegotiations(ctx context.Context, cmd ExpireNegotiationsCommand) (ExpireNegotiationsResult, error)
}

// SystemService aggregates utility endpoints (health checks).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// LifecycleEvent is the envelope published to the event bus after a state
// change commits. Publishing is fire-and-forget; failures never roll back the
// triggering operation.
type LifecycleEvent struct {
	Type       string
	RequestID  string
	OrderID    string
	Actor      string
	OccurredAt time.Time
	Data       map[string]any
}

// LifecycleEventPublisher delivers lifecycle events to downstream consumers.
type LifecycleEventPublisher interface {
	PublishLifecycleEvent(ctx context.Context, event LifecycleEvent) (string, error)
}

// Command and DTO definitions ------------------------------------------------

type RequestListFilter = repositories.RequestListFilter

type DisputeListFilter = repositories.DisputeListFilter

type RequestReadOptions struct {
	SignAttachments bool
	LinkTTL         time.Duration
}

// AttachmentLink pairs a stored attachment with a time-limited download URL.
type AttachmentLink struct {
	Purpose   string
	FileName  string
	URL       string
	ExpiresAt time.Time
}

// RequestDetail is the detail projection returned to read endpoints.
type RequestDetail struct {
	Request         CustomizationRequest
	AttachmentLinks []AttachmentLink
}

type ProposePricingCommand struct {
	RequestID   string
	ActorID     string
	DesignFee   int64
	PaymentPlan PaymentPlan
	Milestones  []MilestoneInput
}

type MilestoneInput struct {
	Description string
	Amount      int64
	DueAt       *time.Time
}

type AddShopPricingCommand struct {
	RequestID    string
	ActorID      string
	PrintingCost int64
}

type AgreeToPricingCommand struct {
	RequestID string
	ActorID   string
}

type RejectPricingCommand struct {
	RequestID string
	ActorID   string
	Reason    string
}

type ProcessPaymentCommand struct {
	RequestID      string
	ActorID        string
	Amount         int64
	Method         string
	MilestoneID    *string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// PaymentInitiation reports the pending charge handed to the gateway. Funds are
// credited only by the gateway webhook, never by this response.
type PaymentInitiation struct {
	PaymentID        string
	Provider         string
	GatewayReference string
	RedirectURL      string
	Status           PaymentStatus
	Amount           int64
	Currency         string
}

type ChargeCallbackCommand struct {
	RequestID        string
	PaymentID        string
	GatewayReference string
	Status           string
	Amount           int64
	FailureCode      string
}

// ChargeCallbackResult reports how a gateway charge callback changed the ledger.
type ChargeCallbackResult struct {
	RequestID       string
	PaymentID       string
	Credited        bool
	Duplicate       bool
	PaidAmount      int64
	RemainingAmount int64
}

type InitiateDisbursementsCommand struct {
	RequestID string
	ActorID   string
}

// DisbursementLeg describes one payout handed to the gateway.
type DisbursementLeg struct {
	Recipient  string
	ExternalID string
	Amount     int64
	GatewayID  string
	Skipped    bool
	SkipReason string
}

// DisbursementPlan summarises the split of cumulative paid funds.
type DisbursementPlan struct {
	Currency string
	Designer DisbursementLeg
	Shop     DisbursementLeg
}

type ConfirmProductionCommand struct {
	RequestID               string
	ActorID                 string
	EstimatedCompletionDate *time.Time
	Materials               []string
	Notes                   string
}

type StartProductionCommand struct {
	RequestID string
	ActorID   string
}

type CompleteProductionCommand struct {
	RequestID          string
	ActorID            string
	QualityCheckPassed bool
	QualityCheckNotes  string
}

type UpdateProductionCommand struct {
	RequestID               string
	ActorID                 string
	Status                  *ProductionStatus
	EstimatedCompletionDate *time.Time
	Materials               []string
	Notes                   *string
}

type DisbursementCallbackCommand struct {
	ExternalID  string
	GatewayID   string
	Status      string
	Amount      int64
	FailureCode string
}

// DisbursementCallbackResult reports what the reconciliation changed.
type DisbursementCallbackResult struct {
	RequestID  string
	PayoutType string
	Completed  bool
	Duplicate  bool
}

type RejectOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

type CancelOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

type FileDisputeCommand struct {
	RequestID    *string
	OrderID      *string
	FiledBy      string
	AccusedParty string
	Category     string
	Description  string
	Evidence     []Attachment
}

type PricingDisputeCommand struct {
	RequestID string
	ActorID   string
	Reason    string
}

type ResolveDisputeCommand struct {
	DisputeID  string
	ActorID    string
	Resolution string
	Outcome    DisputeStatus
}

type ExpireNegotiationsCommand struct {
	Limit int
}

// ExpireNegotiationsResult summarises a scheduled expiry sweep.
type ExpireNegotiationsResult struct {
	Escalated int
	Failed    int
}
