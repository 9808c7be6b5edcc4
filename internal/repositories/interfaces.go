package repositories

import (
	"context"
	"time"

	domain "github.com/craftlane/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// RequestRepository persists customization request documents. Updates carry the
// expected last-write timestamp so concurrent writers lose with a conflict
// instead of overwriting each other.
type RequestRepository interface {
	Insert(ctx context.Context, request domain.CustomizationRequest) error
	Update(ctx context.Context, request domain.CustomizationRequest, expectedUpdate *time.Time) (domain.CustomizationRequest, error)
	FindByID(ctx context.Context, requestID string) (domain.CustomizationRequest, error)
	List(ctx context.Context, filter RequestListFilter) (domain.CursorPage[domain.CustomizationRequest], error)
}

// DisputeRepository stores dispute records and their escalation state.
type DisputeRepository interface {
	Insert(ctx context.Context, dispute domain.Dispute) error
	Update(ctx context.Context, dispute domain.Dispute, expectedUpdate *time.Time) (domain.Dispute, error)
	FindByID(ctx context.Context, disputeID string) (domain.Dispute, error)
	List(ctx context.Context, filter DisputeListFilter) (domain.CursorPage[domain.Dispute], error)
	// ListExpiredNegotiations returns open disputes still in negotiation whose
	// deadline passed on or before the given instant.
	ListExpiredNegotiations(ctx context.Context, now time.Time, pager domain.Pagination) (domain.CursorPage[domain.Dispute], error)
}

// OrderRepository persists order headers tied to completed customization requests.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order, expectedUpdate *time.Time) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
}

// ProductRepository reads catalog products referenced by customization requests.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// ShopRepository reads printing shop profiles for pricing and disbursement flows.
type ShopRepository interface {
	FindByID(ctx context.Context, shopID string) (domain.Shop, error)
	FindByUserID(ctx context.Context, userID string) (domain.Shop, error)
}

// PayoutAccountRepository resolves gateway account references used as
// disbursement destinations.
type PayoutAccountRepository interface {
	DesignerAccount(ctx context.Context, designerID string) (string, error)
	ShopAccount(ctx context.Context, shopID string) (string, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type RequestListFilter struct {
	CustomerID *string
	DesignerID *string
	ShopID     *string
	Status     []domain.RequestStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type DisputeListFilter struct {
	FiledBy    *string
	RequestID  *string
	Stage      []domain.DisputeStage
	Status     []domain.DisputeStatus
	Pagination domain.Pagination
}
