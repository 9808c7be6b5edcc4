package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/craftlane/api/internal/domain"
	pfirestore "github.com/craftlane/api/internal/platform/firestore"
	"github.com/craftlane/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order headers within Firestore.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{base: base}, nil
}

// Insert stores a new order document. The ID must be unique.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	doc := encodeOrderDocument(order)
	if _, err := docRef.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the persisted order state, guarded by the expected
// last-update timestamp when provided.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedUpdate *time.Time) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc := encodeOrderDocument(order)

	if expectedUpdate == nil || expectedUpdate.IsZero() {
		result, err := r.base.Set(ctx, orderID, doc)
		if err != nil {
			return domain.Order{}, err
		}
		saved := order
		saved.UpdatedAt = result.UpdateTime
		return saved, nil
	}

	updates := []firestore.Update{
		{Path: "status", Value: doc.Status},
		{Path: "paymentStatus", Value: doc.PaymentStatus},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	}
	if doc.CancelReason == nil {
		updates = append(updates, firestore.Update{Path: "cancelReason", Value: firestore.Delete})
	} else {
		updates = append(updates, firestore.Update{Path: "cancelReason", Value: doc.CancelReason})
	}
	if doc.CancelledAt == nil {
		updates = append(updates, firestore.Update{Path: "cancelledAt", Value: firestore.Delete})
	} else {
		updates = append(updates, firestore.Update{Path: "cancelledAt", Value: doc.CancelledAt})
	}

	result, err := r.base.Update(ctx, orderID, updates, firestore.LastUpdateTime(expectedUpdate.UTC()))
	if err != nil {
		return domain.Order{}, err
	}

	saved := order
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrderDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

type orderDocument struct {
	CustomerID    string     `firestore:"customerId"`
	ShopID        string     `firestore:"shopId"`
	RequestID     *string    `firestore:"requestId,omitempty"`
	Status        string     `firestore:"status"`
	PaymentStatus string     `firestore:"paymentStatus"`
	Amount        int64      `firestore:"amount"`
	Currency      string     `firestore:"currency"`
	CancelReason  *string    `firestore:"cancelReason,omitempty"`
	CancelledAt   *time.Time `firestore:"cancelledAt,omitempty"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
}

func encodeOrderDocument(order domain.Order) orderDocument {
	return orderDocument{
		CustomerID:    strings.TrimSpace(order.CustomerID),
		ShopID:        strings.TrimSpace(order.ShopID),
		RequestID:     trimmedPointer(order.RequestID),
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Amount:        order.Amount,
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		CancelReason:  trimmedPointer(order.CancelReason),
		CancelledAt:   normalizeTimePointer(order.CancelledAt),
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
	}
}

func decodeOrderDocument(id string, doc orderDocument, createdAt, updatedAt time.Time) domain.Order {
	return domain.Order{
		ID:            strings.TrimSpace(id),
		CustomerID:    strings.TrimSpace(doc.CustomerID),
		ShopID:        strings.TrimSpace(doc.ShopID),
		RequestID:     trimmedPointer(doc.RequestID),
		Status:        domain.OrderStatus(strings.TrimSpace(doc.Status)),
		PaymentStatus: domain.OrderPaymentStatus(strings.TrimSpace(doc.PaymentStatus)),
		Amount:        doc.Amount,
		Currency:      strings.ToUpper(strings.TrimSpace(doc.Currency)),
		CancelReason:  trimmedPointer(doc.CancelReason),
		CancelledAt:   normalizeTimePointer(doc.CancelledAt),
		CreatedAt:     chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:     chooseTime(doc.UpdatedAt, updatedAt),
	}
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
