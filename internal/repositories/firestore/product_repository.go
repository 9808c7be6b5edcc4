package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/craftlane/api/internal/domain"
	pfirestore "github.com/craftlane/api/internal/platform/firestore"
	"github.com/craftlane/api/internal/repositories"
)

const productsCollection = "products"

// ProductRepository reads catalog products referenced by customization requests.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &ProductRepository{base: base}, nil
}

// FindByID fetches a single product with its color options.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}

	product := domain.Product{
		ID:        doc.ID,
		Name:      strings.TrimSpace(doc.Data.Name),
		BasePrice: doc.Data.BasePrice,
		Currency:  strings.ToUpper(strings.TrimSpace(doc.Data.Currency)),
	}
	for _, color := range doc.Data.Colors {
		product.Colors = append(product.Colors, domain.ProductColor{
			ID:              strings.TrimSpace(color.ID),
			Name:            strings.TrimSpace(color.Name),
			PriceAdjustment: color.PriceAdjustment,
		})
	}
	return product, nil
}

type productDocument struct {
	Name      string                 `firestore:"name"`
	BasePrice int64                  `firestore:"basePrice"`
	Currency  string                 `firestore:"currency"`
	Colors    []productColorDocument `firestore:"colors,omitempty"`
}

type productColorDocument struct {
	ID              string `firestore:"id"`
	Name            string `firestore:"name"`
	PriceAdjustment int64  `firestore:"priceAdjustment"`
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
