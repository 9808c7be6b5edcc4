package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/craftlane/api/internal/domain"
	pfirestore "github.com/craftlane/api/internal/platform/firestore"
	"github.com/craftlane/api/internal/repositories"
)

const shopsCollection = "printing_shops"

// ShopRepository reads printing shop profiles from Firestore.
type ShopRepository struct {
	base *pfirestore.BaseRepository[shopDocument]
}

// NewShopRepository constructs a Firestore-backed shop repository.
func NewShopRepository(provider *pfirestore.Provider) (*ShopRepository, error) {
	if provider == nil {
		return nil, errors.New("shop repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[shopDocument](provider, shopsCollection, nil, nil)
	return &ShopRepository{base: base}, nil
}

// FindByID fetches a single printing shop profile.
func (r *ShopRepository) FindByID(ctx context.Context, shopID string) (domain.Shop, error) {
	if r == nil || r.base == nil {
		return domain.Shop{}, errors.New("shop repository not initialised")
	}
	shopID = strings.TrimSpace(shopID)
	if shopID == "" {
		return domain.Shop{}, errors.New("shop repository: shop id is required")
	}
	doc, err := r.base.Get(ctx, shopID)
	if err != nil {
		return domain.Shop{}, err
	}
	return decodeShopDocument(doc.ID, doc.Data), nil
}

// FindByUserID locates the shop profile owned by the given user account.
func (r *ShopRepository) FindByUserID(ctx context.Context, userID string) (domain.Shop, error) {
	if r == nil || r.base == nil {
		return domain.Shop{}, errors.New("shop repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Shop{}, errors.New("shop repository: user id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).Limit(1)
	})
	if err != nil {
		return domain.Shop{}, err
	}
	if len(docs) == 0 {
		return domain.Shop{}, pfirestore.WrapError("printing_shops.find_by_user", status.Error(codes.NotFound, "shop not found"))
	}
	return decodeShopDocument(docs[0].ID, docs[0].Data), nil
}

type shopDocument struct {
	UserID string `firestore:"userId"`
	Name   string `firestore:"name"`
}

func decodeShopDocument(id string, doc shopDocument) domain.Shop {
	return domain.Shop{
		ID:     strings.TrimSpace(id),
		UserID: strings.TrimSpace(doc.UserID),
		Name:   strings.TrimSpace(doc.Name),
	}
}

var _ repositories.ShopRepository = (*ShopRepository)(nil)
