package firestore

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/craftlane/api/internal/platform/firestore"
	"github.com/craftlane/api/internal/repositories"
)

const usersCollection = "users"

// PayoutAccountRepository resolves gateway account references for disbursement
// destinations. Designers store theirs on the user profile, shops on the
// printing shop document.
type PayoutAccountRepository struct {
	users *pfirestore.BaseRepository[payoutAccountDocument]
	shops *pfirestore.BaseRepository[payoutAccountDocument]
}

// NewPayoutAccountRepository constructs a Firestore-backed payout account repository.
func NewPayoutAccountRepository(provider *pfirestore.Provider) (*PayoutAccountRepository, error) {
	if provider == nil {
		return nil, errors.New("payout account repository: firestore provider is required")
	}
	return &PayoutAccountRepository{
		users: pfirestore.NewBaseRepository[payoutAccountDocument](provider, usersCollection, nil, nil),
		shops: pfirestore.NewBaseRepository[payoutAccountDocument](provider, shopsCollection, nil, nil),
	}, nil
}

// DesignerAccount returns the gateway account reference for a designer.
func (r *PayoutAccountRepository) DesignerAccount(ctx context.Context, designerID string) (string, error) {
	if r == nil || r.users == nil {
		return "", errors.New("payout account repository not initialised")
	}
	return lookupPayoutAccount(ctx, r.users, "users.payout_account", designerID)
}

// ShopAccount returns the gateway account reference for a printing shop.
func (r *PayoutAccountRepository) ShopAccount(ctx context.Context, shopID string) (string, error) {
	if r == nil || r.shops == nil {
		return "", errors.New("payout account repository not initialised")
	}
	return lookupPayoutAccount(ctx, r.shops, "printing_shops.payout_account", shopID)
}

func lookupPayoutAccount(ctx context.Context, base *pfirestore.BaseRepository[payoutAccountDocument], op, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("payout account repository: id is required")
	}
	doc, err := base.Get(ctx, id)
	if err != nil {
		return "", err
	}
	account := strings.TrimSpace(doc.Data.PayoutAccount)
	if account == "" {
		return "", pfirestore.WrapError(op, status.Error(codes.NotFound, "payout account not configured"))
	}
	return account, nil
}

type payoutAccountDocument struct {
	PayoutAccount string `firestore:"payoutAccount"`
}

var _ repositories.PayoutAccountRepository = (*PayoutAccountRepository)(nil)
