package payments

import (
	"context"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type fakeSessionAPI struct{}

func (fakeSessionAPI) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return &stripe.CheckoutSession{ID: "sess_1"}, nil
}

type fakeIntentAPI struct{}

func (fakeIntentAPI) Confirm(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error) {
	return &stripe.PaymentIntent{ID: id}, nil
}

func (fakeIntentAPI) Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error) {
	return &stripe.PaymentIntent{ID: id}, nil
}

func (fakeIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return &stripe.PaymentIntent{ID: id}, nil
}

type fakeRefundAPI struct{}

func (fakeRefundAPI) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	return &stripe.Refund{ID: "re_1"}, nil
}

type fakePaymentMethodAPI struct{}

func (fakePaymentMethodAPI) Get(id string, params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error) {
	return &stripe.PaymentMethod{ID: id}, nil
}

type fakeTransferAPI struct {
	lastParams *stripe.TransferParams
	transfer   *stripe.Transfer
	err        error
}

func (f *fakeTransferAPI) New(params *stripe.TransferParams) (*stripe.Transfer, error) {
	f.lastParams = params
	return f.transfer, f.err
}

func newTestStripeProvider(t *testing.T, transfers *fakeTransferAPI) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		Clock: func() time.Time { return time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC) },
		Clients: &stripeClients{
			sessions:       fakeSessionAPI{},
			intents:        fakeIntentAPI{},
			refunds:        fakeRefundAPI{},
			paymentMethods: fakePaymentMethodAPI{},
			transfers:      transfers,
		},
	})
	if err != nil {
		t.Fatalf("new stripe provider: %v", err)
	}
	return provider
}

func TestStripeInitiateDisbursementCreatesTransfer(t *testing.T) {
	transfers := &fakeTransferAPI{
		transfer: &stripe.Transfer{
			ID:       "tr_123",
			Amount:   48000,
			Currency: stripe.Currency("usd"),
			Created:  time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC).Unix(),
		},
	}
	provider := newTestStripeProvider(t, transfers)

	disbursement, err := provider.InitiateDisbursement(context.Background(), DisbursementRequest{
		ExternalID:     "shop-payout-req-42-1714987800",
		Amount:         48000,
		Currency:       "USD",
		Destination:    "acct_shop",
		Description:    "production payout",
		IdempotencyKey: "shop-payout-req-42-1714987800",
		Metadata:       map[string]string{"requestId": "req-42"},
	})
	if err != nil {
		t.Fatalf("initiate disbursement: %v", err)
	}

	params := transfers.lastParams
	if params == nil {
		t.Fatalf("expected transfer params to be captured")
	}
	if got := stripe.StringValue(params.Destination); got != "acct_shop" {
		t.Fatalf("unexpected destination: %q", got)
	}
	if got := stripe.StringValue(params.Currency); got != "usd" {
		t.Fatalf("expected lowered currency, got %q", got)
	}
	if got := stripe.StringValue(params.TransferGroup); got != "shop-payout-req-42-1714987800" {
		t.Fatalf("unexpected transfer group: %q", got)
	}
	if params.Metadata["externalId"] != "shop-payout-req-42-1714987800" {
		t.Fatalf("expected external id in metadata, got %v", params.Metadata)
	}
	if params.Metadata["requestId"] != "req-42" {
		t.Fatalf("expected caller metadata to survive, got %v", params.Metadata)
	}

	if disbursement.ID != "tr_123" {
		t.Fatalf("unexpected transfer id: %q", disbursement.ID)
	}
	if disbursement.Currency != "USD" {
		t.Fatalf("expected uppercased currency, got %q", disbursement.Currency)
	}
	if !disbursement.CreatedAt.Equal(time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected createdAt: %v", disbursement.CreatedAt)
	}
}

func TestStripeInitiateDisbursementValidatesInput(t *testing.T) {
	provider := newTestStripeProvider(t, &fakeTransferAPI{transfer: &stripe.Transfer{ID: "tr_1"}})

	if _, err := provider.InitiateDisbursement(context.Background(), DisbursementRequest{Amount: 100}); err == nil {
		t.Fatalf("expected error for missing destination")
	}
	if _, err := provider.InitiateDisbursement(context.Background(), DisbursementRequest{Destination: "acct_1"}); err == nil {
		t.Fatalf("expected error for non-positive amount")
	}
}
