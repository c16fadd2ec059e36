package checkout

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-backend/internal/cart"
	"github.com/angelmondragon/settlement-backend/internal/pricing"
	"github.com/angelmondragon/settlement-backend/pkg/config"
	"github.com/angelmondragon/settlement-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/settlement-backend/pkg/errors"
	"github.com/angelmondragon/settlement-backend/pkg/logger"
	"github.com/angelmondragon/settlement-backend/pkg/paymob"
	"github.com/angelmondragon/settlement-backend/pkg/types"
)

type stubCart struct {
	entries []cart.Entry
	err     error
}

func (s stubCart) Entries(context.Context, uuid.UUID) ([]cart.Entry, error) {
	return s.entries, s.err
}

type stubBuyers struct {
	user *models.User
}

func (s stubBuyers) FindByID(context.Context, uuid.UUID) (*models.User, error) {
	if s.user == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.user, nil
}

type stubCatalog map[uuid.UUID]models.Product

func (s stubCatalog) Get(_ context.Context, id uuid.UUID) (*models.Product, error) {
	p, ok := s[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return &p, nil
}

type fakeGateway struct {
	calls      []string
	authErr    error
	orderErr   error
	keyErr     error
	orderReq   paymob.OrderRequest
	keyReq     paymob.PaymentKeyRequest
	authTokens []string
}

func (f *fakeGateway) Authenticate(context.Context) (string, error) {
	f.calls = append(f.calls, paymob.StepAuthenticate)
	if f.authErr != nil {
		return "", f.authErr
	}
	return "auth-secret", nil
}

func (f *fakeGateway) RegisterOrder(_ context.Context, authToken string, req paymob.OrderRequest) (string, error) {
	f.calls = append(f.calls, paymob.StepRegisterOrder)
	f.authTokens = append(f.authTokens, authToken)
	f.orderReq = req
	if f.orderErr != nil {
		return "", f.orderErr
	}
	return "98765", nil
}

func (f *fakeGateway) IssuePaymentKey(_ context.Context, authToken string, req paymob.PaymentKeyRequest) (string, error) {
	f.calls = append(f.calls, paymob.StepPaymentKey)
	f.authTokens = append(f.authTokens, authToken)
	f.keyReq = req
	if f.keyErr != nil {
		return "", f.keyErr
	}
	return "pay-token", nil
}

func (f *fakeGateway) IframeURL(token string) string {
	return "https://iframe.test/1?payment_token=" + token
}

func (f *fakeGateway) KeyExpiration() time.Duration {
	return time.Hour
}

type fixture struct {
	svc     *service
	gateway *fakeGateway
	product models.Product
}

func completeBuyer() *models.User {
	phone := "+201000000001"
	return &models.User{
		ID:        uuid.New(),
		Email:     "buyer@example.com",
		FirstName: "Mona",
		LastName:  "Adel",
		Phone:     &phone,
		Address:   &types.ShippingAddress{Street: "12 Nile St", City: "Cairo", Country: "EG"},
	}
}

func newFixture(t *testing.T, buyer *models.User, opts Options, qty int) fixture {
	t.Helper()
	product := models.Product{ID: uuid.New(), Name: "Hoodie", PriceCents: 10000, CountInStock: 10}
	engine, err := pricing.NewEngine(config.PricingConfig{
		TaxRate:                    "0.14",
		FreeShippingThresholdCents: 10000,
		FlatShippingCents:          1000,
		Currency:                   "EGP",
	}, stubCatalog{product.ID: product})
	if err != nil {
		t.Fatalf("pricing engine: %v", err)
	}
	var entries []cart.Entry
	if qty > 0 {
		// The snapshot price is stale on purpose; checkout must ignore it.
		entries = []cart.Entry{{ProductID: product.ID, Size: "M", Quantity: qty, UnitPriceCents: 1, Name: "Hoodie"}}
	}
	gw := &fakeGateway{}
	logg := logger.New(logger.Options{ServiceName: "checkout-test", Output: io.Discard})
	svc, err := NewService(stubCart{entries: entries}, stubBuyers{user: buyer}, engine, gw, nil, logg, opts)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	s := svc.(*service)
	s.now = func() time.Time { return time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC) }
	return fixture{svc: s, gateway: gw, product: product}
}

func TestInitiateRegistersAuthoritativeTotal(t *testing.T) {
	buyer := completeBuyer()
	f := newFixture(t, buyer, Options{}, 2)

	res, err := f.svc.Initiate(context.Background(), buyer.ID, InitiateInput{})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if res.AmountCents != 22800 || res.Breakdown.TaxCents != 2800 || res.Breakdown.ShippingCents != 0 {
		t.Fatalf("unexpected amounts %+v", res)
	}
	if f.gateway.orderReq.AmountCents != res.AmountCents || f.gateway.keyReq.AmountCents != res.AmountCents {
		t.Fatalf("registered amount %d / key amount %d differ from quote %d",
			f.gateway.orderReq.AmountCents, f.gateway.keyReq.AmountCents, res.AmountCents)
	}
	if got := f.gateway.orderReq.Items[0]; got.AmountCents != 10000 || got.Quantity != 2 || got.Description != "Hoodie (M)" {
		t.Fatalf("unexpected gateway item %+v", got)
	}
	if f.gateway.keyReq.OrderID != "98765" || res.ProviderOrderID != "98765" {
		t.Fatalf("provider order id not threaded through")
	}
	if res.IframeURL != "https://iframe.test/1?payment_token=pay-token" || res.PaymentToken != "pay-token" {
		t.Fatalf("unexpected iframe result %+v", res)
	}
	if !res.ExpiresAt.Equal(time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected expiry %v", res.ExpiresAt)
	}
	for _, tok := range f.gateway.authTokens {
		if tok != "auth-secret" {
			t.Fatalf("auth token not reused across steps")
		}
	}
	billing := f.gateway.keyReq.Billing
	if billing.Apartment != "NA" || billing.City != "Cairo" || billing.ShippingMethod != "PKG" {
		t.Fatalf("unexpected billing %+v", billing)
	}
}

func TestInitiateEmptyCartMakesNoGatewayCalls(t *testing.T) {
	buyer := completeBuyer()
	f := newFixture(t, buyer, Options{}, 0)

	_, err := f.svc.Initiate(context.Background(), buyer.ID, InitiateInput{})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if details := typed.Details().(map[string]any); details["reason"] != "empty_cart" {
		t.Fatalf("unexpected details %v", details)
	}
	if len(f.gateway.calls) != 0 {
		t.Fatalf("expected zero gateway calls, got %v", f.gateway.calls)
	}
}

func TestInitiateRequiresBuyer(t *testing.T) {
	f := newFixture(t, nil, Options{}, 1)

	_, err := f.svc.Initiate(context.Background(), uuid.New(), InitiateInput{})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	_, err = f.svc.Initiate(context.Background(), uuid.Nil, InitiateInput{})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized for nil buyer, got %v", err)
	}
	if len(f.gateway.calls) != 0 {
		t.Fatalf("expected zero gateway calls")
	}
}

func TestInitiateRejectsIncompleteBillingUnlessDefaultsAllowed(t *testing.T) {
	buyer := completeBuyer()
	buyer.Phone = nil
	buyer.Address = nil

	f := newFixture(t, buyer, Options{}, 1)
	_, err := f.svc.Initiate(context.Background(), buyer.ID, InitiateInput{})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	missing := typed.Details().(map[string]any)["missing_fields"].([]string)
	if len(missing) != 4 || missing[0] != "phone_number" {
		t.Fatalf("unexpected missing fields %v", missing)
	}
	if len(f.gateway.calls) != 0 {
		t.Fatalf("billing must be validated before any gateway call")
	}

	lenient := newFixture(t, buyer, Options{AllowBillingDefaults: true}, 1)
	if _, err := lenient.svc.Initiate(context.Background(), buyer.ID, InitiateInput{}); err != nil {
		t.Fatalf("expected defaults to fill gaps: %v", err)
	}
	if lenient.gateway.keyReq.Billing.PhoneNumber != "NA" {
		t.Fatalf("expected NA phone, got %q", lenient.gateway.keyReq.Billing.PhoneNumber)
	}

	override := newFixture(t, buyer, Options{}, 1)
	buyerWithPhone := *buyer
	phone := "+20111"
	buyerWithPhone.Phone = &phone
	override.svc.buyers = stubBuyers{user: &buyerWithPhone}
	_, err = override.svc.Initiate(context.Background(), buyer.ID, InitiateInput{
		ShippingAddress: &types.ShippingAddress{Street: "1 Tahrir", City: "Giza", Country: "EG"},
	})
	if err != nil {
		t.Fatalf("expected request address to complete the profile: %v", err)
	}
}

func TestInitiateStepFailuresCarryRetryDetails(t *testing.T) {
	buyer := completeBuyer()

	cases := []struct {
		name     string
		setup    func(*fakeGateway)
		code     pkgerrors.Code
		calls    int
		mayExist bool
		orderID  any
	}{
		{
			name:     "auth",
			setup:    func(g *fakeGateway) { g.authErr = errors.New("dial tcp: refused") },
			code:     pkgerrors.CodeGatewayAuth,
			calls:    1,
			mayExist: false,
		},
		{
			name: "order rejected",
			setup: func(g *fakeGateway) {
				g.orderErr = pkgerrors.New(pkgerrors.CodeGatewayOrder, "paymob register_order failed").
					WithDetails(map[string]any{"provider_status": 400, "provider_message": "bad items"})
			},
			code:     pkgerrors.CodeGatewayOrder,
			calls:    2,
			mayExist: false,
		},
		{
			name:     "order timeout",
			setup:    func(g *fakeGateway) { g.orderErr = context.DeadlineExceeded },
			code:     pkgerrors.CodeGatewayOrder,
			calls:    2,
			mayExist: true,
		},
		{
			name:     "key",
			setup:    func(g *fakeGateway) { g.keyErr = errors.New("502") },
			code:     pkgerrors.CodeGatewayKey,
			calls:    3,
			mayExist: true,
			orderID:  "98765",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, buyer, Options{}, 1)
			tc.setup(f.gateway)

			_, err := f.svc.Initiate(context.Background(), buyer.ID, InitiateInput{})
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
			if len(f.gateway.calls) != tc.calls {
				t.Fatalf("expected %d calls, got %v", tc.calls, f.gateway.calls)
			}
			details := typed.Details().(map[string]any)
			if details["charged"] != false || details["provider_order_may_exist"] != tc.mayExist {
				t.Fatalf("unexpected details %v", details)
			}
			if details["provider_order_id"] != tc.orderID {
				t.Fatalf("unexpected provider order id %v", details["provider_order_id"])
			}
		})
	}
}

func TestInitiateRejectsOversoldCartBeforeGateway(t *testing.T) {
	buyer := completeBuyer()
	f := newFixture(t, buyer, Options{}, 11)

	_, err := f.svc.Initiate(context.Background(), buyer.ID, InitiateInput{})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(f.gateway.calls) != 0 {
		t.Fatalf("expected zero gateway calls")
	}
}
