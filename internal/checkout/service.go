// Package checkout opens a payment attempt with the gateway for the buyer's
// staged cart. Nothing is persisted locally until settlement.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-backend/internal/cart"
	"github.com/angelmondragon/settlement-backend/internal/pricing"
	pkgcheckout "github.com/angelmondragon/settlement-backend/pkg/checkout"
	"github.com/angelmondragon/settlement-backend/pkg/db"
	"github.com/angelmondragon/settlement-backend/pkg/db/models"
	"github.com/angelmondragon/settlement-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-backend/pkg/errors"
	"github.com/angelmondragon/settlement-backend/pkg/logger"
	"github.com/angelmondragon/settlement-backend/pkg/paymob"
	"github.com/angelmondragon/settlement-backend/pkg/types"
)

// billingDefault fills optional billing fields, and required ones only when
// defaults are explicitly allowed.
const billingDefault = "NA"

// Gateway is the hosted payment provider.
type Gateway interface {
	Authenticate(ctx context.Context) (string, error)
	RegisterOrder(ctx context.Context, authToken string, req paymob.OrderRequest) (string, error)
	IssuePaymentKey(ctx context.Context, authToken string, req paymob.PaymentKeyRequest) (string, error)
	IframeURL(paymentToken string) string
	KeyExpiration() time.Duration
}

type cartReader interface {
	Entries(ctx context.Context, buyerID uuid.UUID) ([]cart.Entry, error)
}

type buyerLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type quoter interface {
	Quote(ctx context.Context, lines []pricing.Line) (*pricing.Quote, error)
	Currency() enums.Currency
}

type stepObserver interface {
	ObserveStep(step string, err error, duration time.Duration)
}

// Service opens payment attempts.
type Service interface {
	Initiate(ctx context.Context, buyerID uuid.UUID, input InitiateInput) (*InitiateResult, error)
}

// InitiateInput carries optional overrides for the buyer's stored profile.
type InitiateInput struct {
	ShippingAddress *types.ShippingAddress
}

// InitiateResult is everything the client needs to load the hosted payment
// page. The provider auth token never leaves this package.
type InitiateResult struct {
	PaymentToken    string               `json:"payment_token"`
	IframeURL       string               `json:"iframe_url"`
	ProviderOrderID string               `json:"provider_order_id"`
	AmountCents     int64                `json:"amount_cents"`
	Currency        enums.Currency       `json:"currency"`
	ExpiresAt       time.Time            `json:"expires_at"`
	Breakdown       pricing.Breakdown    `json:"breakdown"`
	Lines           []pricing.QuotedLine `json:"lines"`
}

// Options toggles billing behaviour.
type Options struct {
	AllowBillingDefaults bool
	ShippingMethod       string
}

type service struct {
	cart    cartReader
	buyers  buyerLoader
	pricing quoter
	gateway Gateway
	metrics stepObserver
	logg    *logger.Logger
	opts    Options
	now     func() time.Time
}

// NewService builds the checkout service. metrics may be nil.
func NewService(carts cartReader, buyers buyerLoader, quotes quoter, gateway Gateway, metrics stepObserver, logg *logger.Logger, opts Options) (Service, error) {
	if carts == nil {
		return nil, fmt.Errorf("cart reader required")
	}
	if buyers == nil {
		return nil, fmt.Errorf("buyer loader required")
	}
	if quotes == nil {
		return nil, fmt.Errorf("pricing engine required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(opts.ShippingMethod) == "" {
		opts.ShippingMethod = "PKG"
	}
	return &service{
		cart:    carts,
		buyers:  buyers,
		pricing: quotes,
		gateway: gateway,
		metrics: metrics,
		logg:    logg,
		opts:    opts,
		now:     time.Now,
	}, nil
}

func (s *service) Initiate(ctx context.Context, buyerID uuid.UUID, input InitiateInput) (*InitiateResult, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer required")
	}
	entries, err := s.cart.Entries(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, pkgcheckout.EmptyCartError()
	}

	buyer, err := s.buyers.FindByID(ctx, buyerID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load buyer")
	}
	address := buyer.Address
	if input.ShippingAddress != nil {
		address = input.ShippingAddress
	}
	billing, err := s.billingData(buyer, address)
	if err != nil {
		return nil, err
	}

	lines := make([]pricing.Line, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, pricing.Line{ProductID: e.ProductID, Size: e.Size, Color: e.Color, Quantity: e.Quantity})
	}
	quote, err := s.pricing.Quote(ctx, lines)
	if err != nil {
		return nil, err
	}
	currency := s.pricing.Currency()
	amount := quote.Breakdown.TotalCents

	ctx = s.logg.WithUserID(ctx, buyerID.String())

	var authToken string
	err = s.step(ctx, paymob.StepAuthenticate, func() error {
		var stepErr error
		authToken, stepErr = s.gateway.Authenticate(ctx)
		return stepErr
	})
	if err != nil {
		return nil, s.stepFailure(ctx, err, paymob.StepAuthenticate, "")
	}

	var providerOrderID string
	err = s.step(ctx, paymob.StepRegisterOrder, func() error {
		var stepErr error
		providerOrderID, stepErr = s.gateway.RegisterOrder(ctx, authToken, paymob.OrderRequest{
			AmountCents: amount,
			Currency:    currency.String(),
			Items:       gatewayItems(quote.Lines),
		})
		return stepErr
	})
	if err != nil {
		return nil, s.stepFailure(ctx, err, paymob.StepRegisterOrder, "")
	}

	var paymentToken string
	err = s.step(ctx, paymob.StepPaymentKey, func() error {
		var stepErr error
		paymentToken, stepErr = s.gateway.IssuePaymentKey(ctx, authToken, paymob.PaymentKeyRequest{
			AmountCents: amount,
			Currency:    currency.String(),
			OrderID:     providerOrderID,
			Billing:     billing,
		})
		return stepErr
	})
	if err != nil {
		return nil, s.stepFailure(ctx, err, paymob.StepPaymentKey, providerOrderID)
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"provider_order_id": providerOrderID,
		"amount_cents":      amount,
	})
	s.logg.Info(logCtx, "checkout initiated")

	return &InitiateResult{
		PaymentToken:    paymentToken,
		IframeURL:       s.gateway.IframeURL(paymentToken),
		ProviderOrderID: providerOrderID,
		AmountCents:     amount,
		Currency:        currency,
		ExpiresAt:       s.now().UTC().Add(s.gateway.KeyExpiration()),
		Breakdown:       quote.Breakdown,
		Lines:           quote.Lines,
	}, nil
}

func (s *service) step(ctx context.Context, name string, fn func() error) error {
	started := time.Now()
	err := fn()
	if s.metrics != nil {
		s.metrics.ObserveStep(name, err, time.Since(started))
	}
	return err
}

var stepCodes = map[string]pkgerrors.Code{
	paymob.StepAuthenticate:  pkgerrors.CodeGatewayAuth,
	paymob.StepRegisterOrder: pkgerrors.CodeGatewayOrder,
	paymob.StepPaymentKey:    pkgerrors.CodeGatewayKey,
}

// stepFailure tags a gateway error with what the caller needs to decide on a
// retry: the step, that nothing was charged and whether a provider order may
// already exist.
func (s *service) stepFailure(ctx context.Context, err error, step, providerOrderID string) error {
	code := stepCodes[step]
	message := pkgerrors.MetadataFor(code).PublicMessage
	details := map[string]any{}
	if typed := pkgerrors.As(err); typed != nil {
		if existing, ok := typed.Details().(map[string]any); ok {
			for k, v := range existing {
				details[k] = v
			}
		}
		if typed.Code() == code {
			message = typed.Message()
		}
	}
	_, answered := details["provider_status"]
	details["step"] = step
	details["charged"] = false
	switch step {
	case paymob.StepPaymentKey:
		details["provider_order_may_exist"] = true
		details["provider_order_id"] = providerOrderID
	case paymob.StepRegisterOrder:
		details["provider_order_may_exist"] = !answered
	default:
		details["provider_order_may_exist"] = false
	}

	s.logg.Error(s.logg.WithField(ctx, "step", step), "gateway step failed", err)
	return pkgerrors.Wrap(code, err, message).WithDetails(details)
}

func (s *service) billingData(buyer *models.User, address *types.ShippingAddress) (paymob.BillingData, error) {
	addr := types.ShippingAddress{}
	if address != nil {
		addr = *address
	}
	phone := ""
	if buyer.Phone != nil {
		phone = *buyer.Phone
	}
	required := []pkgcheckout.BillingField{
		{Name: "first_name", Value: buyer.FirstName},
		{Name: "last_name", Value: buyer.LastName},
		{Name: "email", Value: buyer.Email},
		{Name: "phone_number", Value: phone},
		{Name: "address.street", Value: addr.Street},
		{Name: "address.city", Value: addr.City},
		{Name: "address.country", Value: addr.Country},
	}
	if !s.opts.AllowBillingDefaults {
		if err := pkgcheckout.ValidateBillingProfile(required); err != nil {
			return paymob.BillingData{}, err
		}
	}
	return paymob.BillingData{
		Apartment:      orDefault(addr.Apartment),
		Email:          orDefault(buyer.Email),
		Floor:          orDefault(addr.Floor),
		FirstName:      orDefault(buyer.FirstName),
		Street:         orDefault(addr.Street),
		Building:       orDefault(addr.Building),
		PhoneNumber:    orDefault(phone),
		ShippingMethod: s.opts.ShippingMethod,
		PostalCode:     orDefault(addr.PostalCode),
		City:           orDefault(addr.City),
		Country:        orDefault(addr.Country),
		LastName:       orDefault(buyer.LastName),
		State:          orDefault(addr.State),
	}, nil
}

func gatewayItems(lines []pricing.QuotedLine) []paymob.OrderItem {
	items := make([]paymob.OrderItem, 0, len(lines))
	for _, l := range lines {
		description := l.Name
		if variant := strings.TrimSpace(strings.Join([]string{l.Size, l.Color}, " ")); variant != "" {
			description = fmt.Sprintf("%s (%s)", l.Name, variant)
		}
		items = append(items, paymob.OrderItem{
			Name:        l.Name,
			AmountCents: l.UnitPriceCents,
			Description: description,
			Quantity:    l.Quantity,
		})
	}
	return items
}

func orDefault(value string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return billingDefault
}
