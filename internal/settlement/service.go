// Package settlement turns a successful gateway redirect into exactly one
// persisted order built from the buyer's still-staged cart.
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/settlement-backend/internal/cart"
	"github.com/angelmondragon/settlement-backend/internal/orders"
	"github.com/angelmondragon/settlement-backend/internal/pricing"
	"github.com/angelmondragon/settlement-backend/pkg/db"
	"github.com/angelmondragon/settlement-backend/pkg/db/models"
	"github.com/angelmondragon/settlement-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-backend/pkg/errors"
	"github.com/angelmondragon/settlement-backend/pkg/logger"
	"github.com/angelmondragon/settlement-backend/pkg/paymob"
	pkgredis "github.com/angelmondragon/settlement-backend/pkg/redis"
	"github.com/angelmondragon/settlement-backend/pkg/types"
)

const lockScope = "settlement"

// Reasons attached to captured payments that could not be settled normally.
const (
	reasonUnpriceable      = "cart_unpriceable"
	reasonBuyerUnavailable = "buyer_unavailable"
)

type cartStore interface {
	Entries(ctx context.Context, buyerID uuid.UUID) ([]cart.Entry, error)
	Clear(ctx context.Context, buyerID uuid.UUID) error
}

type quoter interface {
	Reprice(ctx context.Context, lines []pricing.Line) (*pricing.Quote, error)
	Estimate(lines []pricing.PricedLine) pricing.Breakdown
}

type buyerLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type orderWriter interface {
	Create(ctx context.Context, order *models.Order) (uuid.UUID, error)
	CreatePaid(ctx context.Context, order *models.Order, payment orders.Payment) (*models.Order, error)
	CreateMismatched(ctx context.Context, order *models.Order, payment orders.Payment) (*models.Order, error)
	CreateForReconciliation(ctx context.Context, order *models.Order, payment orders.Payment, reason string) (*models.Order, error)
	FindByProviderTransactionID(ctx context.Context, txnID string) (*models.Order, error)
}

type lockStore interface {
	pkgredis.LockStore
	LockKey(scope, id string) string
}

type outcomeRecorder interface {
	IncOutcome(state, source string)
}

// Outcome is the terminal result of one redirect.
type Outcome struct {
	State                 enums.SettlementState `json:"state"`
	ProviderTransactionID string                `json:"provider_transaction_id,omitempty"`
	OrderID               *uuid.UUID            `json:"order_id,omitempty"`
	IsPaid                bool                  `json:"is_paid"`
	TotalCents            int64                 `json:"total_cents,omitempty"`
	Currency              enums.Currency        `json:"currency,omitempty"`
}

// Options configures confirmation behaviour.
type Options struct {
	// WebhookConfirmation leaves orders pending until the signed webhook arrives.
	WebhookConfirmation bool
	RequireSignature    bool
	HMACSecret          string
	LockTTL             time.Duration
	LatchTTL            time.Duration
}

// Params wires the reconciler.
type Params struct {
	Carts   cartStore
	Quotes  quoter
	Buyers  buyerLoader
	Orders  orderWriter
	Locks   lockStore
	Metrics outcomeRecorder
	Logger  *logger.Logger
	Options Options
}

// Reconciler consumes redirect callbacks.
type Reconciler struct {
	carts   cartStore
	quotes  quoter
	buyers  buyerLoader
	orders  orderWriter
	locks   lockStore
	metrics outcomeRecorder
	logg    *logger.Logger
	opts    Options
	latch   *latch
}

// NewReconciler validates the dependencies.
func NewReconciler(p Params) (*Reconciler, error) {
	switch {
	case p.Carts == nil:
		return nil, fmt.Errorf("cart store required")
	case p.Quotes == nil:
		return nil, fmt.Errorf("pricing engine required")
	case p.Buyers == nil:
		return nil, fmt.Errorf("buyer loader required")
	case p.Orders == nil:
		return nil, fmt.Errorf("order store required")
	case p.Locks == nil:
		return nil, fmt.Errorf("lock store required")
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	if p.Options.RequireSignature && p.Options.HMACSecret == "" {
		return nil, fmt.Errorf("hmac secret required when redirect signatures are enforced")
	}
	return &Reconciler{
		carts:   p.Carts,
		quotes:  p.Quotes,
		buyers:  p.Buyers,
		orders:  p.Orders,
		locks:   p.Locks,
		metrics: p.Metrics,
		logg:    p.Logger,
		opts:    p.Options,
		latch:   newLatch(p.Options.LatchTTL),
	}, nil
}

// Reconcile settles one redirect. A nil error always comes with a terminal
// outcome; MATERIALIZATION_FAILED is reported as a RECONCILIATION_FAILED error.
func (r *Reconciler) Reconcile(ctx context.Context, buyerID uuid.UUID, cb Callback) (out *Outcome, err error) {
	txn := cb.ProviderTransactionID
	ctx = r.logg.WithTransactionID(ctx, txn)

	if r.opts.RequireSignature && !paymob.Verify(r.opts.HMACSecret, cb.Values, cb.Signature) {
		r.logg.Warn(ctx, "settlement.callback.signature_rejected")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid callback signature").
			WithDetails(map[string]any{"reason": "invalid_signature"})
	}

	a := newAttempt()
	base := &Outcome{ProviderTransactionID: txn}
	if !cb.Success {
		r.logg.Info(ctx, "settlement.callback.declined")
		return r.conclude(a, enums.SettlementDeclined, base)
	}
	if err := a.advance(enums.SettlementSucceeded); err != nil {
		return nil, err
	}
	if buyerID == uuid.Nil {
		return r.conclude(a, enums.SettlementAlreadyProcessed, base)
	}
	ctx = r.logg.WithUserID(ctx, buyerID.String())

	if !r.latch.claim(txn) {
		r.logg.Info(ctx, "settlement.callback.latched")
		return r.conclude(a, enums.SettlementAlreadyProcessed, base)
	}
	defer func() {
		if err != nil {
			r.latch.release(txn)
		}
	}()

	lock, err := pkgredis.NewLock(r.locks, r.locks.LockKey(lockScope, txn), r.opts.LockTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build settlement lock")
	}
	acquired, lockErr := lock.Acquire(ctx)
	switch {
	case lockErr != nil:
		// The unique index still guarantees one order per transaction.
		r.logg.Error(ctx, "settlement.lock.unavailable", lockErr)
	case !acquired:
		r.latch.release(txn)
		r.logg.Info(ctx, "settlement.lock.contended")
		return r.conclude(a, enums.SettlementAlreadyProcessed, base)
	default:
		defer func() {
			if relErr := lock.Release(context.WithoutCancel(ctx)); relErr != nil {
				r.logg.Error(ctx, "settlement.lock.release_failed", relErr)
			}
		}()
	}

	existing, err := r.orders.FindByProviderTransactionID(ctx, txn)
	switch {
	case err == nil:
		if existing.BuyerID != buyerID {
			// Another buyer's order is reported exactly like an unknown one.
			r.logg.Warn(ctx, "settlement.callback.foreign_transaction")
			return r.conclude(a, enums.SettlementAlreadyProcessed, base)
		}
		if existing.IsPaid {
			r.clearCart(ctx, buyerID)
		}
		return r.conclude(a, enums.SettlementAlreadyProcessed, outcomeFor(existing, txn))
	case !isCode(err, pkgerrors.CodeNotFound):
		return nil, dependency(err, "look up settled order")
	}

	entries, err := r.carts.Entries(ctx, buyerID)
	if err != nil {
		return nil, dependency(err, "load cart")
	}
	if len(entries) == 0 {
		return r.conclude(a, enums.SettlementAlreadyProcessed, base)
	}

	if err := a.advance(enums.SettlementOrderMaterializing); err != nil {
		return nil, err
	}

	payment := orders.Payment{
		ProviderTransactionID: txn,
		AmountCents:           cb.AmountCents,
		Source:                orders.SourceRedirect,
	}
	address, err := r.shippingAddress(ctx, buyerID)
	if err != nil {
		return nil, r.hold(ctx, a, r.snapshotOrder(buyerID, cb, entries, address), payment, reasonBuyerUnavailable, "load buyer", err)
	}
	quote, err := r.quotes.Reprice(ctx, linesFrom(entries))
	if err != nil {
		return nil, r.hold(ctx, a, r.snapshotOrder(buyerID, cb, entries, address), payment, reasonUnpriceable, "price cart", err)
	}
	order := buildOrder(buyerID, cb, quote, address)

	if cb.AmountCents != quote.TotalCents {
		return nil, r.mismatch(ctx, a, order, payment)
	}

	target := enums.SettlementSettled
	if r.opts.WebhookConfirmation {
		target = enums.SettlementPendingConfirmation
		order.ProviderTransactionID = &txn
		order.PaymentResult = &types.PaymentResult{
			ProviderTransactionID: txn,
			Status:                enums.PaymentStatusPendingConfirmation,
			AmountCents:           cb.AmountCents,
			Source:                orders.SourceRedirect,
		}
		_, err = r.orders.Create(ctx, order)
	} else {
		order, err = r.orders.CreatePaid(ctx, order, payment)
	}
	if err != nil {
		if isCode(err, pkgerrors.CodeConflict) {
			r.logg.Info(ctx, "settlement.order.raced")
			return r.conclude(a, enums.SettlementAlreadyProcessed, base)
		}
		return nil, r.fail(ctx, a, txn, "persist order", err)
	}

	ctx = r.logg.WithOrderID(ctx, order.ID.String())
	r.clearCart(ctx, buyerID)
	r.logg.Info(ctx, "settlement.order.materialized")
	return r.conclude(a, target, outcomeFor(order, txn))
}

func (r *Reconciler) conclude(a *attempt, to enums.SettlementState, out *Outcome) (*Outcome, error) {
	if err := a.advance(to); err != nil {
		return nil, err
	}
	out.State = to
	r.record(to)
	return out, nil
}

func (r *Reconciler) record(state enums.SettlementState) {
	if r.metrics != nil {
		r.metrics.IncOutcome(state.String(), orders.SourceRedirect)
	}
}

// fail marks the attempt MATERIALIZATION_FAILED. The buyer has been charged,
// so the error carries what support needs to find the payment.
func (r *Reconciler) fail(ctx context.Context, a *attempt, txn, action string, cause error) error {
	if err := a.advance(enums.SettlementMaterializationFailed); err != nil {
		return err
	}
	r.record(a.state)
	r.logg.Error(ctx, "settlement.order.materialization_failed", cause)
	return pkgerrors.Wrap(pkgerrors.CodeReconciliation, cause, action).WithDetails(map[string]any{
		"state":                   a.state.String(),
		"provider_transaction_id": txn,
		"support_message":         supportMessage(txn),
	})
}

// hold persists a charged cart that cannot be settled as an unpaid order
// flagged for support. Only when that write fails too is the payment left to
// the error details alone.
func (r *Reconciler) hold(ctx context.Context, a *attempt, order *models.Order, payment orders.Payment, reason, action string, cause error) error {
	txn := payment.ProviderTransactionID
	saved, err := r.orders.CreateForReconciliation(ctx, order, payment, reason)
	if err != nil {
		if isCode(err, pkgerrors.CodeConflict) {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "transaction already recorded")
		}
		return r.fail(ctx, a, txn, action, multierr.Append(cause, err))
	}
	if err := a.advance(enums.SettlementMaterializationFailed); err != nil {
		return err
	}
	r.record(a.state)
	r.logg.Error(r.logg.WithFields(ctx, map[string]any{
		"order_id": saved.ID.String(),
		"reason":   reason,
	}), "settlement.order.held_for_reconciliation", cause)
	return pkgerrors.Wrap(pkgerrors.CodeReconciliation, cause, action).WithDetails(map[string]any{
		"state":                   a.state.String(),
		"reason":                  reason,
		"order_id":                saved.ID.String(),
		"provider_transaction_id": txn,
		"support_message":         supportMessage(txn),
	})
}

func (r *Reconciler) mismatch(ctx context.Context, a *attempt, order *models.Order, payment orders.Payment) error {
	expected := order.TotalPriceCents
	saved, err := r.orders.CreateMismatched(ctx, order, payment)
	if err != nil {
		if isCode(err, pkgerrors.CodeConflict) {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "transaction already recorded")
		}
		return r.fail(ctx, a, payment.ProviderTransactionID, "record amount mismatch", err)
	}
	if err := a.advance(enums.SettlementMaterializationFailed); err != nil {
		return err
	}
	r.record(a.state)
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"order_id":       saved.ID.String(),
		"expected_cents": expected,
		"observed_cents": payment.AmountCents,
	}), "settlement.order.amount_mismatch")
	return pkgerrors.New(pkgerrors.CodeReconciliation, "paid amount does not match the order total").WithDetails(map[string]any{
		"state":                   a.state.String(),
		"reason":                  string(enums.PaymentStatusAmountMismatch),
		"order_id":                saved.ID.String(),
		"expected_cents":          expected,
		"observed_cents":          payment.AmountCents,
		"provider_transaction_id": payment.ProviderTransactionID,
		"support_message":         supportMessage(payment.ProviderTransactionID),
	})
}

func (r *Reconciler) clearCart(ctx context.Context, buyerID uuid.UUID) {
	if err := r.carts.Clear(ctx, buyerID); err != nil {
		r.logg.Error(ctx, "settlement.cart.clear_failed", err)
	}
}

func (r *Reconciler) shippingAddress(ctx context.Context, buyerID uuid.UUID) (types.ShippingAddress, error) {
	buyer, err := r.buyers.FindByID(ctx, buyerID)
	if err != nil {
		if db.IsNotFound(err) {
			return types.ShippingAddress{}, nil
		}
		return types.ShippingAddress{}, err
	}
	if buyer.Address == nil {
		return types.ShippingAddress{}, nil
	}
	return *buyer.Address, nil
}

func linesFrom(entries []cart.Entry) []pricing.Line {
	lines := make([]pricing.Line, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, pricing.Line{
			ProductID: e.ProductID,
			Size:      e.Size,
			Color:     e.Color,
			Quantity:  e.Quantity,
		})
	}
	return lines
}

func buildOrder(buyerID uuid.UUID, cb Callback, quote *pricing.Quote, address types.ShippingAddress) *models.Order {
	items := make([]models.OrderItem, 0, len(quote.Lines))
	for _, line := range quote.Lines {
		items = append(items, models.OrderItem{
			ProductID:      line.ProductID,
			Name:           line.Name,
			Image:          line.Image,
			Size:           line.Size,
			Color:          line.Color,
			UnitPriceCents: line.UnitPriceCents,
			Quantity:       line.Quantity,
			LineTotalCents: line.LineTotalCents,
		})
	}
	return newOrder(buyerID, cb, items, quote.Breakdown, address)
}

// snapshotOrder builds the order from the cart's own snapshots for when the
// catalog cannot price it. Support corrects the figures later.
func (r *Reconciler) snapshotOrder(buyerID uuid.UUID, cb Callback, entries []cart.Entry, address types.ShippingAddress) *models.Order {
	items := make([]models.OrderItem, 0, len(entries))
	priced := make([]pricing.PricedLine, 0, len(entries))
	for _, e := range entries {
		items = append(items, models.OrderItem{
			ProductID:      e.ProductID,
			Name:           e.Name,
			Image:          e.Image,
			Size:           e.Size,
			Color:          e.Color,
			UnitPriceCents: e.UnitPriceCents,
			Quantity:       e.Quantity,
			LineTotalCents: e.UnitPriceCents * int64(e.Quantity),
		})
		priced = append(priced, pricing.PricedLine{UnitPriceCents: e.UnitPriceCents, Quantity: e.Quantity})
	}
	return newOrder(buyerID, cb, items, r.quotes.Estimate(priced), address)
}

func newOrder(buyerID uuid.UUID, cb Callback, items []models.OrderItem, b pricing.Breakdown, address types.ShippingAddress) *models.Order {
	order := &models.Order{
		BuyerID:            buyerID,
		Items:              items,
		ShippingAddress:    address,
		PaymentMethod:      enums.PaymentMethodPaymob,
		Currency:           b.Currency,
		ItemsPriceCents:    b.ItemsCents,
		TaxPriceCents:      b.TaxCents,
		ShippingPriceCents: b.ShippingCents,
		TotalPriceCents:    b.TotalCents,
	}
	if cb.ProviderOrderID != "" {
		providerOrderID := cb.ProviderOrderID
		order.ProviderOrderID = &providerOrderID
	}
	return order
}

func outcomeFor(order *models.Order, txn string) *Outcome {
	id := order.ID
	return &Outcome{
		ProviderTransactionID: txn,
		OrderID:               &id,
		IsPaid:                order.IsPaid,
		TotalCents:            order.TotalPriceCents,
		Currency:              order.Currency,
	}
}

func supportMessage(txn string) string {
	return fmt.Sprintf("Your payment was received. Contact support with transaction %s to complete your order.", txn)
}

func isCode(err error, code pkgerrors.Code) bool {
	typed := pkgerrors.As(err)
	return typed != nil && typed.Code() == code
}

func dependency(err error, msg string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
