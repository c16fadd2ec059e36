package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-backend/internal/ledger"
	"github.com/angelmondragon/settlement-backend/pkg/db"
	"github.com/angelmondragon/settlement-backend/pkg/db/models"
	"github.com/angelmondragon/settlement-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-backend/pkg/errors"
	"github.com/angelmondragon/settlement-backend/pkg/outbox"
	"github.com/angelmondragon/settlement-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/settlement-backend/pkg/pagination"
	"github.com/angelmondragon/settlement-backend/pkg/types"
)

const transactionUniqueIndex = "ux_orders_provider_transaction_id"

// Payment sources recorded on payment_result and order_paid events.
const (
	SourceRedirect = "redirect"
	SourceWebhook  = "webhook"
	SourceAdmin    = "admin"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Payment is a gateway confirmation applied to an order.
type Payment struct {
	ProviderTransactionID string
	AmountCents           int64
	Source                string
	PaidAt                time.Time
}

// Store is the system of record for orders. At most one order exists per
// provider transaction id.
type Store interface {
	Create(ctx context.Context, order *models.Order) (uuid.UUID, error)
	CreatePaid(ctx context.Context, order *models.Order, payment Payment) (*models.Order, error)
	CreateMismatched(ctx context.Context, order *models.Order, payment Payment) (*models.Order, error)
	CreateForReconciliation(ctx context.Context, order *models.Order, payment Payment, reason string) (*models.Order, error)
	MarkPaid(ctx context.Context, orderID uuid.UUID, payment Payment) (*models.Order, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	GetForBuyer(ctx context.Context, buyerID, orderID uuid.UUID) (*models.Order, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (pagination.Page[models.Order], error)
	FindByProviderTransactionID(ctx context.Context, txnID string) (*models.Order, error)
	FindByProviderOrderID(ctx context.Context, providerOrderID string) (*models.Order, error)
	ListUnpaidBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	ListAwaitingReconciliation(ctx context.Context, cutoff time.Time, after *pagination.Cursor, limit int) ([]models.Order, error)
	Ledger(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error)
}

type store struct {
	repo   Repository
	tx     txRunner
	ledger ledger.Service
	outbox outboxEmitter
	now    func() time.Time
}

// NewStore builds the order store with the required dependencies.
func NewStore(repo Repository, tx txRunner, ledgerSvc ledger.Service, outbox outboxEmitter) (Store, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &store{
		repo:   repo,
		tx:     tx,
		ledger: ledgerSvc,
		outbox: outbox,
		now:    time.Now,
	}, nil
}

// Create records an unpaid order and queues order_created.
func (s *store) Create(ctx context.Context, order *models.Order) (uuid.UUID, error) {
	if err := prepareOrder(order); err != nil {
		return uuid.Nil, err
	}
	order.IsPaid = false
	order.PaidAt = nil
	if order.PaymentResult == nil {
		order.PaymentResult = &types.PaymentResult{Status: enums.PaymentStatusUnpaid}
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderCreatedEvent{
				OrderID:         order.ID,
				BuyerID:         order.BuyerID,
				ProviderOrderID: deref(order.ProviderOrderID),
				TotalCents:      order.TotalPriceCents,
				Currency:        order.Currency,
			},
		})
	})
	if err != nil {
		return uuid.Nil, mapWriteError(err, deref(order.ProviderTransactionID), "create order")
	}
	return order.ID, nil
}

// CreatePaid inserts a paid order, its items, the payment_captured ledger entry
// and the order_paid event in one transaction.
func (s *store) CreatePaid(ctx context.Context, order *models.Order, payment Payment) (*models.Order, error) {
	if err := prepareOrder(order); err != nil {
		return nil, err
	}
	txnID, err := validatePayment(payment)
	if err != nil {
		return nil, err
	}
	if payment.AmountCents != order.TotalPriceCents {
		return nil, amountMismatch(order.TotalPriceCents, payment.AmountCents)
	}

	paidAt := s.paidAt(payment)
	order.IsPaid = true
	order.PaidAt = &paidAt
	order.ProviderTransactionID = &txnID
	order.PaymentResult = &types.PaymentResult{
		ProviderTransactionID: txnID,
		Status:                enums.PaymentStatusPaid,
		AmountCents:           payment.AmountCents,
		SettledAt:             &paidAt,
		Source:                payment.Source,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}
		return s.recordPaid(ctx, tx, order, enums.LedgerEventTypePaymentCaptured, payment)
	})
	if err != nil {
		return nil, mapWriteError(err, txnID, "create paid order")
	}
	return order, nil
}

// CreateMismatched records an order whose confirmed amount differs from the
// authoritative total. It stays unpaid and an operator is notified.
func (s *store) CreateMismatched(ctx context.Context, order *models.Order, payment Payment) (*models.Order, error) {
	return s.createUnsettled(ctx, order, payment, unsettled{
		status:     enums.PaymentStatusAmountMismatch,
		ledgerType: enums.LedgerEventTypePaymentAmountMismatch,
		reason:     string(enums.PaymentStatusAmountMismatch),
		action:     "create mismatched order",
	})
}

// CreateForReconciliation records a captured payment whose cart could not be
// settled, e.g. a product vanished before the callback. The order stays
// unpaid and carries reason for support.
func (s *store) CreateForReconciliation(ctx context.Context, order *models.Order, payment Payment, reason string) (*models.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reconciliation reason required")
	}
	return s.createUnsettled(ctx, order, payment, unsettled{
		status:     enums.PaymentStatusNeedsReconciliation,
		ledgerType: enums.LedgerEventTypeManualReconciliation,
		reason:     reason,
		action:     "create order for reconciliation",
	})
}

type unsettled struct {
	status     enums.PaymentStatus
	ledgerType enums.LedgerEventType
	reason     string
	action     string
}

func (s *store) createUnsettled(ctx context.Context, order *models.Order, payment Payment, u unsettled) (*models.Order, error) {
	if err := prepareOrder(order); err != nil {
		return nil, err
	}
	txnID, err := validatePayment(payment)
	if err != nil {
		return nil, err
	}

	order.IsPaid = false
	order.PaidAt = nil
	order.ProviderTransactionID = &txnID
	order.PaymentResult = &types.PaymentResult{
		ProviderTransactionID: txnID,
		Status:                u.status,
		AmountCents:           payment.AmountCents,
		Source:                payment.Source,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}
		if _, err := s.ledger.WithTx(tx).RecordEvent(ctx, ledger.RecordLedgerEventInput{
			OrderID:               order.ID,
			BuyerID:               order.BuyerID,
			Type:                  u.ledgerType,
			AmountCents:           payment.AmountCents,
			Currency:              order.Currency,
			ProviderTransactionID: txnID,
			Metadata:              map[string]any{"expected_cents": order.TotalPriceCents, "source": payment.Source, "reason": u.reason},
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderReconciliationRequired,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderReconciliationRequiredEvent{
				OrderID:               order.ID,
				BuyerID:               order.BuyerID,
				ProviderTransactionID: txnID,
				Reason:                u.reason,
				ExpectedCents:         order.TotalPriceCents,
				ObservedCents:         payment.AmountCents,
				Currency:              order.Currency,
			},
		})
	})
	if err != nil {
		return nil, mapWriteError(err, txnID, u.action)
	}
	return order, nil
}

// MarkPaid flips an unpaid order to paid. Repeating it with the same
// transaction id returns the order unchanged; a different id is a conflict.
func (s *store) MarkPaid(ctx context.Context, orderID uuid.UUID, payment Payment) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	txnID, err := validatePayment(payment)
	if err != nil {
		return nil, err
	}

	var result *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return err
		}
		if order.IsPaid {
			result = order
			return alreadyPaid(order, txnID)
		}
		if payment.AmountCents != 0 && payment.AmountCents != order.TotalPriceCents {
			return amountMismatch(order.TotalPriceCents, payment.AmountCents)
		}

		paidAt := s.paidAt(payment)
		flipped, err := repo.MarkPaidIfUnpaid(ctx, orderID, map[string]any{
			"is_paid":                 true,
			"paid_at":                 paidAt,
			"provider_transaction_id": txnID,
			"payment_result": types.PaymentResult{
				ProviderTransactionID: txnID,
				Status:                enums.PaymentStatusPaid,
				AmountCents:           order.TotalPriceCents,
				SettledAt:             &paidAt,
				Source:                payment.Source,
			},
			"updated_at": s.now().UTC(),
		})
		if err != nil {
			return err
		}
		if !flipped {
			current, err := repo.FindByID(ctx, orderID)
			if err != nil {
				return err
			}
			result = current
			return alreadyPaid(current, txnID)
		}

		order.IsPaid = true
		order.PaidAt = &paidAt
		order.ProviderTransactionID = &txnID
		payment.AmountCents = order.TotalPriceCents
		payment.PaidAt = paidAt
		if err := s.recordPaid(ctx, tx, order, enums.LedgerEventTypePaymentConfirmed, payment); err != nil {
			return err
		}
		result, err = repo.FindByID(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, mapWriteError(err, txnID, "mark order paid")
	}
	return result, nil
}

func (s *store) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	return order, mapReadError(err)
}

// GetForBuyer hides orders owned by someone else behind NOT_FOUND.
func (s *store) GetForBuyer(ctx context.Context, buyerID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *store) ListByBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (pagination.Page[models.Order], error) {
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return pagination.Page[models.Order]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	page, err := s.repo.ListByBuyer(ctx, buyerID, params)
	if err != nil {
		return pagination.Page[models.Order]{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list orders")
	}
	return page, nil
}

func (s *store) FindByProviderTransactionID(ctx context.Context, txnID string) (*models.Order, error) {
	order, err := s.repo.FindByProviderTransactionID(ctx, strings.TrimSpace(txnID))
	return order, mapReadError(err)
}

func (s *store) FindByProviderOrderID(ctx context.Context, providerOrderID string) (*models.Order, error) {
	order, err := s.repo.FindByProviderOrderID(ctx, strings.TrimSpace(providerOrderID))
	return order, mapReadError(err)
}

func (s *store) ListUnpaidBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	rows, err := s.repo.ListUnpaidBefore(ctx, cutoff.UTC(), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list unpaid orders")
	}
	return rows, nil
}

func (s *store) ListAwaitingReconciliation(ctx context.Context, cutoff time.Time, after *pagination.Cursor, limit int) ([]models.Order, error) {
	rows, err := s.repo.ListAwaitingReconciliation(ctx, cutoff.UTC(), after, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list orders awaiting reconciliation")
	}
	return rows, nil
}

// Ledger returns the money events recorded against an existing order.
func (s *store) Ledger(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error) {
	if _, err := s.Get(ctx, orderID); err != nil {
		return nil, err
	}
	events, err := s.ledger.ListForOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load ledger")
	}
	return events, nil
}

func (s *store) recordPaid(ctx context.Context, tx *gorm.DB, order *models.Order, ledgerType enums.LedgerEventType, payment Payment) error {
	txnID := deref(order.ProviderTransactionID)
	if _, err := s.ledger.WithTx(tx).RecordEvent(ctx, ledger.RecordLedgerEventInput{
		OrderID:               order.ID,
		BuyerID:               order.BuyerID,
		Type:                  ledgerType,
		AmountCents:           payment.AmountCents,
		Currency:              order.Currency,
		ProviderTransactionID: txnID,
		Metadata:              map[string]any{"source": payment.Source},
	}); err != nil {
		return err
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderPaidEvent{
			OrderID:               order.ID,
			BuyerID:               order.BuyerID,
			ProviderTransactionID: txnID,
			AmountCents:           payment.AmountCents,
			Currency:              order.Currency,
			PaidAt:                *order.PaidAt,
			Source:                payment.Source,
		},
	})
}

func (s *store) paidAt(payment Payment) time.Time {
	if !payment.PaidAt.IsZero() {
		return payment.PaidAt.UTC()
	}
	return s.now().UTC()
}

// prepareOrder assigns ids, derives line totals and checks the money adds up.
func prepareOrder(order *models.Order) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	if order.BuyerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "buyer id required")
	}
	if len(order.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order must contain at least one item")
	}
	if !order.Currency.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid currency").
			WithDetails(map[string]any{"currency": order.Currency})
	}
	if order.PaymentMethod == "" {
		order.PaymentMethod = enums.PaymentMethodPaymob
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}

	var items int64
	for i := range order.Items {
		item := &order.Items[i]
		if item.Quantity < 1 || item.UnitPriceCents < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "invalid order item").
				WithDetails(map[string]any{"product_id": item.ProductID.String()})
		}
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.OrderID = order.ID
		item.LineTotalCents = item.UnitPriceCents * int64(item.Quantity)
		items += item.LineTotalCents
	}
	if items != order.ItemsPriceCents {
		return pkgerrors.New(pkgerrors.CodeValidation, "items price does not match order items").
			WithDetails(map[string]any{"items_price_cents": order.ItemsPriceCents, "computed_cents": items})
	}
	if order.ItemsPriceCents+order.TaxPriceCents+order.ShippingPriceCents != order.TotalPriceCents {
		return pkgerrors.New(pkgerrors.CodeValidation, "total does not equal items + tax + shipping")
	}
	return nil
}

func validatePayment(payment Payment) (string, error) {
	txnID := strings.TrimSpace(payment.ProviderTransactionID)
	if txnID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "provider transaction id required")
	}
	switch payment.Source {
	case SourceRedirect, SourceWebhook, SourceAdmin:
	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid payment source").
			WithDetails(map[string]any{"source": payment.Source})
	}
	if payment.AmountCents < 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "amount must be non-negative")
	}
	return txnID, nil
}

func alreadyPaid(order *models.Order, txnID string) error {
	if deref(order.ProviderTransactionID) == txnID {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "order already paid by another transaction").
		WithDetails(map[string]any{"order_id": order.ID.String()})
}

func amountMismatch(expected, observed int64) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "payment amount does not match order total").
		WithDetails(map[string]any{
			"reason":         string(enums.PaymentStatusAmountMismatch),
			"expected_cents": expected,
			"observed_cents": observed,
		})
}

func mapWriteError(err error, txnID, action string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	if db.IsUniqueViolation(err, transactionUniqueIndex) {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order already exists for transaction").
			WithDetails(map[string]any{"provider_transaction_id": txnID})
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, action)
}

func mapReadError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
