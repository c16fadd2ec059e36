package enums

import "strings"

// Currency is the ISO code used for order totals and gateway registration.
type Currency string

const (
	CurrencyEGP Currency = "EGP"
	CurrencyUSD Currency = "USD"
)

var currencies = newSet("currency", CurrencyEGP, CurrencyUSD)

func (c Currency) String() string { return string(c) }
func (c Currency) IsValid() bool  { return currencies.has(c) }

// ParseCurrency is case-insensitive and ignores surrounding space.
func ParseCurrency(value string) (Currency, error) {
	return currencies.parse(strings.ToUpper(strings.TrimSpace(value)))
}

// PaymentStatus is the payment_result.status recorded on an order.
type PaymentStatus string

const (
	PaymentStatusUnpaid              PaymentStatus = "unpaid"
	PaymentStatusPendingConfirmation PaymentStatus = "pending_confirmation"
	PaymentStatusPaid                PaymentStatus = "paid"
	PaymentStatusAmountMismatch      PaymentStatus = "amount_mismatch"
	PaymentStatusDeclined            PaymentStatus = "declined"
	// Captured by the provider but not yet turned into a settled order.
	PaymentStatusNeedsReconciliation PaymentStatus = "needs_reconciliation"
)

var paymentStatuses = newSet("payment status",
	PaymentStatusUnpaid,
	PaymentStatusPendingConfirmation,
	PaymentStatusPaid,
	PaymentStatusAmountMismatch,
	PaymentStatusDeclined,
	PaymentStatusNeedsReconciliation,
)

func (p PaymentStatus) IsValid() bool { return paymentStatuses.has(p) }

func ParsePaymentStatus(value string) (PaymentStatus, error) {
	return paymentStatuses.parse(value)
}

// LedgerEventType maps to the ledger_event_type_enum enum in Postgres.
type LedgerEventType string

const (
	LedgerEventTypePaymentCaptured       LedgerEventType = "payment_captured"
	LedgerEventTypePaymentConfirmed      LedgerEventType = "payment_confirmed"
	LedgerEventTypePaymentAmountMismatch LedgerEventType = "payment_amount_mismatch"
	LedgerEventTypeManualReconciliation  LedgerEventType = "manual_reconciliation"
)

var ledgerEventTypes = newSet("ledger event type",
	LedgerEventTypePaymentCaptured,
	LedgerEventTypePaymentConfirmed,
	LedgerEventTypePaymentAmountMismatch,
	LedgerEventTypeManualReconciliation,
)

func (t LedgerEventType) IsValid() bool { return ledgerEventTypes.has(t) }

func ParseLedgerEventType(value string) (LedgerEventType, error) {
	return ledgerEventTypes.parse(value)
}

// PaymentMethod records which gateway settled an order.
type PaymentMethod string

const PaymentMethodPaymob PaymentMethod = "paymob"

var paymentMethods = newSet("payment method", PaymentMethodPaymob)

func (p PaymentMethod) IsValid() bool { return paymentMethods.has(p) }
