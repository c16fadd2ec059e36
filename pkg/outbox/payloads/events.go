package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-backend/pkg/enums"
)

// OrderCreatedEvent is emitted when an order is recorded before payment confirms.
type OrderCreatedEvent struct {
	OrderID         uuid.UUID      `json:"order_id"`
	BuyerID         uuid.UUID      `json:"buyer_id"`
	ProviderOrderID string         `json:"provider_order_id,omitempty"`
	TotalCents      int64          `json:"total_cents"`
	Currency        enums.Currency `json:"currency"`
}

// OrderPaidEvent is emitted once per order when settlement confirms payment.
type OrderPaidEvent struct {
	OrderID               uuid.UUID      `json:"order_id"`
	BuyerID               uuid.UUID      `json:"buyer_id"`
	ProviderTransactionID string         `json:"provider_transaction_id"`
	AmountCents           int64          `json:"amount_cents"`
	Currency              enums.Currency `json:"currency"`
	PaidAt                time.Time      `json:"paid_at"`
	Source                string         `json:"source"`
}

// OrderReconciliationRequiredEvent flags an order that needs an operator.
type OrderReconciliationRequiredEvent struct {
	OrderID               uuid.UUID      `json:"order_id"`
	BuyerID               uuid.UUID      `json:"buyer_id"`
	ProviderTransactionID string         `json:"provider_transaction_id,omitempty"`
	Reason                string         `json:"reason"`
	ExpectedCents         int64          `json:"expected_cents"`
	ObservedCents         int64          `json:"observed_cents"`
	Currency              enums.Currency `json:"currency"`
}
