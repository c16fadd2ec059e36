package types

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/angelmondragon/settlement-backend/pkg/enums"
)

// PaymentResult is the gateway outcome attached to an order.
type PaymentResult struct {
	ProviderTransactionID string              `json:"provider_transaction_id"`
	Status                enums.PaymentStatus `json:"status"`
	AmountCents           int64               `json:"amount_cents"`
	SettledAt             *time.Time          `json:"settled_at,omitempty"`
	Source                string              `json:"source,omitempty"`
}

// Value serializes the payment result to JSON.
func (p PaymentResult) Value() (driver.Value, error) {
	buf, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(buf), nil
}

// Scan decodes a JSON column into the payment result.
func (p *PaymentResult) Scan(value interface{}) error {
	if value == nil {
		*p = PaymentResult{}
		return nil
	}
	raw, err := asJSON(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, p)
}
