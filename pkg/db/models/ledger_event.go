package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-backend/pkg/enums"
)

// LedgerEvent records an immutable money lifecycle event tied to an order.
type LedgerEvent struct {
	ID                    uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID               uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index"`
	BuyerID               uuid.UUID             `gorm:"column:buyer_id;type:uuid;not null"`
	Type                  enums.LedgerEventType `gorm:"column:type;type:text;not null"`
	AmountCents           int64                 `gorm:"column:amount_cents;not null"`
	Currency              enums.Currency        `gorm:"column:currency;type:text;not null"`
	ProviderTransactionID *string               `gorm:"column:provider_transaction_id"`
	Metadata              map[string]any        `gorm:"column:metadata;type:jsonb;serializer:json"`
	CreatedAt             time.Time             `gorm:"column:created_at;autoCreateTime"`
}
