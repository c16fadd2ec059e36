package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-backend/pkg/enums"
	"github.com/angelmondragon/settlement-backend/pkg/types"
)

// Order is the system of record for a checkout. At most one order exists per
// provider transaction id.
type Order struct {
	ID                    uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BuyerID               uuid.UUID             `gorm:"column:buyer_id;type:uuid;not null;index"`
	Items                 []OrderItem           `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	ShippingAddress       types.ShippingAddress `gorm:"column:shipping_address;type:jsonb;not null"`
	PaymentMethod         enums.PaymentMethod   `gorm:"column:payment_method;type:text;not null;default:'paymob'"`
	Currency              enums.Currency        `gorm:"column:currency;type:text;not null"`
	ItemsPriceCents       int64                 `gorm:"column:items_price_cents;not null"`
	ShippingPriceCents    int64                 `gorm:"column:shipping_price_cents;not null"`
	TaxPriceCents         int64                 `gorm:"column:tax_price_cents;not null"`
	TotalPriceCents       int64                 `gorm:"column:total_price_cents;not null"`
	IsPaid                bool                  `gorm:"column:is_paid;not null;default:false"`
	PaidAt                *time.Time            `gorm:"column:paid_at"`
	PaymentResult         *types.PaymentResult  `gorm:"column:payment_result;type:jsonb"`
	ProviderTransactionID *string               `gorm:"column:provider_transaction_id;uniqueIndex:ux_orders_provider_transaction_id"`
	ProviderOrderID       *string               `gorm:"column:provider_order_id;index"`
	IsDelivered           bool                  `gorm:"column:is_delivered;not null;default:false"`
	DeliveredAt           *time.Time            `gorm:"column:delivered_at"`
	CreatedAt             time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderItem is the immutable price snapshot of one order line.
type OrderItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Name           string    `gorm:"column:name;not null"`
	Image          string    `gorm:"column:image;not null;default:''"`
	Size           string    `gorm:"column:size;not null;default:''"`
	Color          string    `gorm:"column:color;not null;default:''"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null"`
	Quantity       int       `gorm:"column:quantity;not null"`
	LineTotalCents int64     `gorm:"column:line_total_cents;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
