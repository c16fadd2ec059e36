package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-backend/pkg/db/models"
	"github.com/angelmondragon/settlement-backend/pkg/enums"
	"github.com/angelmondragon/settlement-backend/pkg/money"
	"github.com/angelmondragon/settlement-backend/pkg/pagination"
	"github.com/angelmondragon/settlement-backend/pkg/types"
)

// OrderItemDTO is one line of an order as returned to API clients.
type OrderItemDTO struct {
	ProductID      uuid.UUID `json:"product_id"`
	Name           string    `json:"name"`
	Image          string    `json:"image,omitempty"`
	Size           string    `json:"size,omitempty"`
	Color          string    `json:"color,omitempty"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	Quantity       int       `json:"quantity"`
	LineTotalCents int64     `json:"line_total_cents"`
}

// OrderDTO is the API representation of an order.
type OrderDTO struct {
	ID                    uuid.UUID             `json:"id"`
	BuyerID               uuid.UUID             `json:"buyer_id"`
	Items                 []OrderItemDTO        `json:"items"`
	ShippingAddress       types.ShippingAddress `json:"shipping_address"`
	PaymentMethod         enums.PaymentMethod   `json:"payment_method"`
	Currency              enums.Currency        `json:"currency"`
	ItemsPriceCents       int64                 `json:"items_price_cents"`
	ShippingPriceCents    int64                 `json:"shipping_price_cents"`
	TaxPriceCents         int64                 `json:"tax_price_cents"`
	TotalPriceCents       int64                 `json:"total_price_cents"`
	TotalDisplay          string                `json:"total_display"`
	IsPaid                bool                  `json:"is_paid"`
	PaidAt                *time.Time            `json:"paid_at,omitempty"`
	PaymentResult         *types.PaymentResult  `json:"payment_result,omitempty"`
	ProviderTransactionID *string               `json:"provider_transaction_id,omitempty"`
	ProviderOrderID       *string               `json:"provider_order_id,omitempty"`
	IsDelivered           bool                  `json:"is_delivered"`
	DeliveredAt           *time.Time            `json:"delivered_at,omitempty"`
	CreatedAt             time.Time             `json:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at"`
}

// OrderList wraps a page of orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderDTO `json:"orders"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// FromModel converts the persisted order into its API shape.
func FromModel(o models.Order) OrderDTO {
	items := make([]OrderItemDTO, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemDTO{
			ProductID:      it.ProductID,
			Name:           it.Name,
			Image:          it.Image,
			Size:           it.Size,
			Color:          it.Color,
			UnitPriceCents: it.UnitPriceCents,
			Quantity:       it.Quantity,
			LineTotalCents: it.LineTotalCents,
		})
	}
	return OrderDTO{
		ID:                    o.ID,
		BuyerID:               o.BuyerID,
		Items:                 items,
		ShippingAddress:       o.ShippingAddress,
		PaymentMethod:         o.PaymentMethod,
		Currency:              o.Currency,
		ItemsPriceCents:       o.ItemsPriceCents,
		ShippingPriceCents:    o.ShippingPriceCents,
		TaxPriceCents:         o.TaxPriceCents,
		TotalPriceCents:       o.TotalPriceCents,
		TotalDisplay:          money.Format(o.TotalPriceCents, o.Currency.String()),
		IsPaid:                o.IsPaid,
		PaidAt:                o.PaidAt,
		PaymentResult:         o.PaymentResult,
		ProviderTransactionID: o.ProviderTransactionID,
		ProviderOrderID:       o.ProviderOrderID,
		IsDelivered:           o.IsDelivered,
		DeliveredAt:           o.DeliveredAt,
		CreatedAt:             o.CreatedAt,
		UpdatedAt:             o.UpdatedAt,
	}
}

// ListFromPage converts a page of orders.
func ListFromPage(page pagination.Page[models.Order]) OrderList {
	out := OrderList{Orders: make([]OrderDTO, 0, len(page.Items)), NextCursor: page.NextCursor}
	for _, o := range page.Items {
		out.Orders = append(out.Orders, FromModel(o))
	}
	return out
}

// LedgerEntryDTO is one money event of an order as shown to support staff.
type LedgerEntryDTO struct {
	ID                    uuid.UUID             `json:"id"`
	Type                  enums.LedgerEventType `json:"type"`
	AmountCents           int64                 `json:"amount_cents"`
	AmountDisplay         string                `json:"amount_display"`
	Currency              enums.Currency        `json:"currency"`
	ProviderTransactionID *string               `json:"provider_transaction_id,omitempty"`
	Metadata              map[string]any        `json:"metadata,omitempty"`
	CreatedAt             time.Time             `json:"created_at"`
}

func LedgerFromModels(events []models.LedgerEvent) []LedgerEntryDTO {
	out := make([]LedgerEntryDTO, 0, len(events))
	for _, e := range events {
		out = append(out, LedgerEntryDTO{
			ID:                    e.ID,
			Type:                  e.Type,
			AmountCents:           e.AmountCents,
			AmountDisplay:         money.Format(e.AmountCents, e.Currency.String()),
			Currency:              e.Currency,
			ProviderTransactionID: e.ProviderTransactionID,
			Metadata:              e.Metadata,
			CreatedAt:             e.CreatedAt,
		})
	}
	return out
}
