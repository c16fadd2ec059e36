// Package pricing turns cart lines into an authoritative breakdown in minor units.
package pricing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-backend/pkg/checkout"
	"github.com/angelmondragon/settlement-backend/pkg/config"
	"github.com/angelmondragon/settlement-backend/pkg/db/models"
	"github.com/angelmondragon/settlement-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-backend/pkg/errors"
	"github.com/angelmondragon/settlement-backend/pkg/money"
)

// Catalog is the authoritative product source.
type Catalog interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

// Line is one requested (product, variant, quantity).
type Line struct {
	ProductID uuid.UUID
	Size      string
	Color     string
	Quantity  int
}

// PricedLine is a line with its unit price already known, used for display estimates.
type PricedLine struct {
	UnitPriceCents int64
	Quantity       int
}

// QuotedLine carries the catalog snapshot that becomes an order item.
type QuotedLine struct {
	ProductID      uuid.UUID `json:"product_id"`
	Name           string    `json:"name"`
	Image          string    `json:"image"`
	Size           string    `json:"size,omitempty"`
	Color          string    `json:"color,omitempty"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	Quantity       int       `json:"quantity"`
	LineTotalCents int64     `json:"line_total_cents"`
}

// Breakdown is the money summary. TotalCents == ItemsCents + TaxCents + ShippingCents.
type Breakdown struct {
	ItemsCents    int64          `json:"items_cents"`
	TaxCents      int64          `json:"tax_cents"`
	ShippingCents int64          `json:"shipping_cents"`
	TotalCents    int64          `json:"total_cents"`
	Currency      enums.Currency `json:"currency"`
}

// Quote is the authoritative price of a set of lines.
type Quote struct {
	Lines []QuotedLine `json:"lines"`
	Breakdown
}

// Engine prices lines with the single configured tax rate.
type Engine struct {
	catalog           Catalog
	taxRate           decimal.Decimal
	freeShippingAbove int64
	flatShipping      int64
	currency          enums.Currency
}

// NewEngine validates the pricing configuration.
func NewEngine(cfg config.PricingConfig, catalog Catalog) (*Engine, error) {
	if catalog == nil {
		return nil, fmt.Errorf("catalog required")
	}
	rate, err := cfg.Rate()
	if err != nil {
		return nil, err
	}
	currency, err := enums.ParseCurrency(cfg.Currency)
	if err != nil {
		return nil, err
	}
	if cfg.FreeShippingThresholdCents < 0 || cfg.FlatShippingCents < 0 {
		return nil, fmt.Errorf("shipping amounts must be non-negative")
	}
	return &Engine{
		catalog:           catalog,
		taxRate:           rate,
		freeShippingAbove: cfg.FreeShippingThresholdCents,
		flatShipping:      cfg.FlatShippingCents,
		currency:          currency,
	}, nil
}

// Currency is the currency every breakdown is expressed in.
func (e *Engine) Currency() enums.Currency {
	return e.currency
}

// Quote fetches every product from the catalog and prices the lines. Snapshots
// held by the cart are never trusted here.
func (e *Engine) Quote(ctx context.Context, lines []Line) (*Quote, error) {
	return e.quote(ctx, lines, true)
}

// Reprice is Quote without the stock gate. Settlement uses it once the
// provider has captured the money, when a stock shortfall can no longer undo
// the charge.
func (e *Engine) Reprice(ctx context.Context, lines []Line) (*Quote, error) {
	return e.quote(ctx, lines, false)
}

func (e *Engine) quote(ctx context.Context, lines []Line, checkStock bool) (*Quote, error) {
	if len(lines) == 0 {
		return nil, checkout.EmptyCartError()
	}

	products := make(map[uuid.UUID]*models.Product, len(lines))
	requested := make(map[uuid.UUID]int, len(lines))
	order := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1").
				WithDetails(map[string]any{"product_id": line.ProductID.String()})
		}
		if _, seen := products[line.ProductID]; !seen {
			product, err := e.catalog.Get(ctx, line.ProductID)
			if err != nil {
				if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
					return nil, pkgerrors.New(pkgerrors.CodeValidation, "product not found").
						WithDetails(map[string]any{"reason": "product_not_found", "product_id": line.ProductID.String()})
				}
				return nil, err
			}
			products[line.ProductID] = product
			order = append(order, line.ProductID)
		}
		requested[line.ProductID] += line.Quantity
	}

	if checkStock {
		stock := make([]checkout.StockValidationInput, 0, len(order))
		for _, id := range order {
			p := products[id]
			stock = append(stock, checkout.StockValidationInput{
				ProductID:    id,
				ProductName:  p.Name,
				CountInStock: p.CountInStock,
				Quantity:     requested[id],
			})
		}
		if err := checkout.ValidateStock(stock); err != nil {
			return nil, err
		}
	}

	quote := &Quote{Lines: make([]QuotedLine, 0, len(lines))}
	priced := make([]PricedLine, 0, len(lines))
	for _, line := range lines {
		p := products[line.ProductID]
		quote.Lines = append(quote.Lines, QuotedLine{
			ProductID:      p.ID,
			Name:           p.Name,
			Image:          p.Image,
			Size:           line.Size,
			Color:          line.Color,
			UnitPriceCents: p.PriceCents,
			Quantity:       line.Quantity,
			LineTotalCents: p.PriceCents * int64(line.Quantity),
		})
		priced = append(priced, PricedLine{UnitPriceCents: p.PriceCents, Quantity: line.Quantity})
	}
	quote.Breakdown = e.Estimate(priced)
	return quote, nil
}

// Estimate computes a breakdown from already-priced lines. The cart uses it for
// display with its snapshots; the numbers are never used to settle.
func (e *Engine) Estimate(lines []PricedLine) Breakdown {
	var items int64
	for _, line := range lines {
		items += line.UnitPriceCents * int64(line.Quantity)
	}
	tax := money.ApplyRate(items, e.taxRate)
	shipping := e.flatShipping
	if items > e.freeShippingAbove {
		shipping = 0
	}
	return Breakdown{
		ItemsCents:    items,
		TaxCents:      tax,
		ShippingCents: shipping,
		TotalCents:    items + tax + shipping,
		Currency:      e.currency,
	}
}
