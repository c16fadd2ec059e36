package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-backend/api/responses"
	"github.com/angelmondragon/settlement-backend/api/validators"
	"github.com/angelmondragon/settlement-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/settlement-backend/pkg/errors"
	"github.com/angelmondragon/settlement-backend/pkg/logger"
	"github.com/angelmondragon/settlement-backend/pkg/money"
	"github.com/angelmondragon/settlement-backend/pkg/pagination"
)

type catalogReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Product, error)
	List(ctx context.Context, params pagination.Params) (pagination.Page[models.Product], error)
}

type productResponse struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Image        string    `json:"image"`
	Brand        string    `json:"brand,omitempty"`
	Category     string    `json:"category,omitempty"`
	PriceCents   int64     `json:"price_cents"`
	PriceDisplay string    `json:"price_display"`
	CountInStock int       `json:"count_in_stock"`
	Sizes        []string  `json:"sizes"`
	Colors       []string  `json:"colors"`
}

type productListResponse struct {
	Products   []productResponse `json:"products"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

func newProductResponse(p models.Product, currency string) productResponse {
	sizes := []string(p.Sizes)
	if sizes == nil {
		sizes = []string{}
	}
	colors := []string(p.Colors)
	if colors == nil {
		colors = []string{}
	}
	return productResponse{
		ID:           p.ID,
		Name:         p.Name,
		Image:        p.Image,
		Brand:        p.Brand,
		Category:     p.Category,
		PriceCents:   p.PriceCents,
		PriceDisplay: money.Format(p.PriceCents, currency),
		CountInStock: p.CountInStock,
		Sizes:        sizes,
		Colors:       colors,
	}
}

// ProductList pages through the catalog by creation time.
func ProductList(catalog catalogReader, currency string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if catalog == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := catalog.List(r.Context(), pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := productListResponse{Products: make([]productResponse, 0, len(page.Items)), NextCursor: page.NextCursor}
		for _, p := range page.Items {
			out.Products = append(out.Products, newProductResponse(p, currency))
		}
		responses.WriteSuccess(w, out)
	}
}

func ProductDetail(catalog catalogReader, currency string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if catalog == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog unavailable"))
			return
		}
		id, err := validators.ParseUUID(chi.URLParam(r, "productId"), "product_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		product, err := catalog.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newProductResponse(*product, currency))
	}
}
