package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/angelmondragon/settlement-backend/pkg/config"
	"github.com/angelmondragon/settlement-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/settlement-backend/pkg/errors"
	"github.com/angelmondragon/settlement-backend/pkg/pagination"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	resp := httptest.NewRecorder()
	HealthReady(cfg, map[string]Pinger{"postgres": ok, "redis": ok}, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if resp.Header().Get("X-Settlement-Env") != "test" {
		t.Fatalf("missing env header")
	}

	resp = httptest.NewRecorder()
	HealthReady(cfg, map[string]Pinger{"postgres": ok, "redis": down}, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
	var envelope struct {
		Error struct {
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error.Details["redis"] != "unavailable" || envelope.Error.Details["postgres"] != "ok" {
		t.Fatalf("unexpected checks %v", envelope.Error.Details)
	}
}

type stubCatalog struct {
	product *models.Product
	page    pagination.Page[models.Product]
	err     error
}

func (s stubCatalog) Get(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.product, nil
}

func (s stubCatalog) List(ctx context.Context, params pagination.Params) (pagination.Page[models.Product], error) {
	return s.page, s.err
}

func TestProductList(t *testing.T) {
	catalog := stubCatalog{page: pagination.Page[models.Product]{
		Items: []models.Product{{ID: uuid.New(), Name: "Hoodie", PriceCents: 10000, Sizes: pq.StringArray{"M", "L"}}},
	}}
	resp := httptest.NewRecorder()
	ProductList(catalog, "EGP", nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/products?limit=5", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var envelope struct {
		Data productListResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelope.Data.Products) != 1 {
		t.Fatalf("unexpected products %+v", envelope.Data)
	}
	got := envelope.Data.Products[0]
	if got.PriceCents != 10000 || len(got.Sizes) != 2 || got.Colors == nil || got.PriceDisplay == "" {
		t.Fatalf("unexpected product %+v", got)
	}
}

func TestProductDetail(t *testing.T) {
	id := uuid.New()
	route := chi.NewRouter()
	route.Get("/api/v1/products/{productId}", ProductDetail(stubCatalog{product: &models.Product{ID: id, Name: "Cap"}}, "EGP", nil))

	resp := httptest.NewRecorder()
	route.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/products/"+id.String(), nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	route.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/products/garbage", nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}

	missing := chi.NewRouter()
	missing.Get("/api/v1/products/{productId}", ProductDetail(stubCatalog{err: pkgerrors.New(pkgerrors.CodeNotFound, "product not found")}, "EGP", nil))
	resp = httptest.NewRecorder()
	missing.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/products/"+uuid.NewString(), nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}
