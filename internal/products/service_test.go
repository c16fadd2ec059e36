package product

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/settlement-backend/pkg/errors"
	"github.com/angelmondragon/settlement-backend/pkg/migrate"
	"github.com/angelmondragon/settlement-backend/pkg/pagination"
)

func newCatalogTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:catalog_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, migrate.ApplySQLite(conn))
	return conn
}

func seedProduct(t *testing.T, repo *Repository, name string, price int64, stock int, createdAt time.Time) models.Product {
	t.Helper()
	p := models.Product{
		Name:         name,
		PriceCents:   price,
		CountInStock: stock,
		Sizes:        []string{"M", "L"},
		CreatedAt:    createdAt,
	}
	require.NoError(t, repo.Create(context.Background(), &p))
	return p
}

func TestCatalogGet(t *testing.T) {
	repo := NewRepository(newCatalogTestDB(t))
	svc, err := NewService(repo)
	require.NoError(t, err)

	seeded := seedProduct(t, repo, "Airpods", 8999, 10, time.Now())

	got, err := svc.Get(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, "Airpods", got.Name)
	assert.Equal(t, int64(8999), got.PriceCents)
	assert.Equal(t, []string{"M", "L"}, []string(got.Sizes))

	_, err = svc.Get(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	_, err = svc.Get(context.Background(), uuid.Nil)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestCatalogGetManyReportsMissing(t *testing.T) {
	repo := NewRepository(newCatalogTestDB(t))
	svc, err := NewService(repo)
	require.NoError(t, err)

	a := seedProduct(t, repo, "Phone", 59999, 3, time.Now())
	missing := uuid.New()

	found, err := svc.GetMany(context.Background(), []uuid.UUID{a.ID})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	_, err = svc.GetMany(context.Background(), []uuid.UUID{a.ID, missing})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
	assert.Equal(t, map[string]any{"product_ids": []string{missing.String()}}, typed.Details())
}

func TestCatalogListPages(t *testing.T) {
	repo := NewRepository(newCatalogTestDB(t))
	svc, err := NewService(repo)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		seedProduct(t, repo, "item", 100, 1, base.Add(time.Duration(i)*time.Minute))
	}

	page, err := svc.List(context.Background(), pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	next, err := svc.List(context.Background(), pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	assert.Empty(t, next.NextCursor)
	assert.True(t, next.Items[0].CreatedAt.Equal(base))
}

func TestNewServiceRequiresRepo(t *testing.T) {
	_, err := NewService(nil)
	assert.Error(t, err)
}
