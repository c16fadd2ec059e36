package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-backend/pkg/db/models"
	"github.com/angelmondragon/settlement-backend/pkg/pagination"
)

// Repository defines persistence operations for the orders and order_items tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByProviderTransactionID(ctx context.Context, txnID string) (*models.Order, error)
	FindByProviderOrderID(ctx context.Context, providerOrderID string) (*models.Order, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (pagination.Page[models.Order], error)
	ListUnpaidBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	ListAwaitingReconciliation(ctx context.Context, cutoff time.Time, after *pagination.Cursor, limit int) ([]models.Order, error)
	MarkPaidIfUnpaid(ctx context.Context, id uuid.UUID, updates map[string]any) (bool, error)
}
