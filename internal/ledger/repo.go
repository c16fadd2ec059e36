package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-backend/internal/repo"
	"github.com/angelmondragon/settlement-backend/pkg/db/models"
)

// Repository persists ledger events. Rows are append-only.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.LedgerEvent) error
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) Create(ctx context.Context, event *models.LedgerEvent) error {
	return r.DB(ctx).Create(event).Error
}

// ListByOrderID returns the order's events oldest first.
func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error) {
	var events []models.LedgerEvent
	err := r.DB(ctx).
		Where(&models.LedgerEvent{OrderID: orderID}).
		Order("created_at ASC, id ASC").
		Find(&events).Error
	return events, err
}
