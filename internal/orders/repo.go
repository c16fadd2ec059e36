package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-backend/internal/repo"
	"github.com/angelmondragon/settlement-backend/pkg/db/models"
	"github.com/angelmondragon/settlement-backend/pkg/enums"
	"github.com/angelmondragon/settlement-backend/pkg/pagination"
)

type repository struct {
	repo.Base
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

// Create inserts the order row and then its items. Callers wrap it in a
// transaction when both must land together.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if err := r.DB(ctx).Omit("Items").Create(order).Error; err != nil {
		return err
	}
	if len(order.Items) == 0 {
		return nil
	}
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
	}
	return r.DB(ctx).Create(&order.Items).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *repository) FindByProviderTransactionID(ctx context.Context, txnID string) (*models.Order, error) {
	return r.findOne(ctx, "provider_transaction_id = ?", txnID)
}

func (r *repository) FindByProviderOrderID(ctx context.Context, providerOrderID string) (*models.Order, error) {
	return r.findOne(ctx, "provider_order_id = ?", providerOrderID)
}

func (r *repository) findOne(ctx context.Context, query string, arg any) (*models.Order, error) {
	var order models.Order
	err := r.DB(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC").Order("id ASC") }).
		Where(query, arg).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListByBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (pagination.Page[models.Order], error) {
	query := r.DB(ctx).Preload("Items").Where("buyer_id = ?", buyerID)
	return repo.ListNewest(query, params, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
}

// ListUnpaidBefore returns unpaid orders created before cutoff, oldest first.
func (r *repository) ListUnpaidBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	query := r.DB(ctx).
		Where("is_paid = ?", false).
		Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListAwaitingReconciliation returns unpaid orders created before cutoff that
// carry a provider transaction and have no order_reconciliation_required event
// yet, oldest first, resuming after the given position.
func (r *repository) ListAwaitingReconciliation(ctx context.Context, cutoff time.Time, after *pagination.Cursor, limit int) ([]models.Order, error) {
	var rows []models.Order
	query := r.DB(ctx).
		Where("is_paid = ?", false).
		Where("created_at < ?", cutoff).
		Where("provider_transaction_id IS NOT NULL AND provider_transaction_id <> ''").
		Where("NOT EXISTS (SELECT 1 FROM outbox_events oe WHERE oe.aggregate_id = orders.id AND oe.event_type = ?)",
			enums.EventOrderReconciliationRequired).
		Order("created_at ASC").
		Order("id ASC")
	if after != nil {
		query = query.Where("((created_at > ?) OR (created_at = ? AND id > ?))", after.CreatedAt, after.CreatedAt, after.ID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkPaidIfUnpaid applies updates only while the order is still unpaid and
// reports whether this call flipped it.
func (r *repository) MarkPaidIfUnpaid(ctx context.Context, id uuid.UUID, updates map[string]any) (bool, error) {
	res := r.DB(ctx).
		Model(&models.Order{}).
		Where("id = ? AND is_paid = ?", id, false).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
