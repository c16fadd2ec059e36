package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-backend/pkg/pagination"
)

// Base carries the connection shared by the gorm repositories.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the connection bound to ctx. A nil ctx returns it untouched.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Bind returns a copy running on tx. A nil tx keeps the current connection.
func (b Base) Bind(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}

// ListNewest reads one keyset page of q ordered by (created_at, id) descending.
// The cursor must come from a previous page of the same query.
func ListNewest[T any](q *gorm.DB, params pagination.Params, cursorOf func(T) pagination.Cursor) (pagination.Page[T], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[T]{}, err
	}
	q = q.Order("created_at DESC").Order("id DESC").Limit(pagination.LimitWithBuffer(params.Limit))
	if cursor != nil {
		q = q.Where("((created_at < ?) OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []T
	if err := q.Find(&rows).Error; err != nil {
		return pagination.Page[T]{}, err
	}
	return pagination.Trim(rows, params.Limit, cursorOf), nil
}
