package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-backend/pkg/enums"
	"github.com/angelmondragon/settlement-backend/pkg/types"
)

// User is the buyer identity owned by the auth service. This service only reads it.
type User struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email     string                 `gorm:"column:email;type:text;not null;uniqueIndex"`
	FirstName string                 `gorm:"column:first_name;not null"`
	LastName  string                 `gorm:"column:last_name;not null"`
	Phone     *string                `gorm:"column:phone"`
	Role      enums.UserRole         `gorm:"column:role;type:text;not null;default:'buyer'"`
	Address   *types.ShippingAddress `gorm:"column:address;type:jsonb"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
