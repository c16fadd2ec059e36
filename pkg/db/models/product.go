package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Product is the catalog listing. Price and stock here are authoritative for checkout.
type Product struct {
	ID           uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name         string         `gorm:"column:name;not null"`
	Image        string         `gorm:"column:image;not null;default:''"`
	Brand        string         `gorm:"column:brand;not null;default:''"`
	Category     string         `gorm:"column:category;not null;default:''"`
	PriceCents   int64          `gorm:"column:price_cents;not null"`
	CountInStock int            `gorm:"column:count_in_stock;not null;default:0"`
	Sizes        pq.StringArray `gorm:"column:sizes;type:text[];not null;default:'{}'"`
	Colors       pq.StringArray `gorm:"column:colors;type:text[];not null;default:'{}'"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
