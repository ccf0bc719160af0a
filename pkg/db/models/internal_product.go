package models

import (
	"time"

	"github.com/google/uuid"
)

// InternalProduct is the catalog entity listed on marketplaces. It points at
// the supplier product currently backing it.
type InternalProduct struct {
	ID                       uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	SKU                      string     `gorm:"column:sku;not null;uniqueIndex:ux_internal_products_sku"`
	PrimarySupplierProductID *uuid.UUID `gorm:"column:primary_supplier_product_id;type:uuid;index"`
	CreatedAt                time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
