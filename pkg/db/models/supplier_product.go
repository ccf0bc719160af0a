package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/angelmondragon/catalogsync/pkg/enums"
)

// SupplierProduct is the last known snapshot of one supplier's product. Rows
// are never hard-deleted; disappearance is tracked through SyncStatus.
type SupplierProduct struct {
	ID             uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	SupplierID     string                      `gorm:"column:supplier_id;not null;uniqueIndex:ux_supplier_products_supplier_sku,priority:1;index:idx_supplier_products_scraped,priority:1"`
	ExternalSKU    string                      `gorm:"column:external_sku;not null;uniqueIndex:ux_supplier_products_supplier_sku,priority:2"`
	Title          string                      `gorm:"column:title;not null"`
	Description    string                      `gorm:"column:description"`
	Brand          string                      `gorm:"column:brand"`
	Condition      string                      `gorm:"column:condition"`
	SourceStatus   string                      `gorm:"column:source_status"`
	CostPrice      decimal.Decimal             `gorm:"column:cost_price;type:numeric(12,2);not null;default:0"`
	StockLevel     *int                        `gorm:"column:stock_level"`
	ProductURL     string                      `gorm:"column:product_url"`
	Images         datatypes.JSONSlice[string] `gorm:"column:images"`
	Specs          datatypes.JSONMap           `gorm:"column:specs"`
	CategoryPath   string                      `gorm:"column:category_path"`
	CollectionRank *int                        `gorm:"column:collection_rank"`
	CollectionPage *int                        `gorm:"column:collection_page"`
	SnapshotHash   string                      `gorm:"column:snapshot_hash;not null"`
	SyncStatus     enums.SyncStatus            `gorm:"column:sync_status;not null;default:'PRESENT'"`
	LastScrapedAt  time.Time                   `gorm:"column:last_scraped_at;not null;index:idx_supplier_products_scraped,priority:2"`
	CreatedAt      time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}
