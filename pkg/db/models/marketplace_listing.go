package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/catalogsync/pkg/enums"
)

// MarketplaceListing is written by the publishing client and only read here.
type MarketplaceListing struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	InternalProductID uuid.UUID          `gorm:"column:internal_product_id;type:uuid;not null;index"`
	Marketplace       string             `gorm:"column:marketplace;not null"`
	ExternalListingID *string            `gorm:"column:external_listing_id"`
	State             enums.ListingState `gorm:"column:state;not null;default:'DRAFT'"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
}
