package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalogsync/pkg/db/models"
)

// Repository persists supplier and internal products. Every method runs on
// the handle it was built with; use WithTx to bind it to a transaction.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

// FindByExternalSKU loads a supplier product by its natural key.
func (r *Repository) FindByExternalSKU(ctx context.Context, supplierID, externalSKU string) (*models.SupplierProduct, error) {
	var row models.SupplierProduct
	err := r.db.WithContext(ctx).
		Where("supplier_id = ? AND external_sku = ?", supplierID, externalSKU).
		Take(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// FindSupplierProduct loads a supplier product by id.
func (r *Repository) FindSupplierProduct(ctx context.Context, id uuid.UUID) (*models.SupplierProduct, error) {
	var row models.SupplierProduct
	if err := r.db.WithContext(ctx).Take(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// FindBySKU loads an internal product by its catalog SKU.
func (r *Repository) FindBySKU(ctx context.Context, sku string) (*models.InternalProduct, error) {
	var row models.InternalProduct
	if err := r.db.WithContext(ctx).Where("sku = ?", sku).Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *Repository) CreateSupplierProduct(ctx context.Context, row *models.SupplierProduct) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(row).Error
}

// SaveContent overwrites the change-tracked fields of a supplier product.
func (r *Repository) SaveContent(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.SupplierProduct{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// Touch records a sighting without content changes.
func (r *Repository) Touch(ctx context.Context, id uuid.UUID, seenAt time.Time, rank, page *int, category string) error {
	return r.SaveContent(ctx, id, map[string]any{
		"last_scraped_at": seenAt,
		"collection_rank": rank,
		"collection_page": page,
		"category_path":   category,
	})
}

func (r *Repository) CreateInternalProduct(ctx context.Context, row *models.InternalProduct) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(row).Error
}

// SetPrimary repoints an internal product at a supplier product.
func (r *Repository) SetPrimary(ctx context.Context, internalID, supplierProductID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.InternalProduct{}).
		Where("id = ?", internalID).
		Update("primary_supplier_product_id", supplierProductID).Error
}
