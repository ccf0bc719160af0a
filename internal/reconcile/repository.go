package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalogsync/pkg/db/models"
	"github.com/angelmondragon/catalogsync/pkg/enums"
)

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

// ListOrphans returns the supplier's products not seen since runStart that
// are not already removed.
func (r *Repository) ListOrphans(ctx context.Context, supplierID string, runStart time.Time) ([]models.SupplierProduct, error) {
	var rows []models.SupplierProduct
	err := r.db.WithContext(ctx).
		Select("id", "supplier_id", "external_sku", "sync_status", "last_scraped_at").
		Where("supplier_id = ? AND last_scraped_at < ?", supplierID, runStart).
		Where("(sync_status IS NULL OR sync_status <> ?)", enums.SyncStatusRemoved).
		Order("last_scraped_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// ListReturned returns the supplier's products seen during the run that are
// still flagged missing or removed.
func (r *Repository) ListReturned(ctx context.Context, supplierID string, runStart time.Time) ([]models.SupplierProduct, error) {
	var rows []models.SupplierProduct
	err := r.db.WithContext(ctx).
		Select("id", "supplier_id", "external_sku", "sync_status", "last_scraped_at").
		Where("supplier_id = ? AND last_scraped_at >= ?", supplierID, runStart).
		Where("sync_status IN ?", []enums.SyncStatus{enums.SyncStatusMissingOnce, enums.SyncStatusRemoved}).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// TransitionStatus moves one row from -> to. It reports false when the row no
// longer carries from, which means another writer got there first.
func (r *Repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.SyncStatus, at time.Time) (bool, error) {
	q := r.db.WithContext(ctx).Model(&models.SupplierProduct{}).Where("id = ?", id)
	if from.Normalize() == enums.SyncStatusPresent {
		q = q.Where("(sync_status IS NULL OR sync_status IN ?)", []string{"", string(enums.SyncStatusPresent)})
	} else {
		q = q.Where("sync_status = ?", from)
	}
	res := q.Updates(map[string]any{
		"sync_status": to,
		"updated_at":  at,
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FindOwner returns the internal product whose primary pointer is the given
// supplier product, or nil when none is linked.
func (r *Repository) FindOwner(ctx context.Context, supplierProductID uuid.UUID) (*models.InternalProduct, error) {
	var rows []models.InternalProduct
	err := r.db.WithContext(ctx).
		Where("primary_supplier_product_id = ?", supplierProductID).
		Order("created_at ASC").
		Limit(1).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// ListListings returns an internal product's listings oldest first.
func (r *Repository) ListListings(ctx context.Context, internalProductID uuid.UUID) ([]models.MarketplaceListing, error) {
	var rows []models.MarketplaceListing
	err := r.db.WithContext(ctx).
		Where("internal_product_id = ?", internalProductID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}
