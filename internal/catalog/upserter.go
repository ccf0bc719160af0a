package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalogsync/internal/assets"
	"github.com/angelmondragon/catalogsync/internal/audit"
	"github.com/angelmondragon/catalogsync/pkg/db"
	"github.com/angelmondragon/catalogsync/pkg/db/models"
	"github.com/angelmondragon/catalogsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalogsync/pkg/errors"
	"github.com/angelmondragon/catalogsync/pkg/logger"
)

// Actor is recorded on audit entries written by the upserter.
const Actor = "catalog.upserter"

type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
)

// Supplier identifies the record stream being synchronized.
type Supplier struct {
	ID        string
	SKUPrefix string
}

// Result describes what one Upsert call did.
type Result struct {
	Outcome           Outcome
	SupplierProductID uuid.UUID
	InternalSKU       string
	// Healed is set when the internal product pointed at another row and was corrected.
	Healed bool
	Images []string
}

// ImageAcquirer materializes remote images locally.
type ImageAcquirer interface {
	Acquire(ctx context.Context, urls []string, subjectKey string, opts assets.Options) []assets.Asset
}

// UpserterParams configures an Upserter.
type UpserterParams struct {
	Logger           *logger.Logger
	DB               db.TxRunner
	Repo             *Repository
	Audit            audit.Appender
	Assets           ImageAcquirer
	ImageLimit       int
	ImageConcurrency int
	Canceled         func() bool
	Now              func() time.Time
}

type Upserter struct {
	logg             *logger.Logger
	db               db.TxRunner
	repo             *Repository
	audit            audit.Appender
	assets           ImageAcquirer
	imageLimit       int
	imageConcurrency int
	canceled         func() bool
	now              func() time.Time
}

func NewUpserter(params UpserterParams) (*Upserter, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit appender required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	limit := params.ImageLimit
	if limit < 0 {
		limit = 0
	}
	if limit > MaxImages {
		limit = MaxImages
	}
	return &Upserter{
		logg:             params.Logger,
		db:               params.DB,
		repo:             params.Repo,
		audit:            params.Audit,
		assets:           params.Assets,
		imageLimit:       limit,
		imageConcurrency: params.ImageConcurrency,
		canceled:         params.Canceled,
		now:              now,
	}, nil
}

// Upsert creates, updates or refreshes the supplier product for externalSKU.
// All writes of one call commit together. Field parse failures degrade to
// defaults; only validation and persistence failures are returned.
func (u *Upserter) Upsert(ctx context.Context, supplier Supplier, externalSKU string, rec Record) (*Result, error) {
	externalSKU = strings.TrimSpace(externalSKU)
	if externalSKU == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external sku is required")
	}
	if strings.TrimSpace(supplier.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "supplier id is required")
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	internalSKU := InternalSKU(supplier.SKUPrefix, externalSKU)
	ctx = u.logg.WithFields(ctx, map[string]any{
		"supplier_id":  supplier.ID,
		"external_sku": externalSKU,
		"internal_sku": internalSKU,
	})

	cost := parseCost(rec.Price)
	stock := parseStock(rec.Stock)
	images := u.resolveImages(ctx, collectImages(rec.Images, u.imageLimit), internalSKU)

	hash, err := snapshot{
		Title:       rec.Title,
		Description: rec.Description,
		Brand:       rec.Brand,
		Condition:   rec.Condition,
		Cost:        cost,
		Status:      rec.Status,
		Images:      images,
		Specs:       rec.Specs,
		RawStock:    rec.Stock,
	}.Hash()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "hash record snapshot")
	}

	seenAt := u.now().UTC()
	result := &Result{InternalSKU: internalSKU, Images: images}

	err = u.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := u.repo.WithTx(tx)

		existing, err := repo.FindByExternalSKU(ctx, supplier.ID, externalSKU)
		if err != nil && !db.IsNotFound(err) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: load supplier product")
		}

		switch {
		case existing == nil:
			row := &models.SupplierProduct{
				SupplierID:     supplier.ID,
				ExternalSKU:    externalSKU,
				Title:          rec.Title,
				Description:    rec.Description,
				Brand:          rec.Brand,
				Condition:      rec.Condition,
				SourceStatus:   rec.Status,
				CostPrice:      cost,
				StockLevel:     stock,
				ProductURL:     rec.URL,
				Images:         datatypes.JSONSlice[string](images),
				Specs:          datatypes.JSONMap(rec.Specs),
				CategoryPath:   rec.Category,
				CollectionRank: rec.CollectionRank,
				CollectionPage: rec.CollectionPage,
				SnapshotHash:   hash,
				SyncStatus:     enums.SyncStatusPresent,
				LastScrapedAt:  seenAt,
			}
			if err := repo.CreateSupplierProduct(ctx, row); err != nil {
				return err
			}
			result.Outcome = OutcomeCreated
			result.SupplierProductID = row.ID

		case existing.SnapshotHash == hash:
			if err := repo.Touch(ctx, existing.ID, seenAt, rec.CollectionRank, rec.CollectionPage, rec.Category); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: refresh supplier product")
			}
			result.Outcome = OutcomeUnchanged
			result.SupplierProductID = existing.ID

		default:
			if err := u.auditChanges(ctx, tx, existing, rec.Title, cost); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: append audit")
			}
			err := repo.SaveContent(ctx, existing.ID, map[string]any{
				"title":           rec.Title,
				"description":     rec.Description,
				"brand":           rec.Brand,
				"condition":       rec.Condition,
				"source_status":   rec.Status,
				"cost_price":      cost,
				"stock_level":     stock,
				"product_url":     rec.URL,
				"images":          datatypes.JSONSlice[string](images),
				"specs":           datatypes.JSONMap(rec.Specs),
				"snapshot_hash":   hash,
				"last_scraped_at": seenAt,
				"collection_rank": rec.CollectionRank,
				"collection_page": rec.CollectionPage,
				"category_path":   rec.Category,
			})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: update supplier product")
			}
			result.Outcome = OutcomeUpdated
			result.SupplierProductID = existing.ID
		}

		healed, err := u.ensureLink(ctx, repo, internalSKU, result.SupplierProductID)
		if err != nil {
			return err
		}
		result.Healed = healed
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "supplier product written concurrently")
		}
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert supplier product")
	}

	u.logg.Debug(u.logg.WithField(ctx, "outcome", string(result.Outcome)), "supplier product upserted")
	return result, nil
}

// resolveImages swaps remote references for local copies when at least one
// download succeeded. Otherwise the remote references are kept.
func (u *Upserter) resolveImages(ctx context.Context, remote []string, subjectKey string) []string {
	if len(remote) == 0 || u.assets == nil {
		return remote
	}
	acquired := u.assets.Acquire(ctx, remote, subjectKey, assets.Options{
		Limit:       u.imageLimit,
		Concurrency: u.imageConcurrency,
		Canceled:    u.canceled,
	})
	if len(acquired) == 0 {
		u.logg.Warn(u.logg.WithField(ctx, "images", len(remote)), "no images acquired, keeping remote references")
		return remote
	}
	local := make([]string, 0, len(acquired))
	for _, a := range acquired {
		local = append(local, a.Path)
	}
	return local
}

func (u *Upserter) auditChanges(ctx context.Context, tx *gorm.DB, prev *models.SupplierProduct, title string, cost decimal.Decimal) error {
	if !prev.CostPrice.Equal(cost) {
		if err := u.audit.Append(ctx, tx, audit.Entry{
			EntityType: enums.AuditEntitySupplierProduct,
			EntityID:   prev.ID,
			Action:     enums.AuditActionPriceChange,
			OldValue:   audit.Value(prev.CostPrice.StringFixed(2)),
			NewValue:   audit.Value(cost.StringFixed(2)),
			Actor:      Actor,
		}); err != nil {
			return err
		}
	}
	if prev.Title != title {
		if err := u.audit.Append(ctx, tx, audit.Entry{
			EntityType: enums.AuditEntitySupplierProduct,
			EntityID:   prev.ID,
			Action:     enums.AuditActionTitleChange,
			OldValue:   audit.Value(prev.Title),
			NewValue:   audit.Value(title),
			Actor:      Actor,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ensureLink creates the internal product on first sight and repoints it when
// it references any other row. It reports whether a correction was made.
func (u *Upserter) ensureLink(ctx context.Context, repo *Repository, sku string, supplierProductID uuid.UUID) (bool, error) {
	internal, err := repo.FindBySKU(ctx, sku)
	if err != nil && !db.IsNotFound(err) {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: load internal product")
	}
	if internal == nil {
		row := &models.InternalProduct{SKU: sku, PrimarySupplierProductID: &supplierProductID}
		if err := repo.CreateInternalProduct(ctx, row); err != nil {
			return false, err
		}
		return false, nil
	}
	if internal.PrimarySupplierProductID != nil && *internal.PrimarySupplierProductID == supplierProductID {
		return false, nil
	}

	previous := "<nil>"
	if internal.PrimarySupplierProductID != nil {
		previous = internal.PrimarySupplierProductID.String()
	}
	if err := repo.SetPrimary(ctx, internal.ID, supplierProductID); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: heal internal product link")
	}
	u.logg.Info(u.logg.WithFields(ctx, map[string]any{
		"internal_product_id": internal.ID.String(),
		"previous_primary_id": previous,
		"supplier_product_id": supplierProductID.String(),
	}), "internal product link healed")
	return true, nil
}
