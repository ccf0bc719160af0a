// Package reconcile decides what a completed run's absences mean. The gate
// vets run health, the engine walks unseen and returned products through
// PRESENT -> MISSING_ONCE -> REMOVED and back, and removals enqueue a listing
// withdrawal in the same transaction as the status change.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/catalogsync/internal/audit"
	"github.com/angelmondragon/catalogsync/pkg/commands"
	"github.com/angelmondragon/catalogsync/pkg/db"
	"github.com/angelmondragon/catalogsync/pkg/db/models"
	"github.com/angelmondragon/catalogsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/catalogsync/pkg/errors"
	"github.com/angelmondragon/catalogsync/pkg/logger"
	"github.com/angelmondragon/catalogsync/pkg/metrics"
)

// Actor is recorded on status change audit entries.
const Actor = "reconcile.engine"

// Report counts what one ProcessOrphans call changed.
type Report struct {
	MarkedMissing int
	Removed       int
	Healed        int
	Withdrawals   int
	Skipped       int
	Failed        int
}

type EngineParams struct {
	Logger   *logger.Logger
	DB       db.TxRunner
	Repo     *Repository
	Audit    audit.Appender
	Commands commands.Enqueuer
	Metrics  *metrics.SyncMetrics
	Now      func() time.Time
}

type Engine struct {
	logg     *logger.Logger
	db       db.TxRunner
	repo     *Repository
	audit    audit.Appender
	commands commands.Enqueuer
	metrics  *metrics.SyncMetrics
	now      func() time.Time
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("reconcile repository required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit appender required")
	}
	if params.Commands == nil {
		return nil, fmt.Errorf("command enqueuer required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		logg:     params.Logger,
		db:       params.DB,
		repo:     params.Repo,
		audit:    params.Audit,
		commands: params.Commands,
		metrics:  params.Metrics,
		now:      now,
	}, nil
}

// ProcessOrphans advances every product of supplierID that was not seen
// since runStart and restores products seen again. Callers must only invoke
// it after the gate judged the run safe. Each product commits on its own;
// failures are collected and the pass continues.
func (e *Engine) ProcessOrphans(ctx context.Context, supplierID string, runStart time.Time) (*Report, error) {
	if strings.TrimSpace(supplierID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "supplier id is required")
	}
	if runStart.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "run start is required")
	}
	runStart = runStart.UTC()
	ctx = e.logg.WithSupplierID(ctx, supplierID)

	orphans, err := e.repo.ListOrphans(ctx, supplierID, runStart)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: list orphaned supplier products")
	}
	returned, err := e.repo.ListReturned(ctx, supplierID, runStart)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: list returned supplier products")
	}

	report := &Report{}
	var errs []error
	for i := range orphans {
		row := &orphans[i]
		from := row.SyncStatus.Normalize()
		to := from.NextMissing()
		applied, withdrawn, err := e.transition(ctx, row, from, to)
		e.tally(ctx, report, row, from, to, applied, withdrawn, err, &errs)
	}
	for i := range returned {
		row := &returned[i]
		from := row.SyncStatus.Normalize()
		applied, _, err := e.transition(ctx, row, from, enums.SyncStatusPresent)
		e.tally(ctx, report, row, from, enums.SyncStatusPresent, applied, false, err, &errs)
	}

	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"run_start":      runStart,
		"marked_missing": report.MarkedMissing,
		"removed":        report.Removed,
		"healed":         report.Healed,
		"withdrawals":    report.Withdrawals,
		"skipped":        report.Skipped,
		"failed":         report.Failed,
	}), "reconciliation pass complete")
	return report, multierr.Combine(errs...)
}

func (e *Engine) tally(ctx context.Context, report *Report, row *models.SupplierProduct, from, to enums.SyncStatus, applied, withdrawn bool, err error, errs *[]error) {
	if err != nil {
		report.Failed++
		*errs = append(*errs, fmt.Errorf("supplier product %s: %w", row.ID, err))
		e.logg.Error(e.logg.WithFields(ctx, map[string]any{
			"supplier_product_id": row.ID.String(),
			"external_sku":        row.ExternalSKU,
			"from":                from,
			"to":                  to,
		}), "status transition failed", err)
		return
	}
	if !applied {
		report.Skipped++
		return
	}
	switch to {
	case enums.SyncStatusMissingOnce:
		report.MarkedMissing++
	case enums.SyncStatusRemoved:
		report.Removed++
	case enums.SyncStatusPresent:
		report.Healed++
	}
	if withdrawn {
		report.Withdrawals++
		e.metrics.IncWithdrawal(row.SupplierID)
	}
	e.metrics.IncTransition(row.SupplierID, string(from), string(to))
}

// transition applies one status change with its audit entry and, on removal,
// the withdrawal command. Nothing is written when the stored status moved
// since it was read.
func (e *Engine) transition(ctx context.Context, row *models.SupplierProduct, from, to enums.SyncStatus) (bool, bool, error) {
	var applied, withdrawn bool
	err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)
		ok, err := repo.TransitionStatus(ctx, row.ID, from, to, e.now().UTC())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: update sync status")
		}
		if !ok {
			return nil
		}
		if err := e.audit.Append(ctx, tx, audit.Entry{
			EntityType: enums.AuditEntitySupplierProduct,
			EntityID:   row.ID,
			Action:     enums.AuditActionStatusChange,
			OldValue:   audit.Value(string(from)),
			NewValue:   audit.Value(string(to)),
			Actor:      Actor,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: append status audit")
		}
		if to == enums.SyncStatusRemoved {
			queued, err := e.withdraw(ctx, tx, repo, row)
			if err != nil {
				return err
			}
			withdrawn = queued
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, false, err
	}
	return applied, withdrawn, nil
}

// withdraw enqueues at most one withdrawal for the first live listing of the
// internal product backed by row. A missing link or listing is not an error.
func (e *Engine) withdraw(ctx context.Context, tx *gorm.DB, repo *Repository, row *models.SupplierProduct) (bool, error) {
	owner, err := repo.FindOwner(ctx, row.ID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: load owning internal product")
	}
	if owner == nil {
		e.logg.Info(e.logg.WithField(ctx, "supplier_product_id", row.ID.String()), "removed product has no internal product; nothing to withdraw")
		return false, nil
	}
	listings, err := repo.ListListings(ctx, owner.ID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: list marketplace listings")
	}
	for _, listing := range listings {
		if !listing.State.IsLive() || listing.ExternalListingID == nil || strings.TrimSpace(*listing.ExternalListingID) == "" {
			continue
		}
		cmd, err := e.commands.Enqueue(ctx, tx, commands.Command{
			Type: enums.CommandWithdrawListing,
			Payload: commands.WithdrawListingPayload{
				Reason:            commands.ReasonSupplierRemoved,
				ListingID:         *listing.ExternalListingID,
				SupplierProductID: row.ID,
				InternalProductID: owner.ID,
			},
		})
		if err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "db: enqueue withdrawal")
		}
		e.logg.Info(e.logg.WithFields(ctx, map[string]any{
			"supplier_product_id": row.ID.String(),
			"internal_product_id": owner.ID.String(),
			"listing_id":          *listing.ExternalListingID,
			"command_id":          cmd.ID.String(),
		}), "listing withdrawal queued")
		return true, nil
	}
	return false, nil
}
