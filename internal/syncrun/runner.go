// Package syncrun drives one supplier run end to end: stream records through
// the upserter, judge the run with the safety gate, then reconcile absences
// under a per-supplier lock.
package syncrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/catalogsync/internal/catalog"
	"github.com/angelmondragon/catalogsync/internal/ingest"
	"github.com/angelmondragon/catalogsync/internal/reconcile"
	pkgerrors "github.com/angelmondragon/catalogsync/pkg/errors"
	"github.com/angelmondragon/catalogsync/pkg/logger"
	"github.com/angelmondragon/catalogsync/pkg/metrics"
)

const (
	DefaultParallelism = 4
	maxParallelism     = 64
)

// Skip reasons reported on Summary.
const (
	SkipUnsafe     = "gate_unsafe"
	SkipLockHeld   = "lock_held"
	SkipIncomplete = "stream_incomplete"
)

type upserter interface {
	Upsert(ctx context.Context, supplier catalog.Supplier, externalSKU string, rec catalog.Record) (*catalog.Result, error)
}

type gate interface {
	Check(ctx context.Context, supplierID string, attempted, failed int) reconcile.Decision
}

type reconciler interface {
	ProcessOrphans(ctx context.Context, supplierID string, runStart time.Time) (*reconcile.Report, error)
}

// Summary describes one completed run.
type Summary struct {
	RunID            string
	SupplierID       string
	RunStart         time.Time
	Attempted        int
	Failed           int
	Created          int
	Updated          int
	Unchanged        int
	Healed           int
	Gate             reconcile.Decision
	ReconcileSkipped bool
	SkipReason       string
	Report           *reconcile.Report
	Duration         time.Duration
}

type RunnerParams struct {
	Logger      *logger.Logger
	Upserter    upserter
	Gate        gate
	Engine      reconciler
	Locker      reconcile.Locker
	Metrics     *metrics.SyncMetrics
	Parallelism int
	Now         func() time.Time
}

type Runner struct {
	logg        *logger.Logger
	upserter    upserter
	gate        gate
	engine      reconciler
	locker      reconcile.Locker
	metrics     *metrics.SyncMetrics
	parallelism int
	now         func() time.Time
}

func NewRunner(params RunnerParams) (*Runner, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Upserter == nil {
		return nil, fmt.Errorf("upserter required")
	}
	if params.Gate == nil {
		return nil, fmt.Errorf("safety gate required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("reconciliation engine required")
	}
	locker := params.Locker
	if locker == nil {
		locker = reconcile.NewMemoryLocker()
	}
	parallelism := params.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	if parallelism > maxParallelism {
		parallelism = maxParallelism
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		logg:        params.Logger,
		upserter:    params.Upserter,
		gate:        params.Gate,
		engine:      params.Engine,
		locker:      locker,
		metrics:     params.Metrics,
		parallelism: parallelism,
		now:         now,
	}, nil
}

// Run consumes source completely and reconciles when the run was healthy.
// Record level failures are counted, never returned. The returned error is
// set when the stream could not be read to the end, the lock store failed or
// reconciliation reported failures; the summary is populated either way.
func (r *Runner) Run(ctx context.Context, supplier catalog.Supplier, source ingest.Source) (*Summary, error) {
	if strings.TrimSpace(supplier.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "supplier id is required")
	}
	if source == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "record source is required")
	}

	summary := &Summary{
		RunID:      uuid.NewString(),
		SupplierID: supplier.ID,
		RunStart:   r.now().UTC(),
	}
	ctx = r.logg.WithRunID(ctx, summary.RunID)
	ctx = r.logg.WithSupplierID(ctx, supplier.ID)
	r.logg.Info(r.logg.WithField(ctx, "run_start", summary.RunStart), "sync run starting")
	defer func() {
		summary.Duration = r.now().Sub(summary.RunStart)
		r.metrics.ObserveRun(supplier.ID, summary.Duration)
	}()

	streamErr := r.ingest(ctx, supplier, source, summary)
	if streamErr != nil {
		summary.ReconcileSkipped = true
		summary.SkipReason = SkipIncomplete
		r.logg.Error(ctx, "record stream ended early; reconciliation skipped", streamErr)
		return summary, streamErr
	}

	summary.Gate = r.gate.Check(ctx, supplier.ID, summary.Attempted, summary.Failed)
	if !summary.Gate.Safe {
		summary.ReconcileSkipped = true
		summary.SkipReason = SkipUnsafe
		r.logSummary(ctx, summary)
		return summary, nil
	}

	err := r.reconcile(ctx, supplier.ID, summary)
	r.logSummary(ctx, summary)
	return summary, err
}

// ingest feeds every record to the upserter with bounded parallelism.
// Records sharing an external SKU never run concurrently.
func (r *Runner) ingest(ctx context.Context, supplier catalog.Supplier, source ingest.Source, summary *Summary) error {
	var (
		mu    sync.Mutex
		group errgroup.Group
		keys  = newKeyedMutex()
	)
	group.SetLimit(r.parallelism)

	count := func(outcome string, healed bool) {
		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case string(catalog.OutcomeCreated):
			summary.Created++
		case string(catalog.OutcomeUpdated):
			summary.Updated++
		case string(catalog.OutcomeUnchanged):
			summary.Unchanged++
		default:
			summary.Failed++
		}
		if healed {
			summary.Healed++
		}
		r.metrics.IncUpsert(supplier.ID, outcome)
	}

	var streamErr error
	for {
		rec, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
				streamErr = err
				break
			}
			mu.Lock()
			summary.Attempted++
			mu.Unlock()
			count("invalid", false)
			r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "skipping undecodable record")
			continue
		}

		mu.Lock()
		summary.Attempted++
		mu.Unlock()

		sku := strings.TrimSpace(rec.ExternalID)
		group.Go(func() error {
			unlock := keys.Lock(sku)
			res, err := r.upserter.Upsert(ctx, supplier, sku, rec)
			unlock()
			if err != nil {
				r.logg.Error(r.logg.WithExternalSKU(ctx, sku), "upsert failed", err)
				count("failed", false)
				return nil
			}
			count(string(res.Outcome), res.Healed)
			return nil
		})
	}
	_ = group.Wait()
	return streamErr
}

func (r *Runner) reconcile(ctx context.Context, supplierID string, summary *Summary) error {
	lock, err := r.locker.ForSupplier(supplierID)
	if err != nil {
		return fmt.Errorf("reconcile lock: %w", err)
	}
	locked, err := lock.Acquire(ctx)
	if err != nil {
		summary.ReconcileSkipped = true
		return fmt.Errorf("reconcile lock acquire: %w", err)
	}
	if !locked {
		summary.ReconcileSkipped = true
		summary.SkipReason = SkipLockHeld
		r.logg.Warn(ctx, "another worker is reconciling this supplier; skipping")
		return nil
	}
	defer func() {
		if relErr := lock.Release(ctx); relErr != nil {
			r.logg.Error(ctx, "failed to release reconcile lock", relErr)
		}
	}()

	report, err := r.engine.ProcessOrphans(ctx, supplierID, summary.RunStart)
	summary.Report = report
	return err
}

func (r *Runner) logSummary(ctx context.Context, s *Summary) {
	fields := map[string]any{
		"attempted":         s.Attempted,
		"failed":            s.Failed,
		"created":           s.Created,
		"updated":           s.Updated,
		"unchanged":         s.Unchanged,
		"healed_links":      s.Healed,
		"success_rate":      s.Gate.SuccessRate,
		"reconcile_skipped": s.ReconcileSkipped,
	}
	if s.SkipReason != "" {
		fields["skip_reason"] = s.SkipReason
	}
	if s.Report != nil {
		fields["marked_missing"] = s.Report.MarkedMissing
		fields["removed"] = s.Report.Removed
		fields["restored"] = s.Report.Healed
		fields["withdrawals"] = s.Report.Withdrawals
	}
	r.logg.Info(r.logg.WithFields(ctx, fields), "sync run complete")
}
