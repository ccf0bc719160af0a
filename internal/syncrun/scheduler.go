package syncrun

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/catalogsync/internal/catalog"
	"github.com/angelmondragon/catalogsync/internal/ingest"
	"github.com/angelmondragon/catalogsync/pkg/logger"
)

// SourceOpener produces a fresh record source for each cycle. The returned
// close func is called once the cycle finishes.
type SourceOpener func(ctx context.Context) (ingest.Source, func() error, error)

type syncRunner interface {
	Run(ctx context.Context, supplier catalog.Supplier, source ingest.Source) (*Summary, error)
}

// SchedulerParams configure the scheduler.
type SchedulerParams struct {
	Logger   *logger.Logger
	Runner   syncRunner
	Supplier catalog.Supplier
	Open     SourceOpener
	Interval time.Duration
	Tracker  *Tracker
}

// Scheduler repeats supplier runs on a fixed cadence.
type Scheduler struct {
	logg     *logger.Logger
	runner   syncRunner
	supplier catalog.Supplier
	open     SourceOpener
	interval time.Duration
	tracker  *Tracker
}

func NewScheduler(params SchedulerParams) (*Scheduler, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Runner == nil {
		return nil, fmt.Errorf("runner required")
	}
	if params.Open == nil {
		return nil, fmt.Errorf("source opener required")
	}
	return &Scheduler{
		logg:     params.Logger,
		runner:   params.Runner,
		supplier: params.Supplier,
		open:     params.Open,
		interval: params.Interval,
		tracker:  params.Tracker,
	}, nil
}

// Run executes one cycle immediately. With a positive interval it keeps
// cycling until ctx is canceled; otherwise it returns the cycle's error.
func (s *Scheduler) Run(ctx context.Context) error {
	err := s.RunOnce(ctx)
	if s.interval <= 0 {
		return err
	}
	if err != nil {
		s.logg.Error(ctx, "scheduled sync failed", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "sync scheduler context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logg.Error(ctx, "scheduled sync failed", err)
			}
		}
	}
}

// RunOnce opens a source and runs it to completion.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	source, closeFn, err := s.open(ctx)
	if err != nil {
		return fmt.Errorf("open record source: %w", err)
	}
	defer func() {
		if closeFn == nil {
			return
		}
		if cerr := closeFn(); cerr != nil {
			s.logg.Error(ctx, "failed to close record source", cerr)
		}
	}()

	summary, err := s.runner.Run(ctx, s.supplier, source)
	s.tracker.Record(summary, err)
	return err
}

// FileOpener opens a JSON lines file on every cycle.
func FileOpener(path string) SourceOpener {
	return func(context.Context) (ingest.Source, func() error, error) {
		src, err := ingest.OpenFile(path)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	}
}
