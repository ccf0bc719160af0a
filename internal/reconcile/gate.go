package reconcile

import (
	"context"

	"github.com/angelmondragon/catalogsync/pkg/logger"
	"github.com/angelmondragon/catalogsync/pkg/metrics"
)

// DefaultMinSuccessRate is the lowest run success rate that still allows
// reconciliation.
const DefaultMinSuccessRate = 0.90

// rateEpsilon keeps the boundary inclusive despite float rounding.
const rateEpsilon = 1e-9

// Decision is the outcome of one gate evaluation.
type Decision struct {
	Safe        bool
	Attempted   int
	Failed      int
	SuccessRate float64
	Reason      string
}

// Gate decides whether a run was healthy enough for its absences to count
// as evidence. It holds no state between calls.
type Gate struct {
	minSuccessRate float64
	logg           *logger.Logger
	metrics        *metrics.SyncMetrics
}

func NewGate(minSuccessRate float64, logg *logger.Logger, m *metrics.SyncMetrics) *Gate {
	if minSuccessRate < 0 || minSuccessRate > 1 {
		minSuccessRate = DefaultMinSuccessRate
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Gate{minSuccessRate: minSuccessRate, logg: logg, metrics: m}
}

// Evaluate applies the policy without side effects. A success rate exactly
// at the threshold is safe.
func (g *Gate) Evaluate(attempted, failed int) Decision {
	d := Decision{Attempted: attempted, Failed: failed}
	switch {
	case attempted <= 0:
		d.Reason = "no records attempted"
		return d
	case failed < 0 || failed > attempted:
		d.Reason = "failed count out of range"
		return d
	}
	d.SuccessRate = float64(attempted-failed) / float64(attempted)
	if d.SuccessRate+rateEpsilon < g.minSuccessRate {
		d.Reason = "success rate below threshold"
		return d
	}
	d.Safe = true
	d.Reason = "success rate within threshold"
	return d
}

// IsSafeToReconcile reports whether a run with these counts may mark
// unseen products missing.
func (g *Gate) IsSafeToReconcile(ctx context.Context, attempted, failed int) bool {
	return g.Check(ctx, "", attempted, failed).Safe
}

// Check evaluates, logs and records the decision for one supplier run.
func (g *Gate) Check(ctx context.Context, supplierID string, attempted, failed int) Decision {
	d := g.Evaluate(attempted, failed)
	logCtx := g.logg.WithFields(ctx, map[string]any{
		"attempted":        d.Attempted,
		"failed":           d.Failed,
		"success_rate":     d.SuccessRate,
		"min_success_rate": g.minSuccessRate,
		"reason":           d.Reason,
	})
	if supplierID != "" {
		logCtx = g.logg.WithSupplierID(logCtx, supplierID)
	}
	if d.Safe {
		g.logg.Info(logCtx, "safety gate passed")
	} else {
		g.logg.Warn(logCtx, "safety gate blocked reconciliation")
	}
	g.metrics.IncGateDecision(supplierID, d.Safe)
	return d
}
