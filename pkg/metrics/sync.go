package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "catalogsync"

// SyncMetrics records the outcomes of supplier sync runs. A nil *SyncMetrics
// or one built without a registerer is a no-op.
type SyncMetrics struct {
	upserts        *prometheus.CounterVec
	gateDecisions  *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	withdrawals    *prometheus.CounterVec
	assetDownloads *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
}

// NewSyncMetrics registers the sync metrics on the provided registerer.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	upserts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upserts_total",
		Help:      "Upsert outcomes per supplier.",
	}, []string{"supplier", "outcome"})
	gateDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gate_decisions_total",
		Help:      "Safety gate decisions per supplier.",
	}, []string{"supplier", "decision"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_transitions_total",
		Help:      "Supplier product sync status transitions.",
	}, []string{"supplier", "from", "to"})
	withdrawals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "withdrawals_queued_total",
		Help:      "Listing withdrawal commands queued.",
	}, []string{"supplier"})
	assetDownloads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "asset_downloads_total",
		Help:      "Image acquisition attempts by result.",
	}, []string{"result"})
	runDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of supplier sync runs in seconds.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"supplier"})
	reg.MustRegister(upserts, gateDecisions, transitions, withdrawals, assetDownloads, runDuration)
	return &SyncMetrics{
		upserts:        upserts,
		gateDecisions:  gateDecisions,
		transitions:    transitions,
		withdrawals:    withdrawals,
		assetDownloads: assetDownloads,
		runDuration:    runDuration,
	}
}

// IncUpsert counts one upsert outcome (created, updated, unchanged, failed).
func (m *SyncMetrics) IncUpsert(supplier, outcome string) {
	if m == nil || m.upserts == nil {
		return
	}
	m.upserts.WithLabelValues(normalizeLabel(supplier), normalizeLabel(outcome)).Inc()
}

// IncGateDecision counts a safety gate evaluation.
func (m *SyncMetrics) IncGateDecision(supplier string, safe bool) {
	if m == nil || m.gateDecisions == nil {
		return
	}
	decision := "unsafe"
	if safe {
		decision = "safe"
	}
	m.gateDecisions.WithLabelValues(normalizeLabel(supplier), decision).Inc()
}

// IncTransition counts a sync status change.
func (m *SyncMetrics) IncTransition(supplier, from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(supplier), normalizeLabel(from), normalizeLabel(to)).Inc()
}

// IncWithdrawal counts a queued WITHDRAW_LISTING command.
func (m *SyncMetrics) IncWithdrawal(supplier string) {
	if m == nil || m.withdrawals == nil {
		return
	}
	m.withdrawals.WithLabelValues(normalizeLabel(supplier)).Inc()
}

// IncAssetDownload counts one image acquisition by result.
func (m *SyncMetrics) IncAssetDownload(result string) {
	if m == nil || m.assetDownloads == nil {
		return
	}
	m.assetDownloads.WithLabelValues(normalizeLabel(result)).Inc()
}

// ObserveRun records the duration of a whole run.
func (m *SyncMetrics) ObserveRun(supplier string, duration time.Duration) {
	if m == nil || m.runDuration == nil {
		return
	}
	m.runDuration.WithLabelValues(normalizeLabel(supplier)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
