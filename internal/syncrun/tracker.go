package syncrun

import (
	"sync"
	"time"
)

// RunStatus is the externally visible record of the latest run.
type RunStatus struct {
	RunID            string    `json:"run_id"`
	SupplierID       string    `json:"supplier_id"`
	RunStart         time.Time `json:"run_start"`
	DurationMS       int64     `json:"duration_ms"`
	Attempted        int       `json:"attempted"`
	Failed           int       `json:"failed"`
	Created          int       `json:"created"`
	Updated          int       `json:"updated"`
	Unchanged        int       `json:"unchanged"`
	HealedLinks      int       `json:"healed_links"`
	SuccessRate      float64   `json:"success_rate"`
	GateSafe         bool      `json:"gate_safe"`
	ReconcileSkipped bool      `json:"reconcile_skipped"`
	SkipReason       string    `json:"skip_reason,omitempty"`
	MarkedMissing    int       `json:"marked_missing"`
	Removed          int       `json:"removed"`
	Restored         int       `json:"restored"`
	Withdrawals      int       `json:"withdrawals"`
	Error            string    `json:"error,omitempty"`
}

// Tracker keeps the most recent run for status endpoints.
type Tracker struct {
	mu   sync.RWMutex
	last *RunStatus
}

func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) Record(s *Summary, err error) {
	if t == nil || s == nil {
		return
	}
	status := &RunStatus{
		RunID:            s.RunID,
		SupplierID:       s.SupplierID,
		RunStart:         s.RunStart,
		DurationMS:       s.Duration.Milliseconds(),
		Attempted:        s.Attempted,
		Failed:           s.Failed,
		Created:          s.Created,
		Updated:          s.Updated,
		Unchanged:        s.Unchanged,
		HealedLinks:      s.Healed,
		SuccessRate:      s.Gate.SuccessRate,
		GateSafe:         s.Gate.Safe,
		ReconcileSkipped: s.ReconcileSkipped,
		SkipReason:       s.SkipReason,
	}
	if s.Report != nil {
		status.MarkedMissing = s.Report.MarkedMissing
		status.Removed = s.Report.Removed
		status.Restored = s.Report.Healed
		status.Withdrawals = s.Report.Withdrawals
	}
	if err != nil {
		status.Error = err.Error()
	}
	t.mu.Lock()
	t.last = status
	t.mu.Unlock()
}

// Last returns a copy of the latest run, or false before the first run.
func (t *Tracker) Last() (RunStatus, bool) {
	if t == nil {
		return RunStatus{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return RunStatus{}, false
	}
	return *t.last, true
}
