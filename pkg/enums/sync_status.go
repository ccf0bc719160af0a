package enums

import "fmt"

// SyncStatus tracks whether a supplier product is still offered upstream.
type SyncStatus string

const (
	SyncStatusPresent     SyncStatus = "PRESENT"
	SyncStatusMissingOnce SyncStatus = "MISSING_ONCE"
	SyncStatusRemoved     SyncStatus = "REMOVED"
)

var validSyncStatuses = []SyncStatus{
	SyncStatusPresent,
	SyncStatusMissingOnce,
	SyncStatusRemoved,
}

// String implements fmt.Stringer.
func (s SyncStatus) String() string {
	return string(s)
}

// Normalize maps the unset value to PRESENT.
func (s SyncStatus) Normalize() SyncStatus {
	if s == "" {
		return SyncStatusPresent
	}
	return s
}

// IsValid reports whether the value is a known SyncStatus.
func (s SyncStatus) IsValid() bool {
	for _, candidate := range validSyncStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// NextMissing returns the status a product moves to when a run does not see it.
// REMOVED is terminal until the product reappears.
func (s SyncStatus) NextMissing() SyncStatus {
	switch s.Normalize() {
	case SyncStatusPresent:
		return SyncStatusMissingOnce
	default:
		return SyncStatusRemoved
	}
}

// ParseSyncStatus converts raw input into a SyncStatus. Empty input is PRESENT.
func ParseSyncStatus(value string) (SyncStatus, error) {
	status := SyncStatus(value).Normalize()
	if status.IsValid() {
		return status, nil
	}
	return "", fmt.Errorf("invalid sync status %q", value)
}
