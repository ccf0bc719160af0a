package enums

import "fmt"

// SystemCommandType identifies the intent carried by a queued system command.
type SystemCommandType string

const (
	CommandWithdrawListing SystemCommandType = "WITHDRAW_LISTING"
)

// IsValid reports whether the value is a known SystemCommandType.
func (t SystemCommandType) IsValid() bool {
	return t == CommandWithdrawListing
}

// ParseSystemCommandType converts raw input into a SystemCommandType.
func ParseSystemCommandType(value string) (SystemCommandType, error) {
	t := SystemCommandType(value)
	if t.IsValid() {
		return t, nil
	}
	return "", fmt.Errorf("invalid system command type %q", value)
}

// SystemCommandStatus tracks dispatch progress of a queued command.
type SystemCommandStatus string

const (
	CommandStatusPending    SystemCommandStatus = "PENDING"
	CommandStatusDispatched SystemCommandStatus = "DISPATCHED"
	CommandStatusFailed     SystemCommandStatus = "FAILED"
)

// ListingState is the externally observed state of a marketplace listing.
type ListingState string

const (
	ListingStateDraft ListingState = "DRAFT"
	ListingStateLive  ListingState = "LIVE"
	ListingStateEnded ListingState = "ENDED"
)

// IsLive reports whether the listing is currently visible to buyers.
func (s ListingState) IsLive() bool {
	return s == ListingStateLive
}
