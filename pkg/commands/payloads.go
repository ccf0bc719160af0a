package commands

import "github.com/google/uuid"

// ReasonSupplierRemoved marks withdrawals caused by a product disappearing
// from two consecutive supplier runs.
const ReasonSupplierRemoved = "supplier_removed"

// WithdrawListingPayload is the body of a WITHDRAW_LISTING command.
type WithdrawListingPayload struct {
	Reason            string    `json:"reason"`
	ListingID         string    `json:"listing_id"`
	SupplierProductID uuid.UUID `json:"supplier_product_id"`
	InternalProductID uuid.UUID `json:"internal_product_id"`
}
