package models

// All lists every model owned by the sync engine, in migration order.
func All() []any {
	return []any{
		&SupplierProduct{},
		&InternalProduct{},
		&MarketplaceListing{},
		&AuditLog{},
		&SystemCommand{},
	}
}
