package enums

// AuditAction names the kind of mutation recorded in the audit log. The
// vocabulary is open; the sync engine itself only emits the constants below.
type AuditAction string

const (
	AuditActionPriceChange  AuditAction = "PRICE_CHANGE"
	AuditActionTitleChange  AuditAction = "TITLE_CHANGE"
	AuditActionStatusChange AuditAction = "STATUS_CHANGE"
)

// String implements fmt.Stringer.
func (a AuditAction) String() string {
	return string(a)
}

// AuditEntityType identifies the table an audit entry refers to.
type AuditEntityType string

const (
	AuditEntitySupplierProduct AuditEntityType = "supplier_product"
	AuditEntityInternalProduct AuditEntityType = "internal_product"
)

// String implements fmt.Stringer.
func (e AuditEntityType) String() string {
	return string(e)
}
