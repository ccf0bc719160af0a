package catalog

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxImages caps how many image references one product keeps.
const MaxImages = 4

// costPlaces matches the scale of supplier_products.cost_price.
const costPlaces = 2

// parseCost reads a price like "1,299.00", "$12.5" or 12.5, rounded to
// whole cents. Anything unparseable is zero.
func parseCost(raw FlexString) decimal.Decimal {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return -1
		}
	}, string(raw))
	if cleaned == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return d.Round(costPlaces)
}

// parseStock returns nil when stock is absent or not an integer; unknown
// stock is never coerced to a number.
func parseStock(raw *FlexString) *int {
	if raw == nil {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(*raw)))
	if err != nil {
		return nil
	}
	return &n
}

// collectImages keeps the first limit non-empty references in order.
func collectImages(images []string, limit int) []string {
	if limit > MaxImages {
		limit = MaxImages
	}
	out := make([]string, 0, limit)
	for _, img := range images {
		if len(out) >= limit {
			break
		}
		if img = strings.TrimSpace(img); img != "" {
			out = append(out, img)
		}
	}
	return out
}

// InternalSKU derives the catalog SKU for a supplier's external SKU.
func InternalSKU(prefix, externalSKU string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return externalSKU
	}
	return prefix + "-" + externalSKU
}
