package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// snapshot is the change-relevant subset of a record. Rank, page and
// category are excluded; they are refreshed on every sighting.
type snapshot struct {
	Title       string
	Description string
	Brand       string
	Condition   string
	Cost        decimal.Decimal
	Status      string
	Images      []string
	Specs       map[string]any
	RawStock    *FlexString
}

// Hash returns a hex SHA-256 over a key-sorted JSON encoding of s.
func (s snapshot) Hash() (string, error) {
	var stock any
	if s.RawStock != nil {
		stock = string(*s.RawStock)
	}
	images := s.Images
	if images == nil {
		images = []string{}
	}
	specs := s.Specs
	if specs == nil {
		specs = map[string]any{}
	}
	// encoding/json sorts map keys, including nested spec maps
	payload, err := json.Marshal(map[string]any{
		"title":       s.Title,
		"description": s.Description,
		"brand":       s.Brand,
		"condition":   s.Condition,
		"cost":        s.Cost.String(),
		"status":      s.Status,
		"images":      images,
		"specs":       specs,
		"stock":       stock,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
