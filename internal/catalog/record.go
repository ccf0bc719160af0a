package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/catalogsync/pkg/errors"
)

// FlexString accepts either a JSON string or a JSON number and keeps the raw
// text. Scrapers disagree on whether prices and stock are quoted.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string {
	return string(f)
}

// Record is one normalized product as produced by a scraper adapter.
type Record struct {
	ExternalID     string         `json:"external_id" validate:"required"`
	Title          string         `json:"title" validate:"required"`
	URL            string         `json:"url"`
	Description    string         `json:"description"`
	Brand          string         `json:"brand"`
	Condition      string         `json:"condition"`
	Status         string         `json:"status"`
	Price          FlexString     `json:"price"`
	Stock          *FlexString    `json:"stock,omitempty"`
	Images         []string       `json:"images"`
	Specs          map[string]any `json:"specs"`
	Category       string         `json:"category"`
	CollectionRank *int           `json:"collection_rank,omitempty"`
	CollectionPage *int           `json:"collection_page,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// Validate checks the fields a record cannot be synced without.
func (r Record) Validate() error {
	trimmed := r
	trimmed.Title = strings.TrimSpace(r.Title)
	trimmed.ExternalID = strings.TrimSpace(r.ExternalID)
	if err := validate.Struct(trimmed); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok {
			details := map[string]string{}
			for _, fieldErr := range errs {
				details[fieldErr.Field()] = "is " + fieldErr.Tag()
			}
			return pkgerrors.New(pkgerrors.CodeValidation, "record failed validation").WithDetails(details)
		}
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "record failed validation")
	}
	return nil
}
