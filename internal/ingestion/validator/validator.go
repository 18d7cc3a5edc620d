// Package validator provides input validation for item writes and returns
// per-field error details.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/searchapi/internal/item"
)

const (
	maxIDLength        = 255
	maxFieldNameLength = 128
	maxFields          = 256
	maxValueLength     = 1048576
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// ValidateItemRequest checks ids, field names, field types and value sizes.
func ValidateItemRequest(req *ingestion.ItemRequest) error {
	errs := make(map[string]string)

	if id := strings.TrimSpace(req.ID); id == "" {
		errs["id"] = "id is required"
	} else if len(id) > maxIDLength {
		errs["id"] = fmt.Sprintf("id must be at most %d characters", maxIDLength)
	}
	if strings.TrimSpace(req.Datasource) == "" {
		errs["datasource"] = "datasource is required"
	}
	if len(req.Fields) > maxFields {
		errs["fields"] = fmt.Sprintf("at most %d fields are allowed", maxFields)
	}
	for name, f := range req.Fields {
		key := "fields." + name
		switch {
		case name == "" || len(name) > maxFieldNameLength:
			errs[key] = fmt.Sprintf("field names must be 1 to %d characters", maxFieldNameLength)
		case name == item.AccessField:
			errs[key] = "field is reserved"
		case f == nil:
			errs[key] = "field must be an object"
		case !f.Type.Valid():
			errs[key] = fmt.Sprintf("unknown field type %q", f.Type)
		default:
			for _, v := range f.Values {
				if s, ok := v.(string); ok && len(s) > maxValueLength {
					errs[key] = fmt.Sprintf("values must be at most %d bytes", maxValueLength)
					break
				}
			}
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
