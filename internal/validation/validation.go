// Package validation holds the field-level checks shared by every caller
// that accepts input from outside the process boundary, chiefly
// internal/action's Enqueue path.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Enqueue field length ceilings. Connectors and action types are short
// identifiers, not free text, so the limits are generous but not unbounded.
const (
	MaxConnectorLength  = 200
	MaxActionTypeLength = 200
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be valid UTF-8",
		}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{
			Field:   field,
			Message: "must not contain null bytes",
		}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// ValidateRequired returns an error if the value is empty or whitespace-only.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	return nil
}

// ValidateEnum returns an error if the value is not in the allowed list.
func ValidateEnum(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateRange returns an error if the value is outside [min, max].
func ValidateRange(field string, value, min, max float64) *ValidationError {
	if value < min || value > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be between %.1f and %.1f", min, max),
		}
	}
	return nil
}

// ValidateActionEnqueue checks the two caller-supplied identifiers on an
// action enqueue request before it is content-hashed and pushed onto the
// outbox: both must be present, UTF-8, free of null bytes, and within the
// length ceiling above.
func ValidateActionEnqueue(connector, actionType string) []ValidationError {
	c := &Collector{}

	c.Add(ValidateRequired("connector", connector))
	c.Add(ValidateMaxLength("connector", connector, MaxConnectorLength))
	c.Add(ValidateUTF8("connector", connector))
	c.Add(ValidateNoNullBytes("connector", connector))

	c.Add(ValidateRequired("action_type", actionType))
	c.Add(ValidateMaxLength("action_type", actionType, MaxActionTypeLength))
	c.Add(ValidateUTF8("action_type", actionType))
	c.Add(ValidateNoNullBytes("action_type", actionType))

	return c.Errors()
}
