package validation

import (
	"fmt"
	"strings"
)

// maxLeadsPerDelivery caps how many leads a single webhook delivery may carry.
const maxLeadsPerDelivery = 100

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

// ValidateLeadID returns an error if the id is not a positive integer.
func ValidateLeadID(field string, id int64) *ValidationError {
	if id <= 0 {
		return &ValidationError{
			Field:   field,
			Message: "must be a positive integer",
		}
	}
	return nil
}

// ValidateLeadCount returns an error if the delivery carries no leads or
// more than the per-delivery cap.
func ValidateLeadCount(field string, count int) *ValidationError {
	if count == 0 {
		return &ValidationError{
			Field:   field,
			Message: "must contain at least one lead",
		}
	}
	if count > maxLeadsPerDelivery {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum of %d leads per delivery", maxLeadsPerDelivery),
		}
	}
	return nil
}
