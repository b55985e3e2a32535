package task

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for task operations.
var (
	// ErrNotFound is returned when the requested task does not exist.
	ErrNotFound = errors.New("task not found")

	// ErrValidationFailed is wrapped by every ValidationError.
	ErrValidationFailed = errors.New("validation failed")
)

// Validation rule identifiers reported in FieldError.Rule.
const (
	RuleLength    = "length"
	RuleEnum      = "enum"
	RuleNotNull   = "not_null"
	RuleTagCount  = "tag_count"
	RuleTagLength = "tag_length"
	RuleFuture    = "future"
	RuleRange     = "range"
	RuleFormat    = "format"
)

// FieldError describes one broken rule on one field.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError lists every violation found in a payload.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return fmt.Sprintf("%s: %s", ErrValidationFailed, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// Add records a violation.
func (e *ValidationError) Add(field, rule, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Rule: rule, Message: message})
}

// Err returns nil when no violation was recorded.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
