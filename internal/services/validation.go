package services

import (
	"fmt"
	"strings"
)

// FieldError reports a single invalid input field with a human-readable reason.
type FieldError struct {
	Field  string
	Reason string
}

// ValidationError aggregates per-field failures so callers can fix all of
// them in one round trip.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field.Field, field.Reason))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// fieldRule is one row of a declarative validation table. The check returns
// an empty string when the field is valid.
type fieldRule struct {
	field string
	check func() string
}

// runRules evaluates every rule and collects all failures, keeping the
// declarative table order in the resulting error.
func runRules(rules []fieldRule) error {
	var fields []FieldError
	for _, rule := range rules {
		if reason := rule.check(); reason != "" {
			fields = append(fields, FieldError{Field: rule.field, Reason: reason})
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

func requireString(value, reason string) func() string {
	return func() string {
		if strings.TrimSpace(value) == "" {
			return reason
		}
		return ""
	}
}
