package core

import (
	"fmt"
	"strings"
)

// FieldError describes one rejected form field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError blocks a submission before anything reaches the store.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a field problem; the first message per field wins.
func (e *ValidationError) Add(field, message string) {
	for _, f := range e.Fields {
		if f.Field == field {
			return
		}
	}
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Has reports whether field was rejected.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// PersistenceError wraps a failed store operation. It is never retried
// automatically.
type PersistenceError struct {
	Op  string
	ID  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s sales record: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s sales record %s: %v", e.Op, e.ID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
