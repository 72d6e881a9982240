package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTicketNotFound      = errors.New("ticket not found")
	ErrEventNotFound       = errors.New("event not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrImportInProgress    = errors.New("another ticket import is already running")
)

// EncodingError means the upload is not UTF-8 text.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("csv must be UTF-8 encoded (UTF-8 or UTF-8 with BOM): %v", e.Err)
	}
	return "csv must be UTF-8 encoded (UTF-8 or UTF-8 with BOM)"
}

func (e *EncodingError) Unwrap() error { return e.Err }

// FormatError reports a structurally unusable file: empty, no header, missing columns.
type FormatError struct {
	Msg     string
	Missing []string
}

func (e *FormatError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("invalid csv format: missing columns: %s", strings.Join(e.Missing, ", "))
	}
	return "invalid csv format: " + e.Msg
}

// RowError rejects one data row. Line is the physical line number in the uploaded file.
type RowError struct {
	Line  int
	Field string
	Value string
	Msg   string
}

func (e *RowError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("line %d: %s %q in field '%s'", e.Line, e.Msg, e.Value, e.Field)
	}
	return fmt.Sprintf("line %d: %s in field '%s'", e.Line, e.Msg, e.Field)
}

// IntegrityError is raised when a delete is blocked by a protected reference.
type IntegrityError struct {
	Entity string
	Key    string
	Line   int
	Err    error
}

func (e *IntegrityError) Error() string {
	msg := fmt.Sprintf("%s %s cannot be deleted: still referenced", e.Entity, e.Key)
	if e.Line > 0 {
		msg = fmt.Sprintf("line %d: %s", e.Line, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// ValidationError rejects a participant save that would break a model invariant.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid participant: %s: %s", e.Field, e.Msg)
}

// ImportError wraps every failure of an import run. The transaction has been
// rolled back by the time it is returned.
type ImportError struct {
	Err error
}

func (e *ImportError) Error() string {
	if e.Unexpected() {
		return "unexpected import failure: " + e.Err.Error()
	}
	return "import failed: " + e.Err.Error()
}

func (e *ImportError) Unwrap() error { return e.Err }

// Unexpected is true when the cause is none of the known import error kinds.
func (e *ImportError) Unexpected() bool {
	var (
		encErr *EncodingError
		fmtErr *FormatError
		rowErr *RowError
		intErr *IntegrityError
	)
	switch {
	case errors.As(e.Err, &encErr), errors.As(e.Err, &fmtErr),
		errors.As(e.Err, &rowErr), errors.As(e.Err, &intErr),
		errors.Is(e.Err, ErrImportInProgress):
		return false
	}
	return true
}
