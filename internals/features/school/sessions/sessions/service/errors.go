// file: internals/features/school/sessions/sessions/service/errors.go
package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrUniqueViolation  = errors.New("unique violation")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrRangeTooLarge    = errors.New("date range too large")
	ErrNoOccurrence     = errors.New("classroom does not meet on that date")
	// ErrForeignRow marks a child row id that exists but belongs to another session.
	ErrForeignRow       = errors.New("row belongs to another session")
)

/* =========================
   ValidationError
========================= */

// ValidationError is returned before any write happens.
type ValidationError struct {
	Fields map[string][]string `json:"fields"`
	cause  error
}

func (e *ValidationError) Unwrap() error { return e.cause }

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) orNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

/* =========================
   ConflictError (never leaves the materializer)
========================= */

type ConflictError struct {
	ClassroomID uuid.UUID
	Date        time.Time
	Err         error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session already exists for classroom %s on %s", e.ClassroomID, e.Date.Format(dateLayout))
}

func (e *ConflictError) Unwrap() error { return e.Err }

/* =========================
   TransientStoreError
========================= */

// TransientStoreError marks a row mutation that timed out or lost the store.
// Retrying the whole save is safe.
type TransientStoreError struct {
	Op    string
	RowID string
	Err   error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("%s %s: transient store error: %v", e.Op, e.RowID, e.Err)
}

func (e *TransientStoreError) Unwrap() error   { return e.Err }
func (e *TransientStoreError) Retryable() bool { return true }

/* =========================
   PartialReconciliationFailure
========================= */

type Batch string

const (
	BatchAssignments Batch = "assignments"
	BatchAttendance  Batch = "attendance"
)

type RowFailure struct {
	Op    string `json:"op"`
	RowID string `json:"row_id"`
	Err   error  `json:"-"`
}

func (f RowFailure) Error() string { return fmt.Sprintf("%s %s: %v", f.Op, f.RowID, f.Err) }
func (f RowFailure) Unwrap() error { return f.Err }

// PartialReconciliationFailure names every batch that had at least one failed row.
// Rows applied before or beside the failures stay applied.
type PartialReconciliationFailure struct {
	Failed   []Batch
	Failures map[Batch][]RowFailure
}

func (e *PartialReconciliationFailure) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, b := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s (%d rows)", b, len(e.Failures[b])))
	}
	return "reconciliation partially failed: " + strings.Join(parts, ", ")
}

func (e *PartialReconciliationFailure) Unwrap() []error {
	var out []error
	for _, b := range e.Failed {
		for _, f := range e.Failures[b] {
			out = append(out, f)
		}
	}
	return out
}

// Retryable reports whether every failed row was transient.
func (e *PartialReconciliationFailure) Retryable() bool {
	for _, b := range e.Failed {
		for _, f := range e.Failures[b] {
			var t *TransientStoreError
			if !errors.As(f.Err, &t) {
				return false
			}
		}
	}
	return true
}
