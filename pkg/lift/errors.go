package lift

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedDocument indicates the XML input was not well-formed.
// The underlying decoder error is wrapped so callers can inspect it.
var ErrMalformedDocument = errors.New("malformed document")

// ErrStoreUnavailable indicates a document store call failed. Operations that
// hit it abort without returning a partial result set.
var ErrStoreUnavailable = errors.New("store unavailable")

// SchemaViolationError reports a required element or attribute that was absent
// or empty in an otherwise well-formed document.
type SchemaViolationError struct {
	Field string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation: missing required field %q", e.Field)
}

// DuplicateIDError reports an id collision within the named scope
// (e.g. "ranges", "range usage-type").
type DuplicateIDError struct {
	Scope string
	ID    string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate id %q in %s", e.ID, e.Scope)
}

// UnknownReferenceError reports a reference to an id that does not exist.
type UnknownReferenceError struct {
	Scope string
	ID    string
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("unknown reference %q in %s", e.ID, e.Scope)
}

// CircularHierarchyError reports a parent assignment that would make an
// element its own transitive ancestor.
type CircularHierarchyError struct {
	ElementID string
}

func (e *CircularHierarchyError) Error() string {
	return fmt.Sprintf("circular hierarchy: element %q would become its own ancestor", e.ElementID)
}

// PartialFailureError is the combined report of a best-effort batch: some
// entries were rewritten, some were not. It is an expected outcome, not a
// programming error.
type PartialFailureError struct {
	Succeeded []string
	Failed    []string
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("migration partially failed: %d succeeded, %d failed (ids: %s)",
		len(e.Succeeded), len(e.Failed), strings.Join(e.Failed, ", "))
}
