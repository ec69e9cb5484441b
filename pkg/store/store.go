// Package store defines the document-store collaborator interface the
// curation core runs against: point lookups, predicate scans, and atomic
// per-document replacement. Connection, session, and auth concerns belong to
// the implementation, not the core.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by GetByID for an id with no document.
var ErrNotFound = errors.New("document not found")

// Predicate describes which documents a scan should return. It is a
// description, not query text: each store translates it into its own query
// language. A store may over-match (return ids whose documents do not really
// reference the value) — callers re-check exactly — but it must never
// under-match.
type Predicate struct {
	// RangeID narrows the scan to documents mentioning this range id
	// (as a trait name).
	RangeID string
	// ElementID optionally narrows to documents mentioning this value.
	// Stores may ignore it and over-match.
	ElementID string
	// GrammaticalInfo widens the scan to documents carrying a
	// grammatical-info category value, the second way range values embed.
	GrammaticalInfo bool
}

// IDIterator pages through matching document ids in ascending order without
// materializing them. It follows the sql.Rows protocol: Next then ID, Err
// after the loop, Close always. An open iterator must not pin the store's
// connection: callers interleave GetByID and Replace calls between Next
// calls, including on single-connection stores.
type IDIterator interface {
	Next() bool
	ID() string
	Err() error
	Close() error
}

// Store is the collaborator contract. Implementations must make Replace
// atomic per document: the old content stays readable until the new content
// fully replaces it.
type Store interface {
	// GetByID returns the raw document for id, or ErrNotFound.
	GetByID(ctx context.Context, id string) ([]byte, error)
	// Scan returns a lazy iterator over ids of documents matching p,
	// ascending by id.
	Scan(ctx context.Context, p Predicate) (IDIterator, error)
	// Replace atomically replaces the document under id.
	Replace(ctx context.Context, id string, doc []byte) error
	// Put inserts a new document or overwrites an existing one.
	Put(ctx context.Context, id string, doc []byte) error
}
