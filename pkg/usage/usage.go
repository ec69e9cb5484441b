// Package usage finds every entry field that references a given range value.
// It is the pre-deletion warning surface and the first phase of every
// migration.
package usage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
	"github.com/rs/zerolog"

	"github.com/mkalland/liftcurator/pkg/lift"
	"github.com/mkalland/liftcurator/pkg/store"
)

// Usage is one concrete reference: the entry holding the value and the path
// of the field inside it.
type Usage struct {
	EntryID   string
	FieldPath string
}

// Analyzer streams usages of a range value out of the document store. Scans
// are pure reads; each Scan re-reads from the store, so a finished cursor is
// restarted by scanning again, not resumed.
type Analyzer struct {
	Store  store.Store
	Logger zerolog.Logger
}

// NewAnalyzer creates an analyzer over the given store with no logging.
func NewAnalyzer(s store.Store) *Analyzer {
	return &Analyzer{Store: s, Logger: zerolog.Nop()}
}

// Scan returns a lazy cursor over every (entryId, fieldPath) referencing
// (rangeID, elementID), ascending by entry id. elementID == "" matches any
// value of the range. The cursor holds one document in memory at a time; a
// store failure surfaces as Err() and no further results are produced.
func (a *Analyzer) Scan(ctx context.Context, rangeID, elementID string) (*Cursor, error) {
	pred := store.Predicate{
		RangeID:         rangeID,
		ElementID:       elementID,
		GrammaticalInfo: rangeID == GrammaticalRange,
	}
	ids, err := a.Store.Scan(ctx, pred)
	if err != nil {
		return nil, fmt.Errorf("usage scan %s/%s: %w", rangeID, elementID, err)
	}
	expr, err := compileFilter(rangeID, elementID)
	if err != nil {
		ids.Close()
		return nil, err
	}
	return &Cursor{
		ctx:       ctx,
		analyzer:  a,
		rangeID:   rangeID,
		elementID: elementID,
		ids:       ids,
		filter:    expr,
	}, nil
}

// Count drains a scan and returns the distinct entry count and total field
// count. Convenience for dry-run style reporting.
func (a *Analyzer) Count(ctx context.Context, rangeID, elementID string) (entries, fields int, err error) {
	cur, err := a.Scan(ctx, rangeID, elementID)
	if err != nil {
		return 0, 0, err
	}
	defer cur.Close()
	last := ""
	for cur.Next() {
		u := cur.Usage()
		if u.EntryID != last {
			entries++
			last = u.EntryID
		}
		fields++
	}
	if err := cur.Err(); err != nil {
		return 0, 0, err
	}
	return entries, fields, nil
}

// compileFilter builds the raw-document pre-filter. local-name() keeps it
// correct for both namespaced and bare documents. The ids are interpolated
// into the expression, so quote characters are rejected up front: XPath 1.0
// string literals have no escape for them.
func compileFilter(rangeID, elementID string) (*xpath.Expr, error) {
	if strings.ContainsAny(rangeID, `'"`) || strings.ContainsAny(elementID, `'"`) {
		return nil, fmt.Errorf("usage filter %s/%s: quote characters are not valid in range or element ids", rangeID, elementID)
	}
	q := fmt.Sprintf("//*[local-name()='trait'][@name='%s']", rangeID)
	if elementID != "" {
		q += fmt.Sprintf("[@value='%s']", elementID)
	}
	if rangeID == GrammaticalRange {
		g := "//*[local-name()='grammatical-info']"
		if elementID != "" {
			g += fmt.Sprintf("[@value='%s']", elementID)
		}
		q = q + " | " + g
	}
	expr, err := xpath.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("compile usage filter: %w", err)
	}
	return expr, nil
}

// Cursor is the lazy usage stream. It buffers only the usages of the entry
// it is currently positioned on.
type Cursor struct {
	ctx       context.Context
	analyzer  *Analyzer
	rangeID   string
	elementID string
	ids       store.IDIterator
	filter    *xpath.Expr

	pending []Usage
	current Usage
	err     error
	done    bool
}

// Next advances to the next usage. It returns false at the end of the stream
// or on error; check Err afterwards.
func (c *Cursor) Next() bool {
	if c.err != nil || c.done {
		return false
	}
	for len(c.pending) == 0 {
		if err := c.ctx.Err(); err != nil {
			c.err = err
			return false
		}
		if !c.ids.Next() {
			if err := c.ids.Err(); err != nil {
				c.err = err
			}
			c.done = true
			return false
		}
		if err := c.load(c.ids.ID()); err != nil {
			c.err = err
			return false
		}
	}
	c.current = c.pending[0]
	c.pending = c.pending[1:]
	return true
}

// load fetches one document, pre-filters it on the raw XML, and on a hit
// parses it into the model to compute exact field paths.
func (c *Cursor) load(id string) error {
	raw, err := c.analyzer.Store.GetByID(c.ctx, id)
	if err != nil {
		return fmt.Errorf("usage scan: %w", err)
	}
	doc, err := xmlquery.Parse(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("usage scan %s: %w: %v", id, lift.ErrMalformedDocument, err)
	}
	if xmlquery.QuerySelector(doc, c.filter) == nil {
		return nil
	}
	e, err := lift.ParseEntry(raw)
	if err != nil {
		return fmt.Errorf("usage scan %s: %w", id, err)
	}
	for _, path := range Collect(e, c.rangeID, c.elementID) {
		c.pending = append(c.pending, Usage{EntryID: e.ID, FieldPath: path})
	}
	if len(c.pending) > 0 {
		c.analyzer.Logger.Debug().Str("entry", e.ID).Int("fields", len(c.pending)).Msg("usage hit")
	}
	return nil
}

// Usage returns the usage the cursor is positioned on.
func (c *Cursor) Usage() Usage { return c.current }

// Err returns the error that terminated the stream, if any.
func (c *Cursor) Err() error { return c.err }

// Close releases the underlying store iterator.
func (c *Cursor) Close() error { return c.ids.Close() }
