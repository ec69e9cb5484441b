package ranges

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mkalland/liftcurator/pkg/lift"
)

// ErrHasChildren is returned when deleting an element whose children have not
// been migrated or reparented.
var ErrHasChildren = errors.New("element has children")

// Registry is the in-memory cache of every range in the collection's ranges
// document. It carries a monotonically increasing generation counter, bumped
// on every mutation; long-lived readers compare generations and re-read
// instead of trusting an old snapshot. Every mutation validates before it
// commits: a rejected operation leaves the registry byte-for-byte untouched.
type Registry struct {
	mu        sync.RWMutex
	ranges    map[string]*Range
	order     []string
	gen       uint64
	namespace string
}

// NewRegistry returns an empty registry at generation zero.
func NewRegistry() *Registry {
	return &Registry{ranges: make(map[string]*Range)}
}

// Generation returns the current mutation generation. A reader holding
// results derived from an earlier generation must refresh them.
func (reg *Registry) Generation() uint64 {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.gen
}

// Range returns the range with the given id, or nil.
func (reg *Registry) Range(id string) *Range {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.ranges[id]
}

// RangeIDs returns the range ids in document order.
func (reg *Registry) RangeIDs() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return append([]string(nil), reg.order...)
}

// CreateRange adds a new empty range. The id must be unique across all
// ranges in the document.
func (reg *Registry) CreateRange(id string, label *lift.Multitext) (*Range, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.ranges[id]; ok {
		return nil, &lift.DuplicateIDError{Scope: "ranges", ID: id}
	}
	r := NewRange(id)
	r.Label = label
	reg.ranges[id] = r
	reg.order = append(reg.order, id)
	reg.gen++
	return r, nil
}

// CreateElement adds an element to a range. parent may be "" for a root.
// Fails without mutating anything on a duplicate id, an unknown parent, or a
// parent assignment that would close a cycle.
func (reg *Registry) CreateElement(rangeID, id, parent string, label *lift.Multitext) (*Element, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.ranges[rangeID]
	if !ok {
		return nil, &lift.UnknownReferenceError{Scope: "ranges", ID: rangeID}
	}
	if _, ok := r.index[id]; ok {
		return nil, &lift.DuplicateIDError{Scope: "range " + rangeID, ID: id}
	}
	if parent != "" {
		if r.Element(parent) == nil {
			return nil, &lift.UnknownReferenceError{Scope: "range " + rangeID, ID: parent}
		}
		if r.wouldCycle(id, parent) {
			return nil, &lift.CircularHierarchyError{ElementID: id}
		}
	}
	el := &Element{ID: id, GUID: uuid.NewString(), Parent: parent, Label: label}
	r.add(el)
	reg.gen++
	return el, nil
}

// MoveElement reassigns an element's parent, re-running the cycle check
// before anything changes.
func (reg *Registry) MoveElement(rangeID, id, newParent string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.ranges[rangeID]
	if !ok {
		return &lift.UnknownReferenceError{Scope: "ranges", ID: rangeID}
	}
	el := r.Element(id)
	if el == nil {
		return &lift.UnknownReferenceError{Scope: "range " + rangeID, ID: id}
	}
	if newParent != "" {
		if r.Element(newParent) == nil {
			return &lift.UnknownReferenceError{Scope: "range " + rangeID, ID: newParent}
		}
		if r.wouldCycle(id, newParent) {
			return &lift.CircularHierarchyError{ElementID: id}
		}
	}
	el.Parent = newParent
	reg.gen++
	return nil
}

// DeleteElement removes an element. An element with children cannot be
// deleted; callers must migrate or reparent the children first. Usage gating
// against the entry collection is the migration engine's job, not the
// registry's.
func (reg *Registry) DeleteElement(rangeID, id string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.ranges[rangeID]
	if !ok {
		return &lift.UnknownReferenceError{Scope: "ranges", ID: rangeID}
	}
	if r.Element(id) == nil {
		return &lift.UnknownReferenceError{Scope: "range " + rangeID, ID: id}
	}
	if kids := r.children(id); len(kids) > 0 {
		return fmt.Errorf("delete %s/%s: %w", rangeID, id, ErrHasChildren)
	}
	r.remove(id)
	reg.gen++
	return nil
}

// DeleteRange removes an entire range.
func (reg *Registry) DeleteRange(id string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.ranges[id]; !ok {
		return &lift.UnknownReferenceError{Scope: "ranges", ID: id}
	}
	delete(reg.ranges, id)
	for i, rid := range reg.order {
		if rid == id {
			reg.order = append(reg.order[:i], reg.order[i+1:]...)
			break
		}
	}
	reg.gen++
	return nil
}

// Validate checks the whole registry: element ids unique per range, every
// parent reference resolvable, and no element its own transitive ancestor.
func (reg *Registry) Validate() error {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.validateLocked()
}

func (reg *Registry) validateLocked() error {
	for _, id := range reg.order {
		r := reg.ranges[id]
		for _, el := range r.elems {
			if el.Parent == "" {
				continue
			}
			if r.Element(el.Parent) == nil {
				return &lift.UnknownReferenceError{Scope: "range " + r.ID, ID: el.Parent}
			}
		}
		for _, el := range r.elems {
			if hasCycle(r, el.ID) {
				return &lift.CircularHierarchyError{ElementID: el.ID}
			}
		}
	}
	return nil
}

// hasCycle walks the parent chain from id; seeing id again means a cycle.
// The walk is bounded by the arena size so malformed chains terminate.
func hasCycle(r *Range, id string) bool {
	el := r.Element(id)
	if el == nil {
		return false
	}
	steps := 0
	for p := el.Parent; p != ""; steps++ {
		if p == id || steps > r.Len() {
			return true
		}
		pe := r.Element(p)
		if pe == nil {
			return false
		}
		p = pe.Parent
	}
	return false
}

// Snapshot returns a deep copy of one range plus the generation it was taken
// at. Callers keeping the copy around compare Generation() against the
// returned generation to detect staleness.
func (reg *Registry) Snapshot(rangeID string) (*Range, uint64) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.ranges[rangeID]
	if !ok {
		return nil, reg.gen
	}
	return r.Clone(), reg.gen
}
