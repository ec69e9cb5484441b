// Package ranges models the controlled vocabularies (ranges) that classify
// lexicon entries, including the two legal XML encodings of their element
// hierarchy, and guards every mutation with integrity checks.
package ranges

import (
	"github.com/google/uuid"

	"github.com/mkalland/liftcurator/pkg/lift"
)

// Encoding is the hierarchy serialization a range arrived in. Both encodings
// describe the same logical tree; re-serialization reproduces the original so
// diffs stay minimal.
type Encoding int

const (
	// EncodingFlat lists every element as a sibling carrying a parent attribute.
	EncodingFlat Encoding = iota
	// EncodingNested nests child elements inside their parent element.
	EncodingNested
)

func (e Encoding) String() string {
	if e == EncodingNested {
		return "nested"
	}
	return "flat"
}

// Element is one value of a range. Parent is the id of its parent element
// within the same range, or "" for a root.
type Element struct {
	ID          string
	GUID        string
	Parent      string
	Label       *lift.Multitext
	Abbrev      *lift.Multitext
	Description *lift.Multitext
	Traits      []lift.Trait
}

// Range is one controlled vocabulary: a named set of elements forming a tree.
// Elements live in an arena slice in document order with an id index; the
// parent relation is a pointer into the same range.
type Range struct {
	ID          string
	GUID        string
	Label       *lift.Multitext
	Description *lift.Multitext
	Encoding    Encoding

	elems []*Element
	index map[string]int
}

// NewRange creates an empty range with a fresh guid.
func NewRange(id string) *Range {
	return &Range{
		ID:    id,
		GUID:  uuid.NewString(),
		index: make(map[string]int),
	}
}

// Element returns the element with the given id, or nil.
func (r *Range) Element(id string) *Element {
	if i, ok := r.index[id]; ok {
		return r.elems[i]
	}
	return nil
}

// Len returns the number of elements.
func (r *Range) Len() int { return len(r.elems) }

// Elements returns the elements in document order. The slice is shared;
// callers must not mutate it.
func (r *Range) Elements() []*Element { return r.elems }

// add appends an element to the arena. The caller has already validated
// uniqueness and parentage.
func (r *Range) add(el *Element) {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	r.index[el.ID] = len(r.elems)
	r.elems = append(r.elems, el)
}

// remove deletes the element from the arena and rebuilds the index.
func (r *Range) remove(id string) {
	i, ok := r.index[id]
	if !ok {
		return
	}
	r.elems = append(r.elems[:i], r.elems[i+1:]...)
	r.index = make(map[string]int, len(r.elems))
	for j, el := range r.elems {
		r.index[el.ID] = j
	}
}

// children returns ids of direct children of parent in document order.
// parent == "" yields the roots.
func (r *Range) children(parent string) []*Element {
	var out []*Element
	for _, el := range r.elems {
		if el.Parent == parent {
			out = append(out, el)
		}
	}
	return out
}

// PreOrder returns elements in pre-order: roots in document order, each
// followed by its subtree. The result is independent of which encoding the
// range arrived in.
func (r *Range) PreOrder() []*Element {
	out := make([]*Element, 0, len(r.elems))
	var visit func(parent string)
	visit = func(parent string) {
		for _, el := range r.children(parent) {
			out = append(out, el)
			visit(el.ID)
		}
	}
	visit("")
	return out
}

// wouldCycle reports whether assigning candidateParent to elemID makes elemID
// its own transitive ancestor. It walks the parent chain from candidateParent
// toward the root.
func (r *Range) wouldCycle(elemID, candidateParent string) bool {
	for p := candidateParent; p != ""; {
		if p == elemID {
			return true
		}
		el := r.Element(p)
		if el == nil {
			return false
		}
		p = el.Parent
	}
	return false
}

// Clone returns a deep copy of the range. Used for validate-then-commit
// snapshots in tests and for cache handoff.
func (r *Range) Clone() *Range {
	c := &Range{
		ID:          r.ID,
		GUID:        r.GUID,
		Label:       r.Label.Clone(),
		Description: r.Description.Clone(),
		Encoding:    r.Encoding,
		index:       make(map[string]int, len(r.elems)),
	}
	for _, el := range r.elems {
		cp := *el
		cp.Label = el.Label.Clone()
		cp.Abbrev = el.Abbrev.Clone()
		cp.Description = el.Description.Clone()
		cp.Traits = append([]lift.Trait(nil), el.Traits...)
		c.add(&cp)
	}
	return c
}
