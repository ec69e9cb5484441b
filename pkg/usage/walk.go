package usage

import (
	"fmt"

	"github.com/mkalland/liftcurator/pkg/lift"
)

// GrammaticalRange is the id of the range whose values embed as the
// grammatical-info value attribute rather than as a named trait.
const GrammaticalRange = "grammatical-info"

// Collect walks the entry and returns the path of every field referencing
// (rangeID, elementID). elementID == "" matches any value of the range, the
// shape used before deleting a whole range. Paths are index-based and stable
// for a given entry, e.g. "sense[0]/subsense[1]/trait[usage-type]".
func Collect(e *lift.Entry, rangeID, elementID string) []string {
	var paths []string
	w := walker{rangeID: rangeID, elementID: elementID,
		hit: func(path string) { paths = append(paths, path) }}
	w.entry(e)
	return paths
}

// Rewrite applies a disposition to every matching field: newValue == nil
// removes the reference, otherwise it is replaced. It returns the number of
// fields changed. The entry is mutated in place; callers re-serialize the
// whole entry afterwards.
func Rewrite(e *lift.Entry, rangeID, elementID string, newValue *string) int {
	w := walker{rangeID: rangeID, elementID: elementID, rewrite: newValue, mutate: true}
	w.entry(e)
	return w.changed
}

type walker struct {
	rangeID   string
	elementID string
	hit       func(path string)
	mutate    bool
	rewrite   *string
	changed   int
}

func (w *walker) matchTrait(t lift.Trait) bool {
	return t.Name == w.rangeID && (w.elementID == "" || t.Value == w.elementID)
}

// traits scans one trait list, reporting or rewriting matches. With a remove
// disposition matching traits are dropped from the list.
func (w *walker) traits(ts []lift.Trait, prefix string) []lift.Trait {
	if !w.mutate {
		for _, t := range ts {
			if w.matchTrait(t) {
				w.hit(prefix + "trait[" + t.Name + "]")
			}
		}
		return ts
	}
	out := ts[:0]
	for _, t := range ts {
		if !w.matchTrait(t) {
			out = append(out, t)
			continue
		}
		w.changed++
		if w.rewrite != nil {
			t.Value = *w.rewrite
			out = append(out, t)
		}
	}
	return out
}

func (w *walker) grammatical(gi *lift.GrammaticalInfo, prefix string) *lift.GrammaticalInfo {
	if gi == nil || w.rangeID != GrammaticalRange {
		return gi
	}
	if w.elementID != "" && gi.Value != w.elementID {
		return gi
	}
	if !w.mutate {
		w.hit(prefix + "grammatical-info")
		return gi
	}
	w.changed++
	if w.rewrite == nil {
		return nil
	}
	gi.Value = *w.rewrite
	return gi
}

func (w *walker) relations(rs []lift.Relation, prefix string) {
	for i := range rs {
		r := &rs[i]
		r.Traits = w.traits(r.Traits, fmt.Sprintf("%srelation[%d]/", prefix, i))
	}
}

func (w *walker) entry(e *lift.Entry) {
	e.Traits = w.traits(e.Traits, "")
	for i := range e.Pronunciations {
		p := &e.Pronunciations[i]
		p.Traits = w.traits(p.Traits, fmt.Sprintf("pronunciation[%d]/", i))
	}
	for i, s := range e.Senses {
		w.sense(s, fmt.Sprintf("sense[%d]/", i))
	}
	for i := range e.Variants {
		v := &e.Variants[i]
		v.Traits = w.traits(v.Traits, fmt.Sprintf("variant[%d]/", i))
	}
	w.relations(e.Relations, "")
}

func (w *walker) sense(s *lift.Sense, prefix string) {
	s.GrammaticalInfo = w.grammatical(s.GrammaticalInfo, prefix)
	s.Traits = w.traits(s.Traits, prefix)
	for i := range s.Examples {
		ex := &s.Examples[i]
		ex.Traits = w.traits(ex.Traits, fmt.Sprintf("%sexample[%d]/", prefix, i))
	}
	w.relations(s.Relations, prefix)
	for i, sub := range s.Subsenses {
		w.sense(sub, fmt.Sprintf("%ssubsense[%d]/", prefix, i))
	}
}
