package lift

import (
	"time"

	"github.com/google/uuid"
)

// Trait is a generic name/value annotation attached to an entity. Traits are
// kept as an ordered slice, not a map: a document may legally carry several
// traits with the same name and their order must survive a round trip.
type Trait struct {
	Name  string
	Value string
}

// Annotation records who asserted what about an entity, and when.
type Annotation struct {
	Name  string
	Value string
	Who   string
	When  string
}

// Note is a typed free-text comment.
type Note struct {
	Type string
	Text *Multitext
}

// Field is a named custom field (e.g. exemplar, scientific-name).
type Field struct {
	Type string
	Text *Multitext
}

// Media is a reference to an external audio or image file.
type Media struct {
	Href  string
	Label *Multitext
}

// Relation links this entity to another entry or sense by id.
type Relation struct {
	Type   string
	Ref    string
	Order  string
	Traits []Trait
}

// Etymology records the historical origin of an entry.
type Etymology struct {
	Type   string
	Source string
	Form   *Multitext
	Gloss  *Multitext
}

// Variant is an alternate written form of an entry.
type Variant struct {
	Ref    string
	Form   *Multitext
	Traits []Trait
}

// Pronunciation holds language-tagged phonetic forms plus optional media
// and contour/pattern annotations.
type Pronunciation struct {
	Forms     *Multitext
	Media     []Media
	CVPattern *Multitext
	Tone      *Multitext
	Traits    []Trait
}

// GrammaticalInfo is the part-of-speech value of a sense together with the
// grammatical traits nested under it.
type GrammaticalInfo struct {
	Value  string
	Traits []Trait
}

// Example is a usage example within a sense, with typed translations.
type Example struct {
	Source       string
	Text         *Multitext
	Translations []Translation
	Note         *Multitext
	Traits       []Trait
}

// Translation is one typed rendering of an example.
type Translation struct {
	Type string
	Text *Multitext
}

// Reversal is a reverse-index form for a sense.
type Reversal struct {
	Type string
	Form *Multitext
}

// Illustration is a picture attached to a sense.
type Illustration struct {
	Href  string
	Label *Multitext
}

// Sense is one meaning of an Entry. Subsenses are strictly tree-shaped and
// owned by their parent sense.
type Sense struct {
	ID              string
	Order           string
	GrammaticalInfo *GrammaticalInfo
	Glosses         *Multitext
	Definition      *Multitext
	Examples        []Example
	Relations       []Relation
	Reversals       []Reversal
	Illustrations   []Illustration
	Notes           []Note
	Fields          []Field
	Traits          []Trait
	Subsenses       []*Sense
}

// Entry is a single headword's complete lexical record.
type Entry struct {
	ID           string
	GUID         string
	Order        string
	DateCreated  string
	DateModified string
	DateDeleted  string

	LexicalUnit    *Multitext
	CitationForm   *Multitext
	Pronunciations []Pronunciation
	Senses         []*Sense
	Variants       []Variant
	Relations      []Relation
	Etymologies    []Etymology
	Notes          []Note
	Fields         []Field
	Traits         []Trait
	Annotations    []Annotation

	// Namespace is the xmlns the source document declared on the entry
	// element, or "" for bare element names. The codec re-emits whichever
	// convention it saw so mixed legacy/modern collections stay diff-stable.
	Namespace string
}

// NewEntry creates an entry with a fresh guid and the given id.
func NewEntry(id string) *Entry {
	return &Entry{
		ID:          id,
		GUID:        uuid.NewString(),
		DateCreated: time.Now().UTC().Format(time.RFC3339),
		LexicalUnit: NewMultitext(),
	}
}

// NewSense creates a sense with a fresh generated id.
func NewSense() *Sense {
	return &Sense{ID: uuid.NewString()}
}

// IsDeleted reports whether the entry has been soft-deleted.
func (e *Entry) IsDeleted() bool { return e.DateDeleted != "" }

// Touch updates the modification timestamp.
func (e *Entry) Touch(now time.Time) {
	e.DateModified = now.UTC().Format(time.RFC3339)
}

// TraitValue returns the value of the first trait with the given name.
func TraitValue(traits []Trait, name string) (string, bool) {
	for _, t := range traits {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}
