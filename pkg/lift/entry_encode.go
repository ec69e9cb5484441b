package lift

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// SerializeEntry encodes the entry back to XML. Output is deterministic for a
// given entry: multi-valued children and Multitext forms are written in model
// order, and the namespace convention detected at parse time is reproduced.
func SerializeEntry(e *Entry) ([]byte, error) {
	if e.ID == "" {
		return nil, &SchemaViolationError{Field: "entry/@id"}
	}
	if e.LexicalUnit == nil || e.LexicalUnit.IsEmpty() {
		return nil, &SchemaViolationError{Field: "entry/lexical-unit"}
	}

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	w := &entryWriter{enc: enc}
	attrs := []xml.Attr{}
	if e.Namespace != "" {
		attrs = append(attrs, mkAttr("xmlns", e.Namespace))
	}
	attrs = append(attrs, mkAttr("id", e.ID))
	attrs = appendAttr(attrs, "guid", e.GUID)
	attrs = appendAttr(attrs, "order", e.Order)
	attrs = appendAttr(attrs, "dateCreated", e.DateCreated)
	attrs = appendAttr(attrs, "dateModified", e.DateModified)
	attrs = appendAttr(attrs, "dateDeleted", e.DateDeleted)

	w.open("entry", attrs...)
	w.multitext("lexical-unit", e.LexicalUnit)
	if e.CitationForm != nil && e.CitationForm.Len() > 0 {
		w.multitext("citation", e.CitationForm)
	}
	for _, p := range e.Pronunciations {
		w.pronunciation(p)
	}
	for _, s := range e.Senses {
		w.sense("sense", s)
	}
	for _, v := range e.Variants {
		w.open("variant", appendAttr(nil, "ref", v.Ref)...)
		w.forms(v.Form)
		w.traits(v.Traits)
		w.close("variant")
	}
	for _, r := range e.Relations {
		w.relation(r)
	}
	for _, et := range e.Etymologies {
		w.open("etymology", appendAttr(appendAttr(nil, "type", et.Type), "source", et.Source)...)
		w.forms(et.Form)
		w.glosses(et.Gloss)
		w.close("etymology")
	}
	for _, n := range e.Notes {
		w.open("note", appendAttr(nil, "type", n.Type)...)
		w.forms(n.Text)
		w.close("note")
	}
	for _, f := range e.Fields {
		w.field(f)
	}
	w.traits(e.Traits)
	for _, a := range e.Annotations {
		as := appendAttr(appendAttr(nil, "name", a.Name), "value", a.Value)
		as = appendAttr(appendAttr(as, "who", a.Who), "when", a.When)
		w.empty("annotation", as...)
	}
	w.close("entry")

	if w.err != nil {
		return nil, fmt.Errorf("serialize entry %s: %w", e.ID, w.err)
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("serialize entry %s: %w", e.ID, err)
	}
	// The token encoder emits a newline before the first element when
	// indenting; keep the document starting at <entry>.
	out := bytes.TrimPrefix(buf.Bytes(), []byte("\n"))
	return append(out, '\n'), nil
}

func mkAttr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

// appendAttr adds the attribute only when the value is non-empty.
func appendAttr(attrs []xml.Attr, name, value string) []xml.Attr {
	if value == "" {
		return attrs
	}
	return append(attrs, mkAttr(name, value))
}

// entryWriter wraps xml.Encoder with error-latching element helpers.
type entryWriter struct {
	enc *xml.Encoder
	err error
}

func (w *entryWriter) token(t xml.Token) {
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeToken(t)
}

func (w *entryWriter) open(name string, attrs ...xml.Attr) {
	w.token(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs})
}

func (w *entryWriter) close(name string) {
	w.token(xml.EndElement{Name: xml.Name{Local: name}})
}

func (w *entryWriter) text(s string) {
	w.token(xml.CharData(s))
}

func (w *entryWriter) empty(name string, attrs ...xml.Attr) {
	w.open(name, attrs...)
	w.close(name)
}

// forms writes the <form lang><text> sequence of a multitext in model order.
func (w *entryWriter) forms(mt *Multitext) {
	for _, f := range mt.Forms() {
		w.open("form", mkAttr("lang", f.Lang))
		w.open("text")
		w.text(f.Text)
		w.close("text")
		w.close("form")
	}
}

func (w *entryWriter) multitext(name string, mt *Multitext) {
	w.open(name)
	w.forms(mt)
	w.close(name)
}

func (w *entryWriter) glosses(mt *Multitext) {
	for _, f := range mt.Forms() {
		w.open("gloss", mkAttr("lang", f.Lang))
		w.open("text")
		w.text(f.Text)
		w.close("text")
		w.close("gloss")
	}
}

func (w *entryWriter) traits(ts []Trait) {
	for _, t := range ts {
		w.empty("trait", mkAttr("name", t.Name), mkAttr("value", t.Value))
	}
}

func (w *entryWriter) field(f Field) {
	w.open("field", mkAttr("type", f.Type))
	w.forms(f.Text)
	w.close("field")
}

func (w *entryWriter) relation(r Relation) {
	attrs := appendAttr(appendAttr(appendAttr(nil, "type", r.Type), "ref", r.Ref), "order", r.Order)
	if len(r.Traits) == 0 {
		w.empty("relation", attrs...)
		return
	}
	w.open("relation", attrs...)
	w.traits(r.Traits)
	w.close("relation")
}

func (w *entryWriter) pronunciation(p Pronunciation) {
	w.open("pronunciation")
	w.forms(p.Forms)
	for _, m := range p.Media {
		w.open("media", appendAttr(nil, "href", m.Href)...)
		if m.Label != nil && m.Label.Len() > 0 {
			w.multitext("label", m.Label)
		}
		w.close("media")
	}
	if p.CVPattern != nil && p.CVPattern.Len() > 0 {
		w.field(Field{Type: "cv-pattern", Text: p.CVPattern})
	}
	if p.Tone != nil && p.Tone.Len() > 0 {
		w.field(Field{Type: "tone", Text: p.Tone})
	}
	w.traits(p.Traits)
	w.close("pronunciation")
}

func (w *entryWriter) sense(name string, s *Sense) {
	attrs := appendAttr(appendAttr(nil, "id", s.ID), "order", s.Order)
	w.open(name, attrs...)
	if gi := s.GrammaticalInfo; gi != nil {
		if len(gi.Traits) == 0 {
			w.empty("grammatical-info", mkAttr("value", gi.Value))
		} else {
			w.open("grammatical-info", mkAttr("value", gi.Value))
			w.traits(gi.Traits)
			w.close("grammatical-info")
		}
	}
	w.glosses(s.Glosses)
	if s.Definition != nil && s.Definition.Len() > 0 {
		w.multitext("definition", s.Definition)
	}
	for _, ex := range s.Examples {
		w.open("example", appendAttr(nil, "source", ex.Source)...)
		w.forms(ex.Text)
		for _, tr := range ex.Translations {
			w.open("translation", appendAttr(nil, "type", tr.Type)...)
			w.forms(tr.Text)
			w.close("translation")
		}
		if ex.Note != nil && ex.Note.Len() > 0 {
			w.open("note")
			w.forms(ex.Note)
			w.close("note")
		}
		w.traits(ex.Traits)
		w.close("example")
	}
	for _, r := range s.Relations {
		w.relation(r)
	}
	for _, rv := range s.Reversals {
		w.open("reversal", appendAttr(nil, "type", rv.Type)...)
		w.forms(rv.Form)
		w.close("reversal")
	}
	for _, il := range s.Illustrations {
		w.open("illustration", appendAttr(nil, "href", il.Href)...)
		if il.Label != nil && il.Label.Len() > 0 {
			w.multitext("label", il.Label)
		}
		w.close("illustration")
	}
	for _, n := range s.Notes {
		w.open("note", appendAttr(nil, "type", n.Type)...)
		w.forms(n.Text)
		w.close("note")
	}
	for _, f := range s.Fields {
		w.field(f)
	}
	w.traits(s.Traits)
	for _, sub := range s.Subsenses {
		w.sense("subsense", sub)
	}
	w.close(name)
}
