package lift

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
)

// ParseEntry decodes one entry document into the entity model. It fails with
// ErrMalformedDocument on non-well-formed input and with SchemaViolationError
// when the id attribute or the lexical-unit element is missing. Parsing never
// substitutes defaults for broken input.
func ParseEntry(data []byte) (*Entry, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.Entity = map[string]string{}

	root, err := firstElement(d, "entry")
	if err != nil {
		return nil, err
	}
	return parseEntryElement(d, root)
}

// ParseCollection decodes a whole lift document and returns its entries in
// document order. The collection's namespace convention carries onto each
// entry so later re-serialization matches the source.
func ParseCollection(data []byte) ([]*Entry, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.Entity = map[string]string{}

	root, err := firstElement(d, "lift")
	if err != nil {
		return nil, err
	}
	var entries []*Entry
	err = walkChildren(d, root, func(se xml.StartElement) error {
		if se.Name.Local != "entry" {
			return d.Skip()
		}
		e, err := parseEntryElement(d, se)
		if err != nil {
			return err
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func parseEntryElement(d *xml.Decoder, root xml.StartElement) (*Entry, error) {
	e := &Entry{Namespace: root.Name.Space}
	e.ID = attr(root, "id")
	e.GUID = attr(root, "guid")
	e.Order = attr(root, "order")
	e.DateCreated = attr(root, "dateCreated")
	e.DateModified = attr(root, "dateModified")
	e.DateDeleted = attr(root, "dateDeleted")
	if e.ID == "" {
		return nil, &SchemaViolationError{Field: "entry/@id"}
	}

	if err := walkChildren(d, root, func(se xml.StartElement) error {
		switch se.Name.Local {
		case "lexical-unit":
			mt, err := parseMultitext(d, se)
			if err != nil {
				return err
			}
			e.LexicalUnit = mt
		case "citation":
			mt, err := parseMultitext(d, se)
			if err != nil {
				return err
			}
			e.CitationForm = mt
		case "pronunciation":
			p, err := parsePronunciation(d, se)
			if err != nil {
				return err
			}
			e.Pronunciations = append(e.Pronunciations, p)
		case "sense":
			s, err := parseSense(d, se)
			if err != nil {
				return err
			}
			e.Senses = append(e.Senses, s)
		case "variant":
			v, err := parseVariant(d, se)
			if err != nil {
				return err
			}
			e.Variants = append(e.Variants, v)
		case "relation":
			r, err := parseRelation(d, se)
			if err != nil {
				return err
			}
			e.Relations = append(e.Relations, r)
		case "etymology":
			et, err := parseEtymology(d, se)
			if err != nil {
				return err
			}
			e.Etymologies = append(e.Etymologies, et)
		case "note":
			n, err := parseNote(d, se)
			if err != nil {
				return err
			}
			e.Notes = append(e.Notes, n)
		case "field":
			f, err := parseField(d, se)
			if err != nil {
				return err
			}
			e.Fields = append(e.Fields, f)
		case "trait":
			e.Traits = append(e.Traits, Trait{Name: attr(se, "name"), Value: attr(se, "value")})
			return d.Skip()
		case "annotation":
			e.Annotations = append(e.Annotations, Annotation{
				Name:  attr(se, "name"),
				Value: attr(se, "value"),
				Who:   attr(se, "who"),
				When:  attr(se, "when"),
			})
			return d.Skip()
		default:
			return d.Skip()
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if e.LexicalUnit == nil || e.LexicalUnit.IsEmpty() {
		return nil, &SchemaViolationError{Field: "entry/lexical-unit"}
	}
	return e, nil
}

// firstElement advances the decoder to the first start element and checks its
// local name.
func firstElement(d *xml.Decoder, want string) (xml.StartElement, error) {
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return xml.StartElement{}, fmt.Errorf("%w: no %s element", ErrMalformedDocument, want)
		}
		if err != nil {
			return xml.StartElement{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			if se.Name.Local != want {
				return xml.StartElement{}, fmt.Errorf("%w: expected <%s>, got <%s>", ErrMalformedDocument, want, se.Name.Local)
			}
			return se, nil
		}
	}
}

// walkChildren feeds every direct child start element of parent to fn. fn must
// consume the child's subtree (directly or via d.Skip).
func walkChildren(d *xml.Decoder, parent xml.StartElement, fn func(xml.StartElement) error) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedDocument, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if err := fn(t); err != nil {
				return err
			}
		case xml.EndElement:
			if t.Name.Local == parent.Name.Local {
				return nil
			}
		}
	}
}

func attr(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// parseMultitext consumes <form lang><text>…</text></form> children of the
// element that just started. Duplicate language tags resolve last-wins.
func parseMultitext(d *xml.Decoder, parent xml.StartElement) (*Multitext, error) {
	mt := NewMultitext()
	err := walkChildren(d, parent, func(se xml.StartElement) error {
		if se.Name.Local != "form" {
			return d.Skip()
		}
		lang := attr(se, "lang")
		text, err := formText(d, se)
		if err != nil {
			return err
		}
		mt.Set(lang, text)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mt, nil
}

// formText consumes a <form> subtree and returns the concatenated contents of
// its <text> children.
func formText(d *xml.Decoder, form xml.StartElement) (string, error) {
	var buf bytes.Buffer
	inText := 0
	for {
		tok, err := d.Token()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformedDocument, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "text" {
				inText++
			} else if err := d.Skip(); err != nil {
				return "", fmt.Errorf("%w: %v", ErrMalformedDocument, err)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "text":
				inText--
			case form.Name.Local:
				return buf.String(), nil
			}
		case xml.CharData:
			if inText > 0 {
				buf.Write(t)
			}
		}
	}
}

func parseSense(d *xml.Decoder, parent xml.StartElement) (*Sense, error) {
	s := &Sense{ID: attr(parent, "id"), Order: attr(parent, "order")}
	err := walkChildren(d, parent, func(se xml.StartElement) error {
		switch se.Name.Local {
		case "grammatical-info":
			gi := &GrammaticalInfo{Value: attr(se, "value")}
			if err := walkChildren(d, se, func(c xml.StartElement) error {
				if c.Name.Local == "trait" {
					gi.Traits = append(gi.Traits, Trait{Name: attr(c, "name"), Value: attr(c, "value")})
				}
				return d.Skip()
			}); err != nil {
				return err
			}
			s.GrammaticalInfo = gi
		case "gloss":
			lang := attr(se, "lang")
			text, err := glossText(d, se)
			if err != nil {
				return err
			}
			if s.Glosses == nil {
				s.Glosses = NewMultitext()
			}
			s.Glosses.Set(lang, text)
		case "definition":
			mt, err := parseMultitext(d, se)
			if err != nil {
				return err
			}
			s.Definition = mt
		case "example":
			ex, err := parseExample(d, se)
			if err != nil {
				return err
			}
			s.Examples = append(s.Examples, ex)
		case "relation":
			r, err := parseRelation(d, se)
			if err != nil {
				return err
			}
			s.Relations = append(s.Relations, r)
		case "reversal":
			typ := attr(se, "type")
			mt, err := parseMultitext(d, se)
			if err != nil {
				return err
			}
			s.Reversals = append(s.Reversals, Reversal{Type: typ, Form: mt})
		case "illustration":
			il := Illustration{Href: attr(se, "href")}
			if err := walkChildren(d, se, func(c xml.StartElement) error {
				if c.Name.Local == "label" {
					mt, err := parseMultitext(d, c)
					if err != nil {
						return err
					}
					il.Label = mt
					return nil
				}
				return d.Skip()
			}); err != nil {
				return err
			}
			s.Illustrations = append(s.Illustrations, il)
		case "note":
			n, err := parseNote(d, se)
			if err != nil {
				return err
			}
			s.Notes = append(s.Notes, n)
		case "field":
			f, err := parseField(d, se)
			if err != nil {
				return err
			}
			s.Fields = append(s.Fields, f)
		case "trait":
			s.Traits = append(s.Traits, Trait{Name: attr(se, "name"), Value: attr(se, "value")})
			return d.Skip()
		case "subsense":
			sub, err := parseSense(d, se)
			if err != nil {
				return err
			}
			s.Subsenses = append(s.Subsenses, sub)
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// glossText reads a <gloss> subtree: its text lives in a single <text> child.
func glossText(d *xml.Decoder, gloss xml.StartElement) (string, error) {
	return formText(d, gloss)
}

func parseExample(d *xml.Decoder, parent xml.StartElement) (Example, error) {
	ex := Example{Source: attr(parent, "source"), Text: NewMultitext()}
	err := walkChildren(d, parent, func(se xml.StartElement) error {
		switch se.Name.Local {
		case "form":
			lang := attr(se, "lang")
			text, err := formText(d, se)
			if err != nil {
				return err
			}
			ex.Text.Set(lang, text)
		case "translation":
			typ := attr(se, "type")
			mt, err := parseMultitext(d, se)
			if err != nil {
				return err
			}
			ex.Translations = append(ex.Translations, Translation{Type: typ, Text: mt})
		case "note":
			mt, err := parseMultitext(d, se)
			if err != nil {
				return err
			}
			ex.Note = mt
		case "trait":
			ex.Traits = append(ex.Traits, Trait{Name: attr(se, "name"), Value: attr(se, "value")})
			return d.Skip()
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return Example{}, err
	}
	return ex, nil
}

func parsePronunciation(d *xml.Decoder, parent xml.StartElement) (Pronunciation, error) {
	p := Pronunciation{Forms: NewMultitext()}
	err := walkChildren(d, parent, func(se xml.StartElement) error {
		switch se.Name.Local {
		case "form":
			lang := attr(se, "lang")
			text, err := formText(d, se)
			if err != nil {
				return err
			}
			p.Forms.Set(lang, text)
		case "media":
			m := Media{Href: attr(se, "href")}
			if err := walkChildren(d, se, func(c xml.StartElement) error {
				if c.Name.Local == "label" {
					mt, err := parseMultitext(d, c)
					if err != nil {
						return err
					}
					m.Label = mt
					return nil
				}
				return d.Skip()
			}); err != nil {
				return err
			}
			p.Media = append(p.Media, m)
		case "field":
			f, err := parseField(d, se)
			if err != nil {
				return err
			}
			switch f.Type {
			case "cv-pattern":
				p.CVPattern = f.Text
			case "tone":
				p.Tone = f.Text
			}
		case "trait":
			p.Traits = append(p.Traits, Trait{Name: attr(se, "name"), Value: attr(se, "value")})
			return d.Skip()
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return Pronunciation{}, err
	}
	return p, nil
}

func parseVariant(d *xml.Decoder, parent xml.StartElement) (Variant, error) {
	v := Variant{Ref: attr(parent, "ref"), Form: NewMultitext()}
	err := walkChildren(d, parent, func(se xml.StartElement) error {
		switch se.Name.Local {
		case "form":
			lang := attr(se, "lang")
			text, err := formText(d, se)
			if err != nil {
				return err
			}
			v.Form.Set(lang, text)
		case "trait":
			v.Traits = append(v.Traits, Trait{Name: attr(se, "name"), Value: attr(se, "value")})
			return d.Skip()
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return Variant{}, err
	}
	return v, nil
}

func parseRelation(d *xml.Decoder, parent xml.StartElement) (Relation, error) {
	r := Relation{Type: attr(parent, "type"), Ref: attr(parent, "ref"), Order: attr(parent, "order")}
	err := walkChildren(d, parent, func(se xml.StartElement) error {
		if se.Name.Local == "trait" {
			r.Traits = append(r.Traits, Trait{Name: attr(se, "name"), Value: attr(se, "value")})
		}
		return d.Skip()
	})
	if err != nil {
		return Relation{}, err
	}
	return r, nil
}

func parseEtymology(d *xml.Decoder, parent xml.StartElement) (Etymology, error) {
	et := Etymology{Type: attr(parent, "type"), Source: attr(parent, "source"), Form: NewMultitext()}
	err := walkChildren(d, parent, func(se xml.StartElement) error {
		switch se.Name.Local {
		case "form":
			lang := attr(se, "lang")
			text, err := formText(d, se)
			if err != nil {
				return err
			}
			et.Form.Set(lang, text)
		case "gloss":
			lang := attr(se, "lang")
			text, err := glossText(d, se)
			if err != nil {
				return err
			}
			if et.Gloss == nil {
				et.Gloss = NewMultitext()
			}
			et.Gloss.Set(lang, text)
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return Etymology{}, err
	}
	return et, nil
}

func parseNote(d *xml.Decoder, parent xml.StartElement) (Note, error) {
	typ := attr(parent, "type")
	mt, err := parseMultitext(d, parent)
	if err != nil {
		return Note{}, err
	}
	return Note{Type: typ, Text: mt}, nil
}

func parseField(d *xml.Decoder, parent xml.StartElement) (Field, error) {
	typ := attr(parent, "type")
	mt, err := parseMultitext(d, parent)
	if err != nil {
		return Field{}, err
	}
	return Field{Type: typ, Text: mt}, nil
}
