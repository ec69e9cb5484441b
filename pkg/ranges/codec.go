package ranges

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/mkalland/liftcurator/pkg/lift"
)

// ParseRanges decodes a lift-ranges document into a Registry. Both hierarchy
// encodings are accepted; each range remembers which one it arrived in. The
// parsed registry is fully validated (unique ids, known parents, acyclic)
// before it is returned.
func ParseRanges(data []byte) (*Registry, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.Entity = map[string]string{}

	root, err := firstElement(d, "lift-ranges")
	if err != nil {
		return nil, err
	}

	reg := NewRegistry()
	reg.namespace = root.Name.Space

	err = walkChildren(d, root, func(se xml.StartElement) error {
		if se.Name.Local != "range" {
			return d.Skip()
		}
		r, err := parseRange(d, se)
		if err != nil {
			return err
		}
		if _, ok := reg.ranges[r.ID]; ok {
			return &lift.DuplicateIDError{Scope: "ranges", ID: r.ID}
		}
		reg.ranges[r.ID] = r
		reg.order = append(reg.order, r.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := reg.validateLocked(); err != nil {
		return nil, err
	}
	return reg, nil
}

func parseRange(d *xml.Decoder, parent xml.StartElement) (*Range, error) {
	r := &Range{
		ID:    attr(parent, "id"),
		GUID:  attr(parent, "guid"),
		index: make(map[string]int),
	}
	if r.ID == "" {
		return nil, &lift.SchemaViolationError{Field: "range/@id"}
	}
	err := walkChildren(d, parent, func(se xml.StartElement) error {
		switch se.Name.Local {
		case "label":
			mt, err := parseMultitext(d, se)
			if err != nil {
				return err
			}
			r.Label = mt
		case "description":
			mt, err := parseMultitext(d, se)
			if err != nil {
				return err
			}
			r.Description = mt
		case "range-element":
			return parseElement(d, se, "", r)
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// parseElement consumes one range-element subtree. owner is the id of the
// enclosing range-element ("" at range level). Nesting inside another element
// marks the whole range as nested-encoded and overrides any parent attribute.
func parseElement(d *xml.Decoder, se xml.StartElement, owner string, r *Range) error {
	el := &Element{
		ID:     attr(se, "id"),
		GUID:   attr(se, "guid"),
		Parent: attr(se, "parent"),
	}
	if el.ID == "" {
		return &lift.SchemaViolationError{Field: "range-element/@id"}
	}
	if owner != "" {
		el.Parent = owner
		r.Encoding = EncodingNested
	}
	if _, ok := r.index[el.ID]; ok {
		return &lift.DuplicateIDError{Scope: "range " + r.ID, ID: el.ID}
	}
	r.add(el)

	return walkChildren(d, se, func(c xml.StartElement) error {
		switch c.Name.Local {
		case "label":
			mt, err := parseMultitext(d, c)
			if err != nil {
				return err
			}
			el.Label = mt
		case "abbrev":
			mt, err := parseMultitext(d, c)
			if err != nil {
				return err
			}
			el.Abbrev = mt
		case "description":
			mt, err := parseMultitext(d, c)
			if err != nil {
				return err
			}
			el.Description = mt
		case "trait":
			el.Traits = append(el.Traits, lift.Trait{Name: attr(c, "name"), Value: attr(c, "value")})
			return d.Skip()
		case "range-element":
			return parseElement(d, c, el.ID, r)
		default:
			return d.Skip()
		}
		return nil
	})
}

// SerializeRanges encodes the registry back to a lift-ranges document,
// re-emitting each range in the encoding it arrived in.
func (reg *Registry) SerializeRanges() ([]byte, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	w := &rangesWriter{enc: enc}

	var attrs []xml.Attr
	if reg.namespace != "" {
		attrs = append(attrs, mkAttr("xmlns", reg.namespace))
	}
	w.open("lift-ranges", attrs...)
	for _, id := range reg.order {
		r := reg.ranges[id]
		w.writeRange(r)
	}
	w.close("lift-ranges")

	if w.err != nil {
		return nil, fmt.Errorf("serialize ranges: %w", w.err)
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("serialize ranges: %w", err)
	}
	// The token encoder emits a newline before the first element when
	// indenting; the declaration supplies the line break instead.
	body := bytes.TrimPrefix(buf.Bytes(), []byte("\n"))
	out := append([]byte(xml.Header), body...)
	return append(out, '\n'), nil
}

type rangesWriter struct {
	enc *xml.Encoder
	err error
}

func (w *rangesWriter) token(t xml.Token) {
	if w.err != nil {
		return
	}
	w.err = w.enc.EncodeToken(t)
}

func (w *rangesWriter) open(name string, attrs ...xml.Attr) {
	w.token(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs})
}

func (w *rangesWriter) close(name string) {
	w.token(xml.EndElement{Name: xml.Name{Local: name}})
}

func (w *rangesWriter) multitext(name string, mt *lift.Multitext) {
	if mt == nil || mt.Len() == 0 {
		return
	}
	w.open(name)
	for _, f := range mt.Forms() {
		w.open("form", mkAttr("lang", f.Lang))
		w.open("text")
		w.token(xml.CharData(f.Text))
		w.close("text")
		w.close("form")
	}
	w.close(name)
}

func (w *rangesWriter) writeRange(r *Range) {
	attrs := []xml.Attr{mkAttr("id", r.ID)}
	attrs = appendAttr(attrs, "guid", r.GUID)
	w.open("range", attrs...)
	w.multitext("label", r.Label)
	w.multitext("description", r.Description)
	if r.Encoding == EncodingNested {
		var visit func(parent string)
		visit = func(parent string) {
			for _, el := range r.children(parent) {
				w.openElement(el, false)
				visit(el.ID)
				w.close("range-element")
			}
		}
		visit("")
	} else {
		for _, el := range r.elems {
			w.openElement(el, true)
			w.close("range-element")
		}
	}
	w.close("range")
}

// openElement writes the range-element start tag and its leaf children, but
// not the end tag, so nested encoding can interleave child elements.
func (w *rangesWriter) openElement(el *Element, flat bool) {
	attrs := []xml.Attr{mkAttr("id", el.ID)}
	attrs = appendAttr(attrs, "guid", el.GUID)
	if flat && el.Parent != "" {
		attrs = append(attrs, mkAttr("parent", el.Parent))
	}
	w.open("range-element", attrs...)
	w.multitext("label", el.Label)
	w.multitext("abbrev", el.Abbrev)
	w.multitext("description", el.Description)
	for _, t := range el.Traits {
		w.open("trait", mkAttr("name", t.Name), mkAttr("value", t.Value))
		w.close("trait")
	}
}

// Shared token-walk helpers, same discipline as the entry codec.

func firstElement(d *xml.Decoder, want string) (xml.StartElement, error) {
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return xml.StartElement{}, fmt.Errorf("%w: no %s element", lift.ErrMalformedDocument, want)
		}
		if err != nil {
			return xml.StartElement{}, fmt.Errorf("%w: %v", lift.ErrMalformedDocument, err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			if se.Name.Local != want {
				return xml.StartElement{}, fmt.Errorf("%w: expected <%s>, got <%s>", lift.ErrMalformedDocument, want, se.Name.Local)
			}
			return se, nil
		}
	}
}

// walkChildren feeds every direct child start element of parent to fn. fn must
// consume the child's subtree (directly or via d.Skip), so the only end
// element this loop ever sees is parent's own.
func walkChildren(d *xml.Decoder, parent xml.StartElement, fn func(xml.StartElement) error) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", lift.ErrMalformedDocument, err)
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

func mkAttr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

func appendAttr(attrs []xml.Attr, name, value string) []xml.Attr {
	if value == "" {
		return attrs
	}
	return append(attrs, mkAttr(name, value))
}

func parseMultitext(d *xml.Decoder, parent xml.StartElement) (*lift.Multitext, error) {
	mt := lift.NewMultitext()
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

func formText(d *xml.Decoder, form xml.StartElement) (string, error) {
	var buf bytes.Buffer
	inText := 0
	for {
		tok, err := d.Token()
		if err != nil {
			return "", fmt.Errorf("%w: %v", lift.ErrMalformedDocument, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "text" {
				inText++
			} else if err := d.Skip(); err != nil {
				return "", fmt.Errorf("%w: %v", lift.ErrMalformedDocument, err)
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
