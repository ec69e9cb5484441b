package lift

// Multitext is an ordered set of language-tagged text variants for one field.
// Insertion order of languages is preserved so serialization reproduces the
// source document. When the same language tag appears twice in one source
// element the later text wins, keeping the order slot of the first occurrence.
type Multitext struct {
	langs map[string]int
	forms []Form
}

// Form is a single language-tagged text value.
type Form struct {
	Lang string
	Text string
}

// NewMultitext returns an empty Multitext.
func NewMultitext() *Multitext {
	return &Multitext{langs: make(map[string]int)}
}

// Set stores text under lang. A repeated lang overwrites the earlier text
// (last-wins) without changing its position.
func (m *Multitext) Set(lang, text string) {
	if m.langs == nil {
		m.langs = make(map[string]int)
	}
	if i, ok := m.langs[lang]; ok {
		m.forms[i].Text = text
		return
	}
	m.langs[lang] = len(m.forms)
	m.forms = append(m.forms, Form{Lang: lang, Text: text})
}

// Get returns the text for lang and whether it is present.
func (m *Multitext) Get(lang string) (string, bool) {
	if m == nil || m.langs == nil {
		return "", false
	}
	i, ok := m.langs[lang]
	if !ok {
		return "", false
	}
	return m.forms[i].Text, true
}

// Forms returns the language-tagged values in insertion order. The returned
// slice is shared; callers must not mutate it.
func (m *Multitext) Forms() []Form {
	if m == nil {
		return nil
	}
	return m.forms
}

// Len returns the number of distinct language tags.
func (m *Multitext) Len() int {
	if m == nil {
		return 0
	}
	return len(m.forms)
}

// IsEmpty reports whether no form carries non-empty text.
func (m *Multitext) IsEmpty() bool {
	if m == nil {
		return true
	}
	for _, f := range m.forms {
		if f.Text != "" {
			return false
		}
	}
	return true
}

// First returns the text of the first form, or "" when empty. Useful for
// display contexts that want any rendering of the field.
func (m *Multitext) First() string {
	if m == nil || len(m.forms) == 0 {
		return ""
	}
	return m.forms[0].Text
}

// Equal reports structural equality: same languages, same texts, same order.
func (m *Multitext) Equal(o *Multitext) bool {
	if m.Len() != o.Len() {
		return false
	}
	for i, f := range m.Forms() {
		of := o.Forms()[i]
		if f.Lang != of.Lang || f.Text != of.Text {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (m *Multitext) Clone() *Multitext {
	c := NewMultitext()
	for _, f := range m.Forms() {
		c.Set(f.Lang, f.Text)
	}
	return c
}
