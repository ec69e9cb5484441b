package lift

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultitextOrderPreserved(t *testing.T) {
	mt := NewMultitext()
	mt.Set("seh", "nyama")
	mt.Set("en", "meat")
	mt.Set("pt", "carne")

	forms := mt.Forms()
	require.Len(t, forms, 3)
	assert.Equal(t, "seh", forms[0].Lang)
	assert.Equal(t, "en", forms[1].Lang)
	assert.Equal(t, "pt", forms[2].Lang)
}

// Duplicate language tags resolve last-wins: the later text replaces the
// earlier one without moving its position.
func TestMultitextDuplicateLangLastWins(t *testing.T) {
	mt := NewMultitext()
	mt.Set("en", "first")
	mt.Set("fr", "premier")
	mt.Set("en", "second")

	require.Equal(t, 2, mt.Len())
	got, ok := mt.Get("en")
	require.True(t, ok)
	assert.Equal(t, "second", got)
	assert.Equal(t, "en", mt.Forms()[0].Lang, "overwrite must keep the original slot")
}

func TestMultitextEmpty(t *testing.T) {
	var nilMT *Multitext
	assert.True(t, nilMT.IsEmpty())
	assert.Equal(t, 0, nilMT.Len())
	assert.Equal(t, "", nilMT.First())

	mt := NewMultitext()
	mt.Set("en", "")
	assert.True(t, mt.IsEmpty(), "whitespace-free empty text is still empty")
	mt.Set("fr", "x")
	assert.False(t, mt.IsEmpty())
}

func TestMultitextEqualAndClone(t *testing.T) {
	a := NewMultitext()
	a.Set("en", "dog")
	a.Set("fr", "chien")

	b := a.Clone()
	assert.True(t, a.Equal(b))

	b.Set("fr", "chienne")
	assert.False(t, a.Equal(b))
	got, _ := a.Get("fr")
	assert.Equal(t, "chien", got, "clone must be independent")
}
