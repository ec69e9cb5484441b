package lift

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleEntry = `<entry id="hound_1" guid="0ae89610-9e30-4e1b-a83b-2b63c7073512" dateCreated="2023-04-01T10:00:00Z">
  <lexical-unit>
    <form lang="en"><text>hound</text></form>
    <form lang="en-fonipa"><text>haʊnd</text></form>
  </lexical-unit>
  <pronunciation>
    <form lang="en-fonipa"><text>haʊnd</text></form>
    <media href="audio/hound.wav"><label><form lang="en"><text>standard</text></form></label></media>
    <trait name="dialect" value="RP"/>
  </pronunciation>
  <sense id="s1">
    <grammatical-info value="Noun">
      <trait name="inflection-class" value="regular"/>
    </grammatical-info>
    <gloss lang="fr"><text>chien de chasse</text></gloss>
    <gloss lang="pt"><text>cão de caça</text></gloss>
    <definition><form lang="en"><text>a dog used for hunting</text></form></definition>
    <example source="corpus">
      <form lang="en"><text>The hounds bayed all night.</text></form>
      <translation type="free"><form lang="fr"><text>Les chiens ont aboyé toute la nuit.</text></form></translation>
      <trait name="usage-type" value="archaic"/>
    </example>
    <reversal type="fr"><form lang="fr"><text>chien</text></form></reversal>
    <illustration href="img/hound.png"><label><form lang="en"><text>a hound</text></form></label></illustration>
    <trait name="semantic-domain" value="2.1 Animals"/>
    <field type="scientific-name"><form lang="la"><text>Canis lupus familiaris</text></form></field>
    <subsense id="s1.1">
      <grammatical-info value="Noun"/>
      <gloss lang="fr"><text>limier</text></gloss>
      <trait name="usage-type" value="archaic"/>
    </subsense>
  </sense>
  <variant><form lang="en"><text>hownd</text></form><trait name="spelling" value="obsolete"/></variant>
  <relation type="synonym" ref="dog_1"/>
  <etymology type="proto-form" source="OED"><form lang="ang"><text>hund</text></form><gloss lang="en"><text>dog</text></gloss></etymology>
  <note type="usage"><form lang="en"><text>Now mostly literary.</text></form></note>
  <trait name="morph-type" value="stem"/>
  <annotation name="reviewed" value="yes" who="editor1" when="2023-05-02"/>
</entry>`

func TestParseEntryFull(t *testing.T) {
	e, err := ParseEntry([]byte(sampleEntry))
	require.NoError(t, err)

	assert.Equal(t, "hound_1", e.ID)
	assert.Equal(t, "0ae89610-9e30-4e1b-a83b-2b63c7073512", e.GUID)
	assert.Equal(t, "2023-04-01T10:00:00Z", e.DateCreated)
	assert.Equal(t, "", e.Namespace)

	got, _ := e.LexicalUnit.Get("en")
	assert.Equal(t, "hound", got)
	require.Len(t, e.Pronunciations, 1)
	assert.Equal(t, "audio/hound.wav", e.Pronunciations[0].Media[0].Href)

	require.Len(t, e.Senses, 1)
	s := e.Senses[0]
	assert.Equal(t, "Noun", s.GrammaticalInfo.Value)
	require.Len(t, s.GrammaticalInfo.Traits, 1)
	fr, _ := s.Glosses.Get("fr")
	assert.Equal(t, "chien de chasse", fr)
	require.Len(t, s.Examples, 1)
	assert.Equal(t, "corpus", s.Examples[0].Source)
	require.Len(t, s.Examples[0].Translations, 1)
	require.Len(t, s.Subsenses, 1)
	assert.Equal(t, "s1.1", s.Subsenses[0].ID)
	v, ok := TraitValue(s.Subsenses[0].Traits, "usage-type")
	require.True(t, ok)
	assert.Equal(t, "archaic", v)

	require.Len(t, e.Variants, 1)
	require.Len(t, e.Relations, 1)
	assert.Equal(t, "dog_1", e.Relations[0].Ref)
	require.Len(t, e.Etymologies, 1)
	require.Len(t, e.Notes, 1)
	assert.Equal(t, "usage", e.Notes[0].Type)
	require.Len(t, e.Annotations, 1)
	assert.Equal(t, "editor1", e.Annotations[0].Who)
}

// parse(serialize(e)) must be structurally equal to e for round-trip
// fidelity, including ordering of forms and multi-valued children.
func TestEntryRoundTrip(t *testing.T) {
	e, err := ParseEntry([]byte(sampleEntry))
	require.NoError(t, err)

	out, err := SerializeEntry(e)
	require.NoError(t, err)

	e2, err := ParseEntry(out)
	require.NoError(t, err)
	require.Equal(t, e, e2)

	// A second cycle must be byte-stable.
	out2, err := SerializeEntry(e2)
	require.NoError(t, err)
	assert.Equal(t, string(out), string(out2))
}

func TestEntryNamespaceConventionPreserved(t *testing.T) {
	namespaced := `<entry xmlns="http://fieldworks.sil.org/schemas/lift/0.13" id="e1" guid="g1">
  <lexical-unit><form lang="en"><text>word</text></form></lexical-unit>
</entry>`
	e, err := ParseEntry([]byte(namespaced))
	require.NoError(t, err)
	assert.Equal(t, "http://fieldworks.sil.org/schemas/lift/0.13", e.Namespace)

	out, err := SerializeEntry(e)
	require.NoError(t, err)
	assert.Contains(t, string(out), `xmlns="http://fieldworks.sil.org/schemas/lift/0.13"`)

	e2, err := ParseEntry(out)
	require.NoError(t, err)
	assert.Equal(t, e.Namespace, e2.Namespace)

	// A bare entry must stay bare.
	bare, err := ParseEntry([]byte(`<entry id="e2"><lexical-unit><form lang="en"><text>x</text></form></lexical-unit></entry>`))
	require.NoError(t, err)
	out, err = SerializeEntry(bare)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "xmlns")
}

// Regression for the duplicate-form precedence decision: last-wins.
func TestParseEntryDuplicateFormLangLastWins(t *testing.T) {
	doc := `<entry id="e1"><lexical-unit>
	  <form lang="en"><text>older</text></form>
	  <form lang="en"><text>newer</text></form>
	</lexical-unit></entry>`
	e, err := ParseEntry([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, 1, e.LexicalUnit.Len())
	got, _ := e.LexicalUnit.Get("en")
	assert.Equal(t, "newer", got)
}

func TestParseEntryErrors(t *testing.T) {
	_, err := ParseEntry([]byte(`<entry id="x"><lexical-unit>`))
	assert.ErrorIs(t, err, ErrMalformedDocument)

	_, err = ParseEntry([]byte(`not xml at all`))
	assert.ErrorIs(t, err, ErrMalformedDocument)

	_, err = ParseEntry([]byte(`<entry><lexical-unit><form lang="en"><text>x</text></form></lexical-unit></entry>`))
	var sv *SchemaViolationError
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, "entry/@id", sv.Field)

	_, err = ParseEntry([]byte(`<entry id="x"></entry>`))
	require.ErrorAs(t, err, &sv)
	assert.Equal(t, "entry/lexical-unit", sv.Field)

	_, err = ParseEntry([]byte(`<sense id="x"/>`))
	assert.ErrorIs(t, err, ErrMalformedDocument)
}

func TestSerializeEntryValidates(t *testing.T) {
	e := NewEntry("e1")
	_, err := SerializeEntry(e)
	var sv *SchemaViolationError
	require.True(t, errors.As(err, &sv), "empty lexical unit must not serialize")

	e.LexicalUnit.Set("en", "word")
	out, err := SerializeEntry(e)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "<entry "))
}

func TestParseCollection(t *testing.T) {
	doc := `<lift version="0.13">
  <entry id="a1"><lexical-unit><form lang="en"><text>apple</text></form></lexical-unit></entry>
  <entry id="b1"><lexical-unit><form lang="en"><text>bear</text></form></lexical-unit></entry>
</lift>`
	entries, err := ParseCollection([]byte(doc))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a1", entries[0].ID)
	assert.Equal(t, "b1", entries[1].ID)
}

func TestEntryTextEscaping(t *testing.T) {
	e := NewEntry("esc1")
	e.LexicalUnit.Set("en", `<&"'> and más`)
	out, err := SerializeEntry(e)
	require.NoError(t, err)

	e2, err := ParseEntry(out)
	require.NoError(t, err)
	got, _ := e2.LexicalUnit.Get("en")
	assert.Equal(t, `<&"'> and más`, got)
}
