package jsonld

import (
	"testing"

	"github.com/matryer/is"
)

const aquacContext string = "https://example.org/aquac-context.jsonld"
const aquacVocab string = "https://ontology.eglobalmark.com/aquac#"

func TestExpandUsesContextVocabulary(t *testing.T) {
	is, e := setupExpander(t, 16)

	is.Equal(e.ExpandTerm("fishAge", []string{aquacContext}), aquacVocab+"fishAge")
	is.Equal(e.ExpandTerm("fishAge", []string{NgsiLdCoreContext}), DefaultVocabulary+"fishAge")
}

func TestExpandCoreAndAuthorizationTerms(t *testing.T) {
	is, e := setupExpander(t, 16)

	is.Equal(e.ExpandTerm("location", []string{aquacContext}), NgsiLdPrefix+"location")
	is.Equal(e.ExpandTerm("isMemberOf", nil), AuthorizationPrefix+"isMemberOf")
	is.Equal(e.ExpandTerm("authz:rCanRead", nil), AuthorizationPrefix+"rCanRead")
}

func TestAbsoluteTermsAreLeftAlone(t *testing.T) {
	is, e := setupExpander(t, 16)

	is.Equal(e.ExpandTerm("https://some.host/type", nil), "https://some.host/type")
	is.Equal(e.ExpandTerm("urn:ngsi-ld:Dataset:1", nil), "urn:ngsi-ld:Dataset:1")
}

func TestCompactReversesExpand(t *testing.T) {
	is, e := setupExpander(t, 16)

	for _, term := range []string{"fishAge", "location", "rCanAdmin", "roles"} {
		expanded := e.ExpandTerm(term, []string{aquacContext})
		is.Equal(e.CompactTerm(expanded, []string{aquacContext}), term)
	}

	is.Equal(e.CompactTerm("https://some.host/type", nil), "https://some.host/type")
}

func TestCacheIsBounded(t *testing.T) {
	is, e := setupExpander(t, 2)

	e.ExpandTerm("a", nil)
	e.ExpandTerm("b", nil)
	e.ExpandTerm("c", nil)

	is.Equal(e.Len(), 2) // least recently used resolution should have been evicted

	e.Purge()
	is.Equal(e.Len(), 0)
}

func TestTypeFragment(t *testing.T) {
	is := is.New(t)

	is.Equal(TypeFragment(aquacVocab+"BreedingService"), "BreedingService")
	is.Equal(TypeFragment(DefaultVocabulary+"Beehive"), "Beehive")
	is.Equal(TypeFragment("Specie"), "Specie")
}

func setupExpander(t *testing.T, size int) (*is.I, *Expander) {
	is := is.New(t)
	e, err := NewExpander(size, WithVocabulary(aquacContext, aquacVocab))
	is.NoErr(err)
	return is, e
}
