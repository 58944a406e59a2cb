// Package jsonld resolves NGSI-LD attribute and type names between their
// compacted and expanded forms.
//
// Only term level resolution is supported: core NGSI-LD terms, the
// authorization vocabulary, vocabularies registered per context URL and the
// NGSI-LD default context. Remote contexts are never dereferenced.
package jsonld

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	NgsiLdCoreContext   string = "https://uri.etsi.org/ngsi-ld/v1/ngsi-ld-core-context.jsonld"
	NgsiLdPrefix        string = "https://uri.etsi.org/ngsi-ld/"
	DefaultVocabulary   string = "https://uri.etsi.org/ngsi-ld/default-context/"
	AuthorizationPrefix string = "https://ontology.eglobalmark.com/authorization#"
)

const DefaultCacheSize int = 1024

// Authorization vocabulary
const (
	RightCanRead  string = AuthorizationPrefix + "rCanRead"
	RightCanWrite string = AuthorizationPrefix + "rCanWrite"
	RightCanAdmin string = AuthorizationPrefix + "rCanAdmin"

	UserType   string = AuthorizationPrefix + "User"
	GroupType  string = AuthorizationPrefix + "Group"
	ClientType string = AuthorizationPrefix + "Client"

	IsMemberOf           string = AuthorizationPrefix + "isMemberOf"
	RolesProperty        string = AuthorizationPrefix + "roles"
	SIDProperty          string = AuthorizationPrefix + "sid"
	AccessPolicyProperty string = AuthorizationPrefix + "specificAccessPolicy"
)

var coreTerms = map[string]bool{
	"location":         true,
	"observationSpace": true,
	"operationSpace":   true,
	"name":             true,
	"description":      true,
	"createdAt":        true,
	"modifiedAt":       true,
	"observedAt":       true,
	"datasetId":        true,
	"unitCode":         true,
}

var authorizationTerms = map[string]bool{
	"User":                 true,
	"Group":                true,
	"Client":               true,
	"rCanRead":             true,
	"rCanWrite":            true,
	"rCanAdmin":            true,
	"isMemberOf":           true,
	"roles":                true,
	"sid":                  true,
	"specificAccessPolicy": true,
	"username":             true,
	"clientId":             true,
}

var prefixes = map[string]string{
	"ngsi-ld": NgsiLdPrefix,
	"authz":   AuthorizationPrefix,
}

// Expander expands and compacts terms, memoizing the results in a bounded cache
type Expander struct {
	vocabularies map[string]string
	defaultVocab string
	cache        *lru.Cache[string, string]
}

type ExpanderOption func(*Expander)

// WithVocabulary registers the vocabulary used to expand terms when contextURL
// is part of the request contexts
func WithVocabulary(contextURL, vocab string) ExpanderOption {
	return func(e *Expander) {
		e.vocabularies[contextURL] = vocab
	}
}

func WithDefaultVocabulary(vocab string) ExpanderOption {
	return func(e *Expander) {
		e.defaultVocab = vocab
	}
}

func NewExpander(cacheSize int, opts ...ExpanderOption) (*Expander, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create term cache: %w", err)
	}

	e := &Expander{
		vocabularies: map[string]string{},
		defaultVocab: DefaultVocabulary,
		cache:        cache,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// ExpandTerm returns the fully qualified form of term
func (e *Expander) ExpandTerm(term string, contexts []string) string {
	if term == "" || IsAbsolute(term) {
		return term
	}

	key := cacheKey("e", term, contexts)
	if expanded, ok := e.cache.Get(key); ok {
		return expanded
	}

	expanded := e.expand(term, contexts)
	e.cache.Add(key, expanded)

	return expanded
}

// ExpandTerms expands every term in the list, skipping empty ones
func (e *Expander) ExpandTerms(terms []string, contexts []string) []string {
	expanded := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t != "" {
			expanded = append(expanded, e.ExpandTerm(t, contexts))
		}
	}
	return expanded
}

// CompactTerm returns the shortest known form of the expanded uri
func (e *Expander) CompactTerm(uri string, contexts []string) string {
	key := cacheKey("c", uri, contexts)
	if compacted, ok := e.cache.Get(key); ok {
		return compacted
	}

	compacted := e.compact(uri, contexts)
	e.cache.Add(key, compacted)

	return compacted
}

// Purge drops every memoized resolution
func (e *Expander) Purge() {
	e.cache.Purge()
}

// Len returns the number of memoized resolutions
func (e *Expander) Len() int {
	return e.cache.Len()
}

func (e *Expander) expand(term string, contexts []string) string {
	if prefix, suffix, found := strings.Cut(term, ":"); found {
		if ns, ok := prefixes[prefix]; ok {
			return ns + suffix
		}
	}

	if coreTerms[term] {
		return NgsiLdPrefix + term
	}

	if authorizationTerms[term] {
		return AuthorizationPrefix + term
	}

	for _, c := range contexts {
		if vocab, ok := e.vocabularies[c]; ok {
			return vocab + term
		}
	}

	return e.defaultVocab + term
}

func (e *Expander) compact(uri string, contexts []string) string {
	if term, found := strings.CutPrefix(uri, NgsiLdPrefix); found && coreTerms[term] {
		return term
	}

	if term, found := strings.CutPrefix(uri, AuthorizationPrefix); found && authorizationTerms[term] {
		return term
	}

	for _, c := range contexts {
		if vocab, ok := e.vocabularies[c]; ok {
			if term, found := strings.CutPrefix(uri, vocab); found {
				return term
			}
		}
	}

	if term, found := strings.CutPrefix(uri, e.defaultVocab); found {
		return term
	}

	return uri
}

// IsAbsolute reports whether s is an absolute IRI or URN
func IsAbsolute(s string) bool {
	return strings.Contains(s, "://") || strings.HasPrefix(s, "urn:")
}

// TypeFragment returns the part of an expanded type after the last '#', or
// after the last '/' for vocabularies without fragments
func TypeFragment(expandedType string) string {
	if idx := strings.LastIndex(expandedType, "#"); idx >= 0 {
		return expandedType[idx+1:]
	}
	if idx := strings.LastIndex(expandedType, "/"); idx >= 0 {
		return expandedType[idx+1:]
	}
	return expandedType
}

func cacheKey(op, term string, contexts []string) string {
	return op + "|" + term + "|" + strings.Join(contexts, ",")
}
