package entities

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"time"

	ngsierrors "github.com/diwise/graph-broker/pkg/ngsild/errors"
	"github.com/diwise/graph-broker/pkg/ngsild/geojson"
	"github.com/diwise/graph-broker/pkg/ngsild/jsonld"
	"github.com/diwise/graph-broker/pkg/ngsild/types"
)

// TermResolver expands and compacts attribute and type names
type TermResolver interface {
	ExpandTerm(term string, contexts []string) string
	CompactTerm(uri string, contexts []string) string
}

var entityMembers = []string{"id", "type", "@context", "createdAt", "modifiedAt"}

var instanceMembers = []string{"type", "value", "object", "datasetId", "observedAt", "unitCode", "createdAt", "modifiedAt"}

// Parse decodes a normalized NGSI-LD entity. Contexts found in the body take
// precedence over linkContexts (typically taken from a Link header).
func Parse(body []byte, linkContexts []string, resolver TermResolver) (*types.Entity, error) {
	contents, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	contexts := ExtractContexts(contents, linkContexts)

	entityID, ok := contents["id"].(string)
	if !ok || entityID == "" {
		return nil, ngsierrors.NewBadRequestDataError("The provided NGSI-LD entity does not contain an id property")
	}

	if !IsURI(entityID) {
		return nil, ngsierrors.NewInvalidURIError(entityID)
	}

	entityTypes, err := parseTypes(contents["type"])
	if err != nil {
		return nil, err
	}

	attributes, err := parseAttributeMap(withoutMembers(contents, entityMembers), contexts, resolver, false)
	if err != nil {
		return nil, err
	}

	for i := range entityTypes {
		entityTypes[i] = resolver.ExpandTerm(entityTypes[i], contexts)
	}

	return &types.Entity{
		ID:         entityID,
		Types:      entityTypes,
		Attributes: attributes,
		Contexts:   contexts,
	}, nil
}

// ParseAttributes decodes a fragment holding one or more attributes, as sent to
// the append and update endpoints, and returns the attributes together with the
// contexts used to expand their names
func ParseAttributes(body []byte, linkContexts []string, resolver TermResolver) ([]types.Attribute, []string, error) {
	contents, err := decodeObject(body)
	if err != nil {
		return nil, nil, err
	}

	contexts := ExtractContexts(contents, linkContexts)

	attributes, err := parseAttributeMap(withoutMembers(contents, entityMembers), contexts, resolver, false)
	if err != nil {
		return nil, nil, err
	}

	return attributes, contexts, nil
}

// ParsePartialAttribute decodes the instance(s) of a single attribute where
// only the fields being modified are present
func ParsePartialAttribute(term string, body []byte, contexts []string, resolver TermResolver) ([]types.Attribute, error) {
	var raw any

	d := json.NewDecoder(bytes.NewReader(body))
	d.UseNumber()

	if err := d.Decode(&raw); err != nil {
		return nil, ngsierrors.NewInvalidRequestError("unable to decode request payload")
	}

	if m, ok := raw.(map[string]any); ok {
		if ctx, found := m["@context"]; found {
			contexts = contextsOf(ctx, contexts)
			delete(m, "@context")
		}
	}

	return parseAttribute(term, raw, contexts, resolver, true)
}

// ExtractContexts returns the JSON-LD contexts of a decoded document, falling
// back to linkContexts and then to the NGSI-LD core context
func ExtractContexts(contents map[string]any, linkContexts []string) []string {
	return contextsOf(contents["@context"], linkContexts)
}

func contextsOf(ctx any, linkContexts []string) []string {
	contexts := []string{}

	switch c := ctx.(type) {
	case string:
		contexts = append(contexts, c)
	case []any:
		for _, v := range c {
			if s, ok := v.(string); ok {
				contexts = append(contexts, s)
			}
		}
	}

	if len(contexts) == 0 {
		contexts = append(contexts, linkContexts...)
	}

	if len(contexts) == 0 {
		contexts = append(contexts, jsonld.NgsiLdCoreContext)
	}

	return contexts
}

// IsURI reports whether s can be parsed as an absolute URI
func IsURI(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != ""
}

func decodeObject(body []byte) (map[string]any, error) {
	contents := map[string]any{}

	d := json.NewDecoder(bytes.NewReader(body))
	d.UseNumber()

	if err := d.Decode(&contents); err != nil {
		return nil, ngsierrors.NewInvalidRequestError("unable to decode request payload")
	}

	return contents, nil
}

func parseTypes(t any) ([]string, error) {
	switch v := t.(type) {
	case string:
		if v != "" {
			return []string{v}, nil
		}
	case []any:
		result := []string{}
		for _, tt := range v {
			if s, ok := tt.(string); ok && s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result, nil
		}
	}

	return nil, ngsierrors.NewBadRequestDataError("The provided NGSI-LD entity does not contain a type property")
}

func withoutMembers(contents map[string]any, members []string) map[string]any {
	result := maps.Clone(contents)
	for _, m := range members {
		delete(result, m)
	}
	return result
}

func parseAttributeMap(contents map[string]any, contexts []string, resolver TermResolver, partial bool) ([]types.Attribute, error) {
	attributes := []types.Attribute{}

	for _, term := range slices.Sorted(maps.Keys(contents)) {
		instances, err := parseAttribute(term, contents[term], contexts, resolver, partial)
		if err != nil {
			return nil, err
		}
		attributes = append(attributes, instances...)
	}

	return attributes, nil
}

func parseAttribute(term string, raw any, contexts []string, resolver TermResolver, partial bool) ([]types.Attribute, error) {
	name := resolver.ExpandTerm(term, contexts)

	objects := []map[string]any{}

	switch v := raw.(type) {
	case map[string]any:
		objects = append(objects, v)
	case []any:
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, ngsierrors.NewBadRequestDataError(fmt.Sprintf("Attribute %s has an instance that is not an object", term))
			}
			objects = append(objects, obj)
		}
	default:
		return nil, ngsierrors.NewBadRequestDataError(fmt.Sprintf("Attribute %s must be an object or an array of objects", term))
	}

	instances := make([]types.Attribute, 0, len(objects))

	for _, obj := range objects {
		a, err := parseInstance(term, name, obj, contexts, resolver, partial)
		if err != nil {
			return nil, err
		}

		for _, existing := range instances {
			if types.SameDataset(existing.DatasetID, a.DatasetID) {
				return nil, ngsierrors.NewBadRequestDataError(
					fmt.Sprintf("Attribute %s can't have more than one instance with the same datasetId", term),
				)
			}
		}

		instances = append(instances, a)
	}

	return instances, nil
}

func parseInstance(term, name string, obj map[string]any, contexts []string, resolver TermResolver, partial bool) (types.Attribute, error) {
	a := types.Attribute{Name: name}

	typ, _ := obj["type"].(string)
	kind, ok := types.ParseAttributeKind(typ)
	if !ok {
		if !partial || typ != "" {
			return a, ngsierrors.NewBadRequestDataError(fmt.Sprintf("Attribute %s has an unsupported type: %q", term, typ))
		}
		if _, hasObject := obj["object"]; hasObject {
			kind = types.RelationshipKind
		}
	}
	a.Kind = kind

	if v, found := obj["datasetId"]; found {
		datasetID, ok := v.(string)
		if !ok || !IsURI(datasetID) {
			return a, ngsierrors.NewBadRequestDataError(fmt.Sprintf("Attribute %s has a datasetId that is not an URI: %v", term, v))
		}
		a.DatasetID = &datasetID
	}

	if v, found := obj["observedAt"]; found {
		s, _ := v.(string)
		observedAt, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return a, ngsierrors.NewBadRequestDataError(fmt.Sprintf("Attribute %s has an invalid observedAt: %v", term, v))
		}
		observedAt = observedAt.UTC()
		a.ObservedAt = &observedAt
	}

	if v, found := obj["unitCode"].(string); found {
		a.UnitCode = &v
	}

	switch kind {
	case types.PropertyKind:
		v, found := obj["value"]
		if (!found || v == nil) && !partial {
			return a, ngsierrors.NewBadRequestDataError(fmt.Sprintf("Property %s does not have a value field", term))
		}
		a.Value = normalizeValue(v)
	case types.RelationshipKind:
		v, found := obj["object"]
		if !found && partial {
			break
		}
		object, ok := v.(string)
		if !ok || object == "" {
			return a, ngsierrors.NewBadRequestDataError(fmt.Sprintf("Relationship %s does not have an object field", term))
		}
		if !IsURI(object) {
			return a, ngsierrors.NewBadRequestDataError(fmt.Sprintf("Relationship %s has an object that was expected to be an URI: %s", term, object))
		}
		a.Object = object
	case types.GeoPropertyKind:
		v, found := obj["value"]
		if !found && partial {
			break
		}
		geometry, err := geojson.UnmarshalGeometry(v)
		if err != nil {
			return a, ngsierrors.NewBadRequestDataError(fmt.Sprintf("GeoProperty %s has an invalid geometry: %s", term, err.Error()))
		}
		a.Geometry = geometry
	}

	nested := map[string]any{}
	for k, v := range withoutMembers(obj, instanceMembers) {
		if isAttributeLike(v) {
			nested[k] = v
		}
	}

	if len(nested) > 0 {
		children, err := parseAttributeMap(nested, contexts, resolver, false)
		if err != nil {
			return a, err
		}
		a.Attributes = children
	}

	a.Fragment, _ = json.Marshal(obj)

	return a, nil
}

func isAttributeLike(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		_, ok := t["type"]
		return ok
	case []any:
		return len(t) > 0 && isAttributeLike(t[0])
	}
	return false
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = normalizeValue(vv)
		}
		return m
	case []any:
		l := make([]any, 0, len(t))
		for _, vv := range t {
			l = append(l, normalizeValue(vv))
		}
		return l
	}
	return v
}
