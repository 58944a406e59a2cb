package entities

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/diwise/graph-broker/pkg/ngsild/types"
)

type CompactOptions struct {
	// KeyValues selects the simplified representation
	KeyValues bool
	SysAttrs  bool
	// Attrs restricts the output to the given expanded attribute names
	Attrs          []string
	IncludeContext bool
}

// Compact renders an entity as compacted NGSI-LD JSON
func Compact(e types.Entity, resolver TermResolver, opts CompactOptions) map[string]any {
	contents := map[string]any{
		"id": e.ID,
	}

	entityTypes := make([]string, 0, len(e.Types))
	for _, t := range e.Types {
		entityTypes = append(entityTypes, resolver.CompactTerm(t, e.Contexts))
	}

	if len(entityTypes) == 1 {
		contents["type"] = entityTypes[0]
	} else {
		contents["type"] = entityTypes
	}

	if opts.SysAttrs && !opts.KeyValues {
		addSysAttrs(contents, e.CreatedAt, e.ModifiedAt)
	}

	names, groups := types.GroupByName(e.Attributes)
	for _, name := range names {
		if len(opts.Attrs) > 0 && !slices.Contains(opts.Attrs, name) {
			continue
		}

		term := resolver.CompactTerm(name, e.Contexts)
		contents[term] = compactInstances(groups[name], resolver, e.Contexts, opts)
	}

	if opts.IncludeContext {
		contents["@context"] = e.Contexts
	}

	return contents
}

// CompactAttribute renders a single attribute instance, including the
// attributes nested inside of it
func CompactAttribute(a types.Attribute, resolver TermResolver, contexts []string, sysAttrs bool) map[string]any {
	contents := map[string]any{
		"type": a.Kind.String(),
	}

	switch a.Kind {
	case types.PropertyKind:
		contents["value"] = a.Value
	case types.RelationshipKind:
		contents["object"] = a.Object
	case types.GeoPropertyKind:
		contents["value"] = a.Geometry
	}

	if a.DatasetID != nil {
		contents["datasetId"] = *a.DatasetID
	}

	if a.ObservedAt != nil {
		contents["observedAt"] = formatTime(*a.ObservedAt)
	}

	if a.UnitCode != nil {
		contents["unitCode"] = *a.UnitCode
	}

	if sysAttrs {
		addSysAttrs(contents, a.CreatedAt, a.ModifiedAt)
	}

	opts := CompactOptions{SysAttrs: sysAttrs}
	names, groups := types.GroupByName(a.Attributes)
	for _, name := range names {
		contents[resolver.CompactTerm(name, contexts)] = compactInstances(groups[name], resolver, contexts, opts)
	}

	return contents
}

// InstancePayload returns the compacted JSON of one attribute instance keyed
// by its compacted name, e.g. {"fishAge":{"type":"Property","value":3}}
func InstancePayload(a types.Attribute, resolver TermResolver, contexts []string) []byte {
	term := resolver.CompactTerm(a.Name, contexts)

	var instance any = CompactAttribute(a, resolver, contexts, false)
	if len(a.Fragment) > 0 {
		instance = a.Fragment
	}

	b, _ := json.Marshal(map[string]any{term: instance})
	return b
}

// SimplifiedValue returns the value used for an attribute instance in the
// keyValues representation
func SimplifiedValue(a types.Attribute) any {
	switch a.Kind {
	case types.RelationshipKind:
		return a.Object
	case types.GeoPropertyKind:
		return a.Geometry
	}
	return a.Value
}

func compactInstances(instances []types.Attribute, resolver TermResolver, contexts []string, opts CompactOptions) any {
	result := make([]any, 0, len(instances))

	for _, a := range instances {
		if opts.KeyValues {
			result = append(result, SimplifiedValue(a))
		} else {
			result = append(result, CompactAttribute(a, resolver, contexts, opts.SysAttrs))
		}
	}

	if len(result) == 1 {
		return result[0]
	}

	return result
}

func addSysAttrs(contents map[string]any, createdAt, modifiedAt *time.Time) {
	if createdAt != nil {
		contents["createdAt"] = formatTime(*createdAt)
	}
	if modifiedAt != nil {
		contents["modifiedAt"] = formatTime(*modifiedAt)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
