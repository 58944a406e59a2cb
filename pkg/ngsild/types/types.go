package types

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/diwise/graph-broker/pkg/ngsild/geojson"
)

// AttributeKind discriminates the three kinds of NGSI-LD attributes
type AttributeKind int

const (
	PropertyKind AttributeKind = iota
	RelationshipKind
	GeoPropertyKind
)

func (k AttributeKind) String() string {
	switch k {
	case PropertyKind:
		return "Property"
	case RelationshipKind:
		return "Relationship"
	case GeoPropertyKind:
		return "GeoProperty"
	}
	return "Unknown"
}

func ParseAttributeKind(s string) (AttributeKind, bool) {
	switch s {
	case "Property":
		return PropertyKind, true
	case "Relationship":
		return RelationshipKind, true
	case "GeoProperty":
		return GeoPropertyKind, true
	}
	return PropertyKind, false
}

// Attribute is one instance of a named attribute. Instances sharing a name are
// told apart by their DatasetID, a nil DatasetID marks the default instance.
type Attribute struct {
	Kind      AttributeKind
	Name      string
	DatasetID *string

	Value    any
	Object   string
	Geometry geojson.GeoJSONGeometry

	UnitCode   *string
	ObservedAt *time.Time
	CreatedAt  *time.Time
	ModifiedAt *time.Time

	// Attributes holds properties and relationships of this attribute instance
	Attributes []Attribute

	// Fragment is the compacted JSON this instance was parsed from
	Fragment json.RawMessage
}

func (a Attribute) IsDefaultInstance() bool {
	return a.DatasetID == nil
}

func (a Attribute) DatasetIDOrEmpty() string {
	if a.DatasetID == nil {
		return ""
	}
	return *a.DatasetID
}

func (a Attribute) IsTemporal() bool {
	return a.ObservedAt != nil
}

// SameDataset compares two optional dataset ids, where two nil ids are equal
func SameDataset(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

type Entity struct {
	ID         string
	Types      []string
	CreatedAt  *time.Time
	ModifiedAt *time.Time
	Attributes []Attribute
	Contexts   []string
}

// Type returns the first (primary) type of the entity
func (e Entity) Type() string {
	if len(e.Types) == 0 {
		return ""
	}
	return e.Types[0]
}

// AttributeNames returns the distinct attribute names in order of appearance
func (e Entity) AttributeNames() []string {
	names := []string{}
	for _, a := range e.Attributes {
		if !slices.Contains(names, a.Name) {
			names = append(names, a.Name)
		}
	}
	return names
}

// Instances returns every instance of the named attribute
func (e Entity) Instances(name string) []Attribute {
	return InstancesOf(e.Attributes, name)
}

// Instance returns the instance of the named attribute with the given dataset id
func (e Entity) Instance(name string, datasetID *string) (Attribute, bool) {
	for _, a := range e.Attributes {
		if a.Name == name && SameDataset(a.DatasetID, datasetID) {
			return a, true
		}
	}
	return Attribute{}, false
}

func (e Entity) ForEachAttribute(callback func(a Attribute)) {
	for _, a := range e.Attributes {
		callback(a)
	}
}

func InstancesOf(attributes []Attribute, name string) []Attribute {
	instances := []Attribute{}
	for _, a := range attributes {
		if a.Name == name {
			instances = append(instances, a)
		}
	}
	return instances
}

// GroupByName groups attribute instances by name, keeping the order of appearance
func GroupByName(attributes []Attribute) ([]string, map[string][]Attribute) {
	names := []string{}
	groups := map[string][]Attribute{}

	for _, a := range attributes {
		if _, ok := groups[a.Name]; !ok {
			names = append(names, a.Name)
		}
		groups[a.Name] = append(groups[a.Name], a)
	}

	return names, groups
}

type SubjectKind int

const (
	EntitySubject SubjectKind = iota
	AttributeSubject
)

// SubjectRef points at the owner of an attribute instance, either an entity or
// another attribute instance
type SubjectRef struct {
	ID   string
	Kind SubjectKind
}

func EntityRef(id string) SubjectRef {
	return SubjectRef{ID: id, Kind: EntitySubject}
}

func AttributeRef(id string) SubjectRef {
	return SubjectRef{ID: id, Kind: AttributeSubject}
}

func (s SubjectRef) Label() string {
	if s.Kind == EntitySubject {
		return "Entity"
	}
	return "Attribute"
}
