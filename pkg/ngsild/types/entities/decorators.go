package entities

import (
	"time"

	"github.com/diwise/graph-broker/pkg/ngsild/geojson"
	"github.com/diwise/graph-broker/pkg/ngsild/types"
)

type EntityDecoratorFunc func(e *types.Entity)

type AttributeDecoratorFunc func(a *types.Attribute)

// New builds an entity in code. Names and types are used as given, so callers
// are expected to pass expanded terms.
func New(entityID string, entityTypes []string, decorators ...EntityDecoratorFunc) *types.Entity {
	e := &types.Entity{
		ID:         entityID,
		Types:      entityTypes,
		Attributes: []types.Attribute{},
	}

	for _, decorator := range decorators {
		decorator(e)
	}

	return e
}

func Contexts(contexts ...string) EntityDecoratorFunc {
	return func(e *types.Entity) {
		e.Contexts = contexts
	}
}

func P(name string, value any, decorators ...AttributeDecoratorFunc) EntityDecoratorFunc {
	return func(e *types.Entity) {
		e.Attributes = append(e.Attributes, NewProperty(name, value, decorators...))
	}
}

func R(name, object string, decorators ...AttributeDecoratorFunc) EntityDecoratorFunc {
	return func(e *types.Entity) {
		e.Attributes = append(e.Attributes, NewRelationship(name, object, decorators...))
	}
}

func Location(name string, latitude, longitude float64) EntityDecoratorFunc {
	return func(e *types.Entity) {
		e.Attributes = append(e.Attributes, types.Attribute{
			Kind:     types.GeoPropertyKind,
			Name:     name,
			Geometry: geojson.NewPoint(longitude, latitude),
		})
	}
}

func NewProperty(name string, value any, decorators ...AttributeDecoratorFunc) types.Attribute {
	a := types.Attribute{Kind: types.PropertyKind, Name: name, Value: value}
	for _, decorator := range decorators {
		decorator(&a)
	}
	return a
}

func NewRelationship(name, object string, decorators ...AttributeDecoratorFunc) types.Attribute {
	a := types.Attribute{Kind: types.RelationshipKind, Name: name, Object: object}
	for _, decorator := range decorators {
		decorator(&a)
	}
	return a
}

func DatasetID(datasetID string) AttributeDecoratorFunc {
	return func(a *types.Attribute) {
		a.DatasetID = &datasetID
	}
}

func ObservedAt(t time.Time) AttributeDecoratorFunc {
	return func(a *types.Attribute) {
		utc := t.UTC()
		a.ObservedAt = &utc
	}
}

func UnitCode(code string) AttributeDecoratorFunc {
	return func(a *types.Attribute) {
		a.UnitCode = &code
	}
}

// Nested adds a property or relationship to the attribute instance
func Nested(child types.Attribute) AttributeDecoratorFunc {
	return func(a *types.Attribute) {
		a.Attributes = append(a.Attributes, child)
	}
}
