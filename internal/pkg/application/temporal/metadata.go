package temporal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/diwise/graph-broker/pkg/ngsild/types"
)

// AttributeMetadata is what the temporal store needs to know about one
// attribute instance
type AttributeMetadata struct {
	MeasuredValue *float64
	Value         *string
	ValueType     AttributeValueType
	DatasetID     *string
	Type          AttributeType
	ObservedAt    time.Time
}

// Result holds either a value or the reason it could not be produced. An
// invalid result is an expected outcome and not an error.
type Result[T any] struct {
	value  T
	reason string
	valid  bool
}

func Valid[T any](value T) Result[T] {
	return Result[T]{value: value, valid: true}
}

func Invalid[T any](reason string) Result[T] {
	return Result[T]{reason: reason}
}

func (r Result[T]) IsValid() bool {
	return r.valid
}

func (r Result[T]) Value() T {
	return r.value
}

func (r Result[T]) Reason() string {
	return r.reason
}

// ToTemporalAttributeMetadata decides whether an attribute instance belongs in
// the temporal store, and how. Only instances with an observedAt are temporal,
// GeoProperties are never stored and JSON numbers become measures.
func ToTemporalAttributeMetadata(a types.Attribute) Result[AttributeMetadata] {
	if !a.IsTemporal() {
		return Invalid[AttributeMetadata](fmt.Sprintf("Ignoring attribute %s, it has no observedAt information", a.Name))
	}

	md := AttributeMetadata{
		DatasetID:  a.DatasetID,
		ObservedAt: a.ObservedAt.UTC(),
		ValueType:  Any,
	}

	switch a.Kind {
	case types.PropertyKind:
		md.Type = PropertyType

		if measure, ok := toMeasure(a.Value); ok {
			md.MeasuredValue = &measure
			md.ValueType = Measure
		} else if value, ok := toValue(a.Value); ok {
			md.Value = &value
		}
	case types.RelationshipKind:
		md.Type = RelationshipType

		if a.Object != "" {
			object := a.Object
			md.Value = &object
		}
	default:
		return Invalid[AttributeMetadata](fmt.Sprintf("Unsupported attribute type %s for attribute %s", a.Kind, a.Name))
	}

	if md.MeasuredValue == nil && md.Value == nil {
		return Invalid[AttributeMetadata](fmt.Sprintf("Unable to get a value from attribute %s", a.Name))
	}

	return Valid(md)
}

func toMeasure(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toValue(v any) (string, bool) {
	switch s := v.(type) {
	case nil:
		return "", false
	case string:
		return s, true
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", false
	}

	return string(b), true
}
