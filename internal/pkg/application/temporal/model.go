package temporal

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AttributeType string

const (
	PropertyType     AttributeType = "Property"
	RelationshipType AttributeType = "Relationship"
)

type AttributeValueType string

const (
	Measure AttributeValueType = "MEASURE"
	Any     AttributeValueType = "ANY"
)

// TemporalEntityAttribute is the time series handle of one (entity, attribute,
// dataset) triple. Two handles are the same series when their keys are equal,
// regardless of their generated ids.
type TemporalEntityAttribute struct {
	ID                 uuid.UUID
	EntityID           string
	Type               string
	AttributeName      string
	AttributeType      AttributeType
	AttributeValueType AttributeValueType
	DatasetID          *string
}

func (tea TemporalEntityAttribute) Key() TEAKey {
	key := TEAKey{EntityID: tea.EntityID, AttributeName: tea.AttributeName}
	if tea.DatasetID != nil {
		key.DatasetID = *tea.DatasetID
	}
	return key
}

// TEAKey identifies a time series. An empty DatasetID is the default instance.
type TEAKey struct {
	EntityID      string
	AttributeName string
	DatasetID     string
}

// AttributeInstance is one observation of a temporal attribute. Exactly one of
// MeasuredValue and Value is set.
type AttributeInstance struct {
	InstanceID              uuid.UUID
	TemporalEntityAttribute uuid.UUID
	ObservedAt              time.Time
	MeasuredValue           *float64
	Value                   *string
	Payload                 json.RawMessage
}

// Reference pairs a time series handle with its first instance
type Reference struct {
	Attribute TemporalEntityAttribute
	Instance  AttributeInstance
}

// Batch is the set of instances to append to one time series
type Batch struct {
	Attribute TemporalEntityAttribute
	Instances []AttributeInstance
}

// InstanceRecord is an instance, or an aggregated time bucket, read back from
// the temporal store
type InstanceRecord struct {
	ObservedAt    time.Time
	MeasuredValue *float64
	Value         *string
	Payload       json.RawMessage
}

func newTemporalEntityAttribute(entityID, entityType, attributeName string, md AttributeMetadata) TemporalEntityAttribute {
	return TemporalEntityAttribute{
		ID:                 uuid.New(),
		EntityID:           entityID,
		Type:               entityType,
		AttributeName:      attributeName,
		AttributeType:      md.Type,
		AttributeValueType: md.ValueType,
		DatasetID:          md.DatasetID,
	}
}

func newAttributeInstance(teaID uuid.UUID, md AttributeMetadata, payload json.RawMessage) AttributeInstance {
	return AttributeInstance{
		InstanceID:              uuid.New(),
		TemporalEntityAttribute: teaID,
		ObservedAt:              md.ObservedAt,
		MeasuredValue:           md.MeasuredValue,
		Value:                   md.Value,
		Payload:                 payload,
	}
}
