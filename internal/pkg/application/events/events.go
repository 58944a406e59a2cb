package events

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/diwise/graph-broker/pkg/ngsild"
	"github.com/diwise/graph-broker/pkg/ngsild/jsonld"
	"github.com/diwise/graph-broker/pkg/ngsild/types"
	"github.com/diwise/graph-broker/pkg/ngsild/types/entities"
)

type EventType string

const (
	EntityCreate                EventType = "ENTITY_CREATE"
	EntityReplace               EventType = "ENTITY_REPLACE"
	EntityDelete                EventType = "ENTITY_DELETE"
	AttributeAppend             EventType = "ATTRIBUTE_APPEND"
	AttributeReplace            EventType = "ATTRIBUTE_REPLACE"
	AttributeUpdate             EventType = "ATTRIBUTE_UPDATE"
	AttributeDelete             EventType = "ATTRIBUTE_DELETE"
	AttributeDeleteAllInstances EventType = "ATTRIBUTE_DELETE_ALL_INSTANCES"
)

const TopicPrefix string = "cim.entity."

var validTopic = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,249}$`)

// EntityEvent is the message published on the bus for every change of an
// entity. Entity types are expanded. Attribute names and the operation payload
// are compacted using the carried contexts, so consumers expand them again.
type EntityEvent struct {
	OperationType    EventType       `json:"operationType"`
	EntityID         string          `json:"entityId"`
	EntityType       string          `json:"entityType"`
	AttributeName    string          `json:"attributeName,omitempty"`
	DatasetID        *string         `json:"datasetId,omitempty"`
	Overwrite        bool            `json:"overwrite"`
	OperationPayload json.RawMessage `json:"operationPayload,omitempty"`
	UpdatedEntity    json.RawMessage `json:"updatedEntity,omitempty"`
	Contexts         []string        `json:"contexts"`
}

func (e EntityEvent) Bytes() []byte {
	b, _ := json.Marshal(e)
	return b
}

func Parse(body []byte) (*EntityEvent, error) {
	event := &EntityEvent{}
	if err := json.Unmarshal(body, event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity event: %w", err)
	}

	if event.OperationType == "" || event.EntityID == "" {
		return nil, fmt.Errorf("entity event without operation type or entity id")
	}

	return event, nil
}

// Topic returns the bus topic for events about entities of the given expanded
// type, or false when the type does not yield a valid topic name
func Topic(entityType string) (string, bool) {
	topic := TopicPrefix + jsonld.TypeFragment(entityType)
	return topic, validTopic.MatchString(topic)
}

func operationFor(result ngsild.UpdateOperationResult) EventType {
	switch result {
	case ngsild.Appended:
		return AttributeAppend
	case ngsild.Replaced:
		return AttributeReplace
	}
	return AttributeUpdate
}

// AttributeEvents maps the outcome of an attribute mutation to one event per
// written (attribute name, datasetId). The payload of each event is the
// supplied instance that produced the outcome.
func AttributeEvents(entity types.Entity, instances []types.Attribute, result *ngsild.UpdateResult, overwrite bool, resolver entities.TermResolver, contexts []string) []EntityEvent {
	if result == nil {
		return nil
	}

	updated := compactEntity(entity, resolver)
	contexts = contextsOrEntity(contexts, entity)
	evts := make([]EntityEvent, 0, len(result.Updated))

	for _, u := range result.Updated {
		var payload json.RawMessage
		for _, a := range instances {
			if a.Name == u.AttributeName && types.SameDataset(a.DatasetID, u.DatasetID) {
				payload = entities.InstancePayload(a, resolver, contexts)
				break
			}
		}

		evts = append(evts, EntityEvent{
			OperationType:    operationFor(u.Result),
			EntityID:         entity.ID,
			EntityType:       entity.Type(),
			AttributeName:    resolver.CompactTerm(u.AttributeName, contexts),
			DatasetID:        u.DatasetID,
			Overwrite:        overwrite,
			OperationPayload: payload,
			UpdatedEntity:    updated,
			Contexts:         contexts,
		})
	}

	return evts
}

// AttributeDeleteEvent describes the removal of one instance, or of every
// instance when deleteAll is set, in which case no datasetId is carried
func AttributeDeleteEvent(entity types.Entity, name string, datasetID *string, deleteAll bool, resolver entities.TermResolver, contexts []string) EntityEvent {
	contexts = contextsOrEntity(contexts, entity)

	event := EntityEvent{
		OperationType: AttributeDelete,
		EntityID:      entity.ID,
		EntityType:    entity.Type(),
		AttributeName: resolver.CompactTerm(name, contexts),
		DatasetID:     datasetID,
		UpdatedEntity: compactEntity(entity, resolver),
		Contexts:      contexts,
	}

	if deleteAll {
		event.OperationType = AttributeDeleteAllInstances
		event.DatasetID = nil
	}

	return event
}

func EntityCreateEvent(entity types.Entity, payload []byte) EntityEvent {
	return EntityEvent{
		OperationType:    EntityCreate,
		EntityID:         entity.ID,
		EntityType:       entity.Type(),
		OperationPayload: payload,
		Contexts:         entity.Contexts,
	}
}

func EntityReplaceEvent(entity types.Entity, payload []byte) EntityEvent {
	event := EntityCreateEvent(entity, payload)
	event.OperationType = EntityReplace
	return event
}

func EntityDeleteEvent(entityID, entityType string, contexts []string) EntityEvent {
	return EntityEvent{
		OperationType: EntityDelete,
		EntityID:      entityID,
		EntityType:    entityType,
		Contexts:      contexts,
	}
}

func contextsOrEntity(contexts []string, entity types.Entity) []string {
	if len(contexts) == 0 {
		return entity.Contexts
	}
	return contexts
}

func compactEntity(entity types.Entity, resolver entities.TermResolver) json.RawMessage {
	b, _ := json.Marshal(entities.Compact(entity, resolver, entities.CompactOptions{}))
	return b
}
