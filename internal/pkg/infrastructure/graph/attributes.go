package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	ngsierrors "github.com/diwise/graph-broker/pkg/ngsild/errors"
	"github.com/diwise/graph-broker/pkg/ngsild/types"
)

const jsonValueType string = "json"

// datasetFilter matches the instance with the given dataset id, where a null
// parameter selects the default instance
const datasetFilter string = `(($datasetId IS NULL AND a.datasetId IS NULL) OR a.datasetId = $datasetId)`

func (s *Store) HasPropertyInstance(ctx context.Context, subject types.SubjectRef, name string, datasetID *string) (bool, error) {
	return s.hasInstance(ctx, subject, "HAS_VALUE", PropertyLabel, name, datasetID)
}

func (s *Store) HasRelationshipInstance(ctx context.Context, subject types.SubjectRef, name string, datasetID *string) (bool, error) {
	return s.hasInstance(ctx, subject, "HAS_OBJECT", RelationshipLabel, name, datasetID)
}

func (s *Store) hasInstance(ctx context.Context, subject types.SubjectRef, relType, label, name string, datasetID *string) (bool, error) {
	query := fmt.Sprintf(`
		MATCH (s:%s {id: $subjectId})-[:%s]->(a:Attribute:%s {name: $name})
		WHERE %s
		RETURN a.id AS id`, subject.Label(), relType, label, datasetFilter)

	result, err := s.runner.Run(ctx, query, instanceParams(subject, name, datasetID))
	if err != nil {
		return false, fmt.Errorf("failed to look up %s %s of %s: %w", label, name, subject.ID, err)
	}

	return len(result.Records) > 0, nil
}

func (s *Store) HasGeoPropertyOfName(ctx context.Context, entityID, name string) (bool, error) {
	query := `
		MATCH (e:Entity {id: $entityId})
		WHERE e[$name] IS NOT NULL
		RETURN e.id AS id`

	result, err := s.runner.Run(ctx, query, map[string]any{"entityId": entityID, "name": name})
	if err != nil {
		return false, fmt.Errorf("failed to look up geo property %s of %s: %w", name, entityID, err)
	}

	return len(result.Records) > 0, nil
}

// CreatePropertyOfSubject creates a property instance owned by subject and
// returns a reference to the new attribute node
func (s *Store) CreatePropertyOfSubject(ctx context.Context, subject types.SubjectRef, property types.Attribute) (types.SubjectRef, error) {
	props, err := s.nodeProperties(property)
	if err != nil {
		return types.SubjectRef{}, err
	}

	query := fmt.Sprintf(`
		MATCH (s:%s {id: $subjectId})
		CREATE (s)-[:HAS_VALUE]->(a:Attribute:Property)
		SET a = $props
		RETURN a.id AS id`, subject.Label())

	result, err := s.runner.Run(ctx, query, map[string]any{"subjectId": subject.ID, "props": props})
	if err != nil {
		return types.SubjectRef{}, fmt.Errorf("failed to create property %s of %s: %w", property.Name, subject.ID, err)
	}

	if len(result.Records) == 0 {
		return types.SubjectRef{}, ngsierrors.NewNotFoundError(fmt.Sprintf("%s %s does not exist", subject.Label(), subject.ID))
	}

	return types.AttributeRef(props["id"].(string)), nil
}

// CreateRelationshipOfSubject creates a relationship instance owned by subject
// and pointing at the entity targetID. Both must exist.
func (s *Store) CreateRelationshipOfSubject(ctx context.Context, subject types.SubjectRef, relationship types.Attribute, targetID string) (types.SubjectRef, error) {
	props, err := s.nodeProperties(relationship)
	if err != nil {
		return types.SubjectRef{}, err
	}

	name := escape(relationship.Name)

	query := fmt.Sprintf(`
		MATCH (s:%s {id: $subjectId})
		MATCH (t:Entity {id: $targetId})
		CREATE (s)-[:HAS_OBJECT]->(a:Attribute:Relationship:%s)-[:%s]->(t)
		SET a = $props
		RETURN a.id AS id`, subject.Label(), name, name)

	params := map[string]any{
		"subjectId": subject.ID,
		"targetId":  targetID,
		"props":     props,
	}

	result, err := s.runner.Run(ctx, query, params)
	if err != nil {
		return types.SubjectRef{}, fmt.Errorf("failed to create relationship %s of %s: %w", relationship.Name, subject.ID, err)
	}

	if len(result.Records) == 0 {
		return types.SubjectRef{}, ngsierrors.NewNotFoundError(
			fmt.Sprintf("either %s or the target %s of relationship %s does not exist", subject.ID, targetID, relationship.Name),
		)
	}

	return types.AttributeRef(props["id"].(string)), nil
}

// UpdatePropertyValues sets the fields present in property on an existing
// property instance and reports whether an instance was found
func (s *Store) UpdatePropertyValues(ctx context.Context, subject types.SubjectRef, property types.Attribute) (bool, error) {
	props := map[string]any{
		"modifiedAt": s.now(),
	}

	if property.Value != nil {
		value, valueType, err := encodeValue(property.Value)
		if err != nil {
			return false, err
		}
		props["value"] = value
		props["valueType"] = nil
		if valueType != "" {
			props["valueType"] = valueType
		}
	}

	if property.UnitCode != nil {
		props["unitCode"] = *property.UnitCode
	}

	if property.ObservedAt != nil {
		props["observedAt"] = *property.ObservedAt
	}

	query := fmt.Sprintf(`
		MATCH (s:%s {id: $subjectId})-[:HAS_VALUE]->(a:Attribute:Property {name: $name})
		WHERE %s
		SET a += $props
		RETURN a.id AS id`, subject.Label(), datasetFilter)

	params := instanceParams(subject, property.Name, property.DatasetID)
	params["props"] = props

	result, err := s.runner.Run(ctx, query, params)
	if err != nil {
		return false, fmt.Errorf("failed to update property %s of %s: %w", property.Name, subject.ID, err)
	}

	return len(result.Records) > 0, nil
}

// DeleteEntityProperty deletes the matching property instance, or every
// instance when deleteAll is set, together with the attributes nested in them.
// The number of deleted nodes is returned.
func (s *Store) DeleteEntityProperty(ctx context.Context, subject types.SubjectRef, name string, datasetID *string, deleteAll bool) (int, error) {
	return s.deleteInstances(ctx, subject, "HAS_VALUE", PropertyLabel, name, datasetID, deleteAll)
}

func (s *Store) DeleteEntityRelationship(ctx context.Context, subject types.SubjectRef, name string, datasetID *string, deleteAll bool) (int, error) {
	return s.deleteInstances(ctx, subject, "HAS_OBJECT", RelationshipLabel, name, datasetID, deleteAll)
}

func (s *Store) deleteInstances(ctx context.Context, subject types.SubjectRef, relType, label, name string, datasetID *string, deleteAll bool) (int, error) {
	query := fmt.Sprintf(`
		MATCH (s:%s {id: $subjectId})-[:%s]->(a:Attribute:%s {name: $name})
		WHERE $deleteAll OR %s
		OPTIONAL MATCH (a)-[:HAS_VALUE|HAS_OBJECT*1..]->(n:Attribute)
		DETACH DELETE a, n`, subject.Label(), relType, label, datasetFilter)

	params := instanceParams(subject, name, datasetID)
	params["deleteAll"] = deleteAll

	result, err := s.runner.Run(ctx, query, params)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s %s of %s: %w", label, name, subject.ID, err)
	}

	return result.NodesDeleted, nil
}

func (s *Store) AddLocationPropertyToEntity(ctx context.Context, entityID string, geoProperty types.Attribute) error {
	return s.setGeoProperty(ctx, entityID, geoProperty.Name, geoProperty.Geometry.WKT())
}

func (s *Store) UpdateLocationPropertyOfEntity(ctx context.Context, entityID string, geoProperty types.Attribute) error {
	return s.setGeoProperty(ctx, entityID, geoProperty.Name, geoProperty.Geometry.WKT())
}

// DeleteGeoProperty removes a geo property from the entity node and reports
// whether it was present
func (s *Store) DeleteGeoProperty(ctx context.Context, entityID, name string) (bool, error) {
	query := `
		MATCH (e:Entity {id: $entityId})
		WHERE e[$name] IS NOT NULL
		SET e += $geo
		RETURN e.id AS id`

	params := map[string]any{
		"entityId": entityID,
		"name":     name,
		"geo":      map[string]any{name: nil},
	}

	result, err := s.runner.Run(ctx, query, params)
	if err != nil {
		return false, fmt.Errorf("failed to delete geo property %s of %s: %w", name, entityID, err)
	}

	return len(result.Records) > 0, nil
}

func (s *Store) setGeoProperty(ctx context.Context, entityID, name, wkt string) error {
	query := `
		MATCH (e:Entity {id: $entityId})
		SET e += $geo
		RETURN e.id AS id`

	params := map[string]any{
		"entityId": entityID,
		"geo":      map[string]any{name: wkt},
	}

	result, err := s.runner.Run(ctx, query, params)
	if err != nil {
		return fmt.Errorf("failed to set geo property %s of %s: %w", name, entityID, err)
	}

	if len(result.Records) == 0 {
		return ngsierrors.NewEntityNotFoundError(entityID)
	}

	return nil
}

func (s *Store) nodeProperties(a types.Attribute) (map[string]any, error) {
	now := s.now()

	props := map[string]any{
		"name":      a.Name,
		"createdAt": now,
	}

	switch a.Kind {
	case types.PropertyKind:
		props["id"] = "urn:ngsi-ld:Property:" + uuid.NewString()

		value, valueType, err := encodeValue(a.Value)
		if err != nil {
			return nil, err
		}

		props["value"] = value
		if valueType != "" {
			props["valueType"] = valueType
		}
	case types.RelationshipKind:
		props["id"] = "urn:ngsi-ld:Relationship:" + uuid.NewString()
		props["objectId"] = a.Object
	default:
		return nil, fmt.Errorf("attributes of kind %s are not stored as attribute nodes", a.Kind)
	}

	if a.DatasetID != nil {
		props["datasetId"] = *a.DatasetID
	}

	if a.UnitCode != nil {
		props["unitCode"] = *a.UnitCode
	}

	if a.ObservedAt != nil {
		props["observedAt"] = *a.ObservedAt
	}

	return props, nil
}

func attributeFromNode(node neo4j.Node) (types.Attribute, error) {
	a := types.Attribute{
		Kind: types.PropertyKind,
	}

	for _, l := range node.Labels {
		if l == RelationshipLabel {
			a.Kind = types.RelationshipKind
		}
	}

	a.Name, _ = node.Props["name"].(string)

	if datasetID, ok := node.Props["datasetId"].(string); ok {
		a.DatasetID = &datasetID
	}

	if unitCode, ok := node.Props["unitCode"].(string); ok {
		a.UnitCode = &unitCode
	}

	a.ObservedAt = timeProp(node.Props, "observedAt")
	a.CreatedAt = timeProp(node.Props, "createdAt")
	a.ModifiedAt = timeProp(node.Props, "modifiedAt")

	if a.Kind == types.RelationshipKind {
		a.Object, _ = node.Props["objectId"].(string)
		return a, nil
	}

	valueType, _ := node.Props["valueType"].(string)
	value, err := decodeValue(node.Props["value"], valueType)
	if err != nil {
		return a, fmt.Errorf("failed to decode value of %s: %w", a.Name, err)
	}
	a.Value = value

	return a, nil
}

// encodeValue converts a property value into something that can be stored as
// a node property. Scalars and homogeneous lists of scalars are stored as is,
// anything else is stored as a JSON string.
func encodeValue(v any) (any, string, error) {
	switch t := v.(type) {
	case string, bool, int64, float64, int, time.Time:
		return t, "", nil
	case []any:
		if strs, ok := stringList(t); ok {
			return strs, "", nil
		}
	case []string:
		return t, "", nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode property value: %w", err)
	}

	return string(b), jsonValueType, nil
}

func decodeValue(v any, valueType string) (any, error) {
	if valueType != jsonValueType {
		return v, nil
	}

	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected a json encoded string, got %T", v)
	}

	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return nil, err
	}

	return decoded, nil
}

func stringList(l []any) ([]string, bool) {
	if len(l) == 0 {
		return nil, false
	}

	strs := make([]string, 0, len(l))
	for _, v := range l {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		strs = append(strs, s)
	}

	return strs, true
}

func instanceParams(subject types.SubjectRef, name string, datasetID *string) map[string]any {
	params := map[string]any{
		"subjectId": subject.ID,
		"name":      name,
		"datasetId": nil,
	}

	if datasetID != nil {
		params["datasetId"] = *datasetID
	}

	return params
}
