package graph

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/saulfrancisco-ruizacevedo/gocypher"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	ngsierrors "github.com/diwise/graph-broker/pkg/ngsild/errors"
	"github.com/diwise/graph-broker/pkg/ngsild/geojson"
	"github.com/diwise/graph-broker/pkg/ngsild/types"
)

const (
	EntityLabel       string = "Entity"
	AttributeLabel    string = "Attribute"
	PropertyLabel     string = "Property"
	RelationshipLabel string = "Relationship"
)

// reserved properties of the core entity node, every other property holds
// the WKT of a geo property
var coreProperties = []string{"id", "createdAt", "modifiedAt", "contexts"}

type Store struct {
	runner Runner
	now    func() time.Time
}

func NewStore(runner Runner) *Store {
	return &Store{
		runner: runner,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *Store) EntityExists(ctx context.Context, entityID string) (bool, error) {
	query, params, err := gocypher.NewQueryBuilder().
		Match(gocypher.N("e", EntityLabel).WithProperties(map[string]interface{}{"id": entityID})).
		Return("e").
		Build()
	if err != nil {
		return false, err
	}

	result, err := s.runner.Run(ctx, query, params)
	if err != nil {
		return false, fmt.Errorf("failed to check if entity %s exists: %w", entityID, err)
	}

	return len(result.Records) > 0, nil
}

// CreateEntity creates the core node of an entity, labeled with Entity and
// each of its types. Attributes are created separately.
func (s *Store) CreateEntity(ctx context.Context, entity types.Entity) error {
	if len(entity.Types) == 0 {
		return ngsierrors.NewBadRequestDataError("an entity must have at least one type")
	}

	labels := []string{EntityLabel}
	for _, t := range entity.Types {
		labels = append(labels, escape(t))
	}

	props := map[string]any{
		"id":        entity.ID,
		"createdAt": s.now(),
		"contexts":  entity.Contexts,
	}

	query := fmt.Sprintf("CREATE (e:%s) SET e = $props RETURN e.id AS id", strings.Join(labels, ":"))

	_, err := s.runner.Run(ctx, query, map[string]any{"props": props})
	if err != nil {
		return fmt.Errorf("failed to create entity %s: %w", entity.ID, err)
	}

	return nil
}

// RetrieveEntity loads the core node of an entity together with its attribute
// instances and every attribute nested below them
func (s *Store) RetrieveEntity(ctx context.Context, entityID string) (*types.Entity, error) {
	var err error
	ctx, span := tracer.Start(ctx, "retrieve-entity", trace.WithAttributes(attribute.String("entity-id", entityID)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	query := `
		MATCH (e:Entity {id: $entityId})
		OPTIONAL MATCH (e)-[:HAS_VALUE|HAS_OBJECT]->(a:Attribute)
		OPTIONAL MATCH p = (a)-[:HAS_VALUE|HAS_OBJECT*1..]->(n:Attribute)
		WITH e, a, collect({node: n, parent: nodes(p)[-2].id}) AS nested
		RETURN e, collect({attribute: a, nested: nested}) AS attributes`

	var result *Result
	result, err = s.runner.Run(ctx, query, map[string]any{"entityId": entityID})
	if err != nil {
		err = fmt.Errorf("failed to retrieve entity %s: %w", entityID, err)
		return nil, err
	}

	if len(result.Records) == 0 {
		return nil, ngsierrors.NewEntityNotFoundError(entityID)
	}

	record := result.Records[0]

	node, ok := getNode(record, "e")
	if !ok {
		err = fmt.Errorf("unexpected result when retrieving entity %s", entityID)
		return nil, err
	}

	entity := entityFromNode(node)

	rows, _ := record.Get("attributes")
	for _, row := range asSlice(rows) {
		m, ok := row.(map[string]any)
		if !ok {
			continue
		}

		attrNode, ok := m["attribute"].(neo4j.Node)
		if !ok {
			continue
		}

		a, decodeErr := attributeFromNode(attrNode)
		if decodeErr != nil {
			err = decodeErr
			return nil, err
		}

		children := map[string][]neo4j.Node{}
		for _, n := range asSlice(m["nested"]) {
			nm, ok := n.(map[string]any)
			if !ok {
				continue
			}
			nestedNode, ok := nm["node"].(neo4j.Node)
			if !ok {
				continue
			}
			parent, _ := nm["parent"].(string)
			children[parent] = append(children[parent], nestedNode)
		}

		parentID, _ := attrNode.Props["id"].(string)
		a.Attributes, err = nestedAttributes(parentID, children)
		if err != nil {
			return nil, err
		}

		entity.Attributes = append(entity.Attributes, a)
	}

	return entity, nil
}

func (s *Store) RetrieveEntityTypes(ctx context.Context) ([]string, error) {
	query := `
		MATCH (e:Entity)
		UNWIND labels(e) AS label
		WITH label WHERE label <> 'Entity'
		RETURN DISTINCT label ORDER BY label`

	result, err := s.runner.Run(ctx, query, map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve entity types: %w", err)
	}

	entityTypes := []string{}
	for _, r := range result.Records {
		if label, ok := getString(r, "label"); ok {
			entityTypes = append(entityTypes, label)
		}
	}

	return entityTypes, nil
}

type EntitiesQuery struct {
	IDs    []string
	Types  []string
	Attrs  []string
	Limit  int
	Offset int
}

// QueryEntityIDs returns a page of entity ids matching the query together with
// the total number of matching entities
func (s *Store) QueryEntityIDs(ctx context.Context, q EntitiesQuery) ([]string, int, error) {
	query := `
		MATCH (e:Entity)
		WHERE (size($types) = 0 OR any(l IN labels(e) WHERE l IN $types))
		  AND (size($ids) = 0 OR e.id IN $ids)
		  AND (size($attrs) = 0 OR any(name IN $attrs WHERE
		        e[name] IS NOT NULL OR
		        exists { (e)-[:HAS_VALUE|HAS_OBJECT]->(:Attribute {name: name}) }))
		WITH e ORDER BY e.id
		WITH collect(e.id) AS ids
		RETURN size(ids) AS count, ids[$offset..($offset + $limit)] AS page`

	params := map[string]any{
		"types":  nonNil(q.Types),
		"ids":    nonNil(q.IDs),
		"attrs":  nonNil(q.Attrs),
		"offset": q.Offset,
		"limit":  q.Limit,
	}

	result, err := s.runner.Run(ctx, query, params)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query entities: %w", err)
	}

	ids := []string{}
	if len(result.Records) == 0 {
		return ids, 0, nil
	}

	count, _ := getInt(result.Records[0], "count")
	page, _ := result.Records[0].Get("page")
	for _, v := range asSlice(page) {
		if entityID, ok := v.(string); ok {
			ids = append(ids, entityID)
		}
	}

	return ids, count, nil
}

func (s *Store) UpdateEntityModifiedDate(ctx context.Context, entityID string) error {
	query, params, err := gocypher.NewQueryBuilder().
		Match(gocypher.N("e", EntityLabel).WithProperties(map[string]interface{}{"id": entityID})).
		Set(map[string]interface{}{"e.modifiedAt": s.now()}).
		Return("e").
		Build()
	if err != nil {
		return err
	}

	_, err = s.runner.Run(ctx, query, params)
	if err != nil {
		return fmt.Errorf("failed to update modification date of %s: %w", entityID, err)
	}

	return nil
}

// DeleteEntity removes an entity, every attribute node it owns and the rights
// that other subjects hold on it. It returns the number of deleted nodes and
// relationships.
func (s *Store) DeleteEntity(ctx context.Context, entityID string) (int, int, error) {
	var err error
	ctx, span := tracer.Start(ctx, "delete-entity", trace.WithAttributes(attribute.String("entity-id", entityID)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	query := `
		MATCH (e:Entity {id: $entityId})
		OPTIONAL MATCH (e)-[:HAS_VALUE|HAS_OBJECT]->(a:Attribute)
		OPTIONAL MATCH (a)-[:HAS_VALUE|HAS_OBJECT*1..]->(n:Attribute)
		OPTIONAL MATCH (:Entity)-[:HAS_OBJECT]->(rightNode:Attribute:Relationship)-->(e)
		WHERE any(l IN labels(rightNode) WHERE l IN $rights)
		DETACH DELETE a, n, rightNode`

	var attributes *Result
	attributes, err = s.runner.Run(ctx, query, map[string]any{"entityId": entityID, "rights": AllRights})
	if err != nil {
		err = fmt.Errorf("failed to delete attributes of %s: %w", entityID, err)
		return 0, 0, err
	}

	var deleteQuery string
	var params map[string]any
	deleteQuery, params, err = gocypher.NewQueryBuilder().
		Match(gocypher.N("e", EntityLabel).WithProperties(map[string]interface{}{"id": entityID})).
		DetachDelete("e").
		Build()
	if err != nil {
		return 0, 0, err
	}

	var core *Result
	core, err = s.runner.Run(ctx, deleteQuery, params)
	if err != nil {
		err = fmt.Errorf("failed to delete entity %s: %w", entityID, err)
		return 0, 0, err
	}

	return attributes.NodesDeleted + core.NodesDeleted, attributes.RelationshipsDeleted + core.RelationshipsDeleted, nil
}

// nestedAttributes decodes the attributes owned by the attribute node parentID,
// children holds the nested nodes keyed by the id of their owner
func nestedAttributes(parentID string, children map[string][]neo4j.Node) ([]types.Attribute, error) {
	var attributes []types.Attribute

	for _, node := range children[parentID] {
		a, err := attributeFromNode(node)
		if err != nil {
			return nil, err
		}

		id, _ := node.Props["id"].(string)
		if a.Attributes, err = nestedAttributes(id, children); err != nil {
			return nil, err
		}

		attributes = append(attributes, a)
	}

	return attributes, nil
}

func entityFromNode(node neo4j.Node) *types.Entity {
	e := &types.Entity{
		Types:      []string{},
		Attributes: []types.Attribute{},
		Contexts:   []string{},
	}

	e.ID, _ = node.Props["id"].(string)

	for _, l := range node.Labels {
		if l != EntityLabel {
			e.Types = append(e.Types, l)
		}
	}

	e.CreatedAt = timeProp(node.Props, "createdAt")
	e.ModifiedAt = timeProp(node.Props, "modifiedAt")

	for _, c := range asSlice(node.Props["contexts"]) {
		if s, ok := c.(string); ok {
			e.Contexts = append(e.Contexts, s)
		}
	}

	names := []string{}
	for k := range node.Props {
		if !slices.Contains(coreProperties, k) {
			names = append(names, k)
		}
	}
	slices.Sort(names)

	for _, name := range names {
		wkt, ok := node.Props[name].(string)
		if !ok {
			continue
		}

		geometry, err := geojson.ParseWKT(wkt)
		if err != nil {
			continue
		}

		e.Attributes = append(e.Attributes, types.Attribute{
			Kind:     types.GeoPropertyKind,
			Name:     name,
			Geometry: geometry,
		})
	}

	return e
}

// escape quotes a label or relationship type so that expanded names can be
// used in a cypher statement
func escape(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func getNode(r *neo4j.Record, key string) (neo4j.Node, bool) {
	v, ok := r.Get(key)
	if !ok {
		return neo4j.Node{}, false
	}
	n, ok := v.(neo4j.Node)
	return n, ok
}

func getString(r *neo4j.Record, key string) (string, bool) {
	v, ok := r.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func getInt(r *neo4j.Record, key string) (int, bool) {
	v, ok := r.Get(key)
	if !ok {
		return 0, false
	}

	switch i := v.(type) {
	case int64:
		return int(i), true
	case int:
		return i, true
	}

	return 0, false
}

func asSlice(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return []any{}
}

func timeProp(props map[string]any, key string) *time.Time {
	if t, ok := props[key].(time.Time); ok {
		utc := t.UTC()
		return &utc
	}
	return nil
}

func nonNil(l []string) []string {
	if l == nil {
		return []string{}
	}
	return l
}
