package mutation

import (
	"context"
	"fmt"
	"sync"

	ngsierrors "github.com/diwise/graph-broker/pkg/ngsild/errors"
	"github.com/diwise/graph-broker/pkg/ngsild/types"
)

// memStore is an in-memory GraphStore that keeps attribute instances as nodes
// owned by either an entity or another attribute node
type memStore struct {
	mu       sync.Mutex
	seq      int
	entities map[string]*memEntity
	nodes    map[string]*memNode
	modified map[string]int
}

type memEntity struct {
	entity types.Entity
	geo    map[string]types.Attribute
}

type memNode struct {
	id    string
	owner types.SubjectRef
	attr  types.Attribute
}

func newMemStore() *memStore {
	return &memStore{
		entities: map[string]*memEntity{},
		nodes:    map[string]*memNode{},
		modified: map[string]int{},
	}
}

func (m *memStore) EntityExists(ctx context.Context, entityID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entities[entityID]
	return ok, nil
}

func (m *memStore) CreateEntity(ctx context.Context, entity types.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entity.Attributes = nil
	m.entities[entity.ID] = &memEntity{entity: entity, geo: map[string]types.Attribute{}}
	return nil
}

func (m *memStore) RetrieveEntity(ctx context.Context, entityID string) (*types.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	me, ok := m.entities[entityID]
	if !ok {
		return nil, ngsierrors.NewEntityNotFoundError(entityID)
	}

	e := me.entity
	e.Attributes = []types.Attribute{}

	for _, g := range me.geo {
		e.Attributes = append(e.Attributes, g)
	}

	for _, n := range m.ownedBy(types.EntityRef(entityID)) {
		a := n.attr
		a.Attributes = nil
		for _, child := range m.ownedBy(types.AttributeRef(n.id)) {
			a.Attributes = append(a.Attributes, child.attr)
		}
		e.Attributes = append(e.Attributes, a)
	}

	return &e, nil
}

func (m *memStore) DeleteEntity(ctx context.Context, entityID string) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nodes := 1
	for _, n := range m.ownedBy(types.EntityRef(entityID)) {
		nodes += m.deleteNode(n.id)
	}
	delete(m.entities, entityID)

	return nodes, nodes - 1, nil
}

func (m *memStore) UpdateEntityModifiedDate(ctx context.Context, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modified[entityID]++
	return nil
}

func (m *memStore) HasPropertyInstance(ctx context.Context, subject types.SubjectRef, name string, datasetID *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.find(subject, types.PropertyKind, name, datasetID, false)) > 0, nil
}

func (m *memStore) HasRelationshipInstance(ctx context.Context, subject types.SubjectRef, name string, datasetID *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.find(subject, types.RelationshipKind, name, datasetID, false)) > 0, nil
}

func (m *memStore) HasGeoPropertyOfName(ctx context.Context, entityID, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	me, ok := m.entities[entityID]
	if !ok {
		return false, nil
	}
	_, ok = me.geo[name]
	return ok, nil
}

func (m *memStore) CreatePropertyOfSubject(ctx context.Context, subject types.SubjectRef, property types.Attribute) (types.SubjectRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createNode(subject, property)
}

func (m *memStore) CreateRelationshipOfSubject(ctx context.Context, subject types.SubjectRef, relationship types.Attribute, targetID string) (types.SubjectRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entities[targetID]; !ok {
		return types.SubjectRef{}, ngsierrors.NewNotFoundError("target does not exist")
	}

	return m.createNode(subject, relationship)
}

func (m *memStore) UpdatePropertyValues(ctx context.Context, subject types.SubjectRef, property types.Attribute) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	found := m.find(subject, types.PropertyKind, property.Name, property.DatasetID, false)
	for _, n := range found {
		if property.Value != nil {
			n.attr.Value = property.Value
		}
		if property.UnitCode != nil {
			n.attr.UnitCode = property.UnitCode
		}
		if property.ObservedAt != nil {
			n.attr.ObservedAt = property.ObservedAt
		}
	}

	return len(found) > 0, nil
}

func (m *memStore) DeleteEntityProperty(ctx context.Context, subject types.SubjectRef, name string, datasetID *string, deleteAll bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteMatching(subject, types.PropertyKind, name, datasetID, deleteAll), nil
}

func (m *memStore) DeleteEntityRelationship(ctx context.Context, subject types.SubjectRef, name string, datasetID *string, deleteAll bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteMatching(subject, types.RelationshipKind, name, datasetID, deleteAll), nil
}

func (m *memStore) DeleteGeoProperty(ctx context.Context, entityID, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	me, ok := m.entities[entityID]
	if !ok {
		return false, nil
	}
	_, ok = me.geo[name]
	delete(me.geo, name)
	return ok, nil
}

func (m *memStore) AddLocationPropertyToEntity(ctx context.Context, entityID string, geoProperty types.Attribute) error {
	return m.setGeo(entityID, geoProperty)
}

func (m *memStore) UpdateLocationPropertyOfEntity(ctx context.Context, entityID string, geoProperty types.Attribute) error {
	return m.setGeo(entityID, geoProperty)
}

func (m *memStore) setGeo(entityID string, geoProperty types.Attribute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	me, ok := m.entities[entityID]
	if !ok {
		return ngsierrors.NewEntityNotFoundError(entityID)
	}
	me.geo[geoProperty.Name] = geoProperty
	return nil
}

func (m *memStore) instances(entityID, name string) []types.Attribute {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := []types.Attribute{}
	for _, n := range m.ownedBy(types.EntityRef(entityID)) {
		if n.attr.Name == name {
			result = append(result, n.attr)
		}
	}
	return result
}

func (m *memStore) modifications(entityID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modified[entityID]
}

func (m *memStore) createNode(subject types.SubjectRef, a types.Attribute) (types.SubjectRef, error) {
	if !m.subjectExists(subject) {
		return types.SubjectRef{}, ngsierrors.NewNotFoundError(fmt.Sprintf("%s does not exist", subject.ID))
	}

	m.seq++
	id := fmt.Sprintf("urn:ngsi-ld:%s:%d", a.Kind, m.seq)

	stored := a
	stored.Attributes = nil
	m.nodes[id] = &memNode{id: id, owner: subject, attr: stored}

	return types.AttributeRef(id), nil
}

func (m *memStore) subjectExists(subject types.SubjectRef) bool {
	if subject.Kind == types.EntitySubject {
		_, ok := m.entities[subject.ID]
		return ok
	}
	_, ok := m.nodes[subject.ID]
	return ok
}

func (m *memStore) ownedBy(subject types.SubjectRef) []*memNode {
	owned := []*memNode{}
	for _, n := range m.nodes {
		if n.owner == subject {
			owned = append(owned, n)
		}
	}
	return owned
}

func (m *memStore) find(subject types.SubjectRef, kind types.AttributeKind, name string, datasetID *string, all bool) []*memNode {
	found := []*memNode{}
	for _, n := range m.ownedBy(subject) {
		if n.attr.Kind == kind && n.attr.Name == name && (all || types.SameDataset(n.attr.DatasetID, datasetID)) {
			found = append(found, n)
		}
	}
	return found
}

func (m *memStore) deleteMatching(subject types.SubjectRef, kind types.AttributeKind, name string, datasetID *string, all bool) int {
	count := 0
	for _, n := range m.find(subject, kind, name, datasetID, all) {
		count += m.deleteNode(n.id)
	}
	return count
}

func (m *memStore) deleteNode(id string) int {
	count := 1
	for _, child := range m.ownedBy(types.AttributeRef(id)) {
		count += m.deleteNode(child.id)
	}
	delete(m.nodes, id)
	return count
}
