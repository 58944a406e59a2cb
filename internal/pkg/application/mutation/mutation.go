package mutation

import (
	"context"
	"errors"
	"fmt"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/diwise/graph-broker/pkg/ngsild"
	ngsierrors "github.com/diwise/graph-broker/pkg/ngsild/errors"
	"github.com/diwise/graph-broker/pkg/ngsild/types"
)

var tracer = otel.Tracer("graph-broker/mutation")

const overwriteDisallowed string = "overwrite disallowed"

// GraphStore is the set of graph operations the engine builds mutations from
type GraphStore interface {
	EntityExists(ctx context.Context, entityID string) (bool, error)
	CreateEntity(ctx context.Context, entity types.Entity) error
	RetrieveEntity(ctx context.Context, entityID string) (*types.Entity, error)
	DeleteEntity(ctx context.Context, entityID string) (int, int, error)
	UpdateEntityModifiedDate(ctx context.Context, entityID string) error

	HasPropertyInstance(ctx context.Context, subject types.SubjectRef, name string, datasetID *string) (bool, error)
	HasRelationshipInstance(ctx context.Context, subject types.SubjectRef, name string, datasetID *string) (bool, error)
	HasGeoPropertyOfName(ctx context.Context, entityID, name string) (bool, error)

	CreatePropertyOfSubject(ctx context.Context, subject types.SubjectRef, property types.Attribute) (types.SubjectRef, error)
	CreateRelationshipOfSubject(ctx context.Context, subject types.SubjectRef, relationship types.Attribute, targetID string) (types.SubjectRef, error)
	UpdatePropertyValues(ctx context.Context, subject types.SubjectRef, property types.Attribute) (bool, error)

	DeleteEntityProperty(ctx context.Context, subject types.SubjectRef, name string, datasetID *string, deleteAll bool) (int, error)
	DeleteEntityRelationship(ctx context.Context, subject types.SubjectRef, name string, datasetID *string, deleteAll bool) (int, error)
	DeleteGeoProperty(ctx context.Context, entityID, name string) (bool, error)

	AddLocationPropertyToEntity(ctx context.Context, entityID string, geoProperty types.Attribute) error
	UpdateLocationPropertyOfEntity(ctx context.Context, entityID string, geoProperty types.Attribute) error
}

// OutcomeCounter receives one call per attribute instance outcome
type OutcomeCounter interface {
	MutationOutcome(operation, outcome string)
}

type Engine struct {
	store   GraphStore
	locks   *entityLocks
	counter OutcomeCounter
}

type Option func(*Engine)

func WithOutcomeCounter(counter OutcomeCounter) Option {
	return func(e *Engine) {
		e.counter = counter
	}
}

func NewEngine(store GraphStore, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		locks: newEntityLocks(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// CreateEntity creates the entity and all of its attributes. Every relationship
// target, including those of nested relationships, must already exist.
func (e *Engine) CreateEntity(ctx context.Context, entity types.Entity) (err error) {
	ctx, span := tracer.Start(ctx, "create-entity", trace.WithAttributes(attribute.String("entity-id", entity.ID)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	unlock := e.locks.lock(entity.ID)
	defer unlock()

	exists, err := e.store.EntityExists(ctx, entity.ID)
	if err != nil {
		return err
	}

	if exists {
		return ngsierrors.NewAlreadyExistsError(fmt.Sprintf("Entity %s already exists", entity.ID))
	}

	if err = e.checkTargetsExist(ctx, entity.Attributes); err != nil {
		return err
	}

	if err = e.store.CreateEntity(ctx, entity); err != nil {
		return err
	}

	for _, a := range entity.Attributes {
		if err = e.createAttribute(ctx, types.EntityRef(entity.ID), entity.ID, a); err != nil {
			return fmt.Errorf("failed to create attribute %s of %s: %w", a.Name, entity.ID, err)
		}
	}

	logging.GetFromContext(ctx).Debug("entity created", "entity_id", entity.ID, "attributes", len(entity.Attributes))

	return nil
}

// ReplaceEntity removes every attribute of an existing entity and creates the
// attributes of the supplied entity in their place
func (e *Engine) ReplaceEntity(ctx context.Context, entity types.Entity) (err error) {
	ctx, span := tracer.Start(ctx, "replace-entity", trace.WithAttributes(attribute.String("entity-id", entity.ID)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	unlock := e.locks.lock(entity.ID)
	defer unlock()

	current, err := e.store.RetrieveEntity(ctx, entity.ID)
	if err != nil {
		return err
	}

	if err = e.checkTargetsExist(ctx, entity.Attributes); err != nil {
		return err
	}

	for _, name := range current.AttributeNames() {
		if _, err = e.deleteAllInstances(ctx, entity.ID, name); err != nil {
			return err
		}
	}

	for _, a := range entity.Attributes {
		if err = e.createAttribute(ctx, types.EntityRef(entity.ID), entity.ID, a); err != nil {
			return fmt.Errorf("failed to create attribute %s of %s: %w", a.Name, entity.ID, err)
		}
	}

	return e.store.UpdateEntityModifiedDate(ctx, entity.ID)
}

// AppendEntityAttributes appends the attributes to an existing entity. Note
// the polarity of disallowOverwrite: when true, existing default instances are
// left untouched and reported as not updated. Instances with a datasetId are
// always replaced.
func (e *Engine) AppendEntityAttributes(ctx context.Context, entityID string, attributes []types.Attribute, disallowOverwrite bool) (result *ngsild.UpdateResult, err error) {
	ctx, span := tracer.Start(ctx, "append-entity-attributes", trace.WithAttributes(attribute.String("entity-id", entityID)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	return e.mutate(ctx, entityID, "append", attributes, func(ctx context.Context, a types.Attribute) (ngsild.UpdateOperationResult, error) {
		return e.appendAttribute(ctx, entityID, a, disallowOverwrite)
	})
}

// UpdateEntityAttributes replaces existing attribute instances. Instances that
// do not exist are reported as not updated.
func (e *Engine) UpdateEntityAttributes(ctx context.Context, entityID string, attributes []types.Attribute) (result *ngsild.UpdateResult, err error) {
	ctx, span := tracer.Start(ctx, "update-entity-attributes", trace.WithAttributes(attribute.String("entity-id", entityID)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	return e.mutate(ctx, entityID, "update", attributes, func(ctx context.Context, a types.Attribute) (ngsild.UpdateOperationResult, error) {
		return e.updateAttribute(ctx, entityID, a)
	})
}

// PartialAttributeUpdate modifies only the supplied fields of existing
// instances of a single attribute
func (e *Engine) PartialAttributeUpdate(ctx context.Context, entityID, attributeName string, instances []types.Attribute) (result *ngsild.UpdateResult, err error) {
	ctx, span := tracer.Start(ctx, "partial-attribute-update", trace.WithAttributes(attribute.String("entity-id", entityID), attribute.String("attribute", attributeName)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	for i := range instances {
		instances[i].Name = attributeName
	}

	return e.mutate(ctx, entityID, "partial", instances, func(ctx context.Context, a types.Attribute) (ngsild.UpdateOperationResult, error) {
		return e.partialUpdate(ctx, entityID, a)
	})
}

type mutationFunc func(ctx context.Context, a types.Attribute) (ngsild.UpdateOperationResult, error)

func (e *Engine) mutate(ctx context.Context, entityID, operation string, attributes []types.Attribute, mutate mutationFunc) (*ngsild.UpdateResult, error) {
	unlock := e.locks.lock(entityID)
	defer unlock()

	exists, err := e.store.EntityExists(ctx, entityID)
	if err != nil {
		return nil, err
	}

	if !exists {
		return nil, ngsierrors.NewEntityNotFoundError(entityID)
	}

	log := logging.GetFromContext(ctx)
	result := ngsild.NewUpdateResult()

	for _, a := range attributes {
		outcome, err := mutate(ctx, a)
		if err != nil {
			if !isDataError(err) {
				return nil, fmt.Errorf("failed to %s attribute %s of %s: %w", operation, a.Name, entityID, err)
			}

			log.Debug("attribute not updated", "operation", operation, "attribute", a.Name, "reason", err.Error())
			result.AddNotUpdated(a.Name, err.Error())
			e.count(operation, "NOT_UPDATED")
			continue
		}

		result.AddUpdated(a.Name, a.DatasetID, outcome)
		e.count(operation, string(outcome))
	}

	if len(result.Updated) > 0 {
		if err = e.store.UpdateEntityModifiedDate(ctx, entityID); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (e *Engine) appendAttribute(ctx context.Context, entityID string, a types.Attribute, disallowOverwrite bool) (ngsild.UpdateOperationResult, error) {
	owner := types.EntityRef(entityID)

	if a.Kind == types.GeoPropertyKind {
		exists, err := e.store.HasGeoPropertyOfName(ctx, entityID, a.Name)
		if err != nil {
			return "", err
		}

		if !exists {
			return ngsild.Appended, e.store.AddLocationPropertyToEntity(ctx, entityID, a)
		}

		if disallowOverwrite {
			return "", ngsierrors.NewBadRequestDataError(overwriteDisallowed)
		}

		return ngsild.Replaced, e.store.UpdateLocationPropertyOfEntity(ctx, entityID, a)
	}

	if err := e.checkTargetsExist(ctx, []types.Attribute{a}); err != nil {
		return "", err
	}

	exists, err := e.hasInstance(ctx, owner, a)
	if err != nil {
		return "", err
	}

	if !exists {
		return ngsild.Appended, e.createAttribute(ctx, owner, entityID, a)
	}

	if a.DatasetID == nil && disallowOverwrite {
		return "", ngsierrors.NewBadRequestDataError(overwriteDisallowed)
	}

	if err = e.deleteInstance(ctx, owner, a); err != nil {
		return "", err
	}

	return ngsild.Replaced, e.createAttribute(ctx, owner, entityID, a)
}

func (e *Engine) updateAttribute(ctx context.Context, entityID string, a types.Attribute) (ngsild.UpdateOperationResult, error) {
	owner := types.EntityRef(entityID)

	if a.Kind == types.GeoPropertyKind {
		exists, err := e.store.HasGeoPropertyOfName(ctx, entityID, a.Name)
		if err != nil {
			return "", err
		}

		if !exists {
			return "", unknownAttributeError(a)
		}

		return ngsild.Updated, e.store.UpdateLocationPropertyOfEntity(ctx, entityID, a)
	}

	exists, err := e.hasInstance(ctx, owner, a)
	if err != nil {
		return "", err
	}

	if !exists {
		return "", unknownAttributeError(a)
	}

	if err = e.checkTargetsExist(ctx, []types.Attribute{a}); err != nil {
		return "", err
	}

	if err = e.deleteInstance(ctx, owner, a); err != nil {
		return "", err
	}

	return ngsild.Updated, e.createAttribute(ctx, owner, entityID, a)
}

func (e *Engine) partialUpdate(ctx context.Context, entityID string, a types.Attribute) (ngsild.UpdateOperationResult, error) {
	owner := types.EntityRef(entityID)

	switch a.Kind {
	case types.PropertyKind:
		found, err := e.store.UpdatePropertyValues(ctx, owner, a)
		if err != nil {
			return "", err
		}
		if !found {
			return "", unknownAttributeError(a)
		}
		return ngsild.Updated, nil
	case types.RelationshipKind:
		exists, err := e.store.HasRelationshipInstance(ctx, owner, a.Name, a.DatasetID)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", unknownAttributeError(a)
		}
		if a.Object == "" {
			return "", ngsierrors.NewBadRequestDataError(fmt.Sprintf("Relationship %s does not have an object field", a.Name))
		}
		return e.updateAttribute(ctx, entityID, a)
	default:
		return e.updateAttribute(ctx, entityID, a)
	}
}

// DeleteEntityAttribute deletes every instance of the named attribute
func (e *Engine) DeleteEntityAttribute(ctx context.Context, entityID, name string) (err error) {
	ctx, span := tracer.Start(ctx, "delete-entity-attribute", trace.WithAttributes(attribute.String("entity-id", entityID), attribute.String("attribute", name)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	unlock := e.locks.lock(entityID)
	defer unlock()

	if err = e.requireEntity(ctx, entityID); err != nil {
		return err
	}

	deleted, err := e.deleteAllInstances(ctx, entityID, name)
	if err != nil {
		return err
	}

	if !deleted {
		return ngsierrors.NewNotFoundError(fmt.Sprintf("Attribute %s not found in entity %s", name, entityID))
	}

	e.count("delete", "DELETED")

	return e.store.UpdateEntityModifiedDate(ctx, entityID)
}

// DeleteEntityAttributeInstance deletes the single instance of the named
// attribute with the given dataset id, nil meaning the default instance
func (e *Engine) DeleteEntityAttributeInstance(ctx context.Context, entityID, name string, datasetID *string) (err error) {
	ctx, span := tracer.Start(ctx, "delete-entity-attribute-instance", trace.WithAttributes(attribute.String("entity-id", entityID), attribute.String("attribute", name)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	unlock := e.locks.lock(entityID)
	defer unlock()

	if err = e.requireEntity(ctx, entityID); err != nil {
		return err
	}

	owner := types.EntityRef(entityID)
	deleted := false

	hasProperty, err := e.store.HasPropertyInstance(ctx, owner, name, datasetID)
	if err != nil {
		return err
	}

	if hasProperty {
		if _, err = e.store.DeleteEntityProperty(ctx, owner, name, datasetID, false); err != nil {
			return err
		}
		deleted = true
	} else {
		hasRelationship, err := e.store.HasRelationshipInstance(ctx, owner, name, datasetID)
		if err != nil {
			return err
		}

		if hasRelationship {
			if _, err = e.store.DeleteEntityRelationship(ctx, owner, name, datasetID, false); err != nil {
				return err
			}
			deleted = true
		} else if datasetID == nil {
			if deleted, err = e.store.DeleteGeoProperty(ctx, entityID, name); err != nil {
				return err
			}
		}
	}

	if !deleted {
		return ngsierrors.NewNotFoundError(fmt.Sprintf("Attribute %s (datasetId: %s) not found in entity %s", name, stringOrNone(datasetID), entityID))
	}

	e.count("delete", "DELETED")

	return e.store.UpdateEntityModifiedDate(ctx, entityID)
}

// DeleteEntity deletes the entity with all of its attributes and returns the
// number of deleted nodes and relationships
func (e *Engine) DeleteEntity(ctx context.Context, entityID string) (nodes, relationships int, err error) {
	ctx, span := tracer.Start(ctx, "delete-entity", trace.WithAttributes(attribute.String("entity-id", entityID)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	unlock := e.locks.lock(entityID)
	defer unlock()

	if err = e.requireEntity(ctx, entityID); err != nil {
		return 0, 0, err
	}

	nodes, relationships, err = e.store.DeleteEntity(ctx, entityID)
	if err != nil {
		return 0, 0, err
	}

	logging.GetFromContext(ctx).Debug("entity deleted", "entity_id", entityID, "nodes", nodes, "relationships", relationships)

	return nodes, relationships, nil
}

func (e *Engine) createAttribute(ctx context.Context, owner types.SubjectRef, entityID string, a types.Attribute) error {
	var ref types.SubjectRef
	var err error

	switch a.Kind {
	case types.PropertyKind:
		ref, err = e.store.CreatePropertyOfSubject(ctx, owner, a)
	case types.RelationshipKind:
		ref, err = e.store.CreateRelationshipOfSubject(ctx, owner, a, a.Object)
	case types.GeoPropertyKind:
		if owner.Kind != types.EntitySubject {
			return ngsierrors.NewBadRequestDataError(fmt.Sprintf("GeoProperty %s is only supported at entity level", a.Name))
		}
		return e.store.AddLocationPropertyToEntity(ctx, entityID, a)
	}

	if err != nil {
		return err
	}

	for _, child := range a.Attributes {
		if err = e.createAttribute(ctx, ref, entityID, child); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) hasInstance(ctx context.Context, owner types.SubjectRef, a types.Attribute) (bool, error) {
	if a.Kind == types.RelationshipKind {
		return e.store.HasRelationshipInstance(ctx, owner, a.Name, a.DatasetID)
	}
	return e.store.HasPropertyInstance(ctx, owner, a.Name, a.DatasetID)
}

func (e *Engine) deleteInstance(ctx context.Context, owner types.SubjectRef, a types.Attribute) error {
	var err error
	if a.Kind == types.RelationshipKind {
		_, err = e.store.DeleteEntityRelationship(ctx, owner, a.Name, a.DatasetID, false)
	} else {
		_, err = e.store.DeleteEntityProperty(ctx, owner, a.Name, a.DatasetID, false)
	}
	return err
}

func (e *Engine) deleteAllInstances(ctx context.Context, entityID, name string) (bool, error) {
	owner := types.EntityRef(entityID)

	properties, err := e.store.DeleteEntityProperty(ctx, owner, name, nil, true)
	if err != nil {
		return false, err
	}

	relationships, err := e.store.DeleteEntityRelationship(ctx, owner, name, nil, true)
	if err != nil {
		return false, err
	}

	geo, err := e.store.DeleteGeoProperty(ctx, entityID, name)
	if err != nil {
		return false, err
	}

	return properties+relationships > 0 || geo, nil
}

// checkTargetsExist verifies that the objects of all relationships, nested
// ones included, are existing entities
func (e *Engine) checkTargetsExist(ctx context.Context, attributes []types.Attribute) error {
	for _, a := range attributes {
		if a.Kind == types.RelationshipKind {
			exists, err := e.store.EntityExists(ctx, a.Object)
			if err != nil {
				return err
			}
			if !exists {
				return ngsierrors.NewBadRequestDataError(fmt.Sprintf("Target entity %s does not exist", a.Object))
			}
		}

		if err := e.checkTargetsExist(ctx, a.Attributes); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) requireEntity(ctx context.Context, entityID string) error {
	exists, err := e.store.EntityExists(ctx, entityID)
	if err != nil {
		return err
	}

	if !exists {
		return ngsierrors.NewEntityNotFoundError(entityID)
	}

	return nil
}

func (e *Engine) count(operation, outcome string) {
	if e.counter != nil {
		e.counter.MutationOutcome(operation, outcome)
	}
}

func isDataError(err error) bool {
	return errors.Is(err, ngsierrors.ErrBadRequest) || errors.Is(err, ngsierrors.ErrNotFound)
}

func unknownAttributeError(a types.Attribute) error {
	return ngsierrors.NewNotFoundError(fmt.Sprintf("Unknown attribute %s (datasetId: %s) in entity", a.Name, stringOrNone(a.DatasetID)))
}

func stringOrNone(s *string) string {
	if s == nil {
		return "none"
	}
	return *s
}
