package contextbroker

import (
	"context"
	"fmt"
	"slices"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"

	"github.com/diwise/graph-broker/internal/pkg/application/cim"
	"github.com/diwise/graph-broker/internal/pkg/application/temporal"
	"github.com/diwise/graph-broker/internal/pkg/infrastructure/graph"
	"github.com/diwise/graph-broker/pkg/ngsild"
	ngsierrors "github.com/diwise/graph-broker/pkg/ngsild/errors"
	"github.com/diwise/graph-broker/pkg/ngsild/types"
)

const (
	DefaultLimit int = 30
	MaxLimit     int = 100
)

// Mutator applies the entity and attribute mutations to the graph
type Mutator interface {
	CreateEntity(ctx context.Context, entity types.Entity) error
	ReplaceEntity(ctx context.Context, entity types.Entity) error
	AppendEntityAttributes(ctx context.Context, entityID string, attributes []types.Attribute, disallowOverwrite bool) (*ngsild.UpdateResult, error)
	UpdateEntityAttributes(ctx context.Context, entityID string, attributes []types.Attribute) (*ngsild.UpdateResult, error)
	PartialAttributeUpdate(ctx context.Context, entityID, attributeName string, instances []types.Attribute) (*ngsild.UpdateResult, error)
	DeleteEntityAttribute(ctx context.Context, entityID, name string) error
	DeleteEntityAttributeInstance(ctx context.Context, entityID, name string, datasetID *string) error
	DeleteEntity(ctx context.Context, entityID string) (int, int, error)
}

type EntityReader interface {
	EntityExists(ctx context.Context, entityID string) (bool, error)
	RetrieveEntity(ctx context.Context, entityID string) (*types.Entity, error)
	QueryEntityIDs(ctx context.Context, q graph.EntitiesQuery) ([]string, int, error)
	RetrieveEntityTypes(ctx context.Context) ([]string, error)
}

type Authorizer interface {
	UserCanCreateEntities(ctx context.Context, userID string) (bool, error)
	UserCanReadEntity(ctx context.Context, userID, entityID string) (bool, error)
	UserCanUpdateEntity(ctx context.Context, userID, entityID string) (bool, error)
	UserCanAdminEntity(ctx context.Context, userID, entityID string) (bool, error)
	ReadableEntities(ctx context.Context, userID string) ([]string, bool, error)
	CreateAdminLinks(ctx context.Context, userID string, entityIDs []string) error
	RemoveUserRightsOnEntity(ctx context.Context, subjectID, targetID string) (int, error)
}

type EventEmitter interface {
	EntityCreated(ctx context.Context, entity types.Entity, payload []byte)
	EntityReplaced(ctx context.Context, entity types.Entity, payload []byte)
	EntityDeleted(ctx context.Context, entityID, entityType string, contexts []string)
	AttributesChanged(ctx context.Context, entityID string, instances []types.Attribute, result *ngsild.UpdateResult, overwrite bool, contexts []string)
	AttributeDeleted(ctx context.Context, entityID, name string, datasetID *string, deleteAll bool, contexts []string)
	Start() error
	Stop() error
}

type TemporalQuerier interface {
	QueryTemporalEntity(ctx context.Context, entityID string, query temporal.TemporalQuery, contexts []string) (map[string]any, error)
	QueryTemporalEntities(ctx context.Context, query temporal.TemporalEntitiesQuery, accessRightFilter temporal.AccessRightFilter, contexts []string) ([]map[string]any, int, error)
}

type contextBrokerApp struct {
	mutator  Mutator
	reader   EntityReader
	authz    Authorizer
	emitter  EventEmitter
	temporal TemporalQuerier
}

func New(mutator Mutator, reader EntityReader, authorizer Authorizer, emitter EventEmitter, temporal TemporalQuerier) cim.ContextInformationManager {
	return &contextBrokerApp{
		mutator:  mutator,
		reader:   reader,
		authz:    authorizer,
		emitter:  emitter,
		temporal: temporal,
	}
}

func (app *contextBrokerApp) CreateEntity(ctx context.Context, subject cim.Subject, entity types.Entity, payload []byte) (*ngsild.CreateEntityResult, error) {
	allowed, err := app.authz.UserCanCreateEntities(ctx, string(subject))
	if err != nil {
		return nil, err
	}

	if !allowed {
		return nil, ngsierrors.NewUnauthorizedError("User forbidden to create entities")
	}

	if err = app.mutator.CreateEntity(ctx, entity); err != nil {
		return nil, err
	}

	if err = app.authz.CreateAdminLinks(ctx, string(subject), []string{entity.ID}); err != nil {
		return nil, fmt.Errorf("entity %s created but admin rights could not be granted: %w", entity.ID, err)
	}

	app.emitter.EntityCreated(ctx, entity, payload)

	logging.GetFromContext(ctx).Info("entity created", "entity_id", entity.ID, "type", entity.Type())

	return ngsild.NewCreateEntityResult("/ngsi-ld/v1/entities/" + entity.ID), nil
}

func (app *contextBrokerApp) ReplaceEntity(ctx context.Context, subject cim.Subject, entity types.Entity, payload []byte) error {
	if err := app.checkAccess(ctx, entity.ID, subject, app.authz.UserCanUpdateEntity); err != nil {
		return err
	}

	if err := app.mutator.ReplaceEntity(ctx, entity); err != nil {
		return err
	}

	app.emitter.EntityReplaced(ctx, entity, payload)

	return nil
}

func (app *contextBrokerApp) RetrieveEntity(ctx context.Context, subject cim.Subject, entityID string) (*types.Entity, error) {
	entity, err := app.reader.RetrieveEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}

	allowed, err := app.authz.UserCanReadEntity(ctx, string(subject), entityID)
	if err != nil {
		return nil, err
	}

	if !allowed {
		return nil, ngsierrors.NewUnauthorizedError(fmt.Sprintf("User forbidden read access to entity %s", entityID))
	}

	return entity, nil
}

// QueryEntities returns the page of readable entities matching the query
func (app *contextBrokerApp) QueryEntities(ctx context.Context, subject cim.Subject, query cim.EntitiesQuery) (*cim.QueryEntitiesResult, error) {
	result := &cim.QueryEntitiesResult{Entities: []types.Entity{}}

	ids, restricted, err := app.restrictToReadable(ctx, subject, query.IDs)
	if err != nil {
		return nil, err
	}

	if restricted && len(ids) == 0 {
		return result, nil
	}

	page, count, err := app.reader.QueryEntityIDs(ctx, graph.EntitiesQuery{
		IDs:    ids,
		Types:  query.Types,
		Attrs:  query.Attrs,
		Limit:  limitOrDefault(query.Limit),
		Offset: query.Offset,
	})
	if err != nil {
		return nil, err
	}

	for _, entityID := range page {
		entity, err := app.reader.RetrieveEntity(ctx, entityID)
		if err != nil {
			if ngsierrors.IsKnown(err) {
				// deleted between the query and the retrieval
				continue
			}
			return nil, err
		}
		result.Entities = append(result.Entities, *entity)
	}

	if query.Count {
		result.TotalCount = count
	}

	return result, nil
}

// restrictToReadable returns the requested ids unchanged when the subject may
// read every entity. Otherwise the result is restricted to the readable subset
// of the requested ids, or to every readable entity when no ids were requested.
func (app *contextBrokerApp) restrictToReadable(ctx context.Context, subject cim.Subject, requested []string) ([]string, bool, error) {
	readable, unrestricted, err := app.authz.ReadableEntities(ctx, string(subject))
	if err != nil {
		return nil, false, err
	}

	if unrestricted {
		return requested, false, nil
	}

	if len(requested) == 0 {
		return readable, true, nil
	}

	ids := []string{}
	for _, id := range requested {
		if slices.Contains(readable, id) {
			ids = append(ids, id)
		}
	}

	return ids, true, nil
}

func (app *contextBrokerApp) DeleteEntity(ctx context.Context, subject cim.Subject, entityID string) error {
	entity, err := app.reader.RetrieveEntity(ctx, entityID)
	if err != nil {
		return err
	}

	allowed, err := app.authz.UserCanAdminEntity(ctx, string(subject), entityID)
	if err != nil {
		return err
	}

	if !allowed {
		return ngsierrors.NewUnauthorizedError(fmt.Sprintf("User forbidden admin access to entity %s", entityID))
	}

	if _, err = app.authz.RemoveUserRightsOnEntity(ctx, string(subject), entityID); err != nil {
		return err
	}

	if _, _, err = app.mutator.DeleteEntity(ctx, entityID); err != nil {
		return err
	}

	app.emitter.EntityDeleted(ctx, entityID, entity.Type(), entity.Contexts)

	return nil
}

func (app *contextBrokerApp) AppendEntityAttributes(ctx context.Context, subject cim.Subject, entityID string, attributes []types.Attribute, noOverwrite bool, contexts []string) (*ngsild.UpdateResult, error) {
	if err := app.checkAccess(ctx, entityID, subject, app.authz.UserCanUpdateEntity); err != nil {
		return nil, err
	}

	result, err := app.mutator.AppendEntityAttributes(ctx, entityID, attributes, noOverwrite)
	if err != nil {
		return nil, err
	}

	app.emitter.AttributesChanged(ctx, entityID, attributes, result, !noOverwrite, contexts)

	return result, nil
}

func (app *contextBrokerApp) UpdateEntityAttributes(ctx context.Context, subject cim.Subject, entityID string, attributes []types.Attribute, contexts []string) (*ngsild.UpdateResult, error) {
	if err := app.checkAccess(ctx, entityID, subject, app.authz.UserCanUpdateEntity); err != nil {
		return nil, err
	}

	result, err := app.mutator.UpdateEntityAttributes(ctx, entityID, attributes)
	if err != nil {
		return nil, err
	}

	app.emitter.AttributesChanged(ctx, entityID, attributes, result, true, contexts)

	return result, nil
}

func (app *contextBrokerApp) PartialAttributeUpdate(ctx context.Context, subject cim.Subject, entityID, attributeName string, instances []types.Attribute, contexts []string) error {
	if err := app.checkAccess(ctx, entityID, subject, app.authz.UserCanUpdateEntity); err != nil {
		return err
	}

	result, err := app.mutator.PartialAttributeUpdate(ctx, entityID, attributeName, instances)
	if err != nil {
		return err
	}

	app.emitter.AttributesChanged(ctx, entityID, instances, result, false, contexts)

	if !result.IsSuccessful() {
		return ngsierrors.NewNotFoundError(result.NotUpdated[0].Reason)
	}

	return nil
}

func (app *contextBrokerApp) DeleteEntityAttribute(ctx context.Context, subject cim.Subject, entityID, attributeName string, datasetID *string, deleteAll bool, contexts []string) error {
	if err := app.checkAccess(ctx, entityID, subject, app.authz.UserCanUpdateEntity); err != nil {
		return err
	}

	var err error

	if deleteAll {
		err = app.mutator.DeleteEntityAttribute(ctx, entityID, attributeName)
	} else {
		err = app.mutator.DeleteEntityAttributeInstance(ctx, entityID, attributeName, datasetID)
	}

	if err != nil {
		return err
	}

	app.emitter.AttributeDeleted(ctx, entityID, attributeName, datasetID, deleteAll, contexts)

	return nil
}

func (app *contextBrokerApp) RetrieveTypes(ctx context.Context, subject cim.Subject) ([]string, error) {
	return app.reader.RetrieveEntityTypes(ctx)
}

func (app *contextBrokerApp) RetrieveTemporalEvolutionOfEntity(ctx context.Context, subject cim.Subject, entityID string, query temporal.TemporalQuery, contexts []string) (map[string]any, error) {
	if err := app.checkAccess(ctx, entityID, subject, app.authz.UserCanReadEntity); err != nil {
		return nil, err
	}

	return app.temporal.QueryTemporalEntity(ctx, entityID, query, contexts)
}

func (app *contextBrokerApp) QueryTemporalEvolutionOfEntities(ctx context.Context, subject cim.Subject, query temporal.TemporalEntitiesQuery, contexts []string) ([]map[string]any, int, error) {
	readable, unrestricted, err := app.authz.ReadableEntities(ctx, string(subject))
	if err != nil {
		return nil, 0, err
	}

	var filter temporal.AccessRightFilter
	if !unrestricted {
		filter = temporal.EntityIDFilter(readable)
	}

	return app.temporal.QueryTemporalEntities(ctx, query, filter, contexts)
}

type accessCheck func(ctx context.Context, userID, entityID string) (bool, error)

// checkAccess reports a missing entity before a missing right
func (app *contextBrokerApp) checkAccess(ctx context.Context, entityID string, subject cim.Subject, can accessCheck) error {
	exists, err := app.reader.EntityExists(ctx, entityID)
	if err != nil {
		return err
	}

	if !exists {
		return ngsierrors.NewEntityNotFoundError(entityID)
	}

	allowed, err := can(ctx, string(subject), entityID)
	if err != nil {
		return err
	}

	if !allowed {
		return ngsierrors.NewUnauthorizedError(fmt.Sprintf("User forbidden access to entity %s", entityID))
	}

	return nil
}

func (app *contextBrokerApp) Start() error {
	return app.emitter.Start()
}

func (app *contextBrokerApp) Stop() error {
	return app.emitter.Stop()
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}
