package cim

import (
	"context"

	"github.com/diwise/graph-broker/internal/pkg/application/temporal"
	"github.com/diwise/graph-broker/pkg/ngsild"
	"github.com/diwise/graph-broker/pkg/ngsild/types"
)

// Subject is the caller identity resolved by the api policies. An empty
// subject is only accepted when authorization is disabled.
type Subject string

type EntitiesQuery struct {
	IDs    []string
	Types  []string
	Attrs  []string
	Limit  int
	Offset int
	Count  bool
}

type QueryEntitiesResult struct {
	Entities   []types.Entity
	TotalCount int
}

type EntityCreator interface {
	CreateEntity(ctx context.Context, subject Subject, entity types.Entity, payload []byte) (*ngsild.CreateEntityResult, error)
}

type EntityReplacer interface {
	ReplaceEntity(ctx context.Context, subject Subject, entity types.Entity, payload []byte) error
}

type EntityRetriever interface {
	RetrieveEntity(ctx context.Context, subject Subject, entityID string) (*types.Entity, error)
}

type EntityQuerier interface {
	QueryEntities(ctx context.Context, subject Subject, query EntitiesQuery) (*QueryEntitiesResult, error)
}

type EntityDeleter interface {
	DeleteEntity(ctx context.Context, subject Subject, entityID string) error
}

type EntityAttributesAppender interface {
	AppendEntityAttributes(ctx context.Context, subject Subject, entityID string, attributes []types.Attribute, noOverwrite bool, contexts []string) (*ngsild.UpdateResult, error)
}

type EntityAttributesUpdater interface {
	UpdateEntityAttributes(ctx context.Context, subject Subject, entityID string, attributes []types.Attribute, contexts []string) (*ngsild.UpdateResult, error)
}

type EntityAttributePartialUpdater interface {
	PartialAttributeUpdate(ctx context.Context, subject Subject, entityID, attributeName string, instances []types.Attribute, contexts []string) error
}

// EntityAttributeDeleter deletes the instance with the given dataset id, or
// every instance of the attribute when deleteAll is set
type EntityAttributeDeleter interface {
	DeleteEntityAttribute(ctx context.Context, subject Subject, entityID, attributeName string, datasetID *string, deleteAll bool, contexts []string) error
}

type TypesRetriever interface {
	RetrieveTypes(ctx context.Context, subject Subject) ([]string, error)
}

type EntityTemporalRetriever interface {
	RetrieveTemporalEvolutionOfEntity(ctx context.Context, subject Subject, entityID string, query temporal.TemporalQuery, contexts []string) (map[string]any, error)
}

type EntityTemporalQuerier interface {
	QueryTemporalEvolutionOfEntities(ctx context.Context, subject Subject, query temporal.TemporalEntitiesQuery, contexts []string) ([]map[string]any, int, error)
}

//go:generate moq -rm -out cim_mock.go . ContextInformationManager

type ContextInformationManager interface {
	EntityCreator
	EntityReplacer
	EntityRetriever
	EntityQuerier
	EntityDeleter
	EntityAttributesAppender
	EntityAttributesUpdater
	EntityAttributePartialUpdater
	EntityAttributeDeleter
	TypesRetriever
	EntityTemporalRetriever
	EntityTemporalQuerier

	Start() error
	Stop() error
}
