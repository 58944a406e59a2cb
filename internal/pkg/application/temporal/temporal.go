package temporal

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	ngsierrors "github.com/diwise/graph-broker/pkg/ngsild/errors"
	"github.com/diwise/graph-broker/pkg/ngsild/types"
	"github.com/diwise/graph-broker/pkg/ngsild/types/entities"
)

var tracer = otel.Tracer("graph-broker/temporal")

// Repository is the relational store of time series handles and their
// instances. Every method that writes more than one row does so in a single
// transaction.
type Repository interface {
	CreateReference(ctx context.Context, ref Reference) error
	CreateEntityReferences(ctx context.Context, refs []Reference, entityID string, entityPayload []byte) (int, error)
	CreateEntityPayload(ctx context.Context, entityID string, payload []byte) error
	UpdateEntityPayload(ctx context.Context, entityID string, payload []byte) (int, error)

	FindTemporalEntityAttribute(ctx context.Context, key TEAKey) (*TemporalEntityAttribute, error)
	AddAttributeInstance(ctx context.Context, instance AttributeInstance) error
	AppendInstances(ctx context.Context, tea TemporalEntityAttribute, instances []AttributeInstance) (int, error)

	DeleteEntityReferences(ctx context.Context, entityID string) (int, error)
	DeleteAttributeReferences(ctx context.Context, entityID, attributeName string, datasetID *string) (int, error)
	DeleteAttributeAllInstancesReferences(ctx context.Context, entityID, attributeName string) (int, error)

	GetForEntities(ctx context.Context, limit, offset int, filter string) ([]TemporalEntityAttribute, error)
	GetCountForEntities(ctx context.Context, filter string) (int, error)
	GetForEntity(ctx context.Context, entityID string, attrs []string) ([]TemporalEntityAttribute, error)
	QueryInstances(ctx context.Context, tea TemporalEntityAttribute, query TemporalQuery) ([]InstanceRecord, error)
}

// InstanceCounter is told how many attribute instances each operation stored
type InstanceCounter interface {
	InstancesStored(operation string, count int)
}

type Service struct {
	repo          Repository
	resolver      entities.TermResolver
	storePayloads bool
	allOrNothing  bool
	counter       InstanceCounter
}

type Option func(*Service)

// WithStorePayloads keeps a copy of the latest full entity payload
func WithStorePayloads(enabled bool) Option {
	return func(s *Service) {
		s.storePayloads = enabled
	}
}

// WithAllOrNothing stores the temporal references of a created entity in one
// transaction instead of one transaction per attribute
func WithAllOrNothing(enabled bool) Option {
	return func(s *Service) {
		s.allOrNothing = enabled
	}
}

func WithInstanceCounter(counter InstanceCounter) Option {
	return func(s *Service) {
		s.counter = counter
	}
}

func NewService(repo Repository, resolver entities.TermResolver, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		resolver: resolver,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CreateEntityTemporalReferences creates one time series, with its first
// instance, per temporal attribute instance of the entity payload and returns
// the number of series created
func (s *Service) CreateEntityTemporalReferences(ctx context.Context, payload []byte, contexts []string) (count int, err error) {
	ctx, span := tracer.Start(ctx, "create-entity-temporal-references")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	entity, err := entities.Parse(payload, contexts, s.resolver)
	if err != nil {
		return 0, err
	}

	log := logging.GetFromContext(ctx).With("entity_id", entity.ID)

	refs := []Reference{}
	for _, a := range entity.Attributes {
		md := ToTemporalAttributeMetadata(a)
		if !md.IsValid() {
			log.Debug(md.Reason())
			continue
		}

		tea := newTemporalEntityAttribute(entity.ID, entity.Type(), a.Name, md.Value())
		refs = append(refs, Reference{
			Attribute: tea,
			Instance:  newAttributeInstance(tea.ID, md.Value(), instancePayload(a, s.resolver, entity.Contexts)),
		})
	}

	if len(refs) == 0 {
		return 0, nil
	}

	log.Debug("found temporal attributes", "count", len(refs))

	var entityPayload []byte
	if s.storePayloads {
		entityPayload = payload
	}

	if s.allOrNothing {
		count, err = s.repo.CreateEntityReferences(ctx, refs, entity.ID, entityPayload)
		if err != nil {
			return 0, fmt.Errorf("failed to create temporal references of %s: %w", entity.ID, err)
		}
		s.count("create", count)
		return count, nil
	}

	for _, ref := range refs {
		if err := s.repo.CreateReference(ctx, ref); err != nil {
			log.Warn("failed to create temporal reference", "attribute", ref.Attribute.AttributeName, "err", err.Error())
			continue
		}
		count++
	}

	if entityPayload != nil {
		if err := s.repo.CreateEntityPayload(ctx, entity.ID, entityPayload); err != nil {
			log.Warn("failed to store entity payload", "err", err.Error())
		}
	}

	s.count("create", count)

	return count, nil
}

// AddAttributeInstance appends one instance to the time series of the
// attribute, creating the series when it does not exist
func (s *Service) AddAttributeInstance(ctx context.Context, entityID, entityType string, a types.Attribute, contexts []string) (err error) {
	ctx, span := tracer.Start(ctx, "add-attribute-instance", trace.WithAttributes(attribute.String("entity-id", entityID), attribute.String("attribute", a.Name)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	md := ToTemporalAttributeMetadata(a)
	if !md.IsValid() {
		logging.GetFromContext(ctx).Debug(md.Reason(), "entity_id", entityID)
		return nil
	}

	payload := instancePayload(a, s.resolver, contexts)

	tea, err := s.repo.FindTemporalEntityAttribute(ctx, TEAKey{EntityID: entityID, AttributeName: a.Name, DatasetID: a.DatasetIDOrEmpty()})
	if err != nil {
		return err
	}

	if tea == nil {
		created := newTemporalEntityAttribute(entityID, entityType, a.Name, md.Value())
		err = s.repo.CreateReference(ctx, Reference{
			Attribute: created,
			Instance:  newAttributeInstance(created.ID, md.Value(), payload),
		})
	} else {
		err = s.repo.AddAttributeInstance(ctx, newAttributeInstance(tea.ID, md.Value(), payload))
	}

	if err != nil {
		return fmt.Errorf("failed to add instance of %s to %s: %w", a.Name, entityID, err)
	}

	s.count("append", 1)

	return nil
}

// UpdateEntityPayload replaces the stored entity payload, if payloads are kept
func (s *Service) UpdateEntityPayload(ctx context.Context, entityID string, payload []byte) error {
	if !s.storePayloads {
		return nil
	}

	_, err := s.repo.UpdateEntityPayload(ctx, entityID, payload)
	return err
}

// HandleBatchAttributeAppend appends the instances of each batch to their time
// series, one transaction per series, and returns the number of instances
// created. Processing stops at the first failing series.
func (s *Service) HandleBatchAttributeAppend(ctx context.Context, batches map[TEAKey]*Batch) (total int, err error) {
	ctx, span := tracer.Start(ctx, "handle-batch-attribute-append", trace.WithAttributes(attribute.Int("batches", len(batches))))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	keys := make([]TEAKey, 0, len(batches))
	for key := range batches {
		keys = append(keys, key)
	}

	slices.SortFunc(keys, compareKeys)

	for _, key := range keys {
		b := batches[key]

		n, err := s.repo.AppendInstances(ctx, b.Attribute, b.Instances)
		if err != nil {
			s.count("batch", total)
			return total, fmt.Errorf("failed to append instances of %s to %s: %w", key.AttributeName, key.EntityID, err)
		}

		total += n
	}

	s.count("batch", total)

	return total, nil
}

func (s *Service) DeleteTemporalEntityReferences(ctx context.Context, entityID string) (int, error) {
	return s.repo.DeleteEntityReferences(ctx, entityID)
}

func (s *Service) DeleteTemporalAttributeReferences(ctx context.Context, entityID, attributeName string, datasetID *string) (int, error) {
	return s.repo.DeleteAttributeReferences(ctx, entityID, attributeName, datasetID)
}

func (s *Service) DeleteTemporalAttributeAllInstancesReferences(ctx context.Context, entityID, attributeName string) (int, error) {
	return s.repo.DeleteAttributeAllInstancesReferences(ctx, entityID, attributeName)
}

func (s *Service) GetForEntities(ctx context.Context, limit, offset int, ids, types, attrs []string, accessRightFilter AccessRightFilter) ([]TemporalEntityAttribute, error) {
	return s.repo.GetForEntities(ctx, limit, offset, BuildEntitiesQueryFilter(ids, types, attrs, accessRightFilter))
}

func (s *Service) GetCountForEntities(ctx context.Context, ids, types, attrs []string, accessRightFilter AccessRightFilter) (int, error) {
	return s.repo.GetCountForEntities(ctx, BuildEntitiesQueryFilter(ids, types, attrs, accessRightFilter))
}

func (s *Service) GetForEntity(ctx context.Context, entityID string, attrs []string) ([]TemporalEntityAttribute, error) {
	return s.repo.GetForEntity(ctx, entityID, attrs)
}

// QueryTemporalEntity returns the temporal representation of one entity
func (s *Service) QueryTemporalEntity(ctx context.Context, entityID string, query TemporalQuery, contexts []string) (result map[string]any, err error) {
	ctx, span := tracer.Start(ctx, "query-temporal-entity", trace.WithAttributes(attribute.String("entity-id", entityID)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if err = query.Validate(); err != nil {
		return nil, err
	}

	teas, err := s.repo.GetForEntity(ctx, entityID, query.Attrs)
	if err != nil {
		return nil, err
	}

	if len(teas) == 0 {
		return nil, ngsierrors.NewEntityNotFoundError(entityID)
	}

	return s.temporalEntity(ctx, entityID, teas, query, contexts)
}

// QueryTemporalEntities returns the temporal representation of the entities
// matching the query, together with the total number of matching entities
func (s *Service) QueryTemporalEntities(ctx context.Context, query TemporalEntitiesQuery, accessRightFilter AccessRightFilter, contexts []string) (result []map[string]any, count int, err error) {
	ctx, span := tracer.Start(ctx, "query-temporal-entities")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if err = query.TemporalQuery.Validate(); err != nil {
		return nil, 0, err
	}

	teas, err := s.GetForEntities(ctx, query.Limit, query.Offset, query.IDs, query.Types, query.TemporalQuery.Attrs, accessRightFilter)
	if err != nil {
		return nil, 0, err
	}

	count, err = s.GetCountForEntities(ctx, query.IDs, query.Types, query.TemporalQuery.Attrs, accessRightFilter)
	if err != nil {
		return nil, 0, err
	}

	entityIDs := []string{}
	byEntity := map[string][]TemporalEntityAttribute{}

	for _, tea := range teas {
		if _, ok := byEntity[tea.EntityID]; !ok {
			entityIDs = append(entityIDs, tea.EntityID)
		}
		byEntity[tea.EntityID] = append(byEntity[tea.EntityID], tea)
	}

	result = make([]map[string]any, 0, len(entityIDs))

	for _, entityID := range entityIDs {
		e, err := s.temporalEntity(ctx, entityID, byEntity[entityID], query.TemporalQuery, contexts)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, e)
	}

	return result, count, nil
}

func (s *Service) temporalEntity(ctx context.Context, entityID string, teas []TemporalEntityAttribute, query TemporalQuery, contexts []string) (map[string]any, error) {
	e := map[string]any{
		"id":   entityID,
		"type": s.resolver.CompactTerm(teas[0].Type, contexts),
	}

	for _, tea := range teas {
		term := s.resolver.CompactTerm(tea.AttributeName, contexts)

		instances, _ := e[term].([]any)
		if instances == nil {
			instances = []any{}
		}

		if query.IsAggregated() && tea.AttributeValueType == Any && query.Aggregate != Count {
			e[term] = instances
			continue
		}

		records, err := s.repo.QueryInstances(ctx, tea, query)
		if err != nil {
			return nil, fmt.Errorf("failed to query instances of %s: %w", tea.AttributeName, err)
		}

		for _, r := range records {
			instances = append(instances, toTemporalInstance(tea, r, query.IsAggregated()))
		}

		e[term] = instances
	}

	return e, nil
}

func toTemporalInstance(tea TemporalEntityAttribute, r InstanceRecord, aggregated bool) map[string]any {
	observedAt := r.ObservedAt.UTC().Format(time.RFC3339Nano)

	if !aggregated && len(r.Payload) > 0 {
		instance := map[string]any{}
		if err := json.Unmarshal(r.Payload, &instance); err == nil {
			if _, ok := instance["observedAt"]; !ok {
				instance["observedAt"] = observedAt
			}
			return instance
		}
	}

	instance := map[string]any{
		"type":       string(tea.AttributeType),
		"observedAt": observedAt,
	}

	if tea.DatasetID != nil {
		instance["datasetId"] = *tea.DatasetID
	}

	key := "value"
	if tea.AttributeType == RelationshipType {
		key = "object"
	}

	if r.MeasuredValue != nil {
		instance[key] = *r.MeasuredValue
	} else if r.Value != nil {
		instance[key] = *r.Value
	}

	return instance
}

func instancePayload(a types.Attribute, resolver entities.TermResolver, contexts []string) json.RawMessage {
	if len(a.Fragment) > 0 {
		return a.Fragment
	}

	b, _ := json.Marshal(entities.CompactAttribute(a, resolver, contexts, false))
	return b
}

func (s *Service) count(operation string, n int) {
	if s.counter != nil && n > 0 {
		s.counter.InstancesStored(operation, n)
	}
}

func compareKeys(a, b TEAKey) int {
	return cmp.Or(
		cmp.Compare(a.EntityID, b.EntityID),
		cmp.Compare(a.AttributeName, b.AttributeName),
		cmp.Compare(a.DatasetID, b.DatasetID),
	)
}
