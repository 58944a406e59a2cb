package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/diwise/graph-broker/pkg/ngsild"
	"github.com/diwise/graph-broker/pkg/ngsild/types"
	"github.com/diwise/graph-broker/pkg/ngsild/types/entities"
)

var tracer = otel.Tracer("graph-broker/events")

type Publisher interface {
	Publish(ctx context.Context, topic, key string, body []byte) error
}

type EntityReader interface {
	RetrieveEntity(ctx context.Context, entityID string) (*types.Entity, error)
}

type Counter interface {
	EventPublished(operationType string)
	EventSuppressed(reason string)
}

type action func()

// Emitter publishes entity events from a single worker goroutine so that the
// mutating request never waits for the bus. Events are published in the
// order they were emitted.
type Emitter struct {
	publisher Publisher
	reader    EntityReader
	resolver  entities.TermResolver
	counter   Counter

	mu      sync.Mutex
	started bool
	queue   chan action
	done    chan struct{}
}

type Option func(*Emitter)

func WithCounter(counter Counter) Option {
	return func(e *Emitter) {
		e.counter = counter
	}
}

func WithQueueSize(size int) Option {
	return func(e *Emitter) {
		e.queue = make(chan action, size)
	}
}

func NewEmitter(publisher Publisher, reader EntityReader, resolver entities.TermResolver, opts ...Option) *Emitter {
	e := &Emitter{
		publisher: publisher,
		reader:    reader,
		resolver:  resolver,
		queue:     make(chan action, 32),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *Emitter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("already started")
	}

	e.started = true
	e.done = make(chan struct{})

	go e.run()

	return nil
}

// Stop waits for every queued event to be published before it returns
func (e *Emitter) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		e.started = false
		close(e.queue)
		<-e.done
		e.queue = make(chan action, cap(e.queue))
	}

	return nil
}

func (e *Emitter) EntityCreated(ctx context.Context, entity types.Entity, payload []byte) {
	e.enqueue(ctx, "entity-created", entity.ID, func(ctx context.Context) {
		e.publish(ctx, EntityCreateEvent(entity, payload))
	})
}

func (e *Emitter) EntityReplaced(ctx context.Context, entity types.Entity, payload []byte) {
	e.enqueue(ctx, "entity-replaced", entity.ID, func(ctx context.Context) {
		e.publish(ctx, EntityReplaceEvent(entity, payload))
	})
}

// EntityDeleted publishes using the type captured before the entity was removed
func (e *Emitter) EntityDeleted(ctx context.Context, entityID, entityType string, contexts []string) {
	e.enqueue(ctx, "entity-deleted", entityID, func(ctx context.Context) {
		e.publish(ctx, EntityDeleteEvent(entityID, entityType, contexts))
	})
}

// AttributesChanged publishes one event per written instance in the result.
// The current entity is fetched to learn its type, and nothing is published
// when that fails.
func (e *Emitter) AttributesChanged(ctx context.Context, entityID string, instances []types.Attribute, result *ngsild.UpdateResult, overwrite bool, contexts []string) {
	if result == nil || len(result.Updated) == 0 {
		return
	}

	e.enqueue(ctx, "attributes-changed", entityID, func(ctx context.Context) {
		entity, ok := e.currentEntity(ctx, entityID)
		if !ok {
			return
		}

		for _, event := range AttributeEvents(*entity, instances, result, overwrite, e.resolver, contexts) {
			e.publish(ctx, event)
		}
	})
}

func (e *Emitter) AttributeDeleted(ctx context.Context, entityID, name string, datasetID *string, deleteAll bool, contexts []string) {
	e.enqueue(ctx, "attribute-deleted", entityID, func(ctx context.Context) {
		entity, ok := e.currentEntity(ctx, entityID)
		if !ok {
			return
		}

		e.publish(ctx, AttributeDeleteEvent(*entity, name, datasetID, deleteAll, e.resolver, contexts))
	})
}

func (e *Emitter) currentEntity(ctx context.Context, entityID string) (*types.Entity, bool) {
	entity, err := e.reader.RetrieveEntity(ctx, entityID)
	if err != nil {
		logging.GetFromContext(ctx).Warn("unable to retrieve entity, event not published", "entity_id", entityID, "err", err.Error())
		e.suppressed("entity not found")
		return nil, false
	}
	return entity, true
}

func (e *Emitter) publish(ctx context.Context, event EntityEvent) {
	logger := logging.GetFromContext(ctx)

	topic, ok := Topic(event.EntityType)
	if !ok {
		logger.Warn("invalid topic name, event not published", "topic", topic, "entity_id", event.EntityID)
		e.suppressed("invalid topic")
		return
	}

	err := e.publisher.Publish(ctx, topic, event.EntityID, event.Bytes())
	if err != nil {
		logger.Error("failed to publish entity event", "topic", topic, "operation", event.OperationType, "err", err.Error())
		e.suppressed("publish failed")
		return
	}

	if e.counter != nil {
		e.counter.EventPublished(string(event.OperationType))
	}
}

func (e *Emitter) suppressed(reason string) {
	if e.counter != nil {
		e.counter.EventSuppressed(reason)
	}
}

// enqueue hands the work to the worker, detached from the cancellation of the
// request but keeping its trace and logger. Work is done inline when the
// emitter is not started.
func (e *Emitter) enqueue(ctx context.Context, operation, entityID string, work func(ctx context.Context)) {
	var err error

	logger := logging.GetFromContext(ctx)

	ctx, span := tracer.Start(
		tracing.ExtractHeaders(context.Background(), tracing.InjectHeaders(ctx)),
		operation,
		trace.WithAttributes(attribute.String("entity-id", entityID)),
	)
	ctx = logging.NewContextWithLogger(ctx, logger)

	do := func() {
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		work(ctx)
	}

	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		do()
		return
	}
	e.queue <- do
	e.mu.Unlock()
}

func (e *Emitter) run() {
	defer close(e.done)

	for a := range e.queue {
		a()
	}
}
