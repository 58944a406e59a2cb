package listeners

import (
	"context"
	"fmt"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/diwise/graph-broker/internal/pkg/application/events"
	"github.com/diwise/graph-broker/internal/pkg/application/temporal"
	"github.com/diwise/graph-broker/internal/pkg/infrastructure/messaging"
	"github.com/diwise/graph-broker/pkg/ngsild/types/entities"
)

// TemporalListener projects the entity events published by the broker into
// the temporal store
type TemporalListener struct {
	projection TemporalProjection
	resolver   entities.TermResolver
}

func NewTemporalListener(projection TemporalProjection, resolver entities.TermResolver) *TemporalListener {
	return &TemporalListener{projection: projection, resolver: resolver}
}

func (l *TemporalListener) Handle(ctx context.Context, msg messaging.Message) (err error) {
	event, err := events.Parse(msg.Data())
	if err != nil {
		logging.GetFromContext(ctx).Warn("dropping unparseable entity event", "subject", msg.Subject(), "err", err.Error())
		return nil
	}

	ctx, span := tracer.Start(ctx, "temporal-"+string(event.OperationType), trace.WithAttributes(attribute.String("entity-id", event.EntityID)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	ctx = logging.NewContextWithLogger(ctx, logging.GetFromContext(ctx), "entity_id", event.EntityID)

	switch event.OperationType {
	case events.EntityCreate:
		_, err = l.projection.CreateEntityTemporalReferences(ctx, event.OperationPayload, event.Contexts)
	case events.EntityReplace:
		err = l.entityReplace(ctx, event)
	case events.EntityDelete:
		_, err = l.projection.DeleteTemporalEntityReferences(ctx, event.EntityID)
	case events.AttributeAppend, events.AttributeReplace, events.AttributeUpdate:
		err = l.attributeChange(ctx, event)
	case events.AttributeDelete:
		_, err = l.projection.DeleteTemporalAttributeReferences(ctx, event.EntityID, l.attributeName(event), event.DatasetID)
	case events.AttributeDeleteAllInstances:
		_, err = l.projection.DeleteTemporalAttributeAllInstancesReferences(ctx, event.EntityID, l.attributeName(event))
	}

	return dropOrRetry(ctx, event, err)
}

func (l *TemporalListener) entityReplace(ctx context.Context, event *events.EntityEvent) error {
	if _, err := l.projection.DeleteTemporalEntityReferences(ctx, event.EntityID); err != nil {
		return err
	}

	_, err := l.projection.CreateEntityTemporalReferences(ctx, event.OperationPayload, event.Contexts)
	return err
}

func (l *TemporalListener) attributeChange(ctx context.Context, event *events.EntityEvent) error {
	attributes, contexts, err := entities.ParseAttributes(event.OperationPayload, event.Contexts, l.resolver)
	if err != nil {
		return err
	}

	for _, a := range attributes {
		err = l.projection.AddAttributeInstance(ctx, event.EntityID, event.EntityType, a, contexts)
		if err != nil {
			return err
		}
	}

	if len(event.UpdatedEntity) > 0 {
		if err = l.projection.UpdateEntityPayload(ctx, event.EntityID, event.UpdatedEntity); err != nil {
			return fmt.Errorf("failed to update payload of %s: %w", event.EntityID, err)
		}
	}

	return nil
}

func (l *TemporalListener) attributeName(event *events.EntityEvent) string {
	return l.resolver.ExpandTerm(event.AttributeName, event.Contexts)
}

// BatchMeasureConsumer stores appended measures in bulk, one transaction per
// time series for each fetched batch of messages
type BatchMeasureConsumer struct {
	projection TemporalProjection
	resolver   entities.TermResolver
}

func NewBatchMeasureConsumer(projection TemporalProjection, resolver entities.TermResolver) *BatchMeasureConsumer {
	return &BatchMeasureConsumer{projection: projection, resolver: resolver}
}

// HandleBatch fails as a whole so that every message of the batch is
// delivered again. Duplicated instances are removed by the cleaner.
func (c *BatchMeasureConsumer) HandleBatch(ctx context.Context, msgs []messaging.Message) (err error) {
	ctx, span := tracer.Start(ctx, "batch-measures", trace.WithAttributes(attribute.Int("messages", len(msgs))))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	logger := logging.GetFromContext(ctx)
	builder := temporal.NewBatchBuilder()
	ignored := 0

	for _, msg := range msgs {
		event, err := events.Parse(msg.Data())
		if err != nil || event.OperationType != events.AttributeAppend {
			ignored++
			continue
		}

		attributes, _, err := entities.ParseAttributes(event.OperationPayload, event.Contexts, c.resolver)
		if err != nil {
			logger.Warn("dropping measure with invalid payload", "entity_id", event.EntityID, "err", err.Error())
			ignored++
			continue
		}

		for _, a := range attributes {
			builder.Add(event.EntityID, event.EntityType, a)
		}
	}

	created, err := c.projection.HandleBatchAttributeAppend(ctx, builder.Batches())
	if err != nil {
		return err
	}

	logger.Debug("stored batch of measures", "messages", len(msgs), "instances", created, "ignored", ignored, "skipped", builder.Skipped())

	return nil
}
