package listeners

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/diwise/graph-broker/internal/pkg/application/events"
	"github.com/diwise/graph-broker/internal/pkg/infrastructure/messaging"
	ngsierrors "github.com/diwise/graph-broker/pkg/ngsild/errors"
	"github.com/diwise/graph-broker/pkg/ngsild/types"
	"github.com/diwise/graph-broker/pkg/ngsild/types/entities"
)

// ObservationListener applies entity and attribute events sent by devices and
// integrations and republishes the resulting changes
type ObservationListener struct {
	mutator  EntityMutator
	emitter  EventEmitter
	resolver entities.TermResolver
	publish  bool
}

func NewObservationListener(mutator EntityMutator, emitter EventEmitter, resolver entities.TermResolver) *ObservationListener {
	return &ObservationListener{mutator: mutator, emitter: emitter, resolver: resolver, publish: true}
}

// NewMeasureListener applies measures and alarms like NewObservationListener
// but leaves their history to the batch consumer and publishes nothing
func NewMeasureListener(mutator EntityMutator, resolver entities.TermResolver) *ObservationListener {
	return &ObservationListener{mutator: mutator, resolver: resolver}
}

func (l *ObservationListener) Handle(ctx context.Context, msg messaging.Message) (err error) {
	if l.publish && IsMeasure(msg.Subject()) {
		return nil
	}

	event, err := events.Parse(msg.Data())
	if err != nil {
		logging.GetFromContext(ctx).Warn("dropping unparseable observation", "subject", msg.Subject(), "err", err.Error())
		return nil
	}

	ctx, span := tracer.Start(ctx, "observation-"+string(event.OperationType), trace.WithAttributes(attribute.String("entity-id", event.EntityID)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	ctx = logging.NewContextWithLogger(ctx, logging.GetFromContext(ctx), "entity_id", event.EntityID)

	switch event.OperationType {
	case events.EntityCreate:
		err = l.entityCreate(ctx, event)
	case events.AttributeUpdate:
		err = l.attributeUpdate(ctx, event)
	case events.AttributeAppend:
		err = l.attributeAppend(ctx, event)
	default:
		logging.GetFromContext(ctx).Debug("ignoring observation", "operation", event.OperationType)
	}

	return dropOrRetry(ctx, event, err)
}

func (l *ObservationListener) entityCreate(ctx context.Context, event *events.EntityEvent) error {
	entity, err := entities.Parse(event.OperationPayload, event.Contexts, l.resolver)
	if err != nil {
		return err
	}

	err = l.mutator.CreateEntity(ctx, *entity)
	if errors.Is(err, ngsierrors.ErrAlreadyExists) {
		logging.GetFromContext(ctx).Info("entity already exists, nothing created")
		return nil
	}

	if err != nil {
		return err
	}

	if l.publish {
		l.emitter.EntityCreated(ctx, *entity, event.OperationPayload)
	}

	return nil
}

func (l *ObservationListener) attributeUpdate(ctx context.Context, event *events.EntityEvent) error {
	name, instances, err := partialAttribute(event, l.resolver)
	if err != nil {
		return err
	}

	result, err := l.mutator.PartialAttributeUpdate(ctx, event.EntityID, name, instances)
	if err != nil {
		return err
	}

	logNotUpdated(ctx, event, result)

	if l.publish {
		l.emitter.AttributesChanged(ctx, event.EntityID, instances, result, false, event.Contexts)
	}

	return nil
}

func (l *ObservationListener) attributeAppend(ctx context.Context, event *events.EntityEvent) error {
	attributes, contexts, err := entities.ParseAttributes(event.OperationPayload, event.Contexts, l.resolver)
	if err != nil {
		return err
	}

	result, err := l.mutator.AppendEntityAttributes(ctx, event.EntityID, attributes, !event.Overwrite)
	if err != nil {
		return err
	}

	if !result.IsSuccessful() {
		logNotUpdated(ctx, event, result)
		return nil
	}

	if l.publish {
		l.emitter.AttributesChanged(ctx, event.EntityID, attributes, result, event.Overwrite, contexts)
	}

	return nil
}

// partialAttribute decodes an operation payload of the form {"<term>": <instance(s)>}
// where only the modified fields of the instances are present
func partialAttribute(event *events.EntityEvent, resolver entities.TermResolver) (string, []types.Attribute, error) {
	fragment := map[string]json.RawMessage{}
	if err := json.Unmarshal(event.OperationPayload, &fragment); err != nil {
		return "", nil, ngsierrors.NewInvalidRequestError("unable to decode operation payload")
	}

	delete(fragment, "@context")

	if len(fragment) != 1 {
		return "", nil, ngsierrors.NewBadRequestDataError(fmt.Sprintf("expected exactly one attribute in payload, found %d", len(fragment)))
	}

	for term, raw := range fragment {
		instances, err := entities.ParsePartialAttribute(term, raw, event.Contexts, resolver)
		if err != nil {
			return "", nil, err
		}

		if event.AttributeName != "" {
			term = event.AttributeName
		}
		name := resolver.ExpandTerm(term, event.Contexts)

		return name, instances, nil
	}

	return "", nil, nil
}
