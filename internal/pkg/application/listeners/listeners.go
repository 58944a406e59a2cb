package listeners

import (
	"context"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"go.opentelemetry.io/otel"

	"github.com/diwise/graph-broker/internal/pkg/application/events"
	"github.com/diwise/graph-broker/internal/pkg/application/temporal"
	"github.com/diwise/graph-broker/pkg/ngsild"
	ngsierrors "github.com/diwise/graph-broker/pkg/ngsild/errors"
	"github.com/diwise/graph-broker/pkg/ngsild/types"
)

var tracer = otel.Tracer("graph-broker/listeners")

const (
	ObservationSubjects string = "cim.observation.>"
	EquipmentSubjects   string = "cim.eqp.>"
	IAMSubjects         string = "cim.iam.>"
	EntitySubjects      string = "cim.entity.>"
	MeasureSubject      string = "cim.eqp.Transmitter.MSR"
	AlarmSubject        string = "cim.eqp.Transmitter.ALR"
)

// IsMeasure reports if subject carries measures or alarms, which are applied
// by a measure listener and written to history in batches
func IsMeasure(subject string) bool {
	return subject == MeasureSubject || subject == AlarmSubject
}

// EntityMutator is the part of the mutation engine the listeners apply events with
type EntityMutator interface {
	CreateEntity(ctx context.Context, entity types.Entity) error
	AppendEntityAttributes(ctx context.Context, entityID string, attributes []types.Attribute, disallowOverwrite bool) (*ngsild.UpdateResult, error)
	UpdateEntityAttributes(ctx context.Context, entityID string, attributes []types.Attribute) (*ngsild.UpdateResult, error)
	PartialAttributeUpdate(ctx context.Context, entityID, attributeName string, instances []types.Attribute) (*ngsild.UpdateResult, error)
	DeleteEntity(ctx context.Context, entityID string) (int, int, error)
	DeleteEntityAttributeInstance(ctx context.Context, entityID, name string, datasetID *string) error
}

type EventEmitter interface {
	EntityCreated(ctx context.Context, entity types.Entity, payload []byte)
	AttributesChanged(ctx context.Context, entityID string, instances []types.Attribute, result *ngsild.UpdateResult, overwrite bool, contexts []string)
}

// TemporalProjection is the part of the temporal service that follows entity events
type TemporalProjection interface {
	CreateEntityTemporalReferences(ctx context.Context, payload []byte, contexts []string) (int, error)
	AddAttributeInstance(ctx context.Context, entityID, entityType string, a types.Attribute, contexts []string) error
	UpdateEntityPayload(ctx context.Context, entityID string, payload []byte) error
	DeleteTemporalEntityReferences(ctx context.Context, entityID string) (int, error)
	DeleteTemporalAttributeReferences(ctx context.Context, entityID, attributeName string, datasetID *string) (int, error)
	DeleteTemporalAttributeAllInstancesReferences(ctx context.Context, entityID, attributeName string) (int, error)
	HandleBatchAttributeAppend(ctx context.Context, batches map[temporal.TEAKey]*temporal.Batch) (int, error)
}

// dropOrRetry decides what happens to a message whose event could not be
// applied. Errors in the content of the event will never succeed and are
// logged and dropped, anything else is returned so that the message is
// delivered again.
func dropOrRetry(ctx context.Context, event *events.EntityEvent, err error) error {
	if err == nil {
		return nil
	}

	if ngsierrors.IsKnown(err) {
		logging.GetFromContext(ctx).Warn("event could not be applied",
			"operation", event.OperationType, "entity_id", event.EntityID, "err", err.Error())
		return nil
	}

	return err
}

func logNotUpdated(ctx context.Context, event *events.EntityEvent, result *ngsild.UpdateResult) {
	if result == nil || result.IsSuccessful() {
		return
	}

	logger := logging.GetFromContext(ctx)
	for _, nu := range result.NotUpdated {
		logger.Info("attribute not updated", "operation", event.OperationType, "entity_id", event.EntityID, "attribute", nu.AttributeName, "reason", nu.Reason)
	}
}
