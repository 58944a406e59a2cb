package listeners

import (
	"context"
	"slices"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"

	"github.com/diwise/graph-broker/internal/pkg/application/events"
	"github.com/diwise/graph-broker/internal/pkg/infrastructure/messaging"
	"github.com/diwise/graph-broker/pkg/ngsild/jsonld"
	"github.com/diwise/graph-broker/pkg/ngsild/types/entities"
)

var subjectTypes = []string{jsonld.UserType, jsonld.GroupType, jsonld.ClientType}

// IAMListener keeps the users, groups and clients of the identity provider
// in the graph so that rights and roles can be resolved
type IAMListener struct {
	mutator  EntityMutator
	resolver entities.TermResolver
}

func NewIAMListener(mutator EntityMutator, resolver entities.TermResolver) *IAMListener {
	return &IAMListener{mutator: mutator, resolver: resolver}
}

func (l *IAMListener) Handle(ctx context.Context, msg messaging.Message) error {
	event, err := events.Parse(msg.Data())
	if err != nil {
		logging.GetFromContext(ctx).Warn("dropping unparseable iam event", "subject", msg.Subject(), "err", err.Error())
		return nil
	}

	ctx = logging.NewContextWithLogger(ctx, logging.GetFromContext(ctx), "entity_id", event.EntityID)

	switch event.OperationType {
	case events.EntityCreate:
		err = l.subjectCreate(ctx, event)
	case events.EntityDelete:
		_, _, err = l.mutator.DeleteEntity(ctx, event.EntityID)
	case events.AttributeAppend:
		err = l.attributesAppend(ctx, event)
	case events.AttributeReplace:
		err = l.attributesReplace(ctx, event)
	case events.AttributeDelete:
		err = l.mutator.DeleteEntityAttributeInstance(ctx, event.EntityID, l.attributeName(event), event.DatasetID)
	default:
		logging.GetFromContext(ctx).Debug("ignoring iam event", "operation", event.OperationType)
	}

	return dropOrRetry(ctx, event, err)
}

func (l *IAMListener) subjectCreate(ctx context.Context, event *events.EntityEvent) error {
	entity, err := entities.Parse(event.OperationPayload, event.Contexts, l.resolver)
	if err != nil {
		return err
	}

	if !slices.ContainsFunc(entity.Types, func(t string) bool { return slices.Contains(subjectTypes, t) }) {
		logging.GetFromContext(ctx).Debug("ignoring creation of non subject entity", "type", entity.Type())
		return nil
	}

	return l.mutator.CreateEntity(ctx, *entity)
}

// memberships and roles are always overwritten
func (l *IAMListener) attributesAppend(ctx context.Context, event *events.EntityEvent) error {
	attributes, _, err := entities.ParseAttributes(event.OperationPayload, event.Contexts, l.resolver)
	if err != nil {
		return err
	}

	result, err := l.mutator.AppendEntityAttributes(ctx, event.EntityID, attributes, false)
	logNotUpdated(ctx, event, result)

	return err
}

func (l *IAMListener) attributesReplace(ctx context.Context, event *events.EntityEvent) error {
	attributes, _, err := entities.ParseAttributes(event.OperationPayload, event.Contexts, l.resolver)
	if err != nil {
		return err
	}

	result, err := l.mutator.UpdateEntityAttributes(ctx, event.EntityID, attributes)
	logNotUpdated(ctx, event, result)

	return err
}

func (l *IAMListener) attributeName(event *events.EntityEvent) string {
	return l.resolver.ExpandTerm(event.AttributeName, event.Contexts)
}
