package listeners

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/matryer/is"

	"github.com/diwise/graph-broker/internal/pkg/application/events"
	"github.com/diwise/graph-broker/internal/pkg/application/temporal"
	"github.com/diwise/graph-broker/internal/pkg/infrastructure/messaging"
	"github.com/diwise/graph-broker/pkg/ngsild"
	ngsierrors "github.com/diwise/graph-broker/pkg/ngsild/errors"
	"github.com/diwise/graph-broker/pkg/ngsild/jsonld"
	"github.com/diwise/graph-broker/pkg/ngsild/types"
)

const (
	aquacContext string = "https://example.org/aquac.jsonld"
	aquac        string = "https://ontology.eglobalmark.com/aquac#"
	sensorID     string = "urn:ngsi-ld:Sensor:01"
	temperature  string = aquac + "temperature"
)

func TestObservationCreatePublishesEntityCreate(t *testing.T) {
	is, ctx, mutator, emitter := testSetup(t)
	l := NewObservationListener(mutator, emitter, expander(t))

	err := l.Handle(ctx, message(events.EntityEvent{
		OperationType:    events.EntityCreate,
		EntityID:         sensorID,
		OperationPayload: json.RawMessage(`{"id":"urn:ngsi-ld:Sensor:01","type":"Sensor","temperature":{"type":"Property","value":12.5}}`),
		Contexts:         []string{aquacContext},
	}))
	is.NoErr(err)

	is.Equal(len(mutator.created), 1)
	is.Equal(mutator.created[0].Types, []string{aquac + "Sensor"})
	is.Equal(emitter.created, 1)
}

func TestObservationCreateOfExistingEntityIsNotPublished(t *testing.T) {
	is, ctx, mutator, emitter := testSetup(t)
	mutator.err = ngsierrors.NewAlreadyExistsError("exists")
	l := NewObservationListener(mutator, emitter, expander(t))

	err := l.Handle(ctx, message(events.EntityEvent{
		OperationType:    events.EntityCreate,
		EntityID:         sensorID,
		OperationPayload: json.RawMessage(`{"id":"urn:ngsi-ld:Sensor:01","type":"Sensor"}`),
	}))
	is.NoErr(err)
	is.Equal(emitter.created, 0)
}

func TestObservationAppendInvertsOverwrite(t *testing.T) {
	is, ctx, mutator, emitter := testSetup(t)
	l := NewObservationListener(mutator, emitter, expander(t))

	err := l.Handle(ctx, message(events.EntityEvent{
		OperationType:    events.AttributeAppend,
		EntityID:         sensorID,
		Overwrite:        true,
		OperationPayload: json.RawMessage(`{"temperature":{"type":"Property","value":13.1,"observedAt":"2024-05-01T08:00:00Z"}}`),
		Contexts:         []string{aquacContext},
	}))
	is.NoErr(err)

	is.Equal(mutator.disallowOverwrite, false)
	is.Equal(mutator.appended[0].Name, temperature)
	is.Equal(emitter.changed, 1)
}

func TestObservationAppendWithNotUpdatedIsNotPublished(t *testing.T) {
	is, ctx, mutator, emitter := testSetup(t)
	mutator.notUpdated = true
	l := NewObservationListener(mutator, emitter, expander(t))

	err := l.Handle(ctx, message(events.EntityEvent{
		OperationType:    events.AttributeAppend,
		EntityID:         sensorID,
		OperationPayload: json.RawMessage(`{"temperature":{"type":"Property","value":13.1}}`),
		Contexts:         []string{aquacContext},
	}))
	is.NoErr(err)

	is.Equal(mutator.disallowOverwrite, true)
	is.Equal(emitter.changed, 0)
}

func TestObservationPartialUpdate(t *testing.T) {
	is, ctx, mutator, emitter := testSetup(t)
	l := NewObservationListener(mutator, emitter, expander(t))

	err := l.Handle(ctx, message(events.EntityEvent{
		OperationType:    events.AttributeUpdate,
		EntityID:         sensorID,
		OperationPayload: json.RawMessage(`{"temperature":{"value":14.2,"observedAt":"2024-05-01T09:00:00Z"}}`),
		Contexts:         []string{aquacContext},
	}))
	is.NoErr(err)

	is.Equal(mutator.partialName, temperature)
	is.Equal(emitter.changed, 1)
}

func TestObservationPartialUpdateExpandsCompactAttributeName(t *testing.T) {
	is, ctx, mutator, emitter := testSetup(t)
	l := NewObservationListener(mutator, emitter, expander(t))

	err := l.Handle(ctx, message(events.EntityEvent{
		OperationType:    events.AttributeUpdate,
		EntityID:         sensorID,
		AttributeName:    "temperature",
		OperationPayload: json.RawMessage(`{"temperature":{"value":14.2}}`),
		Contexts:         []string{aquacContext},
	}))
	is.NoErr(err)

	is.Equal(mutator.partialName, temperature)
}

func TestObservationListenerLeavesMeasuresToMeasureListener(t *testing.T) {
	is, ctx, mutator, emitter := testSetup(t)
	observations := NewObservationListener(mutator, emitter, expander(t))
	measures := NewMeasureListener(mutator, expander(t))

	msr := &fakeMessage{
		subject: MeasureSubject,
		data: events.EntityEvent{
			OperationType:    events.AttributeAppend,
			EntityID:         sensorID,
			OperationPayload: json.RawMessage(`{"temperature":{"type":"Property","value":13.1}}`),
			Contexts:         []string{aquacContext},
		}.Bytes(),
	}

	is.NoErr(observations.Handle(ctx, msr))
	is.Equal(len(mutator.appended), 0)

	is.NoErr(measures.Handle(ctx, msr))
	is.Equal(len(mutator.appended), 1)
	is.Equal(emitter.changed, 0)
}

func TestMeasureListenerDoesNotPublish(t *testing.T) {
	is, ctx, mutator, _ := testSetup(t)
	l := NewMeasureListener(mutator, expander(t))

	err := l.Handle(ctx, message(events.EntityEvent{
		OperationType:    events.AttributeAppend,
		EntityID:         sensorID,
		OperationPayload: json.RawMessage(`{"temperature":{"type":"Property","value":13.1}}`),
		Contexts:         []string{aquacContext},
	}))
	is.NoErr(err)
	is.Equal(len(mutator.appended), 1)
}

func TestUnexpectedErrorsAreRetried(t *testing.T) {
	is, ctx, mutator, emitter := testSetup(t)
	mutator.err = errors.New("graph unavailable")
	l := NewObservationListener(mutator, emitter, expander(t))

	err := l.Handle(ctx, message(events.EntityEvent{
		OperationType:    events.EntityCreate,
		EntityID:         sensorID,
		OperationPayload: json.RawMessage(`{"id":"urn:ngsi-ld:Sensor:01","type":"Sensor"}`),
	}))
	is.True(err != nil)
}

func TestInvalidMessagesAreDropped(t *testing.T) {
	is, ctx, mutator, emitter := testSetup(t)
	l := NewObservationListener(mutator, emitter, expander(t))

	is.NoErr(l.Handle(ctx, &fakeMessage{data: []byte("not json")}))
	is.NoErr(l.Handle(ctx, message(events.EntityEvent{
		OperationType:    events.EntityCreate,
		EntityID:         sensorID,
		OperationPayload: json.RawMessage(`{"id":"not a uri","type":"Sensor"}`),
	})))
	is.Equal(len(mutator.created), 0)
}

func TestIAMCreatesOnlySubjects(t *testing.T) {
	is, ctx, mutator, _ := testSetup(t)
	l := NewIAMListener(mutator, expander(t))

	is.NoErr(l.Handle(ctx, message(events.EntityEvent{
		OperationType:    events.EntityCreate,
		EntityID:         "urn:ngsi-ld:User:01",
		OperationPayload: json.RawMessage(`{"id":"urn:ngsi-ld:User:01","type":"User","roles":{"type":"Property","value":["stellio-creator"]}}`),
	})))

	is.NoErr(l.Handle(ctx, message(events.EntityEvent{
		OperationType:    events.EntityCreate,
		EntityID:         sensorID,
		OperationPayload: json.RawMessage(`{"id":"urn:ngsi-ld:Sensor:01","type":"Sensor"}`),
		Contexts:         []string{aquacContext},
	})))

	is.Equal(len(mutator.created), 1)
	is.Equal(mutator.created[0].Types, []string{jsonld.UserType})
	is.Equal(mutator.created[0].Attributes[0].Name, jsonld.RolesProperty)
}

func TestIAMMembershipAppendOverwrites(t *testing.T) {
	is, ctx, mutator, _ := testSetup(t)
	l := NewIAMListener(mutator, expander(t))

	is.NoErr(l.Handle(ctx, message(events.EntityEvent{
		OperationType:    events.AttributeAppend,
		EntityID:         "urn:ngsi-ld:User:01",
		AttributeName:    "isMemberOf",
		OperationPayload: json.RawMessage(`{"isMemberOf":{"type":"Relationship","object":"urn:ngsi-ld:Group:01","datasetId":"urn:ngsi-ld:Dataset:isMemberOf:urn:ngsi-ld:Group:01"}}`),
	})))

	is.Equal(mutator.disallowOverwrite, false)
	is.Equal(mutator.appended[0].Name, jsonld.IsMemberOf)
}

func TestIAMAttributeDeleteExpandsName(t *testing.T) {
	is, ctx, mutator, _ := testSetup(t)
	l := NewIAMListener(mutator, expander(t))

	ds := "urn:ngsi-ld:Dataset:isMemberOf:urn:ngsi-ld:Group:01"
	is.NoErr(l.Handle(ctx, message(events.EntityEvent{
		OperationType: events.AttributeDelete,
		EntityID:      "urn:ngsi-ld:User:01",
		AttributeName: "isMemberOf",
		DatasetID:     &ds,
	})))

	is.Equal(mutator.deletedAttribute, jsonld.IsMemberOf)
	is.Equal(*mutator.deletedDataset, ds)
}

func TestTemporalListenerFollowsEntityLifecycle(t *testing.T) {
	is, ctx, _, _ := testSetup(t)
	projection := &fakeProjection{}
	l := NewTemporalListener(projection, expander(t))

	payload := json.RawMessage(`{"id":"urn:ngsi-ld:Sensor:01","type":"Sensor"}`)

	is.NoErr(l.Handle(ctx, message(events.EntityEvent{OperationType: events.EntityCreate, EntityID: sensorID, OperationPayload: payload})))
	is.NoErr(l.Handle(ctx, message(events.EntityEvent{OperationType: events.EntityReplace, EntityID: sensorID, OperationPayload: payload})))
	is.NoErr(l.Handle(ctx, message(events.EntityEvent{OperationType: events.EntityDelete, EntityID: sensorID})))

	is.Equal(projection.calls, []string{"create", "delete-entity", "create", "delete-entity"})
}

func TestTemporalListenerAddsInstancesAndPayload(t *testing.T) {
	is, ctx, _, _ := testSetup(t)
	projection := &fakeProjection{}
	l := NewTemporalListener(projection, expander(t))

	is.NoErr(l.Handle(ctx, message(events.EntityEvent{
		OperationType:    events.AttributeUpdate,
		EntityID:         sensorID,
		EntityType:       aquac + "Sensor",
		AttributeName:    temperature,
		OperationPayload: json.RawMessage(`{"temperature":{"type":"Property","value":14.2,"observedAt":"2024-05-01T09:00:00Z"}}`),
		UpdatedEntity:    json.RawMessage(`{"id":"urn:ngsi-ld:Sensor:01"}`),
		Contexts:         []string{aquacContext},
	})))

	is.Equal(projection.calls, []string{"add:" + temperature, "payload"})
}

func TestTemporalListenerDeletesAttributes(t *testing.T) {
	is, ctx, _, _ := testSetup(t)
	projection := &fakeProjection{}
	l := NewTemporalListener(projection, expander(t))

	is.NoErr(l.Handle(ctx, message(events.EntityEvent{OperationType: events.AttributeDelete, EntityID: sensorID, AttributeName: temperature})))
	is.NoErr(l.Handle(ctx, message(events.EntityEvent{OperationType: events.AttributeDeleteAllInstances, EntityID: sensorID, AttributeName: temperature})))

	is.Equal(projection.calls, []string{"delete-attribute:" + temperature, "delete-all:" + temperature})
}

func TestBatchMeasuresAreGroupedPerSeries(t *testing.T) {
	is, ctx, _, _ := testSetup(t)
	projection := &fakeProjection{}
	c := NewBatchMeasureConsumer(projection, expander(t))

	measure := func(value string) messaging.Message {
		return message(events.EntityEvent{
			OperationType:    events.AttributeAppend,
			EntityID:         sensorID,
			EntityType:       aquac + "Sensor",
			OperationPayload: json.RawMessage(`{"temperature":{"type":"Property","value":` + value + `,"observedAt":"2024-05-01T09:00:00Z"}}`),
			Contexts:         []string{aquacContext},
		})
	}

	err := c.HandleBatch(ctx, []messaging.Message{measure("1.5"), measure("2.5"), &fakeMessage{data: []byte("{}")}})
	is.NoErr(err)

	is.Equal(len(projection.batches), 1) // one series
	for _, b := range projection.batches {
		is.Equal(len(b.Instances), 2)
	}
}

func TestFailedBatchIsRetried(t *testing.T) {
	is, ctx, _, _ := testSetup(t)
	projection := &fakeProjection{err: errors.New("database down")}
	c := NewBatchMeasureConsumer(projection, expander(t))

	err := c.HandleBatch(ctx, []messaging.Message{&fakeMessage{data: []byte("{}")}})
	is.True(err != nil)
}

func testSetup(t *testing.T) (*is.I, context.Context, *fakeMutator, *fakeEmitter) {
	return is.New(t), context.Background(), &fakeMutator{}, &fakeEmitter{}
}

func expander(t *testing.T) *jsonld.Expander {
	e, err := jsonld.NewExpander(32, jsonld.WithVocabulary(aquacContext, aquac))
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func message(event events.EntityEvent) messaging.Message {
	return &fakeMessage{data: event.Bytes()}
}

type fakeMessage struct {
	subject string
	data    []byte
}

func (m *fakeMessage) Subject() string {
	if m.subject == "" {
		return "cim.test"
	}
	return m.subject
}

func (m *fakeMessage) Data() []byte { return m.data }
func (m *fakeMessage) Ack() error   { return nil }
func (m *fakeMessage) Nak() error   { return nil }

type fakeMutator struct {
	err               error
	notUpdated        bool
	created           []types.Entity
	appended          []types.Attribute
	disallowOverwrite bool
	partialName       string
	deletedAttribute  string
	deletedDataset    *string
}

func (f *fakeMutator) CreateEntity(ctx context.Context, entity types.Entity) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, entity)
	return nil
}

func (f *fakeMutator) AppendEntityAttributes(ctx context.Context, entityID string, attributes []types.Attribute, disallowOverwrite bool) (*ngsild.UpdateResult, error) {
	f.appended = append(f.appended, attributes...)
	f.disallowOverwrite = disallowOverwrite
	return f.result(attributes), f.err
}

func (f *fakeMutator) UpdateEntityAttributes(ctx context.Context, entityID string, attributes []types.Attribute) (*ngsild.UpdateResult, error) {
	return f.result(attributes), f.err
}

func (f *fakeMutator) PartialAttributeUpdate(ctx context.Context, entityID, attributeName string, instances []types.Attribute) (*ngsild.UpdateResult, error) {
	f.partialName = attributeName
	for i := range instances {
		instances[i].Name = attributeName
	}
	return f.result(instances), f.err
}

func (f *fakeMutator) DeleteEntity(ctx context.Context, entityID string) (int, int, error) {
	return 1, 0, f.err
}

func (f *fakeMutator) DeleteEntityAttributeInstance(ctx context.Context, entityID, name string, datasetID *string) error {
	f.deletedAttribute = name
	f.deletedDataset = datasetID
	return f.err
}

func (f *fakeMutator) result(attributes []types.Attribute) *ngsild.UpdateResult {
	result := ngsild.NewUpdateResult()
	for _, a := range attributes {
		if f.notUpdated {
			result.AddNotUpdated(a.Name, "overwrite disallowed")
		} else {
			result.AddUpdated(a.Name, a.DatasetID, ngsild.Updated)
		}
	}
	return result
}

type fakeEmitter struct {
	created int
	changed int
}

func (f *fakeEmitter) EntityCreated(ctx context.Context, entity types.Entity, payload []byte) {
	f.created++
}

func (f *fakeEmitter) AttributesChanged(ctx context.Context, entityID string, instances []types.Attribute, result *ngsild.UpdateResult, overwrite bool, contexts []string) {
	f.changed++
}

type fakeProjection struct {
	calls   []string
	batches map[temporal.TEAKey]*temporal.Batch
	err     error
}

func (f *fakeProjection) CreateEntityTemporalReferences(ctx context.Context, payload []byte, contexts []string) (int, error) {
	f.calls = append(f.calls, "create")
	return 0, f.err
}

func (f *fakeProjection) AddAttributeInstance(ctx context.Context, entityID, entityType string, a types.Attribute, contexts []string) error {
	f.calls = append(f.calls, "add:"+a.Name)
	return f.err
}

func (f *fakeProjection) UpdateEntityPayload(ctx context.Context, entityID string, payload []byte) error {
	f.calls = append(f.calls, "payload")
	return f.err
}

func (f *fakeProjection) DeleteTemporalEntityReferences(ctx context.Context, entityID string) (int, error) {
	f.calls = append(f.calls, "delete-entity")
	return 0, f.err
}

func (f *fakeProjection) DeleteTemporalAttributeReferences(ctx context.Context, entityID, attributeName string, datasetID *string) (int, error) {
	f.calls = append(f.calls, "delete-attribute:"+attributeName)
	return 0, f.err
}

func (f *fakeProjection) DeleteTemporalAttributeAllInstancesReferences(ctx context.Context, entityID, attributeName string) (int, error) {
	f.calls = append(f.calls, "delete-all:"+attributeName)
	return 0, f.err
}

func (f *fakeProjection) HandleBatchAttributeAppend(ctx context.Context, batches map[temporal.TEAKey]*temporal.Batch) (int, error) {
	f.batches = batches
	return 0, f.err
}
