package temporal

import (
	"context"
	"errors"
	"slices"

	"github.com/google/uuid"
)

var errFailOn = errors.New("failed on purpose")

type fakeRepository struct {
	teas       []TemporalEntityAttribute
	instances  []AttributeInstance
	payloads   map[string][]byte
	aggregate  []InstanceRecord
	failOn     string
	lastFilter string
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		payloads: map[string][]byte{},
	}
}

func (f *fakeRepository) CreateReference(ctx context.Context, ref Reference) error {
	if ref.Attribute.AttributeName == f.failOn {
		return errFailOn
	}
	f.teas = append(f.teas, ref.Attribute)
	f.instances = append(f.instances, ref.Instance)
	return nil
}

func (f *fakeRepository) CreateEntityReferences(ctx context.Context, refs []Reference, entityID string, entityPayload []byte) (int, error) {
	for _, ref := range refs {
		if ref.Attribute.AttributeName == f.failOn {
			return 0, errFailOn
		}
	}
	for _, ref := range refs {
		_ = f.CreateReference(ctx, ref)
	}
	if entityPayload != nil {
		f.payloads[entityID] = entityPayload
	}
	return len(refs), nil
}

func (f *fakeRepository) CreateEntityPayload(ctx context.Context, entityID string, payload []byte) error {
	f.payloads[entityID] = payload
	return nil
}

func (f *fakeRepository) UpdateEntityPayload(ctx context.Context, entityID string, payload []byte) (int, error) {
	if _, ok := f.payloads[entityID]; !ok {
		return 0, nil
	}
	f.payloads[entityID] = payload
	return 1, nil
}

func (f *fakeRepository) FindTemporalEntityAttribute(ctx context.Context, key TEAKey) (*TemporalEntityAttribute, error) {
	for _, tea := range f.teas {
		if tea.Key() == key {
			return &tea, nil
		}
	}
	return nil, nil
}

func (f *fakeRepository) AddAttributeInstance(ctx context.Context, instance AttributeInstance) error {
	f.instances = append(f.instances, instance)
	return nil
}

func (f *fakeRepository) AppendInstances(ctx context.Context, tea TemporalEntityAttribute, instances []AttributeInstance) (int, error) {
	if tea.AttributeName == f.failOn {
		return 0, errFailOn
	}

	existing, _ := f.FindTemporalEntityAttribute(ctx, tea.Key())
	if existing == nil {
		f.teas = append(f.teas, tea)
		existing = &tea
	}

	for _, instance := range instances {
		instance.TemporalEntityAttribute = existing.ID
		f.instances = append(f.instances, instance)
	}

	return len(instances), nil
}

func (f *fakeRepository) DeleteEntityReferences(ctx context.Context, entityID string) (int, error) {
	deleted := 0

	for _, tea := range f.teas {
		if tea.EntityID == entityID {
			deleted += f.deleteInstancesOf(tea.ID)
		}
	}

	if _, ok := f.payloads[entityID]; ok {
		delete(f.payloads, entityID)
		deleted++
	}

	before := len(f.teas)
	f.teas = slices.DeleteFunc(f.teas, func(tea TemporalEntityAttribute) bool { return tea.EntityID == entityID })

	return deleted + before - len(f.teas), nil
}

func (f *fakeRepository) DeleteAttributeReferences(ctx context.Context, entityID, attributeName string, datasetID *string) (int, error) {
	key := TEAKey{EntityID: entityID, AttributeName: attributeName}
	if datasetID != nil {
		key.DatasetID = *datasetID
	}
	return f.deleteWhere(func(tea TemporalEntityAttribute) bool { return tea.Key() == key }), nil
}

func (f *fakeRepository) DeleteAttributeAllInstancesReferences(ctx context.Context, entityID, attributeName string) (int, error) {
	return f.deleteWhere(func(tea TemporalEntityAttribute) bool {
		return tea.EntityID == entityID && tea.AttributeName == attributeName
	}), nil
}

func (f *fakeRepository) GetForEntities(ctx context.Context, limit, offset int, filter string) ([]TemporalEntityAttribute, error) {
	f.lastFilter = filter
	return f.teas, nil
}

func (f *fakeRepository) GetCountForEntities(ctx context.Context, filter string) (int, error) {
	ids := map[string]bool{}
	for _, tea := range f.teas {
		ids[tea.EntityID] = true
	}
	return len(ids), nil
}

func (f *fakeRepository) GetForEntity(ctx context.Context, entityID string, attrs []string) ([]TemporalEntityAttribute, error) {
	result := []TemporalEntityAttribute{}
	for _, tea := range f.teas {
		if tea.EntityID == entityID && (len(attrs) == 0 || slices.Contains(attrs, tea.AttributeName)) {
			result = append(result, tea)
		}
	}
	return result, nil
}

func (f *fakeRepository) QueryInstances(ctx context.Context, tea TemporalEntityAttribute, query TemporalQuery) ([]InstanceRecord, error) {
	if query.IsAggregated() {
		return f.aggregate, nil
	}

	records := []InstanceRecord{}
	for _, instance := range f.instancesOf(tea.ID) {
		records = append(records, InstanceRecord{
			ObservedAt:    instance.ObservedAt,
			MeasuredValue: instance.MeasuredValue,
			Value:         instance.Value,
			Payload:       instance.Payload,
		})
	}

	slices.SortFunc(records, func(a, b InstanceRecord) int { return a.ObservedAt.Compare(b.ObservedAt) })

	return records, nil
}

func (f *fakeRepository) find(attributeName string) TemporalEntityAttribute {
	for _, tea := range f.teas {
		if tea.AttributeName == attributeName {
			return tea
		}
	}
	return TemporalEntityAttribute{}
}

func (f *fakeRepository) instancesOf(teaID uuid.UUID) []AttributeInstance {
	result := []AttributeInstance{}
	for _, instance := range f.instances {
		if instance.TemporalEntityAttribute == teaID {
			result = append(result, instance)
		}
	}
	return result
}

func (f *fakeRepository) deleteInstancesOf(teaID uuid.UUID) int {
	before := len(f.instances)
	f.instances = slices.DeleteFunc(f.instances, func(i AttributeInstance) bool { return i.TemporalEntityAttribute == teaID })
	return before - len(f.instances)
}

func (f *fakeRepository) deleteWhere(match func(TemporalEntityAttribute) bool) int {
	deleted := 0
	for _, tea := range f.teas {
		if match(tea) {
			deleted += f.deleteInstancesOf(tea.ID)
		}
	}

	before := len(f.teas)
	f.teas = slices.DeleteFunc(f.teas, match)

	return deleted + before - len(f.teas)
}
