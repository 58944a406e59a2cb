package temporal

import (
	"github.com/diwise/graph-broker/pkg/ngsild/types"
)

// BatchBuilder groups appended attribute instances by time series so that a
// batch of events can be stored with one transaction per series
type BatchBuilder struct {
	batches map[TEAKey]*Batch
	skipped int
}

func NewBatchBuilder() *BatchBuilder {
	return &BatchBuilder{
		batches: map[TEAKey]*Batch{},
	}
}

// Add projects the attribute instance and adds it to the batch of its time
// series. Instances that are not temporal are skipped and false is returned.
func (b *BatchBuilder) Add(entityID, entityType string, a types.Attribute) bool {
	md := ToTemporalAttributeMetadata(a)
	if !md.IsValid() {
		b.skipped++
		return false
	}

	key := TEAKey{EntityID: entityID, AttributeName: a.Name, DatasetID: a.DatasetIDOrEmpty()}

	batch, ok := b.batches[key]
	if !ok {
		batch = &Batch{Attribute: newTemporalEntityAttribute(entityID, entityType, a.Name, md.Value())}
		b.batches[key] = batch
	}

	batch.Instances = append(batch.Instances, newAttributeInstance(batch.Attribute.ID, md.Value(), a.Fragment))

	return true
}

func (b *BatchBuilder) Batches() map[TEAKey]*Batch {
	return b.batches
}

func (b *BatchBuilder) Skipped() int {
	return b.skipped
}
