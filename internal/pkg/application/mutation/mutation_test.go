package mutation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/matryer/is"

	"github.com/diwise/graph-broker/pkg/ngsild"
	ngsierrors "github.com/diwise/graph-broker/pkg/ngsild/errors"
	"github.com/diwise/graph-broker/pkg/ngsild/geojson"
	"github.com/diwise/graph-broker/pkg/ngsild/types"
	"github.com/diwise/graph-broker/pkg/ngsild/types/entities"
)

const (
	aquac               string = "https://ontology.eglobalmark.com/aquac#"
	breedingID          string = "urn:ngsi-ld:BreedingService:0214"
	containmentID       string = "urn:ngsi-ld:FishContainment:1234"
	location            string = "https://uri.etsi.org/ngsi-ld/location"
	fishNumberDS1       string = "urn:ngsi-ld:Dataset:fishNumber:1"
	fishNumberDS2       string = "urn:ngsi-ld:Dataset:fishNumber:2"
	unknownEntity       string = "urn:ngsi-ld:BreedingService:unknown"
	unknownTarget       string = "urn:ngsi-ld:FishContainment:unknown"
	fishAge             string = aquac + "fishAge"
	fishNumber          string = aquac + "fishNumber"
	filledIn            string = aquac + "filledIn"
	breedingServiceType string = aquac + "BreedingService"
)

func TestCreateEntityTwiceFailsWithAlreadyExists(t *testing.T) {
	is, ctx, engine, _ := testSetup(t)

	err := engine.CreateEntity(ctx, *breedingService())
	is.True(errors.Is(err, ngsierrors.ErrAlreadyExists))
}

func TestCreateEntityWithNestedRelationship(t *testing.T) {
	is, ctx, engine, store := testSetup(t)

	sensor := entities.New("urn:ngsi-ld:Sensor:01", []string{aquac + "Sensor"},
		entities.P(aquac+"temperature", 12.5, entities.Nested(entities.NewRelationship(aquac+"observedBy", containmentID))),
	)

	is.NoErr(engine.CreateEntity(ctx, *sensor))

	e, err := store.RetrieveEntity(ctx, sensor.ID)
	is.NoErr(err)

	temperature, ok := e.Instance(aquac+"temperature", nil)
	is.True(ok)
	is.Equal(len(temperature.Attributes), 1) // the nested relationship is owned by the property instance
	is.Equal(temperature.Attributes[0].Object, containmentID)
}

func TestCreateEntityWithMissingTargetFails(t *testing.T) {
	is, ctx, engine, store := testSetup(t)

	e := entities.New("urn:ngsi-ld:BreedingService:02", []string{breedingServiceType},
		entities.R(filledIn, unknownTarget),
	)

	err := engine.CreateEntity(ctx, *e)
	is.True(errors.Is(err, ngsierrors.ErrBadRequest))
	is.True(strings.Contains(err.Error(), unknownTarget))

	exists, _ := store.EntityExists(ctx, e.ID)
	is.True(!exists) // nothing is created when a target is missing
}

func TestAppendNewAttributeIsAppended(t *testing.T) {
	is, ctx, engine, store := testSetup(t)

	result, err := engine.AppendEntityAttributes(ctx, breedingID, []types.Attribute{
		entities.NewProperty(aquac+"fishName", "Salmo salar"),
	}, true)
	is.NoErr(err)

	is.Equal(len(result.Updated), 1)
	is.Equal(result.Updated[0].Result, ngsild.Appended)
	is.Equal(store.modifications(breedingID), 1) // modification date is updated after a successful append
}

func TestAppendExistingDefaultInstanceWithOverwriteDisallowed(t *testing.T) {
	is, ctx, engine, store := testSetup(t)

	result, err := engine.AppendEntityAttributes(ctx, breedingID, []types.Attribute{
		entities.NewProperty(fishAge, 2),
	}, true)
	is.NoErr(err)

	is.Equal(len(result.Updated), 0)
	is.Equal(len(result.NotUpdated), 1)
	is.Equal(result.NotUpdated[0].AttributeName, fishAge)
	is.Equal(result.NotUpdated[0].Reason, "overwrite disallowed")

	is.Equal(store.instances(breedingID, fishAge)[0].Value, 1.5) // the existing value is kept
	is.Equal(store.modifications(breedingID), 0)
}

func TestAppendExistingDefaultInstanceWithOverwriteAllowed(t *testing.T) {
	is, ctx, engine, store := testSetup(t)

	result, err := engine.AppendEntityAttributes(ctx, breedingID, []types.Attribute{
		entities.NewProperty(fishAge, 2),
	}, false)
	is.NoErr(err)

	is.Equal(result.Updated[0].Result, ngsild.Replaced)

	instances := store.instances(breedingID, fishAge)
	is.Equal(len(instances), 1) // replacing never duplicates the default instance
	is.Equal(instances[0].Value, 2)
}

func TestAppendExistingDatasetInstanceIsAlwaysReplaced(t *testing.T) {
	is, ctx, engine, store := testSetup(t)

	result, err := engine.AppendEntityAttributes(ctx, breedingID, []types.Attribute{
		entities.NewProperty(fishNumber, 700, entities.DatasetID(fishNumberDS1)),
	}, true)
	is.NoErr(err)

	is.Equal(len(result.NotUpdated), 0)
	is.Equal(result.Updated[0].Result, ngsild.Replaced)
	is.Equal(*result.Updated[0].DatasetID, fishNumberDS1)
	is.Equal(len(store.instances(breedingID, fishNumber)), 2)
}

func TestAppendToUnknownEntityIsNotFound(t *testing.T) {
	is, ctx, engine, _ := testSetup(t)

	_, err := engine.AppendEntityAttributes(ctx, unknownEntity, []types.Attribute{
		entities.NewProperty(fishAge, 2),
	}, false)
	is.True(errors.Is(err, ngsierrors.ErrNotFound))
}

func TestAppendGeoProperty(t *testing.T) {
	is, ctx, engine, _ := testSetup(t)

	geo := types.Attribute{Kind: types.GeoPropertyKind, Name: location, Geometry: geojson.NewPoint(24.30623, 60.07966)}

	result, err := engine.AppendEntityAttributes(ctx, breedingID, []types.Attribute{geo}, true)
	is.NoErr(err)
	is.Equal(result.Updated[0].Result, ngsild.Appended)

	result, err = engine.AppendEntityAttributes(ctx, breedingID, []types.Attribute{geo}, true)
	is.NoErr(err)
	is.Equal(result.NotUpdated[0].Reason, "overwrite disallowed")

	result, err = engine.AppendEntityAttributes(ctx, breedingID, []types.Attribute{geo}, false)
	is.NoErr(err)
	is.Equal(result.Updated[0].Result, ngsild.Replaced)
}

func TestUpdateRelationshipWithMissingTarget(t *testing.T) {
	is, ctx, engine, _ := testSetup(t)

	result, err := engine.UpdateEntityAttributes(ctx, breedingID, []types.Attribute{
		entities.NewRelationship(filledIn, unknownTarget),
	})
	is.NoErr(err)

	is.Equal(len(result.NotUpdated), 1)
	is.Equal(result.NotUpdated[0].Reason, "Target entity "+unknownTarget+" does not exist")
}

func TestUpdateUnknownAttributeIsNotUpdated(t *testing.T) {
	is, ctx, engine, _ := testSetup(t)

	result, err := engine.UpdateEntityAttributes(ctx, breedingID, []types.Attribute{
		entities.NewProperty(aquac+"fishWeight", 3),
		entities.NewProperty(fishAge, 3),
	})
	is.NoErr(err)

	is.Equal(len(result.NotUpdated), 1)
	is.Equal(result.NotUpdated[0].AttributeName, aquac+"fishWeight")
	is.Equal(result.Updated[0].Result, ngsild.Updated)
}

func TestPartialAttributeUpdateKeepsOtherFields(t *testing.T) {
	is, ctx, engine, store := testSetup(t)

	result, err := engine.PartialAttributeUpdate(ctx, breedingID, fishNumber, []types.Attribute{
		{Kind: types.PropertyKind, Value: 800, DatasetID: ptr(fishNumberDS2)},
	})
	is.NoErr(err)
	is.Equal(result.Updated[0].Result, ngsild.Updated)

	for _, instance := range store.instances(breedingID, fishNumber) {
		if instance.DatasetIDOrEmpty() == fishNumberDS2 {
			is.Equal(instance.Value, 800)
			is.Equal(*instance.UnitCode, "C62") // fields that were not supplied are kept
		}
	}
}

func TestDeleteAllInstancesOfAttribute(t *testing.T) {
	is, ctx, engine, store := testSetup(t)

	is.NoErr(engine.DeleteEntityAttribute(ctx, breedingID, fishNumber))
	is.Equal(len(store.instances(breedingID, fishNumber)), 0)

	err := engine.DeleteEntityAttribute(ctx, breedingID, fishNumber)
	is.True(errors.Is(err, ngsierrors.ErrNotFound)) // nothing left to delete
}

func TestDeleteRelationshipAttribute(t *testing.T) {
	is, ctx, engine, store := testSetup(t)

	is.NoErr(engine.DeleteEntityAttribute(ctx, breedingID, filledIn))
	is.Equal(len(store.instances(breedingID, filledIn)), 0)
}

func TestDeleteSingleInstance(t *testing.T) {
	is, ctx, engine, store := testSetup(t)

	is.NoErr(engine.DeleteEntityAttributeInstance(ctx, breedingID, fishNumber, ptr(fishNumberDS1)))

	remaining := store.instances(breedingID, fishNumber)
	is.Equal(len(remaining), 1)
	is.Equal(remaining[0].DatasetIDOrEmpty(), fishNumberDS2)

	err := engine.DeleteEntityAttributeInstance(ctx, breedingID, fishNumber, ptr(fishNumberDS1))
	is.True(errors.Is(err, ngsierrors.ErrNotFound))

	err = engine.DeleteEntityAttributeInstance(ctx, breedingID, fishNumber, nil)
	is.True(errors.Is(err, ngsierrors.ErrNotFound)) // there is no default instance
}

func TestDeleteEntity(t *testing.T) {
	is, ctx, engine, store := testSetup(t)

	nodes, _, err := engine.DeleteEntity(ctx, breedingID)
	is.NoErr(err)
	is.Equal(nodes, 5) // the core node and four attribute instances

	exists, _ := store.EntityExists(ctx, breedingID)
	is.True(!exists)

	_, _, err = engine.DeleteEntity(ctx, breedingID)
	is.True(errors.Is(err, ngsierrors.ErrNotFound))
}

func TestReplaceEntity(t *testing.T) {
	is, ctx, engine, store := testSetup(t)

	replacement := entities.New(breedingID, []string{breedingServiceType}, entities.P(aquac+"fishName", "Salmo salar"))

	is.NoErr(engine.ReplaceEntity(ctx, *replacement))

	e, err := store.RetrieveEntity(ctx, breedingID)
	is.NoErr(err)
	is.Equal(e.AttributeNames(), []string{aquac + "fishName"})
}

func TestConcurrentAppendsKeepOneDefaultInstance(t *testing.T) {
	is, ctx, engine, store := testSetup(t)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(value int) {
			defer wg.Done()
			_, err := engine.AppendEntityAttributes(ctx, breedingID, []types.Attribute{
				entities.NewProperty(aquac+"fishWeight", value),
			}, false)
			is.NoErr(err)
		}(i)
	}
	wg.Wait()

	is.Equal(len(store.instances(breedingID, aquac+"fishWeight")), 1) // mutations of one entity are serialized
	is.Equal(engine.locks.size(), 0)                                  // locks are released when unused
}

func breedingService() *types.Entity {
	return entities.New(breedingID, []string{breedingServiceType},
		entities.P(fishAge, 1.5),
		entities.P(fishNumber, 500, entities.DatasetID(fishNumberDS1), entities.UnitCode("C62")),
		entities.P(fishNumber, 600, entities.DatasetID(fishNumberDS2), entities.UnitCode("C62")),
		entities.R(filledIn, containmentID),
	)
}

func ptr[T any](v T) *T {
	return &v
}

func testSetup(t *testing.T) (*is.I, context.Context, *Engine, *memStore) {
	is := is.New(t)
	ctx := context.Background()

	store := newMemStore()
	engine := NewEngine(store)

	containment := entities.New(containmentID, []string{aquac + "FishContainment"})
	is.NoErr(engine.CreateEntity(ctx, *containment))
	is.NoErr(engine.CreateEntity(ctx, *breedingService()))

	return is, ctx, engine, store
}
