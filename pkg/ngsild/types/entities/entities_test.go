package entities

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	ngsierrors "github.com/diwise/graph-broker/pkg/ngsild/errors"
	"github.com/diwise/graph-broker/pkg/ngsild/jsonld"
	"github.com/diwise/graph-broker/pkg/ngsild/types"
	"github.com/matryer/is"
)

const aquacContext string = "https://example.org/aquac-context.jsonld"
const aquac string = "https://ontology.eglobalmark.com/aquac#"

func TestParseBreedingService(t *testing.T) {
	is, resolver := testSetup(t)

	e, err := Parse([]byte(breedingServiceJSON), nil, resolver)
	is.NoErr(err)

	is.Equal(e.ID, "urn:ngsi-ld:BreedingService:0214")
	is.Equal(e.Type(), aquac+"BreedingService")
	is.Equal(e.Contexts, []string{aquacContext, jsonld.NgsiLdCoreContext})

	fishNumber := e.Instances(aquac + "fishNumber")
	is.Equal(len(fishNumber), 2) // two instances told apart by their datasetId

	instance, ok := e.Instance(aquac+"fishNumber", ptr("urn:ngsi-ld:Dataset:fishNumber:1"))
	is.True(ok)
	is.Equal(instance.Value, int64(500))
	is.Equal(*instance.UnitCode, "C62")

	name, ok := e.Instance(jsonld.NgsiLdPrefix+"name", nil)
	is.True(ok)
	is.Equal(name.Value, "BreedingService")

	location, ok := e.Instance(jsonld.NgsiLdPrefix+"location", nil)
	is.True(ok)
	is.Equal(location.Kind, types.GeoPropertyKind)
	is.Equal(location.Geometry.WKT(), "POINT (24.30623 60.07966)")
}

func TestParseRelationshipWithNestedProperty(t *testing.T) {
	is, resolver := testSetup(t)

	e, err := Parse([]byte(breedingServiceJSON), nil, resolver)
	is.NoErr(err)

	filledIn, ok := e.Instance(aquac+"filledIn", nil)
	is.True(ok)
	is.Equal(filledIn.Kind, types.RelationshipKind)
	is.Equal(filledIn.Object, "urn:ngsi-ld:FishContainment:1234")

	is.Equal(len(filledIn.Attributes), 1) // the relationship carries one nested property
	is.Equal(filledIn.Attributes[0].Name, aquac+"fishSize")

	fishAge, ok := e.Instance(aquac+"fishAge", nil)
	is.True(ok)
	is.Equal(*fishAge.ObservedAt, time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC))
	is.Equal(fishAge.Value, 1.5)
}

func TestParseRejectsNonURIIdentifier(t *testing.T) {
	is, resolver := testSetup(t)

	_, err := Parse([]byte(`{"id":"breedingservice","type":"BreedingService"}`), nil, resolver)
	is.True(errors.Is(err, ngsierrors.ErrBadRequest))
	is.Equal(err.Error(), "The supplied identifier was expected to be an URI but it is not: breedingservice")
}

func TestParseRejectsMissingType(t *testing.T) {
	is, resolver := testSetup(t)

	_, err := Parse([]byte(`{"id":"urn:ngsi-ld:BreedingService:01"}`), nil, resolver)
	is.True(errors.Is(err, ngsierrors.ErrBadRequest))
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	is, resolver := testSetup(t)

	_, err := Parse([]byte(`{"id":`), nil, resolver)
	is.True(errors.Is(err, ngsierrors.ErrInvalidRequest))
}

func TestParseRejectsRelationshipWithoutObject(t *testing.T) {
	is, resolver := testSetup(t)

	_, err := Parse([]byte(`{"id":"urn:ngsi-ld:A:1","type":"A","managedBy":{"type":"Relationship"}}`), nil, resolver)
	is.True(errors.Is(err, ngsierrors.ErrBadRequest))
	is.Equal(err.Error(), "Relationship managedBy does not have an object field")
}

func TestParseRejectsDuplicateDatasetIDs(t *testing.T) {
	is, resolver := testSetup(t)

	body := `{"id":"urn:ngsi-ld:A:1","type":"A","temperature":[{"type":"Property","value":1},{"type":"Property","value":2}]}`

	_, err := Parse([]byte(body), nil, resolver)
	is.True(errors.Is(err, ngsierrors.ErrBadRequest)) // two default instances of the same attribute
}

func TestParseRejectsUnknownAttributeType(t *testing.T) {
	is, resolver := testSetup(t)

	_, err := Parse([]byte(`{"id":"urn:ngsi-ld:A:1","type":"A","temperature":{"type":"Measure","value":1}}`), nil, resolver)
	is.True(errors.Is(err, ngsierrors.ErrBadRequest))
}

func TestParseUsesLinkContextsWhenBodyHasNone(t *testing.T) {
	is, resolver := testSetup(t)

	e, err := Parse([]byte(`{"id":"urn:ngsi-ld:A:1","type":"Sensor","fishAge":{"type":"Property","value":1}}`), []string{aquacContext}, resolver)
	is.NoErr(err)

	is.Equal(e.Type(), aquac+"Sensor")
	is.Equal(e.AttributeNames(), []string{aquac + "fishAge"})
}

func TestParseAttributesFragment(t *testing.T) {
	is, resolver := testSetup(t)

	attributes, contexts, err := ParseAttributes([]byte(fragmentJSON), nil, resolver)
	is.NoErr(err)
	is.Equal(contexts, []string{aquacContext})
	is.Equal(len(attributes), 2)
	is.Equal(attributes[0].Name, aquac+"fishAge")
	is.Equal(attributes[1].Name, aquac+"fishName")
	is.Equal(attributes[1].Value, "Salmo salar")
}

func TestParsePartialAttributeWithoutType(t *testing.T) {
	is, resolver := testSetup(t)

	attributes, err := ParsePartialAttribute("fishAge", []byte(`{"value":4,"@context":["`+aquacContext+`"]}`), nil, resolver)
	is.NoErr(err)
	is.Equal(len(attributes), 1)
	is.Equal(attributes[0].Kind, types.PropertyKind)
	is.Equal(attributes[0].Name, aquac+"fishAge")
	is.Equal(attributes[0].Value, int64(4))
}

func TestCompactNormalizedAndKeyValues(t *testing.T) {
	is, resolver := testSetup(t)

	e, err := Parse([]byte(breedingServiceJSON), nil, resolver)
	is.NoErr(err)

	normalized := Compact(*e, resolver, CompactOptions{})
	is.Equal(normalized["type"], "BreedingService")

	fishNumber, ok := normalized["fishNumber"].([]any)
	is.True(ok)
	is.Equal(len(fishNumber), 2)

	filledIn := normalized["filledIn"].(map[string]any)
	is.Equal(filledIn["object"], "urn:ngsi-ld:FishContainment:1234")
	is.True(filledIn["fishSize"] != nil) // nested property is rendered inside the relationship

	simplified := Compact(*e, resolver, CompactOptions{KeyValues: true, Attrs: []string{aquac + "fishAge"}})
	is.Equal(simplified["fishAge"], 1.5)
	is.Equal(simplified["filledIn"], nil) // filtered out by attrs
}

func TestInstancePayloadUsesCompactedName(t *testing.T) {
	is, resolver := testSetup(t)

	a := NewProperty(aquac+"fishAge", 3, ObservedAt(time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)))

	payload := InstancePayload(a, resolver, []string{aquacContext})

	decoded := map[string]map[string]any{}
	is.NoErr(json.Unmarshal(payload, &decoded))
	is.Equal(decoded["fishAge"]["value"], 3.0)
	is.Equal(decoded["fishAge"]["observedAt"], "2022-01-01T00:00:00Z")
}

func TestBuildEntityWithDecorators(t *testing.T) {
	is := is.New(t)

	e := New("urn:ngsi-ld:Sensor:01", []string{aquac + "Sensor"},
		P(aquac+"temperature", 12.5, UnitCode("CEL"), DatasetID("urn:ngsi-ld:Dataset:t1")),
		R(aquac+"observedBy", "urn:ngsi-ld:Device:01"),
		Location(jsonld.NgsiLdPrefix+"location", 62.39, 17.30),
	)

	is.Equal(len(e.Attributes), 3)
	is.Equal(e.Attributes[0].DatasetIDOrEmpty(), "urn:ngsi-ld:Dataset:t1")
	is.Equal(e.Attributes[2].Geometry.GetAsPoint().Latitude(), 62.39)
}

func testSetup(t *testing.T) (*is.I, *jsonld.Expander) {
	is := is.New(t)
	resolver, err := jsonld.NewExpander(64, jsonld.WithVocabulary(aquacContext, aquac))
	is.NoErr(err)
	return is, resolver
}

func ptr[T any](v T) *T {
	return &v
}

const breedingServiceJSON string = `{
	"id": "urn:ngsi-ld:BreedingService:0214",
	"type": "BreedingService",
	"name": {
		"type": "Property",
		"value": "BreedingService"
	},
	"fishNumber": [
		{
			"type": "Property",
			"value": 500,
			"unitCode": "C62",
			"datasetId": "urn:ngsi-ld:Dataset:fishNumber:1"
		},
		{
			"type": "Property",
			"value": 600,
			"unitCode": "C62",
			"datasetId": "urn:ngsi-ld:Dataset:fishNumber:2"
		}
	],
	"fishAge": {
		"type": "Property",
		"value": 1.5,
		"observedAt": "2020-03-01T12:00:00Z"
	},
	"filledIn": {
		"type": "Relationship",
		"object": "urn:ngsi-ld:FishContainment:1234",
		"fishSize": {
			"type": "Property",
			"value": 2
		}
	},
	"location": {
		"type": "GeoProperty",
		"value": {
			"type": "Point",
			"coordinates": [24.30623, 60.07966]
		}
	},
	"@context": [
		"https://example.org/aquac-context.jsonld",
		"https://uri.etsi.org/ngsi-ld/v1/ngsi-ld-core-context.jsonld"
	]
}`

const fragmentJSON string = `{
	"fishAge": {
		"type": "Property",
		"value": 5,
		"unitCode": "MON"
	},
	"fishName": {
		"type": "Property",
		"value": "Salmo salar"
	},
	"@context": ["https://example.org/aquac-context.jsonld"]
}`
