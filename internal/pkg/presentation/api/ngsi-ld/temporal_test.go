package ngsild

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/diwise/graph-broker/internal/pkg/application/cim"
	"github.com/diwise/graph-broker/internal/pkg/application/temporal"
)

func TestRetrieveTemporalEvolutionOfAnEntity(t *testing.T) {
	is, ts, app := setupTest(t)
	defer ts.Close()

	app.RetrieveTemporalEvolutionOfEntityFunc = func(ctx context.Context, subject cim.Subject, entityID string, query temporal.TemporalQuery, contexts []string) (map[string]any, error) {
		is.Equal(entityID, beehiveID)
		is.Equal(query.Timerel, temporal.After)
		is.Equal(query.Attrs, []string{aquac + "temperature"})
		is.Equal(query.LastN, 2)

		return map[string]any{
			"id":   beehiveID,
			"type": "Beehive",
			"temperature": []any{
				map[string]any{"type": "Property", "value": 22.2, "observedAt": "2024-05-01T12:03:00Z"},
				map[string]any{"type": "Property", "value": 22.7, "observedAt": "2024-05-01T12:05:00Z"},
			},
		}, nil
	}

	resp, body := testRequest(is, ts, http.MethodGet,
		"/ngsi-ld/v1/temporal/entities/"+beehiveID+"?timerel=after&timeAt=2024-05-01T00:00:00Z&attrs=temperature&lastN=2", nil,
		"Accept", "application/json", "Link", aquacLink)

	is.Equal(resp.StatusCode, http.StatusOK)
	is.Equal(body, temporalEvolutionOfBeehive)
}

func TestRetrieveTemporalEvolutionWithInvalidTimerelIsBadRequest(t *testing.T) {
	is, ts, app := setupTest(t)
	defer ts.Close()

	resp, _ := testRequest(is, ts, http.MethodGet,
		"/ngsi-ld/v1/temporal/entities/"+beehiveID+"?timerel=sometime&timeAt=2024-05-01T00:00:00Z", nil)

	is.Equal(resp.StatusCode, http.StatusBadRequest)
	is.Equal(len(app.RetrieveTemporalEvolutionOfEntityCalls()), 0)
}

func TestQueryTemporalEntitiesRequiresTimerel(t *testing.T) {
	is, ts, app := setupTest(t)
	defer ts.Close()

	resp, _ := testRequest(is, ts, http.MethodGet, "/ngsi-ld/v1/temporal/entities?type=Beehive", nil)

	is.Equal(resp.StatusCode, http.StatusBadRequest)
	is.Equal(len(app.QueryTemporalEvolutionOfEntitiesCalls()), 0)
}

func TestQueryTemporalEntitiesAddsPagingLinks(t *testing.T) {
	is, ts, app := setupTest(t)
	defer ts.Close()

	app.QueryTemporalEvolutionOfEntitiesFunc = func(ctx context.Context, subject cim.Subject, query temporal.TemporalEntitiesQuery, contexts []string) ([]map[string]any, int, error) {
		is.Equal(query.Types, []string{aquac + "Beehive"})
		is.Equal(query.Limit, 10)
		is.Equal(query.Offset, 10)
		return []map[string]any{{"id": beehiveID, "type": "Beehive"}}, 40, nil
	}

	resp, _ := testRequest(is, ts, http.MethodGet,
		"/ngsi-ld/v1/temporal/entities?type=Beehive&timerel=after&timeAt=2024-05-01T00:00:00Z&limit=10&offset=10&count=true", nil,
		"Link", aquacLink)

	is.Equal(resp.StatusCode, http.StatusOK)
	is.Equal(resp.Header.Get("NGSILD-Results-Count"), "40")

	links := resp.Header.Values("Link")
	is.Equal(len(links), 2)
	is.True(strings.Contains(links[0], `rel="prev"`))
	is.True(strings.Contains(links[0], "offset=0"))
	is.True(strings.Contains(links[1], `rel="next"`))
	is.True(strings.Contains(links[1], "offset=20"))
}

func TestQueryTemporalEntityOperations(t *testing.T) {
	is, ts, app := setupTest(t)
	defer ts.Close()

	app.QueryTemporalEvolutionOfEntitiesFunc = func(ctx context.Context, subject cim.Subject, query temporal.TemporalEntitiesQuery, contexts []string) ([]map[string]any, int, error) {
		is.Equal(query.Types, []string{aquac + "Beehive"})
		is.Equal(query.TemporalQuery.Attrs, []string{aquac + "temperature", aquac + "humidity"})
		is.Equal(query.TemporalQuery.Timerel, temporal.Before)
		is.Equal(query.Limit, 5)
		return []map[string]any{}, 0, nil
	}

	resp, body := testRequest(is, ts, http.MethodPost, "/ngsi-ld/v1/temporal/entityOperations/query?limit=5",
		strings.NewReader(`{"type":"Beehive","attrs":["temperature","humidity"],"timerel":"before","timeAt":"2024-05-01T00:00:00Z"}`),
		"Content-Type", "application/json", "Accept", "application/json", "Link", aquacLink)

	is.Equal(resp.StatusCode, http.StatusOK)
	is.Equal(body, "[]")
}

func TestQueryTemporalEntityOperationsWithInvalidBody(t *testing.T) {
	is, ts, _ := setupTest(t)
	defer ts.Close()

	resp, _ := testRequest(is, ts, http.MethodPost, "/ngsi-ld/v1/temporal/entityOperations/query",
		strings.NewReader(`{"type":{"nested":"object"}}`), "Content-Type", "application/json")

	is.Equal(resp.StatusCode, http.StatusBadRequest)
}

const temporalEvolutionOfBeehive string = `{"id":"urn:ngsi-ld:Beehive:01","temperature":[{"observedAt":"2024-05-01T12:03:00Z","type":"Property","value":22.2},{"observedAt":"2024-05-01T12:05:00Z","type":"Property","value":22.7}],"type":"Beehive"}`
