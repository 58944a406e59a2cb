package ngsild

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/diwise/graph-broker/internal/pkg/application/cim"
	"github.com/diwise/graph-broker/internal/pkg/application/temporal"
	"github.com/diwise/graph-broker/internal/pkg/presentation/api/ngsi-ld/auth"
	ngsierrors "github.com/diwise/graph-broker/pkg/ngsild/errors"
	"github.com/diwise/graph-broker/pkg/ngsild/types/entities"
)

const temporalEntitiesPath string = "/ngsi-ld/v1/temporal/entities"

// NewRetrieveTemporalEvolutionOfAnEntityHandler returns the attribute history
// of a single entity
func NewRetrieveTemporalEvolutionOfAnEntityHandler(app cim.EntityTemporalRetriever, authenticator auth.Enticator, resolver entities.TermResolver) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		entityID := entityIDFromRequest(r)

		ctx, span := tracer.Start(r.Context(), "retrieve-temporal-entity",
			trace.WithAttributes(attribute.String(TraceAttributeEntityID, entityID)),
		)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		contexts := linkContexts(r)

		query, err := temporal.ParseTemporalQuery(r.URL.Query(), expandWith(resolver, contexts))
		if err != nil {
			reportError(ctx, w, "invalid temporal query", err)
			return
		}

		ctx, subject, ok := authorize(w, r.WithContext(ctx), authenticator, nil)
		if !ok {
			return
		}

		result, err := app.RetrieveTemporalEvolutionOfEntity(ctx, subject, entityID, query, contexts)
		if err != nil {
			reportError(ctx, w, "failed to retrieve temporal evolution of entity", err)
			return
		}

		contentType := contentTypeOf(r)
		if contentType == "application/ld+json" {
			result["@context"] = contexts
		}

		withLinkHeader(w, contentType, contexts)
		writeJSON(w, http.StatusOK, contentType, result)
	})
}

// NewQueryTemporalEvolutionOfEntitiesHandler queries the attribute history of
// every readable entity matching the request parameters
func NewQueryTemporalEvolutionOfEntitiesHandler(app cim.EntityTemporalQuerier, authenticator auth.Enticator, resolver entities.TermResolver) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queryTemporalEntities(w, r, r.URL.Query(), app, authenticator, resolver)
	})
}

// NewQueryTemporalEntityOperationsHandler accepts the parameters of a temporal
// query as the members of a JSON object. List members are joined with commas.
// Paging parameters may also be given in the request URL.
func NewQueryTemporalEntityOperationsHandler(app cim.EntityTemporalQuerier, authenticator auth.Enticator, resolver entities.TermResolver) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			ngsierrors.ReportNewInvalidRequest(w, "unable to read request body", traceID(r.Context()))
			return
		}

		params, err := paramsFromBody(body)
		if err != nil {
			ngsierrors.ReportNewInvalidRequest(w, err.Error(), traceID(r.Context()))
			return
		}

		for name, values := range r.URL.Query() {
			if !params.Has(name) {
				params[name] = values
			}
		}

		queryTemporalEntities(w, r, params, app, authenticator, resolver)
	})
}

func queryTemporalEntities(w http.ResponseWriter, r *http.Request, params url.Values, app cim.EntityTemporalQuerier, authenticator auth.Enticator, resolver entities.TermResolver) {
	var err error

	ctx, span := tracer.Start(r.Context(), "query-temporal-entities")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	contexts := linkContexts(r)

	query, err := temporal.ParseTemporalEntitiesQuery(params, expandWith(resolver, contexts))
	if err != nil {
		reportError(ctx, w, "invalid temporal query", err)
		return
	}

	ctx, subject, ok := authorize(w, r.WithContext(ctx), authenticator, splitList(params.Get("type")))
	if !ok {
		return
	}

	result, count, err := app.QueryTemporalEvolutionOfEntities(ctx, subject, query, contexts)
	if err != nil {
		reportError(ctx, w, "failed to query temporal evolution of entities", err)
		return
	}

	contentType := contentTypeOf(r)
	if contentType == "application/ld+json" {
		for _, e := range result {
			e["@context"] = contexts
		}
	}

	if query.Count {
		w.Header().Add("NGSILD-Results-Count", strconv.Itoa(count))
	}

	for _, link := range pagingLinks(params, count, query.Offset, query.Limit) {
		w.Header().Add("Link", link)
	}

	withLinkHeader(w, contentType, contexts)
	writeJSON(w, http.StatusOK, contentType, result)
}

func expandWith(resolver entities.TermResolver, contexts []string) temporal.ExpandFunc {
	return func(term string) string {
		return resolver.ExpandTerm(term, contexts)
	}
}

// paramsFromBody flattens a JSON object into query parameters
func paramsFromBody(body []byte) (url.Values, error) {
	members := map[string]any{}

	d := json.NewDecoder(bytes.NewReader(body))
	d.UseNumber()

	if err := d.Decode(&members); err != nil {
		return nil, fmt.Errorf("unable to decode query parameters: %w", err)
	}

	params := url.Values{}

	for name, value := range members {
		switch v := value.(type) {
		case []any:
			items := make([]string, 0, len(v))
			for _, item := range v {
				items = append(items, fmt.Sprint(item))
			}
			params.Set(name, strings.Join(items, ","))
		case map[string]any:
			return nil, fmt.Errorf("unsupported query parameter value for %s", name)
		default:
			params.Set(name, fmt.Sprint(v))
		}
	}

	return params, nil
}

// pagingLinks returns the prev and next links for a page of results
func pagingLinks(params url.Values, count, offset, limit int) []string {
	links := []string{}

	link := func(o int, rel string) string {
		p := url.Values{}
		for name, values := range params {
			p[name] = values
		}
		p.Set("limit", strconv.Itoa(limit))
		p.Set("offset", strconv.Itoa(o))
		return fmt.Sprintf(`<%s?%s>;rel="%s";type="application/ld+json"`, temporalEntitiesPath, p.Encode(), rel)
	}

	if offset > 0 && offset-limit < count {
		links = append(links, link(max(offset-limit, 0), "prev"))
	}

	if offset+limit < count {
		links = append(links, link(offset+limit, "next"))
	}

	return links
}
