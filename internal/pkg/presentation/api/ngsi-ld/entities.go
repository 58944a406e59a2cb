package ngsild

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/diwise/graph-broker/internal/pkg/application/cim"
	"github.com/diwise/graph-broker/internal/pkg/presentation/api/ngsi-ld/auth"
	ngsierrors "github.com/diwise/graph-broker/pkg/ngsild/errors"
	"github.com/diwise/graph-broker/pkg/ngsild/types"
	"github.com/diwise/graph-broker/pkg/ngsild/types/entities"
)

// NewCreateEntityHandler handles incoming POST requests for NGSI entities
func NewCreateEntityHandler(app cim.EntityCreator, authenticator auth.Enticator, resolver entities.TermResolver) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "create-entity")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			ngsierrors.ReportNewInvalidRequest(w, "unable to read request body", traceID(ctx))
			return
		}

		entity, err := entities.Parse(body, linkContexts(r), resolver)
		if err != nil {
			reportError(ctx, w, "unable to parse entity", err)
			return
		}

		span.SetAttributes(attribute.String(TraceAttributeEntityID, entity.ID))

		ctx, subject, ok := authorize(w, r.WithContext(ctx), authenticator, compactTypes(*entity, resolver))
		if !ok {
			return
		}

		result, err := app.CreateEntity(ctx, subject, *entity, body)
		if err != nil {
			reportError(ctx, w, "failed to create entity", err)
			return
		}

		w.Header().Add("Location", result.Location())
		w.WriteHeader(http.StatusCreated)
	})
}

// NewQueryEntitiesHandler handles GET requests for NGSI entities
func NewQueryEntitiesHandler(app cim.EntityQuerier, authenticator auth.Enticator, resolver entities.TermResolver) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "query-entities")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		params := r.URL.Query()
		contexts := linkContexts(r)

		query := cim.EntitiesQuery{
			IDs:   splitList(params.Get("id")),
			Types: expandTerms(resolver, splitList(params.Get("type")), contexts),
			Attrs: expandTerms(resolver, splitList(params.Get("attrs")), contexts),
			Count: params.Get("count") == "true",
		}

		if len(query.IDs) == 0 && len(query.Types) == 0 && len(query.Attrs) == 0 {
			err = ngsierrors.NewBadRequestDataError("one of 'type', 'attrs' or 'id' must be provided in the query")
			reportError(ctx, w, "invalid query", err)
			return
		}

		if query.Limit, err = intParam(params.Get("limit"), "limit"); err != nil {
			reportError(ctx, w, "invalid query", err)
			return
		}

		if query.Offset, err = intParam(params.Get("offset"), "offset"); err != nil {
			reportError(ctx, w, "invalid query", err)
			return
		}

		ctx, subject, ok := authorize(w, r.WithContext(ctx), authenticator, splitList(params.Get("type")))
		if !ok {
			return
		}

		result, err := app.QueryEntities(ctx, subject, query)
		if err != nil {
			reportError(ctx, w, "query entities failed", err)
			return
		}

		contentType := contentTypeOf(r)
		opts := compactOptions(r, contentType, query.Attrs)

		response := make([]map[string]any, 0, len(result.Entities))
		for _, e := range result.Entities {
			e.Contexts = contexts
			response = append(response, entities.Compact(e, resolver, opts))
		}

		if query.Count {
			w.Header().Add("NGSILD-Results-Count", strconv.Itoa(result.TotalCount))
		}

		logging.GetFromContext(ctx).Debug("entities found", "count", len(response))

		withLinkHeader(w, contentType, contexts)
		writeJSON(w, http.StatusOK, contentType, response)
	})
}

// NewRetrieveEntityHandler retrieves entities by id
func NewRetrieveEntityHandler(app cim.EntityRetriever, authenticator auth.Enticator, resolver entities.TermResolver) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		entityID := entityIDFromRequest(r)

		ctx, span := tracer.Start(r.Context(), "retrieve-entity",
			trace.WithAttributes(attribute.String(TraceAttributeEntityID, entityID)),
		)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		ctx, subject, ok := authorize(w, r.WithContext(ctx), authenticator, nil)
		if !ok {
			return
		}

		entity, err := app.RetrieveEntity(ctx, subject, entityID)
		if err != nil {
			reportError(ctx, w, "failed to retrieve entity", err)
			return
		}

		contentType := contentTypeOf(r)
		if len(r.Header.Values("Link")) > 0 {
			entity.Contexts = linkContexts(r)
		}

		attrs := expandTerms(resolver, splitList(r.URL.Query().Get("attrs")), entity.Contexts)
		response := entities.Compact(*entity, resolver, compactOptions(r, contentType, attrs))

		withLinkHeader(w, contentType, entity.Contexts)
		writeJSON(w, http.StatusOK, contentType, response)
	})
}

// NewReplaceEntityHandler replaces every attribute of an existing entity
func NewReplaceEntityHandler(app cim.EntityReplacer, authenticator auth.Enticator, resolver entities.TermResolver) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		entityID := entityIDFromRequest(r)

		ctx, span := tracer.Start(r.Context(), "replace-entity",
			trace.WithAttributes(attribute.String(TraceAttributeEntityID, entityID)),
		)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			ngsierrors.ReportNewInvalidRequest(w, "unable to read request body", traceID(ctx))
			return
		}

		entity, err := entities.Parse(body, linkContexts(r), resolver)
		if err != nil {
			reportError(ctx, w, "unable to parse entity", err)
			return
		}

		if entity.ID != entityID {
			err = ngsierrors.NewBadRequestDataError(fmt.Sprintf("The id %s in the payload does not match the id %s in the path", entity.ID, entityID))
			reportError(ctx, w, "unable to replace entity", err)
			return
		}

		ctx, subject, ok := authorize(w, r.WithContext(ctx), authenticator, compactTypes(*entity, resolver))
		if !ok {
			return
		}

		if err = app.ReplaceEntity(ctx, subject, *entity, body); err != nil {
			reportError(ctx, w, "failed to replace entity", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func NewDeleteEntityHandler(app cim.EntityDeleter, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		entityID := entityIDFromRequest(r)

		ctx, span := tracer.Start(r.Context(), "delete-entity",
			trace.WithAttributes(attribute.String(TraceAttributeEntityID, entityID)),
		)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		ctx, subject, ok := authorize(w, r.WithContext(ctx), authenticator, nil)
		if !ok {
			return
		}

		if err = app.DeleteEntity(ctx, subject, entityID); err != nil {
			reportError(ctx, w, "failed to delete entity", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func compactOptions(r *http.Request, contentType string, attrs []string) entities.CompactOptions {
	return entities.CompactOptions{
		KeyValues:      hasOption(r, "keyValues") || r.URL.Query().Get("format") == "simplified",
		SysAttrs:       hasOption(r, "sysAttrs"),
		Attrs:          attrs,
		IncludeContext: contentType == "application/ld+json",
	}
}

func compactTypes(e types.Entity, resolver entities.TermResolver) []string {
	compacted := make([]string, 0, len(e.Types))
	for _, t := range e.Types {
		compacted = append(compacted, resolver.CompactTerm(t, e.Contexts))
	}
	return compacted
}

func intParam(value, name string) (int, error) {
	if value == "" {
		return 0, nil
	}

	i, err := strconv.Atoi(value)
	if err != nil || i < 0 {
		return 0, ngsierrors.NewBadRequestDataError(fmt.Sprintf("'%s' must be a positive integer", name))
	}

	return i, nil
}

func splitList(s string) []string {
	list := []string{}
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

func writeJSON(w http.ResponseWriter, status int, contentType string, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		ngsierrors.ReportNewInternalError(w, err.Error(), "")
		return
	}

	w.Header().Add("Content-Type", contentType)
	w.WriteHeader(status)
	w.Write(b)
}

func expandTerms(resolver entities.TermResolver, terms []string, contexts []string) []string {
	expanded := make([]string, 0, len(terms))
	for _, t := range terms {
		expanded = append(expanded, resolver.ExpandTerm(t, contexts))
	}
	return expanded
}
