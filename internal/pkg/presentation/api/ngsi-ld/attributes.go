package ngsild

import (
	"io"
	"net/http"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/diwise/graph-broker/internal/pkg/application/cim"
	"github.com/diwise/graph-broker/internal/pkg/presentation/api/ngsi-ld/auth"
	"github.com/diwise/graph-broker/pkg/ngsild"
	ngsierrors "github.com/diwise/graph-broker/pkg/ngsild/errors"
	"github.com/diwise/graph-broker/pkg/ngsild/types/entities"
)

// NewAppendEntityAttributesHandler handles POST requests that add attributes to
// an entity. Existing attributes are replaced unless the noOverwrite option is set.
func NewAppendEntityAttributesHandler(app cim.EntityAttributesAppender, authenticator auth.Enticator, resolver entities.TermResolver) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		entityID := entityIDFromRequest(r)

		ctx, span := tracer.Start(r.Context(), "append-entity-attributes",
			trace.WithAttributes(attribute.String(TraceAttributeEntityID, entityID)),
		)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			ngsierrors.ReportNewInvalidRequest(w, "unable to read request body", traceID(ctx))
			return
		}

		attributes, contexts, err := entities.ParseAttributes(body, linkContexts(r), resolver)
		if err != nil {
			reportError(ctx, w, "unable to parse attributes", err)
			return
		}

		ctx, subject, ok := authorize(w, r.WithContext(ctx), authenticator, nil)
		if !ok {
			return
		}

		result, err := app.AppendEntityAttributes(ctx, subject, entityID, attributes, hasOption(r, "noOverwrite"), contexts)
		if err != nil {
			reportError(ctx, w, "failed to append entity attributes", err)
			return
		}

		writeUpdateResult(w, result, resolver, contexts)
	})
}

// NewUpdateEntityAttributesHandler handles PATCH requests that replace existing
// attributes of an entity. Attributes the entity does not have are reported
// back as not updated.
func NewUpdateEntityAttributesHandler(app cim.EntityAttributesUpdater, authenticator auth.Enticator, resolver entities.TermResolver) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		entityID := entityIDFromRequest(r)

		ctx, span := tracer.Start(r.Context(), "update-entity-attributes",
			trace.WithAttributes(attribute.String(TraceAttributeEntityID, entityID)),
		)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			ngsierrors.ReportNewInvalidRequest(w, "unable to read request body", traceID(ctx))
			return
		}

		attributes, contexts, err := entities.ParseAttributes(body, linkContexts(r), resolver)
		if err != nil {
			reportError(ctx, w, "unable to parse attributes", err)
			return
		}

		ctx, subject, ok := authorize(w, r.WithContext(ctx), authenticator, nil)
		if !ok {
			return
		}

		result, err := app.UpdateEntityAttributes(ctx, subject, entityID, attributes, contexts)
		if err != nil {
			reportError(ctx, w, "failed to update entity attributes", err)
			return
		}

		writeUpdateResult(w, result, resolver, contexts)
	})
}

func NewPartialAttributeUpdateHandler(app cim.EntityAttributePartialUpdater, authenticator auth.Enticator, resolver entities.TermResolver) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		entityID := entityIDFromRequest(r)
		attributeTerm := urlParam(r, "attrId")

		ctx, span := tracer.Start(r.Context(), "partial-attribute-update",
			trace.WithAttributes(attribute.String(TraceAttributeEntityID, entityID)),
		)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			ngsierrors.ReportNewInvalidRequest(w, "unable to read request body", traceID(ctx))
			return
		}

		contexts := linkContexts(r)

		instances, err := entities.ParsePartialAttribute(attributeTerm, body, contexts, resolver)
		if err != nil {
			reportError(ctx, w, "unable to parse attribute fragment", err)
			return
		}

		ctx, subject, ok := authorize(w, r.WithContext(ctx), authenticator, nil)
		if !ok {
			return
		}

		attributeName := resolver.ExpandTerm(attributeTerm, contexts)

		if err = app.PartialAttributeUpdate(ctx, subject, entityID, attributeName, instances, contexts); err != nil {
			reportError(ctx, w, "failed to update attribute", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

// NewDeleteEntityAttributeHandler removes the default instance of an attribute,
// the instance given by datasetId or, with deleteAll=true, every instance
func NewDeleteEntityAttributeHandler(app cim.EntityAttributeDeleter, authenticator auth.Enticator, resolver entities.TermResolver) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		entityID := entityIDFromRequest(r)

		ctx, span := tracer.Start(r.Context(), "delete-entity-attribute",
			trace.WithAttributes(attribute.String(TraceAttributeEntityID, entityID)),
		)
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		ctx, subject, ok := authorize(w, r.WithContext(ctx), authenticator, nil)
		if !ok {
			return
		}

		params := r.URL.Query()
		contexts := linkContexts(r)
		attributeName := resolver.ExpandTerm(urlParam(r, "attrId"), contexts)

		var datasetID *string
		if d := params.Get("datasetId"); d != "" {
			datasetID = &d
		}

		deleteAll := params.Get("deleteAll") == "true"

		err = app.DeleteEntityAttribute(ctx, subject, entityID, attributeName, datasetID, deleteAll, contexts)
		if err != nil {
			reportError(ctx, w, "failed to delete attribute", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

// writeUpdateResult answers 204 when every instance was written and 207 with
// the compacted result otherwise
func writeUpdateResult(w http.ResponseWriter, result *ngsild.UpdateResult, resolver entities.TermResolver, contexts []string) {
	if result.IsSuccessful() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	response := result.ToResponse(func(name string) string {
		return resolver.CompactTerm(name, contexts)
	})

	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(http.StatusMultiStatus)
	w.Write(response.Bytes())
}
