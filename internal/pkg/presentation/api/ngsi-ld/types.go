package ngsild

import (
	"errors"
	"net/http"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/google/uuid"

	"github.com/diwise/graph-broker/internal/pkg/application/cim"
	"github.com/diwise/graph-broker/internal/pkg/presentation/api/ngsi-ld/auth"
	ngsierrors "github.com/diwise/graph-broker/pkg/ngsild/errors"
	"github.com/diwise/graph-broker/pkg/ngsild/types/entities"
)

// NewRetrieveAvailableEntityTypesHandler handles GET requests for the
// entity types available in this NGSI-LD system
func NewRetrieveAvailableEntityTypesHandler(app cim.TypesRetriever, authenticator auth.Enticator, resolver entities.TermResolver) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "retrieve-types")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		detailsRequested := r.URL.Query().Get("details")
		if detailsRequested != "" && detailsRequested != "false" {
			err = errors.New("details not supported for /types")
			ngsierrors.ReportNewBadRequestData(w, err.Error(), traceID(ctx))
			return
		}

		ctx, subject, ok := authorize(w, r.WithContext(ctx), authenticator, nil)
		if !ok {
			return
		}

		availableTypes, err := app.RetrieveTypes(ctx, subject)
		if err != nil {
			reportError(ctx, w, "retrieve types failed", err)
			return
		}

		contexts := linkContexts(r)

		typeList := make([]string, 0, len(availableTypes))
		for _, t := range availableTypes {
			typeList = append(typeList, resolver.CompactTerm(t, contexts))
		}

		response := map[string]any{
			"id":       "urn:ngsi-ld:EntityTypeList:" + uuid.NewString(),
			"type":     "EntityTypeList",
			"typeList": typeList,
		}

		contentType := contentTypeOf(r)
		if contentType == "application/ld+json" {
			response["@context"] = contexts
		}

		withLinkHeader(w, contentType, contexts)
		writeJSON(w, http.StatusOK, contentType, response)
	})
}
