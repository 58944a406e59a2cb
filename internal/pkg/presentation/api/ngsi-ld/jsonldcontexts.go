package ngsild

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// DefaultContext maps every term that is not covered by a vocabulary onto the
// NGSI-LD default vocabulary
const DefaultContext string = `{
    "@context": [
        "https://uri.etsi.org/ngsi-ld/v1/ngsi-ld-core-context.jsonld",
        {
            "@vocab": "https://uri.etsi.org/ngsi-ld/default-context/"
        }
    ]
}`

func NewServeContextHandler(logger *slog.Logger) http.HandlerFunc {
	responseBytes := []byte(DefaultContext)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contextID := chi.URLParam(r, "contextId")

		if contextID != "default-context.jsonld" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		logger.Debug("default context requested from client")

		w.Header().Add("Content-Type", "application/ld+json")
		w.WriteHeader(http.StatusOK)
		w.Write(responseBytes)
	})
}
