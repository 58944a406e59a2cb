package ngsild

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/diwise/graph-broker/internal/pkg/application/cim"
	"github.com/diwise/graph-broker/internal/pkg/presentation/api/ngsi-ld/auth"
	ngsierrors "github.com/diwise/graph-broker/pkg/ngsild/errors"
	"github.com/diwise/graph-broker/pkg/ngsild/jsonld"
	"github.com/diwise/graph-broker/pkg/ngsild/types/entities"
)

var tracer = otel.Tracer("graph-broker/ngsi-ld")

const (
	TraceAttributeEntityID     string = "entity-id"
	TraceAttributeNGSILDTenant string = "ngsild-tenant"
)

func RegisterHandlers(ctx context.Context, r chi.Router, policies io.Reader, app cim.ContextInformationManager, resolver entities.TermResolver) error {

	authenticator, err := auth.NewAuthenticator(ctx, policies)
	if err != nil {
		return fmt.Errorf("failed to create api authenticator: %w", err)
	}

	r.Route("/ngsi-ld/v1", func(r chi.Router) {
		r.Use(
			Logger(logging.GetFromContext(ctx)),
			NGSIMiddleware(),
			RequiredContentTypes([]string{"application/json", "application/ld+json", "application/merge-patch+json"}),
		)

		r.Route("/entities", func(r chi.Router) {
			r.Get("/", NewQueryEntitiesHandler(app, authenticator, resolver))
			r.Post("/", NewCreateEntityHandler(app, authenticator, resolver))

			r.Route("/{entityId}", func(r chi.Router) {
				r.Get("/", NewRetrieveEntityHandler(app, authenticator, resolver))
				r.Put("/", NewReplaceEntityHandler(app, authenticator, resolver))
				r.Delete("/", NewDeleteEntityHandler(app, authenticator))

				r.Post("/attrs", NewAppendEntityAttributesHandler(app, authenticator, resolver))
				r.Patch("/attrs", NewUpdateEntityAttributesHandler(app, authenticator, resolver))
				r.Patch("/attrs/{attrId}", NewPartialAttributeUpdateHandler(app, authenticator, resolver))
				r.Delete("/attrs/{attrId}", NewDeleteEntityAttributeHandler(app, authenticator, resolver))
			})
		})

		r.Route("/temporal", func(r chi.Router) {
			r.Get("/entities", NewQueryTemporalEvolutionOfEntitiesHandler(app, authenticator, resolver))
			r.Get("/entities/{entityId}", NewRetrieveTemporalEvolutionOfAnEntityHandler(app, authenticator, resolver))
			r.Post("/entityOperations/query", NewQueryTemporalEntityOperationsHandler(app, authenticator, resolver))
		})

		r.Get("/types", NewRetrieveAvailableEntityTypesHandler(app, authenticator, resolver))
		r.Get("/jsonldContexts/{contextId}", NewServeContextHandler(logging.GetFromContext(ctx)))
	})

	return nil
}

type tenantContextKey struct {
	name string
}

var tenantCtxKey = &tenantContextKey{"ngsi-tenant"}

func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			_, ctx, _ = o11y.AddTraceIDToLoggerAndStoreInContext(
				trace.SpanFromContext(ctx),
				logger,
				ctx)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequiredContentTypes(validTypes []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			contentType := r.Header.Get("Content-Type")
			isValidContentType := true

			if len(contentType) > 0 {
				isValidContentType = false

				for _, t := range validTypes {
					if strings.HasPrefix(contentType, t) {
						isValidContentType = true
						break
					}
				}
			}

			if isValidContentType {
				next.ServeHTTP(w, r)
			} else {
				http.Error(w, "unsupported media type", http.StatusUnsupportedMediaType)
			}
		})
	}
}

// NGSIMiddleware packs any tenant id into the context. The tenant annotates
// logs and traces, all tenants share the same graph.
func NGSIMiddleware() func(http.Handler) http.Handler {
	tenantHeaderName := http.CanonicalHeaderKey("NGSILD-Tenant")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant := "default"

			tenantHeader := r.Header[tenantHeaderName]
			if len(tenantHeader) > 0 {
				tenant = tenantHeader[0]
			}

			if labeler, found := otelhttp.LabelerFromContext(r.Context()); found {
				labeler.Add(attribute.String(TraceAttributeNGSILDTenant, tenant))
			}

			ctx := context.WithValue(r.Context(), tenantCtxKey, tenant)

			ctx = logging.NewContextWithLogger(
				ctx,
				logging.GetFromContext(r.Context()),
				"tenant",
				tenant,
			)

			if tenant != "default" {
				w.Header().Add(tenantHeaderName, tenant)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetTenantFromContext extracts the tenant name, if any, from the provided context
func GetTenantFromContext(ctx context.Context) string {
	tenant, ok := ctx.Value(tenantCtxKey).(string)

	if !ok {
		return ""
	}

	return tenant
}

// authorize runs the api policies and stores the resolved subject in the
// logger of the returned context. Denied requests are answered with a 403.
func authorize(w http.ResponseWriter, r *http.Request, authenticator auth.Enticator, entityTypes []string) (context.Context, cim.Subject, bool) {
	ctx := r.Context()
	log := logging.GetFromContext(ctx)

	subject, err := authenticator.CheckAccess(ctx, r, GetTenantFromContext(ctx), entityTypes)
	if err != nil {
		log.Warn("access not granted", "err", err.Error())
		ngsierrors.ReportUnauthorizedRequest(w, "access not granted", traceID(ctx))
		return ctx, "", false
	}

	if subject != "" {
		ctx = logging.NewContextWithLogger(ctx, log, "subject", subject)
	}

	return ctx, cim.Subject(subject), true
}

// reportError logs and writes the problem report that corresponds to err
func reportError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	log := logging.GetFromContext(ctx)

	if ngsierrors.IsKnown(err) {
		log.Warn(msg, "err", err.Error())
	} else {
		log.Error(msg, "err", err.Error())
	}

	ngsierrors.ReportError(w, err, traceID(ctx))
}

func traceID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		return spanCtx.TraceID().String()
	}
	return ""
}

var linkPattern = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="?http://www\.w3\.org/ns/json-ld#context"?`)

// linkContexts returns the contexts referenced by the Link headers of a
// request, or the core context when there are none
func linkContexts(r *http.Request) []string {
	contexts := []string{}

	for _, header := range r.Header.Values("Link") {
		for _, link := range strings.Split(header, ",") {
			if m := linkPattern.FindStringSubmatch(link); m != nil {
				contexts = append(contexts, m[1])
			}
		}
	}

	if len(contexts) == 0 {
		contexts = append(contexts, jsonld.NgsiLdCoreContext)
	}

	return contexts
}

// contentTypeOf picks the response content type from the Accept header
func contentTypeOf(r *http.Request) string {
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/json") && !strings.Contains(accept, "application/ld+json") {
		return "application/json"
	}
	return "application/ld+json"
}

// withLinkHeader adds the context as a Link header to responses that are
// rendered as plain json
func withLinkHeader(w http.ResponseWriter, contentType string, contexts []string) {
	if contentType != "application/json" || len(contexts) == 0 {
		return
	}

	w.Header().Add("Link", fmt.Sprintf(`<%s>; rel="http://www.w3.org/ns/json-ld#context"; type="application/ld+json"`, contexts[0]))
}

func entityIDFromRequest(r *http.Request) string {
	return urlParam(r, "entityId")
}

func urlParam(r *http.Request, name string) string {
	value := chi.URLParam(r, name)
	if unescaped, err := url.PathUnescape(value); err == nil {
		return unescaped
	}
	return value
}

func hasOption(r *http.Request, option string) bool {
	for _, o := range strings.Split(r.URL.Query().Get("options"), ",") {
		if strings.TrimSpace(o) == option {
			return true
		}
	}
	return false
}
