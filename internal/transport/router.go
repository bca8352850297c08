package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/axleworks/worksync/internal/config"
	"github.com/axleworks/worksync/internal/observability"
	"github.com/axleworks/worksync/internal/session"
)

// Dependencies bundles everything the router needs to serve requests.
type Dependencies struct {
	Config        *config.Config
	Logger        *zap.Logger
	Service       *session.Service
	Idempotency   session.IdempotencyStore
	Metrics       *observability.Metrics
	Authenticator *Authenticator
	Readiness     observability.ReadinessChecks
}

// NewRouter builds the HTTP route tree: public health and metrics endpoints,
// and the authenticated session API.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(Recovery)
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestLogging)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}
	r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))

	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	h := &SessionHandler{
		Service:        deps.Service,
		Idempotency:    deps.Idempotency,
		IdempotencyTTL: deps.Config.Idempotency.DefaultTTL,
		Metrics:        deps.Metrics,
		Logger:         deps.Logger,
	}

	r.Group(func(r chi.Router) {
		r.Use(deps.Authenticator.Middleware)
		r.Use(BuildRequestContext)

		r.Post("/sessions", h.Create)
		r.Get("/sessions/{sessionId}", h.Get)
		r.Patch("/sessions", h.UpdateProgress)
		r.Put("/sessions", h.Complete)
		r.Post("/sessions/sync", h.Sync)
	})

	return r
}
