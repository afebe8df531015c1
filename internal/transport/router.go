package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/listctl/internal/config"
	"github.com/pitabwire/listctl/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Sessions     *Sessions
	Authenticate func(http.Handler) http.Handler
	Checks       map[string]observability.HealthChecker
	Logger       *zap.Logger
	Metrics      *observability.Metrics
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)

	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Checks))
	if deps.Config.Observability.Metrics.Enabled {
		r.Handle(deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}
	sessions := deps.Sessions

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Get("/lists", handleListNames(sessions))
		r.Post("/lists", handleCreateList(sessions))
		r.Route("/lists/{listId}", func(r chi.Router) {
			r.Get("/", sessionHandler(sessions, handleGetList))
			r.Delete("/", handleDeleteList(sessions))
			r.Put("/filters", sessionHandler(sessions, handleSetFilters))
			r.Put("/filters/{key}", sessionHandler(sessions, handleShowFilter))
			r.Delete("/filters/{key}", sessionHandler(sessions, handleHideFilter))
			r.Put("/sort", sessionHandler(sessions, handleSetSort))
			r.Post("/sort/toggle", sessionHandler(sessions, handleToggleSort))
			r.Put("/page", sessionHandler(sessions, handleSetPage))
			r.Post("/next", sessionHandler(sessions, handleFetchNext))
			r.Post("/previous", sessionHandler(sessions, handleFetchPrevious))
			r.Post("/refetch", sessionHandler(sessions, handleRefetch))
			r.Get("/fields", sessionHandler(sessions, handleFields))
			r.Get("/queries", sessionHandler(sessions, handleListQueries))
			r.Put("/queries/{label}", sessionHandler(sessions, handleSaveQuery))
			r.Post("/queries/{label}/apply", sessionHandler(sessions, handleApplyQuery))
			r.Delete("/queries/{label}", sessionHandler(sessions, handleDeleteQuery))
		})
	})

	return r
}
