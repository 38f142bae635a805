package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pv-frame/api/internal/platform/httpx"
)

const (
	apiBasePath           = "/api/v1"
	defaultRequestTimeout = 30 * time.Second
)

// RouteRegistrar adds one resource's routes to its sub-router.
type RouteRegistrar func(r chi.Router)

// Option customises NewRouter.
type Option func(*routerConfig)

type middlewareChain []func(http.Handler) http.Handler

func (c middlewareChain) apply(r chi.Router) {
	for _, mw := range c {
		if mw != nil {
			r.Use(mw)
		}
	}
}

type routerConfig struct {
	timeout time.Duration
	global  middlewareChain
	api     middlewareChain
	health  *HealthHandlers
	// groups is keyed by path under apiBasePath.
	groups map[string]RouteRegistrar
}

// groupOrder fixes the mount order of the resource groups.
var groupOrder = []string{"/catalog", "/configurations", "/quotes"}

// NewRouter builds the HTTP surface: probes at the root and the configurator resources under
// /api/v1. A resource without a registrar answers 501 so clients can tell it from a typo.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{timeout: defaultRequestTimeout, groups: map[string]RouteRegistrar{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	cfg.global.apply(r)
	r.Use(middleware.Timeout(cfg.timeout))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeRouteError(w, req, http.StatusNotFound, "route_not_found", "no route for "+req.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeRouteError(w, req, http.StatusMethodNotAllowed, "method_not_allowed", req.Method+" is not allowed on "+req.URL.Path)
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiBasePath, func(api chi.Router) {
		cfg.api.apply(api)
		for _, path := range groupOrder {
			register := cfg.groups[path]
			if register == nil {
				register = notImplemented(path[1:])
			}
			api.Route(path, register)
		}
	})
	return r
}

func writeRouteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}

func notImplemented(resource string) RouteRegistrar {
	return func(r chi.Router) {
		handler := func(w http.ResponseWriter, req *http.Request) {
			writeRouteError(w, req, http.StatusNotImplemented, "not_implemented", resource+" routes are not enabled")
		}
		r.HandleFunc("/", handler)
		r.HandleFunc("/*", handler)
	}
}

// WithMiddlewares adds middleware in front of every route, probes included.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.global = append(cfg.global, mw...) }
}

// WithAPIMiddlewares adds middleware for /api/v1 only.
func WithAPIMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.api = append(cfg.api, mw...) }
}

// WithRequestTimeout bounds every request. Non-positive values keep the default.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(cfg *routerConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithHealthHandlers sets the /healthz and /readyz handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithCatalogRoutes mounts the catalog under /api/v1/catalog.
func WithCatalogRoutes(reg RouteRegistrar) Option { return withGroup("/catalog", reg) }

// WithConfigurationRoutes mounts sessions under /api/v1/configurations.
func WithConfigurationRoutes(reg RouteRegistrar) Option { return withGroup("/configurations", reg) }

// WithQuoteRoutes mounts quote lookups under /api/v1/quotes.
func WithQuoteRoutes(reg RouteRegistrar) Option { return withGroup("/quotes", reg) }

func withGroup(path string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups[path] = reg }
}
