// Package httptransport assembles the HTTP surface: shared middleware, the
// public emergency routes, account routes and administrative routes.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	platformmetrics "lifetag/internal/platform/metrics"
	platformmw "lifetag/internal/platform/middleware"
	"lifetag/pkg/platform/httputil"
	"lifetag/pkg/platform/middleware/admin"
	authmw "lifetag/pkg/platform/middleware/auth"
	"lifetag/pkg/platform/middleware/metadata"
	request "lifetag/pkg/platform/middleware/request"
	"lifetag/pkg/platform/middleware/requesttime"
)

// RouteRegistrar is implemented by every domain handler.
type RouteRegistrar interface {
	Register(r chi.Router)
}

// AdminRegistrar mounts system-only routes.
type AdminRegistrar interface {
	RegisterAdmin(r chi.Router)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps is everything the router mounts.
type Deps struct {
	Logger           *slog.Logger
	Metrics          *platformmetrics.Metrics
	Gatherer         prometheus.Gatherer
	AccountValidator authmw.AccountValidator
	AdminToken       string
	RequestTimeout   time.Duration

	Public  []RouteRegistrar
	Account []RouteRegistrar
	Admin   []AdminRegistrar
	Health  map[string]HealthCheck
}

// NewRouter wires shared middleware and mounts every route group.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(platformmw.RequestLogger(d.Logger))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}
	if d.RequestTimeout > 0 {
		r.Use(chimw.Timeout(d.RequestTimeout))
	}

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", healthHandler(d.Health))

	for _, h := range d.Public {
		h.Register(r)
	}

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAccount(d.AccountValidator, d.Logger))
		for _, h := range d.Account {
			h.Register(r)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(d.AdminToken, d.Logger))
		for _, h := range d.Admin {
			h.RegisterAdmin(r)
		}
	})
	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		out := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				out[name] = "down"
				continue
			}
			out[name] = "ok"
		}
		httputil.WriteJSON(w, status, map[string]any{"checks": out})
	}
}
