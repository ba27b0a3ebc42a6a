package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/jemeelsanni/premium-g-backend-sub001/internal/audit/http"
	"github.com/jemeelsanni/premium-g-backend-sub001/internal/masterdata/products"
	"github.com/jemeelsanni/premium-g-backend-sub001/internal/observability"
	"github.com/jemeelsanni/premium-g-backend-sub001/internal/warehouse"
	"github.com/jemeelsanni/premium-g-backend-sub001/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	WarehouseHandler *warehouse.Handler
	ProductsHandler  *products.Handler
	AuditHandler     *audithttp.Handler
	JobsHandler      *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}

	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.WarehouseHandler != nil {
		r.Route("/api/warehouse", params.WarehouseHandler.MountRoutes)
	}
	if params.ProductsHandler != nil {
		r.Route("/api/products", params.ProductsHandler.MountRoutes)
	}
	if params.AuditHandler != nil {
		r.Route("/api/audit", params.AuditHandler.MountRoutes)
	}
	if params.JobsHandler != nil {
		r.Route("/api/jobs", params.JobsHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
