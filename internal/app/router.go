package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samudra-erp/samudra-erp/internal/adjustment"
	"github.com/samudra-erp/samudra-erp/internal/inventory"
	"github.com/samudra-erp/samudra-erp/internal/observability"
	"github.com/samudra-erp/samudra-erp/internal/opname"
	"github.com/samudra-erp/samudra-erp/internal/stockview"
	"github.com/samudra-erp/samudra-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	InventoryHandler  *inventory.Handler
	AdjustmentHandler *adjustment.Handler
	OpnameHandler     *opname.Handler
	StockViewHandler  *stockview.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
	Pool              *pgxpool.Pool
}

// NewRouter constructs the chi.Router with Samudra defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}
	if params.Metrics != nil {
		r.Use(params.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(req.Context()); err != nil {
				params.Logger.Error("health check db ping", slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/inventory", func(r chi.Router) {
		if params.StockViewHandler != nil {
			params.StockViewHandler.MountRoutes(r)
		}
		if params.InventoryHandler != nil {
			params.InventoryHandler.MountRoutes(r)
		}
		if params.AdjustmentHandler != nil {
			params.AdjustmentHandler.MountRoutes(r)
		}
		if params.OpnameHandler != nil {
			params.OpnameHandler.MountRoutes(r)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			params.JobHandler.MountRoutes(r)
		})
	}

	return r
}
