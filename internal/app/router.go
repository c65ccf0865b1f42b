package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arkline-erp/arkline/internal/delivery"
	"github.com/arkline-erp/arkline/internal/inventory"
	"github.com/arkline-erp/arkline/internal/masterdata/items"
	"github.com/arkline-erp/arkline/internal/masterdata/suppliers"
	"github.com/arkline-erp/arkline/internal/platform/httpx"
	"github.com/arkline-erp/arkline/internal/procurement"
	"github.com/arkline-erp/arkline/internal/sales/proforma"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	ProcurementHandler *procurement.Handler
	InventoryHandler   *inventory.Handler
	DeliveryHandler    *delivery.Handler
	ProformaHandler    *proforma.Handler
	ItemsHandler       *items.Handler
	SuppliersHandler   *suppliers.Handler
}

// NewRouter constructs the chi.Router with Arkline defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(WriteLimiter())
		r.Route("/procurement", func(r chi.Router) {
			params.ProcurementHandler.MountRoutes(r)
		})
		r.Route("/inventory", func(r chi.Router) {
			params.InventoryHandler.MountRoutes(r)
		})
		r.Route("/delivery", func(r chi.Router) {
			params.DeliveryHandler.MountRoutes(r)
		})
		r.Route("/sales", func(r chi.Router) {
			params.ProformaHandler.MountRoutes(r)
		})
		r.Route("/masterdata", func(r chi.Router) {
			params.ItemsHandler.MountRoutes(r)
			params.SuppliersHandler.MountRoutes(r)
		})
	})

	return r
}
