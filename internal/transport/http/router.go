// Package httptransport is the thin HTTP layer: it decodes requests,
// delegates to the domain services, and translates errors. No business logic
// lives here.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gatepass/internal/platform/middleware"
	"gatepass/pkg/httputil"
)

// RouterConfig carries the transport-level wiring.
type RouterConfig struct {
	JWTSigningKey string
	AdminRole     string
}

// NewRouter assembles the full route table with the shared middleware chain.
func NewRouter(cfg RouterConfig, passes *PassHandler, sensors *SensorHandler, crowd *CrowdHandler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	passes.Register(r)
	sensors.Register(r)
	crowd.Register(r)

	r.Group(func(admin chi.Router) {
		admin.Use(middleware.RequireStaff([]byte(cfg.JWTSigningKey), cfg.AdminRole, logger))
		passes.RegisterAdmin(admin)
	})

	return r
}
