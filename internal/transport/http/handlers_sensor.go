package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gatepass/internal/platform/middleware"
	"gatepass/internal/sensor/ingest"
	"gatepass/pkg/httputil"
)

// SensorHandler exposes HTTP ingest alongside the Kafka path and the sensor
// inventory read model.
type SensorHandler struct {
	gateway *ingest.Gateway
	logger  *slog.Logger
}

func NewSensorHandler(gateway *ingest.Gateway, logger *slog.Logger) *SensorHandler {
	return &SensorHandler{gateway: gateway, logger: logger}
}

func (h *SensorHandler) Register(r chi.Router) {
	r.Post("/sensors/readings", h.handleIngest)
	r.Get("/sensors", h.handleList)
}

func (h *SensorHandler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw, err := httputil.DecodeJSON[ingest.RawReading](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	reading, err := h.gateway.Ingest(ctx, raw)
	if err != nil {
		h.logger.WarnContext(ctx, "reading rejected",
			"request_id", middleware.GetRequestID(ctx),
			"sensor_id", raw.SensorID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, reading)
}

func (h *SensorHandler) handleList(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.gateway.Sensors())
}
