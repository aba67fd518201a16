package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gatepass/internal/domain"
	"gatepass/pkg/domerr"
	"gatepass/pkg/httputil"
)

// ZoneSource provides zone aggregate snapshots.
type ZoneSource interface {
	Snapshot(zoneID string) (domain.ZoneAggregate, bool)
	Snapshots() []domain.ZoneAggregate
}

// AlertSource provides the alert read model.
type AlertSource interface {
	Open(ctx context.Context) ([]domain.Alert, error)
	RecentlyResolved() []domain.AlertEvent
}

// CrowdHandler exposes the crowd and alert read models.
type CrowdHandler struct {
	zones  ZoneSource
	alerts AlertSource
	logger *slog.Logger
}

func NewCrowdHandler(zones ZoneSource, alerts AlertSource, logger *slog.Logger) *CrowdHandler {
	return &CrowdHandler{zones: zones, alerts: alerts, logger: logger}
}

func (h *CrowdHandler) Register(r chi.Router) {
	r.Get("/zones", h.handleZones)
	r.Get("/zones/{zoneID}", h.handleZone)
	r.Get("/alerts", h.handleAlerts)
}

func (h *CrowdHandler) handleZones(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.zones.Snapshots())
}

func (h *CrowdHandler) handleZone(w http.ResponseWriter, r *http.Request) {
	zoneID := chi.URLParam(r, "zoneID")
	snapshot, ok := h.zones.Snapshot(zoneID)
	if !ok {
		httputil.WriteError(w, domerr.New(domerr.CodeNotFound, "no readings recorded for that zone"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snapshot)
}

type alertsResponse struct {
	Open             []domain.Alert      `json:"open"`
	RecentlyResolved []domain.AlertEvent `json:"recently_resolved"`
}

func (h *CrowdHandler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	open, err := h.alerts.Open(r.Context())
	if err != nil {
		httputil.WriteError(w, domerr.Wrap(err, domerr.CodeUnavailable, "alert store unreachable"))
		return
	}
	if open == nil {
		open = []domain.Alert{}
	}
	resolved := h.alerts.RecentlyResolved()
	if resolved == nil {
		resolved = []domain.AlertEvent{}
	}
	httputil.WriteJSON(w, http.StatusOK, alertsResponse{Open: open, RecentlyResolved: resolved})
}
