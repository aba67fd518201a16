// Package alert evaluates crowd state against thresholds on its own cadence
// and manages the open/resolved alert lifecycle with (type, zone) dedup.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"gatepass/internal/domain"
)

// SnapshotSource provides the current zone aggregates. The crowd aggregator
// implements it.
type SnapshotSource interface {
	Snapshots() []domain.ZoneAggregate
}

// OccupancySource provides the venue-wide headcount. The pass registry
// implements it.
type OccupancySource interface {
	ActiveOccupancy(ctx context.Context) (int, error)
}

// venueZone is the pseudo zone for venue-wide alerts.
const venueZone = "venue"

// Config holds the evaluation thresholds.
type Config struct {
	HighDensity     float64
	CriticalDensity float64
	BottleneckRisk  float64
	VenueCapacity   int
	// ResolvedRetention bounds how long resolved alerts stay visible on the
	// read model.
	ResolvedRetention time.Duration
}

// Metrics holds the alert engine instruments.
type Metrics struct {
	Emitted    *prometheus.CounterVec
	Resolved   *prometheus.CounterVec
	EvalErrors prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Emitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatepass_alerts_emitted_total",
			Help: "Alerts opened by type and severity",
		}, []string{"type", "severity"}),
		Resolved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatepass_alerts_resolved_total",
			Help: "Alerts resolved by type",
		}, []string{"type"}),
		EvalErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatepass_alert_eval_errors_total",
			Help: "Zone evaluations that failed",
		}),
	}
}

// Engine runs the rules. One Evaluate call per scheduler tick.
type Engine struct {
	cfg       Config
	zones     SnapshotSource
	occupancy OccupancySource
	store     OpenAlertStore
	sinks     []Sink
	logger    *slog.Logger
	metrics   *Metrics

	mu       sync.Mutex
	resolved []domain.AlertEvent
}

func NewEngine(
	cfg Config,
	zones SnapshotSource,
	occupancy OccupancySource,
	store OpenAlertStore,
	logger *slog.Logger,
	m *Metrics,
	sinks ...Sink,
) *Engine {
	return &Engine{
		cfg:       cfg,
		zones:     zones,
		occupancy: occupancy,
		store:     store,
		sinks:     sinks,
		logger:    logger,
		metrics:   m,
	}
}

// Evaluate runs every rule against the current state. A failure in one zone
// is recorded and evaluation continues with the rest; the joined error goes
// back to the scheduler for logging. Satisfies the scheduler job signature.
func (e *Engine) Evaluate(ctx context.Context, now time.Time) error {
	var errs []error
	for _, zone := range e.zones.Snapshots() {
		if err := e.evaluateZone(ctx, zone, now); err != nil {
			e.metrics.EvalErrors.Inc()
			e.logger.ErrorContext(ctx, "zone evaluation failed", "zone_id", zone.ZoneID, "error", err)
			errs = append(errs, fmt.Errorf("zone %s: %w", zone.ZoneID, err))
		}
	}
	if err := e.evaluateVenue(ctx, now); err != nil {
		e.metrics.EvalErrors.Inc()
		e.logger.ErrorContext(ctx, "venue evaluation failed", "error", err)
		errs = append(errs, fmt.Errorf("venue: %w", err))
	}
	e.pruneResolved(now)
	return errors.Join(errs...)
}

func (e *Engine) evaluateZone(ctx context.Context, zone domain.ZoneAggregate, now time.Time) error {
	conditions := []struct {
		active   bool
		typ      domain.AlertType
		severity domain.AlertSeverity
		message  string
	}{
		{
			active:   zone.CurrentDensity > e.cfg.CriticalDensity,
			typ:      domain.AlertCriticalDensity,
			severity: domain.SeverityCritical,
			message:  fmt.Sprintf("density %.1f%% exceeds critical threshold %.1f%%", zone.CurrentDensity, e.cfg.CriticalDensity),
		},
		{
			active:   zone.CurrentDensity > e.cfg.HighDensity,
			typ:      domain.AlertHighDensity,
			severity: domain.SeverityHigh,
			message:  fmt.Sprintf("density %.1f%% exceeds high threshold %.1f%%", zone.CurrentDensity, e.cfg.HighDensity),
		},
		{
			active:   zone.BottleneckRisk > e.cfg.BottleneckRisk,
			typ:      domain.AlertBottleneck,
			severity: domain.SeverityHigh,
			message:  fmt.Sprintf("bottleneck risk %.2f exceeds threshold %.2f", zone.BottleneckRisk, e.cfg.BottleneckRisk),
		},
	}

	var errs []error
	for _, c := range conditions {
		if err := e.transition(ctx, c.active, c.typ, c.severity, zone.ZoneID, c.message, now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) evaluateVenue(ctx context.Context, now time.Time) error {
	if e.occupancy == nil || e.cfg.VenueCapacity <= 0 {
		return nil
	}
	occupancy, err := e.occupancy.ActiveOccupancy(ctx)
	if err != nil {
		return fmt.Errorf("load occupancy: %w", err)
	}

	severity := domain.SeverityMedium
	if occupancy >= e.cfg.VenueCapacity {
		severity = domain.SeverityCritical
	}
	active := float64(occupancy) >= 0.9*float64(e.cfg.VenueCapacity)
	message := fmt.Sprintf("venue occupancy %d against capacity %d", occupancy, e.cfg.VenueCapacity)
	return e.transition(ctx, active, domain.AlertVenueCapacity, severity, venueZone, message, now)
}

// transition applies one rule outcome to the open-alert store: opening emits
// an event once, staying open emits nothing, dropping below threshold closes
// the open alert and emits its resolved event, never a duplicate.
func (e *Engine) transition(ctx context.Context, active bool, typ domain.AlertType, severity domain.AlertSeverity, zoneID, message string, now time.Time) error {
	dedupKey := domain.AlertDedupKey(typ, zoneID)

	if active {
		candidate := domain.Alert{
			ID:        uuid.NewString(),
			Type:      typ,
			Severity:  severity,
			ZoneID:    zoneID,
			Message:   message,
			EmittedAt: now,
			DedupKey:  dedupKey,
		}
		opened, err := e.store.TryOpen(ctx, candidate)
		if err != nil {
			return err
		}
		if !opened {
			return nil
		}
		e.metrics.Emitted.WithLabelValues(string(typ), string(severity)).Inc()
		e.publish(ctx, domain.AlertEvent{Alert: candidate, OccurredAt: now})
		return nil
	}

	open, err := e.store.Resolve(ctx, dedupKey)
	if err != nil {
		return err
	}
	if open == nil {
		return nil
	}
	e.metrics.Resolved.WithLabelValues(string(typ)).Inc()
	event := domain.AlertEvent{Alert: *open, Resolved: true, OccurredAt: now}
	e.mu.Lock()
	e.resolved = append(e.resolved, event)
	e.mu.Unlock()
	e.publish(ctx, event)
	return nil
}

func (e *Engine) publish(ctx context.Context, event domain.AlertEvent) {
	for _, sink := range e.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			e.logger.ErrorContext(ctx, "alert sink failed",
				"alert_id", event.Alert.ID,
				"resolved", event.Resolved,
				"error", err,
			)
		}
	}
}

func (e *Engine) pruneResolved(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cutoff := now.Add(-e.cfg.ResolvedRetention)
	kept := e.resolved[:0]
	for _, event := range e.resolved {
		if event.OccurredAt.After(cutoff) {
			kept = append(kept, event)
		}
	}
	e.resolved = kept
}

// Open returns the currently open alerts.
func (e *Engine) Open(ctx context.Context) ([]domain.Alert, error) {
	return e.store.ListOpen(ctx)
}

// RecentlyResolved returns resolved alert events still inside the retention
// window, newest last.
func (e *Engine) RecentlyResolved() []domain.AlertEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.AlertEvent(nil), e.resolved...)
}
