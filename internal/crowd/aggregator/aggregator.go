// Package aggregator turns the sensor reading stream into per-zone crowd
// aggregates: density, flow, short-horizon prediction, and bottleneck risk.
// It owns all zone state; readers get copies through Snapshot.
package aggregator

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"gatepass/internal/domain"
	"gatepass/pkg/clock"
)

// flowAsymmetry biases the out classification: outbound flow must clearly
// dominate before a zone is called draining, so near-equal rates do not
// flicker between in and out.
const flowAsymmetry = 1.2

// tagRetention bounds how long a tag sighting participates in the dwell-time
// estimate after its last observation.
const tagRetention = 30 * time.Minute

// Config tunes the aggregation.
type Config struct {
	// Window is the rolling window width, keyed by reading timestamp.
	Window time.Duration
	// DefaultCapacity is the occupancy mapped to 100% density for zones
	// without an explicit entry in ZoneCapacities.
	DefaultCapacity int
	ZoneCapacities  map[string]int
	// RiskThreshold is the density percentage above which bottleneck risk
	// starts rising.
	RiskThreshold float64
	// HealthThreshold is the minimum online sensor fraction below which the
	// aggregate is flagged reduced confidence.
	HealthThreshold float64
}

// Metrics holds the aggregation instruments.
type Metrics struct {
	Ticks        prometheus.Counter
	LateReadings prometheus.Counter
	ZoneDensity  *prometheus.GaugeVec
	ZoneRisk     *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatepass_crowd_ticks_total",
			Help: "Aggregation ticks executed",
		}),
		LateReadings: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatepass_crowd_late_readings_total",
			Help: "Readings that arrived after their window closed and were folded forward",
		}),
		ZoneDensity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gatepass_zone_density_percent",
			Help: "Current density per zone",
		}, []string{"zone"}),
		ZoneRisk: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gatepass_zone_bottleneck_risk",
			Help: "Current bottleneck risk per zone",
		}, []string{"zone"}),
	}
}

type bufferedReading struct {
	reading   domain.SensorReading
	arrivedAt time.Time
}

type zoneState struct {
	buffer   []bufferedReading
	lastTick time.Time

	aggregate domain.ZoneAggregate
	// densityHistory holds the two previous window densities for the trend
	// extrapolation: [0] is older, [1] is the most recent completed window.
	densityHistory []float64
	// imbalanceTicks counts consecutive ticks with entry outpacing exit while
	// density sits above the risk threshold.
	imbalanceTicks int

	tagFirstSeen map[string]time.Time
	tagLastSeen  map[string]time.Time
}

// Aggregator consumes readings and produces ZoneAggregates on each tick.
// Record is safe to call concurrently with Tick.
type Aggregator struct {
	cfg     Config
	clock   clock.Clock
	logger  *slog.Logger
	metrics *Metrics

	mu    sync.RWMutex
	zones map[string]*zoneState
}

func New(cfg Config, clk clock.Clock, logger *slog.Logger, m *Metrics) *Aggregator {
	return &Aggregator{
		cfg:     cfg,
		clock:   clk,
		logger:  logger,
		metrics: m,
		zones:   make(map[string]*zoneState),
	}
}

// Record buffers one normalized reading for its zone. Implements the ingest
// sink; aggregation happens on the next tick, never inline.
func (a *Aggregator) Record(reading domain.SensorReading) {
	a.mu.Lock()
	defer a.mu.Unlock()
	zone := a.zone(reading.ZoneID)
	zone.buffer = append(zone.buffer, bufferedReading{
		reading:   reading,
		arrivedAt: a.clock.Now(),
	})
}

func (a *Aggregator) zone(zoneID string) *zoneState {
	if z, ok := a.zones[zoneID]; ok {
		return z
	}
	z := &zoneState{
		aggregate:    domain.ZoneAggregate{ZoneID: zoneID, FlowDirection: domain.ZoneFlowStable, Confidence: domain.ConfidenceNormal},
		tagFirstSeen: make(map[string]time.Time),
		tagLastSeen:  make(map[string]time.Time),
	}
	a.zones[zoneID] = z
	return z
}

// Tick recomputes every zone aggregate against the window ending at now.
// Satisfies the scheduler job signature.
func (a *Aggregator) Tick(ctx context.Context, now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for zoneID, zone := range a.zones {
		a.tickZone(zoneID, zone, now)
	}
	a.metrics.Ticks.Inc()
	return ctx.Err()
}

func (a *Aggregator) tickZone(zoneID string, zone *zoneState, now time.Time) {
	windowStart := now.Add(-a.cfg.Window)

	// Windowing is by reading timestamp, not arrival order. A reading that
	// shows up after its window has closed is folded into the current window
	// rather than dropped: clamp its timestamp to the window start and count
	// it.
	kept := zone.buffer[:0]
	late := 0
	for _, entry := range zone.buffer {
		switch {
		case !entry.reading.CapturedAt.Before(windowStart):
			kept = append(kept, entry)
		case entry.arrivedAt.After(zone.lastTick):
			entry.reading.CapturedAt = windowStart
			kept = append(kept, entry)
			late++
		}
	}
	zone.buffer = kept
	zone.lastTick = now
	if late > 0 {
		a.metrics.LateReadings.Add(float64(late))
		a.logger.Debug("late readings folded forward", "zone", zoneID, "count", late)
	}

	if len(zone.buffer) == 0 {
		// No data at all this window: hold the last known density instead of
		// reporting the zone empty, and flag the estimate.
		zone.aggregate.PredictedDensity = zone.aggregate.CurrentDensity
		zone.aggregate.FlowDirection = domain.ZoneFlowStable
		zone.aggregate.EntryRate = 0
		zone.aggregate.ExitRate = 0
		zone.aggregate.BottleneckRisk = a.risk(zone.aggregate.CurrentDensity, 0, 0, zone)
		zone.aggregate.Confidence = domain.ConfidenceReduced
		zone.aggregate.LastUpdated = now
		a.export(zoneID, zone.aggregate)
		return
	}

	var (
		occupancy     int
		entryCount    int
		exitCount     int
		sensorLatest  = make(map[string]domain.SensorReading)
		densityWeight = a.capacity(zoneID)
	)
	for _, entry := range zone.buffer {
		r := entry.reading
		occupancy += r.Occupants()
		if r.Type == domain.SensorPeopleCounter {
			switch r.Direction {
			case domain.FlowIn:
				entryCount += r.Count
			case domain.FlowOut:
				exitCount += r.Count
			}
		}
		if r.TagID != "" {
			if _, seen := zone.tagFirstSeen[r.TagID]; !seen || r.CapturedAt.Before(zone.tagFirstSeen[r.TagID]) {
				zone.tagFirstSeen[r.TagID] = r.CapturedAt
			}
			if r.CapturedAt.After(zone.tagLastSeen[r.TagID]) {
				zone.tagLastSeen[r.TagID] = r.CapturedAt
			}
		}
		if latest, ok := sensorLatest[r.SensorID]; !ok || r.CapturedAt.After(latest.CapturedAt) {
			sensorLatest[r.SensorID] = r
		}
	}

	minutes := a.cfg.Window.Minutes()
	density := clamp(0, 100, float64(occupancy)/float64(densityWeight)*100)
	entryRate := float64(entryCount) / minutes
	exitRate := float64(exitCount) / minutes

	online := 0
	for _, r := range sensorLatest {
		if r.Connectivity == domain.SensorOnline {
			online++
		}
	}
	healthy := float64(online)/float64(len(sensorLatest)) >= a.cfg.HealthThreshold

	agg := &zone.aggregate
	agg.CurrentDensity = density
	agg.EntryRate = entryRate
	agg.ExitRate = exitRate
	agg.FlowDirection = flowDirection(entryRate, exitRate)
	agg.PredictedDensity = a.predict(density, zone.densityHistory)
	agg.BottleneckRisk = a.risk(density, entryRate, exitRate, zone)
	agg.AvgDwellTime = zone.dwellMinutes(now)
	agg.LastUpdated = now
	if healthy {
		agg.Confidence = domain.ConfidenceNormal
	} else {
		agg.Confidence = domain.ConfidenceReduced
	}

	zone.densityHistory = append(zone.densityHistory, density)
	if len(zone.densityHistory) > 2 {
		zone.densityHistory = zone.densityHistory[len(zone.densityHistory)-2:]
	}

	a.export(zoneID, *agg)
}

func (a *Aggregator) capacity(zoneID string) int {
	if c, ok := a.cfg.ZoneCapacities[zoneID]; ok && c > 0 {
		return c
	}
	return a.cfg.DefaultCapacity
}

func flowDirection(entryRate, exitRate float64) domain.ZoneFlow {
	switch {
	case entryRate > exitRate:
		return domain.ZoneFlowIn
	case exitRate > flowAsymmetry*entryRate && exitRate > 0:
		return domain.ZoneFlowOut
	default:
		return domain.ZoneFlowStable
	}
}

// predict extrapolates one window ahead from the mean signed trend of the two
// previous windows.
func (a *Aggregator) predict(current float64, history []float64) float64 {
	if len(history) == 0 {
		return current
	}
	trend := current - history[len(history)-1]
	if len(history) == 2 {
		trend = (trend + (history[1] - history[0])) / 2
	}
	return clamp(0, 100, current+trend)
}

// risk is 0 below the density threshold; above it, it rises linearly toward 1
// at 100% density, with a bounded boost once entry has outpaced exit for at
// least two consecutive ticks while the zone is already hot.
func (a *Aggregator) risk(density, entryRate, exitRate float64, zone *zoneState) float64 {
	threshold := a.cfg.RiskThreshold
	if density <= threshold {
		zone.imbalanceTicks = 0
		return 0
	}

	if entryRate > exitRate {
		zone.imbalanceTicks++
	} else {
		zone.imbalanceTicks = 0
	}

	base := (density - threshold) / (100 - threshold)
	if zone.imbalanceTicks >= 2 && entryRate > 0 {
		base += 0.25 * (entryRate - exitRate) / entryRate
	}
	return clamp(0, 1, base)
}

func (z *zoneState) dwellMinutes(now time.Time) float64 {
	var total time.Duration
	samples := 0
	for tag, last := range z.tagLastSeen {
		if now.Sub(last) > tagRetention {
			delete(z.tagLastSeen, tag)
			delete(z.tagFirstSeen, tag)
			continue
		}
		if dwell := last.Sub(z.tagFirstSeen[tag]); dwell > 0 {
			total += dwell
			samples++
		}
	}
	if samples == 0 {
		return 0
	}
	return total.Minutes() / float64(samples)
}

func (a *Aggregator) export(zoneID string, agg domain.ZoneAggregate) {
	a.metrics.ZoneDensity.WithLabelValues(zoneID).Set(agg.CurrentDensity)
	a.metrics.ZoneRisk.WithLabelValues(zoneID).Set(agg.BottleneckRisk)
}

// Snapshot returns a copy of one zone's aggregate.
func (a *Aggregator) Snapshot(zoneID string) (domain.ZoneAggregate, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	zone, ok := a.zones[zoneID]
	if !ok {
		return domain.ZoneAggregate{}, false
	}
	return zone.aggregate, true
}

// Snapshots returns copies of all zone aggregates, sorted by zone ID.
func (a *Aggregator) Snapshots() []domain.ZoneAggregate {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.ZoneAggregate, 0, len(a.zones))
	for _, zone := range a.zones {
		out = append(out, zone.aggregate)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ZoneID < out[j].ZoneID })
	return out
}

func clamp(lo, hi, v float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
