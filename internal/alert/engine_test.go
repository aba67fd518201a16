package alert

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatepass/internal/domain"
)

type stubZones struct {
	mu    sync.Mutex
	snaps []domain.ZoneAggregate
}

func (s *stubZones) Snapshots() []domain.ZoneAggregate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ZoneAggregate(nil), s.snaps...)
}

func (s *stubZones) set(snaps ...domain.ZoneAggregate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = snaps
}

type stubOccupancy struct {
	count int
	err   error
}

func (s *stubOccupancy) ActiveOccupancy(context.Context) (int, error) {
	return s.count, s.err
}

type captureSink struct {
	mu     sync.Mutex
	events []domain.AlertEvent
}

func (s *captureSink) Publish(_ context.Context, event domain.AlertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) all() []domain.AlertEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AlertEvent(nil), s.events...)
}

var evalStart = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, occupancy OccupancySource) (*Engine, *stubZones, *captureSink) {
	t.Helper()
	zones := &stubZones{}
	sink := &captureSink{}
	engine := NewEngine(Config{
		HighDensity:       75,
		CriticalDensity:   90,
		BottleneckRisk:    0.7,
		VenueCapacity:     1000,
		ResolvedRetention: time.Hour,
	}, zones, occupancy, NewMemoryOpenAlertStore(), slog.New(slog.DiscardHandler), NewMetrics(prometheus.NewRegistry()), sink)
	return engine, zones, sink
}

func zoneWith(zoneID string, density, risk float64) domain.ZoneAggregate {
	return domain.ZoneAggregate{ZoneID: zoneID, CurrentDensity: density, BottleneckRisk: risk}
}

func eventsOfType(events []domain.AlertEvent, typ domain.AlertType) []domain.AlertEvent {
	var out []domain.AlertEvent
	for _, e := range events {
		if e.Alert.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func TestCriticalDensityLifecycle(t *testing.T) {
	engine, zones, sink := newTestEngine(t, &stubOccupancy{})
	ctx := context.Background()

	// Density above critical: exactly one open critical alert, no matter how
	// many ticks see the same condition.
	zones.set(zoneWith("zone-a", 95, 0))
	require.NoError(t, engine.Evaluate(ctx, evalStart))
	require.NoError(t, engine.Evaluate(ctx, evalStart.Add(15*time.Second)))
	require.NoError(t, engine.Evaluate(ctx, evalStart.Add(30*time.Second)))

	critical := eventsOfType(sink.all(), domain.AlertCriticalDensity)
	require.Len(t, critical, 1)
	assert.Equal(t, domain.SeverityCritical, critical[0].Alert.Severity)
	assert.False(t, critical[0].Resolved)

	open, err := engine.Open(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2, "critical and high are independent rules")

	// Dropping below threshold closes the open alert without emitting a
	// duplicate.
	zones.set(zoneWith("zone-a", 40, 0))
	require.NoError(t, engine.Evaluate(ctx, evalStart.Add(time.Minute)))
	require.NoError(t, engine.Evaluate(ctx, evalStart.Add(2*time.Minute)))

	critical = eventsOfType(sink.all(), domain.AlertCriticalDensity)
	require.Len(t, critical, 2)
	assert.True(t, critical[1].Resolved)
	assert.Equal(t, critical[0].Alert.ID, critical[1].Alert.ID, "resolved event carries the original alert")

	open, err = engine.Open(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestHighDensityAlert(t *testing.T) {
	engine, zones, sink := newTestEngine(t, &stubOccupancy{})
	ctx := context.Background()

	zones.set(zoneWith("zone-a", 80, 0))
	require.NoError(t, engine.Evaluate(ctx, evalStart))

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.AlertHighDensity, events[0].Alert.Type)
	assert.Equal(t, domain.SeverityHigh, events[0].Alert.Severity)
}

func TestDensityAtThresholdDoesNotAlert(t *testing.T) {
	engine, zones, sink := newTestEngine(t, &stubOccupancy{})

	zones.set(zoneWith("zone-a", 75, 0))
	require.NoError(t, engine.Evaluate(context.Background(), evalStart))
	assert.Empty(t, sink.all(), "threshold is strictly greater-than")
}

func TestBottleneckAlert(t *testing.T) {
	engine, zones, sink := newTestEngine(t, &stubOccupancy{})
	ctx := context.Background()

	zones.set(zoneWith("zone-a", 50, 0.85))
	require.NoError(t, engine.Evaluate(ctx, evalStart))

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.AlertBottleneck, events[0].Alert.Type)
	assert.Equal(t, domain.SeverityHigh, events[0].Alert.Severity)
	assert.Equal(t, "bottleneck:zone-a", events[0].Alert.DedupKey)
}

func TestAlertsArePerZone(t *testing.T) {
	engine, zones, sink := newTestEngine(t, &stubOccupancy{})
	ctx := context.Background()

	zones.set(zoneWith("zone-a", 95, 0), zoneWith("zone-b", 95, 0))
	require.NoError(t, engine.Evaluate(ctx, evalStart))

	critical := eventsOfType(sink.all(), domain.AlertCriticalDensity)
	require.Len(t, critical, 2)
	assert.NotEqual(t, critical[0].Alert.ZoneID, critical[1].Alert.ZoneID)
}

func TestVenueCapacityRule(t *testing.T) {
	t.Run("over capacity opens a critical alert", func(t *testing.T) {
		engine, _, sink := newTestEngine(t, &stubOccupancy{count: 1200})
		require.NoError(t, engine.Evaluate(context.Background(), evalStart))

		events := eventsOfType(sink.all(), domain.AlertVenueCapacity)
		require.Len(t, events, 1)
		assert.Equal(t, domain.SeverityCritical, events[0].Alert.Severity)
		assert.Equal(t, "venue", events[0].Alert.ZoneID)
	})

	t.Run("approaching capacity opens a medium alert", func(t *testing.T) {
		engine, _, sink := newTestEngine(t, &stubOccupancy{count: 950})
		require.NoError(t, engine.Evaluate(context.Background(), evalStart))

		events := eventsOfType(sink.all(), domain.AlertVenueCapacity)
		require.Len(t, events, 1)
		assert.Equal(t, domain.SeverityMedium, events[0].Alert.Severity)
	})

	t.Run("well under capacity stays quiet", func(t *testing.T) {
		engine, _, sink := newTestEngine(t, &stubOccupancy{count: 100})
		require.NoError(t, engine.Evaluate(context.Background(), evalStart))
		assert.Empty(t, eventsOfType(sink.all(), domain.AlertVenueCapacity))
	})
}

// failingStore errors for one zone's keys, proving evaluation of other zones
// proceeds.
type failingStore struct {
	*MemoryOpenAlertStore
	failZone string
}

func (s *failingStore) TryOpen(ctx context.Context, alert domain.Alert) (bool, error) {
	if alert.ZoneID == s.failZone {
		return false, errors.New("store down")
	}
	return s.MemoryOpenAlertStore.TryOpen(ctx, alert)
}

func TestOneZoneFailureDoesNotStopOthers(t *testing.T) {
	zones := &stubZones{}
	sink := &captureSink{}
	engine := NewEngine(Config{
		HighDensity:       75,
		CriticalDensity:   90,
		BottleneckRisk:    0.7,
		ResolvedRetention: time.Hour,
	}, zones, nil, &failingStore{MemoryOpenAlertStore: NewMemoryOpenAlertStore(), failZone: "zone-a"},
		slog.New(slog.DiscardHandler), NewMetrics(prometheus.NewRegistry()), sink)

	zones.set(zoneWith("zone-a", 95, 0), zoneWith("zone-b", 95, 0))
	err := engine.Evaluate(context.Background(), evalStart)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "zone-a"))

	critical := eventsOfType(sink.all(), domain.AlertCriticalDensity)
	require.Len(t, critical, 1)
	assert.Equal(t, "zone-b", critical[0].Alert.ZoneID)
}

func TestRecentlyResolvedRetention(t *testing.T) {
	engine, zones, _ := newTestEngine(t, &stubOccupancy{})
	ctx := context.Background()

	zones.set(zoneWith("zone-a", 80, 0))
	require.NoError(t, engine.Evaluate(ctx, evalStart))
	zones.set(zoneWith("zone-a", 10, 0))
	require.NoError(t, engine.Evaluate(ctx, evalStart.Add(time.Minute)))

	require.Len(t, engine.RecentlyResolved(), 1)

	// Past the retention window the resolved event ages out.
	zones.set()
	require.NoError(t, engine.Evaluate(ctx, evalStart.Add(2*time.Hour)))
	assert.Empty(t, engine.RecentlyResolved())
}
