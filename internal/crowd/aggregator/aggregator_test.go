package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatepass/internal/domain"
	"gatepass/pkg/clock"
)

var testStart = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestAggregator(t *testing.T) (*Aggregator, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(testStart)
	agg := New(Config{
		Window:          time.Minute,
		DefaultCapacity: 100,
		ZoneCapacities:  map[string]int{"plaza": 200},
		RiskThreshold:   80,
		HealthThreshold: 0.6,
	}, clk, slog.New(slog.DiscardHandler), NewMetrics(prometheus.NewRegistry()))
	return agg, clk
}

func counter(sensorID, zoneID string, at time.Time, count int, dir domain.FlowDirection) domain.SensorReading {
	return domain.SensorReading{
		SensorID:     sensorID,
		ZoneID:       zoneID,
		Type:         domain.SensorPeopleCounter,
		CapturedAt:   at,
		Connectivity: domain.SensorOnline,
		Count:        count,
		Direction:    dir,
	}
}

func tick(t *testing.T, agg *Aggregator, now time.Time) domain.ZoneAggregate {
	t.Helper()
	require.NoError(t, agg.Tick(context.Background(), now))
	snaps := agg.Snapshots()
	require.NotEmpty(t, snaps)
	return snaps[0]
}

func TestDensityNormalizedAgainstCapacity(t *testing.T) {
	agg, clk := newTestAggregator(t)
	now := clk.Now()

	agg.Record(counter("pc-1", "zone-a", now, 30, domain.FlowIn))
	snap := tick(t, agg, now)
	assert.InDelta(t, 30, snap.CurrentDensity, 0.001, "30 of capacity 100")

	agg.Record(counter("pc-1", "plaza", now, 30, domain.FlowIn))
	require.NoError(t, agg.Tick(context.Background(), now))
	plaza, ok := agg.Snapshot("plaza")
	require.True(t, ok)
	assert.InDelta(t, 15, plaza.CurrentDensity, 0.001, "per-zone capacity override")
}

func TestDensityClampedAtHundred(t *testing.T) {
	agg, clk := newTestAggregator(t)
	now := clk.Now()

	agg.Record(counter("pc-1", "zone-a", now, 500, domain.FlowIn))
	snap := tick(t, agg, now)
	assert.Equal(t, 100.0, snap.CurrentDensity)
}

func TestFlowDirectionWithAsymmetry(t *testing.T) {
	feed := func(agg *Aggregator, now time.Time, entryPerMin, exitPerMin int) {
		// One reading per second across the full window, rates split between
		// an entry counter and an exit counter.
		for i := 0; i < 60; i++ {
			at := now.Add(-time.Duration(59-i) * time.Second)
			if i%(60/entryPerMin) == 0 {
				agg.Record(counter("pc-in", "zone-a", at, 1, domain.FlowIn))
			}
			if exitPerMin > 0 && i%(60/exitPerMin) == 0 {
				agg.Record(counter("pc-out", "zone-a", at, 1, domain.FlowOut))
			}
		}
	}

	t.Run("entry 10 exit 4 flows in", func(t *testing.T) {
		agg, clk := newTestAggregator(t)
		feed(agg, clk.Now(), 10, 4)
		snap := tick(t, agg, clk.Now())
		assert.Equal(t, domain.ZoneFlowIn, snap.FlowDirection)
		assert.InDelta(t, 10, snap.EntryRate, 0.001)
		assert.InDelta(t, 4, snap.ExitRate, 0.001)
	})

	t.Run("entry 4 exit 10 flows out", func(t *testing.T) {
		agg, clk := newTestAggregator(t)
		feed(agg, clk.Now(), 4, 10)
		snap := tick(t, agg, clk.Now())
		assert.Equal(t, domain.ZoneFlowOut, snap.FlowDirection)
	})

	t.Run("exit ahead but inside the margin is stable", func(t *testing.T) {
		agg, clk := newTestAggregator(t)
		now := clk.Now()
		agg.Record(counter("pc-in", "zone-a", now, 10, domain.FlowIn))
		agg.Record(counter("pc-out", "zone-a", now, 11, domain.FlowOut))
		snap := tick(t, agg, now)
		assert.Equal(t, domain.ZoneFlowStable, snap.FlowDirection, "11 < 1.2 x 10")
	})
}

func TestPredictionFollowsTrend(t *testing.T) {
	agg, clk := newTestAggregator(t)

	densities := []int{10, 20, 30}
	var last domain.ZoneAggregate
	for i, d := range densities {
		now := testStart.Add(time.Duration(2*i) * time.Minute)
		clk.Set(now)
		agg.Record(counter("pc-1", "zone-a", now, d, domain.FlowIn))
		last = tick(t, agg, now)
	}
	// Rising 10 points per window: prediction extrapolates the climb.
	assert.InDelta(t, 40, last.PredictedDensity, 0.001)
}

func TestPredictionClamped(t *testing.T) {
	agg, clk := newTestAggregator(t)

	for i, d := range []int{80, 90, 99} {
		now := testStart.Add(time.Duration(2*i) * time.Minute)
		clk.Set(now)
		agg.Record(counter("pc-1", "zone-a", now, d, domain.FlowIn))
		clkTick := tick(t, agg, now)
		if i == 2 {
			assert.LessOrEqual(t, clkTick.PredictedDensity, 100.0)
		}
	}
}

func TestBottleneckRisk(t *testing.T) {
	t.Run("zero below threshold with healthy sensors", func(t *testing.T) {
		agg, clk := newTestAggregator(t)
		now := clk.Now()
		agg.Record(counter("pc-1", "zone-a", now, 79, domain.FlowIn))
		snap := tick(t, agg, now)
		assert.Zero(t, snap.BottleneckRisk)
	})

	t.Run("rises monotonically with density above threshold", func(t *testing.T) {
		agg, clk := newTestAggregator(t)
		prev := -1.0
		for i, d := range []int{85, 90, 95} {
			now := testStart.Add(time.Duration(2*i) * time.Minute)
			clk.Set(now)
			agg.Record(counter("pc-1", "zone-a", now, d, domain.FlowIn))
			snap := tick(t, agg, now)
			assert.Greater(t, snap.BottleneckRisk, prev)
			prev = snap.BottleneckRisk
		}
	})

	t.Run("persistent entry excess elevates risk after two ticks", func(t *testing.T) {
		agg, clk := newTestAggregator(t)

		feedHotImbalanced := func(now time.Time) {
			agg.Record(counter("pc-in", "zone-a", now, 90, domain.FlowIn))
			agg.Record(counter("pc-out", "zone-a", now, 5, domain.FlowOut))
		}

		now := testStart
		feedHotImbalanced(now)
		first := tick(t, agg, now)

		now = now.Add(2 * time.Minute)
		clk.Set(now)
		feedHotImbalanced(now)
		second := tick(t, agg, now)

		assert.Greater(t, second.BottleneckRisk, first.BottleneckRisk,
			"imbalance boost kicks in on the second consecutive tick")
	})

	t.Run("never exceeds one", func(t *testing.T) {
		agg, clk := newTestAggregator(t)
		now := testStart
		for i := 0; i < 3; i++ {
			now = testStart.Add(time.Duration(i) * time.Minute)
			clk.Set(now)
			agg.Record(counter("pc-in", "zone-a", now, 500, domain.FlowIn))
			snap := tick(t, agg, now)
			assert.LessOrEqual(t, snap.BottleneckRisk, 1.0)
		}
	})
}

func TestSensorDropoutReducesConfidence(t *testing.T) {
	agg, clk := newTestAggregator(t)
	now := clk.Now()

	// Three sensors, two dark: online fraction 1/3 below the 0.6 threshold.
	agg.Record(counter("pc-1", "zone-a", now, 10, domain.FlowIn))
	offline := counter("pc-2", "zone-a", now, 0, domain.FlowIn)
	offline.Connectivity = domain.SensorOffline
	agg.Record(offline)
	offline2 := counter("pc-3", "zone-a", now, 0, domain.FlowIn)
	offline2.Connectivity = domain.SensorOffline
	agg.Record(offline2)

	snap := tick(t, agg, now)
	assert.Equal(t, domain.ConfidenceReduced, snap.Confidence)
	assert.InDelta(t, 10, snap.CurrentDensity, 0.001, "density still estimated from available data")
}

func TestEmptyWindowCarriesLastDensity(t *testing.T) {
	agg, clk := newTestAggregator(t)
	now := clk.Now()

	agg.Record(counter("pc-1", "zone-a", now, 40, domain.FlowIn))
	first := tick(t, agg, now)
	require.InDelta(t, 40, first.CurrentDensity, 0.001)
	require.Equal(t, domain.ConfidenceNormal, first.Confidence)

	later := now.Add(5 * time.Minute)
	clk.Set(later)
	snap := tick(t, agg, later)
	assert.InDelta(t, 40, snap.CurrentDensity, 0.001, "silence does not mean empty")
	assert.Equal(t, domain.ConfidenceReduced, snap.Confidence)
	assert.Zero(t, snap.EntryRate)
	assert.Equal(t, later, snap.LastUpdated)
}

func TestLateReadingsFoldedNotDropped(t *testing.T) {
	agg, clk := newTestAggregator(t)
	now := clk.Now()

	// First tick closes an empty-ish window.
	agg.Record(counter("pc-1", "zone-a", now, 10, domain.FlowIn))
	require.NoError(t, agg.Tick(context.Background(), now))

	// A reading stamped well before the current window arrives only now.
	next := now.Add(2 * time.Minute)
	clk.Set(next)
	agg.Record(counter("pc-2", "zone-a", now.Add(-10*time.Minute), 25, domain.FlowIn))

	snap := tick(t, agg, next)
	assert.InDelta(t, 25, snap.CurrentDensity, 0.001, "late reading counted in the current window")
}

func TestDwellTimeFromTagSightings(t *testing.T) {
	agg, clk := newTestAggregator(t)
	now := clk.Now()

	sight := func(tag string, at time.Time) {
		agg.Record(domain.SensorReading{
			SensorID:     "rf-1",
			ZoneID:       "zone-a",
			Type:         domain.SensorRFIDReader,
			CapturedAt:   at,
			Connectivity: domain.SensorOnline,
			TagID:        tag,
		})
	}

	sight("tag-1", now.Add(-40*time.Second))
	sight("tag-1", now)
	sight("tag-2", now.Add(-20*time.Second))
	sight("tag-2", now)

	snap := tick(t, agg, now)
	assert.InDelta(t, 0.5, snap.AvgDwellTime, 0.001, "mean of 40s and 20s in minutes")
}

func TestSnapshotsAreCopies(t *testing.T) {
	agg, clk := newTestAggregator(t)
	now := clk.Now()
	agg.Record(counter("pc-1", "zone-a", now, 10, domain.FlowIn))
	snap := tick(t, agg, now)

	snap.CurrentDensity = 999
	again, ok := agg.Snapshot("zone-a")
	require.True(t, ok)
	assert.NotEqual(t, 999.0, again.CurrentDensity)
}

func TestZonesAggregateIndependently(t *testing.T) {
	agg, clk := newTestAggregator(t)
	now := clk.Now()
	for i := 0; i < 3; i++ {
		agg.Record(counter("pc-1", fmt.Sprintf("zone-%d", i), now, (i+1)*10, domain.FlowIn))
	}
	require.NoError(t, agg.Tick(context.Background(), now))

	snaps := agg.Snapshots()
	require.Len(t, snaps, 3)
	for i, snap := range snaps {
		assert.Equal(t, fmt.Sprintf("zone-%d", i), snap.ZoneID)
		assert.InDelta(t, float64((i+1)*10), snap.CurrentDensity, 0.001)
	}
}
