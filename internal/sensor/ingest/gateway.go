// Package ingest normalizes heterogeneous raw sensor records into
// domain.SensorReading and fans them into the crowd aggregator. The HTTP
// endpoint and the Kafka consumer are thin shells around the same gateway.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"gatepass/internal/domain"
	"gatepass/pkg/clock"
	"gatepass/pkg/domerr"
)

// Sink receives every normalized reading. The crowd aggregator implements it.
type Sink interface {
	Record(reading domain.SensorReading)
}

// SensorStatus is the inventory read model for one sensor.
type SensorStatus struct {
	SensorID     string              `json:"sensor_id"`
	ZoneID       string              `json:"zone_id"`
	Type         domain.SensorType   `json:"sensor_type"`
	Connectivity domain.Connectivity `json:"connectivity"`
	LastSeen     time.Time           `json:"last_seen"`
}

// Metrics holds the ingest instruments.
type Metrics struct {
	ReadingsIngested *prometheus.CounterVec
	ReadingsRejected *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ReadingsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatepass_sensor_readings_ingested_total",
			Help: "Normalized sensor readings by sensor type",
		}, []string{"sensor_type"}),
		ReadingsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatepass_sensor_readings_rejected_total",
			Help: "Rejected sensor readings by reason",
		}, []string{"reason"}),
	}
}

// Gateway validates, normalizes, and forwards sensor readings, and tracks a
// last-seen inventory per sensor.
type Gateway struct {
	validate *validator.Validate
	sink     Sink
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *Metrics

	mu        sync.RWMutex
	inventory map[string]SensorStatus
}

func NewGateway(sink Sink, clk clock.Clock, logger *slog.Logger, m *Metrics) *Gateway {
	return &Gateway{
		validate:  validator.New(),
		sink:      sink,
		clock:     clk,
		logger:    logger,
		metrics:   m,
		inventory: make(map[string]SensorStatus),
	}
}

// Ingest validates the envelope and the type-specific payload, normalizes the
// record, updates the sensor inventory, and forwards the reading to the sink.
// A reading with a missing or malformed payload field for its declared type
// is rejected whole; there is no partial ingest.
func (g *Gateway) Ingest(ctx context.Context, raw RawReading) (domain.SensorReading, error) {
	if err := g.validate.Struct(raw); err != nil {
		g.metrics.ReadingsRejected.WithLabelValues("envelope").Inc()
		return domain.SensorReading{}, domerr.Wrap(err, domerr.CodeBadRequest, "invalid sensor reading envelope")
	}

	reading := domain.SensorReading{
		SensorID:     raw.SensorID,
		ZoneID:       raw.ZoneID,
		Type:         domain.SensorType(raw.Type),
		CapturedAt:   raw.CapturedAt,
		Connectivity: domain.Connectivity(raw.Connectivity),
	}
	if reading.CapturedAt.IsZero() {
		reading.CapturedAt = g.clock.Now()
	}
	if reading.Connectivity == "" {
		reading.Connectivity = domain.SensorOnline
	}

	if err := g.decodePayload(raw, &reading); err != nil {
		g.metrics.ReadingsRejected.WithLabelValues("payload").Inc()
		return domain.SensorReading{}, err
	}

	g.observe(reading)
	g.sink.Record(reading)
	g.metrics.ReadingsIngested.WithLabelValues(string(reading.Type)).Inc()
	g.logger.DebugContext(ctx, "reading ingested",
		"sensor_id", reading.SensorID,
		"zone_id", reading.ZoneID,
		"sensor_type", reading.Type,
	)
	return reading, nil
}

func (g *Gateway) decodePayload(raw RawReading, reading *domain.SensorReading) error {
	switch reading.Type {
	case domain.SensorPeopleCounter:
		var data counterData
		if err := g.decode(raw.Data, &data); err != nil {
			return err
		}
		reading.Count = *data.Count
		reading.Direction = domain.FlowDirection(data.Direction)

	case domain.SensorRFIDReader, domain.SensorQRScanner:
		var data tagData
		if err := g.decode(raw.Data, &data); err != nil {
			return err
		}
		reading.TagID = data.TagID

	case domain.SensorThermalCamera:
		var data thermalData
		if err := g.decode(raw.Data, &data); err != nil {
			return err
		}
		detections := make([]domain.Detection, 0, len(*data.Detections))
		for _, d := range *data.Detections {
			detections = append(detections, domain.Detection{Class: d.Class, Confidence: d.Confidence})
		}
		reading.Detections = detections

	case domain.SensorSoundMonitor:
		var data soundData
		if err := g.decode(raw.Data, &data); err != nil {
			return err
		}
		reading.SoundLevel = *data.SoundLevel
	}
	return nil
}

func (g *Gateway) decode(raw json.RawMessage, into any) error {
	if err := json.Unmarshal(raw, into); err != nil {
		return domerr.Wrap(err, domerr.CodeSensorDataIncomplete, "sensor payload is not valid JSON")
	}
	if err := g.validate.Struct(into); err != nil {
		return domerr.Wrap(err, domerr.CodeSensorDataIncomplete, "sensor payload missing required fields for its type")
	}
	return nil
}

func (g *Gateway) observe(reading domain.SensorReading) {
	g.mu.Lock()
	defer g.mu.Unlock()
	current, ok := g.inventory[reading.SensorID]
	if !ok || reading.CapturedAt.After(current.LastSeen) {
		g.inventory[reading.SensorID] = SensorStatus{
			SensorID:     reading.SensorID,
			ZoneID:       reading.ZoneID,
			Type:         reading.Type,
			Connectivity: reading.Connectivity,
			LastSeen:     reading.CapturedAt,
		}
	}
}

// Sensors returns the inventory sorted by sensor ID.
func (g *Gateway) Sensors() []SensorStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]SensorStatus, 0, len(g.inventory))
	for _, status := range g.inventory {
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out
}
