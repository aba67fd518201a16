package domain

import "time"

// ZoneFlow classifies the net movement through a zone.
type ZoneFlow string

const (
	ZoneFlowIn     ZoneFlow = "in"
	ZoneFlowOut    ZoneFlow = "out"
	ZoneFlowStable ZoneFlow = "stable"
)

// Confidence flags the trustworthiness of an aggregate. Reduced means the
// zone's sensor fleet was partially dark during the window; the estimate is
// still emitted rather than failing hard.
type Confidence string

const (
	ConfidenceNormal  Confidence = "normal"
	ConfidenceReduced Confidence = "reduced"
)

// ZoneAggregate is the rolling read model for one zone. Owned exclusively by
// the crowd aggregator; readers receive copies, never shared state.
type ZoneAggregate struct {
	ZoneID           string     `json:"zone_id"`
	CurrentDensity   float64    `json:"current_density"`
	PredictedDensity float64    `json:"predicted_density"`
	FlowDirection    ZoneFlow   `json:"flow_direction"`
	BottleneckRisk   float64    `json:"bottleneck_risk"`
	EntryRate        float64    `json:"entry_rate"`
	ExitRate         float64    `json:"exit_rate"`
	AvgDwellTime     float64    `json:"avg_dwell_time_minutes"`
	Confidence       Confidence `json:"confidence"`
	LastUpdated      time.Time  `json:"last_updated"`
}
