package domain

import (
	"fmt"
	"time"
)

// AlertType identifies the rule that produced an alert.
type AlertType string

const (
	AlertHighDensity     AlertType = "high_density"
	AlertCriticalDensity AlertType = "critical_density"
	AlertBottleneck      AlertType = "bottleneck"
	AlertVenueCapacity   AlertType = "venue_capacity"
)

// AlertSeverity orders alerts for routing and display.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is immutable after creation. A superseding condition produces a new
// Alert; a clearing condition resolves the open one.
type Alert struct {
	ID        string        `json:"id"`
	Type      AlertType     `json:"type"`
	Severity  AlertSeverity `json:"severity"`
	ZoneID    string        `json:"zone_id"`
	Message   string        `json:"message"`
	EmittedAt time.Time     `json:"emitted_at"`
	DedupKey  string        `json:"dedup_key"`
}

// AlertDedupKey builds the open-alert identity: one open alert per
// (type, zone) at a time.
func AlertDedupKey(t AlertType, zoneID string) string {
	return fmt.Sprintf("%s:%s", t, zoneID)
}

// AlertEvent is the published envelope: the alert plus its open/resolved
// transition.
type AlertEvent struct {
	Alert      Alert     `json:"alert"`
	Resolved   bool      `json:"resolved"`
	OccurredAt time.Time `json:"occurred_at"`
}
