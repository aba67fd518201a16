package ingest

import (
	"encoding/json"
	"time"
)

// RawReading is the wire envelope shared by the HTTP ingest endpoint and the
// Kafka topic. Data holds the type-specific payload, decoded only after the
// declared sensor type is known.
type RawReading struct {
	SensorID     string          `json:"sensor_id" validate:"required"`
	ZoneID       string          `json:"zone_id" validate:"required"`
	Type         string          `json:"sensor_type" validate:"required,oneof=people_counter rfid_reader qr_scanner thermal_camera sound_monitor"`
	CapturedAt   time.Time       `json:"captured_at"`
	Connectivity string          `json:"connectivity" validate:"omitempty,oneof=online offline"`
	Data         json.RawMessage `json:"data" validate:"required"`
}

// counterData is the payload for people_counter sensors. Count is a pointer
// so an absent field is distinguishable from a legitimate zero.
type counterData struct {
	Count     *int   `json:"count" validate:"required,min=0"`
	Direction string `json:"direction" validate:"required,oneof=in out"`
}

// tagData covers rfid_reader and qr_scanner: one tag observation per reading.
type tagData struct {
	TagID string `json:"tag_id" validate:"required"`
}

type detectionData struct {
	Class      string  `json:"class" validate:"required"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// thermalData is the payload for thermal_camera sensors. The detections key
// must be present; an empty list is a valid "nobody in frame" observation.
type thermalData struct {
	Detections *[]detectionData `json:"detections" validate:"required,dive"`
}

type soundData struct {
	SoundLevel *float64 `json:"sound_level" validate:"required,gte=0"`
}
