package domain

import "time"

// SensorType enumerates the sensor fleet deployed at checkpoints and zones.
type SensorType string

const (
	SensorPeopleCounter SensorType = "people_counter"
	SensorRFIDReader    SensorType = "rfid_reader"
	SensorQRScanner     SensorType = "qr_scanner"
	SensorThermalCamera SensorType = "thermal_camera"
	SensorSoundMonitor  SensorType = "sound_monitor"
)

// Connectivity is the sensor's reported link state at capture time.
type Connectivity string

const (
	SensorOnline  Connectivity = "online"
	SensorOffline Connectivity = "offline"
)

// FlowDirection labels counter readings by the direction of travel they count.
type FlowDirection string

const (
	FlowIn  FlowDirection = "in"
	FlowOut FlowDirection = "out"
)

// Detection is one object-detection record produced upstream by a camera
// pipeline. Consumed as already-structured data; no vision work happens here.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// SensorReading is the normalized, immutable form every raw sensor record is
// reduced to at ingest. Exactly the payload fields for the declared type are
// set; the rest stay zero.
type SensorReading struct {
	SensorID     string        `json:"sensor_id"`
	ZoneID       string        `json:"zone_id"`
	Type         SensorType    `json:"sensor_type"`
	CapturedAt   time.Time     `json:"captured_at"`
	Connectivity Connectivity  `json:"connectivity"`
	Count        int           `json:"count,omitempty"`
	Direction    FlowDirection `json:"direction,omitempty"`
	Detections   []Detection   `json:"detections,omitempty"`
	SoundLevel   float64       `json:"sound_level,omitempty"`
	TagID        string        `json:"tag_id,omitempty"`
}

// Occupants returns the number of people this reading accounts for.
func (r SensorReading) Occupants() int {
	switch r.Type {
	case SensorPeopleCounter:
		return r.Count
	case SensorThermalCamera:
		n := 0
		for _, d := range r.Detections {
			if d.Class == "person" {
				n++
			}
		}
		return n
	default:
		return 0
	}
}
