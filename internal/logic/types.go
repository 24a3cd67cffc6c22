// Package logic contains the pure simulation logic for zone telemetry.
// This package has NO external dependencies (no network, MQTT, OS, or time.Sleep).
// Time and randomness are always injected by the caller.
package logic

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the wire format of Reading timestamps (second precision).
const TimestampLayout = "2006-01-02 15:04:05"

// Cadences used by the history engine.
const (
	// BackfillInterval spaces the readings of the initial backfill.
	BackfillInterval = 5 * time.Minute
	// BackfillSpan is how far back the initial backfill reaches.
	BackfillSpan = 7 * 24 * time.Hour
	// LiveStep is the distance between a zone's latest reading and the next one.
	LiveStep = 5 * time.Second
)

// Reading is one synthetic environmental sample for a zone.
// Readings are values; nothing mutates one after Generate returns it.
type Reading struct {
	Timestamp   time.Time
	Temperature float64 // °F, one decimal
	Humidity    float64 // percent, one decimal
	CO2         int     // ppm
	Zone        string

	// Anomaly is set when the reading was drawn from the anomaly band.
	// It is not part of the wire shape.
	Anomaly bool
}

type readingJSON struct {
	Timestamp   string  `json:"timestamp"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	CO2         int     `json:"CO2"`
	Zone        string  `json:"zone"`
}

// MarshalJSON encodes the reading in its wire shape.
func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(readingJSON{
		Timestamp:   r.Timestamp.Format(TimestampLayout),
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		CO2:         r.CO2,
		Zone:        r.Zone,
	})
}

// UnmarshalJSON decodes the wire shape. Timestamps are read in the local zone.
func (r *Reading) UnmarshalJSON(data []byte) error {
	var raw readingJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := time.ParseInLocation(TimestampLayout, raw.Timestamp, time.Local)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", raw.Timestamp, err)
	}
	*r = Reading{
		Timestamp:   ts,
		Temperature: raw.Temperature,
		Humidity:    raw.Humidity,
		CO2:         raw.CO2,
		Zone:        raw.Zone,
	}
	return nil
}

// Sample is a reading as seen by the aggregator: any metric may be missing.
// It decodes from the same wire shape as Reading, with absent or null
// fields left nil.
type Sample struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	CO2         *float64 `json:"CO2"`
}

// Stat is the min/max/avg triple of one metric. All three are nil when no
// sample carried the metric.
type Stat struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
	Avg *float64 `json:"avg"`
}

// Summary holds per-metric statistics over a slice of history.
type Summary struct {
	Temperature Stat `json:"temperature"`
	Humidity    Stat `json:"humidity"`
	CO2         Stat `json:"CO2"`
}

// Band is an inclusive [Min, Max] range.
type Band struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the band.
func (b Band) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Bands groups the per-metric ranges of a zone.
type Bands struct {
	Temperature Band
	Humidity    Band
	CO2         Band
}
