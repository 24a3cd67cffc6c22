// Package mqtt publishes reading batches and lifecycle events to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/grow-sensor/internal/logic"
)

// Topic carries one message per feed tick.
const Topic = "grow/sensor/readings"

// TopicSystem carries lifecycle events.
const TopicSystem = "grow/sensor/system"

// Lifecycle event names.
const (
	EventStartup   = "STARTUP"
	EventShutdown  = "SHUTDOWN"
	EventHeartbeat = "HEARTBEAT"
	EventOffline   = "OFFLINE"
)

// Publisher publishes to MQTT. Publish failures are returned, never fatal.
type Publisher interface {
	// PublishBatch sends one tick's readings.
	PublishBatch(batch []logic.Reading) error

	// PublishSystem sends a lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent is a lifecycle event (STARTUP, SHUTDOWN, HEARTBEAT).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // shutdown signal name, if any
	RawPayload []byte // pre-formatted status snapshot; FormatSystemPayload returns it as is
	Retained   bool
}

// BatchPayload is the message published on Topic.
type BatchPayload struct {
	Timestamp string          `json:"timestamp"`
	Readings  []logic.Reading `json:"readings"`
}

// FormatBatchPayload encodes a batch. The timestamp is that of the newest
// reading; zones backfill independently, so their instants may differ.
func FormatBatchPayload(batch []logic.Reading) ([]byte, error) {
	p := BatchPayload{Readings: batch}
	if len(batch) > 0 {
		newest := batch[0].Timestamp
		for _, r := range batch[1:] {
			if r.Timestamp.After(newest) {
				newest = r.Timestamp
			}
		}
		p.Timestamp = newest.Format(logic.TimestampLayout)
	} else {
		p.Readings = []logic.Reading{}
	}
	return json.Marshal(p)
}

// SystemPayload is the minimal lifecycle message used when no status
// snapshot is attached (the broker will and reconnect notices).
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload encodes a lifecycle event, preferring RawPayload when set.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
