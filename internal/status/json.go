package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/grow-sensor/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Ready         bool       `json:"ready"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	Ticks         int        `json:"ticks"`
	LastTick      string     `json:"last_tick,omitempty"`
	MQTT          MQTTStatus `json:"mqtt"`
	Relay         RelayJSON  `json:"relay"`
	Zones         []ZoneJSON `json:"zones"`
	Config        ConfigJSON `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// RelayJSON reports relay session counts.
type RelayJSON struct {
	Active int `json:"active_sessions"`
	Total  int `json:"total_sessions"`
}

// ZoneJSON is the JSON representation of one zone's status.
type ZoneJSON struct {
	Zone          string         `json:"zone"`
	Latest        *logic.Reading `json:"latest"`
	HistoryLength int            `json:"history_length"`
	Anomalies     int            `json:"anomalies"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs      int64  `json:"tick_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	InsightMs   int64  `json:"insight_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	FeedAddr    string `json:"feed_addr,omitempty"`
	Upstream    string `json:"upstream"`
	InfluxURL   string `json:"influx_url,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Ready:         snap.Ready(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Ticks:         snap.Ticks,
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Relay:         RelayJSON{Active: snap.ActiveSessions, Total: snap.TotalSessions},
		Zones:         make([]ZoneJSON, len(snap.Zones)),
		Config: ConfigJSON{
			TickMs:      snap.Config.TickMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			InsightMs:   snap.Config.InsightMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			FeedAddr:    snap.Config.FeedAddr,
			Upstream:    snap.Config.Upstream,
			InfluxURL:   snap.Config.InfluxURL,
		},
	}
	if !snap.LastTick.IsZero() {
		inner.LastTick = snap.LastTick.UTC().Format(time.RFC3339)
	}
	for i, z := range snap.Zones {
		zj := ZoneJSON{Zone: z.Zone, HistoryLength: z.HistoryLen, Anomalies: z.Anomalies}
		if z.HasLatest {
			latest := z.Latest
			zj.Latest = &latest
		}
		inner.Zones[i] = zj
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
