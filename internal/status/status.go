// Package status provides a thread-safe status tracker for the grow-sensor daemon.
// It is read by the HTTP status page and by MQTT lifecycle events.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/grow-sensor/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	TickMs      int64
	HeartbeatMs int64
	InsightMs   int64
	Broker      string
	HTTPAddr    string
	FeedAddr    string
	Upstream    string
	InfluxURL   string
}

// ZoneStatus is the last known state of one zone.
type ZoneStatus struct {
	Zone       string
	Latest     logic.Reading
	HasLatest  bool
	HistoryLen int
	Anomalies  int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type; Zones is a private copy.
type Snapshot struct {
	Zones          []ZoneStatus
	Ticks          int
	LastTick       time.Time
	ActiveSessions int
	TotalSessions  int
	MQTTConnected  bool
	StartTime      time.Time
	Now            time.Time
	Config         Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Ready reports whether the feed has produced at least one batch.
func (s Snapshot) Ready() bool {
	return s.Ticks > 0
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	zones := make([]ZoneStatus, logic.NumZones())
	for i, z := range logic.Zones() {
		zones[i].Zone = z
	}
	return &Tracker{
		snap: Snapshot{
			Zones:     zones,
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// RecordBatch stores the latest reading of every zone in batch and counts
// the tick. Readings for unregistered zones are ignored.
func (t *Tracker) RecordBatch(batch []logic.Reading) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range batch {
		idx, ok := logic.ZoneIndex(r.Zone)
		if !ok {
			continue
		}
		z := &t.snap.Zones[idx]
		z.Latest = r
		z.HasLatest = true
		if r.Anomaly {
			z.Anomalies++
		}
	}
	t.snap.Ticks++
	t.snap.LastTick = now
}

// WriteBatch lets the tracker be registered as a feed sink.
func (t *Tracker) WriteBatch(_ context.Context, batch []logic.Reading) error {
	t.RecordBatch(batch)
	return nil
}

// SetHistoryLen records the number of readings held for zone.
func (t *Tracker) SetHistoryLen(zone string, n int) {
	idx, ok := logic.ZoneIndex(zone)
	if !ok {
		return
	}
	t.mu.Lock()
	t.snap.Zones[idx].HistoryLen = n
	t.mu.Unlock()
}

// SessionStarted counts a new relay session.
func (t *Tracker) SessionStarted() {
	t.mu.Lock()
	t.snap.ActiveSessions++
	t.snap.TotalSessions++
	t.mu.Unlock()
}

// SessionEnded marks a relay session finished.
func (t *Tracker) SessionEnded() {
	t.mu.Lock()
	if t.snap.ActiveSessions > 0 {
		t.snap.ActiveSessions--
	}
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Zones = make([]ZoneStatus, len(t.snap.Zones))
	copy(s.Zones, t.snap.Zones)
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
