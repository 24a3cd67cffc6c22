// Package history owns the per-zone reading sequences.
//
// Every zone in the registry gets its own sequence and its own lock, so a
// backfill or append on one zone never interleaves with another read of the
// same zone while different zones proceed in parallel.
package history

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sweeney/grow-sensor/internal/logic"
	"github.com/sweeney/grow-sensor/internal/metrics"
)

// Store holds the reading history of every registered zone.
type Store struct {
	gen       *logic.Generator
	now       func() time.Time
	retention time.Duration
	log       *slog.Logger

	// zones is built once in New and never mutated, so lookups need no lock.
	zones map[string]*zoneHistory
}

type zoneHistory struct {
	mu       sync.Mutex
	readings []logic.Reading
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for backfill. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRetention keeps only readings within d of the latest one. Zero keeps everything.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New creates a Store with an empty history for every registered zone.
func New(gen *logic.Generator, opts ...Option) *Store {
	s := &Store{
		gen:   gen,
		now:   time.Now,
		log:   slog.Default(),
		zones: make(map[string]*zoneHistory, logic.NumZones()),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, z := range logic.Zones() {
		s.zones[z] = &zoneHistory{}
	}
	return s
}

// ReadLatestAndHistory advances zone by one reading and returns it with the
// full history. The new reading is LiveStep after the previous latest one.
// An empty zone is backfilled instead and its last backfilled reading returned.
func (s *Store) ReadLatestAndHistory(zone string) (logic.Reading, []logic.Reading, error) {
	h, err := s.zone(zone)
	if err != nil {
		return logic.Reading{}, nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return s.advance(zone, h), h.snapshot(), nil
}

// Advance is ReadLatestAndHistory without the history copy, for callers
// that only need the new reading.
func (s *Store) Advance(zone string) (logic.Reading, error) {
	h, err := s.zone(zone)
	if err != nil {
		return logic.Reading{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return s.advance(zone, h), nil
}

// advance backfills an empty zone or appends one reading. Caller holds h.mu.
func (s *Store) advance(zone string, h *zoneHistory) logic.Reading {
	if len(h.readings) == 0 {
		s.backfill(zone, h)
	} else {
		last := h.readings[len(h.readings)-1]
		s.append(zone, h, s.gen.Generate(zone, last.Timestamp.Add(logic.LiveStep)))
	}
	return h.readings[len(h.readings)-1]
}

// ReadOnly returns the latest reading and the full history without advancing
// the zone. An empty zone is backfilled first.
func (s *Store) ReadOnly(zone string) (logic.Reading, []logic.Reading, error) {
	h, err := s.zone(zone)
	if err != nil {
		return logic.Reading{}, nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.readings) == 0 {
		s.backfill(zone, h)
	}
	return h.readings[len(h.readings)-1], h.snapshot(), nil
}

// Len returns the number of readings held for zone without backfilling it.
func (s *Store) Len(zone string) (int, error) {
	h, err := s.zone(zone)
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.readings), nil
}

func (s *Store) zone(zone string) (*zoneHistory, error) {
	h, ok := s.zones[zone]
	if !ok {
		metrics.InvalidZoneRequests.Inc()
		return nil, logic.ValidateZone(zone)
	}
	return h, nil
}

// backfill fills an empty zone with BackfillSpan of readings spaced
// BackfillInterval apart, ending at the current time. Caller holds h.mu.
func (s *Store) backfill(zone string, h *zoneHistory) {
	now := s.now().Truncate(time.Second)
	start := now.Add(-logic.BackfillSpan)

	readings := make([]logic.Reading, 0, int(logic.BackfillSpan/logic.BackfillInterval)+1)
	anomalies := 0
	for t := start; !t.After(now); t = t.Add(logic.BackfillInterval) {
		r := s.gen.Generate(zone, t)
		if r.Anomaly {
			anomalies++
		}
		readings = append(readings, r)
	}
	h.readings = readings

	metrics.ReadingsGenerated.WithLabelValues(zone).Add(float64(len(readings)))
	metrics.Anomalies.WithLabelValues(zone).Add(float64(anomalies))
	metrics.HistoryLength.WithLabelValues(zone).Set(float64(len(readings)))
	s.log.Info("history backfilled", "zone", zone, "count", len(readings), "anomalies", anomalies,
		"from", start.Format(logic.TimestampLayout), "to", now.Format(logic.TimestampLayout))
}

// append adds r and applies retention. Caller holds h.mu.
func (s *Store) append(zone string, h *zoneHistory, r logic.Reading) {
	h.readings = append(h.readings, r)
	metrics.ReadingsGenerated.WithLabelValues(zone).Inc()
	if r.Anomaly {
		metrics.Anomalies.WithLabelValues(zone).Inc()
		s.log.Debug("anomalous reading", "zone", zone, "timestamp", r.Timestamp.Format(logic.TimestampLayout))
	}

	if s.retention > 0 {
		cutoff := r.Timestamp.Add(-s.retention)
		i := sort.Search(len(h.readings), func(i int) bool {
			return !h.readings[i].Timestamp.Before(cutoff)
		})
		if i > 0 {
			h.readings = append([]logic.Reading(nil), h.readings[i:]...)
		}
	}
	metrics.HistoryLength.WithLabelValues(zone).Set(float64(len(h.readings)))
}

// snapshot copies the readings so callers cannot mutate the history. Caller holds h.mu.
func (h *zoneHistory) snapshot() []logic.Reading {
	out := make([]logic.Reading, len(h.readings))
	copy(out, h.readings)
	return out
}
