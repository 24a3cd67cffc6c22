// Package insight keeps per-zone summaries of the history that is new since
// the previous summary, ready to prime a downstream analysis.
package insight

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sweeney/grow-sensor/internal/logic"
)

// DefaultInterval is how often Run refreshes every zone.
const DefaultInterval = 10 * time.Minute

// Reader reads a zone without advancing it. *history.Store satisfies it.
type Reader interface {
	ReadOnly(zone string) (logic.Reading, []logic.Reading, error)
}

// Insight is the material handed to the analysis layer for one zone.
type Insight struct {
	Zone           string        `json:"zone"`
	CurrentReading logic.Reading `json:"currentReading"`
	Summary        logic.Summary `json:"historicalSummary"`
	WindowSize     int           `json:"windowSize"`
	// Since is the last summarized timestamp before this run; empty on the first run.
	Since       string `json:"since,omitempty"`
	GeneratedAt string `json:"generatedAt"`
}

// Tracker remembers, per zone, the newest reading already summarized.
type Tracker struct {
	src      Reader
	fallback int
	now      func() time.Time
	log      *slog.Logger

	// zones holds one lock per registered zone, built once in NewTracker.
	zones map[string]*sync.Mutex

	mu    sync.Mutex
	last  map[string]time.Time
	cache map[string]Insight
}

// NewTracker creates a tracker. fallback is the trailing window used when
// nothing is new; zero or less means logic.DefaultFallbackWindow.
func NewTracker(src Reader, fallback int, log *slog.Logger) *Tracker {
	if fallback <= 0 {
		fallback = logic.DefaultFallbackWindow
	}
	if log == nil {
		log = slog.Default()
	}
	zones := make(map[string]*sync.Mutex, logic.NumZones())
	for _, z := range logic.Zones() {
		zones[z] = &sync.Mutex{}
	}
	return &Tracker{
		src:      src,
		fallback: fallback,
		now:      time.Now,
		log:      log,
		zones:    zones,
		last:     make(map[string]time.Time),
		cache:    make(map[string]Insight),
	}
}

// Compute summarizes the readings of zone newer than its previous summary,
// caches the result and moves the zone's mark to the newest reading.
func (t *Tracker) Compute(zone string) (Insight, error) {
	// The zone lock spans the read and the mark update so overlapping
	// computes apply their histories in read order. Unknown zones have no
	// lock; ReadOnly rejects them.
	if zl, ok := t.zones[zone]; ok {
		zl.Lock()
		defer zl.Unlock()
	}

	latest, hist, err := t.src.ReadOnly(zone)
	if err != nil {
		return Insight{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	since := t.last[zone]
	window := logic.SelectWindow(hist, since, t.fallback)
	in := Insight{
		Zone:           zone,
		CurrentReading: latest,
		Summary:        logic.SummarizeReadings(window),
		WindowSize:     len(window),
		GeneratedAt:    t.now().Format(logic.TimestampLayout),
	}
	if !since.IsZero() {
		in.Since = since.Format(logic.TimestampLayout)
	}
	if len(window) > 0 {
		t.last[zone] = window[len(window)-1].Timestamp
	}
	t.cache[zone] = in

	t.log.Debug("insight computed", "zone", zone, "count", len(window))
	return in, nil
}

// Cached returns the most recent insight for zone.
func (t *Tracker) Cached(zone string) (Insight, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	in, ok := t.cache[zone]
	return in, ok
}

// All returns the cached insights in registry order, skipping zones never computed.
func (t *Tracker) All() []Insight {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Insight, 0, len(t.cache))
	for _, z := range logic.Zones() {
		if in, ok := t.cache[z]; ok {
			out = append(out, in)
		}
	}
	return out
}

// Refresh computes every zone.
func (t *Tracker) Refresh() error {
	for _, z := range logic.Zones() {
		if _, err := t.Compute(z); err != nil {
			return fmt.Errorf("insight %s: %w", z, err)
		}
	}
	return nil
}

// Run refreshes every zone immediately and then every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	t.log.Info("insight refresh started", "interval", interval)
	return t.loop(ctx, ticker.C)
}

func (t *Tracker) loop(ctx context.Context, tick <-chan time.Time) error {
	for {
		if err := t.Refresh(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
		}
	}
}
