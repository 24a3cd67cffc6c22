package logic

import (
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// DefaultAnomalyRate gives roughly one anomaly per day at BackfillInterval cadence.
const DefaultAnomalyRate = 1.0 / 288

// ErrGenerationDegraded marks a reading generated for a zone outside the
// registry. Such readings use the baseline bands. It is logged, never returned.
var ErrGenerationDegraded = errors.New("generation degraded: unknown zone, using baseline variation")

// Per-unit offsets applied to the baseline ranges.
const (
	tempPerUnit     = 0.8
	humidityPerUnit = -1.0
	co2PerUnit      = 15.0
)

var baseline = Bands{
	Temperature: Band{Min: 40, Max: 50},
	Humidity:    Band{Min: 95, Max: 100},
	CO2:         Band{Min: 440, Max: 500},
}

// Clamps applied after the zone offset.
const (
	humidityFloor   = 85.0
	humidityCeiling = 100.0
	co2Floor        = 300.0
)

// OffsetFactor centres zone variation on the middle of the registry, so the
// zones at either end diverge the most.
func OffsetFactor(index, numZones int) float64 {
	return float64(index) - float64(numZones-1)/2
}

// BandsFor returns the zone-adjusted normal bands. The bool is false when the
// zone is not registered; the baseline bands are returned in that case.
func BandsFor(zone string) (Bands, bool) {
	idx, ok := ZoneIndex(zone)
	if !ok {
		return baseline, false
	}
	return bandsForOffset(OffsetFactor(idx, NumZones())), true
}

func bandsForOffset(off float64) Bands {
	return Bands{
		Temperature: Band{
			Min: baseline.Temperature.Min + tempPerUnit*off,
			Max: baseline.Temperature.Max + tempPerUnit*off,
		},
		Humidity: Band{
			Min: clamp(baseline.Humidity.Min+humidityPerUnit*off, humidityFloor, humidityCeiling),
			Max: clamp(baseline.Humidity.Max+humidityPerUnit*off, humidityFloor, humidityCeiling),
		},
		CO2: Band{
			Min: math.Max(co2Floor, baseline.CO2.Min+co2PerUnit*off),
			Max: math.Max(co2Floor, baseline.CO2.Max+co2PerUnit*off),
		},
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

// AnomalyBands returns the out-of-band ranges for anomalous readings: hotter,
// drier and more CO2 than the normal bands allow.
func (b Bands) AnomalyBands() Bands {
	return Bands{
		Temperature: Band{Min: b.Temperature.Max + 5, Max: b.Temperature.Max + 15},
		Humidity:    Band{Min: b.Humidity.Min - 20, Max: b.Humidity.Min - 10},
		CO2:         Band{Min: b.CO2.Max + 100, Max: b.CO2.Max + 300},
	}
}

// Generator produces synthetic readings. Safe for concurrent use.
type Generator struct {
	mu          sync.Mutex
	rnd         *rand.Rand
	anomalyRate float64
	log         *slog.Logger
	degraded    map[string]bool
}

// NewGenerator creates a generator. A zero seed seeds from the clock.
// anomalyRate is the probability that any single reading is anomalous.
func NewGenerator(seed uint64, anomalyRate float64, log *slog.Logger) *Generator {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	if log == nil {
		log = slog.Default()
	}
	return &Generator{
		rnd:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		anomalyRate: anomalyRate,
		log:         log,
		degraded:    make(map[string]bool),
	}
}

// Generate returns one reading for zone at the given instant, truncated to
// whole seconds. Unknown zones fall back to the baseline bands.
func (g *Generator) Generate(zone string, at time.Time) Reading {
	bands, ok := BandsFor(zone)

	g.mu.Lock()
	defer g.mu.Unlock()

	if !ok && !g.degraded[zone] {
		g.degraded[zone] = true
		g.log.Warn("zone not in registry", "zone", zone, "err", ErrGenerationDegraded)
	}

	r := Reading{
		Timestamp: at.Truncate(time.Second),
		Zone:      zone,
	}
	if g.rnd.Float64() < g.anomalyRate {
		bands = bands.AnomalyBands()
		r.Anomaly = true
	}
	r.Temperature = round1(g.uniform(bands.Temperature))
	r.Humidity = round1(g.uniform(bands.Humidity))
	r.CO2 = g.intBetween(bands.CO2)
	return r
}

// Degraded reports whether Generate has been called for zone outside the registry.
func (g *Generator) Degraded(zone string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.degraded[zone]
}

func (g *Generator) uniform(b Band) float64 {
	return b.Min + g.rnd.Float64()*(b.Max-b.Min)
}

// intBetween draws an integer within the band, inclusive.
func (g *Generator) intBetween(b Band) int {
	lo := int(math.Ceil(b.Min))
	hi := int(math.Floor(b.Max))
	if hi <= lo {
		return lo
	}
	return lo + g.rnd.IntN(hi-lo+1)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
