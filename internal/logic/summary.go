package logic

import (
	"math"
	"sort"
	"time"
)

// DefaultFallbackWindow is the trailing window used when nothing is newer
// than the last summary: about one day at BackfillInterval cadence.
const DefaultFallbackWindow = 288

// SamplesFrom converts readings to aggregator samples with every metric present.
func SamplesFrom(readings []Reading) []Sample {
	out := make([]Sample, len(readings))
	for i, r := range readings {
		t, h, c := r.Temperature, r.Humidity, float64(r.CO2)
		out[i] = Sample{Temperature: &t, Humidity: &h, CO2: &c}
	}
	return out
}

// Summarize reduces samples to per-metric min/max/avg. Samples missing a
// metric are skipped for that metric only. Averages are rounded to one
// decimal for temperature and humidity and to a whole number for CO2.
func Summarize(samples []Sample) Summary {
	var temps, hums, co2s []float64
	for _, s := range samples {
		if s.Temperature != nil {
			temps = append(temps, *s.Temperature)
		}
		if s.Humidity != nil {
			hums = append(hums, *s.Humidity)
		}
		if s.CO2 != nil {
			co2s = append(co2s, *s.CO2)
		}
	}
	return Summary{
		Temperature: stat(temps, 1),
		Humidity:    stat(hums, 1),
		CO2:         stat(co2s, 0),
	}
}

// SummarizeReadings is Summarize over fully populated readings.
func SummarizeReadings(readings []Reading) Summary {
	return Summarize(SamplesFrom(readings))
}

func stat(values []float64, places int) Stat {
	if len(values) == 0 {
		return Stat{}
	}
	lo, hi, sum := values[0], values[0], 0.0
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		sum += v
	}
	avg := roundTo(sum/float64(len(values)), places)
	return Stat{Min: &lo, Max: &hi, Avg: &avg}
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// SelectWindow picks the readings a new summary should cover.
//
// With a zero since the whole history is used. Otherwise only readings
// strictly newer than since are used; if there are none but history is not
// empty, the trailing fallback readings are used instead so a summary is
// never empty while data exists. A fallback <= 0 means the whole history.
// history must be in timestamp order.
func SelectWindow(history []Reading, since time.Time, fallback int) []Reading {
	if since.IsZero() {
		return history
	}
	i := sort.Search(len(history), func(i int) bool {
		return history[i].Timestamp.After(since)
	})
	if i < len(history) {
		return history[i:]
	}
	if fallback <= 0 || fallback >= len(history) {
		return history
	}
	return history[len(history)-fallback:]
}
