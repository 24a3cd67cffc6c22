package logic

import (
	"testing"
	"time"
)

const eps = 1e-9

func inBand(v float64, b Band) bool {
	return v >= b.Min-eps && v <= b.Max+eps
}

func TestOffsetFactor(t *testing.T) {
	tests := []struct {
		index, n int
		want     float64
	}{
		{0, 6, -2.5},
		{2, 6, -0.5},
		{3, 6, 0.5},
		{5, 6, 2.5},
		{1, 3, 0},
		{0, 1, 0},
	}
	for _, tt := range tests {
		if got := OffsetFactor(tt.index, tt.n); got != tt.want {
			t.Errorf("OffsetFactor(%d, %d): got %v, want %v", tt.index, tt.n, got, tt.want)
		}
	}
}

func TestBandsForExtremeZones(t *testing.T) {
	first, ok := BandsFor("Babylon 1")
	if !ok {
		t.Fatal("Babylon 1 should be registered")
	}
	last, ok := BandsFor("Bear Mountain")
	if !ok {
		t.Fatal("Bear Mountain should be registered")
	}

	checks := []struct {
		name      string
		got, want float64
	}{
		{"first temp min", first.Temperature.Min, 38},
		{"first temp max", first.Temperature.Max, 48},
		{"first humidity min", first.Humidity.Min, 97.5},
		{"first humidity max (ceiling)", first.Humidity.Max, 100},
		{"first co2 min", first.CO2.Min, 402.5},
		{"first co2 max", first.CO2.Max, 462.5},
		{"last temp min", last.Temperature.Min, 42},
		{"last temp max", last.Temperature.Max, 52},
		{"last humidity min", last.Humidity.Min, 92.5},
		{"last humidity max", last.Humidity.Max, 97.5},
		{"last co2 min", last.CO2.Min, 477.5},
		{"last co2 max", last.CO2.Max, 537.5},
	}
	for _, c := range checks {
		if c.got < c.want-eps || c.got > c.want+eps {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestBandsForUnknownZoneIsBaseline(t *testing.T) {
	b, ok := BandsFor("Greenhouse 9")
	if ok {
		t.Error("expected unknown zone to report ok=false")
	}
	if b != baseline {
		t.Errorf("expected baseline bands, got %+v", b)
	}
}

func TestBandsHumidityFloor(t *testing.T) {
	b := bandsForOffset(20)
	if b.Humidity.Min != humidityFloor || b.Humidity.Max != humidityFloor {
		t.Errorf("expected humidity pinned to floor, got %+v", b.Humidity)
	}
	if b.CO2.Min < co2Floor {
		t.Errorf("CO2 min below floor: %v", b.CO2.Min)
	}
	b = bandsForOffset(-20)
	if b.CO2.Min != co2Floor {
		t.Errorf("expected CO2 min clamped to %v, got %v", co2Floor, b.CO2.Min)
	}
}

func TestGenerateWithinNormalBand(t *testing.T) {
	g := NewGenerator(42, 0, nil)
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, zone := range Zones() {
		bands, _ := BandsFor(zone)
		for i := 0; i < 500; i++ {
			r := g.Generate(zone, at.Add(time.Duration(i)*BackfillInterval))
			if r.Anomaly {
				t.Fatalf("%s: anomaly with zero anomaly rate", zone)
			}
			if !inBand(r.Temperature, bands.Temperature) {
				t.Errorf("%s: temperature %v outside %+v", zone, r.Temperature, bands.Temperature)
			}
			if !inBand(r.Humidity, bands.Humidity) {
				t.Errorf("%s: humidity %v outside %+v", zone, r.Humidity, bands.Humidity)
			}
			if !inBand(float64(r.CO2), bands.CO2) {
				t.Errorf("%s: CO2 %d outside %+v", zone, r.CO2, bands.CO2)
			}
		}
	}
}

func TestGenerateAnomalyBand(t *testing.T) {
	g := NewGenerator(7, 1, nil)
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for _, zone := range Zones() {
		normal, _ := BandsFor(zone)
		anomaly := normal.AnomalyBands()
		for i := 0; i < 200; i++ {
			r := g.Generate(zone, at)
			if !r.Anomaly {
				t.Fatalf("%s: expected anomaly with rate 1", zone)
			}
			if !inBand(r.Temperature, anomaly.Temperature) || r.Temperature <= normal.Temperature.Max {
				t.Errorf("%s: anomalous temperature %v not above %v", zone, r.Temperature, normal.Temperature.Max)
			}
			if !inBand(r.Humidity, anomaly.Humidity) || r.Humidity >= normal.Humidity.Min {
				t.Errorf("%s: anomalous humidity %v not below %v", zone, r.Humidity, normal.Humidity.Min)
			}
			if !inBand(float64(r.CO2), anomaly.CO2) || float64(r.CO2) <= normal.CO2.Max {
				t.Errorf("%s: anomalous CO2 %d not above %v", zone, r.CO2, normal.CO2.Max)
			}
		}
	}
}

func TestGenerateRoundsToOneDecimal(t *testing.T) {
	g := NewGenerator(99, DefaultAnomalyRate, nil)
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		r := g.Generate("Mine", at)
		if d := r.Temperature*10 - float64(int64(r.Temperature*10+0.5)); d > 1e-6 || d < -1e-6 {
			t.Errorf("temperature %v has more than one decimal", r.Temperature)
		}
		if d := r.Humidity*10 - float64(int64(r.Humidity*10+0.5)); d > 1e-6 || d < -1e-6 {
			t.Errorf("humidity %v has more than one decimal", r.Humidity)
		}
	}
}

func TestGenerateTruncatesTimestampAndCarriesZone(t *testing.T) {
	g := NewGenerator(1, 0, nil)
	at := time.Date(2026, 3, 4, 5, 6, 7, 890_000_000, time.UTC)

	r := g.Generate("Tent 1", at)
	if !r.Timestamp.Equal(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)) {
		t.Errorf("timestamp not truncated: %v", r.Timestamp)
	}
	if r.Zone != "Tent 1" {
		t.Errorf("zone: got %q, want Tent 1", r.Zone)
	}
}

func TestGenerateDeterministicForSeed(t *testing.T) {
	a := NewGenerator(1234, DefaultAnomalyRate, nil)
	b := NewGenerator(1234, DefaultAnomalyRate, nil)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 50; i++ {
		ra := a.Generate("Babylon 2", at)
		rb := b.Generate("Babylon 2", at)
		if ra != rb {
			t.Fatalf("reading %d differs: %+v vs %+v", i, ra, rb)
		}
	}
}

func TestGenerateUnknownZoneDegrades(t *testing.T) {
	g := NewGenerator(5, 0, nil)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r := g.Generate("Attic", at)
	if r.Zone != "Attic" {
		t.Errorf("zone: got %q, want Attic", r.Zone)
	}
	if !inBand(r.Temperature, baseline.Temperature) {
		t.Errorf("temperature %v outside baseline", r.Temperature)
	}
	if !g.Degraded("Attic") {
		t.Error("expected Attic to be flagged as degraded")
	}
	if g.Degraded("Mine") {
		t.Error("registered zone should not be flagged")
	}
}
