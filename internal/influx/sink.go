// Package influx writes reading batches to InfluxDB.
package influx

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/sweeney/grow-sensor/internal/logic"
)

// Measurement is the InfluxDB measurement readings are written to.
const Measurement = "zone_reading"

// Sink writes one point per reading.
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewSink connects to the InfluxDB server at url.
func NewSink(url, token, org, bucket string) *Sink {
	client := influxdb2.NewClient(url, token)
	return &Sink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
	}
}

// NewSinkWithWriter wraps an existing write API. Close is a no-op.
func NewSinkWithWriter(w api.WriteAPIBlocking) *Sink {
	return &Sink{writeAPI: w}
}

// Point converts a reading to its InfluxDB point.
func Point(r logic.Reading) *write.Point {
	return influxdb2.NewPointWithMeasurement(Measurement).
		AddTag("zone", r.Zone).
		AddField("temperature", r.Temperature).
		AddField("humidity", r.Humidity).
		AddField("co2", r.CO2).
		AddField("anomaly", r.Anomaly).
		SetTime(r.Timestamp)
}

// WriteBatch writes every reading of the batch in one request.
func (s *Sink) WriteBatch(ctx context.Context, batch []logic.Reading) error {
	if len(batch) == 0 {
		return nil
	}
	points := make([]*write.Point, len(batch))
	for i, r := range batch {
		points[i] = Point(r)
	}
	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx write %d points: %w", len(points), err)
	}
	return nil
}

// Close releases the client.
func (s *Sink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
