// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReadingsGenerated counts readings added to a zone's history, backfill included.
	ReadingsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grow_readings_generated_total",
		Help: "Readings generated per zone",
	}, []string{"zone"})

	// Anomalies counts readings drawn from the anomaly band.
	Anomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grow_anomalies_total",
		Help: "Anomalous readings generated per zone",
	}, []string{"zone"})

	// HistoryLength tracks the number of stored readings per zone.
	HistoryLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "grow_history_readings",
		Help: "Readings currently held in each zone's history",
	}, []string{"zone"})

	// InvalidZoneRequests counts requests rejected for an unknown zone.
	InvalidZoneRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grow_invalid_zone_requests_total",
		Help: "Requests rejected because the zone is not registered",
	})

	// FeedTicks counts batches produced by the feed hub.
	FeedTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grow_feed_ticks_total",
		Help: "Batches produced by the feed",
	})

	// FeedSubscribers tracks connected feed clients.
	FeedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grow_feed_subscribers",
		Help: "Websocket clients subscribed to the feed",
	})

	// FeedDropped counts batches dropped for slow subscribers.
	FeedDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grow_feed_dropped_batches_total",
		Help: "Batches dropped because a subscriber was not keeping up",
	})

	// SinkErrors counts failed sink writes by sink name.
	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grow_sink_errors_total",
		Help: "Failed batch writes per sink",
	}, []string{"sink"})

	// RelaySessionsActive tracks relay sessions currently running.
	RelaySessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "grow_relay_sessions_active",
		Help: "Relay sessions currently running",
	})

	// RelaySessions counts finished relay sessions by outcome.
	RelaySessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "grow_relay_sessions_total",
		Help: "Finished relay sessions by outcome",
	}, []string{"outcome"})

	// RelayForwarded counts upstream messages forwarded to clients.
	RelayForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grow_relay_messages_forwarded_total",
		Help: "Upstream messages forwarded downstream",
	})
)
