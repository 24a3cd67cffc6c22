package internal

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/grow-sensor/internal/feed"
	"github.com/sweeney/grow-sensor/internal/history"
	"github.com/sweeney/grow-sensor/internal/insight"
	"github.com/sweeney/grow-sensor/internal/logic"
	"github.com/sweeney/grow-sensor/internal/mqtt"
	"github.com/sweeney/grow-sensor/internal/relay"
	"github.com/sweeney/grow-sensor/internal/status"
	"github.com/sweeney/grow-sensor/internal/web"
)

var (
	quiet     = slog.New(slog.NewTextHandler(io.Discard, nil))
	startTime = time.Date(2026, 1, 8, 12, 0, 0, 0, time.Local)
)

const backfillLen = 7*24*12 + 1

func newStore() *history.Store {
	gen := logic.NewGenerator(5, logic.DefaultAnomalyRate, quiet)
	return history.New(gen, history.WithClock(func() time.Time { return startTime }), history.WithLogger(quiet))
}

func toWS(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func readBatch(t *testing.T, conn *websocket.Conn) []logic.Reading {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read batch: %v", err)
	}
	var batch []logic.Reading
	if err := json.Unmarshal(data, &batch); err != nil {
		t.Fatalf("batch is not a reading array: %v: %s", err, data)
	}
	return batch
}

// TestIntegrationRelayFullFlow runs the feed, the API server and a relay
// client end to end: feed hub -> feed websocket -> /ws relay -> client.
func TestIntegrationRelayFullFlow(t *testing.T) {
	store := newStore()
	hub := feed.NewHub(store, quiet)
	feedSrv := httptest.NewServer(hub)
	defer feedSrv.Close()

	tracker := status.NewTracker(startTime, status.Config{Upstream: toWS(feedSrv, "/")})
	hub.AddSink("status", tracker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx, time.Hour) }()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Ticks() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("hub never produced its first batch")
		}
		time.Sleep(5 * time.Millisecond)
	}

	api := web.New("", web.Deps{
		History:  store,
		Insight:  insight.NewTracker(store, 0, quiet),
		Tracker:  tracker,
		Upstream: relay.NewWebSocketDialer(toWS(feedSrv, "/")),
		Log:      quiet,
	})
	apiSrv := httptest.NewServer(api.Handler())
	defer apiSrv.Close()

	client, _, err := websocket.DefaultDialer.Dial(toWS(apiSrv, "/ws"), nil)
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	defer client.Close()

	// The feed primes new subscribers with the latest batch.
	first := readBatch(t, client)
	zones := logic.Zones()
	if len(first) != len(zones) {
		t.Fatalf("first batch: got %d readings, want %d", len(first), len(zones))
	}
	for i, r := range first {
		if r.Zone != zones[i] {
			t.Errorf("first batch reading %d: got zone %q, want %q", i, r.Zone, zones[i])
		}
	}

	if _, err := hub.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	second := readBatch(t, client)
	for i := range second {
		if got := second[i].Timestamp.Sub(first[i].Timestamp); got != logic.LiveStep {
			t.Errorf("zone %s: step got %v, want %v", second[i].Zone, got, logic.LiveStep)
		}
	}

	// Relayed batches are the ones the store now holds.
	latest, hist, err := store.ReadOnly(zones[0])
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if !latest.Timestamp.Equal(second[0].Timestamp) {
		t.Errorf("store latest %v, relayed %v", latest.Timestamp, second[0].Timestamp)
	}
	if len(hist) != backfillLen+1 {
		t.Errorf("history length: got %d, want %d", len(hist), backfillLen+1)
	}
	if snap := tracker.Snapshot(); snap.ActiveSessions != 1 {
		t.Errorf("active sessions: got %d, want 1", snap.ActiveSessions)
	}

	// Stopping the feed ends the session with a single error payload.
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("hub run: %v", err)
	}
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("expected error payload, got %v", err)
	}
	var payload relay.ErrorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("error payload is not JSON: %v: %s", err, data)
	}
	if !strings.HasPrefix(payload.Error, "upstream feed lost") {
		t.Errorf("error payload: got %q", payload.Error)
	}
	if _, _, err := client.ReadMessage(); err == nil {
		t.Error("expected the relay to close the client after the error payload")
	}
}

// TestIntegrationSinks checks that each tick reaches the status tracker and
// the MQTT publisher once, whatever the number of subscribers.
func TestIntegrationSinks(t *testing.T) {
	store := newStore()
	hub := feed.NewHub(store, quiet)
	tracker := status.NewTracker(startTime, status.Config{Broker: "tcp://test:1883"})
	pub := mqtt.NewFakePublisher()
	hub.AddSink("status", tracker)
	hub.AddSink("mqtt", feed.SinkFunc(func(_ context.Context, batch []logic.Reading) error {
		return pub.PublishBatch(batch)
	}))

	subs := []*feed.Subscription{hub.Subscribe(), hub.Subscribe(), hub.Subscribe()}
	for _, s := range subs {
		defer hub.Unsubscribe(s)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := hub.Tick(ctx); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	if got := pub.BatchCount(); got != 3 {
		t.Errorf("mqtt batches: got %d, want 3", got)
	}
	snap := tracker.Snapshot()
	if snap.Ticks != 3 {
		t.Errorf("tracker ticks: got %d, want 3", snap.Ticks)
	}
	for _, z := range snap.Zones {
		if !z.HasLatest {
			t.Errorf("zone %s has no latest reading", z.Zone)
		}
	}

	// Three ticks after the backfill: each zone holds backfill + 2 readings.
	for _, z := range logic.Zones() {
		n, err := store.Len(z)
		if err != nil {
			t.Fatalf("len %s: %v", z, err)
		}
		if n != backfillLen+2 {
			t.Errorf("zone %s length: got %d, want %d", z, n, backfillLen+2)
		}
	}

	var payload mqtt.BatchPayload
	if err := json.Unmarshal(pub.Payloads[2], &payload); err != nil {
		t.Fatalf("mqtt payload: %v", err)
	}
	if len(payload.Readings) != logic.NumZones() {
		t.Errorf("mqtt payload readings: got %d, want %d", len(payload.Readings), logic.NumZones())
	}
	want := startTime.Add(2 * logic.LiveStep).Format(logic.TimestampLayout)
	if payload.Timestamp != want {
		t.Errorf("mqtt payload timestamp: got %q, want %q", payload.Timestamp, want)
	}
}

// TestIntegrationInsightFollowsFeed checks that insights only cover readings
// produced since the previous insight once the feed is running.
func TestIntegrationInsightFollowsFeed(t *testing.T) {
	store := newStore()
	hub := feed.NewHub(store, quiet)
	insights := insight.NewTracker(store, 0, quiet)
	zone := logic.Zones()[2]

	ctx := context.Background()
	if _, err := hub.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	first, err := insights.Compute(zone)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if first.WindowSize != backfillLen {
		t.Errorf("first window: got %d, want %d", first.WindowSize, backfillLen)
	}

	for i := 0; i < 4; i++ {
		if _, err := hub.Tick(ctx); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	second, err := insights.Compute(zone)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if second.WindowSize != 4 {
		t.Errorf("second window: got %d, want 4", second.WindowSize)
	}

	// Nothing new: the fallback window applies.
	third, err := insights.Compute(zone)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if third.WindowSize != logic.DefaultFallbackWindow {
		t.Errorf("fallback window: got %d, want %d", third.WindowSize, logic.DefaultFallbackWindow)
	}
}
