package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/grow-sensor/internal/config"
	"github.com/sweeney/grow-sensor/internal/logic"
	"github.com/sweeney/grow-sensor/internal/mqtt"
	"github.com/sweeney/grow-sensor/internal/status"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Only called from runLoop's goroutine.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// runRunLoop drives runLoop through nBeats heartbeats and then the given
// signal, returning runLoop's error.
func runRunLoop(t *testing.T, pub mqtt.Publisher, conn mqtt.ConnectionStatus, tracker *status.Tracker, nBeats int, s os.Signal) error {
	t.Helper()
	beat := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	clock := fakeClock(time.Date(2026, 1, 8, 12, 0, 0, 0, time.UTC), time.Minute)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(context.Background(), pub, conn, tracker, clock, beat, sig, quiet)
	}()

	for i := 0; i < nBeats; i++ {
		beat <- time.Time{}
	}
	sig <- s

	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("runLoop did not return after signal")
		return nil
	}
}

func newTestTracker() *status.Tracker {
	return status.NewTracker(time.Date(2026, 1, 8, 11, 0, 0, 0, time.UTC), status.Config{Broker: "tcp://test:1883"})
}

func TestRunLoopShutdownOnSignal(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	err := runRunLoop(t, pub, pub, newTestTracker(), 0, syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if len(pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(pub.SystemEvents))
	}
	ev := pub.SystemEvents[0]
	if ev.Event != mqtt.EventShutdown {
		t.Errorf("event: got %q, want %q", ev.Event, mqtt.EventShutdown)
	}
	if ev.Reason != "SIGTERM" {
		t.Errorf("reason: got %q, want SIGTERM", ev.Reason)
	}
	if !ev.Retained {
		t.Error("shutdown event should be retained")
	}

	var payload status.StatusJSON
	if err := json.Unmarshal(pub.SystemPayloads[0], &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload.Status.Event != mqtt.EventShutdown || payload.Status.Reason != "SIGTERM" {
		t.Errorf("payload event/reason: got %q/%q", payload.Status.Event, payload.Status.Reason)
	}
}

func TestRunLoopHeartbeats(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	tracker := newTestTracker()

	if err := runRunLoop(t, pub, pub, tracker, 2, syscall.SIGINT); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	got := strings.Join(pub.Events(), ",")
	want := "HEARTBEAT,HEARTBEAT,SHUTDOWN"
	if got != want {
		t.Errorf("events: got %s, want %s", got, want)
	}
	if pub.SystemEvents[0].Retained {
		t.Error("heartbeat should not be retained")
	}
	if !pub.SystemEvents[1].Timestamp.After(pub.SystemEvents[0].Timestamp) {
		t.Error("heartbeat timestamps should come from the injected clock")
	}
	if pub.SystemEvents[2].Reason != "SIGINT" {
		t.Errorf("reason: got %q, want SIGINT", pub.SystemEvents[2].Reason)
	}
	if !tracker.Snapshot().MQTTConnected {
		t.Error("tracker should record the MQTT connection state")
	}
}

func TestRunLoopPublishErrorIsNotFatal(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.PublishSystemError = errors.New("broker down")

	if err := runRunLoop(t, pub, pub, newTestTracker(), 3, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if len(pub.SystemEvents) != 0 {
		t.Errorf("expected no recorded events, got %d", len(pub.SystemEvents))
	}
}

func TestRunLoopWithoutPublisher(t *testing.T) {
	if err := runRunLoop(t, nil, nil, newTestTracker(), 1, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
}

func TestRunLoopStopsOnCancel(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(ctx, pub, pub, newTestTracker(), time.Now, nil, nil, quiet)
	}()
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runLoop returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runLoop did not return after cancel")
	}
	if len(pub.SystemEvents) != 1 || pub.SystemEvents[0].Reason != "ERROR" {
		t.Errorf("expected one SHUTDOWN with reason ERROR, got %+v", pub.SystemEvents)
	}
}

func TestSignalName(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := signalName(tt.sig); got != tt.want {
			t.Errorf("signalName(%v): got %q, want %q", tt.sig, got, tt.want)
		}
	}
}

func TestPrintState(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Generator.Seed = 7

	var buf bytes.Buffer
	if err := printState(&buf, cfg, quiet); err != nil {
		t.Fatalf("printState: %v", err)
	}

	var readings []logic.Reading
	if err := json.Unmarshal(buf.Bytes(), &readings); err != nil {
		t.Fatalf("output is not a reading array: %v\n%s", err, buf.String())
	}
	zones := logic.Zones()
	if len(readings) != len(zones) {
		t.Fatalf("readings: got %d, want %d", len(readings), len(zones))
	}
	for i, r := range readings {
		if r.Zone != zones[i] {
			t.Errorf("reading %d zone: got %q, want %q", i, r.Zone, zones[i])
		}
		if time.Since(r.Timestamp) > time.Minute {
			t.Errorf("reading %d should be current, got %v", i, r.Timestamp)
		}
	}
}

func TestRootCommandPrintState(t *testing.T) {
	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })

	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs([]string{"print-state", "--config", t.TempDir(), "--seed", "3", "--log-level", "error"})
	root.SetOut(&out)
	root.SetErr(io.Discard)
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), `"zone": "Babylon 1"`) {
		t.Errorf("output should list the first zone:\n%s", out.String())
	}
}

func TestRootCommandRejectsBadConfig(t *testing.T) {
	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })

	root := newRootCmd()
	root.SetArgs([]string{"print-state", "--config", t.TempDir(), "--log-format", "xml"})
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "log format") {
		t.Errorf("expected a log format error, got %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"})
	log.Info("hidden")
	log.Warn("shown", "zone", "Mine")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info should be filtered at warn level")
	}
	var line map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", out, err)
	}
	if line["msg"] != "shown" || line["zone"] != "Mine" {
		t.Errorf("unexpected log line: %v", line)
	}
}
