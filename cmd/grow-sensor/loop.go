package main

import (
	"context"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/grow-sensor/internal/mqtt"
	"github.com/sweeney/grow-sensor/internal/status"
)

// runLoop publishes lifecycle events until a signal arrives or ctx is done.
// publisher and mqttStatus may be nil when MQTT is disabled; a nil heartbeat
// channel disables heartbeats.
func runLoop(ctx context.Context, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, heartbeat <-chan time.Time, sig <-chan os.Signal, log *slog.Logger) error {
	for {
		select {
		case s := <-sig:
			log.Info("shutting down", "signal", s)
			publishSystem(publisher, mqttStatus, tracker, now, mqtt.EventShutdown, signalName(s), log)
			return nil

		case <-ctx.Done():
			log.Info("shutting down", "err", context.Cause(ctx))
			publishSystem(publisher, mqttStatus, tracker, now, mqtt.EventShutdown, "ERROR", log)
			return nil

		case <-heartbeat:
			snap := tracker.Snapshot()
			log.Info("heartbeat", "uptime", snap.Uptime().Truncate(time.Second), "ticks", snap.Ticks,
				"sessions", snap.ActiveSessions)
			publishSystem(publisher, mqttStatus, tracker, now, mqtt.EventHeartbeat, "", log)
		}
	}
}

func publishSystem(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, event, reason string, log *slog.Logger) {
	if publisher == nil {
		return
	}
	e := mqtt.SystemEvent{
		Timestamp: now(),
		Event:     event,
		Reason:    reason,
		Retained:  event != mqtt.EventHeartbeat,
	}
	if tracker != nil {
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
		e.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), event, reason)
	}
	if err := publisher.PublishSystem(e); err != nil {
		log.Warn("system event publish failed", "event", event, "err", err)
		return
	}
	log.Info("published system event", "event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
