package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/grow-sensor/internal/config"
	"github.com/sweeney/grow-sensor/internal/feed"
	"github.com/sweeney/grow-sensor/internal/history"
	"github.com/sweeney/grow-sensor/internal/influx"
	"github.com/sweeney/grow-sensor/internal/insight"
	"github.com/sweeney/grow-sensor/internal/logic"
	"github.com/sweeney/grow-sensor/internal/mqtt"
	"github.com/sweeney/grow-sensor/internal/relay"
	"github.com/sweeney/grow-sensor/internal/status"
	"github.com/sweeney/grow-sensor/internal/web"
)

const shutdownTimeout = 5 * time.Second

func statusConfig(cfg *config.Config) status.Config {
	return status.Config{
		TickMs:      cfg.Feed.Tick.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		InsightMs:   cfg.Insight.Interval.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
		FeedAddr:    cfg.Feed.Addr,
		Upstream:    cfg.Relay.Upstream,
		InfluxURL:   cfg.Influx.URL,
	}
}

func newStore(cfg *config.Config, log *slog.Logger) *history.Store {
	gen := logic.NewGenerator(cfg.Generator.Seed, cfg.Generator.AnomalyRate, log)
	return history.New(gen, history.WithRetention(cfg.History.Retention), history.WithLogger(log))
}

func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	store := newStore(cfg, log)
	tracker := status.NewTracker(time.Now(), statusConfig(cfg))

	hub := feed.NewHub(store, log)
	hub.AddSink("status", tracker)
	hub.AddSink("history", feed.SinkFunc(func(_ context.Context, batch []logic.Reading) error {
		for _, r := range batch {
			n, err := store.Len(r.Zone)
			if err != nil {
				return err
			}
			tracker.SetHistoryLen(r.Zone, n)
		}
		return nil
	}))

	// Publisher and ConnectionStatus stay nil interfaces when MQTT is off.
	var publisher mqtt.Publisher
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Broker != "" {
		p := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, log)
		defer p.Close()
		publisher, mqttStatus = p, p
		hub.AddSink("mqtt", feed.SinkFunc(func(_ context.Context, batch []logic.Reading) error {
			tracker.SetMQTTConnected(p.IsConnected())
			return p.PublishBatch(batch)
		}))
	}

	if cfg.Influx.URL != "" {
		s := influx.NewSink(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket)
		defer s.Close()
		hub.AddSink("influx", s)
		log.Info("influx sink enabled", "url", cfg.Influx.URL, "bucket", cfg.Influx.Bucket)
	}

	insights := insight.NewTracker(store, cfg.Insight.Fallback, log)

	if publisher != nil {
		snap := tracker.Snapshot()
		startup := mqtt.SystemEvent{
			Timestamp:  snap.Now,
			Event:      mqtt.EventStartup,
			Retained:   true,
			RawPayload: status.FormatStatusEvent(snap, mqtt.EventStartup, ""),
		}
		if err := publisher.PublishSystem(startup); err != nil {
			log.Warn("failed to publish startup event", "err", err)
		} else {
			log.Info("published startup event")
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return hub.Run(gctx, cfg.Feed.Tick) })
	if cfg.Insight.Interval > 0 {
		g.Go(func() error { return insights.Run(gctx, cfg.Insight.Interval) })
	}

	if cfg.Feed.Addr != "" {
		feedSrv := feed.NewServer(cfg.Feed.Addr, hub)
		serveHTTP(gctx, g, "feed", feedSrv.ListenAndServe, feedSrv.Shutdown, log)
		log.Info("feed listening", "addr", cfg.Feed.Addr)
	}

	srv := web.New(cfg.HTTP.Addr, web.Deps{
		History:  store,
		Insight:  insights,
		Tracker:  tracker,
		Upstream: relay.NewWebSocketDialer(cfg.Relay.Upstream),
		Log:      log,
	})
	serveHTTP(gctx, g, "http", srv.ListenAndServe, srv.Shutdown, log)
	log.Info("http listening", "addr", cfg.HTTP.Addr, "upstream", cfg.Relay.Upstream)

	var heartbeat <-chan time.Time
	if cfg.Heartbeat > 0 {
		t := time.NewTicker(cfg.Heartbeat)
		defer t.Stop()
		heartbeat = t.C
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	log.Info("started", "tick", cfg.Feed.Tick, "broker", cfg.MQTT.Broker, "heartbeat", cfg.Heartbeat)

	g.Go(func() error {
		defer cancel()
		return runLoop(gctx, publisher, mqttStatus, tracker, time.Now, heartbeat, sigCh, log)
	})
	return g.Wait()
}

// serveHTTP runs an HTTP server in g and shuts it down once ctx is done.
func serveHTTP(ctx context.Context, g *errgroup.Group, name string, listen func() error, shutdown func(context.Context) error, log *slog.Logger) {
	g.Go(func() error {
		if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			log.Warn("server shutdown", "server", name, "err", err)
		}
		return nil
	})
}

// runFeed serves only the websocket feed, for deployments where relays run elsewhere.
func runFeed(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.Feed.Addr == "" {
		return errors.New("feed address is required")
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := feed.NewHub(newStore(cfg, log), log)
	srv := feed.NewServer(cfg.Feed.Addr, hub)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx, cfg.Feed.Tick) })
	serveHTTP(gctx, g, "feed", srv.ListenAndServe, srv.Shutdown, log)
	log.Info("feed listening", "addr", cfg.Feed.Addr, "tick", cfg.Feed.Tick)
	return g.Wait()
}

// printState backfills every zone and writes the latest reading of each as JSON.
func printState(w io.Writer, cfg *config.Config, log *slog.Logger) error {
	store := newStore(cfg, log)
	latest := make([]logic.Reading, 0, logic.NumZones())
	for _, z := range logic.Zones() {
		r, _, err := store.ReadOnly(z)
		if err != nil {
			return fmt.Errorf("read %s: %w", z, err)
		}
		latest = append(latest, r)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(latest)
}
