// Package feed produces the live batch stream: once per tick every zone is
// advanced by one reading and the resulting batch is pushed to websocket
// subscribers and to any registered sinks.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sweeney/grow-sensor/internal/logic"
	"github.com/sweeney/grow-sensor/internal/metrics"
)

// DefaultTick is the batch cadence.
const DefaultTick = 5 * time.Second

// subscriberBuffer is how many batches a slow subscriber may fall behind
// before batches are dropped for it.
const subscriberBuffer = 4

// Advancer advances a zone by one reading. *history.Store satisfies it.
type Advancer interface {
	Advance(zone string) (logic.Reading, error)
}

// Sink receives every batch. Errors are logged and counted, never fatal.
type Sink interface {
	WriteBatch(ctx context.Context, batch []logic.Reading) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, batch []logic.Reading) error

// WriteBatch calls f.
func (f SinkFunc) WriteBatch(ctx context.Context, batch []logic.Reading) error {
	return f(ctx, batch)
}

type namedSink struct {
	name string
	Sink
}

// Subscription delivers encoded batches. C is closed when the hub stops or
// the subscription is removed.
type Subscription struct {
	C  <-chan []byte
	ch chan []byte
}

// Hub owns the tick loop and the subscriber set.
type Hub struct {
	src   Advancer
	zones []string
	log   *slog.Logger

	mu         sync.Mutex
	sinks      []namedSink
	subs       map[*Subscription]struct{}
	latest     []logic.Reading
	latestJSON []byte
	ticks      int
	stopped    bool
}

// NewHub creates a hub that advances every registered zone on each tick.
func NewHub(src Advancer, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		src:   src,
		zones: logic.Zones(),
		log:   log,
		subs:  make(map[*Subscription]struct{}),
	}
}

// AddSink registers a sink under name. Sinks are called in registration order.
func (h *Hub) AddSink(name string, s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, namedSink{name: name, Sink: s})
}

// Run ticks every interval until ctx is done, then closes every subscription.
// The first batch is produced immediately.
func (h *Hub) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	h.log.Info("feed started", "tick", interval, "zones", len(h.zones))
	return h.loop(ctx, ticker.C)
}

func (h *Hub) loop(ctx context.Context, tick <-chan time.Time) error {
	defer h.stop()

	if _, err := h.Tick(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			h.log.Info("feed stopping")
			return nil
		case <-tick:
			if _, err := h.Tick(ctx); err != nil {
				return err
			}
		}
	}
}

// Tick advances every zone by one reading and distributes the batch.
// An error means a zone could not be advanced, which only happens if the
// registry and the store disagree.
func (h *Hub) Tick(ctx context.Context) ([]logic.Reading, error) {
	batch := make([]logic.Reading, 0, len(h.zones))
	for _, z := range h.zones {
		latest, err := h.src.Advance(z)
		if err != nil {
			return nil, fmt.Errorf("advance %s: %w", z, err)
		}
		batch = append(batch, latest)
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}

	h.mu.Lock()
	h.latest = batch
	h.latestJSON = data
	h.ticks++
	for sub := range h.subs {
		select {
		case sub.ch <- data:
		default:
			metrics.FeedDropped.Inc()
		}
	}
	sinks := h.sinks
	h.mu.Unlock()

	metrics.FeedTicks.Inc()
	for _, s := range sinks {
		if err := s.WriteBatch(ctx, batch); err != nil {
			metrics.SinkErrors.WithLabelValues(s.name).Inc()
			h.log.Warn("sink write failed", "sink", s.name, "err", err)
		}
	}
	return batch, nil
}

// Subscribe registers a subscriber. If a batch has already been produced it
// is delivered straight away. Subscribing to a stopped hub returns a closed
// subscription.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan []byte, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		close(ch)
		return sub
	}
	if h.latestJSON != nil {
		ch <- h.latestJSON
	}
	h.subs[sub] = struct{}{}
	metrics.FeedSubscribers.Set(float64(len(h.subs)))
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
	metrics.FeedSubscribers.Set(float64(len(h.subs)))
}

// Latest returns a copy of the most recent batch, or nil before the first tick.
func (h *Hub) Latest() []logic.Reading {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest == nil {
		return nil
	}
	out := make([]logic.Reading, len(h.latest))
	copy(out, h.latest)
	return out
}

// Ticks returns the number of batches produced.
func (h *Hub) Ticks() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ticks
}

// Subscribers returns the number of current subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	for sub := range h.subs {
		close(sub.ch)
		delete(h.subs, sub)
	}
	metrics.FeedSubscribers.Set(0)
}
