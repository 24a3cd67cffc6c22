// Package relay bridges the upstream reading feed to individual downstream clients.
//
// Each accepted client gets its own Session. A session dials the feed, then
// waits on both connections at once: upstream messages are forwarded verbatim,
// client messages only prove the client is alive, and a close or error on
// either side ends the session. A lost upstream is never redialled; the client
// gets one error payload and must reconnect to start a new session.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sweeney/grow-sensor/internal/metrics"
)

// ErrUpstreamUnavailable is returned when the feed cannot be reached or drops mid-session.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// State is a session lifecycle state.
type State string

const (
	StateConnecting State = "CONNECTING"
	StateRelaying   State = "RELAYING"
	StateClosing    State = "CLOSING"
)

// Session outcomes, used as metric labels and in logs.
const (
	OutcomeDownstreamClosed    = "downstream_closed"
	OutcomeUpstreamUnavailable = "upstream_unavailable"
	OutcomeUpstreamLost        = "upstream_lost"
	OutcomeCancelled           = "cancelled"
)

// ErrorPayload is sent downstream in place of a batch when the feed is unavailable.
type ErrorPayload struct {
	Error string `json:"error"`
}

// Session relays the feed to one downstream connection. The downstream
// connection is owned by the caller, which must close it after Run returns.
type Session struct {
	id     string
	down   Conn
	dialer Dialer
	log    *slog.Logger

	mu        sync.RWMutex
	state     State
	forwarded int
}

// NewSession creates a session for down. Nothing is dialled until Run.
func NewSession(down Conn, dialer Dialer, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		down:   down,
		dialer: dialer,
		log:    log.With("session", id),
		state:  StateConnecting,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Forwarded returns the number of upstream messages sent downstream.
func (s *Session) Forwarded() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.forwarded
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run dials the upstream feed and relays until either side closes or ctx is
// cancelled. It returns nil when the client went away, an error wrapping
// ErrUpstreamUnavailable when the feed could not be reached or was lost, and
// ctx.Err() on cancellation. The upstream connection is always closed on return.
func (s *Session) Run(ctx context.Context) error {
	metrics.RelaySessionsActive.Inc()
	defer metrics.RelaySessionsActive.Dec()

	s.setState(StateConnecting)
	up, err := s.dialer.Dial(ctx)
	if err != nil {
		s.setState(StateClosing)
		s.log.Warn("upstream dial failed", "err", err)
		s.sendError(fmt.Sprintf("upstream feed unavailable: %v", err))
		metrics.RelaySessions.WithLabelValues(OutcomeUpstreamUnavailable).Inc()
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	s.setState(StateRelaying)
	s.log.Info("relay session started")

	outcome, err := s.relay(ctx, up)

	s.setState(StateClosing)
	metrics.RelaySessions.WithLabelValues(outcome).Inc()
	s.log.Info("relay session closed", "outcome", outcome, "forwarded", s.Forwarded())
	return err
}

type message struct {
	typ  int
	data []byte
	err  error
}

// relay runs the RELAYING state. Each connection has a pump goroutine that
// performs one blocking read at a time and hands the result over an
// unbuffered channel, so the select below takes exactly one winner per
// iteration and a read that lost the race is delivered on a later iteration
// rather than dropped. On return both pending reads are interrupted and both
// pumps have exited.
func (s *Session) relay(ctx context.Context, up Conn) (string, error) {
	upCh := make(chan message)
	downCh := make(chan message)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pump(up, upCh, done)
	}()
	go func() {
		defer wg.Done()
		pump(s.down, downCh, done)
	}()

	defer func() {
		close(done)
		if err := up.Close(); err != nil {
			s.log.Debug("close upstream", "err", err)
		}
		// The client connection is closed by its owner; expiring the read
		// deadline is enough to release the pending read.
		if err := s.down.SetReadDeadline(time.Now()); err != nil {
			s.log.Debug("expire downstream read", "err", err)
		}
		wg.Wait()
	}()

	for {
		select {
		case m := <-downCh:
			if m.err != nil {
				s.log.Debug("downstream closed", "err", m.err)
				return OutcomeDownstreamClosed, nil
			}
			// Push-only protocol: client messages are not acted on.
			s.log.Debug("client message ignored", "bytes", len(m.data))

		case m := <-upCh:
			if m.err != nil {
				s.log.Warn("upstream lost", "err", m.err)
				s.sendError(fmt.Sprintf("upstream feed lost: %v", m.err))
				return OutcomeUpstreamLost, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, m.err)
			}
			if err := s.down.WriteMessage(m.typ, m.data); err != nil {
				s.log.Debug("downstream write failed", "err", err)
				return OutcomeDownstreamClosed, nil
			}
			s.mu.Lock()
			s.forwarded++
			s.mu.Unlock()
			metrics.RelayForwarded.Inc()

		case <-ctx.Done():
			return OutcomeCancelled, ctx.Err()
		}
	}
}

// pump reads c until a read fails or done is closed.
func pump(c Conn, out chan<- message, done <-chan struct{}) {
	for {
		typ, data, err := c.ReadMessage()
		select {
		case out <- message{typ: typ, data: data, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

// sendError writes the structured error payload. Failures are logged only;
// the session is ending either way.
func (s *Session) sendError(msg string) {
	payload, err := json.Marshal(ErrorPayload{Error: msg})
	if err != nil {
		s.log.Error("marshal error payload", "err", err)
		return
	}
	if err := s.down.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.log.Debug("send error payload", "err", err)
	}
}
