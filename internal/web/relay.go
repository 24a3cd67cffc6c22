package web

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/sweeney/grow-sensor/internal/relay"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleRelay upgrades the client and runs one relay session for it. The
// handler owns the client connection and closes it when the session ends.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("relay upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close()

	s.deps.Tracker.SessionStarted()
	defer s.deps.Tracker.SessionEnded()

	session := relay.NewSession(conn, s.deps.Upstream, s.log.With("remote", r.RemoteAddr))
	err = session.Run(r.Context())
	switch {
	case err == nil:
	case errors.Is(err, relay.ErrUpstreamUnavailable):
		s.log.Warn("relay ended", "session", session.ID(), "err", err)
	default:
		s.log.Info("relay ended", "session", session.ID(), "err", err)
	}
}
