// Package web provides the HTTP API, the relay websocket and the status page
// of the grow-sensor daemon.
package web

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/sweeney/grow-sensor/internal/insight"
	"github.com/sweeney/grow-sensor/internal/logic"
	"github.com/sweeney/grow-sensor/internal/relay"
	"github.com/sweeney/grow-sensor/internal/status"
)

// HistoryReader reads a zone without advancing it. *history.Store satisfies it.
type HistoryReader interface {
	ReadOnly(zone string) (logic.Reading, []logic.Reading, error)
}

// Deps are the components the server reads from.
type Deps struct {
	History HistoryReader
	Insight *insight.Tracker
	Tracker *status.Tracker
	// Upstream dials the feed for each /ws relay session.
	Upstream relay.Dialer
	Log      *slog.Logger
}

// Server serves the API and status page over HTTP.
type Server struct {
	httpServer *http.Server
	deps       Deps
	log        *slog.Logger

	// ctx is the parent of every request context. Shutdown cancels it so
	// hijacked relay connections end too.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Server listening on addr.
func New(addr string, deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{deps: deps, log: deps.Log, ctx: ctx, cancel: cancel}

	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.HandleFunc("/zones", s.handleZones).Methods(http.MethodGet)
	r.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/latest", s.handleLatest).Methods(http.MethodGet)
	r.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)
	r.HandleFunc("/summarize", s.handleSummarize).Methods(http.MethodPost)
	r.HandleFunc("/insight", s.handleInsight).Methods(http.MethodGet)
	r.HandleFunc("/run_insight", s.handleRunInsight).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/ws", s.handleRelay)
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           cors.AllowAll().Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	return s
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown ends relay sessions and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.log.Warn("render status page", "err", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}
