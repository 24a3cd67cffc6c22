package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sweeney/grow-sensor/internal/logic"
)

// maxSummarizeBody bounds POST /summarize bodies.
const maxSummarizeBody = 4 << 20

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ZonesJSON{Zones: logic.Zones()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	_, hist, err := s.deps.History.ReadOnly(r.URL.Query().Get("zone"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	latest, _, err := s.deps.History.ReadOnly(r.URL.Query().Get("zone"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

// handleSummary summarizes the whole history of a zone.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	_, hist, err := s.deps.History.ReadOnly(r.URL.Query().Get("zone"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logic.SummarizeReadings(hist))
}

// handleSummarize summarizes a posted array of possibly partial readings.
func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var samples []logic.Sample
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSummarizeBody))
	if err := dec.Decode(&samples); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorJSON{Error: fmt.Sprintf("decode readings: %v", err)})
		return
	}
	writeJSON(w, http.StatusOK, logic.Summarize(samples))
}

// handleInsight returns cached insights: one zone's when ?zone= is given
// (computed on first request), otherwise every zone computed so far.
func (s *Server) handleInsight(w http.ResponseWriter, r *http.Request) {
	zone := r.URL.Query().Get("zone")
	if zone == "" {
		writeJSON(w, http.StatusOK, s.deps.Insight.All())
		return
	}
	if err := logic.ValidateZone(zone); err != nil {
		writeError(w, err)
		return
	}
	in, ok := s.deps.Insight.Cached(zone)
	if !ok {
		var err error
		if in, err = s.deps.Insight.Compute(zone); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, in)
}

// handleRunInsight computes a fresh insight for one zone, or for every zone
// when ?zone= is absent.
func (s *Server) handleRunInsight(w http.ResponseWriter, r *http.Request) {
	zone := r.URL.Query().Get("zone")
	if zone == "" {
		if err := s.deps.Insight.Refresh(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.deps.Insight.All())
		return
	}
	in, err := s.deps.Insight.Compute(zone)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}
