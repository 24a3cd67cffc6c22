package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sweeney/grow-sensor/internal/logic"
)

// ErrorJSON is the body of every error response.
type ErrorJSON struct {
	Error string `json:"error"`
}

// ZonesJSON is the body of /zones.
type ZonesJSON struct {
	Zones []string `json:"zones"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "err", err)
	}
}

// writeError maps InvalidZone to 400 and everything else to 500.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, logic.ErrInvalidZone) {
		code = http.StatusBadRequest
	}
	writeJSON(w, code, ErrorJSON{Error: err.Error()})
}
