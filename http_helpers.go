package switchpoint

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// writeJSON encodes data as JSON and writes it to the response.
// Logs any encoding errors instead of silently ignoring them.
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "err", err)
	}
}

// writeJSONStatus writes a JSON response with a specific status code.
func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "err", err)
	}
}

// writeError writes an error response with appropriate status code and logging.
func writeError(w http.ResponseWriter, message string, status int) {
	slog.Warn("HTTP error", "status", status, "message", message)
	http.Error(w, message, status)
}

// writeAnalysisError maps pipeline errors to HTTP status codes: invalid
// input to 400, unknown IDs to 404, numerical instability to 422, and
// everything else to 500.
func writeAnalysisError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrNumericalInstability):
		status = http.StatusUnprocessableEntity
	}
	writeError(w, err.Error(), status)
}
