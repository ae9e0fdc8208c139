package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// readJSON decodes the body into v and rejects fields v does not declare.
func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeStoreError maps store sentinels to responses; anything else is a 500.
func writeStoreError(w http.ResponseWriter, logger *slog.Logger, err error, notFound string) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, ErrSubmitted):
		writeError(w, http.StatusConflict, "this team's match has already been scored")
	default:
		logger.Error("store failure", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
