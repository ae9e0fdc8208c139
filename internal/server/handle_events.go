package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// handleEventStream streams committed scores for one event. EventSource
// cannot set headers, so the session token may come as a query parameter.
func handleEventStream(store Store, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if _, err := userFromRequest(r, store, token); err != nil {
			if errors.Is(err, errNoSession) {
				writeError(w, http.StatusUnauthorized, "invalid session token")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		eventID := chi.URLParam(r, "eventId")

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ch := broker.Subscribe(eventID)
		defer broker.Unsubscribe(eventID, ch)

		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case data := <-ch:
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventScoreCommitted, data)
				flusher.Flush()
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}
