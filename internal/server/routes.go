package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"

	"github.com/fllgameday/refcalc/internal/season"
)

func addRoutes(r chi.Router, logger *slog.Logger, store Store, seasons *season.Registry, broker *Broker) {
	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("Gameday Tabulation API", "/openapi.json", "/docs"))

	r.Get("/public/seasons", handlePublicSeasons(seasons))
	r.Get("/events/{eventId}/stream", handleEventStream(store, broker))

	// Referee routes, bearer session required.
	r.Group(func(r chi.Router) {
		r.Use(sessionMiddleware(store))

		r.Get("/me", handleMe())
		r.Get("/me/referee-events", handleRefereeEvents(logger, store))

		r.Get("/tabulation/new/{eventTeamId}/{matchId}/{tableId}/{refereeId}", handleNewTabulation(logger, store, seasons))
		r.Get("/tabulation/{eventTeamId}/unscored-matches", handleUnscoredMatches(logger, store))
		r.Patch("/tabulation/{id}", handleSaveProgress(logger, store))
		r.Post("/tabulation/{id}/verify-ref-code", handleVerifyRefCode(logger, store))
		r.Post("/tabulation/{id}/commit", handleCommit(logger, store, seasons, broker))
	})
}
