package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/fllgameday/refcalc/internal/season"
	"github.com/fllgameday/refcalc/internal/tabulation"
)

// VerifyRefCodeRequest is the request body for POST /tabulation/{id}/verify-ref-code.
type VerifyRefCodeRequest struct {
	RefCode string `json:"refCode"`
}

// VerifyRefCodeResponse is the response for POST /tabulation/{id}/verify-ref-code.
type VerifyRefCodeResponse struct {
	Valid bool `json:"valid"`
}

func refCodeMatches(ref RefereeRecord, code string) bool {
	code = tabulation.NormalizeRefCode(code)
	if !tabulation.ValidRefCode(code) || ref.RefCodeHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(ref.RefCodeHash), []byte(code)) == nil
}

// ownTabulation loads a tabulation and checks it belongs to the session's referee.
// It writes the error response itself and reports whether to continue.
func ownTabulation(w http.ResponseWriter, r *http.Request, logger *slog.Logger, store Store) (tabulation.Tabulation, RefereeRecord, bool) {
	tab, err := store.Tabulation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, logger, err, "tabulation not found")
		return tab, RefereeRecord{}, false
	}
	ref, err := store.Referee(r.Context(), tab.Referee.ID)
	if err != nil {
		writeStoreError(w, logger, err, "referee not found")
		return tab, ref, false
	}
	if ref.UserID != userFrom(r).ID {
		writeError(w, http.StatusForbidden, "this tabulation belongs to another referee")
		return tab, ref, false
	}
	return tab, ref, true
}

func handleNewTabulation(logger *slog.Logger, store Store, seasons *season.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		match, err := tabulation.ParseMatchKind(chi.URLParam(r, "matchId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		ref, err := store.Referee(ctx, chi.URLParam(r, "refereeId"))
		if err != nil {
			writeStoreError(w, logger, err, "referee not found")
			return
		}
		if ref.UserID != userFrom(r).ID {
			writeError(w, http.StatusForbidden, "not a valid and active referee for this session")
			return
		}

		event, err := store.TeamEvent(ctx, chi.URLParam(r, "eventTeamId"))
		if err != nil {
			writeStoreError(w, logger, err, "team not found")
			return
		}
		if event.ID != ref.EventID {
			writeError(w, http.StatusForbidden, "referee is not assigned to this team's event")
			return
		}
		team, _ := event.Team(chi.URLParam(r, "eventTeamId"))
		table, ok := event.Table(chi.URLParam(r, "tableId"))
		if !ok {
			writeError(w, http.StatusNotFound, "table not found")
			return
		}

		req := NewTabulation{
			Event:    event.Event,
			Team:     team,
			Table:    table,
			Referee:  ref.Referee(),
			Match:    match,
			Missions: tabulation.MissionState{},
			GPScore:  tabulation.DefaultGPScore,
		}
		if s, ok := seasons.Get(event.Season); ok {
			req.Missions = s.InitialMissionsState()
			req.Score = s.ComputeMissions(req.Missions).Score
			req.GPScore = req.Missions.GPScore()
		}

		tab, err := store.OpenTabulation(ctx, req)
		if err != nil {
			writeStoreError(w, logger, err, "tabulation not found")
			return
		}
		writeJSON(w, http.StatusOK, tab)
	}
}

func handleSaveProgress(logger *slog.Logger, store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p tabulation.Progress
		if err := readJSON(r, &p); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if p.Score < 0 || p.GPScore < 0 {
			writeError(w, http.StatusUnprocessableEntity, "scores must not be negative")
			return
		}

		tab, _, ok := ownTabulation(w, r, logger, store)
		if !ok {
			return
		}
		if tab.Submitted {
			writeStoreError(w, logger, ErrSubmitted, "")
			return
		}

		tab, err := store.SaveProgress(r.Context(), tab.ID, p)
		if err != nil {
			writeStoreError(w, logger, err, "tabulation not found")
			return
		}
		writeJSON(w, http.StatusOK, tab)
	}
}

func handleVerifyRefCode(logger *slog.Logger, store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req VerifyRefCodeRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		_, ref, ok := ownTabulation(w, r, logger, store)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, VerifyRefCodeResponse{Valid: refCodeMatches(ref, req.RefCode)})
	}
}

func handleCommit(logger *slog.Logger, store Store, seasons *season.Registry, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var form tabulation.CommitForm
		if err := readJSON(r, &form); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		tab, ref, ok := ownTabulation(w, r, logger, store)
		if !ok {
			return
		}
		if tab.Submitted {
			writeStoreError(w, logger, ErrSubmitted, "")
			return
		}
		if err := tabulation.CheckSubmittable(form); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if form.TeamID != tab.Team.ID || form.MatchID != tab.Match {
			writeError(w, http.StatusBadRequest, "submission does not match this tabulation")
			return
		}
		if !refCodeMatches(ref, form.RefCode) {
			writeError(w, http.StatusForbidden, "referee code does not match")
			return
		}

		c := Committed{
			Missions:           form.Missions,
			Score:              *form.Score,
			GPScore:            form.Missions.GPScore(),
			TeamMemberInitials: tabulation.NormalizeInitials(form.TeamMemberInitials),
		}
		if s, ok := seasons.Get(tab.Event.Season); ok {
			c.Missions = tabulation.Reconcile(form.Missions, s.InitialMissionsState())
			if got := s.ComputeMissions(c.Missions).Score; got != c.Score {
				logger.Warn("submitted score differs from season rules",
					"tabulation", tab.ID, "submitted", c.Score, "computed", got)
				c.Score = got
			}
		}

		tab, err := store.CommitTabulation(r.Context(), tab.ID, c)
		if err != nil {
			writeStoreError(w, logger, err, "tabulation not found")
			return
		}

		broker.Publish(tab.Event.ID, SSEEvent{
			Type:         eventScoreCommitted,
			TabulationID: tab.ID,
			TeamName:     tab.Team.Name,
			TeamNumber:   tab.Team.Number,
			Match:        tab.Match,
			Table:        tab.Table.Name,
			Score:        tab.Score,
			GPScore:      tab.GPScore,
		})
		logger.Info("score committed", "tabulation", tab.ID, "team", tab.Team.ID, "match", tab.Match, "score", tab.Score)
		writeJSON(w, http.StatusOK, tab)
	}
}

func unscoredMatches(ctx context.Context, store Store, eventTeamID string) ([]tabulation.MatchKind, error) {
	if _, err := store.TeamEvent(ctx, eventTeamID); err != nil {
		return nil, err
	}
	done, err := store.SubmittedMatches(ctx, eventTeamID)
	if err != nil {
		return nil, err
	}
	scored := make(map[tabulation.MatchKind]bool, len(done))
	for _, m := range done {
		scored[m] = true
	}
	out := []tabulation.MatchKind{}
	for _, m := range tabulation.MatchKinds {
		if !scored[m] {
			out = append(out, m)
		}
	}
	return out, nil
}

func handleUnscoredMatches(logger *slog.Logger, store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matches, err := unscoredMatches(r.Context(), store, chi.URLParam(r, "eventTeamId"))
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "team not found")
			return
		}
		if err != nil {
			writeStoreError(w, logger, err, "team not found")
			return
		}
		writeJSON(w, http.StatusOK, matches)
	}
}

func handleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, userFrom(r))
	}
}

func handleRefereeEvents(logger *slog.Logger, store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := store.RefereeEvents(r.Context(), userFrom(r).ID)
		if err != nil {
			writeStoreError(w, logger, err, "no events")
			return
		}
		writeJSON(w, http.StatusOK, events)
	}
}

func handlePublicSeasons(seasons *season.Registry) http.HandlerFunc {
	list := seasons.List()
	infos := make([]tabulation.SeasonInfo, 0, len(list))
	for _, s := range list {
		infos = append(infos, tabulation.SeasonInfo{ID: s.Slug(), Name: s.Name(), Year: s.Year()})
	}

	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, infos)
	}
}
