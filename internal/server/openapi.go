package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/fllgameday/refcalc/internal/tabulation"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse maps each checked dependency to its status.
type HealthResponse map[string]struct {
	Status string `json:"status"`
}

type tabulationPath struct {
	ID string `path:"id"`
}

type newTabulationPath struct {
	EventTeamID string `path:"eventTeamId"`
	MatchID     string `path:"matchId" enum:"practice,match1,match2,match3,tieBreaker"`
	TableID     string `path:"tableId"`
	RefereeID   string `path:"refereeId"`
}

type teamPath struct {
	EventTeamID string `path:"eventTeamId"`
}

type eventStreamRequest struct {
	EventID string `path:"eventId"`
	Token   string `query:"token"`
}

type saveProgressRequest struct {
	tabulationPath
	tabulation.Progress
}

type verifyRefCodeRequest struct {
	tabulationPath
	VerifyRefCodeRequest
}

type commitRequest struct {
	tabulationPath
	tabulation.CommitForm
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Gameday Tabulation API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Scoring backend for robot game referees. Referee routes require a Bearer session token.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Returns the health status of backend dependencies.")
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getHealthz)

	// GET /public/seasons
	getSeasons, _ := r.NewOperationContext(http.MethodGet, "/public/seasons")
	getSeasons.SetSummary("List seasons")
	getSeasons.SetDescription("Lists the seasons the server can score, newest first. Clients use it as a connectivity probe.")
	getSeasons.AddRespStructure([]tabulation.SeasonInfo{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(getSeasons)

	// GET /me
	getMe, _ := r.NewOperationContext(http.MethodGet, "/me")
	getMe.SetSummary("Current user")
	getMe.AddRespStructure(tabulation.Me{}, openapi.WithHTTPStatus(http.StatusOK))
	getMe.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(getMe)

	// GET /me/referee-events
	getRefEvents, _ := r.NewOperationContext(http.MethodGet, "/me/referee-events")
	getRefEvents.SetSummary("Referee events")
	getRefEvents.SetDescription("Events the current user referees, with their teams and tables.")
	getRefEvents.AddRespStructure([]tabulation.RefereeEvent{}, openapi.WithHTTPStatus(http.StatusOK))
	getRefEvents.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(getRefEvents)

	// GET /tabulation/new/{eventTeamId}/{matchId}/{tableId}/{refereeId}
	getNew, _ := r.NewOperationContext(http.MethodGet, "/tabulation/new/{eventTeamId}/{matchId}/{tableId}/{refereeId}")
	getNew.SetSummary("Fetch or create tabulation")
	getNew.SetDescription("Returns the open tabulation for the team and match, creating it if needed.")
	getNew.AddReqStructure(newTabulationPath{})
	getNew.AddRespStructure(tabulation.Tabulation{}, openapi.WithHTTPStatus(http.StatusOK))
	getNew.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	getNew.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	getNew.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(getNew)

	// GET /tabulation/{eventTeamId}/unscored-matches
	getUnscored, _ := r.NewOperationContext(http.MethodGet, "/tabulation/{eventTeamId}/unscored-matches")
	getUnscored.SetSummary("Unscored matches")
	getUnscored.SetDescription("Matches the team has no submitted tabulation for, in play order.")
	getUnscored.AddReqStructure(teamPath{})
	getUnscored.AddRespStructure([]tabulation.MatchKind{}, openapi.WithHTTPStatus(http.StatusOK))
	getUnscored.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getUnscored)

	// PATCH /tabulation/{id}
	patchTab, _ := r.NewOperationContext(http.MethodPatch, "/tabulation/{id}")
	patchTab.SetSummary("Save progress")
	patchTab.SetDescription("Stores in-progress scoring. Idempotent.")
	patchTab.AddReqStructure(saveProgressRequest{})
	patchTab.AddRespStructure(tabulation.Tabulation{}, openapi.WithHTTPStatus(http.StatusOK))
	patchTab.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	patchTab.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(patchTab)

	// POST /tabulation/{id}/verify-ref-code
	postVerify, _ := r.NewOperationContext(http.MethodPost, "/tabulation/{id}/verify-ref-code")
	postVerify.SetSummary("Verify referee code")
	postVerify.AddReqStructure(verifyRefCodeRequest{})
	postVerify.AddRespStructure(VerifyRefCodeResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	postVerify.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(postVerify)

	// POST /tabulation/{id}/commit
	postCommit, _ := r.NewOperationContext(http.MethodPost, "/tabulation/{id}/commit")
	postCommit.SetSummary("Submit tabulation")
	postCommit.SetDescription("Final submission. Requires team approval and the referee code.")
	postCommit.AddReqStructure(commitRequest{})
	postCommit.AddRespStructure(tabulation.Tabulation{}, openapi.WithHTTPStatus(http.StatusOK))
	postCommit.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postCommit.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	postCommit.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	postCommit.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnprocessableEntity))
	_ = r.AddOperation(postCommit)

	// GET /events/{eventId}/stream
	getStream, _ := r.NewOperationContext(http.MethodGet, "/events/{eventId}/stream")
	getStream.SetSummary("Committed score stream")
	getStream.SetDescription("Server-Sent Events stream of committed scores for an event. Pass the token as a query parameter.")
	getStream.AddReqStructure(eventStreamRequest{})
	getStream.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK),
		openapi.WithContentType("text/event-stream"))
	_ = r.AddOperation(getStream)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
