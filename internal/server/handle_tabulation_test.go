package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/fllgameday/refcalc/internal/database"
	"github.com/fllgameday/refcalc/internal/migrations"
	"github.com/fllgameday/refcalc/internal/season"
	"github.com/fllgameday/refcalc/internal/tabulation"
)

func setupStore(t *testing.T) *DocStore {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// A single connection keeps the in-memory database shared.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if err := migrations.Run(db); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	store := NewDocStore(db)
	if err := SeedDemo(ctx, slog.Default(), store); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return store
}

func testRouterWithBroker(t *testing.T, broker *Broker) *chi.Mux {
	t.Helper()
	seasons, err := season.Load()
	if err != nil {
		t.Fatalf("load seasons: %v", err)
	}
	r := chi.NewRouter()
	addRoutes(r, slog.Default(), setupStore(t), seasons, broker)
	return r
}

func testRouter(t *testing.T) *chi.Mux {
	t.Helper()
	return testRouterWithBroker(t, NewBroker())
}

func call(t *testing.T, r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

const newPath = "/tabulation/new/et-1001/match1/tbl-a/ref-ada"

func openTabulation(t *testing.T, r http.Handler) tabulation.Tabulation {
	t.Helper()
	w := call(t, r, http.MethodGet, newPath, DemoSessionToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("open tabulation: %d %s", w.Code, w.Body.String())
	}
	return decode[tabulation.Tabulation](t, w)
}

func validForm(tab tabulation.Tabulation) tabulation.CommitForm {
	missions := tab.Missions.Clone()
	missions["m01_coral_tree_hanging"] = true
	score := 70
	return tabulation.CommitForm{
		TeamMemberInitials: "JS",
		ScoreApproved:      true,
		RefCode:            DemoRefCode,
		TeamID:             tab.Team.ID,
		MatchID:            tab.Match,
		Score:              &score,
		GPScore:            missions.GPScore(),
		Missions:           missions,
		ScoreLocked:        true,
	}
}

func TestPublicSeasons(t *testing.T) {
	r := testRouter(t)
	w := call(t, r, http.MethodGet, "/public/seasons", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	seasons := decode[[]tabulation.SeasonInfo](t, w)
	if len(seasons) < 2 || seasons[0].ID != "submerged" {
		t.Errorf("seasons = %+v", seasons)
	}
}

func TestSessionRequired(t *testing.T) {
	r := testRouter(t)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"unknown token", "nope", http.StatusUnauthorized},
		{"demo token", DemoSessionToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := call(t, r, http.MethodGet, "/me", tt.token, nil)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want == http.StatusOK {
				if me := decode[tabulation.Me](t, w); me.ID != "usr-ada" || me.Name() != "Ada Lovelace" {
					t.Errorf("me = %+v", me)
				}
			}
		})
	}
}

func TestRefereeEvents(t *testing.T) {
	r := testRouter(t)
	w := call(t, r, http.MethodGet, "/me/referee-events", DemoSessionToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	events := decode[[]tabulation.RefereeEvent](t, w)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	e := events[0]
	if e.ID != DemoEventID || e.RefereeID != "ref-ada" || len(e.Teams) != 3 || len(e.Tables) != 2 || !e.IsCurrent {
		t.Errorf("event = %+v", e)
	}
}

func TestNewTabulation(t *testing.T) {
	r := testRouter(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"ok", newPath, http.StatusOK},
		{"unknown match", "/tabulation/new/et-1001/finals/tbl-a/ref-ada", http.StatusBadRequest},
		{"unknown referee", "/tabulation/new/et-1001/match1/tbl-a/ref-nobody", http.StatusNotFound},
		{"another referee", "/tabulation/new/et-1001/match1/tbl-a/ref-grace", http.StatusForbidden},
		{"unknown team", "/tabulation/new/et-9999/match1/tbl-a/ref-ada", http.StatusNotFound},
		{"unknown table", "/tabulation/new/et-1001/match1/tbl-z/ref-ada", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := call(t, r, http.MethodGet, tt.path, DemoSessionToken, nil)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestNewTabulationResumes(t *testing.T) {
	r := testRouter(t)

	first := openTabulation(t, r)
	if first.ID == "" || first.Team.Name != "Robo Raccoons" || first.Table.Name != "Table A" {
		t.Fatalf("tabulation = %+v", first)
	}
	if first.Score != 50 || first.GPScore != 3 {
		t.Errorf("initial score = %d gp = %d", first.Score, first.GPScore)
	}
	if _, ok := first.Missions["m02_shark_in_habitat"]; !ok {
		t.Error("missions not initialised from the event's season")
	}

	second := openTabulation(t, r)
	if second.ID != first.ID {
		t.Errorf("resume returned %s, want %s", second.ID, first.ID)
	}
}

func TestSaveProgressIdempotent(t *testing.T) {
	r := testRouter(t)
	tab := openTabulation(t, r)
	path := "/tabulation/" + tab.ID

	missions := tab.Missions.Clone()
	missions["m08_habitat_segments"] = 2
	p := tabulation.Progress{Missions: missions, Score: 70, GPScore: 3}

	w := call(t, r, http.MethodPatch, path, DemoSessionToken, p)
	if w.Code != http.StatusOK {
		t.Fatalf("first save: %d %s", w.Code, w.Body.String())
	}
	once := decode[tabulation.Tabulation](t, w)

	w = call(t, r, http.MethodPatch, path, DemoSessionToken, p)
	if w.Code != http.StatusOK {
		t.Fatalf("second save: %d", w.Code)
	}
	twice := decode[tabulation.Tabulation](t, w)

	if !twice.UpdatedAt.Equal(once.UpdatedAt) || twice.Score != 70 {
		t.Errorf("repeat save changed the record: %v -> %v", once.UpdatedAt, twice.UpdatedAt)
	}
	if v, _ := twice.Missions.Int("m08_habitat_segments"); v != 2 {
		t.Errorf("m08_habitat_segments = %d", v)
	}

	if w := call(t, r, http.MethodPatch, path, demoSecondToken, p); w.Code != http.StatusForbidden {
		t.Errorf("another referee's save: %d, want 403", w.Code)
	}
	if w := call(t, r, http.MethodPatch, "/tabulation/missing", DemoSessionToken, p); w.Code != http.StatusNotFound {
		t.Errorf("missing tabulation: %d, want 404", w.Code)
	}
}

func TestVerifyRefCode(t *testing.T) {
	r := testRouter(t)
	tab := openTabulation(t, r)
	path := "/tabulation/" + tab.ID + "/verify-ref-code"

	tests := []struct {
		code string
		want bool
	}{
		{DemoRefCode, true},
		{"ab12cd", true},
		{demoSecondRefCode, false},
		{"AB12", false},
	}
	for _, tt := range tests {
		w := call(t, r, http.MethodPost, path, DemoSessionToken, VerifyRefCodeRequest{RefCode: tt.code})
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status %d", tt.code, w.Code)
		}
		if got := decode[VerifyRefCodeResponse](t, w).Valid; got != tt.want {
			t.Errorf("%s: valid = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestCommit(t *testing.T) {
	broker := NewBroker()
	r := testRouterWithBroker(t, broker)
	tab := openTabulation(t, r)
	path := "/tabulation/" + tab.ID + "/commit"

	events := broker.Subscribe(DemoEventID)
	defer broker.Unsubscribe(DemoEventID, events)

	unapproved := validForm(tab)
	unapproved.ScoreApproved = false
	if w := call(t, r, http.MethodPost, path, DemoSessionToken, unapproved); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("unapproved: %d, want 422", w.Code)
	}

	wrongCode := validForm(tab)
	wrongCode.RefCode = demoSecondRefCode
	if w := call(t, r, http.MethodPost, path, DemoSessionToken, wrongCode); w.Code != http.StatusForbidden {
		t.Errorf("wrong code: %d, want 403", w.Code)
	}

	wrongTeam := validForm(tab)
	wrongTeam.TeamID = "et-1002"
	if w := call(t, r, http.MethodPost, path, DemoSessionToken, wrongTeam); w.Code != http.StatusBadRequest {
		t.Errorf("wrong team: %d, want 400", w.Code)
	}

	form := validForm(tab)
	inflated := 999
	form.Score = &inflated
	w := call(t, r, http.MethodPost, path, DemoSessionToken, form)
	if w.Code != http.StatusOK {
		t.Fatalf("commit: %d %s", w.Code, w.Body.String())
	}
	got := decode[tabulation.Tabulation](t, w)
	if got.ID != tab.ID || !got.ScoreApproved || !got.Submitted || !got.ScoreLocked {
		t.Errorf("committed = %+v", got)
	}
	if got.Score != 70 {
		t.Errorf("score = %d, want server-computed 70", got.Score)
	}

	select {
	case data := <-events:
		var ev SSEEvent
		json.Unmarshal(data, &ev)
		if ev.Type != eventScoreCommitted || ev.TabulationID != tab.ID || ev.Score != 70 {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Error("no score_committed event published")
	}

	if w := call(t, r, http.MethodPost, path, DemoSessionToken, validForm(tab)); w.Code != http.StatusConflict {
		t.Errorf("second commit: %d, want 409", w.Code)
	}
	if w := call(t, r, http.MethodPatch, "/tabulation/"+tab.ID, DemoSessionToken, tabulation.Progress{}); w.Code != http.StatusConflict {
		t.Errorf("save after commit: %d, want 409", w.Code)
	}
	if w := call(t, r, http.MethodGet, newPath, DemoSessionToken, nil); w.Code != http.StatusConflict {
		t.Errorf("reopen after commit: %d, want 409", w.Code)
	}

	w = call(t, r, http.MethodGet, "/tabulation/et-1001/unscored-matches", DemoSessionToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unscored: %d", w.Code)
	}
	unscored := decode[[]tabulation.MatchKind](t, w)
	want := []tabulation.MatchKind{tabulation.MatchPractice, tabulation.MatchTwo, tabulation.MatchThree, tabulation.MatchTieBreaker}
	if len(unscored) != len(want) {
		t.Fatalf("unscored = %v, want %v", unscored, want)
	}
	for i := range want {
		if unscored[i] != want[i] {
			t.Errorf("unscored[%d] = %s, want %s", i, unscored[i], want[i])
		}
	}
}

func TestCommitRejectsUnknownFields(t *testing.T) {
	r := testRouter(t)
	tab := openTabulation(t, r)

	body := map[string]any{"refCode": DemoRefCode, "bogus": true}
	w := call(t, r, http.MethodPost, "/tabulation/"+tab.ID+"/commit", DemoSessionToken, body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	a := b.Subscribe("ev-1")
	c := b.Subscribe("ev-1")
	other := b.Subscribe("ev-2")

	b.Publish("ev-1", SSEEvent{Type: eventScoreCommitted, Score: 10})

	for _, ch := range []chan []byte{a, c} {
		select {
		case <-ch:
		default:
			t.Error("subscriber missed event")
		}
	}
	select {
	case <-other:
		t.Error("event leaked to another event's subscribers")
	default:
	}

	b.Unsubscribe("ev-1", a)
	b.Unsubscribe("ev-1", c)
	b.Unsubscribe("ev-2", other)
	if len(b.subs) != 0 {
		t.Errorf("subs not cleaned up: %d", len(b.subs))
	}
}
