// Package tabulation defines the core domain types shared by the referee
// client and the scoring backend. It has zero external dependencies.
package tabulation

import (
	"fmt"
	"time"
)

type MatchKind string

const (
	MatchPractice   MatchKind = "practice"
	MatchOne        MatchKind = "match1"
	MatchTwo        MatchKind = "match2"
	MatchThree      MatchKind = "match3"
	MatchTieBreaker MatchKind = "tieBreaker"
)

// MatchKinds lists every match in the order they are played.
var MatchKinds = []MatchKind{MatchPractice, MatchOne, MatchTwo, MatchThree, MatchTieBreaker}

var matchNames = map[MatchKind]string{
	MatchPractice:   "Practice",
	MatchOne:        "Match 1",
	MatchTwo:        "Match 2",
	MatchThree:      "Match 3",
	MatchTieBreaker: "Tie Breaker",
}

// Name returns the display name, e.g. "Match 1".
func (k MatchKind) Name() string {
	if n, ok := matchNames[k]; ok {
		return n
	}
	return string(k)
}

func (k MatchKind) Valid() bool {
	_, ok := matchNames[k]
	return ok
}

// ParseMatchKind accepts either the id ("match1") or the display name ("Match 1").
func ParseMatchKind(s string) (MatchKind, error) {
	if k := MatchKind(s); k.Valid() {
		return k, nil
	}
	for k, n := range matchNames {
		if n == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown match %q", s)
}

type Team struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Number string `json:"teamNumber,omitempty"`
}

type Event struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Season string `json:"season"`
}

type Table struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Referee struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// Tabulation is one team's scored attempt at one match.
type Tabulation struct {
	ID                 string       `json:"id"`
	Team               Team         `json:"eventTeam"`
	Event              Event        `json:"event"`
	Table              Table        `json:"table"`
	Referee            Referee      `json:"referee"`
	Match              MatchKind    `json:"matchId"`
	Missions           MissionState `json:"tab"`
	Score              int          `json:"score"`
	GPScore            int          `json:"gpScore"`
	ScoreLocked        bool         `json:"scoreLocked"`
	ScoreApproved      bool         `json:"scoreApproved"`
	TeamMemberInitials string       `json:"teamMemberInitials"`
	Submitted          bool         `json:"submitted"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// Selection identifies the tabulation a referee wants to work on.
type Selection struct {
	EventTeamID string
	Match       MatchKind
	TableID     string
	RefereeID   string
}

// Validate reports the first missing identifier.
func (s Selection) Validate() error {
	switch {
	case s.EventTeamID == "":
		return &ValidationError{Field: "team", Msg: "no team selected"}
	case s.Match == "":
		return &ValidationError{Field: "match", Msg: "no match selected"}
	case !s.Match.Valid():
		return &ValidationError{Field: "match", Msg: fmt.Sprintf("unknown match %q", s.Match)}
	case s.TableID == "":
		return &ValidationError{Field: "table", Msg: "no table selected"}
	case s.RefereeID == "":
		return &ValidationError{Field: "referee", Msg: "not a valid and active referee for this event"}
	}
	return nil
}

// CommitForm is the final submission payload.
type CommitForm struct {
	TeamMemberInitials string       `json:"teamMemberInitials"`
	ScoreApproved      bool         `json:"scoreApproved"`
	RefCode            string       `json:"refCode"`
	TeamID             string       `json:"teamId"`
	MatchID            MatchKind    `json:"matchId"`
	Score              *int         `json:"score"`
	GPScore            int          `json:"gpScore"`
	Missions           MissionState `json:"missions"`
	ScoreLocked        bool         `json:"scoreLocked"`
}

// Progress is the body of an in-progress save.
type Progress struct {
	Missions MissionState `json:"tab"`
	Score    int          `json:"score"`
	GPScore  int          `json:"gpScore"`
}
