package server

import (
	"context"
	"errors"

	"github.com/fllgameday/refcalc/internal/tabulation"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrSubmitted = errors.New("tabulation already submitted")
)

// RefereeRecord is a referee assignment to one event.
type RefereeRecord struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	EventID     string `json:"eventId"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	RefCodeHash string `json:"refCodeHash"`
}

func (r RefereeRecord) Referee() tabulation.Referee {
	return tabulation.Referee{ID: r.ID, Name: r.Name, Role: r.Role}
}

// EventRecord is an event with its roster.
type EventRecord struct {
	tabulation.Event
	Teams     []tabulation.Team  `json:"teams"`
	Tables    []tabulation.Table `json:"tables"`
	IsCurrent bool               `json:"isCurrent"`
}

func (e EventRecord) Team(id string) (tabulation.Team, bool) {
	for _, t := range e.Teams {
		if t.ID == id {
			return t, true
		}
	}
	return tabulation.Team{}, false
}

func (e EventRecord) Table(id string) (tabulation.Table, bool) {
	for _, t := range e.Tables {
		if t.ID == id {
			return t, true
		}
	}
	return tabulation.Table{}, false
}

// NewTabulation is everything needed to open a tabulation for a team and match.
type NewTabulation struct {
	Event    tabulation.Event
	Team     tabulation.Team
	Table    tabulation.Table
	Referee  tabulation.Referee
	Match    tabulation.MatchKind
	Missions tabulation.MissionState
	Score    int
	GPScore  int
}

// Committed is the final state written by a commit.
type Committed struct {
	Missions           tabulation.MissionState
	Score              int
	GPScore            int
	TeamMemberInitials string
}

type Store interface {
	UserFromSession(ctx context.Context, token string) (tabulation.Me, error)
	RefereeEvents(ctx context.Context, userID string) ([]tabulation.RefereeEvent, error)
	Referee(ctx context.Context, id string) (RefereeRecord, error)
	TeamEvent(ctx context.Context, eventTeamID string) (EventRecord, error)

	// OpenTabulation returns the unsubmitted tabulation for the team and
	// match, creating it from req if there is none. ErrSubmitted if the team
	// already has a submitted one.
	OpenTabulation(ctx context.Context, req NewTabulation) (tabulation.Tabulation, error)
	Tabulation(ctx context.Context, id string) (tabulation.Tabulation, error)
	SaveProgress(ctx context.Context, id string, p tabulation.Progress) (tabulation.Tabulation, error)
	CommitTabulation(ctx context.Context, id string, c Committed) (tabulation.Tabulation, error)
	SubmittedMatches(ctx context.Context, eventTeamID string) ([]tabulation.MatchKind, error)
}
