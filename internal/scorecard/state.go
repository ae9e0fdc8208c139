package scorecard

import (
	"fmt"
	"strings"
)

type State int

const (
	Empty State = iota
	Initializing
	Active
	Locked
	TeamApproved
	Committing
	Committed
	CommitFailed
)

var stateNames = [...]string{
	Empty:        "empty",
	Initializing: "initializing",
	Active:       "active",
	Locked:       "locked",
	TeamApproved: "team-approved",
	Committing:   "committing",
	Committed:    "committed",
	CommitFailed: "commit-failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// InProgress reports whether cancelling would discard work.
func (s State) InProgress() bool {
	switch s {
	case Active, Locked, TeamApproved, Committing, CommitFailed:
		return true
	}
	return false
}

// RestorePoint is the season and restore token carried in a URL fragment,
// written "season#token".
type RestorePoint struct {
	Season string `json:"season"`
	Token  string `json:"token"`
}

func (p RestorePoint) String() string {
	return p.Season + "#" + p.Token
}

func (p RestorePoint) IsZero() bool { return p.Token == "" }

// ParseRestorePoint accepts "season#token", "/season#token" or a bare "#token".
func ParseRestorePoint(s string) RestorePoint {
	s = strings.TrimPrefix(strings.TrimSpace(s), "/")
	season, token, found := strings.Cut(s, "#")
	if !found {
		return RestorePoint{Token: season}
	}
	return RestorePoint{Season: season, Token: token}
}
