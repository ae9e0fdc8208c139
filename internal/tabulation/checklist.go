package tabulation

import (
	"regexp"
	"strings"
)

// Condition names one entry of the submission checklist.
type Condition string

const (
	CondNoScore      Condition = "no-score"
	CondNoMissions   Condition = "no-missions"
	CondBadRefCode   Condition = "bad-ref-code"
	CondNotApproved  Condition = "not-approved"
	CondBadInitials  Condition = "bad-initials"
	CondNotScorable  Condition = "not-scorable"
	CondWrongState   Condition = "wrong-state"
	CondMissingInput Condition = "missing-input"
)

var (
	refCodePattern          = regexp.MustCompile(`^[A-Z0-9]{6}$`)
	commitInitialsPattern   = regexp.MustCompile(`^[A-Z ]{2,6}$`)
	approvalInitialsPattern = regexp.MustCompile(`^[A-Z]{2,6}$`)
)

const errorIntro = "cannot submit scorecard: "

// NormalizeRefCode trims and uppercases a referee code.
func NormalizeRefCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidRefCode reports whether code is 6 alphanumeric characters after normalization.
func ValidRefCode(code string) bool {
	return refCodePattern.MatchString(NormalizeRefCode(code))
}

// NormalizeInitials trims and uppercases team member initials.
func NormalizeInitials(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// CheckApprovalInitials validates initials typed by a team member to approve a score.
func CheckApprovalInitials(initials string) (string, error) {
	n := NormalizeInitials(initials)
	if !approvalInitialsPattern.MatchString(n) {
		return "", &ValidationError{
			Field:     "teamMemberInitials",
			Condition: CondBadInitials,
			Msg:       "initials must be 2 to 6 letters",
		}
	}
	return n, nil
}

// CheckSubmittable evaluates the submission checklist in order and returns
// the first failing condition.
func CheckSubmittable(f CommitForm) error {
	if f.Score == nil {
		return &ValidationError{Field: "score", Condition: CondNoScore, Msg: errorIntro + "no score to send"}
	}
	if len(f.Missions) == 0 {
		return &ValidationError{Field: "missions", Condition: CondNoMissions, Msg: errorIntro + "no missions have been scored"}
	}
	if !refCodePattern.MatchString(f.RefCode) {
		return &ValidationError{Field: "refCode", Condition: CondBadRefCode, Msg: errorIntro + "referee code should be 6 letters and numbers"}
	}
	if !f.ScoreApproved {
		return &ValidationError{Field: "scoreApproved", Condition: CondNotApproved, Msg: errorIntro + "team has not approved the score"}
	}
	if !commitInitialsPattern.MatchString(NormalizeInitials(f.TeamMemberInitials)) {
		return &ValidationError{Field: "teamMemberInitials", Condition: CondBadInitials, Msg: errorIntro + "no or invalid team initials, should be 2 to 6 letters"}
	}
	return nil
}
