package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fllgameday/refcalc/internal/tabulation"
)

type sessionDoc struct {
	Token string        `json:"token"`
	User  tabulation.Me `json:"user"`
}

// DocStore implements Store using per-model tables with JSONB data columns.
// The schema comes from the migrations package.
type DocStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewDocStore(db *sql.DB) *DocStore {
	return &DocStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *DocStore) get(ctx context.Context, table, id string, dest any) error {
	var data string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT json(data) FROM %s WHERE id = ?`, table), id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

func (s *DocStore) putEvent(ctx context.Context, e EventRecord) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, data) VALUES (?, jsonb(?))
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		e.ID, string(data),
	)
	return err
}

func (s *DocStore) putReferee(ctx context.Context, r RefereeRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO referees (id, user_id, event_id, data) VALUES (?, ?, ?, jsonb(?))
		 ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, event_id = excluded.event_id, data = excluded.data`,
		r.ID, r.UserID, r.EventID, string(data),
	)
	return err
}

func (s *DocStore) putSession(ctx context.Context, sess sessionDoc) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (id, user_id, data) VALUES (?, ?, jsonb(?))`,
		sess.Token, sess.User.ID, string(data),
	)
	return err
}

// allEvents loads all event documents into memory.
func (s *DocStore) allEvents(ctx context.Context) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT json(data) FROM events ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var e EventRecord
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *DocStore) UserFromSession(ctx context.Context, token string) (tabulation.Me, error) {
	var sess sessionDoc
	if err := s.get(ctx, "sessions", token, &sess); err != nil {
		return tabulation.Me{}, err
	}
	return sess.User, nil
}

func (s *DocStore) RefereeEvents(ctx context.Context, userID string) ([]tabulation.RefereeEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT json(data) FROM referees WHERE user_id = ? ORDER BY event_id`, userID,
	)
	if err != nil {
		return nil, err
	}
	var refs []RefereeRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			rows.Close()
			return nil, err
		}
		var r RefereeRecord
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			rows.Close()
			return nil, err
		}
		refs = append(refs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	events := make([]tabulation.RefereeEvent, 0, len(refs))
	for _, r := range refs {
		var e EventRecord
		if err := s.get(ctx, "events", r.EventID, &e); err != nil {
			return nil, fmt.Errorf("loading event %s: %w", r.EventID, err)
		}
		events = append(events, tabulation.RefereeEvent{
			Event:     e.Event,
			RefereeID: r.ID,
			Teams:     e.Teams,
			Tables:    e.Tables,
			IsCurrent: e.IsCurrent,
		})
	}
	return events, nil
}

func (s *DocStore) Referee(ctx context.Context, id string) (RefereeRecord, error) {
	var r RefereeRecord
	err := s.get(ctx, "referees", id, &r)
	return r, err
}

func (s *DocStore) TeamEvent(ctx context.Context, eventTeamID string) (EventRecord, error) {
	events, err := s.allEvents(ctx)
	if err != nil {
		return EventRecord{}, err
	}
	for _, e := range events {
		if _, ok := e.Team(eventTeamID); ok {
			return e, nil
		}
	}
	return EventRecord{}, ErrNotFound
}

func (s *DocStore) Tabulation(ctx context.Context, id string) (tabulation.Tabulation, error) {
	var t tabulation.Tabulation
	err := s.get(ctx, "tabulations", id, &t)
	return t, err
}

func (s *DocStore) OpenTabulation(ctx context.Context, req NewTabulation) (tabulation.Tabulation, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return tabulation.Tabulation{}, err
	}
	defer tx.Rollback()

	var data string
	var submitted int
	err = tx.QueryRowContext(ctx,
		`SELECT json(data), submitted FROM tabulations WHERE event_team_id = ? AND match_id = ?`,
		req.Team.ID, string(req.Match),
	).Scan(&data, &submitted)
	switch {
	case err == nil:
		if submitted != 0 {
			return tabulation.Tabulation{}, ErrSubmitted
		}
		var t tabulation.Tabulation
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return tabulation.Tabulation{}, err
		}
		return t, nil
	case !errors.Is(err, sql.ErrNoRows):
		return tabulation.Tabulation{}, err
	}

	now := s.now()
	t := tabulation.Tabulation{
		ID:        uuid.NewString(),
		Team:      req.Team,
		Event:     req.Event,
		Table:     req.Table,
		Referee:   req.Referee,
		Match:     req.Match,
		Missions:  req.Missions,
		Score:     req.Score,
		GPScore:   req.GPScore,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := putTabulation(ctx, tx, t); err != nil {
		return tabulation.Tabulation{}, err
	}
	if err := tx.Commit(); err != nil {
		return tabulation.Tabulation{}, err
	}
	return t, nil
}

func putTabulation(ctx context.Context, tx *sql.Tx, t tabulation.Tabulation) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO tabulations (id, event_id, event_team_id, match_id, submitted, data)
		 VALUES (?, ?, ?, ?, ?, jsonb(?))
		 ON CONFLICT(id) DO UPDATE SET submitted = excluded.submitted, data = excluded.data`,
		t.ID, t.Event.ID, t.Team.ID, string(t.Match), boolInt(t.Submitted), string(data),
	)
	return err
}

// modifyTabulation loads a tabulation, applies fn, and saves it in a
// transaction. Submitted tabulations are read-only.
func (s *DocStore) modifyTabulation(ctx context.Context, id string, fn func(*tabulation.Tabulation) (bool, error)) (tabulation.Tabulation, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return tabulation.Tabulation{}, err
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRowContext(ctx,
		`SELECT json(data) FROM tabulations WHERE id = ?`, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return tabulation.Tabulation{}, ErrNotFound
	}
	if err != nil {
		return tabulation.Tabulation{}, err
	}

	var t tabulation.Tabulation
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return tabulation.Tabulation{}, err
	}
	if t.Submitted {
		return t, ErrSubmitted
	}

	changed, err := fn(&t)
	if err != nil {
		return tabulation.Tabulation{}, err
	}
	if !changed {
		return t, nil
	}
	t.UpdatedAt = s.now()

	if err := putTabulation(ctx, tx, t); err != nil {
		return tabulation.Tabulation{}, err
	}
	if err := tx.Commit(); err != nil {
		return tabulation.Tabulation{}, err
	}
	return t, nil
}

// SaveProgress stores in-progress scoring. Saving the same state twice
// leaves the record, including its timestamp, untouched.
func (s *DocStore) SaveProgress(ctx context.Context, id string, p tabulation.Progress) (tabulation.Tabulation, error) {
	return s.modifyTabulation(ctx, id, func(t *tabulation.Tabulation) (bool, error) {
		if t.Score == p.Score && t.GPScore == p.GPScore && sameMissions(t.Missions, p.Missions) {
			return false, nil
		}
		t.Missions = p.Missions
		t.Score = p.Score
		t.GPScore = p.GPScore
		return true, nil
	})
}

func (s *DocStore) CommitTabulation(ctx context.Context, id string, c Committed) (tabulation.Tabulation, error) {
	return s.modifyTabulation(ctx, id, func(t *tabulation.Tabulation) (bool, error) {
		t.Missions = c.Missions
		t.Score = c.Score
		t.GPScore = c.GPScore
		t.TeamMemberInitials = c.TeamMemberInitials
		t.ScoreLocked = true
		t.ScoreApproved = true
		t.Submitted = true
		return true, nil
	})
}

func (s *DocStore) SubmittedMatches(ctx context.Context, eventTeamID string) ([]tabulation.MatchKind, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT match_id FROM tabulations WHERE event_team_id = ? AND submitted = 1`, eventTeamID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []tabulation.MatchKind
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		matches = append(matches, tabulation.MatchKind(m))
	}
	return matches, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sameMissions(a, b tabulation.MissionState) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || w != v {
			return false
		}
	}
	return true
}
