// Package backup keeps a device-local copy of every submitted tabulation.
//
// Backups live on this device only. They are a recovery aid for when the
// server commit is later found to have failed and never replace server
// persistence.
package backup

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fllgameday/refcalc/internal/database"
	"github.com/fllgameday/refcalc/internal/tabulation"
)

// Caveat is shown wherever backups are listed.
const Caveat = "Whenever a scorecard is submitted with a referee code, the tabulation is saved " +
	"on this device (and this device only) before it is sent to the Gameday servers. " +
	"Backups are a safety net for server or wifi trouble, not a replacement for the server copy."

var ErrNotFound = errors.New("backup not found")

// Record is a snapshot of a submitted tabulation.
type Record struct {
	CommitForm  tabulation.CommitForm `json:"commitForm"`
	TeamName    string                `json:"teamName"`
	EventTeamID string                `json:"eventTeamId"`
	MatchID     tabulation.MatchKind  `json:"matchId"`
	MatchName   string                `json:"matchName"`
	EventName   string                `json:"eventName"`
	EventID     string                `json:"eventId"`
	RefName     string                `json:"refName"`
	RefRole     string                `json:"refRole"`
	SeasonName  string                `json:"seasonName"`
	TS          time.Time             `json:"ts"`
}

func (r Record) Score() int {
	if r.CommitForm.Score == nil {
		return 0
	}
	return *r.CommitForm.Score
}

// GPScore reads the GP value from the stored missions.
func (r Record) GPScore() int { return r.CommitForm.Missions.GPScore() }

type Entry struct {
	Key    string
	Record Record
}

// Key returns the storage key for a tabulation: its server id, or a
// team:match:event composite when the server has not assigned one.
func Key(tabulationID, eventTeamID string, match tabulation.MatchKind, eventID string) string {
	if tabulationID != "" {
		return tabulationID
	}
	return fmt.Sprintf("%s:%s:%s", eventTeamID, match, eventID)
}

// Store is a flat key/value map. Every write touches exactly one row.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the backup database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := database.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("opening backup store: %w", err)
	}
	s, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func New(ctx context.Context, db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("creating table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// PutRaw stores an arbitrary value under key.
func (s *Store) PutRaw(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

func (s *Store) GetRaw(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// Save overwrites any record under key. Asking the operator before an
// overwrite is the caller's job.
func (s *Store) Save(ctx context.Context, key string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding backup: %w", err)
	}
	if err := s.PutRaw(ctx, key, string(data)); err != nil {
		return fmt.Errorf("saving backup %s: %w", key, err)
	}
	return nil
}

// Get returns the backup under key, ErrNotFound if there is none or the
// stored value is not a backup.
func (s *Store) Get(ctx context.Context, key string) (Record, error) {
	raw, err := s.GetRaw(ctx, key)
	if err != nil {
		return Record{}, err
	}
	rec, ok := parse(raw)
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// List returns every parseable backup, newest first. Values that are not
// backups are skipped.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM kv ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		if rec, ok := parse(raw); ok {
			entries = append(entries, Entry{Key: key, Record: rec})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Record.TS.After(entries[j].Record.TS)
	})
	return entries, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear removes every backup and leaves unrelated values alone.
func (s *Store) Clear(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE
		CASE WHEN json_valid(value) THEN json_type(value, '$.commitForm') END IS NOT NULL`)
	if err != nil {
		return 0, err
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// parse applies the commitForm discriminator.
func parse(raw string) (Record, bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return Record{}, false
	}
	if _, ok := probe["commitForm"]; !ok {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, false
	}
	return rec, true
}
