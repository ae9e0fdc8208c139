package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/fllgameday/refcalc/internal/backup"
	"github.com/fllgameday/refcalc/internal/database"
	"github.com/fllgameday/refcalc/internal/migrations"
	"github.com/fllgameday/refcalc/internal/season"
	"github.com/fllgameday/refcalc/internal/server"
	"github.com/fllgameday/refcalc/internal/tabulation"
)

// setupBackend starts the scoring backend with demo data and points the
// client environment at it. It returns the backup database path.
func setupBackend(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	store := server.NewDocStore(db)
	if err := server.SeedDemo(ctx, slog.Default(), store); err != nil {
		t.Fatalf("seed: %v", err)
	}
	seasons, err := season.Load()
	if err != nil {
		t.Fatalf("load seasons: %v", err)
	}
	srv := httptest.NewServer(server.NewHandler(slog.Default(), store, seasons))
	t.Cleanup(srv.Close)

	backups := filepath.Join(t.TempDir(), "backups.db")
	t.Setenv("REFCALC_API_URL", srv.URL)
	t.Setenv("REFCALC_SESSION_TOKEN", server.DemoSessionToken)
	t.Setenv("REFCALC_BACKUP_DB", backups)
	t.Setenv("REFCALC_SAVE_DELAY", "10ms")
	t.Setenv("REFCALC_PROBE_INTERVAL", "0s")
	return backups
}

func execute(t *testing.T, cmd *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func openBackups(t *testing.T, path string) *backup.Store {
	t.Helper()
	store, err := backup.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open backups: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCommandsRegistered(t *testing.T) {
	tests := []struct {
		cmd  *cobra.Command
		subs []string
	}{
		{BackupsCmd(), []string{"list", "show [key]", "delete [key]", "clear"}},
		{TokenCmd(), []string{"encode [key=value ...]", "decode [season#token]"}},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.Use, func(t *testing.T) {
			have := map[string]bool{}
			for _, sub := range tt.cmd.Commands() {
				have[sub.Use] = true
				if sub.Short == "" {
					t.Errorf("%s has no Short description", sub.Use)
				}
			}
			for _, want := range tt.subs {
				if !have[want] {
					t.Errorf("subcommand %q not registered", want)
				}
			}
		})
	}
}

func TestWhoami(t *testing.T) {
	setupBackend(t)

	out, err := execute(t, WhoamiCmd(), "")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	for _, want := range []string{"Ada Lovelace", "ada@example.org", server.DemoEventID, "submerged"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWhoamiRequiresSession(t *testing.T) {
	setupBackend(t)
	t.Setenv("REFCALC_SESSION_TOKEN", "")

	_, err := execute(t, WhoamiCmd(), "")
	if err == nil || !strings.Contains(err.Error(), "REFCALC_SESSION_TOKEN") {
		t.Errorf("err = %v", err)
	}
}

func TestMatches(t *testing.T) {
	setupBackend(t)

	out, err := execute(t, MatchesCmd(), "", "et-1001")
	if err != nil {
		t.Fatalf("matches: %v", err)
	}
	for _, m := range tabulation.MatchKinds {
		if !strings.Contains(out, string(m)) {
			t.Errorf("output missing %s:\n%s", m, out)
		}
	}
}

func TestScoreSessionCommits(t *testing.T) {
	path := setupBackend(t)

	script := strings.Join([]string{
		"set m00_equipment_inspection yes",
		"set m03_reef_raised yes",
		"set m03_reef_segments 3",
		"set gracious_professionalism 2",
		"commit AB12CD",
		"lock",
		"approve al",
		"commit AB12CD",
	}, "\n") + "\n"

	out, err := execute(t, ScoreCmd(), script,
		"--team", "1001", "--match", "match2", "--table", "Table A")
	if err != nil {
		t.Fatalf("score: %v\n%s", err, out)
	}
	for _, want := range []string{
		"Robo Raccoons",
		"team has not approved the score",
		"Approved by AL",
		"Score received!",
		"Score 105 submitted.",
		"Backup saved on this device",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	store := openBackups(t, path)
	entries, err := store.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d backups, want 1", len(entries))
	}
	rec := entries[0].Record
	if rec.TeamName != "Robo Raccoons" || rec.Score() != 105 || rec.GPScore() != 2 {
		t.Errorf("backup = %+v", rec)
	}
	if rec.RefName != "Ada Lovelace" {
		t.Errorf("RefName = %q", rec.RefName)
	}
	if _, err := store.GetRaw(context.Background(), restoreKey("et-1001", tabulation.MatchTwo)); !errors.Is(err, backup.ErrNotFound) {
		t.Errorf("restore point left behind after submit: %v", err)
	}
}

func TestScoreSessionQuitKeepsRestorePoint(t *testing.T) {
	path := setupBackend(t)

	out, err := execute(t, ScoreCmd(), "set m03_reef_segments 2\nset m03_reef_segments lots\nquit\n",
		"--team", "et-1002", "--match", "match1", "--table", "tbl-b")
	if err != nil {
		t.Fatalf("score: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"lots" is not a number`) {
		t.Errorf("bad value not reported:\n%s", out)
	}
	if !strings.Contains(out, "Leaving without submitting") {
		t.Errorf("missing quit message:\n%s", out)
	}

	store := openBackups(t, path)
	raw, err := store.GetRaw(context.Background(), restoreKey("et-1002", tabulation.MatchOne))
	if err != nil {
		t.Fatalf("restore point: %v", err)
	}
	if !strings.HasPrefix(raw, "submerged#") {
		t.Errorf("restore point = %q", raw)
	}
	store.Close()

	out, err = execute(t, ScoreCmd(), "show\nquit\n",
		"--team", "et-1002", "--match", "match1", "--table", "tbl-b", "--resume")
	if err != nil {
		t.Fatalf("resume: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Restored "+raw) {
		t.Errorf("resume did not use %q:\n%s", raw, out)
	}
}

func TestScoreResumeIgnoresOtherTeams(t *testing.T) {
	path := setupBackend(t)

	out, err := execute(t, ScoreCmd(), "set m03_reef_segments 2\nquit\n",
		"--team", "et-1002", "--match", "match1", "--table", "tbl-b")
	if err != nil {
		t.Fatalf("score: %v\n%s", err, out)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"other team", []string{"--team", "et-1003", "--match", "match1", "--table", "tbl-b", "--resume"}},
		{"other match", []string{"--team", "et-1002", "--match", "match2", "--table", "tbl-b", "--resume"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, ScoreCmd(), "quit\n", tt.args...)
			if err != nil {
				t.Fatalf("score: %v\n%s", err, out)
			}
			if strings.Contains(out, "Restored ") {
				t.Errorf("resumed another session's progress:\n%s", out)
			}
		})
	}

	store := openBackups(t, path)
	if _, err := store.GetRaw(context.Background(), restoreKey("et-1002", tabulation.MatchOne)); err != nil {
		t.Errorf("restore point of et-1002 match1 lost: %v", err)
	}
}

func TestScoreSessionCancel(t *testing.T) {
	path := setupBackend(t)

	out, err := execute(t, ScoreCmd(), "set m03_reef_raised yes\ncancel\nn\ncancel\ny\n",
		"--team", "et-1003", "--match", "practice", "--table", "tbl-a")
	if err != nil {
		t.Fatalf("score: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Still scoring.") || !strings.Contains(out, "Match cancelled.") {
		t.Errorf("output:\n%s", out)
	}

	store := openBackups(t, path)
	if _, err := store.GetRaw(context.Background(), restoreKey("et-1003", tabulation.MatchPractice)); !errors.Is(err, backup.ErrNotFound) {
		t.Errorf("restore point left behind after cancel: %v", err)
	}
}

func TestScoreRejectsUnknownSelection(t *testing.T) {
	setupBackend(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad match", []string{"--team", "1001", "--match", "final", "--table", "tbl-a"}, "final"},
		{"unknown team", []string{"--team", "9999", "--match", "match1", "--table", "tbl-a"}, `no team "9999"`},
		{"unknown table", []string{"--team", "1001", "--match", "match1", "--table", "tbl-z"}, `no table "tbl-z"`},
		{"unknown event", []string{"--team", "1001", "--match", "match1", "--table", "tbl-a", "--event", "nope"}, "not a referee"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, ScoreCmd(), "", tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestBackupsCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backups.db")
	t.Setenv("REFCALC_BACKUP_DB", path)
	ctx := context.Background()

	store := openBackups(t, path)
	score := 42
	rec := backup.Record{
		CommitForm: tabulation.CommitForm{
			TeamMemberInitials: "JD",
			Score:              &score,
			Missions:           tabulation.MissionState{"gracious_professionalism": 3, "m03_reef_raised": true},
		},
		TeamName:  "Kelp Coders",
		MatchName: tabulation.MatchOne.Name(),
		EventName: "Regional Qualifier",
		TS:        time.Now(),
	}
	if err := store.Save(ctx, "tab-1", rec); err != nil {
		t.Fatal(err)
	}
	if err := store.PutRaw(ctx, restoreKey("et-1001", tabulation.MatchOne), "submerged#abc"); err != nil {
		t.Fatal(err)
	}
	store.Close()

	out, err := execute(t, BackupsCmd(), "", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "tab-1") || !strings.Contains(out, "Kelp Coders") || !strings.Contains(out, "this device only") {
		t.Errorf("list output:\n%s", out)
	}

	out, err = execute(t, BackupsCmd(), "", "show", "tab-1")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "Initials: JD") || !strings.Contains(out, "m03_reef_raised") {
		t.Errorf("show output:\n%s", out)
	}

	if _, err := execute(t, BackupsCmd(), "", "show", restoreKey("et-1001", tabulation.MatchOne)); err == nil {
		t.Error("show should not treat the restore point as a backup")
	}

	out, err = execute(t, BackupsCmd(), "n\n", "delete", "tab-1")
	if err != nil || !strings.Contains(out, "Nothing deleted.") {
		t.Fatalf("declined delete: %v\n%s", err, out)
	}

	out, err = execute(t, BackupsCmd(), "y\n", "clear")
	if err != nil || !strings.Contains(out, "Deleted 1 backups") {
		t.Fatalf("clear: %v\n%s", err, out)
	}

	store = openBackups(t, path)
	if raw, err := store.GetRaw(ctx, restoreKey("et-1001", tabulation.MatchOne)); err != nil || raw != "submerged#abc" {
		t.Errorf("clear touched unrelated data: %q, %v", raw, err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	out, err := execute(t, TokenCmd(), "", "encode", "--season", "submerged", "m03_reef_segments=3", "m03_reef_raised=yes")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	token := strings.TrimSpace(out)
	if !strings.HasPrefix(token, "submerged#") {
		t.Fatalf("token = %q", token)
	}

	out, err = execute(t, TokenCmd(), "", "decode", token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	values := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		if f := strings.Fields(line); len(f) == 2 {
			values[f[0]] = f[1]
		}
	}
	if values["m03_reef_segments"] != "3" || values["m03_reef_raised"] != "true" || values["precision_tokens"] != "6" {
		t.Errorf("decode output:\n%s", out)
	}
}

func TestTokenErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown season", []string{"encode", "--season", "nope"}},
		{"unknown key", []string{"encode", "--season", "submerged", "m99=1"}},
		{"not key=value", []string{"encode", "m03_reef_raised"}},
		{"out of range", []string{"encode", "--season", "submerged", "m03_reef_segments=9"}},
		{"malformed token", []string{"decode", "submerged#!!"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, TokenCmd(), "", tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
		err  bool
	}{
		{"yes", true, false},
		{"N", false, false},
		{"true", true, false},
		{"4", 4, false},
		{"-1", -1, false},
		{"four", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseValue(tt.in)
			if (err != nil) != tt.err {
				t.Fatalf("err = %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPickEvent(t *testing.T) {
	a := tabulation.RefereeEvent{Event: tabulation.Event{ID: "a"}}
	b := tabulation.RefereeEvent{Event: tabulation.Event{ID: "b"}, IsCurrent: true}
	c := tabulation.RefereeEvent{Event: tabulation.Event{ID: "c"}, IsCurrent: true}

	tests := []struct {
		name   string
		events []tabulation.RefereeEvent
		id     string
		want   string
		err    bool
	}{
		{"only event", []tabulation.RefereeEvent{a}, "", "a", false},
		{"single current", []tabulation.RefereeEvent{a, b}, "", "b", false},
		{"two current", []tabulation.RefereeEvent{a, b, c}, "", "", true},
		{"explicit", []tabulation.RefereeEvent{a, b, c}, "c", "c", false},
		{"explicit unknown", []tabulation.RefereeEvent{a}, "z", "", true},
		{"none", nil, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pickEvent(tt.events, tt.id)
			if (err != nil) != tt.err {
				t.Fatalf("err = %v", err)
			}
			if got.ID != tt.want {
				t.Errorf("got %q, want %q", got.ID, tt.want)
			}
		})
	}
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	p := newPrompter(strings.NewReader("yes\n\nnope\n"), &out)
	ctx := context.Background()

	if !p.Confirm(ctx, "first?") {
		t.Error("yes should confirm")
	}
	if p.Confirm(ctx, "second?") {
		t.Error("empty answer should decline")
	}
	if p.Confirm(ctx, "third?") {
		t.Error("nope should decline")
	}
	if p.Confirm(ctx, "fourth?") {
		t.Error("end of input should decline")
	}
	if !strings.Contains(out.String(), "first? [y/N] ") {
		t.Errorf("prompt not printed: %q", out.String())
	}
}
