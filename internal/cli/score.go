package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fllgameday/refcalc/internal/backup"
	"github.com/fllgameday/refcalc/internal/scorecard"
	"github.com/fllgameday/refcalc/internal/season"
	"github.com/fllgameday/refcalc/internal/tabulation"
)

const scoreHelp = `Commands:
  show                  print the scorecard
  set <key> <value>     score a mission (numbers, or yes/no)
  reset                 put every mission back to its default
  lock                  freeze the score for the team to review
  unlock <code>         reopen a locked or approved score with a referee code
  approve <initials>    record the team's approval of a locked score
  commit <code>         submit the approved score with a referee code
  retry                 resubmit after a failed submission
  probe                 check the connection to the scoring server
  cancel                abandon this match
  quit                  leave; unsubmitted progress stays on the server`

// ScoreCmd opens an interactive scoring session for one team and match.
func ScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a match interactively",
		Long: `Open the scorecard for a team's match and score it line by line.

Usage:
  refcalc score --team 1001 --match match2 --table "Table A"
  refcalc score --team et-1001 --match match2 --table tbl-a --restore submerged#1a2b3c
  refcalc score --team 1001 --match match2 --table tbl-a --resume

` + scoreHelp,
		Args: cobra.NoArgs,
		RunE: runScore,
	}
	cmd.Flags().String("team", "", "Team id or team number (required)")
	cmd.Flags().String("match", "", "Match: practice, match1, match2, match3 or tieBreaker (required)")
	cmd.Flags().String("table", "", "Table id or name (required)")
	cmd.Flags().String("event", "", "Event id (defaults to your only or current event)")
	cmd.Flags().String("restore", "", "Restore point to show while the scorecard loads (season#token)")
	cmd.Flags().Bool("resume", false, "Use the restore point saved by the last session")
	_ = cmd.MarkFlagRequired("team")
	_ = cmd.MarkFlagRequired("match")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

func runScore(cmd *cobra.Command, args []string) error {
	teamFlag, _ := cmd.Flags().GetString("team")
	matchFlag, _ := cmd.Flags().GetString("match")
	tableFlag, _ := cmd.Flags().GetString("table")
	eventFlag, _ := cmd.Flags().GetString("event")
	restore, _ := cmd.Flags().GetString("restore")
	resume, _ := cmd.Flags().GetBool("resume")

	match, err := tabulation.ParseMatchKind(matchFlag)
	if err != nil {
		return err
	}

	c, err := loadClient(cmd)
	if err != nil {
		return err
	}
	if err := c.requireSession(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	me, events, err := c.fetchIdentity(ctx)
	if err != nil {
		return err
	}
	event, err := pickEvent(events, eventFlag)
	if err != nil {
		return err
	}
	team, ok := findTeam(event, teamFlag)
	if !ok {
		return fmt.Errorf("no team %q at %s", teamFlag, event.Name)
	}
	table, ok := findTable(event, tableFlag)
	if !ok {
		return fmt.Errorf("no table %q at %s", tableFlag, event.Name)
	}

	store, err := c.openBackups(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	out := &syncWriter{w: cmd.OutOrStdout()}
	s := &session{
		seasons:    c.seasons,
		backups:    store,
		restoreKey: restoreKey(team.ID, match),
		prompt:     newPrompter(cmd.InOrStdin(), out),
		out:        out,
		logger:     c.logger,
	}
	s.sc = scorecard.New(scorecard.Config{
		Engine:  c.seasons.Current(),
		Seasons: c.seasons.Engine,
		Gateway: c.gw,
		Backups: store,
		Confirm: s.prompt,
		Notify:  s.notify,
		Identity: tabulation.Identity{
			RefereeID:   event.RefereeID,
			RefereeName: me.Name(),
			RefereeRole: strings.Join(me.Roles, ", "),
			Event:       event.Event,
		},
		SaveDelay: c.cfg.SaveDelay,
		Logger:    c.logger,
	})
	defer func() {
		if err := s.sc.Close(); err != nil {
			fmt.Fprintf(out, "%s Last changes were not saved to the server: %v\n", warnMark, err)
		}
	}()

	if resume && restore == "" {
		restore, err = store.GetRaw(ctx, s.restoreKey)
		if err != nil && !errors.Is(err, backup.ErrNotFound) {
			c.logger.Warn("reading saved restore point", "error", err)
		}
	}
	if rp := scorecard.ParseRestorePoint(restore); !rp.IsZero() {
		s.sc.Seed(rp)
		fmt.Fprintf(out, "Restored %s while loading.\n", rp)
	}

	s.sc.CheckConnectivity(ctx)
	go s.probe(ctx, c.cfg.ProbeInterval)

	sel := tabulation.Selection{
		EventTeamID: team.ID,
		Match:       match,
		TableID:     table.ID,
		RefereeID:   event.RefereeID,
	}
	if err := s.sc.Start(ctx, sel); err != nil {
		return fmt.Errorf("failed to open scorecard: %w", err)
	}
	s.saveRestorePoint(ctx)
	s.show()
	fmt.Fprintln(out, "Type help for commands.")

	for {
		line, ok := s.prompt.ReadLine(s.promptText())
		if !ok {
			fmt.Fprintln(out)
			return nil
		}
		if s.exec(ctx, line) {
			return nil
		}
	}
}

// session is one interactive scoring run.
type session struct {
	sc         *scorecard.Scorecard
	seasons    *season.Registry
	backups    *backup.Store
	restoreKey string
	prompt     *prompter
	out        io.Writer
	logger     *slog.Logger
}

// notify prints info and warning notices. Errors are printed where the
// failing command returns them.
func (s *session) notify(n scorecard.Notice) {
	switch n.Level {
	case scorecard.LevelInfo:
		fmt.Fprintf(s.out, "%s %s\n", okMark, n.Msg)
	case scorecard.LevelWarn:
		fmt.Fprintf(s.out, "%s %s\n", warnMark, n.Msg)
	}
}

func (s *session) report(err error) {
	fmt.Fprintf(s.out, "%s %v\n", errMark, err)
}

func (s *session) probe(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sc.CheckConnectivity(ctx)
		}
	}
}

func (s *session) promptText() string {
	return fmt.Sprintf("[%s] > ", stateLabel(s.sc.State()))
}

// exec runs one command line and reports whether the session is over.
func (s *session) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "help", "?":
		fmt.Fprintln(s.out, scoreHelp)
	case "show":
		s.show()
	case "set":
		if len(args) != 2 {
			s.report(errors.New("usage: set <key> <value>"))
			return false
		}
		v, err := parseValue(args[1])
		if err != nil {
			s.report(err)
			return false
		}
		if err := s.sc.SetMission(args[0], v); err != nil {
			s.report(err)
			return false
		}
		s.saveRestorePoint(ctx)
		s.printScore()
	case "reset":
		if err := s.sc.ResetScore(); err != nil {
			s.report(err)
			return false
		}
		s.saveRestorePoint(ctx)
		s.printScore()
	case "lock":
		if err := s.sc.Lock(); err != nil {
			s.report(err)
			return false
		}
		fmt.Fprintf(s.out, "%s Score locked. Ask the team to review it, then approve <initials>.\n", okMark)
	case "unlock":
		if len(args) != 1 {
			s.report(errors.New("usage: unlock <code>"))
			return false
		}
		if err := s.sc.Unlock(ctx, args[0]); err != nil {
			s.report(err)
			return false
		}
		fmt.Fprintf(s.out, "%s Score unlocked.\n", okMark)
	case "approve":
		if len(args) == 0 {
			s.report(errors.New("usage: approve <initials>"))
			return false
		}
		if err := s.sc.Approve(strings.Join(args, " ")); err != nil {
			s.report(err)
			return false
		}
		fmt.Fprintf(s.out, "%s Approved by %s. Submit with commit <code>.\n", okMark, s.sc.Snapshot().TeamMemberInitials)
	case "commit":
		if len(args) != 1 {
			s.report(errors.New("usage: commit <code>"))
			return false
		}
		return s.finish(ctx, func() (scorecard.Outcome, error) { return s.sc.Commit(ctx, args[0]) })
	case "retry":
		return s.finish(ctx, func() (scorecard.Outcome, error) { return s.sc.Retry(ctx) })
	case "probe":
		if s.sc.CheckConnectivity(ctx) {
			fmt.Fprintf(s.out, "%s Scoring server reachable.\n", okMark)
		}
	case "cancel":
		if !s.sc.Cancel(ctx) {
			fmt.Fprintln(s.out, "Still scoring.")
			return false
		}
		s.clearRestorePoint(ctx)
		fmt.Fprintln(s.out, "Match cancelled.")
		return true
	case "quit", "exit":
		if s.sc.State().InProgress() {
			fmt.Fprintln(s.out, "Leaving without submitting. Progress stays on the server; rerun score to continue.")
		}
		return true
	default:
		s.report(fmt.Errorf("unknown command %q, type help", name))
	}
	return false
}

// finish runs a submission and ends the session once it lands.
func (s *session) finish(ctx context.Context, submit func() (scorecard.Outcome, error)) bool {
	out, err := submit()
	if err != nil {
		s.report(err)
		if s.sc.State() == scorecard.CommitFailed {
			fmt.Fprintln(s.out, "Type retry to try again with the same referee code.")
		}
		return false
	}
	switch {
	case out.BackupWritten:
		fmt.Fprintf(s.out, "  Backup saved on this device as %s\n", out.BackupKey)
	default:
		fmt.Fprintf(s.out, "  Existing backup %s kept\n", out.BackupKey)
	}
	if out.Offline {
		fmt.Fprintf(s.out, "  Score %d is NOT on the server yet.\n", out.Score)
	} else {
		fmt.Fprintf(s.out, "  Score %d submitted.\n", out.Score)
	}
	s.clearRestorePoint(ctx)
	return true
}

func (s *session) saveRestorePoint(ctx context.Context) {
	rp := s.sc.Snapshot().RestorePoint()
	if rp.IsZero() {
		return
	}
	if err := s.backups.PutRaw(ctx, s.restoreKey, rp.String()); err != nil {
		s.logger.Warn("saving restore point", "error", err)
	}
}

func (s *session) clearRestorePoint(ctx context.Context) {
	if err := s.backups.Delete(ctx, s.restoreKey); err != nil && !errors.Is(err, backup.ErrNotFound) {
		s.logger.Warn("clearing restore point", "error", err)
	}
}

func (s *session) printScore() {
	snap := s.sc.Snapshot()
	fmt.Fprintf(s.out, "  Score %s  GP %d\n", scoreText(snap.Score), snap.GPScore)
	for _, w := range snap.Warnings {
		fmt.Fprintf(s.out, "  %s %s\n", warnMark, w)
	}
}

func (s *session) show() {
	snap := s.sc.Snapshot()
	tab := snap.Tabulation

	fmt.Fprintf(s.out, "%s  %s  %s  %s\n",
		color.New(color.Bold).Sprint(teamLabel(tab.Team)), tab.Match.Name(), tab.Table.Name, stateLabel(snap.State))
	var flags []string
	if snap.ScoreLocked {
		flags = append(flags, "locked")
	}
	if snap.ScoreApproved {
		flags = append(flags, "approved by "+snap.TeamMemberInitials)
	}
	if snap.Offline {
		flags = append(flags, color.New(color.FgYellow).Sprint("offline"))
	}
	if len(flags) > 0 {
		fmt.Fprintf(s.out, "  [%s]\n", strings.Join(flags, ", "))
	}
	if snap.RefError != "" {
		fmt.Fprintf(s.out, "  %s %s\n", errMark, snap.RefError)
	}
	s.printScore()

	if sn, ok := s.seasons.Get(snap.Season); ok {
		w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
		for _, m := range sn.Missions() {
			fmt.Fprintf(w, "%s\t%s\t\t\n", m.ID, m.Title)
			for _, o := range m.Options {
				fmt.Fprintf(w, "  %s\t%v\t%s\t\n", o.Key, snap.Missions[o.Key], domain(o.Field))
			}
		}
		_ = w.Flush()
	}
	if snap.Token != "" {
		fmt.Fprintf(s.out, "  Restore: %s\n", snap.RestorePoint())
	}
}

func scoreText(score *int) string {
	if score == nil {
		return "-"
	}
	return fmt.Sprint(*score)
}

func teamLabel(t tabulation.Team) string {
	if t.Number == "" {
		return t.Name
	}
	return t.Number + " " + t.Name
}

func stateLabel(st scorecard.State) string {
	switch st {
	case scorecard.Active:
		return color.New(color.FgGreen).Sprint(st)
	case scorecard.Locked:
		return color.New(color.FgYellow).Sprint(st)
	case scorecard.TeamApproved:
		return color.New(color.FgCyan).Sprint(st)
	case scorecard.CommitFailed:
		return color.New(color.FgRed).Sprint(st)
	}
	return st.String()
}
