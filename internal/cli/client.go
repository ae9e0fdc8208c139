// Package cli implements the refcalc terminal client commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fllgameday/refcalc/internal/backup"
	"github.com/fllgameday/refcalc/internal/config"
	"github.com/fllgameday/refcalc/internal/gateway"
	"github.com/fllgameday/refcalc/internal/season"
	"github.com/fllgameday/refcalc/internal/tabulation"
)

// restoreKeyPrefix namespaces restore points in the backup database.
const restoreKeyPrefix = "session:restore:"

// restoreKey names the restore point of one team's match, so scoring another
// team on the same device leaves it in place.
func restoreKey(teamID string, match tabulation.MatchKind) string {
	return restoreKeyPrefix + teamID + ":" + string(match)
}

var (
	okMark   = color.New(color.FgGreen).Sprint("✓")
	warnMark = color.New(color.FgYellow).Sprint("!")
	errMark  = color.New(color.FgRed).Sprint("✗")
)

// client bundles what every command needs from the environment.
type client struct {
	cfg     *config.Client
	logger  *slog.Logger
	gw      *gateway.Client
	seasons *season.Registry
}

func loadClient(cmd *cobra.Command) (*client, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	seasons, err := season.Load()
	if err != nil {
		return nil, fmt.Errorf("loading seasons: %w", err)
	}
	seasons.SetLogger(logger)
	gw := gateway.New(cfg.APIURL, cfg.SessionToken,
		gateway.WithTimeout(cfg.RequestTimeout),
		gateway.WithLogger(logger),
	)
	return &client{cfg: cfg, logger: logger, gw: gw, seasons: seasons}, nil
}

func (c *client) requireSession() error {
	if c.cfg.SessionToken == "" {
		return errors.New("REFCALC_SESSION_TOKEN is not set\nHint: sign in on the web and copy your session token")
	}
	return nil
}

func (c *client) openBackups(ctx context.Context) (*backup.Store, error) {
	store, err := backup.Open(ctx, c.cfg.BackupDB)
	if err != nil {
		return nil, fmt.Errorf("opening backups at %s: %w", c.cfg.BackupDB, err)
	}
	return store, nil
}

// fetchIdentity loads the user and their referee events concurrently.
func (c *client) fetchIdentity(ctx context.Context) (tabulation.Me, []tabulation.RefereeEvent, error) {
	var (
		me     tabulation.Me
		events []tabulation.RefereeEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if me, err = c.gw.Me(gctx); err != nil {
			return fmt.Errorf("failed to fetch user: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if events, err = c.gw.RefereeEvents(gctx); err != nil {
			return fmt.Errorf("failed to fetch referee events: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return tabulation.Me{}, nil, err
	}
	return me, events, nil
}

// pickEvent resolves the event to score. An empty id means the only event,
// or the single current one.
func pickEvent(events []tabulation.RefereeEvent, id string) (tabulation.RefereeEvent, error) {
	if id != "" {
		for _, e := range events {
			if e.ID == id {
				return e, nil
			}
		}
		return tabulation.RefereeEvent{}, fmt.Errorf("you are not a referee at event %q", id)
	}
	if e, ok := tabulation.ChooseEvent(events); ok {
		return e, nil
	}
	if len(events) == 0 {
		return tabulation.RefereeEvent{}, errors.New("you are not a referee at any event")
	}
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	return tabulation.RefereeEvent{}, fmt.Errorf("several events to choose from (%s)\nHint: use --event", strings.Join(ids, ", "))
}

// findTeam matches a team by id or team number.
func findTeam(e tabulation.RefereeEvent, v string) (tabulation.Team, bool) {
	for _, t := range e.Teams {
		if t.ID == v || (t.Number != "" && t.Number == v) {
			return t, true
		}
	}
	return tabulation.Team{}, false
}

// findTable matches a table by id or name, ignoring case on the name.
func findTable(e tabulation.RefereeEvent, v string) (tabulation.Table, bool) {
	for _, t := range e.Tables {
		if t.ID == v || strings.EqualFold(t.Name, v) {
			return t, true
		}
	}
	return tabulation.Table{}, false
}

// parseValue reads a mission value typed at the prompt.
func parseValue(s string) (any, error) {
	switch strings.ToLower(s) {
	case "y", "yes", "true", "on":
		return true, nil
	case "n", "no", "false", "off":
		return false, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("%q is not a number or yes/no", s)
	}
	return n, nil
}

// syncWriter serializes writes from the prompt loop, the probe and
// background save notices.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
