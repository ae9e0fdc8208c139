package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fllgameday/refcalc/internal/backup"
)

// BackupsCmd returns the backups command tree.
func BackupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Manage local backups of submitted scores",
		Long:  backup.Caveat,
	}
	cmd.AddCommand(backupsListCmd(), backupsShowCmd(), backupsDeleteCmd(), backupsClearCmd())
	return cmd
}

func backupsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups on this device, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClient(cmd)
			if err != nil {
				return err
			}
			store, err := c.openBackups(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list backups: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, color.New(color.Faint).Sprint(backup.Caveat))
			fmt.Fprintln(out)
			if len(entries) == 0 {
				fmt.Fprintln(out, "No backups.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tTEAM\tMATCH\tSCORE\tGP\tEVENT\tSAVED\t")
			for _, e := range entries {
				r := e.Record
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t\n",
					e.Key, r.TeamName, r.MatchName, r.Score(), r.GPScore(), r.EventName,
					r.TS.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
}

func backupsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [key]",
		Short: "Show one backup in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClient(cmd)
			if err != nil {
				return err
			}
			store, err := c.openBackups(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			r, err := store.Get(cmd.Context(), args[0])
			if errors.Is(err, backup.ErrNotFound) {
				return fmt.Errorf("no backup with key %q", args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to read backup: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s) %s\n", r.TeamName, r.EventTeamID, r.MatchName)
			fmt.Fprintf(out, "  Event:    %s (%s)\n", r.EventName, r.EventID)
			fmt.Fprintf(out, "  Season:   %s\n", r.SeasonName)
			fmt.Fprintf(out, "  Referee:  %s", r.RefName)
			if r.RefRole != "" {
				fmt.Fprintf(out, " (%s)", r.RefRole)
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Score:    %d\n", r.Score())
			fmt.Fprintf(out, "  GP:       %d\n", r.GPScore())
			fmt.Fprintf(out, "  Initials: %s\n", r.CommitForm.TeamMemberInitials)
			fmt.Fprintf(out, "  Saved:    %s\n", r.TS.Local().Format(time.DateTime))
			fmt.Fprintln(out)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, k := range r.CommitForm.Missions.Keys() {
				fmt.Fprintf(w, "  %s\t%v\t\n", k, r.CommitForm.Missions[k])
			}
			return w.Flush()
		},
	}
}

func backupsDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete [key]",
		Short: "Delete one backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			c, err := loadClient(cmd)
			if err != nil {
				return err
			}
			store, err := c.openBackups(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if _, err := store.Get(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, backup.ErrNotFound) {
					return fmt.Errorf("no backup with key %q", args[0])
				}
				return err
			}
			out := cmd.OutOrStdout()
			p := newPrompter(cmd.InOrStdin(), out)
			if !yes && !p.Confirm(cmd.Context(), fmt.Sprintf("Delete backup %s?", args[0])) {
				fmt.Fprintln(out, "Nothing deleted.")
				return nil
			}
			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete backup: %w", err)
			}
			fmt.Fprintf(out, "%s Deleted backup %s\n", okMark, args[0])
			return nil
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func backupsClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every backup on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			c, err := loadClient(cmd)
			if err != nil {
				return err
			}
			store, err := c.openBackups(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			p := newPrompter(cmd.InOrStdin(), out)
			if !yes && !p.Confirm(cmd.Context(), "Delete ALL backups on this device? This cannot be undone.") {
				fmt.Fprintln(out, "Nothing deleted.")
				return nil
			}
			n, err := store.Clear(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to clear backups: %w", err)
			}
			fmt.Fprintf(out, "%s Deleted %d backups\n", okMark, n)
			return nil
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	return cmd
}
