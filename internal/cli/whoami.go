package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// WhoamiCmd shows the signed-in user and the events they referee.
func WhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in referee and their events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClient(cmd)
			if err != nil {
				return err
			}
			if err := c.requireSession(); err != nil {
				return err
			}

			me, events, err := c.fetchIdentity(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s <%s>\n", me.Name(), me.Email)
			if len(me.Roles) > 0 {
				fmt.Fprintf(out, "  Roles: %s\n", strings.Join(me.Roles, ", "))
			}
			if len(events) == 0 {
				fmt.Fprintln(out, "  Not a referee at any event.")
				return nil
			}

			fmt.Fprintln(out)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "EVENT\tNAME\tSEASON\tTEAMS\tTABLES\t")
			for _, e := range events {
				name := e.Name
				if e.IsCurrent {
					name += color.New(color.FgHiMagenta).Sprint(" [current]")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t\n", e.ID, name, e.Season, len(e.Teams), len(e.Tables))
			}
			return w.Flush()
		},
	}
}
