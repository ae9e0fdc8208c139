package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fllgameday/refcalc/internal/codec"
	"github.com/fllgameday/refcalc/internal/season"
)

// SeasonsCmd lists the bundled seasons, optionally with their mission keys.
func SeasonsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seasons [slug]",
		Short: "List bundled seasons or show one season's missions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seasons, err := season.Load()
			if err != nil {
				return fmt.Errorf("loading seasons: %w", err)
			}
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "SLUG\tNAME\tYEAR\tMISSIONS\t")
				for i, s := range seasons.List() {
					marker := ""
					if i == 0 {
						marker = " (current)"
					}
					fmt.Fprintf(w, "%s\t%s%s\t%d\t%d\t\n", s.Slug(), s.Name(), marker, s.Year(), len(s.Missions()))
				}
				return w.Flush()
			}

			s, ok := seasons.Get(args[0])
			if !ok {
				return fmt.Errorf("unknown season %q", args[0])
			}
			fmt.Fprintf(out, "%s (%d)\n\n", s.Name(), s.Year())
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tVALUES\tDEFAULT\tLABEL\t")
			initial := s.InitialMissionsState()
			for _, m := range s.Missions() {
				fmt.Fprintf(w, "%s\t\t\t%s\t\n", m.ID, m.Title)
				for _, o := range m.Options {
					fmt.Fprintf(w, "  %s\t%s\t%v\t%s\t\n", o.Key, domain(o.Field), initial[o.Key], o.Label)
				}
			}
			return w.Flush()
		},
	}
	return cmd
}

func domain(f codec.Field) string {
	if f.Bool {
		return "yes/no"
	}
	return fmt.Sprintf("0-%d", f.Max)
}
