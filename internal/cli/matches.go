package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// MatchesCmd lists the matches a team has not been scored for yet.
func MatchesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "matches [eventTeamId]",
		Short: "List a team's unscored matches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadClient(cmd)
			if err != nil {
				return err
			}
			if err := c.requireSession(); err != nil {
				return err
			}

			matches, err := c.gw.UnscoredMatches(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to list matches: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(matches) == 0 {
				fmt.Fprintf(out, "%s All matches for %s are scored.\n", okMark, args[0])
				return nil
			}
			for _, m := range matches {
				fmt.Fprintf(out, "%-12s %s\n", m, m.Name())
			}
			return nil
		},
	}
}
