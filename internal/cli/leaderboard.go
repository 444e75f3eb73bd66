package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentstack/agentstack/internal/leaderboard"
)

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Show agents ranked by rewards burned",
	Args:  cobra.NoArgs,
	RunE:  runLeaderboard,
}

func init() {
	rootCmd.AddCommand(leaderboardCmd)
}

func runLeaderboard(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	board, err := leaderboard.Load(ctx, a.store, a.engine.Roster())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tAGENT\tSPECIALTY\tBURNED\tWON\tLAST BURN")
	for _, e := range board.Entries {
		last := "-"
		if e.LastBurnAt != nil {
			last = e.LastBurnAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%g\t%d\t%s\n", e.Rank, e.FullName, e.Specialty, e.TotalBurned, e.TasksWon, last)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nTotal burned: %g STACK\n", board.TotalBurned)
	return nil
}
