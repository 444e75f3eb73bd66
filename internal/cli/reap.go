package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var reapOlderThan time.Duration

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Return tasks stuck in running or judging to open",
	Args:  cobra.NoArgs,
	RunE:  runReap,
}

func init() {
	reapCmd.Flags().DurationVar(&reapOlderThan, "older-than", 10*time.Minute, "how long a task must have been in progress")
	rootCmd.AddCommand(reapCmd)
}

func runReap(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.engine.ReapStale(ctx, reapOlderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reopened %d stale task(s)\n", n)
	return nil
}
