package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <task-id>",
	Short: "Run the competition for an open task",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Server.RunTimeout)
	defer cancel()

	res, err := a.engine.RunTask(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task %s completed\n", res.TaskID)
	fmt.Fprintf(out, "Winner:     %s (%s)\n", a.engine.Roster().DisplayName(res.WinnerAgentID), res.WinnerAgentID)
	fmt.Fprintf(out, "Submission: %s\n", res.WinnerSubmissionID)
	fmt.Fprintf(out, "Burned:     %g STACK\n", res.Burned)
	if res.Fallback {
		fmt.Fprintln(out, "Judge reply was malformed; fallback scoring used.")
	}
	fmt.Fprintf(out, "Reasoning:  %s\n", res.Reasoning)
	return nil
}
