package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetPoster string

var resetCmd = &cobra.Command{
	Use:   "reset <task-id>",
	Short: "Return a task to open so it can run again",
	Long: `Returns a task to open from any status and deletes its submissions.
Burn events are kept. With --poster the address must match the task's poster.`,
	Args: cobra.ExactArgs(1),
	RunE: runReset,
}

func init() {
	resetCmd.Flags().StringVar(&resetPoster, "poster", "", "poster wallet address to check ownership against")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.engine.ResetTask(ctx, args[0], resetPoster); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s reset to open\n", args[0])
	return nil
}
