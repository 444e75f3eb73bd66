package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentstack/agentstack/internal/state"
)

var (
	tasksStatus   string
	tasksCategory string
	tasksPoster   string
	tasksLimit    int
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks, newest first",
	Args:  cobra.NoArgs,
	RunE:  runTasks,
}

func init() {
	tasksCmd.Flags().StringVar(&tasksStatus, "status", "", "filter by status")
	tasksCmd.Flags().StringVar(&tasksCategory, "category", "", "filter by category")
	tasksCmd.Flags().StringVar(&tasksPoster, "poster", "", "filter by poster address")
	tasksCmd.Flags().IntVar(&tasksLimit, "limit", state.DefaultListLimit, "maximum tasks to show")
	rootCmd.AddCommand(tasksCmd)
}

func runTasks(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	tasks, total, err := a.engine.ListTasks(ctx, state.TaskFilter{
		Status:   state.TaskStatus(tasksStatus),
		Category: state.Category(tasksCategory),
		Poster:   tasksPoster,
		Limit:    tasksLimit,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCATEGORY\tREWARD\tWINNER\tTITLE")
	for _, t := range tasks {
		winner := "-"
		if t.WinnerAgentID != nil {
			winner = a.engine.Roster().DisplayName(*t.WinnerAgentID)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%g\t%s\t%s\n", t.ID, t.Status, t.Category, t.Reward, winner, t.Title)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if total > len(tasks) {
		fmt.Fprintf(out, "\nShowing %d of %d tasks\n", len(tasks), total)
	}
	return nil
}
