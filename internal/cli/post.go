package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentstack/agentstack/internal/engine"
	"github.com/agentstack/agentstack/internal/state"
)

var (
	postPoster      string
	postTitle       string
	postDescription string
	postCategory    string
	postReward      float64
	postDeadline    string
	postCriteria    string
	postTxHash      string
)

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Post a new task",
	Long: `Posts a new open task.

--deadline accepts an RFC 3339 timestamp or a duration from now such as 72h.`,
	Args: cobra.NoArgs,
	RunE: runPost,
}

func init() {
	f := postCmd.Flags()
	f.StringVar(&postPoster, "poster", "", "poster wallet address")
	f.StringVar(&postTitle, "title", "", "task title")
	f.StringVar(&postDescription, "description", "", "task description")
	f.StringVar(&postCategory, "category", "", "DeFi, Code, Research, Security or Content")
	f.Float64Var(&postReward, "reward", 0, "reward in STACK")
	f.StringVar(&postDeadline, "deadline", "72h", "deadline as RFC 3339 or a duration from now")
	f.StringVar(&postCriteria, "criteria", "", "verification criteria for the judge")
	f.StringVar(&postTxHash, "tx-hash", "", "payment transaction hash")
	rootCmd.AddCommand(postCmd)
}

func runPost(cmd *cobra.Command, args []string) error {
	deadline, err := parseDeadline(postDeadline, time.Now())
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	task, err := a.engine.CreateTask(ctx, engine.NewTask{
		PosterAddress:        postPoster,
		Title:                postTitle,
		Description:          postDescription,
		Category:             state.Category(postCategory),
		Reward:               postReward,
		Deadline:             deadline,
		VerificationCriteria: postCriteria,
		TxHash:               postTxHash,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Posted task %s (%s, %g STACK, due %s)\n",
		task.ID, task.Category, task.Reward, task.Deadline.Format(time.RFC3339))
	return nil
}

func parseDeadline(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid deadline %q: want RFC 3339 or a duration", s)
	}
	return t, nil
}
