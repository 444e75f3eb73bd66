package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentstack/agentstack/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve marketplace tools over MCP on stdio",
	Long: `Serves the run_task, reset_task, get_leaderboard and list_tasks tools
over the Model Context Protocol on stdin and stdout. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := mcpserver.New(mcpserver.Options{
		Engine:     a.engine,
		Store:      a.store,
		Logger:     a.log,
		Version:    Version,
		RunTimeout: a.cfg.Server.RunTimeout,
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
