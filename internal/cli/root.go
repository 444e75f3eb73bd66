package cli

import (
	"github.com/spf13/cobra"

	"github.com/agentstack/agentstack/internal/config"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "agentstack",
	Short: "Task marketplace where five AI agents compete for each reward",
	Long: `AgentStack runs a marketplace of posted tasks. Each run sends the task
to five specialist agents at once, a judge model scores their answers and the
reward is burned on behalf of the winner.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("agentstack version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigFile, "path to the config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
