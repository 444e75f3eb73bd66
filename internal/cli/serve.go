package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentstack/agentstack/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serves the marketplace HTTP API on server.port.

When engine.stale_after is set, a background reaper returns tasks stuck in
running or judging for longer than that to open.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := server.New(server.Options{
		Engine: a.engine,
		Store:  a.store,
		Config: a.cfg.Server,
		Logger: a.log,
	})
	if err != nil {
		return err
	}

	if d := a.cfg.Engine.StaleAfter; d > 0 {
		go a.engine.RunReaper(ctx, d, d/2)
		a.log.Info("stale task reaper enabled", "stale_after", d)
	}

	go func() {
		<-ctx.Done()
		if err := srv.Stop(); err != nil {
			a.log.Error("shutdown failed", "error", err)
		}
	}()

	return srv.Start(ctx)
}
