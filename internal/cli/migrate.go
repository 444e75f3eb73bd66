package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentstack/agentstack/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the Postgres schema",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Store.Driver != config.StoreDriverPostgres {
		return errors.New("migrate requires store.driver postgres or DATABASE_URL")
	}
	// openApp has already applied the schema.
	fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
	return nil
}
