package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentstack/agentstack/internal/agents"
	"github.com/agentstack/agentstack/internal/config"
	"github.com/agentstack/agentstack/internal/engine"
	"github.com/agentstack/agentstack/internal/llm"
	"github.com/agentstack/agentstack/internal/logging"
	"github.com/agentstack/agentstack/internal/state"
)

// app holds the wired dependencies a command needs.
type app struct {
	cfg    *config.Config
	log    *logging.Logger
	store  state.Store
	engine *engine.Engine
}

func (a *app) Close() {
	a.store.Close()
}

// openApp builds the app from flags and config. Tests replace it.
var openApp = defaultOpenApp

func defaultOpenApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	log := logging.Default()
	log.SetLevel(level)

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	client, err := llm.New(cfg.LLM)
	if err != nil {
		store.Close()
		return nil, err
	}

	eng := engine.New(engine.Options{
		Store:  store,
		LLM:    client,
		Roster: agents.Default(),
		Config: cfg.Engine,
		Market: cfg.Market,
		Models: engine.ModelsFromConfig(cfg.LLM),
		Logger: log,
	})
	return &app{cfg: cfg, log: log, store: store, engine: eng}, nil
}

// openStore connects the configured store. Postgres schemas are created on
// first use.
func openStore(ctx context.Context, cfg config.StoreConfig) (state.Store, error) {
	switch cfg.Driver {
	case config.StoreDriverPostgres:
		pg, err := state.NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	case config.StoreDriverMemory, "":
		return state.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// commandContext returns cmd's context, or Background when run outside
// Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
