package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smallsea/corncob/internal/adapter"
	"github.com/smallsea/corncob/internal/corncob"
	"github.com/smallsea/corncob/internal/remote"
	"github.com/smallsea/corncob/internal/state"
	"github.com/smallsea/corncob/internal/vcs"
)

const stateDBName = "state.db"

// cmdContext bundles everything a subcommand needs against one local graph.
type cmdContext struct {
	repoDir string
	cfg     *corncob.Config
	engine  vcs.Engine
	store   *state.Store
}

func newCmdContext(cmd *cobra.Command) (*cmdContext, error) {
	setupLogger(viper.GetBool("debug"))

	eng, err := vcs.NewGit()
	if err != nil {
		return nil, err
	}

	cfg, err := corncob.LoadConfig(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	repoDir, err := eng.TopLevel(cmd.Context(), viper.GetString("repo"))
	if err != nil {
		return nil, fmt.Errorf("not inside a repository: %w", err)
	}

	store, err := state.Open(filepath.Join(repoDir, ".corncob", stateDBName))
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	return &cmdContext{
		repoDir: repoDir,
		cfg:     cfg,
		engine:  eng,
		store:   store,
	}, nil
}

func (c *cmdContext) Close() {
	if err := c.store.Close(); err != nil {
		slog.Warn("close state db", "error", err)
	}
}

// openEngine resolves a nickname to a chain engine, restoring any persisted
// adapter mapping state.
func (c *cmdContext) openEngine(cmd *cobra.Command, nickname string) (*corncob.Engine, error) {
	inner, err := corncob.RemoteURL(cmd.Context(), c.engine, c.repoDir, nickname)
	if err != nil {
		return nil, fmt.Errorf("resolve remote %s: %w", nickname, err)
	}

	store, err := corncob.OpenAdapter(cmd.Context(), inner, c.cfg)
	if err != nil {
		return nil, err
	}

	if imp, ok := store.(adapter.StateExporter); ok {
		if rec, err := c.store.Remote(nickname); err == nil {
			if err := imp.ImportState(rec.AdapterState); err != nil {
				slog.Warn("restore adapter state", "error", err)
			}
		}
	}

	return corncob.New(c.repoDir, nickname, c.engine, remote.New(store),
		corncob.WithState(c.store)), nil
}
