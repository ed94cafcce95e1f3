package corncob

import (
	"context"
	"log/slog"

	"github.com/smallsea/corncob/internal/state"
	"github.com/smallsea/corncob/internal/vcs"
)

// AddRemote registers a CornCob remote: a config entry in the local graph
// plus a side-state record when a store is attached.
func AddRemote(ctx context.Context, eng vcs.Engine, repoDir, nickname, innerURL string, st *state.Store) error {
	if err := eng.AddRemote(ctx, repoDir, nickname, URLPrefix+innerURL); err != nil {
		return err
	}
	if st != nil {
		if _, err := st.AddRemote(nickname, innerURL); err != nil {
			return err
		}
	}
	slog.Info("remote added", "nickname", nickname, "url", innerURL)
	return nil
}

// RemoveRemote drops the config entry and the side-state record.
func RemoveRemote(ctx context.Context, eng vcs.Engine, repoDir, nickname string, st *state.Store) error {
	if err := eng.RemoveRemote(ctx, repoDir, nickname); err != nil {
		return err
	}
	if st != nil {
		if err := st.RemoveRemote(nickname); err != nil {
			return err
		}
	}
	slog.Info("remote removed", "nickname", nickname)
	return nil
}

// RemoteURL resolves a nickname to its inner URL through the graph config.
func RemoteURL(ctx context.Context, eng vcs.Engine, repoDir, nickname string) (string, error) {
	raw, err := eng.RemoteURL(ctx, repoDir, nickname)
	if err != nil {
		return "", err
	}
	return StripURL(raw)
}
