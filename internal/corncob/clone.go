package corncob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/smallsea/corncob/internal/adapter"
	"github.com/smallsea/corncob/internal/link"
	"github.com/smallsea/corncob/internal/remote"
	"github.com/smallsea/corncob/internal/vcs"
)

// Clone initializes a fresh local graph from a remote that holds only its
// initial snapshot, checks out the conventional branch and registers the
// remote under nickname. Anything past the initial snapshot must go through
// fetch and merge against an existing graph instead.
func Clone(ctx context.Context, eng vcs.Engine, rem *remote.Remote, url, destDir, nickname string) error {
	if top, err := eng.TopLevel(ctx, destDir); err == nil {
		return fmt.Errorf("%w: %s", ErrExistingRepo, top)
	}

	latest, _, err := rem.Latest(ctx)
	if errors.Is(err, adapter.ErrNotFound) {
		return ErrEmptyRemote
	}
	if err != nil {
		return err
	}

	// the first incremental link also has the sentinel as its prev id (the
	// initial link's id), so the full-history prereq is what marks the
	// initial link
	if latest.PrevID != link.InitialSnapshot || len(latest.Bundles) != 1 ||
		latest.Prereq(DefaultBranch) != link.InitialSnapshot {
		return fmt.Errorf("%w: latest link %s", ErrNonInitialClone, latest.ID)
	}
	if err := validateLink(latest); err != nil {
		return err
	}

	bundleID := latest.Bundles[0].ID
	data, err := rem.Bundle(ctx, bundleID)
	if err != nil {
		return fmt.Errorf("download bundle %s: %w", bundleID, err)
	}

	tmpDir, err := os.MkdirTemp("", "corncob-clone-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	bundlePath := filepath.Join(tmpDir, "clone.bundle")
	if err := os.WriteFile(bundlePath, data, 0o644); err != nil {
		return err
	}

	if err := eng.CloneBundle(ctx, bundlePath, destDir); err != nil {
		return err
	}
	if err := eng.Checkout(ctx, destDir, DefaultBranch); err != nil {
		return err
	}
	if err := eng.AddRemote(ctx, destDir, nickname, URLPrefix+url); err != nil {
		return err
	}

	slog.Info("clone: done",
		"remote", nickname,
		"link", latest.ID,
		"bundle", bundleID,
		"size", humanize.Bytes(uint64(len(data))))
	return nil
}
