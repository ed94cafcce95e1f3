// Package bundle bridges the protocol to the VCS engine: building
// incremental bundles, applying remote bundles into private refs, and
// probing whether a link's prereqs are present locally.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/smallsea/corncob/internal/link"
	"github.com/smallsea/corncob/internal/vcs"
)

var ErrBundleInvalid = errors.New("bundle failed verification")

const anchorPrefix = "corncob-anchor-"

// RefNamespace returns the remote-tracking ref prefix for a nickname. Fetched
// bundles only ever land here, never in user branches.
func RefNamespace(nickname string) string {
	return "refs/remotes/corncob/" + nickname
}

// FetchRefSpec maps a bundle's branch heads into the nickname's namespace.
func FetchRefSpec(nickname string) string {
	return "+refs/heads/*:" + RefNamespace(nickname) + "/*"
}

// Builder produces bundles from a local graph.
type Builder struct {
	repoDir string
	engine  vcs.Engine
}

func NewBuilder(repoDir string, engine vcs.Engine) *Builder {
	return &Builder{repoDir: repoDir, engine: engine}
}

// Build writes a bundle for from..branch to outPath. When from is the
// initial-snapshot sentinel the bundle carries the branch's full reachable
// history. Otherwise a temporary anchor tag names the from commit for the
// range; the anchor is private to this call and removed on every exit path.
func (b *Builder) Build(ctx context.Context, outPath, from, branch string) error {
	if from == link.InitialSnapshot {
		return b.engine.CreateBundle(ctx, b.repoDir, outPath, branch)
	}

	anchor := anchorPrefix + link.NewToken()
	if err := b.engine.CreateTag(ctx, b.repoDir, anchor, from); err != nil {
		return fmt.Errorf("anchor %s at %s: %w", anchor, from, err)
	}
	defer func() {
		if err := b.engine.DeleteTag(context.WithoutCancel(ctx), b.repoDir, anchor); err != nil {
			slog.Warn("bundle: leaked anchor tag", "tag", anchor, "error", err)
		}
	}()

	return b.engine.CreateBundle(ctx, b.repoDir, outPath, anchor+".."+branch)
}

// Applier integrates remote bundles into a local graph.
type Applier struct {
	repoDir string
	engine  vcs.Engine
}

func NewApplier(repoDir string, engine vcs.Engine) *Applier {
	return &Applier{repoDir: repoDir, engine: engine}
}

// Apply verifies a downloaded bundle and fetches its refs into the
// nickname's private namespace. Integration into user branches stays an
// explicit, caller-requested step.
func (a *Applier) Apply(ctx context.Context, bundlePath, nickname string) error {
	if err := a.engine.VerifyBundle(ctx, a.repoDir, bundlePath); err != nil {
		return fmt.Errorf("%w: %v", ErrBundleInvalid, err)
	}
	if err := a.engine.FetchBundle(ctx, a.repoDir, bundlePath, FetchRefSpec(nickname)); err != nil {
		return fmt.Errorf("apply bundle: %w", err)
	}
	return nil
}

// HavePrereqs reports whether every prereq commit named by the link's
// bundles is already present in the local graph. The initial-snapshot
// sentinel always counts as present.
func (a *Applier) HavePrereqs(ctx context.Context, l *link.Link) (bool, error) {
	for _, bref := range l.Bundles {
		for _, p := range bref.Prereqs {
			if p.Commit == link.InitialSnapshot {
				continue
			}
			kind, err := a.engine.ObjectKind(ctx, a.repoDir, p.Commit)
			if err != nil {
				return false, err
			}
			if kind != vcs.ObjectCommit {
				return false, nil
			}
		}
	}
	return true, nil
}
