// Package corncob implements the link-chain engine: publishing new states
// and integrating remote states through the chain of immutable links.
package corncob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/smallsea/corncob/internal/adapter"
	"github.com/smallsea/corncob/internal/bundle"
	"github.com/smallsea/corncob/internal/link"
	"github.com/smallsea/corncob/internal/remote"
	"github.com/smallsea/corncob/internal/state"
	"github.com/smallsea/corncob/internal/vcs"
)

const (
	// DefaultBranch is the single branch the protocol currently publishes.
	// The link schema stays a list on the wire for future extension.
	DefaultBranch = "main"

	// ScratchDirName holds in-flight bundle payloads, per nickname.
	ScratchDirName = ".corncob-bundle-tmp"

	// maxPushAttempts bounds the restart loop when racing pushers keep
	// winning the pointer.
	maxPushAttempts = 3

	// maxIDRetries bounds regeneration on fresh-upload id collisions.
	maxIDRetries = 3
)

var (
	ErrEmptyRemote     = errors.New("remote has no published history")
	ErrNonInitialClone = errors.New("remote history goes beyond the initial snapshot; fetch and merge instead")
	ErrRacingPush      = errors.New("push kept losing to concurrent writers")
	ErrExistingRepo    = errors.New("target is already inside a repository")
	ErrMultiBranch     = errors.New("multi-branch links are not supported")
	ErrBadChain        = errors.New("remote chain is malformed")
)

// Engine drives one CornCob remote for one local graph. Operations against
// the same remote must be serialized by the caller; distinct remotes may be
// driven in parallel.
type Engine struct {
	repoDir  string
	nickname string
	vcs      vcs.Engine
	remote   *remote.Remote
	builder  *bundle.Builder
	applier  *bundle.Applier
	state    *state.Store
}

type Option func(*Engine)

// WithState attaches the per-remote side-state store; observed pointer
// contents and adapter mapping state get recorded there.
func WithState(st *state.Store) Option {
	return func(e *Engine) {
		e.state = st
	}
}

func New(repoDir, nickname string, eng vcs.Engine, rem *remote.Remote, opts ...Option) *Engine {
	e := &Engine{
		repoDir:  repoDir,
		nickname: nickname,
		vcs:      eng,
		remote:   rem,
		builder:  bundle.NewBuilder(repoDir, eng),
		applier:  bundle.NewApplier(repoDir, eng),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) scratchDir() string {
	return filepath.Join(e.repoDir, ScratchDirName, e.nickname)
}

// resolveBranches enforces the single-branch model while keeping the
// list-shaped surface.
func resolveBranches(branches []string) (string, error) {
	switch len(branches) {
	case 0:
		return DefaultBranch, nil
	case 1:
		if branches[0] != DefaultBranch {
			return "", fmt.Errorf("%w: %q", ErrMultiBranch, branches[0])
		}
		return branches[0], nil
	default:
		return "", fmt.Errorf("%w: %v", ErrMultiBranch, branches)
	}
}

// Push publishes the local branch heads as a new link on the chain. The
// latest-pointer conditional write is the single commit point: losing it to
// a racing pusher restarts the whole operation from fresh reads.
func (e *Engine) Push(ctx context.Context, branches []string) error {
	branch, err := resolveBranches(branches)
	if err != nil {
		return err
	}

	for attempt := 1; attempt <= maxPushAttempts; attempt++ {
		done, err := e.pushOnce(ctx, branch)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		slog.Info("push: lost pointer race, restarting", "attempt", attempt)
	}
	return ErrRacingPush
}

// pushOnce runs one observe-build-upload-commit cycle. It reports done=false
// when the pointer write lost to a racer and the caller should restart.
func (e *Engine) pushOnce(ctx context.Context, branch string) (bool, error) {
	head, err := e.vcs.Head(ctx, e.repoDir, branch)
	if err != nil {
		return false, fmt.Errorf("resolve head of %s: %w", branch, err)
	}

	// observe
	var (
		prevID, prereq, observedETag string
		initial                      bool
	)
	latest, etag, err := e.remote.Latest(ctx)
	switch {
	case errors.Is(err, adapter.ErrNotFound):
		initial = true
		prevID = link.InitialSnapshot
		prereq = link.InitialSnapshot
	case err != nil:
		return false, err
	default:
		if err := validateLink(latest); err != nil {
			return false, err
		}
		prevID = latest.ID
		prereq = latest.Head(branch)
		observedETag = etag
		if prereq == "" {
			return false, fmt.Errorf("%w: latest link does not publish %s", ErrBadChain, branch)
		}
	}

	if prereq == head {
		slog.Info("push: nothing to publish", "branch", branch, "head", head)
		return true, nil
	}

	// build
	if err := os.MkdirAll(e.scratchDir(), 0o755); err != nil {
		return false, err
	}
	bundlePath := filepath.Join(e.scratchDir(), "push.bundle")
	defer os.Remove(bundlePath)

	if err := e.builder.Build(ctx, bundlePath, prereq, branch); err != nil {
		return false, err
	}
	data, err := os.ReadFile(bundlePath)
	if err != nil {
		return false, err
	}

	// upload-bundle: collisions of fresh random ids only ever mean
	// regenerate and retry
	bundleID, err := e.uploadFreshBundle(ctx, data)
	if err != nil {
		return false, err
	}

	ln := &link.Link{
		PrevID:   prevID,
		Branches: []link.Branch{{Name: branch, Head: head}},
		Bundles: []link.BundleRef{{
			ID:      bundleID,
			Prereqs: []link.Prereq{{Branch: branch, Commit: prereq}},
		}},
	}

	// upload-link
	if initial {
		ln.ID = link.InitialSnapshot
		err = e.remote.PutLink(ctx, ln)
		if errors.Is(err, adapter.ErrAlreadyExists) {
			// a racer published the initial snapshot first
			return false, nil
		}
		if err != nil {
			return false, err
		}
	} else {
		if err := e.uploadFreshLink(ctx, ln); err != nil {
			return false, err
		}
	}

	// commit-pointer
	newETag, err := e.remote.PutLatest(ctx, ln, observedETag)
	if errors.Is(err, adapter.ErrETagMismatch) || errors.Is(err, adapter.ErrAlreadyExists) {
		// the bundle and link stay behind as orphans; names are fresh so
		// the failure path is idempotent
		return false, nil
	}
	if err != nil {
		return false, err
	}

	slog.Info("push: published",
		"link", ln.ID,
		"bundle", bundleID,
		"size", humanize.Bytes(uint64(len(data))),
		"branch", branch,
		"head", head)
	e.recordObserved(ln.ID, newETag)
	return true, nil
}

func (e *Engine) uploadFreshBundle(ctx context.Context, data []byte) (string, error) {
	for range maxIDRetries {
		id := link.NewToken()
		err := e.remote.PutBundle(ctx, id, data)
		if errors.Is(err, adapter.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return "", err
		}
		return id, nil
	}
	return "", fmt.Errorf("%w: bundle id collisions", ErrRacingPush)
}

func (e *Engine) uploadFreshLink(ctx context.Context, ln *link.Link) error {
	for range maxIDRetries {
		ln.ID = link.NewToken()
		err := e.remote.PutLink(ctx, ln)
		if errors.Is(err, adapter.ErrAlreadyExists) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: link id collisions", ErrRacingPush)
}

// Fetch walks the chain backward from the latest pointer until a link whose
// prereqs are already present locally, then applies the missing bundles
// oldest first into the nickname's private ref namespace.
func (e *Engine) Fetch(ctx context.Context, branches []string) error {
	if _, err := resolveBranches(branches); err != nil {
		return err
	}

	latest, etag, err := e.remote.Latest(ctx)
	if errors.Is(err, adapter.ErrNotFound) {
		return ErrEmptyRemote
	}
	if err != nil {
		return err
	}

	chain, err := e.collectChain(ctx, latest)
	if err != nil {
		return err
	}
	if len(chain) == 0 {
		slog.Info("fetch: nothing to apply", "remote", e.nickname)
		return nil
	}

	// oldest missing first
	reverse(chain)

	if err := os.MkdirAll(e.scratchDir(), 0o755); err != nil {
		return err
	}

	// downloads are independent; application order is not
	paths := make([]string, len(chain))
	grp, grpCtx := errgroup.WithContext(ctx)
	for i, ln := range chain {
		grp.Go(func() error {
			id := ln.Bundles[0].ID
			data, err := e.remote.Bundle(grpCtx, id)
			if err != nil {
				return fmt.Errorf("download bundle %s: %w", id, err)
			}
			p := filepath.Join(e.scratchDir(), remote.BundlePath(id))
			if err := os.WriteFile(p, data, 0o644); err != nil {
				return err
			}
			paths[i] = p
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return err
	}
	defer func() {
		for _, p := range paths {
			os.Remove(p)
		}
	}()

	for i, p := range paths {
		if err := e.applier.Apply(ctx, p, e.nickname); err != nil {
			return fmt.Errorf("link %s: %w", chain[i].ID, err)
		}
		slog.Info("fetch: applied bundle", "link", chain[i].ID, "bundle", chain[i].Bundles[0].ID)
	}

	e.recordObserved(latest.ID, etag)
	return nil
}

// collectChain returns the links whose bundles are missing locally, newest
// first, walking prev ids until a known prereq, the initial snapshot, or a
// cycle (which is a malformed chain, not an infinite walk).
func (e *Engine) collectChain(ctx context.Context, latest *link.Link) ([]*link.Link, error) {
	var chain []*link.Link
	seen := mapset.NewThreadUnsafeSet[string]()
	cur := latest

	for {
		if err := validateLink(cur); err != nil {
			return nil, err
		}
		if !seen.Add(cur.ID) {
			return nil, fmt.Errorf("%w: link %s repeats in chain", ErrBadChain, cur.ID)
		}

		have, err := e.applier.HavePrereqs(ctx, cur)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cur)
		if have {
			return chain, nil
		}

		// the initial link is reachable under the sentinel id; its own
		// initial-snapshot prereq is what bottoms the walk out
		next, err := e.remote.Link(ctx, cur.PrevID)
		if err != nil {
			return nil, fmt.Errorf("follow chain to %s: %w", cur.PrevID, err)
		}
		cur = next
	}
}

// Merge integrates the remote-tracking refs from fetch into the caller's
// branches. Conflict resolution is the engine's; failures surface unchanged.
func (e *Engine) Merge(ctx context.Context, branches []string) error {
	branch, err := resolveBranches(branches)
	if err != nil {
		return err
	}
	return e.vcs.Merge(ctx, e.repoDir, bundle.RefNamespace(e.nickname)+"/"+branch)
}

func (e *Engine) recordObserved(linkID, etag string) {
	if e.state == nil {
		return
	}
	if err := e.state.SetObserved(e.nickname, linkID, etag); err != nil {
		slog.Warn("state: record observed pointer", "error", err)
	}
	if exp, ok := e.remote.Store().(adapter.StateExporter); ok {
		data, err := exp.ExportState()
		if err != nil {
			slog.Warn("state: export adapter state", "error", err)
			return
		}
		if err := e.state.SetAdapterState(e.nickname, data); err != nil {
			slog.Warn("state: persist adapter state", "error", err)
		}
	}
}

// validateLink enforces the runtime single-branch model on third-party
// records while tolerating the list form on the wire.
func validateLink(l *link.Link) error {
	if len(l.Branches) != 1 || len(l.Bundles) != 1 {
		return fmt.Errorf("%w: link %s publishes %d branches, %d bundles",
			ErrMultiBranch, l.ID, len(l.Branches), len(l.Bundles))
	}
	if l.Branches[0].Name != DefaultBranch {
		return fmt.Errorf("%w: branch %q", ErrMultiBranch, l.Branches[0].Name)
	}
	if len(l.Bundles[0].Prereqs) != 1 || l.Bundles[0].Prereqs[0].Branch != DefaultBranch {
		return fmt.Errorf("%w: link %s has unexpected prereqs", ErrMultiBranch, l.ID)
	}
	return nil
}

func reverse(chain []*link.Link) {
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
}
