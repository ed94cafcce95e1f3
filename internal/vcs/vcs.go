// Package vcs abstracts the external version-control engine that supplies
// delta computation, graph integration and verification. The protocol layer
// never depends on any one engine's semantics beyond this capability set.
package vcs

import (
	"context"
	"fmt"
	"strings"
)

// ObjectKind classifies an object id in a local graph.
type ObjectKind string

const (
	ObjectCommit ObjectKind = "commit"
	ObjectTree   ObjectKind = "tree"
	ObjectBlob   ObjectKind = "blob"
	ObjectAbsent ObjectKind = "absent"
)

// Engine is the subprocess capability set. All operations block on the
// engine; callers pass a context for cancellation.
type Engine interface {
	Init(ctx context.Context, repoDir, initialBranch string) error
	Branches(ctx context.Context, repoDir string) ([]string, error)
	Head(ctx context.Context, repoDir, branch string) (string, error)
	ObjectKind(ctx context.Context, repoDir, objectID string) (ObjectKind, error)

	CreateTag(ctx context.Context, repoDir, name, commitID string) error
	DeleteTag(ctx context.Context, repoDir, name string) error

	CreateBundle(ctx context.Context, repoDir, outPath, revSpec string) error
	VerifyBundle(ctx context.Context, repoDir, bundlePath string) error
	FetchBundle(ctx context.Context, repoDir, bundlePath, refSpec string) error
	CloneBundle(ctx context.Context, bundlePath, destDir string) error

	Checkout(ctx context.Context, repoDir, branch string) error
	Merge(ctx context.Context, repoDir, ref string) error

	AddRemote(ctx context.Context, repoDir, name, url string) error
	RemoveRemote(ctx context.Context, repoDir, name string) error
	RemoteURL(ctx context.Context, repoDir, name string) (string, error)

	// TopLevel resolves the root of the graph containing dir, or fails when
	// dir is not inside one.
	TopLevel(ctx context.Context, dir string) (string, error)
}

// CmdError carries an engine subprocess failure unchanged: the command, its
// exit code and its stderr for diagnostics.
type CmdError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CmdError) Error() string {
	return fmt.Sprintf("git %s: exit %d: %s",
		strings.Join(e.Args, " "), e.ExitCode, strings.TrimSpace(e.Stderr))
}
