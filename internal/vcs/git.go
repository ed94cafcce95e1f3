package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Git runs the system git binary as the engine.
type Git struct{}

var ErrGitNotAvailable = errors.New("git is not available on this system")

func NewGit() (*Git, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, ErrGitNotAvailable
	}
	return &Git{}, nil
}

func (g *Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), &CmdError{
				Args:     args,
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
			}
		}
		return "", fmt.Errorf("run git: %w", err)
	}
	return stdout.String(), nil
}

func (g *Git) Init(ctx context.Context, repoDir, initialBranch string) error {
	_, err := g.run(ctx, "", "init", "--initial-branch", initialBranch, repoDir)
	return err
}

func (g *Git) Branches(ctx context.Context, repoDir string) ([]string, error) {
	out, err := g.run(ctx, repoDir, "for-each-ref", "--format=%(refname:short)", "refs/heads/")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			branches = append(branches, line)
		}
	}
	return branches, nil
}

func (g *Git) Head(ctx context.Context, repoDir, branch string) (string, error) {
	out, err := g.run(ctx, repoDir, "rev-parse", "refs/heads/"+branch)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (g *Git) ObjectKind(ctx context.Context, repoDir, objectID string) (ObjectKind, error) {
	out, err := g.run(ctx, repoDir, "cat-file", "-t", objectID)
	if err != nil {
		var cmdErr *CmdError
		if errors.As(err, &cmdErr) {
			return ObjectAbsent, nil
		}
		return ObjectAbsent, err
	}
	switch kind := strings.TrimSpace(out); kind {
	case "commit", "tree", "blob":
		return ObjectKind(kind), nil
	default:
		// annotated tags and anything newer count as absent for prereq purposes
		return ObjectAbsent, nil
	}
}

func (g *Git) CreateTag(ctx context.Context, repoDir, name, commitID string) error {
	_, err := g.run(ctx, repoDir, "tag", name, commitID)
	return err
}

func (g *Git) DeleteTag(ctx context.Context, repoDir, name string) error {
	_, err := g.run(ctx, repoDir, "tag", "-d", name)
	return err
}

func (g *Git) CreateBundle(ctx context.Context, repoDir, outPath, revSpec string) error {
	_, err := g.run(ctx, repoDir, "bundle", "create", outPath, revSpec)
	return err
}

func (g *Git) VerifyBundle(ctx context.Context, repoDir, bundlePath string) error {
	_, err := g.run(ctx, repoDir, "bundle", "verify", bundlePath)
	return err
}

func (g *Git) FetchBundle(ctx context.Context, repoDir, bundlePath, refSpec string) error {
	_, err := g.run(ctx, repoDir, "fetch", bundlePath, refSpec)
	return err
}

func (g *Git) CloneBundle(ctx context.Context, bundlePath, destDir string) error {
	_, err := g.run(ctx, "", "clone", bundlePath, destDir)
	return err
}

func (g *Git) Checkout(ctx context.Context, repoDir, branch string) error {
	_, err := g.run(ctx, repoDir, "checkout", branch)
	return err
}

func (g *Git) Merge(ctx context.Context, repoDir, ref string) error {
	_, err := g.run(ctx, repoDir, "merge", ref)
	return err
}

func (g *Git) AddRemote(ctx context.Context, repoDir, name, url string) error {
	_, err := g.run(ctx, repoDir, "remote", "add", name, url)
	return err
}

func (g *Git) RemoveRemote(ctx context.Context, repoDir, name string) error {
	_, err := g.run(ctx, repoDir, "remote", "remove", name)
	return err
}

func (g *Git) RemoteURL(ctx context.Context, repoDir, name string) (string, error) {
	out, err := g.run(ctx, repoDir, "remote", "get-url", name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (g *Git) TopLevel(ctx context.Context, dir string) (string, error) {
	out, err := g.run(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
