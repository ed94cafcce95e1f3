// Package vcstest provides an in-memory Engine for tests: a commit graph
// modeled as ordered commit ids per branch, with bundles carried as JSON
// payloads. Verification mirrors the real engine's rule that a bundle's
// prerequisite must already be present in the receiving graph.
package vcstest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/smallsea/corncob/internal/vcs"
)

// Repo is one simulated local graph.
type Repo struct {
	Branches map[string][]string // ordered commits, oldest first
	Objects  map[string]bool
	Tags     map[string]string
	Remotes  map[string]string
	Tracking map[string][]string // full ref -> full history
	Checked  string              // last checked-out branch
}

// FakeEngine implements vcs.Engine over in-memory repos keyed by directory.
type FakeEngine struct {
	mu      sync.Mutex
	Repos   map[string]*Repo
	Applied []string // bundle head commits in apply order
}

type bundlePayload struct {
	Branch  string   `json:"branch"`
	Prereq  string   `json:"prereq"` // empty for full history
	Commits []string `json:"commits"`
	Head    string   `json:"head"`
}

func New() *FakeEngine {
	return &FakeEngine{Repos: map[string]*Repo{}}
}

func cmdErr(stderr string, args ...string) error {
	return &vcs.CmdError{Args: args, ExitCode: 128, Stderr: stderr}
}

func (f *FakeEngine) repo(dir string) (*Repo, error) {
	r, ok := f.Repos[filepath.Clean(dir)]
	if !ok {
		return nil, cmdErr("not a repository: " + dir)
	}
	return r, nil
}

// AddRepo registers an empty repo with a main branch.
func (f *FakeEngine) AddRepo(dir string) *Repo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.AddRepoLocked(dir)
}

// Commit appends a commit to a branch.
func (f *FakeEngine) Commit(dir, branch, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.Repos[filepath.Clean(dir)]
	r.Branches[branch] = append(r.Branches[branch], id)
	r.Objects[id] = true
}

func (f *FakeEngine) Init(_ context.Context, repoDir, initialBranch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Repos[filepath.Clean(repoDir)]; ok {
		return cmdErr("already a repository", "init")
	}
	r := f.AddRepoLocked(repoDir)
	if initialBranch != "main" {
		r.Branches = map[string][]string{initialBranch: {}}
	}
	return nil
}

func (f *FakeEngine) AddRepoLocked(dir string) *Repo {
	r := &Repo{
		Branches: map[string][]string{"main": {}},
		Objects:  map[string]bool{},
		Tags:     map[string]string{},
		Remotes:  map[string]string{},
		Tracking: map[string][]string{},
	}
	f.Repos[filepath.Clean(dir)] = r
	return r
}

func (f *FakeEngine) Branches(_ context.Context, repoDir string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repoDir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(r.Branches))
	for name := range r.Branches {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (f *FakeEngine) Head(_ context.Context, repoDir, branch string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repoDir)
	if err != nil {
		return "", err
	}
	commits := r.Branches[branch]
	if len(commits) == 0 {
		return "", cmdErr("unknown revision", "rev-parse", branch)
	}
	return commits[len(commits)-1], nil
}

func (f *FakeEngine) ObjectKind(_ context.Context, repoDir, objectID string) (vcs.ObjectKind, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repoDir)
	if err != nil {
		return vcs.ObjectAbsent, err
	}
	if r.Objects[objectID] {
		return vcs.ObjectCommit, nil
	}
	return vcs.ObjectAbsent, nil
}

func (f *FakeEngine) CreateTag(_ context.Context, repoDir, name, commitID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repoDir)
	if err != nil {
		return err
	}
	if _, ok := r.Tags[name]; ok {
		return cmdErr("tag already exists", "tag", name)
	}
	if !r.Objects[commitID] {
		return cmdErr("unknown object "+commitID, "tag", name)
	}
	r.Tags[name] = commitID
	return nil
}

func (f *FakeEngine) DeleteTag(_ context.Context, repoDir, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repoDir)
	if err != nil {
		return err
	}
	if _, ok := r.Tags[name]; !ok {
		return cmdErr("tag not found", "tag", "-d", name)
	}
	delete(r.Tags, name)
	return nil
}

func (f *FakeEngine) CreateBundle(_ context.Context, repoDir, outPath, revSpec string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repoDir)
	if err != nil {
		return err
	}

	var payload bundlePayload
	if from, branch, ok := strings.Cut(revSpec, ".."); ok {
		fromCommit := r.Tags[from]
		if fromCommit == "" {
			fromCommit = from
		}
		commits := r.Branches[branch]
		i := slices.Index(commits, fromCommit)
		if i < 0 {
			return cmdErr("bad revision range "+revSpec, "bundle", "create")
		}
		payload = bundlePayload{Branch: branch, Prereq: fromCommit, Commits: commits[i+1:]}
	} else {
		commits := r.Branches[revSpec]
		if len(commits) == 0 {
			return cmdErr("empty bundle from "+revSpec, "bundle", "create")
		}
		payload = bundlePayload{Branch: revSpec, Commits: commits}
	}
	if len(payload.Commits) == 0 {
		return cmdErr("empty bundle", "bundle", "create")
	}
	payload.Head = payload.Commits[len(payload.Commits)-1]

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, data, 0o644)
}

func readPayload(bundlePath string) (*bundlePayload, error) {
	data, err := os.ReadFile(bundlePath)
	if err != nil {
		return nil, cmdErr("cannot read bundle", "bundle", "verify")
	}
	var payload bundlePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, cmdErr("corrupt bundle", "bundle", "verify")
	}
	return &payload, nil
}

func (f *FakeEngine) VerifyBundle(_ context.Context, repoDir, bundlePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repoDir)
	if err != nil {
		return err
	}
	payload, err := readPayload(bundlePath)
	if err != nil {
		return err
	}
	if payload.Prereq != "" && !r.Objects[payload.Prereq] {
		return cmdErr("missing prerequisite "+payload.Prereq, "bundle", "verify")
	}
	return nil
}

// historyEndingAt finds a known full history whose last commit is id.
func historyEndingAt(r *Repo, id string) []string {
	for _, commits := range r.Branches {
		if i := slices.Index(commits, id); i >= 0 {
			return slices.Clone(commits[:i+1])
		}
	}
	for _, commits := range r.Tracking {
		if i := slices.Index(commits, id); i >= 0 {
			return slices.Clone(commits[:i+1])
		}
	}
	return nil
}

func (f *FakeEngine) FetchBundle(_ context.Context, repoDir, bundlePath, refSpec string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repoDir)
	if err != nil {
		return err
	}
	payload, err := readPayload(bundlePath)
	if err != nil {
		return err
	}

	var base []string
	if payload.Prereq != "" {
		if base = historyEndingAt(r, payload.Prereq); base == nil {
			return cmdErr("missing prerequisite "+payload.Prereq, "fetch")
		}
	}

	_, target, ok := strings.Cut(refSpec, ":")
	if !ok {
		return cmdErr("bad refspec "+refSpec, "fetch")
	}
	ref := strings.Replace(target, "*", payload.Branch, 1)

	r.Tracking[ref] = append(base, payload.Commits...)
	for _, c := range payload.Commits {
		r.Objects[c] = true
	}
	f.Applied = append(f.Applied, payload.Head)
	return nil
}

func (f *FakeEngine) CloneBundle(_ context.Context, bundlePath, destDir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, err := readPayload(bundlePath)
	if err != nil {
		return err
	}
	if payload.Prereq != "" {
		return cmdErr("cannot clone from partial bundle", "clone")
	}
	if _, ok := f.Repos[filepath.Clean(destDir)]; ok {
		return cmdErr("destination exists", "clone")
	}

	r := f.AddRepoLocked(destDir)
	r.Branches[payload.Branch] = slices.Clone(payload.Commits)
	for _, c := range payload.Commits {
		r.Objects[c] = true
	}
	return nil
}

func (f *FakeEngine) Checkout(_ context.Context, repoDir, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repoDir)
	if err != nil {
		return err
	}
	if _, ok := r.Branches[branch]; !ok {
		return cmdErr("no such branch "+branch, "checkout")
	}
	r.Checked = branch
	return nil
}

// Merge fast-forwards the local branch named by the ref's last path segment
// to the tracking ref's history. The fake does not model divergent merges.
func (f *FakeEngine) Merge(_ context.Context, repoDir, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repoDir)
	if err != nil {
		return err
	}
	tracked, ok := r.Tracking[ref]
	if !ok {
		return cmdErr("unknown ref "+ref, "merge")
	}
	branch := ref[strings.LastIndex(ref, "/")+1:]
	r.Branches[branch] = slices.Clone(tracked)
	for _, c := range tracked {
		r.Objects[c] = true
	}
	return nil
}

func (f *FakeEngine) AddRemote(_ context.Context, repoDir, name, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repoDir)
	if err != nil {
		return err
	}
	if _, ok := r.Remotes[name]; ok {
		return cmdErr("remote exists", "remote", "add", name)
	}
	r.Remotes[name] = url
	return nil
}

func (f *FakeEngine) RemoveRemote(_ context.Context, repoDir, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repoDir)
	if err != nil {
		return err
	}
	if _, ok := r.Remotes[name]; !ok {
		return cmdErr("no such remote", "remote", "remove", name)
	}
	delete(r.Remotes, name)
	return nil
}

func (f *FakeEngine) RemoteURL(_ context.Context, repoDir, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.repo(repoDir)
	if err != nil {
		return "", err
	}
	url, ok := r.Remotes[name]
	if !ok {
		return "", cmdErr("no such remote", "remote", "get-url", name)
	}
	return url, nil
}

func (f *FakeEngine) TopLevel(_ context.Context, dir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	clean := filepath.Clean(dir)
	if _, ok := f.Repos[clean]; ok {
		return clean, nil
	}
	return "", cmdErr("not a repository", "rev-parse", "--show-toplevel")
}
