package corncob

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallsea/corncob/internal/adapter"
	"github.com/smallsea/corncob/internal/link"
	"github.com/smallsea/corncob/internal/remote"
	"github.com/smallsea/corncob/internal/vcs/vcstest"
)

func newLocalRemote(t *testing.T) (*remote.Remote, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := adapter.NewLocal(dir)
	require.NoError(t, err)
	return remote.New(store), dir
}

// chainIDs walks the committed chain backward from the latest pointer.
func chainIDs(t *testing.T, rem *remote.Remote) []string {
	t.Helper()
	ctx := context.Background()

	l, _, err := rem.Latest(ctx)
	require.NoError(t, err)

	var ids []string
	for {
		ids = append(ids, l.ID)
		if l.ID == link.InitialSnapshot {
			return ids
		}
		l, err = rem.Link(ctx, l.PrevID)
		require.NoError(t, err)
	}
}

// remoteObjects lists the protocol objects on a local-folder remote.
func remoteObjects(t *testing.T, dir string) (bundles, links []string, hasLatest bool) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasPrefix(name, "B-"):
			bundles = append(bundles, name)
		case strings.HasPrefix(name, "L-"):
			links = append(links, name)
		case name == "latest-link.yaml":
			hasLatest = true
		}
	}
	return bundles, links, hasLatest
}

func TestInitialPublishAndClone(t *testing.T) {
	ctx := context.Background()
	eng := vcstest.New()
	rem, remoteDir := newLocalRemote(t)

	alice := filepath.Join(t.TempDir(), "alice")
	eng.AddRepo(alice)
	eng.Commit(alice, "main", "c1")
	eng.Commit(alice, "main", "c2")
	eng.Commit(alice, "main", "c3")

	require.NoError(t, New(alice, "origin", eng, rem).Push(ctx, nil))

	// exactly one bundle, one link, one latest pointer
	bundles, links, hasLatest := remoteObjects(t, remoteDir)
	assert.Len(t, bundles, 1)
	assert.Equal(t, []string{"L-initial-snapshot.yaml"}, links)
	assert.True(t, hasLatest)

	latest, _, err := rem.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, link.InitialSnapshot, latest.ID)
	assert.Equal(t, link.InitialSnapshot, latest.PrevID)
	assert.Equal(t, []link.Branch{{Name: "main", Head: "c3"}}, latest.Branches)
	require.Len(t, latest.Bundles, 1)
	assert.Equal(t, []link.Prereq{{Branch: "main", Commit: link.InitialSnapshot}}, latest.Bundles[0].Prereqs)

	// the latest pointer and the link file carry the same record
	stored, err := rem.Link(ctx, link.InitialSnapshot)
	require.NoError(t, err)
	assert.Equal(t, latest.Branches, stored.Branches)

	// a second participant clones and ends up with the same history
	bob := filepath.Join(t.TempDir(), "bob")
	inner := "file://" + remoteDir
	require.NoError(t, Clone(ctx, eng, rem, inner, bob, "origin"))

	assert.Equal(t, eng.Repos[alice].Branches["main"], eng.Repos[bob].Branches["main"])
	assert.Equal(t, URLPrefix+inner, eng.Repos[bob].Remotes["origin"])
	assert.Equal(t, "main", eng.Repos[bob].Checked)
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	eng := vcstest.New()
	rem, remoteDir := newLocalRemote(t)

	alice := filepath.Join(t.TempDir(), "alice")
	eng.AddRepo(alice)
	eng.Commit(alice, "main", "c1")
	require.NoError(t, New(alice, "bobshare", eng, rem).Push(ctx, nil))

	bob := filepath.Join(t.TempDir(), "bob")
	require.NoError(t, Clone(ctx, eng, rem, "file://"+remoteDir, bob, "aliceshare"))

	// bob commits on top and publishes
	eng.Commit(bob, "main", "c2")
	require.NoError(t, New(bob, "aliceshare", eng, rem).Push(ctx, nil))

	// alice fetches and merges bob's work
	aliceEng := New(alice, "bobshare", eng, rem)
	require.NoError(t, aliceEng.Fetch(ctx, nil))
	require.NoError(t, aliceEng.Merge(ctx, nil))

	assert.Equal(t, []string{"c1", "c2"}, eng.Repos[alice].Branches["main"])
	assert.Equal(t, eng.Repos[bob].Branches["main"], eng.Repos[alice].Branches["main"])
}

func TestPushNothingToPublish(t *testing.T) {
	ctx := context.Background()
	eng := vcstest.New()
	rem, remoteDir := newLocalRemote(t)

	repo := filepath.Join(t.TempDir(), "repo")
	eng.AddRepo(repo)
	eng.Commit(repo, "main", "c1")

	e := New(repo, "origin", eng, rem)
	require.NoError(t, e.Push(ctx, nil))

	_, links, _ := remoteObjects(t, remoteDir)
	require.Len(t, links, 1)

	// pushing again with no new commits must not publish anything
	require.NoError(t, e.Push(ctx, nil))
	_, links, _ = remoteObjects(t, remoteDir)
	assert.Len(t, links, 1)
}

// hookAdapter fires a callback once, just before the first conditional
// pointer write goes through, to interleave a racing pusher.
type hookAdapter struct {
	adapter.Adapter
	onPointerWrite func()
	fired          bool
}

func (h *hookAdapter) UploadIfMatch(ctx context.Context, path string, data []byte, etag, contentType string) (string, error) {
	if !h.fired {
		h.fired = true
		h.onPointerWrite()
	}
	return h.Adapter.UploadIfMatch(ctx, path, data, etag, contentType)
}

func TestConcurrentPushContention(t *testing.T) {
	ctx := context.Background()
	eng := vcstest.New()
	rem, remoteDir := newLocalRemote(t)

	// seed: initial publish at c3
	seed := filepath.Join(t.TempDir(), "seed")
	eng.AddRepo(seed)
	eng.Commit(seed, "main", "c1")
	eng.Commit(seed, "main", "c2")
	eng.Commit(seed, "main", "c3")
	require.NoError(t, New(seed, "origin", eng, rem).Push(ctx, nil))
	require.Len(t, chainIDs(t, rem), 1)

	// pusher B holds c4; pusher A holds c4 plus its own c5
	repoB := filepath.Join(t.TempDir(), "b")
	eng.AddRepo(repoB)
	for _, c := range []string{"c1", "c2", "c3", "c4"} {
		eng.Commit(repoB, "main", c)
	}
	repoA := filepath.Join(t.TempDir(), "a")
	eng.AddRepo(repoA)
	for _, c := range []string{"c1", "c2", "c3", "c4", "c5"} {
		eng.Commit(repoA, "main", c)
	}

	engineB := New(repoB, "origin", eng, rem)

	raw := rem.Store()
	hooked := &hookAdapter{
		Adapter: raw,
		onPointerWrite: func() {
			// B commits its push between A's observe and A's pointer write
			require.NoError(t, engineB.Push(ctx, nil))
		},
	}
	engineA := New(repoA, "origin", eng, remote.New(hooked))

	require.NoError(t, engineA.Push(ctx, nil))

	// exactly two pushes landed on top of the seed
	ids := chainIDs(t, rem)
	require.Len(t, ids, 3)

	latest, _, err := rem.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c5", latest.Head("main"))
	assert.Equal(t, "c4", latest.Prereq("main"))

	middle, err := rem.Link(ctx, latest.PrevID)
	require.NoError(t, err)
	assert.Equal(t, "c4", middle.Head("main"))
	assert.Equal(t, "c3", middle.Prereq("main"))

	// A's losing attempt left an orphan bundle and link behind, outside the
	// committed chain
	bundles, links, _ := remoteObjects(t, remoteDir)
	assert.Len(t, bundles, 4)
	assert.Len(t, links, 4)
	committed := map[string]bool{}
	for _, id := range ids {
		committed[remote.LinkPath(id)] = true
	}
	orphans := 0
	for _, name := range links {
		if !committed[name] {
			orphans++
		}
	}
	assert.Equal(t, 1, orphans)
}

func TestFetchStopsAtKnownPrereq(t *testing.T) {
	ctx := context.Background()
	eng := vcstest.New()
	rem, _ := newLocalRemote(t)

	alice := filepath.Join(t.TempDir(), "alice")
	eng.AddRepo(alice)
	aliceEng := New(alice, "origin", eng, rem)

	eng.Commit(alice, "main", "c1")
	require.NoError(t, aliceEng.Push(ctx, nil)) // L1 (initial)
	eng.Commit(alice, "main", "c2")
	require.NoError(t, aliceEng.Push(ctx, nil)) // L2
	eng.Commit(alice, "main", "c3")
	require.NoError(t, aliceEng.Push(ctx, nil)) // L3

	// bob's graph holds only L1's history
	bob := filepath.Join(t.TempDir(), "bob")
	eng.AddRepo(bob)
	eng.Commit(bob, "main", "c1")

	bobEng := New(bob, "origin", eng, rem)
	require.NoError(t, bobEng.Fetch(ctx, nil))

	// L2 then L3 applied, in that order; L1 not re-fetched
	assert.Equal(t, []string{"c2", "c3"}, eng.Applied)

	require.NoError(t, bobEng.Merge(ctx, nil))
	assert.Equal(t, []string{"c1", "c2", "c3"}, eng.Repos[bob].Branches["main"])
}

func TestFetchFullHistoryIntoEmptyGraph(t *testing.T) {
	ctx := context.Background()
	eng := vcstest.New()
	rem, _ := newLocalRemote(t)

	alice := filepath.Join(t.TempDir(), "alice")
	eng.AddRepo(alice)
	aliceEng := New(alice, "origin", eng, rem)
	eng.Commit(alice, "main", "c1")
	require.NoError(t, aliceEng.Push(ctx, nil))
	eng.Commit(alice, "main", "c2")
	require.NoError(t, aliceEng.Push(ctx, nil))

	// a chain walk finding no local prereq before the initial snapshot is
	// legitimate: the whole history comes over
	bob := filepath.Join(t.TempDir(), "bob")
	eng.AddRepo(bob)

	bobEng := New(bob, "origin", eng, rem)
	require.NoError(t, bobEng.Fetch(ctx, nil))
	require.NoError(t, bobEng.Merge(ctx, nil))

	assert.Equal(t, []string{"c1", "c2"}, eng.Repos[bob].Branches["main"])
}

func TestFetchEmptyRemote(t *testing.T) {
	eng := vcstest.New()
	rem, _ := newLocalRemote(t)

	repo := filepath.Join(t.TempDir(), "repo")
	eng.AddRepo(repo)

	err := New(repo, "origin", eng, rem).Fetch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyRemote)
}

func TestChainCycleDetected(t *testing.T) {
	ctx := context.Background()
	rem, _ := newLocalRemote(t)
	eng := vcstest.New()

	// a malformed remote where two links point at each other
	mk := func(id, prev string) *link.Link {
		return &link.Link{
			ID:       id,
			PrevID:   prev,
			Branches: []link.Branch{{Name: "main", Head: "h-" + id}},
			Bundles: []link.BundleRef{{
				ID:      "bundle-" + id,
				Prereqs: []link.Prereq{{Branch: "main", Commit: "missing-" + id}},
			}},
		}
	}
	la, lb := mk("aaaa", "bbbb"), mk("bbbb", "aaaa")
	require.NoError(t, rem.PutLink(ctx, la))
	require.NoError(t, rem.PutLink(ctx, lb))
	_, err := rem.PutLatest(ctx, la, "")
	require.NoError(t, err)

	repo := filepath.Join(t.TempDir(), "repo")
	eng.AddRepo(repo)

	err = New(repo, "origin", eng, rem).Fetch(ctx, nil)
	assert.ErrorIs(t, err, ErrBadChain)
}

func TestMultiBranchRejected(t *testing.T) {
	eng := vcstest.New()
	rem, _ := newLocalRemote(t)

	repo := filepath.Join(t.TempDir(), "repo")
	eng.AddRepo(repo)
	eng.Commit(repo, "main", "c1")

	e := New(repo, "origin", eng, rem)
	assert.ErrorIs(t, e.Push(context.Background(), []string{"dev"}), ErrMultiBranch)
	assert.ErrorIs(t, e.Push(context.Background(), []string{"main", "dev"}), ErrMultiBranch)
}

func TestCloneRefusals(t *testing.T) {
	ctx := context.Background()
	eng := vcstest.New()

	t.Run("empty remote", func(t *testing.T) {
		rem, _ := newLocalRemote(t)
		err := Clone(ctx, eng, rem, "file:///nowhere", filepath.Join(t.TempDir(), "dst"), "origin")
		assert.ErrorIs(t, err, ErrEmptyRemote)
	})

	t.Run("non-initial remote", func(t *testing.T) {
		rem, _ := newLocalRemote(t)
		alice := filepath.Join(t.TempDir(), "alice")
		eng.AddRepo(alice)
		aliceEng := New(alice, "origin", eng, rem)
		eng.Commit(alice, "main", "c1")
		require.NoError(t, aliceEng.Push(ctx, nil))
		eng.Commit(alice, "main", "c2")
		require.NoError(t, aliceEng.Push(ctx, nil))

		err := Clone(ctx, eng, rem, "file:///x", filepath.Join(t.TempDir(), "dst"), "origin")
		assert.ErrorIs(t, err, ErrNonInitialClone)
	})

	t.Run("existing repository", func(t *testing.T) {
		rem, _ := newLocalRemote(t)
		dst := filepath.Join(t.TempDir(), "dst")
		eng.AddRepo(dst)

		err := Clone(ctx, eng, rem, "file:///x", dst, "origin")
		assert.ErrorIs(t, err, ErrExistingRepo)
	})
}
