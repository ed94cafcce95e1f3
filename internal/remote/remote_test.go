package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallsea/corncob/internal/adapter"
	"github.com/smallsea/corncob/internal/link"
)

func newForTest(t *testing.T) *Remote {
	t.Helper()
	store, err := adapter.NewLocal(t.TempDir())
	require.NoError(t, err)
	return New(store)
}

func sampleLink(id, prev string) *link.Link {
	return &link.Link{
		ID:       id,
		PrevID:   prev,
		Branches: []link.Branch{{Name: "main", Head: "abc123"}},
		Bundles: []link.BundleRef{{
			ID:      "bbbb",
			Prereqs: []link.Prereq{{Branch: "main", Commit: link.InitialSnapshot}},
		}},
	}
}

func TestPathSchemes(t *testing.T) {
	assert.Equal(t, "B-cafe.bundle", BundlePath("cafe"))
	assert.Equal(t, "L-cafe.yaml", LinkPath("cafe"))
}

func TestLatestAbsent(t *testing.T) {
	r := newForTest(t)
	_, _, err := r.Latest(context.Background())
	assert.ErrorIs(t, err, adapter.ErrNotFound)
}

func TestLinkLifecycle(t *testing.T) {
	ctx := context.Background()
	r := newForTest(t)
	l := sampleLink("aaaa", link.InitialSnapshot)

	require.NoError(t, r.PutLink(ctx, l))

	// links are create-only
	assert.ErrorIs(t, r.PutLink(ctx, l), adapter.ErrAlreadyExists)

	got, err := r.Link(ctx, "aaaa")
	require.NoError(t, err)
	assert.Equal(t, l.Branches, got.Branches)
}

func TestLatestPointerCAS(t *testing.T) {
	ctx := context.Background()
	r := newForTest(t)

	// first publish is fresh
	e1, err := r.PutLatest(ctx, sampleLink("aaaa", link.InitialSnapshot), "")
	require.NoError(t, err)

	// a second fresh publish loses
	_, err = r.PutLatest(ctx, sampleLink("cccc", "aaaa"), "")
	assert.ErrorIs(t, err, adapter.ErrAlreadyExists)

	// conditional update against the observed etag wins once
	e2, err := r.PutLatest(ctx, sampleLink("cccc", "aaaa"), e1)
	require.NoError(t, err)
	require.NotEqual(t, e1, e2)

	// and the stale etag now loses
	_, err = r.PutLatest(ctx, sampleLink("dddd", "cccc"), e1)
	assert.ErrorIs(t, err, adapter.ErrETagMismatch)

	got, etag, err := r.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cccc", got.ID)
	assert.Equal(t, e2, etag)
}

func TestBundleLifecycle(t *testing.T) {
	ctx := context.Background()
	r := newForTest(t)

	payload := []byte("opaque bundle bytes")
	require.NoError(t, r.PutBundle(ctx, "cafe", payload))
	assert.ErrorIs(t, r.PutBundle(ctx, "cafe", []byte("other")), adapter.ErrAlreadyExists)

	got, err := r.Bundle(ctx, "cafe")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
