// Package remote maps protocol objects (links, bundles, the latest-link
// pointer) onto adapter paths and the adapter's conditional-write rules.
package remote

import (
	"context"
	"fmt"

	"github.com/smallsea/corncob/internal/adapter"
	"github.com/smallsea/corncob/internal/link"
)

// The remote holds exactly three object kinds. Bundles and links are
// create-only; the latest pointer is the sole mutable object.
const (
	latestName   = "latest-link.yaml"
	bundlePrefix = "B-"
	bundleSuffix = ".bundle"
	linkPrefix   = "L-"
	linkSuffix   = ".yaml"
)

func BundlePath(id string) string {
	return bundlePrefix + id + bundleSuffix
}

func LinkPath(id string) string {
	return linkPrefix + id + linkSuffix
}

// Remote is one zone viewed through the protocol layout.
type Remote struct {
	store adapter.Adapter
}

func New(store adapter.Adapter) *Remote {
	return &Remote{store: store}
}

func (r *Remote) Store() adapter.Adapter {
	return r.store
}

// Latest fetches the latest pointer with its etag. adapter.ErrNotFound means
// the remote has no published history yet.
func (r *Remote) Latest(ctx context.Context) (*link.Link, string, error) {
	data, etag, err := r.store.Download(ctx, latestName)
	if err != nil {
		return nil, "", err
	}
	l, err := link.Parse(data)
	if err != nil {
		return nil, "", fmt.Errorf("latest pointer: %w", err)
	}
	return l, etag, nil
}

func (r *Remote) Link(ctx context.Context, id string) (*link.Link, error) {
	data, _, err := r.store.Download(ctx, LinkPath(id))
	if err != nil {
		return nil, err
	}
	l, err := link.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("link %s: %w", id, err)
	}
	return l, nil
}

// PutLink publishes an immutable link record. adapter.ErrAlreadyExists means
// the id collided and the caller should pick a fresh one.
func (r *Remote) PutLink(ctx context.Context, l *link.Link) error {
	data, err := l.Marshal()
	if err != nil {
		return err
	}
	_, err = r.store.UploadFresh(ctx, LinkPath(l.ID), data, adapter.ContentTypeYAML)
	return err
}

// PutLatest commits the latest pointer. An empty observed etag means first
// publish (upload_fresh); otherwise the write is conditional on the etag the
// caller read.
func (r *Remote) PutLatest(ctx context.Context, l *link.Link, observedETag string) (string, error) {
	data, err := l.Marshal()
	if err != nil {
		return "", err
	}
	if observedETag == "" {
		return r.store.UploadFresh(ctx, latestName, data, adapter.ContentTypeYAML)
	}
	return r.store.UploadIfMatch(ctx, latestName, data, observedETag, adapter.ContentTypeYAML)
}

func (r *Remote) Bundle(ctx context.Context, id string) ([]byte, error) {
	data, _, err := r.store.Download(ctx, BundlePath(id))
	return data, err
}

func (r *Remote) PutBundle(ctx context.Context, id string, data []byte) error {
	_, err := r.store.UploadFresh(ctx, BundlePath(id), data, adapter.ContentTypeOctetStream)
	return err
}
