// Package adapter exposes conditional-write object storage with identical
// semantics across heterogeneous cloud backends. Each adapter instance owns
// one zone (a bucket or an app-folder).
package adapter

import (
	"context"
	"errors"
)

const (
	ContentTypeOctetStream = "application/octet-stream"
	ContentTypeYAML        = "application/yaml"
)

// Uniform error taxonomy. Backend failures are wrapped so errors.Is matches
// one of these and the message keeps the backend detail.
var (
	ErrNotFound      = errors.New("object not found")
	ErrAlreadyExists = errors.New("object already exists")
	ErrETagMismatch  = errors.New("etag mismatch")
	ErrTransport     = errors.New("transport error")
	ErrAuthExpired   = errors.New("auth token expired")
)

// Adapter is the conditional-write surface over one remote zone. Etags are
// opaque handles that change whenever the stored bytes change; they are the
// only synchronization primitive the protocol relies on.
type Adapter interface {
	// Zone names the bucket or app-folder this instance owns.
	Zone() string

	// Download fetches the current bytes and etag. ErrNotFound when absent.
	Download(ctx context.Context, path string) ([]byte, string, error)

	// UploadOverwrite unconditionally writes and returns the new etag.
	UploadOverwrite(ctx context.Context, path string, data []byte, contentType string) (string, error)

	// UploadFresh writes only if the object does not exist.
	// ErrAlreadyExists otherwise.
	UploadFresh(ctx context.Context, path string, data []byte, contentType string) (string, error)

	// UploadIfMatch writes only if the object's current etag equals etag.
	// ErrETagMismatch if the object changed underneath.
	UploadIfMatch(ctx context.Context, path string, data []byte, etag string, contentType string) (string, error)
}

// StateExporter is implemented by adapters carrying out-of-band mapping
// state (the Drive path to file-id cache) so the owning session can persist
// it between runs.
type StateExporter interface {
	ExportState() ([]byte, error)
	ImportState(data []byte) error
}
