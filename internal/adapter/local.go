package adapter

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/smallsea/corncob/internal/utils"
)

const (
	localLockName  = ".corncob.lock"
	localLockRetry = 25 * time.Millisecond
)

// LocalAdapter pretends a local folder is a cloud zone. Mostly for tests and
// single-machine setups. Etags are content hashes; conditional semantics are
// emulated with a file-lock-protected read-compare-write.
type LocalAdapter struct {
	dir  string
	lock *flock.Flock
}

func NewLocal(dir string) (*LocalAdapter, error) {
	dir, err := utils.ResolvePath(dir)
	if err != nil {
		return nil, err
	}
	if !utils.DirExists(dir) {
		return nil, fmt.Errorf("%w: not a folder: %s", ErrNotFound, dir)
	}
	return &LocalAdapter{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, localLockName)),
	}, nil
}

func (a *LocalAdapter) Zone() string {
	return a.dir
}

func (a *LocalAdapter) objectPath(path string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(path))
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("%w: path escapes zone: %s", ErrTransport, path)
	}
	return filepath.Join(a.dir, clean), nil
}

func (a *LocalAdapter) Download(_ context.Context, path string) ([]byte, string, error) {
	p, err := a.objectPath(path)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return data, contentETag(data), nil
}

func (a *LocalAdapter) UploadOverwrite(ctx context.Context, path string, data []byte, _ string) (string, error) {
	return a.upload(ctx, path, data, func(string, bool) error { return nil })
}

func (a *LocalAdapter) UploadFresh(ctx context.Context, path string, data []byte, _ string) (string, error) {
	return a.upload(ctx, path, data, func(_ string, exists bool) error {
		if exists {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, path)
		}
		return nil
	})
}

func (a *LocalAdapter) UploadIfMatch(ctx context.Context, path string, data []byte, etag string, _ string) (string, error) {
	return a.upload(ctx, path, data, func(current string, exists bool) error {
		if !exists {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		if current != etag {
			return fmt.Errorf("%w: %s", ErrETagMismatch, path)
		}
		return nil
	})
}

// upload holds the zone lock across the read-compare-write so two processes
// racing on the same folder see real conditional semantics.
func (a *LocalAdapter) upload(ctx context.Context, path string, data []byte, check func(currentETag string, exists bool) error) (string, error) {
	p, err := a.objectPath(path)
	if err != nil {
		return "", err
	}

	if _, err := a.lock.TryLockContext(ctx, localLockRetry); err != nil {
		return "", fmt.Errorf("%w: lock zone: %v", ErrTransport, err)
	}
	defer a.lock.Unlock()

	current, err := os.ReadFile(p)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}

	var currentETag string
	if exists {
		currentETag = contentETag(current)
	}
	if err := check(currentETag, exists); err != nil {
		return "", err
	}

	if err := writeAtomic(p, data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return contentETag(data), nil
}

func writeAtomic(path string, data []byte) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}
	tmp := path + ".tmp-" + utils.TokenHex(4)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func contentETag(data []byte) string {
	return fmt.Sprintf("%x", md5.Sum(data))
}
