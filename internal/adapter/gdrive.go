package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/imroc/req/v3"
	"golang.org/x/sync/singleflight"
)

const (
	driveAPIURL    = "https://www.googleapis.com/drive/v3"
	driveUploadURL = "https://www.googleapis.com/upload/drive/v3"

	driveZone     = "appDataFolder"
	driveIDCache  = 512
	driveParent   = "appDataFolder"
	driveTimeout  = 30 * time.Second
	driveBoundary = "corncob-related"
)

// DriveAdapter stores objects in the Google Drive app-folder. Drive is
// id-based, not path-based, so the adapter keeps a path to file-id cache;
// stale entries surface as 404 and get evicted on sight.
type DriveAdapter struct {
	client    *req.Client
	tokens    *TokenSource
	apiURL    string
	uploadURL string
	ids       *lru.Cache[string, string]
	lookups   singleflight.Group
}

type DriveOption func(*DriveAdapter)

// WithDriveEndpoints points the adapter at alternate API hosts (tests).
func WithDriveEndpoints(apiURL, uploadURL string) DriveOption {
	return func(a *DriveAdapter) {
		a.apiURL = apiURL
		a.uploadURL = uploadURL
	}
}

func NewDrive(tokens *TokenSource, opts ...DriveOption) (*DriveAdapter, error) {
	ids, err := lru.New[string, string](driveIDCache)
	if err != nil {
		return nil, err
	}
	a := &DriveAdapter{
		client:    req.C().SetTimeout(driveTimeout),
		tokens:    tokens,
		apiURL:    driveAPIURL,
		uploadURL: driveUploadURL,
		ids:       ids,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *DriveAdapter) Zone() string {
	return driveZone
}

// send runs one authenticated request, refreshing the token and retrying
// once when the backend answers 401. A second 401 surfaces as ErrAuthExpired.
func (a *DriveAdapter) send(ctx context.Context, do func(r *req.Request) (*req.Response, error)) (*req.Response, error) {
	for attempt := 0; ; attempt++ {
		tok, err := a.tokens.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := do(a.client.R().SetContext(ctx).SetBearerAuthToken(tok))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			if attempt > 0 {
				return nil, fmt.Errorf("%w: drive rejected credentials", ErrAuthExpired)
			}
			a.tokens.Invalidate()
			continue
		}
		return resp, nil
	}
}

type driveFileList struct {
	Files []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"files"`
}

// findFileID resolves a path to a Drive file id through the cache, querying
// the app-folder parent on miss. Concurrent lookups for the same path
// collapse into one query.
func (a *DriveAdapter) findFileID(ctx context.Context, path string) (string, error) {
	if id, ok := a.ids.Get(path); ok {
		return id, nil
	}

	v, err, _ := a.lookups.Do(path, func() (any, error) {
		var list driveFileList
		resp, err := a.send(ctx, func(r *req.Request) (*req.Response, error) {
			return r.
				SetQueryParams(map[string]string{
					"q":      fmt.Sprintf("name='%s' and '%s' in parents and trashed=false", path, driveParent),
					"spaces": driveParent,
					"fields": "files(id,name)",
				}).
				SetSuccessResult(&list).
				Get(a.apiURL + "/files")
		})
		if err != nil {
			return "", err
		}
		if resp.IsErrorState() {
			return "", fmt.Errorf("%w: drive list returned %s", ErrTransport, resp.Status)
		}
		if len(list.Files) == 0 {
			return "", nil
		}
		return list.Files[0].ID, nil
	})
	if err != nil {
		return "", err
	}

	id := v.(string)
	if id != "" {
		a.ids.Add(path, id)
	}
	return id, nil
}

func (a *DriveAdapter) Download(ctx context.Context, path string) ([]byte, string, error) {
	id, err := a.findFileID(ctx, path)
	if err != nil {
		return nil, "", err
	}
	if id == "" {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	resp, err := a.send(ctx, func(r *req.Request) (*req.Response, error) {
		return r.SetQueryParam("alt", "media").Get(a.apiURL + "/files/" + id)
	})
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode == http.StatusNotFound {
		// stale cache entry
		a.ids.Remove(path)
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.IsErrorState() {
		return nil, "", fmt.Errorf("%w: drive download returned %s", ErrTransport, resp.Status)
	}

	data := resp.Bytes()
	return data, stripQuotes(resp.Header.Get("ETag")), nil
}

func (a *DriveAdapter) UploadOverwrite(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	return a.upload(ctx, path, data, "", false, contentType)
}

func (a *DriveAdapter) UploadFresh(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	id, err := a.findFileID(ctx, path)
	if err != nil {
		return "", err
	}
	if id != "" {
		return "", fmt.Errorf("%w: %s", ErrAlreadyExists, path)
	}
	return a.create(ctx, path, data, contentType)
}

func (a *DriveAdapter) UploadIfMatch(ctx context.Context, path string, data []byte, etag string, contentType string) (string, error) {
	return a.upload(ctx, path, data, etag, true, contentType)
}

func (a *DriveAdapter) upload(ctx context.Context, path string, data []byte, etag string, conditional bool, contentType string) (string, error) {
	id, err := a.findFileID(ctx, path)
	if err != nil {
		return "", err
	}
	if id == "" {
		if conditional {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return a.create(ctx, path, data, contentType)
	}

	resp, err := a.send(ctx, func(r *req.Request) (*req.Response, error) {
		r = r.SetContentType(contentType).SetBodyBytes(data).SetQueryParam("uploadType", "media")
		if conditional {
			r = r.SetHeader("If-Match", quoteETag(etag))
		}
		return r.Patch(a.uploadURL + "/files/" + id)
	})
	if err != nil {
		return "", err
	}
	switch {
	case resp.StatusCode == http.StatusPreconditionFailed:
		return "", fmt.Errorf("%w: %s", ErrETagMismatch, path)
	case resp.StatusCode == http.StatusNotFound:
		a.ids.Remove(path)
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.IsErrorState():
		return "", fmt.Errorf("%w: drive upload returned %s", ErrTransport, resp.Status)
	}
	return stripQuotes(resp.Header.Get("ETag")), nil
}

// create performs the two-part creation upload: JSON metadata naming the
// app-folder parent, then the media bytes.
func (a *DriveAdapter) create(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.SetBoundary(driveBoundary); err != nil {
		return "", err
	}

	metaPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"application/json; charset=UTF-8"},
	})
	if err != nil {
		return "", err
	}
	meta := map[string]any{"name": path, "parents": []string{driveParent}}
	if err := json.NewEncoder(metaPart).Encode(meta); err != nil {
		return "", err
	}

	mediaPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {contentType},
	})
	if err != nil {
		return "", err
	}
	if _, err := mediaPart.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var created struct {
		ID string `json:"id"`
	}
	resp, err := a.send(ctx, func(r *req.Request) (*req.Response, error) {
		return r.
			SetContentType("multipart/related; boundary="+driveBoundary).
			SetBodyBytes(buf.Bytes()).
			SetQueryParam("uploadType", "multipart").
			SetSuccessResult(&created).
			Post(a.uploadURL + "/files")
	})
	if err != nil {
		return "", err
	}
	if resp.IsErrorState() {
		return "", fmt.Errorf("%w: drive create returned %s", ErrTransport, resp.Status)
	}
	if created.ID != "" {
		a.ids.Add(path, created.ID)
	} else {
		slog.Warn("gdrive: create response missing file id", "path", path)
	}
	return stripQuotes(resp.Header.Get("ETag")), nil
}

// ExportState serializes the path to file-id cache for persistence between
// runs.
func (a *DriveAdapter) ExportState() ([]byte, error) {
	m := make(map[string]string, a.ids.Len())
	for _, k := range a.ids.Keys() {
		if v, ok := a.ids.Peek(k); ok {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

func (a *DriveAdapter) ImportState(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("drive id cache: %w", err)
	}
	for k, v := range m {
		a.ids.Add(k, v)
	}
	return nil
}
