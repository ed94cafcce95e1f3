package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/imroc/req/v3"
)

const (
	dropboxContentURL = "https://content.dropboxapi.com/2"
	dropboxZone       = "dropbox"
	dropboxTimeout    = 30 * time.Second
)

// DropboxAdapter stores objects in the Dropbox app-folder. Path-based, so no
// id mapping; the Dropbox `rev` field plays the role of the etag.
type DropboxAdapter struct {
	client  *req.Client
	tokens  *TokenSource
	baseURL string
}

type DropboxOption func(*DropboxAdapter)

// WithDropboxEndpoint points the adapter at an alternate content host (tests).
func WithDropboxEndpoint(baseURL string) DropboxOption {
	return func(a *DropboxAdapter) {
		a.baseURL = baseURL
	}
}

func NewDropbox(tokens *TokenSource, opts ...DropboxOption) *DropboxAdapter {
	a := &DropboxAdapter{
		client:  req.C().SetTimeout(dropboxTimeout),
		tokens:  tokens,
		baseURL: dropboxContentURL,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *DropboxAdapter) Zone() string {
	return dropboxZone
}

func (a *DropboxAdapter) send(ctx context.Context, do func(r *req.Request) (*req.Response, error)) (*req.Response, error) {
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
				return nil, fmt.Errorf("%w: dropbox rejected credentials", ErrAuthExpired)
			}
			a.tokens.Invalidate()
			continue
		}
		return resp, nil
	}
}

type dropboxAPIArg struct {
	Path       string `json:"path"`
	Mode       any    `json:"mode,omitempty"`
	AutoRename bool   `json:"autorename,omitempty"`
	Mute       bool   `json:"mute,omitempty"`
}

func apiArg(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (a *DropboxAdapter) Download(ctx context.Context, path string) ([]byte, string, error) {
	arg, err := apiArg(dropboxAPIArg{Path: "/" + path})
	if err != nil {
		return nil, "", err
	}

	resp, err := a.send(ctx, func(r *req.Request) (*req.Response, error) {
		return r.SetHeader("Dropbox-API-Arg", arg).Post(a.baseURL + "/files/download")
	})
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode == http.StatusConflict {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.IsErrorState() {
		return nil, "", fmt.Errorf("%w: dropbox download returned %s", ErrTransport, resp.Status)
	}

	// file metadata rides in the Dropbox-API-Result header
	var meta struct {
		Rev string `json:"rev"`
	}
	if h := resp.Header.Get("Dropbox-API-Result"); h != "" {
		if err := json.Unmarshal([]byte(h), &meta); err != nil {
			return nil, "", fmt.Errorf("%w: bad api result header: %v", ErrTransport, err)
		}
	}
	return resp.Bytes(), meta.Rev, nil
}

func (a *DropboxAdapter) UploadOverwrite(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	return a.upload(ctx, path, data, map[string]string{".tag": "overwrite"}, false)
}

func (a *DropboxAdapter) UploadFresh(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	return a.upload(ctx, path, data, map[string]string{".tag": "add"}, true)
}

func (a *DropboxAdapter) UploadIfMatch(ctx context.Context, path string, data []byte, etag string, contentType string) (string, error) {
	return a.upload(ctx, path, data, map[string]string{".tag": "update", "update": etag}, false)
}

func (a *DropboxAdapter) upload(ctx context.Context, path string, data []byte, mode any, fresh bool) (string, error) {
	arg, err := apiArg(dropboxAPIArg{
		Path:       "/" + path,
		Mode:       mode,
		AutoRename: false,
		Mute:       true,
	})
	if err != nil {
		return "", err
	}

	resp, err := a.send(ctx, func(r *req.Request) (*req.Response, error) {
		return r.
			SetHeader("Dropbox-API-Arg", arg).
			SetContentType(ContentTypeOctetStream).
			SetBodyBytes(data).
			Post(a.baseURL + "/files/upload")
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusConflict {
		return "", a.conflictError(resp.Bytes(), path, fresh)
	}
	if resp.IsErrorState() {
		return "", fmt.Errorf("%w: dropbox upload returned %s", ErrTransport, resp.Status)
	}

	var result struct {
		Rev string `json:"rev"`
	}
	if err := json.Unmarshal(resp.Bytes(), &result); err != nil {
		return "", fmt.Errorf("%w: bad upload response: %v", ErrTransport, err)
	}
	return result.Rev, nil
}

// conflictError maps a 409 body onto the taxonomy: a path conflict is
// ErrAlreadyExists for add mode and ErrETagMismatch for update mode.
func (a *DropboxAdapter) conflictError(body []byte, path string, fresh bool) error {
	var parsed struct {
		Error struct {
			Tag    string `json:".tag"`
			Reason struct {
				Tag string `json:".tag"`
			} `json:"reason"`
		} `json:"error"`
		ErrorSummary string `json:"error_summary"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("%w: dropbox conflict: %v", ErrTransport, err)
	}
	if parsed.Error.Tag == "path" {
		if fresh {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, path)
		}
		if parsed.Error.Reason.Tag == "conflict" {
			return fmt.Errorf("%w: %s", ErrETagMismatch, path)
		}
	}
	return fmt.Errorf("%w: dropbox upload: %s", ErrTransport, parsed.ErrorSummary)
}
