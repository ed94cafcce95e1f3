package adapter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/imroc/req/v3"
)

const (
	// DefaultHubURL is where the local hub listens.
	DefaultHubURL = "http://localhost:11437"

	smallseaTimeout = 30 * time.Second
)

// SmallSeaAdapter routes adapter operations through the local hub over HTTP,
// using a named session. The hub owns the underlying cloud credentials; the
// adapter holds only the session token.
type SmallSeaAdapter struct {
	client  *req.Client
	hubURL  string
	session string
	zone    string
}

type SmallSeaOption func(*SmallSeaAdapter)

func WithHubURL(hubURL string) SmallSeaOption {
	return func(a *SmallSeaAdapter) {
		a.hubURL = hubURL
	}
}

// NewSmallSea resolves the session against the hub and returns an adapter
// bound to the session's zone.
func NewSmallSea(ctx context.Context, session string, opts ...SmallSeaOption) (*SmallSeaAdapter, error) {
	a := &SmallSeaAdapter{
		client:  req.C().SetTimeout(smallseaTimeout),
		hubURL:  DefaultHubURL,
		session: session,
	}
	for _, opt := range opts {
		opt(a)
	}

	var info struct {
		Token string `json:"token"`
		Zone  string `json:"zone"`
	}
	resp, err := a.client.R().
		SetContext(ctx).
		SetSuccessResult(&info).
		Get(a.hubURL + "/session/" + session)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve session: %v", ErrTransport, err)
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: hub session rejected", ErrAuthExpired)
	}
	if resp.IsErrorState() {
		return nil, fmt.Errorf("%w: hub returned %s", ErrTransport, resp.Status)
	}

	a.zone = info.Zone
	return a, nil
}

func (a *SmallSeaAdapter) Zone() string {
	return a.zone
}

func (a *SmallSeaAdapter) objectURL() string {
	return a.hubURL + "/session/" + a.session + "/object"
}

func (a *SmallSeaAdapter) Download(ctx context.Context, path string) ([]byte, string, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetQueryParam("path", path).
		Get(a.objectURL())
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, "", fmt.Errorf("%w: hub session rejected", ErrAuthExpired)
	case resp.IsErrorState():
		return nil, "", fmt.Errorf("%w: hub returned %s", ErrTransport, resp.Status)
	}
	return resp.Bytes(), stripQuotes(resp.Header.Get("ETag")), nil
}

func (a *SmallSeaAdapter) UploadOverwrite(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	return a.upload(ctx, path, data, contentType, nil)
}

func (a *SmallSeaAdapter) UploadFresh(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	return a.upload(ctx, path, data, contentType, map[string]string{"If-None-Match": "*"})
}

func (a *SmallSeaAdapter) UploadIfMatch(ctx context.Context, path string, data []byte, etag string, contentType string) (string, error) {
	return a.upload(ctx, path, data, contentType, map[string]string{"If-Match": quoteETag(etag)})
}

func (a *SmallSeaAdapter) upload(ctx context.Context, path string, data []byte, contentType string, cond map[string]string) (string, error) {
	r := a.client.R().
		SetContext(ctx).
		SetQueryParam("path", path).
		SetContentType(contentType).
		SetBodyBytes(data)
	for k, v := range cond {
		r = r.SetHeader(k, v)
	}

	resp, err := r.Put(a.objectURL())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	switch {
	case resp.StatusCode == http.StatusPreconditionFailed:
		if cond["If-None-Match"] != "" {
			return "", fmt.Errorf("%w: %s", ErrAlreadyExists, path)
		}
		return "", fmt.Errorf("%w: %s", ErrETagMismatch, path)
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode == http.StatusUnauthorized:
		return "", fmt.Errorf("%w: hub session rejected", ErrAuthExpired)
	case resp.IsErrorState():
		return "", fmt.Errorf("%w: hub returned %s", ErrTransport, resp.Status)
	}
	return stripQuotes(resp.Header.Get("ETag")), nil
}
