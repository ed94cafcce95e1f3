package corncob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallsea/corncob/internal/adapter"
)

// URLPrefix marks a remote URL as CornCob's. The inner URL names the
// backend: file, smallsea, s3, gdrive or dropbox.
const URLPrefix = "corncob:"

var ErrBadURL = errors.New("unsupported corncob url")

// StripURL returns the inner URL, failing on anything that is not a
// corncob remote.
func StripURL(raw string) (string, error) {
	if !strings.HasPrefix(raw, URLPrefix) {
		return "", fmt.Errorf("%w: %q", ErrBadURL, raw)
	}
	return strings.TrimPrefix(raw, URLPrefix), nil
}

// OpenAdapter resolves an inner URL to a live adapter. Direct cloud schemes
// pull their credentials from cfg; smallsea defers them to the hub.
func OpenAdapter(ctx context.Context, inner string, cfg *Config) (adapter.Adapter, error) {
	switch {
	case strings.HasPrefix(inner, "file://"):
		return adapter.NewLocal(strings.TrimPrefix(inner, "file://"))

	case strings.HasPrefix(inner, "smallsea://"):
		session := strings.TrimPrefix(inner, "smallsea://")
		var opts []adapter.SmallSeaOption
		if cfg != nil && cfg.HubURL != "" {
			opts = append(opts, adapter.WithHubURL(cfg.HubURL))
		}
		return adapter.NewSmallSea(ctx, session, opts...)

	case strings.HasPrefix(inner, "s3://"):
		if cfg == nil || cfg.S3 == nil {
			return nil, fmt.Errorf("%w: no s3 credentials configured", ErrBadURL)
		}
		s3cfg := *cfg.S3
		if bucket := strings.TrimPrefix(inner, "s3://"); bucket != "" {
			s3cfg.Bucket = bucket
		}
		return adapter.NewS3(&s3cfg)

	case strings.HasPrefix(inner, "gdrive://"):
		if cfg == nil || cfg.Google == nil {
			return nil, fmt.Errorf("%w: no google credentials configured", ErrBadURL)
		}
		tokens := adapter.NewTokenSource(
			adapter.GoogleTokenURL,
			cfg.Google.ClientID,
			cfg.Google.ClientSecret,
			cfg.Google.token(),
			cfg.persistFor(cfg.Google),
		)
		return adapter.NewDrive(tokens)

	case strings.HasPrefix(inner, "dropbox://"):
		if cfg == nil || cfg.Dropbox == nil {
			return nil, fmt.Errorf("%w: no dropbox credentials configured", ErrBadURL)
		}
		tokens := adapter.NewTokenSource(
			adapter.DropboxTokenURL,
			cfg.Dropbox.ClientID,
			cfg.Dropbox.ClientSecret,
			cfg.Dropbox.token(),
			cfg.persistFor(cfg.Dropbox),
		)
		return adapter.NewDropbox(tokens), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrBadURL, inner)
	}
}
