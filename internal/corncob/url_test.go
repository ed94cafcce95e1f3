package corncob

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallsea/corncob/internal/adapter"
)

func TestStripURL(t *testing.T) {
	inner, err := StripURL("corncob:file:///tmp/zone")
	require.NoError(t, err)
	assert.Equal(t, "file:///tmp/zone", inner)

	_, err = StripURL("https://example.com")
	assert.ErrorIs(t, err, ErrBadURL)
}

func TestOpenAdapterLocal(t *testing.T) {
	dir := t.TempDir()
	a, err := OpenAdapter(context.Background(), "file://"+dir, nil)
	require.NoError(t, err)
	assert.IsType(t, &adapter.LocalAdapter{}, a)
}

func TestOpenAdapterUnknownScheme(t *testing.T) {
	_, err := OpenAdapter(context.Background(), "ftp://zone", nil)
	assert.ErrorIs(t, err, ErrBadURL)
}

func TestOpenAdapterRequiresCreds(t *testing.T) {
	for _, inner := range []string{"s3://bucket", "gdrive://", "dropbox://"} {
		_, err := OpenAdapter(context.Background(), inner, &Config{})
		assert.ErrorIs(t, err, ErrBadURL, inner)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	cfg.Dropbox = &OAuthCreds{
		ClientID:     "cid",
		ClientSecret: "secret",
		RefreshToken: "refresh",
	}
	require.NoError(t, cfg.Save())

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, loaded.Dropbox)
	assert.Equal(t, "refresh", loaded.Dropbox.RefreshToken)
	assert.Nil(t, loaded.S3)
}

func TestPersistForRewritesToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	cfg.Google = &OAuthCreds{ClientID: "cid", RefreshToken: "refresh"}

	persist := cfg.persistFor(cfg.Google)
	require.NoError(t, persist(adapter.Token{
		AccessToken:  "fresh",
		RefreshToken: "refresh",
	}))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "fresh", loaded.Google.AccessToken)
}
