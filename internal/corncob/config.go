package corncob

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/smallsea/corncob/internal/adapter"
	"github.com/smallsea/corncob/internal/utils"
)

var home, _ = os.UserHomeDir()

var DefaultConfigPath = filepath.Join(home, ".corncob", "config.json")

// OAuthCreds is the stored OAuth material for one provider. The access token
// gets rewritten in place whenever a refresh lands.
type OAuthCreds struct {
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

func (c *OAuthCreds) token() adapter.Token {
	return adapter.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		Expiry:       c.Expiry,
	}
}

// Config carries the out-of-band credentials for direct cloud backends.
// The smallsea scheme never touches this; the hub owns those credentials.
type Config struct {
	S3      *adapter.S3Config `json:"s3,omitempty"`
	Google  *OAuthCreds       `json:"google,omitempty"`
	Dropbox *OAuthCreds       `json:"dropbox,omitempty"`
	HubURL  string            `json:"hub_url,omitempty"`

	path string
}

func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	cfg := &Config{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Save() error {
	if err := utils.EnsureParent(c.path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0o600)
}

// persistFor returns a PersistFunc that rewrites one provider's access token
// on refresh.
func (c *Config) persistFor(creds *OAuthCreds) adapter.PersistFunc {
	return func(tok adapter.Token) error {
		creds.AccessToken = tok.AccessToken
		creds.RefreshToken = tok.RefreshToken
		creds.Expiry = tok.Expiry
		return c.Save()
	}
}
