// Package state keeps a participant's per-remote side-state: the most
// recently observed latest-pointer contents and any adapter mapping state
// (the Drive path to file-id cache) that must survive between runs.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/smallsea/corncob/internal/db"
)

var ErrRemoteNotFound = errors.New("remote not registered")

const schema = `
CREATE TABLE IF NOT EXISTS remotes (
	id            TEXT PRIMARY KEY,
	nickname      TEXT UNIQUE NOT NULL,
	url           TEXT NOT NULL,
	last_link_id  TEXT NOT NULL DEFAULT '',
	last_etag     TEXT NOT NULL DEFAULT '',
	adapter_state BLOB,
	updated_at    TEXT NOT NULL
);
`

// RemoteRecord is one registered CornCob remote.
type RemoteRecord struct {
	ID           string `db:"id"`
	Nickname     string `db:"nickname"`
	URL          string `db:"url"`
	LastLinkID   string `db:"last_link_id"`
	LastETag     string `db:"last_etag"`
	AdapterState []byte `db:"adapter_state"`
	UpdatedAt    string `db:"updated_at"`
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

type Store struct {
	db *sqlx.DB
}

func Open(path string) (*Store, error) {
	conn, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init state schema: %w", err)
	}
	return &Store{db: conn}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AddRemote registers a nickname/url pair under a fresh time-ordered id.
func (s *Store) AddRemote(nickname, url string) (*RemoteRecord, error) {
	rec := &RemoteRecord{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Nickname:  nickname,
		URL:       url,
		UpdatedAt: now(),
	}
	_, err := s.db.NamedExec(`
		INSERT INTO remotes (id, nickname, url, last_link_id, last_etag, adapter_state, updated_at)
		VALUES (:id, :nickname, :url, :last_link_id, :last_etag, :adapter_state, :updated_at)`,
		rec)
	if err != nil {
		return nil, fmt.Errorf("add remote %s: %w", nickname, err)
	}
	return rec, nil
}

func (s *Store) Remote(nickname string) (*RemoteRecord, error) {
	var rec RemoteRecord
	err := s.db.Get(&rec, `SELECT * FROM remotes WHERE nickname = ?`, nickname)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRemoteNotFound, nickname)
	}
	if err != nil {
		return nil, fmt.Errorf("load remote %s: %w", nickname, err)
	}
	return &rec, nil
}

func (s *Store) RemoveRemote(nickname string) error {
	_, err := s.db.Exec(`DELETE FROM remotes WHERE nickname = ?`, nickname)
	if err != nil {
		return fmt.Errorf("remove remote %s: %w", nickname, err)
	}
	return nil
}

// SetObserved records the latest pointer contents seen for a remote.
func (s *Store) SetObserved(nickname, linkID, etag string) error {
	_, err := s.db.Exec(`
		UPDATE remotes SET last_link_id = ?, last_etag = ?, updated_at = ?
		WHERE nickname = ?`,
		linkID, etag, now(), nickname)
	if err != nil {
		return fmt.Errorf("record observed pointer for %s: %w", nickname, err)
	}
	return nil
}

// SetAdapterState persists an adapter's serialized mapping state.
func (s *Store) SetAdapterState(nickname string, data []byte) error {
	_, err := s.db.Exec(`
		UPDATE remotes SET adapter_state = ?, updated_at = ?
		WHERE nickname = ?`,
		data, now(), nickname)
	if err != nil {
		return fmt.Errorf("persist adapter state for %s: %w", nickname, err)
	}
	return nil
}
