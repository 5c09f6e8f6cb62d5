package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/daybook/internal/model"
)

// CredentialStore persists the single session record for this
// installation. The login flow writes the initial value; the token
// refresh path replaces the access token; everything else only reads.
type CredentialStore struct {
	db *sql.DB
}

func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// Get returns the stored credentials, or nil when no session exists.
func (s *CredentialStore) Get() (*model.Credentials, error) {
	var c model.Credentials
	err := s.db.QueryRow(
		`SELECT access_token, refresh_token, user_id, access_token_expires_at FROM credentials WHERE id = 1`,
	).Scan(&c.AccessToken, &c.RefreshToken, &c.UserID, &c.AccessTokenExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	return &c, nil
}

// Put replaces the whole credential record.
func (s *CredentialStore) Put(c model.Credentials) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO credentials (id, access_token, refresh_token, user_id, access_token_expires_at)
		 VALUES (1, ?, ?, ?, ?)`,
		c.AccessToken, c.RefreshToken, c.UserID, c.AccessTokenExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("put credentials: %w", err)
	}
	return nil
}

// SetAccessToken replaces only the access token and its expiry, keeping
// the refresh token and user id. Used by the refresh path after a
// successful token renewal.
func (s *CredentialStore) SetAccessToken(token string, expiresAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE credentials SET access_token = ?, access_token_expires_at = ? WHERE id = 1`,
		token, expiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("set access token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set access token rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("set access token: no session stored")
	}
	return nil
}

// Clear removes the stored session, e.g. on logout.
func (s *CredentialStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM credentials WHERE id = 1`); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}
