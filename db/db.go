// Package db provides the optional Postgres credential backend: connection
// setup, schema migration and the oauth_tokens row access.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/stuck-overflow/queuebot/credential"
	"github.com/stuck-overflow/queuebot/crypto"
)

// Connect opens a Postgres connection and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("DB_DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// CredentialBackend stores one provider's credential in oauth_tokens.
// With an Encryptor both tokens are sealed and encryption_version is 1;
// plaintext rows (version 0) are still readable.
type CredentialBackend struct {
	DB        *sql.DB
	Provider  string
	Encryptor crypto.Encryptor
}

// NewCredentialBackend returns a backend for provider (usually "twitch").
func NewCredentialBackend(db *sql.DB, provider string, enc crypto.Encryptor) *CredentialBackend {
	return &CredentialBackend{DB: db, Provider: provider, Encryptor: enc}
}

func (b *CredentialBackend) Load(ctx context.Context) (*credential.Credential, error) {
	var (
		access, refresh, scope, login sql.NullString
		expiry                        sql.NullTime
		version                       int
	)
	err := b.DB.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scope, login, encryption_version
		 FROM oauth_tokens WHERE provider = $1`, b.Provider).
		Scan(&access, &refresh, &expiry, &scope, &login, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credential.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query oauth_tokens: %w", err)
	}

	c := &credential.Credential{
		AccessToken:  access.String,
		RefreshToken: refresh.String,
		Expiry:       expiry.Time,
		Scopes:       strings.Fields(scope.String),
		Login:        login.String,
	}
	if version == crypto.VersionAESGCM {
		if b.Encryptor == nil {
			return nil, errors.New("token is encrypted but ENCRYPTION_KEY not configured")
		}
		if c.AccessToken, err = crypto.DecryptString(b.Encryptor, c.AccessToken); err != nil {
			return nil, fmt.Errorf("decrypt access token: %w", err)
		}
		if c.RefreshToken, err = crypto.DecryptString(b.Encryptor, c.RefreshToken); err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return c, nil
}

func (b *CredentialBackend) Save(ctx context.Context, c *credential.Credential) error {
	access, refresh := c.AccessToken, c.RefreshToken
	version := crypto.VersionPlaintext
	if b.Encryptor != nil {
		var err error
		if access, err = crypto.EncryptString(b.Encryptor, access); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = crypto.EncryptString(b.Encryptor, refresh); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		version = crypto.VersionAESGCM
	}
	_, err := b.DB.ExecContext(ctx,
		`INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, login, encryption_version, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,NOW())
		 ON CONFLICT(provider) DO UPDATE SET
		   access_token=EXCLUDED.access_token,
		   refresh_token=EXCLUDED.refresh_token,
		   expires_at=EXCLUDED.expires_at,
		   scope=EXCLUDED.scope,
		   login=EXCLUDED.login,
		   encryption_version=EXCLUDED.encryption_version,
		   updated_at=NOW()`,
		b.Provider, access, refresh, c.Expiry, strings.Join(c.Scopes, " "), c.Login, version)
	if err != nil {
		return fmt.Errorf("upsert oauth_tokens: %w", err)
	}
	return nil
}
