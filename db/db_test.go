package db

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/stuck-overflow/queuebot/credential"
	"github.com/stuck-overflow/queuebot/crypto"
)

// setupTestDB opens TEST_PG_DSN and migrates it; the test is skipped without it.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := Migrate(database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestMigrateIdempotent(t *testing.T) {
	database := setupTestDB(t)
	if err := Migrate(database); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	v, dirty, err := MigrationVersion(database)
	if err != nil {
		t.Fatal(err)
	}
	if v < 1 || dirty {
		t.Errorf("version = %d dirty = %v", v, dirty)
	}
}

func TestCredentialBackend(t *testing.T) {
	database := setupTestDB(t)
	ctx := context.Background()

	key, _ := crypto.NewKey()
	enc, err := crypto.NewAESEncryptor(key)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		enc  crypto.Encryptor
	}{
		{"plaintext", nil},
		{"encrypted", enc},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := "test-" + tt.name
			if _, err := database.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE provider=$1`, provider); err != nil {
				t.Fatal(err)
			}
			b := NewCredentialBackend(database, provider, tt.enc)

			if _, err := b.Load(ctx); !errors.Is(err, credential.ErrNotFound) {
				t.Fatalf("Load() on empty table error = %v", err)
			}

			want := &credential.Credential{
				AccessToken:  "access-1",
				RefreshToken: "refresh-1",
				Expiry:       time.Now().Add(time.Hour).UTC().Truncate(time.Second),
				Scopes:       []string{"chat:read", "chat:edit"},
				Login:        "queuebot",
			}
			if err := b.Save(ctx, want); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			want.AccessToken = "access-2"
			if err := b.Save(ctx, want); err != nil {
				t.Fatalf("second Save() error = %v", err)
			}

			var stored string
			var version int
			if err := database.QueryRowContext(ctx, `SELECT access_token, encryption_version FROM oauth_tokens WHERE provider=$1`, provider).Scan(&stored, &version); err != nil {
				t.Fatal(err)
			}
			if tt.enc != nil && (stored == "access-2" || version != crypto.VersionAESGCM) {
				t.Errorf("stored %q version %d, want ciphertext", stored, version)
			}

			got, err := b.Load(ctx)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if got.AccessToken != "access-2" || got.RefreshToken != "refresh-1" || !got.Expiry.Equal(want.Expiry) ||
				got.Login != "queuebot" || len(got.Scopes) != 2 {
				t.Errorf("Load() = %+v", got)
			}
		})
	}
}

func TestConnectRequiresDSN(t *testing.T) {
	if _, err := Connect(context.Background(), ""); err == nil {
		t.Error("Connect(\"\") succeeded")
	}
}
