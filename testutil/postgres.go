package testutil

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/stuck-overflow/queuebot/db"
)

// SetupTestDB opens TEST_PG_DSN, runs migrations and clears oauth_tokens.
// It skips the test if TEST_PG_DSN is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	if _, err := database.Exec(`DELETE FROM oauth_tokens`); err != nil {
		database.Close()
		t.Fatalf("failed to reset oauth_tokens: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}
