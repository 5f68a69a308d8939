// Package main provides a CLI tool that seals a plaintext stored Twitch
// credential with AES-256-GCM.
//
// The credential is read through the configured backend (TOKEN_BACKEND=file
// or postgres) and written back through the same backend with the
// encryptor set, so encryption_version moves from 0 to 1.
//
// Usage:
//
//	seal-tokens [--dry-run] [--status]
//
// Flags:
//
//	--dry-run: Show what would be sealed without writing
//	--status:  Only report encryption status (postgres backend)
//
// Environment Variables:
//
//	TOKEN_BACKEND, TOKEN_FILE, DB_DSN: where the credential lives
//	ENCRYPTION_KEY: Base64-encoded 32-byte encryption key (required)
//
// Example:
//
//	export ENCRYPTION_KEY="$(openssl rand -base64 32)"
//	./seal-tokens --dry-run
//	./seal-tokens
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/stuck-overflow/queuebot/config"
	"github.com/stuck-overflow/queuebot/credential"
	"github.com/stuck-overflow/queuebot/crypto"
	"github.com/stuck-overflow/queuebot/db"
)

const provider = "twitch"

func main() {
	dryRun := flag.Bool("dry-run", false, "Show what would be sealed without writing")
	statusOnly := flag.Bool("status", false, "Only report encryption status (postgres backend)")
	flag.Parse()

	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.EncryptionKey == "" {
		slog.Error("ENCRYPTION_KEY environment variable is required")
		os.Exit(1)
	}
	enc, err := crypto.NewAESEncryptor(cfg.EncryptionKey)
	if err != nil {
		slog.Error("failed to initialize encryptor", slog.Any("error", err))
		os.Exit(1)
	}

	ctx := context.Background()
	var backend credential.Backend
	switch cfg.TokenBackend {
	case "postgres":
		database, err := db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			slog.Error("failed to connect to database", slog.Any("error", err))
			os.Exit(1)
		}
		defer database.Close()
		if *statusOnly {
			if err := reportStatus(ctx, database); err != nil {
				slog.Error("status query failed", slog.Any("error", err))
				os.Exit(1)
			}
			return
		}
		backend = db.NewCredentialBackend(database, provider, enc)
	default:
		if *statusOnly {
			slog.Error("--status needs TOKEN_BACKEND=postgres")
			os.Exit(1)
		}
		backend = credential.NewFileBackend(cfg.TokenFile, enc)
	}

	if err := seal(ctx, backend, *dryRun); err != nil {
		slog.Error("sealing failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// seal loads the credential and saves it back through b. Backends read
// plaintext rows even with an encryptor, and always write sealed ones.
func seal(ctx context.Context, b credential.Backend, dryRun bool) error {
	c, err := b.Load(ctx)
	if errors.Is(err, credential.ErrNotFound) {
		slog.Info("no stored credential found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	logger := slog.With(slog.String("login", c.Login), slog.Time("expiry", c.Expiry))
	if dryRun {
		logger.Info("would seal credential (dry-run)")
		return nil
	}
	if err := b.Save(ctx, c); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	logger.Info("credential sealed")
	return nil
}

// reportStatus logs how many oauth_tokens rows use each encryption version.
func reportStatus(ctx context.Context, database *sql.DB) error {
	rows, err := database.QueryContext(ctx, `
		SELECT encryption_version, COUNT(*)
		FROM oauth_tokens
		GROUP BY encryption_version
		ORDER BY encryption_version`)
	if err != nil {
		return fmt.Errorf("query status: %w", err)
	}
	defer rows.Close()

	total := 0
	for rows.Next() {
		var version, count int
		if err := rows.Scan(&version, &count); err != nil {
			return fmt.Errorf("scan status row: %w", err)
		}
		slog.Info("encryption status",
			slog.Int("encryption_version", version),
			slog.String("description", describeVersion(version)),
			slog.Int("count", count))
		total += count
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("status rows iteration: %w", err)
	}
	slog.Info("total tokens", slog.Int("count", total))
	return nil
}

func describeVersion(v int) string {
	switch v {
	case crypto.VersionPlaintext:
		return "plaintext"
	case crypto.VersionAESGCM:
		return "encrypted (AES-256-GCM)"
	default:
		return fmt.Sprintf("unknown version %d", v)
	}
}
