// Package main provides a CLI tool that runs the Twitch authorization code
// flow once and stores the resulting credential, so the bot itself can start
// unattended.
//
// Usage:
//
//	authorize [--code CODE] [--listen=false] [--check]
//
// Flags:
//
//	--code:   Authorization code obtained out of band (skips the prompt)
//	--listen: Serve the redirect URI's callback locally (default true)
//	--check:  Only validate the stored credential with Twitch
//
// The same TWITCH_*, TOKEN_*, DB_DSN and ENCRYPTION_KEY variables as the bot
// select the client and the credential backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/stuck-overflow/queuebot/config"
	"github.com/stuck-overflow/queuebot/credential"
	"github.com/stuck-overflow/queuebot/crypto"
	"github.com/stuck-overflow/queuebot/db"
	"github.com/stuck-overflow/queuebot/oauth"
	"github.com/stuck-overflow/queuebot/server"
	"github.com/stuck-overflow/queuebot/twitchapi"
)

// validator is the part of twitchapi.Client used by --check.
type validator interface {
	Validate(ctx context.Context, token string) (*twitchapi.Validation, error)
}

func main() {
	code := flag.String("code", "", "Authorization code obtained out of band")
	listen := flag.Bool("listen", true, "Serve the redirect URI's callback locally")
	check := flag.Bool("check", false, "Only validate the stored credential")
	flag.Parse()

	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.ValidateTwitch(); err != nil {
		slog.Error("twitch not configured", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *code, *listen, *check); err != nil {
		slog.Error("authorization failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, code string, listen, check bool) error {
	var enc crypto.Encryptor
	if cfg.EncryptionKey != "" {
		aes, err := crypto.NewAESEncryptor(cfg.EncryptionKey)
		if err != nil {
			return fmt.Errorf("ENCRYPTION_KEY: %w", err)
		}
		enc = aes
	}
	var backend credential.Backend
	if cfg.TokenBackend == "postgres" {
		database, err := db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := db.Migrate(database); err != nil {
			return err
		}
		backend = db.NewCredentialBackend(database, "twitch", enc)
	} else {
		backend = credential.NewFileBackend(cfg.TokenFile, enc)
	}

	client, err := twitchapi.NewClient(twitchapi.Config{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		RedirectURI:  cfg.TwitchRedirectURI,
		Scopes:       cfg.TwitchScopes,
	})
	if err != nil {
		return err
	}
	store := credential.NewStore(credential.Options{
		Backend:  backend,
		Refresh:  client.Refresh,
		Margin:   cfg.TokenSafetyMargin,
		Attempts: cfg.TokenRefreshAttempts,
	})
	if err := store.Load(ctx); err != nil {
		return err
	}

	if check || store.State() == credential.Active {
		return report(ctx, os.Stdout, store, client)
	}

	flow := oauth.NewFlow(store, client)
	if addr := server.CallbackAddr(cfg.TwitchRedirectURI); listen && addr != "" {
		lctx, cancel := context.WithCancel(ctx)
		defer cancel()
		mux := server.NewMux(lctx, server.NewHandlers(server.Deps{Flow: flow, Tokens: store}), server.Options{})
		go func() {
			if err := server.Start(lctx, addr, mux, nil); err != nil {
				slog.Warn("callback listener stopped", slog.Any("error", err))
			}
		}()
	}

	var in io.Reader = os.Stdin
	if code != "" {
		in = strings.NewReader(code + "\n")
	}
	if err := authorize(ctx, flow, in, os.Stdout); err != nil {
		return err
	}
	return report(ctx, os.Stdout, store, client)
}

// authorize runs the flow, prompting on out and reading pasted codes from in.
func authorize(ctx context.Context, flow *oauth.Flow, in io.Reader, out io.Writer) error {
	return flow.RunInteractive(ctx, in, func(u string) {
		fmt.Fprintf(out, "Open this URL in a browser and approve the bot:\n\n  %s\n\nWaiting for the redirect, or paste the code (or the full redirect URL) and press enter.\n", u)
	})
}

// report validates the stored token with Twitch and prints what it grants.
func report(ctx context.Context, out io.Writer, store *credential.Store, v validator) error {
	tok, err := store.Token(ctx)
	if err != nil {
		if errors.Is(err, credential.ErrUnauthenticated) {
			return errors.New("no stored credential; run without --check to authorize")
		}
		return err
	}
	info, err := v.Validate(ctx, tok)
	if err != nil {
		return fmt.Errorf("validate token: %w", err)
	}
	c := store.Current()
	fmt.Fprintf(out, "authorized as %s\nscopes: %s\nexpires: %s\n", info.Login, strings.Join(info.Scopes, " "), c.Expiry.Format("2006-01-02 15:04:05 MST"))
	return nil
}
