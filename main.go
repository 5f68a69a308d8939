// Command queuebot is a chat bot that runs one shared viewer queue across a
// Twitch channel and a Discord channel.
// It:
//   - Loads configuration and initializes structured logging.
//   - Loads the Twitch user token from the file or Postgres backend, running
//     the authorization code flow first if no token is stored.
//   - Keeps the token fresh in the background and reconnects chat transports
//     with backoff.
//   - Exposes a minimal HTTP server with the OAuth callback, /healthz,
//     /readyz, /queue and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM. An expired Twitch credential ends
// the process with a re-authentication message.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/stuck-overflow/queuebot/chat"
	"github.com/stuck-overflow/queuebot/command"
	"github.com/stuck-overflow/queuebot/config"
	"github.com/stuck-overflow/queuebot/credential"
	"github.com/stuck-overflow/queuebot/crypto"
	"github.com/stuck-overflow/queuebot/db"
	"github.com/stuck-overflow/queuebot/dispatch"
	"github.com/stuck-overflow/queuebot/oauth"
	"github.com/stuck-overflow/queuebot/queue"
	"github.com/stuck-overflow/queuebot/server"
	"github.com/stuck-overflow/queuebot/telemetry"
	"github.com/stuck-overflow/queuebot/twitchapi"
	"github.com/stuck-overflow/queuebot/wordgame"
)

var version = "dev"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing(cfg.OTELEndpoint, "queuebot", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, os.Stdin)
	stop()
	shutdown()

	if err != nil {
		if dispatch.IsFatal(err) {
			slog.Error("twitch credential expired: re-authentication required. Remove the stored token and restart to authorize again", slog.Any("err", err))
		} else {
			slog.Error("queuebot stopped", slog.Any("err", err))
		}
		os.Exit(1)
	}
	slog.Info("shutting down")
}

// setupLogging configures level and format. Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))
}

// twitchSide bundles the Twitch credential lifecycle.
type twitchSide struct {
	store *credential.Store
	flow  *oauth.Flow
}

func run(ctx context.Context, cfg *config.Config, stdin io.Reader) error {
	var enc crypto.Encryptor
	if cfg.EncryptionKey != "" {
		aes, err := crypto.NewAESEncryptor(cfg.EncryptionKey)
		if err != nil {
			return fmt.Errorf("ENCRYPTION_KEY: %w", err)
		}
		enc = aes
	}

	var database *sql.DB
	if cfg.TokenBackend == "postgres" {
		var err error
		database, err = db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			return fmt.Errorf("connect db: %w", err)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.Migrate(database); err != nil {
			return fmt.Errorf("migrate db: %w", err)
		}
	}

	engine := queue.NewEngine(queue.Options{
		Moderators: cfg.ModeratorKeys(),
		TopMax:     cfg.QueueTopMax,
		Observer:   func(e queue.Event) { telemetry.SetQueueDepth(e.Depth) },
	})
	parser := command.New(cfg.CommandPrefix, cfg.QueueTopDefault, cfg.CustomCommands)
	var game *wordgame.Game
	if cfg.WordgameEnabled {
		var err error
		if game, err = wordgame.Load(cfg.WordgameVocab, time.Now().UnixNano()); err != nil {
			return fmt.Errorf("word game: %w", err)
		}
	}
	dispatcher, err := dispatch.New(dispatch.Options{Engine: engine, Parser: parser, Game: game})
	if err != nil {
		return err
	}

	var tw *twitchSide
	if err := cfg.ValidateTwitch(); err != nil {
		slog.Info("twitch disabled", slog.Any("reason", err))
	} else {
		tw, err = newTwitchSide(ctx, cfg, enc, database)
		if err != nil {
			return err
		}
	}
	discordErr := cfg.ValidateDiscord()
	if discordErr != nil {
		slog.Info("discord disabled", slog.Any("reason", discordErr))
	}
	if tw == nil && discordErr != nil {
		return errors.New("no chat backend configured: set the TWITCH_* or DISCORD_* variables")
	}

	deps := server.Deps{Queue: engine, Transports: dispatcher.Transports, DB: database}
	if tw != nil {
		deps.Flow = tw.flow
		deps.Tokens = tw.store
	}
	mux := server.NewMux(ctx, server.NewHandlers(deps), server.Options{
		AdminUsername: cfg.AdminUsername,
		AdminPassword: cfg.AdminPassword,
		AdminToken:    cfg.AdminToken,
		AuthRateLimit: cfg.AuthRateLimit,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx, cfg.HTTPAddr, mux, nil) })
	if tw != nil {
		g.Go(func() error { return tw.run(gctx, cfg, dispatcher, stdin) })
	}
	if discordErr == nil {
		sup := &dispatch.Supervisor{
			Transport:  chat.NewDiscordTransport(cfg.DiscordChannelID),
			Tokens:     chat.StaticToken(cfg.DiscordBotToken),
			Dispatcher: dispatcher,
		}
		g.Go(func() error { return ignoreCanceled(sup.Run(gctx)) })
	}
	err = g.Wait()
	dispatcher.Wait()
	return err
}

func newTwitchSide(ctx context.Context, cfg *config.Config, enc crypto.Encryptor, database *sql.DB) (*twitchSide, error) {
	client, err := twitchapi.NewClient(twitchapi.Config{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		RedirectURI:  cfg.TwitchRedirectURI,
		Scopes:       cfg.TwitchScopes,
	})
	if err != nil {
		return nil, err
	}
	var backend credential.Backend
	if database != nil {
		backend = db.NewCredentialBackend(database, "twitch", enc)
	} else {
		backend = credential.NewFileBackend(cfg.TokenFile, enc)
	}
	store := credential.NewStore(credential.Options{
		Backend:  backend,
		Refresh:  client.Refresh,
		Margin:   cfg.TokenSafetyMargin,
		Attempts: cfg.TokenRefreshAttempts,
	})
	if err := store.Load(ctx); err != nil {
		return nil, fmt.Errorf("load twitch credential: %w", err)
	}
	return &twitchSide{store: store, flow: oauth.NewFlow(store, client)}, nil
}

// run authorizes if needed, then keeps the Twitch transport connected until
// ctx ends or the credential expires.
func (t *twitchSide) run(ctx context.Context, cfg *config.Config, d *dispatch.Dispatcher, stdin io.Reader) error {
	if st := t.store.State(); st == credential.Unauthenticated || st == credential.Expired {
		if err := t.authorize(ctx, stdin); err != nil {
			return ignoreCanceled(err)
		}
	}

	expired := make(chan struct{})
	var once sync.Once
	oauth.StartRefresher(ctx, t.store, cfg.TokenRefreshInterval, func() { once.Do(func() { close(expired) }) })

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sup := &dispatch.Supervisor{
		Transport:  chat.NewTwitchTransport(cfg.TwitchBotUsername, cfg.TwitchChannel),
		Tokens:     t.store,
		Dispatcher: d,
	}
	errc := make(chan error, 1)
	go func() { errc <- sup.Run(sctx) }()

	select {
	case err := <-errc:
		return ignoreCanceled(err)
	case <-expired:
		cancel()
		<-errc
		return fmt.Errorf("twitch: %w", credential.ErrExpired)
	}
}

// authorize prints the authorize URL and accepts the code from either the
// HTTP callback or a line pasted on stdin.
func (t *twitchSide) authorize(ctx context.Context, stdin io.Reader) error {
	return t.flow.RunInteractive(ctx, stdin, func(u string) {
		fmt.Printf("Twitch authorization required. Open this URL in a browser:\n\n  %s\n\nThen wait for the redirect, or paste the code (or the full redirect URL) here and press enter.\n", u)
	})
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
