package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"TOKEN_BACKEND", "TOKEN_SAFETY_MARGIN", "QUEUE_TOP_DEFAULT", "HTTP_ADDR", "COMMAND_PREFIX", "TWITCH_SCOPES"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.TokenBackend != "file" || cfg.TokenFile == "" {
		t.Errorf("token backend = %q, file = %q", cfg.TokenBackend, cfg.TokenFile)
	}
	if cfg.TokenSafetyMargin != 5*time.Minute || cfg.TokenRefreshAttempts != 3 {
		t.Errorf("margin = %v, attempts = %d", cfg.TokenSafetyMargin, cfg.TokenRefreshAttempts)
	}
	if cfg.CommandPrefix != "!" || cfg.QueueTopDefault != 5 || cfg.HTTPAddr != ":3000" {
		t.Errorf("prefix = %q, top = %d, addr = %q", cfg.CommandPrefix, cfg.QueueTopDefault, cfg.HTTPAddr)
	}
	if len(cfg.TwitchScopes) != 2 || cfg.TwitchScopes[0] != "chat:read" {
		t.Errorf("scopes = %v", cfg.TwitchScopes)
	}
}

func TestLoadCustomCommandsDefault(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CustomCommands["stonk"] != "yOu shOULd Buy AMC sTOnKS" || cfg.CustomCommands["c++"] != "segmentation fault" {
		t.Errorf("custom commands = %v", cfg.CustomCommands)
	}

	t.Setenv("CUSTOM_COMMANDS", "")
	cfg, err = Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.CustomCommands) != 0 {
		t.Errorf("explicitly empty CUSTOM_COMMANDS gave %v", cfg.CustomCommands)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct{ key, val string }{
		{"TOKEN_BACKEND", "redis"},
		{"TOKEN_SAFETY_MARGIN", "soon"},
		{"TOKEN_SAFETY_MARGIN", "-1m"},
		{"TOKEN_REFRESH_ATTEMPTS", "three"},
		{"QUEUE_TOP_MAX", "x"},
		{"CUSTOM_COMMANDS", "discord"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.val, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%q succeeded", tt.key, tt.val)
			}
		})
	}
}

func TestValidateTwitch(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "#StuckOverflow")
	t.Setenv("TWITCH_BOT_USERNAME", "bot")
	t.Setenv("TWITCH_CLIENT_ID", "id")
	t.Setenv("TWITCH_CLIENT_SECRET", "secret")
	cfg, _ := Load()
	if err := cfg.ValidateTwitch(); err != nil {
		t.Errorf("expected valid twitch config, got %v", err)
	}
	if cfg.TwitchChannel != "stuckoverflow" {
		t.Errorf("channel = %q", cfg.TwitchChannel)
	}

	t.Setenv("TWITCH_CLIENT_SECRET", "")
	cfg, _ = Load()
	if err := cfg.ValidateTwitch(); err == nil {
		t.Errorf("expected error when TWITCH_CLIENT_SECRET is missing")
	}
}

func TestValidateDiscord(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "tok")
	t.Setenv("DISCORD_CHANNEL_ID", "")
	cfg, _ := Load()
	if err := cfg.ValidateDiscord(); err == nil {
		t.Error("expected error without DISCORD_CHANNEL_ID")
	}
	t.Setenv("DISCORD_CHANNEL_ID", "123")
	cfg, _ = Load()
	if err := cfg.ValidateDiscord(); err != nil {
		t.Errorf("ValidateDiscord() = %v", err)
	}
}

func TestModeratorKeys(t *testing.T) {
	t.Setenv("TWITCH_CHANNEL", "streamer")
	t.Setenv("QUEUE_MODERATORS", "Alice, discord:Bob")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	got := cfg.ModeratorKeys()
	want := []string{"twitch:alice", "discord:bob", "twitch:streamer"}
	if len(got) != len(want) {
		t.Fatalf("ModeratorKeys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ModeratorKeys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseCustomCommands(t *testing.T) {
	got, err := ParseCustomCommands(" !Discord = https://discord.gg/x ; stonk=buy ;")
	if err != nil {
		t.Fatal(err)
	}
	if got["discord"] != "https://discord.gg/x" || got["stonk"] != "buy" || len(got) != 2 {
		t.Errorf("ParseCustomCommands() = %v", got)
	}
	if _, err := ParseCustomCommands("=reply"); err == nil {
		t.Error("empty name accepted")
	}
}
