package command

import (
	"strings"
	"testing"

	"github.com/stuck-overflow/queuebot/queue"
)

func TestParse(t *testing.T) {
	p := New("!", 5, map[string]string{"Discord": "https://discord.gg/example"})
	alice := queue.Identity{Platform: "twitch", Handle: "alice"}
	src := queue.Source{Transport: "twitch", Channel: "stuck_overflow", MessageID: "m1"}

	tests := []struct {
		name     string
		text     string
		wantOK   bool
		wantKind queue.Kind
		wantUser string
		wantN    int
		wantArg  string
	}{
		{name: "join self", text: "!join", wantOK: true, wantKind: queue.KindJoin, wantUser: "alice"},
		{name: "join named", text: "!join alice", wantOK: true, wantKind: queue.KindJoin, wantUser: "alice"},
		{name: "join mention", text: "  !JOIN   @bob ", wantOK: true, wantKind: queue.KindJoin, wantUser: "bob"},
		{name: "leave", text: "!leave", wantOK: true, wantKind: queue.KindLeave, wantUser: "alice"},
		{name: "position alias", text: "!pos carol", wantOK: true, wantKind: queue.KindPosition, wantUser: "carol"},
		{name: "top default", text: "!top", wantOK: true, wantKind: queue.KindListTop, wantN: 5},
		{name: "top n", text: "!Top 3", wantOK: true, wantKind: queue.KindListTop, wantN: 3},
		{name: "top alias", text: "!q 2", wantOK: true, wantKind: queue.KindListTop, wantN: 2},
		{name: "top malformed", text: "!top abc", wantOK: true, wantKind: queue.KindHelp, wantArg: "usage: !top [n]"},
		{name: "top zero", text: "!top 0", wantOK: true, wantKind: queue.KindHelp, wantArg: "usage: !top [n]"},
		{name: "pop", text: "!pop", wantOK: true, wantKind: queue.KindPop},
		{name: "next alias", text: "!next", wantOK: true, wantKind: queue.KindPop},
		{name: "pop with args", text: "!pop now", wantOK: true, wantKind: queue.KindHelp, wantArg: "usage: !pop"},
		{name: "clear", text: "!clear", wantOK: true, wantKind: queue.KindClear},
		{name: "guess", text: "!guess Pond", wantOK: true, wantKind: queue.KindGuess, wantArg: "pond"},
		{name: "guess missing word", text: "!guess", wantOK: true, wantKind: queue.KindHelp, wantArg: "usage: !guess <word>"},
		{name: "newgame", text: "!newgame", wantOK: true, wantKind: queue.KindNewGame},
		{name: "custom", text: "!discord", wantOK: true, wantKind: queue.KindCustom, wantArg: "https://discord.gg/example"},
		{name: "unknown", text: "!dance", wantOK: false},
		{name: "no prefix", text: "join", wantOK: false},
		{name: "empty", text: "   ", wantOK: false},
		{name: "prefix in middle", text: "hello !join", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, ok := p.Parse(tt.text, alice, src)
			if ok != tt.wantOK {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if cmd.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", cmd.Kind, tt.wantKind)
			}
			if tt.wantUser != "" && cmd.User.Handle != tt.wantUser {
				t.Errorf("User = %q, want %q", cmd.User.Handle, tt.wantUser)
			}
			if cmd.N != tt.wantN {
				t.Errorf("N = %d, want %d", cmd.N, tt.wantN)
			}
			if tt.wantArg != "" && cmd.Arg != tt.wantArg {
				t.Errorf("Arg = %q, want %q", cmd.Arg, tt.wantArg)
			}
			if cmd.Issuer != alice {
				t.Errorf("Issuer = %v, want %v", cmd.Issuer, alice)
			}
			if cmd.Source != src {
				t.Errorf("Source = %v, want %v", cmd.Source, src)
			}
		})
	}
}

func TestParseCustomPrefix(t *testing.T) {
	p := New("?", 0, nil)
	id := queue.Identity{Platform: "discord", Handle: "bob"}
	if _, ok := p.Parse("!join", id, queue.Source{}); ok {
		t.Error("default prefix should not match when prefix is ?")
	}
	cmd, ok := p.Parse("?top", id, queue.Source{})
	if !ok || cmd.Kind != queue.KindListTop || cmd.N != 5 {
		t.Errorf("Parse(?top) = %+v, %v", cmd, ok)
	}
}

func TestHelpListsCommands(t *testing.T) {
	p := New("!", 5, map[string]string{"stonk": "buy high"})
	cmd, ok := p.Parse("!help", queue.Identity{Platform: "twitch", Handle: "x"}, queue.Source{})
	if !ok || cmd.Kind != queue.KindHelp {
		t.Fatalf("Parse(!help) = %+v, %v", cmd, ok)
	}
	for _, want := range []string{"!join [user]", "!top [n]", "!pop", "!clear", "!stonk"} {
		if !strings.Contains(cmd.Arg, want) {
			t.Errorf("help %q missing %q", cmd.Arg, want)
		}
	}
}
