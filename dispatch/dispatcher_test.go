package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/stuck-overflow/queuebot/chat"
	"github.com/stuck-overflow/queuebot/command"
	"github.com/stuck-overflow/queuebot/queue"
	"github.com/stuck-overflow/queuebot/wordgame"
)

type fakeSession struct {
	mu      sync.Mutex
	sent    []string
	msgs    chan chat.Message
	done    chan struct{}
	err     error
	sendErr error
	block   bool
	once    sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{msgs: make(chan chat.Message, 8), done: make(chan struct{})}
}

func (f *fakeSession) Send(ctx context.Context, text string) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSession) Receive() <-chan chat.Message { return f.msgs }
func (f *fakeSession) Done() <-chan struct{}        { return f.done }
func (f *fakeSession) Err() error                   { return f.err }

func (f *fakeSession) Close() error {
	f.once.Do(func() { close(f.done) })
	return nil
}

func (f *fakeSession) end(err error) {
	f.err = err
	f.Close()
}

func (f *fakeSession) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newDispatcher(t *testing.T, game *wordgame.Game) (*Dispatcher, *queue.Engine) {
	t.Helper()
	engine := queue.NewEngine(queue.Options{Moderators: []string{"twitch:mod"}})
	d, err := New(Options{
		Engine:      engine,
		Parser:      command.New("!", 5, map[string]string{"discord": "https://discord.gg/example"}),
		Game:        game,
		SendTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	return d, engine
}

func twitchMsg(id, user, text string) chat.Message {
	return chat.Message{Platform: chat.PlatformTwitch, Channel: "chan", ID: id, User: user, Text: text}
}

func TestHandleBroadcastsAnnouncements(t *testing.T) {
	d, engine := newDispatcher(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tw, dc := newFakeSession(), newFakeSession()
	d.Attach(ctx, "twitch", tw)
	d.Attach(ctx, "discord", dc)

	if !d.Handle(ctx, "twitch", tw, twitchMsg("1", "alice", "!join")) {
		t.Fatal("Handle(!join) = false")
	}
	want := "alice joined queue, position 1"
	for name, s := range map[string]*fakeSession{"twitch": tw, "discord": dc} {
		if got := s.messages(); len(got) != 1 || got[0] != want {
			t.Errorf("%s got %v, want [%q]", name, got, want)
		}
	}
	if engine.Len() != 1 {
		t.Errorf("Len() = %d", engine.Len())
	}
}

func TestHandleReplyOnlyToOrigin(t *testing.T) {
	d, _ := newDispatcher(t, nil)
	ctx := context.Background()
	tw, dc := newFakeSession(), newFakeSession()
	d.Attach(ctx, "twitch", tw)
	d.Attach(ctx, "discord", dc)

	d.Handle(ctx, "discord", dc, chat.Message{Platform: chat.PlatformDiscord, ID: "d1", User: "bob", Text: "!position"})
	if got := dc.messages(); len(got) != 1 || got[0] != "bob is not in the queue" {
		t.Errorf("discord got %v", got)
	}
	if got := tw.messages(); len(got) != 0 {
		t.Errorf("twitch got %v, want nothing", got)
	}

	d.Handle(ctx, "discord", dc, chat.Message{Platform: chat.PlatformDiscord, ID: "d2", User: "bob", Text: "!discord"})
	if got := dc.messages(); len(got) != 2 || got[1] != "https://discord.gg/example" {
		t.Errorf("custom command reply = %v", got)
	}
}

func TestHandleIgnoresChatterAndDuplicates(t *testing.T) {
	d, engine := newDispatcher(t, nil)
	ctx := context.Background()
	s := newFakeSession()
	d.Attach(ctx, "twitch", s)

	if d.Handle(ctx, "twitch", s, twitchMsg("1", "alice", "hello there")) {
		t.Error("plain chatter treated as command")
	}
	if !d.Handle(ctx, "twitch", s, twitchMsg("2", "alice", "!join")) {
		t.Fatal("first !join not handled")
	}
	if d.Handle(ctx, "twitch", s, twitchMsg("2", "alice", "!join")) {
		t.Error("duplicate message handled twice")
	}
	if engine.Len() != 1 || len(s.messages()) != 1 {
		t.Errorf("Len() = %d, sent = %v", engine.Len(), s.messages())
	}
}

func TestHandleElevatedIssuer(t *testing.T) {
	d, engine := newDispatcher(t, nil)
	ctx := context.Background()
	s := newFakeSession()
	d.Attach(ctx, "twitch", s)

	d.Handle(ctx, "twitch", s, twitchMsg("1", "alice", "!join"))
	d.Handle(ctx, "twitch", s, twitchMsg("2", "viewer", "!pop"))
	if engine.Len() != 1 {
		t.Fatal("unprivileged pop mutated the queue")
	}

	pop := twitchMsg("3", "streamer", "!pop")
	pop.IsBroadcaster = true
	d.Handle(ctx, "twitch", s, pop)
	if engine.Len() != 0 {
		t.Fatal("broadcaster pop did not remove the head")
	}
	got := s.messages()
	if got[len(got)-1] != "next up: alice" {
		t.Errorf("last message = %q", got[len(got)-1])
	}
}

func TestBroadcastSlowTransport(t *testing.T) {
	d, _ := newDispatcher(t, nil)
	ctx := context.Background()
	fast, slow, broken := newFakeSession(), newFakeSession(), newFakeSession()
	slow.block = true
	broken.sendErr = errors.New("write: broken pipe")
	d.Attach(ctx, "fast", fast)
	d.Attach(ctx, "slow", slow)
	d.Attach(ctx, "broken", broken)

	start := time.Now()
	if n := d.Broadcast(ctx, "hello"); n != 1 {
		t.Errorf("Broadcast() delivered = %d, want 1", n)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Broadcast took %v", elapsed)
	}
	if got := fast.messages(); len(got) != 1 {
		t.Errorf("fast got %v", got)
	}
}

func TestAttachConsumesUntilDone(t *testing.T) {
	d, engine := newDispatcher(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newFakeSession()
	d.Attach(ctx, "twitch", s)

	s.msgs <- twitchMsg("1", "alice", "!join")
	s.msgs <- twitchMsg("2", "bob", "!join")
	deadline := time.Now().Add(time.Second)
	for engine.Len() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	snap := engine.Snapshot()
	if len(snap) != 2 || snap[0].Identity.Handle != "alice" || snap[1].Identity.Handle != "bob" {
		t.Fatalf("queue = %+v", snap)
	}

	s.end(nil)
	d.Wait()
	if names := d.Transports(); len(names) != 0 {
		t.Errorf("Transports() = %v after session ended", names)
	}
}

func TestDetachIgnoresReplacedSession(t *testing.T) {
	d, _ := newDispatcher(t, nil)
	ctx := context.Background()
	old, cur := newFakeSession(), newFakeSession()
	d.Attach(ctx, "twitch", old)
	d.Attach(ctx, "twitch", cur)
	d.Detach("twitch", old)
	if names := d.Transports(); len(names) != 1 || names[0] != "twitch" {
		t.Errorf("Transports() = %v", names)
	}
}

func TestWordGameCommands(t *testing.T) {
	game, err := wordgame.New("apple\nbanana\ncherry", 1)
	if err != nil {
		t.Fatal(err)
	}
	d, _ := newDispatcher(t, game)
	ctx := context.Background()
	a, b := newFakeSession(), newFakeSession()
	d.Attach(ctx, "twitch", a)
	d.Attach(ctx, "discord", b)

	d.Handle(ctx, "twitch", a, twitchMsg("1", "alice", "!guess banana"))
	for _, s := range []*fakeSession{a, b} {
		if got := s.messages(); len(got) != 1 || !strings.HasPrefix(got[0], "alice guessed") {
			t.Errorf("guess broadcast = %v", got)
		}
	}

	d.Handle(ctx, "twitch", a, twitchMsg("2", "alice", "!newgame"))
	if got := a.messages(); got[len(got)-1] != "alice: you are not allowed to newgame" {
		t.Errorf("unprivileged newgame reply = %q", got[len(got)-1])
	}
	d.Handle(ctx, "twitch", a, twitchMsg("3", "mod", "!newgame"))
	if got := b.messages(); got[len(got)-1] != "new word game: the word is between apple and cherry" {
		t.Errorf("newgame announcement = %q", got[len(got)-1])
	}
}

func TestWordGameDisabled(t *testing.T) {
	d, _ := newDispatcher(t, nil)
	s := newFakeSession()
	d.Attach(context.Background(), "twitch", s)
	d.Handle(context.Background(), "twitch", s, twitchMsg("1", "alice", "!guess pond"))
	if got := s.messages(); len(got) != 1 || got[0] != "the word game is disabled" {
		t.Errorf("got %v", got)
	}
}

func TestHandleKeysTwitchUsersByLogin(t *testing.T) {
	d, engine := newDispatcher(t, nil)
	ctx := context.Background()
	s := newFakeSession()
	d.Attach(ctx, "twitch", s)

	pm := func(id, login, display, text string) chat.Message {
		return chat.FromPrivateMessage(twitch.PrivateMessage{
			User:    twitch.User{ID: "id-" + login, Name: login, DisplayName: display},
			Channel: "chan",
			ID:      id,
			Message: text,
		})
	}

	// two logins sharing a localized display name are different participants
	d.Handle(ctx, "twitch", s, pm("1", "user_a", "太郎", "!join"))
	d.Handle(ctx, "twitch", s, pm("2", "user_b", "太郎", "!join"))
	if engine.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", engine.Len())
	}

	// a configured moderator is matched by login, not display name
	d.Handle(ctx, "twitch", s, pm("3", "mod", "モデレーター", "!pop"))
	if engine.Len() != 1 {
		t.Fatalf("moderator pop: Len() = %d, want 1", engine.Len())
	}
	if snap := engine.Snapshot(); snap[0].Identity.Handle != "user_b" {
		t.Errorf("head = %+v, want user_b", snap[0])
	}
}
