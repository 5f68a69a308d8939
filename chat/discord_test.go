package chat

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/stuck-overflow/queuebot/credential"
)

type fakeDiscord struct {
	mu      sync.Mutex
	handler func(*discordgo.Session, *discordgo.MessageCreate)
	userErr error
	openErr error
	opened  bool
	closed  bool
	sent    []string
	replies []string
}

func (f *fakeDiscord) AddHandler(h interface{}) func() {
	f.handler = h.(func(*discordgo.Session, *discordgo.MessageCreate))
	return func() { f.handler = nil }
}

func (f *fakeDiscord) Open() error {
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = true
	return nil
}

func (f *fakeDiscord) Close() error { f.closed = true; return nil }

func (f *fakeDiscord) User(string, ...discordgo.RequestOption) (*discordgo.User, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return &discordgo.User{ID: "bot-id", Username: "queuebot", Bot: true}, nil
}

func (f *fakeDiscord) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, channelID+":"+content)
	return &discordgo.Message{}, nil
}

func (f *fakeDiscord) ChannelMessageSendReply(channelID, content string, ref *discordgo.MessageReference, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, channelID+":"+ref.MessageID+":"+content)
	return &discordgo.Message{}, nil
}

func newTestDiscord(f *fakeDiscord) *DiscordTransport {
	tr := NewDiscordTransport("chan-1")
	tr.newSession = func(string) (discordSession, error) { return f, nil }
	return tr
}

func post(f *fakeDiscord, channel, authorID string, bot bool, text string) {
	f.handler(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m-" + text,
		ChannelID: channel,
		Content:   text,
		Author:    &discordgo.User{ID: authorID, Username: "user-" + authorID, Bot: bot},
		Timestamp: time.Now(),
	}})
}

func TestDiscordReceiveFilters(t *testing.T) {
	f := &fakeDiscord{}
	sess, err := newTestDiscord(f).Connect(context.Background(), StaticToken("bot-token"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !f.opened {
		t.Fatal("gateway not opened")
	}

	post(f, "other", "u1", false, "!join")
	post(f, "chan-1", "u2", true, "!join")
	post(f, "chan-1", "bot-id", false, "!join")
	post(f, "chan-1", "u3", false, "!leave")

	select {
	case m := <-sess.Receive():
		if m.UserID != "u3" || m.Text != "!leave" || m.Platform != PlatformDiscord || m.User != "user-u3" {
			t.Errorf("message = %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	select {
	case m := <-sess.Receive():
		t.Errorf("unexpected message %+v", m)
	default:
	}

	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}
	if !f.closed || f.handler != nil {
		t.Error("Close did not close gateway and remove handler")
	}
	if err := sess.Send(context.Background(), "late"); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close = %v", err)
	}
}

func TestDiscordSendAndReply(t *testing.T) {
	f := &fakeDiscord{}
	sess, err := newTestDiscord(f).Connect(context.Background(), StaticToken("bot-token"))
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	if err := sess.Send(context.Background(), "alice joined queue, position 1"); err != nil {
		t.Fatal(err)
	}
	if err := sess.(Replier).Reply(context.Background(), Message{ID: "m1", Channel: "chan-1"}, "you are at 1"); err != nil {
		t.Fatal(err)
	}
	if len(f.sent) != 1 || f.sent[0] != "chan-1:alice joined queue, position 1" {
		t.Errorf("sent = %v", f.sent)
	}
	if len(f.replies) != 1 || f.replies[0] != "chan-1:m1:you are at 1" {
		t.Errorf("replies = %v", f.replies)
	}
}

func TestDiscordRejectedToken(t *testing.T) {
	f := &fakeDiscord{userErr: &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusUnauthorized}}}
	_, err := newTestDiscord(f).Connect(context.Background(), StaticToken("bad"))
	if !errors.Is(err, ErrAuthFailed) || !errors.Is(err, credential.ErrExpired) {
		t.Fatalf("Connect() error = %v, want ErrAuthFailed and ErrExpired", err)
	}
	if f.opened {
		t.Error("gateway opened with rejected token")
	}
}

func TestDiscordTransientLoginError(t *testing.T) {
	f := &fakeDiscord{userErr: errors.New("dial tcp: timeout")}
	_, err := newTestDiscord(f).Connect(context.Background(), StaticToken("tok"))
	if err == nil || errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Connect() error = %v, want non-auth error", err)
	}
}

func TestDiscordOpenFailureClosesSession(t *testing.T) {
	f := &fakeDiscord{openErr: errors.New("gateway unavailable")}
	_, err := newTestDiscord(f).Connect(context.Background(), StaticToken("tok"))
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "connect" {
		t.Fatalf("Connect() error = %v, want connect TransportError", err)
	}
	if !f.closed {
		t.Error("session not closed after failed Open")
	}
	if f.handler != nil {
		t.Error("message handler still registered")
	}
}
