// Package chat connects the bot to chat platforms.
//
// A Transport dials one platform and yields a Session. Sessions deliver
// inbound messages on Receive and accept outbound text on Send; they end when
// Done is closed, with the cause available from Err. Two transports exist:
//   - TwitchTransport: IRC via go-twitch-irc, authenticated with a user OAuth
//     token read from a TokenProvider on every connect.
//   - DiscordTransport: the Discord gateway via discordgo with a static bot
//     token.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/stuck-overflow/queuebot/credential"
)

var (
	// ErrAuthFailed means the platform rejected the credential.
	ErrAuthFailed = errors.New("chat authentication failed")
	// ErrClosed is returned by Send on a session that has ended.
	ErrClosed = errors.New("chat session closed")
)

// Message is one inbound chat line.
type Message struct {
	Platform      string
	Channel       string
	ID            string
	UserID        string
	User          string // unique platform handle, the login on Twitch
	DisplayName   string
	Text          string
	IsModerator   bool
	IsBroadcaster bool
	Received      time.Time
}

// Elevated reports whether the platform marks the author as a moderator or
// the channel owner.
func (m Message) Elevated() bool { return m.IsModerator || m.IsBroadcaster }

// TokenProvider hands out access tokens. credential.Store implements it.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	// ReportAuthFailure tells the provider stale was rejected and returns a
	// replacement.
	ReportAuthFailure(ctx context.Context, stale string) (string, error)
}

// StaticToken is a TokenProvider for tokens that cannot be refreshed, such as
// a Discord bot token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", credential.ErrUnauthenticated
	}
	return string(s), nil
}

// ReportAuthFailure always fails: a rejected static token needs operator action.
func (s StaticToken) ReportAuthFailure(context.Context, string) (string, error) {
	return "", fmt.Errorf("%w: static token rejected", credential.ErrExpired)
}

// Transport dials a chat platform.
type Transport interface {
	Name() string
	Connect(ctx context.Context, tokens TokenProvider) (Session, error)
}

// Session is one live connection.
type Session interface {
	Send(ctx context.Context, text string) error
	Receive() <-chan Message
	// Done is closed when the connection ends.
	Done() <-chan struct{}
	// Err returns why the session ended, or nil while it is alive or after Close.
	Err() error
	Close() error
}

// Replier is implemented by sessions that can thread a reply to a message.
type Replier interface {
	Reply(ctx context.Context, to Message, text string) error
}

// TransportError wraps a failure in a transport operation.
type TransportError struct {
	Transport string
	Op        string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Transport, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// split breaks text into chunks of at most limit runes, preferring to cut at
// spaces.
func split(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var out []string
	for utf8.RuneCountInString(text) > limit {
		runes := []rune(text)
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i] == ' ' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimSpace(string(runes[:cut])))
		text = strings.TrimSpace(string(runes[cut:]))
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
