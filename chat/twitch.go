package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"golang.org/x/time/rate"
)

const (
	// PlatformTwitch is the Identity platform for Twitch users.
	PlatformTwitch = "twitch"

	twitchMaxMessage = 500
	// Twitch allows 20 messages per 30 seconds for non-moderator accounts.
	twitchSendBurst = 20
	twitchSendEvery = 30 * time.Second / twitchSendBurst
)

// ircClient is the subset of *twitch.Client the transport uses.
type ircClient interface {
	OnConnect(func())
	OnPrivateMessage(func(twitch.PrivateMessage))
	Join(channels ...string)
	Connect() error
	Disconnect() error
	Say(channel, text string)
	Reply(channel, parentMsgID, text string)
}

// TwitchTransport connects to one Twitch channel over IRC.
type TwitchTransport struct {
	Username string
	Channel  string

	newClient func(username, oauth string) ircClient
	logger    *slog.Logger
}

// NewTwitchTransport returns a transport for channel, logging in as username.
func NewTwitchTransport(username, channel string) *TwitchTransport {
	return &TwitchTransport{
		Username: strings.ToLower(username),
		Channel:  strings.ToLower(strings.TrimPrefix(channel, "#")),
		newClient: func(username, oauth string) ircClient {
			return twitch.NewClient(username, oauth)
		},
		logger: slog.Default().With(slog.String("component", "chat_twitch")),
	}
}

func (t *TwitchTransport) Name() string { return PlatformTwitch }

// Connect reads a token, logs in and joins the channel. A rejected login is
// reported to tokens before ErrAuthFailed is returned.
func (t *TwitchTransport) Connect(ctx context.Context, tokens TokenProvider) (Session, error) {
	tok, err := tokens.Token(ctx)
	if err != nil {
		return nil, &TransportError{Transport: t.Name(), Op: "token", Err: err}
	}

	s := &twitchSession{
		transport: t,
		client:    t.newClient(t.Username, "oauth:"+tok),
		limiter:   rate.NewLimiter(rate.Every(twitchSendEvery), twitchSendBurst),
		msgs:      make(chan Message, 64),
		done:      make(chan struct{}),
	}
	connected := make(chan struct{})
	var once sync.Once
	s.client.OnConnect(func() { once.Do(func() { close(connected) }) })
	s.client.OnPrivateMessage(func(pm twitch.PrivateMessage) {
		m := FromPrivateMessage(pm)
		select {
		case s.msgs <- m:
		case <-s.done:
		}
	})
	s.client.Join(t.Channel)

	errc := make(chan error, 1)
	go func() { errc <- s.client.Connect() }()

	select {
	case <-connected:
	case err := <-errc:
		return nil, t.connectError(ctx, tokens, tok, err)
	case <-ctx.Done():
		if err := s.client.Disconnect(); errors.Is(err, twitch.ErrConnectionIsNotOpen) {
			// still dialing; disconnect once the login completes or fails
			go func() {
				select {
				case <-connected:
					_ = s.client.Disconnect()
					<-errc
				case <-errc:
				}
			}()
		}
		return nil, ctx.Err()
	}

	t.logger.Info("twitch chat connected", slog.String("channel", t.Channel), slog.String("username", t.Username))
	go s.wait(ctx, tokens, tok, errc)
	return s, nil
}

func (t *TwitchTransport) connectError(ctx context.Context, tokens TokenProvider, tok string, err error) error {
	if err == nil {
		err = errors.New("connection closed before login")
	}
	if !errors.Is(err, twitch.ErrLoginAuthenticationFailed) {
		return &TransportError{Transport: t.Name(), Op: "connect", Err: err}
	}
	t.logger.Warn("twitch rejected access token")
	if _, rerr := tokens.ReportAuthFailure(ctx, tok); rerr != nil {
		return &TransportError{Transport: t.Name(), Op: "login", Err: fmt.Errorf("%w: %w", ErrAuthFailed, rerr)}
	}
	return &TransportError{Transport: t.Name(), Op: "login", Err: ErrAuthFailed}
}

// FromPrivateMessage converts an IRC PRIVMSG. User is the login, which is
// unique on Twitch; the display name may be localized and is not.
func FromPrivateMessage(pm twitch.PrivateMessage) Message {
	received := pm.Time
	if received.IsZero() {
		received = time.Now()
	}
	return Message{
		Platform:      PlatformTwitch,
		Channel:       pm.Channel,
		ID:            pm.ID,
		UserID:        pm.User.ID,
		User:          pm.User.Name,
		DisplayName:   pm.User.DisplayName,
		Text:          pm.Message,
		IsModerator:   pm.User.Badges["moderator"] > 0,
		IsBroadcaster: pm.User.Badges["broadcaster"] > 0,
		Received:      received,
	}
}

type twitchSession struct {
	transport *TwitchTransport
	client    ircClient
	limiter   *rate.Limiter
	msgs      chan Message
	done      chan struct{}

	mu        sync.Mutex
	err       error
	closed    bool
	closeOnce sync.Once
}

func (s *twitchSession) wait(ctx context.Context, tokens TokenProvider, tok string, errc <-chan error) {
	err := <-errc
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if !closed {
		switch {
		case errors.Is(err, twitch.ErrLoginAuthenticationFailed):
			err = s.transport.connectError(ctx, tokens, tok, err)
		case err == nil || errors.Is(err, twitch.ErrClientDisconnected):
			err = &TransportError{Transport: s.transport.Name(), Op: "receive", Err: errors.New("disconnected")}
		default:
			err = &TransportError{Transport: s.transport.Name(), Op: "receive", Err: err}
		}
		s.finish(err)
	}
}

func (s *twitchSession) finish(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *twitchSession) Receive() <-chan Message { return s.msgs }
func (s *twitchSession) Done() <-chan struct{}   { return s.done }

func (s *twitchSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *twitchSession) Send(ctx context.Context, text string) error {
	return s.send(ctx, text, "")
}

// Reply threads the first chunk of text under the original message.
func (s *twitchSession) Reply(ctx context.Context, to Message, text string) error {
	return s.send(ctx, text, to.ID)
}

func (s *twitchSession) send(ctx context.Context, text, parentID string) error {
	for i, chunk := range split(text, twitchMaxMessage) {
		select {
		case <-s.done:
			return &TransportError{Transport: s.transport.Name(), Op: "send", Err: ErrClosed}
		default:
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return &TransportError{Transport: s.transport.Name(), Op: "send", Err: err}
		}
		if i == 0 && parentID != "" {
			s.client.Reply(s.transport.Channel, parentID, chunk)
		} else {
			s.client.Say(s.transport.Channel, chunk)
		}
	}
	return nil
}

func (s *twitchSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.finish(nil)
	err := s.client.Disconnect()
	if err != nil && !errors.Is(err, twitch.ErrConnectionIsNotOpen) {
		return err
	}
	return nil
}
