package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"
)

const (
	// PlatformDiscord is the Identity platform for Discord users.
	PlatformDiscord = "discord"

	discordMaxMessage = 2000
)

// discordSession is the subset of *discordgo.Session the transport uses.
type discordSession interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordTransport reads and writes one Discord text channel.
type DiscordTransport struct {
	ChannelID string

	newSession func(token string) (discordSession, error)
	logger     *slog.Logger
}

// NewDiscordTransport returns a transport bound to channelID.
func NewDiscordTransport(channelID string) *DiscordTransport {
	return &DiscordTransport{
		ChannelID: channelID,
		newSession: func(token string) (discordSession, error) {
			dg, err := discordgo.New("Bot " + token)
			if err != nil {
				return nil, err
			}
			dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
			return dg, nil
		},
		logger: slog.Default().With(slog.String("component", "chat_discord")),
	}
}

func (t *DiscordTransport) Name() string { return PlatformDiscord }

// Connect verifies the bot token over REST, then opens the gateway.
func (t *DiscordTransport) Connect(ctx context.Context, tokens TokenProvider) (Session, error) {
	tok, err := tokens.Token(ctx)
	if err != nil {
		return nil, &TransportError{Transport: t.Name(), Op: "token", Err: err}
	}
	dg, err := t.newSession(tok)
	if err != nil {
		return nil, &TransportError{Transport: t.Name(), Op: "connect", Err: err}
	}

	me, err := dg.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		var rest *discordgo.RESTError
		if errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == http.StatusUnauthorized {
			t.logger.Warn("discord rejected bot token")
			if _, rerr := tokens.ReportAuthFailure(ctx, tok); rerr != nil {
				return nil, &TransportError{Transport: t.Name(), Op: "login", Err: fmt.Errorf("%w: %w", ErrAuthFailed, rerr)}
			}
			return nil, &TransportError{Transport: t.Name(), Op: "login", Err: ErrAuthFailed}
		}
		return nil, &TransportError{Transport: t.Name(), Op: "login", Err: err}
	}

	s := &discordChatSession{
		transport: t,
		dg:        dg,
		msgs:      make(chan Message, 64),
		done:      make(chan struct{}),
	}
	if me != nil {
		s.selfID = me.ID
	}
	s.removeHandler = dg.AddHandler(func(_ *discordgo.Session, mc *discordgo.MessageCreate) {
		m, ok := s.convert(mc)
		if !ok {
			return
		}
		select {
		case s.msgs <- m:
		case <-s.done:
		}
	})
	if err := dg.Open(); err != nil {
		s.removeHandler()
		if cerr := dg.Close(); cerr != nil {
			t.logger.Debug("close after failed open", slog.Any("err", cerr))
		}
		return nil, &TransportError{Transport: t.Name(), Op: "connect", Err: err}
	}
	t.logger.Info("discord gateway connected", slog.String("channel_id", t.ChannelID))
	return s, nil
}

type discordChatSession struct {
	transport     *DiscordTransport
	dg            discordSession
	selfID        string
	removeHandler func()
	msgs          chan Message
	done          chan struct{}
	closeOnce     sync.Once
}

// convert drops bot authors and messages from other channels.
func (s *discordChatSession) convert(mc *discordgo.MessageCreate) (Message, bool) {
	if mc == nil || mc.Message == nil || mc.Author == nil {
		return Message{}, false
	}
	if mc.Author.Bot || mc.Author.ID == s.selfID {
		return Message{}, false
	}
	if s.transport.ChannelID != "" && mc.ChannelID != s.transport.ChannelID {
		return Message{}, false
	}
	return FromDiscordMessage(mc.Message), true
}

// FromDiscordMessage converts a gateway message.
func FromDiscordMessage(dm *discordgo.Message) Message {
	m := Message{
		Platform: PlatformDiscord,
		Channel:  dm.ChannelID,
		ID:       dm.ID,
		Text:     dm.Content,
		Received: dm.Timestamp,
	}
	if dm.Author != nil {
		m.UserID = dm.Author.ID
		m.User = dm.Author.Username
	}
	return m
}

func (s *discordChatSession) Receive() <-chan Message { return s.msgs }
func (s *discordChatSession) Done() <-chan struct{}   { return s.done }

// Err is always nil: discordgo reconnects the gateway itself, so the session
// only ends on Close.
func (s *discordChatSession) Err() error { return nil }

func (s *discordChatSession) Send(ctx context.Context, text string) error {
	return s.send(ctx, text, nil)
}

func (s *discordChatSession) Reply(ctx context.Context, to Message, text string) error {
	return s.send(ctx, text, &discordgo.MessageReference{MessageID: to.ID, ChannelID: to.Channel})
}

func (s *discordChatSession) send(ctx context.Context, text string, ref *discordgo.MessageReference) error {
	channel := s.transport.ChannelID
	if ref != nil && ref.ChannelID != "" {
		channel = ref.ChannelID
	}
	for i, chunk := range split(text, discordMaxMessage) {
		select {
		case <-s.done:
			return &TransportError{Transport: s.transport.Name(), Op: "send", Err: ErrClosed}
		default:
		}
		var err error
		if i == 0 && ref != nil {
			_, err = s.dg.ChannelMessageSendReply(channel, chunk, ref, discordgo.WithContext(ctx))
		} else {
			_, err = s.dg.ChannelMessageSend(channel, chunk, discordgo.WithContext(ctx))
		}
		if err != nil {
			return &TransportError{Transport: s.transport.Name(), Op: "send", Err: err}
		}
	}
	return nil
}

func (s *discordChatSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.removeHandler()
		err = s.dg.Close()
	})
	return err
}
