package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stuck-overflow/queuebot/chat"
	"github.com/stuck-overflow/queuebot/credential"
	"github.com/stuck-overflow/queuebot/telemetry"
)

// Supervisor keeps one transport connected and attached to a Dispatcher.
type Supervisor struct {
	Transport  chat.Transport
	Tokens     chat.TokenProvider
	Dispatcher *Dispatcher

	// MinBackoff and MaxBackoff bound the reconnect delay.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// IsFatal reports whether err needs operator action rather than a reconnect.
func IsFatal(err error) bool {
	return errors.Is(err, credential.ErrExpired) || errors.Is(err, credential.ErrUnauthenticated)
}

// Run connects, attaches and reconnects until ctx is cancelled or a fatal
// credential error occurs, which is returned.
func (s *Supervisor) Run(ctx context.Context) error {
	name := s.Transport.Name()
	log := slog.Default().With(slog.String("component", "supervisor"), slog.String("transport", name))

	for {
		sess, err := s.connect(ctx, log)
		if err != nil {
			if IsFatal(err) {
				log.Error("transport stopped, re-authentication required", slog.Any("err", err))
			}
			return err
		}
		s.Dispatcher.Attach(ctx, name, sess)

		select {
		case <-ctx.Done():
			s.Dispatcher.Detach(name, sess)
			_ = sess.Close()
			return ctx.Err()
		case <-sess.Done():
		}
		s.Dispatcher.Detach(name, sess)
		_ = sess.Close()

		err = sess.Err()
		if IsFatal(err) {
			log.Error("transport stopped, re-authentication required", slog.Any("err", err))
			return err
		}
		telemetry.RecordReconnect(name)
		log.Warn("transport disconnected, reconnecting", slog.Any("err", err))
	}
}

func (s *Supervisor) connect(ctx context.Context, log *slog.Logger) (chat.Session, error) {
	b := backoff.NewExponentialBackOff()
	if s.MinBackoff > 0 {
		b.InitialInterval = s.MinBackoff
	}
	b.MaxInterval = 2 * time.Minute
	if s.MaxBackoff > 0 {
		b.MaxInterval = s.MaxBackoff
	}

	op := func() (chat.Session, error) {
		sess, err := s.Transport.Connect(ctx, s.Tokens)
		if err != nil {
			if IsFatal(err) {
				return nil, backoff.Permanent(err)
			}
			log.Warn("transport connect failed", slog.Any("err", err))
			return nil, err
		}
		return sess, nil
	}
	for {
		sess, err := backoff.Retry(ctx, op, backoff.WithBackOff(b))
		if err == nil || IsFatal(err) || ctx.Err() != nil {
			return sess, err
		}
		// Retry gave up after its elapsed-time cap; start a fresh schedule.
		b.Reset()
	}
}
