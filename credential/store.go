package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/stuck-overflow/queuebot/telemetry"
)

const (
	DefaultMargin   = 5 * time.Minute
	DefaultAttempts = 3
	refreshTimeout  = 30 * time.Second
)

// Options configures a Store.
type Options struct {
	Backend Backend
	Refresh RefreshFunc
	// Margin is how long before expiry a read triggers a refresh.
	Margin time.Duration
	// Attempts bounds retries of transient refresh failures.
	Attempts int
	// RetryInterval is the first backoff delay between attempts.
	RetryInterval time.Duration
	Now           func() time.Time
}

// Store is the single source of truth for the bot's credential. All methods
// are safe for concurrent use; at most one refresh is in flight at a time.
type Store struct {
	backend  Backend
	refresh  RefreshFunc
	margin   time.Duration
	attempts int
	retry    time.Duration
	now      func() time.Time

	mu    sync.RWMutex
	cred  *Credential
	state State

	group singleflight.Group
}

// NewStore builds an Unauthenticated store. Call Load to pick up a persisted
// credential.
func NewStore(opts Options) *Store {
	s := &Store{
		backend:  opts.Backend,
		refresh:  opts.Refresh,
		margin:   opts.Margin,
		attempts: opts.Attempts,
		retry:    opts.RetryInterval,
		now:      opts.Now,
	}
	if s.margin <= 0 {
		s.margin = DefaultMargin
	}
	if s.attempts <= 0 {
		s.attempts = DefaultAttempts
	}
	if s.retry <= 0 {
		s.retry = time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	telemetry.SetTokenState(int(Unauthenticated))
	return s
}

// Load reads the backend once. A stored credential makes the store Active
// even if it is already inside the margin; the first read will refresh it.
func (s *Store) Load(ctx context.Context) error {
	c, err := s.backend.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		slog.Info("no stored credential", slog.String("component", "credential"))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = c
	s.setState(Active)
	slog.Info("credential loaded", slog.String("component", "credential"), slog.String("login", c.Login), slog.Time("expiry", c.Expiry))
	return nil
}

// State returns the current lifecycle state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Current returns a copy of the published credential, or nil.
func (s *Store) Current() *Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred.clone()
}

// NeedsRefresh reports whether an Active credential is inside the margin.
func (s *Store) NeedsRefresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == Active && s.cred.expiresWithin(s.now(), s.margin)
}

// Token returns a usable access token. Inside the margin it joins (or
// starts) the single in-flight refresh. If that refresh fails transiently
// while the old token has not yet expired, the old token is returned.
func (s *Store) Token(ctx context.Context) (string, error) {
	cur, err := s.published()
	if err != nil {
		return "", err
	}
	if !cur.expiresWithin(s.now(), s.margin) && s.State() != Refreshing {
		return cur.AccessToken, nil
	}
	fresh, err := s.doRefresh(ctx, cur)
	if err == nil {
		return fresh.AccessToken, nil
	}
	if errors.Is(err, ErrExpired) || ctx.Err() != nil {
		return "", err
	}
	if s.now().Before(cur.Expiry) || cur.Expiry.IsZero() {
		slog.Warn("refresh failed, using current token until it expires",
			slog.String("component", "credential"), slog.Any("err", err), slog.Time("expiry", cur.Expiry))
		return cur.AccessToken, nil
	}
	return "", err
}

// ReportAuthFailure is called by a consumer whose platform rejected stale.
// If the published token already differs, it is returned without a refresh;
// otherwise a refresh is forced.
func (s *Store) ReportAuthFailure(ctx context.Context, stale string) (string, error) {
	cur, err := s.published()
	if err != nil {
		return "", err
	}
	if cur.AccessToken != stale {
		return cur.AccessToken, nil
	}
	slog.Info("token rejected by platform, refreshing", slog.String("component", "credential"))
	fresh, err := s.doRefresh(ctx, cur)
	if err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

// Refresh forces a refresh of the published credential.
func (s *Store) Refresh(ctx context.Context) error {
	cur, err := s.published()
	if err != nil {
		return err
	}
	_, err = s.doRefresh(ctx, cur)
	return err
}

// BeginAuthorization moves an Unauthenticated or Expired store into
// AwaitingFirstToken.
func (s *Store) BeginAuthorization() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Unauthenticated, Expired:
		s.setState(AwaitingFirstToken)
		return nil
	case AwaitingFirstToken:
		return nil
	default:
		return fmt.Errorf("%w: begin authorization from %s", ErrInvalidTransition, s.state)
	}
}

// CompleteAuthorization persists c and then publishes it.
func (s *Store) CompleteAuthorization(ctx context.Context, c *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != AwaitingFirstToken {
		return fmt.Errorf("%w: complete authorization from %s", ErrInvalidTransition, s.state)
	}
	if err := s.backend.Save(ctx, c); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	s.cred = c.clone()
	s.setState(Active)
	slog.Info("authorization complete", slog.String("component", "credential"), slog.String("login", c.Login))
	return nil
}

// AbortAuthorization returns an AwaitingFirstToken store to Unauthenticated.
func (s *Store) AbortAuthorization() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == AwaitingFirstToken {
		s.setState(Unauthenticated)
	}
}

func (s *Store) published() (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.state {
	case Expired:
		return nil, ErrExpired
	case Unauthenticated, AwaitingFirstToken:
		return nil, ErrUnauthenticated
	}
	return s.cred, nil
}

// doRefresh runs the shared refresh. seen is the credential the caller based
// its decision on; if another refresh already replaced it the replacement is
// returned as is.
func (s *Store) doRefresh(ctx context.Context, seen *Credential) (*Credential, error) {
	ch := s.group.DoChan("refresh", func() (any, error) {
		return s.runRefresh(context.WithoutCancel(ctx), seen)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Credential), nil
	}
}

func (s *Store) runRefresh(ctx context.Context, seen *Credential) (*Credential, error) {
	ctx, span := telemetry.StartSpan(ctx, "token.refresh")
	defer span.End()

	s.mu.Lock()
	if s.state == Expired {
		s.mu.Unlock()
		return nil, ErrExpired
	}
	cur := s.cred
	if cur == nil {
		s.mu.Unlock()
		return nil, ErrUnauthenticated
	}
	if cur.AccessToken != seen.AccessToken && !cur.expiresWithin(s.now(), s.margin) {
		s.mu.Unlock()
		return cur, nil
	}
	if cur.RefreshToken == "" {
		s.setState(Expired)
		s.mu.Unlock()
		slog.Error("no refresh token stored, re-authentication required", slog.String("component", "credential"))
		return nil, ErrExpired
	}
	s.setState(Refreshing)
	rt := cur.RefreshToken
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	fresh, err := s.retryRefresh(ctx, rt)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		telemetry.RecordError(span, err)
		if errors.Is(err, ErrRefreshRejected) {
			telemetry.RecordTokenRefresh("rejected")
			s.setState(Expired)
			slog.Error("refresh token rejected, re-authentication required", slog.String("component", "credential"), slog.Any("err", err))
			return nil, fmt.Errorf("%w: %w", ErrExpired, err)
		}
		telemetry.RecordTokenRefresh("transient")
		s.setState(Active)
		return nil, fmt.Errorf("refresh credential: %w", err)
	}

	if fresh.RefreshToken == "" {
		fresh.RefreshToken = rt
	}
	if len(fresh.Scopes) == 0 {
		fresh.Scopes = cur.Scopes
	}
	if fresh.Login == "" {
		fresh.Login = cur.Login
	}
	if err := s.backend.Save(ctx, fresh); err != nil {
		telemetry.RecordTokenRefresh("persist_failed")
		telemetry.RecordError(span, err)
		s.setState(Active)
		return nil, fmt.Errorf("persist refreshed credential: %w", err)
	}
	s.cred = fresh
	s.setState(Active)
	telemetry.RecordTokenRefresh("ok")
	telemetry.SetSpanSuccess(span)
	slog.Info("token refreshed", slog.String("component", "credential"), slog.Time("expiry", fresh.Expiry))
	return fresh, nil
}

func (s *Store) retryRefresh(ctx context.Context, rt string) (*Credential, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retry
	b.MaxInterval = 10 * s.retry

	op := func() (*Credential, error) {
		c, err := s.refresh(ctx, rt)
		if err != nil {
			if errors.Is(err, ErrRefreshRejected) {
				return nil, backoff.Permanent(err)
			}
			slog.Warn("token refresh attempt failed", slog.String("component", "credential"), slog.Any("err", err))
			return nil, err
		}
		if c == nil || c.AccessToken == "" {
			return nil, errors.New("refresh returned empty access token")
		}
		return c.clone(), nil
	}
	return backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(uint(s.attempts)))
}

// setState must be called with mu held.
func (s *Store) setState(st State) {
	if s.state == st {
		return
	}
	slog.Debug("credential state", slog.String("component", "credential"), slog.String("from", s.state.String()), slog.String("to", st.String()))
	s.state = st
	telemetry.SetTokenState(int(st))
}
