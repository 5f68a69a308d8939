// Package credential holds the bot's OAuth credential and drives its
// lifecycle: loading from a backend, single-flight refresh near expiry,
// reactive refresh on authentication failures, and the first-time
// authorization handoff. Persistence always happens before a new credential
// becomes visible to readers.
package credential

import (
	"context"
	"errors"
	"slices"
	"time"
)

var (
	// ErrNotFound is returned by a Backend with no stored credential.
	ErrNotFound = errors.New("credential not found")
	// ErrUnauthenticated means no credential exists yet; the authorization
	// flow has to run first.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrExpired is terminal: the refresh token was rejected and only a
	// manual re-authorization can recover.
	ErrExpired = errors.New("credential expired, re-authentication required")
	// ErrRefreshRejected is returned by a RefreshFunc when the provider
	// refused the refresh token itself. It is never retried.
	ErrRefreshRejected = errors.New("refresh token rejected")
	// ErrInvalidTransition reports an authorization step taken out of order.
	ErrInvalidTransition = errors.New("invalid credential state transition")
)

// Credential is a user OAuth token set.
type Credential struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scopes       []string
	Login        string
}

func (c *Credential) clone() *Credential {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Scopes = slices.Clone(c.Scopes)
	return &cp
}

// expiresWithin reports whether the token expires before now+margin. A zero
// expiry is treated as unknown and never triggers a proactive refresh.
func (c *Credential) expiresWithin(now time.Time, margin time.Duration) bool {
	if c.Expiry.IsZero() {
		return false
	}
	return !now.Add(margin).Before(c.Expiry)
}

// Backend persists a single credential.
type Backend interface {
	Load(ctx context.Context) (*Credential, error)
	Save(ctx context.Context, c *Credential) error
}

// RefreshFunc trades a refresh token for a new credential. Implementations
// return an error wrapping ErrRefreshRejected when the provider refuses the
// refresh token; any other error is treated as transient.
type RefreshFunc func(ctx context.Context, refreshToken string) (*Credential, error)

// State is the lifecycle position of the Store.
type State int

const (
	Unauthenticated State = iota
	AwaitingFirstToken
	Active
	Refreshing
	Expired
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case AwaitingFirstToken:
		return "awaiting_first_token"
	case Active:
		return "active"
	case Refreshing:
		return "refreshing"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}
