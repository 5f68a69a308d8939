// Package oauth runs the credential lifecycle around credential.Store: the
// background refresher that renews tokens before they expire, and the
// authorization code flow that obtains the first token.
package oauth

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/stuck-overflow/queuebot/credential"
)

// Refreshable is the part of credential.Store the refresher drives.
type Refreshable interface {
	State() credential.State
	NeedsRefresh() bool
	Refresh(ctx context.Context) error
}

// StartRefresher launches a goroutine that wakes roughly every interval and
// refreshes the credential once it is inside the store's safety margin.
// It exits when ctx is done or the credential becomes Expired; in the latter
// case onExpired is called once. The returned channel closes on exit.
func StartRefresher(ctx context.Context, store Refreshable, interval time.Duration, onExpired func()) <-chan struct{} {
	if interval <= 0 {
		interval = time.Minute
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		expired := func() {
			slog.Error("credential expired, stopping refresher", slog.String("component", "oauth_refresher"))
			if onExpired != nil {
				onExpired()
			}
		}
		// Randomize initial delay so restarts don't line up with expiry.
		//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
		initial := time.Duration(rand.Int63n(int64(interval/2) + 1))
		select {
		case <-ctx.Done():
			return
		case <-time.After(initial):
		}
		for {
			switch {
			case store.State() == credential.Expired:
				expired()
				return
			case store.NeedsRefresh():
				rctx, cancel := context.WithTimeout(ctx, 45*time.Second)
				err := store.Refresh(rctx)
				cancel()
				if errors.Is(err, credential.ErrExpired) {
					expired()
					return
				}
				if err != nil {
					slog.Warn("scheduled token refresh failed", slog.String("component", "oauth_refresher"), slog.Any("err", err))
				}
			}

			// ±20% jitter per iteration.
			next := interval
			if jr := int64(interval / 5); jr > 0 {
				//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
				next += time.Duration(rand.Int63n(jr*2) - jr)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(next):
			}
		}
	}()
	return done
}
