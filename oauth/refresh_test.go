package oauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stuck-overflow/queuebot/credential"
)

type fakeStore struct {
	mu        sync.Mutex
	state     credential.State
	needs     bool
	refreshes int
	err       error
}

func (f *fakeStore) State() credential.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeStore) NeedsRefresh() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.needs
}

func (f *fakeStore) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.err != nil {
		if errors.Is(f.err, credential.ErrExpired) {
			f.state = credential.Expired
		}
		return f.err
	}
	f.needs = false
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func TestRefresherSkipsFreshToken(t *testing.T) {
	s := &fakeStore{state: credential.Active}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := StartRefresher(ctx, s, 10*time.Millisecond, nil)
	<-done
	if s.count() != 0 {
		t.Errorf("refreshes = %d, want 0 for token outside margin", s.count())
	}
}

func TestRefresherRefreshesInsideMargin(t *testing.T) {
	s := &fakeStore{state: credential.Active, needs: true}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := StartRefresher(ctx, s, 10*time.Millisecond, nil)
	<-done
	if s.count() != 1 {
		t.Errorf("refreshes = %d, want exactly 1", s.count())
	}
}

func TestRefresherKeepsGoingAfterTransientError(t *testing.T) {
	s := &fakeStore{state: credential.Active, needs: true, err: errors.New("503")}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := StartRefresher(ctx, s, 10*time.Millisecond, func() { t.Error("onExpired called for transient error") })
	<-done
	if s.count() < 2 {
		t.Errorf("refreshes = %d, want retries on later ticks", s.count())
	}
}

func TestRefresherStopsOnExpired(t *testing.T) {
	s := &fakeStore{state: credential.Active, needs: true, err: credential.ErrExpired}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	expired := make(chan struct{})
	done := StartRefresher(ctx, s, 10*time.Millisecond, func() { close(expired) })

	select {
	case <-expired:
	case <-ctx.Done():
		t.Fatal("onExpired not called")
	}
	<-done
	if s.count() != 1 {
		t.Errorf("refreshes = %d, want 1; no attempts after expiry", s.count())
	}
}

func TestRefresherExitsWhenAlreadyExpired(t *testing.T) {
	s := &fakeStore{state: credential.Expired}
	called := false
	done := StartRefresher(context.Background(), s, 10*time.Millisecond, func() { called = true })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresher did not exit")
	}
	if !called || s.count() != 0 {
		t.Errorf("called = %v, refreshes = %d", called, s.count())
	}
}
