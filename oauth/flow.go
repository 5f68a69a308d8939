package oauth

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/stuck-overflow/queuebot/credential"
)

var (
	// ErrExchangeFailed is fatal for the run: the code could not be traded
	// for a token and the store is back to Unauthenticated.
	ErrExchangeFailed = errors.New("authorization code exchange failed")
	ErrNotStarted     = errors.New("authorization flow not started")
	ErrStateMismatch  = errors.New("oauth state mismatch")
	ErrCodeSubmitted  = errors.New("authorization code already submitted")
)

const stateTTL = 10 * time.Minute

// Provider builds authorize URLs and exchanges codes.
type Provider interface {
	AuthorizeURL(state string) string
	Exchange(ctx context.Context, code string) (*credential.Credential, error)
}

// Authorizer is the part of credential.Store the flow drives.
type Authorizer interface {
	BeginAuthorization() error
	CompleteAuthorization(ctx context.Context, c *credential.Credential) error
	AbortAuthorization()
}

// Flow coordinates a single authorization code grant. The code arrives
// either through the HTTP callback (SubmitCallback, state checked) or by
// manual paste (SubmitCode).
type Flow struct {
	store    Authorizer
	provider Provider
	now      func() time.Time

	mu        sync.Mutex
	state     string
	expiresAt time.Time
	codes     chan string
}

// NewFlow returns an idle flow.
func NewFlow(store Authorizer, provider Provider) *Flow {
	return &Flow{store: store, provider: provider, now: time.Now}
}

// Start moves the store to AwaitingFirstToken and returns the URL the user
// must open.
func (f *Flow) Start() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	if err := f.store.BeginAuthorization(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	// A second Start while a flow is pending keeps the waiter's channel.
	if f.codes == nil {
		f.codes = make(chan string, 1)
	}
	if f.state == "" || f.now().After(f.expiresAt) {
		f.state = hex.EncodeToString(b)
		f.expiresAt = f.now().Add(stateTTL)
	}
	return f.provider.AuthorizeURL(f.state), nil
}

// Pending reports whether a flow is waiting for a code.
func (f *Flow) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codes != nil
}

// SubmitCallback delivers a code from the redirect listener.
func (f *Flow) SubmitCallback(state, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.codes == nil {
		return ErrNotStarted
	}
	if subtle.ConstantTimeCompare([]byte(state), []byte(f.state)) != 1 || f.now().After(f.expiresAt) {
		return ErrStateMismatch
	}
	return f.deliver(code)
}

// SubmitCode delivers a code pasted by the operator.
func (f *Flow) SubmitCode(code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.codes == nil {
		return ErrNotStarted
	}
	return f.deliver(code)
}

func (f *Flow) deliver(code string) error {
	if code == "" {
		return errors.New("empty authorization code")
	}
	select {
	case f.codes <- code:
		return nil
	default:
		return ErrCodeSubmitted
	}
}

// Await blocks for a code, exchanges it and hands the credential to the
// store. Any failure returns the store to Unauthenticated.
func (f *Flow) Await(ctx context.Context) error {
	f.mu.Lock()
	codes := f.codes
	f.mu.Unlock()
	if codes == nil {
		return ErrNotStarted
	}
	defer f.reset()

	var code string
	select {
	case <-ctx.Done():
		f.store.AbortAuthorization()
		return ctx.Err()
	case code = <-codes:
	}

	cred, err := f.provider.Exchange(ctx, code)
	if err != nil {
		f.store.AbortAuthorization()
		return fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}
	if err := f.store.CompleteAuthorization(ctx, cred); err != nil {
		f.store.AbortAuthorization()
		return err
	}
	slog.Info("twitch authorization complete", slog.String("component", "oauth_flow"), slog.String("login", cred.Login))
	return nil
}

// Run starts the flow, passes the URL to show, and waits for completion.
func (f *Flow) Run(ctx context.Context, show func(url string)) error {
	u, err := f.Start()
	if err != nil {
		return err
	}
	show(u)
	return f.Await(ctx)
}

// RunInteractive is Run that also accepts codes pasted line by line on in.
// A line may be the bare code or the full redirect URL; a URL carrying a
// state parameter goes through the same state check as the HTTP callback.
func (f *Flow) RunInteractive(ctx context.Context, in io.Reader, show func(url string)) error {
	u, err := f.Start()
	if err != nil {
		return err
	}
	show(u)
	go f.readCodes(in)
	return f.Await(ctx)
}

func (f *Flow) readCodes(in io.Reader) {
	log := slog.With(slog.String("component", "oauth_flow"))
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var err error
		if state, code, ok := parseRedirect(line); ok {
			err = f.SubmitCallback(state, code)
		} else {
			err = f.SubmitCode(line)
		}
		switch {
		case err == nil, errors.Is(err, ErrCodeSubmitted):
		case errors.Is(err, ErrNotStarted):
			return
		default:
			log.Warn("authorization code not accepted", slog.Any("err", err))
		}
	}
}

// parseRedirect extracts state and code from a pasted redirect URL.
func parseRedirect(line string) (state, code string, ok bool) {
	if !strings.Contains(line, "://") {
		return "", "", false
	}
	u, err := url.Parse(line)
	if err != nil {
		return "", "", false
	}
	q := u.Query()
	if q.Get("code") == "" || q.Get("state") == "" {
		return "", "", false
	}
	return q.Get("state"), q.Get("code"), true
}

func (f *Flow) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = ""
	f.codes = nil
}
