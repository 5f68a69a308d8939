// Package twitchapi talks to the Twitch identity service: building the user
// authorization URL, exchanging codes, refreshing and validating user tokens.
package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"

	"github.com/stuck-overflow/queuebot/credential"
)

// DefaultScopes are what the chat bot needs.
var DefaultScopes = []string{"chat:read", "chat:edit"}

// Config configures a Client. Endpoint URLs default to Twitch.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string

	AuthURL     string
	TokenURL    string
	ValidateURL string
	HTTPClient  *http.Client
}

// Client wraps the Twitch OAuth endpoints for the authorization code flow.
type Client struct {
	oauth       *oauth2.Config
	validateURL string
	hc          *http.Client
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("missing twitch client id or secret")
	}
	if cfg.RedirectURI == "" {
		return nil, errors.New("missing twitch redirect uri")
	}
	ep := twitch.Endpoint
	if cfg.AuthURL != "" {
		ep.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		ep.TokenURL = cfg.TokenURL
	}
	ep.AuthStyle = oauth2.AuthStyleInParams
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	validate := cfg.ValidateURL
	if validate == "" {
		validate = DefaultValidateURL
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     ep,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
		},
		validateURL: validate,
		hc:          cfg.HTTPClient,
	}, nil
}

// AuthorizeURL returns the URL the broadcaster opens to grant access.
func (c *Client) AuthorizeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for a credential. The login is
// filled from the validate endpoint when it answers.
func (c *Client) Exchange(ctx context.Context, code string) (*credential.Credential, error) {
	if code == "" {
		return nil, errors.New("empty authorization code")
	}
	tok, err := c.oauth.Exchange(c.withClient(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("twitch auth code exchange failed: %w", err)
	}
	cred := toCredential(tok)
	if v, err := c.Validate(ctx, cred.AccessToken); err != nil {
		slog.Warn("token validate failed after exchange", slog.String("component", "twitchapi"), slog.Any("err", err))
	} else {
		cred.Login = v.Login
		if len(cred.Scopes) == 0 {
			cred.Scopes = v.Scopes
		}
	}
	return cred, nil
}

// Refresh implements credential.RefreshFunc. A refresh token refused by
// Twitch yields an error wrapping credential.ErrRefreshRejected.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*credential.Credential, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: empty refresh token", credential.ErrRefreshRejected)
	}
	src := c.oauth.TokenSource(c.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classify(err)
	}
	return toCredential(tok), nil
}

func (c *Client) withClient(ctx context.Context) context.Context {
	if c.hc == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.hc)
}

func classify(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" || (re.Response != nil &&
			(re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized)) {
			return fmt.Errorf("%w: %v", credential.ErrRefreshRejected, err)
		}
	}
	return fmt.Errorf("twitch refresh failed: %w", err)
}

func toCredential(tok *oauth2.Token) *credential.Credential {
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = ComputeExpiry(0)
	}
	return &credential.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       expiry,
		Scopes:       scopesOf(tok),
	}
}

// Twitch returns scope as a JSON array; other providers use a space
// separated string.
func scopesOf(tok *oauth2.Token) []string {
	switch v := tok.Extra("scope").(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	case string:
		return strings.Fields(v)
	}
	return nil
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
