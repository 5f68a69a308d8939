package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

// MockTwitchServer mocks the Twitch identity endpoints used by the bot:
// /oauth2/token (authorization_code and refresh_token grants) and
// /oauth2/validate.
type MockTwitchServer struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc

	exchanges atomic.Int32
	refreshes atomic.Int32
}

// NewMockTwitchServer starts the mock and closes it with the test.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if key == "/oauth2/token" {
			if err := r.ParseForm(); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			key += "#" + r.PostForm.Get("grant_type")
			switch r.PostForm.Get("grant_type") {
			case "authorization_code":
				m.exchanges.Add(1)
			case "refresh_token":
				m.refreshes.Add(1)
			}
		}
		m.mu.Lock()
		handler, ok := m.handlers[key]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *MockTwitchServer) AuthURL() string     { return m.URL + "/oauth2/authorize" }
func (m *MockTwitchServer) TokenURL() string    { return m.URL + "/oauth2/token" }
func (m *MockTwitchServer) ValidateURL() string { return m.URL + "/oauth2/validate" }

// Exchanges is the number of authorization_code grants received.
func (m *MockTwitchServer) Exchanges() int { return int(m.exchanges.Load()) }

// Refreshes is the number of refresh_token grants received.
func (m *MockTwitchServer) Refreshes() int { return int(m.refreshes.Load()) }

// Handle registers a handler. Token grants are keyed as
// "/oauth2/token#<grant_type>".
func (m *MockTwitchServer) Handle(key string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[key] = h
}

// MockCodeExchange answers the authorization_code grant for code.
func (m *MockTwitchServer) MockCodeExchange(code, accessToken, refreshToken string, expiresIn int) {
	m.Handle("/oauth2/token#authorization_code", func(w http.ResponseWriter, r *http.Request) {
		if r.PostForm.Get("code") != code {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": 400, "message": "Invalid authorization code"})
			return
		}
		writeJSON(w, http.StatusOK, tokenBody(accessToken, refreshToken, expiresIn))
	})
}

// MockRefresh answers every refresh_token grant with a new token.
func (m *MockTwitchServer) MockRefresh(accessToken, refreshToken string, expiresIn int) {
	m.Handle("/oauth2/token#refresh_token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, tokenBody(accessToken, refreshToken, expiresIn))
	})
}

// MockRefreshStatus answers refresh grants with an error status, the way
// Twitch reports an invalid refresh token (400) or an outage (5xx).
func (m *MockTwitchServer) MockRefreshStatus(status int) {
	m.Handle("/oauth2/token#refresh_token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status, map[string]any{"error": http.StatusText(status), "status": status, "message": "Invalid refresh token"})
	})
}

// MockValidate answers /oauth2/validate for any token.
func (m *MockTwitchServer) MockValidate(login string, scopes []string) {
	m.Handle("/oauth2/validate", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"status": 401, "message": "missing authorization token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"client_id":  "test-client",
			"login":      login,
			"user_id":    "1234",
			"scopes":     scopes,
			"expires_in": 3600,
		})
	})
}

func tokenBody(access, refresh string, expiresIn int) map[string]any {
	return map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"expires_in":    expiresIn,
		"scope":         []string{"chat:read", "chat:edit"},
		"token_type":    "bearer",
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}
