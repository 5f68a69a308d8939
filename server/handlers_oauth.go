package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/stuck-overflow/queuebot/credential"
	"github.com/stuck-overflow/queuebot/oauth"
	"github.com/stuck-overflow/queuebot/telemetry"
)

// HandleTwitchOAuthStart begins an authorization and redirects to Twitch.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.flow == nil {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_CLIENT_SECRET + TWITCH_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	authURL, err := h.flow.Start()
	if err != nil {
		if errors.Is(err, credential.ErrInvalidTransition) {
			http.Error(w, "already authorized", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchOAuthCallback hands the authorization code to the pending flow.
// The exchange itself happens in the flow's Await.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "http_oauth"))
	if h.flow == nil {
		http.Error(w, "oauth not configured", http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		log.Warn("authorization denied", slog.String("error", e), slog.String("description", q.Get("error_description")))
		http.Error(w, "authorization denied: "+e, http.StatusBadRequest)
		return
	}
	code := q.Get("code")
	st := q.Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}

	switch err := h.flow.SubmitCallback(st, code); {
	case err == nil:
	case errors.Is(err, oauth.ErrStateMismatch):
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	case errors.Is(err, oauth.ErrNotStarted), errors.Is(err, oauth.ErrCodeSubmitted):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Info("authorization code received")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
