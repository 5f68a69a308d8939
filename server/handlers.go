package server

import (
	"database/sql"

	"github.com/stuck-overflow/queuebot/credential"
	"github.com/stuck-overflow/queuebot/queue"
)

// AuthFlow is the part of oauth.Flow the callback listener drives.
type AuthFlow interface {
	Start() (string, error)
	SubmitCallback(state, code string) error
}

// TokenState reports the credential lifecycle state.
type TokenState interface {
	State() credential.State
}

// QueueView exposes a read-only copy of the queue.
type QueueView interface {
	Snapshot() []queue.Participant
}

// Deps are the collaborators behind the HTTP routes. Flow and DB may be nil.
type Deps struct {
	Flow       AuthFlow
	Tokens     TokenState
	Queue      QueueView
	Transports func() []string
	DB         *sql.DB
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	flow       AuthFlow
	tokens     TokenState
	queue      QueueView
	transports func() []string
	db         *sql.DB
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		flow:       d.Flow,
		tokens:     d.Tokens,
		queue:      d.Queue,
		transports: d.Transports,
		db:         d.DB,
	}
}
