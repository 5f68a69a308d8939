// Package queue implements the single shared join/leave queue. All commands are
// serialized through one mutex so concurrent transports never observe a
// partial update. Positions are always derived from the slice index at query
// time and never stored.
package queue

import (
	"fmt"
	"strings"
	"sync"
)

// Identity is a platform-qualified user handle.
type Identity struct {
	Platform string
	Handle   string
}

// Key returns the case-insensitive identity key, e.g. "twitch:alice".
func (id Identity) Key() string {
	return strings.ToLower(id.Platform) + ":" + strings.ToLower(id.Handle)
}

func (id Identity) String() string { return id.Handle }

// Participant is a queued user. Seq is assigned on join and never reused.
type Participant struct {
	Identity Identity
	Seq      uint64
}

// Options configures an Engine.
type Options struct {
	// Moderators holds Identity.Key() values allowed to run privileged commands.
	Moderators []string
	// TopMax clamps ListTop; zero means no clamp.
	TopMax int
	// Observer, if set, is called after every mutation while the lock is held.
	Observer func(Event)
}

// EventKind names a queue mutation.
type EventKind string

const (
	EventJoined  EventKind = "joined"
	EventLeft    EventKind = "left"
	EventPopped  EventKind = "popped"
	EventCleared EventKind = "cleared"
)

// Event is emitted after each state change.
type Event struct {
	Kind        EventKind
	Participant Participant
	Depth       int
}

// Engine owns the ordered queue.
type Engine struct {
	mu      sync.Mutex
	entries []Participant
	present map[string]struct{}
	nextSeq uint64
	lastSeq uint64

	moderators map[string]struct{}
	topMax     int
	observer   func(Event)
}

// NewEngine returns an empty queue.
func NewEngine(opts Options) *Engine {
	mods := make(map[string]struct{}, len(opts.Moderators))
	for _, m := range opts.Moderators {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			mods[m] = struct{}{}
		}
	}
	return &Engine{
		present:    make(map[string]struct{}),
		nextSeq:    1,
		moderators: mods,
		topMax:     opts.TopMax,
		observer:   opts.Observer,
	}
}

// IsPrivileged reports whether id may run privileged commands.
func (e *Engine) IsPrivileged(id Identity) bool {
	_, ok := e.moderators[id.Key()]
	return ok
}

// Len returns the current queue length.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// Snapshot returns a copy of the queue in order.
func (e *Engine) Snapshot() []Participant {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Participant, len(e.entries))
	copy(out, e.entries)
	return out
}

// Join appends user unless already queued.
func (e *Engine) Join(issuer, user Identity) Result {
	return e.join(issuer, user, e.IsPrivileged(issuer))
}

func (e *Engine) join(issuer, user Identity, priv bool) Result {
	if !canActFor(issuer, user, priv) {
		return unauthorized(issuer, "join")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.present[user.Key()]; ok {
		pos := e.indexOf(user) + 1
		return Result{
			Outcome:  AlreadyQueued,
			Position: pos,
			Reply:    fmt.Sprintf("%s is already in the queue at position %d", user, pos),
		}
	}
	p := Participant{Identity: user, Seq: e.nextSeq}
	e.nextSeq++
	e.entries = append(e.entries, p)
	e.present[user.Key()] = struct{}{}
	e.checkInvariants()
	e.emit(EventJoined, p)

	pos := len(e.entries)
	return Result{
		Outcome:      Joined,
		Position:     pos,
		Participant:  &p,
		Announcement: fmt.Sprintf("%s joined queue, position %d", user, pos),
	}
}

// Leave removes user if present.
func (e *Engine) Leave(issuer, user Identity) Result {
	return e.leave(issuer, user, e.IsPrivileged(issuer))
}

func (e *Engine) leave(issuer, user Identity, priv bool) Result {
	if !canActFor(issuer, user, priv) {
		return unauthorized(issuer, "leave")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.indexOf(user)
	if i < 0 {
		return Result{Outcome: NotQueued, Reply: fmt.Sprintf("%s is not in the queue", user)}
	}
	p := e.removeAt(i)
	e.checkInvariants()
	e.emit(EventLeft, p)
	return Result{
		Outcome:      Left,
		Participant:  &p,
		Announcement: fmt.Sprintf("%s left the queue", p.Identity),
	}
}

// Position reports the 1-based position of user.
func (e *Engine) Position(user Identity) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.indexOf(user)
	if i < 0 {
		return Result{Outcome: NotQueued, Reply: fmt.Sprintf("%s is not in the queue", user)}
	}
	return Result{
		Outcome:  InQueue,
		Position: i + 1,
		Reply:    fmt.Sprintf("%s is at position %d of %d", user, i+1, len(e.entries)),
	}
}

// ListTop returns the first min(n, len) participants. n <= 0 lists nobody
// and only reports the queue length.
func (e *Engine) ListTop(n int) Result {
	if e.topMax > 0 && n > e.topMax {
		n = e.topMax
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.entries) == 0 {
		return Result{Outcome: Listed, Reply: "queue is empty"}
	}
	if n <= 0 {
		return Result{Outcome: Listed, Reply: fmt.Sprintf("queue (%d)", len(e.entries))}
	}
	if n > len(e.entries) {
		n = len(e.entries)
	}
	top := make([]Participant, n)
	copy(top, e.entries[:n])
	names := make([]string, n)
	for i, p := range top {
		names[i] = fmt.Sprintf("%d. %s", i+1, p.Identity)
	}
	return Result{
		Outcome:      Listed,
		Participants: top,
		Reply:        fmt.Sprintf("queue (%d): %s", len(e.entries), strings.Join(names, ", ")),
	}
}

// Pop removes and returns the head. Privileged.
func (e *Engine) Pop(issuer Identity) Result {
	return e.pop(issuer, e.IsPrivileged(issuer))
}

func (e *Engine) pop(issuer Identity, priv bool) Result {
	if !priv {
		return unauthorized(issuer, "pop")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.entries) == 0 {
		return Result{Outcome: Empty, Reply: "queue is empty"}
	}
	p := e.removeAt(0)
	e.checkInvariants()
	e.emit(EventPopped, p)
	return Result{
		Outcome:      Popped,
		Participant:  &p,
		Announcement: fmt.Sprintf("next up: %s", p.Identity),
	}
}

// Clear empties the queue. Privileged.
func (e *Engine) Clear(issuer Identity) Result {
	return e.clear(issuer, e.IsPrivileged(issuer))
}

func (e *Engine) clear(issuer Identity, priv bool) Result {
	if !priv {
		return unauthorized(issuer, "clear")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.entries = nil
	e.present = make(map[string]struct{})
	e.checkInvariants()
	e.emit(EventCleared, Participant{})
	return Result{
		Outcome:      Cleared,
		Announcement: fmt.Sprintf("queue cleared by %s", issuer),
	}
}

// canActFor allows users to act for themselves and moderators to act for anyone.
func canActFor(issuer, user Identity, priv bool) bool {
	return issuer.Key() == user.Key() || priv
}

func (e *Engine) indexOf(user Identity) int {
	key := user.Key()
	if _, ok := e.present[key]; !ok {
		return -1
	}
	for i, p := range e.entries {
		if p.Identity.Key() == key {
			return i
		}
	}
	panic(&InvariantViolation{Detail: "identity " + key + " marked present but not in queue"})
}

func (e *Engine) removeAt(i int) Participant {
	p := e.entries[i]
	e.entries = append(e.entries[:i:i], e.entries[i+1:]...)
	delete(e.present, p.Identity.Key())
	return p
}

// checkInvariants must be called with mu held.
func (e *Engine) checkInvariants() {
	if len(e.present) != len(e.entries) {
		panic(&InvariantViolation{Detail: fmt.Sprintf("presence set has %d entries, queue has %d", len(e.present), len(e.entries))})
	}
	var prev uint64
	for _, p := range e.entries {
		if p.Seq <= prev {
			panic(&InvariantViolation{Detail: fmt.Sprintf("sequence %d follows %d", p.Seq, prev)})
		}
		prev = p.Seq
	}
	if prev > e.lastSeq {
		e.lastSeq = prev
	}
	if e.lastSeq >= e.nextSeq {
		panic(&InvariantViolation{Detail: fmt.Sprintf("sequence %d issued but next is %d", e.lastSeq, e.nextSeq)})
	}
}

func (e *Engine) emit(kind EventKind, p Participant) {
	if e.observer != nil {
		e.observer(Event{Kind: kind, Participant: p, Depth: len(e.entries)})
	}
}

func unauthorized(issuer Identity, op string) Result {
	return Result{
		Outcome: Unauthorized,
		Reply:   fmt.Sprintf("%s: you are not allowed to %s", issuer, op),
	}
}
