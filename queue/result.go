package queue

import "fmt"

// Outcome classifies the result of applying a command. None of them are
// errors: repeated joins and leaves are observable no-ops.
type Outcome int

const (
	Joined Outcome = iota
	AlreadyQueued
	Left
	NotQueued
	InQueue
	Listed
	Popped
	Empty
	Cleared
	Unauthorized
	HelpShown
)

func (o Outcome) String() string {
	switch o {
	case Joined:
		return "joined"
	case AlreadyQueued:
		return "already_queued"
	case Left:
		return "left"
	case NotQueued:
		return "not_queued"
	case InQueue:
		return "in_queue"
	case Listed:
		return "listed"
	case Popped:
		return "popped"
	case Empty:
		return "empty"
	case Cleared:
		return "cleared"
	case Unauthorized:
		return "unauthorized"
	case HelpShown:
		return "help"
	default:
		return "unknown"
	}
}

// Result is what Apply produces. Announcement goes to every transport,
// Reply only to the issuing channel. Either may be empty.
type Result struct {
	Outcome      Outcome
	Position     int
	Participant  *Participant
	Participants []Participant
	Announcement string
	Reply        string
}

// InvariantViolation signals a programmer error in the queue. It is raised
// with panic and never recovered by the engine.
type InvariantViolation struct {
	Detail string
}

func (v *InvariantViolation) Error() string {
	return fmt.Sprintf("queue invariant violated: %s", v.Detail)
}
