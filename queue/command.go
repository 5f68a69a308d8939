package queue

// Kind tags a Command.
type Kind int

const (
	KindJoin Kind = iota
	KindLeave
	KindPosition
	KindListTop
	KindPop
	KindClear
	KindHelp
	KindGuess
	KindNewGame
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindJoin:
		return "join"
	case KindLeave:
		return "leave"
	case KindPosition:
		return "position"
	case KindListTop:
		return "top"
	case KindPop:
		return "pop"
	case KindClear:
		return "clear"
	case KindHelp:
		return "help"
	case KindGuess:
		return "guess"
	case KindNewGame:
		return "newgame"
	case KindCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Source addresses the reply for a command.
type Source struct {
	Transport string
	Channel   string
	MessageID string
}

// Command is a parsed chat command.
type Command struct {
	Kind   Kind
	Issuer Identity
	// User is the subject of Join, Leave and Position. It equals Issuer when
	// no argument was given.
	User Identity
	// N is the ListTop count.
	N int
	// Arg carries the guess word, custom command name or help text.
	Arg string
	// Elevated marks an issuer the platform itself reports as a moderator
	// or the broadcaster.
	Elevated bool
	Source   Source
}

// Apply executes a queue command. Kinds the queue does not own (game and
// custom text commands) produce a Help result carrying Arg as the reply.
func (e *Engine) Apply(cmd Command) Result {
	priv := cmd.Elevated || e.IsPrivileged(cmd.Issuer)
	switch cmd.Kind {
	case KindJoin:
		return e.join(cmd.Issuer, cmd.User, priv)
	case KindLeave:
		return e.leave(cmd.Issuer, cmd.User, priv)
	case KindPosition:
		return e.Position(cmd.User)
	case KindListTop:
		return e.ListTop(cmd.N)
	case KindPop:
		return e.pop(cmd.Issuer, priv)
	case KindClear:
		return e.clear(cmd.Issuer, priv)
	default:
		return Result{Outcome: HelpShown, Reply: cmd.Arg}
	}
}
