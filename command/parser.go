// Package command maps raw chat text to queue commands. Parsing is pure and
// stateless: unknown keywords are ignored, known keywords with bad arguments
// become a Help command carrying the usage line.
package command

import (
	"sort"
	"strconv"
	"strings"

	"github.com/stuck-overflow/queuebot/queue"
)

// DefaultPrefix is used when none is configured.
const DefaultPrefix = "!"

type spec struct {
	kind  queue.Kind
	usage string
}

var keywords = map[string]spec{
	"join":     {queue.KindJoin, "join [user]"},
	"leave":    {queue.KindLeave, "leave [user]"},
	"position": {queue.KindPosition, "position [user]"},
	"pos":      {queue.KindPosition, "position [user]"},
	"top":      {queue.KindListTop, "top [n]"},
	"q":        {queue.KindListTop, "top [n]"},
	"pop":      {queue.KindPop, "pop"},
	"next":     {queue.KindPop, "pop"},
	"clear":    {queue.KindClear, "clear"},
	"help":     {queue.KindHelp, "help"},
	"guess":    {queue.KindGuess, "guess <word>"},
	"newgame":  {queue.KindNewGame, "newgame"},
}

// Parser recognizes prefixed commands.
type Parser struct {
	Prefix     string
	TopDefault int
	// Custom maps extra keywords to fixed reply text.
	Custom map[string]string
}

// New returns a Parser with defaults applied.
func New(prefix string, topDefault int, custom map[string]string) *Parser {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if topDefault <= 0 {
		topDefault = 5
	}
	lc := make(map[string]string, len(custom))
	for k, v := range custom {
		lc[strings.ToLower(k)] = v
	}
	return &Parser{Prefix: prefix, TopDefault: topDefault, Custom: lc}
}

// Parse returns the command in text, or false when text is not a command.
func (p *Parser) Parse(text string, issuer queue.Identity, src queue.Source) (queue.Command, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], p.Prefix) {
		return queue.Command{}, false
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], p.Prefix))
	args := fields[1:]

	cmd := queue.Command{Issuer: issuer, User: issuer, Source: src}

	sp, ok := keywords[name]
	if !ok {
		reply, custom := p.Custom[name]
		if !custom {
			return queue.Command{}, false
		}
		cmd.Kind = queue.KindCustom
		cmd.Arg = reply
		return cmd, true
	}
	cmd.Kind = sp.kind

	switch sp.kind {
	case queue.KindJoin, queue.KindLeave, queue.KindPosition:
		if len(args) > 1 {
			return p.help(cmd, sp), true
		}
		if len(args) == 1 {
			cmd.User = queue.Identity{Platform: issuer.Platform, Handle: strings.TrimPrefix(args[0], "@")}
		}
	case queue.KindListTop:
		cmd.N = p.TopDefault
		if len(args) > 1 {
			return p.help(cmd, sp), true
		}
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return p.help(cmd, sp), true
			}
			cmd.N = n
		}
	case queue.KindGuess:
		if len(args) != 1 {
			return p.help(cmd, sp), true
		}
		cmd.Arg = strings.ToLower(args[0])
	case queue.KindPop, queue.KindClear, queue.KindNewGame:
		if len(args) > 0 {
			return p.help(cmd, sp), true
		}
	case queue.KindHelp:
		cmd.Arg = p.Usage()
	}
	return cmd, true
}

// Usage lists every command with the configured prefix.
func (p *Parser) Usage() string {
	seen := map[string]bool{}
	var lines []string
	for _, sp := range keywords {
		if !seen[sp.usage] {
			seen[sp.usage] = true
			lines = append(lines, p.Prefix+sp.usage)
		}
	}
	for name := range p.Custom {
		lines = append(lines, p.Prefix+name)
	}
	sort.Strings(lines)
	return "commands: " + strings.Join(lines, ", ")
}

func (p *Parser) help(cmd queue.Command, sp spec) queue.Command {
	cmd.Kind = queue.KindHelp
	cmd.User = cmd.Issuer
	cmd.N = 0
	cmd.Arg = "usage: " + p.Prefix + sp.usage
	return cmd
}
