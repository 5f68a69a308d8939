// Package dispatch routes chat messages from every connected transport into
// the queue engine and fans the results back out.
//
// Each attached session gets one receive goroutine, so commands from a single
// channel are applied in the order they arrived. Announcements go to every
// attached session concurrently; a slow or failing transport never delays
// the others beyond the per-send timeout.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/stuck-overflow/queuebot/chat"
	"github.com/stuck-overflow/queuebot/command"
	"github.com/stuck-overflow/queuebot/queue"
	"github.com/stuck-overflow/queuebot/telemetry"
	"github.com/stuck-overflow/queuebot/wordgame"
)

const (
	DefaultSendTimeout = 5 * time.Second
	DefaultDedupeSize  = 1024
)

// Options configures a Dispatcher. Game may be nil to disable the word game.
type Options struct {
	Engine      *queue.Engine
	Parser      *command.Parser
	Game        *wordgame.Game
	SendTimeout time.Duration
	DedupeSize  int
}

// Dispatcher owns the set of live sessions.
type Dispatcher struct {
	engine      *queue.Engine
	parser      *command.Parser
	game        *wordgame.Game
	sendTimeout time.Duration
	seen        *lru.Cache[string, struct{}]

	mu       sync.RWMutex
	sessions map[string]chat.Session
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// New returns a Dispatcher with no sessions attached.
func New(opts Options) (*Dispatcher, error) {
	if opts.Engine == nil || opts.Parser == nil {
		return nil, fmt.Errorf("dispatch: engine and parser are required")
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.DedupeSize <= 0 {
		opts.DedupeSize = DefaultDedupeSize
	}
	seen, err := lru.New[string, struct{}](opts.DedupeSize)
	if err != nil {
		return nil, fmt.Errorf("dispatch: dedupe cache: %w", err)
	}
	return &Dispatcher{
		engine:      opts.Engine,
		parser:      opts.Parser,
		game:        opts.Game,
		sendTimeout: opts.SendTimeout,
		seen:        seen,
		sessions:    make(map[string]chat.Session),
		logger:      slog.Default().With(slog.String("component", "dispatch")),
	}, nil
}

// Attach registers s under name, replacing any previous session with that
// name, and starts consuming its messages until s ends or ctx is cancelled.
func (d *Dispatcher) Attach(ctx context.Context, name string, s chat.Session) {
	d.mu.Lock()
	d.sessions[name] = s
	d.mu.Unlock()
	d.logger.Info("transport attached", slog.String("transport", name))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case m := <-s.Receive():
				d.Handle(ctx, name, s, m)
			case <-s.Done():
				d.Detach(name, s)
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Detach removes s if it is still the session registered under name.
func (d *Dispatcher) Detach(name string, s chat.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.sessions[name]; ok && cur == s {
		delete(d.sessions, name)
		d.logger.Info("transport detached", slog.String("transport", name))
	}
}

// Transports lists the attached transport names.
func (d *Dispatcher) Transports() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.sessions))
	for n := range d.sessions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Wait blocks until every receive goroutine has returned.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Handle processes one inbound message from session from. It reports whether
// the message was a command.
func (d *Dispatcher) Handle(ctx context.Context, name string, from chat.Session, m chat.Message) bool {
	if m.ID != "" {
		if dup, _ := d.seen.ContainsOrAdd(m.Platform+":"+m.ID, struct{}{}); dup {
			telemetry.RecordDuplicate()
			d.logger.Debug("duplicate message dropped", slog.String("transport", name), slog.String("message_id", m.ID))
			return false
		}
	}

	issuer := queue.Identity{Platform: m.Platform, Handle: m.User}
	cmd, ok := d.parser.Parse(m.Text, issuer, queue.Source{Transport: name, Channel: m.Channel, MessageID: m.ID})
	if !ok {
		return false
	}
	cmd.Elevated = m.Elevated()

	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, "dispatch.handle", telemetry.CommandAttr(cmd.Kind.String()), telemetry.TransportAttr(name))
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "dispatch"))

	reply, announcement, outcome := d.execute(cmd)
	telemetry.RecordCommand(cmd.Kind.String(), outcome)
	span.SetAttributes(telemetry.OutcomeAttr(outcome))
	log.Debug("command applied",
		slog.String("transport", name),
		slog.String("user", issuer.Key()),
		slog.String("command", cmd.Kind.String()),
		slog.String("outcome", outcome))

	if reply != "" {
		if err := d.reply(ctx, name, from, m, reply); err != nil {
			telemetry.RecordError(span, err)
			log.Warn("reply failed", slog.String("transport", name), slog.Any("err", err))
		}
	}
	if announcement != "" {
		d.Broadcast(ctx, announcement)
	}
	telemetry.SetSpanSuccess(span)
	return true
}

// execute runs cmd against the engine or the word game.
func (d *Dispatcher) execute(cmd queue.Command) (reply, announcement, outcome string) {
	switch cmd.Kind {
	case queue.KindGuess:
		if d.game == nil {
			return "the word game is disabled", "", "disabled"
		}
		out := d.game.Guess(cmd.Arg)
		msg := out.Message(cmd.Issuer.Handle, cmd.Arg)
		if out.Broadcast() {
			return "", msg, out.Verdict.String()
		}
		return msg, "", out.Verdict.String()
	case queue.KindNewGame:
		if d.game == nil {
			return "the word game is disabled", "", "disabled"
		}
		if !cmd.Elevated && !d.engine.IsPrivileged(cmd.Issuer) {
			return fmt.Sprintf("%s: you are not allowed to newgame", cmd.Issuer), "", queue.Unauthorized.String()
		}
		iv := d.game.NewRound()
		return "", fmt.Sprintf("new word game: the word is between %s and %s", iv.Lower, iv.Upper), "new_round"
	default:
		var res queue.Result
		telemetry.TimeFunc(telemetry.CommandApplyDuration, func() { res = d.engine.Apply(cmd) })
		return res.Reply, res.Announcement, res.Outcome.String()
	}
}

func (d *Dispatcher) reply(ctx context.Context, name string, s chat.Session, to chat.Message, text string) error {
	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	var err error
	if r, ok := s.(chat.Replier); ok && to.ID != "" {
		err = r.Reply(ctx, to, text)
	} else {
		err = s.Send(ctx, text)
	}
	if err != nil {
		telemetry.RecordSendFailure(name)
	}
	return err
}

// Broadcast sends text to every attached session concurrently and returns how
// many deliveries succeeded.
func (d *Dispatcher) Broadcast(ctx context.Context, text string) int {
	d.mu.RLock()
	targets := make(map[string]chat.Session, len(d.sessions))
	for n, s := range d.sessions {
		targets[n] = s
	}
	d.mu.RUnlock()

	telemetry.RecordAnnouncement()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "dispatch"))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for name, s := range targets {
		wg.Add(1)
		go func(name string, s chat.Session) {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
			defer cancel()
			if err := s.Send(sctx, text); err != nil {
				telemetry.RecordSendFailure(name)
				log.Warn("announcement failed", slog.String("transport", name), slog.Any("err", err))
				return
			}
			mu.Lock()
			delivered++
			mu.Unlock()
		}(name, s)
	}
	wg.Wait()
	return delivered
}
