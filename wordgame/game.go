// Package wordgame is a chat guessing game: the bot picks a secret word and
// every wrong guess narrows the alphabetical interval that contains it.
package wordgame

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
)

//go:embed words.txt
var defaultVocabulary string

// Verdict classifies a guess.
type Verdict int

const (
	Correct Verdict = iota
	Incorrect
	InvalidWord
	OutOfRange
	GameOver
)

func (v Verdict) String() string {
	switch v {
	case Correct:
		return "correct"
	case Incorrect:
		return "incorrect"
	case InvalidWord:
		return "invalid_word"
	case OutOfRange:
		return "out_of_range"
	case GameOver:
		return "game_over"
	default:
		return "unknown"
	}
}

// Interval bounds the secret word, exclusive on both ends once narrowed.
type Interval struct {
	Lower string
	Upper string
}

// Outcome is the result of one guess. Word is set for Correct and GameOver.
type Outcome struct {
	Verdict  Verdict
	Interval Interval
	Word     string
}

// Game holds one round at a time. It is safe for concurrent use.
type Game struct {
	mu       sync.Mutex
	vocab    map[string]struct{}
	words    []string
	full     Interval
	target   string
	interval Interval
	over     bool
	rng      *rand.Rand
}

// New builds a game from a newline separated vocabulary and starts a round.
func New(vocabulary string, seed int64) (*Game, error) {
	g := &Game{
		vocab: make(map[string]struct{}),
		//nolint:gosec // G404: game word choice, not security sensitive
		rng: rand.New(rand.NewSource(seed)),
	}
	for _, line := range strings.Split(vocabulary, "\n") {
		w := strings.ToLower(strings.TrimSpace(line))
		if w == "" {
			continue
		}
		if _, dup := g.vocab[w]; dup {
			continue
		}
		g.vocab[w] = struct{}{}
		g.words = append(g.words, w)
		if g.full.Lower == "" || w < g.full.Lower {
			g.full.Lower = w
		}
		if w > g.full.Upper {
			g.full.Upper = w
		}
	}
	if len(g.words) == 0 {
		return nil, errors.New("word game vocabulary is empty")
	}
	g.NewRound()
	return g, nil
}

// Load reads the vocabulary from path, or the embedded list when path is empty.
func Load(path string, seed int64) (*Game, error) {
	if path == "" {
		return New(defaultVocabulary, seed)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	return New(string(b), seed)
}

// NewRound picks a new secret word and resets the interval.
func (g *Game) NewRound() Interval {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.start(g.words[g.rng.Intn(len(g.words))])
	return g.interval
}

func (g *Game) start(target string) {
	g.target = target
	g.interval = g.full
	g.over = false
}

// Interval returns the current bounds.
func (g *Game) Interval() Interval {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.interval
}

// Guess scores word against the secret. Words outside the vocabulary are
// InvalidWord; known words outside the current interval are OutOfRange.
func (g *Game) Guess(word string) Outcome {
	word = strings.ToLower(strings.TrimSpace(word))
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.over {
		return Outcome{Verdict: GameOver, Interval: g.interval, Word: g.target}
	}
	if word == g.target {
		g.over = true
		return Outcome{Verdict: Correct, Interval: g.interval, Word: g.target}
	}
	if _, ok := g.vocab[word]; !ok {
		return Outcome{Verdict: InvalidWord, Interval: g.interval}
	}
	if word <= g.interval.Lower || word >= g.interval.Upper {
		return Outcome{Verdict: OutOfRange, Interval: g.interval}
	}
	if word > g.target {
		g.interval.Upper = word
	} else {
		g.interval.Lower = word
	}
	return Outcome{Verdict: Incorrect, Interval: g.interval}
}

// Broadcast reports whether the outcome is shown to every channel rather
// than just the guesser.
func (o Outcome) Broadcast() bool {
	return o.Verdict == Correct || o.Verdict == Incorrect
}

// Message renders the outcome for chat.
func (o Outcome) Message(user, guess string) string {
	switch o.Verdict {
	case Correct:
		return fmt.Sprintf("%s guessed the word: %s!", user, o.Word)
	case Incorrect:
		return fmt.Sprintf("%s guessed %s: the word is between %s and %s", user, guess, o.Interval.Lower, o.Interval.Upper)
	case InvalidWord:
		return fmt.Sprintf("%s: %s is not in the word list", user, guess)
	case OutOfRange:
		return fmt.Sprintf("%s: %s is outside %s .. %s", user, guess, o.Interval.Lower, o.Interval.Upper)
	case GameOver:
		return fmt.Sprintf("%s: the game is over, the word was %s", user, o.Word)
	default:
		return ""
	}
}
