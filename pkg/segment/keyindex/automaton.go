package keyindex

import (
	"fmt"
	"sync"

	"github.com/blevesearch/vellum"
	"github.com/blevesearch/vellum/levenshtein"
	"github.com/blevesearch/vellum/regexp"
)

// Automaton is a finite-state predicate over key bytes. Search feeds every
// candidate key through it one byte at a time and yields the keys that end in
// a matching state.
type Automaton interface {
	// Start returns the initial state
	Start() int

	// Accept returns the state reached from state on input b
	Accept(state int, b byte) int

	// IsMatch reports whether state accepts the key read so far
	IsMatch(state int) bool
}

// Pruner is implemented by automata that can tell when no continuation of
// the current input will ever match. Search skips whole subtrees of the index
// for such states. Automata without it are still searched correctly.
type Pruner interface {
	CanMatch(state int) bool
}

// Matches runs key through aut and reports whether it is accepted.
func Matches(aut Automaton, key []byte) bool {
	pruner, _ := aut.(Pruner)

	state := aut.Start()
	for _, b := range key {
		if pruner != nil && !pruner.CanMatch(state) {
			return false
		}
		state = aut.Accept(state, b)
	}
	return aut.IsMatch(state)
}

// vellumAutomaton fills in the optional parts of vellum.Automaton.
type vellumAutomaton struct {
	Automaton
	pruner Pruner
}

func (a vellumAutomaton) CanMatch(state int) bool {
	if a.pruner == nil {
		return true
	}
	return a.pruner.CanMatch(state)
}

func (a vellumAutomaton) WillAlwaysMatch(int) bool {
	return false
}

func adapt(aut Automaton) vellum.Automaton {
	if va, ok := aut.(vellum.Automaton); ok {
		return va
	}
	pruner, _ := aut.(Pruner)
	return vellumAutomaton{Automaton: aut, pruner: pruner}
}

const dead = -1

// prefix matches every key starting with p. State i < len(p) means i bytes
// of p have been read; len(p) is the sticky accepting state.
type prefix struct {
	p []byte
}

// Prefix matches every key that starts with p
func Prefix(p []byte) Automaton {
	return prefix{p: append([]byte(nil), p...)}
}

func (a prefix) Start() int { return 0 }

func (a prefix) Accept(state int, b byte) int {
	switch {
	case state == dead:
		return dead
	case state == len(a.p):
		return state
	case a.p[state] == b:
		return state + 1
	default:
		return dead
	}
}

func (a prefix) IsMatch(state int) bool  { return state == len(a.p) }
func (a prefix) CanMatch(state int) bool { return state != dead }

// exact matches a single key
type exact struct {
	k []byte
}

// Exact matches k and nothing else
func Exact(k []byte) Automaton {
	return exact{k: append([]byte(nil), k...)}
}

func (a exact) Start() int { return 0 }

func (a exact) Accept(state int, b byte) int {
	if state == dead || state >= len(a.k) || a.k[state] != b {
		return dead
	}
	return state + 1
}

func (a exact) IsMatch(state int) bool  { return state == len(a.k) }
func (a exact) CanMatch(state int) bool { return state != dead }

// MaxFuzzyDistance is the largest edit distance Fuzzy accepts. Building the
// automaton grows exponentially with the distance.
const MaxFuzzyDistance = 2

var (
	levenshteinMu       sync.Mutex
	levenshteinBuilders = make(map[uint8]*levenshtein.LevenshteinAutomatonBuilder)
)

func levenshteinBuilder(distance uint8) (*levenshtein.LevenshteinAutomatonBuilder, error) {
	levenshteinMu.Lock()
	defer levenshteinMu.Unlock()

	if lb, ok := levenshteinBuilders[distance]; ok {
		return lb, nil
	}
	lb, err := levenshtein.NewLevenshteinAutomatonBuilder(distance, false)
	if err != nil {
		return nil, err
	}
	levenshteinBuilders[distance] = lb
	return lb, nil
}

// Fuzzy matches every key within distance edits (insertions, deletions,
// substitutions of unicode code points) of term.
func Fuzzy(term string, distance uint8) (Automaton, error) {
	if distance > MaxFuzzyDistance {
		return nil, fmt.Errorf("keyindex: fuzzy distance %d exceeds %d", distance, MaxFuzzyDistance)
	}

	lb, err := levenshteinBuilder(distance)
	if err != nil {
		return nil, fmt.Errorf("keyindex: levenshtein builder: %w", err)
	}
	dfa, err := lb.BuildDfa(term, distance)
	if err != nil {
		return nil, fmt.Errorf("keyindex: levenshtein automaton for %q: %w", term, err)
	}
	return dfa, nil
}

// Regexp matches every key fully matched by expr. Anchors, word boundaries
// and lazy quantifiers are not supported.
func Regexp(expr string) (Automaton, error) {
	re, err := regexp.New(expr)
	if err != nil {
		return nil, fmt.Errorf("keyindex: regexp %q: %w", expr, err)
	}
	return re, nil
}

// AlwaysMatch matches every key
func AlwaysMatch() Automaton {
	return &vellum.AlwaysMatch{}
}
