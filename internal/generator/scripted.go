package generator

import (
	"context"
	"errors"
	"sync"

	"github.com/parley-sim/parley/internal/engine"
	"github.com/parley-sim/parley/internal/session"
)

// ErrScriptExhausted indicates the scripted generator ran out of lines.
var ErrScriptExhausted = errors.New("scripted generator exhausted")

// Scripted replays a fixed sequence of generator results. Useful for demo
// runs and deterministic tests; once the script runs out, every call fails
// and the engine degrades to its local fallback library.
type Scripted struct {
	mu      sync.Mutex
	results []engine.GeneratorResult
	next    int
}

// NewScripted builds a scripted generator over the given results.
func NewScripted(results ...engine.GeneratorResult) *Scripted {
	return &Scripted{results: append([]engine.GeneratorResult(nil), results...)}
}

// Generate returns the next scripted result.
func (s *Scripted) Generate(_ context.Context, _ string, _ *session.Session) (*engine.GeneratorResult, error) {
	if s == nil {
		return nil, errors.New("generator is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.results) {
		return nil, ErrScriptExhausted
	}
	result := s.results[s.next]
	s.next++
	return &result, nil
}

// Offline always fails, forcing the engine onto its deterministic local
// action library. It is the default generator for disconnected runs.
type Offline struct{}

// ErrOffline indicates no external generator is configured.
var ErrOffline = errors.New("no external generator configured")

// Generate always returns ErrOffline.
func (Offline) Generate(_ context.Context, _ string, _ *session.Session) (*engine.GeneratorResult, error) {
	return nil, ErrOffline
}
