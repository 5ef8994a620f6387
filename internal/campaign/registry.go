package campaign

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNotRegistered indicates no orchestrator exists for the session id.
var ErrNotRegistered = errors.New("no campaign registered for session")

// Registry multiplexes orchestrators by session id so one process can run
// multiple campaigns concurrently without shared mutable module state.
type Registry struct {
	mu            sync.RWMutex
	orchestrators map[string]*Orchestrator
}

// NewRegistry creates an empty campaign registry.
func NewRegistry() *Registry {
	return &Registry{
		orchestrators: make(map[string]*Orchestrator),
	}
}

// Register tracks an orchestrator under its session id. Registering a
// duplicate id is an error: at most one orchestrator may run against a
// session at a time.
func (r *Registry) Register(sessionID string, orchestrator *Orchestrator) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("session id must not be empty")
	}
	if orchestrator == nil {
		return errors.New("orchestrator must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orchestrators[sessionID]; exists {
		return fmt.Errorf("campaign already registered for session %q", sessionID)
	}
	r.orchestrators[sessionID] = orchestrator
	return nil
}

// Get returns the orchestrator for a session id.
func (r *Registry) Get(sessionID string) (*Orchestrator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orchestrator, ok := r.orchestrators[strings.TrimSpace(sessionID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, sessionID)
	}
	return orchestrator, nil
}

// Remove stops and forgets the orchestrator for a session id.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID = strings.TrimSpace(sessionID)
	if orchestrator, ok := r.orchestrators[sessionID]; ok {
		orchestrator.Stop()
		delete(r.orchestrators, sessionID)
	}
}

// Len returns the number of registered campaigns.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orchestrators)
}

// StopAll stops every registered orchestrator. The registry keeps the
// entries so callers can still read final statuses.
func (r *Registry) StopAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, orchestrator := range r.orchestrators {
		orchestrator.Stop()
	}
}
