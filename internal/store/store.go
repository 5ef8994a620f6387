package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/parley-sim/parley/internal/session"
)

// MemoryGateway keeps session snapshots in process memory. It is the
// persistence gateway used in tests and ephemeral runs.
type MemoryGateway struct {
	mu        sync.RWMutex
	snapshots map[string]session.Snapshot
	saves     int
}

// NewMemoryGateway creates a memory-backed persistence gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		snapshots: make(map[string]session.Snapshot),
	}
}

// Save stores the latest snapshot for the session.
func (g *MemoryGateway) Save(_ context.Context, snapshot session.Snapshot) error {
	if strings.TrimSpace(snapshot.ID) == "" {
		return errors.New("session id must not be empty")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.snapshots[snapshot.ID] = snapshot
	g.saves++
	return nil
}

// Load returns the latest stored snapshot for a session.
func (g *MemoryGateway) Load(sessionID string) (session.Snapshot, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	snapshot, ok := g.snapshots[strings.TrimSpace(sessionID)]
	return snapshot, ok
}

// Saves returns how many saves have been performed.
func (g *MemoryGateway) Saves() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.saves
}

// FileGateway persists session snapshots as JSON files, one per session,
// written atomically so a crashed save never leaves a torn snapshot.
type FileGateway struct {
	dir string
	mu  sync.Mutex
}

// NewFileGateway creates a file-backed persistence gateway rooted at dir.
func NewFileGateway(dir string) (*FileGateway, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("snapshot directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &FileGateway{dir: dir}, nil
}

// Save writes the snapshot to <dir>/<session-id>.json via a temp-file
// rename.
func (g *FileGateway) Save(_ context.Context, snapshot session.Snapshot) error {
	if strings.TrimSpace(snapshot.ID) == "" {
		return errors.New("session id must not be empty")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	body, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session snapshot: %w", err)
	}

	finalPath := g.path(snapshot.ID)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, body, 0o600); err != nil {
		return fmt.Errorf("write session snapshot: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("commit session snapshot: %w", err)
	}
	return nil
}

// Load reads the stored snapshot for a session.
func (g *FileGateway) Load(sessionID string) (session.Snapshot, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return session.Snapshot{}, errors.New("session id must not be empty")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// #nosec G304 -- snapshot paths are derived from trusted local state.
	body, err := os.ReadFile(g.path(sessionID))
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("read session snapshot: %w", err)
	}
	var snapshot session.Snapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return session.Snapshot{}, fmt.Errorf("decode session snapshot: %w", err)
	}
	return snapshot, nil
}

func (g *FileGateway) path(sessionID string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, sessionID)
	return filepath.Join(g.dir, name+".json")
}
