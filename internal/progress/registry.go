package progress

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry owns the sessions of one process. It is constructed by its owner
// (the job manager, a CLI run) and passed to whoever needs lookups; there is
// no package-level session map.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	observers []Observer
	maxLog    int
	logger    *slog.Logger
	now       func() time.Time
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Observers are attached to every session the registry creates.
	Observers []Observer

	// MaxLogEntries bounds each session's log (0 = DefaultMaxLogEntries).
	MaxLogEntries int

	Logger *slog.Logger

	// Now overrides the time source (tests).
	Now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		sessions:  make(map[string]*Session),
		observers: cfg.Observers,
		maxLog:    cfg.MaxLogEntries,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// Create registers a new queued session. An empty id gets a random UUID.
func (r *Registry) Create(id string) (*Session, error) {
	s := NewSession(id,
		WithObservers(r.observers...),
		WithMaxLogEntries(r.maxLog),
		WithClock(r.now),
	)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.ID()]; exists {
		return nil, fmt.Errorf("session already exists: %s", s.ID())
	}
	r.sessions[s.ID()] = s
	return s, nil
}

// Get returns a session by ID.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes a session. Returns false if it was not present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// List returns snapshots of every session, oldest first.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes terminal sessions not updated within ttl and returns their
// IDs. Running sessions are never evicted.
func (r *Registry) Sweep(ttl time.Duration) []string {
	cutoff := r.now().Add(-ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, s := range r.sessions {
		snap := s.Snapshot()
		if snap.Phase.Terminal() && snap.UpdatedAt.Before(cutoff) {
			delete(r.sessions, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	if len(removed) > 0 {
		r.logger.Debug("swept expired sessions", "count", len(removed), "ttl", ttl)
	}
	return removed
}
