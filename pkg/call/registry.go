// Package call holds the per-call session state and the orchestrator that
// sequences transcription, inference, and synthesis into a turn-taking
// pipeline.
package call

import (
	"log/slog"
	"sync"
	"time"
)

const (
	defaultIdleTTL       = 15 * time.Minute
	defaultSweepInterval = time.Minute
)

// Registry is the process-wide call_id to session mapping. It is the only
// cross-goroutine shared map in the call path; everything else is owned by
// one session.
type Registry struct {
	idleTTL time.Duration
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRegistry creates a registry. idleTTL <= 0 uses the default. The idle
// sweeper only runs once Start is called.
func NewRegistry(idleTTL time.Duration, logger *slog.Logger) *Registry {
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		idleTTL:  idleTTL,
		logger:   logger,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
}

// GetOrCreate returns the session for callID, creating it via newSession if
// absent. This is the single session creation path. last_seen is refreshed
// either way.
func (r *Registry) GetOrCreate(callID string, newSession func() *Session) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[callID]; ok {
		s.Touch()
		return s, false
	}
	s := newSession()
	s.Touch()
	r.sessions[callID] = s
	return s, true
}

// Get returns the session for callID, or nil. last_seen is refreshed on hit.
func (r *Registry) Get(callID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.sessions[callID]
	if s != nil {
		s.Touch()
	}
	return s
}

// Exists reports whether a session is registered without touching last_seen.
func (r *Registry) Exists(callID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[callID]
	return ok
}

// Remove unregisters and returns the session, or nil. The caller is
// responsible for teardown.
func (r *Registry) Remove(callID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[callID]
	delete(r.sessions, callID)
	return s
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Start launches the idle-eviction sweeper. Sessions idle past the TTL and
// not currently speaking are torn down; a client that dropped without an
// explicit call_ended eventually stops leaking state.
func (r *Registry) Start(interval time.Duration) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.sweep(time.Now())
			}
		}
	}()
}

// Close stops the sweeper and tears down every session.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })

	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Teardown()
	}
}

func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	var evicted []*Session
	for id, s := range r.sessions {
		if s.Speaking() {
			continue
		}
		if now.Sub(s.LastSeen()) > r.idleTTL {
			delete(r.sessions, id)
			evicted = append(evicted, s)
		}
	}
	r.mu.Unlock()

	for _, s := range evicted {
		r.logger.Info("evicting idle call session", "call_id", s.CallID, "last_seen", s.LastSeen())
		s.Teardown()
	}
}
