package lab

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrSessionNotFound is returned for an unknown session or one owned by someone else
	ErrSessionNotFound = errors.New("lab session not found")
	// ErrTooManySessions is returned when an owner already holds the maximum number of sessions
	ErrTooManySessions = errors.New("too many open lab sessions")
)

// Manager tracks the open lab sessions of every client
type Manager struct {
	opts        Options
	idleTimeout time.Duration
	maxPerOwner int

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager opening sessions with opts. Sessions unused for
// idleTimeout are closed by Reap; maxPerOwner of zero means unlimited.
func NewManager(opts Options, idleTimeout time.Duration, maxPerOwner int) *Manager {
	return &Manager{
		opts:        opts,
		idleTimeout: idleTimeout,
		maxPerOwner: maxPerOwner,
		sessions:    make(map[string]*Session),
	}
}

// Open starts a new session for owner. session.opened is published after the
// manager lock is released.
func (m *Manager) Open(owner string) (*Session, error) {
	m.mu.Lock()
	if m.maxPerOwner > 0 {
		owned := 0
		for _, s := range m.sessions {
			if s.Owner() == owner {
				owned++
			}
		}
		if owned >= m.maxPerOwner {
			m.mu.Unlock()
			return nil, ErrTooManySessions
		}
	}

	s := newSession(owner, m.opts)
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	s.announce()

	log.Info().
		Str("service", "lab").
		Str("session_id", s.ID()).
		Str("owner", owner).
		Msg("lab session opened")
	return s, nil
}

// Get returns owner's session id
func (m *Manager) Get(id, owner string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok || s.Owner() != owner {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns owner's open sessions
func (m *Manager) List(owner string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, s := range m.sessions {
		if s.Owner() == owner {
			out = append(out, s)
		}
	}
	return out
}

// Close ends owner's session id
func (m *Manager) Close(id, owner string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || s.Owner() != owner {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	s.Close()
	return nil
}

// CloseAll ends every session, used on shutdown
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// Count returns the number of open sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Reap closes idle sessions every minute until ctx is done
func (m *Manager) Reap(ctx context.Context) {
	logger := log.With().Str("component", "lab_reaper").Logger()
	logger.Info().Dur("idle_timeout", m.idleTimeout).Msg("starting lab session reaper")

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down lab session reaper")
			return
		case <-ticker.C:
			if n := m.ReapIdle(time.Now()); n > 0 {
				logger.Info().Int("closed", n).Msg("closed idle lab sessions")
			}
		}
	}
}

// ReapIdle closes every session idle since before now minus the idle timeout
func (m *Manager) ReapIdle(now time.Time) int {
	if m.idleTimeout <= 0 {
		return 0
	}

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if now.Sub(s.LastUsed()) > m.idleTimeout {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
	return len(idle)
}
