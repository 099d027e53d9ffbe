package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quillframe/ragcore/internal/metrics"
	"github.com/quillframe/ragcore/internal/rag"
	"github.com/quillframe/ragcore/internal/vectorstore"
)

// Manager holds all live sessions. Get is touch-on-read: a successful
// lookup slides the session's expiry forward by its TTL. A background
// janitor sweeps expired sessions so global stats stay honest between
// lookups.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	defaults rag.SessionConfig
	log      *zap.Logger
	now      func() time.Time // test seam

	janitorStop chan struct{}
	janitorOnce sync.Once
}

// NewManager creates a session manager with the given per-session
// defaults.
func NewManager(defaults rag.SessionConfig, logger *zap.Logger) *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		defaults:    defaults,
		log:         logger,
		now:         time.Now,
		janitorStop: make(chan struct{}),
	}
}

// Create builds a new session. Zero fields in overrides fall back to the
// manager defaults.
func (m *Manager) Create(overrides rag.SessionConfig) *Session {
	cfg := m.defaults.Merge(overrides)
	now := m.now()

	s := &Session{
		ID:        NewSessionID(),
		CreatedAt: now,
		Config:    cfg,
		Index:     vectorstore.NewIndex(m.log),
	}
	s.Touch(now)

	m.mu.Lock()
	m.sessions[s.ID] = s
	active := len(m.sessions)
	m.mu.Unlock()

	metrics.SessionsCreated.Inc()
	metrics.SessionsActive.Set(float64(active))

	m.log.Info("Session created",
		zap.String("session_id", s.ID),
		zap.Duration("ttl", cfg.SessionTTL),
		zap.Int("max_documents", cfg.MaxDocuments),
	)
	return s
}

// Get returns the live session for id and slides its expiry forward.
// Expired sessions are evicted on the spot and reported as not found.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}

	now := m.now()
	if s.expired(now) {
		m.evict(id, "expired")
		return nil, ErrSessionNotFound
	}
	s.Touch(now)
	return s, nil
}

// Remove deletes a session explicitly.
func (m *Manager) Remove(id string) error {
	m.mu.RLock()
	_, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}
	m.evict(id, "deleted")
	return nil
}

// GlobalStats aggregates counts across live sessions, skipping any that
// expired since the last sweep.
func (m *Manager) GlobalStats() GlobalStats {
	now := m.now()

	m.mu.RLock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if !s.expired(now) {
			live = append(live, s)
		}
	}
	m.mu.RUnlock()

	stats := GlobalStats{ActiveSessions: len(live)}
	for _, s := range live {
		stats.TotalDocuments += s.DocumentCount()
		stats.TotalChunks += s.Index.Size()
	}
	return stats
}

// StartJanitor launches the background sweep. The interval is half the
// default TTL, capped at one minute.
func (m *Manager) StartJanitor() {
	interval := m.defaults.SessionTTL / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-m.janitorStop:
				return
			}
		}
	}()
}

// Stop terminates the janitor.
func (m *Manager) Stop() {
	m.janitorOnce.Do(func() { close(m.janitorStop) })
}

// sweep evicts every expired session.
func (m *Manager) sweep() {
	now := m.now()

	m.mu.RLock()
	var expired []string
	for id, s := range m.sessions {
		if s.expired(now) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.evict(id, "expired")
	}
	if len(expired) > 0 {
		m.log.Info("Swept expired sessions", zap.Int("count", len(expired)))
	}
}

func (m *Manager) evict(id, reason string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	active := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return
	}

	metrics.SessionsEvicted.WithLabelValues(reason).Inc()
	metrics.SessionsActive.Set(float64(active))
	m.log.Info("Session evicted",
		zap.String("session_id", s.ID),
		zap.String("reason", reason),
		zap.Int("documents", s.DocumentCount()),
		zap.Int("chunks", s.Index.Size()),
	)
}
