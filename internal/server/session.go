package server

import (
	"context"
	"sync"
	"time"

	"receipts/internal/history"
)

// Session is one client's receipt history plus its in-flight scan.
type Session struct {
	ID      string
	History *history.Memory

	mu       sync.Mutex
	cancel   context.CancelFunc
	seq      uint64
	lastSeen time.Time
}

// Begin starts a new scan for the session. Any scan still in flight is
// cancelled first. done must be called when the scan finishes.
func (s *Session) Begin(parent context.Context) (ctx context.Context, done func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	s.seq++
	seq := s.seq
	s.cancel = cancel
	s.lastSeen = time.Now()

	return ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.seq == seq {
			s.cancel = nil
		}
		cancel()
	}
}

// Busy reports whether a scan is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return 0
	}
	return now.Sub(s.lastSeen)
}

// DefaultMaxSessions bounds the registry when no limit is given.
const DefaultMaxSessions = 10000

// Sessions holds the live sessions keyed by ID.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
	limit    int
}

// NewSessions returns an empty session registry holding at most limit sessions.
// A limit below one selects DefaultMaxSessions.
func NewSessions(limit int) *Sessions {
	if limit < 1 {
		limit = DefaultMaxSessions
	}
	return &Sessions{sessions: make(map[string]*Session), limit: limit}
}

// Get returns the session for id, creating it on first use. When the registry
// is full the least recently seen idle session is dropped to make room; sessions
// with a scan in flight are never dropped.
func (m *Sessions) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		if len(m.sessions) >= m.limit {
			m.evictOldest()
		}
		s = &Session{ID: id, History: history.NewMemory(), lastSeen: time.Now()}
		m.sessions[id] = s
	}
	s.touch()
	return s
}

// evictOldest removes the idle session seen longest ago. Callers hold m.mu.
func (m *Sessions) evictOldest() {
	now := time.Now()
	var (
		oldestID string
		oldest   time.Duration
	)
	for id, s := range m.sessions {
		if s.Busy() {
			continue
		}
		if idle := s.idleSince(now); oldestID == "" || idle > oldest {
			oldestID, oldest = id, idle
		}
	}
	if oldestID != "" {
		delete(m.sessions, oldestID)
	}
}

// Len returns the number of live sessions.
func (m *Sessions) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Expire drops sessions idle for longer than ttl and returns how many were removed.
func (m *Sessions) Expire(ttl time.Duration) int {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.idleSince(now) > ttl {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}
