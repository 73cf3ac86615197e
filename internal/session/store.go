package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kjstillabower/agro-advisor/internal/observability"
)

// ErrNotFound is returned for unknown or expired session IDs.
var ErrNotFound = errors.New("session not found")

// Store keeps live sessions by ID. Sessions are in memory only.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	newSession func(id string) *Session
	now        func() time.Time
	logger     *zap.Logger
}

// NewStore creates a Store. newSession builds a session for a fresh ID.
func NewStore(newSession func(id string) *Session, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		sessions:   make(map[string]*Session),
		newSession: newSession,
		now:        time.Now,
		logger:     logger,
	}
}

// Create starts a new session with a random UUID.
func (st *Store) Create() *Session {
	s := st.newSession(uuid.NewString())
	s.lastAccess.Store(st.now().UnixNano())

	st.mu.Lock()
	st.sessions[s.ID] = s
	n := len(st.sessions)
	st.mu.Unlock()

	observability.ActiveSessions.Set(float64(n))
	st.logger.Debug("session created", zap.String("session_id", s.ID))
	return s
}

// Get returns the session and marks it as used.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.lastAccess.Store(st.now().UnixNano())
	return s, nil
}

// Delete ends a session. It reports whether the session existed.
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	s, ok := st.sessions[id]
	delete(st.sessions, id)
	n := len(st.sessions)
	st.mu.Unlock()

	if ok {
		s.Close()
		observability.ActiveSessions.Set(float64(n))
	}
	return ok
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep ends sessions idle for longer than maxIdle and returns how many.
func (st *Store) Sweep(maxIdle time.Duration) int {
	cutoff := st.now().Add(-maxIdle)

	st.mu.Lock()
	var expired []*Session
	for id, s := range st.sessions {
		if s.LastAccess().Before(cutoff) {
			expired = append(expired, s)
			delete(st.sessions, id)
		}
	}
	n := len(st.sessions)
	st.mu.Unlock()

	for _, s := range expired {
		s.Close()
	}
	observability.ActiveSessions.Set(float64(n))
	return len(expired)
}

// CloseAll ends every session.
func (st *Store) CloseAll() {
	st.mu.Lock()
	sessions := st.sessions
	st.sessions = make(map[string]*Session)
	st.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	observability.ActiveSessions.Set(0)
}

// StartSweeper schedules Sweep on a cron spec (e.g. "@every 1m"). Stop the
// returned scheduler on shutdown.
func (st *Store) StartSweeper(spec string, maxIdle time.Duration) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if n := st.Sweep(maxIdle); n > 0 {
			st.logger.Info("idle sessions swept", zap.Int("expired", n), zap.Int("active", st.Len()))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule session sweep %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}
