// Package gateway fronts the MCP server with the admission middleware and
// the SSE transport. It owns the live session registry that binds an SSE
// stream to its message endpoint.
package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// sessionEventBuffer bounds how many outbound events may queue per session
// before sends are dropped.
const sessionEventBuffer = 100

// Session is one live SSE connection. Events written to EventCh are
// streamed to the client in order.
type Session struct {
	ID         string
	EventCh    chan string
	CreatedAt  time.Time
	LastActive time.Time
}

// Registry tracks live SSE sessions. It is process-local: a session
// exists only on the instance holding its TCP connection, so
// deployments behind a load balancer need sticky routing from the SSE
// stream to its /message endpoint.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

// NewRegistry creates an empty session registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Create registers a new session with a fresh UUID.
func (r *Registry) Create() *Session {
	now := time.Now()
	session := &Session{
		ID:         uuid.New().String(),
		EventCh:    make(chan string, sessionEventBuffer),
		CreatedAt:  now,
		LastActive: now,
	}

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()

	r.logger.Debug("session created", "session_id", session.ID)
	return session
}

// Get returns the session for an ID, or false when it is unknown.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	return session, ok
}

// Touch updates a session's last-active time.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.sessions[id]; ok {
		session.LastActive = time.Now()
	}
}

// Remove drops a session. Safe to call for an already-removed ID.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, existed := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if existed {
		r.logger.Debug("session removed", "session_id", id)
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
