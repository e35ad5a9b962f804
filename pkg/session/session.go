// Package session defines the render session: one expensive rendering
// context (a Graphviz runtime, a browser process, a scratch directory for an
// external CLI) owned by the pool and lent to one request at a time.
//
// # Lifecycle
//
// A session is created by a backend adapter's Open, wrapped with [New] by the
// pool, borrowed by the orchestrator for the duration of a single render and
// then released back to the pool. Sessions that fail a render are marked
// unhealthy and destroyed on release instead of being reused:
//
//	sess := session.New(kind, handle)
//	defer pool.Release(sess)
//	if err := render(sess.Handle); err != nil {
//	    sess.MarkUnhealthy()
//	}
//
// A session is never used by two requests at once; the pool guarantees that.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Close when the session has already been closed.
var ErrClosed = errors.New("session closed")

// Handle is the backend-specific resource behind a session.
type Handle interface {
	Close() error
}

// Session is a pooled rendering context.
type Session struct {
	ID        string
	Kind      string
	Handle    Handle
	CreatedAt time.Time

	mu       sync.Mutex
	lastUsed time.Time
	uses     int
	healthy  bool
	closed   bool
}

// New wraps a freshly opened handle. The session starts healthy.
func New(kind string, h Handle) *Session {
	now := time.Now()
	id, err := GenerateID()
	if err != nil {
		id = kind + "-" + now.Format("150405.000000000")
	}
	return &Session{
		ID:        id,
		Kind:      kind,
		Handle:    h,
		CreatedAt: now,
		lastUsed:  now,
		healthy:   true,
	}
}

// Touch records a use of the session.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.uses++
	s.mu.Unlock()
}

// MarkIdle restarts the idle clock without counting a use. The pool calls
// it when a session is returned.
func (s *Session) MarkIdle() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// Uses returns how many times the session has been borrowed.
func (s *Session) Uses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uses
}

// LastUsed returns the time of the last Touch, or creation time.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// MarkUnhealthy flags the session so the pool destroys it on release.
func (s *Session) MarkUnhealthy() {
	s.mu.Lock()
	s.healthy = false
	s.mu.Unlock()
}

// Healthy reports whether the session may be reused.
func (s *Session) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy && !s.closed
}

// IdleFor returns how long the session has been unused.
func (s *Session) IdleFor() time.Duration {
	return time.Since(s.LastUsed())
}

// IsIdleExpired reports whether the session has been idle longer than ttl.
// A non-positive ttl never expires.
func (s *Session) IsIdleExpired(ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return s.IdleFor() > ttl
}

// Close releases the underlying handle. Closing twice returns ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.healthy = false
	s.mu.Unlock()

	if s.Handle == nil {
		return nil
	}
	return s.Handle.Close()
}

// GenerateID creates a cryptographically secure random session ID.
func GenerateID() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
