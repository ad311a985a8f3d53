package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Session represents one live client connection. A session starts
// unauthenticated; a successful login binds it to a username in the
// registry, on the same connection that issued the login.
type Session struct {
	ID         uint64
	Conn       *SafeConn
	RemoteAddr string

	mu       sync.RWMutex
	username string // Bound username, empty until login

	lastActivity atomic.Int64 // Unix milliseconds, updated on every request
}

// Username returns the bound username, or "" for unauthenticated sessions.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) setUsername(username string) {
	s.mu.Lock()
	s.username = username
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixMilli())
}

// IdleSince returns the timestamp of the session's last request.
func (s *Session) IdleSince() int64 {
	return s.lastActivity.Load()
}

// Registry tracks all live connections and maps each authenticated username
// to at most one of them. It is passed by reference to every connection
// handler; all operations are atomic under a single lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session // All live connections, authenticated or not
	byUser   map[string]*Session // username -> current session

	nextID  atomic.Uint64
	metrics *Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uint64]*Session),
		byUser:   make(map[string]*Session),
	}
}

// SetMetrics attaches metrics to the registry.
func (r *Registry) SetMetrics(metrics *Metrics) {
	r.metrics = metrics
}

// Track creates a session for a newly accepted connection.
func (r *Registry) Track(conn net.Conn, writeTimeout time.Duration) *Session {
	sess := &Session{
		ID:         r.nextID.Add(1),
		Conn:       NewSafeConn(conn, writeTimeout),
		RemoteAddr: conn.RemoteAddr().String(),
	}
	sess.touch()

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	count := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordActiveConnections(count)
		r.metrics.RecordConnectionOpened()
	}
	return sess
}

// Bind registers the session as the live connection for username.
// Registration always succeeds: last login wins. If the username already had
// a different live session, that session is detached and returned so the
// caller can close it. Rebinding the same session is a no-op.
func (r *Registry) Bind(username string, sess *Session) (evicted *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.byUser[username]
	if current == sess {
		return nil
	}

	// A connection re-authenticating as a different user releases its old
	// binding first.
	if old := sess.Username(); old != "" && old != username && r.byUser[old] == sess {
		delete(r.byUser, old)
	}

	r.byUser[username] = sess
	sess.setUsername(username)

	if current != nil {
		current.setUsername("")
	}
	if r.metrics != nil {
		r.metrics.RecordOnlineUsers(len(r.byUser))
	}
	return current
}

// Lookup returns the live session for username, if any. Non-blocking.
func (r *Registry) Lookup(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byUser[username]
	return sess, ok
}

// UnbindIfCurrent removes the username entry only if it still points at
// sess. A stale disconnect cleanup therefore never evicts a newer,
// legitimate session for the same user.
func (r *Registry) UnbindIfCurrent(username string, sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byUser[username] != sess {
		return false
	}
	delete(r.byUser, username)
	if r.metrics != nil {
		r.metrics.RecordOnlineUsers(len(r.byUser))
	}
	return true
}

// Drop removes the session from the registry entirely and closes its
// connection. The username binding is released only if this session still
// owns it.
func (r *Registry) Drop(sess *Session) {
	r.mu.Lock()
	_, tracked := r.sessions[sess.ID]
	delete(r.sessions, sess.ID)
	if username := sess.Username(); username != "" && r.byUser[username] == sess {
		delete(r.byUser, username)
	}
	connCount := len(r.sessions)
	userCount := len(r.byUser)
	r.mu.Unlock()

	if !tracked {
		return
	}
	if r.metrics != nil {
		r.metrics.RecordActiveConnections(connCount)
		r.metrics.RecordOnlineUsers(userCount)
		r.metrics.RecordConnectionClosed()
	}
	sess.Conn.Close()
}

// All returns all live sessions.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// CountOnline returns the number of authenticated users with a live session.
func (r *Registry) CountOnline() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// CloseAll closes every live connection and empties the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sess := range r.sessions {
		sess.Conn.Close()
	}
	r.sessions = make(map[uint64]*Session)
	r.byUser = make(map[string]*Session)

	if r.metrics != nil {
		r.metrics.RecordActiveConnections(0)
		r.metrics.RecordOnlineUsers(0)
	}
}
