package ftpserver

import (
	"sync"

	"github.com/gonzalop/ftpd/adminproto"
)

// registeredSession is the slice of *session that SessionRegistry needs;
// kept as an interface so registry.go has no dependency on session.go's
// internals beyond what administration actually exposes.
type registeredSession interface {
	Info() adminproto.SessionInfo
	Kick()
}

// SessionRegistry tracks every session a Server family currently serves,
// so adminserver can answer ListSessions and KickSession (adminproto
// §admin RPCs) without reaching into per-listener internals.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]registeredSession
}

// NewSessionRegistry returns an empty registry ready to share across
// every listener a process runs.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]registeredSession)}
}

// Add registers s under id. s needs only Info and Kick to qualify,
// so callers outside this package (tests, adminserver) can register a
// stand-in without reaching into ftpserver's session internals.
func (r *SessionRegistry) Add(id string, s registeredSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = s
}

// Remove drops id from the registry.
func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// List returns a snapshot of every active session, for adminproto.SessionList.
func (r *SessionRegistry) List() []adminproto.SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]adminproto.SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}
	return out
}

// Kick terminates the session with the given ID, if still connected. It
// reports whether a matching session was found.
func (r *SessionRegistry) Kick(id string) bool {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	s.Kick()
	return true
}
