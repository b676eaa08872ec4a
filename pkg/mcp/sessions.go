package mcp

import "sync"

// SessionRegistry maps in-flight call IDs to MCP session IDs so events of a
// call are pushed only to the client that made it.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // callID → sessionID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a call ID with a session ID.
func (r *SessionRegistry) Register(callID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[callID] = sessionID
}

// SessionFor returns the session ID that owns the call, if any.
func (r *SessionRegistry) SessionFor(callID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[callID]
	return sid, ok
}

// Release forgets a finished call.
func (r *SessionRegistry) Release(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, callID)
}

// Remove deletes every call mapped to the given session ID.
// Called when a session disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for cid, sid := range r.sessions {
		if sid == sessionID {
			delete(r.sessions, cid)
		}
	}
}

// Len returns the number of in-flight calls tracked.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
