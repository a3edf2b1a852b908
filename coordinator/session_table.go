package coordinator

import "sync"

// sessionTable tracks the sockets this node physically owns, with both a
// forward and a reverse index.
// Forward: sessionId → connection (for direct delivery and close)
// Reverse: userId → set of sessionIds (for O(1) per-user fan-out)
//
// It never touches the network; every operation is a short critical section
// so connect/disconnect/send traffic can hammer it concurrently.
type sessionTable struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	users    map[string]map[string]*sessionEntry
}

type sessionEntry struct {
	userID string
	conn   Conn
}

func newSessionTable() *sessionTable {
	return &sessionTable{
		sessions: make(map[string]*sessionEntry),
		users:    make(map[string]map[string]*sessionEntry),
	}
}

func (t *sessionTable) put(sessionID, userID string, conn Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := &sessionEntry{userID: userID, conn: conn}
	t.sessions[sessionID] = entry
	if t.users[userID] == nil {
		t.users[userID] = make(map[string]*sessionEntry)
	}
	t.users[userID][sessionID] = entry
}

func (t *sessionTable) get(sessionID string) (Conn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return entry.conn, true
}

// remove drops a session and reports its owner and whether it was the
// owner's last session on this node.
func (t *sessionTable) remove(sessionID string) (userID string, last, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, found := t.sessions[sessionID]
	if !found {
		return "", false, false
	}
	delete(t.sessions, sessionID)
	userID = entry.userID
	if sessions, exists := t.users[userID]; exists {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(t.users, userID)
			last = true
		}
	}
	return userID, last, true
}

// sessionsOf returns the ids of every local session the user has.
func (t *sessionTable) sessionsOf(userID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sessions := t.users[userID]
	if len(sessions) == 0 {
		return nil
	}
	result := make([]string, 0, len(sessions))
	for sid := range sessions {
		result = append(result, sid)
	}
	return result
}

func (t *sessionTable) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

func (t *sessionTable) countOf(userID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.users[userID])
}

// snapshot copies out the current session set so broadcast delivery can
// iterate without holding the lock across transport writes.
func (t *sessionTable) snapshot() map[string]Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	result := make(map[string]Conn, len(t.sessions))
	for sid, entry := range t.sessions {
		result[sid] = entry.conn
	}
	return result
}
