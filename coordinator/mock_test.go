package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeConn records sends and closes; failSend simulates a dead transport.
type fakeConn struct {
	mu         sync.Mutex
	sent       [][]byte
	failSend   bool
	closed     bool
	closeCalls int
	reason     string
}

func (c *fakeConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend || c.closed {
		return errors.New("transport write failed")
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.sent = append(c.sent, buf)
	return nil
}

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	if !c.closed {
		c.closed = true
		c.reason = reason
	}
	return nil
}

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeConn) lastSent() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

func (c *fakeConn) closedWith() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls, c.reason
}

// fakeStore is an in-memory PresenceStore with a mutation-call counter so
// shutdown-mode tests can assert zero distributed writes.
type fakeStore struct {
	mu            sync.Mutex
	failAll       bool
	mutationCalls int
	sessionUser   map[string]string
	sessionNode   map[string]string
	userSessions  map[string]map[string]bool
	heartbeats    map[string]map[string]int64 // node → session → unix millis
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessionUser:  make(map[string]string),
		sessionNode:  make(map[string]string),
		userSessions: make(map[string]map[string]bool),
		heartbeats:   make(map[string]map[string]int64),
	}
}

var errStoreDown = errors.New("presence store unavailable")

func (s *fakeStore) MarkOnline(_ context.Context, userID, sessionID, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutationCalls++
	if s.failAll {
		return errStoreDown
	}
	s.sessionUser[sessionID] = userID
	s.sessionNode[sessionID] = nodeID
	if s.userSessions[userID] == nil {
		s.userSessions[userID] = make(map[string]bool)
	}
	s.userSessions[userID][sessionID] = true
	return nil
}

func (s *fakeStore) MarkOffline(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutationCalls++
	if s.failAll {
		return "", errStoreDown
	}
	userID, ok := s.sessionUser[sessionID]
	if !ok {
		return "", nil
	}
	nodeID := s.sessionNode[sessionID]
	delete(s.sessionUser, sessionID)
	delete(s.sessionNode, sessionID)
	if sessions := s.userSessions[userID]; sessions != nil {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(s.userSessions, userID)
		}
	}
	if hb := s.heartbeats[nodeID]; hb != nil {
		delete(hb, sessionID)
	}
	return userID, nil
}

func (s *fakeStore) TouchHeartbeat(_ context.Context, nodeID, sessionID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutationCalls++
	if s.failAll {
		return errStoreDown
	}
	if s.heartbeats[nodeID] == nil {
		s.heartbeats[nodeID] = make(map[string]int64)
	}
	s.heartbeats[nodeID][sessionID] = now.UnixMilli()
	return nil
}

func (s *fakeStore) ExpiredSessions(_ context.Context, nodeID string, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, errStoreDown
	}
	var expired []string
	for sid, ms := range s.heartbeats[nodeID] {
		if ms <= cutoff.UnixMilli() {
			expired = append(expired, sid)
		}
	}
	return expired, nil
}

func (s *fakeStore) OnlineUserCount(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return 0, errStoreDown
	}
	return int64(len(s.userSessions)), nil
}

func (s *fakeStore) OnlineUsers(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, errStoreDown
	}
	users := make([]string, 0, len(s.userSessions))
	for uid := range s.userSessions {
		users = append(users, uid)
	}
	return users, nil
}

func (s *fakeStore) SessionsOfNode(_ context.Context, nodeID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, errStoreDown
	}
	var sessions []string
	for sid, nid := range s.sessionNode {
		if nid == nodeID {
			sessions = append(sessions, sid)
		}
	}
	return sessions, nil
}

func (s *fakeStore) mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutationCalls
}

func (s *fakeStore) online(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.userSessions[userID]) > 0
}

func (s *fakeStore) setHeartbeat(nodeID, sessionID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heartbeats[nodeID] == nil {
		s.heartbeats[nodeID] = make(map[string]int64)
	}
	s.heartbeats[nodeID][sessionID] = at.UnixMilli()
}

// fakeBus delivers every publish synchronously to every subscriber, the
// publisher's own handler included — exactly the topology the real bus has.
type fakeBus struct {
	mu        sync.Mutex
	published []Envelope
	handlers  []func(Envelope)
	failAll   bool
}

func (b *fakeBus) Publish(_ context.Context, env Envelope) error {
	b.mu.Lock()
	if b.failAll {
		b.mu.Unlock()
		return errors.New("bus unavailable")
	}
	b.published = append(b.published, env)
	handlers := make([]func(Envelope), len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		h(env)
	}
	return nil
}

func (b *fakeBus) Subscribe(handler func(Envelope)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
	return nil
}

func (b *fakeBus) publishedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func (b *fakeBus) lastPublished() (Envelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.published) == 0 {
		return Envelope{}, false
	}
	return b.published[len(b.published)-1], true
}
