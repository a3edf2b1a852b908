package coordinator

import "testing"

func TestRedisKeyScheme(t *testing.T) {
	s := NewRedisPresenceStore(nil, "")

	cases := []struct {
		got  string
		want string
	}{
		{s.keyUsers(), "presence:users"},
		{s.keySessionUser(), "presence:session_user"},
		{s.keySessionNode(), "presence:session_node"},
		{s.keyNodeSessions("n1"), "presence:node:n1:sessions"},
		{s.keyUserSessions("alice"), "presence:user:alice:sessions"},
		{s.keyHeartbeat("n1"), "presence:heartbeat:n1"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("key %q, want %q", tc.got, tc.want)
		}
	}
}

func TestRedisKeyScheme_CustomPrefix(t *testing.T) {
	s := NewRedisPresenceStore(nil, "coord")
	if got := s.keyHeartbeat("n2"); got != "coord:heartbeat:n2" {
		t.Errorf("key %q, want coord:heartbeat:n2", got)
	}
}
