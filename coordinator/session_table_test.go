package coordinator

import (
	"fmt"
	"testing"
)

func TestSessionTable_PutGetRemove(t *testing.T) {
	table := newSessionTable()
	conn := &fakeConn{}

	table.put("s1", "alice", conn)

	got, ok := table.get("s1")
	if !ok {
		t.Fatal("expected s1 to be present")
	}
	if got != Conn(conn) {
		t.Error("get returned a different connection")
	}

	userID, last, ok := table.remove("s1")
	if !ok {
		t.Fatal("expected remove to find s1")
	}
	if userID != "alice" {
		t.Errorf("expected owner alice, got %q", userID)
	}
	if !last {
		t.Error("expected s1 to be alice's last session")
	}

	if _, ok := table.get("s1"); ok {
		t.Error("s1 still present after remove")
	}
}

func TestSessionTable_RemoveUnknownSession(t *testing.T) {
	table := newSessionTable()
	if _, _, ok := table.remove("nope"); ok {
		t.Error("remove of unknown session reported ok")
	}
}

func TestSessionTable_LastOfUser(t *testing.T) {
	table := newSessionTable()
	table.put("s1", "alice", &fakeConn{})
	table.put("s2", "alice", &fakeConn{})

	if _, last, _ := table.remove("s1"); last {
		t.Error("s1 reported as last while s2 still open")
	}
	if _, last, _ := table.remove("s2"); !last {
		t.Error("s2 not reported as last")
	}
}

func TestSessionTable_SessionsOfAndCounts(t *testing.T) {
	table := newSessionTable()
	table.put("s1", "alice", &fakeConn{})
	table.put("s2", "alice", &fakeConn{})
	table.put("s3", "bob", &fakeConn{})

	if got := table.count(); got != 3 {
		t.Errorf("count() = %d, want 3", got)
	}
	if got := table.countOf("alice"); got != 2 {
		t.Errorf("countOf(alice) = %d, want 2", got)
	}
	if got := table.countOf("nobody"); got != 0 {
		t.Errorf("countOf(nobody) = %d, want 0", got)
	}

	sessions := table.sessionsOf("alice")
	if len(sessions) != 2 {
		t.Fatalf("sessionsOf(alice) = %v, want 2 entries", sessions)
	}
	seen := map[string]bool{}
	for _, sid := range sessions {
		seen[sid] = true
	}
	if !seen["s1"] || !seen["s2"] {
		t.Errorf("sessionsOf(alice) = %v, want s1 and s2", sessions)
	}
}

func TestSessionTable_Snapshot(t *testing.T) {
	table := newSessionTable()
	table.put("s1", "alice", &fakeConn{})
	table.put("s2", "bob", &fakeConn{})

	snap := table.snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d entries, want 2", len(snap))
	}

	// Snapshot is a copy — mutating the table afterwards must not affect it.
	table.remove("s1")
	if len(snap) != 2 {
		t.Error("snapshot changed after table mutation")
	}
}

func TestSessionTable_Concurrency(t *testing.T) {
	table := newSessionTable()
	done := make(chan bool)

	for i := 0; i < 10; i++ {
		go func(worker int) {
			for j := 0; j < 100; j++ {
				sid := fmt.Sprintf("s%d-%d", worker, j)
				uid := fmt.Sprintf("u%d", worker)
				table.put(sid, uid, &fakeConn{})
				table.get(sid)
				table.sessionsOf(uid)
				table.count()
				table.snapshot()
				table.remove(sid)
			}
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	if got := table.count(); got != 0 {
		t.Errorf("count() = %d after all workers removed their sessions, want 0", got)
	}
}
