package membership

import "testing"

func TestJoinNamespaceIsExclusive(t *testing.T) {
	s := New()
	s.JoinNamespace(1, "/admin")
	s.JoinNamespace(1, "/user")

	if ns, _ := s.Namespace(1); ns != "/user" {
		t.Fatalf("expected client in /user, got %s", ns)
	}
	if clients := s.ClientsInNamespace("/admin"); len(clients) != 0 {
		t.Fatalf("expected client removed from /admin, got %v", clients)
	}
}

func TestJoinNamespaceClearsRooms(t *testing.T) {
	s := New()
	s.JoinNamespace(1, "/admin")
	s.JoinRoom(1, "/admin", "ops")

	s.JoinNamespace(1, "/user")
	if rooms := s.ClientRooms(1); len(rooms) != 0 {
		t.Fatalf("expected rooms cleared on namespace switch, got %v", rooms)
	}
	if clients := s.ClientsInRoom("/admin", "ops"); len(clients) != 0 {
		t.Fatalf("expected room membership cleared, got %v", clients)
	}
}

func TestLeaveRoomKeepsNamespace(t *testing.T) {
	s := New()
	s.JoinNamespace(1, "/admin")
	s.JoinRoom(1, "/admin", "ops")
	s.LeaveRoom(1, "/admin", "ops")

	if ns, ok := s.Namespace(1); !ok || ns != "/admin" {
		t.Fatalf("expected namespace unchanged, got %s, %v", ns, ok)
	}
}

func TestBroadcastScoping(t *testing.T) {
	s := New()
	s.JoinNamespace(1, "/admin")
	s.JoinNamespace(2, "/admin")
	s.JoinNamespace(3, "/user")
	s.JoinRoom(1, "/admin", "ops")
	s.JoinRoom(2, "/admin", "ops")

	clients := s.ClientsInRoom("/admin", "ops")
	if len(clients) != 2 {
		t.Fatalf("expected 2 clients in /admin#ops, got %d", len(clients))
	}
	for _, c := range clients {
		if c == 3 {
			t.Fatal("client 3 should not receive /admin#ops broadcast")
		}
	}
}

func TestCleanupIsIdempotentAndComplete(t *testing.T) {
	s := New()
	s.JoinNamespace(1, "/admin")
	s.JoinRoom(1, "/admin", "ops")

	s.Cleanup(1)
	s.Cleanup(1) // idempotent

	if _, ok := s.Namespace(1); ok {
		t.Fatal("expected client to have no namespace after cleanup")
	}
	if clients := s.ClientsInRoom("/admin", "ops"); len(clients) != 0 {
		t.Fatal("expected client removed from room after cleanup")
	}
}

func TestJoinRoomRequiresNamespaceMembership(t *testing.T) {
	s := New()
	// Client never joined /admin; joining a room there must be a no-op.
	s.JoinRoom(1, "/admin", "ops")
	if clients := s.ClientsInRoom("/admin", "ops"); len(clients) != 0 {
		t.Fatal("expected room join to be ignored for non-member namespace")
	}
}
