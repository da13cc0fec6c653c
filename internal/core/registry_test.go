package core

import "testing"

func TestRegistryRoutesOnlyOwnConnections(t *testing.T) {
	r := NewRegistry()
	alicePhone := NewConnection(1, "alice", 1)
	aliceLaptop := NewConnection(1, "alice", 1)
	bob := NewConnection(2, "bob", 1)

	for _, c := range []*Connection{alicePhone, aliceLaptop, bob} {
		if !r.Register(c) {
			t.Fatalf("register %s failed", c.ID)
		}
	}
	if r.Register(bob) {
		t.Fatal("second register should report false")
	}

	routes := r.RouteTo(1)
	if len(routes) != 2 {
		t.Fatalf("expected 2 routes for alice, got %d", len(routes))
	}
	for _, c := range routes {
		if c.UserID != 1 {
			t.Fatalf("route to alice contains %d", c.UserID)
		}
	}

	members := r.Members(RoomFor(1))
	if len(members) != 2 {
		t.Fatalf("expected user room with 2 members, got %d", len(members))
	}
	if got := r.RouteTo(3); len(got) != 0 {
		t.Fatalf("expected no routes for unknown user, got %d", len(got))
	}
	if r.Reachable(3) || !r.Reachable(2) {
		t.Fatal("reachability mismatch")
	}
}

func TestRegistryUnregisterCleansRooms(t *testing.T) {
	r := NewRegistry()
	alice := NewConnection(1, "alice", 1)
	r.Register(alice)
	r.Join(alice, "general")

	if r.RoomCount() != 2 {
		t.Fatalf("expected 2 rooms, got %d", r.RoomCount())
	}

	if !r.Unregister(alice) {
		t.Fatal("unregister failed")
	}
	if r.Unregister(alice) {
		t.Fatal("second unregister should be a no-op")
	}
	if r.RoomCount() != 0 || r.Len() != 0 {
		t.Fatalf("expected empty registry, got rooms=%d conns=%d", r.RoomCount(), r.Len())
	}
	if r.Reachable(1) {
		t.Fatal("alice should be unreachable")
	}
	if r.Join(alice, "general") {
		t.Fatal("unregistered connection must not join rooms")
	}
}

func TestRegistryJoinLeave(t *testing.T) {
	r := NewRegistry()
	alice := NewConnection(1, "alice", 1)
	r.Register(alice)

	if !r.Join(alice, "general") {
		t.Fatal("join failed")
	}
	if r.Join(alice, "general") {
		t.Fatal("double join should report false")
	}
	if !r.Leave(alice, "general") {
		t.Fatal("leave failed")
	}
	if r.Leave(alice, "general") {
		t.Fatal("leave of non-member should report false")
	}
	if r.Members("general") != nil {
		t.Fatal("empty room should be dropped")
	}
}

func TestRoomFor(t *testing.T) {
	if got := RoomFor(42); got != "user:42" {
		t.Fatalf("RoomFor(42) = %q", got)
	}
	if !IsUserRoom(RoomFor(7)) || IsUserRoom("general") {
		t.Fatal("IsUserRoom mismatch")
	}
}
