package session

import (
	"testing"

	"plazaviva.org/internal/identity"
)

type fakeConn struct {
	id     string
	events []Event
	closed bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(evt Event) bool {
	if c.closed {
		return false
	}
	c.events = append(c.events, evt)
	return true
}

func vendor(id string) identity.User {
	return identity.User{ID: id, Role: identity.RoleVendor, Name: "v-" + id, IsActive: true}
}

func client(id string) identity.User {
	return identity.User{ID: id, Role: identity.RoleClient, Name: "c-" + id, IsActive: true}
}

func TestRegisterComputesRooms(t *testing.T) {
	r := NewRegistry()
	cv := &fakeConn{id: "conn-1"}
	cc := &fakeConn{id: "conn-2"}

	r.Register(cv, vendor("v1"))
	r.Register(cc, client("c1"))

	if n := r.RoomLen(RoomVendors); n != 1 {
		t.Fatalf("vendors room: %d", n)
	}
	if n := r.RoomLen(RoomClients); n != 1 {
		t.Fatalf("clients room: %d", n)
	}
	if n := r.RoomLen(PersonalRoom("v1")); n != 1 {
		t.Fatalf("personal room: %d", n)
	}
}

func TestRegisterIdempotent(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{id: "conn-1"}
	r.Register(c, vendor("v1"))
	r.Register(c, vendor("v1"))

	if r.Len() != 1 {
		t.Fatalf("sessions: %d", r.Len())
	}
	if n := r.SendToRoom(RoomVendors, Event{Name: "ping"}); n != 1 {
		t.Fatalf("delivered: %d", n)
	}
}

func TestUnregisterRemovesAllMemberships(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{id: "conn-1"}
	r.Register(c, vendor("v1"))
	r.Unregister("conn-1")

	if r.Len() != 0 {
		t.Fatalf("sessions: %d", r.Len())
	}
	if n := r.SendToRoom(PersonalRoom("v1"), Event{Name: "ping"}); n != 0 {
		t.Fatalf("delivered after unregister: %d", n)
	}
	// Unknown connection is a no-op.
	r.Unregister("conn-1")
	r.Unregister("never-registered")
}

func TestSendToRoomCountsOnlyAccepted(t *testing.T) {
	r := NewRegistry()
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b", closed: true}
	r.Register(a, vendor("v1"))
	r.Register(b, vendor("v2"))

	if n := r.SendToRoom(RoomVendors, Event{Name: "order_received"}); n != 1 {
		t.Fatalf("delivered: %d", n)
	}
	if len(a.events) != 1 || a.events[0].Name != "order_received" {
		t.Fatalf("unexpected events: %+v", a.events)
	}
}

func TestSendToConnection(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{id: "conn-1"}
	r.Register(c, client("c1"))

	if !r.SendToConnection("conn-1", Event{Name: "nearby_vendors"}) {
		t.Fatal("expected delivery")
	}
	if r.SendToConnection("gone", Event{Name: "nearby_vendors"}) {
		t.Fatal("expected false for unknown connection")
	}
}

func TestOneIdentityMultipleSessions(t *testing.T) {
	r := NewRegistry()
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	r.Register(a, vendor("v1"))
	r.Register(b, vendor("v1"))

	if n := r.SendToRoom(PersonalRoom("v1"), Event{Name: "order_received"}); n != 2 {
		t.Fatalf("delivered: %d", n)
	}
}
