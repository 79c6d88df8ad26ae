// Package session tracks live connections and their room memberships, and
// provides the fan-out primitives used by the real-time layer.
package session

import (
	"sync"

	"plazaviva.org/internal/identity"
)

// Room names. Every session joins its personal room plus the role room
// matching its identity.
const (
	RoomVendors = "vendors"
	RoomClients = "clients"
)

// PersonalRoom returns the single-recipient room for a user.
func PersonalRoom(userID string) string {
	return "user_" + userID
}

// Event is an outbound server-to-connection message.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"payload"`
}

// Conn is the transport side of a session. Send must not block: it reports
// false when the connection is already gone or its outbound buffer is full.
type Conn interface {
	ID() string
	Send(evt Event) bool
}

// Session binds a live connection to the identity that authenticated it.
type Session struct {
	Conn  Conn
	User  identity.User
	Rooms []string
}

// Registry owns all sessions in the process. A connection belongs to the
// registry from Register until Unregister; the gateway holds only a transient
// reference during event handling.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
	}
}

// Register stores the connection under its computed room memberships.
// Registering the same connection twice is a no-op.
func (r *Registry) Register(conn Conn, user identity.User) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	if _, ok := r.sessions[id]; ok {
		return
	}

	rooms := []string{PersonalRoom(user.ID)}
	switch user.Role {
	case identity.RoleVendor:
		rooms = append(rooms, RoomVendors)
	case identity.RoleClient:
		rooms = append(rooms, RoomClients)
	}

	s := &Session{Conn: conn, User: user, Rooms: rooms}
	r.sessions[id] = s
	for _, room := range rooms {
		members, ok := r.rooms[room]
		if !ok {
			members = make(map[string]*Session)
			r.rooms[room] = members
		}
		members[id] = s
	}
}

// Unregister removes the connection and all its memberships. Unknown
// connections are ignored; this runs on every raw transport disconnect.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connID]
	if !ok {
		return
	}
	delete(r.sessions, connID)
	for _, room := range s.Rooms {
		members := r.rooms[room]
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// Session returns the session for a connection, if it is still registered.
func (r *Registry) Session(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	return s, ok
}

// SendToRoom delivers the event to every connection currently in the room and
// returns the number of recipients that accepted it. An empty room is not an
// error: zero means nobody was listening.
func (r *Registry) SendToRoom(room string, evt Event) int {
	r.mu.RLock()
	members := make([]*Session, 0, len(r.rooms[room]))
	for _, s := range r.rooms[room] {
		members = append(members, s)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, s := range members {
		if s.Conn.Send(evt) {
			delivered++
		}
	}
	return delivered
}

// SendToConnection unicasts the event. It returns false when the connection
// no longer exists; the caller disconnecting between trigger and delivery is
// a routine race, not a failure.
func (r *Registry) SendToConnection(connID string, evt Event) bool {
	r.mu.RLock()
	s, ok := r.sessions[connID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return s.Conn.Send(evt)
}

// Len reports the number of live sessions, for metrics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// RoomLen reports the number of sessions in a room.
func (r *Registry) RoomLen(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}
