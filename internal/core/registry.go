package core

import (
	"sort"
)

// Registry tracks live connections per user and room membership.
// It is not safe for concurrent use; the hub goroutine owns it.
type Registry struct {
	conns  map[*Connection]struct{}
	byUser map[int64]map[*Connection]struct{}
	rooms  map[string]*Room
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[*Connection]struct{}),
		byUser: make(map[int64]map[*Connection]struct{}),
		rooms:  make(map[string]*Room),
	}
}

// Register adds c and joins it to its private user room. Returns false if c was already registered.
func (r *Registry) Register(c *Connection) bool {
	if _, ok := r.conns[c]; ok {
		return false
	}
	r.conns[c] = struct{}{}

	set, ok := r.byUser[c.UserID]
	if !ok {
		set = make(map[*Connection]struct{})
		r.byUser[c.UserID] = set
	}
	set[c] = struct{}{}

	r.Join(c, RoomFor(c.UserID))
	return true
}

// Unregister removes c from every room and from the user index. Returns false if c was unknown.
func (r *Registry) Unregister(c *Connection) bool {
	if _, ok := r.conns[c]; !ok {
		return false
	}
	delete(r.conns, c)

	for name := range c.rooms {
		r.leave(c, name)
	}

	if set, ok := r.byUser[c.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.byUser, c.UserID)
		}
	}
	return true
}

// Has reports whether c is currently registered.
func (r *Registry) Has(c *Connection) bool {
	_, ok := r.conns[c]
	return ok
}

// RouteTo returns the live connections of userID, oldest first. Empty means unreachable.
func (r *Registry) RouteTo(userID int64) []*Connection {
	return sorted(r.byUser[userID])
}

// Reachable reports whether userID has at least one live connection.
func (r *Registry) Reachable(userID int64) bool {
	return len(r.byUser[userID]) > 0
}

// Join adds c to room. Returns false if c is unregistered or already a member.
func (r *Registry) Join(c *Connection, name string) bool {
	if !r.Has(c) {
		return false
	}
	room, ok := r.rooms[name]
	if !ok {
		room = NewRoom(name)
		r.rooms[name] = room
	}
	if !room.Add(c) {
		return false
	}
	c.rooms[name] = struct{}{}
	return true
}

// Leave removes c from room. Returns false if c was not a member.
func (r *Registry) Leave(c *Connection, name string) bool {
	if _, ok := c.rooms[name]; !ok {
		return false
	}
	return r.leave(c, name)
}

func (r *Registry) leave(c *Connection, name string) bool {
	delete(c.rooms, name)
	room, ok := r.rooms[name]
	if !ok {
		return false
	}
	removed := room.Remove(c)
	if room.Empty() {
		delete(r.rooms, name)
	}
	return removed
}

// Members returns the connections in room, oldest first.
func (r *Registry) Members(name string) []*Connection {
	room, ok := r.rooms[name]
	if !ok {
		return nil
	}
	return sorted(room.conns)
}

// All returns every live connection, oldest first.
func (r *Registry) All() []*Connection {
	return sorted(r.conns)
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	return len(r.conns)
}

// RoomCount returns the number of non-empty rooms.
func (r *Registry) RoomCount() int {
	return len(r.rooms)
}

func sorted(set map[*Connection]struct{}) []*Connection {
	if len(set) == 0 {
		return nil
	}
	out := make([]*Connection, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}
