package core

// Room groups connections subscribed to the same name.
type Room struct {
	Name  string
	conns map[*Connection]struct{}
}

// NewRoom constructs a room with no members.
func NewRoom(name string) *Room {
	return &Room{
		Name:  name,
		conns: make(map[*Connection]struct{}),
	}
}

// Add inserts a connection into the room. Returns true if newly added.
func (r *Room) Add(c *Connection) bool {
	if _, exists := r.conns[c]; exists {
		return false
	}
	r.conns[c] = struct{}{}
	return true
}

// Remove deletes a connection from the room. Returns true if removed.
func (r *Room) Remove(c *Connection) bool {
	if _, exists := r.conns[c]; !exists {
		return false
	}
	delete(r.conns, c)
	return true
}

// Empty returns true if no connections are in the room.
func (r *Room) Empty() bool {
	return len(r.conns) == 0
}

// Len returns the member count.
func (r *Room) Len() int {
	return len(r.conns)
}
