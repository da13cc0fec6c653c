package core

import (
	"time"

	"github.com/google/uuid"
)

// DefaultSendBuffer is used when NewConnection gets a non-positive buffer size.
const DefaultSendBuffer = 64

// Connection is one authenticated, live client transport as seen by the core layer.
// Only the hub goroutine sends on Events; it closes Events on unregister.
type Connection struct {
	ID          string
	UserID      int64
	Username    string
	ConnectedAt time.Time
	Events      chan *Event

	rooms map[string]struct{}
}

// NewConnection constructs a connection with a fresh ID and a bounded event queue.
func NewConnection(userID int64, username string, buffer int) *Connection {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Connection{
		ID:          uuid.NewString(),
		UserID:      userID,
		Username:    username,
		ConnectedAt: time.Now(),
		Events:      make(chan *Event, buffer),
		rooms:       make(map[string]struct{}),
	}
}
