package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// User is the profile subset the relay needs.
type User struct {
	ID        int64
	Username  string
	CreatedAt time.Time
}

// Message represents a persisted direct message.
type Message struct {
	ID          int64
	SenderID    int64
	RecipientID int64
	Content     string
	CreatedAt   time.Time
}

// UserStore resolves profiles for connections whose token lacks a username.
type UserStore interface {
	// UpsertUser records the username for id, replacing any earlier one.
	UpsertUser(ctx context.Context, id int64, username string) error

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)
}

// FollowStore answers who should see an author's feed events.
type FollowStore interface {
	// Follow records followerID following followeeID. Repeated calls are no-ops.
	Follow(ctx context.Context, followerID, followeeID int64) error

	// Unfollow removes the edge if present.
	Unfollow(ctx context.Context, followerID, followeeID int64) error

	// SetFollowers replaces every follower of userID with followerIDs.
	SetFollowers(ctx context.Context, userID int64, followerIDs []int64) error

	// ListFollowers returns the IDs following userID, ascending.
	ListFollowers(ctx context.Context, userID int64) ([]int64, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists msg and fills in ID and CreatedAt.
	SaveMessage(ctx context.Context, msg *Message) error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	FollowStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
