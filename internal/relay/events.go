package relay

import (
	"time"

	"github.com/vovakirdan/wirerelay/internal/store"
)

// Relay event names as seen by clients.
const (
	EventPostLiked             = "post_liked"
	EventPostUnliked           = "post_unliked"
	EventPostViewed            = "post_viewed"
	EventNewPost               = "new_post"
	EventNewComment            = "new_comment"
	EventFollowChanged         = "follow_changed"
	EventMessageDelivered      = "message_delivered"
	EventFriendRequestCreated  = "friend_request_created"
	EventFriendRequestResolved = "friend_request_resolved"
	EventFriendRemoved         = "friend_removed"
)

// Ingest-only names accepted by Dispatch. They update the relay's view of
// profiles and follows and reach no client.
const (
	EventUserUpdated     = "user_updated"
	EventFollowersSynced = "followers_synced"
)

// PostLike is the payload of post_liked and post_unliked.
type PostLike struct {
	PostID    int64  `json:"postId"`
	OwnerID   int64  `json:"ownerId"`
	ActorID   int64  `json:"actorId"`
	ActorName string `json:"actorName,omitempty"`
	LikeCount int64  `json:"likeCount"`
}

// PostView is the payload of post_viewed.
type PostView struct {
	PostID    int64 `json:"postId"`
	AuthorID  int64 `json:"authorId"`
	ViewerID  int64 `json:"viewerId"`
	ViewCount int64 `json:"viewCount"`
}

// Post is the payload of new_post.
type Post struct {
	PostID     int64     `json:"postId"`
	AuthorID   int64     `json:"authorId"`
	AuthorName string    `json:"authorName,omitempty"`
	Content    string    `json:"content,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Comment is the comment object inside new_comment.
type Comment struct {
	ID         int64     `json:"id"`
	AuthorID   int64     `json:"authorId"`
	AuthorName string    `json:"authorName,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewComment is the payload of new_comment.
type NewComment struct {
	PostID      int64   `json:"postId"`
	PostOwnerID int64   `json:"postOwnerId"`
	Comment     Comment `json:"comment"`
}

// FollowChange is the payload of follow_changed.
type FollowChange struct {
	FollowerID    int64 `json:"followerId"`
	FolloweeID    int64 `json:"followeeId"`
	IsFollowing   bool  `json:"isFollowing"`
	FollowerCount int64 `json:"followerCount"`
}

// Message is the message object inside message_delivered.
type Message struct {
	ID          int64     `json:"id"`
	SenderID    int64     `json:"senderId"`
	RecipientID int64     `json:"recipientId"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
}

// MessageDelivered is the payload of message_delivered.
type MessageDelivered struct {
	Message Message `json:"message"`
}

// FriendRequest is the payload of friend_request_created and friend_request_resolved.
type FriendRequest struct {
	RequestID   int64  `json:"requestId"`
	SenderID    int64  `json:"senderId"`
	SenderName  string `json:"senderName,omitempty"`
	RecipientID int64  `json:"recipientId"`
	Status      string `json:"status"`
}

// FriendRemoval is the payload of friend_removed.
type FriendRemoval struct {
	UserID   int64 `json:"userId"`
	FriendID int64 `json:"friendId"`
}

// UserUpdate is the payload of user_updated.
type UserUpdate struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

// FollowerSync is the payload of followers_synced.
type FollowerSync struct {
	UserID      int64   `json:"userId"`
	FollowerIDs []int64 `json:"followerIds"`
}

func messageFromStore(m *store.Message) Message {
	return Message{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Content:     m.Content,
		CreatedAt:   m.CreatedAt,
	}
}
