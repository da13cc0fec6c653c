package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/store"
)

// ErrUnknownEvent is returned by Dispatch for names outside the vocabulary.
var ErrUnknownEvent = errors.New("unknown event")

// Publisher is the part of core.Hub the relay needs.
type Publisher interface {
	Publish(ctx context.Context, ev core.DomainEvent) error
}

// Store is the storage the relay consults.
type Store interface {
	store.UserStore
	store.FollowStore
	store.MessageStore
}

// Relay turns domain actions from the CRUD layer into fan-out events.
type Relay struct {
	hub    Publisher
	store  Store
	fanout string
	log    *zerolog.Logger
}

// New builds a relay. fanout is config.FanoutBroadcast or config.FanoutTargeted.
func New(hub Publisher, st Store, fanout string, logger *zerolog.Logger) *Relay {
	if fanout != config.FanoutBroadcast {
		fanout = config.FanoutTargeted
	}
	relayLog := logger.With().Str("component", "relay").Str("fanout", fanout).Logger()
	return &Relay{hub: hub, store: st, fanout: fanout, log: &relayLog}
}

// Targeted reports whether feed events go to interested users only.
func (r *Relay) Targeted() bool {
	return r.fanout == config.FanoutTargeted
}

// PostLiked notifies the post owner and the actor, or everyone in broadcast mode.
func (r *Relay) PostLiked(ctx context.Context, like PostLike) error {
	return r.postLike(ctx, EventPostLiked, like)
}

// PostUnliked mirrors PostLiked.
func (r *Relay) PostUnliked(ctx context.Context, like PostLike) error {
	return r.postLike(ctx, EventPostUnliked, like)
}

func (r *Relay) postLike(ctx context.Context, name string, like PostLike) error {
	if like.PostID <= 0 || like.ActorID <= 0 {
		return fmt.Errorf("%w: postId and actorId are required", core.ErrBadRequest)
	}
	if like.ActorName == "" {
		like.ActorName = r.username(ctx, like.ActorID)
	}
	return r.publish(ctx, name, like, r.users(like.OwnerID, like.ActorID))
}

// PostViewed notifies the author's audience.
func (r *Relay) PostViewed(ctx context.Context, view PostView) error {
	if view.PostID <= 0 {
		return fmt.Errorf("%w: postId is required", core.ErrBadRequest)
	}
	targets, err := r.audience(ctx, view.AuthorID)
	if err != nil {
		return err
	}
	return r.publish(ctx, EventPostViewed, view, targets)
}

// NewPost notifies the author's followers and the author.
func (r *Relay) NewPost(ctx context.Context, post Post) error {
	if post.PostID <= 0 || post.AuthorID <= 0 {
		return fmt.Errorf("%w: postId and authorId are required", core.ErrBadRequest)
	}
	if post.AuthorName == "" {
		post.AuthorName = r.username(ctx, post.AuthorID)
	}
	targets, err := r.audience(ctx, post.AuthorID)
	if err != nil {
		return err
	}
	return r.publish(ctx, EventNewPost, post, targets)
}

// NewComment notifies the post owner and the commenter.
func (r *Relay) NewComment(ctx context.Context, c NewComment) error {
	if c.PostID <= 0 || c.Comment.AuthorID <= 0 {
		return fmt.Errorf("%w: postId and comment.authorId are required", core.ErrBadRequest)
	}
	if c.Comment.AuthorName == "" {
		c.Comment.AuthorName = r.username(ctx, c.Comment.AuthorID)
	}
	return r.publish(ctx, EventNewComment, c, r.users(c.PostOwnerID, c.Comment.AuthorID))
}

// FollowChanged records the edge for targeted fan-out and notifies followee and follower.
func (r *Relay) FollowChanged(ctx context.Context, f FollowChange) error {
	if f.FollowerID <= 0 || f.FolloweeID <= 0 || f.FollowerID == f.FolloweeID {
		return fmt.Errorf("%w: followerId and followeeId must be distinct users", core.ErrBadRequest)
	}

	var err error
	if f.IsFollowing {
		err = r.store.Follow(ctx, f.FollowerID, f.FolloweeID)
	} else {
		err = r.store.Unfollow(ctx, f.FollowerID, f.FolloweeID)
	}
	if err != nil {
		return fmt.Errorf("record follow: %w", err)
	}

	return r.publish(ctx, EventFollowChanged, f, r.users(f.FolloweeID, f.FollowerID))
}

// MessageDelivered persists a direct message and then notifies both users.
// Nothing is published if the write fails.
func (r *Relay) MessageDelivered(ctx context.Context, senderID, recipientID int64, content string) (*store.Message, error) {
	content = strings.TrimSpace(content)
	switch {
	case content == "":
		return nil, fmt.Errorf("%w: content is required", core.ErrBadRequest)
	case recipientID <= 0 || recipientID == senderID:
		return nil, fmt.Errorf("%w: invalid recipient", core.ErrBadRequest)
	}

	msg := &store.Message{SenderID: senderID, RecipientID: recipientID, Content: content}
	if err := r.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	payload := MessageDelivered{Message: messageFromStore(msg)}
	targets := []string{core.RoomFor(senderID), core.RoomFor(recipientID)}
	if err := r.publish(ctx, EventMessageDelivered, payload, targets); err != nil {
		return msg, err
	}
	return msg, nil
}

// AnnounceMessage relays a message the feed backend has already stored. The
// message keeps its id and timestamp and nothing is written here.
func (r *Relay) AnnounceMessage(ctx context.Context, msg Message) error {
	switch {
	case msg.ID <= 0:
		return fmt.Errorf("%w: message id is required", core.ErrBadRequest)
	case msg.SenderID <= 0 || msg.RecipientID <= 0 || msg.SenderID == msg.RecipientID:
		return fmt.Errorf("%w: invalid sender or recipient", core.ErrBadRequest)
	}
	targets := []string{core.RoomFor(msg.SenderID), core.RoomFor(msg.RecipientID)}
	return r.publish(ctx, EventMessageDelivered, MessageDelivered{Message: msg}, targets)
}

// UserUpdated records a profile so later events can carry display names.
// It is not forwarded to clients.
func (r *Relay) UserUpdated(ctx context.Context, u UserUpdate) error {
	if u.UserID <= 0 || strings.TrimSpace(u.Username) == "" {
		return fmt.Errorf("%w: userId and username are required", core.ErrBadRequest)
	}
	if err := r.store.UpsertUser(ctx, u.UserID, strings.TrimSpace(u.Username)); err != nil {
		return fmt.Errorf("record user: %w", err)
	}
	return nil
}

// FollowersSynced replaces the follower set of a user with the backend's view.
// It is not forwarded to clients.
func (r *Relay) FollowersSynced(ctx context.Context, f FollowerSync) error {
	if f.UserID <= 0 {
		return fmt.Errorf("%w: userId is required", core.ErrBadRequest)
	}
	for _, id := range f.FollowerIDs {
		if id <= 0 || id == f.UserID {
			return fmt.Errorf("%w: invalid follower %d", core.ErrBadRequest, id)
		}
	}
	if err := r.store.SetFollowers(ctx, f.UserID, f.FollowerIDs); err != nil {
		return fmt.Errorf("sync followers: %w", err)
	}
	r.log.Debug().Int64("user_id", f.UserID).Int("followers", len(f.FollowerIDs)).Msg("followers synced")
	return nil
}

// FriendRequestCreated notifies the recipient.
func (r *Relay) FriendRequestCreated(ctx context.Context, req FriendRequest) error {
	if req.RecipientID <= 0 || req.SenderID <= 0 {
		return fmt.Errorf("%w: senderId and recipientId are required", core.ErrBadRequest)
	}
	if req.Status == "" {
		req.Status = "pending"
	}
	if req.SenderName == "" {
		req.SenderName = r.username(ctx, req.SenderID)
	}
	return r.publish(ctx, EventFriendRequestCreated, req, []string{core.RoomFor(req.RecipientID)})
}

// FriendRequestResolved notifies both sides of the request.
func (r *Relay) FriendRequestResolved(ctx context.Context, req FriendRequest) error {
	if req.RecipientID <= 0 || req.SenderID <= 0 {
		return fmt.Errorf("%w: senderId and recipientId are required", core.ErrBadRequest)
	}
	if req.Status != "accepted" && req.Status != "rejected" {
		return fmt.Errorf("%w: status must be accepted or rejected", core.ErrBadRequest)
	}
	targets := []string{core.RoomFor(req.SenderID), core.RoomFor(req.RecipientID)}
	return r.publish(ctx, EventFriendRequestResolved, req, targets)
}

// FriendRemoved notifies both former friends, or everyone in broadcast mode.
func (r *Relay) FriendRemoved(ctx context.Context, rm FriendRemoval) error {
	if rm.UserID <= 0 || rm.FriendID <= 0 {
		return fmt.Errorf("%w: userId and friendId are required", core.ErrBadRequest)
	}
	return r.publish(ctx, EventFriendRemoved, rm, r.users(rm.UserID, rm.FriendID))
}

// Dispatch decodes a named event from the internal publish API and routes it
// to the matching typed method.
func (r *Relay) Dispatch(ctx context.Context, name string, data json.RawMessage) error {
	switch name {
	case EventPostLiked, EventPostUnliked:
		var v PostLike
		if err := decode(data, &v); err != nil {
			return err
		}
		return r.postLike(ctx, name, v)
	case EventPostViewed:
		var v PostView
		if err := decode(data, &v); err != nil {
			return err
		}
		return r.PostViewed(ctx, v)
	case EventNewPost:
		var v Post
		if err := decode(data, &v); err != nil {
			return err
		}
		return r.NewPost(ctx, v)
	case EventNewComment:
		var v NewComment
		if err := decode(data, &v); err != nil {
			return err
		}
		return r.NewComment(ctx, v)
	case EventFollowChanged:
		var v FollowChange
		if err := decode(data, &v); err != nil {
			return err
		}
		return r.FollowChanged(ctx, v)
	case EventMessageDelivered:
		var v MessageDelivered
		if err := decode(data, &v); err != nil {
			return err
		}
		return r.AnnounceMessage(ctx, v.Message)
	case EventUserUpdated:
		var v UserUpdate
		if err := decode(data, &v); err != nil {
			return err
		}
		return r.UserUpdated(ctx, v)
	case EventFollowersSynced:
		var v FollowerSync
		if err := decode(data, &v); err != nil {
			return err
		}
		return r.FollowersSynced(ctx, v)
	case EventFriendRequestCreated:
		var v FriendRequest
		if err := decode(data, &v); err != nil {
			return err
		}
		return r.FriendRequestCreated(ctx, v)
	case EventFriendRequestResolved:
		var v FriendRequest
		if err := decode(data, &v); err != nil {
			return err
		}
		return r.FriendRequestResolved(ctx, v)
	case EventFriendRemoved:
		var v FriendRemoval
		if err := decode(data, &v); err != nil {
			return err
		}
		return r.FriendRemoved(ctx, v)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: data is required", core.ErrBadRequest)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", core.ErrBadRequest, err)
	}
	return nil
}

func (r *Relay) publish(ctx context.Context, name string, payload any, targets []string) error {
	if !r.Targeted() && !private(name) {
		targets = []string{core.Broadcast}
	}
	if len(targets) == 0 {
		r.log.Debug().Str("event", name).Msg("no recipients")
		return nil
	}
	if err := r.hub.Publish(ctx, core.DomainEvent{Type: name, Payload: payload, Targets: targets}); err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}
	r.log.Debug().Str("event", name).Int("targets", len(targets)).Msg("published")
	return nil
}

// Friend requests and messages are private in every mode.
func private(name string) bool {
	switch name {
	case EventMessageDelivered, EventFriendRequestCreated, EventFriendRequestResolved:
		return true
	}
	return false
}

// users returns the private rooms of the given users, skipping unset IDs.
func (r *Relay) users(ids ...int64) []string {
	rooms := make([]string, 0, len(ids))
	for _, id := range ids {
		if id > 0 {
			rooms = append(rooms, core.RoomFor(id))
		}
	}
	return rooms
}

// audience is the author plus their followers.
func (r *Relay) audience(ctx context.Context, authorID int64) ([]string, error) {
	if !r.Targeted() {
		return nil, nil
	}
	followers, err := r.store.ListFollowers(ctx, authorID)
	if err != nil {
		return nil, fmt.Errorf("list followers: %w", err)
	}
	return r.users(append([]int64{authorID}, followers...)...), nil
}

// username resolves display metadata; a missing profile is not an error.
func (r *Relay) username(ctx context.Context, userID int64) string {
	u, err := r.store.GetUserByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.log.Warn().Err(err).Int64("user_id", userID).Msg("profile lookup")
		}
		return ""
	}
	return u.Username
}
