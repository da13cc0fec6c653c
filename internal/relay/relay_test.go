package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/log"
	"github.com/vovakirdan/wirerelay/internal/store/sqlite"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []core.DomainEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev core.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) last(t *testing.T) core.DomainEvent {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		t.Fatal("nothing published")
	}
	return p.events[len(p.events)-1]
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func newTestRelay(t *testing.T, fanout string) (*Relay, *recordingPublisher, *sqlite.SQLiteStore) {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	pub := &recordingPublisher{}
	return New(pub, st, fanout, log.Nop()), pub, st
}

func sameTargets(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestPostLikedTargetsOwnerAndActor(t *testing.T) {
	r, pub, st := newTestRelay(t, config.FanoutTargeted)
	ctx := context.Background()
	if err := st.UpsertUser(ctx, 4, "alice"); err != nil {
		t.Fatalf("upsert user: %v", err)
	}

	if err := r.PostLiked(ctx, PostLike{PostID: 5, OwnerID: 3, ActorID: 4, LikeCount: 2}); err != nil {
		t.Fatalf("post liked: %v", err)
	}

	ev := pub.last(t)
	if ev.Type != EventPostLiked {
		t.Fatalf("unexpected type %q", ev.Type)
	}
	if !sameTargets(ev.Targets, core.RoomFor(3), core.RoomFor(4)) {
		t.Fatalf("unexpected targets %v", ev.Targets)
	}
	if like := ev.Payload.(PostLike); like.ActorName != "alice" {
		t.Fatalf("expected actor name from profile lookup, got %q", like.ActorName)
	}
}

func TestBroadcastModeBroadcastsFeedEvents(t *testing.T) {
	r, pub, _ := newTestRelay(t, config.FanoutBroadcast)
	ctx := context.Background()

	if err := r.PostUnliked(ctx, PostLike{PostID: 5, OwnerID: 3, ActorID: 1}); err != nil {
		t.Fatalf("post unliked: %v", err)
	}
	if ev := pub.last(t); !sameTargets(ev.Targets, core.Broadcast) {
		t.Fatalf("expected broadcast, got %v", ev.Targets)
	}

	// Friend requests stay private.
	if err := r.FriendRequestCreated(ctx, FriendRequest{RequestID: 1, SenderID: 1, RecipientID: 2}); err != nil {
		t.Fatalf("friend request: %v", err)
	}
	ev := pub.last(t)
	if !sameTargets(ev.Targets, core.RoomFor(2)) {
		t.Fatalf("expected recipient room, got %v", ev.Targets)
	}
	if ev.Payload.(FriendRequest).Status != "pending" {
		t.Fatal("expected default pending status")
	}
}

func TestNewPostReachesFollowers(t *testing.T) {
	r, pub, _ := newTestRelay(t, config.FanoutTargeted)
	ctx := context.Background()

	for _, follower := range []int64{2, 3} {
		if err := r.FollowChanged(ctx, FollowChange{FollowerID: follower, FolloweeID: 1, IsFollowing: true}); err != nil {
			t.Fatalf("follow: %v", err)
		}
	}
	if ev := pub.last(t); !sameTargets(ev.Targets, core.RoomFor(1), core.RoomFor(3)) {
		t.Fatalf("follow_changed should reach followee and follower, got %v", ev.Targets)
	}
	if err := r.FollowChanged(ctx, FollowChange{FollowerID: 2, FolloweeID: 1, IsFollowing: false}); err != nil {
		t.Fatalf("unfollow: %v", err)
	}

	if err := r.NewPost(ctx, Post{PostID: 10, AuthorID: 1, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("new post: %v", err)
	}
	if ev := pub.last(t); !sameTargets(ev.Targets, core.RoomFor(1), core.RoomFor(3)) {
		t.Fatalf("expected author and remaining follower, got %v", ev.Targets)
	}

	if err := r.PostViewed(ctx, PostView{PostID: 10, AuthorID: 1, ViewerID: 3, ViewCount: 1}); err != nil {
		t.Fatalf("post viewed: %v", err)
	}
	if ev := pub.last(t); ev.Type != EventPostViewed || len(ev.Targets) != 2 {
		t.Fatalf("unexpected post_viewed: %+v", ev)
	}
}

func TestMessageDeliveredPersistsFirst(t *testing.T) {
	r, pub, _ := newTestRelay(t, config.FanoutTargeted)
	ctx := context.Background()

	msg, err := r.MessageDelivered(ctx, 1, 2, "  hello  ")
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if msg.ID == 0 || msg.Content != "hello" {
		t.Fatalf("unexpected stored message %+v", msg)
	}
	ev := pub.last(t)
	if !sameTargets(ev.Targets, core.RoomFor(1), core.RoomFor(2)) {
		t.Fatalf("unexpected targets %v", ev.Targets)
	}
	if ev.Payload.(MessageDelivered).Message.ID != msg.ID {
		t.Fatal("payload does not carry the stored message")
	}

	before := pub.count()
	if _, err := r.MessageDelivered(ctx, 1, 2, "   "); !errors.Is(err, core.ErrBadRequest) {
		t.Fatalf("expected bad request for empty content, got %v", err)
	}
	if _, err := r.MessageDelivered(ctx, 1, 1, "me"); !errors.Is(err, core.ErrBadRequest) {
		t.Fatalf("expected bad request for self message, got %v", err)
	}
	if pub.count() != before {
		t.Fatal("rejected messages must not be published")
	}
}

func TestMessageNotPublishedWhenStoreFails(t *testing.T) {
	r, pub, st := newTestRelay(t, config.FanoutTargeted)
	_ = st.Close()

	if _, err := r.MessageDelivered(context.Background(), 1, 2, "hi"); err == nil {
		t.Fatal("expected store error")
	}
	if pub.count() != 0 {
		t.Fatal("nothing should be published after a failed write")
	}
}

func TestFriendRequestResolvedValidatesStatus(t *testing.T) {
	r, pub, _ := newTestRelay(t, config.FanoutTargeted)
	ctx := context.Background()

	err := r.FriendRequestResolved(ctx, FriendRequest{RequestID: 1, SenderID: 1, RecipientID: 2, Status: "maybe"})
	if !errors.Is(err, core.ErrBadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
	if err := r.FriendRequestResolved(ctx, FriendRequest{RequestID: 1, SenderID: 1, RecipientID: 2, Status: "accepted"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if ev := pub.last(t); !sameTargets(ev.Targets, core.RoomFor(1), core.RoomFor(2)) {
		t.Fatalf("unexpected targets %v", ev.Targets)
	}
}

func TestDispatch(t *testing.T) {
	r, pub, _ := newTestRelay(t, config.FanoutTargeted)
	ctx := context.Background()

	data := json.RawMessage(`{"postId":1,"postOwnerId":3,"comment":{"id":4,"authorId":2,"content":"nice"}}`)
	if err := r.Dispatch(ctx, EventNewComment, data); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	ev := pub.last(t)
	if ev.Type != EventNewComment || !sameTargets(ev.Targets, core.RoomFor(3), core.RoomFor(2)) {
		t.Fatalf("unexpected event %+v", ev)
	}

	if err := r.Dispatch(ctx, EventFriendRemoved, json.RawMessage(`{"userId":1,"friendId":2}`)); err != nil {
		t.Fatalf("dispatch friend_removed: %v", err)
	}
	if err := r.Dispatch(ctx, "post_shared", json.RawMessage(`{}`)); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
	if err := r.Dispatch(ctx, EventPostLiked, json.RawMessage(`{"postId":"x"}`)); !errors.Is(err, core.ErrBadRequest) {
		t.Fatalf("expected bad request for malformed data, got %v", err)
	}
	if err := r.Dispatch(ctx, EventPostLiked, nil); !errors.Is(err, core.ErrBadRequest) {
		t.Fatalf("expected bad request for missing data, got %v", err)
	}
}

func TestTargetedLikeThroughHub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := core.NewHub(log.Nop(), core.HubConfig{})
	go hub.Run(ctx)

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer st.Close()
	r := New(hub, st, config.FanoutTargeted, log.Nop())

	a := core.NewConnection(1, "a", 8)
	c := core.NewConnection(3, "c", 8)
	d := core.NewConnection(4, "d", 8)
	for _, conn := range []*core.Connection{a, c, d} {
		if err := hub.Register(ctx, conn); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	if err := r.PostLiked(ctx, PostLike{PostID: 9, OwnerID: 3, ActorID: 1, LikeCount: 1}); err != nil {
		t.Fatalf("post liked: %v", err)
	}

	for _, conn := range []*core.Connection{a, c} {
		select {
		case ev := <-conn.Events:
			if ev.Kind != core.EventRelay || ev.Relay.Name != EventPostLiked {
				t.Fatalf("unexpected event %+v", ev)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("user %d did not receive post_liked", conn.UserID)
		}
	}

	if _, err := hub.Presence(ctx, 4); err != nil {
		t.Fatalf("presence: %v", err)
	}
	select {
	case ev := <-d.Events:
		t.Fatalf("unrelated user received %+v", ev)
	default:
	}
}

func TestAnnouncedMessageKeepsIdentityAndIsNotStored(t *testing.T) {
	r, pub, _ := newTestRelay(t, config.FanoutTargeted)
	ctx := context.Background()

	data := json.RawMessage(`{"message":{"id":42,"senderId":1,"recipientId":2,"content":"hi","createdAt":"2020-01-01T00:00:00Z"}}`)
	for range 2 {
		if err := r.Dispatch(ctx, EventMessageDelivered, data); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		ev := pub.last(t)
		msg := ev.Payload.(MessageDelivered).Message
		if msg.ID != 42 || !msg.CreatedAt.Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("announced identity rewritten: %+v", msg)
		}
		if !sameTargets(ev.Targets, core.RoomFor(1), core.RoomFor(2)) {
			t.Fatalf("unexpected targets %v", ev.Targets)
		}
	}

	// The first row the relay itself writes gets id 1, so announcements wrote nothing.
	saved, err := r.MessageDelivered(ctx, 1, 2, "own")
	if err != nil {
		t.Fatalf("message delivered: %v", err)
	}
	if saved.ID != 1 {
		t.Fatalf("announcements were persisted: next id is %d", saved.ID)
	}

	for _, bad := range []string{
		`{"message":{"senderId":1,"recipientId":2}}`,
		`{"message":{"id":5,"senderId":1,"recipientId":1}}`,
		`{"message":{"id":5,"recipientId":2}}`,
	} {
		if err := r.Dispatch(ctx, EventMessageDelivered, json.RawMessage(bad)); !errors.Is(err, core.ErrBadRequest) {
			t.Fatalf("expected bad request for %s, got %v", bad, err)
		}
	}
}

func TestUserUpdatedFeedsDisplayNames(t *testing.T) {
	r, pub, _ := newTestRelay(t, config.FanoutTargeted)
	ctx := context.Background()

	if err := r.Dispatch(ctx, EventUserUpdated, json.RawMessage(`{"userId":4,"username":"dave"}`)); err != nil {
		t.Fatalf("user updated: %v", err)
	}
	if pub.count() != 0 {
		t.Fatal("user_updated must not reach clients")
	}

	if err := r.PostLiked(ctx, PostLike{PostID: 1, OwnerID: 2, ActorID: 4}); err != nil {
		t.Fatalf("post liked: %v", err)
	}
	if like := pub.last(t).Payload.(PostLike); like.ActorName != "dave" {
		t.Fatalf("expected dave, got %q", like.ActorName)
	}

	if err := r.Dispatch(ctx, EventUserUpdated, json.RawMessage(`{"userId":4}`)); !errors.Is(err, core.ErrBadRequest) {
		t.Fatalf("expected bad request without username, got %v", err)
	}
}

func TestFollowersSyncedSeedsAudience(t *testing.T) {
	r, pub, _ := newTestRelay(t, config.FanoutTargeted)
	ctx := context.Background()

	if err := r.Dispatch(ctx, EventFollowersSynced, json.RawMessage(`{"userId":1,"followerIds":[5,6]}`)); err != nil {
		t.Fatalf("followers synced: %v", err)
	}
	if pub.count() != 0 {
		t.Fatal("followers_synced must not reach clients")
	}

	if err := r.NewPost(ctx, Post{PostID: 3, AuthorID: 1}); err != nil {
		t.Fatalf("new post: %v", err)
	}
	if ev := pub.last(t); !sameTargets(ev.Targets, core.RoomFor(1), core.RoomFor(5), core.RoomFor(6)) {
		t.Fatalf("expected author and synced followers, got %v", ev.Targets)
	}

	if err := r.Dispatch(ctx, EventFollowersSynced, json.RawMessage(`{"userId":1,"followerIds":[1]}`)); !errors.Is(err, core.ErrBadRequest) {
		t.Fatalf("self follow should be rejected, got %v", err)
	}
}
