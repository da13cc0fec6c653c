package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/vovakirdan/wirerelay/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewWithSetup(":memory:", Migrate)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertUser(ctx, 7, "alice"); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	got, err := s.GetUserByID(ctx, 7)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.ID != 7 || got.Username != "alice" {
		t.Fatalf("unexpected user %+v", got)
	}

	if err := s.UpsertUser(ctx, 7, "alicia"); err != nil {
		t.Fatalf("rename user: %v", err)
	}
	got, _ = s.GetUserByID(ctx, 7)
	if got.Username != "alicia" {
		t.Fatalf("expected rename to alicia, got %q", got.Username)
	}

	if _, err := s.GetUserByID(ctx, 999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFollowers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, follower := range []int64{3, 2, 2} {
		if err := s.Follow(ctx, follower, 1); err != nil {
			t.Fatalf("follow: %v", err)
		}
	}
	if err := s.Follow(ctx, 1, 2); err != nil {
		t.Fatalf("follow: %v", err)
	}

	ids, err := s.ListFollowers(ctx, 1)
	if err != nil {
		t.Fatalf("list followers: %v", err)
	}
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 3 {
		t.Fatalf("expected [2 3], got %v", ids)
	}

	if err := s.Unfollow(ctx, 2, 1); err != nil {
		t.Fatalf("unfollow: %v", err)
	}
	ids, _ = s.ListFollowers(ctx, 1)
	if len(ids) != 1 || ids[0] != 3 {
		t.Fatalf("expected [3], got %v", ids)
	}

	ids, _ = s.ListFollowers(ctx, 42)
	if len(ids) != 0 {
		t.Fatalf("expected no followers, got %v", ids)
	}
}

func TestSetFollowersReplacesSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Follow(ctx, 9, 1); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if err := s.Follow(ctx, 1, 2); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if err := s.SetFollowers(ctx, 1, []int64{4, 3, 4}); err != nil {
		t.Fatalf("set followers: %v", err)
	}

	ids, _ := s.ListFollowers(ctx, 1)
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 4 {
		t.Fatalf("expected [3 4], got %v", ids)
	}
	// Other users' edges are untouched.
	if ids, _ := s.ListFollowers(ctx, 2); len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("expected [1] for user 2, got %v", ids)
	}

	if err := s.SetFollowers(ctx, 1, nil); err != nil {
		t.Fatalf("clear followers: %v", err)
	}
	if ids, _ := s.ListFollowers(ctx, 1); len(ids) != 0 {
		t.Fatalf("expected no followers, got %v", ids)
	}
}

func TestSaveMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &store.Message{SenderID: 1, RecipientID: 2, Content: "hi"}
	if err := s.SaveMessage(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := &store.Message{SenderID: 2, RecipientID: 1, Content: "hey"}
	if err := s.SaveMessage(ctx, second); err != nil {
		t.Fatalf("save: %v", err)
	}

	if first.ID == 0 || second.ID <= first.ID {
		t.Fatalf("expected increasing ids, got %d and %d", first.ID, second.ID)
	}
	if first.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be set")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := Migrate(s.db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
