package memory

import (
	"context"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", 10)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec, err := s.RecordInteraction(ctx, "alice", "who is the top student", "SELECT name FROM students", "[('alice', 95)]", "Alice")
	if err != nil {
		t.Fatalf("RecordInteraction: %v", err)
	}
	if len(rec.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(rec.History))
	}
	if rec.History[0].ID == "" {
		t.Error("interaction ID not assigned")
	}

	// Drop the cache and reload from the database.
	s.mu.Lock()
	s.cache = make(map[string]*Record)
	s.mu.Unlock()

	loaded, err := s.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(loaded.History) != 1 {
		t.Fatalf("reloaded history length = %d, want 1", len(loaded.History))
	}
	if loaded.History[0].Question != "who is the top student" {
		t.Errorf("reloaded question = %q", loaded.History[0].Question)
	}
	if _, ok := loaded.Entities["alice"]; !ok {
		t.Error("reloaded record missing entity alice")
	}
}

func TestStoreGetUnknownUser(t *testing.T) {
	s := openTestStore(t)

	rec, err := s.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(rec.History) != 0 {
		t.Errorf("history length = %d, want 0", len(rec.History))
	}
}

func TestStoreClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.RecordInteraction(ctx, "alice", "q", "SELECT 1", "", "a"); err != nil {
		t.Fatalf("RecordInteraction: %v", err)
	}
	if err := s.Clear(ctx, "alice"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	rec, err := s.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(rec.History) != 0 {
		t.Errorf("history length after clear = %d, want 0", len(rec.History))
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("users after clear = %v, want none", users)
	}
}

func TestStoreListUsersRecencyOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.RecordInteraction(ctx, "alice", "q1", "SELECT 1", "", "a"); err != nil {
		t.Fatalf("RecordInteraction: %v", err)
	}
	if _, err := s.RecordInteraction(ctx, "bob", "q2", "SELECT 1", "", "a"); err != nil {
		t.Fatalf("RecordInteraction: %v", err)
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("users = %v, want 2 entries", users)
	}
	if users[0] != "bob" {
		t.Errorf("most recent user = %q, want bob", users[0])
	}
}

// TestStoreTimestampOrderWithinSecond pins the stored updated_at format:
// a whole-second timestamp must sort lexicographically before a fractional
// one in the same second, or ListUsers recency order breaks.
func TestStoreTimestampOrderWithinSecond(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 29, 12, 0, 5, 0, time.UTC)

	alice, err := s.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	alice.Add(Interaction{ID: "1", Timestamp: base, Question: "q1"})
	alice.UpdatedAt = base
	if err := s.persist(ctx, alice); err != nil {
		t.Fatalf("persist: %v", err)
	}

	bob, err := s.Get(ctx, "bob")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	bob.Add(Interaction{ID: "2", Timestamp: base, Question: "q2"})
	bob.UpdatedAt = base.Add(500 * time.Millisecond)
	if err := s.persist(ctx, bob); err != nil {
		t.Fatalf("persist: %v", err)
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 || users[0] != "bob" {
		t.Errorf("users = %v, want bob first", users)
	}

	whole := base.Format(timestampLayout)
	frac := base.Add(500 * time.Millisecond).Format(timestampLayout)
	if !(whole < frac) {
		t.Errorf("serialized order %q >= %q, want lexicographic to match chronological", whole, frac)
	}
}

func TestStoreMigrationsApplied(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) == 0 || versions[0] != 1 {
		t.Errorf("applied versions = %v, want [1]", versions)
	}
}

func TestStoreEphemeral(t *testing.T) {
	s := OpenEphemeral(10)
	ctx := context.Background()

	if s.Persistent() {
		t.Error("ephemeral store reports persistent")
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}

	if _, err := s.RecordInteraction(ctx, "alice", "q", "SELECT 1", "", "a"); err != nil {
		t.Fatalf("RecordInteraction: %v", err)
	}
	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 || users[0] != "alice" {
		t.Errorf("users = %v, want [alice]", users)
	}
}
