package store

import (
	"testing"
	"time"

	"github.com/dukerupert/starjar/internal/database"
)

func setupSessionTestDB(t *testing.T) (*SessionStore, *UserStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSessionStore(db), NewUserStore(db)
}

func TestSessionCreateAndLookup(t *testing.T) {
	ss, us := setupSessionTestDB(t)
	u, err := us.Create("alice@example.com", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	sess, err := ss.Create(u.ID, time.Hour)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if len(sess.Token) != 64 {
		t.Errorf("token length = %d, want 64", len(sess.Token))
	}

	got, err := ss.GetByToken(sess.Token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if got == nil || got.UserID != u.ID {
		t.Fatalf("get by token = %+v, want user %d", got, u.ID)
	}
}

func TestSessionExpired(t *testing.T) {
	ss, us := setupSessionTestDB(t)
	u, _ := us.Create("alice@example.com", "hash")

	sess, err := ss.Create(u.ID, -time.Minute)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	got, err := ss.GetByToken(sess.Token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if got != nil {
		t.Error("expected nil for expired session")
	}

	n, err := ss.DeleteExpired()
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
}

func TestSessionDeleteByToken(t *testing.T) {
	ss, us := setupSessionTestDB(t)
	u, _ := us.Create("alice@example.com", "hash")

	sess, _ := ss.Create(u.ID, time.Hour)
	if err := ss.DeleteByToken(sess.Token); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ := ss.GetByToken(sess.Token)
	if got != nil {
		t.Error("expected nil after delete")
	}
}
