package docstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/starjar/internal/database"
	"github.com/dukerupert/starjar/internal/model"
	"github.com/dukerupert/starjar/internal/store"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func setup(t *testing.T) (*Store, int64) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	u, err := store.NewUserStore(db).Create("parent@example.com", "hash")
	require.NoError(t, err)
	return New(store.NewChildStore(db), testLogger), u.ID
}

func newChild(name string) *model.ChildProfile {
	return &model.ChildProfile{ChildConfig: model.ChildConfig{
		ChildName:          name,
		ParentPIN:          "hash",
		SelectedRewardKeys: []string{"candy"},
	}}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	var zero T
	return zero
}

func assertNoEvent[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected event %+v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeFiresWithCurrentSnapshot(t *testing.T) {
	s, owner := setup(t)
	ctx := context.Background()

	c, err := s.Create(ctx, owner, newChild("Ari"), "test")
	require.NoError(t, err)

	sub := s.Subscribe(owner, c.ID)
	defer sub.Close()

	ev := recv(t, sub.C())
	require.NoError(t, ev.Err)
	require.NotNil(t, ev.Profile)
	assert.Equal(t, "Ari", ev.Profile.ChildName)
	assert.Empty(t, ev.Origin)
}

func TestSubscribeMissingDocumentIsAbsent(t *testing.T) {
	s, owner := setup(t)

	sub := s.Subscribe(owner, "nope")
	defer sub.Close()

	ev := recv(t, sub.C())
	require.NoError(t, ev.Err)
	assert.Nil(t, ev.Profile)
}

func persist(t *testing.T, s *Store, owner int64, p *model.ChildProfile, origin string) uint64 {
	t.Helper()
	rev, err := s.Persist(context.Background(), owner, p, origin)
	require.NoError(t, err)
	return rev
}

func TestPersistAndRemoveNotifySubscribers(t *testing.T) {
	s, owner := setup(t)
	ctx := context.Background()

	c, err := s.Create(ctx, owner, newChild("Ari"), "")
	require.NoError(t, err)

	sub := s.Subscribe(owner, c.ID)
	defer sub.Close()
	recv(t, sub.C())

	c.StarCount = 3
	persist(t, s, owner, c, "device-b")

	ev := recv(t, sub.C())
	require.NotNil(t, ev.Profile)
	assert.Equal(t, 3, ev.Profile.StarCount)
	assert.Equal(t, "device-b", ev.Origin)

	require.NoError(t, s.Remove(ctx, owner, c.ID, "device-b"))
	ev = recv(t, sub.C())
	assert.Nil(t, ev.Profile)
	assert.NoError(t, ev.Err)
}

func TestOtherChildrenNotNotified(t *testing.T) {
	s, owner := setup(t)
	ctx := context.Background()

	a, err := s.Create(ctx, owner, newChild("A"), "")
	require.NoError(t, err)
	b, err := s.Create(ctx, owner, newChild("B"), "")
	require.NoError(t, err)

	sub := s.Subscribe(owner, a.ID)
	defer sub.Close()
	recv(t, sub.C())

	b.StarCount = 1
	persist(t, s, owner, b, "")
	assertNoEvent(t, sub.C())
}

func TestSlowSubscriberSeesLatest(t *testing.T) {
	s, owner := setup(t)
	ctx := context.Background()

	c, err := s.Create(ctx, owner, newChild("Ari"), "")
	require.NoError(t, err)

	sub := s.Subscribe(owner, c.ID)
	defer sub.Close()

	for i := 1; i <= 5; i++ {
		c.StarCount = i
		persist(t, s, owner, c, "")
	}

	ev := recv(t, sub.C())
	assert.Equal(t, 5, ev.Profile.StarCount)
	assertNoEvent(t, sub.C())
}

func TestCollectionSubscription(t *testing.T) {
	s, owner := setup(t)
	ctx := context.Background()

	sub := s.SubscribeCollection(owner)
	defer sub.Close()

	ev := recv(t, sub.C())
	require.NoError(t, ev.Err)
	assert.Empty(t, ev.Children)

	c, err := s.Create(ctx, owner, newChild("Ari"), "")
	require.NoError(t, err)
	ev = recv(t, sub.C())
	require.Len(t, ev.Children, 1)
	assert.Equal(t, "Ari", ev.Children[0].ChildName)

	c.StarCount = 2
	persist(t, s, owner, c, "")
	ev = recv(t, sub.C())
	assert.Equal(t, 2, ev.Children[0].StarCount)

	require.NoError(t, s.Remove(ctx, owner, c.ID, ""))
	ev = recv(t, sub.C())
	assert.Empty(t, ev.Children)
}

func TestCloseReleasesListener(t *testing.T) {
	s, owner := setup(t)

	sub := s.Subscribe(owner, "x")
	col := s.SubscribeCollection(owner)
	assert.Equal(t, 2, s.SubscriberCount())

	sub.Close()
	sub.Close()
	col.Close()
	assert.Equal(t, 0, s.SubscriberCount())

	// Drain the initial snapshot, then the channel must be closed.
	<-sub.C()
	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestPersistWithoutIDRejected(t *testing.T) {
	s, owner := setup(t)
	_, err := s.Persist(context.Background(), owner, newChild("Ari"), "")
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestPersistOtherOwnerFails(t *testing.T) {
	s, owner := setup(t)
	ctx := context.Background()
	c, err := s.Create(ctx, owner, newChild("Ari"), "")
	require.NoError(t, err)

	_, err = s.Persist(ctx, owner+100, c, "")
	assert.ErrorIs(t, err, store.ErrNotOwner)
}

type failingBackend struct {
	Backend
	mu  sync.Mutex
	err error
}

func (f *failingBackend) Get(ownerID int64, id string) (*model.ChildProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.Backend.Get(ownerID, id)
}

func TestSubscribeLoadErrorIsDistinctEvent(t *testing.T) {
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fb := &failingBackend{Backend: store.NewChildStore(db), err: errors.New("disk on fire")}
	s := New(fb, testLogger)

	sub := s.Subscribe(1, "x")
	defer sub.Close()
	ev := recv(t, sub.C())
	assert.Error(t, ev.Err)
	assert.Nil(t, ev.Profile)
}

func TestRevisionsIncreaseInCommitOrder(t *testing.T) {
	s, owner := setup(t)
	ctx := context.Background()

	c, err := s.Create(ctx, owner, newChild("Ari"), "")
	require.NoError(t, err)

	sub := s.Subscribe(owner, c.ID)
	defer sub.Close()
	initial := recv(t, sub.C())

	c.StarCount = 1
	first := persist(t, s, owner, c, "a")
	assert.Greater(t, first, initial.Rev)
	ev := recv(t, sub.C())
	assert.Equal(t, first, ev.Rev)

	c.StarCount = 2
	second := persist(t, s, owner, c, "b")
	assert.Greater(t, second, first)
	ev = recv(t, sub.C())
	assert.Equal(t, second, ev.Rev)

	require.NoError(t, s.Remove(ctx, owner, c.ID, "a"))
	ev = recv(t, sub.C())
	assert.Nil(t, ev.Profile)
	assert.Greater(t, ev.Rev, second)
}
