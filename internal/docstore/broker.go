package docstore

import (
	"sync"

	"github.com/dukerupert/starjar/internal/model"
)

// Event is one push on a child subscription. Profile is nil when the
// document does not exist. Origin is the tag passed by the writer, empty for
// the initial snapshot. Rev increases with every committed write in the
// store, so a higher Rev is always the newer document.
type Event struct {
	Profile *model.ChildProfile
	Origin  string
	Rev     uint64
	Err     error
}

// CollectionEvent is one push on an owner's collection subscription.
type CollectionEvent struct {
	Children []model.ChildSummary
	Err      error
}

// mailbox is a one-slot channel where a newer value replaces an unread
// older one, so a slow reader never blocks the publisher and never sees a
// stale document after a fresh one.
type mailbox[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{ch: make(chan T, 1)}
}

func (m *mailbox[T]) put(v T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.ch <- v:
	default:
		// Drop the unread value and keep the newest.
		select {
		case <-m.ch:
		default:
		}
		m.ch <- v
	}
}

func (m *mailbox[T]) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.ch)
	}
}

// Subscription streams snapshots of a single child document.
type Subscription struct {
	owner   int64
	childID string
	box     *mailbox[Event]
	store   *Store
	once    sync.Once
}

// C is closed after Close.
func (s *Subscription) C() <-chan Event { return s.box.ch }

func (s *Subscription) ChildID() string { return s.childID }

// Close unregisters the subscription and closes its channel. It is safe to
// call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.store.unregister(s)
		s.box.close()
	})
}

// CollectionSubscription streams the summary list of an owner's children.
type CollectionSubscription struct {
	owner int64
	box   *mailbox[CollectionEvent]
	store *Store
	once  sync.Once
}

func (s *CollectionSubscription) C() <-chan CollectionEvent { return s.box.ch }

func (s *CollectionSubscription) Close() {
	s.once.Do(func() {
		s.store.unregisterCollection(s)
		s.box.close()
	})
}

// registry is the per-owner set of listeners.
type registry struct {
	children    map[*Subscription]struct{}
	collections map[*CollectionSubscription]struct{}
}

func (r *registry) empty() bool {
	return len(r.children) == 0 && len(r.collections) == 0
}
