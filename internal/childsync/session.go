// Package childsync keeps an optimistic in-memory copy of one child document
// in step with the document store.
//
// Local changes apply to the in-memory copy at once and are written back in
// the background as whole documents. Snapshots newer than the local copy
// replace it wholesale, so concurrent editors resolve as last-writer-wins.
// While a local write is queued or in flight incoming snapshots are held
// back; once the write commits the session moves to whichever is newer,
// its own write or the latest snapshot seen.
package childsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/dukerupert/starjar/internal/docstore"
	"github.com/dukerupert/starjar/internal/model"
)

const eventBufferSize = 16

// ErrClosed is returned by Wait after Close.
var ErrClosed = errors.New("session closed")

type EventKind string

const (
	// EventSnapshot carries the new local state. Profile is nil when the
	// document no longer exists.
	EventSnapshot EventKind = "snapshot"
	// EventError reports a subscription failure. The previous snapshot is
	// kept.
	EventError EventKind = "error"
	// EventPersistError reports a background write that failed. It is not
	// retried.
	EventPersistError EventKind = "persist_error"
)

type Event struct {
	Kind    EventKind
	Profile *model.ChildProfile
	Err     error
}

// Docs is the part of the document store a session needs.
type Docs interface {
	Subscribe(ownerID int64, childID string) *docstore.Subscription
	Persist(ctx context.Context, ownerID int64, p *model.ChildProfile, origin string) (uint64, error)
}

type Session struct {
	ownerID int64
	childID string
	origin  string
	docs    Docs
	sub     *docstore.Subscription
	logger  *slog.Logger

	mu       sync.Mutex
	profile  *model.ChildProfile
	rev      uint64 // revision profile is based on
	loaded   bool
	firstErr error
	closed   bool
	pending  *model.ChildProfile
	inFlight bool

	// Newest snapshot seen while a local write was outstanding.
	heldRev     uint64
	heldProfile *model.ChildProfile

	ready     chan struct{}
	readyOnce sync.Once
	wake      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup

	evMu     sync.Mutex
	events   chan Event
	evClosed bool
}

// Open subscribes to the child document and starts the session. The first
// snapshot arrives asynchronously; use Wait to block for it.
func Open(docs Docs, ownerID int64, childID string, logger *slog.Logger) *Session {
	s := &Session{
		ownerID: ownerID,
		childID: childID,
		origin:  uuid.NewString(),
		docs:    docs,
		logger:  logger.With("child_id", childID),
		ready:   make(chan struct{}),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		events:  make(chan Event, eventBufferSize),
	}
	s.sub = docs.Subscribe(ownerID, childID)

	s.wg.Add(2)
	go s.listen()
	go s.writeLoop()
	return s
}

func (s *Session) OwnerID() int64  { return s.ownerID }
func (s *Session) ChildID() string { return s.childID }

// Origin is the tag this session stamps on its writes.
func (s *Session) Origin() string { return s.origin }

// Events delivers snapshots and errors. Events are dropped when the buffer
// is full; Profile always has the latest state.
func (s *Session) Events() <-chan Event { return s.events }

// Wait blocks until the first snapshot or subscription error arrives.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.ready:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrClosed
		}
		if !s.loaded {
			return s.firstErr
		}
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Profile returns a copy of the local state, or nil if the document does
// not exist or has not loaded yet.
func (s *Session) Profile() *model.ChildProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile.Clone()
}

// Update runs fn on a copy of the latest local state. When fn reports a
// change the copy becomes the local state and is queued for writing; the
// call never waits for the write. It returns the resulting state and
// whether fn applied.
func (s *Session) Update(fn func(p *model.ChildProfile) bool) (*model.ChildProfile, bool) {
	s.mu.Lock()
	if s.closed || s.profile == nil {
		current := s.profile.Clone()
		s.mu.Unlock()
		return current, false
	}
	next := s.profile.Clone()
	if !fn(next) {
		s.mu.Unlock()
		return next, false
	}
	s.profile = next
	s.pending = next.Clone()
	out := next.Clone()
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	s.emit(Event{Kind: EventSnapshot, Profile: out.Clone()})
	return out, true
}

// Close stops applying remote snapshots, flushes the queued write and
// releases the subscription.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.sub.Close()
	close(s.done)
	s.wg.Wait()

	s.evMu.Lock()
	s.evClosed = true
	close(s.events)
	s.evMu.Unlock()
}

func (s *Session) listen() {
	defer s.wg.Done()
	for ev := range s.sub.C() {
		s.apply(ev)
	}
}

func (s *Session) apply(ev docstore.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if ev.Err != nil {
		if !s.loaded && s.firstErr == nil {
			s.firstErr = ev.Err
		}
		s.mu.Unlock()
		s.logger.Warn("child subscription error", "error", ev.Err)
		s.markReady()
		s.emit(Event{Kind: EventError, Err: ev.Err})
		return
	}
	if s.loaded && ev.Rev <= s.rev {
		// Our own echo, or older than what we already have.
		s.mu.Unlock()
		return
	}
	if s.loaded && ev.Profile != nil && (s.pending != nil || s.inFlight) {
		if ev.Rev > s.heldRev {
			s.heldRev = ev.Rev
			s.heldProfile = ev.Profile
		}
		s.mu.Unlock()
		return
	}
	if ev.Profile == nil {
		// Deleted. A queued write must not bring it back.
		s.pending = nil
	}
	s.profile = ev.Profile
	s.rev = ev.Rev
	s.loaded = true
	out := ev.Profile.Clone()
	s.mu.Unlock()

	s.markReady()
	s.emit(Event{Kind: EventSnapshot, Profile: out})
}

func (s *Session) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.wake:
			s.flush()
		case <-s.done:
			s.flush()
			return
		}
	}
}

func (s *Session) flush() {
	s.mu.Lock()
	doc := s.pending
	s.pending = nil
	if doc == nil {
		s.mu.Unlock()
		return
	}
	s.inFlight = true
	s.mu.Unlock()

	rev, err := s.docs.Persist(context.Background(), s.ownerID, doc, s.origin)

	s.mu.Lock()
	s.inFlight = false
	var out *model.ChildProfile
	if err == nil && rev > s.rev {
		s.rev = rev
		if s.profile == nil && !s.closed {
			// A delete we already applied committed before this write,
			// which recreated the document.
			s.profile = doc
			out = doc.Clone()
		}
	}
	if held := s.reconcile(); held != nil {
		out = held
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("persist child", "error", err)
		s.emit(Event{Kind: EventPersistError, Err: err})
	}
	if out != nil {
		s.emit(Event{Kind: EventSnapshot, Profile: out})
	}
}

// reconcile adopts a held snapshot that committed after our last write. It
// returns the new state, or nil when nothing changed. s.mu must be held.
func (s *Session) reconcile() *model.ChildProfile {
	if s.closed || s.pending != nil || s.heldProfile == nil {
		return nil
	}
	held, heldRev := s.heldProfile, s.heldRev
	s.heldProfile, s.heldRev = nil, 0
	if heldRev <= s.rev {
		return nil
	}
	s.profile = held
	s.rev = heldRev
	return held.Clone()
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *Session) emit(ev Event) {
	s.evMu.Lock()
	defer s.evMu.Unlock()
	if s.evClosed {
		return
	}
	select {
	case s.events <- ev:
	default:
		// Buffer full; the reader can still call Profile.
	}
}
