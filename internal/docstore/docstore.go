// Package docstore exposes the per-owner collection of child documents with
// live subscriptions. Writes go straight to the backend; every successful
// write is then pushed to the owner's subscribers.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukerupert/starjar/internal/model"
)

// ErrInvalidDocument is returned for writes without a child id.
var ErrInvalidDocument = errors.New("child document has no id")

// Backend is the persistence the store writes through to.
// *store.ChildStore satisfies it.
type Backend interface {
	Create(ownerID int64, p *model.ChildProfile) (*model.ChildProfile, error)
	Get(ownerID int64, id string) (*model.ChildProfile, error)
	Put(ownerID int64, p *model.ChildProfile) error
	Delete(ownerID int64, id string) (bool, error)
	ListByOwner(ownerID int64) ([]model.ChildProfile, error)
}

type Store struct {
	backend Backend
	logger  *slog.Logger

	// writeMu orders backend writes with their notifications, so
	// subscribers see documents in commit order. rev is the revision of the
	// last committed write and is guarded by writeMu.
	writeMu sync.Mutex
	rev     uint64

	mu     sync.RWMutex
	owners map[int64]*registry
}

func New(backend Backend, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger,
		owners:  make(map[int64]*registry),
	}
}

// Create inserts a new document and returns it with its assigned id.
func (s *Store) Create(ctx context.Context, ownerID int64, p *model.ChildProfile, origin string) (*model.ChildProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	created, err := s.backend.Create(ownerID, p)
	if err != nil {
		return nil, fmt.Errorf("create child: %w", err)
	}
	s.rev++
	s.publish(ownerID, created.ID, created, origin)
	return created.Clone(), nil
}

// Persist writes the full document, creating or replacing it, and returns
// the revision of the write. Subscribers see the same revision on the
// resulting event.
func (s *Store) Persist(ctx context.Context, ownerID int64, p *model.ChildProfile, origin string) (uint64, error) {
	if p == nil || p.ID == "" {
		return 0, ErrInvalidDocument
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.backend.Put(ownerID, p); err != nil {
		return 0, fmt.Errorf("persist child %s: %w", p.ID, err)
	}
	s.rev++
	saved, err := s.backend.Get(ownerID, p.ID)
	if err != nil {
		// The write landed; subscribers still get what was written.
		s.logger.Warn("reload after persist", "child_id", p.ID, "error", err)
		saved = p.Clone()
	}
	s.publish(ownerID, p.ID, saved, origin)
	return s.rev, nil
}

// Remove deletes the document. Removing a missing document is not an error.
func (s *Store) Remove(ctx context.Context, ownerID int64, childID string, origin string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deleted, err := s.backend.Delete(ownerID, childID)
	if err != nil {
		return fmt.Errorf("remove child %s: %w", childID, err)
	}
	if deleted {
		s.rev++
		s.publish(ownerID, childID, nil, origin)
	}
	return nil
}

// Get reads the current document, or nil if it does not exist.
func (s *Store) Get(ownerID int64, childID string) (*model.ChildProfile, error) {
	return s.backend.Get(ownerID, childID)
}

// List returns summaries of the owner's children.
func (s *Store) List(ownerID int64) ([]model.ChildSummary, error) {
	children, err := s.backend.ListByOwner(ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]model.ChildSummary, 0, len(children))
	for i := range children {
		out = append(out, children[i].Summary())
	}
	return out, nil
}

// Subscribe delivers the current snapshot immediately, then one event per
// change to the document.
func (s *Store) Subscribe(ownerID int64, childID string) *Subscription {
	sub := &Subscription{owner: ownerID, childID: childID, box: newMailbox[Event](), store: s}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.registryFor(ownerID).children[sub] = struct{}{}
	s.mu.Unlock()

	p, err := s.backend.Get(ownerID, childID)
	if err != nil {
		sub.box.put(Event{Err: fmt.Errorf("load child %s: %w", childID, err)})
	} else {
		sub.box.put(Event{Profile: p, Rev: s.rev})
	}
	return sub
}

// SubscribeCollection delivers the owner's child list now and after every
// create, persist or remove.
func (s *Store) SubscribeCollection(ownerID int64) *CollectionSubscription {
	sub := &CollectionSubscription{owner: ownerID, box: newMailbox[CollectionEvent](), store: s}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.registryFor(ownerID).collections[sub] = struct{}{}
	s.mu.Unlock()

	sub.box.put(s.loadCollection(ownerID))
	return sub
}

// SubscriberCount returns the number of live subscriptions of both kinds.
func (s *Store) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.owners {
		n += len(r.children) + len(r.collections)
	}
	return n
}

// publish must be called with writeMu held.
func (s *Store) publish(ownerID int64, childID string, p *model.ChildProfile, origin string) {
	s.mu.RLock()
	r, ok := s.owners[ownerID]
	if !ok {
		s.mu.RUnlock()
		return
	}
	var targets []*Subscription
	for sub := range r.children {
		if sub.childID == childID {
			targets = append(targets, sub)
		}
	}
	hasCollections := len(r.collections) > 0
	s.mu.RUnlock()

	for _, sub := range targets {
		sub.box.put(Event{Profile: p.Clone(), Origin: origin, Rev: s.rev})
	}

	if !hasCollections {
		return
	}
	ev := s.loadCollection(ownerID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.owners[ownerID]; ok {
		for sub := range r.collections {
			sub.box.put(ev)
		}
	}
}

func (s *Store) loadCollection(ownerID int64) CollectionEvent {
	list, err := s.List(ownerID)
	if err != nil {
		s.logger.Error("load child collection", "owner_id", ownerID, "error", err)
		return CollectionEvent{Err: fmt.Errorf("list children: %w", err)}
	}
	return CollectionEvent{Children: list}
}

// registryFor must be called with mu held for writing.
func (s *Store) registryFor(ownerID int64) *registry {
	r, ok := s.owners[ownerID]
	if !ok {
		r = &registry{
			children:    make(map[*Subscription]struct{}),
			collections: make(map[*CollectionSubscription]struct{}),
		}
		s.owners[ownerID] = r
	}
	return r
}

func (s *Store) unregister(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.owners[sub.owner]; ok {
		delete(r.children, sub)
		if r.empty() {
			delete(s.owners, sub.owner)
		}
	}
}

func (s *Store) unregisterCollection(sub *CollectionSubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.owners[sub.owner]; ok {
		delete(r.collections, sub)
		if r.empty() {
			delete(s.owners, sub.owner)
		}
	}
}
