// Package tracker is the function-call surface the presentation layer
// uses: child lifecycle on the Tracker, star and reward actions on Child.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/starjar/internal/calendar"
	"github.com/dukerupert/starjar/internal/catalog"
	"github.com/dukerupert/starjar/internal/childsync"
	"github.com/dukerupert/starjar/internal/docstore"
	"github.com/dukerupert/starjar/internal/model"
)

var (
	ErrNotFound          = errors.New("child not found")
	ErrWrongPIN          = errors.New("wrong parent pin")
	ErrInvalidOnboarding = errors.New("invalid onboarding")
)

// Onboarding is what the setup wizard collects for a new child.
type Onboarding struct {
	Name     string   `json:"name"`
	PIN      string   `json:"pin"`
	Selected []string `json:"selected"`
}

type sessionKey struct {
	owner int64
	child string
}

type cachedSession struct {
	session  *childsync.Session
	lastUsed time.Time
}

type Tracker struct {
	docs    *docstore.Store
	catalog *catalog.Catalog
	clock   calendar.Clock
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[sessionKey]*cachedSession
}

func New(docs *docstore.Store, c *catalog.Catalog, clock calendar.Clock, logger *slog.Logger) *Tracker {
	return &Tracker{
		docs:     docs,
		catalog:  c,
		clock:    clock,
		logger:   logger,
		sessions: make(map[sessionKey]*cachedSession),
	}
}

func (t *Tracker) Catalog() *catalog.Catalog { return t.catalog }

func (t *Tracker) Clock() calendar.Clock { return t.clock }

// CreateChild stores a new child with zeroed state and returns it.
func (t *Tracker) CreateChild(ctx context.Context, ownerID int64, o Onboarding) (*model.ChildProfile, error) {
	name := strings.TrimSpace(o.Name)
	if name == "" || o.PIN == "" || len(o.Selected) == 0 {
		return nil, ErrInvalidOnboarding
	}
	var selected []string
	for _, key := range o.Selected {
		if !t.catalog.Has(key) {
			return nil, fmt.Errorf("%w: unknown reward %q", ErrInvalidOnboarding, key)
		}
		if !slices.Contains(selected, key) {
			selected = append(selected, key)
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(o.PIN), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash pin: %w", err)
	}
	p, err := t.docs.Create(ctx, ownerID, &model.ChildProfile{
		ChildConfig: model.ChildConfig{
			ChildName:          name,
			ParentPIN:          string(hash),
			SelectedRewardKeys: selected,
		},
	}, "")
	if err != nil {
		return nil, err
	}
	t.logger.Info("child created", "owner_id", ownerID, "child_id", p.ID)
	return p, nil
}

// DeleteChild closes the child's session, then deletes its document.
func (t *Tracker) DeleteChild(ctx context.Context, ownerID int64, childID string) error {
	t.closeSession(sessionKey{ownerID, childID})
	if err := t.docs.Remove(ctx, ownerID, childID, ""); err != nil {
		return err
	}
	t.logger.Info("child deleted", "owner_id", ownerID, "child_id", childID)
	return nil
}

// FullReset deletes the child. The caller goes back to profile selection
// when it reports true.
func (t *Tracker) FullReset(ctx context.Context, ownerID int64, childID string) (bool, error) {
	if err := t.DeleteChild(ctx, ownerID, childID); err != nil {
		return false, err
	}
	return true, nil
}

// Children subscribes to the owner's child list.
func (t *Tracker) Children(ownerID int64) *docstore.CollectionSubscription {
	return t.docs.SubscribeCollection(ownerID)
}

func (t *Tracker) ListChildren(ownerID int64) ([]model.ChildSummary, error) {
	return t.docs.List(ownerID)
}

// Watch subscribes to every write of one child document.
func (t *Tracker) Watch(ownerID int64, childID string) *docstore.Subscription {
	return t.docs.Subscribe(ownerID, childID)
}

// Child returns the live handle for a child, opening a session on first
// use. It returns ErrNotFound when the document does not exist.
func (t *Tracker) Child(ctx context.Context, ownerID int64, childID string) (*Child, error) {
	key := sessionKey{ownerID, childID}

	t.mu.Lock()
	cached, ok := t.sessions[key]
	if ok {
		cached.lastUsed = t.clock.Now()
	}
	t.mu.Unlock()
	if ok {
		if cached.session.Profile() != nil {
			return t.handle(cached.session), nil
		}
		t.closeSession(key)
		return nil, ErrNotFound
	}

	s := childsync.Open(t.docs, ownerID, childID, t.logger)
	if err := s.Wait(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("open child %s: %w", childID, err)
	}
	if s.Profile() == nil {
		s.Close()
		return nil, ErrNotFound
	}

	t.mu.Lock()
	if existing, ok := t.sessions[key]; ok {
		existing.lastUsed = t.clock.Now()
		t.mu.Unlock()
		s.Close()
		return t.handle(existing.session), nil
	}
	t.sessions[key] = &cachedSession{session: s, lastUsed: t.clock.Now()}
	t.mu.Unlock()
	return t.handle(s), nil
}

// EvictIdle closes sessions no one has asked for within maxIdle, flushing
// their queued writes and releasing their feed listeners. The next Child
// call reopens from the store. It returns the number closed.
func (t *Tracker) EvictIdle(maxIdle time.Duration) int {
	now := t.clock.Now()
	var idle []*childsync.Session

	t.mu.Lock()
	for key, cached := range t.sessions {
		if now.Sub(cached.lastUsed) >= maxIdle {
			idle = append(idle, cached.session)
			delete(t.sessions, key)
		}
	}
	t.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
	if len(idle) > 0 {
		t.logger.Debug("closed idle child sessions", "count", len(idle))
	}
	return len(idle)
}

// SessionCount returns the number of open child sessions.
func (t *Tracker) SessionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Close releases every open session, flushing queued writes.
func (t *Tracker) Close() {
	t.mu.Lock()
	sessions := t.sessions
	t.sessions = make(map[sessionKey]*cachedSession)
	t.mu.Unlock()

	for _, cached := range sessions {
		cached.session.Close()
	}
}

func (t *Tracker) closeSession(key sessionKey) {
	t.mu.Lock()
	cached, ok := t.sessions[key]
	delete(t.sessions, key)
	t.mu.Unlock()
	if ok {
		cached.session.Close()
	}
}

func (t *Tracker) handle(s *childsync.Session) *Child {
	return &Child{session: s, catalog: t.catalog, clock: t.clock}
}
