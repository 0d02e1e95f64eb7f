// Package identity is the minimal email and secret account provider that
// scopes child documents to their owner.
package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/starjar/internal/model"
	"github.com/dukerupert/starjar/internal/store"
)

const MinSecretLength = 6

// Used to keep Login's timing the same for unknown emails.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("starjar-dummy"), bcrypt.DefaultCost)

type ChangeKind string

const (
	SignedIn  ChangeKind = "signed_in"
	SignedOut ChangeKind = "signed_out"
)

// Change is pushed to subscribers whenever a session starts or ends.
type Change struct {
	Kind   ChangeKind
	UserID int64
	Token  string
}

type Service struct {
	users    *store.UserStore
	sessions *store.SessionStore
	ttl      time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]chan Change
}

func NewService(users *store.UserStore, sessions *store.SessionStore, ttl time.Duration, logger *slog.Logger) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		ttl:      ttl,
		logger:   logger,
		subs:     make(map[int]chan Change),
	}
}

// Register creates an account and signs it in.
func (s *Service) Register(email, secret string) (*model.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash secret: %w", err)
	}
	u, err := s.users.Create(email, string(hash))
	if errors.Is(err, store.ErrEmailTaken) {
		return nil, ErrDuplicateAccount
	}
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	s.logger.Info("account registered", "user_id", u.ID)
	return s.startSession(u.ID)
}

func (s *Service) Login(email, secret string) (*model.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetByEmail(email)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if u == nil {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(secret))
		return nil, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.SecretHash), []byte(secret)); err != nil {
		return nil, ErrBadCredentials
	}
	return s.startSession(u.ID)
}

// Logout ends the session. Unknown tokens are ignored.
func (s *Service) Logout(token string) error {
	sess, err := s.sessions.GetByToken(token)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if err := s.sessions.DeleteByToken(token); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if sess != nil {
		s.broadcast(Change{Kind: SignedOut, UserID: sess.UserID, Token: token})
	}
	return nil
}

// Authenticate returns the live session for token, or nil when it is
// unknown or expired.
func (s *Service) Authenticate(token string) (*model.Session, error) {
	if token == "" {
		return nil, nil
	}
	return s.sessions.GetByToken(token)
}

// User returns the account for id, or nil.
func (s *Service) User(id int64) (*model.User, error) {
	return s.users.GetByID(id)
}

// PurgeExpired deletes expired sessions.
func (s *Service) PurgeExpired() (int64, error) {
	return s.sessions.DeleteExpired()
}

// Subscribe returns a channel of session changes and a function that
// cancels the subscription. Changes are dropped for a subscriber that is
// not keeping up.
func (s *Service) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 8)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Service) startSession(userID int64) (*model.Session, error) {
	sess, err := s.sessions.Create(userID, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.broadcast(Change{Kind: SignedIn, UserID: userID, Token: sess.Token})
	return sess, nil
}

func (s *Service) broadcast(c Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
			s.logger.Warn("identity subscriber slow, dropping change", "kind", c.Kind)
		}
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email, "@") {
		return "", ErrMalformedEmail
	}
	return strings.ToLower(email), nil
}
