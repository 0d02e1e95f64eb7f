package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/starjar/internal/calendar"
	"github.com/dukerupert/starjar/internal/catalog"
	"github.com/dukerupert/starjar/internal/docstore"
	"github.com/dukerupert/starjar/internal/handler"
	"github.com/dukerupert/starjar/internal/identity"
	"github.com/dukerupert/starjar/internal/legacy"
	"github.com/dukerupert/starjar/internal/middleware"
	"github.com/dukerupert/starjar/internal/store"
	"github.com/dukerupert/starjar/internal/tracker"
	ws "github.com/dukerupert/starjar/internal/websocket"
)

type Config struct {
	Catalog    *catalog.Catalog
	Clock      calendar.Clock
	SessionTTL time.Duration
	// LegacyKV is the legacy single-child store. Nil disables migration.
	LegacyKV       legacy.KV
	LoginRateLimit int
	// Wrong parent PINs allowed per child within PINLockout.
	PINAttemptLimit int
	PINLockout      time.Duration
	SecureCookie    bool
}

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	docs        *docstore.Store
	tracker     *tracker.Tracker
	identity    *identity.Service
	authH       *handler.AuthHandler
	childH      *handler.ChildHandler
	catalogH    *handler.CatalogHandler
	migrationH  *handler.MigrationHandler
	rateLimiter *middleware.RateLimiter
	loginLimit  int
	pinLimit    int
	pinLockout  time.Duration
	logger      *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = calendar.SystemClock{Location: time.Local}
	}
	if cfg.LoginRateLimit <= 0 {
		cfg.LoginRateLimit = 10
	}
	if cfg.PINAttemptLimit <= 0 {
		cfg.PINAttemptLimit = 5
	}
	if cfg.PINLockout <= 0 {
		cfg.PINLockout = 15 * time.Minute
	}

	hub := ws.NewHub(logger.With("component", "websocket"))
	docs := docstore.New(store.NewChildStore(db), logger.With("component", "docstore"))
	tr := tracker.New(docs, cfg.Catalog, cfg.Clock, logger.With("component", "tracker"))
	id := identity.NewService(store.NewUserStore(db), store.NewSessionStore(db), cfg.SessionTTL, logger.With("component", "identity"))

	var migrator *legacy.Migrator
	if cfg.LegacyKV != nil {
		migrator = legacy.NewMigrator(cfg.LegacyKV, docs, cfg.Catalog, logger.With("component", "legacy"))
	}

	return &Server{
		db:          db,
		hub:         hub,
		docs:        docs,
		tracker:     tr,
		identity:    id,
		authH:       handler.NewAuthHandler(id, cfg.SecureCookie, logger.With("component", "auth")),
		childH:      handler.NewChildHandler(tr, logger.With("component", "child")),
		catalogH:    handler.NewCatalogHandler(cfg.Catalog),
		migrationH:  handler.NewMigrationHandler(migrator, logger.With("component", "migration")),
		rateLimiter: middleware.NewRateLimiter(),
		loginLimit:  cfg.LoginRateLimit,
		pinLimit:    cfg.PINAttemptLimit,
		pinLockout:  cfg.PINLockout,
		logger:      logger,
	}
}

// Identity returns the account service for cleanup tasks.
func (s *Server) Identity() *identity.Service {
	return s.identity
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Tracker() *tracker.Tracker {
	return s.tracker
}

// WatchSignOuts drops live streams opened with a session once it signs out.
// It returns when ctx is done.
func (s *Server) WatchSignOuts(ctx context.Context) {
	changes, cancel := s.identity.Subscribe()
	defer cancel()
	for {
		select {
		case c, ok := <-changes:
			if !ok {
				return
			}
			if c.Kind == identity.SignedOut {
				if n := s.hub.DisconnectSession(c.Token); n > 0 {
					s.logger.Info("closed streams for signed out session", "user_id", c.UserID, "count", n)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close disconnects live streams and flushes open child sessions.
func (s *Server) Close() {
	s.hub.CloseAll()
	s.tracker.Close()
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("POST /api/auth/register", s.rateLimitedHandler(s.authH.Register))
	outerMux.HandleFunc("POST /api/auth/login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("GET /api/catalog", s.catalogH.List)
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Protected routes, wrapped with RequireAuth
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.identity)
	outerMux.Handle("/", authMiddleware(protectedMux))

	// Apply request logging middleware
	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"streams": s.hub.ClientCount(),
	})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, s.loginLimit, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) pinGuarded(h http.HandlerFunc) http.Handler {
	return middleware.ParentPINGuard(s.rateLimiter, s.pinLimit, s.pinLockout)(h)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/logout", s.authH.Logout)
	mux.HandleFunc("GET /api/auth/me", s.authH.Me)

	// Profile selection and onboarding
	mux.HandleFunc("GET /api/children", s.childH.List)
	mux.HandleFunc("POST /api/children", s.childH.Create)
	mux.HandleFunc("GET /api/children/{id}", s.childH.Get)

	// Child screen
	mux.HandleFunc("POST /api/children/{id}/stars/add", s.childH.CommitAdd)
	mux.HandleFunc("POST /api/children/{id}/stars/remove", s.childH.CommitRemove)
	mux.HandleFunc("POST /api/children/{id}/rewards/{key}/claim", s.childH.Claim)

	// Parent dashboard (PIN in X-Parent-PIN), locked after repeated wrong PINs
	pin := s.pinGuarded
	mux.Handle("POST /api/children/{id}/parent/verify", pin(s.childH.VerifyPIN))
	mux.Handle("POST /api/children/{id}/parent/stars/add", pin(s.childH.ParentAdd))
	mux.Handle("POST /api/children/{id}/parent/stars/remove", pin(s.childH.ParentRemove))
	mux.Handle("POST /api/children/{id}/parent/stars/reset", pin(s.childH.ResetStars))
	mux.Handle("GET /api/children/{id}/parent/rewards", pin(s.childH.RewardEdit))
	mux.Handle("PUT /api/children/{id}/parent/rewards", pin(s.childH.SaveRewards))
	mux.Handle("DELETE /api/children/{id}/parent/history/{index}", pin(s.childH.ReverseHistory))
	mux.Handle("DELETE /api/children/{id}", pin(s.childH.Delete))

	// Legacy import
	mux.HandleFunc("GET /api/migration", s.migrationH.Status)
	mux.HandleFunc("POST /api/migration", s.migrationH.Migrate)

	// WebSocket
	mux.HandleFunc("GET /ws/children", ws.HandleChildren(s.hub, s.tracker, s.logger.With("component", "websocket")))
	mux.HandleFunc("GET /ws/children/{id}", ws.HandleChild(s.hub, s.tracker, s.logger.With("component", "websocket")))
}
