package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/starjar/internal/auth"
	"github.com/dukerupert/starjar/internal/database"
	"github.com/dukerupert/starjar/internal/model"
	"github.com/dukerupert/starjar/internal/store"
)

// sessionAuth adapts the session store for tests that do not need the full
// identity service.
type sessionAuth struct{ ss *store.SessionStore }

func (a sessionAuth) Authenticate(token string) (*model.Session, error) {
	return a.ss.GetByToken(token)
}

func setupAuthMiddlewareDB(t *testing.T) (*store.SessionStore, *store.UserStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewSessionStore(db), store.NewUserStore(db)
}

func TestRequireAuthNoToken(t *testing.T) {
	ss, _ := setupAuthMiddlewareDB(t)

	handler := RequireAuth(sessionAuth{ss})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAuthInvalidToken(t *testing.T) {
	ss, _ := setupAuthMiddlewareDB(t)

	handler := RequireAuth(sessionAuth{ss})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "invalid-token"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAuthExpiredSession(t *testing.T) {
	ss, us := setupAuthMiddlewareDB(t)
	u, _ := us.Create("alice@example.com", "hash")
	sess, _ := ss.Create(u.ID, -time.Minute)

	handler := RequireAuth(sessionAuth{ss})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAuthValidSession(t *testing.T) {
	ss, us := setupAuthMiddlewareDB(t)

	u, _ := us.Create("alice@example.com", "hash")
	sess, _ := ss.Create(u.ID, time.Hour)

	for _, viaCookie := range []bool{true, false} {
		var gotAC auth.AuthContext
		handler := RequireAuth(sessionAuth{ss})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := auth.FromContext(r.Context())
			if !ok {
				t.Fatal("expected AuthContext in request context")
			}
			gotAC = ac
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("GET", "/", nil)
		if viaCookie {
			req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sess.Token})
		} else {
			req.Header.Set("Authorization", "Bearer "+sess.Token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("cookie=%v: status = %d, want %d", viaCookie, rec.Code, http.StatusOK)
		}
		if gotAC.UserID != u.ID {
			t.Errorf("cookie=%v: UserID = %d, want %d", viaCookie, gotAC.UserID, u.ID)
		}
		if gotAC.SessionID != sess.ID {
			t.Errorf("cookie=%v: SessionID = %d, want %d", viaCookie, gotAC.SessionID, sess.ID)
		}
		if gotAC.Token != sess.Token {
			t.Errorf("cookie=%v: Token mismatch", viaCookie)
		}
	}
}

func TestSessionTokenPrefersCookie(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "from-cookie"})
	req.Header.Set("Authorization", "Bearer from-header")
	if got := SessionToken(req); got != "from-cookie" {
		t.Errorf("SessionToken = %q, want %q", got, "from-cookie")
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	if got := SessionToken(req); got != "" {
		t.Errorf("SessionToken = %q, want empty", got)
	}
}
