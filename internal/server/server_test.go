package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/starjar/internal/calendar"
	"github.com/dukerupert/starjar/internal/database"
	"github.com/dukerupert/starjar/internal/legacy"
)

type testServer struct {
	srv    *Server
	router http.Handler
	clock  *calendar.FixedClock
	kv     *legacy.MemoryKV
	token  string
}

func setup(t *testing.T) *testServer {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := &calendar.FixedClock{T: time.Date(2026, 6, 1, 17, 0, 0, 0, time.UTC)}
	kv := legacy.NewMemoryKV(nil)
	srv := New(db, Config{Clock: clock, SessionTTL: time.Hour, LegacyKV: kv, LoginRateLimit: 100}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(srv.Close)
	ts := &testServer{srv: srv, router: srv.Router(), clock: clock, kv: kv}

	rec := ts.do(t, "POST", "/api/auth/register", map[string]string{"email": "parent@example.com", "secret": "secret1"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sess struct {
		Token string `json:"token"`
	}
	decode(t, rec, &sess)
	ts.token = sess.Token
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

type childView struct {
	ID                string `json:"id"`
	ChildName         string `json:"childName"`
	StarCount         int    `json:"starCount"`
	CanRequestToday   bool   `json:"canRequestToday"`
	RedemptionHistory []struct {
		Name string `json:"name"`
		Cost int    `json:"cost"`
	} `json:"redemptionHistory"`
	ActiveRewards []struct {
		Key  string `json:"key"`
		Cost int    `json:"cost"`
	} `json:"activeRewards"`
}

type mutation struct {
	Applied bool      `json:"applied"`
	Child   childView `json:"child"`
}

func (ts *testServer) createChild(t *testing.T) string {
	t.Helper()
	rec := ts.do(t, "POST", "/api/children", map[string]any{"name": "Noa", "pin": "1234", "selected": []string{"candy", "toy"}}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var v childView
	decode(t, rec, &v)
	return v.ID
}

func TestHealth(t *testing.T) {
	ts := setup(t)
	rec := ts.do(t, "GET", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	ts := setup(t)
	ts.token = ""
	rec := ts.do(t, "GET", "/api/children", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, "GET", "/api/catalog", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthFlow(t *testing.T) {
	ts := setup(t)

	rec := ts.do(t, "POST", "/api/auth/register", map[string]string{"email": "parent@example.com", "secret": "secret1"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "duplicate_account")

	rec = ts.do(t, "POST", "/api/auth/login", map[string]string{"email": "parent@example.com", "secret": "nope123"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "bad_credentials")

	rec = ts.do(t, "POST", "/api/auth/login", map[string]string{"email": "parent@example.com", "secret": "secret1"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, "starjar_session", cookies[0].Name)

	rec = ts.do(t, "GET", "/api/auth/me", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "parent@example.com")
	assert.NotContains(t, rec.Body.String(), "secret")

	rec = ts.do(t, "POST", "/api/auth/logout", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, "GET", "/api/children", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChildLifecycle(t *testing.T) {
	ts := setup(t)
	id := ts.createChild(t)

	rec := ts.do(t, "GET", "/api/children", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)

	rec = ts.do(t, "GET", "/api/children/"+id, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "parentPin")
	var v childView
	decode(t, rec, &v)
	assert.True(t, v.CanRequestToday)
	assert.Len(t, v.ActiveRewards, 2)

	rec = ts.do(t, "GET", "/api/children/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStarsAndRewards(t *testing.T) {
	ts := setup(t)
	id := ts.createChild(t)
	base := "/api/children/" + id

	var m mutation
	for i := 0; i < 5; i++ {
		rec := ts.do(t, "POST", base+"/stars/add", map[string]string{"approver": "Mom"}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &m)
		require.True(t, m.Applied)

		rec = ts.do(t, "POST", base+"/stars/add", map[string]string{"approver": "Mom"}, nil)
		decode(t, rec, &m)
		assert.False(t, m.Applied, "second add on the same day")
		ts.clock.Advance(24 * time.Hour)
	}
	assert.Equal(t, 5, m.Child.StarCount)

	rec := ts.do(t, "POST", base+"/stars/add", map[string]string{"approver": ""}, nil)
	decode(t, rec, &m)
	assert.False(t, m.Applied, "empty approver")

	rec = ts.do(t, "POST", base+"/rewards/toy/claim", nil, nil)
	decode(t, rec, &m)
	require.True(t, m.Applied)
	assert.Equal(t, 0, m.Child.StarCount)
	require.Len(t, m.Child.RedemptionHistory, 1)
	assert.Equal(t, "New toy", m.Child.RedemptionHistory[0].Name)

	pin := map[string]string{"X-Parent-PIN": "1234"}
	rec = ts.do(t, "DELETE", base+"/parent/history/0", nil, map[string]string{"X-Parent-PIN": "9999"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, "DELETE", base+"/parent/history/0", nil, pin)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &m)
	assert.True(t, m.Applied)
	assert.Equal(t, 5, m.Child.StarCount)
	assert.Empty(t, m.Child.RedemptionHistory)

	rec = ts.do(t, "DELETE", base+"/parent/history/x", nil, pin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParentDashboard(t *testing.T) {
	ts := setup(t)
	id := ts.createChild(t)
	base := "/api/children/" + id
	pin := map[string]string{"X-Parent-PIN": "1234"}

	rec := ts.do(t, "POST", base+"/parent/verify", map[string]string{"pin": "1234"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, "POST", base+"/parent/verify", map[string]string{"pin": "0000"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, "POST", base+"/parent/stars/add", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var m mutation
	rec = ts.do(t, "POST", base+"/parent/stars/add", nil, pin)
	decode(t, rec, &m)
	assert.True(t, m.Applied)
	assert.Equal(t, 1, m.Child.StarCount)
	assert.True(t, m.Child.CanRequestToday)

	rec = ts.do(t, "POST", base+"/parent/stars/reset", nil, pin)
	decode(t, rec, &m)
	assert.True(t, m.Applied)
	rec = ts.do(t, "POST", base+"/parent/stars/remove", nil, pin)
	decode(t, rec, &m)
	assert.False(t, m.Applied)
	assert.Equal(t, 0, m.Child.StarCount)

	rec = ts.do(t, "PUT", base+"/parent/rewards", map[string]any{"selected": []string{}}, pin)
	decode(t, rec, &m)
	assert.False(t, m.Applied)

	rec = ts.do(t, "PUT", base+"/parent/rewards", map[string]any{"selected": []string{"pizza"}, "costs": map[string]int{"pizza": 7}}, pin)
	decode(t, rec, &m)
	require.True(t, m.Applied)
	require.Len(t, m.Child.ActiveRewards, 1)
	assert.Equal(t, 7, m.Child.ActiveRewards[0].Cost)

	rec = ts.do(t, "GET", base+"/parent/rewards", nil, pin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pizza":7`)

	rec = ts.do(t, "DELETE", base, nil, pin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"returnToSelection":true`)

	rec = ts.do(t, "GET", base, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParentPINLockout(t *testing.T) {
	ts := setup(t)
	id := ts.createChild(t)
	other := ts.createChild(t)
	base := "/api/children/" + id
	wrong := map[string]string{"X-Parent-PIN": "9999"}

	for i := 0; i < 5; i++ {
		rec := ts.do(t, "POST", base+"/parent/stars/add", nil, wrong)
		require.Equal(t, http.StatusForbidden, rec.Code, "attempt %d", i+1)
	}

	// Locked for every parent route of this child, right PIN included.
	rec := ts.do(t, "POST", base+"/parent/verify", map[string]string{"pin": "1234"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	rec = ts.do(t, "DELETE", base, nil, map[string]string{"X-Parent-PIN": "1234"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// The child screen and other children are unaffected.
	rec = ts.do(t, "GET", base, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, "POST", "/api/children/"+other+"/parent/verify", map[string]string{"pin": "1234"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMigrationRoutes(t *testing.T) {
	ts := setup(t)

	rec := ts.do(t, "GET", "/api/migration", nil, nil)
	assert.JSONEq(t, `{"available":false}`, rec.Body.String())

	require.NoError(t, ts.kv.Set(legacy.StateKey, `{"stars":3,"history":[{"name":"ממתקים","emoji":"🍬","date":"Mar 4"}]}`))
	require.NoError(t, ts.kv.Set(legacy.ConfigKey, `{"childName":"A"}`))

	rec = ts.do(t, "GET", "/api/migration", nil, nil)
	assert.JSONEq(t, `{"available":true}`, rec.Body.String())

	rec = ts.do(t, "POST", "/api/migration", map[string]bool{"confirm": false}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, "POST", "/api/migration", map[string]bool{"confirm": true}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out struct {
		ID string `json:"id"`
	}
	decode(t, rec, &out)

	rec = ts.do(t, "GET", "/api/children/"+out.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var v childView
	decode(t, rec, &v)
	assert.Equal(t, "A", v.ChildName)
	assert.Equal(t, 3, v.StarCount)
	require.Len(t, v.RedemptionHistory, 1)
	assert.Equal(t, 2, v.RedemptionHistory[0].Cost)

	rec = ts.do(t, "GET", "/api/migration", nil, nil)
	assert.JSONEq(t, `{"available":false}`, rec.Body.String())
}

func TestChildrenAreScopedToAccount(t *testing.T) {
	ts := setup(t)
	id := ts.createChild(t)

	rec := ts.do(t, "POST", "/api/auth/register", map[string]string{"email": "other@example.com", "secret": "secret2"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var sess struct {
		Token string `json:"token"`
	}
	decode(t, rec, &sess)
	ts.token = sess.Token

	rec = ts.do(t, "GET", "/api/children/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, "GET", "/api/children", nil, nil)
	assert.JSONEq(t, `[]`, rec.Body.String())
}
