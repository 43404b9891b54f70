package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jessiecms/collab/auth"
	authdb "github.com/jessiecms/collab/auth/db"
	"github.com/jessiecms/collab/internal/crypto"
)

const testCookieName = "jessie_session"

type apiTestEnv struct {
	server    *httptest.Server
	sessions  *auth.RedisSessionStore
	perms     *GormPermissionStore
	validator *auth.SessionValidator
	tracker   *PresenceTracker
	mr        *miniredis.Miniredis
}

func newAPITestEnv(t *testing.T) *apiTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newTestDB(t)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	redisDB := authdb.NewRedisDBFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = redisDB.Close() })

	codec, err := crypto.NewTokenCodecFromHex("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	require.NoError(t, err)

	sessions := auth.NewRedisSessionStore(redisDB.GetClient())
	perms := NewGormPermissionStore(db)
	validator := auth.NewSessionValidator(codec, sessions, perms)

	tracker := NewPresenceTracker(NewGormPresenceStore(db))
	activity := NewGormActivityStore(db)
	presence := NewPresenceHandler(validator, validator, tracker, activity)
	locks := NewGormLockStore(db, 30*time.Minute)
	hub := NewHub(presence, NewRawAuthenticator(validator, validator))

	router := gin.New()
	RegisterRoutes(router, hub,
		NewTokenHandler(validator),
		NewDocumentHandler(validator, presence, locks, activity),
		sessions, testCookieName, redisDB)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &apiTestEnv{
		server:    server,
		sessions:  sessions,
		perms:     perms,
		validator: validator,
		tracker:   tracker,
		mr:        mr,
	}
}

func (e *apiTestEnv) seedUser(t *testing.T, sessionID, userID string) {
	t.Helper()
	require.NoError(t, e.sessions.Put(context.Background(), &auth.SessionRecord{
		SessionID: sessionID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Hour),
	}))
}

func (e *apiTestEnv) grant(t *testing.T, userID, documentID, permission string) {
	t.Helper()
	require.NoError(t, e.perms.Grant(context.Background(), userID, documentID, permission))
}

// request performs an API call, optionally authenticated by a session cookie
func (e *apiTestEnv) request(t *testing.T, method, path, sessionID string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: testCookieName, Value: sessionID})
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var decoded map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &decoded))
	}
	return resp.StatusCode, decoded
}

func TestHealthEndpoint(t *testing.T) {
	env := newAPITestEnv(t)

	status, body := env.request(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["open_connections"])

	// Losing Redis makes the service report unhealthy
	env.mr.Close()
	status, body = env.request(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestTokenHandler_IssueToken(t *testing.T) {
	env := newAPITestEnv(t)
	env.seedUser(t, "sess-1", "u1")
	env.grant(t, "u1", "doc-1", "edit")

	t.Run("NoSession", func(t *testing.T) {
		status, _ := env.request(t, http.MethodPost, "/api/collab/token", "", map[string]string{"document_id": "doc-1"})
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("DeadSession", func(t *testing.T) {
		status, _ := env.request(t, http.MethodPost, "/api/collab/token", "sess-gone", map[string]string{"document_id": "doc-1"})
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("MissingDocumentID", func(t *testing.T) {
		status, _ := env.request(t, http.MethodPost, "/api/collab/token", "sess-1", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("NoPermission", func(t *testing.T) {
		status, _ := env.request(t, http.MethodPost, "/api/collab/token", "sess-1", map[string]string{"document_id": "doc-other"})
		assert.Equal(t, http.StatusForbidden, status)
	})

	t.Run("Success", func(t *testing.T) {
		status, body := env.request(t, http.MethodPost, "/api/collab/token", "sess-1", map[string]string{"document_id": "doc-1"})
		require.Equal(t, http.StatusOK, status)

		token, _ := body["token"].(string)
		require.NotEmpty(t, token)
		assert.Greater(t, body["expires_in"].(float64), float64(0))

		// The issued token resolves back to the session's user
		userID, err := env.validator.ResolveUser(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "u1", userID)
	})
}

func TestDocumentHandler_GetActiveUsers(t *testing.T) {
	env := newAPITestEnv(t)
	env.seedUser(t, "sess-1", "u1")
	env.grant(t, "u1", "doc-1", "view")

	env.tracker.UserJoined(context.Background(), "u1", "doc-1")
	env.tracker.UserJoined(context.Background(), "u2", "doc-1")

	status, body := env.request(t, http.MethodGet, "/api/documents/doc-1/active-users", "sess-1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "doc-1", body["document_id"])
	assert.ElementsMatch(t, []any{"u1", "u2"}, body["active_users"])

	status, _ = env.request(t, http.MethodGet, "/api/documents/doc-private/active-users", "sess-1", nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestDocumentHandler_LockLifecycle(t *testing.T) {
	env := newAPITestEnv(t)
	env.seedUser(t, "sess-1", "u1")
	env.seedUser(t, "sess-2", "u2")
	env.grant(t, "u1", "doc-1", "edit")
	env.grant(t, "u2", "doc-1", "edit")

	status, body := env.request(t, http.MethodPost, "/api/documents/doc-1/lock", "sess-1", nil)
	require.Equal(t, http.StatusCreated, status)
	lockID, _ := body["id"].(string)
	require.NotEmpty(t, lockID)

	t.Run("ConflictForOtherUser", func(t *testing.T) {
		status, _ := env.request(t, http.MethodPost, "/api/documents/doc-1/lock", "sess-2", nil)
		assert.Equal(t, http.StatusConflict, status)
	})

	t.Run("List", func(t *testing.T) {
		status, body := env.request(t, http.MethodGet, "/api/documents/doc-1/locks", "sess-2", nil)
		require.Equal(t, http.StatusOK, status)
		assert.Len(t, body["locks"], 1)
	})

	t.Run("Extend", func(t *testing.T) {
		status, _ := env.request(t, http.MethodPut, "/api/documents/doc-1/lock/"+lockID, "sess-1", nil)
		assert.Equal(t, http.StatusOK, status)
	})

	t.Run("ExtendByNonHolder", func(t *testing.T) {
		status, _ := env.request(t, http.MethodPut, "/api/documents/doc-1/lock/"+lockID, "sess-2", nil)
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("Release", func(t *testing.T) {
		status, _ := env.request(t, http.MethodDelete, "/api/documents/doc-1/lock/"+lockID, "sess-1", nil)
		assert.Equal(t, http.StatusNoContent, status)

		status, _ = env.request(t, http.MethodDelete, "/api/documents/doc-1/lock/"+lockID, "sess-1", nil)
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestDocumentHandler_GetActivity(t *testing.T) {
	env := newAPITestEnv(t)
	env.seedUser(t, "sess-1", "u1")
	env.grant(t, "u1", "doc-1", "edit")

	// Lock then release leaves a lock and an unlock event
	status, body := env.request(t, http.MethodPost, "/api/documents/doc-1/lock", "sess-1", nil)
	require.Equal(t, http.StatusCreated, status)
	lockID := body["id"].(string)
	status, _ = env.request(t, http.MethodDelete, "/api/documents/doc-1/lock/"+lockID, "sess-1", nil)
	require.Equal(t, http.StatusNoContent, status)

	t.Run("All", func(t *testing.T) {
		status, body := env.request(t, http.MethodGet, "/api/documents/doc-1/activity", "sess-1", nil)
		require.Equal(t, http.StatusOK, status)
		assert.Len(t, body["activity"], 2)
	})

	t.Run("FilteredByType", func(t *testing.T) {
		status, body := env.request(t, http.MethodGet, "/api/documents/doc-1/activity?type=unlock", "sess-1", nil)
		require.Equal(t, http.StatusOK, status)
		assert.Len(t, body["activity"], 1)
	})

	t.Run("InvalidLimit", func(t *testing.T) {
		status, _ := env.request(t, http.MethodGet, "/api/documents/doc-1/activity?limit=abc", "sess-1", nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})
}
