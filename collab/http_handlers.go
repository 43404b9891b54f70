package collab

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jessiecms/collab/auth"
	"github.com/jessiecms/collab/internal/slogging"
)

// Context keys populated by SessionMiddleware
const (
	ContextKeyUserID    = "user_id"
	ContextKeySessionID = "session_id"
)

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Pinger reports backing-store reachability. Implemented by db.RedisDB.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves GET /health: reports whether the session store is
// reachable and how many WebSocket connections are open.
func HealthHandler(hub *Hub, redis Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if redis != nil {
			if err := redis.Ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":           "ok",
			"open_connections": hub.ConnectionCount(),
		})
	}
}

// SessionMiddleware resolves the CMS session cookie against the session
// store and binds user_id/session_id to the request context. The login flow
// that creates these sessions lives in the CMS proper.
func SessionMiddleware(sessions auth.SessionStore, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := c.Cookie(cookieName)
		if err != nil || sessionID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{
				Error:   "unauthorized",
				Message: "No active session",
			})
			return
		}

		record, err := sessions.Get(c.Request.Context(), sessionID)
		if err != nil {
			if !errors.Is(err, auth.ErrSessionNotFound) {
				slogging.Get().Error("Session store error in middleware: %v", err)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, apiError{
				Error:   "unauthorized",
				Message: "No active session",
			})
			return
		}

		c.Set(ContextKeyUserID, record.UserID)
		c.Set(ContextKeySessionID, record.SessionID)
		c.Next()
	}
}

func requestIdentity(c *gin.Context) (userID, sessionID string, ok bool) {
	u, uok := c.Get(ContextKeyUserID)
	s, sok := c.Get(ContextKeySessionID)
	if !uok || !sok {
		return "", "", false
	}
	return u.(string), s.(string), true
}

// TokenHandler issues collaboration tokens to authenticated CMS users
type TokenHandler struct {
	validator *auth.SessionValidator
}

// NewTokenHandler creates a token issuance handler
func NewTokenHandler(validator *auth.SessionValidator) *TokenHandler {
	return &TokenHandler{validator: validator}
}

type tokenRequest struct {
	DocumentID string `json:"document_id" binding:"required"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// IssueToken handles POST /api/collab/token
func (h *TokenHandler) IssueToken(c *gin.Context) {
	userID, sessionID, ok := requestIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, apiError{Error: "unauthorized", Message: "No active session"})
		return
	}

	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apiError{Error: "invalid_request", Message: "document_id is required"})
		return
	}

	if !h.validator.ValidateDocumentAccess(c.Request.Context(), userID, req.DocumentID) {
		c.JSON(http.StatusForbidden, apiError{Error: "forbidden", Message: "No access to document"})
		return
	}

	token, err := h.validator.GenerateToken(sessionID, userID)
	if err != nil {
		slogging.Get().Error("Token generation failed: user_id=%s error=%v", userID, err)
		c.JSON(http.StatusInternalServerError, apiError{Error: "internal_error", Message: "Failed to issue token"})
		return
	}

	ttl, err := h.validator.SessionTTL(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, apiError{Error: "unauthorized", Message: "No active session"})
		return
	}

	c.JSON(http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresIn: int64(ttl.Seconds()),
	})
}

// DocumentHandler serves presence, lock, and activity queries for documents
type DocumentHandler struct {
	validator *auth.SessionValidator
	presence  *PresenceHandler
	locks     LockStore
	activity  ActivityStore
}

// NewDocumentHandler creates a document collaboration handler. All stores are
// required; unlike PresenceHandler, there is no nil-disables-recording mode
// here because the activity endpoint reads the store directly.
func NewDocumentHandler(validator *auth.SessionValidator, presence *PresenceHandler, locks LockStore, activity ActivityStore) *DocumentHandler {
	return &DocumentHandler{
		validator: validator,
		presence:  presence,
		locks:     locks,
		activity:  activity,
	}
}

// requireAccess checks document permission for the request identity,
// writing the error response itself on failure
func (h *DocumentHandler) requireAccess(c *gin.Context) (userID string, ok bool) {
	userID, _, ok = requestIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, apiError{Error: "unauthorized", Message: "No active session"})
		return "", false
	}
	if !h.validator.ValidateDocumentAccess(c.Request.Context(), userID, c.Param("id")) {
		c.JSON(http.StatusForbidden, apiError{Error: "forbidden", Message: "No access to document"})
		return "", false
	}
	return userID, true
}

// GetActiveUsers handles GET /api/documents/:id/active-users
func (h *DocumentHandler) GetActiveUsers(c *gin.Context) {
	if _, ok := h.requireAccess(c); !ok {
		return
	}

	documentID := c.Param("id")
	c.JSON(http.StatusOK, gin.H{
		"document_id":  documentID,
		"active_users": h.presence.GetActiveUsers(c.Request.Context(), documentID),
	})
}

type lockRequest struct {
	Section *string `json:"section"`
}

// AcquireLock handles POST /api/documents/:id/lock
func (h *DocumentHandler) AcquireLock(c *gin.Context) {
	userID, ok := h.requireAccess(c)
	if !ok {
		return
	}

	var req lockRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, apiError{Error: "invalid_request", Message: "Malformed lock request"})
			return
		}
	}

	documentID := c.Param("id")
	lock, err := h.locks.Acquire(c.Request.Context(), documentID, userID, req.Section)
	if err != nil {
		if errors.Is(err, ErrLockHeld) {
			c.JSON(http.StatusConflict, apiError{Error: "locked", Message: "Document is locked by another user"})
			return
		}
		slogging.Get().Error("Lock acquire failed: document_id=%s user_id=%s error=%v", documentID, userID, err)
		c.JSON(http.StatusInternalServerError, apiError{Error: "internal_error", Message: "Failed to acquire lock"})
		return
	}

	_ = h.activity.Record(c.Request.Context(), documentID, userID, ActivityLock, map[string]any{"lock_id": lock.ID})
	c.JSON(http.StatusCreated, lock)
}

// ExtendLock handles PUT /api/documents/:id/lock/:lockId
func (h *DocumentHandler) ExtendLock(c *gin.Context) {
	userID, ok := h.requireAccess(c)
	if !ok {
		return
	}

	lock, err := h.locks.Extend(c.Request.Context(), c.Param("lockId"), userID)
	if err != nil {
		if errors.Is(err, ErrLockNotFound) {
			c.JSON(http.StatusNotFound, apiError{Error: "not_found", Message: "Lock not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, apiError{Error: "internal_error", Message: "Failed to extend lock"})
		return
	}
	c.JSON(http.StatusOK, lock)
}

// ReleaseLock handles DELETE /api/documents/:id/lock/:lockId
func (h *DocumentHandler) ReleaseLock(c *gin.Context) {
	userID, ok := h.requireAccess(c)
	if !ok {
		return
	}

	lockID := c.Param("lockId")
	if err := h.locks.Release(c.Request.Context(), lockID, userID); err != nil {
		if errors.Is(err, ErrLockNotFound) {
			c.JSON(http.StatusNotFound, apiError{Error: "not_found", Message: "Lock not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, apiError{Error: "internal_error", Message: "Failed to release lock"})
		return
	}

	_ = h.activity.Record(c.Request.Context(), c.Param("id"), userID, ActivityUnlock, map[string]any{"lock_id": lockID})
	c.Status(http.StatusNoContent)
}

// ListLocks handles GET /api/documents/:id/locks
func (h *DocumentHandler) ListLocks(c *gin.Context) {
	if _, ok := h.requireAccess(c); !ok {
		return
	}

	locks, err := h.locks.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, apiError{Error: "internal_error", Message: "Failed to list locks"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"locks": locks})
}

// GetActivity handles GET /api/documents/:id/activity
func (h *DocumentHandler) GetActivity(c *gin.Context) {
	if _, ok := h.requireAccess(c); !ok {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, apiError{Error: "invalid_request", Message: "Invalid limit"})
			return
		}
		limit = parsed
	}

	history, err := h.activity.History(c.Request.Context(), c.Param("id"), c.Query("type"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, apiError{Error: "internal_error", Message: "Failed to query activity"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": history})
}
