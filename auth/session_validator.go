package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jessiecms/collab/collab/models"
	"github.com/jessiecms/collab/internal/crypto"
	"github.com/jessiecms/collab/internal/slogging"
)

// ErrResolveFailed is returned by ResolveUser for every failure mode (bad
// token, dead session, store error). Callers must not distinguish causes.
var ErrResolveFailed = errors.New("token resolution failed")

// PermissionStore reads the document permission table. The concrete
// implementation lives in the collab package.
type PermissionStore interface {
	// Get returns the permission a user holds on a document, or an error if
	// no grant exists.
	Get(ctx context.Context, userID, documentID string) (string, error)
}

// TokenResolver turns a collaboration token into a user id. There is exactly
// one implementation; every component that needs token-to-user resolution
// goes through it so the answer cannot diverge between code paths.
type TokenResolver interface {
	ResolveUser(ctx context.Context, token string) (string, error)
}

// SessionValidator validates collaboration tokens and document access. All
// checks are fail-closed: any decode failure, dead session, missing grant, or
// backing-store error resolves to a denial, never a panic or a propagated
// error.
type SessionValidator struct {
	codec    *crypto.TokenCodec
	sessions SessionStore
	perms    PermissionStore
}

// NewSessionValidator creates a validator over the given stores
func NewSessionValidator(codec *crypto.TokenCodec, sessions SessionStore, perms PermissionStore) *SessionValidator {
	return &SessionValidator{
		codec:    codec,
		sessions: sessions,
		perms:    perms,
	}
}

// GenerateToken issues a collaboration token for an authenticated session
func (v *SessionValidator) GenerateToken(sessionID, userID string) (string, error) {
	token, err := v.codec.Generate(sessionID, userID)
	if err != nil {
		return "", fmt.Errorf("failed to generate collaboration token: %w", err)
	}
	return token, nil
}

// ResolveUser decodes a token and confirms the session it names is still
// live and bound to the same user. It is the single token-to-user resolution
// path in the service.
func (v *SessionValidator) ResolveUser(ctx context.Context, token string) (string, error) {
	logger := slogging.Get()

	payload, err := v.codec.Decode(token)
	if err != nil {
		logger.Debug("Token decode failed during resolution")
		return "", ErrResolveFailed
	}

	record, err := v.sessions.Get(ctx, payload.SessionID)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			logger.Error("Session store error during token resolution: %v", err)
		}
		return "", ErrResolveFailed
	}

	if record.UserID != payload.UserID {
		logger.Warn("Token user mismatch for session_id=%s", payload.SessionID)
		return "", ErrResolveFailed
	}

	return record.UserID, nil
}

// SessionTTL returns how long the session behind a token remains valid.
// Used by the token issuance endpoint to report expires_in.
func (v *SessionValidator) SessionTTL(ctx context.Context, sessionID string) (time.Duration, error) {
	record, err := v.sessions.Get(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return time.Until(record.ExpiresAt), nil
}

// ValidateSession reports whether a token names a live session whose user may
// access the document. Composed from ResolveUser plus the permission check,
// so it cannot disagree with the resolution path.
func (v *SessionValidator) ValidateSession(ctx context.Context, token, documentID string) bool {
	userID, err := v.ResolveUser(ctx, token)
	if err != nil {
		return false
	}
	return v.ValidateDocumentAccess(ctx, userID, documentID)
}

// ValidateDocumentAccess reports whether a user holds edit or view permission
// on a document. Store errors resolve to false.
func (v *SessionValidator) ValidateDocumentAccess(ctx context.Context, userID, documentID string) bool {
	logger := slogging.Get()

	permission, err := v.perms.Get(ctx, userID, documentID)
	if err != nil {
		logger.Debug("No permission found for user_id=%s document_id=%s: %v", userID, documentID, err)
		return false
	}

	switch permission {
	case models.PermissionEdit, models.PermissionView:
		return true
	default:
		logger.Warn("Unknown permission value %q for user_id=%s document_id=%s",
			permission, userID, documentID)
		return false
	}
}
