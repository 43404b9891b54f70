package collab

import (
	"context"

	"github.com/jessiecms/collab/auth"
	"github.com/jessiecms/collab/internal/slogging"
)

// RawAuthenticator validates raw-protocol auth messages. The raw endpoint
// skips the presence-handler indirection entirely: a bound connection relays
// operations but never appears in presence.
type RawAuthenticator struct {
	resolver auth.TokenResolver
	access   AccessChecker
}

// NewRawAuthenticator creates a raw-protocol authenticator
func NewRawAuthenticator(resolver auth.TokenResolver, access AccessChecker) *RawAuthenticator {
	return &RawAuthenticator{
		resolver: resolver,
		access:   access,
	}
}

// Authenticate resolves the token, requires the claimed user id (when
// supplied) to match the resolved one, and confirms document access. Returns
// the resolved user id; all failures resolve to a bare false.
func (a *RawAuthenticator) Authenticate(ctx context.Context, token, documentID, claimedUserID string) (string, bool) {
	logger := slogging.Get()

	userID, err := a.resolver.ResolveUser(ctx, token)
	if err != nil {
		logger.Debug("Raw auth rejected: token resolution failed for document_id=%s", documentID)
		return "", false
	}

	if claimedUserID != "" && claimedUserID != userID {
		logger.Warn("Raw auth rejected: claimed user_id=%s does not match token user_id=%s",
			slogging.SanitizeLogMessage(claimedUserID), userID)
		return "", false
	}

	if !a.access.ValidateDocumentAccess(ctx, userID, documentID) {
		logger.Info("Raw auth rejected: user_id=%s lacks access to document_id=%s", userID, documentID)
		return "", false
	}

	return userID, true
}
