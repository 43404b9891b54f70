package collab

import (
	"context"
	"errors"

	"github.com/jessiecms/collab/auth"
	"github.com/jessiecms/collab/internal/slogging"
)

// ErrAccessDenied is returned when a join is rejected. The cause (bad token,
// dead session, missing permission) is logged server-side only.
var ErrAccessDenied = errors.New("access denied")

// AccessChecker confirms document access for an already-resolved user.
type AccessChecker interface {
	ValidateDocumentAccess(ctx context.Context, userID, documentID string) bool
}

// JoinResult is the outcome of a successful join.
type JoinResult struct {
	UserID      string
	ActiveUsers []string
}

// PresenceHandler orchestrates token resolution, the permission check, and
// tracker mutation for joins and leaves.
type PresenceHandler struct {
	resolver auth.TokenResolver
	access   AccessChecker
	tracker  *PresenceTracker
	activity ActivityStore // nil disables activity recording
}

// NewPresenceHandler creates a presence handler
func NewPresenceHandler(resolver auth.TokenResolver, access AccessChecker, tracker *PresenceTracker, activity ActivityStore) *PresenceHandler {
	return &PresenceHandler{
		resolver: resolver,
		access:   access,
		tracker:  tracker,
		activity: activity,
	}
}

// HandleJoin resolves the token, requires document access, records the join,
// and returns the resolved user plus the now-current active set. Every
// failure mode collapses to ErrAccessDenied.
func (h *PresenceHandler) HandleJoin(ctx context.Context, token, documentID string) (*JoinResult, error) {
	logger := slogging.Get()

	userID, err := h.resolver.ResolveUser(ctx, token)
	if err != nil {
		logger.Debug("Join rejected: token resolution failed for document_id=%s", documentID)
		return nil, ErrAccessDenied
	}

	if !h.access.ValidateDocumentAccess(ctx, userID, documentID) {
		logger.Info("Join rejected: user_id=%s lacks access to document_id=%s", userID, documentID)
		return nil, ErrAccessDenied
	}

	h.tracker.UserJoined(ctx, userID, documentID)
	h.recordActivity(ctx, documentID, userID, ActivityJoin)

	logger.Info("User joined document: user_id=%s document_id=%s", userID, documentID)

	return &JoinResult{
		UserID:      userID,
		ActiveUsers: h.tracker.GetActiveUsers(ctx, documentID),
	}, nil
}

// HandleLeave resolves the token and records the leave. Resolution failure is
// a silent no-op: disconnect paths must never error.
func (h *PresenceHandler) HandleLeave(ctx context.Context, token, documentID string) {
	userID, err := h.resolver.ResolveUser(ctx, token)
	if err != nil {
		slogging.Get().Debug("Leave ignored: token resolution failed for document_id=%s", documentID)
		return
	}

	h.tracker.UserLeft(ctx, userID, documentID)
	h.recordActivity(ctx, documentID, userID, ActivityLeave)

	slogging.Get().Info("User left document: user_id=%s document_id=%s", userID, documentID)
}

// GetActiveUsers passes through to the tracker
func (h *PresenceHandler) GetActiveUsers(ctx context.Context, documentID string) []string {
	return h.tracker.GetActiveUsers(ctx, documentID)
}

// CleanupInactive passes through to the tracker
func (h *PresenceHandler) CleanupInactive(ctx context.Context) (int64, error) {
	return h.tracker.CleanupInactive(ctx)
}

func (h *PresenceHandler) recordActivity(ctx context.Context, documentID, userID, activityType string) {
	if h.activity == nil {
		return
	}
	// Activity is an audit trail; failures are already logged by the store.
	_ = h.activity.Record(ctx, documentID, userID, activityType, nil)
}
