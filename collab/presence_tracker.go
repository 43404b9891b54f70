package collab

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jessiecms/collab/internal/slogging"
)

const (
	// defaultPresenceWindow is how recent a persisted row must be to count as
	// active when the in-memory map has no entry for the document.
	defaultPresenceWindow = 2 * time.Minute
	// defaultPresenceMaxAge is when persisted rows become eligible for the
	// cleanup sweep.
	defaultPresenceMaxAge = time.Hour
)

// PresenceTracker is the authoritative registry of which users are active on
// which documents. The in-memory map is process-local and lost on restart;
// every mutation is mirrored to the persisted store best-effort, in sequence,
// with no transaction across the two.
//
// Reads prefer the in-memory view whenever the document key exists there,
// even if its user set is empty, and fall back to persisted rows updated
// within the presence window otherwise. Sibling processes only ever see each
// other through the persisted fallback, so multi-process deployments
// under-report presence held purely in another process's memory. That window
// is a documented property of the design, not a defect.
type PresenceTracker struct {
	mu sync.RWMutex
	// document_id -> user_id -> last seen unix time
	active map[string]map[string]int64

	store  PresenceStore
	window time.Duration
	maxAge time.Duration
}

// PresenceTrackerOption customizes a tracker
type PresenceTrackerOption func(*PresenceTracker)

// WithPresenceWindow overrides the fallback query window
func WithPresenceWindow(window time.Duration) PresenceTrackerOption {
	return func(t *PresenceTracker) { t.window = window }
}

// WithPresenceMaxAge overrides the cleanup age threshold
func WithPresenceMaxAge(maxAge time.Duration) PresenceTrackerOption {
	return func(t *PresenceTracker) { t.maxAge = maxAge }
}

// NewPresenceTracker creates a tracker over the given persisted store
func NewPresenceTracker(store PresenceStore, opts ...PresenceTrackerOption) *PresenceTracker {
	t := &PresenceTracker{
		active: make(map[string]map[string]int64),
		store:  store,
		window: defaultPresenceWindow,
		maxAge: defaultPresenceMaxAge,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// UserJoined records a user as active on a document. The persisted mirror is
// updated after the in-memory map; a store failure is logged and does not
// undo the in-memory join.
func (t *PresenceTracker) UserJoined(ctx context.Context, userID, documentID string) {
	now := time.Now()

	t.mu.Lock()
	users, ok := t.active[documentID]
	if !ok {
		users = make(map[string]int64)
		t.active[documentID] = users
	}
	users[userID] = now.Unix()
	t.mu.Unlock()

	if err := t.store.Upsert(ctx, userID, documentID, now); err != nil {
		slogging.Get().Error("Failed to mirror presence join: user_id=%s document_id=%s error=%v",
			userID, documentID, err)
	}
}

// UserLeft removes a user from the in-memory map and nulls the persisted
// row's last_active. Absent users are a no-op. The document key is kept even
// when its user set becomes empty; only the cleanup of the persisted mirror
// is time-based.
func (t *PresenceTracker) UserLeft(ctx context.Context, userID, documentID string) {
	t.mu.Lock()
	if users, ok := t.active[documentID]; ok {
		delete(users, userID)
	}
	t.mu.Unlock()

	if err := t.store.ClearLastActive(ctx, userID, documentID); err != nil {
		slogging.Get().Error("Failed to mirror presence leave: user_id=%s document_id=%s error=%v",
			userID, documentID, err)
	}
}

// GetActiveUsers returns the users currently considered active on a document.
// The in-memory view wins whenever the document key exists, including when
// its set is legitimately empty after everyone leaves. Otherwise persisted
// rows within the presence window are used; a store failure there resolves to
// an empty set.
func (t *PresenceTracker) GetActiveUsers(ctx context.Context, documentID string) []string {
	t.mu.RLock()
	users, ok := t.active[documentID]
	if ok {
		ids := make([]string, 0, len(users))
		for userID := range users {
			ids = append(ids, userID)
		}
		t.mu.RUnlock()
		sort.Strings(ids)
		return ids
	}
	t.mu.RUnlock()

	ids, err := t.store.ActiveSince(ctx, documentID, time.Now().Add(-t.window))
	if err != nil {
		slogging.Get().Error("Failed to query persisted presence: document_id=%s error=%v",
			documentID, err)
		return []string{}
	}
	if ids == nil {
		ids = []string{}
	}
	sort.Strings(ids)
	return ids
}

// CleanupInactive deletes persisted rows that are nulled or older than the
// max age. The in-memory map is untouched; this reconciles rows orphaned by
// abrupt disconnects, which never null their presence row.
func (t *PresenceTracker) CleanupInactive(ctx context.Context) (int64, error) {
	return t.store.DeleteInactive(ctx, time.Now().Add(-t.maxAge))
}
