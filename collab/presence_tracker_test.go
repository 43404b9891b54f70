package collab

import (
	"context"
	"testing"
	"time"

	authdb "github.com/jessiecms/collab/auth/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := authdb.NewGormDB(authdb.GormConfig{SQLitePath: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db.DB()
}

func TestPresenceTracker_JoinAndLeave(t *testing.T) {
	ctx := context.Background()
	store := NewGormPresenceStore(newTestDB(t))
	tracker := NewPresenceTracker(store)

	tracker.UserJoined(ctx, "u1", "doc-1")
	tracker.UserJoined(ctx, "u2", "doc-1")

	assert.Equal(t, []string{"u1", "u2"}, tracker.GetActiveUsers(ctx, "doc-1"))

	tracker.UserLeft(ctx, "u1", "doc-1")
	assert.Equal(t, []string{"u2"}, tracker.GetActiveUsers(ctx, "doc-1"))

	// Leaving a user that is not present is a no-op
	tracker.UserLeft(ctx, "u9", "doc-1")
	assert.Equal(t, []string{"u2"}, tracker.GetActiveUsers(ctx, "doc-1"))
}

func TestPresenceTracker_EmptyMemorySetWins(t *testing.T) {
	// Once a document key exists in memory, the memory view is authoritative
	// even when its set is empty: the key is never pruned on last-leave.
	ctx := context.Background()
	store := NewGormPresenceStore(newTestDB(t))
	tracker := NewPresenceTracker(store)

	tracker.UserJoined(ctx, "u1", "doc-1")
	tracker.UserLeft(ctx, "u1", "doc-1")

	// Simulate another process having persisted recent presence for the doc
	require.NoError(t, store.Upsert(ctx, "u2", "doc-1", time.Now()))

	assert.Empty(t, tracker.GetActiveUsers(ctx, "doc-1"))
}

func TestPresenceTracker_PersistedFallback(t *testing.T) {
	ctx := context.Background()
	store := NewGormPresenceStore(newTestDB(t))
	tracker := NewPresenceTracker(store)

	// Rows written by another process: one inside the 2-minute window, one
	// outside it, one nulled.
	require.NoError(t, store.Upsert(ctx, "recent", "doc-1", time.Now().Add(-30*time.Second)))
	require.NoError(t, store.Upsert(ctx, "stale", "doc-1", time.Now().Add(-10*time.Minute)))
	require.NoError(t, store.Upsert(ctx, "left", "doc-1", time.Now()))
	require.NoError(t, store.ClearLastActive(ctx, "left", "doc-1"))

	// No memory entry for doc-1, so the persisted window applies
	assert.Equal(t, []string{"recent"}, tracker.GetActiveUsers(ctx, "doc-1"))

	// Unknown documents resolve to an empty set, not nil panic
	assert.Empty(t, tracker.GetActiveUsers(ctx, "doc-other"))
}

func TestPresenceTracker_MirrorsToStore(t *testing.T) {
	ctx := context.Background()
	store := NewGormPresenceStore(newTestDB(t))
	tracker := NewPresenceTracker(store)

	tracker.UserJoined(ctx, "u1", "doc-1")

	// A second tracker instance over the same store sees the join through
	// the persisted fallback (fresh memory, no doc-1 key).
	second := NewPresenceTracker(store)
	assert.Equal(t, []string{"u1"}, second.GetActiveUsers(ctx, "doc-1"))

	// After leave, the row is nulled (not deleted) and the fallback excludes it
	tracker.UserLeft(ctx, "u1", "doc-1")
	assert.Empty(t, second.GetActiveUsers(ctx, "doc-1"))
}

func TestPresenceTracker_CleanupInactive(t *testing.T) {
	ctx := context.Background()
	store := NewGormPresenceStore(newTestDB(t))
	tracker := NewPresenceTracker(store)

	require.NoError(t, store.Upsert(ctx, "fresh", "doc-1", time.Now()))
	require.NoError(t, store.Upsert(ctx, "old", "doc-1", time.Now().Add(-2*time.Hour)))
	require.NoError(t, store.Upsert(ctx, "gone", "doc-1", time.Now()))
	require.NoError(t, store.ClearLastActive(ctx, "gone", "doc-1"))

	removed, err := tracker.CleanupInactive(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	// The fresh row survives the sweep
	users, err := store.ActiveSince(ctx, "doc-1", time.Now().Add(-2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, users)
}

func TestPresenceTracker_CleanupDoesNotTouchMemory(t *testing.T) {
	ctx := context.Background()
	store := NewGormPresenceStore(newTestDB(t))
	tracker := NewPresenceTracker(store, WithPresenceMaxAge(time.Nanosecond))

	tracker.UserJoined(ctx, "u1", "doc-1")
	time.Sleep(2 * time.Millisecond)

	_, err := tracker.CleanupInactive(ctx)
	require.NoError(t, err)

	// Persisted row is gone but the in-memory view still reports the user
	assert.Equal(t, []string{"u1"}, tracker.GetActiveUsers(ctx, "doc-1"))
}
