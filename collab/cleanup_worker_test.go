package collab

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jessiecms/collab/collab/models"
)

func TestCleanupWorker_RunOnce(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	store := NewGormPresenceStore(db)
	tracker := NewPresenceTracker(store)
	handler := NewPresenceHandler(&stubResolver{}, &stubAccess{}, tracker, nil)
	locks := NewGormLockStore(db, 30*time.Minute)

	// A nulled presence row (explicit leave) and an expired lock, both
	// eligible for the sweep, plus fresh entries that must survive.
	require.NoError(t, store.Upsert(ctx, "u1", "doc-1", time.Now()))
	require.NoError(t, store.Upsert(ctx, "u2", "doc-1", time.Now()))
	require.NoError(t, store.ClearLastActive(ctx, "u2", "doc-1"))

	_, err := locks.Acquire(ctx, "doc-1", "u1", nil)
	require.NoError(t, err)
	expired := models.ContentLock{
		DocumentID: "doc-2",
		UserID:     "u2",
		LockedAt:   time.Now().UTC().Add(-time.Hour),
		ExpiresAt:  time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, db.Create(&expired).Error)

	worker := NewCleanupWorker(handler, locks, time.Minute)
	worker.runOnce(ctx)

	users, err := store.ActiveSince(ctx, "doc-1", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, users)

	remaining, err := locks.List(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	gone, err := locks.Check(ctx, "doc-2", nil)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestCleanupWorker_StartStopsOnCancel(t *testing.T) {
	db := newTestDB(t)
	handler := NewPresenceHandler(&stubResolver{}, &stubAccess{},
		NewPresenceTracker(NewGormPresenceStore(db)), nil)
	worker := NewCleanupWorker(handler, nil, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup worker did not stop on context cancel")
	}
}
