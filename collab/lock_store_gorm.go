package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jessiecms/collab/collab/models"
	"github.com/jessiecms/collab/internal/slogging"
	"gorm.io/gorm"
)

// ErrLockHeld is returned when another user already holds a conflicting lock.
var ErrLockHeld = errors.New("document is locked by another user")

// ErrLockNotFound is returned when extending or releasing a missing lock.
var ErrLockNotFound = errors.New("lock not found")

const defaultLockDuration = 30 * time.Minute

// LockStore manages content locks. A lock covers a whole document when
// Section is nil, or a single named section otherwise.
type LockStore interface {
	Acquire(ctx context.Context, documentID, userID string, section *string) (*models.ContentLock, error)
	Extend(ctx context.Context, lockID, userID string) (*models.ContentLock, error)
	Release(ctx context.Context, lockID, userID string) error
	Check(ctx context.Context, documentID string, section *string) (*models.ContentLock, error)
	List(ctx context.Context, documentID string) ([]models.ContentLock, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

// GormLockStore implements LockStore using GORM
type GormLockStore struct {
	db       *gorm.DB
	duration time.Duration
}

// NewGormLockStore creates a new GORM-backed lock store
func NewGormLockStore(db *gorm.DB, duration time.Duration) *GormLockStore {
	if duration <= 0 {
		duration = defaultLockDuration
	}
	return &GormLockStore{db: db, duration: duration}
}

// Acquire takes a lock for the user, first releasing any lock the same user
// already holds on the document. Fails with ErrLockHeld if another user's
// active lock conflicts.
func (s *GormLockStore) Acquire(ctx context.Context, documentID, userID string, section *string) (*models.ContentLock, error) {
	logger := slogging.Get()

	existing, err := s.Check(ctx, documentID, section)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.UserID != userID {
		logger.Debug("Lock conflict: document_id=%s held_by=%s requested_by=%s",
			documentID, existing.UserID, userID)
		return nil, ErrLockHeld
	}

	// Same-user re-acquire replaces the previous lock
	result := s.db.WithContext(ctx).
		Where("document_id = ? AND user_id = ?", documentID, userID).
		Delete(&models.ContentLock{})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to release prior locks: %w", result.Error)
	}

	now := time.Now().UTC()
	lock := models.ContentLock{
		DocumentID: documentID,
		UserID:     userID,
		Section:    section,
		LockedAt:   now,
		ExpiresAt:  now.Add(s.duration),
	}
	if result := s.db.WithContext(ctx).Create(&lock); result.Error != nil {
		return nil, fmt.Errorf("failed to create lock: %w", result.Error)
	}

	logger.Info("Lock acquired: id=%s document_id=%s user_id=%s", lock.ID, documentID, userID)
	return &lock, nil
}

// Extend pushes a lock's expiry forward by the configured duration
func (s *GormLockStore) Extend(ctx context.Context, lockID, userID string) (*models.ContentLock, error) {
	var lock models.ContentLock
	result := s.db.WithContext(ctx).
		First(&lock, "id = ? AND user_id = ? AND expires_at > ?", lockID, userID, time.Now().UTC())
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrLockNotFound
		}
		return nil, fmt.Errorf("failed to read lock: %w", result.Error)
	}

	lock.ExpiresAt = time.Now().UTC().Add(s.duration)
	if result := s.db.WithContext(ctx).Save(&lock); result.Error != nil {
		return nil, fmt.Errorf("failed to extend lock: %w", result.Error)
	}
	return &lock, nil
}

// Release deletes a lock held by the user
func (s *GormLockStore) Release(ctx context.Context, lockID, userID string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", lockID, userID).
		Delete(&models.ContentLock{})
	if result.Error != nil {
		return fmt.Errorf("failed to release lock: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrLockNotFound
	}

	slogging.Get().Info("Lock released: id=%s user_id=%s", lockID, userID)
	return nil
}

// Check returns the active lock covering a document (or one of its sections),
// if any. A section-scoped query also matches a document-wide lock.
func (s *GormLockStore) Check(ctx context.Context, documentID string, section *string) (*models.ContentLock, error) {
	query := s.db.WithContext(ctx).
		Where("document_id = ? AND expires_at > ?", documentID, time.Now().UTC())

	if section != nil {
		query = query.Where("section = ? OR section IS NULL", *section)
	}

	var lock models.ContentLock
	result := query.First(&lock)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to check lock: %w", result.Error)
	}
	return &lock, nil
}

// List returns all active locks on a document
func (s *GormLockStore) List(ctx context.Context, documentID string) ([]models.ContentLock, error) {
	var locks []models.ContentLock
	result := s.db.WithContext(ctx).
		Where("document_id = ? AND expires_at > ?", documentID, time.Now().UTC()).
		Find(&locks)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list locks: %w", result.Error)
	}
	return locks, nil
}

// CleanupExpired deletes locks past their expiry
func (s *GormLockStore) CleanupExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at <= ?", time.Now().UTC()).
		Delete(&models.ContentLock{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete expired locks: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		slogging.Get().Debug("Deleted %d expired locks", result.RowsAffected)
	}
	return result.RowsAffected, nil
}
