package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/jessiecms/collab/collab/models"
	"github.com/jessiecms/collab/internal/slogging"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PresenceStore is the persisted mirror of in-memory presence.
type PresenceStore interface {
	// Upsert records that a user is active on a document as of now.
	Upsert(ctx context.Context, userID, documentID string, now time.Time) error
	// ClearLastActive nulls last_active for a pair without deleting the row.
	ClearLastActive(ctx context.Context, userID, documentID string) error
	// ActiveSince returns user ids with last_active within the window.
	ActiveSince(ctx context.Context, documentID string, cutoff time.Time) ([]string, error)
	// DeleteInactive removes rows with null last_active or last_active before
	// the cutoff, returning the number deleted.
	DeleteInactive(ctx context.Context, cutoff time.Time) (int64, error)
}

// GormPresenceStore implements PresenceStore using GORM
type GormPresenceStore struct {
	db *gorm.DB
}

// NewGormPresenceStore creates a new GORM-backed presence store
func NewGormPresenceStore(db *gorm.DB) *GormPresenceStore {
	return &GormPresenceStore{db: db}
}

// Upsert records that a user is active on a document
func (s *GormPresenceStore) Upsert(ctx context.Context, userID, documentID string, now time.Time) error {
	model := models.DocumentPresence{
		UserID:     userID,
		DocumentID: documentID,
		LastActive: &now,
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "document_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_active"}),
		}).
		Create(&model)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert presence row: %w", result.Error)
	}
	return nil
}

// ClearLastActive nulls last_active for a pair. The row itself stays until
// the cleanup sweep deletes it.
func (s *GormPresenceStore) ClearLastActive(ctx context.Context, userID, documentID string) error {
	result := s.db.WithContext(ctx).
		Model(&models.DocumentPresence{}).
		Where("user_id = ? AND document_id = ?", userID, documentID).
		Update("last_active", nil)
	if result.Error != nil {
		return fmt.Errorf("failed to clear presence row: %w", result.Error)
	}
	return nil
}

// ActiveSince returns user ids active on a document within the window
func (s *GormPresenceStore) ActiveSince(ctx context.Context, documentID string, cutoff time.Time) ([]string, error) {
	var userIDs []string
	result := s.db.WithContext(ctx).
		Model(&models.DocumentPresence{}).
		Where("document_id = ? AND last_active IS NOT NULL AND last_active > ?", documentID, cutoff).
		Pluck("user_id", &userIDs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query presence rows: %w", result.Error)
	}
	return userIDs, nil
}

// DeleteInactive removes stale presence rows
func (s *GormPresenceStore) DeleteInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("last_active IS NULL OR last_active < ?", cutoff).
		Delete(&models.DocumentPresence{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete stale presence rows: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		slogging.Get().Debug("Deleted %d stale presence rows", result.RowsAffected)
	}
	return result.RowsAffected, nil
}
