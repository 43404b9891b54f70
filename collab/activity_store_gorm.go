package collab

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jessiecms/collab/collab/models"
	"github.com/jessiecms/collab/internal/slogging"
	"gorm.io/gorm"
)

// Activity types recorded by the collaboration core
const (
	ActivityJoin   = "join"
	ActivityLeave  = "leave"
	ActivityLock   = "lock"
	ActivityUnlock = "unlock"
)

// ActivityStore records and queries collaboration events on documents.
type ActivityStore interface {
	Record(ctx context.Context, documentID, userID, activityType string, metadata map[string]any) error
	History(ctx context.Context, documentID, activityType string, limit int) ([]models.CollaborationActivity, error)
}

// GormActivityStore implements ActivityStore using GORM
type GormActivityStore struct {
	db *gorm.DB
}

// NewGormActivityStore creates a new GORM-backed activity store
func NewGormActivityStore(db *gorm.DB) *GormActivityStore {
	return &GormActivityStore{db: db}
}

// Record stores one activity event. Metadata is optional.
func (s *GormActivityStore) Record(ctx context.Context, documentID, userID, activityType string, metadata map[string]any) error {
	model := models.CollaborationActivity{
		DocumentID:   documentID,
		UserID:       userID,
		ActivityType: activityType,
	}

	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to serialize activity metadata: %w", err)
		}
		encoded := string(data)
		model.Metadata = &encoded
	}

	result := s.db.WithContext(ctx).Create(&model)
	if result.Error != nil {
		slogging.Get().Error("Failed to record activity: document_id=%s user_id=%s type=%s error=%v",
			documentID, userID, activityType, result.Error)
		return fmt.Errorf("failed to record activity: %w", result.Error)
	}
	return nil
}

// History returns recent activity on a document, newest first. An empty
// activityType matches all types; limit <= 0 means no limit.
func (s *GormActivityStore) History(ctx context.Context, documentID, activityType string, limit int) ([]models.CollaborationActivity, error) {
	query := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at DESC")

	if activityType != "" {
		query = query.Where("activity_type = ?", activityType)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var activities []models.CollaborationActivity
	if result := query.Find(&activities); result.Error != nil {
		return nil, fmt.Errorf("failed to query activity history: %w", result.Error)
	}
	return activities, nil
}
