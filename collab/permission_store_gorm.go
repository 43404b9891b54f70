// Package collab implements the realtime collaboration core: presence
// tracking, the WebSocket hub and protocol, content locks, and the HTTP
// surfaces that feed them.
package collab

import (
	"context"
	"errors"
	"fmt"

	"github.com/jessiecms/collab/collab/models"
	"github.com/jessiecms/collab/internal/slogging"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrPermissionNotFound indicates no grant exists for a (user, document) pair.
var ErrPermissionNotFound = errors.New("permission not found")

// GormPermissionStore implements auth.PermissionStore using GORM
type GormPermissionStore struct {
	db *gorm.DB
}

// NewGormPermissionStore creates a new GORM-backed permission store
func NewGormPermissionStore(db *gorm.DB) *GormPermissionStore {
	return &GormPermissionStore{db: db}
}

// Get returns the permission a user holds on a document
func (s *GormPermissionStore) Get(ctx context.Context, userID, documentID string) (string, error) {
	var model models.DocumentPermission
	result := s.db.WithContext(ctx).
		First(&model, "user_id = ? AND document_id = ?", userID, documentID)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", ErrPermissionNotFound
		}
		slogging.Get().Error("Failed to read permission: user_id=%s document_id=%s error=%v",
			userID, documentID, result.Error)
		return "", fmt.Errorf("failed to read permission: %w", result.Error)
	}

	return model.Permission, nil
}

// Grant creates or updates a permission row. The CMS admin surface owns
// grants in production; tests and seed tooling use this.
func (s *GormPermissionStore) Grant(ctx context.Context, userID, documentID, permission string) error {
	model := models.DocumentPermission{
		UserID:     userID,
		DocumentID: documentID,
		Permission: permission,
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "document_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"permission"}),
		}).
		Create(&model)
	if result.Error != nil {
		return fmt.Errorf("failed to grant permission: %w", result.Error)
	}

	slogging.Get().Info("Permission granted: user_id=%s document_id=%s permission=%s",
		userID, documentID, permission)
	return nil
}
