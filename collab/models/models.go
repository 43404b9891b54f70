// Package models defines GORM models for the collaboration database schema.
// These models support both PostgreSQL and SQLite (used in tests) through
// GORM's dialect abstraction.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Permission values accepted for document access
const (
	PermissionEdit = "edit"
	PermissionView = "view"
)

// DocumentPermission grants a user access to a document. Read-only to the
// collaboration core; rows are managed by the CMS admin surface.
type DocumentPermission struct {
	UserID     string    `json:"user_id" gorm:"column:user_id;type:varchar(36);primaryKey"`
	DocumentID string    `json:"document_id" gorm:"column:document_id;type:varchar(36);primaryKey"`
	Permission string    `json:"permission" gorm:"column:permission;type:varchar(16);not null"`
	CreatedAt  time.Time `json:"created_at" gorm:"column:created_at;not null;autoCreateTime"`
}

// TableName specifies the table name for DocumentPermission
func (DocumentPermission) TableName() string {
	return "document_permissions"
}

// DocumentPresence is the persisted mirror of in-memory presence. One row per
// (user, document); LastActive is nulled on leave and the row is only removed
// by the cleanup sweep.
type DocumentPresence struct {
	UserID     string     `json:"user_id" gorm:"column:user_id;type:varchar(36);primaryKey"`
	DocumentID string     `json:"document_id" gorm:"column:document_id;type:varchar(36);primaryKey;index:idx_presence_document"`
	LastActive *time.Time `json:"last_active" gorm:"column:last_active"`
}

// TableName specifies the table name for DocumentPresence
func (DocumentPresence) TableName() string {
	return "document_presence"
}

// ContentLock marks a document (or one of its sections) as being edited by a
// user. Locks expire and are swept rather than depending on clients to
// release them.
type ContentLock struct {
	ID         string     `json:"id" gorm:"column:id;primaryKey;type:varchar(36)"`
	DocumentID string     `json:"document_id" gorm:"column:document_id;type:varchar(36);not null;index:idx_lock_document"`
	UserID     string     `json:"user_id" gorm:"column:user_id;type:varchar(36);not null;index:idx_lock_user"`
	Section    *string    `json:"section,omitempty" gorm:"column:section;type:varchar(255)"`
	LockedAt   time.Time  `json:"locked_at" gorm:"column:locked_at;not null"`
	ExpiresAt  time.Time  `json:"expires_at" gorm:"column:expires_at;not null;index:idx_lock_expiry"`
}

// TableName specifies the table name for ContentLock
func (ContentLock) TableName() string {
	return "content_locks"
}

// BeforeCreate generates a UUID if not set
func (l *ContentLock) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}

// CollaborationActivity is an audit record of collaboration events on a
// document (joins, leaves, lock changes).
type CollaborationActivity struct {
	ID           string    `json:"id" gorm:"column:id;primaryKey;type:varchar(36)"`
	DocumentID   string    `json:"document_id" gorm:"column:document_id;type:varchar(36);not null;index:idx_activity_document"`
	UserID       string    `json:"user_id" gorm:"column:user_id;type:varchar(36);not null"`
	ActivityType string    `json:"activity_type" gorm:"column:activity_type;type:varchar(32);not null"`
	Metadata     *string   `json:"metadata,omitempty" gorm:"column:metadata;type:text"`
	CreatedAt    time.Time `json:"created_at" gorm:"column:created_at;not null;autoCreateTime;index:idx_activity_created"`
}

// TableName specifies the table name for CollaborationActivity
func (CollaborationActivity) TableName() string {
	return "collaboration_activity"
}

// BeforeCreate generates a UUID if not set
func (a *CollaborationActivity) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// AllModels returns every model for migration
func AllModels() []any {
	return []any{
		&DocumentPermission{},
		&DocumentPresence{},
		&ContentLock{},
		&CollaborationActivity{},
	}
}
