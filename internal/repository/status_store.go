package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PushStatus mirrors the schema used by the API gateway to surface delivery state.
type PushStatus struct {
	RequestID string `gorm:"primaryKey"`
	Status    string
	UpdatedAt time.Time
	Detail    string
}

type StatusStore struct {
	db        *gorm.DB
	tableName string
}

func NewStatusStore(db *gorm.DB, tableName string) *StatusStore {
	if tableName == "" {
		tableName = "push_statuses"
	}

	if err := db.Table(tableName).AutoMigrate(&PushStatus{}); err != nil {
		// AutoMigrate error is ignored here to keep constructor signature simple.
		// The caller is expected to have validated connectivity beforehand.
	}

	return &StatusStore{
		db:        db,
		tableName: tableName,
	}
}

func (s *StatusStore) UpdateStatus(ctx context.Context, requestID, status, detail string) error {
	ps := PushStatus{
		RequestID: requestID,
		Status:    status,
		UpdatedAt: time.Now(),
		Detail:    detail,
	}
	return s.db.WithContext(ctx).Table(s.tableName).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "request_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at", "detail"}),
		}).Create(&ps).Error
}
