package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RawObject holds a verbatim upstream payload, one row per
// (entity_type, external_id). Re-ingestion overwrites in place; the content
// hash lets later passes detect unchanged records cheaply.
type RawObject struct {
	ID                int       `gorm:"primary_key" json:"id"`
	EntityType        string    `gorm:"uniqueIndex:idx_raw_entity_external,priority:1;size:30;not null" json:"entity_type"`
	ExternalId        string    `gorm:"uniqueIndex:idx_raw_entity_external,priority:2;size:64;not null" json:"external_id"`
	ProjectExternalId string    `gorm:"index;size:64" json:"project_external_id"`
	Payload           []byte    `gorm:"type:json" json:"payload"`
	ContentHash       string    `gorm:"size:64;not null" json:"content_hash"`
	SyncedAt          time.Time `gorm:"not null" json:"synced_at"`
	SyncRunId         int       `gorm:"index" json:"sync_run_id"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// UpsertRawObject writes a raw record keyed by (entity type, external id).
// Returns true when the row was newly created.
func UpsertRawObject(ctx context.Context, db *gorm.DB, obj *RawObject) (bool, error) {
	obj.SyncedAt = time.Now()

	var existing RawObject
	err := db.WithContext(ctx).
		Where("entity_type = ? AND external_id = ?", obj.EntityType, obj.ExternalId).
		Take(&existing).Error
	if err == nil {
		return false, db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
			"project_external_id": obj.ProjectExternalId,
			"payload":             obj.Payload,
			"content_hash":        obj.ContentHash,
			"synced_at":           obj.SyncedAt,
			"sync_run_id":         obj.SyncRunId,
		}).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	// Concurrent ingestion of the same record is not expected, but the
	// unique index still wins if it happens.
	return true, db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_type"}, {Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"project_external_id", "payload", "content_hash", "synced_at", "sync_run_id"}),
		}).
		Create(obj).Error
}

// ListRawObjects streams raw rows of one entity type in batches.
func ListRawObjects(ctx context.Context, db *gorm.DB, entityType string, batchSize int, fn func([]RawObject) error) error {
	var batch []RawObject
	return db.WithContext(ctx).
		Where("entity_type = ?", entityType).
		Order("id").
		FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
			return fn(batch)
		}).Error
}
