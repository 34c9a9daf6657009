package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// SyncRun tracks one orchestrator invocation from INITIATED to COMPLETED.
type SyncRun struct {
	ID            int        `gorm:"primary_key" json:"id"`
	Status        string     `gorm:"size:20;not null" json:"status"`
	Stage         string     `gorm:"size:30;not null" json:"stage"`
	Mode          string     `gorm:"size:20;not null" json:"mode"`
	Incremental   bool       `gorm:"default:false" json:"incremental"`
	DryRun        bool       `gorm:"default:false" json:"dry_run"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	ParamsJSON    []byte     `gorm:"type:json" json:"params"`
	StatsJSON     []byte     `gorm:"type:json" json:"stats"`
	RecordsSynced int        `json:"records_synced"`
	ErrorCount    int        `json:"error_count"`
	ErrorDetail   string     `gorm:"type:text" json:"error_detail"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncRunError is one per-record failure captured during a run. The batch
// continues; these rows are the run's detail log.
type SyncRunError struct {
	ID         int       `gorm:"primary_key" json:"id"`
	SyncRunId  int       `gorm:"index;not null" json:"sync_run_id"`
	Stage      string    `gorm:"size:30" json:"stage"`
	EntityType string    `gorm:"size:30" json:"entity_type"`
	ExternalId string    `gorm:"size:64" json:"external_id"`
	ErrorCode  string    `gorm:"size:64" json:"error_code"`
	Message    string    `gorm:"type:text" json:"message"`
	Retryable  bool      `gorm:"default:false" json:"retryable"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// ErpConnection is the single configuration row for the upstream ERP:
// endpoint, credential reference, and the incremental watermark state.
// The watermark is read once at run start and written once on non-dry-run
// success; concurrent runs are excluded by the calling layer, not here.
type ErpConnection struct {
	ID                int        `gorm:"primary_key" json:"id"`
	BaseURL           string     `gorm:"size:255" json:"base_url"`
	AuthUser          string     `gorm:"size:100" json:"auth_user"`
	AuthSecretRef     string     `gorm:"type:text" json:"auth_secret_ref"`
	WatermarkJSON     []byte     `gorm:"type:json" json:"watermark"`
	LastSyncAt        *time.Time `json:"last_sync_at"`
	LastSuccessSyncAt *time.Time `json:"last_success_sync_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetErpConnection(ctx context.Context, db *gorm.DB) (*ErpConnection, error) {
	var conn ErpConnection
	err := db.WithContext(ctx).Order("id").First(&conn).Error
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func CreateSyncRun(ctx context.Context, db *gorm.DB, run *SyncRun) error {
	return db.WithContext(ctx).Create(run).Error
}

func GetSyncRun(ctx context.Context, db *gorm.DB, id int) (*SyncRun, error) {
	var run SyncRun
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func ListSyncRuns(ctx context.Context, db *gorm.DB, limit int) ([]SyncRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var runs []SyncRun
	err := db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

// ListSyncRunErrors returns a bounded slice of a run's error detail.
func ListSyncRunErrors(ctx context.Context, db *gorm.DB, runId int, limit int) ([]SyncRunError, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var errs []SyncRunError
	err := db.WithContext(ctx).
		Where("sync_run_id = ?", runId).
		Order("id").
		Limit(limit).
		Find(&errs).Error
	return errs, err
}
