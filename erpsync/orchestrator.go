package erpsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/commissions_backend/config"
	"bitbucket.org/mmdatafocus/commissions_backend/models"
	"bitbucket.org/mmdatafocus/commissions_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// maxResultErrors bounds the error list returned to callers; the full
// detail is in sync_run_errors.
const maxResultErrors = 20

// RunSync is the single pipeline entry point: it creates a run row,
// sequences the stages for the requested mode and returns the aggregated
// result. Concurrent invocations are not excluded here; the calling layer
// serializes runs.
func RunSync(ctx context.Context, params SyncParams) (*RunResult, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database not initialized")
	}

	params.Mode = NormalizeMode(params.Mode)
	if params.TriggeredBy == "" {
		params.TriggeredBy = models.SyncTriggeredManual
	}

	conn, err := models.GetErpConnection(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("erp connection not configured: %w", err)
	}

	now := time.Now()
	paramsJSON, _ := json.Marshal(params)
	run := &models.SyncRun{
		Status:      models.SyncRunStatusRunning,
		Stage:       models.SyncStageInitiated,
		Mode:        params.Mode,
		Incremental: params.Incremental,
		DryRun:      params.DryRun,
		TriggeredBy: params.TriggeredBy,
		ParamsJSON:  paramsJSON,
		StartedAt:   &now,
	}
	if err := models.CreateSyncRun(ctx, db, run); err != nil {
		return nil, err
	}

	ctx = utils.SetSyncRunIdInContext(ctx, run.ID)
	result := executeRun(ctx, db, run, conn, params)
	return result, nil
}

func executeRun(ctx context.Context, db *gorm.DB, run *models.SyncRun, conn *models.ErpConnection, params SyncParams) *RunResult {
	logger := config.GetLogger()
	startedAt := *run.StartedAt

	stats := map[string]StageStats{}
	var stageFailures []string
	halted := false
	canceled := false

	// Watermark state is read once here and written once at the end; no
	// other code touches it mid-run.
	watermark := DecodeWatermarkState(conn.WatermarkJSON)
	cutoff := startedAt.UTC().Format(time.RFC3339)

	recordStage := func(stage string, s StageStats, err error) {
		stats[stage] = s
		if err == nil {
			return
		}
		if isCanceled(err) {
			// A canceled run is never OK; the error row is skipped because
			// the live context can no longer write it.
			canceled = true
			stageFailures = append(stageFailures, stage+": canceled")
			return
		}
		stageFailures = append(stageFailures, fmt.Sprintf("%s: %v", stage, err))
		recordSyncError(ctx, db, run, stage, "", "", "stage_failed", err.Error(), true)
	}

	if params.Mode != models.SyncModeResolveOnly {
		setStage(ctx, db, run, models.SyncStageRawIngesting)

		client, err := newErpClient(conn.BaseURL, conn.AuthUser, conn.AuthSecretRef)
		if err != nil {
			recordStage(models.SyncStageRawIngesting, StageStats{}, err)
			halted = true
		} else {
			var ingestStats StageStats
			failedEntities := 0
			for _, ep := range entityEndpoints {
				modifiedAfter := ""
				if params.Incremental {
					modifiedAfter = watermark.forEntity(ep.entityType)
				}
				s, err := ingestEntity(ctx, db, run, client, ep, modifiedAfter)
				ingestStats.add(s)
				if err != nil {
					if isCanceled(err) {
						canceled = true
						stageFailures = append(stageFailures, models.SyncStageRawIngesting+": canceled")
						halted = true
						break
					}
					// A page-fetch failure is scoped to this entity type;
					// the others still ingest.
					failedEntities++
					ingestStats.Errors++
					recordSyncError(ctx, db, run, models.SyncStageRawIngesting, ep.entityType, "", "ingest_failed", err.Error(), true)
					config.LogError(logger, "erpsync", "executeRun", "ingest "+ep.entityType, nil, err)
				}
			}
			stats[models.SyncStageRawIngesting] = ingestStats
			if failedEntities == len(entityEndpoints) {
				// Nothing ingested at all; there is no data to resolve.
				stageFailures = append(stageFailures, "RAW_INGESTING: all entity types failed")
				halted = true
			}
		}
	}

	if params.Mode != models.SyncModeIngestOnly && !halted {
		type stage struct {
			name string
			fn   func(context.Context, *gorm.DB, *models.SyncRun) (StageStats, error)
		}
		resolveStages := []stage{
			{models.SyncStageResolvingProjects, resolveProjectsFromRaw},
			{models.SyncStageResolvingAgents, resolveAgentsFromRaw},
			{models.SyncStageResolvingCustomers, resolveCustomersFromRaw},
			{models.SyncStageSyncingSales, syncSalesFromRaw},
			{models.SyncStageSyncingUnits, resolveUnitsFromRaw},
		}
		for _, st := range resolveStages {
			setStage(ctx, db, run, st.name)
			s, err := st.fn(ctx, db, run)
			// A stage-level failure marks the run ERROR but the remaining
			// stages still execute; per-record failures never land here.
			recordStage(st.name, s, err)
			if err != nil && isCanceled(err) {
				halted = true
				break
			}
		}

		if !halted {
			setStage(ctx, db, run, models.SyncStageReconciling)
			var reconcileStats StageStats
			var reconcileErr error
			if !params.DryRun {
				s, err := BackfillCoborrowers(ctx, db, run)
				reconcileStats.add(s)
				if err != nil {
					reconcileErr = err
				} else {
					s, err = BackfillUnitInventory(ctx, db, run)
					reconcileStats.add(s)
					reconcileErr = err
				}
			}
			recordStage(models.SyncStageReconciling, reconcileStats, reconcileErr)
		}
	}

	// Finalize. The run row and connection must be written even when the
	// run's own context was canceled, or the run stays RUNNING forever.
	finCtx := context.WithoutCancel(ctx)
	finishedAt := time.Now()
	durationMs := finishedAt.Sub(startedAt).Milliseconds()

	totalSynced := 0
	totalErrors := 0
	for _, s := range stats {
		totalSynced += s.total()
		totalErrors += s.Errors
	}

	status := models.SyncRunStatusOK
	switch {
	case canceled || len(stageFailures) > 0:
		status = models.SyncRunStatusError
	case totalErrors > 0:
		status = models.SyncRunStatusPartial
	}

	statsJSON, _ := json.Marshal(stats)
	errorDetail := ""
	if len(stageFailures) > 0 {
		detail, _ := json.Marshal(stageFailures)
		errorDetail = string(detail)
	}
	if err := db.WithContext(finCtx).Model(run).Updates(map[string]interface{}{
		"status":         status,
		"stage":          models.SyncStageCompleted,
		"finished_at":    finishedAt,
		"duration_ms":    durationMs,
		"stats_json":     statsJSON,
		"records_synced": totalSynced,
		"error_count":    totalErrors,
		"error_detail":   errorDetail,
	}).Error; err != nil {
		config.LogError(logger, "erpsync", "executeRun", "finalize run", run.ID, err)
	}

	connUpdates := map[string]interface{}{
		"last_sync_at": finishedAt,
	}
	if !params.DryRun && status == models.SyncRunStatusOK && params.Mode != models.SyncModeResolveOnly {
		// Advance the watermark to the run's start, not its finish, so
		// records modified mid-run are picked up next time.
		watermark.setAll(cutoff)
		connUpdates["watermark_json"] = EncodeWatermarkState(watermark)
		connUpdates["last_success_sync_at"] = finishedAt
	}
	if err := db.WithContext(finCtx).Model(conn).Updates(connUpdates).Error; err != nil {
		config.LogError(logger, "erpsync", "executeRun", "update connection", conn.ID, err)
	}

	logger.WithFields(logrus.Fields{
		"module":  "erpsync",
		"run_id":  run.ID,
		"status":  status,
		"synced":  totalSynced,
		"errors":  totalErrors,
		"elapsed": durationMs,
	}).Info("sync run completed")

	result := &RunResult{
		RunId:         run.ID,
		Status:        status,
		Stage:         models.SyncStageCompleted,
		RecordsSynced: totalSynced,
		ErrorCount:    totalErrors,
		DurationMs:    durationMs,
		Stats:         stats,
		Errors:        stageFailures,
	}
	if rows, err := models.ListSyncRunErrors(finCtx, db, run.ID, maxResultErrors); err == nil {
		for _, r := range rows {
			if len(result.Errors) >= maxResultErrors {
				break
			}
			result.Errors = append(result.Errors, fmt.Sprintf("%s/%s %s: %s", r.Stage, r.EntityType, r.ExternalId, r.Message))
		}
	}
	return result
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func setStage(ctx context.Context, db *gorm.DB, run *models.SyncRun, stage string) {
	run.Stage = stage
	_ = db.WithContext(ctx).Model(run).Update("stage", stage).Error
}

func recordSyncError(ctx context.Context, db *gorm.DB, run *models.SyncRun, stage, entityType, externalId, code, message string, retryable bool) {
	if run == nil {
		// Backfill binaries run without a sync run; log only.
		config.GetLogger().WithFields(logrus.Fields{
			"module": "erpsync", "stage": stage, "entity_type": entityType,
			"external_id": externalId, "code": code,
		}).Error(message)
		return
	}
	rec := models.SyncRunError{
		SyncRunId:  run.ID,
		Stage:      stage,
		EntityType: entityType,
		ExternalId: externalId,
		ErrorCode:  code,
		Message:    message,
		Retryable:  retryable,
	}
	if err := db.WithContext(ctx).Create(&rec).Error; err != nil {
		config.LogError(config.GetLogger(), "erpsync", "recordSyncError", stage, rec, err)
	}
}
