package erpsync

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/commissions_backend/config"
	"bitbucket.org/mmdatafocus/commissions_backend/models"
	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// runLockKey serializes sync runs across service instances. The pipeline
// itself does not exclude concurrent runs; this is the calling layer's job.
const runLockKey = "erpsync:run"

const runLockTTL = 30 * time.Minute

// withRunLock executes fn while holding the cross-instance run lock.
func withRunLock(ctx context.Context, fn func(context.Context) (*RunResult, error)) (*RunResult, error) {
	locker := config.GetRedisLock()
	if locker == nil {
		// Single-instance deployments without redis still work.
		return fn(ctx)
	}
	lock, err := locker.Obtain(ctx, runLockKey, runLockTTL, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrRunInProgress
		}
		return nil, err
	}
	defer lock.Release(context.Background())
	return fn(ctx)
}

var ErrRunInProgress = errors.New("a sync run is already in progress")

func TriggerSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TriggerSyncRequest
		// An empty or malformed body means "full sync, defaults".
		_ = c.ShouldBindJSON(&req)

		params := SyncParams{
			Mode:        NormalizeMode(req.Mode),
			Incremental: req.Incremental,
			DryRun:      req.DryRun,
			TriggeredBy: models.SyncTriggeredManual,
		}

		if c.Query("async") == "true" {
			if err := PublishSyncRun(c.Request.Context(), params); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"queued": true})
			return
		}

		result, err := withRunLock(c.Request.Context(), func(ctx context.Context) (*RunResult, error) {
			return RunSync(ctx, params)
		})
		if err != nil {
			if errors.Is(err, ErrRunInProgress) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB().WithContext(c.Request.Context())

		conn, err := models.GetErpConnection(c.Request.Context(), db)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusOK, StatusResponse{Connected: false})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, StatusResponse{
			Connected:         true,
			BaseURL:           conn.BaseURL,
			LastSyncAt:        formatTime(conn.LastSyncAt),
			LastSuccessSyncAt: formatTime(conn.LastSuccessSyncAt),
		})
	}
}

func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB()
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

		runs, err := models.ListSyncRuns(c.Request.Context(), db, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, toRunResponse(run))
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB()
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		run, err := models.GetSyncRun(c.Request.Context(), db, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		errRows, err := models.ListSyncRunErrors(c.Request.Context(), db, run.ID, 100)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		detail := SyncRunDetailResponse{SyncRunResponse: toRunResponse(*run)}
		for _, e := range errRows {
			detail.Errors = append(detail.Errors, SyncErrorResponse{
				ID:         e.ID,
				Stage:      e.Stage,
				EntityType: e.EntityType,
				ExternalId: e.ExternalId,
				Message:    e.Message,
				Retryable:  e.Retryable,
			})
		}
		c.JSON(http.StatusOK, detail)
	}
}

func toRunResponse(run models.SyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:            run.ID,
		Status:        run.Status,
		Stage:         run.Stage,
		Mode:          run.Mode,
		DryRun:        run.DryRun,
		StartedAt:     formatTime(run.StartedAt),
		FinishedAt:    formatTime(run.FinishedAt),
		DurationMs:    run.DurationMs,
		RecordsSynced: run.RecordsSynced,
		ErrorCount:    run.ErrorCount,
		TriggeredBy:   run.TriggeredBy,
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
