package erpsync

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"bitbucket.org/mmdatafocus/commissions_backend/models"
	"bitbucket.org/mmdatafocus/commissions_backend/utils"
	"gorm.io/gorm"
)

// rawKeyFields pulls just the fields the raw store is keyed by; the payload
// itself is persisted verbatim.
type rawKeyFields struct {
	ID           json.Number `json:"id"`
	EnterpriseId json.Number `json:"enterpriseId"`
	IsBroker     *bool       `json:"isBroker"`
}

type entityEndpoint struct {
	entityType string
	path       string
	// brokerOnly drops creditor records that are not brokers. The upstream
	// has no server-side filter for this.
	brokerOnly bool
}

var entityEndpoints = []entityEndpoint{
	{entityType: models.EntityTypeProject, path: "/enterprises"},
	{entityType: models.EntityTypeAgent, path: "/creditors", brokerOnly: true},
	{entityType: models.EntityTypeCustomer, path: "/customers"},
	{entityType: models.EntityTypeSale, path: "/sales-contracts"},
	{entityType: models.EntityTypeUnit, path: "/units"},
}

// ingestEntity paginates one upstream endpoint and upserts every record into
// the raw store. A page-fetch failure aborts this entity type only; the
// returned stats cover whatever was ingested before the failure.
func ingestEntity(ctx context.Context, db *gorm.DB, run *models.SyncRun, client *erpClient, ep entityEndpoint, modifiedAfter string) (StageStats, error) {
	var stats StageStats

	params := url.Values{}
	if strings.TrimSpace(modifiedAfter) != "" {
		params.Set("modifiedAfter", strings.TrimSpace(modifiedAfter))
	}

	err := client.forEachPage(ctx, ep.path, params, func(records []json.RawMessage) error {
		for _, raw := range records {
			if err := ctx.Err(); err != nil {
				return err
			}

			var keys rawKeyFields
			if err := json.Unmarshal(raw, &keys); err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageRawIngesting, ep.entityType, "", "invalid_payload", err.Error(), true)
				continue
			}
			externalId := strings.TrimSpace(keys.ID.String())
			if externalId == "" {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageRawIngesting, ep.entityType, "", "missing_id", "record id missing", false)
				continue
			}
			if ep.brokerOnly && (keys.IsBroker == nil || !*keys.IsBroker) {
				stats.Skipped++
				continue
			}

			if run.DryRun {
				stats.Skipped++
				continue
			}

			obj := models.RawObject{
				EntityType:        ep.entityType,
				ExternalId:        externalId,
				ProjectExternalId: strings.TrimSpace(keys.EnterpriseId.String()),
				Payload:           []byte(raw),
				ContentHash:       utils.ContentHash(raw),
				SyncRunId:         run.ID,
			}
			created, err := models.UpsertRawObject(ctx, db, &obj)
			if err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageRawIngesting, ep.entityType, externalId, "raw_upsert_failed", err.Error(), true)
				continue
			}
			if created {
				stats.Created++
			} else {
				stats.Updated++
			}
		}
		return nil
	})

	return stats, err
}
