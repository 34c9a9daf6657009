package erpsync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"bitbucket.org/mmdatafocus/commissions_backend/models"
	"gorm.io/gorm"
)

// Backfill jobs are convergent: they scan raw data for derived records that
// are missing and create only those. Safe to invoke repeatedly, with or
// without an active sync run.

// BackfillCoborrowers creates sale_coborrowers rows for the secondary
// customers on raw contracts, keyed by (sale, customer) so repeat runs
// are no-ops.
func BackfillCoborrowers(ctx context.Context, db *gorm.DB, run *models.SyncRun) (StageStats, error) {
	var stats StageStats

	err := models.ListRawObjects(ctx, db, models.EntityTypeSale, 100, func(batch []models.RawObject) error {
		for _, raw := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}

			var contract erpContract
			if err := json.Unmarshal(raw.Payload, &contract); err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageReconciling, models.EntityTypeSale, raw.ExternalId, "invalid_payload", err.Error(), true)
				continue
			}
			if len(contract.Coborrowers) == 0 {
				stats.Skipped++
				continue
			}

			sale, err := models.GetSaleByExternalId(ctx, db, raw.ExternalId)
			if err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageReconciling, models.EntityTypeSale, raw.ExternalId, "sale_lookup_failed", err.Error(), true)
				continue
			}
			if sale == nil {
				// Sale not resolved yet; a later run converges it.
				stats.Skipped++
				continue
			}

			mainId := mainCustomerId(contract)
			for _, cb := range contract.Coborrowers {
				customerId := strings.TrimSpace(cb.CustomerId.String())
				if customerId == "" || customerId == mainId {
					continue
				}
				res, err := resolveCustomer(ctx, db, customerId, true)
				if err != nil {
					stats.Errors++
					recordSyncError(ctx, db, run, models.SyncStageReconciling, models.EntityTypeCustomer, customerId, "resolve_failed", err.Error(), true)
					continue
				}
				if res.Outcome == OutcomeUnresolved {
					stats.Skipped++
					continue
				}

				var existing models.SaleCoborrower
				err = db.WithContext(ctx).
					Where("sale_id = ? AND customer_id = ?", sale.ID, res.ID).
					Take(&existing).Error
				if err == nil {
					stats.Skipped++
					continue
				}
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					stats.Errors++
					recordSyncError(ctx, db, run, models.SyncStageReconciling, models.EntityTypeCustomer, customerId, "coborrower_lookup_failed", err.Error(), true)
					continue
				}

				if err := db.WithContext(ctx).Create(&models.SaleCoborrower{
					SaleId:     sale.ID,
					CustomerId: res.ID,
				}).Error; err != nil {
					stats.Errors++
					recordSyncError(ctx, db, run, models.SyncStageReconciling, models.EntityTypeCustomer, customerId, "coborrower_create_failed", err.Error(), true)
					continue
				}
				stats.Created++
			}
		}
		return nil
	})
	return stats, err
}

// BackfillUnitInventory creates unit rows present in the raw store but
// missing from the resolved table. Existing units are left untouched; the
// regular unit stage owns updates.
func BackfillUnitInventory(ctx context.Context, db *gorm.DB, run *models.SyncRun) (StageStats, error) {
	var stats StageStats

	err := models.ListRawObjects(ctx, db, models.EntityTypeUnit, 200, func(batch []models.RawObject) error {
		for _, raw := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}

			existing, err := models.GetUnitByExternalId(ctx, db, raw.ExternalId)
			if err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageReconciling, models.EntityTypeUnit, raw.ExternalId, "lookup_failed", err.Error(), true)
				continue
			}
			if existing != nil {
				stats.Skipped++
				continue
			}

			var u erpUnit
			if err := json.Unmarshal(raw.Payload, &u); err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageReconciling, models.EntityTypeUnit, raw.ExternalId, "invalid_payload", err.Error(), true)
				continue
			}

			projectRes, err := resolveProject(ctx, db, u.EnterpriseId.String())
			if err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageReconciling, models.EntityTypeUnit, raw.ExternalId, "project_lookup_failed", err.Error(), true)
				continue
			}

			name := strings.TrimSpace(u.Name)
			if name == "" {
				name = "Unit " + raw.ExternalId
			}
			extId := raw.ExternalId
			if err := db.WithContext(ctx).Create(&models.Unit{
				ExternalId: &extId,
				ProjectId:  projectRes.ID,
				Name:       name,
				Status:     unitStatusFromUpstream(u.Status),
				Area:       strings.TrimSpace(u.PrivateArea),
			}).Error; err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageReconciling, models.EntityTypeUnit, raw.ExternalId, "create_failed", err.Error(), true)
				continue
			}
			stats.Created++
		}
		return nil
	})
	return stats, err
}
