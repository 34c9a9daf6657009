package erpsync

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/commissions_backend/config"
	"bitbucket.org/mmdatafocus/commissions_backend/models"
	"bitbucket.org/mmdatafocus/commissions_backend/utils"
	"gorm.io/gorm"
)

// syncSalesFromRaw is the heart of the pipeline: it turns raw contracts into
// resolved sales with a classified commission base, a commission factor and
// a materialized installment schedule. Per-record failures are recorded and
// the batch continues.
func syncSalesFromRaw(ctx context.Context, db *gorm.DB, run *models.SyncRun) (StageStats, error) {
	logger := config.GetLogger()
	var stats StageStats

	err := models.ListRawObjects(ctx, db, models.EntityTypeSale, 100, func(batch []models.RawObject) error {
		for _, raw := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}

			var contract erpContract
			if err := json.Unmarshal(raw.Payload, &contract); err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageSyncingSales, models.EntityTypeSale, raw.ExternalId, "invalid_payload", err.Error(), true)
				continue
			}
			if run.DryRun {
				stats.Skipped++
				continue
			}

			agentRes, err := resolveAgent(ctx, db, contract.BrokerId.String(), true)
			if err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageSyncingSales, models.EntityTypeSale, raw.ExternalId, "agent_resolve_failed", err.Error(), true)
				continue
			}
			customerRes, err := resolveCustomer(ctx, db, mainCustomerId(contract), true)
			if err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageSyncingSales, models.EntityTypeSale, raw.ExternalId, "customer_resolve_failed", err.Error(), true)
				continue
			}
			projectRes, err := resolveProject(ctx, db, contract.EnterpriseId.String())
			if err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageSyncingSales, models.EntityTypeSale, raw.ExternalId, "project_resolve_failed", err.Error(), true)
				continue
			}
			unitRes, err := resolveUnit(ctx, db, contract.UnitId.String())
			if err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageSyncingSales, models.EntityTypeSale, raw.ExternalId, "unit_resolve_failed", err.Error(), true)
				continue
			}

			summary := MapPaymentConditions(conditionsFromContract(contract), logger)

			percentage := models.DefaultCommissionPercentage()
			if projectRes.Outcome == OutcomeResolved {
				class := agentClassById(ctx, db, agentRes.ID)
				pct, err := models.GetCommissionPercentage(ctx, db, projectRes.ID, class)
				if err != nil {
					stats.Errors++
					recordSyncError(ctx, db, run, models.SyncStageSyncingSales, models.EntityTypeSale, raw.ExternalId, "rate_lookup_failed", err.Error(), true)
					continue
				}
				percentage = pct
			}

			value := decimalFromNumber(contract.Value)
			factor := CommissionFactor(value, percentage, summary.CommissionBase)

			var contractDate *time.Time
			if t := utils.ParseTimeOrZero(contract.ContractDate); !t.IsZero() {
				contractDate = &t
			}

			sale, err := models.GetSaleByExternalId(ctx, db, raw.ExternalId)
			if err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageSyncingSales, models.EntityTypeSale, raw.ExternalId, "lookup_failed", err.Error(), true)
				continue
			}
			if sale == nil {
				sale = &models.Sale{
					ExternalId:       raw.ExternalId,
					AgentId:          agentRes.ID,
					CustomerId:       customerRes.ID,
					ProjectId:        projectRes.ID,
					UnitId:           unitRes.ID,
					Value:            value,
					CommissionBase:   summary.CommissionBase,
					CommissionFactor: factor,
					Status:           saleStatusFromUpstream(contract.Status),
					ContractDate:     contractDate,
				}
				if err := db.WithContext(ctx).Create(sale).Error; err != nil {
					stats.Errors++
					recordSyncError(ctx, db, run, models.SyncStageSyncingSales, models.EntityTypeSale, raw.ExternalId, "create_failed", err.Error(), true)
					continue
				}
				stats.Created++
			} else {
				updates := map[string]interface{}{
					"agent_id":          agentRes.ID,
					"customer_id":       customerRes.ID,
					"project_id":        projectRes.ID,
					"unit_id":           unitRes.ID,
					"value":             value,
					"commission_base":   summary.CommissionBase,
					"commission_factor": factor,
					"status":            saleStatusFromUpstream(contract.Status),
				}
				if contractDate != nil {
					updates["contract_date"] = *contractDate
				}
				if err := db.WithContext(ctx).Model(sale).Updates(updates).Error; err != nil {
					stats.Errors++
					recordSyncError(ctx, db, run, models.SyncStageSyncingSales, models.EntityTypeSale, raw.ExternalId, "update_failed", err.Error(), true)
					continue
				}
				sale.CommissionFactor = factor
				// A contract payload without a date keeps the stored one; the
				// in-memory sale must agree with the row materializeSale reads
				// its fallback anchor from.
				if contractDate != nil {
					sale.ContractDate = contractDate
				}
				stats.Updated++
			}

			if err := materializeSale(ctx, db, sale, summary); err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageSyncingSales, models.EntityTypeSale, raw.ExternalId, "materialize_failed", err.Error(), true)
				continue
			}
		}
		return nil
	})
	return stats, err
}

// mainCustomerId picks the principal buyer; contracts either carry a flat
// customerId or a customer list with a main flag.
func mainCustomerId(contract erpContract) string {
	if id := strings.TrimSpace(contract.CustomerId.String()); id != "" {
		return id
	}
	for _, c := range contract.Coborrowers {
		if c.Main {
			return strings.TrimSpace(c.CustomerId.String())
		}
	}
	return ""
}

func agentClassById(ctx context.Context, db *gorm.DB, agentId int) models.AgentClass {
	if agentId == 0 {
		return models.AgentClassExternal
	}
	var agent models.Agent
	if err := db.WithContext(ctx).Select("class").Where("id = ?", agentId).Take(&agent).Error; err != nil {
		return models.AgentClassExternal
	}
	if agent.Class == "" {
		return models.AgentClassExternal
	}
	return agent.Class
}

func saleStatusFromUpstream(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "CANCELED", "CANCELLED":
		return models.SaleStatusCancelled
	case "SETTLED", "PAID_OFF":
		return models.SaleStatusSettled
	default:
		return models.SaleStatusActive
	}
}
