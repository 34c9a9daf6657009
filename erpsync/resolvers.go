package erpsync

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/commissions_backend/models"
	"bitbucket.org/mmdatafocus/commissions_backend/utils"
	"gorm.io/gorm"
)

// ResolutionOutcome tags how an external id was mapped to an internal row.
type ResolutionOutcome int

const (
	OutcomeUnresolved ResolutionOutcome = iota
	OutcomeResolved
	OutcomePlaceholder
)

type Resolution struct {
	Outcome ResolutionOutcome
	ID      int
}

// resolveAgent maps an external broker id to an internal agent. When the
// agent has not synced yet and placeholder creation is enabled, a minimal
// placeholder row is created so the referencing sale is never dropped.
func resolveAgent(ctx context.Context, db *gorm.DB, externalId string, allowPlaceholder bool) (Resolution, error) {
	externalId = strings.TrimSpace(externalId)
	if externalId == "" {
		return Resolution{Outcome: OutcomeUnresolved}, nil
	}
	agent, err := models.GetAgentByExternalId(ctx, db, externalId)
	if err != nil {
		return Resolution{}, err
	}
	if agent != nil {
		return Resolution{Outcome: OutcomeResolved, ID: agent.ID}, nil
	}
	if !allowPlaceholder {
		return Resolution{Outcome: OutcomeUnresolved}, nil
	}
	created, err := models.CreatePlaceholderAgent(ctx, db, externalId)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Outcome: OutcomePlaceholder, ID: created.ID}, nil
}

func resolveCustomer(ctx context.Context, db *gorm.DB, externalId string, allowPlaceholder bool) (Resolution, error) {
	externalId = strings.TrimSpace(externalId)
	if externalId == "" {
		return Resolution{Outcome: OutcomeUnresolved}, nil
	}
	customer, err := models.GetCustomerByExternalId(ctx, db, externalId)
	if err != nil {
		return Resolution{}, err
	}
	if customer != nil {
		return Resolution{Outcome: OutcomeResolved, ID: customer.ID}, nil
	}
	if !allowPlaceholder {
		return Resolution{Outcome: OutcomeUnresolved}, nil
	}
	created, err := models.CreatePlaceholderCustomer(ctx, db, externalId)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Outcome: OutcomePlaceholder, ID: created.ID}, nil
}

// Projects and units have no placeholder path; a sale can reference them
// lazily once they sync.
func resolveProject(ctx context.Context, db *gorm.DB, externalId string) (Resolution, error) {
	externalId = strings.TrimSpace(externalId)
	if externalId == "" {
		return Resolution{Outcome: OutcomeUnresolved}, nil
	}
	project, err := models.GetProjectByExternalId(ctx, db, externalId)
	if err != nil {
		return Resolution{}, err
	}
	if project == nil {
		return Resolution{Outcome: OutcomeUnresolved}, nil
	}
	return Resolution{Outcome: OutcomeResolved, ID: project.ID}, nil
}

func resolveUnit(ctx context.Context, db *gorm.DB, externalId string) (Resolution, error) {
	externalId = strings.TrimSpace(externalId)
	if externalId == "" {
		return Resolution{Outcome: OutcomeUnresolved}, nil
	}
	unit, err := models.GetUnitByExternalId(ctx, db, externalId)
	if err != nil {
		return Resolution{}, err
	}
	if unit == nil {
		return Resolution{Outcome: OutcomeUnresolved}, nil
	}
	return Resolution{Outcome: OutcomeResolved, ID: unit.ID}, nil
}

// resolveProjectsFromRaw materializes resolved project rows (and their
// commission rates) from the raw store.
func resolveProjectsFromRaw(ctx context.Context, db *gorm.DB, run *models.SyncRun) (StageStats, error) {
	var stats StageStats
	err := models.ListRawObjects(ctx, db, models.EntityTypeProject, 200, func(batch []models.RawObject) error {
		for _, raw := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			var ent erpEnterprise
			if err := json.Unmarshal(raw.Payload, &ent); err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageResolvingProjects, models.EntityTypeProject, raw.ExternalId, "invalid_payload", err.Error(), true)
				continue
			}
			if run.DryRun {
				stats.Skipped++
				continue
			}

			name := strings.TrimSpace(ent.Name)
			if name == "" {
				name = "Project " + raw.ExternalId
			}

			project, err := models.GetProjectByExternalId(ctx, db, raw.ExternalId)
			if err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageResolvingProjects, models.EntityTypeProject, raw.ExternalId, "lookup_failed", err.Error(), true)
				continue
			}
			if project == nil {
				extId := raw.ExternalId
				project = &models.Project{
					ExternalId: &extId,
					Name:       name,
					City:       strings.TrimSpace(ent.City),
					IsActive:   utils.NewTrue(),
				}
				if err := db.WithContext(ctx).Create(project).Error; err != nil {
					stats.Errors++
					recordSyncError(ctx, db, run, models.SyncStageResolvingProjects, models.EntityTypeProject, raw.ExternalId, "create_failed", err.Error(), true)
					continue
				}
				stats.Created++
			} else {
				if err := db.WithContext(ctx).Model(project).Updates(map[string]interface{}{
					"name": name,
					"city": strings.TrimSpace(ent.City),
				}).Error; err != nil {
					stats.Errors++
					recordSyncError(ctx, db, run, models.SyncStageResolvingProjects, models.EntityTypeProject, raw.ExternalId, "update_failed", err.Error(), true)
					continue
				}
				stats.Updated++
			}

			for _, rate := range ent.CommissionRates {
				class := agentClassFromUpstream(rate.BrokerClass)
				pct := decimalFromNumber(rate.Percentage)
				if pct.IsZero() {
					continue
				}
				if err := models.UpsertCommissionRate(ctx, db, project.ID, class, pct); err != nil {
					stats.Errors++
					recordSyncError(ctx, db, run, models.SyncStageResolvingProjects, models.EntityTypeProject, raw.ExternalId, "rate_upsert_failed", err.Error(), true)
				}
			}
		}
		return nil
	})
	return stats, err
}

// resolveAgentsFromRaw converges agent rows from raw broker records.
// Contact fields of non-placeholder agents belong to the provisioning flow
// and are never overwritten here.
func resolveAgentsFromRaw(ctx context.Context, db *gorm.DB, run *models.SyncRun) (StageStats, error) {
	var stats StageStats
	err := models.ListRawObjects(ctx, db, models.EntityTypeAgent, 200, func(batch []models.RawObject) error {
		for _, raw := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			var cred erpCreditor
			if err := json.Unmarshal(raw.Payload, &cred); err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageResolvingAgents, models.EntityTypeAgent, raw.ExternalId, "invalid_payload", err.Error(), true)
				continue
			}
			if run.DryRun {
				stats.Skipped++
				continue
			}

			name := strings.TrimSpace(cred.Name)
			if name == "" {
				name = "Agent " + raw.ExternalId
			}
			class := agentClassFromUpstream(cred.BrokerClass)

			agent, err := models.GetAgentByExternalId(ctx, db, raw.ExternalId)
			if err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageResolvingAgents, models.EntityTypeAgent, raw.ExternalId, "lookup_failed", err.Error(), true)
				continue
			}
			if agent == nil {
				extId := raw.ExternalId
				agent = &models.Agent{
					ExternalId: &extId,
					Name:       name,
					Email:      strings.TrimSpace(cred.Email),
					Phone:      strings.TrimSpace(cred.Phone),
					Mobile:     strings.TrimSpace(cred.Mobile),
					DocumentNo: strings.TrimSpace(cred.Document),
					Class:      class,
					IsActive:   utils.NewTrue(),
				}
				if agent.Email == "" {
					agent.Email = models.PlaceholderAgentEmail(raw.ExternalId)
					agent.IsPlaceholder = true
				}
				if err := db.WithContext(ctx).Create(agent).Error; err != nil {
					stats.Errors++
					recordSyncError(ctx, db, run, models.SyncStageResolvingAgents, models.EntityTypeAgent, raw.ExternalId, "create_failed", err.Error(), true)
					continue
				}
				stats.Created++
				continue
			}

			updates := map[string]interface{}{
				"name":        name,
				"document_no": strings.TrimSpace(cred.Document),
				"class":       class,
			}
			if agent.IsPlaceholder {
				if email := strings.TrimSpace(cred.Email); email != "" {
					updates["email"] = email
					updates["is_placeholder"] = false
				}
				if phone := strings.TrimSpace(cred.Phone); phone != "" {
					updates["phone"] = phone
				}
				if mobile := strings.TrimSpace(cred.Mobile); mobile != "" {
					updates["mobile"] = mobile
				}
			}
			if err := db.WithContext(ctx).Model(agent).Updates(updates).Error; err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageResolvingAgents, models.EntityTypeAgent, raw.ExternalId, "update_failed", err.Error(), true)
				continue
			}
			stats.Updated++
		}
		return nil
	})
	return stats, err
}

func resolveCustomersFromRaw(ctx context.Context, db *gorm.DB, run *models.SyncRun) (StageStats, error) {
	var stats StageStats
	err := models.ListRawObjects(ctx, db, models.EntityTypeCustomer, 200, func(batch []models.RawObject) error {
		for _, raw := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			var cust erpCustomer
			if err := json.Unmarshal(raw.Payload, &cust); err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageResolvingCustomers, models.EntityTypeCustomer, raw.ExternalId, "invalid_payload", err.Error(), true)
				continue
			}
			if run.DryRun {
				stats.Skipped++
				continue
			}

			name := strings.TrimSpace(cust.Name)
			if name == "" {
				name = "Customer " + raw.ExternalId
			}

			customer, err := models.GetCustomerByExternalId(ctx, db, raw.ExternalId)
			if err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageResolvingCustomers, models.EntityTypeCustomer, raw.ExternalId, "lookup_failed", err.Error(), true)
				continue
			}

			var birth *time.Time
			if t := utils.ParseTimeOrZero(cust.BirthDate); !t.IsZero() {
				birth = &t
			}

			if customer == nil {
				extId := raw.ExternalId
				customer = &models.Customer{
					ExternalId: &extId,
					Name:       name,
					Email:      strings.TrimSpace(cust.Email),
					Phone:      strings.TrimSpace(cust.Phone),
					DocumentNo: strings.TrimSpace(cust.Document),
					BirthDate:  birth,
					City:       strings.TrimSpace(cust.City),
					IsActive:   utils.NewTrue(),
				}
				if customer.Email == "" {
					customer.Email = models.PlaceholderCustomerEmail(raw.ExternalId)
					customer.IsPlaceholder = true
				}
				if err := db.WithContext(ctx).Create(customer).Error; err != nil {
					stats.Errors++
					recordSyncError(ctx, db, run, models.SyncStageResolvingCustomers, models.EntityTypeCustomer, raw.ExternalId, "create_failed", err.Error(), true)
					continue
				}
				stats.Created++
				continue
			}

			updates := map[string]interface{}{
				"name":        name,
				"document_no": strings.TrimSpace(cust.Document),
				"city":        strings.TrimSpace(cust.City),
			}
			if birth != nil {
				updates["birth_date"] = *birth
			}
			if customer.IsPlaceholder {
				if email := strings.TrimSpace(cust.Email); email != "" {
					updates["email"] = email
					updates["is_placeholder"] = false
				}
				if phone := strings.TrimSpace(cust.Phone); phone != "" {
					updates["phone"] = phone
				}
			}
			if err := db.WithContext(ctx).Model(customer).Updates(updates).Error; err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageResolvingCustomers, models.EntityTypeCustomer, raw.ExternalId, "update_failed", err.Error(), true)
				continue
			}
			stats.Updated++
		}
		return nil
	})
	return stats, err
}

func resolveUnitsFromRaw(ctx context.Context, db *gorm.DB, run *models.SyncRun) (StageStats, error) {
	var stats StageStats
	err := models.ListRawObjects(ctx, db, models.EntityTypeUnit, 200, func(batch []models.RawObject) error {
		for _, raw := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			var u erpUnit
			if err := json.Unmarshal(raw.Payload, &u); err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageSyncingUnits, models.EntityTypeUnit, raw.ExternalId, "invalid_payload", err.Error(), true)
				continue
			}
			if run.DryRun {
				stats.Skipped++
				continue
			}

			projectRes, err := resolveProject(ctx, db, u.EnterpriseId.String())
			if err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageSyncingUnits, models.EntityTypeUnit, raw.ExternalId, "project_lookup_failed", err.Error(), true)
				continue
			}

			name := strings.TrimSpace(u.Name)
			if name == "" {
				name = "Unit " + raw.ExternalId
			}

			unit, err := models.GetUnitByExternalId(ctx, db, raw.ExternalId)
			if err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageSyncingUnits, models.EntityTypeUnit, raw.ExternalId, "lookup_failed", err.Error(), true)
				continue
			}
			if unit == nil {
				extId := raw.ExternalId
				unit = &models.Unit{
					ExternalId: &extId,
					ProjectId:  projectRes.ID,
					Name:       name,
					Status:     unitStatusFromUpstream(u.Status),
					Area:       strings.TrimSpace(u.PrivateArea),
				}
				if err := db.WithContext(ctx).Create(unit).Error; err != nil {
					stats.Errors++
					recordSyncError(ctx, db, run, models.SyncStageSyncingUnits, models.EntityTypeUnit, raw.ExternalId, "create_failed", err.Error(), true)
					continue
				}
				stats.Created++
				continue
			}

			if err := db.WithContext(ctx).Model(unit).Updates(map[string]interface{}{
				"project_id": projectRes.ID,
				"name":       name,
				"status":     unitStatusFromUpstream(u.Status),
				"area":       strings.TrimSpace(u.PrivateArea),
			}).Error; err != nil {
				stats.Errors++
				recordSyncError(ctx, db, run, models.SyncStageSyncingUnits, models.EntityTypeUnit, raw.ExternalId, "update_failed", err.Error(), true)
				continue
			}
			stats.Updated++
		}
		return nil
	})
	return stats, err
}

func agentClassFromUpstream(class string) models.AgentClass {
	switch strings.ToUpper(strings.TrimSpace(class)) {
	case "INTERNAL", "HOUSE":
		return models.AgentClassInternal
	case "PARTNER":
		return models.AgentClassPartner
	default:
		return models.AgentClassExternal
	}
}

func unitStatusFromUpstream(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SOLD":
		return models.UnitStatusSold
	case "RESERVED":
		return models.UnitStatusReserved
	default:
		return models.UnitStatusAvailable
	}
}

func parseDate(value string) time.Time {
	return utils.ParseTimeOrZero(value)
}
