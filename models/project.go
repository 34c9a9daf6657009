package models

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/commissions_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Project is an enterprise (real-estate development) in the upstream ERP.
type Project struct {
	ID              int                      `gorm:"primary_key" json:"id"`
	ExternalId      *string                  `gorm:"uniqueIndex;size:64" json:"external_id"`
	Name            string                   `gorm:"size:200;not null" json:"name"`
	City            string                   `gorm:"size:100" json:"city"`
	CommissionRates []*ProjectCommissionRate `json:"commission_rates"`
	IsActive        *bool                    `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time                `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time                `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProjectCommissionRate holds the commission percentage one agent class
// earns on sales of one project.
type ProjectCommissionRate struct {
	ID         int             `gorm:"primary_key" json:"id"`
	ProjectId  int             `gorm:"uniqueIndex:idx_project_class,priority:1;not null" json:"project_id"`
	AgentClass AgentClass      `gorm:"uniqueIndex:idx_project_class,priority:2;size:20;not null" json:"agent_class"`
	Percentage decimal.Decimal `gorm:"type:decimal(10,4);not null" json:"percentage"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetProjectByExternalId(ctx context.Context, db *gorm.DB, externalId string) (*Project, error) {
	var project Project
	err := db.WithContext(ctx).Where("external_id = ?", externalId).Take(&project).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &project, nil
}

// DefaultCommissionPercentage is the system-wide fallback used when a
// project has no rate configured for an agent class.
func DefaultCommissionPercentage() decimal.Decimal {
	if v := strings.TrimSpace(os.Getenv("DEFAULT_COMMISSION_PERCENTAGE")); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.NewFromInt(5)
}

// GetCommissionPercentage resolves the percentage for (project, agent class),
// falling back to the system default. Results are cached in redis; rates
// change rarely and sales sync reads them per contract.
func GetCommissionPercentage(ctx context.Context, db *gorm.DB, projectId int, class AgentClass) (decimal.Decimal, error) {
	key := fmt.Sprintf("ProjectCommissionRate:%d:%s", projectId, class)

	var cached string
	if exists, err := config.GetRedisObject(key, &cached); err == nil && exists {
		if d, derr := decimal.NewFromString(cached); derr == nil {
			return d, nil
		}
	}

	var rate ProjectCommissionRate
	err := db.WithContext(ctx).
		Where("project_id = ? AND agent_class = ?", projectId, class).
		Take(&rate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return DefaultCommissionPercentage(), nil
		}
		return decimal.Zero, err
	}

	_ = config.SetRedisObject(key, rate.Percentage.String(), 10*time.Minute)
	return rate.Percentage, nil
}

// UpsertCommissionRate writes a project/class rate and drops the cache entry.
func UpsertCommissionRate(ctx context.Context, db *gorm.DB, projectId int, class AgentClass, percentage decimal.Decimal) error {
	var existing ProjectCommissionRate
	err := db.WithContext(ctx).
		Where("project_id = ? AND agent_class = ?", projectId, class).
		Take(&existing).Error
	if err == nil {
		err = db.WithContext(ctx).Model(&existing).Update("percentage", percentage).Error
	} else if errors.Is(err, gorm.ErrRecordNotFound) {
		err = db.WithContext(ctx).Create(&ProjectCommissionRate{
			ProjectId:  projectId,
			AgentClass: class,
			Percentage: percentage,
		}).Error
	}
	if err != nil {
		return err
	}
	return config.DeleteRedisKey(fmt.Sprintf("ProjectCommissionRate:%d:%s", projectId, class))
}
