package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Sale is a resolved sales contract. CommissionBase is the "pro-soluto"
// portion of the sale value assembled from eligible payment conditions;
// CommissionFactor is computed once per sync from value, percentage and base.
type Sale struct {
	ID               int             `gorm:"primary_key" json:"id"`
	ExternalId       string          `gorm:"uniqueIndex;size:64;not null" json:"external_id"`
	AgentId          int             `gorm:"index" json:"agent_id"`
	CustomerId       int             `gorm:"index" json:"customer_id"`
	ProjectId        int             `gorm:"index" json:"project_id"`
	UnitId           int             `gorm:"index" json:"unit_id"`
	Value            decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"value"`
	CommissionBase   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"commission_base"`
	CommissionFactor decimal.Decimal `gorm:"type:decimal(20,8);default:0" json:"commission_factor"`
	Status           string          `gorm:"size:20;not null;default:'ACTIVE'" json:"status"`
	ContractDate     *time.Time      `json:"contract_date"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// SaleCoborrower links additional customers to a contract. Created by the
// co-borrower backfill, keyed so repeat runs are no-ops.
type SaleCoborrower struct {
	ID         int       `gorm:"primary_key" json:"id"`
	SaleId     int       `gorm:"uniqueIndex:idx_sale_coborrower,priority:1;not null" json:"sale_id"`
	CustomerId int       `gorm:"uniqueIndex:idx_sale_coborrower,priority:2;not null" json:"customer_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func GetSaleByExternalId(ctx context.Context, db *gorm.DB, externalId string) (*Sale, error) {
	var sale Sale
	err := db.WithContext(ctx).Where("external_id = ?", externalId).Take(&sale).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sale, nil
}
