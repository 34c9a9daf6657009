package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Installment is one scheduled payment of a sale. CommissionAmount and
// FactorApplied are frozen at materialization time; re-materializing a sale
// replaces its whole installment set.
type Installment struct {
	ID               int                 `gorm:"primary_key" json:"id"`
	SaleId           int                 `gorm:"index;not null" json:"sale_id"`
	Category         InstallmentCategory `gorm:"size:30;not null" json:"category"`
	Sequence         int                 `gorm:"default:0" json:"sequence"`
	Amount           decimal.Decimal     `gorm:"type:decimal(20,4);not null" json:"amount"`
	DueDate          time.Time           `gorm:"not null" json:"due_date"`
	Status           string              `gorm:"size:20;not null;default:'PENDING'" json:"status"`
	CommissionAmount decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"commission_amount"`
	FactorApplied    decimal.Decimal     `gorm:"type:decimal(20,8);default:0" json:"factor_applied"`
	CreatedAt        time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// ReplaceSaleInstallments swaps a sale's installment set atomically.
// Full replace, not a merge: a schedule that shrank upstream leaves no
// stale rows behind.
func ReplaceSaleInstallments(ctx context.Context, db *gorm.DB, saleId int, installments []Installment) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("sale_id = ?", saleId).Delete(&Installment{}).Error; err != nil {
			return err
		}
		if len(installments) == 0 {
			return nil
		}
		for i := range installments {
			installments[i].SaleId = saleId
		}
		return tx.Create(&installments).Error
	})
}

func ListSaleInstallments(ctx context.Context, db *gorm.DB, saleId int) ([]Installment, error) {
	var rows []Installment
	err := db.WithContext(ctx).
		Where("sale_id = ?", saleId).
		Order("category, sequence, id").
		Find(&rows).Error
	return rows, err
}

// SumEligibleInstallments returns the total of a sale's installment amounts,
// which must equal the sale's commission base.
func SumEligibleInstallments(ctx context.Context, db *gorm.DB, saleId int) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := db.WithContext(ctx).
		Model(&Installment{}).
		Select("SUM(amount)").
		Where("sale_id = ?", saleId).
		Scan(&total).Error
	if err != nil || !total.Valid {
		return decimal.Zero, err
	}
	return total.Decimal, err
}
