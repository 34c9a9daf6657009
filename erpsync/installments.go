package erpsync

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/commissions_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// installmentScale is the decimal scale installment amounts persist at.
const installmentScale = 4

// expansionOrder keeps materialized rows deterministic across runs.
var expansionOrder = []models.InstallmentCategory{
	models.CategoryDownPayment,
	models.CategoryInstallmentDownPayment,
	models.CategoryBalloon,
	models.CategoryPaymentInKind,
}

// ExpandInstallments turns classified payment conditions into discrete
// installment rows. Pure: no persistence, no clock reads. Due dates advance
// from the category anchor by one month per step for installment-down-payment
// and one year per step for balloon; lump categories keep the anchor as-is.
// Sequence numbers are assigned only for the multi-installment categories.
// The final installment of a category absorbs the rounding remainder, so the
// row amounts always sum to the category total (and across categories, to
// the commission base).
func ExpandInstallments(summary ConditionSummary, factor decimal.Decimal, fallbackAnchor time.Time) []models.Installment {
	var rows []models.Installment

	for _, category := range expansionOrder {
		acc := summary.Categories[category]
		if acc == nil || !acc.Occurred || acc.Count <= 0 {
			continue
		}

		anchor := acc.AnchorDate
		if anchor.IsZero() {
			anchor = fallbackAnchor
		}

		for i := 0; i < acc.Count; i++ {
			amount := acc.PerInstallment
			if i == acc.Count-1 {
				amount = acc.Total.Sub(acc.PerInstallment.Mul(decimal.NewFromInt(int64(acc.Count - 1))))
			}
			row := models.Installment{
				Category:         category,
				Amount:           amount,
				DueDate:          anchor,
				Status:           models.InstallmentStatusPending,
				FactorApplied:    factor,
				CommissionAmount: amount.Mul(factor),
			}
			switch category {
			case models.CategoryInstallmentDownPayment:
				row.Sequence = i + 1
				row.DueDate = anchor.AddDate(0, i, 0)
			case models.CategoryBalloon:
				row.Sequence = i + 1
				row.DueDate = anchor.AddDate(i, 0, 0)
			}
			rows = append(rows, row)
		}
	}

	return rows
}

// materializeSale replaces the sale's installment set with a fresh
// expansion. Re-runs after a schedule shrinks leave no stale rows.
func materializeSale(ctx context.Context, db *gorm.DB, sale *models.Sale, summary ConditionSummary) error {
	anchor := time.Now()
	if sale.ContractDate != nil && !sale.ContractDate.IsZero() {
		anchor = *sale.ContractDate
	}
	rows := ExpandInstallments(summary, sale.CommissionFactor, anchor)
	return models.ReplaceSaleInstallments(ctx, db, sale.ID, rows)
}
