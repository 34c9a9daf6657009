package erpsync

import (
	"time"

	"bitbucket.org/mmdatafocus/commissions_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Upstream payment-condition type codes. The set is closed on purpose: a
// code outside it classifies as conditionUnknown and is excluded from the
// commission base without failing the sync, so new upstream codes degrade
// visibly (logged) instead of halting runs.
const (
	codeDownPayment   = "AT" // lump sum at signing
	codeSignal        = "SI" // reservation signal, also a lump
	codeMonthly       = "PM" // monthly early-amortization installments
	codeBalloon       = "BA" // single annual balloon
	codeBalloon1      = "B1"
	codeBalloon2      = "B2"
	codeBalloon3      = "B3"
	codeBalloon4      = "B4"
	codeBalloon5      = "B5"
	codePaymentInKind = "PC" // permuta / non-cash settlement
	codeFinancing     = "FI" // bank financing, never commissionable
	codeCommission    = "CM" // pure commission entries, never part of the base
)

type conditionClass int

const (
	conditionDownPayment conditionClass = iota
	conditionMonthly
	conditionBalloon
	conditionInKind
	conditionExcluded
	conditionUnknown
)

var conditionClassByCode = map[string]conditionClass{
	codeDownPayment:   conditionDownPayment,
	codeSignal:        conditionDownPayment,
	codeMonthly:       conditionMonthly,
	codeBalloon:       conditionBalloon,
	codeBalloon1:      conditionBalloon,
	codeBalloon2:      conditionBalloon,
	codeBalloon3:      conditionBalloon,
	codeBalloon4:      conditionBalloon,
	codeBalloon5:      conditionBalloon,
	codePaymentInKind: conditionInKind,
	codeFinancing:     conditionExcluded,
	codeCommission:    conditionExcluded,
}

// PaymentCondition is one normalized upstream payment-schedule entry.
type PaymentCondition struct {
	Code         string
	TotalValue   decimal.Decimal
	Count        int
	FirstDueDate time.Time
}

// CategoryTotal accumulates all entries of one canonical category.
type CategoryTotal struct {
	Occurred       bool
	Total          decimal.Decimal
	Count          int
	PerInstallment decimal.Decimal
	AnchorDate     time.Time
}

// ConditionSummary is the classifier output: per-category totals plus the
// commission base ("pro-soluto" amount) the factor is computed against.
type ConditionSummary struct {
	Categories     map[models.InstallmentCategory]*CategoryTotal
	CommissionBase decimal.Decimal
	UnknownCodes   []string
}

// MapPaymentConditions classifies heterogeneous payment-condition entries
// into canonical installment categories and accumulates the commission base.
// Entries of the same category sum; excluded and unknown codes contribute
// nothing. Fail-open: nothing here returns an error.
func MapPaymentConditions(conds []PaymentCondition, logger *logrus.Logger) ConditionSummary {
	summary := ConditionSummary{
		Categories:     map[models.InstallmentCategory]*CategoryTotal{},
		CommissionBase: decimal.Zero,
	}

	for _, cond := range conds {
		class, known := conditionClassByCode[cond.Code]
		if !known {
			class = conditionUnknown
		}

		var category models.InstallmentCategory
		switch class {
		case conditionDownPayment:
			category = models.CategoryDownPayment
		case conditionMonthly:
			if cond.Count > 1 {
				category = models.CategoryInstallmentDownPayment
			} else {
				// A one-off monthly entry is just an upfront lump.
				category = models.CategoryDownPayment
			}
		case conditionBalloon:
			category = models.CategoryBalloon
		case conditionInKind:
			category = models.CategoryPaymentInKind
		case conditionExcluded:
			continue
		default:
			summary.UnknownCodes = append(summary.UnknownCodes, cond.Code)
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"module": "erpsync",
					"code":   cond.Code,
				}).Warn("unrecognized payment condition code; excluded from commission base")
			}
			continue
		}

		count := cond.Count
		if count <= 0 {
			count = 1
		}

		acc := summary.Categories[category]
		if acc == nil {
			acc = &CategoryTotal{}
			summary.Categories[category] = acc
		}
		acc.Occurred = true
		acc.Total = acc.Total.Add(cond.TotalValue)
		acc.Count += count
		if acc.AnchorDate.IsZero() || (!cond.FirstDueDate.IsZero() && cond.FirstDueDate.Before(acc.AnchorDate)) {
			acc.AnchorDate = cond.FirstDueDate
		}

		summary.CommissionBase = summary.CommissionBase.Add(cond.TotalValue)
	}

	for _, acc := range summary.Categories {
		if acc.Count > 0 {
			// Rounded to the persisted amount scale; the division remainder
			// is settled on the final installment at expansion time so the
			// materialized rows always sum back to the category total.
			acc.PerInstallment = acc.Total.Div(decimal.NewFromInt(int64(acc.Count))).Round(installmentScale)
		}
	}

	return summary
}

func conditionsFromContract(contract erpContract) []PaymentCondition {
	out := make([]PaymentCondition, 0, len(contract.PaymentConditions))
	for _, pc := range contract.PaymentConditions {
		out = append(out, PaymentCondition{
			Code:         pc.ConditionTypeId,
			TotalValue:   decimalFromNumber(pc.TotalValue),
			Count:        pc.InstallmentsNumber,
			FirstDueDate: parseDate(pc.FirstPaymentDate),
		})
	}
	return out
}
