package erpsync

import (
	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// CommissionFactor derives the proportional factor applied to every
// eligible installment:
//
//	factor = (saleValue × percentage/100) / commissionBase
//
// A zero base yields factor 0 (and therefore zero commission everywhere)
// rather than an error; financing-only contracts are legitimate.
func CommissionFactor(saleValue, percentage, commissionBase decimal.Decimal) decimal.Decimal {
	if commissionBase.IsZero() {
		return decimal.Zero
	}
	return saleValue.Mul(percentage).Div(oneHundred).Div(commissionBase)
}
