package erpsync

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestCommissionFactor(t *testing.T) {
	cases := []struct {
		name       string
		value      string
		percentage string
		base       string
		expected   string
	}{
		{"standard", "350000", "5", "100000", "0.175"},
		{"full value base", "100000", "5", "100000", "0.05"},
		{"fractional percentage", "200000", "2.5", "50000", "0.1"},
		{"zero base", "350000", "5", "0", "0"},
		{"zero value", "0", "5", "100000", "0"},
	}
	for _, tc := range cases {
		got := CommissionFactor(dec(tc.value), dec(tc.percentage), dec(tc.base))
		if !got.Equal(dec(tc.expected)) {
			t.Fatalf("%s: CommissionFactor(%s, %s, %s) expected %s, got %s",
				tc.name, tc.value, tc.percentage, tc.base, tc.expected, got)
		}
	}
}

func TestCommissionFactor_DistributesTotalCommission(t *testing.T) {
	// Applying the factor across the whole base must reproduce the
	// commission amount the percentage promised.
	value := dec("350000")
	base := dec("100000")
	factor := CommissionFactor(value, dec("5"), base)

	total := base.Mul(factor)
	if !total.Equal(dec("17500")) {
		t.Fatalf("expected total commission 17500, got %s", total)
	}
}

func TestCommissionFactor_IsZero(t *testing.T) {
	if !CommissionFactor(dec("1"), dec("1"), decimal.Zero).IsZero() {
		t.Fatal("zero base must yield a zero factor, not an error or NaN")
	}
}
