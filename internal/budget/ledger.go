package budget

import (
	"github.com/shopspring/decimal"
)

// Ledger enforces the monthly LLM spend cap named in §4.D/§6, comparing
// costs as decimal.Decimal rather than float64 so thousands of per-call
// additions never accumulate drift the way repeated float addition would.
type Ledger struct {
	MonthlyBudgetEUR decimal.Decimal
}

// NewLedger builds a Ledger for the given monthly budget in euros.
func NewLedger(monthlyBudgetEUR float64) Ledger {
	return Ledger{MonthlyBudgetEUR: decimal.NewFromFloat(monthlyBudgetEUR)}
}

var centsPerEUR = decimal.NewFromInt(100)

// CentsToEUR converts an integer minor-unit amount to a decimal euro value.
func CentsToEUR(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(centsPerEUR)
}

// EURToCents converts a decimal euro value to integer minor units, rounding
// to the nearest cent.
func EURToCents(eur decimal.Decimal) int64 {
	return eur.Mul(centsPerEUR).Round(0).IntPart()
}

// ExceedsBudget reports whether adding projectedCostCents to
// monthToDateCents would exceed the monthly budget, the check the Triage
// and Case Build stages run before every LLM call (§4.D: "Budget
// enforcement").
func (l Ledger) ExceedsBudget(monthToDateCents, projectedCostCents int64) bool {
	total := CentsToEUR(monthToDateCents + projectedCostCents)
	return total.GreaterThan(l.MonthlyBudgetEUR)
}
