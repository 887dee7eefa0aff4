package payroll

import (
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// vacationWarnAbove is the percent beyond which a vacation override is flagged.
var vacationWarnAbove = decimal.NewFromInt(10)

// VacationResult is the vacation pay for a period.
type VacationResult struct {
	Percent         decimal.Decimal
	Pay             decimal.Decimal
	IncludedInGross bool
	Warnings        []Warning
}

// CalculateVacation derives vacation pay from pre-vacation gross. The
// include flag only tells the reconciler whether vacation joins effective
// gross; it has no effect on the amount.
func CalculateVacation(grossBeforeVacation decimal.Decimal, percentOverride *decimal.Decimal, includeOverride *bool, p Profile) (VacationResult, error) {
	pct := p.DefaultVacationPercent
	if percentOverride != nil {
		pct = *percentOverride
	}
	if !percentInRange(pct) {
		return VacationResult{}, invalid("vacation_percent", "must be within [0, 100], got %s", pct)
	}

	included := p.VacationIncludedInGrossDefault
	if includeOverride != nil {
		included = *includeOverride
	}

	result := VacationResult{
		Percent:         pct,
		Pay:             generic.Round2(grossBeforeVacation.Mul(pct).Div(decimal.NewFromInt(100))),
		IncludedInGross: included,
	}
	if pct.GreaterThan(vacationWarnAbove) {
		result.Warnings = append(result.Warnings, Warning{
			Code:    WarningVacationPercentHigh,
			Message: "vacation percent " + pct.String() + " is above " + vacationWarnAbove.String(),
		})
	}
	return result, nil
}
