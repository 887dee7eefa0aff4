package payroll

import (
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// CONTRIBUTION CAPPER
// =============================================================================

// ResolveElection returns the input election, or the plan default when the
// input has none.
func ResolveElection(in *Election, plan *RetirementPlan) Election {
	if in != nil && in.Mode != "" {
		return *in
	}
	if plan != nil && plan.DefaultElection.Mode != "" {
		return plan.DefaultElection
	}
	return Election{Mode: ElectionNone}
}

// NominalContribution converts an election into the per-period amount before
// any cap. Percent elections apply to pre-vacation gross. The result is a
// withheld currency amount and is rounded to cents.
func NominalContribution(e Election, grossBeforeVacation decimal.Decimal) (decimal.Decimal, error) {
	if err := validateElection("retirement_election", e); err != nil {
		return decimal.Zero, err
	}
	switch e.Mode {
	case ElectionPercent:
		return generic.Round2(grossBeforeVacation.Mul(e.Value).Div(decimal.NewFromInt(100))), nil
	case ElectionFlat:
		return generic.Round2(e.Value), nil
	default:
		return decimal.Zero, nil
	}
}

// CapContribution applies policy to nominal given ytd already contributed.
// A disabled policy returns nominal unchanged without consulting ytd.
func CapContribution(nominal, ytd decimal.Decimal, policy generic.LimitPolicy) CapFlag {
	r := policy.Apply(
		generic.NewAmountFromDecimal(nominal, generic.UnitCurrency),
		generic.NewAmountFromDecimal(ytd, generic.UnitCurrency),
	)
	return CapFlag{
		Requested:      r.Requested.Value,
		Applied:        r.Applied.Value,
		RemainingAfter: r.RemainingAfter.Value,
		Capped:         r.Capped,
	}
}

func capWarning(c Code, f CapFlag) Warning {
	return Warning{
		Code: WarningCapExceeded,
		Message: string(c) + " contribution reduced from " + f.Requested.StringFixed(2) +
			" to " + f.Applied.StringFixed(2) + " by annual limit; remaining " + f.RemainingAfter.StringFixed(2),
	}
}
