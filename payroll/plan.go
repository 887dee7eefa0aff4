package payroll

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// PlanType names the retirement vehicle.
type PlanType string

const (
	Plan401kTraditional PlanType = "401k_traditional"
	PlanRRSPGroup       PlanType = "rrsp_group"
	PlanOther           PlanType = "other"
)

// RetirementPlan is the employer's retirement arrangement. Its default
// election applies whenever the input carries no election of its own.
type RetirementPlan struct {
	ID   string
	Name string
	Type PlanType

	EnableYTDCaps       bool
	AnnualEmployeeLimit decimal.Decimal
	LimitPeriod         generic.PeriodConfig

	EmployerMatchPercent decimal.Decimal
	DefaultElection      Election
}

// Validate checks plan constants.
func (p RetirementPlan) Validate() error {
	switch {
	case p.ID == "":
		return invalid("plan.id", "is required")
	case p.EnableYTDCaps && !p.AnnualEmployeeLimit.IsPositive():
		return invalid("plan.annual_employee_limit", "must be positive when caps are enabled")
	case !percentInRange(p.EmployerMatchPercent):
		return invalid("plan.employer_match_percent", "must be within [0, 100]")
	}
	return validateElection("plan.default_election", p.DefaultElection)
}

// LimitPolicy expresses the plan's annual limit for the retirement account.
func (p RetirementPlan) LimitPolicy() generic.LimitPolicy {
	return generic.LimitPolicy{
		AccountID:    generic.AccountID(CodeRetirement),
		Unit:         generic.UnitCurrency,
		AnnualLimit:  generic.NewAmountFromDecimal(p.AnnualEmployeeLimit, generic.UnitCurrency),
		Enabled:      p.EnableYTDCaps,
		PeriodConfig: p.LimitPeriod,
	}
}

// retirementPolicy is the limit the retirement account is capped by. A
// profile limit and a capped plan may both apply; the lower limit wins and
// the plan's limit year is kept.
func retirementPolicy(profile Profile, plan *RetirementPlan) (generic.LimitPolicy, bool) {
	fromProfile, ok := profile.LimitPolicy(CodeRetirement)
	if plan == nil || !plan.EnableYTDCaps {
		return fromProfile, ok
	}
	policy := plan.LimitPolicy()
	if ok && fromProfile.AnnualLimit.LessThan(policy.AnnualLimit) {
		policy.AnnualLimit = fromProfile.AnnualLimit
	}
	return policy, true
}

// PlanStore persists retirement plans.
type PlanStore interface {
	SavePlan(ctx context.Context, plan RetirementPlan) error
	// GetPlan returns generic.ErrPlanNotFound when id is unknown.
	GetPlan(ctx context.Context, id string) (*RetirementPlan, error)
	ListPlans(ctx context.Context) ([]RetirementPlan, error)
}

func validateElection(field string, e Election) error {
	switch e.Mode {
	case ElectionNone, "":
		return nil
	case ElectionPercent:
		if !percentInRange(e.Value) {
			return invalid(field+".value", "percent must be within [0, 100], got %s", e.Value)
		}
	case ElectionFlat:
		if e.Value.IsNegative() {
			return invalid(field+".value", "flat amount cannot be negative, got %s", e.Value)
		}
	default:
		return invalid(field+".mode", "unknown election mode %q", e.Mode)
	}
	return nil
}
