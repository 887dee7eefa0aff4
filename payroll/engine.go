package payroll

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// ENGINE - The calculation pipeline
// =============================================================================

// Engine resolves the jurisdiction profile and runs Calculate. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	profiles *ProfileTable
}

func NewEngine(profiles *ProfileTable) *Engine {
	return &Engine{profiles: profiles}
}

// Profiles returns the engine's profile table.
func (e *Engine) Profiles() *ProfileTable {
	return e.profiles
}

// Calculate looks up the input's profile and calculates the payslip.
func (e *Engine) Calculate(in PayPeriodInput, plan *RetirementPlan, ytd YTDTotals) (Payslip, error) {
	profile, err := e.profiles.Lookup(in.Jurisdiction)
	if err != nil {
		return Payslip{}, err
	}
	return Calculate(in, profile, plan, ytd)
}

// Calculate turns one pay period into a reconciled payslip. It is a pure
// function of its arguments: no input is mutated and identical arguments
// always produce an identical payslip. Currency values are rounded to cents
// only when they are emitted; hours keep full precision.
func Calculate(in PayPeriodInput, profile Profile, plan *RetirementPlan, ytd YTDTotals) (Payslip, error) {
	if err := validateInput(in, profile, plan); err != nil {
		return Payslip{}, err
	}

	gross, err := CalculateGross(in.HoursWorked, in.HourlyRate, profile)
	if err != nil {
		return Payslip{}, err
	}

	vacation, err := CalculateVacation(gross.GrossBeforeVacation, in.VacationPercent, in.VacationIncludedInGross, profile)
	if err != nil {
		return Payslip{}, err
	}

	taxableAdditions, nonTaxableEarnings, err := sumEarnings(in.AdditionalEarnings)
	if err != nil {
		return Payslip{}, err
	}
	reimbursements, err := sumReimbursements(in.Reimbursements)
	if err != nil {
		return Payslip{}, err
	}
	reimbursements = reimbursements.Add(nonTaxableEarnings)

	net := NetInputs{
		GrossPay:                generic.Round2(gross.GrossBeforeVacation),
		VacationPay:             vacation.Pay,
		VacationIncludedInGross: vacation.IncludedInGross,
		TaxableAdditions:        generic.Round2(taxableAdditions),
		Reimbursements:          generic.Round2(reimbursements),
	}

	dc := deductionContext{
		profile:        profile,
		input:          in,
		effectiveGross: net.EffectiveGross(),
		bpaPerPeriod:   profile.BPAPerPeriod(in.PayFrequency),
		ytd:            ytd,
	}
	resolved, err := resolveDeductionLines(dc)
	if err != nil {
		return Payslip{}, err
	}

	retirementLine, retirementCap, employer, err := retirementContribution(in, profile, plan, gross.GrossBeforeVacation, ytd)
	if err != nil {
		return Payslip{}, err
	}
	lines := resolved.lines
	if retirementLine != nil {
		lines = append(lines, *retirementLine)
	}
	lines = zeroFill(lines, profile, in)

	caps := resolved.caps
	warnings := append([]Warning{}, vacation.Warnings...)
	if retirementCap != nil {
		caps[CodeRetirement] = *retirementCap
		if retirementCap.Capped {
			warnings = append(warnings, capWarning(CodeRetirement, *retirementCap))
		}
	}
	warnings = append(warnings, resolved.warnings...)

	total, breakdown := AggregateDeductions(lines)
	net.TotalDeductions = total
	effectiveGross, netPay, netWarnings := ReconcileNet(net)
	warnings = append(warnings, netWarnings...)
	if w, ok := missingTaxWarning(lines, profile, dc); ok {
		warnings = append(warnings, w)
	}

	p := Payslip{
		SubjectID:    in.SubjectID,
		PlanID:       planID(in, plan),
		Jurisdiction: profile.Jurisdiction(),
		PayFrequency: in.PayFrequency,
		PeriodStart:  in.PeriodStart,
		PeriodEnd:    in.PeriodEnd,

		RegularHours:  gross.RegularHours,
		OvertimeHours: gross.OvertimeHours,
		RegularPay:    generic.Round2(gross.RegularPay),
		OvertimePay:   generic.Round2(gross.OvertimePay),
		GrossPay:      net.GrossPay,

		VacationPercent:         vacation.Percent,
		VacationPay:             vacation.Pay,
		VacationIncludedInGross: vacation.IncludedInGross,

		TaxableAdditions: net.TaxableAdditions,
		EffectiveGross:   effectiveGross,

		Deductions:         lines,
		DeductionBreakdown: breakdown,
		TotalDeductions:    total,

		NonTaxableReimbursements: net.Reimbursements,
		NetPay:                   netPay,

		CappedContributions:   caps,
		EmployerContributions: employer,
		Warnings:              warnings,
	}

	if err := CheckReconciliation(p); err != nil {
		return Payslip{}, err
	}
	return p, nil
}

// retirementContribution resolves the election, caps it against the plan
// or profile limit, and computes the employer match on the applied amount.
func retirementContribution(in PayPeriodInput, profile Profile, plan *RetirementPlan, grossBeforeVacation decimal.Decimal, ytd YTDTotals) (*DeductionLine, *CapFlag, map[Code]decimal.Decimal, error) {
	employer := make(map[Code]decimal.Decimal)

	election := ResolveElection(in.RetirementElection, plan)
	if election.Mode == ElectionNone {
		return nil, nil, employer, nil
	}
	if !profile.Applies(CodeRetirement) {
		return nil, nil, nil, invalid("retirement_election", "retirement contributions do not apply in %s", profile.Jurisdiction())
	}

	nominal, err := NominalContribution(election, grossBeforeVacation)
	if err != nil {
		return nil, nil, nil, err
	}

	basis := BasisAmount
	if election.Mode == ElectionPercent {
		basis = BasisPercent
	}
	line := &DeductionLine{Code: CodeRetirement, Category: CategoryRetirement, Amount: nominal, Basis: basis}

	var flag *CapFlag
	if policy, ok := retirementPolicy(profile, plan); ok {
		f := CapContribution(nominal, ytd.Get(CodeRetirement), policy)
		flag = &f
		line.Amount = f.Applied
		if f.Capped {
			line.Basis = BasisCapped
		}
	}

	if plan != nil && plan.EmployerMatchPercent.IsPositive() && line.Amount.IsPositive() {
		employer[CodeRetirement] = generic.Round2(line.Amount.Mul(plan.EmployerMatchPercent).Div(decimal.NewFromInt(100)))
	}
	return line, flag, employer, nil
}

func validateInput(in PayPeriodInput, profile Profile, plan *RetirementPlan) error {
	if in.PayFrequency.PeriodsPerYear() == 0 {
		return invalid("pay_frequency", "unknown pay frequency %q", in.PayFrequency)
	}
	if !in.PeriodStart.IsZero() || !in.PeriodEnd.IsZero() {
		if err := in.Period().Validate(); err != nil {
			return invalid("period", "%v", err)
		}
	}
	if plan != nil && in.PlanID != "" && plan.ID != in.PlanID {
		return invalid("plan_id", "input references %q but plan %q was supplied", in.PlanID, plan.ID)
	}
	if j := in.Jurisdiction.normalized(); j != profile.Jurisdiction() {
		return invalid("jurisdiction", "input is %s but profile is %s", j, profile.Jurisdiction())
	}
	return nil
}

// sumEarnings splits additional earnings into taxable and non-taxable
// totals. Non-taxable earnings are paid out with the reimbursements.
func sumEarnings(earnings []Earning) (taxable, nonTaxable decimal.Decimal, err error) {
	for i, e := range earnings {
		if e.Amount.IsNegative() {
			return decimal.Zero, decimal.Zero, invalid(fmt.Sprintf("additional_earnings[%d].amount", i), "cannot be negative, got %s", e.Amount)
		}
		if e.Taxable {
			taxable = taxable.Add(e.Amount)
		} else {
			nonTaxable = nonTaxable.Add(e.Amount)
		}
	}
	return taxable, nonTaxable, nil
}

func sumReimbursements(rs []Reimbursement) (decimal.Decimal, error) {
	total := decimal.Zero
	for i, r := range rs {
		if r.Amount.IsNegative() {
			return decimal.Zero, invalid(fmt.Sprintf("non_taxable_reimbursements[%d].amount", i), "cannot be negative, got %s", r.Amount)
		}
		total = total.Add(r.Amount)
	}
	return total, nil
}

// missingTaxWarning flags a taxable period where no income tax was withheld.
func missingTaxWarning(lines []DeductionLine, profile Profile, dc deductionContext) (Warning, bool) {
	if !dc.taxBase().IsPositive() {
		return Warning{}, false
	}
	hasTaxCode := false
	for _, l := range lines {
		if l.Category != CategoryTax {
			continue
		}
		hasTaxCode = true
		if !l.Amount.IsZero() {
			return Warning{}, false
		}
	}
	if !hasTaxCode {
		return Warning{}, false
	}
	return Warning{
		Code:    WarningNoIncomeTax,
		Message: "no income tax withheld on taxable pay in " + profile.Jurisdiction().String(),
	}, true
}

func planID(in PayPeriodInput, plan *RetirementPlan) string {
	if plan != nil {
		return plan.ID
	}
	return in.PlanID
}
