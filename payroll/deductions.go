package payroll

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// DEDUCTION AGGREGATOR
// =============================================================================

// deductionContext is what line resolution needs besides the inputs themselves.
type deductionContext struct {
	profile        Profile
	input          PayPeriodInput
	effectiveGross decimal.Decimal
	bpaPerPeriod   decimal.Decimal
	ytd            YTDTotals
}

// taxBase is the base tax-category percents apply to: effective gross less
// the per-period basic personal amount, never below zero.
func (dc deductionContext) taxBase() decimal.Decimal {
	return decimal.Max(decimal.Zero, dc.effectiveGross.Sub(dc.bpaPerPeriod))
}

type resolvedLines struct {
	lines    []DeductionLine
	caps     map[Code]CapFlag
	warnings []Warning
}

// resolveDeductionLines validates deduction inputs and turns each into an
// emitted line. Statutory amounts are passed through; percents resolve
// against the taxable base; codes with an annual limit are capped against YTD.
func resolveDeductionLines(dc deductionContext) (resolvedLines, error) {
	out := resolvedLines{caps: make(map[Code]CapFlag)}

	if err := validateExemptions(dc); err != nil {
		return out, err
	}

	applied := make(map[Code]decimal.Decimal)
	var capOrder []Code
	for i, di := range dc.input.DeductionInputs {
		field := fmt.Sprintf("deduction_inputs[%d]", i)
		code, cat, err := classify(field, di, dc.profile)
		if err != nil {
			return out, err
		}

		amount, basis, err := lineAmount(field, di, cat, dc)
		if err != nil {
			return out, err
		}

		if dc.input.exempt(code) {
			amount, basis = decimal.Zero, BasisExempt
		} else if policy, ok := dc.profile.LimitPolicy(code); ok {
			used := dc.ytd.Get(code).Add(applied[code])
			flag := CapContribution(amount, used, policy)
			if flag.Capped {
				basis = BasisCapped
			}
			amount = flag.Applied
			if prev, seen := out.caps[code]; seen {
				flag.Requested = prev.Requested.Add(flag.Requested)
				flag.Applied = prev.Applied.Add(flag.Applied)
				flag.Capped = prev.Capped || flag.Capped
			} else {
				capOrder = append(capOrder, code)
			}
			out.caps[code] = flag
		}
		applied[code] = applied[code].Add(amount)

		out.lines = append(out.lines, DeductionLine{Code: code, Category: cat, Amount: amount, Basis: basis})
	}

	for _, code := range capOrder {
		if flag := out.caps[code]; flag.Capped {
			out.warnings = append(out.warnings, capWarning(code, flag))
		}
	}
	for _, code := range dc.input.Exemptions {
		out.warnings = append(out.warnings, Warning{
			Code:    WarningExemption,
			Message: string(code) + " is exempt for this subject",
		})
	}
	return out, nil
}

// zeroFill appends a zero line for every applicable code the lines lack.
func zeroFill(lines []DeductionLine, p Profile, in PayPeriodInput) []DeductionLine {
	present := make(map[Code]bool, len(lines))
	for _, l := range lines {
		present[l.Code] = true
	}
	for _, code := range p.ApplicableCodes {
		if present[code] {
			continue
		}
		cat, _ := CategoryOf(code)
		basis := BasisZero
		if in.exempt(code) {
			basis = BasisExempt
		}
		lines = append(lines, DeductionLine{Code: code, Category: cat, Amount: decimal.Zero, Basis: basis})
	}
	return lines
}

// AggregateDeductions totals the lines and groups them by category.
func AggregateDeductions(lines []DeductionLine) (decimal.Decimal, map[Category]decimal.Decimal) {
	total := decimal.Zero
	breakdown := make(map[Category]decimal.Decimal)
	for _, l := range lines {
		total = total.Add(l.Amount)
		breakdown[l.Category] = breakdown[l.Category].Add(l.Amount)
	}
	for cat, v := range breakdown {
		breakdown[cat] = generic.Round2(v)
	}
	return generic.Round2(total), breakdown
}

func classify(field string, di DeductionInput, p Profile) (Code, Category, error) {
	code := Code(strings.ToLower(strings.TrimSpace(string(di.Code))))
	if code == "" {
		return "", "", invalid(field+".code", "is required")
	}

	cat, known := CategoryOf(code)
	switch {
	case known && di.Category != "" && di.Category != cat:
		return "", "", invalid(field+".category", "%s belongs to %s, not %s", code, cat, di.Category)
	case !known:
		cat = di.Category
		if !cat.valid() {
			return "", "", invalid(field+".category", "unknown code %q needs a valid category", code)
		}
		if cat.IsJurisdictional() || cat == CategoryRetirement {
			return "", "", invalid(field+".code", "unrecognized %s code %q", cat, code)
		}
	}

	if cat == CategoryRetirement {
		return "", "", invalid(field+".code", "retirement is set through retirement_election")
	}
	if cat.IsJurisdictional() && !p.Applies(code) {
		return "", "", invalid(field+".code", "%s does not apply in %s", code, p.Jurisdiction())
	}
	return code, cat, nil
}

func lineAmount(field string, di DeductionInput, cat Category, dc deductionContext) (decimal.Decimal, Basis, error) {
	switch {
	case di.Amount != nil && di.Percent != nil:
		return decimal.Zero, "", invalid(field, "set either amount or percent, not both")
	case di.Amount != nil:
		if di.Amount.IsNegative() {
			return decimal.Zero, "", invalid(field+".amount", "cannot be negative, got %s", di.Amount)
		}
		return generic.Round2(*di.Amount), BasisAmount, nil
	case di.Percent != nil:
		if !percentInRange(*di.Percent) {
			return decimal.Zero, "", invalid(field+".percent", "must be within [0, 100], got %s", di.Percent)
		}
		base := dc.effectiveGross
		if cat == CategoryTax {
			base = dc.taxBase()
		}
		return generic.Round2(base.Mul(*di.Percent).Div(decimal.NewFromInt(100))), BasisPercent, nil
	default:
		return decimal.Zero, "", invalid(field, "amount or percent is required")
	}
}

func validateExemptions(dc deductionContext) error {
	for i, code := range dc.input.Exemptions {
		cat, ok := CategoryOf(code)
		if !ok || cat != CategoryStatutory || !dc.profile.Applies(code) {
			return invalid(fmt.Sprintf("exemptions[%d]", i), "%q is not a statutory contribution in %s", code, dc.profile.Jurisdiction())
		}
	}
	return nil
}
