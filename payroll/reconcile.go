package payroll

import (
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// NET PAY RECONCILER
// =============================================================================

// NetInputs are the emitted (already rounded) components of net pay.
type NetInputs struct {
	GrossPay                decimal.Decimal
	VacationPay             decimal.Decimal
	VacationIncludedInGross bool
	TaxableAdditions        decimal.Decimal
	Reimbursements          decimal.Decimal
	TotalDeductions         decimal.Decimal
}

// EffectiveGross is gross plus vacation when folded in plus taxable additions.
func (n NetInputs) EffectiveGross() decimal.Decimal {
	eg := n.GrossPay.Add(n.TaxableAdditions)
	if n.VacationIncludedInGross {
		eg = eg.Add(n.VacationPay)
	}
	return generic.Round2(eg)
}

// Net returns round2(effective gross - deductions + reimbursements). A
// negative result is returned as is.
func (n NetInputs) Net() decimal.Decimal {
	return generic.Round2(n.EffectiveGross().Sub(n.TotalDeductions).Add(n.Reimbursements))
}

// ReconcileNet returns effective gross, net pay, and a negative_net warning when applicable.
func ReconcileNet(n NetInputs) (effectiveGross, net decimal.Decimal, warnings []Warning) {
	effectiveGross = n.EffectiveGross()
	net = n.Net()
	if net.IsNegative() {
		warnings = append(warnings, Warning{
			Code:    WarningNegativeNet,
			Message: "deductions exceed effective gross; net pay is " + net.StringFixed(2),
		})
	}
	return effectiveGross, net, warnings
}

// CheckReconciliation recomputes the net pay equation from the emitted
// fields of p. It also checks that the deduction total matches its lines.
func CheckReconciliation(p Payslip) error {
	lineTotal, _ := AggregateDeductions(p.Deductions)
	if !lineTotal.Equal(p.TotalDeductions) {
		return &ReconciliationViolationError{Expected: lineTotal, Actual: p.TotalDeductions}
	}

	n := NetInputs{
		GrossPay:                p.GrossPay,
		VacationPay:             p.VacationPay,
		VacationIncludedInGross: p.VacationIncludedInGross,
		TaxableAdditions:        p.TaxableAdditions,
		Reimbursements:          p.NonTaxableReimbursements,
		TotalDeductions:         p.TotalDeductions,
	}
	if eg := n.EffectiveGross(); !eg.Equal(p.EffectiveGross) {
		return &ReconciliationViolationError{Expected: eg, Actual: p.EffectiveGross}
	}
	if expected := n.Net(); !expected.Equal(p.NetPay) {
		return &ReconciliationViolationError{Expected: expected, Actual: p.NetPay}
	}
	return nil
}
