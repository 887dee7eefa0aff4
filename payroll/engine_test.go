package payroll_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

func profile(t *testing.T, region, subregion string) payroll.Profile {
	t.Helper()
	p, err := payroll.DefaultProfileTable().Lookup(payroll.Jurisdiction{Region: region, Subregion: subregion})
	require.NoError(t, err)
	return p
}

func input(region, subregion, hours, rate string) payroll.PayPeriodInput {
	return payroll.PayPeriodInput{
		SubjectID:    "emp-1",
		Jurisdiction: payroll.Jurisdiction{Region: region, Subregion: subregion},
		PayFrequency: payroll.FrequencyBiweekly,
		HoursWorked:  d(hours),
		HourlyRate:   d(rate),
		PeriodStart:  generic.NewTimePoint(2025, time.March, 1),
		PeriodEnd:    generic.NewTimePoint(2025, time.March, 14),
	}
}

func amount(code payroll.Code, v string) payroll.DeductionInput {
	return payroll.DeductionInput{Code: code, Amount: dp(v)}
}

func percent(code payroll.Code, v string) payroll.DeductionInput {
	return payroll.DeductionInput{Code: code, Percent: dp(v)}
}

func plan401k(limit string) *payroll.RetirementPlan {
	return &payroll.RetirementPlan{
		ID:                  "401k",
		Name:                "Traditional 401(k)",
		Type:                payroll.Plan401kTraditional,
		EnableYTDCaps:       true,
		AnnualEmployeeLimit: d(limit),
	}
}

func ytd(code payroll.Code, v string) payroll.YTDTotals {
	return payroll.YTDTotals{SubjectID: "emp-1", Year: 2025, ByCode: map[payroll.Code]decimal.Decimal{code: d(v)}}
}

// =============================================================================
// GROSS PAY
// =============================================================================

func TestGross_OvertimeSplitAtThreshold(t *testing.T) {
	// GIVEN: A 40 hour jurisdiction, 45 hours at $20
	in := input("ca", "MB", "45", "20")

	// WHEN: Calculating
	p, err := payroll.Calculate(in, profile(t, "ca", "MB"), nil, payroll.YTDTotals{})

	// THEN: 40 regular hours, 5 overtime hours at time and a half
	require.NoError(t, err)
	assertDec(t, "40", p.RegularHours)
	assertDec(t, "5", p.OvertimeHours)
	assertDec(t, "800", p.RegularPay)
	assertDec(t, "150", p.OvertimePay)
	assertDec(t, "950", p.GrossPay)
}

func TestGross_NoOvertimeBelowThreshold(t *testing.T) {
	for _, hours := range []string{"0", "12.5", "38", "44"} {
		t.Run(hours, func(t *testing.T) {
			p, err := payroll.Calculate(input("ca", "ON", hours, "25"), profile(t, "ca", "ON"), nil, payroll.YTDTotals{})
			require.NoError(t, err)
			assert.True(t, p.OvertimeHours.IsZero())
			assert.True(t, p.OvertimePay.IsZero())
			assertDec(t, hours, p.RegularHours)
		})
	}
}

func TestGross_ThresholdDependsOnProvince(t *testing.T) {
	// GIVEN: 42 hours worked in Québec (40h week) and Ontario (44h week)
	qc, err := payroll.Calculate(input("ca", "QC", "42", "20"), profile(t, "ca", "QC"), nil, payroll.YTDTotals{})
	require.NoError(t, err)
	on, err := payroll.Calculate(input("ca", "ON", "42", "20"), profile(t, "ca", "ON"), nil, payroll.YTDTotals{})
	require.NoError(t, err)

	// THEN: Only Québec pays overtime
	assertDec(t, "2", qc.OvertimeHours)
	assertDec(t, "60", qc.OvertimePay)
	assert.True(t, on.OvertimeHours.IsZero())
}

func TestGross_FractionalHoursKeepPrecision(t *testing.T) {
	p, err := payroll.Calculate(input("us", "NY", "41.333", "18"), profile(t, "us", "NY"), nil, payroll.YTDTotals{})
	require.NoError(t, err)

	assertDec(t, "1.333", p.OvertimeHours)
	// 1.333 * 18 * 1.5 = 35.991
	assertDec(t, "35.99", p.OvertimePay)
	assertDec(t, "755.99", p.GrossPay)
}

// =============================================================================
// VACATION PAY
// =============================================================================

func TestVacation_DefaultPercentNotInGross(t *testing.T) {
	// GIVEN: $950 gross in a jurisdiction with 4% vacation kept out of gross
	p, err := payroll.Calculate(input("ca", "MB", "45", "20"), profile(t, "ca", "MB"), nil, payroll.YTDTotals{})
	require.NoError(t, err)

	// THEN: Vacation is $38.00 and effective gross excludes it
	assertDec(t, "4", p.VacationPercent)
	assertDec(t, "38.00", p.VacationPay)
	assert.False(t, p.VacationIncludedInGross)
	assertDec(t, "950", p.EffectiveGross)
}

func TestVacation_RoundsToCents(t *testing.T) {
	// 333.33 * 4% = 13.3332
	p, err := payroll.Calculate(input("ca", "ON", "10", "33.333"), profile(t, "ca", "ON"), nil, payroll.YTDTotals{})
	require.NoError(t, err)
	assertDec(t, "333.33", p.GrossPay)
	assertDec(t, "13.33", p.VacationPay)
}

func TestVacation_OverrideIncludedInGross(t *testing.T) {
	// GIVEN: A US subject with a 4% override folded into gross
	in := input("us", "TX", "40", "25")
	in.VacationPercent = dp("4")
	included := true
	in.VacationIncludedInGross = &included

	p, err := payroll.Calculate(in, profile(t, "us", "TX"), nil, payroll.YTDTotals{})
	require.NoError(t, err)

	assertDec(t, "40", p.VacationPay)
	assertDec(t, "1040", p.EffectiveGross)
	assertDec(t, "1040", p.NetPay)
}

func TestVacation_HighPercentWarns(t *testing.T) {
	in := input("ca", "ON", "40", "20")
	in.VacationPercent = dp("12")

	p, err := payroll.Calculate(in, profile(t, "ca", "ON"), nil, payroll.YTDTotals{})
	require.NoError(t, err)
	assert.True(t, p.HasWarning(payroll.WarningVacationPercentHigh))
	assertDec(t, "96", p.VacationPay)
}

// =============================================================================
// RETIREMENT CAPS
// =============================================================================

func TestRetirement_CappedAtRemainingHeadroom(t *testing.T) {
	// GIVEN: 6% of $2000 with $22,900 of a $23,000 limit already used
	in := input("us", "CA", "40", "50")
	in.RetirementElection = &payroll.Election{Mode: payroll.ElectionPercent, Value: d("6")}

	// WHEN: Calculating
	p, err := payroll.Calculate(in, profile(t, "us", "CA"), plan401k("23000"), ytd(payroll.CodeRetirement, "22900"))
	require.NoError(t, err)

	// THEN: Only the $100 of headroom is applied
	flag := p.CappedContributions[payroll.CodeRetirement]
	assertDec(t, "120", flag.Requested)
	assertDec(t, "100", flag.Applied)
	assertDec(t, "0", flag.RemainingAfter)
	assert.True(t, flag.Capped)
	assertDec(t, "100", p.Deduction(payroll.CodeRetirement))
	assert.True(t, p.HasWarning(payroll.WarningCapExceeded))
	assert.True(t, p.Flags().CapExceeded)
}

func TestRetirement_CapsDisabledIgnoreYTD(t *testing.T) {
	plan := plan401k("23000")
	plan.EnableYTDCaps = false
	in := input("us", "CA", "40", "50")
	in.RetirementElection = &payroll.Election{Mode: payroll.ElectionPercent, Value: d("6")}

	p, err := payroll.Calculate(in, profile(t, "us", "CA"), plan, ytd(payroll.CodeRetirement, "50000"))
	require.NoError(t, err)

	assertDec(t, "120", p.Deduction(payroll.CodeRetirement))
	assert.False(t, p.HasWarning(payroll.WarningCapExceeded))
}

func TestRetirement_CapIsMonotonicInYTD(t *testing.T) {
	// GIVEN: The same request evaluated against growing YTD
	in := input("us", "CA", "40", "50")
	in.RetirementElection = &payroll.Election{Mode: payroll.ElectionFlat, Value: d("400")}
	plan := plan401k("23000")

	prev := d("400")
	for _, used := range []string{"0", "22000", "22700", "22800", "22999.99", "23000", "24000"} {
		p, err := payroll.Calculate(in, profile(t, "us", "CA"), plan, ytd(payroll.CodeRetirement, used))
		require.NoError(t, err)

		applied := p.Deduction(payroll.CodeRetirement)
		// THEN: Applied never grows and never pushes past the limit
		assert.True(t, applied.LessThanOrEqual(prev), "ytd %s: applied %s > %s", used, applied, prev)
		assert.True(t, d(used).Add(applied).LessThanOrEqual(d("23000")) || applied.IsZero(), "ytd %s", used)
		prev = applied
	}
}

func TestRetirement_PlanDefaultElectionAndMatch(t *testing.T) {
	// GIVEN: A plan with a 5% default election and a 50% employer match
	plan := plan401k("23000")
	plan.DefaultElection = payroll.Election{Mode: payroll.ElectionPercent, Value: d("5")}
	plan.EmployerMatchPercent = d("50")
	in := input("us", "CA", "40", "50")
	in.PlanID = plan.ID

	p, err := payroll.Calculate(in, profile(t, "us", "CA"), plan, payroll.YTDTotals{})
	require.NoError(t, err)

	// THEN: $100 is withheld and $50 matched, which never touches net pay
	assertDec(t, "100", p.Deduction(payroll.CodeRetirement))
	assertDec(t, "50", p.EmployerContributions[payroll.CodeRetirement])
	assertDec(t, "1900", p.NetPay)
}

func TestRetirement_PercentAppliesToPreVacationGross(t *testing.T) {
	in := input("ca", "ON", "40", "25")
	in.VacationPercent = dp("10")
	included := true
	in.VacationIncludedInGross = &included
	in.RetirementElection = &payroll.Election{Mode: payroll.ElectionPercent, Value: d("10")}

	p, err := payroll.Calculate(in, profile(t, "ca", "ON"), nil, payroll.YTDTotals{})
	require.NoError(t, err)
	assertDec(t, "100", p.Deduction(payroll.CodeRetirement))
	assertDec(t, "1100", p.EffectiveGross)
}

// =============================================================================
// DEDUCTIONS AND NET PAY
// =============================================================================

func TestNet_ReconcilesAgainstDeductions(t *testing.T) {
	// GIVEN: $950 effective gross and $300 of deductions across categories
	in := input("ca", "MB", "45", "20")
	in.DeductionInputs = []payroll.DeductionInput{
		amount(payroll.CodeFederalTax, "150"),
		amount(payroll.CodeProvincialTax, "50"),
		amount(payroll.CodeCPP, "60"),
		amount(payroll.CodeEI, "40"),
	}

	// WHEN: Calculating
	p, err := payroll.Calculate(in, profile(t, "ca", "MB"), nil, payroll.YTDTotals{})
	require.NoError(t, err)

	// THEN: Net is 950 - 300
	assertDec(t, "300", p.TotalDeductions)
	assertDec(t, "650.00", p.NetPay)
	assertDec(t, "200", p.DeductionBreakdown[payroll.CategoryTax])
	assertDec(t, "100", p.DeductionBreakdown[payroll.CategoryStatutory])
	assert.NoError(t, payroll.CheckReconciliation(p))
}

func TestNet_NegativeIsReportedNotClamped(t *testing.T) {
	in := input("ca", "MB", "45", "20")
	in.DeductionInputs = []payroll.DeductionInput{amount(payroll.CodeGarnishment, "1200")}

	p, err := payroll.Calculate(in, profile(t, "ca", "MB"), nil, payroll.YTDTotals{})
	require.NoError(t, err)

	assertDec(t, "-250", p.NetPay)
	assert.True(t, p.HasWarning(payroll.WarningNegativeNet))
	assert.True(t, p.Flags().NegativeNet)
	assert.NoError(t, payroll.CheckReconciliation(p))
}

func TestNet_AdditionsAndReimbursements(t *testing.T) {
	// GIVEN: A taxable bonus, non-taxable tips and a mileage reimbursement
	in := input("us", "WA", "40", "20")
	in.AdditionalEarnings = []payroll.Earning{
		{Name: "bonus", Amount: d("250"), Taxable: true},
		{Name: "cash tips", Amount: d("30"), Taxable: false},
	}
	in.Reimbursements = []payroll.Reimbursement{{Name: "mileage", Amount: d("42.50")}}
	in.DeductionInputs = []payroll.DeductionInput{percent(payroll.CodeFICA, "6.2")}

	p, err := payroll.Calculate(in, profile(t, "us", "WA"), nil, payroll.YTDTotals{})
	require.NoError(t, err)

	// THEN: The bonus is taxed; tips and mileage pass straight through
	assertDec(t, "250", p.TaxableAdditions)
	assertDec(t, "1050", p.EffectiveGross)
	assertDec(t, "65.10", p.Deduction(payroll.CodeFICA))
	assertDec(t, "72.50", p.NonTaxableReimbursements)
	assertDec(t, "1057.40", p.NetPay)
}

func TestDeductions_TaxPercentUsesBasicPersonalAmount(t *testing.T) {
	// GIVEN: $1200 biweekly in Ontario; BPA per period is 15000/26
	in := input("ca", "ON", "40", "30")
	in.DeductionInputs = []payroll.DeductionInput{percent(payroll.CodeFederalTax, "15")}

	p, err := payroll.Calculate(in, profile(t, "ca", "ON"), nil, payroll.YTDTotals{})
	require.NoError(t, err)

	// THEN: 15% of (1200 - 576.923...) = 93.46
	assertDec(t, "93.46", p.Deduction(payroll.CodeFederalTax))
}

func TestDeductions_ZeroFillApplicableCodes(t *testing.T) {
	p, err := payroll.Calculate(input("ca", "QC", "40", "30"), profile(t, "ca", "QC"), nil, payroll.YTDTotals{})
	require.NoError(t, err)

	codes := make([]payroll.Code, 0, len(p.Deductions))
	for _, l := range p.Deductions {
		codes = append(codes, l.Code)
		assert.Equal(t, payroll.BasisZero, l.Basis)
	}
	assert.ElementsMatch(t, []payroll.Code{
		payroll.CodeFederalTax, payroll.CodeProvincialTax, payroll.CodeQPP,
		payroll.CodeEI, payroll.CodeRQAP, payroll.CodeRetirement,
	}, codes)
	assert.True(t, p.HasWarning(payroll.WarningNoIncomeTax))
}

func TestDeductions_StatutoryExemption(t *testing.T) {
	in := input("ca", "QC", "40", "30")
	in.DeductionInputs = []payroll.DeductionInput{amount(payroll.CodeQPP, "70"), amount(payroll.CodeEI, "20")}
	in.Exemptions = []payroll.Code{payroll.CodeQPP}

	p, err := payroll.Calculate(in, profile(t, "ca", "QC"), nil, payroll.YTDTotals{})
	require.NoError(t, err)

	assert.True(t, p.Deduction(payroll.CodeQPP).IsZero())
	assertDec(t, "20", p.TotalDeductions)
	assert.True(t, p.HasWarning(payroll.WarningExemption))
}

func TestDeductions_StatutoryAnnualLimit(t *testing.T) {
	// GIVEN: A profile capping CPP at $4,034.10 a year
	prof := profile(t, "ca", "ON")
	prof.AnnualLimits = map[payroll.Code]decimal.Decimal{payroll.CodeCPP: d("4034.10")}
	in := input("ca", "ON", "40", "30")
	in.DeductionInputs = []payroll.DeductionInput{amount(payroll.CodeCPP, "70")}

	p, err := payroll.Calculate(in, prof, nil, ytd(payroll.CodeCPP, "4000"))
	require.NoError(t, err)

	// THEN: Only the remaining $34.10 is withheld
	assertDec(t, "34.10", p.Deduction(payroll.CodeCPP))
	assert.True(t, p.CappedContributions[payroll.CodeCPP].Capped)
	assert.True(t, p.HasWarning(payroll.WarningCapExceeded))
}

func TestDeductions_UnknownCodeWithCategory(t *testing.T) {
	in := input("ca", "ON", "40", "30")
	in.DeductionInputs = []payroll.DeductionInput{
		{Code: "parking", Category: payroll.CategoryMisc, Amount: dp("15")},
		amount(payroll.CodeUnionDues, "22.75"),
	}

	p, err := payroll.Calculate(in, profile(t, "ca", "ON"), nil, payroll.YTDTotals{})
	require.NoError(t, err)
	assertDec(t, "15", p.DeductionBreakdown[payroll.CategoryMisc])
	assertDec(t, "22.75", p.DeductionBreakdown[payroll.CategoryUnionDues])
	assertDec(t, "37.75", p.TotalDeductions)
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestCalculate_IsIdempotent(t *testing.T) {
	in := input("ca", "MB", "47.25", "23.10")
	in.DeductionInputs = []payroll.DeductionInput{percent(payroll.CodeFederalTax, "12.5"), amount(payroll.CodeEI, "17.33")}
	in.RetirementElection = &payroll.Election{Mode: payroll.ElectionPercent, Value: d("4")}

	first, err := payroll.Calculate(in, profile(t, "ca", "MB"), nil, payroll.YTDTotals{})
	require.NoError(t, err)
	second, err := payroll.Calculate(in, profile(t, "ca", "MB"), nil, payroll.YTDTotals{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCalculate_DoesNotMutateInput(t *testing.T) {
	in := input("ca", "ON", "40", "30")
	in.DeductionInputs = []payroll.DeductionInput{amount(payroll.CodeCPP, "70")}
	before := in.DeductionInputs[0]

	_, err := payroll.Calculate(in, profile(t, "ca", "ON"), nil, payroll.YTDTotals{})
	require.NoError(t, err)
	assert.Equal(t, before, in.DeductionInputs[0])
	assert.Len(t, in.DeductionInputs, 1)
}

func TestCalculate_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*payroll.PayPeriodInput)
		field  string
	}{
		{"negative hours", func(in *payroll.PayPeriodInput) { in.HoursWorked = d("-1") }, "hours_worked"},
		{"negative rate", func(in *payroll.PayPeriodInput) { in.HourlyRate = d("-0.01") }, "hourly_rate"},
		{"unknown frequency", func(in *payroll.PayPeriodInput) { in.PayFrequency = "fortnightly" }, "pay_frequency"},
		{"period backwards", func(in *payroll.PayPeriodInput) { in.PeriodEnd = generic.NewTimePoint(2025, time.February, 1) }, "period"},
		{"amount and percent", func(in *payroll.PayPeriodInput) {
			in.DeductionInputs = []payroll.DeductionInput{{Code: payroll.CodeCPP, Amount: dp("1"), Percent: dp("1")}}
		}, "deduction_inputs[0]"},
		{"negative deduction", func(in *payroll.PayPeriodInput) {
			in.DeductionInputs = []payroll.DeductionInput{amount(payroll.CodeCPP, "-5")}
		}, "deduction_inputs[0].amount"},
		{"code not levied here", func(in *payroll.PayPeriodInput) {
			in.DeductionInputs = []payroll.DeductionInput{amount(payroll.CodeStateTax, "5")}
		}, "deduction_inputs[0].code"},
		{"retirement as deduction", func(in *payroll.PayPeriodInput) {
			in.DeductionInputs = []payroll.DeductionInput{amount(payroll.CodeRetirement, "5")}
		}, "deduction_inputs[0].code"},
		{"vacation over 100", func(in *payroll.PayPeriodInput) { in.VacationPercent = dp("101") }, "vacation_percent"},
		{"exempt from tax", func(in *payroll.PayPeriodInput) { in.Exemptions = []payroll.Code{payroll.CodeFederalTax} }, "exemptions[0]"},
		{"bad election", func(in *payroll.PayPeriodInput) {
			in.RetirementElection = &payroll.Election{Mode: "double"}
		}, "retirement_election.mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := input("ca", "ON", "40", "30")
			tt.mutate(&in)

			_, err := payroll.Calculate(in, profile(t, "ca", "ON"), nil, payroll.YTDTotals{})

			require.ErrorIs(t, err, payroll.ErrInvalidInput)
			var iie *payroll.InvalidInputError
			require.True(t, errors.As(err, &iie))
			assert.Equal(t, tt.field, iie.Field)
		})
	}
}

func TestEngine_UnknownJurisdictionFailsClosed(t *testing.T) {
	engine := payroll.NewEngine(payroll.DefaultProfileTable())

	_, err := engine.Calculate(input("mx", "JAL", "40", "20"), nil, payroll.YTDTotals{})
	assert.True(t, payroll.IsInvalidInput(err))

	_, err = engine.Calculate(input("ca", "", "40", "20"), nil, payroll.YTDTotals{})
	assert.True(t, payroll.IsInvalidInput(err))
}

func TestEngine_JurisdictionIsCaseInsensitive(t *testing.T) {
	engine := payroll.NewEngine(payroll.DefaultProfileTable())

	p, err := engine.Calculate(input("CA", "qc", "40", "20"), nil, payroll.YTDTotals{})
	require.NoError(t, err)
	assert.Equal(t, payroll.Jurisdiction{Region: "ca", Subregion: "QC"}, p.Jurisdiction)
}

func TestCheckReconciliation_DetectsTampering(t *testing.T) {
	p, err := payroll.Calculate(input("ca", "MB", "45", "20"), profile(t, "ca", "MB"), nil, payroll.YTDTotals{})
	require.NoError(t, err)

	p.NetPay = p.NetPay.Add(d("0.01"))

	err = payroll.CheckReconciliation(p)
	require.ErrorIs(t, err, payroll.ErrReconciliationViolation)
	var rv *payroll.ReconciliationViolationError
	require.True(t, errors.As(err, &rv))
	assertDec(t, "950", rv.Expected)
}
