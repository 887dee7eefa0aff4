/*
Package payroll turns pay-period inputs into reconciled payslips.

PURPOSE:
  Everything here is pure arithmetic over decimal values except the
  YTDAccumulator and Service, which read and post to the ledger. The same
  Calculate function backs the instant local preview and the authoritative
  service, so the two can never drift apart.

PIPELINE:
  PayPeriodInput
    -> GrossPayCalculator      (regular/overtime split)
    -> VacationPayCalculator   (vacation pay, include-in-gross flag)
    -> ContributionCapper      (retirement election vs annual limit)
    -> DeductionAggregator     (line items, zero-fill, breakdown)
    -> NetPayReconciler        (effective gross, net pay, invariant check)
    -> Payslip

SEE ALSO:
  - jurisdiction.go: Per-region constants
  - engine.go: The Calculate pipeline
  - ytd.go: Ledger-backed year-to-date totals
*/
package payroll

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// Domain is the resource domain payroll codes register under.
const Domain = "payroll"

// =============================================================================
// CODES - Deduction and earning accounts
// =============================================================================

// Code names a deduction line or ledger account.
type Code string

func (c Code) ResourceID() string     { return string(c) }
func (c Code) ResourceDomain() string { return Domain }

const (
	CodeFederalTax    Code = "federal_tax"
	CodeProvincialTax Code = "provincial_tax"
	CodeStateTax      Code = "state_tax"
	CodeCPP           Code = "cpp"
	CodeQPP           Code = "qpp"
	CodeEI            Code = "ei"
	CodeRQAP          Code = "rqap"
	CodeFICA          Code = "fica"
	CodeMedicare      Code = "medicare"
	CodeRetirement    Code = "retirement"

	CodeMedicalInsurance Code = "medical_insurance"
	CodeDentalInsurance  Code = "dental_insurance"
	CodeLifeInsurance    Code = "life_insurance"
	CodeUnionDues        Code = "union_dues"
	CodeGarnishment      Code = "garnishment"
	CodeMisc             Code = "deduction"
)

// Earning and reporting accounts. These never appear as deduction lines.
const (
	AccountGross            Code = "gross_pay"
	AccountVacation         Code = "vacation_pay"
	AccountTaxableAdditions Code = "taxable_additions"
	AccountReimbursements   Code = "reimbursements"
	AccountNet              Code = "net_pay"
	AccountEmployerMatch    Code = "employer_match"
	AccountPeriodClose      Code = "period_close"
)

// Category groups deduction lines for the breakdown.
type Category string

const (
	CategoryTax         Category = "tax"
	CategoryStatutory   Category = "statutory"
	CategoryBenefit     Category = "benefit"
	CategoryRetirement  Category = "retirement"
	CategoryGarnishment Category = "garnishment"
	CategoryUnionDues   Category = "union_dues"
	CategoryMisc        Category = "misc"
)

var codeCategories = map[Code]Category{
	CodeFederalTax:       CategoryTax,
	CodeProvincialTax:    CategoryTax,
	CodeStateTax:         CategoryTax,
	CodeCPP:              CategoryStatutory,
	CodeQPP:              CategoryStatutory,
	CodeEI:               CategoryStatutory,
	CodeRQAP:             CategoryStatutory,
	CodeFICA:             CategoryStatutory,
	CodeMedicare:         CategoryStatutory,
	CodeRetirement:       CategoryRetirement,
	CodeMedicalInsurance: CategoryBenefit,
	CodeDentalInsurance:  CategoryBenefit,
	CodeLifeInsurance:    CategoryBenefit,
	CodeUnionDues:        CategoryUnionDues,
	CodeGarnishment:      CategoryGarnishment,
	CodeMisc:             CategoryMisc,
}

// CategoryOf returns the category of a known code.
func CategoryOf(c Code) (Category, bool) {
	cat, ok := codeCategories[c]
	return cat, ok
}

// IsJurisdictional reports whether a category only exists where the
// jurisdiction says so. Tax and statutory lines must be applicable to the
// profile; everything else applies everywhere.
func (c Category) IsJurisdictional() bool {
	return c == CategoryTax || c == CategoryStatutory
}

func (c Category) valid() bool {
	switch c {
	case CategoryTax, CategoryStatutory, CategoryBenefit, CategoryRetirement,
		CategoryGarnishment, CategoryUnionDues, CategoryMisc:
		return true
	}
	return false
}

// AllCodes returns every code that has a ledger account.
func AllCodes() []Code {
	codes := make([]Code, 0, len(codeCategories)+6)
	for c := range codeCategories {
		codes = append(codes, c)
	}
	return append(codes,
		AccountGross, AccountVacation, AccountTaxableAdditions,
		AccountReimbursements, AccountNet, AccountEmployerMatch,
	)
}

func init() {
	for _, c := range AllCodes() {
		generic.RegisterResource(c)
	}
	generic.RegisterResource(AccountPeriodClose)
}

// =============================================================================
// INPUT
// =============================================================================

// Jurisdiction identifies a region (country) and subregion (province/state).
type Jurisdiction struct {
	Region    string `json:"region"`
	Subregion string `json:"subregion"`
}

func (j Jurisdiction) normalized() Jurisdiction {
	return Jurisdiction{
		Region:    strings.ToLower(strings.TrimSpace(j.Region)),
		Subregion: strings.ToUpper(strings.TrimSpace(j.Subregion)),
	}
}

func (j Jurisdiction) String() string {
	n := j.normalized()
	return n.Region + "/" + n.Subregion
}

// PayFrequency is how often the subject is paid.
type PayFrequency string

const (
	FrequencyWeekly      PayFrequency = "weekly"
	FrequencyBiweekly    PayFrequency = "biweekly"
	FrequencySemiMonthly PayFrequency = "semimonthly"
	FrequencyMonthly     PayFrequency = "monthly"
)

// PeriodsPerYear returns the number of pay periods in a year, or 0 if unknown.
func (f PayFrequency) PeriodsPerYear() int {
	switch f {
	case FrequencyWeekly:
		return 52
	case FrequencyBiweekly:
		return 26
	case FrequencySemiMonthly:
		return 24
	case FrequencyMonthly:
		return 12
	}
	return 0
}

// Earning is a named addition to pay. Taxable earnings join effective gross.
type Earning struct {
	Name    string          `json:"name"`
	Amount  decimal.Decimal `json:"amount"`
	Taxable bool            `json:"taxable"`
}

// Reimbursement is a non-taxable amount paid back to the subject.
type Reimbursement struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// DeductionInput is one requested deduction, either a fixed amount or a
// percent of the taxable base. Exactly one of Amount and Percent is set.
type DeductionInput struct {
	Code     Code             `json:"code"`
	Category Category         `json:"category,omitempty"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	Percent  *decimal.Decimal `json:"percent,omitempty"`
}

// ElectionMode selects how a retirement contribution is expressed.
type ElectionMode string

const (
	ElectionPercent ElectionMode = "percent"
	ElectionFlat    ElectionMode = "flat"
	ElectionNone    ElectionMode = "none"
)

// Election is an employee's retirement contribution choice.
type Election struct {
	Mode  ElectionMode    `json:"mode"`
	Value decimal.Decimal `json:"value"`
}

// PayPeriodInput is everything one calculation needs besides reference data.
// Optional overrides are pointers: nil means use the profile or plan default.
type PayPeriodInput struct {
	SubjectID    string       `json:"subject_id"`
	PlanID       string       `json:"plan_id,omitempty"`
	Jurisdiction Jurisdiction `json:"jurisdiction"`
	PayFrequency PayFrequency `json:"pay_frequency"`

	HoursWorked decimal.Decimal `json:"hours_worked"`
	HourlyRate  decimal.Decimal `json:"hourly_rate"`

	AdditionalEarnings []Earning        `json:"additional_earnings,omitempty"`
	DeductionInputs    []DeductionInput `json:"deduction_inputs,omitempty"`
	RetirementElection *Election        `json:"retirement_election,omitempty"`
	Reimbursements     []Reimbursement  `json:"non_taxable_reimbursements,omitempty"`
	Exemptions         []Code           `json:"exemptions,omitempty"`

	VacationPercent         *decimal.Decimal `json:"vacation_percent,omitempty"`
	VacationIncludedInGross *bool            `json:"vacation_included_in_gross,omitempty"`

	PeriodStart generic.TimePoint `json:"period_start"`
	PeriodEnd   generic.TimePoint `json:"period_end"`
}

// Period returns the pay period as a generic.Period.
func (in PayPeriodInput) Period() generic.Period {
	return generic.Period{Start: in.PeriodStart, End: in.PeriodEnd}
}

func (in PayPeriodInput) exempt(c Code) bool {
	for _, e := range in.Exemptions {
		if e == c {
			return true
		}
	}
	return false
}

// =============================================================================
// OUTPUT
// =============================================================================

// Basis records how a deduction line amount was obtained.
type Basis string

const (
	BasisAmount  Basis = "amount"
	BasisPercent Basis = "percent"
	BasisCapped  Basis = "capped"
	BasisZero    Basis = "zero_filled"
	BasisExempt  Basis = "exempt"
)

// DeductionLine is one emitted deduction.
type DeductionLine struct {
	Code     Code            `json:"code"`
	Category Category        `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	Basis    Basis           `json:"basis"`
}

// CapFlag discloses how an annual limit affected a contribution.
type CapFlag struct {
	Requested      decimal.Decimal `json:"requested"`
	Applied        decimal.Decimal `json:"applied"`
	RemainingAfter decimal.Decimal `json:"remaining_after"`
	Capped         bool            `json:"capped"`
}

// Warning is a non-fatal note attached to a payslip.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	WarningCapExceeded         = "cap_exceeded"
	WarningNegativeNet         = "negative_net"
	WarningVacationPercentHigh = "vacation_percent_high"
	WarningExemption           = "statutory_exemption"
	WarningNoIncomeTax         = "no_income_tax_withheld"
	WarningFiguresUnconfirmed  = "figures_unconfirmed"
)

// Payslip is the output of one calculation. A new value is produced every
// time; nothing mutates a payslip after Calculate returns it.
type Payslip struct {
	ID           string            `json:"id,omitempty"`
	SubjectID    string            `json:"subject_id"`
	PlanID       string            `json:"plan_id,omitempty"`
	Jurisdiction Jurisdiction      `json:"jurisdiction"`
	PayFrequency PayFrequency      `json:"pay_frequency"`
	PeriodStart  generic.TimePoint `json:"period_start"`
	PeriodEnd    generic.TimePoint `json:"period_end"`

	RegularHours  decimal.Decimal `json:"regular_hours"`
	OvertimeHours decimal.Decimal `json:"overtime_hours"`
	RegularPay    decimal.Decimal `json:"regular_pay"`
	OvertimePay   decimal.Decimal `json:"overtime_pay"`
	GrossPay      decimal.Decimal `json:"gross_pay"`

	VacationPercent         decimal.Decimal `json:"vacation_percent"`
	VacationPay             decimal.Decimal `json:"vacation_pay"`
	VacationIncludedInGross bool            `json:"vacation_included_in_gross"`

	TaxableAdditions decimal.Decimal `json:"taxable_additions"`
	EffectiveGross   decimal.Decimal `json:"effective_gross"`

	Deductions         []DeductionLine              `json:"deductions"`
	DeductionBreakdown map[Category]decimal.Decimal `json:"deduction_breakdown"`
	TotalDeductions    decimal.Decimal              `json:"total_deductions"`

	NonTaxableReimbursements decimal.Decimal `json:"non_taxable_reimbursements"`
	NetPay                   decimal.Decimal `json:"net_pay"`

	CappedContributions   map[Code]CapFlag        `json:"capped_contributions"`
	EmployerContributions map[Code]decimal.Decimal `json:"employer_contributions"`
	Warnings              []Warning                `json:"warnings,omitempty"`

	FinalizedAt string `json:"finalized_at,omitempty"`
}

// Period returns the pay period of the payslip.
func (p Payslip) Period() generic.Period {
	return generic.Period{Start: p.PeriodStart, End: p.PeriodEnd}
}

// Deduction returns the total of all lines with code c.
func (p Payslip) Deduction(c Code) decimal.Decimal {
	total := decimal.Zero
	for _, l := range p.Deductions {
		if l.Code == c {
			total = total.Add(l.Amount)
		}
	}
	return total
}

// HasWarning reports whether a warning with code is present.
func (p Payslip) HasWarning(code string) bool {
	for _, w := range p.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// Flags is the cap and warning metadata sent alongside an authoritative payslip.
type Flags struct {
	CapExceeded         bool             `json:"cap_exceeded"`
	NegativeNet         bool             `json:"negative_net"`
	CappedContributions map[Code]CapFlag `json:"capped_contributions,omitempty"`
	Warnings            []string         `json:"warnings,omitempty"`
}

// Flags summarizes the payslip for UI disclosure.
func (p Payslip) Flags() Flags {
	f := Flags{
		NegativeNet:         p.NetPay.IsNegative(),
		CappedContributions: p.CappedContributions,
	}
	for _, c := range p.CappedContributions {
		if c.Capped {
			f.CapExceeded = true
		}
	}
	for _, w := range p.Warnings {
		f.Warnings = append(f.Warnings, w.Code)
	}
	return f
}
