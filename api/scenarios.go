/*
scenarios.go - Demo payroll scenarios

PURPOSE:

	Provides pre-built pay-period inputs that show one feature each: tips,
	overtime, union dues, vacation overrides, the Québec regime, annual
	retirement caps. Running a scenario goes through the same Service the
	calculate endpoint uses, so its payslip is authoritative.

AVAILABLE SCENARIOS:

	standard-period:        Ontario hourly week, default vacation
	tips:                   Taxable tips on top of hours
	overtime:               Hours over the state threshold
	shift-premium:          Night shift premium
	bonus-commission:       Bonus and commission in one period
	union-dues:             Union dues deduction
	garnishment:            Court-ordered garnishment
	reimbursement:          Non-taxable equipment reimbursement
	vacation-override:      Vacation percent and inclusion overridden
	statutory-exemption:    CPP and EI exemption
	travel-allowance:       Taxable allowance plus fuel reimbursement
	remote-us-texas:        No state income tax
	remote-canada-bc:       British Columbia employee
	quebec:                 QPP, EI and RQAP instead of CPP
	call-center-mixed:      Every kind of addition at once
	401k-default-cap:       Default election capped by the annual limit
	401k-election-override: Employee election replaces the plan default

HOW SCENARIOS WORK:
 1. Save the scenario's retirement plans
 2. Finalize its history periods (idempotent, so runs can repeat)
 3. Calculate the current period against the posted YTD

USAGE VIA API:

	POST /api/scenarios/401k-default-cap/run

ADDING NEW SCENARIOS:
 1. Add an entry to 'scenarios' with its DTO and input builder
 2. List any plans it needs in 'plans' and earlier periods in 'history'

SEE ALSO:
  - handlers.go: Shared helpers
  - payroll/plans.go: Plan JSON presets
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	plans   []string
	history func(h *Handler) []payroll.PayPeriodInput
	input   func(h *Handler) payroll.PayPeriodInput
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "standard-period",
			Name:        "Standard Period",
			Description: "Ontario hourly employee, 40 hours at $22 with the default 4% vacation",
			Category:    "earnings",
		},
		input: func(h *Handler) payroll.PayPeriodInput {
			return h.scenarioInput("standard-period", "ca", "ON", "40", "22")
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "tips",
			Name:        "Tips",
			Description: "Illinois server with $120 of taxable tips",
			Category:    "earnings",
		},
		input: func(h *Handler) payroll.PayPeriodInput {
			in := h.scenarioInput("tips", "us", "IL", "32", "20")
			in.AdditionalEarnings = []payroll.Earning{{Name: "Tips", Amount: dec("120"), Taxable: true}}
			return in
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "overtime",
			Name:        "Overtime",
			Description: "Ohio warehouse shift, 48 hours against the 40 hour threshold",
			Category:    "earnings",
		},
		input: func(h *Handler) payroll.PayPeriodInput {
			return h.scenarioInput("overtime", "us", "OH", "48", "18")
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "shift-premium",
			Name:        "Shift Premium",
			Description: "Texas night shift with a $20 premium",
			Category:    "earnings",
		},
		input: func(h *Handler) payroll.PayPeriodInput {
			in := h.scenarioInput("shift-premium", "us", "TX", "40", "19")
			in.AdditionalEarnings = []payroll.Earning{{Name: "Night shift premium", Amount: dec("20"), Taxable: true}}
			return in
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "bonus-commission",
			Name:        "Bonus and Commission",
			Description: "Sales rep paid a $300 bonus and $200 commission",
			Category:    "earnings",
		},
		input: func(h *Handler) payroll.PayPeriodInput {
			in := h.scenarioInput("bonus-commission", "us", "TX", "40", "21")
			in.AdditionalEarnings = []payroll.Earning{
				{Name: "Bonus", Amount: dec("300"), Taxable: true},
				{Name: "Commission", Amount: dec("200"), Taxable: true},
			}
			return in
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "union-dues",
			Name:        "Union Dues",
			Description: "Ontario member paying $45 of union dues",
			Category:    "deductions",
		},
		input: func(h *Handler) payroll.PayPeriodInput {
			in := h.scenarioInput("union-dues", "ca", "ON", "40", "28")
			in.DeductionInputs = append(in.DeductionInputs, amountInput(payroll.CodeUnionDues, "45"))
			return in
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "garnishment",
			Name:        "Garnishment",
			Description: "Florida employee with a $75 wage garnishment",
			Category:    "deductions",
		},
		input: func(h *Handler) payroll.PayPeriodInput {
			in := h.scenarioInput("garnishment", "us", "FL", "40", "17")
			in.DeductionInputs = append(in.DeductionInputs, amountInput(payroll.CodeGarnishment, "75"))
			return in
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "reimbursement",
			Name:        "Reimbursement",
			Description: "Alberta remote worker reimbursed $60 for a headset",
			Category:    "reimbursements",
		},
		input: func(h *Handler) payroll.PayPeriodInput {
			in := h.scenarioInput("reimbursement", "ca", "AB", "40", "24")
			in.Reimbursements = []payroll.Reimbursement{{Name: "Headset", Amount: dec("60")}}
			return in
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "vacation-override",
			Name:        "Vacation Override",
			Description: "British Columbia employee with 6% vacation paid into gross",
			Category:    "vacation",
		},
		input: func(h *Handler) payroll.PayPeriodInput {
			in := h.scenarioInput("vacation-override", "ca", "BC", "40", "26")
			pct := dec("6")
			included := true
			in.VacationPercent = &pct
			in.VacationIncludedInGross = &included
			return in
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "statutory-exemption",
			Name:        "Statutory Exemption",
			Description: "Ontario employee exempt from CPP and EI",
			Category:    "deductions",
		},
		input: func(h *Handler) payroll.PayPeriodInput {
			in := h.scenarioInput("statutory-exemption", "ca", "ON", "40", "30")
			in.Exemptions = []payroll.Code{payroll.CodeCPP, payroll.CodeEI}
			return in
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "travel-allowance",
			Name:        "Travel Allowance",
			Description: "Nevada field tech with a $100 taxable allowance and $65 fuel reimbursement",
			Category:    "reimbursements",
		},
		input: func(h *Handler) payroll.PayPeriodInput {
			in := h.scenarioInput("travel-allowance", "us", "NV", "40", "23")
			in.AdditionalEarnings = []payroll.Earning{{Name: "Travel allowance", Amount: dec("100"), Taxable: true}}
			in.Reimbursements = []payroll.Reimbursement{{Name: "Fuel", Amount: dec("65")}}
			return in
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "remote-us-texas",
			Name:        "Remote (Texas)",
			Description: "Texas has no state income tax, so only federal, FICA and Medicare apply",
			Category:    "jurisdictions",
		},
		input: func(h *Handler) payroll.PayPeriodInput {
			return h.scenarioInput("remote-us-texas", "us", "TX", "40", "35")
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "remote-canada-bc",
			Name:        "Remote (British Columbia)",
			Description: "British Columbia employee on the 44 hour threshold",
			Category:    "jurisdictions",
		},
		input: func(h *Handler) payroll.PayPeriodInput {
			return h.scenarioInput("remote-canada-bc", "ca", "BC", "44", "32")
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "quebec",
			Name:        "Québec",
			Description: "Québec regime: QPP and RQAP replace CPP, 40 hour threshold",
			Category:    "jurisdictions",
		},
		input: func(h *Handler) payroll.PayPeriodInput {
			return h.scenarioInput("quebec", "ca", "QC", "42", "25")
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "call-center-mixed",
			Name:        "Call Center (Mixed)",
			Description: "Texas agent with bonus, tips, shift premium and union dues",
			Category:    "earnings",
		},
		input: func(h *Handler) payroll.PayPeriodInput {
			in := h.scenarioInput("call-center-mixed", "us", "TX", "38", "17")
			in.AdditionalEarnings = []payroll.Earning{
				{Name: "Bonus", Amount: dec("200"), Taxable: true},
				{Name: "Tips", Amount: dec("80"), Taxable: true},
				{Name: "Shift premium", Amount: dec("12"), Taxable: true},
			}
			in.DeductionInputs = append(in.DeductionInputs, amountInput(payroll.CodeUnionDues, "35"))
			return in
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "401k-default-cap",
			Name:        "401(k) Default Election Capped",
			Description: "5% default election limited by the $200 left of a $500 annual limit",
			Category:    "retirement",
		},
		plans: []string{payroll.Traditional401kJSON("401k-demo-cap", "Demo 401(k) ($500 limit)", "500", "50", "5")},
		history: func(h *Handler) []payroll.PayPeriodInput {
			in := h.scenarioInput("401k-default-cap", "us", "TX", "40", "150")
			in.PlanID = "401k-demo-cap"
			in.RetirementElection = &payroll.Election{Mode: payroll.ElectionFlat, Value: dec("300")}
			in.PeriodStart = generic.NewTimePoint(2025, time.January, 6)
			in.PeriodEnd = generic.NewTimePoint(2025, time.January, 12)
			return []payroll.PayPeriodInput{in}
		},
		input: func(h *Handler) payroll.PayPeriodInput {
			in := h.scenarioInput("401k-default-cap", "us", "TX", "40", "150")
			in.PlanID = "401k-demo-cap"
			return in
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "401k-election-override",
			Name:        "401(k) Election Override",
			Description: "6% employee election replaces the plan's 5% default",
			Category:    "retirement",
		},
		plans: []string{payroll.Traditional401kJSON("401k-enterprise", "Enterprise 401(k)", "23000", "50", "5")},
		input: func(h *Handler) payroll.PayPeriodInput {
			in := h.scenarioInput("401k-election-override", "us", "CA", "40", "50")
			in.PlanID = "401k-enterprise"
			in.RetirementElection = &payroll.Election{Mode: payroll.ElectionPercent, Value: dec("6")}
			return in
		},
	},
}

// standardRates are the demo withholding percents. Only codes the
// jurisdiction applies are sent.
var standardRates = []struct {
	code    payroll.Code
	percent string
}{
	{payroll.CodeFederalTax, "12"},
	{payroll.CodeProvincialTax, "5.05"},
	{payroll.CodeStateTax, "4.95"},
	{payroll.CodeCPP, "5.95"},
	{payroll.CodeQPP, "6.4"},
	{payroll.CodeEI, "1.66"},
	{payroll.CodeRQAP, "0.494"},
	{payroll.CodeFICA, "6.2"},
	{payroll.CodeMedicare, "1.45"},
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RunScenario prepares and calculates one scenario.
func (h *Handler) RunScenario(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, ok := findScenario(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", nil)
		return
	}

	result, err := h.runScenario(r.Context(), s)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.Logger.Info("scenario run",
		zap.String("scenario", id),
		zap.String("net_pay", result.Payslip.NetPay.StringFixed(2)),
		zap.Bool("cap_exceeded", result.Flags.CapExceeded),
	)
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) runScenario(ctx context.Context, s scenario) (ScenarioResultDTO, error) {
	for _, planJSON := range s.plans {
		if _, err := h.Plans.SavePlanJSON(ctx, planJSON); err != nil {
			return ScenarioResultDTO{}, errors.Wrapf(err, "scenario %s: save plan", s.ID)
		}
	}

	if s.history != nil {
		for _, in := range s.history(h) {
			if _, err := h.Service.Finalize(ctx, in); err != nil {
				return ScenarioResultDTO{}, errors.Wrapf(err, "scenario %s: finalize %s", s.ID, in.PeriodStart)
			}
		}
	}

	in := s.input(h)
	p, err := h.Service.Calculate(ctx, in)
	if err != nil {
		return ScenarioResultDTO{}, err
	}

	return ScenarioResultDTO{
		Scenario: s.ScenarioDTO,
		Input:    in,
		Payslip:  p,
		Flags:    p.Flags(),
	}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// scenarioInput is one weekly period in March 2025 with the standard
// withholding the jurisdiction applies.
func (h *Handler) scenarioInput(id, region, subregion, hours, rate string) payroll.PayPeriodInput {
	j := payroll.Jurisdiction{Region: region, Subregion: subregion}
	in := payroll.PayPeriodInput{
		SubjectID:    "scenario-" + id,
		Jurisdiction: j,
		PayFrequency: payroll.FrequencyWeekly,
		HoursWorked:  dec(hours),
		HourlyRate:   dec(rate),
		PeriodStart:  generic.NewTimePoint(2025, time.March, 3),
		PeriodEnd:    generic.NewTimePoint(2025, time.March, 9),
	}

	profile, err := h.Service.Engine().Profiles().Lookup(j)
	if err != nil {
		return in
	}
	for _, r := range standardRates {
		if profile.Applies(r.code) {
			in.DeductionInputs = append(in.DeductionInputs, percentInput(r.code, r.percent))
		}
	}
	return in
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func amountInput(code payroll.Code, v string) payroll.DeductionInput {
	d := dec(v)
	return payroll.DeductionInput{Code: code, Amount: &d}
}

func percentInput(code payroll.Code, v string) payroll.DeductionInput {
	d := dec(v)
	return payroll.DeductionInput{Code: code, Percent: &d}
}
